package cmd

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

var (
	debug bool
	log   *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "rdock",
	Short: "rdock - containerized analysis workloads",
	Long: `rdock provisions and manages one RStudio workload per repository and
user, on the local Docker engine or a remote one reached over SSH.

Start a workload from a repository checkout:
  rdock start --user erin
  rdock start --user erin --remote op@analysis-box --repo /srv/study

Stop it (data directories are synced back first in volume mode):
  rdock stop --user erin

See what is running:
  rdock status --user erin`,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initLogger)

	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")
}

func initLogger() {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	log = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
