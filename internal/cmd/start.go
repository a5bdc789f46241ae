package cmd

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/kalleEF/rdock/internal/lifecycle"
	"github.com/kalleEF/rdock/internal/session"
)

var (
	startPassword    string
	startPort        int
	startVolumes     bool
	startRebuild     bool
	startHighCompute bool
	startEngineArgs  []string
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Provision and start a workload",
	Long: `Start the workload for a repository and user.

The image is built from docker/Dockerfile in the repository when missing
(falling back to docker/Dockerfile.base for the prerequisite image), the
repository and its data directories are mounted, and the workload is
published on a local port.

Examples:
  rdock start --user erin
  rdock start --user erin --remote op@analysis-box --repo /srv/study --port 9100
  rdock start --user erin --volumes --high-compute --remote op@analysis-box --repo /srv/study`,
	RunE: runStart,
}

func init() {
	addSessionFlags(startCmd)
	startCmd.Flags().StringVar(&startPassword, "password", "", "workload login password (default: generated)")
	startCmd.Flags().IntVar(&startPort, "port", 0, "published port on the engine host (remote only)")
	startCmd.Flags().BoolVar(&startVolumes, "volumes", false, "stage data directories through engine volumes instead of bind mounts")
	startCmd.Flags().BoolVar(&startRebuild, "rebuild", false, "rebuild the image even if it exists")
	startCmd.Flags().BoolVar(&startHighCompute, "high-compute", false, "apply the configured cpu/memory limits (remote only)")
	startCmd.Flags().StringArrayVar(&startEngineArgs, "engine-arg", nil, "extra argument passed to the engine run command (repeatable)")

	rootCmd.AddCommand(startCmd)
}

func runStart(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	env, err := buildSession(ctx)
	if err != nil {
		return err
	}
	d := env.desc

	d.RequestedPort = startPort
	d.UseVolumes = startVolumes
	d.RebuildImage = startRebuild
	d.HighCompute = startHighCompute
	d.CustomArgs = startEngineArgs

	if err := env.controller.Recover(ctx, d); err != nil {
		return err
	}
	if d.Running {
		// Attach to the live workload: its own credential is the only one
		// that can log in, so no new password is minted here.
		printRunning(d)
		return nil
	}

	d.Password = startPassword
	if d.Password == "" {
		d.Password = generatePassword()
	}

	if err := env.controller.Start(ctx, d); err != nil {
		if errors.Is(err, lifecycle.ErrAborted) {
			fmt.Println("Aborted.")
			return nil
		}
		return err
	}

	printRunning(d)
	return nil
}

func printRunning(d *session.Descriptor) {
	host := "localhost"
	if d.IsRemote() {
		// user@host → host
		if i := strings.IndexByte(d.HostAddress, '@'); i >= 0 {
			host = d.HostAddress[i+1:]
		} else {
			host = d.HostAddress
		}
	}

	port := 0
	if d.Active != nil {
		port = d.Active.Port
	}
	password := displayPassword(d)

	fmt.Printf("\nWorkload %s is running.\n", d.ContainerName())
	fmt.Printf("  URL:      http://%s:%d\n", host, port)
	fmt.Printf("  User:     rstudio\n")
	if password != "" {
		fmt.Printf("  Password: %s\n", password)
	}
	if d.Active != nil && d.Active.UseVolumes {
		fmt.Println("  Data:     staged in volumes, synced back on stop")
	}
}

// displayPassword picks the credential the running workload actually
// accepts: the recovered value when one was observed, the session-entered
// one otherwise.
func displayPassword(d *session.Descriptor) string {
	if d.Recovered != nil && d.Recovered.Password != nil {
		return *d.Recovered.Password
	}
	return d.Password
}

func generatePassword() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:16]
}
