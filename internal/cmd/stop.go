package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop a workload",
	Long: `Stop the workload for a repository and user.

In volume mode the data directories are synced back to the repository
before the volumes are removed. A volume whose sync fails is kept so its
contents can be recovered manually. After stopping, uncommitted repository
changes are offered for commit and push.`,
	RunE: runStop,
}

func init() {
	addSessionFlags(stopCmd)
	rootCmd.AddCommand(stopCmd)
}

func runStop(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	env, err := buildSession(ctx)
	if err != nil {
		return err
	}
	d := env.desc

	if err := env.controller.Recover(ctx, d); err != nil {
		return err
	}
	if !d.Running {
		fmt.Printf("Workload %s is not running.\n", d.ContainerName())
		return nil
	}

	if err := env.controller.Stop(ctx, d); err != nil {
		return err
	}
	fmt.Printf("Workload %s stopped.\n", d.ContainerName())
	return nil
}
