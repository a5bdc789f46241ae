package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the user's workloads",
	Long:  `List the user's workloads on the selected engine with their state and ports.`,
	RunE:  runStatus,
}

func init() {
	addSessionFlags(statusCmd)
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	env, err := buildSession(ctx)
	if err != nil {
		return err
	}
	d := env.desc

	if err := env.controller.Recover(ctx, d); err != nil {
		return err
	}

	if len(d.ExistingWorkloads) == 0 {
		fmt.Printf("No workloads for %s.\n", d.UserName)
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "NAME\tIMAGE\tSTATUS\tPORTS")
	_, _ = fmt.Fprintln(w, "----\t-----\t------\t-----")
	for _, wl := range d.ExistingWorkloads {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", wl.Name, wl.Image, wl.Status, wl.Ports)
	}
	_ = w.Flush()

	if d.Running && d.Active != nil {
		fmt.Printf("\nWorkload %s is running on port %d.\n", d.ContainerName(), d.Active.Port)
	}
	return nil
}
