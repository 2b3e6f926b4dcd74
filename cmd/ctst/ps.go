package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/containust/containust/pkg/state"
)

// newPsCmd implements `ctst ps [-a] [--tui]`: lists containers from
// the state index, either as a static table or (with --tui) a
// periodically refreshing bubbletea dashboard.
func newPsCmd() *cobra.Command {
	var all, tui bool
	cmd := &cobra.Command{
		Use:   "ps",
		Short: "List containers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := newEnv()
			if err != nil {
				return err
			}
			if tui {
				return runPsTUI(e.states)
			}
			records, err := e.states.List()
			if err != nil {
				return err
			}
			printContainerTable(cmd, records, all)
			return nil
		},
	}
	cmd.Flags().BoolVarP(&all, "all", "a", false, "include stopped and failed containers")
	cmd.Flags().BoolVar(&tui, "tui", false, "open a live-refreshing terminal dashboard")
	return cmd
}

func printContainerTable(cmd *cobra.Command, records []state.Record, all bool) {
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	defer w.Flush()
	fmt.Fprintln(w, "ID\tNAME\tSTATE\tPID\tIMAGE")
	for _, r := range records {
		if !all && r.State != state.StateRunning {
			continue
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n", r.ID, r.Name, r.State, r.PID, r.Image)
	}
}
