package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/containust/containust/pkg/id"
	"github.com/containust/containust/pkg/state"
)

// newStopCmd implements `ctst stop [-f] [refs...]` (spec.md §4.5
// "Shutdown", §6). With no refs, every Running container is stopped;
// otherwise only the given name-or-ID-prefix refs.
func newStopCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "stop [refs...]",
		Short: "Stop one or more containers, or every running container",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := newEnv()
			if err != nil {
				return err
			}

			refs := args
			if len(refs) == 0 {
				records, err := e.states.List()
				if err != nil {
					return err
				}
				for _, rec := range records {
					if rec.State == state.StateRunning {
						refs = append(refs, string(rec.ID))
					}
				}
			}

			ctx := context.Background()
			var firstErr error
			for _, ref := range refs {
				rec, err := e.states.FindByNameOrIDPrefix(ref)
				if err != nil {
					if firstErr == nil {
						firstErr = err
					}
					continue
				}
				if err := e.engine.StopContainer(ctx, id.ContainerID(rec.ID), force); err != nil {
					if firstErr == nil {
						firstErr = err
					}
					continue
				}
				fmt.Fprintf(cmd.OutOrStdout(), "stopped %s\n", rec.ID)
			}
			return firstErr
		},
	}
	cmd.Flags().BoolVarP(&force, "force", "f", false, "skip the graceful grace period and kill immediately")
	return cmd
}
