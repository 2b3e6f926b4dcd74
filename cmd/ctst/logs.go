package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/containust/containust/pkg/id"
)

// newLogsCmd implements `ctst logs [--follow] <ref>` (spec.md §4.4
// "logs(id) -> text", §6). There is no streaming logs API in the
// isolation backend, so --follow polls Logs and reprints only the
// newly appended suffix.
func newLogsCmd() *cobra.Command {
	var follow bool
	cmd := &cobra.Command{
		Use:   "logs <ref>",
		Short: "Print a container's captured stdout/stderr",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := newEnv()
			if err != nil {
				return err
			}
			rec, err := e.states.FindByNameOrIDPrefix(args[0])
			if err != nil {
				return err
			}
			cid := id.ContainerID(rec.ID)

			ctx := context.Background()
			text, err := e.engine.Logs(ctx, cid)
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), text)

			if !follow {
				return nil
			}
			printed := len(text)
			ticker := time.NewTicker(time.Second)
			defer ticker.Stop()
			for range ticker.C {
				text, err := e.engine.Logs(ctx, cid)
				if err != nil {
					return err
				}
				if len(text) > printed {
					fmt.Fprint(cmd.OutOrStdout(), text[printed:])
					printed = len(text)
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "poll and print newly appended log output")
	return cmd
}
