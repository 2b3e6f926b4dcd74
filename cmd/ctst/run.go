package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/containust/containust/pkg/runtime"
	"github.com/containust/containust/pkg/sdk"
)

// newRunCmd implements `ctst run [-d] <composition.ctst>`: deploys the
// composition and, unless -d/--detach is given, blocks until every
// started component leaves Running (spec.md §8 property 1: "run exits
// 0; state file ends with no running containers").
func newRunCmd() *cobra.Command {
	var detach bool
	cmd := &cobra.Command{
		Use:   "run <composition.ctst>",
		Short: "Deploy a composition",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := newEnv()
			if err != nil {
				return err
			}
			comp, err := loadComposition(args[0], e.cfg.Engine.Offline)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			result, err := e.engine.Deploy(ctx, comp)
			if err != nil {
				return err
			}
			for _, cid := range result.Started {
				fmt.Fprintf(cmd.OutOrStdout(), "started %s\n", cid)
			}

			// spec.md §5: "A user SIGINT/SIGTERM to the CLI initiates
			// graceful shutdown of the deployment" — every started
			// container is stopped, not just the deploy context
			// cancelled, per original_source's run.rs wait_for_shutdown
			// (ctrlc handler -> engine.stop_all()).
			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			go func() {
				<-sigCh
				fmt.Fprintln(cmd.ErrOrStderr(), "stopping containers...")
				for _, cid := range result.Started {
					if serr := e.engine.StopContainer(context.Background(), cid, false); serr != nil {
						e.log.WithError(serr).WithField("id", cid).Warn("failed to stop container during shutdown")
					}
				}
				cancel()
			}()

			e.startStatusAPI(ctx)

			if detach {
				return nil
			}

			// pkg/sdk.EventListener is the same event stream that feeds
			// pkg/statusapi's /events route, wired here too so `run`'s
			// own progress reporting goes through the public façade
			// rather than reading engine.Events() directly (SPEC_FULL.md
			// MODULE LAYOUT: "cmd/ctst wires the verbs... to pkg/sdk").
			go sdk.NewEventListener(e.engine).Subscribe(ctx, func(ev runtime.Event) {
				if ev.StateChange == nil {
					return
				}
				sc := ev.StateChange
				fmt.Fprintf(cmd.ErrOrStderr(), "%s: %s -> %s\n", sc.Name, sc.From, sc.To)
			})

			allStopped, err := e.engine.WaitAll(ctx, result.Started)
			if err != nil {
				return err
			}
			if !allStopped {
				return fmt.Errorf("one or more components exited with a failure")
			}
			return nil
		},
	}
	cmd.Flags().BoolVarP(&detach, "detach", "d", false, "start the composition and return immediately")
	return cmd
}
