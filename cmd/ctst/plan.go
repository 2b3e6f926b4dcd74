package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/containust/containust/pkg/sdk"
)

// newPlanCmd implements `ctst plan <composition.ctst>`: prints the
// concurrent phase ordering the engine would use to start comp
// (spec.md §8 properties 1-2). Never touches images, containers, or
// state — planning is a pure function of the composition file. Routed
// through pkg/sdk.GraphResolver, the same load-analyze-plan path an
// external SDK consumer would use (SPEC_FULL.md MODULE LAYOUT: "cmd/ctst
// wires the verbs... to pkg/sdk").
func newPlanCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "plan <composition.ctst>",
		Short: "Print the deployment phase ordering for a composition",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := newEnv()
			if err != nil {
				return err
			}
			resolver := sdk.NewGraphResolver(e.cfg.Engine.Offline)
			if err := resolver.LoadCtst(args[0]); err != nil {
				return err
			}
			for i, phase := range resolver.Plan().Phases {
				fmt.Fprintf(cmd.OutOrStdout(), "phase %d: [%s]\n", i+1, strings.Join(phase, ", "))
			}
			return nil
		},
	}
}
