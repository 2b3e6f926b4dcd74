package main

import (
	"context"
	"os"

	"github.com/spf13/cobra"

	"github.com/containust/containust/pkg/id"
)

// newExecCmd implements `ctst exec <ref> -- <cmd...>` (spec.md §4.5
// "Exec", §6). Everything after "--" is passed through to the target
// container's namespace unmodified.
func newExecCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:                "exec <ref> -- <cmd...>",
		Short:              "Run a command inside a running container",
		Args:               cobra.MinimumNArgs(1),
		DisableFlagParsing: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ref, command, err := splitExecArgs(args)
			if err != nil {
				return err
			}

			e, err := newEnv()
			if err != nil {
				return err
			}
			rec, err := e.states.FindByNameOrIDPrefix(ref)
			if err != nil {
				return err
			}
			return e.engine.Exec(context.Background(), id.ContainerID(rec.ID), command, os.Stdout, os.Stderr)
		},
	}
	return cmd
}

// splitExecArgs separates the target ref from the "--"-delimited
// command. cobra's DisableFlagParsing leaves "--" in args, unlike its
// usual ArgsLenAtDash handling.
func splitExecArgs(args []string) (ref string, command []string, err error) {
	if len(args) == 0 {
		return "", nil, usageError("exec requires a container ref")
	}
	ref = args[0]
	rest := args[1:]
	for i, a := range rest {
		if a == "--" {
			return ref, rest[i+1:], nil
		}
	}
	if len(rest) == 0 {
		return "", nil, usageError("exec requires a command after --")
	}
	return ref, rest, nil
}
