package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/containust/containust/pkg/hash"
)

// newBuildCmd implements `ctst build <composition.ctst>`: parses,
// validates, and materialises every component's image without
// creating any container (spec.md §8 property 4: "build fails with
// HashMismatch before any namespace is created").
func newBuildCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "build <composition.ctst>",
		Short: "Validate a composition and materialise its images",
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
			for name, def := range comp.Components {
				img, err := e.store.ResolveImage([]string{def.Image}, hash.ContentHash{})
				if err != nil {
					return fmt.Errorf("component %q: %w", name, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%-20s %s\n", name, img.Hash.String())
			}
			return nil
		},
	}
}
