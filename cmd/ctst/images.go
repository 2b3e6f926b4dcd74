package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/containust/containust/pkg/hash"
	"github.com/containust/containust/pkg/state"
)

// newImagesCmd implements `ctst images [--list] [--remove <hash>]`
// (spec.md §4.3 "Image store", §6). --list is the default action;
// --remove refuses while the image is still referenced by a Running or
// Created container record.
func newImagesCmd() *cobra.Command {
	var list bool
	var remove string
	cmd := &cobra.Command{
		Use:   "images",
		Short: "List or remove cached images",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := newEnv()
			if err != nil {
				return err
			}
			if remove != "" {
				return removeImage(e, remove)
			}
			_ = list // --list is the default and only other action
			return listImages(cmd, e)
		},
	}
	cmd.Flags().BoolVar(&list, "list", true, "list cached images (default)")
	cmd.Flags().StringVar(&remove, "remove", "", "remove the image with the given content hash")
	return cmd
}

func listImages(cmd *cobra.Command, e *env) error {
	images, err := e.store.ListImages()
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	defer w.Flush()
	fmt.Fprintln(w, "HASH\tLAYERS\tSOURCE")
	for _, img := range images {
		source := ""
		if len(img.SourceURIs) > 0 {
			source = img.SourceURIs[0]
		}
		fmt.Fprintf(w, "%s\t%d\t%s\n", img.Hash.String(), len(img.Layers), source)
	}
	return nil
}

func removeImage(e *env, hashStr string) error {
	h, err := hash.Parse(hashStr)
	if err != nil {
		return usageError(fmt.Sprintf("invalid image hash %q: %v", hashStr, err))
	}
	img, err := e.store.LoadImage(h)
	if err != nil {
		return err
	}
	return e.store.RemoveImage(h, func(hash.ContentHash) bool {
		records, err := e.states.List()
		if err != nil {
			return true // fail closed: refuse removal if the state index can't be read
		}
		return imageInUse(records, img.SourceURIs)
	})
}

func imageInUse(records []state.Record, sourceURIs []string) bool {
	for _, rec := range records {
		if rec.State != state.StateRunning && rec.State != state.StateCreated {
			continue
		}
		for _, uri := range sourceURIs {
			if rec.Image == uri {
				return true
			}
		}
	}
	return false
}
