package image

import "github.com/containust/containust/pkg/ctsterr"

// Distroless is the interface-only hook for binary-dependency analysis
// (spec.md GLOSSARY "Distroless analysis": "External collaborator
// here; interface only: reads a directory, writes a smaller one").
// src is a materialised layer root; dst is where the pruned copy,
// containing only the ELF binaries under src and the shared libraries
// they actually load, should be written. Not implemented here — an
// external analyzer (grounded on original_source's
// containust-compose/src/distroless.rs ELF dependency walk) is meant
// to be plugged in without changing anything else in this package.
func Distroless(src, dst string) error {
	return ctsterr.New(ctsterr.KindConfig, "", "distroless analysis is not implemented; plug in an external analyzer")
}
