// Package id defines the opaque identifiers used across containust:
// container identity (spec.md §3 "Container identity") and small helpers
// shared by the state index's prefix-lookup rule (spec.md §4.6, §8).
package id

import (
	"strings"

	"github.com/google/uuid"
)

// ContainerID is an opaque textual identifier: either a random UUID or a
// name-derived slug. Equality is string equality.
type ContainerID string

// NewContainerID generates a random UUID-based container id, grounded on
// the same google/uuid dependency the rest of the retrieval pack already
// pulls in (jinterlante1206-AleutianLocal, Melihdvn-lighthouse-paas).
func NewContainerID() ContainerID {
	return ContainerID(uuid.NewString())
}

// FromComponentName derives a container id from a component name. Used
// when the caller wants a stable, human-readable id instead of a UUID.
func FromComponentName(name string) ContainerID {
	return ContainerID(name)
}

func (c ContainerID) String() string { return string(c) }

// IsUUIDPrefix reports whether s looks like a prefix of a UUID id: at
// least 8 hex/hyphen characters, per spec.md §4.6's lookup rule.
func IsUUIDPrefix(s string) bool {
	if len(s) < 8 {
		return false
	}
	for _, r := range s {
		if !strings.ContainsRune("0123456789abcdefABCDEF-", r) {
			return false
		}
	}
	return true
}
