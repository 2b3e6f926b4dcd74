// Package sdk is containust's public programmatic façade: a fluent
// container builder, a graph resolver over composition files, and an
// event stream — the Go counterpart of original_source's
// containust-sdk crate (builder.rs, graph_resolver.rs, event.rs),
// rebuilt against this module's real pkg/compose, pkg/graph, and
// pkg/runtime instead of the crate's stubbed-out
// DependencyGraph/EventListener.
package sdk

import (
	"github.com/containust/containust/pkg/compose"
)

// ContainerBuilder configures a single component before it's handed
// to the runtime engine, mirroring containust-sdk's
// builder::ContainerBuilder.
type ContainerBuilder struct {
	name           string
	image          string
	command        []string
	entrypoint     []string
	env            map[string]string
	memoryLimit    uint64
	cpuShares      uint64
	readonlyRootfs bool
}

// NewContainerBuilder starts a builder for a component named name.
// readonly_rootfs defaults to true, matching the crate's default.
func NewContainerBuilder(name string) *ContainerBuilder {
	return &ContainerBuilder{
		name:           name,
		env:            map[string]string{},
		readonlyRootfs: true,
	}
}

// Image sets the image source URI.
func (b *ContainerBuilder) Image(uri string) *ContainerBuilder {
	b.image = uri
	return b
}

// Command sets the command to run inside the container.
func (b *ContainerBuilder) Command(cmd ...string) *ContainerBuilder {
	b.command = cmd
	return b
}

// Entrypoint sets the entrypoint, prepended to Command by the
// isolation backend.
func (b *ContainerBuilder) Entrypoint(ep ...string) *ContainerBuilder {
	b.entrypoint = ep
	return b
}

// Env adds an environment variable.
func (b *ContainerBuilder) Env(key, value string) *ContainerBuilder {
	b.env[key] = value
	return b
}

// MemoryLimit sets the memory limit in bytes.
func (b *ContainerBuilder) MemoryLimit(bytes uint64) *ContainerBuilder {
	b.memoryLimit = bytes
	return b
}

// CPUShares sets the relative CPU weight.
func (b *ContainerBuilder) CPUShares(shares uint64) *ContainerBuilder {
	b.cpuShares = shares
	return b
}

// ReadonlyRootfs sets whether the root filesystem is mounted read-only.
func (b *ContainerBuilder) ReadonlyRootfs(readonly bool) *ContainerBuilder {
	b.readonlyRootfs = readonly
	return b
}

// Build validates the builder and returns a compose.ComponentDef ready
// to hand to a Composition (or deploy directly via a single-component
// composition). Mirrors the crate's build(): image is the one required
// field.
func (b *ContainerBuilder) Build() (*compose.ComponentDef, error) {
	if b.image == "" {
		return nil, &ConfigError{Message: "image source is required"}
	}
	return &compose.ComponentDef{
		Name:        b.name,
		Image:       b.image,
		Command:     b.command,
		Entrypoint:  b.entrypoint,
		Environment: b.env,
		ReadOnly:    b.readonlyRootfs,
		Restart:     "never",
		Resources: compose.ResourceLimits{
			MemoryBytes: b.memoryLimit,
			CPUWeight:   b.cpuShares,
		},
	}, nil
}

// ConfigError reports a builder validation failure, mirroring the
// crate's ContainustError::Config variant.
type ConfigError struct {
	Message string
}

func (e *ConfigError) Error() string { return e.Message }
