// Package isolation defines the container isolation backend interface
// and its two implementations (spec.md §4.4 "Isolation backend").
package isolation

import (
	"context"
	"io"

	"github.com/containust/containust/pkg/id"
)

// Mount is one bind mount to apply inside the container
// (spec.md §3 "volume/volumes").
type Mount struct {
	HostPath      string
	ContainerPath string
}

// PortForward is one host-port-to-container-port mapping
// (spec.md §4.2 "Host port exposure").
type PortForward struct {
	HostPort      int
	ContainerPort int
}

// Resources mirrors compose.ResourceLimits without importing pkg/compose,
// keeping the backend interface decoupled from the composition package.
type Resources struct {
	CPUWeight   uint64
	MemoryBytes uint64
	IOWeight    uint64
}

// Config is the fully resolved, interpolation-applied configuration for
// one container, as handed to Backend.Create by the runtime engine
// (spec.md §4.5 step 3).
type Config struct {
	ID          id.ContainerID
	Name        string
	LayerPaths  []string // base first, overlay last
	Command     []string
	Entrypoint  []string
	WorkingDir  string
	User        string
	Hostname    string
	Env         []string // "KEY=VALUE", secrets already resolved
	Mounts      []Mount
	ReadOnly    bool
	Network     string
	Resources   Resources
	PortForward []PortForward
	StateDir    string // per-container scratch dir (upper dir, cgroup path, etc.)
}

// Record is a backend-reported runtime snapshot of one container
// (spec.md §4.4 "list() → records").
type Record struct {
	ID  id.ContainerID
	PID int
}

// Backend abstracts the isolation mechanism, letting the runtime engine
// drive containers identically on the native Linux path and the
// VM-mediated path (spec.md §4.4: "An abstract backend exposes:
// create/start/stop/exec/remove/logs/list/is_available").
type Backend interface {
	Create(ctx context.Context, cfg Config) (id.ContainerID, error)
	Start(ctx context.Context, cid id.ContainerID) (pid int, err error)
	Stop(ctx context.Context, cid id.ContainerID, force bool) error
	Exec(ctx context.Context, cid id.ContainerID, cmd []string, stdout, stderr io.Writer) error
	Remove(ctx context.Context, cid id.ContainerID) error
	Logs(ctx context.Context, cid id.ContainerID) (string, error)
	List(ctx context.Context) ([]Record, error)
	IsAvailable() bool
}

// Waiter is implemented by backends that can block until a container's
// entry process exits and report its exit code — an optional
// capability rather than part of Backend, since spec.md §4.4's
// abstract backend list doesn't name a wait operation and the
// VM-mediated backend may only learn of exit via its own polling. The
// runtime engine type-asserts for it and falls back to PID-liveness
// polling when a backend doesn't implement it (spec.md §4.5 "Restart
// policy": "On exit of a Running container").
type Waiter interface {
	Wait(ctx context.Context, cid id.ContainerID) (exitCode int, err error)
}

// Metricer is implemented by backends that can sample a running
// container's resource usage — an optional capability rather than part
// of Backend, mirroring Waiter, since the VM-mediated backend has no
// direct cgroupfs to read. The runtime engine type-asserts for it and
// simply doesn't sample metrics when a backend doesn't implement it
// (spec.md §4.5 "Runtime engine": "metrics sampling").
type Metricer interface {
	Metrics(cid id.ContainerID) (cpuUsageUsec, memoryBytes uint64, err error)
}
