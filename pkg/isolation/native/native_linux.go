//go:build linux

// Package native implements the Linux isolation backend: namespaces,
// overlay root filesystem, cgroups, capability dropping, and seccomp
// (spec.md §4.4 "Native Linux backend"). The low-level syscall
// sequencing is grounded on docker-archive-libcontainer's namespace
// setup (namespaces/init.go), translated from its raw syscall.* idioms
// into golang.org/x/sys/unix and os/exec, the way modern Go container
// runtimes express the same operations.
package native

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"syscall"

	"github.com/docker/docker/pkg/reexec"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/containust/containust/pkg/ctsterr"
	"github.com/containust/containust/pkg/id"
	"github.com/containust/containust/pkg/isolation"
)

// runningContainer is the runtime-side bookkeeping the backend keeps
// per running container: its supervising process and the paths it must
// clean up on removal.
type runningContainer struct {
	cfg     isolation.Config
	cmd     *exec.Cmd
	rootfs  string
	upper   string
	cgroup  string
	logPath string
}

// Backend is the native Linux isolation backend (spec.md §4.4).
type Backend struct {
	mu         sync.Mutex
	containers map[id.ContainerID]*runningContainer
	cgroupRoot string // private parent cgroup path, e.g. /sys/fs/cgroup/containust
	log        *logrus.Logger
}

// New returns a native Backend rooted at cgroupRoot for its
// per-container cgroups.
func New(cgroupRoot string, log *logrus.Logger) *Backend {
	if log == nil {
		log = logrus.New()
	}
	return &Backend{
		containers: map[id.ContainerID]*runningContainer{},
		cgroupRoot: cgroupRoot,
		log:        log,
	}
}

// IsAvailable reports whether this host can run the native backend
// (spec.md §4.4 "Selection is automatic: Linux ⇒ native").
func (b *Backend) IsAvailable() bool {
	if _, err := os.Stat("/proc"); err != nil {
		return false
	}
	if _, err := os.Stat("/sys/fs/cgroup"); err != nil {
		return false
	}
	return true
}

// Create assembles the overlay rootfs and cgroup for cfg but does not
// start the entry process; Start does that (spec.md §4.5 steps 3-4).
func (b *Backend) Create(ctx context.Context, cfg isolation.Config) (id.ContainerID, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	rootfs := filepath.Join(cfg.StateDir, "rootfs")
	upper := filepath.Join(cfg.StateDir, "upper")
	work := filepath.Join(cfg.StateDir, "work")
	for _, dir := range []string{rootfs, upper, work} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", ctsterr.WithPath(ctsterr.KindIO, "", "failed to create container directory", dir, err)
		}
	}

	if err := mountOverlay(cfg.LayerPaths, upper, work, rootfs, cfg.ReadOnly); err != nil {
		return "", err
	}

	for _, m := range cfg.Mounts {
		if err := bindMount(m.HostPath, filepath.Join(rootfs, m.ContainerPath)); err != nil {
			return "", ctsterr.Wrap(ctsterr.KindIO, "", "failed to apply declared volume", err)
		}
	}

	cgroupPath := filepath.Join(b.cgroupRoot, string(cfg.ID))
	if err := createCgroup(cgroupPath, cfg.Resources); err != nil {
		return "", err
	}

	b.containers[cfg.ID] = &runningContainer{
		cfg:     cfg,
		rootfs:  rootfs,
		upper:   upper,
		cgroup:  cgroupPath,
		logPath: filepath.Join(cfg.StateDir, "log.txt"),
	}
	b.log.WithField("id", cfg.ID).Info("container rootfs and cgroup assembled")
	return cfg.ID, nil
}

// Start launches the entry process in fresh namespaces, joins the
// cgroup, drops capabilities, and pivots into the assembled rootfs
// (spec.md §4.4's namespace/overlay/pivot/cgroup/capability sequence).
func (b *Backend) Start(ctx context.Context, cid id.ContainerID) (int, error) {
	b.mu.Lock()
	rc, ok := b.containers[cid]
	b.mu.Unlock()
	if !ok {
		return 0, ctsterr.NotFound("container", string(cid))
	}

	argv := rc.cfg.Entrypoint
	argv = append(append([]string{}, argv...), rc.cfg.Command...)
	if len(argv) == 0 {
		return 0, ctsterr.New(ctsterr.KindConfig, "", "container has no entrypoint or command to run")
	}

	logFile, err := os.Create(rc.logPath)
	if err != nil {
		return 0, ctsterr.WithPath(ctsterr.KindIO, "", "failed to create container log file", rc.logPath, err)
	}

	cmd := reexec.Command(append([]string{"__containust_init__", rc.rootfs, rc.cfg.WorkingDir, rc.cfg.Hostname, rc.cfg.User}, argv...)...)
	cmd.Env = rc.cfg.Env
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Cloneflags: unix.CLONE_NEWPID | unix.CLONE_NEWNS | unix.CLONE_NEWUTS | unix.CLONE_NEWIPC | networkCloneFlag(rc.cfg.Network),
		Setpgid:    true,
	}

	if err := cmd.Start(); err != nil {
		logFile.Close()
		return 0, ctsterr.Wrap(ctsterr.KindInvalidState, "R001", fmt.Sprintf("failed to start container %s", cid), err)
	}

	if err := joinCgroup(rc.cgroup, cmd.Process.Pid); err != nil {
		return 0, err
	}

	rc.cmd = cmd
	b.log.WithFields(logrus.Fields{"id": cid, "pid": cmd.Process.Pid}).Info("container started")
	return cmd.Process.Pid, nil
}

// Wait blocks until cid's entry process exits and returns its exit
// code, implementing isolation.Waiter. Native containers are direct
// child processes, so this is a plain os/exec Wait.
func (b *Backend) Wait(ctx context.Context, cid id.ContainerID) (int, error) {
	b.mu.Lock()
	rc, ok := b.containers[cid]
	b.mu.Unlock()
	if !ok {
		return 0, ctsterr.NotFound("container", string(cid))
	}
	if rc.cmd == nil {
		return 0, ctsterr.New(ctsterr.KindInvalidState, "R005", "container has not been started")
	}
	err := rc.cmd.Wait()
	if err == nil {
		return 0, nil
	}
	if exitErr, ok := err.(*exec.ExitError); ok {
		return exitErr.ExitCode(), nil
	}
	return -1, ctsterr.Wrap(ctsterr.KindInvalidState, "", "failed to wait for container exit", err)
}

func networkCloneFlag(mode string) uintptr {
	if mode == "host" {
		return 0
	}
	return unix.CLONE_NEWNET
}

// Stop sends SIGTERM to the entry process, or SIGKILL when force is
// set. It returns without waiting for the process to exit.
func (b *Backend) Stop(ctx context.Context, cid id.ContainerID, force bool) error {
	b.mu.Lock()
	rc, ok := b.containers[cid]
	b.mu.Unlock()
	if !ok {
		return ctsterr.NotFound("container", string(cid))
	}
	if rc.cmd == nil || rc.cmd.Process == nil {
		return nil
	}
	if force {
		return rc.cmd.Process.Kill()
	}
	return rc.cmd.Process.Signal(unix.SIGTERM)
}

// Remove unmounts the overlay root and removes the container's cgroup.
// The per-container directories under the container's StateDir are
// left on disk.
func (b *Backend) Remove(ctx context.Context, cid id.ContainerID) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	rc, ok := b.containers[cid]
	if !ok {
		return ctsterr.NotFound("container", string(cid))
	}
	if err := unmountOverlay(rc.rootfs); err != nil {
		b.log.WithError(err).WithField("id", cid).Warn("failed to unmount overlay during removal")
	}
	if err := removeCgroup(rc.cgroup); err != nil {
		b.log.WithError(err).WithField("id", cid).Warn("failed to remove cgroup during removal")
	}
	delete(b.containers, cid)
	return nil
}

// Exec joins the target container's namespaces via /proc/<pid>/ns/*
// file descriptors and runs cmd inside them (spec.md §4.5 "Exec").
func (b *Backend) Exec(ctx context.Context, cid id.ContainerID, cmdArgs []string, stdout, stderr io.Writer) error {
	b.mu.Lock()
	rc, ok := b.containers[cid]
	b.mu.Unlock()
	if !ok {
		return ctsterr.NotFound("container", string(cid))
	}
	if rc.cmd == nil || rc.cmd.Process == nil {
		return ctsterr.New(ctsterr.KindInvalidState, "R005", "container is not running")
	}
	return execInNamespaces(rc.cmd.Process.Pid, cmdArgs, stdout, stderr)
}

// Logs returns the container's captured stdout/stderr (spec.md §4.4
// "logs(id) → text").
func (b *Backend) Logs(ctx context.Context, cid id.ContainerID) (string, error) {
	b.mu.Lock()
	rc, ok := b.containers[cid]
	b.mu.Unlock()
	if !ok {
		return "", ctsterr.NotFound("container", string(cid))
	}
	var buf bytes.Buffer
	f, err := os.Open(rc.logPath)
	if err != nil {
		return "", ctsterr.WithPath(ctsterr.KindIO, "", "failed to open container log", rc.logPath, err)
	}
	defer f.Close()
	if _, err := io.Copy(&buf, f); err != nil {
		return "", ctsterr.Wrap(ctsterr.KindIO, "", "failed to read container log", err)
	}
	return buf.String(), nil
}

// List returns every container the backend currently tracks (spec.md
// §4.4 "list() → records").
func (b *Backend) List(ctx context.Context) ([]isolation.Record, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []isolation.Record
	for cid, rc := range b.containers {
		pid := 0
		if rc.cmd != nil && rc.cmd.Process != nil {
			pid = rc.cmd.Process.Pid
		}
		out = append(out, isolation.Record{ID: cid, PID: pid})
	}
	return out, nil
}

// Metrics samples the container's cgroup for the runtime engine's
// metrics-update event stream (SPEC_FULL.md's supplemented metrics
// feature).
func (b *Backend) Metrics(cid id.ContainerID) (cpuUsageUsec, memoryBytes uint64, err error) {
	b.mu.Lock()
	rc, ok := b.containers[cid]
	b.mu.Unlock()
	if !ok {
		return 0, 0, ctsterr.NotFound("container", string(cid))
	}
	return sampleCgroupMetrics(rc.cgroup)
}

var _ isolation.Backend = (*Backend)(nil)
var _ isolation.Waiter = (*Backend)(nil)
