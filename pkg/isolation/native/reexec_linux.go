//go:build linux

package native

import (
	"fmt"
	"os"
	"strconv"

	"github.com/docker/docker/pkg/reexec"
)

// init registers the container-init and namespace-join-exec entry
// points under the names Backend.Start and Backend.Exec re-exec into.
// This is the same re-exec-self pattern moby/moby's own daemon uses to
// enter namespaces before any Go runtime state (goroutines, threads)
// exists in the child, via github.com/docker/docker/pkg/reexec —
// already an ORCA dependency (docker/docker), narrowed here to this one
// utility.
func init() {
	reexec.Register("__containust_init__", initMain)
	reexec.Register("__containust_exec__", execMain)
}

// initMain is the entry point of the re-executed child that becomes a
// container's PID-1: it pivots into the assembled rootfs, drops
// capabilities, applies the seccomp filter, then execs the declared
// command (spec.md §4.4's pivot/capability/seccomp/exec sequence).
func initMain() {
	args := os.Args[1:] // ["__containust_init__", rootfs, workdir, hostname, user, argv...]
	if len(args) < 5 {
		fmt.Fprintln(os.Stderr, "containust: __containust_init__ requires rootfs, workdir, hostname, user, and a command")
		os.Exit(126)
	}
	rootfs, workdir, hostname, user, argv := args[1], args[2], args[3], args[4], args[5:]

	if hostname != "" {
		_ = setHostname(hostname)
	}
	if err := pivotInto(rootfs); err != nil {
		fmt.Fprintf(os.Stderr, "containust: pivot_root failed: %v\n", err)
		os.Exit(1)
	}
	if workdir != "" {
		if err := os.Chdir(workdir); err != nil {
			fmt.Fprintf(os.Stderr, "containust: chdir into working directory failed: %v\n", err)
			os.Exit(1)
		}
	}
	if err := dropCapabilities(); err != nil {
		fmt.Fprintf(os.Stderr, "containust: %v\n", err)
		os.Exit(1)
	}
	if err := applySeccompFilter(); err != nil {
		fmt.Fprintf(os.Stderr, "containust: %v\n", err)
		os.Exit(1)
	}
	if err := setUserIdentity(user); err != nil {
		fmt.Fprintf(os.Stderr, "containust: %v\n", err)
		os.Exit(1)
	}
	if err := execEntryCommand(argv); err != nil {
		fmt.Fprintf(os.Stderr, "containust: exec failed: %v\n", err)
		os.Exit(127)
	}
}

// execMain is the entry point of the re-executed child used by Exec:
// it joins an already-running container's namespaces then execs the
// requested command (spec.md §4.5 "Exec").
func execMain() {
	args := os.Args[1:] // ["__containust_exec__", pid, cmd...]
	if len(args) < 2 {
		fmt.Fprintln(os.Stderr, "containust: __containust_exec__ requires a target pid and a command")
		os.Exit(126)
	}
	pid, err := strconv.Atoi(args[1])
	if err != nil {
		fmt.Fprintf(os.Stderr, "containust: invalid target pid %q\n", args[1])
		os.Exit(126)
	}
	if err := runExecChild(pid, args[2:]); err != nil {
		fmt.Fprintf(os.Stderr, "containust: %v\n", err)
		os.Exit(127)
	}
}
