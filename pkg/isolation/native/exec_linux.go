//go:build linux

package native

import (
	"fmt"
	"io"
	"os"
	"os/exec"

	"github.com/docker/docker/pkg/reexec"
	"golang.org/x/sys/unix"

	"github.com/containust/containust/pkg/ctsterr"
)

// nsJoinOrder mirrors the order the kernel requires setns calls to
// happen in when re-entering a mount namespace alongside others: user
// first (not attempted here, since exec joins an already-running
// container rather than creating one), then the rest, mount last so
// the process's working directory resolves inside the target rootfs.
var nsJoinOrder = []string{"pid", "uts", "ipc", "net", "mnt"}

// execInNamespaces joins the namespaces of the process at pid by
// opening its /proc/<pid>/ns/* file descriptors and re-execs cmdArgs
// inside them (spec.md §4.5 "Exec": "Joins the target container's PID,
// mount, network, IPC, UTS namespaces by opening the corresponding
// kernel file descriptors, enters the root, and execs the requested
// command").
func execInNamespaces(pid int, cmdArgs []string, stdout, stderr io.Writer) error {
	if len(cmdArgs) == 0 {
		return ctsterr.New(ctsterr.KindConfig, "", "exec requires a command")
	}

	cmd := reexec.Command(append([]string{"__containust_exec__", fmt.Sprintf("%d", pid)}, cmdArgs...)...)
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.Env = os.Environ()
	if err := cmd.Run(); err != nil {
		return ctsterr.Wrap(ctsterr.KindInvalidState, "R005", "exec failed", err)
	}
	return nil
}

// runExecChild is invoked in the re-executed child (see reexec_linux.go's
// dispatch table) after it has already been placed in the new process
// image; it performs the actual setns sequence against the target pid.
func runExecChild(targetPID int, cmdArgs []string) error {
	for _, kind := range nsJoinOrder {
		path := fmt.Sprintf("/proc/%d/ns/%s", targetPID, kind)
		fd, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("failed to open namespace fd %s: %w", path, err)
		}
		err = unix.Setns(int(fd.Fd()), 0)
		fd.Close()
		if err != nil {
			return fmt.Errorf("failed to join namespace %s: %w", kind, err)
		}
	}
	if err := unix.Chroot(fmt.Sprintf("/proc/%d/root", targetPID)); err == nil {
		_ = unix.Chdir("/")
	}
	bin, err := exec.LookPath(cmdArgs[0])
	if err != nil {
		bin = cmdArgs[0]
	}
	return unix.Exec(bin, cmdArgs, os.Environ())
}
