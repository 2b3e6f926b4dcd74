//go:build linux

package native

import (
	"fmt"
	"os"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/containust/containust/pkg/ctsterr"
)

// mountOverlay stacks layerPaths (base first, overlay last) under an
// overlay filesystem rooted at rootfs, with upper/work as the writable
// layer, per spec.md §4.4: "Assembles the container root filesystem as
// an overlay stack over the layers... plus a per-container writable
// upper directory unless readonly=true, in which case the upper
// directory is tmpfs-backed and mount-protected."
func mountOverlay(layerPaths []string, upper, work, rootfs string, readOnly bool) error {
	if len(layerPaths) == 0 {
		return ctsterr.New(ctsterr.KindConfig, "", "cannot assemble an overlay root with zero layers")
	}

	// overlayfs wants lowerdir highest-priority first; the image store
	// returns layers base-first, so reverse for the mount option.
	lower := make([]string, len(layerPaths))
	for i, p := range layerPaths {
		lower[len(layerPaths)-1-i] = p
	}
	lowerdir := strings.Join(lower, ":")

	if readOnly {
		if err := unix.Mount("tmpfs", upper, "tmpfs", unix.MS_NOSUID, "size=64m"); err != nil {
			return ctsterr.Wrap(ctsterr.KindIO, "", "failed to mount tmpfs upper directory", err)
		}
		if err := os.MkdirAll(upper+"/data", 0o755); err != nil {
			return ctsterr.Wrap(ctsterr.KindIO, "", "failed to prepare tmpfs upper subdirectory", err)
		}
		if err := os.MkdirAll(upper+"/work", 0o755); err != nil {
			return ctsterr.Wrap(ctsterr.KindIO, "", "failed to prepare tmpfs work subdirectory", err)
		}
		upper, work = upper+"/data", upper+"/work"
	}

	opts := fmt.Sprintf("lowerdir=%s,upperdir=%s,workdir=%s", lowerdir, upper, work)
	if err := unix.Mount("overlay", rootfs, "overlay", 0, opts); err != nil {
		return ctsterr.Wrap(ctsterr.KindIO, "", fmt.Sprintf("failed to mount overlay root at %s", rootfs), err)
	}
	return nil
}

func unmountOverlay(rootfs string) error {
	if err := unix.Unmount(rootfs, unix.MNT_DETACH); err != nil {
		return ctsterr.Wrap(ctsterr.KindIO, "", fmt.Sprintf("failed to unmount overlay root at %s", rootfs), err)
	}
	return nil
}

// pivotInto performs pivot_root into newRoot, unmounts the old root
// (spec.md §4.4: "old root unmounted after pivot; not reachable from
// the container"), and mounts the essential pseudo-filesystems.
func pivotInto(newRoot string) error {
	putOld := newRoot + "/.old_root"
	if err := os.MkdirAll(putOld, 0o700); err != nil {
		return fmt.Errorf("failed to create pivot_root staging directory: %w", err)
	}
	// pivot_root requires newRoot to be a mount point; bind-mount it
	// onto itself first, matching the standard container-runtime idiom.
	if err := unix.Mount(newRoot, newRoot, "", unix.MS_BIND|unix.MS_REC, ""); err != nil {
		return fmt.Errorf("failed to bind-mount new root: %w", err)
	}
	if err := unix.PivotRoot(newRoot, putOld); err != nil {
		return fmt.Errorf("pivot_root failed: %w", err)
	}
	if err := unix.Chdir("/"); err != nil {
		return fmt.Errorf("failed to chdir into new root: %w", err)
	}
	if err := unix.Unmount("/.old_root", unix.MNT_DETACH); err != nil {
		return fmt.Errorf("failed to unmount old root: %w", err)
	}
	if err := os.RemoveAll("/.old_root"); err != nil {
		return fmt.Errorf("failed to remove old root mount point: %w", err)
	}
	return mountPseudoFilesystems()
}

// mountPseudoFilesystems mounts /proc, read-only /sys, minimal /dev,
// and /dev/pts inside the new root (spec.md §4.4).
func mountPseudoFilesystems() error {
	if err := os.MkdirAll("/proc", 0o755); err == nil {
		_ = unix.Mount("proc", "/proc", "proc", 0, "")
	}
	if err := os.MkdirAll("/sys", 0o755); err == nil {
		_ = unix.Mount("sysfs", "/sys", "sysfs", unix.MS_RDONLY, "")
	}
	if err := os.MkdirAll("/dev", 0o755); err == nil {
		_ = unix.Mount("tmpfs", "/dev", "tmpfs", unix.MS_NOSUID, "mode=755,size=64k")
		_ = os.MkdirAll("/dev/pts", 0o755)
		_ = unix.Mount("devpts", "/dev/pts", "devpts", 0, "newinstance,ptmxmode=0666,mode=0620")
	}
	return nil
}

// bindMount applies one declared volume as a bind mount (spec.md §4.4
// "Applies bind mounts for declared volumes").
func bindMount(hostPath, containerPath string) error {
	if err := os.MkdirAll(containerPath, 0o755); err != nil {
		return fmt.Errorf("failed to create bind mount target %s: %w", containerPath, err)
	}
	if err := unix.Mount(hostPath, containerPath, "", unix.MS_BIND|unix.MS_REC, ""); err != nil {
		return fmt.Errorf("failed to bind mount %s -> %s: %w", hostPath, containerPath, err)
	}
	return nil
}
