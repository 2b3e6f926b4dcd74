//go:build linux

package native

import (
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/containust/containust/pkg/ctsterr"
)

// deniedSyscalls is the historically dangerous subset spec.md §4.4
// asks for at design level: mechanisms that let a contained process
// escape or repurpose the isolation the rest of Create/Start assembled
// (loading kernel modules, ptrace-based namespace escape, rebooting or
// swapping the host, and raw mount/pivot_root once the container's own
// root is set up).
var deniedSyscalls = []uintptr{
	unix.SYS_PTRACE,
	unix.SYS_MOUNT,
	unix.SYS_UMOUNT2,
	unix.SYS_PIVOT_ROOT,
	unix.SYS_REBOOT,
	unix.SYS_KEXEC_LOAD,
	unix.SYS_INIT_MODULE,
	unix.SYS_FINIT_MODULE,
	unix.SYS_DELETE_MODULE,
	unix.SYS_SWAPON,
	unix.SYS_SWAPOFF,
}

// applySeccompFilter installs a minimal BPF classic filter that returns
// EPERM for deniedSyscalls and allows everything else, after setting
// no_new_privs (required by the kernel before an unprivileged
// PR_SET_SECCOMP call). This is the "design-level" filter spec.md §4.4
// calls for, not a full default-deny allowlist.
func applySeccompFilter() error {
	if err := unix.Prctl(unix.PR_SET_NO_NEW_PRIVS, 1, 0, 0, 0); err != nil {
		return ctsterr.Wrap(ctsterr.KindPermission, "", "failed to set no_new_privs", err)
	}

	prog := buildDenyFilter(deniedSyscalls)
	fprog := &unix.SockFprog{
		Len:    uint16(len(prog)),
		Filter: &prog[0],
	}
	if err := unix.Prctl(unix.PR_SET_SECCOMP, unix.SECCOMP_MODE_FILTER, uintptr(unsafe.Pointer(fprog)), 0, 0); err != nil {
		return ctsterr.Wrap(ctsterr.KindPermission, "", "failed to install seccomp filter", err)
	}
	return nil
}

// buildDenyFilter assembles a classic BPF program: load the syscall
// number (offset 0 of seccomp_data), compare against each denied
// syscall and jump to an EPERM return, otherwise fall through to
// ALLOW.
func buildDenyFilter(denied []uintptr) []unix.SockFilter {
	const (
		bpfLd  = 0x00 | 0x20 | 0x00 // BPF_LD | BPF_W | BPF_ABS
		bpfJmp = 0x05               // BPF_JMP | BPF_JEQ | BPF_K
		bpfRet = 0x06               // BPF_RET | BPF_K
	)
	prog := []unix.SockFilter{
		{Code: bpfLd, K: 0}, // load syscall number (seccomp_data.nr, offset 0)
	}
	for _, sc := range denied {
		prog = append(prog, unix.SockFilter{
			Code: bpfJmp | 0x10, // BPF_JMP | BPF_JEQ | BPF_K
			K:    uint32(sc),
			Jt:   0,
			Jf:   1, // skip this compare's EPERM return: on to the next compare, or to ALLOW after the last
		})
		prog = append(prog, unix.SockFilter{
			Code: bpfRet,
			K:    uint32(unix.SECCOMP_RET_ERRNO | (uint32(unix.EPERM) & 0xffff)),
		})
	}
	prog = append(prog, unix.SockFilter{Code: bpfRet, K: unix.SECCOMP_RET_ALLOW})
	return prog
}
