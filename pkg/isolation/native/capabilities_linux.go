//go:build linux

package native

import (
	"golang.org/x/sys/unix"

	"github.com/containust/containust/pkg/ctsterr"
)

// allowedCapabilities is the fixed runc/OCI-default bounding set (see
// DESIGN.md's "Capability allowlist" decision): the composition grammar
// has no syntax to grant additional capabilities, so this list is not
// user-configurable.
var allowedCapabilities = map[uintptr]bool{
	unix.CAP_CHOWN:            true,
	unix.CAP_DAC_OVERRIDE:     true,
	unix.CAP_FSETID:           true,
	unix.CAP_FOWNER:           true,
	unix.CAP_MKNOD:            true,
	unix.CAP_NET_RAW:          true,
	unix.CAP_SETGID:           true,
	unix.CAP_SETUID:           true,
	unix.CAP_SETFCAP:          true,
	unix.CAP_SETPCAP:          true,
	unix.CAP_NET_BIND_SERVICE: true,
	unix.CAP_SYS_CHROOT:       true,
	unix.CAP_KILL:             true,
	unix.CAP_AUDIT_WRITE:      true,
}

// dropCapabilities drops every capability from the process's bounding
// set that is not on allowedCapabilities, per spec.md §4.4: "Drops
// every Linux capability not on an explicit allowlist."
func dropCapabilities() error {
	for cap := uintptr(0); cap <= unix.CAP_LAST_CAP; cap++ {
		if allowedCapabilities[cap] {
			continue
		}
		if err := unix.Prctl(unix.PR_CAPBSET_DROP, cap, 0, 0, 0); err != nil {
			if err == unix.EINVAL {
				continue // kernel doesn't know this capability number
			}
			return ctsterr.Wrap(ctsterr.KindPermission, "", "failed to drop capability from bounding set", err)
		}
	}
	return nil
}
