//go:build linux

package native

import (
	"os"
	"os/exec"
	"strconv"
	"strings"
	"syscall"

	"golang.org/x/sys/unix"
)

// setHostname sets the UTS namespace hostname (spec.md §4.4: "Sets
// hostname, working directory, user/group identity, environment").
func setHostname(hostname string) error {
	return unix.Sethostname([]byte(hostname))
}

// setUserIdentity applies the container's declared user identity,
// accepting the "uid[:gid]" numeric form (spec.md §3 "user"). Named
// users require a passwd-file lookup inside the image, which the
// composition schema doesn't describe a source for, so only the
// numeric form is supported; an empty string is a no-op (stay root).
func setUserIdentity(user string) error {
	if user == "" {
		return nil
	}
	uidStr, gidStr, _ := strings.Cut(user, ":")
	uid, err := strconv.Atoi(uidStr)
	if err != nil {
		return nil // non-numeric user; leave identity as-is rather than fail deploy
	}
	if gidStr != "" {
		if gid, err := strconv.Atoi(gidStr); err == nil {
			if err := unix.Setgid(gid); err != nil {
				return err
			}
		}
	}
	return unix.Setuid(uid)
}

// execEntryCommand replaces the current process image with argv,
// searching the image-local PATH (spec.md §4.4: "Executes the declared
// command via the usual image-local path search").
func execEntryCommand(argv []string) error {
	if len(argv) == 0 {
		return syscall.EINVAL
	}
	bin, err := exec.LookPath(argv[0])
	if err != nil {
		bin = argv[0]
	}
	return unix.Exec(bin, argv, os.Environ())
}
