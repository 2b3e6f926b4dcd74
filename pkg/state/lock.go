package state

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/containust/containust/pkg/ctsterr"
)

// lockTimeout bounds how long Insert/Update/Remove will back off
// waiting for a contended lock before giving up (spec.md §4.6
// "Concurrency": "otherwise block with back-off until timeout").
const lockTimeout = 5 * time.Second

// staleLockGrace is the short delay before reclaiming a lock whose
// holder pid is absent from /proc (spec.md §4.6: "if the holder's pid
// is absent from /proc, the lock is stale and may be reclaimed after a
// short delay").
const staleLockGrace = 50 * time.Millisecond

type fileLock struct {
	path string
}

// acquireLock implements the create-exclusive advisory lock protocol
// from spec.md §4.6: the lock file holds the acquiring pid; a
// collision with a live holder blocks with back-off until timeout, a
// collision with a dead holder is reclaimed after staleLockGrace.
func acquireLock(path string) (*fileLock, error) {
	deadline := time.Now().Add(lockTimeout)
	backoff := 5 * time.Millisecond

	for {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			fmt.Fprintf(f, "%d", os.Getpid())
			f.Close()
			return &fileLock{path: path}, nil
		}
		if !os.IsExist(err) {
			return nil, ctsterr.WithPath(ctsterr.KindIO, "", "failed to create state lock file", path, err)
		}

		holderPID, readErr := readLockHolder(path)
		if readErr == nil && !pidAlive(holderPID) {
			time.Sleep(staleLockGrace)
			if removeErr := os.Remove(path); removeErr == nil || os.IsNotExist(removeErr) {
				continue // retry create-exclusive immediately
			}
		}

		if time.Now().After(deadline) {
			return nil, ctsterr.New(ctsterr.KindInvalidState, "", fmt.Sprintf("timed out waiting for state index lock held by pid %d", holderPID))
		}
		time.Sleep(backoff)
		if backoff < 200*time.Millisecond {
			backoff *= 2
		}
	}
}

func (l *fileLock) release() {
	os.Remove(l.path)
}

func readLockHolder(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, err
	}
	return pid, nil
}

// pidAlive reports whether pid appears in /proc, the process-table
// probe spec.md §4.6 names explicitly.
func pidAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	_, err := os.Stat(fmt.Sprintf("/proc/%d", pid))
	return err == nil
}
