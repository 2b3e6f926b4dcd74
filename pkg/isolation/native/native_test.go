//go:build linux

package native

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/containust/containust/pkg/isolation"
)

// requireRoot skips tests that need real namespace/cgroup/mount
// privileges; most of this package's behaviour (pivot_root, cgroupfs
// writes, capability dropping) cannot be exercised in an unprivileged
// CI container, so those paths are documented here rather than tested.
func requireRoot(t *testing.T) {
	t.Helper()
	if os.Getuid() != 0 {
		t.Skip("requires root privileges to create namespaces and cgroups")
	}
}

func TestBackend_IsAvailable_DoesNotPanicUnprivileged(t *testing.T) {
	b := New("/sys/fs/cgroup/containust-test", nil)
	assert.NotPanics(t, func() { b.IsAvailable() })
}

func TestBackend_ImplementsIsolationInterface(t *testing.T) {
	var _ isolation.Backend = New("/sys/fs/cgroup/containust-test", nil)
}

func TestNetworkCloneFlag(t *testing.T) {
	assert.EqualValues(t, 0, networkCloneFlag("host"))
	assert.NotZero(t, networkCloneFlag("bridge"))
	assert.NotZero(t, networkCloneFlag(""))
}

func TestBackend_StopUnknownContainer_ReturnsNotFound(t *testing.T) {
	b := New("/sys/fs/cgroup/containust-test", nil)
	err := b.Stop(nil, "does-not-exist", false)
	require.Error(t, err)
}

func TestBackend_ExecUnknownContainer_ReturnsNotFound(t *testing.T) {
	b := New("/sys/fs/cgroup/containust-test", nil)
	err := b.Exec(nil, "does-not-exist", []string{"echo", "hi"}, nil, nil)
	require.Error(t, err)
}

func TestBackend_ListEmpty(t *testing.T) {
	b := New("/sys/fs/cgroup/containust-test", nil)
	records, err := b.List(nil)
	require.NoError(t, err)
	assert.Empty(t, records)
}

// TestBackend_Create_RequiresRoot documents that overlay mounts and
// cgroup directory creation need CAP_SYS_ADMIN; exercised only in
// environments where requireRoot doesn't skip.
func TestBackend_Create_RequiresRoot(t *testing.T) {
	requireRoot(t)
	dir := t.TempDir()
	b := New(dir+"/cgroup", nil)
	cfg := isolation.Config{
		ID:         "test-container",
		Command:    []string{"/bin/true"},
		StateDir:   dir,
		LayerPaths: []string{t.TempDir()},
	}
	_, err := b.Create(nil, cfg)
	assert.NoError(t, err)
}

func TestDropCapabilities_RequiresRoot(t *testing.T) {
	requireRoot(t)
	assert.NoError(t, dropCapabilities())
}

func TestApplySeccompFilter_RequiresRoot(t *testing.T) {
	requireRoot(t)
	assert.NoError(t, applySeccompFilter())
}
