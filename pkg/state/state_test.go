package state

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/containust/containust/pkg/ctsterr"
	"github.com/containust/containust/pkg/id"
)

func newTestIndex(t *testing.T) *Index {
	t.Helper()
	path := filepath.Join(t.TempDir(), "state.json")
	idx, err := Open(path, nil)
	require.NoError(t, err)
	return idx
}

func TestIndex_InsertAndList(t *testing.T) {
	idx := newTestIndex(t)
	rec := Record{ID: "abc123", Name: "web", State: StateCreated, UpdatedAt: time.Unix(1, 0)}
	require.NoError(t, idx.Insert(rec))

	records, err := idx.List()
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "web", records[0].Name)
}

func TestIndex_InsertDuplicate_Errors(t *testing.T) {
	idx := newTestIndex(t)
	rec := Record{ID: "abc123", Name: "web", State: StateCreated}
	require.NoError(t, idx.Insert(rec))
	err := idx.Insert(rec)
	require.Error(t, err)
}

func TestIndex_Update(t *testing.T) {
	idx := newTestIndex(t)
	rec := Record{ID: "abc123", Name: "web", State: StateCreated}
	require.NoError(t, idx.Insert(rec))

	require.NoError(t, idx.Update("abc123", StateRunning, 4242, time.Unix(2, 0)))

	records, err := idx.List()
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, StateRunning, records[0].State)
	assert.Equal(t, 4242, records[0].PID)
}

func TestIndex_UpdateUnknown_ReturnsNotFound(t *testing.T) {
	idx := newTestIndex(t)
	err := idx.Update("missing", StateRunning, 1, time.Now())
	require.Error(t, err)
	assert.True(t, ctsterr.Is(err, ctsterr.KindNotFound))
}

func TestIndex_Remove(t *testing.T) {
	idx := newTestIndex(t)
	rec := Record{ID: "abc123", Name: "web", State: StateCreated}
	require.NoError(t, idx.Insert(rec))
	require.NoError(t, idx.Remove("abc123"))

	records, err := idx.List()
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestIndex_FindByNameOrIDPrefix_ExactName(t *testing.T) {
	idx := newTestIndex(t)
	require.NoError(t, idx.Insert(Record{ID: id.NewContainerID(), Name: "web"}))

	rec, err := idx.FindByNameOrIDPrefix("web")
	require.NoError(t, err)
	assert.Equal(t, "web", rec.Name)
}

func TestIndex_FindByNameOrIDPrefix_UUIDPrefix(t *testing.T) {
	idx := newTestIndex(t)
	cid := id.ContainerID("0123456789abcdef")
	require.NoError(t, idx.Insert(Record{ID: cid, Name: "db"}))

	rec, err := idx.FindByNameOrIDPrefix("01234567")
	require.NoError(t, err)
	assert.Equal(t, cid, rec.ID)
}

func TestIndex_FindByNameOrIDPrefix_Ambiguous(t *testing.T) {
	idx := newTestIndex(t)
	require.NoError(t, idx.Insert(Record{ID: id.ContainerID("01234567aaaa"), Name: "a"}))
	require.NoError(t, idx.Insert(Record{ID: id.ContainerID("01234567bbbb"), Name: "b"}))

	_, err := idx.FindByNameOrIDPrefix("01234567")
	require.Error(t, err)
}

func TestIndex_FindByNameOrIDPrefix_ShortPrefixNotAccepted(t *testing.T) {
	idx := newTestIndex(t)
	require.NoError(t, idx.Insert(Record{ID: id.ContainerID("01234567aaaa"), Name: "a"}))

	_, err := idx.FindByNameOrIDPrefix("0123")
	require.Error(t, err)
}

func TestIndex_CorruptFile_ReturnsS001(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	require.NoError(t, os.WriteFile(path, []byte("not json"), 0o644))

	idx := &Index{path: path}
	_, err := idx.readLocked()
	require.Error(t, err)
	assert.Equal(t, "S001", ctsterr.Code(err))
}

func TestAcquireLock_ReclaimsStaleLock(t *testing.T) {
	dir := t.TempDir()
	lockPath := filepath.Join(dir, "state.json.lock")
	require.NoError(t, os.WriteFile(lockPath, []byte("999999"), 0o644))

	lock, err := acquireLock(lockPath)
	require.NoError(t, err)
	defer lock.release()

	_, statErr := os.Stat(lockPath)
	assert.NoError(t, statErr)
}
