// Package state implements the durable, concurrency-safe container
// record registry that replaces a daemon (spec.md §4.6, Design Notes
// "Concurrency without a daemon"). It is structurally grounded on
// ORCA's pkg/storage.Storage (mutex-guarded struct, *logrus.Logger,
// one-JSON-file-per-project persistence under a data directory),
// widened here to a single index file (spec.md §4.6 speaks of "a
// registry", singular, with atomic-rename durability, not
// one-file-per-record) plus the advisory lock file ORCA's version
// never needed because it ran behind a daemon process.
package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/containust/containust/pkg/ctsterr"
	"github.com/containust/containust/pkg/id"
)

// ContainerState is the closed enumeration from spec.md §4.7.
type ContainerState string

const (
	StateCreated ContainerState = "Created"
	StateRunning ContainerState = "Running"
	StateStopped ContainerState = "Stopped"
	StateFailed  ContainerState = "Failed"
)

// Record is one container's durable entry in the state index.
type Record struct {
	ID        id.ContainerID `json:"id"`
	Name      string         `json:"name"`
	State     ContainerState `json:"state"`
	PID       int            `json:"pid"`
	Image     string         `json:"image"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// index is the on-disk document shape.
type index struct {
	Records []Record `json:"records"`
}

// Index is the file-backed state index (spec.md §4.6 "Contract").
type Index struct {
	path string
	mu   sync.Mutex
	log  *logrus.Logger
}

// Open returns an Index backed by the JSON file at path, creating an
// empty one if it doesn't exist yet.
func Open(path string, log *logrus.Logger) (*Index, error) {
	if log == nil {
		log = logrus.New()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, ctsterr.WithPath(ctsterr.KindIO, "", "failed to create state directory", filepath.Dir(path), err)
	}
	idx := &Index{path: path, log: log}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := idx.writeLocked(index{Records: []Record{}}); err != nil {
			return nil, err
		}
	}
	return idx, nil
}

func (idx *Index) readLocked() (index, error) {
	var doc index
	data, err := os.ReadFile(idx.path)
	if err != nil {
		return doc, ctsterr.WithPath(ctsterr.KindIO, "", "failed to read state index", idx.path, err)
	}
	if len(data) == 0 {
		return index{Records: []Record{}}, nil
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return doc, ctsterr.WithPath(ctsterr.KindSerialization, "S001", "state index is corrupt", idx.path, err)
	}
	return doc, nil
}

// writeLocked persists doc via write-temp-then-rename (spec.md §4.6
// "Durability"): an incomplete write is never observable as the live
// index.
func (idx *Index) writeLocked(doc index) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return ctsterr.Wrap(ctsterr.KindSerialization, "", "failed to serialise state index", err)
	}
	tmp := idx.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return ctsterr.WithPath(ctsterr.KindIO, "", "failed to write state index temp file", tmp, err)
	}
	if err := os.Rename(tmp, idx.path); err != nil {
		return ctsterr.WithPath(ctsterr.KindIO, "", "failed to rename state index temp file", idx.path, err)
	}
	return nil
}

// Insert adds a new record (spec.md §4.6 "insert").
func (idx *Index) Insert(rec Record) error {
	lock, err := acquireLock(idx.path + ".lock")
	if err != nil {
		return err
	}
	defer lock.release()

	idx.mu.Lock()
	defer idx.mu.Unlock()

	doc, err := idx.readLocked()
	if err != nil {
		return err
	}
	for _, r := range doc.Records {
		if r.ID == rec.ID {
			return ctsterr.New(ctsterr.KindInvalidState, "", fmt.Sprintf("container %s already exists in the state index", rec.ID))
		}
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = rec.UpdatedAt
	}
	doc.Records = append(doc.Records, rec)
	if err := idx.writeLocked(doc); err != nil {
		return err
	}
	idx.log.WithFields(logrus.Fields{"id": rec.ID, "name": rec.Name}).Debug("state record inserted")
	return nil
}

// Update sets a container's state and pid (spec.md §4.6 "update(state, pid)").
func (idx *Index) Update(cid id.ContainerID, newState ContainerState, pid int, updatedAt time.Time) error {
	lock, err := acquireLock(idx.path + ".lock")
	if err != nil {
		return err
	}
	defer lock.release()

	idx.mu.Lock()
	defer idx.mu.Unlock()

	doc, err := idx.readLocked()
	if err != nil {
		return err
	}
	found := false
	for i := range doc.Records {
		if doc.Records[i].ID == cid {
			doc.Records[i].State = newState
			doc.Records[i].PID = pid
			doc.Records[i].UpdatedAt = updatedAt
			found = true
			break
		}
	}
	if !found {
		return ctsterr.NotFound("container", string(cid))
	}
	return idx.writeLocked(doc)
}

// Remove deletes a record (spec.md §4.6 "remove").
func (idx *Index) Remove(cid id.ContainerID) error {
	lock, err := acquireLock(idx.path + ".lock")
	if err != nil {
		return err
	}
	defer lock.release()

	idx.mu.Lock()
	defer idx.mu.Unlock()

	doc, err := idx.readLocked()
	if err != nil {
		return err
	}
	out := doc.Records[:0]
	found := false
	for _, r := range doc.Records {
		if r.ID == cid {
			found = true
			continue
		}
		out = append(out, r)
	}
	if !found {
		return ctsterr.NotFound("container", string(cid))
	}
	doc.Records = out
	return idx.writeLocked(doc)
}

// List returns every record (spec.md §4.6 "list").
func (idx *Index) List() ([]Record, error) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	doc, err := idx.readLocked()
	if err != nil {
		return nil, err
	}
	return doc.Records, nil
}

// FindByNameOrIDPrefix resolves a reference: exact name match first,
// then a UUID prefix of at least 8 characters, erroring on ambiguity
// (spec.md §4.6 "Lookup by reference").
func (idx *Index) FindByNameOrIDPrefix(ref string) (Record, error) {
	idx.mu.Lock()
	doc, err := idx.readLocked()
	idx.mu.Unlock()
	if err != nil {
		return Record{}, err
	}

	for _, r := range doc.Records {
		if r.Name == ref {
			return r, nil
		}
	}

	if !id.IsUUIDPrefix(ref) {
		return Record{}, ctsterr.NotFound("container", ref)
	}
	var matches []Record
	for _, r := range doc.Records {
		if strings.HasPrefix(string(r.ID), ref) {
			matches = append(matches, r)
		}
	}
	switch len(matches) {
	case 0:
		return Record{}, ctsterr.NotFound("container", ref)
	case 1:
		return matches[0], nil
	default:
		ids := make([]string, len(matches))
		for i, m := range matches {
			ids[i] = string(m.ID)
		}
		return Record{}, ctsterr.New(ctsterr.KindInvalidState, "", fmt.Sprintf("ambiguous reference %q matches: %s", ref, strings.Join(ids, ", ")))
	}
}
