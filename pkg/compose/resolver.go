package compose

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Resolver resolves an IMPORT path referenced from fromFile into
// canonical path plus file contents. Implementations decide the search
// order and whether remote fetches are permitted (spec.md §4.1
// "Imports").
type Resolver interface {
	Resolve(fromFile, importPath string) (canonicalPath string, contents []byte, err error)
}

// FSResolver is the default filesystem-backed Resolver: relative to the
// referencing file's directory, then to the entry file's directory, and
// https:// fetch-and-cache unless Offline is set (spec.md §4.1(a)-(c)).
type FSResolver struct {
	EntryDir string
	Offline  bool
	CacheDir string
	client   *http.Client
}

func NewFSResolver(entryDir string, offline bool, cacheDir string) *FSResolver {
	return &FSResolver{EntryDir: entryDir, Offline: offline, CacheDir: cacheDir, client: &http.Client{Timeout: 30 * time.Second}}
}

func (r *FSResolver) Resolve(fromFile, importPath string) (string, []byte, error) {
	if strings.HasPrefix(importPath, "https://") {
		return r.resolveRemote(importPath)
	}
	if strings.HasPrefix(importPath, "http://") {
		return "", nil, fmt.Errorf("plain http:// imports are rejected, use https://: %s", importPath)
	}

	// (a) relative to the current file's directory.
	candidate := filepath.Join(filepath.Dir(fromFile), importPath)
	if b, err := os.ReadFile(candidate); err == nil {
		return candidate, b, nil
	}

	// (b) relative to the entry file's directory.
	candidate = filepath.Join(r.EntryDir, importPath)
	b, err := os.ReadFile(candidate)
	if err != nil {
		return "", nil, fmt.Errorf("unresolved import %q: %w", importPath, err)
	}
	return candidate, b, nil
}

func (r *FSResolver) resolveRemote(url string) (string, []byte, error) {
	if r.Offline {
		return "", nil, fmt.Errorf("remote import %q is forbidden in offline mode", url)
	}
	cachePath := filepath.Join(r.CacheDir, "imports", sanitizeURL(url))
	if b, err := os.ReadFile(cachePath); err == nil {
		return url, b, nil
	}
	resp, err := r.client.Get(url)
	if err != nil {
		return "", nil, fmt.Errorf("fetching import %q: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", nil, fmt.Errorf("fetching import %q: HTTP %d", url, resp.StatusCode)
	}
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", nil, fmt.Errorf("reading import %q: %w", url, err)
	}
	if err := os.MkdirAll(filepath.Dir(cachePath), 0o755); err == nil {
		_ = os.WriteFile(cachePath, b, 0o644)
	}
	return url, b, nil
}

func sanitizeURL(url string) string {
	r := strings.NewReplacer("/", "_", ":", "_", "?", "_", "&", "_")
	return r.Replace(url)
}
