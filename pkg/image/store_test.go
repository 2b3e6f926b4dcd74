package image

import (
	"archive/tar"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/containust/containust/pkg/hash"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	root := t.TempDir()
	s, err := NewStore(root, false, nil)
	require.NoError(t, err)
	return s
}

func writeSampleDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "hello.txt"), []byte("hello containust"), 0o644))
	return dir
}

func writeSampleTar(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sample.tar")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	w := tar.NewWriter(f)
	content := []byte("hello from tar")
	require.NoError(t, w.WriteHeader(&tar.Header{Name: "hello.txt", Mode: 0o644, Size: int64(len(content))}))
	_, err = w.Write(content)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return path
}

func TestStore_ResolveLayer_DirSource(t *testing.T) {
	s := newTestStore(t)
	dir := writeSampleDir(t)

	layer, err := s.ResolveLayer("file://" + dir)
	require.NoError(t, err)
	assert.False(t, layer.Hash.Zero())
	assert.FileExists(t, filepath.Join(layer.Path, "hello.txt"))
}

func TestStore_ResolveLayer_ReusesIdenticalSource(t *testing.T) {
	s := newTestStore(t)
	dir := writeSampleDir(t)

	l1, err := s.ResolveLayer("file://" + dir)
	require.NoError(t, err)
	l2, err := s.ResolveLayer("file://" + dir)
	require.NoError(t, err)

	assert.True(t, l1.Hash.Equal(l2.Hash))
	assert.Equal(t, 2, l2.RefCount)
}

func TestStore_ResolveLayer_TarSource(t *testing.T) {
	s := newTestStore(t)
	tarPath := writeSampleTar(t)

	layer, err := s.ResolveLayer("tar://" + tarPath)
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(layer.Path, "hello.txt"))
}

func TestStore_ResolveLayer_UnsupportedScheme(t *testing.T) {
	s := newTestStore(t)
	_, err := s.ResolveLayer("ftp://example.com/x")
	assert.Error(t, err)
}

func TestStore_ResolveLayer_HTTPSRejectedOffline(t *testing.T) {
	root := t.TempDir()
	s, err := NewStore(root, true, nil)
	require.NoError(t, err)

	_, err = s.ResolveLayer("https://example.com/layer.tar")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "offline")
}

func TestStore_ResolveImage_HashesLayerList(t *testing.T) {
	s := newTestStore(t)
	base := writeSampleDir(t)

	img, err := s.ResolveImage([]string{"file://" + base}, hash.ContentHash{})
	require.NoError(t, err)
	assert.False(t, img.Hash.Zero())
	assert.Len(t, img.Layers, 1)
}

func TestStore_ResolveImage_ExpectedHashMismatch(t *testing.T) {
	s := newTestStore(t)
	base := writeSampleDir(t)

	bogus, err := hash.FromHex(strings.Repeat("0", 64))
	require.NoError(t, err)

	_, err = s.ResolveImage([]string{"file://" + base}, bogus)
	require.Error(t, err)
}

func TestStore_LoadImage_RoundTrips(t *testing.T) {
	s := newTestStore(t)
	base := writeSampleDir(t)

	img, err := s.ResolveImage([]string{"file://" + base}, hash.ContentHash{})
	require.NoError(t, err)

	loaded, err := s.LoadImage(img.Hash)
	require.NoError(t, err)
	assert.Equal(t, img.Hash, loaded.Hash)
}

func TestStore_ListImages(t *testing.T) {
	s := newTestStore(t)
	base1 := writeSampleDir(t)
	base2 := writeSampleDir(t)

	img1, err := s.ResolveImage([]string{"file://" + base1}, hash.ContentHash{})
	require.NoError(t, err)
	img2, err := s.ResolveImage([]string{"file://" + base2}, hash.ContentHash{})
	require.NoError(t, err)

	list, err := s.ListImages()
	require.NoError(t, err)
	require.Len(t, list, 2)
	hashes := []string{list[0].Hash.String(), list[1].Hash.String()}
	assert.Contains(t, hashes, img1.Hash.String())
	assert.Contains(t, hashes, img2.Hash.String())
}

func TestStore_RemoveImage_RefusesWhileReferenced(t *testing.T) {
	s := newTestStore(t)
	base := writeSampleDir(t)

	img, err := s.ResolveImage([]string{"file://" + base}, hash.ContentHash{})
	require.NoError(t, err)

	err = s.RemoveImage(img.Hash, func(hash.ContentHash) bool { return true })
	assert.Error(t, err)

	err = s.RemoveImage(img.Hash, func(hash.ContentHash) bool { return false })
	assert.NoError(t, err)

	_, err = s.LoadImage(img.Hash)
	assert.Error(t, err)
}
