// Package image implements the content-addressed layer/image store
// (spec.md §4.3 "Image store", §3 "Layer"/"Image identity").
package image

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/containust/containust/pkg/ctsterr"
	"github.com/containust/containust/pkg/hash"
)

// Layer is a materialised, content-addressed filesystem fragment
// (spec.md §3 "Layer").
type Layer struct {
	Hash      hash.ContentHash `json:"hash"`
	SourceURI string           `json:"source_uri"`
	Path      string           `json:"path"` // materialised root, under Store.layersDir
	RefCount  int              `json:"ref_count"`
}

// Image is a finite ordered list of layer hashes, base first, overlay
// last (spec.md §3 "Image identity").
type Image struct {
	Hash       hash.ContentHash   `json:"hash"`
	Layers     []hash.ContentHash `json:"layers"`
	SourceURIs []string           `json:"source_uris"`
}

// Store is the project-local, content-addressed cache of layers and
// images. It follows the same mutex-guarded, logrus-observed,
// JSON-file-per-record shape ORCA's storage package uses for
// deployments and services, applied to layer/image records instead.
type Store struct {
	rootDir    string
	layersDir  string
	imagesDir  string
	offline    bool
	httpClient httpGetter
	mu         sync.Mutex
	log        *logrus.Logger
}

// NewStore creates (if absent) the cache directory tree rooted at
// rootDir and returns a Store bound to it.
func NewStore(rootDir string, offline bool, log *logrus.Logger) (*Store, error) {
	if log == nil {
		log = logrus.New()
	}
	layersDir := filepath.Join(rootDir, "layers")
	imagesDir := filepath.Join(rootDir, "images")
	for _, dir := range []string{layersDir, imagesDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, ctsterr.WithPath(ctsterr.KindIO, "", "failed to create image store directory", dir, err)
		}
	}
	return &Store{
		rootDir:    rootDir,
		layersDir:  layersDir,
		imagesDir:  imagesDir,
		offline:    offline,
		httpClient: defaultHTTPGetter{},
		log:        log,
	}, nil
}

// ResolveLayer materialises the layer named by sourceURI, reusing an
// existing cached layer when one with the same content hash already
// exists (spec.md §4.3 "Layer reuse").
func (s *Store) ResolveLayer(sourceURI string) (*Layer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	h, path, err := resolveSource(sourceURI, s.layersDir, s.offline, s.httpClient)
	if err != nil {
		return nil, err
	}

	layer, err := s.loadLayerManifest(h)
	if err == nil {
		layer.RefCount++
		if serr := s.saveLayerManifest(layer); serr != nil {
			return nil, serr
		}
		s.log.WithFields(logrus.Fields{"hash": h.String(), "source": sourceURI}).Debug("layer cache hit")
		return layer, nil
	}

	layer = &Layer{Hash: h, SourceURI: sourceURI, Path: path, RefCount: 1}
	if err := s.saveLayerManifest(layer); err != nil {
		return nil, err
	}
	s.log.WithFields(logrus.Fields{"hash": h.String(), "source": sourceURI}).Info("layer materialised")
	return layer, nil
}

// ResolveImage resolves every source URI into a layer (base first,
// overlay last), computes the image hash over the ordered layer-hash
// list, and, if expected is non-zero, verifies it matches (spec.md
// invariant 2, §4.3 "Verification").
func (s *Store) ResolveImage(sourceURIs []string, expected hash.ContentHash) (*Image, error) {
	if len(sourceURIs) == 0 {
		return nil, ctsterr.New(ctsterr.KindConfig, "", "an image requires at least one layer source")
	}

	var layerHashes []hash.ContentHash
	for _, uri := range sourceURIs {
		layer, err := s.ResolveLayer(uri)
		if err != nil {
			return nil, err
		}
		layerHashes = append(layerHashes, layer.Hash)
	}

	imgHash := hash.OfHashes(layerHashes)
	if !expected.Zero() && !imgHash.Equal(expected) {
		return nil, ctsterr.HashMismatch("image", expected.String(), imgHash.String())
	}

	img := &Image{Hash: imgHash, Layers: layerHashes, SourceURIs: sourceURIs}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.saveImageManifest(img); err != nil {
		return nil, err
	}
	return img, nil
}

// LoadImage returns a previously resolved image by hash after checking
// that every layer's manifest loads and its materialised directory is
// still present. The layer contents are not re-hashed.
func (s *Store) LoadImage(h hash.ContentHash) (*Image, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	img, err := s.loadImageManifest(h)
	if err != nil {
		return nil, ctsterr.NotFound("image", h.String())
	}
	for _, lh := range img.Layers {
		layer, err := s.loadLayerManifest(lh)
		if err != nil {
			return nil, ctsterr.NotFound("layer", lh.String())
		}
		if err := verifyLayer(layer); err != nil {
			return nil, err
		}
	}
	return img, nil
}

// LayerPaths returns the materialised filesystem root of every layer
// in img, base first, overlay last — the order the native isolation
// backend expects for its lowerdir stack (spec.md §3 "Image identity").
func (s *Store) LayerPaths(img *Image) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	paths := make([]string, 0, len(img.Layers))
	for _, lh := range img.Layers {
		layer, err := s.loadLayerManifest(lh)
		if err != nil {
			return nil, ctsterr.NotFound("layer", lh.String())
		}
		paths = append(paths, layer.Path)
	}
	return paths, nil
}

// ListImages returns every image manifest currently in the store, for
// the CLI's `images --list` verb.
func (s *Store) ListImages() ([]*Image, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.imagesDir)
	if err != nil {
		return nil, ctsterr.WithPath(ctsterr.KindIO, "", "failed to list images", s.imagesDir, err)
	}
	var out []*Image
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		b, err := os.ReadFile(filepath.Join(s.imagesDir, entry.Name()))
		if err != nil {
			continue
		}
		var img Image
		if err := json.Unmarshal(b, &img); err != nil {
			continue
		}
		out = append(out, &img)
	}
	return out, nil
}

// RemoveImage removes the image manifest and decrements the reference
// count of every layer it owns, deleting a layer's cached blob only
// once its count reaches zero. referenced reports whether some external
// owner (a container record) still needs imgHash; if so, removal is
// refused (spec.md §4.3: "refuses while referenced").
func (s *Store) RemoveImage(h hash.ContentHash, referenced func(hash.ContentHash) bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if referenced != nil && referenced(h) {
		return ctsterr.New(ctsterr.KindInvalidState, "", fmt.Sprintf("image %s is still referenced by a container record", h.String()))
	}

	img, err := s.loadImageManifest(h)
	if err != nil {
		return ctsterr.NotFound("image", h.String())
	}

	for _, lh := range img.Layers {
		layer, err := s.loadLayerManifest(lh)
		if err != nil {
			continue
		}
		layer.RefCount--
		if layer.RefCount <= 0 {
			if err := os.RemoveAll(layer.Path); err != nil {
				return ctsterr.WithPath(ctsterr.KindIO, "", "failed to remove layer blob", layer.Path, err)
			}
			_ = os.Remove(s.layerManifestPath(lh))
			continue
		}
		if err := s.saveLayerManifest(layer); err != nil {
			return err
		}
	}

	if err := os.Remove(s.imageManifestPath(h)); err != nil {
		return ctsterr.WithPath(ctsterr.KindIO, "", "failed to remove image manifest", s.imageManifestPath(h), err)
	}
	return nil
}

func verifyLayer(layer *Layer) error {
	info, err := os.Stat(layer.Path)
	if err != nil {
		return ctsterr.WithPath(ctsterr.KindIO, "", "layer materialisation missing", layer.Path, err)
	}
	if !info.IsDir() {
		return ctsterr.New(ctsterr.KindInvalidState, "", fmt.Sprintf("layer path %s is not a directory", layer.Path))
	}
	return nil
}

func (s *Store) layerManifestPath(h hash.ContentHash) string {
	return filepath.Join(s.layersDir, h.Hex()+".json")
}

func (s *Store) imageManifestPath(h hash.ContentHash) string {
	return filepath.Join(s.imagesDir, h.Hex()+".json")
}

func (s *Store) loadLayerManifest(h hash.ContentHash) (*Layer, error) {
	b, err := os.ReadFile(s.layerManifestPath(h))
	if err != nil {
		return nil, err
	}
	var l Layer
	if err := json.Unmarshal(b, &l); err != nil {
		return nil, ctsterr.Wrap(ctsterr.KindSerialization, "S001", "corrupt layer manifest", err)
	}
	return &l, nil
}

func (s *Store) saveLayerManifest(l *Layer) error {
	b, err := json.MarshalIndent(l, "", "  ")
	if err != nil {
		return ctsterr.Wrap(ctsterr.KindSerialization, "", "failed to serialise layer manifest", err)
	}
	return atomicWriteFile(s.layerManifestPath(l.Hash), b)
}

func (s *Store) loadImageManifest(h hash.ContentHash) (*Image, error) {
	b, err := os.ReadFile(s.imageManifestPath(h))
	if err != nil {
		return nil, err
	}
	var img Image
	if err := json.Unmarshal(b, &img); err != nil {
		return nil, ctsterr.Wrap(ctsterr.KindSerialization, "S001", "corrupt image manifest", err)
	}
	return &img, nil
}

func (s *Store) saveImageManifest(img *Image) error {
	b, err := json.MarshalIndent(img, "", "  ")
	if err != nil {
		return ctsterr.Wrap(ctsterr.KindSerialization, "", "failed to serialise image manifest", err)
	}
	return atomicWriteFile(s.imageManifestPath(img.Hash), b)
}

// atomicWriteFile writes data to a temp file beside path and renames it
// into place, so a crash mid-write is never observable as a valid
// manifest (spec.md §5 atomicity), matching pkg/state's writeLocked.
func atomicWriteFile(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return ctsterr.WithPath(ctsterr.KindIO, "", "failed to write manifest temp file", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return ctsterr.WithPath(ctsterr.KindIO, "", "failed to rename manifest temp file", path, err)
	}
	return nil
}
