// Package hash provides the content hash type shared by layers and
// images (spec.md §3 "Content hash", invariants 1-2). It wraps
// github.com/opencontainers/go-digest so the on-disk and wire form is
// the OCI-standard "sha256:<64hex>" string containust's own state-index
// schema (spec.md §6) already commits to.
package hash

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"

	digest "github.com/opencontainers/go-digest"
)

// ContentHash is a validated SHA-256 content digest.
type ContentHash struct {
	d digest.Digest
}

// Zero reports whether h has never been assigned a valid digest.
func (h ContentHash) Zero() bool { return h.d == "" }

// String returns the canonical "sha256:<64hex>" form.
func (h ContentHash) String() string { return string(h.d) }

// Hex returns the bare 64 lowercase hex characters, without the
// "sha256:" scheme prefix.
func (h ContentHash) Hex() string { return h.d.Encoded() }

// Equal reports byte-equality of two content hashes, per spec.md §3
// ("equality is byte-equal").
func (h ContentHash) Equal(o ContentHash) bool { return h.d == o.d }

// Parse validates s as a "sha256:<64hex>" digest string. This is the
// only public factory that can construct a ContentHash from an
// arbitrary string, matching spec.md §3's "constructed only via
// validating factory".
func Parse(s string) (ContentHash, error) {
	d, err := digest.Parse(s)
	if err != nil {
		return ContentHash{}, fmt.Errorf("invalid content hash %q: %w", s, err)
	}
	if d.Algorithm() != digest.SHA256 {
		return ContentHash{}, fmt.Errorf("unsupported digest algorithm in %q: want sha256", s)
	}
	return ContentHash{d: d}, nil
}

// MarshalText encodes h as its "sha256:<64hex>" string form.
func (h ContentHash) MarshalText() ([]byte, error) { return []byte(h.d), nil }

// UnmarshalText decodes a "sha256:<64hex>" string through Parse; an
// empty string decodes to the zero hash.
func (h *ContentHash) UnmarshalText(b []byte) error {
	if len(b) == 0 {
		*h = ContentHash{}
		return nil
	}
	parsed, err := Parse(string(b))
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}

// FromHex validates a bare 64-character lowercase hex string and returns
// its "sha256:"-prefixed ContentHash.
func FromHex(hexStr string) (ContentHash, error) {
	if len(hexStr) != 64 {
		return ContentHash{}, fmt.Errorf("invalid content hash: want 64 hex characters, got %d", len(hexStr))
	}
	if _, err := hex.DecodeString(hexStr); err != nil {
		return ContentHash{}, fmt.Errorf("invalid content hash: not hex: %w", err)
	}
	return Parse("sha256:" + hexStr)
}

// Bytes computes the content hash of an in-memory byte slice.
func Bytes(b []byte) ContentHash {
	sum := sha256.Sum256(b)
	return ContentHash{d: digest.NewDigestFromBytes(digest.SHA256, sum[:])}
}

// Reader streams r through SHA-256 and returns the resulting hash. Used
// to hash archive files and remote fetches without buffering the whole
// payload in memory (spec.md §4.3).
func Reader(r io.Reader) (ContentHash, error) {
	verifier := digest.SHA256.Digester()
	if _, err := io.Copy(verifier.Hash(), r); err != nil {
		return ContentHash{}, err
	}
	return ContentHash{d: verifier.Digest()}, nil
}

// Verify recomputes the hash of b and compares it against want, per
// spec.md invariant 1 ("hash(bytes(L)) = id(L)").
func Verify(want ContentHash, b []byte) error {
	got := Bytes(b)
	if !got.Equal(want) {
		return fmt.Errorf("content hash mismatch: expected %s, got %s", want, got)
	}
	return nil
}

// OfHashes computes the hash over an ordered list of hashes, used for
// image identity (spec.md invariant 2: "hash(layer-hashes(I)) = id(I)").
func OfHashes(hs []ContentHash) ContentHash {
	var buf bytes.Buffer
	for _, h := range hs {
		buf.WriteString(h.String())
		buf.WriteByte('\n')
	}
	return Bytes(buf.Bytes())
}
