// Package checksum computes content digests for ingested files.
package checksum

import (
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"sort"
)

// Algorithm names a supported digest.
type Algorithm string

const (
	MD5    Algorithm = "md5"
	SHA1   Algorithm = "sha1"
	SHA256 Algorithm = "sha256"
	SHA512 Algorithm = "sha512"
)

// Defaults are the algorithms computed when none are configured.
var Defaults = []Algorithm{MD5, SHA256}

func newHash(alg Algorithm) (hash.Hash, error) {
	switch alg {
	case MD5:
		return md5.New(), nil
	case SHA1:
		return sha1.New(), nil
	case SHA256:
		return sha256.New(), nil
	case SHA512:
		return sha512.New(), nil
	default:
		return nil, fmt.Errorf("checksum: unsupported algorithm %q", alg)
	}
}

// Valid reports whether alg is supported.
func Valid(alg Algorithm) bool {
	_, err := newHash(alg)
	return err == nil
}

// Sum returns the hex-encoded SHA-256 digest of data.
func Sum(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// Set is a streaming writer that feeds every configured digest at once.
type Set struct {
	algs   []Algorithm
	hashes []hash.Hash
	w      io.Writer
}

// NewSet prepares digests for algs. An empty list means Defaults.
func NewSet(algs ...Algorithm) (*Set, error) {
	if len(algs) == 0 {
		algs = Defaults
	}
	s := &Set{algs: algs}
	writers := make([]io.Writer, 0, len(algs))
	for _, alg := range algs {
		h, err := newHash(alg)
		if err != nil {
			return nil, err
		}
		s.hashes = append(s.hashes, h)
		writers = append(writers, h)
	}
	s.w = io.MultiWriter(writers...)
	return s, nil
}

func (s *Set) Write(p []byte) (int, error) { return s.w.Write(p) }

// Sums returns the hex digests keyed by algorithm.
func (s *Set) Sums() map[Algorithm]string {
	out := make(map[Algorithm]string, len(s.algs))
	for i, alg := range s.algs {
		out[alg] = hex.EncodeToString(s.hashes[i].Sum(nil))
	}
	return out
}

// Compute streams r through every algorithm in algs.
func Compute(r io.Reader, algs ...Algorithm) (map[Algorithm]string, error) {
	s, err := NewSet(algs...)
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(s, r); err != nil {
		return nil, fmt.Errorf("checksum: read: %w", err)
	}
	return s.Sums(), nil
}

// Sorted returns the algorithms present in sums in a stable order.
func Sorted(sums map[Algorithm]string) []Algorithm {
	out := make([]Algorithm, 0, len(sums))
	for alg := range sums {
		out = append(out, alg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
