// Package digest computes whole-file content digests and compares them
// with the digests recorded in a manifest.
package digest

import (
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"os"
	"strings"

	"github.com/zeebo/blake3"
)

// Algorithm names a supported digest.
type Algorithm string

// Supported algorithms.
const (
	MD5    Algorithm = "md5"
	SHA256 Algorithm = "sha256"
	BLAKE3 Algorithm = "blake3"
)

// Algorithms lists every supported algorithm.
func Algorithms() []Algorithm {
	return []Algorithm{MD5, SHA256, BLAKE3}
}

// ParseAlgorithm validates an algorithm name. Empty selects MD5.
func ParseAlgorithm(s string) (Algorithm, error) {
	switch a := Algorithm(strings.ToLower(strings.TrimSpace(s))); a {
	case "":
		return MD5, nil
	case MD5, SHA256, BLAKE3:
		return a, nil
	default:
		return "", fmt.Errorf("unsupported hash algorithm %q (want md5, sha256 or blake3)", s)
	}
}

// Hasher computes hex digests of complete file contents.
type Hasher struct {
	algo Algorithm
}

// NewHasher returns a Hasher for algo.
func NewHasher(algo Algorithm) (*Hasher, error) {
	a, err := ParseAlgorithm(string(algo))
	if err != nil {
		return nil, err
	}
	return &Hasher{algo: a}, nil
}

// Algorithm returns the configured algorithm.
func (h *Hasher) Algorithm() Algorithm { return h.algo }

func (h *Hasher) newHash() hash.Hash {
	switch h.algo {
	case SHA256:
		return sha256.New()
	case BLAKE3:
		return blake3.New()
	default:
		return md5.New()
	}
}

// Sum returns the lowercase hex digest of r's full content.
func (h *Hasher) Sum(r io.Reader) (string, error) {
	hh := h.newHash()
	if _, err := io.Copy(hh, r); err != nil {
		return "", err
	}
	return hex.EncodeToString(hh.Sum(nil)), nil
}

// File returns the lowercase hex digest of the file at path.
func (h *Hasher) File(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open for hashing: %w", err)
	}
	defer f.Close()

	sum, err := h.Sum(f)
	if err != nil {
		return "", fmt.Errorf("hash %s: %w", path, err)
	}
	return sum, nil
}
