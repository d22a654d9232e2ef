// Package sha256 provides SHA-256 digests for cache file names and archive events.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
)

// Hasher implements lookup.Hasher using SHA-256.
type Hasher struct{}

// New returns a SHA-256 hasher.
func New() *Hasher {
	return &Hasher{}
}

// Hash returns the lowercase hex digest of an archive body.
func (h *Hasher) Hash(data []byte) (string, error) {
	return Sum(data), nil
}

// Sum returns the lowercase hex digest of data.
func Sum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// EntryName maps a cache key (a URL with its day suffix) to a file name that
// is safe on every filesystem and identical for identical keys.
func EntryName(key string) string {
	return Sum([]byte(key))
}
