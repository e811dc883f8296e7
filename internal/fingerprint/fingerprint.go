// Package fingerprint computes stable identifiers for cache keys and merge stamps.
package fingerprint

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"github.com/zeebo/blake3"
)

// Sum is a hex encoded BLAKE3 digest.
type Sum string

// String returns the hex form of the digest.
func (s Sum) String() string {
	return string(s)
}

// Short returns the first 16 hex characters, enough for directory names.
func (s Sum) Short() string {
	if len(s) < 16 {
		return string(s)
	}
	return string(s[:16])
}

// Hasher accumulates length-prefixed fields so that ("ab","c") and ("a","bc")
// never collide.
type Hasher struct {
	h *blake3.Hasher
}

// New returns an empty Hasher.
func New() *Hasher {
	return &Hasher{h: blake3.New()}
}

// Field writes one length-prefixed field.
func (h *Hasher) Field(data []byte) *Hasher {
	var n [8]byte
	binary.BigEndian.PutUint64(n[:], uint64(len(data)))
	_, _ = h.h.Write(n[:])
	_, _ = h.h.Write(data)
	return h
}

// String writes one length-prefixed string field.
func (h *Hasher) String(s string) *Hasher {
	return h.Field([]byte(s))
}

// Int writes a signed integer as a fixed 8 byte field.
func (h *Hasher) Int(v int64) *Hasher {
	var n [8]byte
	binary.BigEndian.PutUint64(n[:], uint64(v))
	return h.Field(n[:])
}

// Sum finalizes the digest. The Hasher may keep accumulating afterwards.
func (h *Hasher) Sum() Sum {
	return Sum(hex.EncodeToString(h.h.Sum(nil)))
}

// OfString hashes a single string, used for URL derived cache file names.
func OfString(s string) Sum {
	return New().String(s).Sum()
}

// Files hashes the absolute path and modification time of every file, in the
// order given. Content is not read; touching a file changes the result.
func Files(paths ...string) (Sum, error) {
	h := New()
	h.Int(int64(len(paths)))
	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			return "", fmt.Errorf("resolving %s: %w", p, err)
		}
		info, err := os.Stat(abs)
		if err != nil {
			return "", fmt.Errorf("stat %s: %w", abs, err)
		}
		h.String(abs)
		h.Int(info.ModTime().UnixNano())
	}
	return h.Sum(), nil
}
