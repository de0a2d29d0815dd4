// Package integrity verifies chunk payloads against their expected
// digests before they are committed to disk. Verification is pure: no
// I/O, no state.
package integrity

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"hash/crc32"
	"strings"
)

// Algorithm selects the digest used for content addressing.
type Algorithm byte

const (
	AlgNone   Algorithm = 0
	AlgCRC32C Algorithm = 1
	AlgSHA256 Algorithm = 2
)

var crc32cTable = crc32.MakeTable(crc32.Castagnoli)

// ParseAlgorithm maps a config-level name to an Algorithm.
// The empty string selects the system-wide default, CRC32-C.
func ParseAlgorithm(name string) (Algorithm, error) {
	switch strings.ToLower(name) {
	case "", "crc32c":
		return AlgCRC32C, nil
	case "sha256":
		return AlgSHA256, nil
	case "none":
		return AlgNone, nil
	default:
		return 0, fmt.Errorf("unknown hash algorithm %q", name)
	}
}

// String returns the config-level name of the algorithm.
func (a Algorithm) String() string {
	switch a {
	case AlgCRC32C:
		return "crc32c"
	case AlgSHA256:
		return "sha256"
	case AlgNone:
		return "none"
	default:
		return fmt.Sprintf("alg(%d)", byte(a))
	}
}

// Sum returns the lowercase hex digest of data under the algorithm.
// AlgNone always returns the empty string.
func (a Algorithm) Sum(data []byte) string {
	switch a {
	case AlgCRC32C:
		var buf [4]byte
		sum := crc32.Checksum(data, crc32cTable)
		buf[0] = byte(sum >> 24)
		buf[1] = byte(sum >> 16)
		buf[2] = byte(sum >> 8)
		buf[3] = byte(sum)
		return hex.EncodeToString(buf[:])
	case AlgSHA256:
		sum := sha256.Sum256(data)
		return hex.EncodeToString(sum[:])
	default:
		return ""
	}
}

// New returns a streaming hasher for the algorithm, or nil for AlgNone.
// Sum(nil) on the returned hash encodes the same bytes Sum hex-encodes.
func (a Algorithm) New() hash.Hash {
	switch a {
	case AlgCRC32C:
		return crc32.New(crc32cTable)
	case AlgSHA256:
		return sha256.New()
	default:
		return nil
	}
}

// Verify reports whether data matches the expected hex digest under the
// algorithm. An empty expected digest accepts unconditionally: chunks
// without a checksum are trusted by construction. Comparison is
// case-insensitive so upstream manifests may carry either hex casing.
func Verify(a Algorithm, data []byte, expected string) bool {
	if expected == "" {
		return true
	}
	if a == AlgNone {
		return true
	}
	return strings.EqualFold(a.Sum(data), expected)
}
