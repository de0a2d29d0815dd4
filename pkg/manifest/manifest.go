package manifest

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
)

var (
	// ErrNoChunks indicates a manifest operation that requires at least one chunk.
	ErrNoChunks = errors.New("manifest has no chunks")
	// ErrNonContiguous indicates chunk indices are not zero-based and contiguous.
	ErrNonContiguous = errors.New("chunk indices not contiguous")
	// ErrInvalidChunkSize indicates a chunk with a non-positive encrypted size.
	ErrInvalidChunkSize = errors.New("chunk size must be positive")
	// ErrNegativeFileSize indicates a manifest with a negative file size.
	ErrNegativeFileSize = errors.New("file size must not be negative")
)

// ChunkDescriptor describes a single chunk of a transfer's encrypted byte
// stream. Descriptors are immutable once a transfer begins.
type ChunkDescriptor struct {
	Index         int    `json:"index"`              // Ordinal position, zero-based, contiguous
	EncryptedSize int64  `json:"encrypted_size"`     // On-disk byte length, > 0
	Checksum      string `json:"checksum,omitempty"` // Optional hex digest of the chunk payload
}

// Manifest is the authoritative, externally supplied description of a
// file's chunk layout. FileSize is informational (used for progress);
// the descriptor sizes are authoritative for offsets.
type Manifest struct {
	FileSize int64             `json:"file_size"`
	Checksum string            `json:"checksum,omitempty"` // Optional whole-file hex digest
	Chunks   []ChunkDescriptor `json:"chunks"`
}

// Offsets computes the byte offset at which each chunk must be written,
// as an exclusive prefix sum of the encrypted sizes: offsets[0] == 0 and
// offsets[i] == offsets[i-1] + chunks[i-1].EncryptedSize.
// A manifest with zero chunks yields an empty slice.
func (m Manifest) Offsets() []int64 {
	offsets := make([]int64, len(m.Chunks))
	var cursor int64
	for i, c := range m.Chunks {
		offsets[i] = cursor
		cursor += c.EncryptedSize
	}
	return offsets
}

// PayloadBytes returns the total byte span that must be written, i.e. the
// sum of all encrypted chunk sizes. This may differ from FileSize when
// the stored form carries padding.
func (m Manifest) PayloadBytes() int64 {
	var total int64
	for _, c := range m.Chunks {
		total += c.EncryptedSize
	}
	return total
}

// Validate checks the structural invariants of the manifest: zero-based
// contiguous chunk indices, positive chunk sizes, non-negative file size.
// A manifest with zero chunks is valid.
func (m Manifest) Validate() error {
	if m.FileSize < 0 {
		return ErrNegativeFileSize
	}
	for i, c := range m.Chunks {
		if c.Index != i {
			return fmt.Errorf("%w: chunk at position %d has index %d", ErrNonContiguous, i, c.Index)
		}
		if c.EncryptedSize <= 0 {
			return fmt.Errorf("%w: chunk %d has size %d", ErrInvalidChunkSize, i, c.EncryptedSize)
		}
	}
	return nil
}

// Load reads and validates a manifest from a JSON file.
func Load(path string) (Manifest, error) {
	var m Manifest
	data, err := os.ReadFile(path)
	if err != nil {
		return m, fmt.Errorf("failed to read manifest: %w", err)
	}
	if err := json.Unmarshal(data, &m); err != nil {
		return m, fmt.Errorf("failed to parse manifest: %w", err)
	}
	if err := m.Validate(); err != nil {
		return m, err
	}
	return m, nil
}

// Save writes the manifest to a JSON file.
func (m Manifest) Save(path string) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal manifest: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}
	return nil
}
