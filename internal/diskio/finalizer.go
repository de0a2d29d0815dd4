package diskio

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/restitch/restitch/internal/integrity"
	"github.com/restitch/restitch/internal/reassembly"
)

const verifyBufferSize = 64 * 1024

var (
	// ErrIncomplete indicates finalize was attempted before every chunk
	// was received.
	ErrIncomplete = errors.New("transfer incomplete")
	// ErrChecksumMismatch indicates the reassembled file does not match
	// the manifest's whole-file digest.
	ErrChecksumMismatch = errors.New("file checksum mismatch")
)

// Finalizer verifies a reassembled partial file against its manifest
// digest and atomically renames it to its final path. Failures leave
// the partial file untouched so the transfer can be repaired and
// finalize retried.
type Finalizer struct {
	writer *FileWriter
	hash   integrity.Algorithm
}

// NewFinalizer creates a finalizer that flushes through writer before
// verifying. The algorithm must match the one the manifest digest was
// produced with.
func NewFinalizer(writer *FileWriter, hash integrity.Algorithm) *Finalizer {
	return &Finalizer{writer: writer, hash: hash}
}

// VerifyAndFinalize implements reassembly.Finalizer.
func (f *Finalizer) VerifyAndFinalize(ctx context.Context, state reassembly.Snapshot, finalPath string) error {
	if !state.Complete() {
		return fmt.Errorf("%w: %d of %d chunks received",
			ErrIncomplete, len(state.Received), len(state.States))
	}

	// Release the cached handle so every committed byte is flushed
	// before the digest pass reads them back.
	if err := f.writer.Close(state.DestPath); err != nil {
		return err
	}

	if state.ExpectedChecksum != "" && f.hash != integrity.AlgNone {
		sum, err := f.digest(ctx, state.DestPath, state.PayloadBytes)
		if err != nil {
			return err
		}
		if !strings.EqualFold(sum, state.ExpectedChecksum) {
			return fmt.Errorf("%w: got %s, want %s", ErrChecksumMismatch, sum, state.ExpectedChecksum)
		}
	}

	if err := os.MkdirAll(filepath.Dir(finalPath), 0755); err != nil {
		return fmt.Errorf("create final directory: %w", err)
	}
	if err := os.Rename(state.DestPath, finalPath); err != nil {
		return fmt.Errorf("promote %s to %s: %w", state.DestPath, finalPath, err)
	}
	return nil
}

// digest streams the first size bytes of path through the algorithm.
func (f *Finalizer) digest(ctx context.Context, path string, size int64) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open for verification: %w", err)
	}
	defer file.Close()

	h := f.hash.New()
	buf := make([]byte, verifyBufferSize)
	r := io.LimitReader(file, size)
	for {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		n, err := r.Read(buf)
		if n > 0 {
			h.Write(buf[:n])
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("read for verification: %w", err)
		}
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

var _ reassembly.Writer = (*FileWriter)(nil)
var _ reassembly.Finalizer = (*Finalizer)(nil)
