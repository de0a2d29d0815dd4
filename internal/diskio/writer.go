// Package diskio provides the on-disk collaborators of the reassembly
// engine: a positional chunk writer that commits payloads at absolute
// offsets of a partial file, and a finalizer that verifies the whole
// file and atomically promotes it to its final path.
package diskio

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// FileWriter commits chunk payloads with WriteAt so out-of-order
// arrivals land at their manifest offsets without seeking. Open handles
// are cached per destination path and reused across calls; concurrent
// writes to disjoint ranges of the same file are safe.
type FileWriter struct {
	mu      sync.Mutex
	handles map[string]*os.File
}

// NewFileWriter creates a writer with an empty handle cache.
func NewFileWriter() *FileWriter {
	return &FileWriter{handles: make(map[string]*os.File)}
}

// Preallocate creates destPath (and its parent directories) and extends
// it to size so every chunk offset is writable. Existing content is
// preserved, which keeps partially written files resumable.
func (w *FileWriter) Preallocate(destPath string, size int64) error {
	f, err := w.handle(destPath)
	if err != nil {
		return err
	}
	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat %s: %w", destPath, err)
	}
	if info.Size() >= size {
		return nil
	}
	if err := f.Truncate(size); err != nil {
		return fmt.Errorf("preallocate %s to %d bytes: %w", destPath, size, err)
	}
	return nil
}

// WriteChunk commits data at the absolute byte offset of destPath.
func (w *FileWriter) WriteChunk(ctx context.Context, destPath string, offset int64, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f, err := w.handle(destPath)
	if err != nil {
		return err
	}
	if _, err := f.WriteAt(data, offset); err != nil {
		return fmt.Errorf("write %d bytes at %d in %s: %w", len(data), offset, destPath, err)
	}
	return nil
}

// Sync flushes destPath to stable storage. A path with no cached handle
// is a no-op.
func (w *FileWriter) Sync(destPath string) error {
	w.mu.Lock()
	f := w.handles[destPath]
	w.mu.Unlock()
	if f == nil {
		return nil
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("sync %s: %w", destPath, err)
	}
	return nil
}

// Close releases the cached handle for destPath, flushing it first.
func (w *FileWriter) Close(destPath string) error {
	w.mu.Lock()
	f := w.handles[destPath]
	delete(w.handles, destPath)
	w.mu.Unlock()
	if f == nil {
		return nil
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("sync %s: %w", destPath, err)
	}
	return f.Close()
}

// CloseAll releases every cached handle, returning the first error.
func (w *FileWriter) CloseAll() error {
	w.mu.Lock()
	handles := w.handles
	w.handles = make(map[string]*os.File)
	w.mu.Unlock()

	var firstErr error
	for path, f := range handles {
		if err := f.Sync(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("sync %s: %w", path, err)
		}
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close %s: %w", path, err)
		}
	}
	return firstErr
}

func (w *FileWriter) handle(destPath string) (*os.File, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if f, ok := w.handles[destPath]; ok {
		return f, nil
	}
	if err := os.MkdirAll(filepath.Dir(destPath), 0755); err != nil {
		return nil, fmt.Errorf("create output directory: %w", err)
	}
	f, err := os.OpenFile(destPath, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", destPath, err)
	}
	w.handles[destPath] = f
	return f, nil
}
