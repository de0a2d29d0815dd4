package resume

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"
	"sync"
)

const (
	journalMagic   = "RSJ1"
	journalVersion = uint16(1)
	journalSuffix  = ".restitch"
)

var crc32cTable = crc32.MakeTable(crc32.Castagnoli)

var (
	// ErrJournalCorrupt indicates the journal failed its structural or
	// checksum validation and must be discarded.
	ErrJournalCorrupt = errors.New("resume journal corrupt")
	// ErrJournalMismatch indicates the journal on disk belongs to a
	// different transfer or manifest shape.
	ErrJournalMismatch = errors.New("resume journal mismatch")
)

// Journal tracks which chunks of a transfer are durably on disk. It is
// keyed by transfer id and chunk count; a journal whose key does not
// match the transfer being resumed is discarded rather than merged.
type Journal struct {
	mu sync.Mutex

	path       string
	transferID string
	fileSize   int64
	bitmap     *Bitmap
	dirty      bool
}

// JournalPath returns the journal location for a partial output file.
func JournalPath(destPath string) string {
	return destPath + journalSuffix
}

// LoadOrCreate loads the journal at path when it matches the transfer,
// otherwise starts a fresh one. A corrupt or mismatched journal on disk
// is removed; resuming from bad state is worse than refetching.
func LoadOrCreate(path, transferID string, fileSize int64, chunkCount int) (*Journal, error) {
	if chunkCount <= 0 {
		return nil, fmt.Errorf("chunk count must be > 0")
	}
	j, err := Load(path)
	if err == nil {
		if j.transferID == transferID && j.fileSize == fileSize && j.bitmap.LenBits() == chunkCount {
			return j, nil
		}
		err = ErrJournalMismatch
	}
	if !os.IsNotExist(err) {
		_ = os.Remove(path)
	}
	return &Journal{
		path:       path,
		transferID: transferID,
		fileSize:   fileSize,
		bitmap:     NewBitmap(chunkCount),
		dirty:      true,
	}, nil
}

// Load reads and validates a journal from disk.
func Load(path string) (*Journal, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if len(data) < len(journalMagic)+2+4 {
		return nil, fmt.Errorf("%w: truncated", ErrJournalCorrupt)
	}
	if string(data[:len(journalMagic)]) != journalMagic {
		return nil, fmt.Errorf("%w: bad magic", ErrJournalCorrupt)
	}

	body, trailer := data[:len(data)-4], data[len(data)-4:]
	if crc32.Checksum(body, crc32cTable) != binary.BigEndian.Uint32(trailer) {
		return nil, fmt.Errorf("%w: checksum failed", ErrJournalCorrupt)
	}

	r := bytes.NewReader(body[len(journalMagic):])
	var version uint16
	if err := binary.Read(r, binary.BigEndian, &version); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrJournalCorrupt, err)
	}
	if version != journalVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrJournalCorrupt, version)
	}
	var fileSize uint64
	if err := binary.Read(r, binary.BigEndian, &fileSize); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrJournalCorrupt, err)
	}
	var chunkCount uint32
	if err := binary.Read(r, binary.BigEndian, &chunkCount); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrJournalCorrupt, err)
	}
	var idLen uint16
	if err := binary.Read(r, binary.BigEndian, &idLen); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrJournalCorrupt, err)
	}
	id := make([]byte, idLen)
	if _, err := io.ReadFull(r, id); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrJournalCorrupt, err)
	}
	bitmapBytes := make([]byte, (int(chunkCount)+7)/8)
	if _, err := io.ReadFull(r, bitmapBytes); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrJournalCorrupt, err)
	}
	bm, err := BitmapFromBytes(bitmapBytes, int(chunkCount))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrJournalCorrupt, err)
	}

	return &Journal{
		path:       path,
		transferID: string(id),
		fileSize:   int64(fileSize),
		bitmap:     bm,
	}, nil
}

// TransferID returns the transfer this journal belongs to.
func (j *Journal) TransferID() string {
	return j.transferID
}

// MarkCompleted records chunk index as durably written.
func (j *Journal) MarkCompleted(index int) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.bitmap.Get(index) {
		return
	}
	j.bitmap.Set(index)
	j.dirty = true
}

// Completed returns the recorded chunk indices in ascending order.
func (j *Journal) Completed() []int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.bitmap.Indices()
}

// Remaining returns how many chunks are still missing.
func (j *Journal) Remaining() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.bitmap.LenBits() - j.bitmap.CountSet()
}

// Flush writes the journal to disk if it changed since the last flush.
// The write goes through a temp file and a rename so a crash mid-flush
// leaves the previous journal intact.
func (j *Journal) Flush() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if !j.dirty {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(j.path), 0755); err != nil {
		return fmt.Errorf("create journal directory: %w", err)
	}

	buf := new(bytes.Buffer)
	buf.WriteString(journalMagic)
	binary.Write(buf, binary.BigEndian, journalVersion)
	binary.Write(buf, binary.BigEndian, uint64(j.fileSize))
	binary.Write(buf, binary.BigEndian, uint32(j.bitmap.LenBits()))
	binary.Write(buf, binary.BigEndian, uint16(len(j.transferID)))
	buf.WriteString(j.transferID)
	buf.Write(j.bitmap.Marshal())
	binary.Write(buf, binary.BigEndian, crc32.Checksum(buf.Bytes(), crc32cTable))

	temp := j.path + ".tmp"
	if err := os.WriteFile(temp, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("write journal: %w", err)
	}
	if err := os.Rename(temp, j.path); err != nil {
		return fmt.Errorf("commit journal: %w", err)
	}
	j.dirty = false
	return nil
}

// Remove deletes the journal from disk, for after a successful finalize.
func (j *Journal) Remove() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if err := os.Remove(j.path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
