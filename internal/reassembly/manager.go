// Package reassembly is the receiving-side data-integrity and
// disk-commit engine for chunked file transfers. It tracks per-chunk
// state for each in-flight transfer, verifies chunk payloads before they
// touch disk, schedules positional writes under a strict concurrency and
// queue-depth bound, and finalizes a transfer only once every chunk is
// durably and correctly written.
package reassembly

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"

	"github.com/restitch/restitch/internal/events"
	"github.com/restitch/restitch/internal/integrity"
	"github.com/restitch/restitch/pkg/manifest"
)

var (
	// ErrNoSuchTransfer indicates an operation referenced an unknown transfer id.
	ErrNoSuchTransfer = errors.New("no such transfer")
	// ErrInvalidChunkIndex indicates a chunk index outside the manifest's range.
	ErrInvalidChunkIndex = errors.New("invalid chunk index")
	// ErrBackpressure indicates queued+in-flight writes are at the hard cap.
	ErrBackpressure = errors.New("write queue at capacity")
	// ErrTransferCanceled indicates the transfer was canceled while work was pending.
	ErrTransferCanceled = errors.New("transfer canceled")
)

// Default per-transfer write bounds.
const (
	DefaultMaxConcurrentWrites = 4
	DefaultMaxQueueLength      = 32
)

// Writer commits a chunk payload at an absolute byte offset of the
// destination resource. Implementations must support concurrent calls
// targeting disjoint byte ranges of the same destination.
type Writer interface {
	WriteChunk(ctx context.Context, destPath string, offset int64, data []byte) error
}

// Finalizer performs the cross-chunk integrity check and atomically
// produces the final output at finalPath.
type Finalizer interface {
	VerifyAndFinalize(ctx context.Context, state Snapshot, finalPath string) error
}

// Limits bounds the write pipeline of a single transfer.
type Limits struct {
	MaxConcurrentWrites int
	MaxQueueLength      int
}

func (l Limits) withDefaults() Limits {
	if l.MaxConcurrentWrites <= 0 {
		l.MaxConcurrentWrites = DefaultMaxConcurrentWrites
	}
	if l.MaxQueueLength <= 0 {
		l.MaxQueueLength = DefaultMaxQueueLength
	}
	// The queue cap bounds queued+in-flight, so it can never be smaller
	// than the concurrency bound.
	if l.MaxQueueLength < l.MaxConcurrentWrites {
		l.MaxQueueLength = l.MaxConcurrentWrites
	}
	return l
}

// Snapshot is a read-only copy of a transfer's state, for observability
// and for the finalize collaborator.
type Snapshot struct {
	TransferID       string
	DestPath         string
	FileSize         int64
	PayloadBytes     int64
	ExpectedChecksum string

	States    []ChunkState
	Received  []int // sorted chunk indices durably written
	Corrupted []int // sorted chunk indices rejected by the verifier

	BytesReceived       int64
	WriteInFlight       int
	WriteQueueLength    int
	MaxConcurrentWrites int
	MaxQueueLength      int
}

// Complete reports whether every chunk of the manifest has been received.
func (s Snapshot) Complete() bool {
	return len(s.Received) == len(s.States)
}

// Config assembles a Manager's collaborators.
type Config struct {
	Writer    Writer
	Finalizer Finalizer
	Hash      integrity.Algorithm // digest used for per-chunk verification
	Logger    *slog.Logger        // nil discards engine logging
	Limits    Limits              // defaults applied per field when zero
}

// Manager is the top-level facade: it exclusively owns the mapping from
// transfer id to transfer state. External callers (network layer, UI)
// interact only through its methods.
type Manager struct {
	mu        sync.RWMutex
	transfers map[string]*transfer

	writer    Writer
	finalizer Finalizer
	hash      integrity.Algorithm
	emitter   *events.Emitter
	logger    *slog.Logger
	limits    Limits
}

// NewManager creates a manager with no active transfers.
func NewManager(cfg Config) *Manager {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Manager{
		transfers: make(map[string]*transfer),
		writer:    cfg.Writer,
		finalizer: cfg.Finalizer,
		hash:      cfg.Hash,
		emitter:   events.NewEmitter(),
		logger:    logger,
		limits:    cfg.Limits.withDefaults(),
	}
}

// Events returns the emitter subscribers register with.
func (m *Manager) Events() *events.Emitter {
	return m.emitter
}

// Init creates and registers the state for a new transfer: offsets are
// computed from the manifest, every chunk starts unrequested, and all
// counters are zero. Initializing an existing id replaces the prior
// state outright; there is no merge.
func (m *Manager) Init(transferID string, man manifest.Manifest, destPath string, limits *Limits) error {
	if err := man.Validate(); err != nil {
		return fmt.Errorf("init %s: %w", transferID, err)
	}
	if len(man.Chunks) == 0 {
		return fmt.Errorf("init %s: %w", transferID, manifest.ErrNoChunks)
	}

	lim := m.limits
	if limits != nil {
		lim = limits.withDefaults()
	}
	t := newTransfer(transferID, man, destPath, lim, m.writer, m.hash, m.emitter, m.logger)

	m.mu.Lock()
	prior := m.transfers[transferID]
	m.transfers[transferID] = t
	m.mu.Unlock()

	if prior != nil {
		prior.cancel()
		m.logger.Info("transfer state replaced", slog.String("transfer_id", transferID))
	}
	m.logger.Info("transfer initialized",
		slog.String("transfer_id", transferID),
		slog.Int("chunks", len(man.Chunks)),
		slog.Int64("payload_bytes", man.PayloadBytes()))
	return nil
}

// AcceptChunk verifies and commits one chunk payload. It blocks until
// the chunk's write completes or fails. Returns (false, nil) when the
// payload fails its checksum: the chunk is recorded as corrupted and the
// caller is expected to retry from another source. Backpressure is
// reported synchronously as ErrBackpressure before any write is
// attempted.
func (m *Manager) AcceptChunk(ctx context.Context, transferID string, index int, data []byte) (bool, error) {
	t, err := m.lookup(transferID)
	if err != nil {
		return false, err
	}
	return t.acceptChunk(ctx, index, data)
}

// MarkChunkReceived directly records a chunk as received, bypassing the
// verifier and the write scheduler. It exists for resuming transfers
// whose chunks are already known to be on disk. The usual chunk-state
// event is still emitted for observability consistency.
func (m *Manager) MarkChunkReceived(transferID string, index int) error {
	t, err := m.lookup(transferID)
	if err != nil {
		return err
	}
	return t.markReceived(index)
}

// Finalize runs the verify-and-finalize collaborator. On success the
// transfer is removed from the manager entirely; on failure the state is
// retained unchanged so the caller may retry.
func (m *Manager) Finalize(ctx context.Context, transferID string, finalPath string) error {
	t, err := m.lookup(transferID)
	if err != nil {
		return err
	}

	if err := m.finalizer.VerifyAndFinalize(ctx, t.snapshot(), finalPath); err != nil {
		return fmt.Errorf("finalize %s: %w", transferID, err)
	}

	m.mu.Lock()
	// Guard against the id having been replaced while finalizing.
	if m.transfers[transferID] == t {
		delete(m.transfers, transferID)
	}
	m.mu.Unlock()

	m.logger.Info("transfer finalized",
		slog.String("transfer_id", transferID),
		slog.String("final_path", finalPath))
	return nil
}

// Cancel clears a transfer's state without requiring finalize success.
// Queued writes are abandoned; in-flight writes finish but their
// outcomes are discarded. Reports whether the id existed.
func (m *Manager) Cancel(transferID string) bool {
	m.mu.Lock()
	t, ok := m.transfers[transferID]
	delete(m.transfers, transferID)
	m.mu.Unlock()

	if !ok {
		return false
	}
	t.cancel()
	m.logger.Info("transfer canceled", slog.String("transfer_id", transferID))
	return true
}

// GetState returns a snapshot of the transfer, or ok=false when the id
// was never initialized or was already finalized or canceled.
func (m *Manager) GetState(transferID string) (Snapshot, bool) {
	m.mu.RLock()
	t, ok := m.transfers[transferID]
	m.mu.RUnlock()
	if !ok {
		return Snapshot{}, false
	}
	return t.snapshot(), true
}

// Active returns the ids of all registered transfers, sorted.
func (m *Manager) Active() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.transfers))
	for id := range m.transfers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (m *Manager) lookup(transferID string) (*transfer, error) {
	m.mu.RLock()
	t, ok := m.transfers[transferID]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNoSuchTransfer, transferID)
	}
	return t, nil
}
