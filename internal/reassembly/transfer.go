package reassembly

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/restitch/restitch/internal/events"
	"github.com/restitch/restitch/internal/integrity"
	"github.com/restitch/restitch/pkg/manifest"
)

// transfer is the per-transfer state machine. All bookkeeping (queue
// admission, counters, chunk states, event emission) happens under mu;
// the lock is never held across the write collaborator call, which is
// the only suspension point.
type transfer struct {
	mu sync.Mutex

	id      string
	dest    string
	man     manifest.Manifest
	offsets []int64

	states    []ChunkState
	received  map[int]struct{}
	corrupted map[int]struct{}

	bytesReceived int64
	canceled      bool

	sched writeScheduler

	writer  Writer
	hash    integrity.Algorithm
	emitter *events.Emitter
	logger  *slog.Logger
}

func newTransfer(id string, man manifest.Manifest, dest string, limits Limits, writer Writer, hash integrity.Algorithm, emitter *events.Emitter, logger *slog.Logger) *transfer {
	n := len(man.Chunks)
	return &transfer{
		id:        id,
		dest:      dest,
		man:       man,
		offsets:   man.Offsets(),
		states:    make([]ChunkState, n),
		received:  make(map[int]struct{}),
		corrupted: make(map[int]struct{}),
		sched:     newWriteScheduler(limits.MaxConcurrentWrites, limits.MaxQueueLength),
		writer:    writer,
		hash:      hash,
		emitter:   emitter,
		logger:    logger.With(slog.String("transfer_id", id)),
	}
}

// acceptChunk verifies the payload, admits it to the write scheduler and
// blocks until the dispatched write completes. Returns false without an
// error on checksum rejection; backpressure surfaces as ErrBackpressure
// synchronously, before any write is attempted.
func (t *transfer) acceptChunk(ctx context.Context, index int, data []byte) (bool, error) {
	t.mu.Lock()

	if index < 0 || index >= len(t.states) {
		t.mu.Unlock()
		return false, fmt.Errorf("%w: %d (manifest has %d chunks)", ErrInvalidChunkIndex, index, len(t.states))
	}
	if t.canceled {
		t.mu.Unlock()
		return false, ErrTransferCanceled
	}
	if _, dup := t.received[index]; dup {
		// Already durable; nothing to do.
		t.mu.Unlock()
		return true, nil
	}

	if !integrity.Verify(t.hash, data, t.man.Chunks[index].Checksum) {
		t.states[index] = ChunkCorrupted
		t.corrupted[index] = struct{}{}
		t.emitChunkState(index, ChunkCorrupted)
		t.logger.Warn("chunk rejected by integrity check", slog.Int("index", index))
		t.mu.Unlock()
		return false, nil
	}

	t.states[index] = ChunkRequested
	t.emitChunkState(index, ChunkRequested)

	job := &writeJob{
		index:  index,
		offset: t.offsets[index],
		data:   data,
		done:   make(chan error, 1),
	}

	switch t.sched.admit(job) {
	case admitDispatch:
		t.dispatch(job)
	case admitQueue:
		// Waits for a concurrency slot; dispatched by a completion.
	case admitReject:
		// Rolled back to unrequested so the chunk stays retryable once
		// the caller has applied flow control.
		t.states[index] = ChunkUnrequested
		t.emitChunkState(index, ChunkUnrequested)
		t.mu.Unlock()
		return false, fmt.Errorf("%w: chunk %d", ErrBackpressure, index)
	}
	t.mu.Unlock()

	select {
	case err := <-job.done:
		if err != nil {
			return false, fmt.Errorf("chunk %d write: %w", index, err)
		}
		return true, nil
	case <-ctx.Done():
		// The write itself is not abandoned; only the wait is.
		return false, ctx.Err()
	}
}

// dispatch hands a job to the write collaborator on its own goroutine.
// Called with t.mu held; the write runs outside the lock.
func (t *transfer) dispatch(job *writeJob) {
	go func() {
		err := t.writer.WriteChunk(context.Background(), t.dest, job.offset, job.data)
		t.onWriteDone(job, err)
	}()
}

// onWriteDone is the completion re-entry point for dispatched writes.
func (t *transfer) onWriteDone(job *writeJob, err error) {
	t.mu.Lock()

	if t.canceled {
		// Transfer abandoned while the write was in flight; drop the
		// outcome without touching state.
	} else if err != nil {
		// True I/O failure, distinct from checksum rejection: the chunk
		// reverts to unrequested and remains eligible for a retry.
		t.states[job.index] = ChunkUnrequested
		t.emitChunkState(job.index, ChunkUnrequested)
		t.logger.Error("chunk write failed",
			slog.Int("index", job.index),
			slog.Int64("offset", job.offset),
			slog.String("error", err.Error()))
	} else if _, dup := t.received[job.index]; !dup {
		t.states[job.index] = ChunkReceived
		t.received[job.index] = struct{}{}
		t.bytesReceived += int64(len(job.data))
		t.emitChunkState(job.index, ChunkReceived)
		t.emitProgress()
	}

	if next := t.sched.complete(); next != nil {
		t.dispatch(next)
	}
	t.mu.Unlock()

	job.done <- err
}

// markReceived records a chunk as already durable on disk without going
// through the verifier or the write scheduler (resume path).
func (t *transfer) markReceived(index int) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if index < 0 || index >= len(t.states) {
		return fmt.Errorf("%w: %d (manifest has %d chunks)", ErrInvalidChunkIndex, index, len(t.states))
	}
	if _, dup := t.received[index]; dup {
		return nil
	}
	t.states[index] = ChunkReceived
	t.received[index] = struct{}{}
	t.bytesReceived += t.man.Chunks[index].EncryptedSize
	t.emitChunkState(index, ChunkReceived)
	return nil
}

// cancel abandons the transfer: queued jobs are drained and their
// waiters released with ErrTransferCanceled. In-flight writes are left
// to finish; their completions are ignored.
func (t *transfer) cancel() {
	t.mu.Lock()
	t.canceled = true
	abandoned := t.sched.drain()
	for _, job := range abandoned {
		t.states[job.index] = ChunkUnrequested
	}
	t.mu.Unlock()

	for _, job := range abandoned {
		job.done <- ErrTransferCanceled
	}
}

// snapshot returns a read-only copy of the transfer state.
func (t *transfer) snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	states := make([]ChunkState, len(t.states))
	copy(states, t.states)

	return Snapshot{
		TransferID:          t.id,
		DestPath:            t.dest,
		FileSize:            t.man.FileSize,
		PayloadBytes:        t.man.PayloadBytes(),
		ExpectedChecksum:    t.man.Checksum,
		States:              states,
		Received:            indexSet(t.received),
		Corrupted:           indexSet(t.corrupted),
		BytesReceived:       t.bytesReceived,
		WriteInFlight:       t.sched.inFlight,
		WriteQueueLength:    t.sched.queueLen(),
		MaxConcurrentWrites: t.sched.maxInFlight,
		MaxQueueLength:      t.sched.maxQueue,
	}
}

func (t *transfer) emitChunkState(index int, state ChunkState) {
	t.emitter.EmitChunkState(events.ChunkState{
		TransferID: t.id,
		Index:      index,
		State:      state.String(),
	})
}

func (t *transfer) emitProgress() {
	t.emitter.EmitProgress(events.Progress{
		TransferID:    t.id,
		BytesReceived: t.bytesReceived,
		TotalBytes:    t.man.FileSize,
	})
}

func indexSet(set map[int]struct{}) []int {
	out := make([]int, 0, len(set))
	for i := range set {
		out = append(out, i)
	}
	sort.Ints(out)
	return out
}
