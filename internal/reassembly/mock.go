package reassembly

import (
	"context"
	"fmt"
	"sync"
)

// MockWriter is an in-memory Writer implementation for testing. It
// records every committed chunk into a per-destination byte buffer and
// tracks the high-water mark of concurrent writes. An optional gate lets
// tests hold writes in flight until explicitly released.
type MockWriter struct {
	mu    sync.Mutex
	files map[string][]byte
	gate  chan struct{}
	err   error
	calls int

	concurrent    int
	maxConcurrent int
}

// NewMockWriter creates a writer with no gate: writes complete
// immediately.
func NewMockWriter() *MockWriter {
	return &MockWriter{files: make(map[string][]byte)}
}

// Gate makes subsequent writes block until ReleaseOne is called once per
// write.
func (w *MockWriter) Gate() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.gate = make(chan struct{})
}

// ReleaseOne lets exactly one gated write proceed.
func (w *MockWriter) ReleaseOne() {
	w.mu.Lock()
	gate := w.gate
	w.mu.Unlock()
	if gate != nil {
		gate <- struct{}{}
	}
}

// FailWith makes subsequent writes return err (nil restores success).
func (w *MockWriter) FailWith(err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.err = err
}

// WriteChunk implements Writer.
func (w *MockWriter) WriteChunk(ctx context.Context, destPath string, offset int64, data []byte) error {
	w.mu.Lock()
	w.calls++
	w.concurrent++
	if w.concurrent > w.maxConcurrent {
		w.maxConcurrent = w.concurrent
	}
	gate := w.gate
	failErr := w.err
	w.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			w.done()
			return ctx.Err()
		}
	}

	if failErr != nil {
		w.done()
		return failErr
	}

	w.mu.Lock()
	buf := w.files[destPath]
	end := offset + int64(len(data))
	if int64(len(buf)) < end {
		grown := make([]byte, end)
		copy(grown, buf)
		buf = grown
	}
	copy(buf[offset:end], data)
	w.files[destPath] = buf
	w.mu.Unlock()

	w.done()
	return nil
}

func (w *MockWriter) done() {
	w.mu.Lock()
	w.concurrent--
	w.mu.Unlock()
}

// Bytes returns the committed content for a destination path.
func (w *MockWriter) Bytes(destPath string) []byte {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]byte, len(w.files[destPath]))
	copy(out, w.files[destPath])
	return out
}

// Calls returns the number of WriteChunk invocations.
func (w *MockWriter) Calls() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.calls
}

// MaxConcurrent returns the highest number of simultaneous writes seen.
func (w *MockWriter) MaxConcurrent() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.maxConcurrent
}

// InFlight returns the number of writes currently inside WriteChunk.
func (w *MockWriter) InFlight() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.concurrent
}

// MockFinalizer is a Finalizer implementation for testing. By default it
// requires the snapshot to be complete, mirroring the production
// behavior.
type MockFinalizer struct {
	mu        sync.Mutex
	err       error
	finalized []string
	last      Snapshot
}

// NewMockFinalizer creates a finalizer that succeeds on complete
// transfers.
func NewMockFinalizer() *MockFinalizer {
	return &MockFinalizer{}
}

// FailWith makes subsequent finalizations return err (nil restores
// success).
func (f *MockFinalizer) FailWith(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

// VerifyAndFinalize implements Finalizer.
func (f *MockFinalizer) VerifyAndFinalize(ctx context.Context, state Snapshot, finalPath string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.last = state
	if f.err != nil {
		return f.err
	}
	if !state.Complete() {
		return fmt.Errorf("transfer %s incomplete: %d of %d chunks received",
			state.TransferID, len(state.Received), len(state.States))
	}
	f.finalized = append(f.finalized, finalPath)
	return nil
}

// Finalized returns the final paths successfully committed.
func (f *MockFinalizer) Finalized() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.finalized))
	copy(out, f.finalized)
	return out
}

// LastState returns the snapshot from the most recent call.
func (f *MockFinalizer) LastState() Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.last
}

var _ Writer = (*MockWriter)(nil)
var _ Finalizer = (*MockFinalizer)(nil)
