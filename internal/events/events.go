// Package events provides the in-process publish mechanism used to
// broadcast chunk-state and progress transitions to subscribers (UI,
// logging, metrics). Delivery is synchronous, in registration order, and
// no event history is kept.
package events

import "sync"

// ChunkState announces a per-chunk state transition.
type ChunkState struct {
	TransferID string
	Index      int
	State      string
}

// Progress announces cumulative received bytes after a successful write.
type Progress struct {
	TransferID    string
	BytesReceived int64
	TotalBytes    int64
}

// Subscriber receives events. Callbacks run synchronously on the
// emitting goroutine and must not call back into the reassembly manager.
type Subscriber interface {
	OnChunkState(ev ChunkState)
	OnProgress(ev Progress)
}

// Funcs adapts plain functions to the Subscriber interface. Nil fields
// ignore that event kind.
type Funcs struct {
	ChunkState func(ev ChunkState)
	Progress   func(ev Progress)
}

func (f Funcs) OnChunkState(ev ChunkState) {
	if f.ChunkState != nil {
		f.ChunkState(ev)
	}
}

func (f Funcs) OnProgress(ev Progress) {
	if f.Progress != nil {
		f.Progress(ev)
	}
}

type subscription struct {
	id  uint64
	sub Subscriber
}

// Emitter fans events out to an ordered list of subscribers. It is safe
// for concurrent use.
type Emitter struct {
	mu     sync.Mutex
	nextID uint64
	subs   []subscription
}

// NewEmitter creates an emitter with no subscribers.
func NewEmitter() *Emitter {
	return &Emitter{}
}

// Subscribe registers a subscriber and returns a remove function.
// Subscribers are called in registration order; removing is idempotent.
func (e *Emitter) Subscribe(s Subscriber) (remove func()) {
	e.mu.Lock()
	id := e.nextID
	e.nextID++
	e.subs = append(e.subs, subscription{id: id, sub: s})
	e.mu.Unlock()

	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		for i, entry := range e.subs {
			if entry.id == id {
				e.subs = append(e.subs[:i], e.subs[i+1:]...)
				return
			}
		}
	}
}

// EmitChunkState delivers a chunk-state event to all subscribers.
func (e *Emitter) EmitChunkState(ev ChunkState) {
	for _, s := range e.snapshot() {
		s.OnChunkState(ev)
	}
}

// EmitProgress delivers a progress event to all subscribers.
func (e *Emitter) EmitProgress(ev Progress) {
	for _, s := range e.snapshot() {
		s.OnProgress(ev)
	}
}

// snapshot copies the subscriber list so delivery happens outside the
// emitter lock. A subscriber removed during delivery of an event may
// still receive that event.
func (e *Emitter) snapshot() []Subscriber {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Subscriber, len(e.subs))
	for i, entry := range e.subs {
		out[i] = entry.sub
	}
	return out
}
