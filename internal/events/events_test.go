package events

import (
	"testing"
)

func TestEmitter_FanOutInRegistrationOrder(t *testing.T) {
	e := NewEmitter()

	var order []string
	e.Subscribe(Funcs{ChunkState: func(ev ChunkState) {
		order = append(order, "first")
	}})
	e.Subscribe(Funcs{ChunkState: func(ev ChunkState) {
		order = append(order, "second")
	}})
	e.Subscribe(Funcs{ChunkState: func(ev ChunkState) {
		order = append(order, "third")
	}})

	e.EmitChunkState(ChunkState{TransferID: "t1", Index: 0, State: "requested"})

	want := []string{"first", "second", "third"}
	if len(order) != len(want) {
		t.Fatalf("delivered to %d subscribers, want %d", len(order), len(want))
	}
	for i := range want {
		if order[i] != want[i] {
			t.Errorf("delivery[%d] = %s, want %s", i, order[i], want[i])
		}
	}
}

func TestEmitter_CalledOncePerEvent(t *testing.T) {
	e := NewEmitter()

	chunkCalls := 0
	progressCalls := 0
	e.Subscribe(Funcs{
		ChunkState: func(ev ChunkState) { chunkCalls++ },
		Progress:   func(ev Progress) { progressCalls++ },
	})

	e.EmitChunkState(ChunkState{TransferID: "t1", Index: 3, State: "received"})
	e.EmitProgress(Progress{TransferID: "t1", BytesReceived: 100, TotalBytes: 1000})
	e.EmitProgress(Progress{TransferID: "t1", BytesReceived: 200, TotalBytes: 1000})

	if chunkCalls != 1 {
		t.Errorf("chunkState deliveries = %d, want 1", chunkCalls)
	}
	if progressCalls != 2 {
		t.Errorf("progress deliveries = %d, want 2", progressCalls)
	}
}

func TestEmitter_Unsubscribe(t *testing.T) {
	e := NewEmitter()

	calls := 0
	remove := e.Subscribe(Funcs{Progress: func(ev Progress) { calls++ }})

	e.EmitProgress(Progress{TransferID: "t1"})
	remove()
	e.EmitProgress(Progress{TransferID: "t1"})
	remove() // Idempotent.
	e.EmitProgress(Progress{TransferID: "t1"})

	if calls != 1 {
		t.Errorf("deliveries after unsubscribe = %d, want 1", calls)
	}
}

func TestEmitter_UnsubscribeDoesNotDisturbOthers(t *testing.T) {
	e := NewEmitter()

	var got []string
	removeA := e.Subscribe(Funcs{Progress: func(ev Progress) { got = append(got, "a") }})
	e.Subscribe(Funcs{Progress: func(ev Progress) { got = append(got, "b") }})

	removeA()
	e.EmitProgress(Progress{})

	if len(got) != 1 || got[0] != "b" {
		t.Errorf("deliveries = %v, want [b]", got)
	}
}

func TestEmitter_PayloadFields(t *testing.T) {
	e := NewEmitter()

	var last ChunkState
	e.Subscribe(Funcs{ChunkState: func(ev ChunkState) { last = ev }})

	e.EmitChunkState(ChunkState{TransferID: "xfer-9", Index: 17, State: "corrupted"})

	if last.TransferID != "xfer-9" || last.Index != 17 || last.State != "corrupted" {
		t.Errorf("delivered event = %+v", last)
	}
}
