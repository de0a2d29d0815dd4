package reassembly

// ChunkState tracks where a chunk is in its receive/commit lifecycle.
//
// Normal flow: Unrequested -> Requested (admitted for write) ->
// Received (write durable). A checksum failure moves a chunk to
// Corrupted without touching the write path. Received and Corrupted are
// terminal under normal flow; membership in the received/corrupted index
// sets is monotonic. A chunk whose write was rejected by backpressure or
// failed at the I/O layer reverts to Unrequested so it stays retryable.
type ChunkState uint8

const (
	ChunkUnrequested ChunkState = iota
	ChunkRequested
	ChunkReceived
	ChunkCorrupted
)

// String returns the event-level name of the state.
func (s ChunkState) String() string {
	switch s {
	case ChunkUnrequested:
		return "unrequested"
	case ChunkRequested:
		return "requested"
	case ChunkReceived:
		return "received"
	case ChunkCorrupted:
		return "corrupted"
	default:
		return "unknown"
	}
}
