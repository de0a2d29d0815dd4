package reassembly

// writeJob is one chunk payload admitted for commit to the destination
// resource. done receives the write outcome exactly once.
type writeJob struct {
	index  int
	offset int64
	data   []byte
	done   chan error
}

type admitDecision int

const (
	admitDispatch admitDecision = iota // a concurrency slot is free, dispatch now
	admitQueue                         // admitted to the FIFO queue
	admitReject                        // queued+in-flight at the hard cap
)

// writeScheduler is the per-transfer admission-control bookkeeping for
// writes. It is pure state: the owning transfer serializes access under
// its lock and performs the actual dispatch.
//
// The hard cap is the sum of queued and in-flight jobs: it may never
// exceed maxQueue. This is the sole backpressure mechanism and bounds
// the memory held by buffered-but-unwritten chunk payloads.
type writeScheduler struct {
	maxInFlight int
	maxQueue    int
	inFlight    int
	queue       []*writeJob
}

func newWriteScheduler(maxInFlight, maxQueue int) writeScheduler {
	if maxInFlight < 1 {
		maxInFlight = 1
	}
	if maxQueue < 1 {
		maxQueue = 1
	}
	return writeScheduler{maxInFlight: maxInFlight, maxQueue: maxQueue}
}

// admit decides the fate of a new write job. On admitDispatch the
// in-flight counter is already incremented; the caller must dispatch the
// job. On admitQueue the job has been appended to the FIFO queue. On
// admitReject nothing changed.
func (s *writeScheduler) admit(job *writeJob) admitDecision {
	if s.inFlight < s.maxInFlight {
		s.inFlight++
		return admitDispatch
	}
	if len(s.queue)+s.inFlight < s.maxQueue {
		s.queue = append(s.queue, job)
		return admitQueue
	}
	return admitReject
}

// complete records a finished write and returns the next queued job to
// dispatch, if any. At most one job is dequeued per completion; its
// in-flight slot is already accounted for when non-nil is returned.
func (s *writeScheduler) complete() *writeJob {
	if s.inFlight > 0 {
		s.inFlight--
	}
	if len(s.queue) == 0 || s.inFlight >= s.maxInFlight {
		return nil
	}
	next := s.queue[0]
	s.queue[0] = nil
	s.queue = s.queue[1:]
	s.inFlight++
	return next
}

// drain empties the queue and returns the abandoned jobs so their
// waiters can be released.
func (s *writeScheduler) drain() []*writeJob {
	out := s.queue
	s.queue = nil
	return out
}

func (s *writeScheduler) queueLen() int { return len(s.queue) }
