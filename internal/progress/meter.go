// Package progress turns the engine's progress events into a smoothed
// transfer rate and ETA for display.
package progress

import (
	"fmt"
	"sync"
	"time"

	"github.com/restitch/restitch/internal/events"
)

// Stats is a point-in-time snapshot of transfer progress.
type Stats struct {
	BytesDone int64
	Total     int64
	RateBps   float64
	ETA       time.Duration
	Percent   float64
	StartedAt time.Time
}

// Meter derives a smoothed throughput from the cumulative byte counts
// the engine reports. Observations carry absolute totals, not deltas,
// so a missed event never skews the rate.
type Meter struct {
	mu        sync.Mutex
	total     int64
	done      int64
	startedAt time.Time
	lastAt    time.Time
	lastDone  int64
	rateBps   float64
	alpha     float64
	now       func() time.Time
}

// NewMeter returns a meter with a default smoothing factor.
func NewMeter() *Meter {
	return NewMeterWithNow(time.Now)
}

// NewMeterWithNow returns a meter with a custom time source (for tests).
func NewMeterWithNow(now func() time.Time) *Meter {
	if now == nil {
		now = time.Now
	}
	return &Meter{alpha: 0.2, now: now}
}

// Start resets the meter for a transfer of totalBytes.
func (m *Meter) Start(totalBytes int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.total = totalBytes
	m.done = 0
	m.startedAt = m.now()
	m.lastAt = m.startedAt
	m.lastDone = 0
	m.rateBps = 0
}

// Observe records the cumulative number of bytes received so far.
// Stale observations (below the current count) are ignored.
func (m *Meter) Observe(bytesReceived int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if bytesReceived <= m.done {
		return
	}
	now := m.now()
	m.done = bytesReceived

	deltaTime := now.Sub(m.lastAt).Seconds()
	if deltaTime <= 0 {
		return
	}
	inst := float64(m.done-m.lastDone) / deltaTime
	if m.rateBps == 0 {
		m.rateBps = inst
	} else {
		m.rateBps = m.alpha*inst + (1-m.alpha)*m.rateBps
	}
	m.lastAt = now
	m.lastDone = m.done
}

// Attach subscribes the meter to an emitter's progress events for one
// transfer. The returned function detaches it.
func (m *Meter) Attach(e *events.Emitter, transferID string) func() {
	return e.Subscribe(events.Funcs{
		Progress: func(ev events.Progress) {
			if ev.TransferID != transferID {
				return
			}
			m.Observe(ev.BytesReceived)
		},
	})
}

// Snapshot returns the current progress stats.
func (m *Meter) Snapshot() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	stats := Stats{
		BytesDone: m.done,
		Total:     m.total,
		RateBps:   m.rateBps,
		StartedAt: m.startedAt,
	}
	if m.total > 0 {
		stats.Percent = float64(m.done) / float64(m.total) * 100
	}
	if m.rateBps > 0 && m.total > m.done {
		remaining := float64(m.total - m.done)
		stats.ETA = time.Duration(remaining/m.rateBps) * time.Second
	}
	return stats
}

// String renders the stats as a single status line.
func (s Stats) String() string {
	return fmt.Sprintf("%s / %s (%.1f%%) %s/s ETA %s",
		formatBytes(s.BytesDone), formatBytes(s.Total), s.Percent,
		formatBytes(int64(s.RateBps)), s.ETA.Round(time.Second))
}

func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
