package resilience

import (
	"sync"
	"time"
)

const defaultMonitorCapacity = 256

// Record is one classified failure kept for statistics.
type Record struct {
	Kind       Kind
	Message    string
	Retryable  bool
	Suggestion string
	Timestamp  time.Time
}

// Stats aggregates the monitor's ring buffer.
type Stats struct {
	Total          int
	ByKind         map[Kind]int
	ErrorsLastMin  int
	OldestRecorded time.Time
}

// Monitor accumulates classified failures in a bounded ring buffer and
// derives a coarse health signal from the recent error rate. A nil Monitor
// is safe to use; recording becomes a no-op.
type Monitor struct {
	mu       sync.Mutex
	records  []Record
	next     int
	filled   bool
	capacity int
	// maxPerMinute is the errors-per-minute threshold above which the
	// system is reported unhealthy.
	maxPerMinute int
}

// NewMonitor creates a Monitor holding up to capacity records; unhealthy
// when more than maxPerMinute errors arrived in the last minute. Non-positive
// arguments fall back to defaults (256 records, 30/min).
func NewMonitor(capacity, maxPerMinute int) *Monitor {
	if capacity <= 0 {
		capacity = defaultMonitorCapacity
	}
	if maxPerMinute <= 0 {
		maxPerMinute = 30
	}
	return &Monitor{
		records:      make([]Record, capacity),
		capacity:     capacity,
		maxPerMinute: maxPerMinute,
	}
}

// Record stores a classified error. Nil receivers and nil errors are ignored.
func (m *Monitor) Record(e *Error) {
	if m == nil || e == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	ts := e.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	m.records[m.next] = Record{
		Kind:       e.Kind,
		Message:    e.Message,
		Retryable:  e.Retryable,
		Suggestion: e.Suggestion,
		Timestamp:  ts,
	}
	m.next = (m.next + 1) % m.capacity
	if m.next == 0 {
		m.filled = true
	}
}

// snapshot returns the live records, oldest first.
func (m *Monitor) snapshot() []Record {
	n := m.next
	if m.filled {
		out := make([]Record, 0, m.capacity)
		out = append(out, m.records[n:]...)
		out = append(out, m.records[:n]...)
		return out
	}
	out := make([]Record, n)
	copy(out, m.records[:n])
	return out
}

// Stats aggregates the recorded failures by kind.
func (m *Monitor) Stats() Stats {
	if m == nil {
		return Stats{ByKind: map[Kind]int{}}
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	recs := m.snapshot()
	stats := Stats{ByKind: make(map[Kind]int)}
	cutoff := time.Now().Add(-time.Minute)
	for i, r := range recs {
		if i == 0 {
			stats.OldestRecorded = r.Timestamp
		}
		stats.Total++
		stats.ByKind[r.Kind]++
		if r.Timestamp.After(cutoff) {
			stats.ErrorsLastMin++
		}
	}
	return stats
}

// Healthy reports whether the recent error rate is under the configured
// errors-per-minute threshold.
func (m *Monitor) Healthy() bool {
	if m == nil {
		return true
	}
	return m.Stats().ErrorsLastMin <= m.maxPerMinute
}
