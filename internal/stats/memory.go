package stats

import (
	"context"
	"maps"
	"sync"
)

// Counters tallies outcomes.
type Counters struct {
	Acquired int64 `json:"acquired"`
	Rejected int64 `json:"rejected"`
	Released int64 `json:"released"`
	Failed   int64 `json:"failed"`
}

func (c *Counters) add(outcome Outcome) {
	switch outcome {
	case OutcomeAcquired:
		c.Acquired++
	case OutcomeRejected:
		c.Rejected++
	case OutcomeReleased:
		c.Released++
	case OutcomeFailed:
		c.Failed++
	}
}

// Snapshot is a copy of the in-memory counters.
type Snapshot struct {
	Total   Counters            `json:"total"`
	BySlot  map[string]Counters `json:"bySlot"`
	ByRoute map[string]Counters `json:"byRoute"`
}

// MemoryRecorder keeps counters in process. It never expires anything.
type MemoryRecorder struct {
	mu      sync.Mutex
	total   Counters
	bySlot  map[string]Counters
	byRoute map[string]Counters
}

// NewMemoryRecorder returns an empty recorder.
func NewMemoryRecorder() *MemoryRecorder {
	return &MemoryRecorder{
		bySlot:  make(map[string]Counters),
		byRoute: make(map[string]Counters),
	}
}

// Record implements Recorder.
func (m *MemoryRecorder) Record(_ context.Context, ev Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.total.add(ev.Outcome)

	if ev.Slot != "" {
		counters := m.bySlot[ev.Slot]
		counters.add(ev.Outcome)
		m.bySlot[ev.Slot] = counters
	}

	if ev.Route != "" {
		counters := m.byRoute[ev.Route]
		counters.add(ev.Outcome)
		m.byRoute[ev.Route] = counters
	}

	return nil
}

// Snapshot returns a copy of the current counters.
func (m *MemoryRecorder) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	return Snapshot{
		Total:   m.total,
		BySlot:  maps.Clone(m.bySlot),
		ByRoute: maps.Clone(m.byRoute),
	}
}
