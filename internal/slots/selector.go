package slots

import "sync/atomic"

// Selector yields the index of the next slot to try.
type Selector interface {
	Next() int
}

// RoundRobin cycles through [0, n). Every call advances the cursor, whether
// or not the caller manages to lock the slot it was handed.
type RoundRobin struct {
	counter atomic.Uint64
	size    uint64
}

// NewRoundRobin returns a selector over n slots. n must be at least 1.
func NewRoundRobin(n int) *RoundRobin {
	if n < 1 {
		panic("slots: round robin needs at least one slot")
	}

	return &RoundRobin{size: uint64(n)}
}

// Next returns the current index and advances the cursor.
func (r *RoundRobin) Next() int {
	idx := r.counter.Add(1) - 1

	return int(idx % r.size)
}
