package slots

import (
	"errors"
	"fmt"
	"sync/atomic"
)

// Lease is the proof that its holder owns one slot. It is created only by a
// successful acquisition and must be released exactly once.
type Lease[P any] struct {
	slot     *Slot[P]
	id       uint64
	released atomic.Bool
}

// Slot returns the name of the held slot.
func (l *Lease[P]) Slot() string {
	if l.slot == nil {
		return ""
	}

	return l.slot.name
}

// Index returns the registry index of the held slot.
func (l *Lease[P]) Index() int {
	if l.slot == nil {
		return -1
	}

	return l.slot.index
}

// Payload returns the resource bound to the held slot.
func (l *Lease[P]) Payload() P {
	if l.slot == nil {
		var zero P

		return zero
	}

	return l.slot.payload
}

// Release frees the slot. A second call returns ErrDoubleRelease and a lease
// that never held its slot returns ErrNotHeld; in both cases the slot state is
// left untouched.
func (l *Lease[P]) Release() error {
	if l == nil || l.slot == nil || l.id == 0 {
		return ErrNotHeld
	}

	if l.released.Swap(true) {
		return fmt.Errorf("%w: %q", ErrDoubleRelease, l.slot.name)
	}

	if !l.slot.unlock(l.id) {
		return fmt.Errorf("%w: %q", ErrNotHeld, l.slot.name)
	}

	return nil
}

// SlotState is a point-in-time view of one slot.
type SlotState struct {
	Name  string `json:"name"`
	Index int    `json:"index"`
	Held  bool   `json:"held"`
}

// Option configures a Scheduler.
type Option[P any] func(*Scheduler[P])

// WithSelector replaces the default round-robin selector.
func WithSelector[P any](selector Selector) Option[P] {
	return func(s *Scheduler[P]) {
		s.selector = selector
	}
}

// Scheduler hands out slots from a registry without ever blocking.
type Scheduler[P any] struct {
	registry *Registry[P]
	selector Selector
	leaseIDs atomic.Uint64
}

// NewScheduler returns a scheduler over registry using round-robin selection
// unless another selector is supplied.
func NewScheduler[P any](registry *Registry[P], opts ...Option[P]) *Scheduler[P] {
	scheduler := &Scheduler[P]{
		registry: registry,
		selector: NewRoundRobin(registry.Len()),
	}

	for _, opt := range opts {
		opt(scheduler)
	}

	return scheduler
}

// Registry returns the registry the scheduler draws from.
func (s *Scheduler[P]) Registry() *Registry[P] {
	return s.registry
}

// TryAcquire makes at most one attempt per slot, taking candidates from the
// selector, and returns the first slot it manages to lock. It returns false
// when every attempt found its slot held.
func (s *Scheduler[P]) TryAcquire() (*Lease[P], bool) {
	attempts := s.registry.Len()

	for range attempts {
		slot := s.registry.At(s.selector.Next())
		leaseID := s.leaseIDs.Add(1)

		if slot.tryLock(leaseID) {
			return &Lease[P]{slot: slot, id: leaseID}, true
		}
	}

	return nil, false
}

// WithSlot acquires a slot, runs fn with the lease and releases the slot when
// fn returns or panics. It returns ErrUnavailable without calling fn when no
// slot is free. A failed release is joined to fn's error.
func (s *Scheduler[P]) WithSlot(fn func(lease *Lease[P]) error) (err error) {
	lease, ok := s.TryAcquire()
	if !ok {
		return ErrUnavailable
	}

	defer func() {
		releaseErr := lease.Release()
		if releaseErr != nil {
			err = errors.Join(err, releaseErr)
		}
	}()

	return fn(lease)
}

// Snapshot reports the state of every slot in registry order.
func (s *Scheduler[P]) Snapshot() []SlotState {
	states := make([]SlotState, s.registry.Len())
	for i := range states {
		slot := s.registry.At(i)
		states[i] = SlotState{Name: slot.name, Index: slot.index, Held: slot.Held()}
	}

	return states
}

// Free returns the number of slots not currently held.
func (s *Scheduler[P]) Free() int {
	free := 0

	for i := range s.registry.Len() {
		if !s.registry.At(i).Held() {
			free++
		}
	}

	return free
}
