package slots

import (
	"fmt"
	"strings"
	"sync/atomic"
)

// Slot pairs a guard with the payload it protects.
type Slot[P any] struct {
	name    string
	index   int
	payload P

	// owner is zero while the slot is free and holds the lease id while held.
	owner atomic.Uint64
}

// Name returns the slot identity.
func (s *Slot[P]) Name() string {
	return s.name
}

// Index returns the position of the slot in its registry.
func (s *Slot[P]) Index() int {
	return s.index
}

// Held reports whether some lease currently holds the slot.
func (s *Slot[P]) Held() bool {
	return s.owner.Load() != 0
}

func (s *Slot[P]) tryLock(leaseID uint64) bool {
	return s.owner.CompareAndSwap(0, leaseID)
}

func (s *Slot[P]) unlock(leaseID uint64) bool {
	return s.owner.CompareAndSwap(leaseID, 0)
}

// Registry is the fixed, ordered set of slots. Membership never changes after
// NewRegistry returns, so lookups need no locking.
type Registry[P any] struct {
	slots  []*Slot[P]
	byName map[string]int
}

// NewRegistry builds one free slot per name, in the given order, binding each
// to the payload returned by payloadFor.
func NewRegistry[P any](names []string, payloadFor func(name string) (P, error)) (*Registry[P], error) {
	if len(names) == 0 {
		return nil, ErrEmptyRegistry
	}

	registry := &Registry[P]{
		slots:  make([]*Slot[P], 0, len(names)),
		byName: make(map[string]int, len(names)),
	}

	for index, name := range names {
		if strings.TrimSpace(name) == "" {
			return nil, fmt.Errorf("%w: position %d", ErrEmptySlotName, index)
		}

		if _, exists := registry.byName[name]; exists {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateSlot, name)
		}

		payload, err := payloadFor(name)
		if err != nil {
			return nil, fmt.Errorf("failed to build payload for slot %q: %w", name, err)
		}

		registry.byName[name] = index
		registry.slots = append(registry.slots, &Slot[P]{
			name:    name,
			index:   index,
			payload: payload,
		})
	}

	return registry, nil
}

// Get returns the slot registered under name.
func (r *Registry[P]) Get(name string) (*Slot[P], error) {
	index, ok := r.byName[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownSlot, name)
	}

	return r.slots[index], nil
}

// At returns the slot at index. It panics if index is out of range.
func (r *Registry[P]) At(index int) *Slot[P] {
	return r.slots[index]
}

// Len returns the number of slots.
func (r *Registry[P]) Len() int {
	return len(r.slots)
}

// Names returns the slot names in registry order.
func (r *Registry[P]) Names() []string {
	names := make([]string, len(r.slots))
	for i, slot := range r.slots {
		names[i] = slot.name
	}

	return names
}
