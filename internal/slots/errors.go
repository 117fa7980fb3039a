// Package slots implements admission control over a fixed pool of
// non-shareable resources.
//
// A Registry holds the slots, a Selector picks which slot to try next and a
// Scheduler combines both into a non-blocking TryAcquire. A successful
// acquisition yields a Lease that must be released exactly once; WithSlot
// wraps acquire and release so that release happens on every exit path.
package slots

import "errors"

var (
	// ErrUnavailable is returned by WithSlot when every slot is held.
	ErrUnavailable = errors.New("no slot available")
	// ErrUnknownSlot indicates a lookup for a name that is not registered.
	ErrUnknownSlot = errors.New("unknown slot")
	// ErrDoubleRelease indicates that a lease was released more than once.
	ErrDoubleRelease = errors.New("slot lease released twice")
	// ErrNotHeld indicates a release for a lease that never held its slot.
	ErrNotHeld = errors.New("slot lease does not hold the slot")
	// ErrEmptyRegistry indicates a registry built without any slot names.
	ErrEmptyRegistry = errors.New("registry requires at least one slot")
	// ErrDuplicateSlot indicates the same slot name was given twice.
	ErrDuplicateSlot = errors.New("duplicate slot name")
	// ErrEmptySlotName indicates a blank slot name.
	ErrEmptySlotName = errors.New("slot name cannot be empty")
)
