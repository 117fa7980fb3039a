// Package stats records slot admission outcomes.
//
// Recording is best effort: callers log a Record error and carry on, the
// admission decision itself never depends on it.
package stats

import (
	"context"
	"errors"
	"time"
)

// Outcome is what happened to one admission attempt or lease.
type Outcome string

const (
	// OutcomeAcquired means a slot was leased.
	OutcomeAcquired Outcome = "acquired"
	// OutcomeRejected means every slot was busy.
	OutcomeRejected Outcome = "rejected"
	// OutcomeReleased means a lease was handed back cleanly.
	OutcomeReleased Outcome = "released"
	// OutcomeFailed means the work done under a lease returned an error.
	OutcomeFailed Outcome = "failed"
)

// Event is one admission decision. Slot is empty for rejections.
type Event struct {
	Slot    string
	Outcome Outcome
	Route   string
	At      time.Time
}

// Recorder persists events.
type Recorder interface {
	Record(ctx context.Context, ev Event) error
}

// Fanout sends every event to each recorder and joins their errors.
type Fanout []Recorder

// Record implements Recorder.
func (f Fanout) Record(ctx context.Context, ev Event) error {
	var errs []error

	for _, recorder := range f {
		if recorder == nil {
			continue
		}

		err := recorder.Record(ctx, ev)
		if err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// Discard drops every event.
type Discard struct{}

// Record implements Recorder.
func (Discard) Record(context.Context, Event) error { return nil }
