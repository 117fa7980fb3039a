package stats

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

const (
	defaultAsyncBuffer  = 1024
	defaultAsyncTimeout = 250 * time.Millisecond
)

// Async hands events to a background goroutine that forwards them to a
// slower recorder. Record never blocks: when the buffer is full the event is
// dropped and counted.
type Async struct {
	next    Recorder
	events  chan Event
	stop    chan struct{}
	done    chan struct{}
	timeout time.Duration
	onError func(error)
	dropped atomic.Int64
	once    sync.Once
}

// AsyncOption configures an Async recorder.
type AsyncOption func(*Async)

// WithAsyncBuffer sets how many events may wait for the background writer.
func WithAsyncBuffer(size int) AsyncOption {
	return func(a *Async) {
		if size > 0 {
			a.events = make(chan Event, size)
		}
	}
}

// WithAsyncTimeout bounds each forwarded Record call.
func WithAsyncTimeout(timeout time.Duration) AsyncOption {
	return func(a *Async) {
		if timeout > 0 {
			a.timeout = timeout
		}
	}
}

// WithAsyncErrorHandler receives the errors returned by the wrapped recorder.
func WithAsyncErrorHandler(onError func(error)) AsyncOption {
	return func(a *Async) { a.onError = onError }
}

// NewAsync starts the background writer for next. Call Close to stop it.
func NewAsync(next Recorder, opts ...AsyncOption) *Async {
	recorder := &Async{
		next:    next,
		events:  make(chan Event, defaultAsyncBuffer),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
		timeout: defaultAsyncTimeout,
	}

	for _, opt := range opts {
		opt(recorder)
	}

	go recorder.run()

	return recorder
}

// Record implements Recorder. It only enqueues.
func (a *Async) Record(_ context.Context, ev Event) error {
	select {
	case a.events <- ev:
	default:
		a.dropped.Add(1)
	}

	return nil
}

// Dropped returns how many events were discarded because the buffer was full.
func (a *Async) Dropped() int64 {
	return a.dropped.Load()
}

// Close stops accepting work, flushes what is buffered and waits for the
// writer until ctx ends.
func (a *Async) Close(ctx context.Context) error {
	a.once.Do(func() { close(a.stop) })

	select {
	case <-a.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (a *Async) run() {
	defer close(a.done)

	for {
		select {
		case ev := <-a.events:
			a.forward(ev)
		case <-a.stop:
			for {
				select {
				case ev := <-a.events:
					a.forward(ev)
				default:
					return
				}
			}
		}
	}
}

func (a *Async) forward(ev Event) {
	ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
	defer cancel()

	err := a.next.Record(ctx, ev)
	if err != nil && a.onError != nil {
		a.onError(err)
	}
}
