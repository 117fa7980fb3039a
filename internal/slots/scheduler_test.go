package slots_test

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/book-expert/tts-gateway/internal/slots"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errWork = errors.New("synthesis failed")

// countingSelector records how many candidates the scheduler asked for.
type countingSelector struct {
	inner slots.Selector
	calls atomic.Int64
}

func (c *countingSelector) Next() int {
	c.calls.Add(1)

	return c.inner.Next()
}

func newScheduler(t *testing.T, names ...string) *slots.Scheduler[string] {
	t.Helper()

	registry, err := slots.NewRegistry(names, namePayload)
	require.NoError(t, err)

	return slots.NewScheduler(registry)
}

func TestScheduler_TwoSlotScenario(t *testing.T) {
	t.Parallel()

	scheduler := newScheduler(t, "A", "B")

	first, ok := scheduler.TryAcquire()
	require.True(t, ok)
	assert.Equal(t, "A", first.Slot())
	assert.Equal(t, "model-A", first.Payload())

	second, ok := scheduler.TryAcquire()
	require.True(t, ok)
	assert.Equal(t, "B", second.Slot())

	third, ok := scheduler.TryAcquire()
	assert.False(t, ok)
	assert.Nil(t, third)

	require.NoError(t, first.Release())

	third, ok = scheduler.TryAcquire()
	require.True(t, ok)
	assert.Equal(t, "A", third.Slot())

	require.NoError(t, second.Release())
	require.NoError(t, third.Release())
	assert.Equal(t, 2, scheduler.Free())
}

func TestScheduler_DoubleReleaseOnSingleSlot(t *testing.T) {
	t.Parallel()

	scheduler := newScheduler(t, "A")

	lease, ok := scheduler.TryAcquire()
	require.True(t, ok)

	require.NoError(t, lease.Release())

	err := lease.Release()
	require.ErrorIs(t, err, slots.ErrDoubleRelease)

	assert.Equal(t, []slots.SlotState{{Name: "A", Index: 0, Held: false}}, scheduler.Snapshot())

	// A stale lease must not free a slot that someone else now holds.
	next, ok := scheduler.TryAcquire()
	require.True(t, ok)
	require.ErrorIs(t, lease.Release(), slots.ErrDoubleRelease)
	assert.True(t, scheduler.Snapshot()[0].Held)
	require.NoError(t, next.Release())
}

func TestLease_ZeroValueIsNotHeld(t *testing.T) {
	t.Parallel()

	var lease slots.Lease[string]

	require.ErrorIs(t, lease.Release(), slots.ErrNotHeld)
	assert.Empty(t, lease.Slot())
	assert.Equal(t, -1, lease.Index())
	assert.Empty(t, lease.Payload())
}

func TestScheduler_ReleaseFreesCapacity(t *testing.T) {
	t.Parallel()

	scheduler := newScheduler(t, "A")

	lease, ok := scheduler.TryAcquire()
	require.True(t, ok)

	_, ok = scheduler.TryAcquire()
	require.False(t, ok)

	require.NoError(t, lease.Release())

	again, ok := scheduler.TryAcquire()
	require.True(t, ok)
	assert.Equal(t, "A", again.Slot())
	require.NoError(t, again.Release())
}

func TestScheduler_RoundRobinVisitsEverySlot(t *testing.T) {
	t.Parallel()

	scheduler := newScheduler(t, "A", "B", "C")

	visited := make([]string, 0, 6)

	for range 6 {
		lease, ok := scheduler.TryAcquire()
		require.True(t, ok)

		visited = append(visited, lease.Slot())
		require.NoError(t, lease.Release())
	}

	assert.Equal(t, []string{"A", "B", "C", "A", "B", "C"}, visited)
}

func TestScheduler_BoundedAttempts(t *testing.T) {
	t.Parallel()

	for _, size := range []int{1, 2, 5} {
		names := make([]string, size)
		for i := range names {
			names[i] = string(rune('A' + i))
		}

		registry, err := slots.NewRegistry(names, namePayload)
		require.NoError(t, err)

		selector := &countingSelector{inner: slots.NewRoundRobin(size)}
		scheduler := slots.NewScheduler(registry, slots.WithSelector[string](selector))

		held := make([]*slots.Lease[string], 0, size)

		for range size {
			lease, ok := scheduler.TryAcquire()
			require.True(t, ok)

			held = append(held, lease)
		}

		selector.calls.Store(0)

		_, ok := scheduler.TryAcquire()
		require.False(t, ok)
		assert.Equal(t, int64(size), selector.calls.Load(), "size %d", size)

		for _, lease := range held {
			require.NoError(t, lease.Release())
		}
	}
}

// More callers than slots race; each winner holds its slot until every caller
// has tried, so exactly len(slots) may win and no slot may be won twice.
func TestScheduler_MutualExclusionUnderContention(t *testing.T) {
	t.Parallel()

	const callers = 32

	scheduler := newScheduler(t, "A", "B", "C")

	var (
		start     = make(chan struct{})
		done      = make(chan struct{})
		attempted sync.WaitGroup
		finished  sync.WaitGroup
		mutex     sync.Mutex
		winners   = make(map[string]int)
		rejected  atomic.Int64
	)

	for range callers {
		attempted.Add(1)
		finished.Add(1)

		go func() {
			defer finished.Done()

			<-start

			lease, ok := scheduler.TryAcquire()
			attempted.Done()

			if !ok {
				rejected.Add(1)

				return
			}

			mutex.Lock()
			winners[lease.Slot()]++
			mutex.Unlock()

			<-done

			assert.NoError(t, lease.Release())
		}()
	}

	close(start)
	attempted.Wait()
	close(done)
	finished.Wait()

	assert.Len(t, winners, 3)

	for name, wins := range winners {
		assert.Equal(t, 1, wins, "slot %s", name)
	}

	assert.Equal(t, int64(callers-3), rejected.Load())
	assert.Equal(t, 3, scheduler.Free())
}

func TestScheduler_WithSlotReleasesOnError(t *testing.T) {
	t.Parallel()

	scheduler := newScheduler(t, "A")

	var seen string

	err := scheduler.WithSlot(func(lease *slots.Lease[string]) error {
		seen = lease.Payload()
		assert.Equal(t, 0, scheduler.Free())

		return errWork
	})

	require.ErrorIs(t, err, errWork)
	assert.Equal(t, "model-A", seen)
	assert.Equal(t, 1, scheduler.Free())
}

func TestScheduler_WithSlotReleasesOnPanic(t *testing.T) {
	t.Parallel()

	scheduler := newScheduler(t, "A")

	assert.Panics(t, func() {
		_ = scheduler.WithSlot(func(*slots.Lease[string]) error {
			panic("decoder crashed")
		})
	})

	assert.Equal(t, 1, scheduler.Free())
}

func TestScheduler_WithSlotUnavailable(t *testing.T) {
	t.Parallel()

	scheduler := newScheduler(t, "A")

	lease, ok := scheduler.TryAcquire()
	require.True(t, ok)

	called := false
	err := scheduler.WithSlot(func(*slots.Lease[string]) error {
		called = true

		return nil
	})

	require.ErrorIs(t, err, slots.ErrUnavailable)
	assert.False(t, called)
	require.NoError(t, lease.Release())
}

func TestScheduler_WithSlotSurfacesReleaseMisuse(t *testing.T) {
	t.Parallel()

	scheduler := newScheduler(t, "A")

	err := scheduler.WithSlot(func(lease *slots.Lease[string]) error {
		return lease.Release()
	})

	require.ErrorIs(t, err, slots.ErrDoubleRelease)
	assert.Equal(t, 1, scheduler.Free())
}
