package messaging

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skillquest/progression-engine/internal/domain/shared"
	"github.com/skillquest/progression-engine/pkg/retry"
)

func fastDispatcher(bus shared.EventSubscriber) *Dispatcher {
	return NewDispatcher(DispatcherConfig{
		EventBus: bus,
		Retrier: retry.New(
			retry.WithMaxAttempts(3),
			retry.WithInitialDelay(time.Millisecond),
			retry.WithRetryIf(func(error) bool { return true }),
		),
		DeadLetterQueueSize: 10,
		Logger:              quiet(),
	})
}

func TestDispatcher_RoutesThroughBus(t *testing.T) {
	bus := NewInMemoryEventBus(InMemoryEventBusConfig{Logger: quiet()})
	defer bus.Close()
	d := fastDispatcher(bus)
	defer d.Stop()
	d.Use(RecoveryMiddleware(quiet()))
	d.Use(LoggingMiddleware(quiet()))

	var calls atomic.Int32
	require.NoError(t, d.Register("counter", func(shared.Event) error {
		calls.Add(1)
		return nil
	}, shared.EventLevelUp, shared.EventXPAwarded))
	require.NoError(t, d.Start())

	require.NoError(t, bus.Publish(levelUp()))
	require.NoError(t, bus.Publish(shared.NewDailyLoginEvent(alice, "2026-03-10", 1, true, shared.RequestMeta{}, time.Now())))

	assert.Equal(t, int32(1), calls.Load())
}

func TestDispatcher_RetriesThenSucceeds(t *testing.T) {
	d := fastDispatcher(nil)
	defer d.Stop()

	var calls atomic.Int32
	require.NoError(t, d.Register("flaky", func(shared.Event) error {
		if calls.Add(1) < 3 {
			return errors.New("transient")
		}
		return nil
	}, shared.EventLevelUp))

	require.NoError(t, d.Dispatch(levelUp()))
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, 0, d.DeadLetterQueue().Size())
}

func TestDispatcher_ExhaustedGoesToDeadLetterQueue(t *testing.T) {
	d := fastDispatcher(nil)
	defer d.Stop()
	d.Use(RecoveryMiddleware(quiet()))

	require.NoError(t, d.Register("panicky", func(shared.Event) error {
		panic("boom")
	}, shared.EventLevelUp))

	err := d.Dispatch(levelUp())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "handler panic: boom")

	entry, ok := d.DeadLetterQueue().Pop()
	require.True(t, ok)
	assert.Equal(t, "panicky", entry.HandlerName)
	assert.Equal(t, 3, entry.Attempts)
	assert.Equal(t, shared.EventLevelUp, entry.Event.EventType())
}

func TestDispatcher_RegistrationErrors(t *testing.T) {
	d := fastDispatcher(nil)
	defer d.Stop()

	assert.ErrorIs(t, d.RegisterHandler(shared.EventLevelUp, HandlerRegistration{Name: "x"}), ErrNilHandler)
	assert.Error(t, d.RegisterHandler(shared.EventLevelUp, HandlerRegistration{
		Handler: func(shared.Event) error { return nil },
	}))
	assert.Error(t, d.Start())
}

func TestDeadLetterQueue_EvictsOldest(t *testing.T) {
	q := NewDeadLetterQueue(2)
	q.Add(DeadLetterEntry{HandlerName: "a"})
	q.Add(DeadLetterEntry{HandlerName: "b"})
	q.Add(DeadLetterEntry{HandlerName: "c"})

	entries := q.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, "b", entries[0].HandlerName)
	assert.Equal(t, "c", entries[1].HandlerName)
}
