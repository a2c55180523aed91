package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skillquest/progression-engine/internal/domain/shared"
	"github.com/skillquest/progression-engine/pkg/circuitbreaker"
	"github.com/skillquest/progression-engine/pkg/logger"
	"github.com/skillquest/progression-engine/pkg/retry"
)

const alice = shared.UserID("0b7e8a52-3c1f-4f57-9a55-2a0d3b1e4c11")

func quiet() *logger.Logger {
	return logger.New(logger.Options{Output: io.Discard})
}

func levelUp() shared.LevelUpEvent {
	return shared.NewLevelUpEvent(alice, 1, 2, "bronze", 150,
		shared.RequestMeta{SessionID: "s-1", CorrelationID: "c-1"}, time.Now())
}

// hub is an in-process stand-in for Redis pub/sub.
type hub struct {
	mu        sync.Mutex
	subs      []chan RedisMessage
	published []RedisMessage
	err       error
}

func (h *hub) Publish(_ context.Context, channel string, payload []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.err != nil {
		return h.err
	}
	msg := RedisMessage{Channel: channel, Payload: payload}
	h.published = append(h.published, msg)
	for _, s := range h.subs {
		select {
		case s <- msg:
		default:
		}
	}
	return nil
}

func (h *hub) PSubscribe(ctx context.Context, _ string) (<-chan RedisMessage, error) {
	ch := make(chan RedisMessage, 16)
	h.mu.Lock()
	h.subs = append(h.subs, ch)
	h.mu.Unlock()

	go func() {
		<-ctx.Done()
		h.mu.Lock()
		defer h.mu.Unlock()
		for i, s := range h.subs {
			if s == ch {
				h.subs = append(h.subs[:i], h.subs[i+1:]...)
				break
			}
		}
		close(ch)
	}()
	return ch, nil
}

func (h *hub) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.published)
}

func TestInMemoryEventBus_SyncDelivery(t *testing.T) {
	bus := NewInMemoryEventBus(InMemoryEventBusConfig{Logger: quiet(), EnableMetrics: true})
	defer bus.Close()

	var typed, all []shared.EventType
	require.NoError(t, bus.Subscribe(shared.EventLevelUp, func(e shared.Event) error {
		typed = append(typed, e.EventType())
		return errors.New("handler failed")
	}))
	require.NoError(t, bus.SubscribeAll(func(e shared.Event) error {
		all = append(all, e.EventType())
		return nil
	}))

	require.NoError(t, bus.Publish(levelUp()))
	require.NoError(t, bus.Publish(shared.NewSkillCompletedEvent(alice, "loops", shared.RequestMeta{}, time.Now())))

	assert.Equal(t, []shared.EventType{shared.EventLevelUp}, typed)
	assert.Equal(t, []shared.EventType{shared.EventLevelUp, shared.EventSkillCompleted}, all)

	snap := bus.Metrics().Snapshot()
	assert.Equal(t, int64(2), snap.TotalPublished)
	assert.Equal(t, int64(3), snap.TotalHandlerExecs)
	assert.Equal(t, int64(1), snap.HandlerFailures)
}

func TestInMemoryEventBus_AsyncCloseWaitsForHandlers(t *testing.T) {
	bus := NewInMemoryEventBus(InMemoryEventBusConfig{AsyncMode: true, WorkerPoolSize: 2, Logger: quiet()})

	var handled atomic.Int32
	require.NoError(t, bus.SubscribeAll(func(shared.Event) error {
		time.Sleep(5 * time.Millisecond)
		handled.Add(1)
		return nil
	}))

	for i := 0; i < 4; i++ {
		require.NoError(t, bus.Publish(levelUp()))
	}

	require.Eventually(t, func() bool { return handled.Load() == 4 }, time.Second, time.Millisecond)
	require.NoError(t, bus.Close())
	assert.Nil(t, bus.Metrics())
}

func TestInMemoryEventBus_Closed(t *testing.T) {
	bus := NewInMemoryEventBus(InMemoryEventBusConfig{Logger: quiet()})
	require.NoError(t, bus.Close())
	require.NoError(t, bus.Close())

	assert.ErrorIs(t, bus.Publish(levelUp()), ErrEventBusClosed)
	assert.ErrorIs(t, bus.SubscribeAll(func(shared.Event) error { return nil }), ErrEventBusClosed)
	assert.ErrorIs(t, bus.Subscribe(shared.EventLevelUp, nil), ErrNilHandler)
}

func newRelay(t *testing.T, h *hub, subscribe bool, enabled func() bool) *RedisEventBus {
	t.Helper()
	bus, err := NewRedisEventBus(RedisEventBusConfig{
		Client:    h,
		LocalBus:  NewInMemoryEventBus(InMemoryEventBusConfig{Logger: quiet(), EnableMetrics: true}),
		Retrier:   retry.New(retry.WithMaxAttempts(2), retry.WithInitialDelay(time.Millisecond)),
		Enabled:   enabled,
		Subscribe: subscribe,
		Logger:    quiet(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = bus.Close() })
	return bus
}

func TestRedisEventBus_RelaysBetweenProcesses(t *testing.T) {
	h := &hub{}
	sender := newRelay(t, h, true, nil)
	receiver := newRelay(t, h, true, nil)

	var senderSeen atomic.Int32
	require.NoError(t, sender.Subscribe(shared.EventLevelUp, func(shared.Event) error {
		senderSeen.Add(1)
		return nil
	}))

	got := make(chan shared.Event, 1)
	require.NoError(t, receiver.Subscribe(shared.EventLevelUp, func(e shared.Event) error {
		got <- e
		return nil
	}))

	require.NoError(t, sender.Publish(levelUp()))

	select {
	case e := <-got:
		lu, ok := e.(shared.LevelUpEvent)
		require.True(t, ok, "got %T", e)
		assert.Equal(t, alice, lu.UserID)
		assert.Equal(t, 2, lu.NewLevel)
		assert.Equal(t, "c-1", lu.CorrelationID)
		assert.Equal(t, "s-1", lu.SessionID)
	case <-time.After(time.Second):
		t.Fatal("receiver never got the relayed event")
	}

	// The sender's own message comes back over pub/sub and is skipped.
	require.Eventually(t, func() bool {
		return receiver.Metrics().Snapshot().RemoteReceived == 1
	}, time.Second, time.Millisecond)
	assert.Equal(t, int32(1), senderSeen.Load())
	assert.Equal(t, int64(0), sender.Metrics().Snapshot().RemoteReceived)
	assert.Equal(t, int64(1), sender.Metrics().Snapshot().Relayed)

	h.mu.Lock()
	assert.Equal(t, "progression:events:level_up", h.published[0].Channel)
	h.mu.Unlock()
}

func TestRedisEventBus_DisabledRelayStaysLocal(t *testing.T) {
	h := &hub{}
	bus := newRelay(t, h, false, func() bool { return false })

	var seen atomic.Int32
	require.NoError(t, bus.SubscribeAll(func(shared.Event) error {
		seen.Add(1)
		return nil
	}))

	require.NoError(t, bus.Publish(levelUp()))
	assert.Equal(t, int32(1), seen.Load())
	assert.Equal(t, 0, h.count())
}

func TestRedisEventBus_RelayFailureAfterLocalDelivery(t *testing.T) {
	h := &hub{err: errors.New("connection refused")}
	bus := newRelay(t, h, false, nil)

	var seen atomic.Int32
	require.NoError(t, bus.SubscribeAll(func(shared.Event) error {
		seen.Add(1)
		return nil
	}))

	err := bus.Publish(levelUp())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
	assert.Equal(t, int32(1), seen.Load())
	assert.Equal(t, int64(1), bus.Metrics().Snapshot().RelayFailures)
}

func TestRedisEventBus_OpenBreakerFailsFast(t *testing.T) {
	h := &hub{err: errors.New("connection refused")}
	breaker := circuitbreaker.New("relay", circuitbreaker.WithFailureThreshold(1), circuitbreaker.WithTimeout(time.Hour))
	bus, err := NewRedisEventBus(RedisEventBusConfig{
		Client:  h,
		Breaker: breaker,
		Retrier: retry.New(retry.WithMaxAttempts(3), retry.WithInitialDelay(time.Millisecond)),
		Logger:  quiet(),
	})
	require.NoError(t, err)
	defer bus.Close()

	require.Error(t, bus.Publish(levelUp()))
	assert.Equal(t, circuitbreaker.StateOpen, breaker.State())

	err = bus.Publish(levelUp())
	assert.ErrorIs(t, err, circuitbreaker.ErrCircuitOpen)
}

func TestRedisEventBus_RejectsMalformedMessages(t *testing.T) {
	h := &hub{}
	bus := newRelay(t, h, true, nil)

	var seen atomic.Int32
	require.NoError(t, bus.SubscribeAll(func(shared.Event) error {
		seen.Add(1)
		return nil
	}))

	ctx := context.Background()
	require.NoError(t, h.Publish(ctx, "progression:events:level_up", []byte("not json")))

	env, err := shared.NewEnvelope(levelUp())
	require.NoError(t, err)
	raw, err := json.Marshal(env)
	require.NoError(t, err)
	wire, err := json.Marshal(relayMessage{Origin: "other", Envelope: raw})
	require.NoError(t, err)
	require.NoError(t, h.Publish(ctx, "progression:events:daily_login", wire))

	require.Eventually(t, func() bool {
		return bus.Metrics().Snapshot().RemoteRejected == 2
	}, time.Second, time.Millisecond)
	assert.Equal(t, int32(0), seen.Load())
}

func TestChannelEventType(t *testing.T) {
	typ, ok := ChannelEventType("progression:events:xp_awarded")
	assert.True(t, ok)
	assert.Equal(t, shared.EventXPAwarded, typ)

	_, ok = ChannelEventType("other:xp_awarded")
	assert.False(t, ok)
	_, ok = ChannelEventType("progression:events:")
	assert.False(t, ok)
}
