package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/skillquest/progression-engine/internal/domain/shared"
	"github.com/skillquest/progression-engine/internal/infrastructure/persistence/redis"
	"github.com/skillquest/progression-engine/pkg/circuitbreaker"
	"github.com/skillquest/progression-engine/pkg/logger"
	"github.com/skillquest/progression-engine/pkg/retry"
)

// ══════════════════════════════════════════════════════════════════════════════
// REDIS EVENT BUS
// ══════════════════════════════════════════════════════════════════════════════

// RedisClient is the pub/sub surface the relay needs.
type RedisClient interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	// PSubscribe delivers messages until ctx is cancelled, then closes the channel.
	PSubscribe(ctx context.Context, pattern string) (<-chan RedisMessage, error)
}

// RedisMessage is a message received from Redis pub/sub.
type RedisMessage struct {
	Channel string
	Payload []byte
}

// RedisEventBus runs local handlers and relays every event to Redis pub/sub,
// one channel per event type. Events published by other processes are
// decoded and delivered to the local handlers; the process's own
// messages are skipped.
type RedisEventBus struct {
	client     RedisClient
	localBus   *InMemoryEventBus
	instanceID string
	breaker    *circuitbreaker.CircuitBreaker
	retrier    *retry.Retrier
	enabled    func() bool
	timeout    time.Duration
	logger     *logger.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.RWMutex
	closed bool
}

var _ shared.EventBus = (*RedisEventBus)(nil)

// RedisEventBusConfig contains configuration for RedisEventBus.
type RedisEventBusConfig struct {
	Client RedisClient

	// InstanceID identifies this process; generated when empty.
	InstanceID string

	// LocalBus receives local and remote events. A new bus is created when nil.
	LocalBus *InMemoryEventBus

	// Breaker guards the publish path. Defaults to circuitbreaker.RelayBreaker.
	Breaker *circuitbreaker.CircuitBreaker

	// Retrier retries failed publishes. Defaults to retry.RelayRetrier.
	Retrier *retry.Retrier

	// Enabled gates relaying per event; nil means always on.
	Enabled func() bool

	// PublishTimeout bounds one relay attempt.
	PublishTimeout time.Duration

	// Subscribe starts consuming events published by other processes.
	Subscribe bool

	Logger *logger.Logger
}

// NewRedisEventBus creates the relay and, when configured, starts the subscriber.
func NewRedisEventBus(config RedisEventBusConfig) (*RedisEventBus, error) {
	if config.Client == nil {
		return nil, errors.New("redis client is required")
	}
	if config.InstanceID == "" {
		config.InstanceID = uuid.NewString()
	}
	if config.Logger == nil {
		config.Logger = logger.Default()
	}
	if config.LocalBus == nil {
		config.LocalBus = NewInMemoryEventBus(InMemoryEventBusConfig{Logger: config.Logger, EnableMetrics: true})
	}
	if config.Breaker == nil {
		config.Breaker = circuitbreaker.RelayBreaker(nil)
	}
	if config.Retrier == nil {
		config.Retrier = retry.RelayRetrier()
	}
	if config.Enabled == nil {
		config.Enabled = func() bool { return true }
	}
	if config.PublishTimeout <= 0 {
		config.PublishTimeout = 2 * time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())

	bus := &RedisEventBus{
		client:     config.Client,
		localBus:   config.LocalBus,
		instanceID: config.InstanceID,
		breaker:    config.Breaker,
		// An open breaker is not worth retrying.
		retrier: config.Retrier.With(retry.WithRetryIf(func(err error) bool {
			return !errors.Is(err, circuitbreaker.ErrCircuitOpen)
		})),
		enabled: config.Enabled,
		timeout: config.PublishTimeout,
		logger:  config.Logger.With(logger.Component("event_relay")),
		ctx:     ctx,
		cancel:  cancel,
	}

	if config.Subscribe {
		if err := bus.startSubscriber(); err != nil {
			cancel()
			return nil, fmt.Errorf("start subscriber: %w", err)
		}
	}

	return bus, nil
}

// Subscribe registers a handler for a specific event type.
func (b *RedisEventBus) Subscribe(eventType shared.EventType, handler shared.EventHandler) error {
	return b.localBus.Subscribe(eventType, handler)
}

// SubscribeAll registers a handler for all events.
func (b *RedisEventBus) SubscribeAll(handler shared.EventHandler) error {
	return b.localBus.SubscribeAll(handler)
}

// Publish delivers the event locally, then relays it to Redis.
// A relay failure is returned after local delivery has happened.
func (b *RedisEventBus) Publish(event shared.Event) error {
	if event == nil {
		return ErrNilEvent
	}

	b.mu.RLock()
	closed := b.closed
	b.mu.RUnlock()
	if closed {
		return ErrEventBusClosed
	}

	if err := b.localBus.Publish(event); err != nil {
		return err
	}

	if !b.enabled() {
		return nil
	}

	err := b.relay(event)
	if metrics := b.localBus.Metrics(); metrics != nil {
		metrics.RecordRelay(err == nil)
	}
	return err
}

// relayMessage is the wire format on the pub/sub channels.
type relayMessage struct {
	Origin   string          `json:"origin"`
	Envelope json.RawMessage `json:"envelope"`
}

func (b *RedisEventBus) relay(event shared.Event) error {
	envelope, err := shared.NewEnvelope(event)
	if err != nil {
		return err
	}
	rawEnvelope, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	payload, err := json.Marshal(relayMessage{Origin: b.instanceID, Envelope: rawEnvelope})
	if err != nil {
		return fmt.Errorf("marshal relay message: %w", err)
	}

	channel := redis.PubSubChannel(string(event.EventType()))
	err = b.retrier.Do(b.ctx, func(ctx context.Context) error {
		return b.breaker.Execute(ctx, func(ctx context.Context) error {
			ctx, cancel := context.WithTimeout(ctx, b.timeout)
			defer cancel()
			return b.client.Publish(ctx, channel, payload)
		})
	})
	if err != nil {
		return fmt.Errorf("relay %s: %w", event.EventType(), err)
	}
	return nil
}

func (b *RedisEventBus) startSubscriber() error {
	messages, err := b.client.PSubscribe(b.ctx, redis.PrefixPubSub+"*")
	if err != nil {
		return err
	}

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		b.subscriptionLoop(messages)
	}()

	return nil
}

func (b *RedisEventBus) subscriptionLoop(messages <-chan RedisMessage) {
	for {
		select {
		case <-b.ctx.Done():
			return
		case msg, ok := <-messages:
			if !ok {
				return
			}
			b.handleRedisMessage(msg)
		}
	}
}

func (b *RedisEventBus) handleRedisMessage(msg RedisMessage) {
	var wire relayMessage
	if err := json.Unmarshal(msg.Payload, &wire); err != nil {
		b.reject(msg, err)
		return
	}
	if wire.Origin == b.instanceID {
		return
	}

	envelope, event, err := shared.DecodeEnvelope(wire.Envelope)
	if err != nil {
		b.reject(msg, err)
		return
	}
	if t, ok := ChannelEventType(msg.Channel); !ok || t != envelope.Type {
		b.reject(msg, fmt.Errorf("event type %s does not match channel", envelope.Type))
		return
	}

	if metrics := b.localBus.Metrics(); metrics != nil {
		metrics.RecordRemote(true)
	}
	if err := b.localBus.Publish(event); err != nil {
		b.logger.Error("failed to process remote event",
			logger.EventType(string(envelope.Type)),
			logger.Err(err),
		)
	}
}

func (b *RedisEventBus) reject(msg RedisMessage, err error) {
	if metrics := b.localBus.Metrics(); metrics != nil {
		metrics.RecordRemote(false)
	}
	b.logger.Warn("dropping malformed relay message",
		logger.String("channel", msg.Channel),
		logger.Err(err),
	)
}

// InstanceID returns the id stamped on relayed messages.
func (b *RedisEventBus) InstanceID() string {
	return b.instanceID
}

// Metrics returns the current metrics from the local bus.
func (b *RedisEventBus) Metrics() *EventBusMetrics {
	return b.localBus.Metrics()
}

// Close stops the subscriber and closes the local bus.
func (b *RedisEventBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	b.cancel()
	b.wg.Wait()

	if err := b.localBus.Close(); err != nil {
		b.logger.Error("failed to close local bus", logger.Err(err))
	}

	b.logger.Info("redis event bus closed")
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// GO-REDIS ADAPTER
// ══════════════════════════════════════════════════════════════════════════════

// CacheClient adapts *redis.Cache to RedisClient.
type CacheClient struct {
	cache *redis.Cache
}

var _ RedisClient = (*CacheClient)(nil)

// NewCacheClient wraps the shared Redis cache connection.
func NewCacheClient(cache *redis.Cache) *CacheClient {
	return &CacheClient{cache: cache}
}

// Publish sends payload to channel.
func (c *CacheClient) Publish(ctx context.Context, channel string, payload []byte) error {
	return c.cache.Publish(ctx, channel, payload)
}

// PSubscribe waits for the subscription to be confirmed, then forwards messages.
func (c *CacheClient) PSubscribe(ctx context.Context, pattern string) (<-chan RedisMessage, error) {
	pubsub := c.cache.PSubscribe(ctx, pattern)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, err
	}

	out := make(chan RedisMessage, 64)
	go func() {
		defer close(out)
		defer pubsub.Close()

		in := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-in:
				if !ok {
					return
				}
				select {
				case out <- RedisMessage{Channel: msg.Channel, Payload: []byte(msg.Payload)}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// ChannelEventType extracts the event type from a relay channel name.
func ChannelEventType(channel string) (shared.EventType, bool) {
	t, ok := strings.CutPrefix(channel, redis.PrefixPubSub)
	if !ok || t == "" {
		return "", false
	}
	return shared.EventType(t), true
}
