package messaging

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/skillquest/progression-engine/internal/domain/shared"
	"github.com/skillquest/progression-engine/pkg/logger"
	"github.com/skillquest/progression-engine/pkg/retry"
)

// ══════════════════════════════════════════════════════════════════════════════
// DISPATCHER
// ══════════════════════════════════════════════════════════════════════════════

// Dispatcher routes bus events to named handlers. Each handler runs through
// the middleware chain with retries; exhausted events land in the dead
// letter queue.
type Dispatcher struct {
	eventBus    shared.EventSubscriber
	handlers    map[shared.EventType][]HandlerRegistration
	middlewares []Middleware
	retrier     *retry.Retrier
	deadLetterQ *DeadLetterQueue
	logger      *logger.Logger
	mu          sync.RWMutex
	ctx         context.Context
	cancel      context.CancelFunc
}

// HandlerRegistration contains handler metadata.
type HandlerRegistration struct {
	Name    string
	Handler shared.EventHandler
	Timeout time.Duration
}

// DispatcherConfig contains configuration for the Dispatcher.
type DispatcherConfig struct {
	EventBus shared.EventSubscriber

	// Retrier retries failed handlers. Defaults to 3 attempts from 100ms,
	// retrying every error except cancellation.
	Retrier *retry.Retrier

	// DeadLetterQueueSize bounds the DLQ; 0 disables it.
	DeadLetterQueueSize int

	Logger *logger.Logger
}

// NewDispatcher creates a new event dispatcher.
func NewDispatcher(config DispatcherConfig) *Dispatcher {
	if config.Logger == nil {
		config.Logger = logger.Default()
	}
	if config.Retrier == nil {
		config.Retrier = retry.New(
			retry.WithMaxAttempts(3),
			retry.WithInitialDelay(100*time.Millisecond),
			retry.WithMaxDelay(5*time.Second),
			retry.WithRetryIf(func(err error) bool { return !errors.Is(err, context.Canceled) }),
		)
	}

	ctx, cancel := context.WithCancel(context.Background())

	d := &Dispatcher{
		eventBus: config.EventBus,
		handlers: make(map[shared.EventType][]HandlerRegistration),
		retrier:  config.Retrier,
		logger:   config.Logger.With(logger.Component("dispatcher")),
		ctx:      ctx,
		cancel:   cancel,
	}

	if config.DeadLetterQueueSize > 0 {
		d.deadLetterQ = NewDeadLetterQueue(config.DeadLetterQueueSize)
	}

	return d
}

// RegisterHandler registers a handler for an event type.
func (d *Dispatcher) RegisterHandler(eventType shared.EventType, reg HandlerRegistration) error {
	if reg.Handler == nil {
		return ErrNilHandler
	}
	if reg.Name == "" {
		return errors.New("handler name is required")
	}
	if reg.Timeout <= 0 {
		reg.Timeout = 10 * time.Second
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	d.handlers[eventType] = append(d.handlers[eventType], reg)
	d.logger.Debug("registered handler",
		logger.EventType(string(eventType)),
		logger.String("handler", reg.Name),
	)
	return nil
}

// Register registers name for every listed event type.
func (d *Dispatcher) Register(name string, handler shared.EventHandler, eventTypes ...shared.EventType) error {
	for _, t := range eventTypes {
		if err := d.RegisterHandler(t, HandlerRegistration{Name: name, Handler: handler}); err != nil {
			return fmt.Errorf("register %s for %s: %w", name, t, err)
		}
	}
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// MIDDLEWARE
// ══════════════════════════════════════════════════════════════════════════════

// Middleware wraps handler execution.
type Middleware func(shared.EventHandler) shared.EventHandler

// Use adds middleware to the dispatcher. The first added runs outermost.
func (d *Dispatcher) Use(middleware Middleware) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.middlewares = append(d.middlewares, middleware)
}

// RecoveryMiddleware turns handler panics into errors.
func RecoveryMiddleware(log *logger.Logger) Middleware {
	return func(next shared.EventHandler) shared.EventHandler {
		return func(event shared.Event) (err error) {
			defer func() {
				if r := recover(); r != nil {
					log.Error("handler panic recovered",
						logger.EventType(string(event.EventType())),
						logger.Any("panic", r),
						logger.String("stack", string(debug.Stack())),
					)
					err = fmt.Errorf("handler panic: %v", r)
				}
			}()
			return next(event)
		}
	}
}

// LoggingMiddleware logs handler execution.
func LoggingMiddleware(log *logger.Logger) Middleware {
	return func(next shared.EventHandler) shared.EventHandler {
		return func(event shared.Event) error {
			start := time.Now()
			err := next(event)

			fields := []logger.Field{
				logger.EventType(string(event.EventType())),
				logger.UserID(event.AggregateID()),
				logger.Latency(time.Since(start)),
			}
			if err != nil {
				log.Warn("handler failed", append(fields, logger.Err(err))...)
			} else {
				log.Debug("handler completed", fields...)
			}
			return err
		}
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// EVENT DISPATCHING
// ══════════════════════════════════════════════════════════════════════════════

// Start subscribes the dispatcher to every event on the bus.
func (d *Dispatcher) Start() error {
	if d.eventBus == nil {
		return errors.New("dispatcher has no event bus")
	}
	return d.eventBus.SubscribeAll(d.Dispatch)
}

// Dispatch runs all handlers registered for the event's type and joins their errors.
func (d *Dispatcher) Dispatch(event shared.Event) error {
	d.mu.RLock()
	handlers := d.handlers[event.EventType()]
	middlewares := d.middlewares
	d.mu.RUnlock()

	var errs []error
	for _, reg := range handlers {
		if err := d.executeHandler(event, reg, middlewares); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (d *Dispatcher) executeHandler(event shared.Event, reg HandlerRegistration, middlewares []Middleware) error {
	handler := reg.Handler
	for i := len(middlewares) - 1; i >= 0; i-- {
		handler = middlewares[i](handler)
	}

	attempts := 0
	err := d.retrier.Do(d.ctx, func(ctx context.Context) error {
		attempts++
		return d.executeWithTimeout(ctx, handler, event, reg.Timeout)
	})
	if err == nil {
		return nil
	}

	if d.deadLetterQ != nil && d.ctx.Err() == nil {
		d.deadLetterQ.Add(DeadLetterEntry{
			Event:       event,
			HandlerName: reg.Name,
			Error:       err,
			Attempts:    attempts,
			FailedAt:    time.Now(),
		})
	}
	return fmt.Errorf("handler %s failed after %d attempts: %w", reg.Name, attempts, err)
}

func (d *Dispatcher) executeWithTimeout(ctx context.Context, handler shared.EventHandler, event shared.Event, timeout time.Duration) error {
	done := make(chan error, 1)
	go func() {
		done <- handler(event)
	}()

	select {
	case err := <-done:
		return err
	case <-time.After(timeout):
		return fmt.Errorf("handler timeout after %v", timeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop cancels in-flight retries.
func (d *Dispatcher) Stop() {
	d.cancel()
	d.logger.Info("dispatcher stopped")
}

// DeadLetterQueue returns the dead letter queue, nil when disabled.
func (d *Dispatcher) DeadLetterQueue() *DeadLetterQueue {
	return d.deadLetterQ
}

// ══════════════════════════════════════════════════════════════════════════════
// DEAD LETTER QUEUE
// ══════════════════════════════════════════════════════════════════════════════

// DeadLetterEntry represents a failed event.
type DeadLetterEntry struct {
	Event       shared.Event
	HandlerName string
	Error       error
	Attempts    int
	FailedAt    time.Time
}

// DeadLetterQueue keeps the most recent failed events.
type DeadLetterQueue struct {
	mu      sync.Mutex
	entries []DeadLetterEntry
	maxSize int
}

// NewDeadLetterQueue creates a new dead letter queue.
func NewDeadLetterQueue(maxSize int) *DeadLetterQueue {
	if maxSize <= 0 {
		maxSize = 1000
	}
	return &DeadLetterQueue{maxSize: maxSize}
}

// Add appends an entry, evicting the oldest at capacity.
func (q *DeadLetterQueue) Add(entry DeadLetterEntry) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.entries) >= q.maxSize {
		q.entries = q.entries[1:]
	}
	q.entries = append(q.entries, entry)
}

// Entries returns a copy of all entries.
func (q *DeadLetterQueue) Entries() []DeadLetterEntry {
	q.mu.Lock()
	defer q.mu.Unlock()

	result := make([]DeadLetterEntry, len(q.entries))
	copy(result, q.entries)
	return result
}

// Size returns the current queue size.
func (q *DeadLetterQueue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// Pop removes and returns the oldest entry.
func (q *DeadLetterQueue) Pop() (DeadLetterEntry, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.entries) == 0 {
		return DeadLetterEntry{}, false
	}
	entry := q.entries[0]
	q.entries = q.entries[1:]
	return entry, true
}
