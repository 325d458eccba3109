package events

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tphakala/audiopolicy/internal/errors"
	"github.com/tphakala/audiopolicy/internal/logging"
)

// ComponentEvents identifies errors of this package.
const ComponentEvents = "events"

// Config holds event bus configuration
type Config struct {
	BufferSize int
	Workers    int
	DedupTTL   time.Duration
}

// DefaultConfig returns the default event bus configuration
func DefaultConfig() Config {
	return Config{
		BufferSize: 1000,
		Workers:    2,
		DedupTTL:   50 * time.Millisecond,
	}
}

// EventBus provides asynchronous event processing with non-blocking guarantees.
// Events published before the first consumer registers are dropped.
type EventBus struct {
	eventChan chan Event

	bufferSize int
	workers    int

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running atomic.Bool
	closed  bool
	// sendMu orders sends against the channel close in Shutdown.
	sendMu sync.RWMutex
	mu     sync.Mutex

	consumers []EventConsumer
	dedup     *Deduplicator
	observer  Observer

	stats EventBusStats

	logger *slog.Logger
}

// Option configures an EventBus.
type Option func(*EventBus)

// WithObserver reports bus activity, typically to Prometheus.
func WithObserver(o Observer) Option {
	return func(eb *EventBus) { eb.observer = o }
}

// WithLogger overrides the bus logger.
func WithLogger(l *slog.Logger) Option {
	return func(eb *EventBus) { eb.logger = l }
}

// New creates an event bus. Workers start with the first consumer.
func New(config Config, opts ...Option) *EventBus {
	defaults := DefaultConfig()
	if config.BufferSize <= 0 {
		config.BufferSize = defaults.BufferSize
	}
	if config.Workers <= 0 {
		config.Workers = defaults.Workers
	}

	ctx, cancel := context.WithCancel(context.Background())
	eb := &EventBus{
		eventChan:  make(chan Event, config.BufferSize),
		bufferSize: config.BufferSize,
		workers:    config.Workers,
		ctx:        ctx,
		cancel:     cancel,
		dedup:      NewDeduplicator(config.DedupTTL),
		observer:   nopObserver{},
	}
	for _, opt := range opts {
		opt(eb)
	}
	if eb.logger == nil {
		eb.logger = logging.ForService("events")
	}

	eb.logger.Info("event bus initialized",
		"buffer_size", config.BufferSize,
		"workers", config.Workers,
		"dedup_ttl", config.DedupTTL,
	)
	return eb
}

// RegisterConsumer adds a new event consumer
func (eb *EventBus) RegisterConsumer(consumer EventConsumer) error {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if eb.closed {
		return errors.Newf("event bus is shut down").
			Component(ComponentEvents).
			Category(errors.CategoryState).
			Context("consumer", consumer.Name()).
			Build()
	}
	for _, existing := range eb.consumers {
		if existing.Name() == consumer.Name() {
			return errors.Newf("consumer %s already registered", consumer.Name()).
				Component(ComponentEvents).
				Category(errors.CategoryConflict).
				Context("consumer", consumer.Name()).
				Build()
		}
	}

	eb.consumers = append(eb.consumers, consumer)
	eb.logger.Info("registered event consumer", "consumer", consumer.Name())

	if len(eb.consumers) == 1 {
		eb.start()
	}
	return nil
}

// TryPublish attempts to publish an event without blocking.
// Returns true if the event was accepted, false if dropped or suppressed.
func (eb *EventBus) TryPublish(event Event) bool {
	if eb == nil || !eb.running.Load() {
		return false
	}
	if !eb.dedup.ShouldProcess(&event) {
		atomic.AddUint64(&eb.stats.EventsSuppressed, 1)
		eb.observer.EventSuppressed()
		return false
	}

	eb.sendMu.RLock()
	defer eb.sendMu.RUnlock()
	if !eb.running.Load() {
		return false
	}
	select {
	case eb.eventChan <- event:
		atomic.AddUint64(&eb.stats.EventsReceived, 1)
		eb.observer.EventPublished(string(event.Kind))
		return true
	default:
		atomic.AddUint64(&eb.stats.EventsDropped, 1)
		eb.observer.EventDropped()
		// Debug level to avoid spam
		eb.logger.Debug("event dropped due to full buffer", "kind", string(event.Kind))
		return false
	}
}

// start begins the worker goroutines
func (eb *EventBus) start() {
	if eb.running.Swap(true) {
		return
	}
	eb.logger.Info("starting event bus workers", "count", eb.workers)
	for i := range eb.workers {
		eb.wg.Add(1)
		go eb.worker(i)
	}
}

// worker processes events until the channel is closed and drained, or the
// bus is cancelled.
func (eb *EventBus) worker(id int) {
	defer eb.wg.Done()

	logger := eb.logger.With("worker_id", id)
	logger.Debug("worker started")

	for {
		select {
		case <-eb.ctx.Done():
			logger.Debug("worker stopping due to context cancellation")
			return
		case event, ok := <-eb.eventChan:
			if !ok {
				logger.Debug("worker stopping due to channel closure")
				return
			}
			eb.processEvent(event, logger)
		}
	}
}

// processEvent sends the event to all registered consumers
func (eb *EventBus) processEvent(event Event, logger *slog.Logger) {
	eb.mu.Lock()
	consumers := make([]EventConsumer, len(eb.consumers))
	copy(consumers, eb.consumers)
	eb.mu.Unlock()

	for _, consumer := range consumers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					atomic.AddUint64(&eb.stats.ConsumerErrors, 1)
					eb.observer.ConsumerFailed(consumer.Name())
					logger.Error("consumer panicked",
						"consumer", consumer.Name(),
						"panic", r,
						"kind", string(event.Kind),
					)
				}
			}()

			if err := consumer.ProcessEvent(event); err != nil {
				atomic.AddUint64(&eb.stats.ConsumerErrors, 1)
				eb.observer.ConsumerFailed(consumer.Name())
				logger.Error("consumer error",
					"consumer", consumer.Name(),
					"error", err,
					"kind", string(event.Kind),
				)
				return
			}
			atomic.AddUint64(&eb.stats.EventsProcessed, 1)
		}()
	}
}

// Shutdown stops accepting events and lets the workers drain the buffer.
// Workers still busy after timeout are cancelled.
func (eb *EventBus) Shutdown(timeout time.Duration) error {
	eb.mu.Lock()
	if eb.closed {
		eb.mu.Unlock()
		return nil
	}
	eb.closed = true
	eb.mu.Unlock()

	eb.logger.Info("shutting down event bus", "timeout", timeout)

	eb.sendMu.Lock()
	eb.running.Store(false)
	close(eb.eventChan)
	eb.sendMu.Unlock()

	done := make(chan struct{})
	go func() {
		eb.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		eb.cancel()
		eb.logger.Info("event bus shutdown complete")
		return nil
	case <-time.After(timeout):
		eb.cancel()
		eb.logger.Warn("event bus shutdown timeout exceeded")
		return errors.Newf("event bus shutdown timeout exceeded").
			Component(ComponentEvents).
			Category(errors.CategoryResource).
			Timing("shutdown", timeout).
			Build()
	}
}

// GetStats returns current event bus statistics
func (eb *EventBus) GetStats() EventBusStats {
	if eb == nil {
		return EventBusStats{}
	}
	return EventBusStats{
		EventsReceived:   atomic.LoadUint64(&eb.stats.EventsReceived),
		EventsSuppressed: atomic.LoadUint64(&eb.stats.EventsSuppressed),
		EventsProcessed:  atomic.LoadUint64(&eb.stats.EventsProcessed),
		EventsDropped:    atomic.LoadUint64(&eb.stats.EventsDropped),
		ConsumerErrors:   atomic.LoadUint64(&eb.stats.ConsumerErrors),
	}
}
