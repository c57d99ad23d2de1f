// Package events dispatches committed domain events to registered handlers.
// Sync handlers run inline in registration order; async handlers run on a
// bounded worker pool after the sync handlers of the same event. Handler
// failures are logged and counted and never reach the dispatching caller.
package events

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/fastygo/storecore/domain"
)

const (
	modeSync  = "sync"
	modeAsync = "async"
)

// ErrHandlerNotFound is returned by Redeliver for an unknown handler name.
var ErrHandlerNotFound = errors.New("event handler not registered")

// Config sizes the async pool.
type Config struct {
	Workers        int
	QueueSize      int
	HandlerTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 256
	}
	if c.HandlerTimeout <= 0 {
		c.HandlerTimeout = 30 * time.Second
	}
	return c
}

// Stats is a point-in-time view of the dispatcher counters.
type Stats struct {
	Dispatched    uint64 `json:"dispatched"`
	SyncFailures  uint64 `json:"sync_failures"`
	AsyncQueued   uint64 `json:"async_queued"`
	AsyncFailures uint64 `json:"async_failures"`
	DeadLettered  uint64 `json:"dead_lettered"`
	Dropped       uint64 `json:"dropped"`
	QueueDepth    int    `json:"queue_depth"`
	QueueCapacity int    `json:"queue_capacity"`
	Workers       int    `json:"workers"`
}

type registration struct {
	name    string
	handler Handler
}

// Dispatcher is a typed registry of handlers per domain.EventType.
type Dispatcher struct {
	mu        sync.RWMutex
	syncRegs  map[domain.EventType][]registration
	asyncRegs map[domain.EventType][]registration

	cfg         Config
	pool        *Pool
	deadLetters DeadLetterSink
	metrics     *Metrics
	logger      *zap.Logger

	dispatched    atomic.Uint64
	syncFailures  atomic.Uint64
	asyncQueued   atomic.Uint64
	asyncFailures atomic.Uint64
	deadLettered  atomic.Uint64
	dropped       atomic.Uint64
}

// Option customizes a Dispatcher.
type Option func(*Dispatcher)

func WithMetrics(m *Metrics) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

func WithDeadLetterSink(sink DeadLetterSink) Option {
	return func(d *Dispatcher) { d.deadLetters = sink }
}

// NewDispatcher starts the worker pool.
func NewDispatcher(cfg Config, logger *zap.Logger, opts ...Option) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	d := &Dispatcher{
		syncRegs:  make(map[domain.EventType][]registration),
		asyncRegs: make(map[domain.EventType][]registration),
		cfg:       cfg.withDefaults(),
		logger:    logger,
	}
	for _, opt := range opts {
		opt(d)
	}
	d.pool = newPool(d.cfg.Workers, d.cfg.QueueSize, d.runAsync)
	return d
}

// SetDeadLetterSink installs the sink after construction, for sinks that
// themselves depend on the dispatcher.
func (d *Dispatcher) SetDeadLetterSink(sink DeadLetterSink) {
	d.mu.Lock()
	d.deadLetters = sink
	d.mu.Unlock()
}

// Register adds a sync handler for eventType.
func (d *Dispatcher) Register(eventType domain.EventType, h Handler) error {
	return d.register(d.syncRegs, eventType, h, modeSync)
}

// RegisterAsync adds an async handler for eventType.
func (d *Dispatcher) RegisterAsync(eventType domain.EventType, h Handler) error {
	return d.register(d.asyncRegs, eventType, h, modeAsync)
}

func (d *Dispatcher) register(table map[domain.EventType][]registration, eventType domain.EventType, h Handler, mode string) error {
	if !eventType.Valid() {
		return domain.Detail(domain.ErrInvalidPayload, "unknown event type %q", eventType)
	}
	if h == nil {
		return domain.Detail(domain.ErrInvalidPayload, "nil handler for %s", eventType)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	name := NameOf(h)
	table[eventType] = append(table[eventType], registration{name: name, handler: h})

	d.logger.Debug("registered event handler",
		zap.String("handler", name),
		zap.String("event_type", string(eventType)),
		zap.String("mode", mode),
	)
	return nil
}

// Dispatch delivers events in order. For each event the sync handlers run
// first, then its async invocations are queued. Sync handlers run on a
// context detached from ctx and bounded by the handler timeout: the events
// are already committed when Dispatch is called.
func (d *Dispatcher) Dispatch(ctx context.Context, events []domain.Event) {
	detached := context.WithoutCancel(ctx)
	for _, event := range events {
		d.mu.RLock()
		syncHandlers := append([]registration(nil), d.syncRegs[event.Type]...)
		asyncHandlers := append([]registration(nil), d.asyncRegs[event.Type]...)
		d.mu.RUnlock()

		d.dispatched.Add(1)
		if d.metrics != nil {
			d.metrics.Dispatched.WithLabelValues(string(event.Type)).Inc()
		}

		for _, reg := range syncHandlers {
			if err := d.invokeSync(detached, reg, event); err != nil {
				d.syncFailures.Add(1)
			}
		}

		for _, reg := range asyncHandlers {
			j := job{ctx: ctx, name: reg.name, handler: reg.handler, event: event}
			if !d.pool.submit(j) {
				d.overflow(ctx, j)
				continue
			}
			d.asyncQueued.Add(1)
			d.observeDepth()
		}
	}
}

// Redeliver runs the handler registered under handlerName for the event's
// type once more. The error is returned to the caller.
func (d *Dispatcher) Redeliver(ctx context.Context, handlerName string, event domain.Event) error {
	d.mu.RLock()
	var target *registration
	for _, table := range []map[domain.EventType][]registration{d.asyncRegs, d.syncRegs} {
		for _, reg := range table[event.Type] {
			if reg.name == handlerName {
				r := reg
				target = &r
				break
			}
		}
		if target != nil {
			break
		}
	}
	d.mu.RUnlock()

	if target == nil {
		return fmt.Errorf("%w: %s for %s", ErrHandlerNotFound, handlerName, event.Type)
	}
	ctx, cancel := context.WithTimeout(ctx, d.cfg.HandlerTimeout)
	defer cancel()
	return d.invoke(ctx, *target, event, modeAsync)
}

// Stats returns the current counters.
func (d *Dispatcher) Stats() Stats {
	return Stats{
		Dispatched:    d.dispatched.Load(),
		SyncFailures:  d.syncFailures.Load(),
		AsyncQueued:   d.asyncQueued.Load(),
		AsyncFailures: d.asyncFailures.Load(),
		DeadLettered:  d.deadLettered.Load(),
		Dropped:       d.dropped.Load(),
		QueueDepth:    d.pool.Depth(),
		QueueCapacity: d.pool.Capacity(),
		Workers:       d.cfg.Workers,
	}
}

// Close stops accepting async work and waits for queued invocations.
func (d *Dispatcher) Close(ctx context.Context) error {
	err := d.pool.close(ctx)
	d.logger.Info("event dispatcher stopped", zap.Any("stats", d.Stats()))
	return err
}

func (d *Dispatcher) runAsync(j job) {
	d.observeDepth()
	// Async work outlives the request that committed the events.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(j.ctx), d.cfg.HandlerTimeout)
	defer cancel()

	reg := registration{name: j.name, handler: j.handler}
	if err := d.invoke(ctx, reg, j.event, modeAsync); err != nil {
		d.asyncFailures.Add(1)
		d.divert(context.WithoutCancel(j.ctx), DeadLetter{Handler: j.name, Event: j.event, Reason: err.Error(), Attempts: 1})
	}
}

func (d *Dispatcher) overflow(ctx context.Context, j job) {
	d.logger.Warn("async queue full",
		zap.String("handler", j.name),
		zap.String("event_id", j.event.ID),
		zap.String("event_type", string(j.event.Type)),
	)
	d.divert(context.WithoutCancel(ctx), DeadLetter{Handler: j.name, Event: j.event, Reason: "async queue full"})
}

// divert hands a failed invocation to the dead-letter sink, or drops it.
func (d *Dispatcher) divert(ctx context.Context, letter DeadLetter) {
	d.mu.RLock()
	sink := d.deadLetters
	d.mu.RUnlock()

	if sink != nil {
		err := sink.Store(ctx, letter)
		if err == nil {
			d.deadLettered.Add(1)
			d.countDeadLetter(letter.Handler, "stored")
			return
		}
		d.logger.Error("dead letter store failed", zap.String("handler", letter.Handler), zap.Error(err))
	}
	d.dropped.Add(1)
	d.countDeadLetter(letter.Handler, "dropped")
	d.logger.Error("async event invocation dropped",
		zap.String("handler", letter.Handler),
		zap.String("event_id", letter.Event.ID),
		zap.String("event_type", string(letter.Event.Type)),
		zap.String("reason", letter.Reason),
	)
}

func (d *Dispatcher) invokeSync(ctx context.Context, reg registration, event domain.Event) error {
	ctx, cancel := context.WithTimeout(ctx, d.cfg.HandlerTimeout)
	defer cancel()
	return d.invoke(ctx, reg, event, modeSync)
}

// invoke runs one handler, turning panics into errors.
func (d *Dispatcher) invoke(ctx context.Context, reg registration, event domain.Event, mode string) (err error) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler %s panicked: %v", reg.name, r)
		}
		duration := time.Since(start)
		if d.metrics != nil {
			d.metrics.Duration.WithLabelValues(reg.name, mode).Observe(duration.Seconds())
		}
		if err != nil {
			if d.metrics != nil {
				d.metrics.Failures.WithLabelValues(reg.name, mode).Inc()
			}
			d.logger.Error("event handler failed",
				zap.String("handler", reg.name),
				zap.String("mode", mode),
				zap.String("event_id", event.ID),
				zap.String("event_type", string(event.Type)),
				zap.Duration("duration", duration),
				zap.Error(err),
			)
		}
	}()
	return reg.handler.Handle(ctx, event)
}

func (d *Dispatcher) countDeadLetter(handler, outcome string) {
	if d.metrics != nil {
		d.metrics.DeadLetters.WithLabelValues(handler, outcome).Inc()
	}
}

func (d *Dispatcher) observeDepth() {
	if d.metrics != nil {
		d.metrics.QueueDepth.Set(float64(d.pool.Depth()))
	}
}
