// Package outbox buffers ride events in memory and relays them to a
// downstream publisher from a background loop, retrying failed sends.
package outbox

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/example/ridedispatch/internal/ride/domain"
)

var (
	outboxPublishTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "outbox_publish_total",
		Help: "Total number of ride events relayed downstream.",
	})
	outboxFailTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "outbox_fail_total",
		Help: "Total number of ride events dropped after exhausting retries or overflowing the buffer.",
	})
	outboxLagSeconds = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "outbox_lag_seconds",
		Help: "Age of the oldest event in the last relayed batch.",
	})
)

// ErrFull is returned by Publish when the buffer holds Capacity events.
var ErrFull = errors.New("outbox full")

// Config defines tunables for the relay loop.
type Config struct {
	PollInterval time.Duration
	BatchSize    int
	RetryMax     int
	Capacity     int
	// Backoff is the unit of the quadratic retry delay.
	Backoff time.Duration
	// DrainTimeout bounds delivery of buffered events after Run is cancelled.
	DrainTimeout time.Duration
}

// Relay implements domain.EventPublisher. Publish only enqueues, so callers
// holding locks never wait on the network.
type Relay struct {
	mu      sync.Mutex
	pending []entry

	downstream domain.EventPublisher
	logger     *zap.Logger
	cfg        Config
	tracer     trace.Tracer
}

type entry struct {
	event    domain.RideEvent
	enqueued time.Time
	// span of the operation that produced the event, restored on delivery
	span trace.SpanContext
}

// NewRelay constructs a relay forwarding to downstream.
func NewRelay(downstream domain.EventPublisher, logger *zap.Logger, cfg Config) *Relay {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 200 * time.Millisecond
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.RetryMax <= 0 {
		cfg.RetryMax = 3
	}
	if cfg.Capacity <= 0 {
		cfg.Capacity = 10_000
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = 100 * time.Millisecond
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = 5 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Relay{
		downstream: downstream,
		logger:     logger,
		cfg:        cfg,
		tracer:     otel.Tracer("ride.outbox.relay"),
	}
}

// Publish enqueues event for delivery.
func (r *Relay) Publish(ctx context.Context, event domain.RideEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.pending) >= r.cfg.Capacity {
		outboxFailTotal.Inc()
		return fmt.Errorf("%w: dropping %s for ride %s", ErrFull, event.Type, event.RideID)
	}
	r.pending = append(r.pending, entry{event: event, enqueued: time.Now(), span: trace.SpanContextFromContext(ctx)})
	return nil
}

// Pending reports how many events await delivery.
func (r *Relay) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

// Run drains the buffer until ctx is cancelled, then keeps flushing with a
// fresh context until the buffer is empty or the drain timeout expires.
func (r *Relay) Run(ctx context.Context) error {
	if r.downstream == nil {
		return errors.New("outbox relay requires a downstream publisher")
	}
	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()
	for {
		if err := r.Flush(ctx); err != nil && !errors.Is(err, context.Canceled) {
			r.logger.Error("outbox batch failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			r.drain()
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Start runs the relay in the background. The returned stop function cancels
// the loop and waits, bounded by ctx, until buffered events are drained.
func (r *Relay) Start() (stop func(ctx context.Context) error) {
	runCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := r.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
			r.logger.Error("outbox relay stopped", zap.Error(err))
		}
	}()
	return func(ctx context.Context) error {
		cancel()
		select {
		case <-done:
			return nil
		case <-ctx.Done():
			return fmt.Errorf("outbox relay stop: %w", ctx.Err())
		}
	}
}

func (r *Relay) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), r.cfg.DrainTimeout)
	defer cancel()
	for r.Pending() > 0 && ctx.Err() == nil {
		if err := r.Flush(ctx); err != nil {
			r.logger.Warn("outbox drain batch failed", zap.Error(err))
		}
	}
	if n := r.Pending(); n > 0 {
		r.logger.Warn("outbox drain incomplete", zap.Int("pending", n))
	}
}

// Flush relays up to one batch. An event that exhausts its retries is
// dropped; later events in the batch are still attempted.
func (r *Relay) Flush(ctx context.Context) error {
	batch := r.take()
	if len(batch) == 0 {
		return nil
	}
	ctx, span := r.tracer.Start(ctx, "outbox.batch", trace.WithAttributes(attribute.Int("size", len(batch))))
	defer span.End()

	var errs []error
	maxLag := 0.0
	for i, e := range batch {
		if err := r.publishWithRetry(e.context(ctx), e.event); err != nil {
			if ctx.Err() != nil {
				r.requeue(batch[i:])
				return errors.Join(append(errs, ctx.Err())...)
			}
			errs = append(errs, err)
			continue
		}
		outboxPublishTotal.Inc()
		if lag := time.Since(e.enqueued).Seconds(); lag > maxLag {
			maxLag = lag
		}
	}
	outboxLagSeconds.Set(maxLag)
	return errors.Join(errs...)
}

func (e entry) context(ctx context.Context) context.Context {
	if !e.span.IsValid() {
		return ctx
	}
	return trace.ContextWithRemoteSpanContext(ctx, e.span)
}

func (r *Relay) take() []entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := min(len(r.pending), r.cfg.BatchSize)
	batch := append([]entry(nil), r.pending[:n]...)
	r.pending = r.pending[n:]
	return batch
}

func (r *Relay) requeue(rest []entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pending = append(append([]entry(nil), rest...), r.pending...)
}

func (r *Relay) publishWithRetry(ctx context.Context, event domain.RideEvent) error {
	ctx, span := r.tracer.Start(ctx, "outbox.publish", trace.WithAttributes(attribute.String("ride_id", event.RideID)))
	defer span.End()
	var attempt int
	for {
		attempt++
		err := r.downstream.Publish(ctx, event)
		if err == nil {
			return nil
		}
		r.logger.Warn("publish failed", zap.Error(err), zap.Int("attempt", attempt), zap.String("ride_id", event.RideID))
		if attempt >= r.cfg.RetryMax {
			outboxFailTotal.Inc()
			return fmt.Errorf("publish %s for ride %s: %w", event.Type, event.RideID, err)
		}
		backoff := time.Duration(attempt*attempt) * r.cfg.Backoff
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

var _ domain.EventPublisher = (*Relay)(nil)
