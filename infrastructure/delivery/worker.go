// Package delivery implements the durable asynchronous webhook sender:
// an unbounded queue, a single consumer goroutine, and at-least-once
// delivery with retry/backoff.
package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"graphkb-backend/application/ports"
	"graphkb-backend/domain/events"
	"graphkb-backend/pkg/observability"
)

// Policy configures retry behavior for webhook delivery
type Policy struct {
	MaxAttempts int
	Backoff     []time.Duration
	Timeout     time.Duration
}

// DefaultPolicy returns the default delivery policy: 3 attempts with a
// 0.5s/2s/5s backoff schedule and a 10s per-attempt timeout
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		Backoff:     []time.Duration{500 * time.Millisecond, 2 * time.Second, 5 * time.Second},
		Timeout:     10 * time.Second,
	}
}

// backoffFor returns the wait before re-attempting after the given attempt
// number (1-based), capped at the last configured value
func (p Policy) backoffFor(attempt int) time.Duration {
	if len(p.Backoff) == 0 {
		return 0
	}
	idx := attempt - 1
	if idx >= len(p.Backoff) {
		idx = len(p.Backoff) - 1
	}
	return p.Backoff[idx]
}

type item struct {
	event   events.ChangeEvent
	target  string
	attempt int
}

// Worker is the delivery worker. Enqueue never blocks the producer; one
// dedicated goroutine drains the queue and performs all network I/O.
type Worker struct {
	policy  Policy
	logger  *zap.Logger
	metrics *observability.Collector
	client  *http.Client
	tracer  trace.Tracer

	mu       sync.Mutex
	queue    []item
	breakers map[string]*gobreaker.CircuitBreaker
	observer ports.DeliveryObserver

	wake   chan struct{}
	stopCh chan struct{}
	doneCh chan struct{}
	once   sync.Once
}

// NewWorker creates a delivery worker with the given policy
func NewWorker(policy Policy, metrics *observability.Collector, logger *zap.Logger) *Worker {
	return &Worker{
		policy:   policy,
		logger:   logger,
		metrics:  metrics,
		client:   &http.Client{Timeout: policy.Timeout},
		tracer:   otel.Tracer("graphkb-backend.infrastructure.delivery"),
		breakers: make(map[string]*gobreaker.CircuitBreaker),
		wake:     make(chan struct{}, 1),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// SetObserver registers the callback notified of every delivery state
// transition (success, retrying, dropped)
func (w *Worker) SetObserver(observer ports.DeliveryObserver) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.observer = observer
}

// Start launches the consumption loop
func (w *Worker) Start() {
	go w.run()
	w.logger.Info("delivery worker started",
		zap.Int("max_attempts", w.policy.MaxAttempts),
		zap.Duration("timeout", w.policy.Timeout),
	)
}

// Stop posts the shutdown signal and joins the consumption goroutine with a
// bounded timeout. Items still queued afterwards are abandoned.
func (w *Worker) Stop(timeout time.Duration) {
	w.once.Do(func() { close(w.stopCh) })
	select {
	case <-w.doneCh:
	case <-time.After(timeout):
		w.logger.Warn("delivery worker did not drain in time, abandoning queue",
			zap.Int("abandoned", w.queueLen()),
		)
	}
}

// Enqueue appends a delivery without blocking the caller
func (w *Worker) Enqueue(event events.ChangeEvent, target string) {
	w.push(item{event: event, target: target, attempt: 1})
}

func (w *Worker) push(it item) {
	w.mu.Lock()
	w.queue = append(w.queue, it)
	w.mu.Unlock()

	select {
	case w.wake <- struct{}{}:
	default:
	}
}

func (w *Worker) pop() (item, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.queue) == 0 {
		return item{}, false
	}
	it := w.queue[0]
	w.queue = w.queue[1:]
	return it, true
}

func (w *Worker) queueLen() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.queue)
}

// run is the single consumption loop. A failed attempt below the attempt cap
// waits its backoff and re-enqueues; the wait blocks only this loop.
func (w *Worker) run() {
	defer close(w.doneCh)
	for {
		it, ok := w.pop()
		if !ok {
			select {
			case <-w.stopCh:
				return
			case <-w.wake:
				continue
			}
		}

		err := w.attempt(it)
		if err == nil {
			w.report(it, ports.DeliverySuccess, nil)
			continue
		}

		if it.attempt >= w.policy.MaxAttempts {
			w.logger.Error("delivery dropped after final attempt",
				zap.String("event_id", it.event.EventID),
				zap.String("target", it.target),
				zap.Int("attempts", it.attempt),
				zap.Error(err),
			)
			w.report(it, ports.DeliveryDropped, err)
			continue
		}

		w.report(it, ports.DeliveryRetrying, err)
		select {
		case <-time.After(w.policy.backoffFor(it.attempt)):
		case <-w.stopCh:
			return
		}
		it.attempt++
		w.push(it)
	}
}

// breakerFor returns the circuit breaker for a target, creating it on first
// use. Breakers are per target: one persistently failing endpoint trips only
// its own breaker, deliveries to healthy targets keep flowing.
func (w *Worker) breakerFor(target string) *gobreaker.CircuitBreaker {
	w.mu.Lock()
	defer w.mu.Unlock()
	if cb, ok := w.breakers[target]; ok {
		return cb
	}
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "webhook-delivery:" + target,
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
	})
	w.breakers[target] = cb
	return cb
}

// attempt performs one outbound call through the target's circuit breaker.
// An open breaker counts as a failed attempt like any network error.
func (w *Worker) attempt(it item) error {
	ctx, span := w.tracer.Start(context.Background(), "Worker.attempt",
		trace.WithAttributes(
			attribute.String("delivery.target", it.target),
			attribute.String("delivery.event_id", it.event.EventID),
			attribute.Int("delivery.attempt", it.attempt),
		),
	)
	defer span.End()

	started := time.Now()
	_, err := w.breakerFor(it.target).Execute(func() (interface{}, error) {
		return nil, w.post(ctx, it)
	})
	if w.metrics != nil {
		w.metrics.DeliveryDuration.Observe(time.Since(started).Seconds())
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func (w *Worker) post(ctx context.Context, it item) error {
	payload, err := json.Marshal(it.event)
	if err != nil {
		return fmt.Errorf("failed to marshal event %s: %w", it.event.EventID, err)
	}

	ctx, cancel := context.WithTimeout(ctx, w.policy.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, it.target, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Event-Id", it.event.EventID)
	req.Header.Set("X-Event-Type", it.event.EventType)

	resp, err := w.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("target %s returned status %d", it.target, resp.StatusCode)
	}
	return nil
}

func (w *Worker) report(it item, state ports.DeliveryState, err error) {
	if w.metrics != nil {
		w.metrics.DeliveryOutcomes.WithLabelValues(string(state)).Inc()
	}

	w.mu.Lock()
	observer := w.observer
	w.mu.Unlock()
	if observer != nil {
		observer(ports.DeliveryResult{
			Event:   it.event,
			Target:  it.target,
			Attempt: it.attempt,
			State:   state,
			Err:     err,
		})
	}
}
