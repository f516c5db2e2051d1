// Package services contains the application core: the graph service that
// owns the aggregate and the dispatcher that routes change events.
package services

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"graphkb-backend/application/ports"
	domaincfg "graphkb-backend/domain/config"
	"graphkb-backend/domain/core/aggregates"
	"graphkb-backend/domain/core/entities"
	"graphkb-backend/domain/events"
	"graphkb-backend/domain/subscriptions"
	pkgerrors "graphkb-backend/pkg/errors"
	"graphkb-backend/pkg/observability"
)

// DispatchSink receives emitted events for subscription routing. The
// dispatcher implements this; the indirection breaks the construction cycle
// between service and dispatcher.
type DispatchSink interface {
	Dispatch(event events.ChangeEvent) int
	InvalidateCache()
}

// MutationResult carries the outcome of a mutation: a success flag plus a
// human-readable message on failure. Expected failures (duplicate id,
// missing node, confirmation required) are reported this way alongside the
// typed error, never as panics.
type MutationResult struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

func okResult() MutationResult {
	return MutationResult{Success: true}
}

func failResult(err error) MutationResult {
	return MutationResult{Success: false, Message: err.Error()}
}

// GraphService is the graph store: the sole owner of the graph aggregate.
// One shared in-process lock serializes every mutation and read; persistence
// happens synchronously inside the mutating call, and events are emitted
// only after the persisted state is durable.
//
// The lock is not re-entrant. Public methods acquire it; every helper with a
// "Locked" suffix assumes it is already held and must never lock again.
type GraphService struct {
	mu    sync.Mutex
	graph *aggregates.Graph

	repo    ports.GraphRepository
	scorer  ports.SimilarityScorer
	types   entities.TypeValidator
	cfg     *domaincfg.DomainConfig
	logger  *zap.Logger
	metrics *observability.Collector
	tracer  trace.Tracer

	dispatcher    DispatchSink
	listeners     []ports.EventListener
	agentCallback ports.AgentDeliveryCallback

	closed bool
}

// NewGraphService loads the persisted graph and returns the service
func NewGraphService(
	ctx context.Context,
	repo ports.GraphRepository,
	scorer ports.SimilarityScorer,
	types entities.TypeValidator,
	cfg *domaincfg.DomainConfig,
	metrics *observability.Collector,
	logger *zap.Logger,
) (*GraphService, error) {
	graph, err := repo.Load(ctx)
	if err != nil {
		return nil, err
	}
	logger.Info("graph service ready",
		zap.Int("nodes", graph.NodeCount()),
		zap.Int("edges", graph.EdgeCount()),
	)
	return &GraphService{
		graph:   graph,
		repo:    repo,
		scorer:  scorer,
		types:   types,
		cfg:     cfg,
		logger:  logger,
		metrics: metrics,
		tracer:  otel.Tracer("graphkb-backend.application.graph_service"),
	}, nil
}

// SetDispatcher wires the subscription dispatcher. Must be called before the
// first mutation; events emitted without a dispatcher reach system listeners
// only.
func (s *GraphService) SetDispatcher(d DispatchSink) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dispatcher = d
}

// SetAgentDeliveryCallback registers the internal consumer that intercepts
// events destined for internal address-scheme subscription targets
func (s *GraphService) SetAgentDeliveryCallback(cb ports.AgentDeliveryCallback) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.agentCallback = cb
}

// AddSystemListener registers a listener that receives every event
// unconditionally, bypassing subscription filtering
func (s *GraphService) AddSystemListener(l ports.EventListener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, l)
}

// Close stops the service from accepting further calls
func (s *GraphService) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}

// NodeCount returns the current number of nodes
func (s *GraphService) NodeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.graph.NodeCount()
}

// EdgeCount returns the current number of edges
func (s *GraphService) EdgeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.graph.EdgeCount()
}

// recordSpanError marks a mutation span failed
func (s *GraphService) recordSpanError(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// checkOpenLocked rejects calls after Close
func (s *GraphService) checkOpenLocked() error {
	if s.closed {
		return pkgerrors.NewInternalError("graph service is closed")
	}
	return nil
}

// persistLocked saves the graph. A failed save must not look like a
// successful mutation, so callers roll the in-memory change back when this
// returns an error.
func (s *GraphService) persistLocked(ctx context.Context) error {
	s.graph.Touch()
	return s.repo.Save(ctx, s.graph)
}

// emitLocked pushes events to system listeners and the dispatcher, in the
// order given. Called only after a successful save.
func (s *GraphService) emitLocked(evs []events.ChangeEvent) {
	for _, ev := range evs {
		if s.metrics != nil {
			s.metrics.EventsEmitted.WithLabelValues(ev.EventType).Inc()
		}
		for _, l := range s.listeners {
			l(ev)
		}
		if s.dispatcher != nil {
			s.dispatcher.Dispatch(ev)
		}
	}
}

// invalidateSubscriptionsLocked forces a dispatcher cache reload after any
// mutation touching a subscription node
func (s *GraphService) invalidateSubscriptionsLocked(nodeType string) {
	if s.dispatcher != nil && nodeType == s.cfg.SubscriptionNodeType {
		s.dispatcher.InvalidateCache()
	}
}

// subscriptionsLocked parses all subscription nodes. The dispatcher calls
// this during cache refresh, which only ever happens inside Dispatch while
// the service lock is already held.
func (s *GraphService) subscriptionsLocked() []*subscriptions.Subscription {
	var subs []*subscriptions.Subscription
	for _, n := range s.graph.Nodes() {
		if n.Type != s.cfg.SubscriptionNodeType {
			continue
		}
		sub, err := subscriptions.FromNode(n)
		if err != nil {
			s.logger.Warn("skipping malformed subscription node",
				zap.String("node_id", n.ID),
				zap.Error(err),
			)
			continue
		}
		subs = append(subs, sub)
	}
	return subs
}

// agentCallbackRef returns the registered internal delivery callback
func (s *GraphService) agentCallbackRef() ports.AgentDeliveryCallback {
	return s.agentCallback
}
