package services

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"graphkb-backend/application/ports"
	domaincfg "graphkb-backend/domain/config"
	"graphkb-backend/domain/events"
	"graphkb-backend/domain/subscriptions"
	"graphkb-backend/pkg/observability"
)

// Dispatcher matches change events against the stored subscriptions and
// routes matches to their delivery targets. It keeps a time-bounded cache of
// parsed subscriptions so every event does not rescan the whole graph.
//
// Dispatch runs only inside the graph service's emission path, while the
// service lock is held; the cache refresh therefore reads the aggregate
// through the locked helper directly.
type Dispatcher struct {
	service *GraphService
	sink    ports.DeliverySink
	cfg     *domaincfg.DomainConfig
	logger  *zap.Logger
	metrics *observability.Collector

	mu       sync.Mutex
	cache    []*subscriptions.Subscription
	loadedAt time.Time
	dirty    bool

	now func() time.Time
}

// NewDispatcher creates a dispatcher reading subscriptions from the service
// and handing matches to the delivery sink
func NewDispatcher(service *GraphService, sink ports.DeliverySink, cfg *domaincfg.DomainConfig, metrics *observability.Collector, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		service: service,
		sink:    sink,
		cfg:     cfg,
		logger:  logger,
		metrics: metrics,
		dirty:   true,
		now:     time.Now,
	}
}

// InvalidateCache forces a reload on the next dispatch. The graph service
// calls this after any subscription node is created, updated or deleted.
func (d *Dispatcher) InvalidateCache() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dirty = true
}

// Dispatch evaluates the event against every cached subscription and routes
// it to each match, returning the number of subscriptions it was delivered
// to. Filters are evaluated in order (kind, operation, type, keywords) with
// loop prevention applied after a match.
func (d *Dispatcher) Dispatch(event events.ChangeEvent) int {
	subs := d.subscriptions()

	delivered := 0
	for _, sub := range subs {
		if !sub.Matches(event) {
			continue
		}
		if sub.Suppresses(event) {
			d.logger.Debug("event suppressed by loop prevention",
				zap.String("event_id", event.EventID),
				zap.String("subscription", sub.ID),
				zap.String("origin", event.Origin.Origin),
			)
			continue
		}

		stamped := event.WithSubscription(sub.Ref())
		if subscriptions.IsInternalTarget(sub.Target, d.cfg.InternalTargetScheme) {
			// Internal address-scheme targets bypass network delivery
			if cb := d.service.agentCallbackRef(); cb != nil {
				cb(stamped, sub.Target)
			} else {
				d.logger.Warn("internal target with no agent callback registered",
					zap.String("subscription", sub.ID),
					zap.String("target", sub.Target),
				)
				continue
			}
		} else {
			d.sink.Enqueue(stamped, sub.Target)
		}

		delivered++
		if d.metrics != nil {
			d.metrics.EventsDispatched.Inc()
		}
	}
	return delivered
}

// subscriptions returns the cached set, reloading when stale or invalidated
func (d *Dispatcher) subscriptions() []*subscriptions.Subscription {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.dirty && d.now().Sub(d.loadedAt) < d.cfg.CacheRefreshInterval {
		return d.cache
	}

	d.cache = d.service.subscriptionsLocked()
	d.loadedAt = d.now()
	d.dirty = false
	if d.metrics != nil {
		d.metrics.SubscriptionScans.Inc()
	}
	d.logger.Debug("subscription cache reloaded", zap.Int("count", len(d.cache)))
	return d.cache
}
