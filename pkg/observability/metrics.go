package observability

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// Global metrics instance for singleton pattern
	globalCollector *Collector
	collectorMutex  sync.Mutex
)

// Collector holds all Prometheus metrics for the application
type Collector struct {
	// Registry for this collector instance
	registry *prometheus.Registry

	// Mutation metrics
	Mutations        *prometheus.CounterVec
	MutationDuration *prometheus.HistogramVec

	// Business metrics
	NodesCreated prometheus.Counter
	NodesDeleted prometheus.Counter
	EdgesCreated prometheus.Counter
	EdgesDeleted prometheus.Counter

	// Event pipeline metrics
	EventsEmitted     *prometheus.CounterVec
	EventsDispatched  prometheus.Counter
	DeliveryOutcomes  *prometheus.CounterVec
	DeliveryDuration  prometheus.Histogram
	SubscriptionScans prometheus.Counter
}

// NewCollector creates a new metrics collector with the given namespace
func NewCollector(namespace string) *Collector {
	// Use singleton pattern to avoid duplicate registration in tests
	collectorMutex.Lock()
	defer collectorMutex.Unlock()

	if globalCollector != nil {
		return globalCollector
	}

	registry := prometheus.NewRegistry()

	mutations := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mutations_total",
			Help:      "Total number of graph mutations by operation and status",
		},
		[]string{"operation", "status"},
	)

	mutationDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "mutation_duration_seconds",
			Help:      "Graph mutation duration in seconds, persistence included",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	nodesCreated := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "nodes_created_total",
			Help:      "Total number of nodes created",
		},
	)

	nodesDeleted := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "nodes_deleted_total",
			Help:      "Total number of nodes deleted",
		},
	)

	edgesCreated := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "edges_created_total",
			Help:      "Total number of edges created",
		},
	)

	edgesDeleted := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "edges_deleted_total",
			Help:      "Total number of edges deleted",
		},
	)

	eventsEmitted := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_emitted_total",
			Help:      "Total number of change events emitted by event type",
		},
		[]string{"event_type"},
	)

	eventsDispatched := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_dispatched_total",
			Help:      "Total number of event-to-subscription routings",
		},
	)

	deliveryOutcomes := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "delivery_outcomes_total",
			Help:      "Webhook delivery outcomes by state (success, retrying, dropped)",
		},
		[]string{"state"},
	)

	deliveryDuration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "delivery_attempt_duration_seconds",
			Help:      "Webhook delivery attempt duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
	)

	subscriptionScans := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "subscription_cache_reloads_total",
			Help:      "Total number of subscription cache reloads",
		},
	)

	registry.MustRegister(
		mutations, mutationDuration,
		nodesCreated, nodesDeleted, edgesCreated, edgesDeleted,
		eventsEmitted, eventsDispatched,
		deliveryOutcomes, deliveryDuration, subscriptionScans,
	)

	globalCollector = &Collector{
		registry:          registry,
		Mutations:         mutations,
		MutationDuration:  mutationDuration,
		NodesCreated:      nodesCreated,
		NodesDeleted:      nodesDeleted,
		EdgesCreated:      edgesCreated,
		EdgesDeleted:      edgesDeleted,
		EventsEmitted:     eventsEmitted,
		EventsDispatched:  eventsDispatched,
		DeliveryOutcomes:  deliveryOutcomes,
		DeliveryDuration:  deliveryDuration,
		SubscriptionScans: subscriptionScans,
	}
	return globalCollector
}

// Registry exposes the collector's registry for scraping endpoints
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// ObserveMutation records one mutation with its duration and outcome
func (c *Collector) ObserveMutation(operation string, started time.Time, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	c.Mutations.WithLabelValues(operation, status).Inc()
	c.MutationDuration.WithLabelValues(operation).Observe(time.Since(started).Seconds())
}
