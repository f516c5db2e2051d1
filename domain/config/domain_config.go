package config

import "time"

// DomainConfig holds all configurable business rules and constraints
type DomainConfig struct {
	// Graph constraints
	GraphName        string
	MaxNodesPerGraph int
	MaxEdgesPerGraph int

	// Node constraints
	MinNameLength        int
	MaxNameLength        int
	MaxDescriptionLength int
	MaxSummaryLength     int

	// Mutation policy
	MaxDeleteBatch int

	// Query limits
	DefaultSearchLimit  int
	MaxSearchLimit      int
	MaxTraversalDepth   int
	SimilarityThreshold float64
	SimilarityLimit     int

	// Subscription settings
	SubscriptionNodeType string
	CacheRefreshInterval time.Duration

	// Delivery policy
	DeliveryMaxAttempts  int
	DeliveryBackoff      []time.Duration
	DeliveryTimeout      time.Duration
	DeliveryDrainTimeout time.Duration
	InternalTargetScheme string
}

// DefaultDomainConfig returns the default domain configuration
func DefaultDomainConfig() *DomainConfig {
	return &DomainConfig{
		GraphName:        "knowledge-graph",
		MaxNodesPerGraph: 100000,
		MaxEdgesPerGraph: 500000,

		MinNameLength:        1,
		MaxNameLength:        200,
		MaxDescriptionLength: 2000,
		MaxSummaryLength:     300,

		MaxDeleteBatch: 10,

		DefaultSearchLimit:  50,
		MaxSearchLimit:      1000,
		MaxTraversalDepth:   10,
		SimilarityThreshold: 0.6,
		SimilarityLimit:     10,

		SubscriptionNodeType: "Subscription",
		CacheRefreshInterval: 30 * time.Second,

		DeliveryMaxAttempts:  3,
		DeliveryBackoff:      []time.Duration{500 * time.Millisecond, 2 * time.Second, 5 * time.Second},
		DeliveryTimeout:      10 * time.Second,
		DeliveryDrainTimeout: 5 * time.Second,
		InternalTargetScheme: "agent",
	}
}
