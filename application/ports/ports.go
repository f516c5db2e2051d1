// Package ports defines the interfaces between the application core and its
// collaborators. Infrastructure implements these; services depend only on
// the interfaces.
package ports

import (
	"context"

	"graphkb-backend/domain/core/aggregates"
	"graphkb-backend/domain/events"
)

// GraphRepository persists the whole graph aggregate. Load creates and
// writes an empty graph when no persisted state exists yet. Save must be
// atomic: a crash mid-write never corrupts the previous state.
type GraphRepository interface {
	Load(ctx context.Context) (*aggregates.Graph, error)
	Save(ctx context.Context, graph *aggregates.Graph) error
}

// ScoredNode is one ranked result from the similarity scorer
type ScoredNode struct {
	NodeID string
	Score  float64
}

// SimilarityScorer is the pluggable semantic-similarity backend. The graph
// service treats it purely as a ranked-list producer; embeddings are carried
// on the node record and the scorer owns no persistence of its own.
type SimilarityScorer interface {
	Score(ctx context.Context, text string) ([]float32, error)
	Search(ctx context.Context, text string, limit int, threshold float64) ([]ScoredNode, error)
}

// EventListener receives every change event unconditionally, bypassing
// subscription filtering. Used by lifecycle collaborators such as the
// similarity indexer.
type EventListener func(event events.ChangeEvent)

// AgentDeliveryCallback intercepts events destined for internal
// address-scheme targets before they would reach network delivery
type AgentDeliveryCallback func(event events.ChangeEvent, target string)

// DeliverySink accepts matched events for asynchronous delivery.
// Enqueue never blocks the caller.
type DeliverySink interface {
	Enqueue(event events.ChangeEvent, target string)
}

// DeliveryState is the outcome of one delivery attempt
type DeliveryState string

const (
	DeliverySuccess  DeliveryState = "success"
	DeliveryRetrying DeliveryState = "retrying"
	DeliveryDropped  DeliveryState = "dropped"
)

// DeliveryResult reports one delivery state transition to the observer
type DeliveryResult struct {
	Event   events.ChangeEvent
	Target  string
	Attempt int
	State   DeliveryState
	Err     error
}

// DeliveryObserver is notified of every delivery state transition so callers
// can track delivery health without polling the queue
type DeliveryObserver func(result DeliveryResult)
