package events

import (
	"reflect"
	"time"

	"github.com/google/uuid"

	"graphkb-backend/domain/core/entities"
)

// EntityKind identifies what kind of entity an event is about
type EntityKind string

const (
	KindNode EntityKind = "node"
	KindEdge EntityKind = "edge"
)

// Operation identifies the mutation an event records
type Operation string

const (
	OpCreate Operation = "create"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
)

// Event type constants, in the wire form consumers see
const (
	EventNodeCreate = "node.create"
	EventNodeUpdate = "node.update"
	EventNodeDelete = "node.delete"
	EventEdgeCreate = "edge.create"
	EventEdgeUpdate = "edge.update"
	EventEdgeDelete = "edge.delete"
)

// Origin carries the provenance of a mutation. It is attached to every event
// and used for loop prevention and auditing.
type Origin struct {
	Origin        string `json:"event_origin,omitempty"`
	SessionID     string `json:"event_session_id,omitempty"`
	CorrelationID string `json:"event_correlation_id,omitempty"`
}

// ChangeData holds the before/after snapshots and the computed field patch
type ChangeData struct {
	Before map[string]interface{} `json:"before"`
	After  map[string]interface{} `json:"after"`
	Patch  map[string]interface{} `json:"patch"`
}

// EntityChange identifies the entity a change event is about
type EntityChange struct {
	Kind EntityKind `json:"kind"`
	ID   string     `json:"id"`
	Type string     `json:"type"`
	Data ChangeData `json:"data"`
}

// SubscriptionRef identifies the subscription an event copy was routed to
type SubscriptionRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// ChangeEvent is the immutable record of one graph mutation. It is created
// once by the graph service at emission time and never mutated afterward;
// the dispatcher stamps subscription identity onto copies only.
type ChangeEvent struct {
	EventID      string           `json:"event_id"`
	EventType    string           `json:"event_type"`
	Kind         EntityKind       `json:"-"`
	Operation    Operation        `json:"-"`
	OccurredAt   time.Time        `json:"occurred_at"`
	Origin       Origin           `json:"origin"`
	Entity       EntityChange     `json:"entity"`
	Subscription *SubscriptionRef `json:"subscription"`
}

// WithSubscription returns a copy of the event stamped with subscription
// identity. The original is left untouched.
func (e ChangeEvent) WithSubscription(ref SubscriptionRef) ChangeEvent {
	stamped := e
	stamped.Subscription = &ref
	return stamped
}

func newEvent(kind EntityKind, op Operation, id, entityType string, origin Origin, data ChangeData) ChangeEvent {
	return ChangeEvent{
		EventID:    uuid.New().String(),
		EventType:  string(kind) + "." + string(op),
		Kind:       kind,
		Operation:  op,
		OccurredAt: time.Now().UTC(),
		Origin:     origin,
		Entity: EntityChange{
			Kind: kind,
			ID:   id,
			Type: entityType,
			Data: data,
		},
	}
}

// NewNodeCreated records the creation of a node
func NewNodeCreated(n *entities.Node, origin Origin) ChangeEvent {
	return newEvent(KindNode, OpCreate, n.ID, n.Type, origin, ChangeData{After: n.Snapshot()})
}

// NewNodeUpdated records an update, carrying before/after snapshots and the
// patch of fields whose value actually changed
func NewNodeUpdated(before, after *entities.Node, origin Origin) ChangeEvent {
	b, a := before.Snapshot(), after.Snapshot()
	return newEvent(KindNode, OpUpdate, after.ID, after.Type, origin, ChangeData{
		Before: b,
		After:  a,
		Patch:  ComputePatch(b, a),
	})
}

// NewNodeDeleted records the deletion of a node
func NewNodeDeleted(n *entities.Node, origin Origin) ChangeEvent {
	return newEvent(KindNode, OpDelete, n.ID, n.Type, origin, ChangeData{Before: n.Snapshot()})
}

// NewEdgeCreated records the creation of an edge
func NewEdgeCreated(e *entities.Edge, origin Origin) ChangeEvent {
	return newEvent(KindEdge, OpCreate, e.ID, e.Type, origin, ChangeData{After: e.Snapshot()})
}

// NewEdgeUpdated records an edge update
func NewEdgeUpdated(before, after *entities.Edge, origin Origin) ChangeEvent {
	b, a := before.Snapshot(), after.Snapshot()
	return newEvent(KindEdge, OpUpdate, after.ID, after.Type, origin, ChangeData{
		Before: b,
		After:  a,
		Patch:  ComputePatch(b, a),
	})
}

// NewEdgeDeleted records the deletion of an edge
func NewEdgeDeleted(e *entities.Edge, origin Origin) ChangeEvent {
	return newEvent(KindEdge, OpDelete, e.ID, e.Type, origin, ChangeData{Before: e.Snapshot()})
}

// ComputePatch returns the subset of after whose values differ from before.
// Timestamps are bookkeeping, not content, so updated_at is excluded; an
// update that changes nothing yields an empty patch.
func ComputePatch(before, after map[string]interface{}) map[string]interface{} {
	patch := make(map[string]interface{})
	for key, afterVal := range after {
		if key == "updated_at" {
			continue
		}
		beforeVal, ok := before[key]
		if !ok || !reflect.DeepEqual(beforeVal, afterVal) {
			patch[key] = afterVal
		}
	}
	return patch
}
