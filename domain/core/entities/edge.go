package entities

import (
	"time"

	"github.com/google/uuid"

	pkgerrors "graphkb-backend/pkg/errors"
)

// Edge represents a typed, directed connection between two nodes
type Edge struct {
	ID        string                 `json:"id"`
	SourceID  string                 `json:"source_id"`
	TargetID  string                 `json:"target_id"`
	Type      string                 `json:"type"`
	Label     string                 `json:"label,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt time.Time              `json:"created_at"`
}

// EdgeInput carries the caller-supplied fields for creating an edge.
// Source and Target may be node ids or node names; the graph store rewrites
// them to canonical ids before the edge is committed.
type EdgeInput struct {
	ID       string                 `json:"id,omitempty"`
	Source   string                 `json:"source" validate:"required"`
	Target   string                 `json:"target" validate:"required"`
	Type     string                 `json:"type,omitempty"`
	Label    string                 `json:"label,omitempty"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// NewEdge creates an edge between two resolved node ids
func NewEdge(input EdgeInput, sourceID, targetID string, types TypeValidator) (*Edge, error) {
	if err := validate.Struct(input); err != nil {
		return nil, pkgerrors.NewValidationError("invalid edge payload").WithCause(err)
	}

	edgeType := input.Type
	if edgeType == "" {
		edgeType = DefaultEdgeType
	}
	if err := types.ValidateEdgeType(edgeType); err != nil {
		return nil, pkgerrors.NewValidationError(err.Error())
	}

	id := input.ID
	if id == "" {
		id = uuid.New().String()
	}

	return &Edge{
		ID:        id,
		SourceID:  sourceID,
		TargetID:  targetID,
		Type:      edgeType,
		Label:     input.Label,
		Metadata:  CloneMetadata(input.Metadata),
		CreatedAt: time.Now().UTC(),
	}, nil
}

// Clone returns a deep copy of the edge
func (e *Edge) Clone() *Edge {
	c := *e
	c.Metadata = CloneMetadata(e.Metadata)
	return &c
}

// Snapshot renders the edge as a flat map for event payloads
func (e *Edge) Snapshot() map[string]interface{} {
	return map[string]interface{}{
		"id":         e.ID,
		"source_id":  e.SourceID,
		"target_id":  e.TargetID,
		"type":       e.Type,
		"label":      e.Label,
		"metadata":   CloneMetadata(e.Metadata),
		"created_at": e.CreatedAt.Format(time.RFC3339),
	}
}

// Touches reports whether the edge is incident to the given node id
func (e *Edge) Touches(nodeID string) bool {
	return e.SourceID == nodeID || e.TargetID == nodeID
}
