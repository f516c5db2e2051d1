package entities

import (
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	pkgerrors "graphkb-backend/pkg/errors"
)

var validate = validator.New()

// Node is the main entity representing one unit of knowledge
type Node struct {
	ID          string                 `json:"id"`
	Type        string                 `json:"type"`
	Name        string                 `json:"name"`
	Description string                 `json:"description,omitempty"`
	Summary     string                 `json:"summary,omitempty"`
	Tags        []string               `json:"tags,omitempty"`
	Subtypes    []string               `json:"subtypes,omitempty"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
	Embedding   []float32              `json:"embedding,omitempty"`
	CreatedAt   time.Time              `json:"created_at"`
	UpdatedAt   time.Time              `json:"updated_at"`
}

// NodeInput carries the caller-supplied fields for creating a node
type NodeInput struct {
	ID          string                 `json:"id,omitempty"`
	Type        string                 `json:"type" validate:"required"`
	Name        string                 `json:"name" validate:"required,min=1,max=200"`
	Description string                 `json:"description,omitempty" validate:"max=2000"`
	Summary     string                 `json:"summary,omitempty" validate:"max=300"`
	Tags        []string               `json:"tags,omitempty"`
	Subtypes    []string               `json:"subtypes,omitempty"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
	Embedding   []float32              `json:"embedding,omitempty"`
}

// NewNode creates a node from caller input with full validation.
// The id is generated here unless the caller supplied one, which is how
// federation replays preserve remote identity.
func NewNode(input NodeInput, types TypeValidator) (*Node, error) {
	if err := validate.Struct(input); err != nil {
		return nil, pkgerrors.NewValidationError("invalid node payload").WithCause(err)
	}
	if err := types.ValidateNodeType(input.Type); err != nil {
		return nil, pkgerrors.NewValidationError(err.Error())
	}

	id := input.ID
	if id == "" {
		id = uuid.New().String()
	}

	now := time.Now().UTC()
	return &Node{
		ID:          id,
		Type:        input.Type,
		Name:        input.Name,
		Description: input.Description,
		Summary:     input.Summary,
		Tags:        append([]string(nil), input.Tags...),
		Subtypes:    append([]string(nil), input.Subtypes...),
		Metadata:    CloneMetadata(input.Metadata),
		Embedding:   append([]float32(nil), input.Embedding...),
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// Clone returns a deep copy of the node
func (n *Node) Clone() *Node {
	c := *n
	c.Tags = append([]string(nil), n.Tags...)
	c.Subtypes = append([]string(nil), n.Subtypes...)
	c.Metadata = CloneMetadata(n.Metadata)
	c.Embedding = append([]float32(nil), n.Embedding...)
	return &c
}

// Snapshot renders the node as a flat map for event payloads and patch
// computation. The embedding is omitted: it is opaque to consumers and can be
// large.
func (n *Node) Snapshot() map[string]interface{} {
	return map[string]interface{}{
		"id":          n.ID,
		"type":        n.Type,
		"name":        n.Name,
		"description": n.Description,
		"summary":     n.Summary,
		"tags":        append([]string(nil), n.Tags...),
		"subtypes":    append([]string(nil), n.Subtypes...),
		"metadata":    CloneMetadata(n.Metadata),
		"created_at":  n.CreatedAt.Format(time.RFC3339),
		"updated_at":  n.UpdatedAt.Format(time.RFC3339),
	}
}

// SearchText returns the node fields that participate in text search
func (n *Node) SearchText() []string {
	fields := []string{n.Name, n.Description, n.Summary}
	fields = append(fields, n.Tags...)
	fields = append(fields, n.Subtypes...)
	return fields
}

// Touch updates the modification timestamp
func (n *Node) Touch() {
	n.UpdatedAt = time.Now().UTC()
}

// CloneMetadata returns a shallow copy of a metadata map. Constructors and
// update paths copy caller-supplied maps before storing them.
func CloneMetadata(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return nil
	}
	c := make(map[string]interface{}, len(m))
	for k, v := range m {
		c[k] = v
	}
	return c
}
