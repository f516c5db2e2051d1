package entities

// DefaultEdgeType is used when an edge is created without an explicit type.
const DefaultEdgeType = "RELATES_TO"

// TypeValidator validates node and edge types against an externally supplied
// allow-list. The schema registry implements this; the domain never hard-codes
// the set of valid types, so new ones can be added without recompilation.
type TypeValidator interface {
	ValidateNodeType(nodeType string) error
	ValidateEdgeType(edgeType string) error
}

// AllowAllTypes is a TypeValidator that accepts every type. Used in tests and
// when no schema file is configured.
type AllowAllTypes struct{}

func (AllowAllTypes) ValidateNodeType(string) error { return nil }
func (AllowAllTypes) ValidateEdgeType(string) error { return nil }
