package aggregates

import (
	"fmt"
	"strings"
	"time"

	"graphkb-backend/domain/core/entities"
	pkgerrors "graphkb-backend/pkg/errors"
)

// SchemaVersion is the persisted file format version
const SchemaVersion = "1.0"

// Metadata contains graph-level information
type Metadata struct {
	Version     string
	Name        string
	LastUpdated time.Time
}

// Graph is the aggregate root for the knowledge graph. It is a directed
// multigraph: nodes and edges live in flat maps keyed by id, with adjacency
// index lists per node pointing at edge ids. The aggregate is not
// self-locking; the graph service serializes all access.
type Graph struct {
	nodes     map[string]*entities.Node
	edges     map[string]*entities.Edge
	outgoing  map[string][]string
	incoming  map[string][]string
	nameIndex map[string][]string
	meta      Metadata
}

// NewGraph creates an empty graph aggregate
func NewGraph(name string) *Graph {
	return &Graph{
		nodes:     make(map[string]*entities.Node),
		edges:     make(map[string]*entities.Edge),
		outgoing:  make(map[string][]string),
		incoming:  make(map[string][]string),
		nameIndex: make(map[string][]string),
		meta: Metadata{
			Version:     SchemaVersion,
			Name:        name,
			LastUpdated: time.Now().UTC(),
		},
	}
}

// Meta returns the graph-level metadata
func (g *Graph) Meta() Metadata {
	return g.meta
}

// SetMeta replaces the graph-level metadata. Used by the persistence layer
// during reconstruction.
func (g *Graph) SetMeta(meta Metadata) {
	if meta.Version == "" {
		meta.Version = SchemaVersion
	}
	g.meta = meta
}

// Touch updates the last-updated timestamp
func (g *Graph) Touch() {
	g.meta.LastUpdated = time.Now().UTC()
}

// Node returns the node with the given id, or nil
func (g *Graph) Node(id string) *entities.Node {
	return g.nodes[id]
}

// Edge returns the edge with the given id, or nil
func (g *Graph) Edge(id string) *entities.Edge {
	return g.edges[id]
}

// HasNode reports whether a node with the given id exists
func (g *Graph) HasNode(id string) bool {
	_, ok := g.nodes[id]
	return ok
}

// Nodes returns all nodes. Callers must not retain the pointers across
// mutations; the graph service clones before handing nodes out.
func (g *Graph) Nodes() []*entities.Node {
	out := make([]*entities.Node, 0, len(g.nodes))
	for _, n := range g.nodes {
		out = append(out, n)
	}
	return out
}

// Edges returns all edges
func (g *Graph) Edges() []*entities.Edge {
	out := make([]*entities.Edge, 0, len(g.edges))
	for _, e := range g.edges {
		out = append(out, e)
	}
	return out
}

// NodeCount returns the number of nodes
func (g *Graph) NodeCount() int { return len(g.nodes) }

// EdgeCount returns the number of edges
func (g *Graph) EdgeCount() int { return len(g.edges) }

// AddNode inserts a node. Fails with a conflict error when the id is taken.
func (g *Graph) AddNode(n *entities.Node) error {
	if _, exists := g.nodes[n.ID]; exists {
		return pkgerrors.NewConflictError(fmt.Sprintf("node id '%s' already exists", n.ID))
	}
	g.nodes[n.ID] = n
	key := strings.ToLower(n.Name)
	g.nameIndex[key] = append(g.nameIndex[key], n.ID)
	return nil
}

// RemoveNode deletes a node from the arena and its name index entry.
// Incident edges must already have been removed by the caller; the cascade
// ordering is the graph service's responsibility.
func (g *Graph) RemoveNode(id string) *entities.Node {
	n, ok := g.nodes[id]
	if !ok {
		return nil
	}
	delete(g.nodes, id)
	delete(g.outgoing, id)
	delete(g.incoming, id)
	g.dropNameIndex(n)
	return n
}

// Rename updates the name index after a node's name changed
func (g *Graph) Rename(n *entities.Node, oldName string) {
	g.dropNameIndexEntry(strings.ToLower(oldName), n.ID)
	key := strings.ToLower(n.Name)
	g.nameIndex[key] = append(g.nameIndex[key], n.ID)
}

// ResolveNode resolves a node reference that may be an id or a name.
// Ids win over names. Name matching is case-insensitive and must be
// unambiguous.
func (g *Graph) ResolveNode(ref string) (string, error) {
	if _, ok := g.nodes[ref]; ok {
		return ref, nil
	}
	ids := g.nameIndex[strings.ToLower(ref)]
	switch len(ids) {
	case 0:
		return "", pkgerrors.NewValidationError(fmt.Sprintf("cannot resolve node reference '%s'", ref))
	case 1:
		return ids[0], nil
	default:
		return "", pkgerrors.NewValidationError(fmt.Sprintf("node name '%s' is ambiguous (%d matches), use an id", ref, len(ids)))
	}
}

// AddEdge inserts an edge. Both endpoints must exist.
func (g *Graph) AddEdge(e *entities.Edge) error {
	if _, exists := g.edges[e.ID]; exists {
		return pkgerrors.NewConflictError(fmt.Sprintf("edge id '%s' already exists", e.ID))
	}
	if _, ok := g.nodes[e.SourceID]; !ok {
		return pkgerrors.NewValidationError(fmt.Sprintf("edge source '%s' does not exist", e.SourceID))
	}
	if _, ok := g.nodes[e.TargetID]; !ok {
		return pkgerrors.NewValidationError(fmt.Sprintf("edge target '%s' does not exist", e.TargetID))
	}
	g.edges[e.ID] = e
	g.outgoing[e.SourceID] = append(g.outgoing[e.SourceID], e.ID)
	g.incoming[e.TargetID] = append(g.incoming[e.TargetID], e.ID)
	return nil
}

// RemoveEdge deletes an edge and its adjacency entries
func (g *Graph) RemoveEdge(id string) *entities.Edge {
	e, ok := g.edges[id]
	if !ok {
		return nil
	}
	delete(g.edges, id)
	g.outgoing[e.SourceID] = removeString(g.outgoing[e.SourceID], id)
	g.incoming[e.TargetID] = removeString(g.incoming[e.TargetID], id)
	return e
}

// IncidentEdges returns the ids of all edges touching the node, outgoing
// first, in insertion order
func (g *Graph) IncidentEdges(nodeID string) []string {
	out := append([]string(nil), g.outgoing[nodeID]...)
	for _, id := range g.incoming[nodeID] {
		// Self-loops appear in both lists once
		if e := g.edges[id]; e != nil && e.SourceID == e.TargetID {
			continue
		}
		out = append(out, id)
	}
	return out
}

func (g *Graph) dropNameIndex(n *entities.Node) {
	g.dropNameIndexEntry(strings.ToLower(n.Name), n.ID)
}

func (g *Graph) dropNameIndexEntry(key, id string) {
	g.nameIndex[key] = removeString(g.nameIndex[key], id)
	if len(g.nameIndex[key]) == 0 {
		delete(g.nameIndex, key)
	}
}

func removeString(list []string, v string) []string {
	for i, s := range list {
		if s == v {
			return append(list[:i], list[i+1:]...)
		}
	}
	return list
}
