package services

import (
	"context"
	"fmt"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"graphkb-backend/domain/core/entities"
	"graphkb-backend/domain/events"
	pkgerrors "graphkb-backend/pkg/errors"
)

// AddNodesResult reports the ids committed by AddNodes
type AddNodesResult struct {
	MutationResult
	NodeIDs []string `json:"node_ids"`
	EdgeIDs []string `json:"edge_ids"`
}

// UpdateNodeResult carries the node state after an update
type UpdateNodeResult struct {
	MutationResult
	Node *entities.Node `json:"node,omitempty"`
}

// DeleteNodesResult reports what a cascading delete removed
type DeleteNodesResult struct {
	MutationResult
	DeletedIDs      []string `json:"deleted_ids"`
	AffectedEdgeIDs []string `json:"affected_edge_ids"`
}

// EdgeResult carries the edge state after a single-edge mutation
type EdgeResult struct {
	MutationResult
	Edge *entities.Edge `json:"edge,omitempty"`
}

// AddNodes atomically inserts a batch of nodes and edges. Edges may
// reference batch members by id or name. Nothing is committed when any
// element fails validation. On success the graph is persisted first, then
// one create event is emitted per node and per edge, nodes before edges.
func (s *GraphService) AddNodes(ctx context.Context, nodeInputs []entities.NodeInput, edgeInputs []entities.EdgeInput, origin events.Origin) (*AddNodesResult, error) {
	ctx, span := s.tracer.Start(ctx, "GraphService.AddNodes",
		trace.WithAttributes(
			attribute.Int("graph.batch.nodes", len(nodeInputs)),
			attribute.Int("graph.batch.edges", len(edgeInputs)),
		),
	)
	defer span.End()

	started := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()

	result, err := s.addNodesLocked(ctx, nodeInputs, edgeInputs, origin)
	if s.metrics != nil {
		s.metrics.ObserveMutation("add_nodes", started, err)
	}
	s.recordSpanError(span, err)
	return result, err
}

func (s *GraphService) addNodesLocked(ctx context.Context, nodeInputs []entities.NodeInput, edgeInputs []entities.EdgeInput, origin events.Origin) (*AddNodesResult, error) {
	if err := s.checkOpenLocked(); err != nil {
		return &AddNodesResult{MutationResult: failResult(err)}, err
	}

	var (
		addedNodes []*entities.Node
		addedEdges []*entities.Edge
	)
	rollback := func() {
		for i := len(addedEdges) - 1; i >= 0; i-- {
			s.graph.RemoveEdge(addedEdges[i].ID)
		}
		for i := len(addedNodes) - 1; i >= 0; i-- {
			s.graph.RemoveNode(addedNodes[i].ID)
		}
	}

	for _, input := range nodeInputs {
		node, err := entities.NewNode(input, s.types)
		if err == nil {
			err = s.graph.AddNode(node)
		}
		if err != nil {
			rollback()
			return &AddNodesResult{MutationResult: failResult(err)}, err
		}
		addedNodes = append(addedNodes, node)
	}

	for _, input := range edgeInputs {
		edge, err := s.buildEdgeLocked(input)
		if err == nil {
			err = s.graph.AddEdge(edge)
		}
		if err != nil {
			rollback()
			return &AddNodesResult{MutationResult: failResult(err)}, err
		}
		addedEdges = append(addedEdges, edge)
	}

	if err := s.persistLocked(ctx); err != nil {
		rollback()
		return &AddNodesResult{MutationResult: failResult(err)}, err
	}

	// Nodes before edges: consumers reconstructing state incrementally must
	// never see an edge whose endpoints they have not seen yet.
	evs := make([]events.ChangeEvent, 0, len(addedNodes)+len(addedEdges))
	for _, n := range addedNodes {
		evs = append(evs, events.NewNodeCreated(n, origin))
		s.invalidateSubscriptionsLocked(n.Type)
	}
	for _, e := range addedEdges {
		evs = append(evs, events.NewEdgeCreated(e, origin))
	}
	s.emitLocked(evs)

	if s.metrics != nil {
		s.metrics.NodesCreated.Add(float64(len(addedNodes)))
		s.metrics.EdgesCreated.Add(float64(len(addedEdges)))
	}

	result := &AddNodesResult{MutationResult: okResult()}
	for _, n := range addedNodes {
		result.NodeIDs = append(result.NodeIDs, n.ID)
	}
	for _, e := range addedEdges {
		result.EdgeIDs = append(result.EdgeIDs, e.ID)
	}
	return result, nil
}

// buildEdgeLocked resolves endpoint references (id or name) against the
// current graph and constructs the edge with canonical ids
func (s *GraphService) buildEdgeLocked(input entities.EdgeInput) (*entities.Edge, error) {
	sourceID, err := s.graph.ResolveNode(input.Source)
	if err != nil {
		return nil, err
	}
	targetID, err := s.graph.ResolveNode(input.Target)
	if err != nil {
		return nil, err
	}
	return entities.NewEdge(input, sourceID, targetID, s.types)
}

// UpdateNode applies a field-update map to a node. Only name, description,
// summary, tags, subtypes and metadata are mutable; unknown fields are
// ignored silently. The update event carries before/after snapshots and a
// patch of the fields whose value actually changed, which is empty when the
// payload matched the current state.
func (s *GraphService) UpdateNode(ctx context.Context, id string, fields map[string]interface{}, origin events.Origin) (*UpdateNodeResult, error) {
	ctx, span := s.tracer.Start(ctx, "GraphService.UpdateNode",
		trace.WithAttributes(attribute.String("graph.node.id", id)),
	)
	defer span.End()

	started := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()

	result, err := s.updateNodeLocked(ctx, id, fields, origin)
	if s.metrics != nil {
		s.metrics.ObserveMutation("update_node", started, err)
	}
	s.recordSpanError(span, err)
	return result, err
}

func (s *GraphService) updateNodeLocked(ctx context.Context, id string, fields map[string]interface{}, origin events.Origin) (*UpdateNodeResult, error) {
	if err := s.checkOpenLocked(); err != nil {
		return &UpdateNodeResult{MutationResult: failResult(err)}, err
	}

	node := s.graph.Node(id)
	if node == nil {
		err := pkgerrors.NewNotFoundError(fmt.Sprintf("node '%s'", id))
		return &UpdateNodeResult{MutationResult: failResult(err)}, err
	}

	before := node.Clone()
	if err := s.applyNodeFields(node, fields); err != nil {
		s.restoreNode(node, before)
		return &UpdateNodeResult{MutationResult: failResult(err)}, err
	}
	if node.Name != before.Name {
		s.graph.Rename(node, before.Name)
	}
	node.Touch()

	if err := s.persistLocked(ctx); err != nil {
		failedName := node.Name
		s.restoreNode(node, before)
		if failedName != before.Name {
			s.graph.Rename(node, failedName)
		}
		return &UpdateNodeResult{MutationResult: failResult(err)}, err
	}

	s.invalidateSubscriptionsLocked(node.Type)
	s.emitLocked([]events.ChangeEvent{events.NewNodeUpdated(before, node, origin)})

	return &UpdateNodeResult{MutationResult: okResult(), Node: node.Clone()}, nil
}

// applyNodeFields mutates the node in place from the allow-listed fields
func (s *GraphService) applyNodeFields(node *entities.Node, fields map[string]interface{}) error {
	for key, value := range fields {
		switch key {
		case "name":
			name, ok := value.(string)
			if !ok {
				return pkgerrors.NewValidationError("name must be a string")
			}
			if n := utf8.RuneCountInString(name); n < s.cfg.MinNameLength || n > s.cfg.MaxNameLength {
				return pkgerrors.NewValidationError(fmt.Sprintf("name must be %d-%d characters", s.cfg.MinNameLength, s.cfg.MaxNameLength))
			}
			node.Name = name
		case "description":
			desc, ok := value.(string)
			if !ok {
				return pkgerrors.NewValidationError("description must be a string")
			}
			if utf8.RuneCountInString(desc) > s.cfg.MaxDescriptionLength {
				return pkgerrors.NewValidationError(fmt.Sprintf("description exceeds %d characters", s.cfg.MaxDescriptionLength))
			}
			node.Description = desc
		case "summary":
			sum, ok := value.(string)
			if !ok {
				return pkgerrors.NewValidationError("summary must be a string")
			}
			if utf8.RuneCountInString(sum) > s.cfg.MaxSummaryLength {
				return pkgerrors.NewValidationError(fmt.Sprintf("summary exceeds %d characters", s.cfg.MaxSummaryLength))
			}
			node.Summary = sum
		case "tags":
			tags, ok := toStringSlice(value)
			if !ok {
				return pkgerrors.NewValidationError("tags must be a list of strings")
			}
			node.Tags = tags
		case "subtypes":
			subtypes, ok := toStringSlice(value)
			if !ok {
				return pkgerrors.NewValidationError("subtypes must be a list of strings")
			}
			node.Subtypes = subtypes
		case "metadata":
			meta, ok := value.(map[string]interface{})
			if !ok {
				return pkgerrors.NewValidationError("metadata must be an object")
			}
			// Copy so later caller-side writes cannot reach committed state
			node.Metadata = entities.CloneMetadata(meta)
		default:
			// Immutable or unknown fields are ignored silently
		}
	}
	return nil
}

func (s *GraphService) restoreNode(node, saved *entities.Node) {
	*node = *saved.Clone()
}

// DeleteNodes removes up to MaxDeleteBatch nodes, cascading over incident
// edges. Refuses without confirmed. Edge-delete events for every affected
// edge are emitted strictly before any node-delete event, so consumers never
// see a dangling edge reference.
func (s *GraphService) DeleteNodes(ctx context.Context, ids []string, confirmed bool, origin events.Origin) (*DeleteNodesResult, error) {
	ctx, span := s.tracer.Start(ctx, "GraphService.DeleteNodes",
		trace.WithAttributes(
			attribute.Int("graph.batch.nodes", len(ids)),
			attribute.Bool("graph.delete.confirmed", confirmed),
		),
	)
	defer span.End()

	started := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()

	result, err := s.deleteNodesLocked(ctx, ids, confirmed, origin)
	if s.metrics != nil {
		s.metrics.ObserveMutation("delete_nodes", started, err)
	}
	s.recordSpanError(span, err)
	return result, err
}

func (s *GraphService) deleteNodesLocked(ctx context.Context, ids []string, confirmed bool, origin events.Origin) (*DeleteNodesResult, error) {
	if err := s.checkOpenLocked(); err != nil {
		return &DeleteNodesResult{MutationResult: failResult(err)}, err
	}
	if len(ids) > s.cfg.MaxDeleteBatch {
		err := pkgerrors.NewPolicyError(fmt.Sprintf("refusing to delete %d nodes in one call, the cap is %d", len(ids), s.cfg.MaxDeleteBatch))
		return &DeleteNodesResult{MutationResult: failResult(err)}, err
	}
	if !confirmed {
		err := pkgerrors.NewPolicyError("node deletion requires confirmation")
		return &DeleteNodesResult{MutationResult: failResult(err)}, err
	}

	seen := make(map[string]struct{}, len(ids))
	targets := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		if !s.graph.HasNode(id) {
			err := pkgerrors.NewNotFoundError(fmt.Sprintf("node '%s'", id))
			return &DeleteNodesResult{MutationResult: failResult(err)}, err
		}
		targets = append(targets, id)
	}

	// Cascade: edges first, deduplicated across the target set
	edgeSeen := make(map[string]struct{})
	var removedEdges []*entities.Edge
	for _, id := range targets {
		for _, edgeID := range s.graph.IncidentEdges(id) {
			if _, dup := edgeSeen[edgeID]; dup {
				continue
			}
			edgeSeen[edgeID] = struct{}{}
			if e := s.graph.RemoveEdge(edgeID); e != nil {
				removedEdges = append(removedEdges, e)
			}
		}
	}
	var removedNodes []*entities.Node
	for _, id := range targets {
		if n := s.graph.RemoveNode(id); n != nil {
			removedNodes = append(removedNodes, n)
		}
	}

	if err := s.persistLocked(ctx); err != nil {
		for _, n := range removedNodes {
			s.graph.AddNode(n)
		}
		for _, e := range removedEdges {
			s.graph.AddEdge(e)
		}
		return &DeleteNodesResult{MutationResult: failResult(err)}, err
	}

	evs := make([]events.ChangeEvent, 0, len(removedEdges)+len(removedNodes))
	for _, e := range removedEdges {
		evs = append(evs, events.NewEdgeDeleted(e, origin))
	}
	for _, n := range removedNodes {
		evs = append(evs, events.NewNodeDeleted(n, origin))
		s.invalidateSubscriptionsLocked(n.Type)
	}
	s.emitLocked(evs)

	if s.metrics != nil {
		s.metrics.NodesDeleted.Add(float64(len(removedNodes)))
		s.metrics.EdgesDeleted.Add(float64(len(removedEdges)))
	}

	result := &DeleteNodesResult{MutationResult: okResult()}
	for _, n := range removedNodes {
		result.DeletedIDs = append(result.DeletedIDs, n.ID)
	}
	for _, e := range removedEdges {
		result.AffectedEdgeIDs = append(result.AffectedEdgeIDs, e.ID)
	}
	return result, nil
}

// AddEdge inserts a single edge. Endpoints may be ids or names.
func (s *GraphService) AddEdge(ctx context.Context, input entities.EdgeInput, origin events.Origin) (*EdgeResult, error) {
	ctx, span := s.tracer.Start(ctx, "GraphService.AddEdge")
	defer span.End()

	started := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()

	result, err := s.addEdgeLocked(ctx, input, origin)
	if s.metrics != nil {
		s.metrics.ObserveMutation("add_edge", started, err)
	}
	s.recordSpanError(span, err)
	return result, err
}

func (s *GraphService) addEdgeLocked(ctx context.Context, input entities.EdgeInput, origin events.Origin) (*EdgeResult, error) {
	if err := s.checkOpenLocked(); err != nil {
		return &EdgeResult{MutationResult: failResult(err)}, err
	}

	edge, err := s.buildEdgeLocked(input)
	if err == nil {
		err = s.graph.AddEdge(edge)
	}
	if err != nil {
		return &EdgeResult{MutationResult: failResult(err)}, err
	}

	if err := s.persistLocked(ctx); err != nil {
		s.graph.RemoveEdge(edge.ID)
		return &EdgeResult{MutationResult: failResult(err)}, err
	}

	s.emitLocked([]events.ChangeEvent{events.NewEdgeCreated(edge, origin)})
	if s.metrics != nil {
		s.metrics.EdgesCreated.Inc()
	}
	return &EdgeResult{MutationResult: okResult(), Edge: edge.Clone()}, nil
}

// UpdateEdge applies a field-update map to an edge. Label, metadata and type
// are mutable; endpoints are not.
func (s *GraphService) UpdateEdge(ctx context.Context, id string, fields map[string]interface{}, origin events.Origin) (*EdgeResult, error) {
	ctx, span := s.tracer.Start(ctx, "GraphService.UpdateEdge",
		trace.WithAttributes(attribute.String("graph.edge.id", id)),
	)
	defer span.End()

	started := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()

	result, err := s.updateEdgeLocked(ctx, id, fields, origin)
	if s.metrics != nil {
		s.metrics.ObserveMutation("update_edge", started, err)
	}
	s.recordSpanError(span, err)
	return result, err
}

func (s *GraphService) updateEdgeLocked(ctx context.Context, id string, fields map[string]interface{}, origin events.Origin) (*EdgeResult, error) {
	if err := s.checkOpenLocked(); err != nil {
		return &EdgeResult{MutationResult: failResult(err)}, err
	}

	edge := s.graph.Edge(id)
	if edge == nil {
		err := pkgerrors.NewNotFoundError(fmt.Sprintf("edge '%s'", id))
		return &EdgeResult{MutationResult: failResult(err)}, err
	}

	before := edge.Clone()
	for key, value := range fields {
		switch key {
		case "label":
			label, ok := value.(string)
			if !ok {
				*edge = *before
				err := pkgerrors.NewValidationError("label must be a string")
				return &EdgeResult{MutationResult: failResult(err)}, err
			}
			edge.Label = label
		case "type":
			edgeType, ok := value.(string)
			if !ok {
				*edge = *before
				err := pkgerrors.NewValidationError("type must be a string")
				return &EdgeResult{MutationResult: failResult(err)}, err
			}
			if err := s.types.ValidateEdgeType(edgeType); err != nil {
				*edge = *before
				verr := pkgerrors.NewValidationError(err.Error())
				return &EdgeResult{MutationResult: failResult(verr)}, verr
			}
			edge.Type = edgeType
		case "metadata":
			meta, ok := value.(map[string]interface{})
			if !ok {
				*edge = *before
				err := pkgerrors.NewValidationError("metadata must be an object")
				return &EdgeResult{MutationResult: failResult(err)}, err
			}
			edge.Metadata = entities.CloneMetadata(meta)
		default:
			// Endpoints and bookkeeping fields are not mutable
		}
	}

	if err := s.persistLocked(ctx); err != nil {
		*edge = *before
		return &EdgeResult{MutationResult: failResult(err)}, err
	}

	s.emitLocked([]events.ChangeEvent{events.NewEdgeUpdated(before, edge, origin)})
	return &EdgeResult{MutationResult: okResult(), Edge: edge.Clone()}, nil
}

// DeleteEdge removes a single edge
func (s *GraphService) DeleteEdge(ctx context.Context, id string, origin events.Origin) (*EdgeResult, error) {
	ctx, span := s.tracer.Start(ctx, "GraphService.DeleteEdge",
		trace.WithAttributes(attribute.String("graph.edge.id", id)),
	)
	defer span.End()

	started := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()

	result, err := s.deleteEdgeLocked(ctx, id, origin)
	if s.metrics != nil {
		s.metrics.ObserveMutation("delete_edge", started, err)
	}
	s.recordSpanError(span, err)
	return result, err
}

func (s *GraphService) deleteEdgeLocked(ctx context.Context, id string, origin events.Origin) (*EdgeResult, error) {
	if err := s.checkOpenLocked(); err != nil {
		return &EdgeResult{MutationResult: failResult(err)}, err
	}

	edge := s.graph.RemoveEdge(id)
	if edge == nil {
		err := pkgerrors.NewNotFoundError(fmt.Sprintf("edge '%s'", id))
		return &EdgeResult{MutationResult: failResult(err)}, err
	}

	if err := s.persistLocked(ctx); err != nil {
		s.graph.AddEdge(edge)
		return &EdgeResult{MutationResult: failResult(err)}, err
	}

	s.emitLocked([]events.ChangeEvent{events.NewEdgeDeleted(edge, origin)})
	if s.metrics != nil {
		s.metrics.EdgesDeleted.Inc()
	}
	return &EdgeResult{MutationResult: okResult(), Edge: edge}, nil
}

// ReplaceEdge swaps an edge's content by removing it and inserting a
// replacement in one persisted step. The event stream carries an edge-delete
// followed by an edge-create rather than an update; federation-driven merges
// have always surfaced replacement this way and external consumers depend on
// the delete+create pair.
func (s *GraphService) ReplaceEdge(ctx context.Context, id string, input entities.EdgeInput, origin events.Origin) (*EdgeResult, error) {
	ctx, span := s.tracer.Start(ctx, "GraphService.ReplaceEdge",
		trace.WithAttributes(attribute.String("graph.edge.id", id)),
	)
	defer span.End()

	started := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()

	result, err := s.replaceEdgeLocked(ctx, id, input, origin)
	if s.metrics != nil {
		s.metrics.ObserveMutation("replace_edge", started, err)
	}
	s.recordSpanError(span, err)
	return result, err
}

func (s *GraphService) replaceEdgeLocked(ctx context.Context, id string, input entities.EdgeInput, origin events.Origin) (*EdgeResult, error) {
	if err := s.checkOpenLocked(); err != nil {
		return &EdgeResult{MutationResult: failResult(err)}, err
	}

	old := s.graph.RemoveEdge(id)
	if old == nil {
		err := pkgerrors.NewNotFoundError(fmt.Sprintf("edge '%s'", id))
		return &EdgeResult{MutationResult: failResult(err)}, err
	}

	replacement, err := s.buildEdgeLocked(input)
	if err == nil {
		err = s.graph.AddEdge(replacement)
	}
	if err != nil {
		s.graph.AddEdge(old)
		return &EdgeResult{MutationResult: failResult(err)}, err
	}

	if err := s.persistLocked(ctx); err != nil {
		s.graph.RemoveEdge(replacement.ID)
		s.graph.AddEdge(old)
		return &EdgeResult{MutationResult: failResult(err)}, err
	}

	s.emitLocked([]events.ChangeEvent{
		events.NewEdgeDeleted(old, origin),
		events.NewEdgeCreated(replacement, origin),
	})
	return &EdgeResult{MutationResult: okResult(), Edge: replacement.Clone()}, nil
}

func toStringSlice(v interface{}) ([]string, bool) {
	switch vv := v.(type) {
	case []string:
		return append([]string(nil), vv...), true
	case []interface{}:
		out := make([]string, 0, len(vv))
		for _, item := range vv {
			s, ok := item.(string)
			if !ok {
				return nil, false
			}
			out = append(out, s)
		}
		return out, true
	default:
		return nil, false
	}
}
