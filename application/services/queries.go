package services

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"graphkb-backend/domain/core/entities"
	pkgerrors "graphkb-backend/pkg/errors"
)

// RelatedNodes is the result of a breadth-first neighborhood expansion
type RelatedNodes struct {
	Nodes []*entities.Node `json:"nodes"`
	Edges []*entities.Edge `json:"edges"`
}

// SimilarNode is one duplicate-detection candidate with its merged score
type SimilarNode struct {
	Node   *entities.Node `json:"node"`
	Score  float64        `json:"score"`
	Signal string         `json:"signal"`
}

// Signal constants for similarity results
const (
	SignalLexical  = "lexical"
	SignalSemantic = "semantic"
)

// GetNode returns a copy of the node with the given id
func (s *GraphService) GetNode(id string) (*entities.Node, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	node := s.graph.Node(id)
	if node == nil {
		return nil, pkgerrors.NewNotFoundError(fmt.Sprintf("node '%s'", id))
	}
	return node.Clone(), nil
}

// SearchNodes matches nodes by case-insensitive substring across name,
// description, summary, tags and subtypes. An empty query or "*" matches
// everything, subject to the type filter and limit.
func (s *GraphService) SearchNodes(query, typeFilter string, limit int) []*entities.Node {
	s.mu.Lock()
	defer s.mu.Unlock()

	if limit <= 0 || limit > s.cfg.MaxSearchLimit {
		limit = s.cfg.DefaultSearchLimit
	}

	matchAll := query == "" || query == "*"
	needle := strings.ToLower(query)

	var out []*entities.Node
	for _, node := range s.graph.Nodes() {
		if typeFilter != "" && !strings.EqualFold(node.Type, typeFilter) {
			continue
		}
		if !matchAll && !matchesText(node, needle) {
			continue
		}
		out = append(out, node.Clone())
		if len(out) >= limit {
			break
		}
	}
	return out
}

func matchesText(node *entities.Node, needle string) bool {
	for _, field := range node.SearchText() {
		if strings.Contains(strings.ToLower(field), needle) {
			return true
		}
	}
	return false
}

// GetRelatedNodes expands breadth-first over outgoing and incoming edges up
// to depth hops, filtered by relationship type when given. The start node is
// included as the root of the search; every traversed edge is returned once.
func (s *GraphService) GetRelatedNodes(id string, relTypes []string, depth int) (*RelatedNodes, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := s.graph.Node(id)
	if start == nil {
		return nil, pkgerrors.NewNotFoundError(fmt.Sprintf("node '%s'", id))
	}
	if depth <= 0 || depth > s.cfg.MaxTraversalDepth {
		depth = 1
	}

	visited := map[string]struct{}{id: {}}
	traversed := map[string]struct{}{}
	result := &RelatedNodes{Nodes: []*entities.Node{start.Clone()}}

	frontier := []string{id}
	for hop := 0; hop < depth && len(frontier) > 0; hop++ {
		var next []string
		for _, nodeID := range frontier {
			for _, edgeID := range s.graph.IncidentEdges(nodeID) {
				edge := s.graph.Edge(edgeID)
				if edge == nil {
					continue
				}
				if len(relTypes) > 0 && !containsTypeFold(relTypes, edge.Type) {
					continue
				}
				if _, seen := traversed[edgeID]; !seen {
					traversed[edgeID] = struct{}{}
					result.Edges = append(result.Edges, edge.Clone())
				}

				other := edge.TargetID
				if other == nodeID {
					other = edge.SourceID
				}
				if _, seen := visited[other]; seen {
					continue
				}
				visited[other] = struct{}{}
				if n := s.graph.Node(other); n != nil {
					result.Nodes = append(result.Nodes, n.Clone())
					next = append(next, other)
				}
			}
		}
		frontier = next
	}
	return result, nil
}

// FindSimilarNodes merges two independent signals: an edit-distance lexical
// score against node names and the external similarity scorer. Results are
// deduplicated by node id with the lexical match winning, sorted descending
// by score and truncated to limit. Used for duplicate detection before
// insertion.
func (s *GraphService) FindSimilarNodes(ctx context.Context, name, typeFilter string, threshold float64, limit int) ([]SimilarNode, error) {
	if threshold <= 0 {
		threshold = s.cfg.SimilarityThreshold
	}
	if limit <= 0 {
		limit = s.cfg.SimilarityLimit
	}

	s.mu.Lock()
	byID := make(map[string]SimilarNode)
	needle := strings.ToLower(name)
	for _, node := range s.graph.Nodes() {
		if typeFilter != "" && !strings.EqualFold(node.Type, typeFilter) {
			continue
		}
		score := lexicalScore(needle, strings.ToLower(node.Name))
		if score >= threshold {
			byID[node.ID] = SimilarNode{Node: node.Clone(), Score: score, Signal: SignalLexical}
		}
	}
	s.mu.Unlock()

	// The semantic signal runs without the service lock held: the scorer may
	// be slow and only reads its own index.
	if s.scorer != nil {
		scored, err := s.scorer.Search(ctx, name, limit, threshold)
		if err != nil {
			s.logger.Warn("similarity scorer search failed", zap.Error(err))
		}
		s.mu.Lock()
		for _, hit := range scored {
			if _, lexicalWins := byID[hit.NodeID]; lexicalWins {
				continue
			}
			if node := s.graph.Node(hit.NodeID); node != nil {
				if typeFilter != "" && !strings.EqualFold(node.Type, typeFilter) {
					continue
				}
				byID[hit.NodeID] = SimilarNode{Node: node.Clone(), Score: hit.Score, Signal: SignalSemantic}
			}
		}
		s.mu.Unlock()
	}

	results := make([]SimilarNode, 0, len(byID))
	for _, candidate := range byID {
		results = append(results, candidate)
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Node.ID < results[j].Node.ID
	})
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// FindSimilarNodesBatch runs duplicate detection for several names at once
func (s *GraphService) FindSimilarNodesBatch(ctx context.Context, names []string, typeFilter string, threshold float64, limit int) (map[string][]SimilarNode, error) {
	out := make(map[string][]SimilarNode, len(names))
	for _, name := range names {
		matches, err := s.FindSimilarNodes(ctx, name, typeFilter, threshold, limit)
		if err != nil {
			return nil, err
		}
		out[name] = matches
	}
	return out, nil
}

func containsTypeFold(list []string, v string) bool {
	for _, item := range list {
		if strings.EqualFold(item, v) {
			return true
		}
	}
	return false
}

// lexicalScore is 1 - distance/max(len), the edit-distance ratio
func lexicalScore(a, b string) float64 {
	if a == b {
		return 1
	}
	maxLen := len(a)
	if len(b) > maxLen {
		maxLen = len(b)
	}
	if maxLen == 0 {
		return 1
	}
	return 1 - float64(levenshteinDistance(a, b))/float64(maxLen)
}

// levenshteinDistance calculates the Levenshtein distance between two strings
func levenshteinDistance(s1, s2 string) int {
	if len(s1) == 0 {
		return len(s2)
	}
	if len(s2) == 0 {
		return len(s1)
	}

	prev := make([]int, len(s2)+1)
	curr := make([]int, len(s2)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(s1); i++ {
		curr[0] = i
		for j := 1; j <= len(s2); j++ {
			cost := 1
			if s1[i-1] == s2[j-1] {
				cost = 0
			}
			curr[j] = min3(curr[j-1]+1, prev[j]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(s2)]
}

func min3(a, b, c int) int {
	if b < a {
		a = b
	}
	if c < a {
		a = c
	}
	return a
}
