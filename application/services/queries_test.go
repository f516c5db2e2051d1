package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"graphkb-backend/application/ports"
	"graphkb-backend/domain/core/entities"
	"graphkb-backend/domain/events"
	pkgerrors "graphkb-backend/pkg/errors"
)

// stubScorer returns a canned semantic result set
type stubScorer struct {
	results []ports.ScoredNode
}

func (s *stubScorer) Score(ctx context.Context, text string) ([]float32, error) { return nil, nil }

func (s *stubScorer) Search(ctx context.Context, text string, limit int, threshold float64) ([]ports.ScoredNode, error) {
	return s.results, nil
}

func TestGetNode(t *testing.T) {
	svc, _ := newTestService(t)
	id := mustAddNode(t, svc, "Actor", "Tax Agency")

	got, err := svc.GetNode(id)
	require.NoError(t, err)
	assert.Equal(t, "Tax Agency", got.Name)

	// The returned node is a copy, not a window into the store
	got.Name = "mutated"
	again, err := svc.GetNode(id)
	require.NoError(t, err)
	assert.Equal(t, "Tax Agency", again.Name)

	_, err = svc.GetNode("no-such-id")
	require.Error(t, err)
	assert.True(t, pkgerrors.IsNotFound(err))
}

func TestSearchNodes(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.AddNodes(ctx, []entities.NodeInput{
		{Type: "Actor", Name: "Tax Agency", Description: "collects national revenue"},
		{Type: "Actor", Name: "Customs Office", Tags: []string{"border", "revenue"}},
		{Type: "Initiative", Name: "Digitization"},
	}, nil, events.Origin{})
	require.NoError(t, err)

	t.Run("substring across fields", func(t *testing.T) {
		results := svc.SearchNodes("revenue", "", 0)
		require.Len(t, results, 2)
	})

	t.Run("case-insensitive", func(t *testing.T) {
		results := svc.SearchNodes("TAX", "", 0)
		require.Len(t, results, 1)
		assert.Equal(t, "Tax Agency", results[0].Name)
	})

	t.Run("type filter", func(t *testing.T) {
		results := svc.SearchNodes("", "Initiative", 0)
		require.Len(t, results, 1)
		assert.Equal(t, "Digitization", results[0].Name)
	})

	t.Run("wildcard matches everything", func(t *testing.T) {
		assert.Len(t, svc.SearchNodes("*", "", 0), 3)
	})

	t.Run("limit respected", func(t *testing.T) {
		assert.Len(t, svc.SearchNodes("", "", 2), 2)
	})

	t.Run("no match", func(t *testing.T) {
		assert.Empty(t, svc.SearchNodes("zebra", "", 0))
	})
}

func TestGetRelatedNodes(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	// A -> B -> C, plus D attached to A with a different edge type
	a := mustAddNode(t, svc, "Actor", "A")
	b := mustAddNode(t, svc, "Actor", "B")
	c := mustAddNode(t, svc, "Actor", "C")
	d := mustAddNode(t, svc, "Actor", "D")

	_, err := svc.AddEdge(ctx, entities.EdgeInput{Source: a, Target: b, Type: "BELONGS_TO"}, events.Origin{})
	require.NoError(t, err)
	_, err = svc.AddEdge(ctx, entities.EdgeInput{Source: b, Target: c, Type: "BELONGS_TO"}, events.Origin{})
	require.NoError(t, err)
	_, err = svc.AddEdge(ctx, entities.EdgeInput{Source: d, Target: a, Type: "MENTIONS"}, events.Origin{})
	require.NoError(t, err)

	nodeIDs := func(r *RelatedNodes) []string {
		out := make([]string, 0, len(r.Nodes))
		for _, n := range r.Nodes {
			out = append(out, n.ID)
		}
		return out
	}

	t.Run("depth one, both directions", func(t *testing.T) {
		related, err := svc.GetRelatedNodes(a, nil, 1)
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{a, b, d}, nodeIDs(related))
		assert.Len(t, related.Edges, 2)
		// The start node leads the result
		assert.Equal(t, a, related.Nodes[0].ID)
	})

	t.Run("depth two reaches transitive neighbors", func(t *testing.T) {
		related, err := svc.GetRelatedNodes(a, nil, 2)
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{a, b, c, d}, nodeIDs(related))
		assert.Len(t, related.Edges, 3)
	})

	t.Run("relationship type filter", func(t *testing.T) {
		related, err := svc.GetRelatedNodes(a, []string{"BELONGS_TO"}, 2)
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{a, b, c}, nodeIDs(related))
	})

	t.Run("zero depth defaults to one", func(t *testing.T) {
		related, err := svc.GetRelatedNodes(a, nil, 0)
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{a, b, d}, nodeIDs(related))
	})

	t.Run("missing start node", func(t *testing.T) {
		_, err := svc.GetRelatedNodes("no-such-id", nil, 1)
		require.Error(t, err)
		assert.True(t, pkgerrors.IsNotFound(err))
	})
}

func TestFindSimilarNodes(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	agency := mustAddNode(t, svc, "Actor", "Tax Agency")
	mustAddNode(t, svc, "Actor", "Tax Agencies")
	unrelated := mustAddNode(t, svc, "Actor", "Harbor Authority")

	t.Run("lexical near-duplicates found", func(t *testing.T) {
		results, err := svc.FindSimilarNodes(ctx, "Tax Agency", "", 0.6, 10)
		require.NoError(t, err)
		require.NotEmpty(t, results)
		assert.Equal(t, agency, results[0].Node.ID)
		assert.Equal(t, float64(1), results[0].Score)
		assert.Equal(t, SignalLexical, results[0].Signal)

		for _, r := range results {
			assert.NotEqual(t, unrelated, r.Node.ID)
			assert.GreaterOrEqual(t, r.Score, 0.6)
		}
	})

	t.Run("semantic signal merged, lexical wins on overlap", func(t *testing.T) {
		svc.scorer = &stubScorer{results: []ports.ScoredNode{
			{NodeID: agency, Score: 0.7},
			{NodeID: unrelated, Score: 0.95},
		}}

		results, err := svc.FindSimilarNodes(ctx, "Tax Agency", "", 0.6, 10)
		require.NoError(t, err)

		byID := map[string]SimilarNode{}
		for _, r := range results {
			byID[r.Node.ID] = r
		}
		// The exact lexical match trumps the weaker semantic hit for the same id
		assert.Equal(t, SignalLexical, byID[agency].Signal)
		assert.Equal(t, float64(1), byID[agency].Score)
		// The semantic-only hit is included
		assert.Equal(t, SignalSemantic, byID[unrelated].Signal)
	})

	t.Run("results sorted descending", func(t *testing.T) {
		results, err := svc.FindSimilarNodes(ctx, "Tax Agency", "", 0.1, 10)
		require.NoError(t, err)
		for i := 1; i < len(results); i++ {
			assert.GreaterOrEqual(t, results[i-1].Score, results[i].Score)
		}
	})

	t.Run("limit truncates", func(t *testing.T) {
		results, err := svc.FindSimilarNodes(ctx, "Tax Agency", "", 0.1, 1)
		require.NoError(t, err)
		assert.Len(t, results, 1)
	})
}

func TestFindSimilarNodesBatch(t *testing.T) {
	svc, _ := newTestService(t)
	mustAddNode(t, svc, "Actor", "Tax Agency")
	mustAddNode(t, svc, "Initiative", "Digitization")

	out, err := svc.FindSimilarNodesBatch(context.Background(), []string{"Tax Agency", "Digitisation"}, "", 0.6, 5)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.NotEmpty(t, out["Tax Agency"])
	assert.NotEmpty(t, out["Digitisation"], "one edit away from Digitization")
}

func TestLexicalScore(t *testing.T) {
	assert.Equal(t, float64(1), lexicalScore("abc", "abc"))
	assert.Equal(t, float64(1), lexicalScore("", ""))
	assert.Equal(t, float64(0), lexicalScore("abc", "xyz"))
	assert.InDelta(t, 0.75, lexicalScore("abcd", "abcx"), 1e-9)
}

func TestLevenshteinDistance(t *testing.T) {
	cases := []struct {
		a, b string
		want int
	}{
		{"", "", 0},
		{"", "abc", 3},
		{"abc", "", 3},
		{"kitten", "sitting", 3},
		{"flaw", "lawn", 2},
		{"identical", "identical", 0},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, levenshteinDistance(tc.a, tc.b), "%q vs %q", tc.a, tc.b)
	}
}
