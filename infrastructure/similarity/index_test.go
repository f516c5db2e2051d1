package similarity

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"graphkb-backend/domain/core/entities"
	"graphkb-backend/domain/events"
)

func testIndex(t *testing.T) *Index {
	t.Helper()
	return NewIndex(HashingEmbedder(256), zap.NewNop())
}

func TestHashingEmbedder(t *testing.T) {
	embed := HashingEmbedder(64)
	ctx := context.Background()

	a, err := embed(ctx, "tax agency digitization")
	require.NoError(t, err)
	require.Len(t, a, 64)

	b, err := embed(ctx, "tax agency digitization")
	require.NoError(t, err)
	assert.Equal(t, a, b, "embedding must be deterministic")

	c, err := embed(ctx, "completely unrelated words here")
	require.NoError(t, err)
	assert.Greater(t, cosine(a, b), cosine(a, c))
}

func TestIndexSearch(t *testing.T) {
	ix := testIndex(t)
	ctx := context.Background()

	require.NoError(t, ix.Upsert(ctx, "n1", "tax agency government revenue"))
	require.NoError(t, ix.Upsert(ctx, "n2", "digitization initiative modernization"))
	require.NoError(t, ix.Upsert(ctx, "n3", "tax agency revenue collection"))

	results, err := ix.Search(ctx, "tax agency revenue", 10, 0.1)
	require.NoError(t, err)
	require.NotEmpty(t, results)

	ids := make([]string, 0, len(results))
	for _, r := range results {
		ids = append(ids, r.NodeID)
	}
	assert.Contains(t, ids, "n1")
	assert.Contains(t, ids, "n3")

	// Scores come back in descending order of similarity
	for i := 1; i < len(results); i++ {
		assert.GreaterOrEqual(t, results[i-1].Score, results[i].Score)
	}
}

func TestIndexSearchEmpty(t *testing.T) {
	ix := testIndex(t)
	results, err := ix.Search(context.Background(), "anything", 5, 0)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestIndexRemoveTombstones(t *testing.T) {
	ix := testIndex(t)
	ctx := context.Background()

	require.NoError(t, ix.Upsert(ctx, "n1", "tax agency"))
	ix.Remove("n1")

	results, err := ix.Search(ctx, "tax agency", 5, 0)
	require.NoError(t, err)
	for _, r := range results {
		assert.NotEqual(t, "n1", r.NodeID)
	}
}

func TestIndexUpsertReplaces(t *testing.T) {
	ix := testIndex(t)
	ctx := context.Background()

	require.NoError(t, ix.Upsert(ctx, "n1", "original text about taxes"))
	require.NoError(t, ix.Upsert(ctx, "n1", "replacement text about gardening"))

	results, err := ix.Search(ctx, "gardening", 5, 0.1)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, "n1", results[0].NodeID)

	// Only one live entry for the id remains
	seen := 0
	for _, r := range results {
		if r.NodeID == "n1" {
			seen++
		}
	}
	assert.Equal(t, 1, seen)
}

func TestIndexListener(t *testing.T) {
	ix := testIndex(t)
	listener := ix.Listener()

	n := &entities.Node{ID: "n1", Type: "Actor", Name: "Tax Agency", Summary: "collects revenue"}
	listener(events.NewNodeCreated(n, events.Origin{}))

	results, err := ix.Search(context.Background(), "tax agency revenue", 5, 0.1)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, "n1", results[0].NodeID)

	listener(events.NewNodeDeleted(n, events.Origin{}))
	results, err = ix.Search(context.Background(), "tax agency revenue", 5, 0.1)
	require.NoError(t, err)
	assert.Empty(t, results)
}
