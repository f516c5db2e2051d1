package aggregates

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"graphkb-backend/domain/core/entities"
	pkgerrors "graphkb-backend/pkg/errors"
)

func node(id, name string) *entities.Node {
	return &entities.Node{ID: id, Type: "Concept", Name: name}
}

func edge(id, source, target string) *entities.Edge {
	return &entities.Edge{ID: id, SourceID: source, TargetID: target, Type: entities.DefaultEdgeType}
}

func TestGraphAddNode(t *testing.T) {
	g := NewGraph("test")
	require.NoError(t, g.AddNode(node("a", "Alpha")))
	assert.Equal(t, 1, g.NodeCount())
	assert.True(t, g.HasNode("a"))

	err := g.AddNode(node("a", "Alpha again"))
	require.Error(t, err)
	assert.True(t, pkgerrors.IsConflict(err))
}

func TestGraphResolveNode(t *testing.T) {
	g := NewGraph("test")
	require.NoError(t, g.AddNode(node("a", "Alpha")))
	require.NoError(t, g.AddNode(node("b", "Beta")))

	t.Run("by id", func(t *testing.T) {
		id, err := g.ResolveNode("a")
		require.NoError(t, err)
		assert.Equal(t, "a", id)
	})

	t.Run("by name, case-insensitive", func(t *testing.T) {
		id, err := g.ResolveNode("ALPHA")
		require.NoError(t, err)
		assert.Equal(t, "a", id)
	})

	t.Run("unknown reference", func(t *testing.T) {
		_, err := g.ResolveNode("gamma")
		require.Error(t, err)
		assert.True(t, pkgerrors.IsValidation(err))
	})

	t.Run("ambiguous name", func(t *testing.T) {
		require.NoError(t, g.AddNode(node("a2", "alpha")))
		_, err := g.ResolveNode("Alpha")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "ambiguous")
	})

	t.Run("id wins over a colliding name", func(t *testing.T) {
		require.NoError(t, g.AddNode(node("beta", "Something")))
		id, err := g.ResolveNode("beta")
		require.NoError(t, err)
		assert.Equal(t, "beta", id)
	})
}

func TestGraphRename(t *testing.T) {
	g := NewGraph("test")
	n := node("a", "Old Name")
	require.NoError(t, g.AddNode(n))

	n.Name = "New Name"
	g.Rename(n, "Old Name")

	_, err := g.ResolveNode("Old Name")
	require.Error(t, err)

	id, err := g.ResolveNode("new name")
	require.NoError(t, err)
	assert.Equal(t, "a", id)
}

func TestGraphEdges(t *testing.T) {
	g := NewGraph("test")
	require.NoError(t, g.AddNode(node("a", "Alpha")))
	require.NoError(t, g.AddNode(node("b", "Beta")))

	t.Run("endpoints must exist", func(t *testing.T) {
		err := g.AddEdge(edge("e0", "a", "missing"))
		require.Error(t, err)
		assert.True(t, pkgerrors.IsValidation(err))
	})

	t.Run("adjacency tracks both directions", func(t *testing.T) {
		require.NoError(t, g.AddEdge(edge("e1", "a", "b")))
		require.NoError(t, g.AddEdge(edge("e2", "b", "a")))

		assert.ElementsMatch(t, []string{"e1", "e2"}, g.IncidentEdges("a"))
		assert.ElementsMatch(t, []string{"e1", "e2"}, g.IncidentEdges("b"))
	})

	t.Run("remove edge clears adjacency", func(t *testing.T) {
		g.RemoveEdge("e1")
		assert.Nil(t, g.Edge("e1"))
		assert.ElementsMatch(t, []string{"e2"}, g.IncidentEdges("a"))
	})
}

func TestGraphSelfLoopDeduplicated(t *testing.T) {
	g := NewGraph("test")
	require.NoError(t, g.AddNode(node("a", "Alpha")))
	require.NoError(t, g.AddEdge(edge("loop", "a", "a")))

	assert.Equal(t, []string{"loop"}, g.IncidentEdges("a"))
}

func TestGraphRemoveNode(t *testing.T) {
	g := NewGraph("test")
	n := node("a", "Alpha")
	require.NoError(t, g.AddNode(n))

	removed := g.RemoveNode("a")
	require.NotNil(t, removed)
	assert.False(t, g.HasNode("a"))

	_, err := g.ResolveNode("Alpha")
	require.Error(t, err)

	assert.Nil(t, g.RemoveNode("a"))
}
