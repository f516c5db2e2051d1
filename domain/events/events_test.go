package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"graphkb-backend/domain/core/entities"
)

func TestComputePatch(t *testing.T) {
	t.Run("only changed fields appear", func(t *testing.T) {
		before := map[string]interface{}{"name": "old", "summary": "same"}
		after := map[string]interface{}{"name": "new", "summary": "same"}

		patch := ComputePatch(before, after)
		assert.Equal(t, map[string]interface{}{"name": "new"}, patch)
	})

	t.Run("updated_at never appears", func(t *testing.T) {
		before := map[string]interface{}{"name": "x", "updated_at": "2026-01-01T00:00:00Z"}
		after := map[string]interface{}{"name": "x", "updated_at": "2026-02-02T00:00:00Z"}

		assert.Empty(t, ComputePatch(before, after))
	})

	t.Run("new keys appear", func(t *testing.T) {
		patch := ComputePatch(map[string]interface{}{}, map[string]interface{}{"tags": []string{"a"}})
		assert.Equal(t, []string{"a"}, patch["tags"])
	})

	t.Run("slice values compared by content", func(t *testing.T) {
		before := map[string]interface{}{"tags": []string{"a", "b"}}
		after := map[string]interface{}{"tags": []string{"a", "b"}}

		assert.Empty(t, ComputePatch(before, after))
	})
}

func TestNodeEventConstructors(t *testing.T) {
	n := &entities.Node{ID: "n1", Type: "Actor", Name: "Tax Agency"}

	t.Run("create", func(t *testing.T) {
		ev := NewNodeCreated(n, Origin{Origin: "agent-7"})
		assert.Equal(t, EventNodeCreate, ev.EventType)
		assert.Equal(t, KindNode, ev.Kind)
		assert.Equal(t, OpCreate, ev.Operation)
		assert.Equal(t, "n1", ev.Entity.ID)
		assert.Equal(t, "Actor", ev.Entity.Type)
		assert.Equal(t, "agent-7", ev.Origin.Origin)
		assert.NotEmpty(t, ev.EventID)
		assert.Nil(t, ev.Entity.Data.Before)
		assert.Equal(t, "Tax Agency", ev.Entity.Data.After["name"])
	})

	t.Run("idempotent update yields empty patch", func(t *testing.T) {
		before := n.Clone()
		after := n.Clone()
		after.Touch()

		ev := NewNodeUpdated(before, after, Origin{})
		assert.Equal(t, EventNodeUpdate, ev.EventType)
		assert.Empty(t, ev.Entity.Data.Patch)
	})

	t.Run("delete carries before snapshot only", func(t *testing.T) {
		ev := NewNodeDeleted(n, Origin{})
		assert.Equal(t, EventNodeDelete, ev.EventType)
		assert.Nil(t, ev.Entity.Data.After)
		assert.Equal(t, "n1", ev.Entity.Data.Before["id"])
	})
}

func TestEdgeEventConstructors(t *testing.T) {
	e := &entities.Edge{ID: "e1", SourceID: "a", TargetID: "b", Type: "BELONGS_TO"}

	ev := NewEdgeCreated(e, Origin{})
	assert.Equal(t, EventEdgeCreate, ev.EventType)
	assert.Equal(t, KindEdge, ev.Kind)
	assert.Equal(t, "BELONGS_TO", ev.Entity.Type)

	del := NewEdgeDeleted(e, Origin{})
	assert.Equal(t, EventEdgeDelete, del.EventType)
}

func TestWithSubscriptionLeavesOriginalUntouched(t *testing.T) {
	ev := NewNodeCreated(&entities.Node{ID: "n1", Type: "Actor", Name: "A"}, Origin{})
	require.Nil(t, ev.Subscription)

	stamped := ev.WithSubscription(SubscriptionRef{ID: "s1", Name: "watch-actors"})
	assert.Nil(t, ev.Subscription)
	require.NotNil(t, stamped.Subscription)
	assert.Equal(t, "s1", stamped.Subscription.ID)
}
