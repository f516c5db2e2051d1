// Package similarity implements the pluggable similarity scorer on top of an
// in-process HNSW index with cosine distance. The embedding model itself is
// external; callers inject an Embedder.
package similarity

import (
	"context"
	"math"
	"strings"
	"sync"

	"github.com/fogfish/hnsw"
	"github.com/fogfish/hnsw/vector"
	kvector "github.com/kshard/vector"
	"go.uber.org/zap"

	"graphkb-backend/application/ports"
	"graphkb-backend/domain/events"
	pkgerrors "graphkb-backend/pkg/errors"
)

// Embedder turns text into an embedding vector
type Embedder func(ctx context.Context, text string) ([]float32, error)

// Index is an HNSW-backed similarity scorer. It maintains its own id<->key
// mapping because the underlying index addresses vectors by uint32 keys.
// The index supports no removal, so deleted nodes are tombstoned and
// filtered out of search results.
type Index struct {
	mu      sync.RWMutex
	index   *hnsw.HNSW[vector.VF32]
	embed   Embedder
	keys    map[string]uint32
	ids     map[uint32]string
	vecs    map[uint32][]float32
	dead    map[uint32]struct{}
	nextKey uint32
	logger  *zap.Logger
}

// NewIndex creates an empty similarity index
func NewIndex(embed Embedder, logger *zap.Logger) *Index {
	return &Index{
		index:  hnsw.New[vector.VF32](vector.SurfaceVF32(kvector.Cosine())),
		embed:  embed,
		keys:   make(map[string]uint32),
		ids:    make(map[uint32]string),
		vecs:   make(map[uint32][]float32),
		dead:   make(map[uint32]struct{}),
		logger: logger,
	}
}

// Score embeds a piece of text
func (ix *Index) Score(ctx context.Context, text string) ([]float32, error) {
	if ix.embed == nil {
		return nil, pkgerrors.NewInternalError("no embedder configured")
	}
	return ix.embed(ctx, text)
}

// Search returns node ids ranked by cosine similarity to the query text,
// truncated to limit, dropping results below threshold
func (ix *Index) Search(ctx context.Context, text string, limit int, threshold float64) ([]ports.ScoredNode, error) {
	query, err := ix.Score(ctx, text)
	if err != nil {
		return nil, err
	}

	ix.mu.RLock()
	defer ix.mu.RUnlock()

	if ix.index.Size() == 0 {
		return nil, nil
	}

	// Over-fetch to compensate for tombstoned entries
	k := limit + len(ix.dead)
	ef := k * 2
	if ef < 100 {
		ef = 100
	}
	candidates := ix.index.Search(vector.VF32{Vec: query}, k, ef)

	results := make([]ports.ScoredNode, 0, limit)
	for _, c := range candidates {
		if _, gone := ix.dead[c.Key]; gone {
			continue
		}
		score := cosine(query, ix.vecs[c.Key])
		if score < threshold {
			continue
		}
		results = append(results, ports.ScoredNode{NodeID: ix.ids[c.Key], Score: score})
		if len(results) >= limit {
			break
		}
	}
	return results, nil
}

// Upsert embeds the node text and replaces any previous entry for the id
func (ix *Index) Upsert(ctx context.Context, nodeID, text string) error {
	vec, err := ix.Score(ctx, text)
	if err != nil {
		return err
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()

	if old, ok := ix.keys[nodeID]; ok {
		ix.dead[old] = struct{}{}
		delete(ix.ids, old)
	}

	ix.nextKey++
	key := ix.nextKey
	ix.keys[nodeID] = key
	ix.ids[key] = nodeID
	ix.vecs[key] = vec
	ix.index.Insert(vector.VF32{Key: key, Vec: vec})
	return nil
}

// Remove tombstones the node's entry
func (ix *Index) Remove(nodeID string) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	if key, ok := ix.keys[nodeID]; ok {
		ix.dead[key] = struct{}{}
		delete(ix.ids, key)
		delete(ix.keys, nodeID)
	}
}

// Listener returns a system listener that keeps the index in sync with the
// graph. It is registered on the graph service at wiring time and receives
// every event unconditionally.
func (ix *Index) Listener() ports.EventListener {
	return func(ev events.ChangeEvent) {
		if ev.Kind != events.KindNode {
			return
		}
		switch ev.Operation {
		case events.OpCreate, events.OpUpdate:
			text := snapshotText(ev.Entity.Data.After)
			if text == "" {
				return
			}
			if err := ix.Upsert(context.Background(), ev.Entity.ID, text); err != nil {
				ix.logger.Warn("similarity index update failed",
					zap.String("node_id", ev.Entity.ID),
					zap.Error(err),
				)
			}
		case events.OpDelete:
			ix.Remove(ev.Entity.ID)
		}
	}
}

func snapshotText(snapshot map[string]interface{}) string {
	if snapshot == nil {
		return ""
	}
	var parts []string
	for _, field := range []string{"name", "summary", "description"} {
		if v, ok := snapshot[field].(string); ok && v != "" {
			parts = append(parts, v)
		}
	}
	return strings.Join(parts, " ")
}

func cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
