// Package file persists the graph aggregate as a single JSON file with
// atomic writes and OS-level advisory locking.
package file

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"graphkb-backend/domain/core/aggregates"
	"graphkb-backend/domain/core/entities"
	pkgerrors "graphkb-backend/pkg/errors"
)

// graphDocument is the on-disk representation of the whole graph
type graphDocument struct {
	Nodes    []nodeRecord  `json:"nodes"`
	Edges    []edgeRecord  `json:"edges"`
	Metadata graphMetadata `json:"metadata"`
}

type graphMetadata struct {
	Version     string `json:"version"`
	GraphName   string `json:"graph_name"`
	LastUpdated string `json:"last_updated"`
}

type nodeRecord struct {
	ID          string                 `json:"id"`
	Type        string                 `json:"type"`
	Name        string                 `json:"name"`
	Description string                 `json:"description,omitempty"`
	Summary     string                 `json:"summary,omitempty"`
	Tags        []string               `json:"tags,omitempty"`
	Subtypes    []string               `json:"subtypes,omitempty"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
	Embedding   []float32              `json:"embedding,omitempty"`
	CreatedAt   string                 `json:"created_at"`
	UpdatedAt   string                 `json:"updated_at"`
}

type edgeRecord struct {
	ID        string                 `json:"id"`
	SourceID  string                 `json:"source_id"`
	TargetID  string                 `json:"target_id"`
	Type      string                 `json:"type"`
	Label     string                 `json:"label,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt string                 `json:"created_at"`
}

// Store loads and saves the graph file. It layers an OS-level advisory lock
// (shared for read, exclusive for write) underneath the graph service's
// in-process lock to guard against concurrent external processes.
type Store struct {
	path      string
	lockPath  string
	graphName string
	logger    *zap.Logger
	tracer    trace.Tracer

	// rename is swappable for fault-injection tests of the atomic swap
	rename func(oldpath, newpath string) error
}

// NewStore creates a file store for the given path
func NewStore(path, graphName string, logger *zap.Logger) *Store {
	return &Store{
		path:      path,
		lockPath:  path + ".lock",
		graphName: graphName,
		logger:    logger,
		tracer:    otel.Tracer("graphkb-backend.infrastructure.file"),
		rename:    os.Rename,
	}
}

// Load reads the graph from disk, creating and persisting an empty graph
// when the file does not exist yet
func (s *Store) Load(ctx context.Context) (*aggregates.Graph, error) {
	ctx, span := s.tracer.Start(ctx, "Store.Load",
		trace.WithAttributes(attribute.String("graph.file", s.path)),
	)
	defer span.End()

	graph, err := s.load(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return graph, err
}

func (s *Store) load(ctx context.Context) (*aggregates.Graph, error) {
	fl := flock.New(s.lockPath)
	if err := lockWithContext(ctx, fl.TryRLockContext); err != nil {
		return nil, pkgerrors.NewPersistenceError("load", err)
	}

	data, err := os.ReadFile(s.path)
	unlockErr := fl.Unlock()

	if err != nil {
		if os.IsNotExist(err) {
			s.logger.Info("graph file absent, initializing empty graph",
				zap.String("path", s.path),
			)
			graph := aggregates.NewGraph(s.graphName)
			if saveErr := s.Save(ctx, graph); saveErr != nil {
				return nil, saveErr
			}
			return graph, nil
		}
		return nil, pkgerrors.NewPersistenceError("load", err)
	}
	if unlockErr != nil {
		return nil, pkgerrors.NewPersistenceError("load", unlockErr)
	}

	var doc graphDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, pkgerrors.NewPersistenceError("load", err)
	}
	return s.reconstruct(doc)
}

// Save atomically persists the graph: marshal, write a temp file in the same
// directory, fsync, rename over the target, fsync the directory. A crash at
// any point leaves the previous file intact.
func (s *Store) Save(ctx context.Context, graph *aggregates.Graph) error {
	ctx, span := s.tracer.Start(ctx, "Store.Save",
		trace.WithAttributes(
			attribute.String("graph.file", s.path),
			attribute.Int("graph.nodes", graph.NodeCount()),
			attribute.Int("graph.edges", graph.EdgeCount()),
		),
	)
	defer span.End()

	if err := s.save(ctx, graph); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}

func (s *Store) save(ctx context.Context, graph *aggregates.Graph) error {
	doc := s.render(graph)
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return pkgerrors.NewPersistenceError("save", err)
	}

	fl := flock.New(s.lockPath)
	if err := lockWithContext(ctx, fl.TryLockContext); err != nil {
		return pkgerrors.NewPersistenceError("save", err)
	}
	defer fl.Unlock()

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".graph-*.tmp")
	if err != nil {
		return pkgerrors.NewPersistenceError("save", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return pkgerrors.NewPersistenceError("save", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return pkgerrors.NewPersistenceError("save", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return pkgerrors.NewPersistenceError("save", err)
	}

	if err := s.rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return pkgerrors.NewPersistenceError("save", err)
	}
	syncDir(dir)
	return nil
}

// render maps the aggregate into the persisted document shape
func (s *Store) render(graph *aggregates.Graph) graphDocument {
	meta := graph.Meta()
	doc := graphDocument{
		Nodes: make([]nodeRecord, 0, graph.NodeCount()),
		Edges: make([]edgeRecord, 0, graph.EdgeCount()),
		Metadata: graphMetadata{
			Version:     meta.Version,
			GraphName:   meta.Name,
			LastUpdated: meta.LastUpdated.Format(time.RFC3339),
		},
	}
	for _, n := range graph.Nodes() {
		doc.Nodes = append(doc.Nodes, nodeRecord{
			ID:          n.ID,
			Type:        n.Type,
			Name:        n.Name,
			Description: n.Description,
			Summary:     n.Summary,
			Tags:        n.Tags,
			Subtypes:    n.Subtypes,
			Metadata:    n.Metadata,
			Embedding:   n.Embedding,
			CreatedAt:   n.CreatedAt.Format(time.RFC3339),
			UpdatedAt:   n.UpdatedAt.Format(time.RFC3339),
		})
	}
	for _, e := range graph.Edges() {
		doc.Edges = append(doc.Edges, edgeRecord{
			ID:        e.ID,
			SourceID:  e.SourceID,
			TargetID:  e.TargetID,
			Type:      e.Type,
			Label:     e.Label,
			Metadata:  e.Metadata,
			CreatedAt: e.CreatedAt.Format(time.RFC3339),
		})
	}
	return doc
}

// reconstruct rebuilds the aggregate from a parsed document
func (s *Store) reconstruct(doc graphDocument) (*aggregates.Graph, error) {
	name := doc.Metadata.GraphName
	if name == "" {
		name = s.graphName
	}
	graph := aggregates.NewGraph(name)

	lastUpdated, _ := time.Parse(time.RFC3339, doc.Metadata.LastUpdated)
	graph.SetMeta(aggregates.Metadata{
		Version:     doc.Metadata.Version,
		Name:        name,
		LastUpdated: lastUpdated,
	})

	for _, rec := range doc.Nodes {
		created, _ := time.Parse(time.RFC3339, rec.CreatedAt)
		updated, _ := time.Parse(time.RFC3339, rec.UpdatedAt)
		node := &entities.Node{
			ID:          rec.ID,
			Type:        rec.Type,
			Name:        rec.Name,
			Description: rec.Description,
			Summary:     rec.Summary,
			Tags:        rec.Tags,
			Subtypes:    rec.Subtypes,
			Metadata:    rec.Metadata,
			Embedding:   rec.Embedding,
			CreatedAt:   created,
			UpdatedAt:   updated,
		}
		if err := graph.AddNode(node); err != nil {
			return nil, pkgerrors.NewPersistenceError("load", err)
		}
	}
	for _, rec := range doc.Edges {
		created, _ := time.Parse(time.RFC3339, rec.CreatedAt)
		edge := &entities.Edge{
			ID:        rec.ID,
			SourceID:  rec.SourceID,
			TargetID:  rec.TargetID,
			Type:      rec.Type,
			Label:     rec.Label,
			Metadata:  rec.Metadata,
			CreatedAt: created,
		}
		if err := graph.AddEdge(edge); err != nil {
			return nil, pkgerrors.NewPersistenceError("load", err)
		}
	}

	s.logger.Debug("graph loaded",
		zap.Int("nodes", graph.NodeCount()),
		zap.Int("edges", graph.EdgeCount()),
	)
	return graph, nil
}

// lockWithContext polls a flock try-lock until it succeeds or ctx expires
func lockWithContext(ctx context.Context, try func(ctx context.Context, retryDelay time.Duration) (bool, error)) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	_, err := try(ctx, 25*time.Millisecond)
	return err
}

// syncDir fsyncs the directory so the rename itself is durable. Best effort:
// some filesystems do not support directory fsync.
func syncDir(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	defer d.Close()
	d.Sync()
}
