// Package schema loads the node/edge type allow-list from a YAML file and
// validates entity types against it. The registry hot-reloads when the file
// changes, so new types can be added without recompilation.
package schema

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// NodeTypeDef is one allowed node type with its display color
type NodeTypeDef struct {
	Name  string `yaml:"name"`
	Color string `yaml:"color,omitempty"`
}

// fileSchema is the YAML document shape
type fileSchema struct {
	NodeTypes []NodeTypeDef `yaml:"node_types"`
	EdgeTypes []string      `yaml:"edge_types"`
}

// Registry validates node and edge types against the loaded schema.
// It implements entities.TypeValidator.
type Registry struct {
	mu        sync.RWMutex
	path      string
	nodeTypes map[string]NodeTypeDef
	edgeTypes map[string]struct{}
	reserved  []string
	logger    *zap.Logger

	watcher *fsnotify.Watcher
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewRegistry loads the schema file. Reserved types (the subscription node
// type) are always allowed regardless of the file contents.
func NewRegistry(path string, reserved []string, logger *zap.Logger) (*Registry, error) {
	r := &Registry{
		path:     path,
		reserved: reserved,
		logger:   logger,
		stopCh:   make(chan struct{}),
	}
	if err := r.load(); err != nil {
		return nil, err
	}
	return r, nil
}

// ValidateNodeType checks a node type against the allow-list
func (r *Registry) ValidateNodeType(nodeType string) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, res := range r.reserved {
		if strings.EqualFold(res, nodeType) {
			return nil
		}
	}
	if _, ok := r.nodeTypes[strings.ToLower(nodeType)]; !ok {
		return fmt.Errorf("node type '%s' is not in the schema allow-list", nodeType)
	}
	return nil
}

// ValidateEdgeType checks an edge type against the allow-list. An empty
// edge-type list in the schema means any edge type is allowed.
func (r *Registry) ValidateEdgeType(edgeType string) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.edgeTypes) == 0 {
		return nil
	}
	if _, ok := r.edgeTypes[strings.ToLower(edgeType)]; !ok {
		return fmt.Errorf("edge type '%s' is not in the schema allow-list", edgeType)
	}
	return nil
}

// NodeColor returns the display color configured for a node type
func (r *Registry) NodeColor(nodeType string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.nodeTypes[strings.ToLower(nodeType)].Color
}

// NodeTypes returns the allowed node type names
func (r *Registry) NodeTypes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.nodeTypes))
	for _, def := range r.nodeTypes {
		out = append(out, def.Name)
	}
	return out
}

// load parses the schema file and swaps the registry contents
func (r *Registry) load() error {
	data, err := os.ReadFile(r.path)
	if err != nil {
		return fmt.Errorf("failed to read schema file: %w", err)
	}

	var doc fileSchema
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("failed to parse schema file: %w", err)
	}

	nodeTypes := make(map[string]NodeTypeDef, len(doc.NodeTypes))
	for _, def := range doc.NodeTypes {
		nodeTypes[strings.ToLower(def.Name)] = def
	}
	edgeTypes := make(map[string]struct{}, len(doc.EdgeTypes))
	for _, name := range doc.EdgeTypes {
		edgeTypes[strings.ToLower(name)] = struct{}{}
	}

	r.mu.Lock()
	r.nodeTypes = nodeTypes
	r.edgeTypes = edgeTypes
	r.mu.Unlock()

	r.logger.Info("schema loaded",
		zap.String("path", r.path),
		zap.Int("node_types", len(nodeTypes)),
		zap.Int("edge_types", len(edgeTypes)),
	)
	return nil
}

// Watch starts reloading the schema whenever the file changes. Editors and
// deploy tools often replace files by rename, so the directory is watched too.
func (r *Registry) Watch() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create schema watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(r.path)); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch schema directory: %w", err)
	}

	r.watcher = watcher
	r.doneCh = make(chan struct{})
	go r.watchLoop()
	r.logger.Info("schema watcher started", zap.String("path", r.path))
	return nil
}

// Stop shuts down the watcher
func (r *Registry) Stop() {
	if r.watcher == nil {
		return
	}
	close(r.stopCh)
	r.watcher.Close()
	<-r.doneCh
}

func (r *Registry) watchLoop() {
	defer close(r.doneCh)
	for {
		select {
		case <-r.stopCh:
			return
		case event, ok := <-r.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(r.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if err := r.load(); err != nil {
				// Keep the previous schema on a bad reload
				r.logger.Error("schema reload failed", zap.Error(err))
			}
		case err, ok := <-r.watcher.Errors:
			if !ok {
				return
			}
			r.logger.Error("schema watcher error", zap.Error(err))
		}
	}
}
