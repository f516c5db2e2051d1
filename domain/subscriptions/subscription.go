package subscriptions

import (
	"strings"

	"graphkb-backend/domain/core/entities"
	"graphkb-backend/domain/events"
	pkgerrors "graphkb-backend/pkg/errors"
)

// Metadata keys under which the filter is stored on a subscription node.
// Subscriptions are ordinary graph nodes of the reserved subscription type,
// created and deleted through the same mutation API as everything else.
const (
	MetaEntityKind     = "entity_kind"
	MetaNodeTypes      = "node_types"
	MetaEdgeTypes      = "edge_types"
	MetaOperations     = "operations"
	MetaKeywords       = "keywords"
	MetaTarget         = "target"
	MetaIgnoreOrigins  = "ignore_origins"
	MetaIgnoreSessions = "ignore_sessions"
	MetaEnabled        = "enabled"
)

// Subscription is a filter + delivery-target pair
type Subscription struct {
	ID             string
	Name           string
	EntityKind     string
	NodeTypes      []string
	EdgeTypes      []string
	Operations     []string
	Keywords       []string
	Target         string
	IgnoreOrigins  []string
	IgnoreSessions []string
	Enabled        bool
}

// Ref returns the identity stamped onto delivered event copies
func (s *Subscription) Ref() events.SubscriptionRef {
	return events.SubscriptionRef{ID: s.ID, Name: s.Name}
}

// Matches evaluates the subscription filters against an event, in order:
// entity kind, operation, type allow-list, keywords. The first failing
// filter short-circuits. Loop prevention is a separate check.
func (s *Subscription) Matches(ev events.ChangeEvent) bool {
	if !s.Enabled {
		return false
	}
	if s.EntityKind != "" && s.EntityKind != string(ev.Kind) {
		return false
	}
	if len(s.Operations) > 0 && !containsFold(s.Operations, string(ev.Operation)) {
		return false
	}
	switch ev.Kind {
	case events.KindNode:
		if len(s.NodeTypes) > 0 && !containsFold(s.NodeTypes, ev.Entity.Type) {
			return false
		}
	case events.KindEdge:
		if len(s.EdgeTypes) > 0 && !containsFold(s.EdgeTypes, ev.Entity.Type) {
			return false
		}
	}
	if len(s.Keywords) > 0 && !s.matchKeywords(ev) {
		return false
	}
	return true
}

// Suppresses applies loop prevention: events whose origin tag or session id
// is on the subscription's ignore lists are never delivered to it, so a
// consumer's reaction cannot re-trigger itself.
func (s *Subscription) Suppresses(ev events.ChangeEvent) bool {
	if ev.Origin.Origin != "" && containsFold(s.IgnoreOrigins, ev.Origin.Origin) {
		return true
	}
	if ev.Origin.SessionID != "" && containsFold(s.IgnoreSessions, ev.Origin.SessionID) {
		return true
	}
	return false
}

// matchKeywords scans the event's textual fields case-insensitively.
// On delete only the before snapshot exists; on create only after.
func (s *Subscription) matchKeywords(ev events.ChangeEvent) bool {
	snapshot := ev.Entity.Data.After
	if snapshot == nil {
		snapshot = ev.Entity.Data.Before
	}
	if snapshot == nil {
		return false
	}

	var haystack []string
	for _, field := range []string{"name", "description", "summary", "label"} {
		if v, ok := snapshot[field].(string); ok && v != "" {
			haystack = append(haystack, v)
		}
	}
	haystack = append(haystack, stringList(snapshot["tags"])...)

	for _, kw := range s.Keywords {
		needle := strings.ToLower(kw)
		for _, text := range haystack {
			if strings.Contains(strings.ToLower(text), needle) {
				return true
			}
		}
	}
	return false
}

// FromNode decodes a subscription from a graph node's metadata
func FromNode(n *entities.Node) (*Subscription, error) {
	target, _ := n.Metadata[MetaTarget].(string)
	if target == "" {
		return nil, pkgerrors.NewValidationError("subscription node '" + n.ID + "' has no delivery target")
	}

	sub := &Subscription{
		ID:             n.ID,
		Name:           n.Name,
		Target:         target,
		NodeTypes:      stringList(n.Metadata[MetaNodeTypes]),
		EdgeTypes:      stringList(n.Metadata[MetaEdgeTypes]),
		Operations:     stringList(n.Metadata[MetaOperations]),
		Keywords:       stringList(n.Metadata[MetaKeywords]),
		IgnoreOrigins:  stringList(n.Metadata[MetaIgnoreOrigins]),
		IgnoreSessions: stringList(n.Metadata[MetaIgnoreSessions]),
		Enabled:        true,
	}
	if kind, ok := n.Metadata[MetaEntityKind].(string); ok {
		sub.EntityKind = strings.ToLower(kind)
	}
	if enabled, ok := n.Metadata[MetaEnabled].(bool); ok {
		sub.Enabled = enabled
	}
	return sub, nil
}

// IsInternalTarget reports whether a delivery target uses the given internal
// address scheme (e.g. "agent://planner") and should bypass network delivery
func IsInternalTarget(target, scheme string) bool {
	return scheme != "" && strings.HasPrefix(target, scheme+"://")
}

// stringList coerces metadata values into a string slice. Metadata that has
// been through a JSON round-trip arrives as []interface{}.
func stringList(v interface{}) []string {
	switch vv := v.(type) {
	case []string:
		return vv
	case []interface{}:
		out := make([]string, 0, len(vv))
		for _, item := range vv {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

func containsFold(list []string, v string) bool {
	for _, item := range list {
		if strings.EqualFold(item, v) {
			return true
		}
	}
	return false
}
