package store

import (
	"encoding/json"
	"fmt"
	"time"
)

// ─── Closed vocabularies ─────────────────────────────────────────────────────

// NodeKind is the semantic category of a concept.
type NodeKind string

const (
	KindFeature   NodeKind = "feature"
	KindModule    NodeKind = "module"
	KindPattern   NodeKind = "pattern"
	KindConfig    NodeKind = "config"
	KindDecision  NodeKind = "decision"
	KindComponent NodeKind = "component"
)

// NodeKinds lists every valid kind in canonical order.
var NodeKinds = []NodeKind{KindFeature, KindModule, KindPattern, KindConfig, KindDecision, KindComponent}

// ValidKind reports whether k is one of the closed set of node kinds.
func ValidKind(k NodeKind) bool {
	switch k {
	case KindFeature, KindModule, KindPattern, KindConfig, KindDecision, KindComponent:
		return true
	}
	return false
}

// RelationType is the semantic category of an edge.
type RelationType string

const (
	RelConnectsTo   RelationType = "connects_to"
	RelDependsOn    RelationType = "depends_on"
	RelImplements   RelationType = "implements"
	RelCalls        RelationType = "calls"
	RelConfiguredBy RelationType = "configured_by"
)

// RelationTypes lists every valid relation in canonical order.
var RelationTypes = []RelationType{RelConnectsTo, RelDependsOn, RelImplements, RelCalls, RelConfiguredBy}

// ValidRelation reports whether r is one of the closed set of relations.
func ValidRelation(r RelationType) bool {
	switch r {
	case RelConnectsTo, RelDependsOn, RelImplements, RelCalls, RelConfiguredBy:
		return true
	}
	return false
}

// ─── Records ─────────────────────────────────────────────────────────────────

// Node is one concept in the knowledge graph.
type Node struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	Kind          NodeKind  `json:"kind"`
	Summary       string    `json:"summary"`
	Why           *string   `json:"why,omitempty"`
	FileRefs      []string  `json:"file_refs,omitempty"`
	ParentID      *string   `json:"parent_id,omitempty"`
	CreatedByTask *string   `json:"created_by_task,omitempty"`
	CreatedAt     string    `json:"created_at"`
	UpdatedAt     string    `json:"updated_at"`
	RemovedAt     *string   `json:"removed_at,omitempty"`
	RemovedReason *string   `json:"removed_reason,omitempty"`
	Embedding     []float32 `json:"-"`

	// Merge metadata (schema v2).
	MergeGroup     *string `json:"merge_group,omitempty"`
	NeedsMerge     bool    `json:"needs_merge,omitempty"`
	SourceBranch   *string `json:"source_branch,omitempty"`
	MergeTimestamp *string `json:"merge_timestamp,omitempty"`
}

// Removed reports whether the node is soft-deleted.
func (n *Node) Removed() bool {
	return n.RemovedAt != nil
}

// Edge is a typed directed relationship between two live nodes.
type Edge struct {
	ID          int64        `json:"id"`
	FromID      string       `json:"from_id"`
	ToID        string       `json:"to_id"`
	Relation    RelationType `json:"relation"`
	Description *string      `json:"description,omitempty"`
	CreatedAt   string       `json:"created_at"`

	MergeGroup     *string `json:"merge_group,omitempty"`
	NeedsMerge     bool    `json:"needs_merge,omitempty"`
	SourceBranch   *string `json:"source_branch,omitempty"`
	MergeTimestamp *string `json:"merge_timestamp,omitempty"`
}

// NeighborEdge is an edge joined with the name of the node on the far side.
type NeighborEdge struct {
	Edge
	NeighborID   string `json:"neighbor_id"`
	NeighborName string `json:"neighbor_name"`
}

// NodePatch holds the optional fields of a partial node update. Nil fields
// are left untouched; pointer-to-empty clears nullable columns.
type NodePatch struct {
	Name          *string   `json:"name,omitempty"`
	Kind          *NodeKind `json:"kind,omitempty"`
	Summary       *string   `json:"summary,omitempty"`
	Why           *string   `json:"why,omitempty"`
	FileRefs      *[]string `json:"file_refs,omitempty"`
	ParentID      *string   `json:"parent_id,omitempty"`
	CreatedByTask *string   `json:"created_by_task,omitempty"`
	Embedding     []float32 `json:"-"`
}

// Stats is the aggregate shape returned by GetStats.
type Stats struct {
	Nodes   int `json:"nodes"`
	Edges   int `json:"edges"`
	Removed int `json:"removed"`
}

// TimelineEntry is one append-only audit row (schema v3).
type TimelineEntry struct {
	Seq           int64    `json:"seq"`
	Timestamp     string   `json:"timestamp"`
	Tool          string   `json:"tool"`
	Params        string   `json:"params"`
	ResultSummary string   `json:"result_summary"`
	IsWrite       bool     `json:"is_write"`
	IsError       bool     `json:"is_error"`
	AffectedIDs   []string `json:"affected_ids,omitempty"`
}

// TimelineBounds is the cheap summary of the timeline extent.
type TimelineBounds struct {
	First string `json:"first,omitempty"`
	Last  string `json:"last,omitempty"`
	Count int    `json:"count"`
}

// TimelineFilter narrows GetTimelineEntries scans.
type TimelineFilter struct {
	WritesOnly bool
	Tool       string
	Since      string // inclusive lower bound, store timestamp format
	Until      string // inclusive upper bound
	Limit      int
}

// ─── Encoding helpers ────────────────────────────────────────────────────────

// TimeFormat is the store's canonical timestamp layout (UTC, second
// resolution, matching SQLite's datetime('now')).
const TimeFormat = "2006-01-02 15:04:05"

// Now returns the current UTC time formatted for the store.
func Now() string {
	return time.Now().UTC().Format(TimeFormat)
}

// ParseTime parses a store timestamp.
func ParseTime(s string) (time.Time, error) {
	t, err := time.ParseInLocation(TimeFormat, s, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("store: bad timestamp %q: %w", s, err)
	}
	return t, nil
}

// encodeFileRefs serializes a file_refs list as the JSON string stored in
// the nodes table. An empty list stores as NULL.
func encodeFileRefs(refs []string) *string {
	if len(refs) == 0 {
		return nil
	}
	data, err := json.Marshal(refs)
	if err != nil {
		return nil
	}
	s := string(data)
	return &s
}

// decodeFileRefs parses the stored JSON file_refs column.
func decodeFileRefs(raw *string) []string {
	if raw == nil || *raw == "" {
		return nil
	}
	var refs []string
	if err := json.Unmarshal([]byte(*raw), &refs); err != nil {
		return nil
	}
	return refs
}

// encodeAffectedIDs serializes the affected_ids timeline column.
func encodeAffectedIDs(ids []string) string {
	if len(ids) == 0 {
		return "[]"
	}
	data, err := json.Marshal(ids)
	if err != nil {
		return "[]"
	}
	return string(data)
}

// decodeAffectedIDs parses the affected_ids timeline column.
func decodeAffectedIDs(raw string) []string {
	if raw == "" {
		return nil
	}
	var ids []string
	if err := json.Unmarshal([]byte(raw), &ids); err != nil {
		return nil
	}
	return ids
}
