package graphtools

import (
	"context"
	"fmt"
	"sort"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/HendryAvila/megamemory/internal/slug"
	"github.com/HendryAvila/megamemory/internal/store"
)

// ListConflictsTool handles the list_conflicts MCP tool.
type ListConflictsTool struct {
	store *store.Store
}

// NewListConflictsTool creates a ListConflictsTool.
func NewListConflictsTool(s *store.Store) *ListConflictsTool {
	return &ListConflictsTool{store: s}
}

// Definition returns the MCP tool definition for list_conflicts.
func (t *ListConflictsTool) Definition() mcp.Tool {
	return mcp.NewTool("list_conflicts",
		mcp.WithDescription(
			"List unresolved merge conflicts, grouped by merge group. Each group shows "+
				"the competing versions of one concept so you can resolve them.",
		),
	)
}

// conflictVersion is one competing variant inside a conflict group.
type conflictVersion struct {
	ID            string         `json:"id"`
	CanonicalID   string         `json:"canonical_id"`
	SourceBranch  string         `json:"source_branch"`
	Name          string         `json:"name"`
	Kind          store.NodeKind `json:"kind"`
	Summary       string         `json:"summary"`
	Why           string         `json:"why,omitempty"`
	FileRefs      []string       `json:"file_refs,omitempty"`
	ParentID      string         `json:"parent_id,omitempty"`
	RemovedAt     string         `json:"removed_at,omitempty"`
	RemovedReason string         `json:"removed_reason,omitempty"`
}

type conflictGroup struct {
	MergeGroup     string            `json:"merge_group"`
	MergeTimestamp string            `json:"merge_timestamp,omitempty"`
	Versions       []conflictVersion `json:"versions"`
}

type listConflictsResult struct {
	Groups []conflictGroup `json:"groups"`
}

// Handle processes the list_conflicts tool call. Read-only. Removed-vs-live
// conflicts are included: a removed variant simply carries its removed_at.
func (t *ListConflictsTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	nodes, err := t.store.GetConflictNodes()
	if err != nil {
		record(t.store, "list_conflicts", nil, err.Error(), false, true, nil)
		return errorResult(err), nil
	}

	byGroup := map[string][]store.Node{}
	for _, n := range nodes {
		if n.MergeGroup == nil {
			// needs_merge without a group is a corrupt row; surface it
			// rather than hiding it.
			record(t.store, "list_conflicts", nil, "conflict node without merge_group", false, true, nil)
			return errorResult(store.NewError(store.ErrInvariantViolation, n.ID,
				"needs_merge set without merge_group")), nil
		}
		byGroup[*n.MergeGroup] = append(byGroup[*n.MergeGroup], n)
	}

	groupIDs := make([]string, 0, len(byGroup))
	for g := range byGroup {
		groupIDs = append(groupIDs, g)
	}
	sort.Strings(groupIDs)

	result := listConflictsResult{Groups: []conflictGroup{}}
	for _, g := range groupIDs {
		members := byGroup[g]
		cg := conflictGroup{MergeGroup: g}
		for _, n := range members {
			if n.MergeTimestamp != nil && cg.MergeTimestamp == "" {
				cg.MergeTimestamp = *n.MergeTimestamp
			}
			v := conflictVersion{
				ID:          n.ID,
				CanonicalID: slug.Canonical(n.ID),
				Name:        n.Name,
				Kind:        n.Kind,
				Summary:     n.Summary,
				Why:         derefOr(n.Why),
				FileRefs:    n.FileRefs,
				ParentID:    derefOr(n.ParentID),
			}
			if n.SourceBranch != nil {
				v.SourceBranch = *n.SourceBranch
			}
			if n.RemovedAt != nil {
				v.RemovedAt = *n.RemovedAt
				v.RemovedReason = derefOr(n.RemovedReason)
			}
			cg.Versions = append(cg.Versions, v)
		}
		result.Groups = append(result.Groups, cg)
	}

	record(t.store, "list_conflicts", nil,
		fmt.Sprintf("%d conflict groups", len(result.Groups)), false, false, nil)
	return jsonResult(result), nil
}
