package graphtools

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/HendryAvila/megamemory/internal/store"
)

// ListRootsTool handles the list_roots MCP tool.
type ListRootsTool struct {
	store *store.Store
}

// NewListRootsTool creates a ListRootsTool.
func NewListRootsTool(s *store.Store) *ListRootsTool {
	return &ListRootsTool{store: s}
}

// Definition returns the MCP tool definition for list_roots.
func (t *ListRootsTool) Definition() mcp.Tool {
	return mcp.NewTool("list_roots",
		mcp.WithDescription(
			"List every top-level concept with its direct children and overall graph stats. "+
				"A good first call in a fresh session.",
		),
	)
}

type rootEntry struct {
	ID       string         `json:"id"`
	Name     string         `json:"name"`
	Kind     store.NodeKind `json:"kind"`
	Summary  string         `json:"summary"`
	Children []childSummary `json:"children,omitempty"`
}

type listRootsResult struct {
	Roots []rootEntry            `json:"roots"`
	Stats store.Stats            `json:"stats"`
	Kinds map[store.NodeKind]int `json:"kinds"`
	Hint  string                 `json:"hint,omitempty"`
}

// Handle processes the list_roots tool call. Read-only.
func (t *ListRootsTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	fail := func(err error) (*mcp.CallToolResult, error) {
		record(t.store, "list_roots", nil, err.Error(), false, true, nil)
		return errorResult(err), nil
	}

	roots, err := t.store.GetRootNodes()
	if err != nil {
		return fail(err)
	}
	stats, err := t.store.GetStats()
	if err != nil {
		return fail(err)
	}
	kinds, err := t.store.GetKindsBreakdown()
	if err != nil {
		return fail(err)
	}

	result := listRootsResult{Roots: []rootEntry{}, Stats: *stats, Kinds: kinds}
	for _, r := range roots {
		entry := rootEntry{ID: r.ID, Name: r.Name, Kind: r.Kind, Summary: r.Summary}
		children, err := t.store.GetChildren(r.ID)
		if err != nil {
			return fail(err)
		}
		for _, c := range children {
			entry.Children = append(entry.Children, childSummary{
				ID: c.ID, Name: c.Name, Kind: c.Kind, Summary: c.Summary,
			})
		}
		result.Roots = append(result.Roots, entry)
	}

	if stats.Nodes == 0 {
		result.Hint = "The knowledge graph is empty. Use create_concept to record the project's " +
			"main features, modules and decisions, then link them."
	}

	record(t.store, "list_roots", nil,
		fmt.Sprintf("%d roots, %d nodes", len(result.Roots), stats.Nodes), false, false, nil)
	return jsonResult(result), nil
}
