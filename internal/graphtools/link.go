package graphtools

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/HendryAvila/megamemory/internal/store"
)

// LinkTool handles the link MCP tool.
type LinkTool struct {
	store *store.Store
}

// NewLinkTool creates a LinkTool.
func NewLinkTool(s *store.Store) *LinkTool {
	return &LinkTool{store: s}
}

// Definition returns the MCP tool definition for link.
func (t *LinkTool) Definition() mcp.Tool {
	return mcp.NewTool("link",
		mcp.WithDescription(
			"Create a typed relationship between two concepts.",
		),
		mcp.WithString("from",
			mcp.Required(),
			mcp.Description("Source concept id"),
		),
		mcp.WithString("to",
			mcp.Required(),
			mcp.Description("Target concept id"),
		),
		mcp.WithString("relation",
			mcp.Required(),
			mcp.Description("One of: connects_to, depends_on, implements, calls, configured_by"),
		),
		mcp.WithString("description",
			mcp.Description("Optional note on the relationship"),
		),
	)
}

type linkResult struct {
	EdgeID  int64  `json:"edge_id"`
	Message string `json:"message"`
}

// Handle processes the link tool call.
func (t *LinkTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	from := req.GetString("from", "")
	to := req.GetString("to", "")
	relation := store.RelationType(req.GetString("relation", ""))
	description := req.GetString("description", "")
	params := map[string]any{"from": from, "to": to, "relation": relation}

	fail := func(err error) (*mcp.CallToolResult, error) {
		record(t.store, "link", params, err.Error(), true, true, nil)
		return errorResult(err), nil
	}

	if !store.ValidRelation(relation) {
		return fail(store.NewError(store.ErrInvariantViolation, string(relation),
			"relation must be one of connects_to, depends_on, implements, calls, configured_by"))
	}

	edgeID, err := t.store.InsertEdge(from, to, relation, description)
	if err != nil {
		return fail(err)
	}

	msg := fmt.Sprintf("linked %s %s %s", from, relation, to)
	record(t.store, "link", params, msg, true, false, []string{from, to})
	return jsonResult(linkResult{EdgeID: edgeID, Message: msg}), nil
}

// UnlinkTool handles the unlink MCP tool, the explicit inverse of link.
type UnlinkTool struct {
	store *store.Store
}

// NewUnlinkTool creates an UnlinkTool.
func NewUnlinkTool(s *store.Store) *UnlinkTool {
	return &UnlinkTool{store: s}
}

// Definition returns the MCP tool definition for unlink.
func (t *UnlinkTool) Definition() mcp.Tool {
	return mcp.NewTool("unlink",
		mcp.WithDescription("Remove a relationship between two concepts."),
		mcp.WithString("from",
			mcp.Required(),
			mcp.Description("Source concept id"),
		),
		mcp.WithString("to",
			mcp.Required(),
			mcp.Description("Target concept id"),
		),
		mcp.WithString("relation",
			mcp.Required(),
			mcp.Description("Relation of the edge to remove"),
		),
	)
}

type unlinkResult struct {
	Removed int64  `json:"removed"`
	Message string `json:"message"`
}

// Handle processes the unlink tool call.
func (t *UnlinkTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	from := req.GetString("from", "")
	to := req.GetString("to", "")
	relation := store.RelationType(req.GetString("relation", ""))
	params := map[string]any{"from": from, "to": to, "relation": relation}

	removed, err := t.store.DeleteEdge(from, to, relation)
	if err != nil {
		record(t.store, "unlink", params, err.Error(), true, true, nil)
		return errorResult(err), nil
	}
	if removed == 0 {
		err := store.NewError(store.ErrNotFound,
			fmt.Sprintf("%s -%s-> %s", from, relation, to), "no such edge")
		record(t.store, "unlink", params, err.Error(), true, true, nil)
		return errorResult(err), nil
	}

	msg := fmt.Sprintf("removed %d edge(s) %s -%s-> %s", removed, from, relation, to)
	record(t.store, "unlink", params, msg, true, false, []string{from, to})
	return jsonResult(unlinkResult{Removed: removed, Message: msg}), nil
}
