package graphtools

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/HendryAvila/megamemory/internal/store"
)

// RemoveConceptTool handles the remove_concept MCP tool.
type RemoveConceptTool struct {
	store *store.Store
}

// NewRemoveConceptTool creates a RemoveConceptTool.
func NewRemoveConceptTool(s *store.Store) *RemoveConceptTool {
	return &RemoveConceptTool{store: s}
}

// Definition returns the MCP tool definition for remove_concept.
func (t *RemoveConceptTool) Definition() mcp.Tool {
	return mcp.NewTool("remove_concept",
		mcp.WithDescription(
			"Soft-delete a concept. Its relationships are removed and its children "+
				"become roots; the record itself stays in history.",
		),
		mcp.WithString("id",
			mcp.Required(),
			mcp.Description("Concept id to remove"),
		),
		mcp.WithString("reason",
			mcp.Required(),
			mcp.Description("Why the concept is being removed"),
		),
	)
}

type removeResult struct {
	ID      string `json:"id"`
	Message string `json:"message"`
}

// Handle processes the remove_concept tool call.
func (t *RemoveConceptTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := req.GetString("id", "")
	reason := req.GetString("reason", "")
	params := map[string]any{"id": id, "reason": reason}

	if err := t.store.SoftDeleteNode(id, reason); err != nil {
		record(t.store, "remove_concept", params, err.Error(), true, true, nil)
		return errorResult(err), nil
	}

	msg := fmt.Sprintf("removed %s", id)
	record(t.store, "remove_concept", params, msg, true, false, []string{id})
	return jsonResult(removeResult{ID: id, Message: msg}), nil
}
