package graphtools

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/HendryAvila/megamemory/internal/embedding"
	"github.com/HendryAvila/megamemory/internal/store"
)

// UpdateConceptTool handles the update_concept MCP tool.
type UpdateConceptTool struct {
	store    *store.Store
	provider *embedding.Provider
}

// NewUpdateConceptTool creates an UpdateConceptTool.
func NewUpdateConceptTool(s *store.Store, p *embedding.Provider) *UpdateConceptTool {
	return &UpdateConceptTool{store: s, provider: p}
}

// Definition returns the MCP tool definition for update_concept.
func (t *UpdateConceptTool) Definition() mcp.Tool {
	return mcp.NewTool("update_concept",
		mcp.WithDescription(
			"Update fields of an existing concept. Changing name, kind or summary "+
				"re-indexes the concept for semantic search.",
		),
		mcp.WithString("id",
			mcp.Required(),
			mcp.Description("Concept id to update"),
		),
		mcp.WithString("name", mcp.Description("New name")),
		mcp.WithString("kind", mcp.Description("New kind")),
		mcp.WithString("summary", mcp.Description("New summary")),
		mcp.WithString("why", mcp.Description("New rationale")),
		mcp.WithArray("file_refs", mcp.Description("Replacement file references")),
		mcp.WithString("created_by_task", mcp.Description("New task tag")),
	)
}

type updateResult struct {
	ID      string `json:"id"`
	Changed bool   `json:"changed"`
	Message string `json:"message"`
}

// Handle processes the update_concept tool call.
func (t *UpdateConceptTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := req.GetString("id", "")
	params := map[string]any{"id": id}

	fail := func(err error) (*mcp.CallToolResult, error) {
		record(t.store, "update_concept", params, err.Error(), true, true, nil)
		return errorResult(err), nil
	}

	current, err := t.store.GetNode(id)
	if err != nil {
		return fail(err)
	}

	patch := store.NodePatch{}
	args := req.GetArguments()
	if v, ok := args["name"].(string); ok {
		patch.Name = &v
	}
	if v, ok := args["kind"].(string); ok {
		k := store.NodeKind(v)
		if !store.ValidKind(k) {
			return fail(store.NewError(store.ErrInvariantViolation, v, "unknown kind"))
		}
		patch.Kind = &k
	}
	if v, ok := args["summary"].(string); ok {
		patch.Summary = &v
	}
	if v, ok := args["why"].(string); ok {
		patch.Why = &v
	}
	if _, ok := args["file_refs"]; ok {
		refs := stringSliceArg(req, "file_refs")
		patch.FileRefs = &refs
	}
	if v, ok := args["created_by_task"].(string); ok {
		patch.CreatedByTask = &v
	}

	// Name, kind or summary changes invalidate the stored vector; embed
	// the post-patch values before touching the row so an embedding
	// failure leaves the node untouched.
	if needsReindex(current, patch) {
		name := current.Name
		if patch.Name != nil {
			name = *patch.Name
		}
		kind := current.Kind
		if patch.Kind != nil {
			kind = *patch.Kind
		}
		summary := current.Summary
		if patch.Summary != nil {
			summary = *patch.Summary
		}
		vec, err := t.provider.Embed(ctx, embedding.EmbeddingText(name, kind, summary))
		if err != nil {
			return fail(err)
		}
		patch.Embedding = vec
	}

	changed, err := t.store.UpdateNode(id, patch)
	if err != nil {
		return fail(err)
	}

	msg := fmt.Sprintf("updated %s", id)
	if !changed {
		msg = fmt.Sprintf("%s already up to date", id)
	}
	record(t.store, "update_concept", params, msg, true, false, []string{id})
	return jsonResult(updateResult{ID: id, Changed: changed, Message: msg}), nil
}

// needsReindex reports whether the patch touches a field that feeds the
// embedding text with a value that actually differs.
func needsReindex(current *store.Node, patch store.NodePatch) bool {
	if patch.Name != nil && *patch.Name != current.Name {
		return true
	}
	if patch.Kind != nil && *patch.Kind != current.Kind {
		return true
	}
	if patch.Summary != nil && *patch.Summary != current.Summary {
		return true
	}
	return false
}
