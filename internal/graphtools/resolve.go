package graphtools

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/HendryAvila/megamemory/internal/embedding"
	"github.com/HendryAvila/megamemory/internal/slug"
	"github.com/HendryAvila/megamemory/internal/store"
)

// ResolveConflictTool handles the resolve_conflict MCP tool: AI-assisted
// resolution where the agent supplies the reconciled content.
type ResolveConflictTool struct {
	store    *store.Store
	provider *embedding.Provider
}

// NewResolveConflictTool creates a ResolveConflictTool.
func NewResolveConflictTool(s *store.Store, p *embedding.Provider) *ResolveConflictTool {
	return &ResolveConflictTool{store: s, provider: p}
}

// Definition returns the MCP tool definition for resolve_conflict.
func (t *ResolveConflictTool) Definition() mcp.Tool {
	return mcp.NewTool("resolve_conflict",
		mcp.WithDescription(
			"Resolve one merge conflict by supplying the reconciled content. The surviving "+
				"version takes the canonical id; the other version is discarded.",
		),
		mcp.WithString("merge_group",
			mcp.Required(),
			mcp.Description("The conflict group to resolve (from list_conflicts)"),
		),
		mcp.WithString("summary",
			mcp.Required(),
			mcp.Description("Reconciled summary for the surviving concept"),
		),
		mcp.WithString("why",
			mcp.Description("Reconciled rationale"),
		),
		mcp.WithArray("file_refs",
			mcp.Description("Reconciled file references"),
		),
		mcp.WithString("reason",
			mcp.Required(),
			mcp.Description("Why this resolution was chosen, for the audit trail"),
		),
	)
}

type resolveResult struct {
	ID      string `json:"id"`
	Message string `json:"message"`
}

// Handle processes the resolve_conflict tool call.
//
// Winner selection: when exactly one variant is live and the rest are
// removed, the conflict was "one side deleted" and the live variant wins.
// Otherwise the ::left variant wins. The loser is hard-deleted, the winner
// renamed back to the canonical id, patched with the reconciled content,
// re-embedded, and stripped of merge flags along with the group's edges.
func (t *ResolveConflictTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	group := req.GetString("merge_group", "")
	summary := req.GetString("summary", "")
	why := req.GetString("why", "")
	reason := req.GetString("reason", "")
	params := map[string]any{"merge_group": group, "reason": reason}

	fail := func(err error) (*mcp.CallToolResult, error) {
		record(t.store, "resolve_conflict", params, err.Error(), true, true, nil)
		return errorResult(err), nil
	}

	if summary == "" {
		return fail(store.NewError(store.ErrEmbeddingInput, group, "resolved summary is required"))
	}

	variants, err := t.store.GetNodesByMergeGroup(group)
	if err != nil {
		return fail(err)
	}
	if len(variants) == 0 {
		return fail(store.NewError(store.ErrNotFound, group, "merge group not found"))
	}

	winner := pickWinner(variants)
	if winner == nil {
		return fail(store.NewError(store.ErrInvariantViolation, group, "no resolvable variant in group"))
	}

	// Embed first: a failed embedding must leave the conflict untouched.
	vec, err := t.provider.Embed(ctx, embedding.EmbeddingText(winner.Name, winner.Kind, summary))
	if err != nil {
		return fail(err)
	}

	for _, v := range variants {
		if v.ID == winner.ID {
			continue
		}
		if err := t.store.HardDeleteNode(v.ID); err != nil {
			return fail(err)
		}
	}

	canonical := slug.Canonical(winner.ID)
	if err := t.store.RenameNodeID(winner.ID, canonical); err != nil {
		return fail(err)
	}

	// A winner that was soft-deleted on its branch comes back live: the
	// resolution explicitly chose content for it.
	if err := t.reviveIfRemoved(canonical); err != nil {
		return fail(err)
	}

	patch := store.NodePatch{Summary: &summary, Embedding: vec}
	if why != "" {
		patch.Why = &why
	}
	if _, ok := req.GetArguments()["file_refs"]; ok {
		refs := stringSliceArg(req, "file_refs")
		patch.FileRefs = &refs
	}
	if _, err := t.store.UpdateNode(canonical, patch); err != nil {
		return fail(err)
	}

	if err := t.store.ClearNodeMergeFlags(canonical); err != nil {
		return fail(err)
	}
	if err := t.store.ClearEdgeMergeFlagsByGroup(group); err != nil {
		return fail(err)
	}

	msg := fmt.Sprintf("resolved %s as %s", group, canonical)
	record(t.store, "resolve_conflict", params, msg, true, false, []string{canonical})
	return jsonResult(resolveResult{ID: canonical, Message: msg}), nil
}

// pickWinner prefers the single live variant of a removed-vs-live
// conflict, falling back to the ::left variant, then to the first row.
func pickWinner(variants []store.Node) *store.Node {
	var live []*store.Node
	for i := range variants {
		if !variants[i].Removed() {
			live = append(live, &variants[i])
		}
	}
	if len(live) == 1 {
		return live[0]
	}

	for i := range variants {
		if slug.Suffix(variants[i].ID) == "left" {
			return &variants[i]
		}
	}
	if len(variants) > 0 {
		return &variants[0]
	}
	return nil
}

func (t *ResolveConflictTool) reviveIfRemoved(id string) error {
	n, err := t.store.GetNodeIncludingRemoved(id)
	if err != nil {
		return err
	}
	if !n.Removed() {
		return nil
	}
	return t.store.ReviveNode(id)
}
