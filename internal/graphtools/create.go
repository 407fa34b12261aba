package graphtools

import (
	"context"
	"fmt"
	"log"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/HendryAvila/megamemory/internal/embedding"
	"github.com/HendryAvila/megamemory/internal/slug"
	"github.com/HendryAvila/megamemory/internal/store"
)

// CreateConceptTool handles the create_concept MCP tool.
type CreateConceptTool struct {
	store    *store.Store
	provider *embedding.Provider
}

// NewCreateConceptTool creates a CreateConceptTool.
func NewCreateConceptTool(s *store.Store, p *embedding.Provider) *CreateConceptTool {
	return &CreateConceptTool{store: s, provider: p}
}

// Definition returns the MCP tool definition for create_concept.
func (t *CreateConceptTool) Definition() mcp.Tool {
	return mcp.NewTool("create_concept",
		mcp.WithDescription(
			"Record a concept in the project knowledge graph: a feature, module, pattern, "+
				"config, decision or component. The id is derived from the name.",
		),
		mcp.WithString("name",
			mcp.Required(),
			mcp.Description("Human-readable concept name, e.g. 'MCP Server'"),
		),
		mcp.WithString("kind",
			mcp.Required(),
			mcp.Description("One of: feature, module, pattern, config, decision, component"),
		),
		mcp.WithString("summary",
			mcp.Required(),
			mcp.Description("What this concept is, in a sentence or two"),
		),
		mcp.WithString("why",
			mcp.Description("Optional rationale: why it exists or was decided this way"),
		),
		mcp.WithString("parent_id",
			mcp.Description("Optional id of the parent concept; the new id nests under it"),
		),
		mcp.WithArray("file_refs",
			mcp.Description("Optional file paths (each may carry a line range, e.g. 'auth.go:10-42')"),
		),
		mcp.WithArray("edges",
			mcp.Description("Optional relationships to create, each {to, relation, description?}. Unknown targets are skipped."),
		),
		mcp.WithString("created_by_task",
			mcp.Description("Optional tag naming the task that produced this concept"),
		),
	)
}

type createResult struct {
	ID      string `json:"id"`
	Message string `json:"message"`
}

// Handle processes the create_concept tool call.
func (t *CreateConceptTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name := req.GetString("name", "")
	kind := store.NodeKind(req.GetString("kind", ""))
	summary := req.GetString("summary", "")
	why := req.GetString("why", "")
	parentID := req.GetString("parent_id", "")
	fileRefs := stringSliceArg(req, "file_refs")
	edges := objectSliceArg(req, "edges")
	createdByTask := req.GetString("created_by_task", "")

	params := map[string]any{"name": name, "kind": kind, "parent_id": parentID}
	fail := func(err error) (*mcp.CallToolResult, error) {
		record(t.store, "create_concept", params, err.Error(), true, true, nil)
		return errorResult(err), nil
	}

	if name == "" || summary == "" {
		return fail(store.NewError(store.ErrInvalidID, name, "name and summary are required"))
	}
	if !store.ValidKind(kind) {
		return fail(store.NewError(store.ErrInvariantViolation, string(kind),
			"kind must be one of feature, module, pattern, config, decision, component"))
	}

	id := slug.MakeChild(name, parentID)
	if id == "" || !slug.Valid(id) {
		return fail(store.NewError(store.ErrInvalidID, name,
			fmt.Sprintf("name %q does not slugify to a valid id", name)))
	}

	vec, err := t.provider.Embed(ctx, embedding.EmbeddingText(name, kind, summary))
	if err != nil {
		// No embedding, no node: a concept that can't be found again is
		// worse than a failed call.
		return fail(err)
	}

	node := &store.Node{
		ID:        id,
		Name:      name,
		Kind:      kind,
		Summary:   summary,
		Embedding: vec,
	}
	if why != "" {
		node.Why = &why
	}
	if parentID != "" {
		node.ParentID = &parentID
	}
	if createdByTask != "" {
		node.CreatedByTask = &createdByTask
	}
	node.FileRefs = fileRefs

	if err := t.store.InsertNode(node); err != nil {
		return fail(err)
	}

	linked := 0
	for _, e := range edges {
		to, _ := e["to"].(string)
		relation := store.RelationType(asString(e["relation"]))
		description := asString(e["description"])
		if to == "" || !store.ValidRelation(relation) {
			log.Printf("WARNING: create_concept %s: skipping malformed edge %v", id, e)
			continue
		}
		if _, err := t.store.InsertEdge(id, to, relation, description); err != nil {
			if store.IsKind(err, store.ErrNotFound) {
				// Unknown targets are skipped, not fatal: agents often
				// declare edges to concepts they haven't written yet.
				log.Printf("WARNING: create_concept %s: edge target %q does not exist, skipped", id, to)
				continue
			}
			return fail(err)
		}
		linked++
	}

	msg := fmt.Sprintf("created %s", id)
	if linked > 0 {
		msg = fmt.Sprintf("created %s with %d edges", id, linked)
	}
	record(t.store, "create_concept", params, msg, true, false, []string{id})
	return jsonResult(createResult{ID: id, Message: msg}), nil
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}
