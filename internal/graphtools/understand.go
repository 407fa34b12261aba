package graphtools

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/HendryAvila/megamemory/internal/embedding"
	"github.com/HendryAvila/megamemory/internal/store"
)

// UnderstandTool handles the understand MCP tool: semantic search over the
// graph, each hit expanded into its surrounding context.
type UnderstandTool struct {
	store    *store.Store
	provider *embedding.Provider
}

// NewUnderstandTool creates an UnderstandTool.
func NewUnderstandTool(s *store.Store, p *embedding.Provider) *UnderstandTool {
	return &UnderstandTool{store: s, provider: p}
}

// Definition returns the MCP tool definition for understand.
func (t *UnderstandTool) Definition() mcp.Tool {
	return mcp.NewTool("understand",
		mcp.WithDescription(
			"Query the project knowledge graph by natural-language intent before starting work. "+
				"Returns the most relevant concepts with their children, parent and relationships.",
		),
		mcp.WithString("query",
			mcp.Required(),
			mcp.Description("What you want to understand, in natural language"),
		),
		mcp.WithNumber("top_k",
			mcp.Description("Max concepts to return (default: 10)"),
		),
	)
}

// childSummary is the compact child shape inside a context envelope.
type childSummary struct {
	ID      string         `json:"id"`
	Name    string         `json:"name"`
	Kind    store.NodeKind `json:"kind"`
	Summary string         `json:"summary"`
}

// edgeSummary is an edge as seen from the envelope's node.
type edgeSummary struct {
	NeighborID   string             `json:"neighbor_id"`
	NeighborName string             `json:"neighbor_name"`
	Relation     store.RelationType `json:"relation"`
	Description  string             `json:"description,omitempty"`
}

// parentSummary names the envelope node's parent.
type parentSummary struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// contextEnvelope is one semantic match with its surroundings.
type contextEnvelope struct {
	Node       store.Node     `json:"node"`
	Children   []childSummary `json:"children,omitempty"`
	Outgoing   []edgeSummary  `json:"outgoing,omitempty"`
	Incoming   []edgeSummary  `json:"incoming,omitempty"`
	Parent     *parentSummary `json:"parent,omitempty"`
	Similarity float64        `json:"similarity"`
}

type understandResult struct {
	Matches []contextEnvelope `json:"matches"`
}

// Handle processes the understand tool call. Read-only.
func (t *UnderstandTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query := req.GetString("query", "")
	topK := intArg(req, "top_k", 10)
	params := map[string]any{"query": query, "top_k": topK}

	result := understandResult{Matches: []contextEnvelope{}}

	if query == "" {
		record(t.store, "understand", params, "empty query", false, false, nil)
		return jsonResult(result), nil
	}

	candidates, err := t.store.GetAllActiveNodesWithEmbeddings()
	if err != nil {
		record(t.store, "understand", params, err.Error(), false, true, nil)
		return errorResult(err), nil
	}
	if len(candidates) == 0 {
		record(t.store, "understand", params, "no indexed concepts", false, false, nil)
		return jsonResult(result), nil
	}

	queryVec, err := t.provider.Embed(ctx, query)
	if err != nil {
		record(t.store, "understand", params, err.Error(), false, true, nil)
		return errorResult(err), nil
	}

	pool := make([]embedding.Candidate, 0, len(candidates))
	byID := make(map[string]*store.Node, len(candidates))
	for i := range candidates {
		pool = append(pool, embedding.Candidate{ID: candidates[i].ID, Vector: candidates[i].Embedding})
		byID[candidates[i].ID] = &candidates[i]
	}

	matches, err := embedding.FindTopK(queryVec, pool, topK)
	if err != nil {
		record(t.store, "understand", params, err.Error(), false, true, nil)
		return errorResult(err), nil
	}

	var affected []string
	for _, m := range matches {
		env, err := t.buildEnvelope(byID[m.ID], m.Similarity)
		if err != nil {
			record(t.store, "understand", params, err.Error(), false, true, nil)
			return errorResult(err), nil
		}
		result.Matches = append(result.Matches, *env)
		affected = append(affected, m.ID)
	}

	record(t.store, "understand", params,
		fmt.Sprintf("%d matches", len(result.Matches)), false, false, affected)
	return jsonResult(result), nil
}

// buildEnvelope assembles one match's context: base fields, live children,
// both edge directions with neighbor names, and the live parent.
func (t *UnderstandTool) buildEnvelope(n *store.Node, similarity float64) (*contextEnvelope, error) {
	env := &contextEnvelope{Node: *n, Similarity: similarity}
	env.Node.Embedding = nil // vectors stay out of the wire shape

	children, err := t.store.GetChildren(n.ID)
	if err != nil {
		return nil, err
	}
	for _, c := range children {
		env.Children = append(env.Children, childSummary{
			ID: c.ID, Name: c.Name, Kind: c.Kind, Summary: c.Summary,
		})
	}

	outgoing, err := t.store.GetOutgoingEdges(n.ID)
	if err != nil {
		return nil, err
	}
	for _, e := range outgoing {
		env.Outgoing = append(env.Outgoing, edgeSummary{
			NeighborID:   e.NeighborID,
			NeighborName: e.NeighborName,
			Relation:     e.Relation,
			Description:  derefOr(e.Description),
		})
	}

	incoming, err := t.store.GetIncomingEdges(n.ID)
	if err != nil {
		return nil, err
	}
	for _, e := range incoming {
		env.Incoming = append(env.Incoming, edgeSummary{
			NeighborID:   e.NeighborID,
			NeighborName: e.NeighborName,
			Relation:     e.Relation,
			Description:  derefOr(e.Description),
		})
	}

	if n.ParentID != nil {
		parent, err := t.store.GetNode(*n.ParentID)
		if err == nil {
			env.Parent = &parentSummary{ID: parent.ID, Name: parent.Name}
		} else if !store.IsKind(err, store.ErrNotFound) {
			return nil, err
		}
	}

	return env, nil
}

func derefOr(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
