package graphtools

import (
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/HendryAvila/megamemory/internal/embedding"
	"github.com/HendryAvila/megamemory/internal/store"
)

// ─── Test helpers ────────────────────────────────────────────────────────────

// newTestStore creates a graph store in a temp directory for testing.
func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "knowledge.db"))
	if err != nil {
		t.Fatalf("failed to create test store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// newTestProvider returns a provider over the offline model.
func newTestProvider() *embedding.Provider {
	return embedding.NewProvider(func() (embedding.Model, error) {
		return embedding.NewLocalModel(), nil
	})
}

// makeReq builds a mcp.CallToolRequest with the given arguments.
func makeReq(args map[string]interface{}) mcp.CallToolRequest {
	req := mcp.CallToolRequest{}
	req.Params.Arguments = args
	return req
}

// resultText extracts the text content from a tool result.
func resultText(r *mcp.CallToolResult) string {
	if r == nil || len(r.Content) == 0 {
		return ""
	}
	for _, c := range r.Content {
		if tc, ok := c.(mcp.TextContent); ok {
			return tc.Text
		}
	}
	return ""
}

// decodeResult unmarshals a tool result's JSON text into out.
func decodeResult(t *testing.T, r *mcp.CallToolResult, out any) {
	t.Helper()
	if err := json.Unmarshal([]byte(resultText(r)), out); err != nil {
		t.Fatalf("result is not valid JSON: %v\n%s", err, resultText(r))
	}
}

func mustNotError(t *testing.T, r *mcp.CallToolResult, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("handler returned transport error: %v", err)
	}
	if r != nil && r.IsError {
		t.Fatalf("handler returned tool error: %s", resultText(r))
	}
}

// errorKind extracts error_kind from an error result.
func errorKind(t *testing.T, r *mcp.CallToolResult) string {
	t.Helper()
	if r == nil || !r.IsError {
		t.Fatal("expected an error result")
	}
	var te struct {
		ErrorKind string `json:"error_kind"`
	}
	if err := json.Unmarshal([]byte(resultText(r)), &te); err != nil {
		t.Fatalf("error result is not {error_kind, message}: %s", resultText(r))
	}
	return te.ErrorKind
}

// createConcept runs the create tool and fails the test on error.
func createConcept(t *testing.T, s *store.Store, p *embedding.Provider, args map[string]interface{}) string {
	t.Helper()
	tool := NewCreateConceptTool(s, p)
	result, err := tool.Handle(context.Background(), makeReq(args))
	mustNotError(t, result, err)
	var cr struct {
		ID string `json:"id"`
	}
	decodeResult(t, result, &cr)
	return cr.ID
}

// ─── create_concept ──────────────────────────────────────────────────────────

func TestCreateConcept(t *testing.T) {
	s := newTestStore(t)
	p := newTestProvider()

	id := createConcept(t, s, p, map[string]interface{}{
		"name":    "MCP Server",
		"kind":    "component",
		"summary": "Serves the agent-facing tool endpoints over stdio",
		"why":     "agents need a stable transport",
	})
	if id != "mcp-server" {
		t.Errorf("id = %q, want mcp-server", id)
	}

	n, err := s.GetNode("mcp-server")
	if err != nil {
		t.Fatalf("node not stored: %v", err)
	}
	if n.Kind != store.KindComponent {
		t.Errorf("kind = %s, want component", n.Kind)
	}
	if len(n.Embedding) != store.EmbeddingDim {
		t.Errorf("embedding dims = %d, want %d", len(n.Embedding), store.EmbeddingDim)
	}
	if n.Why == nil || *n.Why != "agents need a stable transport" {
		t.Errorf("why = %v", n.Why)
	}
}

func TestCreateConceptDuplicate(t *testing.T) {
	s := newTestStore(t)
	p := newTestProvider()
	createConcept(t, s, p, map[string]interface{}{
		"name": "Auth", "kind": "module", "summary": "handles auth",
	})

	tool := NewCreateConceptTool(s, p)
	result, err := tool.Handle(context.Background(), makeReq(map[string]interface{}{
		"name": "Auth", "kind": "module", "summary": "second attempt",
	}))
	if err != nil {
		t.Fatalf("transport error: %v", err)
	}
	if got := errorKind(t, result); got != "Duplicate" {
		t.Errorf("error_kind = %s, want Duplicate", got)
	}
}

func TestCreateConceptNestedUnderParent(t *testing.T) {
	s := newTestStore(t)
	p := newTestProvider()
	createConcept(t, s, p, map[string]interface{}{
		"name": "MCP Server", "kind": "component", "summary": "the server",
	})

	id := createConcept(t, s, p, map[string]interface{}{
		"name": "Tool Registration", "kind": "feature", "summary": "registers tools",
		"parent_id": "mcp-server",
	})
	if id != "mcp-server/tool-registration" {
		t.Errorf("id = %q, want mcp-server/tool-registration", id)
	}

	children, err := s.GetChildren("mcp-server")
	if err != nil {
		t.Fatalf("children: %v", err)
	}
	if len(children) != 1 || children[0].ID != id {
		t.Errorf("children = %+v", children)
	}
}

func TestCreateConceptInvalidParent(t *testing.T) {
	s := newTestStore(t)
	p := newTestProvider()

	tool := NewCreateConceptTool(s, p)
	result, err := tool.Handle(context.Background(), makeReq(map[string]interface{}{
		"name": "Orphan", "kind": "feature", "summary": "s", "parent_id": "no-such-parent",
	}))
	if err != nil {
		t.Fatalf("transport error: %v", err)
	}
	if got := errorKind(t, result); got != "InvalidParent" {
		t.Errorf("error_kind = %s, want InvalidParent", got)
	}
}

func TestCreateConceptSkipsUnknownEdgeTargets(t *testing.T) {
	s := newTestStore(t)
	p := newTestProvider()
	createConcept(t, s, p, map[string]interface{}{
		"name": "auth", "kind": "module", "summary": "Handles JWT validation",
	})

	id := createConcept(t, s, p, map[string]interface{}{
		"name": "api", "kind": "module", "summary": "HTTP surface",
		"edges": []interface{}{
			map[string]interface{}{"to": "auth", "relation": "depends_on"},
			map[string]interface{}{"to": "ghost", "relation": "calls"},
		},
	})

	out, err := s.GetOutgoingEdges(id)
	if err != nil {
		t.Fatalf("outgoing: %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("edges = %d, want 1 (ghost target skipped)", len(out))
	}
	if out[0].ToID != "auth" || out[0].Relation != store.RelDependsOn {
		t.Errorf("edge = %+v", out[0])
	}

	in, err := s.GetIncomingEdges("auth")
	if err != nil {
		t.Fatalf("incoming: %v", err)
	}
	if len(in) != 1 || in[0].FromID != "api" {
		t.Errorf("incoming = %+v", in)
	}
}

func TestCreateConceptRejectsMergeSuffix(t *testing.T) {
	s := newTestStore(t)
	p := newTestProvider()

	tool := NewCreateConceptTool(s, p)
	// "::" never survives slugification, so the suffixed form cannot be
	// minted through the tool even by a hostile name.
	result, err := tool.Handle(context.Background(), makeReq(map[string]interface{}{
		"name": "feature-x::left", "kind": "feature", "summary": "s",
	}))
	mustNotError(t, result, err)
	var cr struct {
		ID string `json:"id"`
	}
	decodeResult(t, result, &cr)
	if strings.Contains(cr.ID, "::") {
		t.Errorf("id %q carries a reserved merge suffix", cr.ID)
	}
}

// ─── update_concept ──────────────────────────────────────────────────────────

func TestUpdateConceptReembedsOnSummaryChange(t *testing.T) {
	s := newTestStore(t)
	p := newTestProvider()
	createConcept(t, s, p, map[string]interface{}{
		"name": "auth", "kind": "module", "summary": "old summary",
	})
	before, _ := s.GetNode("auth")

	tool := NewUpdateConceptTool(s, p)
	result, err := tool.Handle(context.Background(), makeReq(map[string]interface{}{
		"id": "auth", "summary": "completely different content about tokens",
	}))
	mustNotError(t, result, err)

	after, _ := s.GetNode("auth")
	if after.Summary != "completely different content about tokens" {
		t.Errorf("summary not updated: %q", after.Summary)
	}
	same := true
	for i := range before.Embedding {
		if before.Embedding[i] != after.Embedding[i] {
			same = false
			break
		}
	}
	if same {
		t.Error("embedding should have been regenerated")
	}
}

func TestUpdateConceptIdempotentNoChange(t *testing.T) {
	s := newTestStore(t)
	p := newTestProvider()
	createConcept(t, s, p, map[string]interface{}{
		"name": "auth", "kind": "module", "summary": "same",
	})
	before, _ := s.GetNode("auth")

	tool := NewUpdateConceptTool(s, p)
	result, err := tool.Handle(context.Background(), makeReq(map[string]interface{}{
		"id": "auth", "summary": "same",
	}))
	mustNotError(t, result, err)

	var ur struct {
		Changed bool `json:"changed"`
	}
	decodeResult(t, result, &ur)
	if ur.Changed {
		t.Error("changed = true, want false")
	}

	after, _ := s.GetNode("auth")
	if after.UpdatedAt != before.UpdatedAt {
		t.Error("updated_at bumped on a no-op patch")
	}
}

func TestUpdateConceptNotFound(t *testing.T) {
	s := newTestStore(t)
	p := newTestProvider()

	tool := NewUpdateConceptTool(s, p)
	result, err := tool.Handle(context.Background(), makeReq(map[string]interface{}{
		"id": "missing", "summary": "x",
	}))
	if err != nil {
		t.Fatalf("transport error: %v", err)
	}
	if got := errorKind(t, result); got != "NotFound" {
		t.Errorf("error_kind = %s, want NotFound", got)
	}
}

// ─── link / unlink ───────────────────────────────────────────────────────────

func TestLinkAndUnlink(t *testing.T) {
	s := newTestStore(t)
	p := newTestProvider()
	createConcept(t, s, p, map[string]interface{}{"name": "a", "kind": "module", "summary": "a"})
	createConcept(t, s, p, map[string]interface{}{"name": "b", "kind": "module", "summary": "b"})

	link := NewLinkTool(s)
	result, err := link.Handle(context.Background(), makeReq(map[string]interface{}{
		"from": "a", "to": "b", "relation": "calls",
	}))
	mustNotError(t, result, err)

	var lr struct {
		EdgeID int64 `json:"edge_id"`
	}
	decodeResult(t, result, &lr)
	if lr.EdgeID == 0 {
		t.Error("edge_id = 0, want a real id")
	}

	unlink := NewUnlinkTool(s)
	result, err = unlink.Handle(context.Background(), makeReq(map[string]interface{}{
		"from": "a", "to": "b", "relation": "calls",
	}))
	mustNotError(t, result, err)

	out, _ := s.GetOutgoingEdges("a")
	if len(out) != 0 {
		t.Errorf("edges after unlink = %d, want 0", len(out))
	}
}

func TestLinkMissingEndpoint(t *testing.T) {
	s := newTestStore(t)
	p := newTestProvider()
	createConcept(t, s, p, map[string]interface{}{"name": "a", "kind": "module", "summary": "a"})

	link := NewLinkTool(s)
	result, err := link.Handle(context.Background(), makeReq(map[string]interface{}{
		"from": "a", "to": "nope", "relation": "calls",
	}))
	if err != nil {
		t.Fatalf("transport error: %v", err)
	}
	if got := errorKind(t, result); got != "NotFound" {
		t.Errorf("error_kind = %s, want NotFound", got)
	}
	if !strings.Contains(resultText(result), "nope") {
		t.Error("error should name the missing endpoint")
	}
}

// ─── remove_concept ──────────────────────────────────────────────────────────

func TestRemoveConceptCascades(t *testing.T) {
	s := newTestStore(t)
	p := newTestProvider()
	createConcept(t, s, p, map[string]interface{}{"name": "a", "kind": "module", "summary": "a"})
	createConcept(t, s, p, map[string]interface{}{"name": "b", "kind": "module", "summary": "b"})
	if _, err := s.InsertEdge("a", "b", store.RelCalls, ""); err != nil {
		t.Fatalf("edge: %v", err)
	}

	tool := NewRemoveConceptTool(s)
	result, err := tool.Handle(context.Background(), makeReq(map[string]interface{}{
		"id": "a", "reason": "retired",
	}))
	mustNotError(t, result, err)

	if _, err := s.GetNode("a"); !store.IsKind(err, store.ErrNotFound) {
		t.Error("a should be gone from live queries")
	}
	removed, err := s.GetNodeIncludingRemoved("a")
	if err != nil {
		t.Fatalf("removed row should remain: %v", err)
	}
	if removed.RemovedReason == nil || *removed.RemovedReason != "retired" {
		t.Errorf("removed_reason = %v, want retired", removed.RemovedReason)
	}

	out, _ := s.GetOutgoingEdges("a")
	in, _ := s.GetIncomingEdges("a")
	if len(out) != 0 || len(in) != 0 {
		t.Error("edges incident to a removed node should be gone")
	}
	if _, err := s.GetNode("b"); err != nil {
		t.Errorf("b should still be live: %v", err)
	}
}

func TestRemoveConceptDouble(t *testing.T) {
	s := newTestStore(t)
	p := newTestProvider()
	createConcept(t, s, p, map[string]interface{}{"name": "a", "kind": "module", "summary": "a"})

	tool := NewRemoveConceptTool(s)
	req := makeReq(map[string]interface{}{"id": "a", "reason": "first"})
	result, err := tool.Handle(context.Background(), req)
	mustNotError(t, result, err)

	result, err = tool.Handle(context.Background(), makeReq(map[string]interface{}{
		"id": "a", "reason": "second",
	}))
	if err != nil {
		t.Fatalf("transport error: %v", err)
	}
	if got := errorKind(t, result); got != "AlreadyRemoved" {
		t.Errorf("error_kind = %s, want AlreadyRemoved", got)
	}
}

// ─── understand ──────────────────────────────────────────────────────────────

func TestUnderstandEmptyGraph(t *testing.T) {
	s := newTestStore(t)
	p := newTestProvider()

	tool := NewUnderstandTool(s, p)
	result, err := tool.Handle(context.Background(), makeReq(map[string]interface{}{
		"query": "anything at all",
	}))
	mustNotError(t, result, err)

	var ur struct {
		Matches []json.RawMessage `json:"matches"`
	}
	decodeResult(t, result, &ur)
	if len(ur.Matches) != 0 {
		t.Errorf("matches = %d, want 0", len(ur.Matches))
	}
}

func TestUnderstandReturnsEnvelope(t *testing.T) {
	s := newTestStore(t)
	p := newTestProvider()

	createConcept(t, s, p, map[string]interface{}{
		"name": "auth", "kind": "module", "summary": "Validates JWT tokens on every request",
	})
	createConcept(t, s, p, map[string]interface{}{
		"name": "Token Refresh", "kind": "feature", "summary": "refreshes expiring JWT tokens",
		"parent_id": "auth",
	})
	createConcept(t, s, p, map[string]interface{}{
		"name": "api", "kind": "module", "summary": "HTTP endpoint surface",
		"edges": []interface{}{
			map[string]interface{}{"to": "auth", "relation": "depends_on"},
		},
	})

	tool := NewUnderstandTool(s, p)
	result, err := tool.Handle(context.Background(), makeReq(map[string]interface{}{
		"query": "how are JWT tokens validated on every request",
		"top_k": 2,
	}))
	mustNotError(t, result, err)

	var ur struct {
		Matches []struct {
			Node struct {
				ID string `json:"id"`
			} `json:"node"`
			Children []struct {
				ID string `json:"id"`
			} `json:"children"`
			Incoming []struct {
				NeighborID string `json:"neighbor_id"`
				Relation   string `json:"relation"`
			} `json:"incoming"`
			Similarity float64 `json:"similarity"`
		} `json:"matches"`
	}
	decodeResult(t, result, &ur)

	if len(ur.Matches) == 0 {
		t.Fatal("no matches")
	}
	top := ur.Matches[0]
	if top.Node.ID != "auth" {
		t.Fatalf("top match = %s, want auth", top.Node.ID)
	}
	if len(top.Children) != 1 || top.Children[0].ID != "auth/token-refresh" {
		t.Errorf("children = %+v", top.Children)
	}
	if len(top.Incoming) != 1 || top.Incoming[0].NeighborID != "api" {
		t.Errorf("incoming = %+v", top.Incoming)
	}
	if top.Similarity <= 0 {
		t.Errorf("similarity = %f, want > 0", top.Similarity)
	}
}

// ─── list_roots ──────────────────────────────────────────────────────────────

func TestListRootsEmptyGraphHint(t *testing.T) {
	s := newTestStore(t)

	tool := NewListRootsTool(s)
	result, err := tool.Handle(context.Background(), makeReq(nil))
	mustNotError(t, result, err)

	var rr struct {
		Hint string `json:"hint"`
	}
	decodeResult(t, result, &rr)
	if rr.Hint == "" {
		t.Error("empty graph should include a bootstrap hint")
	}
}

func TestListRoots(t *testing.T) {
	s := newTestStore(t)
	p := newTestProvider()
	createConcept(t, s, p, map[string]interface{}{"name": "core", "kind": "module", "summary": "core"})
	createConcept(t, s, p, map[string]interface{}{
		"name": "store", "kind": "component", "summary": "store", "parent_id": "core",
	})

	tool := NewListRootsTool(s)
	result, err := tool.Handle(context.Background(), makeReq(nil))
	mustNotError(t, result, err)

	var rr struct {
		Roots []struct {
			ID       string `json:"id"`
			Children []struct {
				ID string `json:"id"`
			} `json:"children"`
		} `json:"roots"`
		Stats store.Stats `json:"stats"`
	}
	decodeResult(t, result, &rr)

	if len(rr.Roots) != 1 || rr.Roots[0].ID != "core" {
		t.Fatalf("roots = %+v", rr.Roots)
	}
	if len(rr.Roots[0].Children) != 1 || rr.Roots[0].Children[0].ID != "core/store" {
		t.Errorf("children = %+v", rr.Roots[0].Children)
	}
	if rr.Stats.Nodes != 2 {
		t.Errorf("stats.nodes = %d, want 2", rr.Stats.Nodes)
	}
}

// ─── timeline recording ──────────────────────────────────────────────────────

func TestToolCallsAppendTimeline(t *testing.T) {
	s := newTestStore(t)
	p := newTestProvider()
	createConcept(t, s, p, map[string]interface{}{"name": "a", "kind": "module", "summary": "a"})

	roots := NewListRootsTool(s)
	result, err := roots.Handle(context.Background(), makeReq(nil))
	mustNotError(t, result, err)

	entries, err := s.GetTimelineEntries(store.TimelineFilter{})
	if err != nil {
		t.Fatalf("timeline: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("timeline entries = %d, want 2", len(entries))
	}

	create := entries[0]
	if create.Tool != "create_concept" || !create.IsWrite || create.IsError {
		t.Errorf("first entry = %+v", create)
	}
	if len(create.AffectedIDs) != 1 || create.AffectedIDs[0] != "a" {
		t.Errorf("affected_ids = %v", create.AffectedIDs)
	}

	read := entries[1]
	if read.Tool != "list_roots" || read.IsWrite {
		t.Errorf("second entry = %+v", read)
	}
	if read.Seq <= create.Seq {
		t.Error("seq should be strictly increasing")
	}

	writes, err := s.GetTimelineEntries(store.TimelineFilter{WritesOnly: true})
	if err != nil {
		t.Fatalf("writes filter: %v", err)
	}
	if len(writes) != 1 {
		t.Errorf("writes = %d, want 1", len(writes))
	}
}
