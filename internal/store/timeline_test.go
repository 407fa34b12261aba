package store

import (
	"testing"
)

func appendEntry(t *testing.T, s *Store, tool string, isWrite bool, affected ...string) int64 {
	t.Helper()
	seq, err := s.InsertTimelineEntry(&TimelineEntry{
		Tool:        tool,
		Params:      `{}`,
		IsWrite:     isWrite,
		AffectedIDs: affected,
	})
	if err != nil {
		t.Fatalf("append %s: %v", tool, err)
	}
	return seq
}

func TestTimelineSeqStrictlyIncreasing(t *testing.T) {
	s := newTestStore(t)
	var last int64
	for i := 0; i < 5; i++ {
		seq := appendEntry(t, s, "create_concept", true, "x")
		if seq <= last {
			t.Fatalf("seq %d after %d, want strictly increasing", seq, last)
		}
		last = seq
	}
}

func TestTimelineBounds(t *testing.T) {
	s := newTestStore(t)

	empty, err := s.GetTimelineBounds()
	if err != nil {
		t.Fatalf("bounds: %v", err)
	}
	if empty.Count != 0 || empty.First != "" || empty.Last != "" {
		t.Errorf("empty bounds = %+v", empty)
	}

	appendEntry(t, s, "create_concept", true, "a")
	appendEntry(t, s, "understand", false)

	b, err := s.GetTimelineBounds()
	if err != nil {
		t.Fatalf("bounds: %v", err)
	}
	if b.Count != 2 {
		t.Errorf("count = %d, want 2", b.Count)
	}
	if b.First == "" || b.Last == "" || b.First > b.Last {
		t.Errorf("bounds = %+v", b)
	}
}

func TestTimelineEntriesFilters(t *testing.T) {
	s := newTestStore(t)
	appendEntry(t, s, "create_concept", true, "a")
	appendEntry(t, s, "understand", false)
	appendEntry(t, s, "link", true, "a", "b")

	writes, err := s.GetTimelineEntries(TimelineFilter{WritesOnly: true})
	if err != nil {
		t.Fatalf("writes: %v", err)
	}
	if len(writes) != 2 {
		t.Errorf("writes = %d, want 2", len(writes))
	}

	byTool, err := s.GetTimelineEntries(TimelineFilter{Tool: "understand"})
	if err != nil {
		t.Fatalf("by tool: %v", err)
	}
	if len(byTool) != 1 || byTool[0].Tool != "understand" {
		t.Errorf("by tool = %+v", byTool)
	}

	limited, err := s.GetTimelineEntries(TimelineFilter{Limit: 1})
	if err != nil {
		t.Fatalf("limited: %v", err)
	}
	if len(limited) != 1 || limited[0].Tool != "create_concept" {
		t.Errorf("limited = %+v", limited)
	}

	if len(writes[1].AffectedIDs) != 2 {
		t.Errorf("affected_ids = %v, want [a b]", writes[1].AffectedIDs)
	}
}

func TestTimelineTicks(t *testing.T) {
	s := newTestStore(t)
	for i := 0; i < 50; i++ {
		appendEntry(t, s, "create_concept", true)
	}

	ticks, err := s.GetTimelineTicks(10)
	if err != nil {
		t.Fatalf("ticks: %v", err)
	}
	if len(ticks) != 10 {
		t.Errorf("ticks = %d, want 10", len(ticks))
	}
	if ticks[0].Seq != 1 {
		t.Errorf("first tick seq = %d, want 1", ticks[0].Seq)
	}
	if ticks[len(ticks)-1].Seq != 50 {
		t.Errorf("last tick seq = %d, want 50", ticks[len(ticks)-1].Seq)
	}

	// Requesting more ticks than entries returns everything once.
	all, err := s.GetTimelineTicks(500)
	if err != nil {
		t.Fatalf("ticks: %v", err)
	}
	if len(all) != 50 {
		t.Errorf("ticks = %d, want 50", len(all))
	}

	// Tiny logs do not duplicate collapsed indices.
	s2 := newTestStore(t)
	appendEntry(t, s2, "create_concept", true)
	appendEntry(t, s2, "link", true)
	few, err := s2.GetTimelineTicks(10)
	if err != nil {
		t.Fatalf("ticks: %v", err)
	}
	if len(few) != 2 {
		t.Errorf("ticks = %d, want 2", len(few))
	}
}

// ─── Time travel ─────────────────────────────────────────────────────────────

func TestTimeTravel(t *testing.T) {
	s := newTestStore(t)

	early := &Node{ID: "early", Name: "early", Kind: KindFeature, Summary: "s",
		CreatedAt: "2024-01-01 00:00:00", UpdatedAt: "2024-01-01 00:00:00"}
	if err := s.InsertNodeRaw(early); err != nil {
		t.Fatalf("insert: %v", err)
	}
	late := &Node{ID: "late", Name: "late", Kind: KindFeature, Summary: "s",
		CreatedAt: "2024-06-01 00:00:00", UpdatedAt: "2024-06-01 00:00:00"}
	if err := s.InsertNodeRaw(late); err != nil {
		t.Fatalf("insert: %v", err)
	}
	removedAt := "2024-03-01 00:00:00"
	gone := &Node{ID: "gone", Name: "gone", Kind: KindFeature, Summary: "s",
		CreatedAt: "2024-01-15 00:00:00", UpdatedAt: "2024-01-15 00:00:00",
		RemovedAt: &removedAt, RemovedReason: strptr("cut")}
	if err := s.InsertNodeRaw(gone); err != nil {
		t.Fatalf("insert: %v", err)
	}

	edge := &Edge{FromID: "early", ToID: "late", Relation: RelCalls,
		CreatedAt: "2024-06-02 00:00:00"}
	if err := s.InsertEdgeRaw(edge); err != nil {
		t.Fatalf("edge: %v", err)
	}

	// February: early and gone exist, late does not.
	nodes, err := s.GetNodesAtTime("2024-02-01 00:00:00")
	if err != nil {
		t.Fatalf("nodes at time: %v", err)
	}
	ids := map[string]bool{}
	for _, n := range nodes {
		ids[n.ID] = true
	}
	if !ids["early"] || !ids["gone"] || ids["late"] {
		t.Errorf("feb nodes = %v", ids)
	}

	// April: gone has been removed.
	nodes, _ = s.GetNodesAtTime("2024-04-01 00:00:00")
	ids = map[string]bool{}
	for _, n := range nodes {
		ids[n.ID] = true
	}
	if ids["gone"] || !ids["early"] {
		t.Errorf("apr nodes = %v", ids)
	}

	// Edge appears only once both endpoints and the edge itself exist.
	edges, err := s.GetEdgesAtTime("2024-06-01 12:00:00")
	if err != nil {
		t.Fatalf("edges at time: %v", err)
	}
	if len(edges) != 0 {
		t.Errorf("edges before creation = %d, want 0", len(edges))
	}
	edges, _ = s.GetEdgesAtTime("2024-07-01 00:00:00")
	if len(edges) != 1 {
		t.Errorf("edges after creation = %d, want 1", len(edges))
	}

	// P10: every edge endpoint is in the node snapshot at the same t.
	for _, at := range []string{"2024-02-01 00:00:00", "2024-07-01 00:00:00"} {
		nodes, _ := s.GetNodesAtTime(at)
		present := map[string]bool{}
		for _, n := range nodes {
			present[n.ID] = true
		}
		edges, _ := s.GetEdgesAtTime(at)
		for _, e := range edges {
			if !present[e.FromID] || !present[e.ToID] {
				t.Errorf("at %s: edge %s -> %s has missing endpoint", at, e.FromID, e.ToID)
			}
		}
	}
}

func TestSynthesizeTimeline(t *testing.T) {
	s := newTestStore(t)

	removedAt := "2024-03-01 00:00:00"
	n := &Node{ID: "relic", Name: "relic", Kind: KindFeature, Summary: "s",
		CreatedAt: "2024-01-01 00:00:00", UpdatedAt: "2024-02-01 00:00:00",
		RemovedAt: &removedAt, RemovedReason: strptr("old")}
	if err := s.InsertNodeRaw(n); err != nil {
		t.Fatalf("insert: %v", err)
	}

	entries, err := s.SynthesizeTimeline()
	if err != nil {
		t.Fatalf("synthesize: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("entries = %d, want 3 (create, update, remove)", len(entries))
	}
	if entries[0].Tool != "create_concept" || entries[1].Tool != "update_concept" || entries[2].Tool != "remove_concept" {
		t.Errorf("order = %s, %s, %s", entries[0].Tool, entries[1].Tool, entries[2].Tool)
	}
	for _, e := range entries {
		if len(e.AffectedIDs) != 1 || e.AffectedIDs[0] != "relic" {
			t.Errorf("affected = %v", e.AffectedIDs)
		}
		if !e.IsWrite {
			t.Error("synthetic entries are writes")
		}
	}
}

func TestSynthesizeTimelineDedupesAgainstReal(t *testing.T) {
	s := newTestStore(t)

	n := &Node{ID: "x", Name: "x", Kind: KindFeature, Summary: "s",
		CreatedAt: "2024-01-01 00:00:00", UpdatedAt: "2024-01-01 00:00:00"}
	if err := s.InsertNodeRaw(n); err != nil {
		t.Fatalf("insert: %v", err)
	}

	// A real audit row for the same create event.
	_, err := s.InsertTimelineEntry(&TimelineEntry{
		Timestamp:   "2024-01-01 00:00:00",
		Tool:        "create_concept",
		Params:      `{"id":"x"}`,
		IsWrite:     true,
		AffectedIDs: []string{"x"},
	})
	if err != nil {
		t.Fatalf("append: %v", err)
	}

	entries, err := s.SynthesizeTimeline()
	if err != nil {
		t.Fatalf("synthesize: %v", err)
	}
	creates := 0
	for _, e := range entries {
		if e.Tool == "create_concept" {
			creates++
		}
	}
	if creates != 1 {
		t.Errorf("create entries = %d, want 1 (real wins over synthetic)", creates)
	}
}
