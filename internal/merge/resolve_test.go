package merge

import (
	"path/filepath"
	"testing"

	"github.com/HendryAvila/megamemory/internal/store"
)

// conflictedStore merges two stores that share an identical "caller" node
// but disagree on "feature-x" (only the left one links caller to it) and
// returns the opened output plus the merge group.
func conflictedStore(t *testing.T) (*store.Store, string) {
	t.Helper()
	dir := t.TempDir()
	leftPath := filepath.Join(dir, "left.db")
	rightPath := filepath.Join(dir, "right.db")
	outPath := filepath.Join(dir, "out.db")

	buildStore(t, leftPath, func(s *store.Store) {
		mustInsert(t, s, &store.Node{ID: "caller", Summary: "same"})
		mustInsert(t, s, &store.Node{ID: "feature-x", Summary: "L"})
		mustLink(t, s, "caller", "feature-x", store.RelCalls)
	})
	buildStore(t, rightPath, func(s *store.Store) {
		mustInsert(t, s, &store.Node{ID: "caller", Summary: "same"})
		mustInsert(t, s, &store.Node{ID: "feature-x", Summary: "R"})
	})

	res, err := Merge(Options{LeftPath: leftPath, RightPath: rightPath, OutPath: outPath})
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	if len(res.MergeGroups) != 1 {
		t.Fatalf("merge groups = %d, want 1", len(res.MergeGroups))
	}
	return openOut(t, outPath), res.MergeGroups[0]
}

func TestResolveKeepLeft(t *testing.T) {
	out, group := conflictedStore(t)

	if err := Resolve(out, group, KeepLeft); err != nil {
		t.Fatalf("resolve: %v", err)
	}

	n, err := out.GetNode("feature-x")
	if err != nil {
		t.Fatalf("canonical node missing after keep left: %v", err)
	}
	if n.Summary != "L" {
		t.Errorf("summary = %q, want L (left variant wins)", n.Summary)
	}
	if n.NeedsMerge || n.MergeGroup != nil || n.SourceBranch != nil {
		t.Error("merge flags should be cleared on the winner")
	}

	for _, gone := range []string{"feature-x::left", "feature-x::right"} {
		if _, err := out.GetNodeIncludingRemoved(gone); !store.IsKind(err, store.ErrNotFound) {
			t.Errorf("%s should no longer exist", gone)
		}
	}

	// The clean caller's edge followed the rename back to the canonical id.
	edges, err := out.GetOutgoingEdges("caller")
	if err != nil {
		t.Fatalf("outgoing: %v", err)
	}
	if len(edges) != 1 || edges[0].ToID != "feature-x" {
		t.Errorf("caller edges = %+v, want one edge to feature-x", edges)
	}

	flagged, err := out.GetEdgesByMergeGroup(group)
	if err != nil {
		t.Fatalf("edges by group: %v", err)
	}
	if len(flagged) != 0 {
		t.Errorf("%d edges still flagged after resolve", len(flagged))
	}
}

func TestResolveKeepRight(t *testing.T) {
	out, group := conflictedStore(t)

	if err := Resolve(out, group, KeepRight); err != nil {
		t.Fatalf("resolve: %v", err)
	}

	n, err := out.GetNode("feature-x")
	if err != nil {
		t.Fatalf("canonical node missing after keep right: %v", err)
	}
	if n.Summary != "R" {
		t.Errorf("summary = %q, want R", n.Summary)
	}
}

func TestResolveKeepBoth(t *testing.T) {
	out, group := conflictedStore(t)

	if err := Resolve(out, group, KeepBoth); err != nil {
		t.Fatalf("resolve: %v", err)
	}

	leftKept, err := out.GetNode("feature-x-left")
	if err != nil {
		t.Fatalf("feature-x-left missing: %v", err)
	}
	rightKept, err := out.GetNode("feature-x-right")
	if err != nil {
		t.Fatalf("feature-x-right missing: %v", err)
	}
	if leftKept.NeedsMerge || rightKept.NeedsMerge {
		t.Error("kept variants should have cleared merge flags")
	}
	if leftKept.Summary != "L" || rightKept.Summary != "R" {
		t.Errorf("summaries = %q, %q", leftKept.Summary, rightKept.Summary)
	}

	// Suffixed edge references survive the rename.
	edges, err := out.GetOutgoingEdges("caller")
	if err != nil {
		t.Fatalf("outgoing: %v", err)
	}
	if len(edges) != 1 || edges[0].ToID != "feature-x-left" {
		t.Errorf("caller edges = %+v, want one edge to feature-x-left", edges)
	}
}

func TestResolveUnknownGroup(t *testing.T) {
	out, _ := conflictedStore(t)
	err := Resolve(out, "no-such-group", KeepLeft)
	if !store.IsKind(err, store.ErrNotFound) {
		t.Errorf("error = %v, want NotFound", err)
	}
}

func TestResolveInvalidChoice(t *testing.T) {
	out, group := conflictedStore(t)
	if err := Resolve(out, group, KeepChoice("neither")); err == nil {
		t.Error("invalid keep choice should fail")
	}
}
