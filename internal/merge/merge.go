// Package merge reconciles two divergent knowledge graph files into one.
//
// Branches of a repository each mutate their own graph; the engine keeps
// every unambiguous change and turns disagreements into first-class
// conflict groups: both versions of a contested concept land in the output
// under ::left / ::right suffixed ids, linked by a merge-group UUID, for a
// human or an agent to resolve later.
package merge

import (
	"fmt"
	"log"
	"os"
	"sort"

	"github.com/google/uuid"

	"github.com/HendryAvila/megamemory/internal/slug"
	"github.com/HendryAvila/megamemory/internal/store"
)

// Options configures one merge run.
type Options struct {
	LeftPath  string
	RightPath string
	OutPath   string // defaults to LeftPath (overwritten via temp + rename)

	LeftLabel  string // defaults "left"
	RightLabel string // defaults "right"
}

// Result carries the merge counters. MergeGroups lists the UUIDs minted
// for conflicts found in this run; pre-existing groups carried forward are
// not repeated here.
type Result struct {
	Clean            int      `json:"clean"`
	ConceptConflicts int      `json:"concept_conflicts"`
	EdgeConflicts    int      `json:"edge_conflicts"`
	RemovedClean     int      `json:"removed_clean"`
	MergeGroups      []string `json:"merge_groups"`
}

// bucket collects both sides' rows for one canonical id.
type bucket struct {
	left  []store.Node
	right []store.Node
}

// sidedNode tags a record with the branch it came from.
type sidedNode struct {
	side string // "left" or "right"
	node store.Node
}

type queuedEdge struct {
	side string
	edge store.Edge
}

// Merge reads both input stores, reconciles them and writes the output
// store. When OutPath names one of the inputs the output is written to a
// temp sibling first and atomically renamed into place.
func Merge(opts Options) (*Result, error) {
	if opts.LeftLabel == "" {
		opts.LeftLabel = "left"
	}
	if opts.RightLabel == "" {
		opts.RightLabel = "right"
	}
	if opts.OutPath == "" {
		opts.OutPath = opts.LeftPath
	}

	left, err := store.Open(opts.LeftPath)
	if err != nil {
		return nil, store.WrapError(store.ErrMergeIO, opts.LeftPath, err)
	}
	defer left.Close()

	right, err := store.Open(opts.RightPath)
	if err != nil {
		return nil, store.WrapError(store.ErrMergeIO, opts.RightPath, err)
	}
	defer right.Close()

	// Overwriting an input goes through a temp sibling + rename so a
	// failed merge never corrupts the original.
	finalPath := opts.OutPath
	writePath := finalPath
	overwriting := finalPath == opts.LeftPath || finalPath == opts.RightPath
	if overwriting {
		writePath = finalPath + ".merge-tmp"
	}
	for _, stale := range []string{writePath, writePath + "-wal", writePath + "-shm"} {
		if err := os.Remove(stale); err != nil && !os.IsNotExist(err) {
			return nil, store.WrapError(store.ErrMergeIO, stale, err)
		}
	}

	out, err := store.Open(writePath)
	if err != nil {
		return nil, store.WrapError(store.ErrMergeIO, writePath, err)
	}

	res, mergeErr := run(left, right, out, opts)

	if cerr := out.Close(); mergeErr == nil && cerr != nil {
		mergeErr = store.WrapError(store.ErrMergeIO, writePath, cerr)
	}
	if mergeErr != nil {
		os.Remove(writePath)
		return nil, mergeErr
	}

	if overwriting {
		left.Close()
		right.Close()
		if err := os.Rename(writePath, finalPath); err != nil {
			os.Remove(writePath)
			return nil, store.WrapError(store.ErrMergeIO, finalPath, err)
		}
	}
	return res, nil
}

func run(left, right, out *store.Store, opts Options) (*Result, error) {
	leftNodes, err := left.GetAllNodesRaw()
	if err != nil {
		return nil, err
	}
	rightNodes, err := right.GetAllNodesRaw()
	if err != nil {
		return nil, err
	}
	leftEdges, err := left.GetAllEdgesRaw()
	if err != nil {
		return nil, err
	}
	rightEdges, err := right.GetAllEdgesRaw()
	if err != nil {
		return nil, err
	}

	res := &Result{MergeGroups: []string{}}

	// Group every row by canonical id.
	buckets := map[string]*bucket{}
	get := func(id string) *bucket {
		canon := slug.Canonical(id)
		b, ok := buckets[canon]
		if !ok {
			b = &bucket{}
			buckets[canon] = b
		}
		return b
	}
	for _, n := range leftNodes {
		b := get(n.ID)
		b.left = append(b.left, n)
	}
	for _, n := range rightNodes {
		b := get(n.ID)
		b.right = append(b.right, n)
	}

	canonIDs := make([]string, 0, len(buckets))
	for id := range buckets {
		canonIDs = append(canonIDs, id)
	}
	sort.Strings(canonIDs)

	// remap resolves "side:canonical" to the output id edges and parent
	// references should target.
	remap := map[string]string{}
	outgoingLeft := groupEdgesByFrom(leftEdges)
	outgoingRight := groupEdgesByFrom(rightEdges)

	var outNodes []sidedNode
	var edgeQueue []queuedEdge

	now := store.Now()

	for _, canon := range canonIDs {
		b := buckets[canon]

		// Pre-existing conflicts: either side already carries suffixed
		// variants from an earlier, unresolved merge. Carry every row of
		// this canonical id forward verbatim and point clean callers at a
		// suffixed target.
		if hasPreexistingConflict(b.left) || hasPreexistingConflict(b.right) {
			remap["left:"+canon] = preferSuffix(b, "left", canon)
			remap["right:"+canon] = preferSuffix(b, "right", canon)

			carried := map[string]bool{}
			for _, sn := range append(tagged("left", b.left), tagged("right", b.right)...) {
				if slug.Suffix(sn.node.ID) == "" {
					// A clean row alongside carried variants is already
					// represented by one of them; fold its edges onto the
					// side-preferred variant instead of keeping a third copy.
					edgeQueue = queueOutgoing(edgeQueue, sn.side, remap[sn.side+":"+canon],
						outgoingEdgesFor(sn.side, sn.node.ID, outgoingLeft, outgoingRight), nil)
					continue
				}
				if carried[sn.node.ID] {
					continue
				}
				carried[sn.node.ID] = true
				outNodes = append(outNodes, sn)
				edgeQueue = queueOutgoing(edgeQueue, sn.side, sn.node.ID, outgoingEdgesFor(sn.side, sn.node.ID, outgoingLeft, outgoingRight), nil)
			}
			continue
		}

		leftRec := soleRecord(b.left)
		rightRec := soleRecord(b.right)

		switch {
		case leftRec != nil && rightRec == nil:
			outNodes = append(outNodes, sidedNode{side: "left", node: *leftRec})
			remap["left:"+canon] = canon
			countClean(res, leftRec)
			edgeQueue = queueOutgoing(edgeQueue, "left", canon, outgoingLeft[canon], nil)

		case leftRec == nil && rightRec != nil:
			outNodes = append(outNodes, sidedNode{side: "right", node: *rightRec})
			remap["right:"+canon] = canon
			countClean(res, rightRec)
			edgeQueue = queueOutgoing(edgeQueue, "right", canon, outgoingRight[canon], nil)

		case contentIdentical(leftRec, rightRec):
			outNodes = append(outNodes, sidedNode{side: "left", node: *leftRec})
			remap["left:"+canon] = canon
			remap["right:"+canon] = canon
			countClean(res, leftRec)
			// Union both sides' edges, deduplicated by content.
			seen := map[string]bool{}
			for _, e := range outgoingLeft[canon] {
				if key := edgeContentKey(e); !seen[key] {
					seen[key] = true
					edgeQueue = append(edgeQueue, queuedEdge{side: "left", edge: e})
				}
			}
			for _, e := range outgoingRight[canon] {
				if key := edgeContentKey(e); !seen[key] {
					seen[key] = true
					edgeQueue = append(edgeQueue, queuedEdge{side: "right", edge: e})
				}
			}

		default:
			// Concept conflict: both versions go in, suffixed and flagged.
			group := uuid.NewString()
			res.ConceptConflicts++
			res.MergeGroups = append(res.MergeGroups, group)

			leftVariant := *leftRec
			leftVariant.ID = canon + "::left"
			markConflict(&leftVariant, group, opts.LeftLabel, now)

			rightVariant := *rightRec
			rightVariant.ID = canon + "::right"
			markConflict(&rightVariant, group, opts.RightLabel, now)

			outNodes = append(outNodes, sidedNode{side: "left", node: leftVariant})
			outNodes = append(outNodes, sidedNode{side: "right", node: rightVariant})
			remap["left:"+canon] = leftVariant.ID
			remap["right:"+canon] = rightVariant.ID

			// The conflicted node's own edges follow their variant. When
			// the two edge sets disagree, the queued edges inherit the
			// node's conflict flags.
			edgesDiffer := !edgeSetsIdentical(outgoingLeft[canon], outgoingRight[canon])
			if edgesDiffer {
				res.EdgeConflicts++
			}
			var leftMeta, rightMeta *edgeConflictMeta
			if edgesDiffer {
				leftMeta = &edgeConflictMeta{group: group, branch: opts.LeftLabel, ts: now}
				rightMeta = &edgeConflictMeta{group: group, branch: opts.RightLabel, ts: now}
			}
			edgeQueue = queueOutgoing(edgeQueue, "left", leftVariant.ID, outgoingLeft[canon], leftMeta)
			edgeQueue = queueOutgoing(edgeQueue, "right", rightVariant.ID, outgoingRight[canon], rightMeta)
		}
	}

	if err := insertNodesParentsFirst(out, outNodes, remap); err != nil {
		return nil, err
	}

	// Pass 2: edges. Targets are rewritten through the remap keyed by the
	// edge's origin side, so clean callers point at the correct suffixed
	// variant of a conflicted target. Edge identity is content, so rows
	// that collapse to the same key after remapping insert once.
	seenEdge := map[string]bool{}
	for _, qe := range edgeQueue {
		e := qe.edge
		if slug.Suffix(e.ToID) == "" {
			if mapped, ok := remap[qe.side+":"+slug.Canonical(e.ToID)]; ok {
				e.ToID = mapped
			}
		}
		key := edgeContentKey(e)
		if seenEdge[key] {
			continue
		}
		seenEdge[key] = true
		if err := out.InsertEdgeRaw(&e); err != nil {
			return nil, err
		}
	}

	return res, nil
}

// ─── Node helpers ────────────────────────────────────────────────────────────

func tagged(side string, nodes []store.Node) []sidedNode {
	out := make([]sidedNode, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, sidedNode{side: side, node: n})
	}
	return out
}

func hasPreexistingConflict(nodes []store.Node) bool {
	for _, n := range nodes {
		if n.NeedsMerge && slug.Suffix(n.ID) != "" {
			return true
		}
	}
	return false
}

// soleRecord returns the single record of a clean side, nil when absent.
func soleRecord(nodes []store.Node) *store.Node {
	if len(nodes) == 0 {
		return nil
	}
	n := nodes[0]
	return &n
}

// preferSuffix picks the remap target for one origin side of a
// pre-existing conflict: the variant whose suffix matches the side when
// present, otherwise the first suffixed variant on either side.
func preferSuffix(b *bucket, side, canon string) string {
	all := append(append([]store.Node{}, b.left...), b.right...)
	var first string
	for _, n := range all {
		suf := slug.Suffix(n.ID)
		if suf == "" {
			continue
		}
		if first == "" {
			first = n.ID
		}
		if suf == side {
			return n.ID
		}
	}
	if first != "" {
		return first
	}
	return canon
}

func markConflict(n *store.Node, group, branch, ts string) {
	g, b, t := group, branch, ts
	n.MergeGroup = &g
	n.NeedsMerge = true
	n.SourceBranch = &b
	n.MergeTimestamp = &t
}

func countClean(res *Result, n *store.Node) {
	if n.Removed() {
		res.RemovedClean++
	} else {
		res.Clean++
	}
}

// contentIdentical compares the fields that define a concept's meaning.
// Embeddings, timestamps and merge metadata stay out of the comparison.
func contentIdentical(a, b *store.Node) bool {
	if a.Name != b.Name || a.Kind != b.Kind || a.Summary != b.Summary {
		return false
	}
	if derefOr(a.Why) != derefOr(b.Why) {
		return false
	}
	if derefOr(a.ParentID) != derefOr(b.ParentID) {
		return false
	}
	if a.Removed() != b.Removed() {
		return false
	}
	if len(a.FileRefs) != len(b.FileRefs) {
		return false
	}
	for i := range a.FileRefs {
		if a.FileRefs[i] != b.FileRefs[i] {
			return false
		}
	}
	return true
}

func derefOr(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// insertNodesParentsFirst writes nodes so a parent row always precedes its
// children, keeping the parent_id foreign key satisfied. Parent references
// are rewritten through the remap of the child's origin side first.
func insertNodesParentsFirst(out *store.Store, nodes []sidedNode, remap map[string]string) error {
	pending := make([]sidedNode, len(nodes))
	copy(pending, nodes)

	// Rewrite parent references up front.
	present := map[string]bool{}
	for i := range pending {
		present[pending[i].node.ID] = true
	}
	for i := range pending {
		n := &pending[i].node
		if n.ParentID == nil {
			continue
		}
		parent := *n.ParentID
		if slug.Suffix(parent) == "" {
			if mapped, ok := remap[pending[i].side+":"+slug.Canonical(parent)]; ok {
				parent = mapped
			}
		}
		if !present[parent] {
			log.Printf("WARNING: merge: clearing dangling parent %q on %q", parent, n.ID)
			n.ParentID = nil
			continue
		}
		n.ParentID = &parent
	}

	inserted := map[string]bool{}
	for len(pending) > 0 {
		progress := false
		var next []sidedNode
		for _, sn := range pending {
			n := sn.node
			if n.ParentID == nil || inserted[*n.ParentID] {
				if err := out.InsertNodeRaw(&n); err != nil {
					return err
				}
				inserted[n.ID] = true
				progress = true
			} else {
				next = append(next, sn)
			}
		}
		if !progress {
			// Parent cycle in the inputs; break it rather than loop.
			broken := next[0]
			log.Printf("WARNING: merge: breaking parent cycle at %q", broken.node.ID)
			broken.node.ParentID = nil
			if err := out.InsertNodeRaw(&broken.node); err != nil {
				return err
			}
			inserted[broken.node.ID] = true
			next = next[1:]
		}
		pending = next
	}
	return nil
}

// ─── Edge helpers ────────────────────────────────────────────────────────────

type edgeConflictMeta struct {
	group  string
	branch string
	ts     string
}

func groupEdgesByFrom(edges []store.Edge) map[string][]store.Edge {
	out := map[string][]store.Edge{}
	for _, e := range edges {
		canon := slug.Canonical(e.FromID)
		out[canon] = append(out[canon], e)
	}
	return out
}

func outgoingEdgesFor(side, fromID string, left, right map[string][]store.Edge) []store.Edge {
	canon := slug.Canonical(fromID)
	pool := left[canon]
	if side == "right" {
		pool = right[canon]
	}
	// Each row keeps exactly the edges that name it as their source; a
	// pre-existing suffixed variant does not inherit its sibling's edges.
	var own []store.Edge
	for _, e := range pool {
		if e.FromID == fromID {
			own = append(own, e)
		}
	}
	return own
}

// queueOutgoing queues a node's outgoing edges with from_id rewritten to
// the node's output id. meta, when set, stamps conflict metadata on each
// queued edge.
func queueOutgoing(queue []queuedEdge, side, outID string, edges []store.Edge, meta *edgeConflictMeta) []queuedEdge {
	for _, e := range edges {
		e.FromID = outID
		if meta != nil {
			g, b, t := meta.group, meta.branch, meta.ts
			e.MergeGroup = &g
			e.NeedsMerge = true
			e.SourceBranch = &b
			e.MergeTimestamp = &t
		}
		queue = append(queue, queuedEdge{side: side, edge: e})
	}
	return queue
}

// edgeContentKey identifies an edge by content for multiset comparison and
// dedup: endpoints, relation and description.
func edgeContentKey(e store.Edge) string {
	return fmt.Sprintf("%s|%s|%s|%s", e.FromID, e.ToID, e.Relation, derefOr(e.Description))
}

// edgeSetsIdentical compares two edge lists as multisets of content keys,
// ignoring the from side (both describe the same canonical node).
func edgeSetsIdentical(a, b []store.Edge) bool {
	if len(a) != len(b) {
		return false
	}
	counts := map[string]int{}
	for _, e := range a {
		counts[sansFromKey(e)]++
	}
	for _, e := range b {
		counts[sansFromKey(e)]--
	}
	for _, c := range counts {
		if c != 0 {
			return false
		}
	}
	return true
}

func sansFromKey(e store.Edge) string {
	return fmt.Sprintf("%s|%s|%s", slug.Canonical(e.ToID), e.Relation, derefOr(e.Description))
}
