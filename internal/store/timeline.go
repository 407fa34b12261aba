package store

import (
	"database/sql"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
)

// ─── Append and scan ─────────────────────────────────────────────────────────

// InsertTimelineEntry appends one audit row and returns its sequence
// number. The timestamp defaults to now; seq is assigned by the store and
// is strictly increasing.
func (s *Store) InsertTimelineEntry(e *TimelineEntry) (int64, error) {
	ts := e.Timestamp
	if ts == "" {
		ts = Now()
	}
	params := e.Params
	if params == "" {
		params = "{}"
	}
	res, err := s.db.Exec(
		`INSERT INTO timeline (timestamp, tool, params, result_summary, is_write, is_error, affected_ids)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		ts, e.Tool, params, e.ResultSummary,
		boolToInt(e.IsWrite), boolToInt(e.IsError), encodeAffectedIDs(e.AffectedIDs),
	)
	if err != nil {
		return 0, fmt.Errorf("store: insert timeline entry: %w", err)
	}
	seq, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("store: insert timeline entry: %w", err)
	}
	e.Seq = seq
	e.Timestamp = ts
	return seq, nil
}

// GetTimelineBounds returns the first and last timestamps plus the row
// count in one aggregate query.
func (s *Store) GetTimelineBounds() (*TimelineBounds, error) {
	b := &TimelineBounds{}
	var first, last sql.NullString
	err := s.db.QueryRow(
		`SELECT MIN(timestamp), MAX(timestamp), COUNT(*) FROM timeline`,
	).Scan(&first, &last, &b.Count)
	if err != nil {
		return nil, fmt.Errorf("store: timeline bounds: %w", err)
	}
	b.First = first.String
	b.Last = last.String
	return b, nil
}

func scanTimelineEntry(row rowScanner) (*TimelineEntry, error) {
	var e TimelineEntry
	var isWrite, isError int
	var affected string
	if err := row.Scan(
		&e.Seq, &e.Timestamp, &e.Tool, &e.Params, &e.ResultSummary,
		&isWrite, &isError, &affected,
	); err != nil {
		return nil, err
	}
	e.IsWrite = isWrite != 0
	e.IsError = isError != 0
	e.AffectedIDs = decodeAffectedIDs(affected)
	return &e, nil
}

const timelineColumns = `seq, timestamp, tool, params, result_summary, is_write, is_error, affected_ids`

// GetTimelineEntries scans the timeline in sequence order with optional
// predicates on writes, tool name, inclusive time range and row limit.
func (s *Store) GetTimelineEntries(f TimelineFilter) ([]TimelineEntry, error) {
	query := `SELECT ` + timelineColumns + ` FROM timeline WHERE 1=1`
	var args []any

	if f.WritesOnly {
		query += " AND is_write = 1"
	}
	if f.Tool != "" {
		query += " AND tool = ?"
		args = append(args, f.Tool)
	}
	if f.Since != "" {
		query += " AND timestamp >= ?"
		args = append(args, f.Since)
	}
	if f.Until != "" {
		query += " AND timestamp <= ?"
		args = append(args, f.Until)
	}

	query += " ORDER BY seq"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: timeline entries: %w", err)
	}
	defer rows.Close()

	var out []TimelineEntry
	for rows.Next() {
		e, err := scanTimelineEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

// GetTimelineTicks returns approximately n entries sampled evenly over the
// sequence. The first and last entries are always included; indices that
// collapse under rounding are deduplicated.
func (s *Store) GetTimelineTicks(n int) ([]TimelineEntry, error) {
	all, err := s.GetTimelineEntries(TimelineFilter{})
	if err != nil {
		return nil, err
	}
	if n <= 0 || len(all) <= n {
		return all, nil
	}

	picked := make([]TimelineEntry, 0, n)
	seen := map[int]bool{}
	for i := 0; i < n; i++ {
		idx := int(math.Round(float64(i) * float64(len(all)-1) / float64(n-1)))
		if seen[idx] {
			continue
		}
		seen[idx] = true
		picked = append(picked, all[idx])
	}
	return picked, nil
}

// ─── Time travel ─────────────────────────────────────────────────────────────

// GetNodesAtTime reconstructs the live node set as of t: created on or
// before t and not yet removed at t.
func (s *Store) GetNodesAtTime(t string) ([]Node, error) {
	return s.queryNodes(
		`SELECT `+nodeColumns+` FROM nodes
		 WHERE created_at <= ? AND (removed_at IS NULL OR removed_at > ?)
		 ORDER BY id`, t, t,
	)
}

// GetEdgesAtTime reconstructs the edge set as of t: the edge existed and
// both endpoints satisfied the node rule at t.
func (s *Store) GetEdgesAtTime(t string) ([]Edge, error) {
	rows, err := s.db.Query(
		`SELECT e.id, e.from_id, e.to_id, e.relation, e.description, e.created_at,
		        e.merge_group, e.needs_merge, e.source_branch, e.merge_timestamp
		 FROM edges e
		 JOIN nodes f ON f.id = e.from_id
		 JOIN nodes t2 ON t2.id = e.to_id
		 WHERE e.created_at <= ?
		   AND f.created_at <= ? AND (f.removed_at IS NULL OR f.removed_at > ?)
		   AND t2.created_at <= ? AND (t2.removed_at IS NULL OR t2.removed_at > ?)
		 ORDER BY e.id`, t, t, t, t, t,
	)
	if err != nil {
		return nil, fmt.Errorf("store: edges at time: %w", err)
	}
	defer rows.Close()

	var out []Edge
	for rows.Next() {
		e, err := scanEdge(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

// ─── Synthesis for pre-v3 stores ─────────────────────────────────────────────

// SynthesizeTimeline projects node timestamps into synthetic timeline
// entries for stores whose history predates the timeline table. Each node
// contributes a create entry, an update entry when updated_at moved past
// created_at, and a remove entry when soft-deleted. Real entries win:
// a synthetic record whose (tool, node, timestamp) triple matches a real
// row is dropped so one event never appears twice.
func (s *Store) SynthesizeTimeline() ([]TimelineEntry, error) {
	real, err := s.GetTimelineEntries(TimelineFilter{})
	if err != nil {
		return nil, err
	}

	existing := map[string]bool{}
	for _, e := range real {
		for _, id := range e.AffectedIDs {
			existing[syntheticKey(e.Tool, id, e.Timestamp)] = true
		}
	}

	nodes, err := s.GetAllNodesRaw()
	if err != nil {
		return nil, err
	}

	var synthetic []TimelineEntry
	add := func(tool, nodeID, ts, summary string) {
		if existing[syntheticKey(tool, nodeID, ts)] {
			return
		}
		synthetic = append(synthetic, TimelineEntry{
			Timestamp:     ts,
			Tool:          tool,
			Params:        fmt.Sprintf(`{"id":%q,"synthetic":true}`, nodeID),
			ResultSummary: summary,
			IsWrite:       true,
			AffectedIDs:   []string{nodeID},
		})
	}

	for _, n := range nodes {
		add("create_concept", n.ID, n.CreatedAt, fmt.Sprintf("created %s", n.ID))
		if n.UpdatedAt != "" && n.UpdatedAt > n.CreatedAt {
			add("update_concept", n.ID, n.UpdatedAt, fmt.Sprintf("updated %s", n.ID))
		}
		if n.RemovedAt != nil {
			add("remove_concept", n.ID, *n.RemovedAt, fmt.Sprintf("removed %s", n.ID))
		}
	}

	merged := append(real, synthetic...)
	sort.SliceStable(merged, func(i, j int) bool {
		if merged[i].Timestamp != merged[j].Timestamp {
			return merged[i].Timestamp < merged[j].Timestamp
		}
		return merged[i].Seq < merged[j].Seq
	})
	return merged, nil
}

func syntheticKey(tool, nodeID, ts string) string {
	return strings.Join([]string{tool, nodeID, ts}, "|")
}

// HasTimeline reports whether any real audit rows exist; callers decide
// whether synthesis is needed.
func (s *Store) HasTimeline() (bool, error) {
	var count int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM timeline`).Scan(&count)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("store: has timeline: %w", err)
	}
	return count > 0, nil
}
