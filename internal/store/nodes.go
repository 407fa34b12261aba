package store

import (
	"database/sql"
	"errors"
	"fmt"
)

// nodeColumns is the canonical select list for node rows.
const nodeColumns = `id, name, kind, summary, why, file_refs, parent_id, created_by_task,
	created_at, updated_at, removed_at, removed_reason, embedding,
	merge_group, needs_merge, source_branch, merge_timestamp`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanNode(row rowScanner) (*Node, error) {
	var n Node
	var fileRefs *string
	var embedding []byte
	var needsMerge int
	if err := row.Scan(
		&n.ID, &n.Name, &n.Kind, &n.Summary, &n.Why, &fileRefs, &n.ParentID, &n.CreatedByTask,
		&n.CreatedAt, &n.UpdatedAt, &n.RemovedAt, &n.RemovedReason, &embedding,
		&n.MergeGroup, &needsMerge, &n.SourceBranch, &n.MergeTimestamp,
	); err != nil {
		return nil, err
	}
	n.FileRefs = decodeFileRefs(fileRefs)
	n.NeedsMerge = needsMerge != 0
	vec, err := DecodeEmbedding(embedding)
	if err != nil {
		return nil, err
	}
	n.Embedding = vec
	if !ValidKind(n.Kind) {
		return nil, NewError(ErrInvariantViolation, n.ID, fmt.Sprintf("unknown node kind %q", n.Kind))
	}
	return &n, nil
}

func (s *Store) queryNodes(query string, args ...any) ([]Node, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: query nodes: %w", err)
	}
	defer rows.Close()

	var nodes []Node
	for rows.Next() {
		n, err := scanNode(rows)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, *n)
	}
	return nodes, rows.Err()
}

// ─── Lookups ─────────────────────────────────────────────────────────────────

// GetNode returns the live node with the given id, or NotFound.
func (s *Store) GetNode(id string) (*Node, error) {
	row := s.db.QueryRow(
		`SELECT `+nodeColumns+` FROM nodes WHERE id = ? AND removed_at IS NULL`, id,
	)
	n, err := scanNode(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, NewError(ErrNotFound, id, "")
	}
	return n, err
}

// GetNodeIncludingRemoved returns the node regardless of removal state.
func (s *Store) GetNodeIncludingRemoved(id string) (*Node, error) {
	row := s.db.QueryRow(`SELECT `+nodeColumns+` FROM nodes WHERE id = ?`, id)
	n, err := scanNode(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, NewError(ErrNotFound, id, "")
	}
	return n, err
}

func (s *Store) nodeExists(id string) (bool, error) {
	var one int
	err := s.db.QueryRow(`SELECT 1 FROM nodes WHERE id = ?`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return err == nil, err
}

func (s *Store) nodeLive(id string) (bool, error) {
	var one int
	err := s.db.QueryRow(`SELECT 1 FROM nodes WHERE id = ? AND removed_at IS NULL`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return err == nil, err
}

// ─── Insert ──────────────────────────────────────────────────────────────────

// InsertNode creates a new node. The id must be unused by any row, live or
// removed; a parent, when given, must be live. Timestamps default to now.
func (s *Store) InsertNode(n *Node) error {
	exists, err := s.nodeExists(n.ID)
	if err != nil {
		return fmt.Errorf("store: insert node %s: %w", n.ID, err)
	}
	if exists {
		return NewError(ErrDuplicate, n.ID, "")
	}

	if n.ParentID != nil {
		live, err := s.nodeLive(*n.ParentID)
		if err != nil {
			return fmt.Errorf("store: insert node %s: %w", n.ID, err)
		}
		if !live {
			return NewError(ErrInvalidParent, *n.ParentID, "")
		}
		if err := s.checkNoCycle(n.ID, *n.ParentID); err != nil {
			return err
		}
	}

	now := Now()
	createdAt := n.CreatedAt
	if createdAt == "" {
		createdAt = now
	}
	updatedAt := n.UpdatedAt
	if updatedAt == "" {
		updatedAt = now
	}

	_, err = s.db.Exec(
		`INSERT INTO nodes (id, name, kind, summary, why, file_refs, parent_id, created_by_task,
		                    created_at, updated_at, embedding)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		n.ID, n.Name, string(n.Kind), n.Summary, n.Why, encodeFileRefs(n.FileRefs),
		n.ParentID, n.CreatedByTask, createdAt, updatedAt, EncodeEmbedding(n.Embedding),
	)
	if err != nil {
		return fmt.Errorf("store: insert node %s: %w", n.ID, err)
	}
	n.CreatedAt = createdAt
	n.UpdatedAt = updatedAt
	return nil
}

// checkNoCycle walks up the parent chain starting at parentID and refuses
// when id is encountered: ownership must stay a forest.
func (s *Store) checkNoCycle(id, parentID string) error {
	seen := map[string]bool{}
	cur := parentID
	for cur != "" {
		if cur == id {
			return NewError(ErrInvariantViolation, id, "parent chain would form a cycle")
		}
		if seen[cur] {
			return NewError(ErrInvariantViolation, cur, "parent chain already contains a cycle")
		}
		seen[cur] = true

		var next *string
		err := s.db.QueryRow(`SELECT parent_id FROM nodes WHERE id = ?`, cur).Scan(&next)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("store: walk parents of %s: %w", cur, err)
		}
		if next == nil {
			return nil
		}
		cur = *next
	}
	return nil
}

// ─── Update ──────────────────────────────────────────────────────────────────

// UpdateNode applies the non-nil fields of patch to a live node and bumps
// updated_at. It reports whether any column actually changed; a no-op
// patch leaves updated_at untouched.
func (s *Store) UpdateNode(id string, patch NodePatch) (bool, error) {
	n, err := s.GetNode(id)
	if err != nil {
		return false, err
	}

	set := []string{}
	args := []any{}
	changed := false

	if patch.Name != nil && *patch.Name != n.Name {
		set = append(set, "name = ?")
		args = append(args, *patch.Name)
		changed = true
	}
	if patch.Kind != nil && *patch.Kind != n.Kind {
		if !ValidKind(*patch.Kind) {
			return false, NewError(ErrInvariantViolation, id, fmt.Sprintf("unknown node kind %q", *patch.Kind))
		}
		set = append(set, "kind = ?")
		args = append(args, string(*patch.Kind))
		changed = true
	}
	if patch.Summary != nil && *patch.Summary != n.Summary {
		set = append(set, "summary = ?")
		args = append(args, *patch.Summary)
		changed = true
	}
	if patch.Why != nil && !equalOptString(patch.Why, n.Why) {
		set = append(set, "why = ?")
		args = append(args, nullableString(*patch.Why))
		changed = true
	}
	if patch.FileRefs != nil && !equalStrings(*patch.FileRefs, n.FileRefs) {
		set = append(set, "file_refs = ?")
		args = append(args, encodeFileRefs(*patch.FileRefs))
		changed = true
	}
	if patch.CreatedByTask != nil && !equalOptString(patch.CreatedByTask, n.CreatedByTask) {
		set = append(set, "created_by_task = ?")
		args = append(args, nullableString(*patch.CreatedByTask))
		changed = true
	}
	if patch.ParentID != nil && !equalOptString(patch.ParentID, n.ParentID) {
		newParent := nullableString(*patch.ParentID)
		if newParent != nil {
			live, err := s.nodeLive(*newParent)
			if err != nil {
				return false, fmt.Errorf("store: update node %s: %w", id, err)
			}
			if !live {
				return false, NewError(ErrInvalidParent, *newParent, "")
			}
			if err := s.checkNoCycle(id, *newParent); err != nil {
				return false, err
			}
		}
		set = append(set, "parent_id = ?")
		args = append(args, newParent)
		changed = true
	}
	if patch.Embedding != nil {
		set = append(set, "embedding = ?")
		args = append(args, EncodeEmbedding(patch.Embedding))
		changed = true
	}

	if !changed {
		return false, nil
	}

	set = append(set, "updated_at = ?")
	args = append(args, Now())
	args = append(args, id)

	query := "UPDATE nodes SET "
	for i, clause := range set {
		if i > 0 {
			query += ", "
		}
		query += clause
	}
	query += " WHERE id = ? AND removed_at IS NULL"

	if _, err := s.db.Exec(query, args...); err != nil {
		return false, fmt.Errorf("store: update node %s: %w", id, err)
	}
	return true, nil
}

// ─── Delete ──────────────────────────────────────────────────────────────────

// SoftDeleteNode marks a live node removed, hard-deletes every incident
// edge and promotes live children to roots — all in one transaction.
func (s *Store) SoftDeleteNode(id, reason string) error {
	n, err := s.GetNodeIncludingRemoved(id)
	if err != nil {
		return err
	}
	if n.Removed() {
		return NewError(ErrAlreadyRemoved, id, "")
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("store: soft delete %s: begin: %w", id, err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM edges WHERE from_id = ? OR to_id = ?`, id, id); err != nil {
		return fmt.Errorf("store: soft delete %s: edges: %w", id, err)
	}
	if _, err := tx.Exec(
		`UPDATE nodes SET parent_id = NULL, updated_at = ? WHERE parent_id = ? AND removed_at IS NULL`,
		Now(), id,
	); err != nil {
		return fmt.Errorf("store: soft delete %s: children: %w", id, err)
	}
	if _, err := tx.Exec(
		`UPDATE nodes SET removed_at = ?, removed_reason = ?, updated_at = ? WHERE id = ?`,
		Now(), nullableString(reason), Now(), id,
	); err != nil {
		return fmt.Errorf("store: soft delete %s: %w", id, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: soft delete %s: commit: %w", id, err)
	}
	return nil
}

// ReviveNode clears a node's removal state. Conflict resolution uses this
// when a soft-deleted variant wins with fresh content.
func (s *Store) ReviveNode(id string) error {
	res, err := s.db.Exec(
		`UPDATE nodes SET removed_at = NULL, removed_reason = NULL, updated_at = ? WHERE id = ?`,
		Now(), id,
	)
	if err != nil {
		return fmt.Errorf("store: revive %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return NewError(ErrNotFound, id, "")
	}
	return nil
}

// HardDeleteNode removes the row and its incident edges unconditionally.
// Only merge resolution uses this; normal removal is SoftDeleteNode.
func (s *Store) HardDeleteNode(id string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("store: hard delete %s: begin: %w", id, err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM edges WHERE from_id = ? OR to_id = ?`, id, id); err != nil {
		return fmt.Errorf("store: hard delete %s: edges: %w", id, err)
	}
	if _, err := tx.Exec(`UPDATE nodes SET parent_id = NULL WHERE parent_id = ?`, id); err != nil {
		return fmt.Errorf("store: hard delete %s: children: %w", id, err)
	}
	if _, err := tx.Exec(`DELETE FROM nodes WHERE id = ?`, id); err != nil {
		return fmt.Errorf("store: hard delete %s: %w", id, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: hard delete %s: commit: %w", id, err)
	}
	return nil
}

// ─── Rename ──────────────────────────────────────────────────────────────────

// RenameNodeID atomically substitutes old with new in the node row, every
// child's parent_id and every incident edge endpoint. The parent_id → id
// foreign key would reject the intermediate states, so constraint checking
// is deferred to commit for this one transaction.
func (s *Store) RenameNodeID(oldID, newID string) error {
	if oldID == newID {
		return nil
	}
	exists, err := s.nodeExists(newID)
	if err != nil {
		return fmt.Errorf("store: rename %s: %w", oldID, err)
	}
	if exists {
		return NewError(ErrDuplicate, newID, "")
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("store: rename %s: begin: %w", oldID, err)
	}
	defer tx.Rollback()

	// defer_foreign_keys suspends FK enforcement until commit and resets
	// itself afterwards; it runs on the transaction's own connection.
	if _, err := tx.Exec(`PRAGMA defer_foreign_keys = ON`); err != nil {
		return fmt.Errorf("store: rename %s: defer fks: %w", oldID, err)
	}

	res, err := tx.Exec(`UPDATE nodes SET id = ? WHERE id = ?`, newID, oldID)
	if err != nil {
		return fmt.Errorf("store: rename %s: node: %w", oldID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return NewError(ErrNotFound, oldID, "")
	}
	if _, err := tx.Exec(`UPDATE nodes SET parent_id = ? WHERE parent_id = ?`, newID, oldID); err != nil {
		return fmt.Errorf("store: rename %s: children: %w", oldID, err)
	}
	if _, err := tx.Exec(`UPDATE edges SET from_id = ? WHERE from_id = ?`, newID, oldID); err != nil {
		return fmt.Errorf("store: rename %s: outgoing: %w", oldID, err)
	}
	if _, err := tx.Exec(`UPDATE edges SET to_id = ? WHERE to_id = ?`, newID, oldID); err != nil {
		return fmt.Errorf("store: rename %s: incoming: %w", oldID, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: rename %s: commit: %w", oldID, err)
	}
	return nil
}

// ─── Listings ────────────────────────────────────────────────────────────────

// GetChildren returns the live children of a node, ordered by name.
func (s *Store) GetChildren(parentID string) ([]Node, error) {
	return s.queryNodes(
		`SELECT `+nodeColumns+` FROM nodes WHERE parent_id = ? AND removed_at IS NULL ORDER BY name`,
		parentID,
	)
}

// GetRootNodes returns live nodes without a parent, ordered by name.
func (s *Store) GetRootNodes() ([]Node, error) {
	return s.queryNodes(
		`SELECT ` + nodeColumns + ` FROM nodes WHERE parent_id IS NULL AND removed_at IS NULL ORDER BY name`,
	)
}

// GetAllActiveNodesWithEmbeddings returns live nodes whose embedding is
// present; the semantic scan runs over exactly this set. Conflicted nodes
// are excluded until resolved.
func (s *Store) GetAllActiveNodesWithEmbeddings() ([]Node, error) {
	return s.queryNodes(
		`SELECT ` + nodeColumns + ` FROM nodes
		 WHERE removed_at IS NULL AND embedding IS NOT NULL AND needs_merge = 0
		 ORDER BY id`,
	)
}

// GetStats returns live node, edge and removed-node counts.
func (s *Store) GetStats() (*Stats, error) {
	stats := &Stats{}
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM nodes WHERE removed_at IS NULL`).Scan(&stats.Nodes); err != nil {
		return nil, fmt.Errorf("store: stats: %w", err)
	}
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM edges`).Scan(&stats.Edges); err != nil {
		return nil, fmt.Errorf("store: stats: %w", err)
	}
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM nodes WHERE removed_at IS NOT NULL`).Scan(&stats.Removed); err != nil {
		return nil, fmt.Errorf("store: stats: %w", err)
	}
	return stats, nil
}

// GetKindsBreakdown returns live node counts per kind.
func (s *Store) GetKindsBreakdown() (map[NodeKind]int, error) {
	rows, err := s.db.Query(
		`SELECT kind, COUNT(*) FROM nodes WHERE removed_at IS NULL GROUP BY kind`,
	)
	if err != nil {
		return nil, fmt.Errorf("store: kinds breakdown: %w", err)
	}
	defer rows.Close()

	out := map[NodeKind]int{}
	for rows.Next() {
		var kind string
		var count int
		if err := rows.Scan(&kind, &count); err != nil {
			return nil, err
		}
		out[NodeKind(kind)] = count
	}
	return out, rows.Err()
}

// ─── Merge helpers ───────────────────────────────────────────────────────────

// GetConflictNodes returns every node flagged needs_merge, removed rows
// included: a removed-vs-live disagreement is still a conflict.
func (s *Store) GetConflictNodes() ([]Node, error) {
	return s.queryNodes(
		`SELECT ` + nodeColumns + ` FROM nodes WHERE needs_merge = 1 ORDER BY merge_group, id`,
	)
}

// GetNodesByMergeGroup returns the competing variants of one conflict.
func (s *Store) GetNodesByMergeGroup(group string) ([]Node, error) {
	return s.queryNodes(
		`SELECT `+nodeColumns+` FROM nodes WHERE merge_group = ? ORDER BY id`, group,
	)
}

// ClearNodeMergeFlags resets the merge metadata of one node.
func (s *Store) ClearNodeMergeFlags(id string) error {
	_, err := s.db.Exec(
		`UPDATE nodes SET merge_group = NULL, needs_merge = 0, source_branch = NULL, merge_timestamp = NULL
		 WHERE id = ?`, id,
	)
	if err != nil {
		return fmt.Errorf("store: clear merge flags %s: %w", id, err)
	}
	return nil
}

// ClearEdgeMergeFlagsByGroup resets the merge metadata of every edge
// flagged under the group.
func (s *Store) ClearEdgeMergeFlagsByGroup(group string) error {
	_, err := s.db.Exec(
		`UPDATE edges SET merge_group = NULL, needs_merge = 0, source_branch = NULL, merge_timestamp = NULL
		 WHERE merge_group = ?`, group,
	)
	if err != nil {
		return fmt.Errorf("store: clear edge merge flags %s: %w", group, err)
	}
	return nil
}

// GetAllNodesRaw returns every node row verbatim, removed and conflicted
// included, for the merge engine's full-file scan.
func (s *Store) GetAllNodesRaw() ([]Node, error) {
	return s.queryNodes(`SELECT ` + nodeColumns + ` FROM nodes ORDER BY id`)
}

// InsertNodeRaw writes a node row verbatim: timestamps, removal state and
// merge metadata are carried through without defaulting. The merge engine
// uses this to reproduce source rows in the output store.
func (s *Store) InsertNodeRaw(n *Node) error {
	_, err := s.db.Exec(
		`INSERT INTO nodes (id, name, kind, summary, why, file_refs, parent_id, created_by_task,
		                    created_at, updated_at, removed_at, removed_reason, embedding,
		                    merge_group, needs_merge, source_branch, merge_timestamp)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		n.ID, n.Name, string(n.Kind), n.Summary, n.Why, encodeFileRefs(n.FileRefs),
		n.ParentID, n.CreatedByTask, n.CreatedAt, n.UpdatedAt, n.RemovedAt, n.RemovedReason,
		EncodeEmbedding(n.Embedding),
		n.MergeGroup, boolToInt(n.NeedsMerge), n.SourceBranch, n.MergeTimestamp,
	)
	if err != nil {
		return fmt.Errorf("store: insert node raw %s: %w", n.ID, err)
	}
	return nil
}

// ─── Small comparisons ───────────────────────────────────────────────────────

func equalOptString(a, b *string) bool {
	av, bv := "", ""
	if a != nil {
		av = *a
	}
	if b != nil {
		bv = *b
	}
	return av == bv
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
