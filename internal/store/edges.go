package store

import (
	"database/sql"
	"errors"
	"fmt"
)

const edgeColumns = `id, from_id, to_id, relation, description, created_at,
	merge_group, needs_merge, source_branch, merge_timestamp`

func scanEdge(row rowScanner) (*Edge, error) {
	var e Edge
	var needsMerge int
	if err := row.Scan(
		&e.ID, &e.FromID, &e.ToID, &e.Relation, &e.Description, &e.CreatedAt,
		&e.MergeGroup, &needsMerge, &e.SourceBranch, &e.MergeTimestamp,
	); err != nil {
		return nil, err
	}
	e.NeedsMerge = needsMerge != 0
	if !ValidRelation(e.Relation) {
		return nil, NewError(ErrInvariantViolation, e.FromID, fmt.Sprintf("unknown relation %q", e.Relation))
	}
	return &e, nil
}

// InsertEdge creates a typed edge between two live nodes and returns its
// numeric id. Duplicate (from, to, relation) triples are allowed.
func (s *Store) InsertEdge(fromID, toID string, relation RelationType, description string) (int64, error) {
	if !ValidRelation(relation) {
		return 0, NewError(ErrInvariantViolation, fromID, fmt.Sprintf("unknown relation %q", relation))
	}
	for _, id := range []string{fromID, toID} {
		live, err := s.nodeLive(id)
		if err != nil {
			return 0, fmt.Errorf("store: insert edge: check %s: %w", id, err)
		}
		if !live {
			return 0, NewError(ErrNotFound, id, "")
		}
	}

	res, err := s.db.Exec(
		`INSERT INTO edges (from_id, to_id, relation, description, created_at) VALUES (?, ?, ?, ?, ?)`,
		fromID, toID, string(relation), nullableString(description), Now(),
	)
	if err != nil {
		return 0, fmt.Errorf("store: insert edge %s -> %s: %w", fromID, toID, err)
	}
	return res.LastInsertId()
}

// DeleteEdge removes every edge matching (from, to, relation) and reports
// how many rows went away.
func (s *Store) DeleteEdge(fromID, toID string, relation RelationType) (int64, error) {
	res, err := s.db.Exec(
		`DELETE FROM edges WHERE from_id = ? AND to_id = ? AND relation = ?`,
		fromID, toID, string(relation),
	)
	if err != nil {
		return 0, fmt.Errorf("store: delete edge %s -> %s: %w", fromID, toID, err)
	}
	return res.RowsAffected()
}

// GetEdgeByID returns one edge row.
func (s *Store) GetEdgeByID(id int64) (*Edge, error) {
	row := s.db.QueryRow(`SELECT `+edgeColumns+` FROM edges WHERE id = ?`, id)
	e, err := scanEdge(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, NewError(ErrNotFound, fmt.Sprintf("edge %d", id), "")
	}
	return e, err
}

func (s *Store) queryNeighborEdges(query string, args ...any) ([]NeighborEdge, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: query edges: %w", err)
	}
	defer rows.Close()

	var out []NeighborEdge
	for rows.Next() {
		var ne NeighborEdge
		var needsMerge int
		if err := rows.Scan(
			&ne.Edge.ID, &ne.FromID, &ne.ToID, &ne.Relation, &ne.Description, &ne.CreatedAt,
			&ne.MergeGroup, &needsMerge, &ne.SourceBranch, &ne.MergeTimestamp,
			&ne.NeighborID, &ne.NeighborName,
		); err != nil {
			return nil, err
		}
		ne.NeedsMerge = needsMerge != 0
		if !ValidRelation(ne.Relation) {
			return nil, NewError(ErrInvariantViolation, ne.FromID, fmt.Sprintf("unknown relation %q", ne.Relation))
		}
		out = append(out, ne)
	}
	return out, rows.Err()
}

// GetOutgoingEdges returns the edges leaving a node, each joined with the
// live target's name. Edges to removed neighbors never exist (removal
// hard-deletes them), so the join is over live rows only.
func (s *Store) GetOutgoingEdges(id string) ([]NeighborEdge, error) {
	return s.queryNeighborEdges(
		`SELECT e.id, e.from_id, e.to_id, e.relation, e.description, e.created_at,
		        e.merge_group, e.needs_merge, e.source_branch, e.merge_timestamp,
		        n.id, n.name
		 FROM edges e
		 JOIN nodes n ON n.id = e.to_id AND n.removed_at IS NULL
		 WHERE e.from_id = ?
		 ORDER BY e.id`, id,
	)
}

// GetIncomingEdges returns the edges arriving at a node, each joined with
// the live source's name.
func (s *Store) GetIncomingEdges(id string) ([]NeighborEdge, error) {
	return s.queryNeighborEdges(
		`SELECT e.id, e.from_id, e.to_id, e.relation, e.description, e.created_at,
		        e.merge_group, e.needs_merge, e.source_branch, e.merge_timestamp,
		        n.id, n.name
		 FROM edges e
		 JOIN nodes n ON n.id = e.from_id AND n.removed_at IS NULL
		 WHERE e.to_id = ?
		 ORDER BY e.id`, id,
	)
}

// GetAllEdgesRaw returns every edge row verbatim for the merge engine.
func (s *Store) GetAllEdgesRaw() ([]Edge, error) {
	rows, err := s.db.Query(`SELECT ` + edgeColumns + ` FROM edges ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("store: all edges: %w", err)
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

// InsertEdgeRaw writes an edge row verbatim, carrying timestamps and merge
// metadata through without defaulting. The numeric id is not preserved;
// edge identity is its content, not its sequence number.
func (s *Store) InsertEdgeRaw(e *Edge) error {
	_, err := s.db.Exec(
		`INSERT INTO edges (from_id, to_id, relation, description, created_at,
		                    merge_group, needs_merge, source_branch, merge_timestamp)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.FromID, e.ToID, string(e.Relation), e.Description, e.CreatedAt,
		e.MergeGroup, boolToInt(e.NeedsMerge), e.SourceBranch, e.MergeTimestamp,
	)
	if err != nil {
		return fmt.Errorf("store: insert edge raw %s -> %s: %w", e.FromID, e.ToID, err)
	}
	return nil
}

// GetEdgesByMergeGroup returns the edges flagged under one conflict group.
func (s *Store) GetEdgesByMergeGroup(group string) ([]Edge, error) {
	rows, err := s.db.Query(
		`SELECT `+edgeColumns+` FROM edges WHERE merge_group = ? ORDER BY id`, group,
	)
	if err != nil {
		return nil, fmt.Errorf("store: edges by merge group: %w", err)
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
