// Package store implements the persistent knowledge graph container.
//
// It keeps concepts (nodes), typed relationships (edges) and the activity
// timeline in a single SQLite file opened with WAL mode and foreign-key
// enforcement. One process holds one writable handle per file; readers may
// share it. Schema evolution is tracked through PRAGMA user_version.
package store

import (
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// openDB is a package-level var to allow test injection.
var openDB = sql.Open

// EmbeddingDim is the fixed width of stored concept embeddings.
const EmbeddingDim = 384

// SchemaVersion is the latest schema version; fresh stores are created at
// this version, older stores are migrated forward on open.
const SchemaVersion = 3

// Store is the persistent graph engine backed by SQLite.
type Store struct {
	db   *sql.DB
	path string
}

// Open opens (or creates) the graph store at path, applies pragmas and
// runs pending schema migrations.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("store: create data dir: %w", err)
		}
	}

	// Pragmas go in the DSN so every pooled connection carries them,
	// not just the one that happened to run the Exec.
	dsn := "file:" + path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(1)"
	db, err := openDB("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open database: %w", err)
	}

	s := &Store{db: db, path: path}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the on-disk location of this store.
func (s *Store) Path() string {
	return s.path
}

// Version reads the store's schema version from the user-version slot.
func (s *Store) Version() (int, error) {
	var v int
	if err := s.db.QueryRow("PRAGMA user_version").Scan(&v); err != nil {
		return 0, fmt.Errorf("store: read user_version: %w", err)
	}
	return v, nil
}

// ─── Migrations ──────────────────────────────────────────────────────────────

// migrations maps target version → DDL applied when upgrading to it.
// Each entry runs inside its own transaction together with the
// user_version bump.
var migrations = map[int]string{
	1: `
		CREATE TABLE nodes (
			id              TEXT PRIMARY KEY,
			name            TEXT NOT NULL,
			kind            TEXT NOT NULL,
			summary         TEXT NOT NULL,
			why             TEXT,
			file_refs       TEXT,
			parent_id       TEXT REFERENCES nodes(id),
			created_by_task TEXT,
			created_at      TEXT NOT NULL DEFAULT (datetime('now')),
			updated_at      TEXT NOT NULL DEFAULT (datetime('now')),
			removed_at      TEXT,
			removed_reason  TEXT,
			embedding       BLOB
		);

		CREATE INDEX idx_nodes_parent  ON nodes(parent_id);
		CREATE INDEX idx_nodes_kind    ON nodes(kind);
		CREATE INDEX idx_nodes_removed ON nodes(removed_at);

		CREATE TABLE edges (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			from_id     TEXT NOT NULL REFERENCES nodes(id),
			to_id       TEXT NOT NULL REFERENCES nodes(id),
			relation    TEXT NOT NULL,
			description TEXT,
			created_at  TEXT NOT NULL DEFAULT (datetime('now'))
		);

		CREATE INDEX idx_edges_from     ON edges(from_id);
		CREATE INDEX idx_edges_to       ON edges(to_id);
		CREATE INDEX idx_edges_relation ON edges(relation);
	`,
	2: `
		ALTER TABLE nodes ADD COLUMN merge_group     TEXT;
		ALTER TABLE nodes ADD COLUMN needs_merge     INTEGER NOT NULL DEFAULT 0;
		ALTER TABLE nodes ADD COLUMN source_branch   TEXT;
		ALTER TABLE nodes ADD COLUMN merge_timestamp TEXT;

		ALTER TABLE edges ADD COLUMN merge_group     TEXT;
		ALTER TABLE edges ADD COLUMN needs_merge     INTEGER NOT NULL DEFAULT 0;
		ALTER TABLE edges ADD COLUMN source_branch   TEXT;
		ALTER TABLE edges ADD COLUMN merge_timestamp TEXT;

		CREATE INDEX idx_nodes_merge_group ON nodes(merge_group);
		CREATE INDEX idx_nodes_needs_merge ON nodes(needs_merge);
		CREATE INDEX idx_edges_merge_group ON edges(merge_group);
		CREATE INDEX idx_edges_needs_merge ON edges(needs_merge);
	`,
	3: `
		CREATE TABLE timeline (
			seq            INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp      TEXT NOT NULL DEFAULT (datetime('now')),
			tool           TEXT NOT NULL,
			params         TEXT NOT NULL DEFAULT '{}',
			result_summary TEXT NOT NULL DEFAULT '',
			is_write       INTEGER NOT NULL DEFAULT 0,
			is_error       INTEGER NOT NULL DEFAULT 0,
			affected_ids   TEXT NOT NULL DEFAULT '[]'
		);

		CREATE INDEX idx_timeline_timestamp ON timeline(timestamp);
		CREATE INDEX idx_timeline_tool      ON timeline(tool);
	`,
}

func (s *Store) migrate() error {
	current, err := s.Version()
	if err != nil {
		return WrapError(ErrSchemaMigration, "user_version", err)
	}

	for v := current + 1; v <= SchemaVersion; v++ {
		ddl, ok := migrations[v]
		if !ok {
			return NewError(ErrSchemaMigration, fmt.Sprintf("v%d", v), "no migration registered")
		}

		tx, err := s.db.Begin()
		if err != nil {
			return WrapError(ErrSchemaMigration, fmt.Sprintf("v%d", v), err)
		}
		if _, err := tx.Exec(ddl); err != nil {
			tx.Rollback()
			return WrapError(ErrSchemaMigration, fmt.Sprintf("v%d", v), err)
		}
		// PRAGMA does not support placeholders.
		if _, err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", v)); err != nil {
			tx.Rollback()
			return WrapError(ErrSchemaMigration, fmt.Sprintf("v%d", v), err)
		}
		if err := tx.Commit(); err != nil {
			return WrapError(ErrSchemaMigration, fmt.Sprintf("v%d", v), err)
		}
	}
	return nil
}

// ─── Embedding codec ─────────────────────────────────────────────────────────

// EncodeEmbedding serializes a vector as raw little-endian float32 bytes
// (the on-disk format, 4 bytes per dimension). Big-endian platforms get the
// same byte order: the file is portable, the conversion happens here.
func EncodeEmbedding(vec []float32) []byte {
	if len(vec) == 0 {
		return nil
	}
	buf := make([]byte, 4*len(vec))
	for i, f := range vec {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(f))
	}
	return buf
}

// DecodeEmbedding parses raw little-endian float32 bytes back into a
// vector. A malformed length indicates store corruption.
func DecodeEmbedding(buf []byte) ([]float32, error) {
	if len(buf) == 0 {
		return nil, nil
	}
	if len(buf)%4 != 0 {
		return nil, NewError(ErrInvariantViolation, "", fmt.Sprintf("embedding blob length %d not a multiple of 4", len(buf)))
	}
	vec := make([]float32, len(buf)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[4*i:]))
	}
	return vec, nil
}

// ─── Shared helpers ──────────────────────────────────────────────────────────

func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
