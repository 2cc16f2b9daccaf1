// Package sqlite implements arraystore.Store on a single SQLite file.
//
// Each array is a row in `arrays` with its chunks in `array_chunks`, keyed
// by append sequence. The info record lives in `info` with a per-key
// version counter, and every pipeline stage run is logged in `runs`. The
// schema is managed by golang-migrate from embedded SQL files.
package sqlite

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/egaudrain/tridesclous/internal/arraystore"
)

// Store is a SQLite-backed arraystore.Store.
type Store struct {
	db *sql.DB
}

var pragmas = []string{
	"PRAGMA journal_mode=WAL",
	"PRAGMA busy_timeout=5000",
	"PRAGMA synchronous=NORMAL",
	"PRAGMA temp_store=MEMORY",
	"PRAGMA foreign_keys=ON",
}

// Open opens (creating if needed) the database at path and applies any
// pending migration. Use ":memory:" for a throwaway store.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// Single writer; also keeps ":memory:" on one connection.
	db.SetMaxOpenConns(1)

	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to execute %q: %w", p, err)
		}
	}

	s := &Store{db: db}
	if err := s.MigrateUp(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// DB exposes the underlying handle for tests and maintenance tooling.
func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) Initialize(name string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM array_chunks WHERE name = ?`, name); err != nil {
		return fmt.Errorf("clear %s: %w", name, err)
	}
	if _, err := tx.Exec(`
		INSERT INTO arrays (name, created_at) VALUES (?, ?)
		ON CONFLICT(name) DO UPDATE SET created_at = excluded.created_at`,
		name, time.Now().UnixNano()); err != nil {
		return fmt.Errorf("create %s: %w", name, err)
	}
	return tx.Commit()
}

func (s *Store) Append(name string, blob []byte) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var exists int
	if err := tx.QueryRow(`SELECT COUNT(*) FROM arrays WHERE name = ?`, name).Scan(&exists); err != nil {
		return err
	}
	if exists == 0 {
		return fmt.Errorf("append to %s: %w", name, arraystore.ErrNotFound)
	}
	if _, err := tx.Exec(`
		INSERT INTO array_chunks (name, seq, blob)
		SELECT ?, COALESCE(MAX(seq), -1) + 1, ? FROM array_chunks WHERE name = ?`,
		name, blob, name); err != nil {
		return fmt.Errorf("append to %s: %w", name, err)
	}
	return tx.Commit()
}

func (s *Store) Blobs(name string) ([][]byte, error) {
	ok, err := s.Exists(name)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%s: %w", name, arraystore.ErrNotFound)
	}

	rows, err := s.db.Query(`SELECT blob FROM array_chunks WHERE name = ? ORDER BY seq`, name)
	if err != nil {
		return nil, fmt.Errorf("query %s chunks: %w", name, err)
	}
	defer rows.Close()

	blobs := [][]byte{}
	for rows.Next() {
		var b []byte
		if err := rows.Scan(&b); err != nil {
			return nil, err
		}
		blobs = append(blobs, b)
	}
	return blobs, rows.Err()
}

func (s *Store) Detach(name string) error {
	if _, err := s.db.Exec(`DELETE FROM arrays WHERE name = ?`, name); err != nil {
		return fmt.Errorf("detach %s: %w", name, err)
	}
	return nil
}

func (s *Store) Exists(name string) (bool, error) {
	var n int
	err := s.db.QueryRow(`SELECT 1 FROM arrays WHERE name = ?`, name).Scan(&n)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *Store) Names() ([]string, error) {
	rows, err := s.db.Query(`SELECT name FROM arrays ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}
		names = append(names, n)
	}
	return names, rows.Err()
}

func (s *Store) PutInfo(key string, value []byte) error {
	_, err := s.db.Exec(`
		INSERT INTO info (key, value, version, updated_at) VALUES (?, ?, 1, ?)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			version = info.version + 1,
			updated_at = excluded.updated_at`,
		key, value, time.Now().UnixNano())
	if err != nil {
		return fmt.Errorf("put info %s: %w", key, err)
	}
	return nil
}

func (s *Store) Info() (map[string][]byte, error) {
	rows, err := s.db.Query(`SELECT key, value FROM info`)
	if err != nil {
		return nil, fmt.Errorf("query info: %w", err)
	}
	defer rows.Close()

	out := make(map[string][]byte)
	for rows.Next() {
		var k string
		var v []byte
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		out[k] = v
	}
	return out, rows.Err()
}

// InfoVersion returns how many times key has been written, 0 if never.
func (s *Store) InfoVersion(key string) (int64, error) {
	var v int64
	err := s.db.QueryRow(`SELECT version FROM info WHERE key = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return v, err
}

func (s *Store) RecordRun(r arraystore.Run) error {
	var params, errText interface{}
	if r.ParamsJSON != "" {
		params = r.ParamsJSON
	}
	if r.Error != "" {
		errText = r.Error
	}
	_, err := s.db.Exec(`
		INSERT INTO runs (run_id, stage, params_json, started_at, finished_at, status, error)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.Stage, params, r.StartedAt.UnixNano(), r.FinishedAt.UnixNano(), r.Status, errText)
	if err != nil {
		return fmt.Errorf("record run %s: %w", r.ID, err)
	}
	return nil
}

func (s *Store) Runs() ([]arraystore.Run, error) {
	rows, err := s.db.Query(`
		SELECT run_id, stage, params_json, started_at, finished_at, status, error
		FROM runs
		ORDER BY started_at, rowid`)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var runs []arraystore.Run
	for rows.Next() {
		var r arraystore.Run
		var params, errText sql.NullString
		var started, finished int64
		if err := rows.Scan(&r.ID, &r.Stage, &params, &started, &finished, &r.Status, &errText); err != nil {
			return nil, err
		}
		r.ParamsJSON = params.String
		r.Error = errText.String
		r.StartedAt = time.Unix(0, started)
		r.FinishedAt = time.Unix(0, finished)
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// Verify at compile time that *Store implements arraystore.Store.
var _ arraystore.Store = (*Store)(nil)
