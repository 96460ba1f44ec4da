// Package journal records engine runs in SQLite so past generations can be
// listed after the fact.
package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// Run is one recorded engine run.
type Run struct {
	ID            string
	Project       string
	Configuration string
	Status        string
	Started       time.Time
	Duration      time.Duration
	Paths         []string
	Written       int
	Unchanged     int
	Error         string
}

// Store is a SQLite-backed run journal.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// Open opens or creates the journal at path. ":memory:" keeps it in memory.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// Every connection to ":memory:" would see its own database.
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.initialize(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return s, nil
}

func (s *Store) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL UNIQUE,
		project TEXT NOT NULL,
		configuration TEXT NOT NULL,
		status TEXT NOT NULL,
		started INTEGER NOT NULL,
		duration_ms INTEGER NOT NULL,
		paths TEXT NOT NULL,
		written INTEGER NOT NULL,
		unchanged INTEGER NOT NULL,
		error TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_runs_project ON runs(project);
	CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Record stores r.
func (s *Store) Record(ctx context.Context, r Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	paths := r.Paths
	if paths == nil {
		paths = []string{}
	}
	pathsJSON, err := json.Marshal(paths)
	if err != nil {
		return fmt.Errorf("marshal paths: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO runs (run_id, project, configuration, status, started, duration_ms, paths, written, unchanged, error)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.Project, r.Configuration, r.Status, r.Started.UnixMilli(), r.Duration.Milliseconds(),
		string(pathsJSON), r.Written, r.Unchanged, r.Error,
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// Recent returns up to n runs, newest first.
func (s *Store) Recent(ctx context.Context, n int) ([]Run, error) {
	if n <= 0 {
		return nil, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, project, configuration, status, started, duration_ms, paths, written, unchanged, error
		 FROM runs ORDER BY seq DESC LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		var (
			r          Run
			started    int64
			durationMS int64
			pathsJSON  string
			errText    sql.NullString
		)
		if err := rows.Scan(&r.ID, &r.Project, &r.Configuration, &r.Status, &started, &durationMS,
			&pathsJSON, &r.Written, &r.Unchanged, &errText); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		r.Started = time.UnixMilli(started)
		r.Duration = time.Duration(durationMS) * time.Millisecond
		r.Error = errText.String
		if err := json.Unmarshal([]byte(pathsJSON), &r.Paths); err != nil {
			return nil, fmt.Errorf("unmarshal paths: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return out, nil
}

// Close closes the database.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}
