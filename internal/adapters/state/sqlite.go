// Package state persists settled run snapshots in SQLite so history
// survives restarts. The in-memory registry stays authoritative for live
// runs; this store is append-only history.
package state

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"scenesmith/internal/core"
)

//go:embed migrations/001_initial_schema.sql
var migrationV1 string

// HistoryEntry is one persisted run outcome.
type HistoryEntry struct {
	ID         int64          `json:"id"`
	Key        core.JobKey    `json:"key"`
	Status     string         `json:"status"`
	Stage      string         `json:"stage,omitempty"`
	Error      string         `json:"error,omitempty"`
	SceneDone  int            `json:"scene_done"`
	SceneTotal int            `json:"scene_total"`
	Report     map[string]int `json:"report,omitempty"`
	StartedAt  *time.Time     `json:"started_at,omitempty"`
	FinishedAt *time.Time     `json:"finished_at,omitempty"`
	RecordedAt time.Time      `json:"recorded_at"`
}

// SQLiteStore implements the orchestrator's snapshot store.
type SQLiteStore struct {
	db *sql.DB
	mu sync.Mutex
}

// NewSQLiteStore opens (or creates) the database and applies migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o750); err != nil {
		return nil, fmt.Errorf("creating state directory: %w", err)
	}
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	var version int
	if err := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&version); err != nil {
		version = 0
	}
	if version < 1 {
		if _, err := s.db.Exec(migrationV1); err != nil {
			return fmt.Errorf("applying migration v1: %w", err)
		}
	}
	return nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Save appends one snapshot to the history.
func (s *SQLiteStore) Save(ctx context.Context, snap core.TaskSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	report, err := json.Marshal(snap.Report)
	if err != nil {
		return fmt.Errorf("marshaling report: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO run_history
			(collection, part, status, stage, error, scene_done, scene_total, report_json, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		snap.Collection,
		snap.Part,
		string(snap.Status),
		snap.Stage,
		snap.Error,
		snap.SceneDone,
		snap.SceneTotal,
		string(report),
		timePtr(snap.StartedAt),
		timePtr(snap.FinishedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting run history: %w", err)
	}
	return nil
}

// History returns the most recent entries, newest first. A zero limit means
// 50. Collection filters when non-empty.
func (s *SQLiteStore) History(ctx context.Context, collection string, limit int) ([]HistoryEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT id, collection, part, status, stage, error, scene_done, scene_total, report_json, started_at, finished_at, recorded_at
		FROM run_history`
	args := []any{}
	if collection != "" {
		query += " WHERE collection = ?"
		args = append(args, collection)
	}
	query += " ORDER BY id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying run history: %w", err)
	}
	defer rows.Close()

	var entries []HistoryEntry
	for rows.Next() {
		var (
			e          HistoryEntry
			reportJSON string
			started    sql.NullString
			finished   sql.NullString
			recorded   string
			status     string
		)
		if err := rows.Scan(
			&e.ID, &e.Key.Collection, &e.Key.Part, &status, &e.Stage, &e.Error,
			&e.SceneDone, &e.SceneTotal, &reportJSON, &started, &finished, &recorded,
		); err != nil {
			return nil, fmt.Errorf("scanning run history: %w", err)
		}
		e.Status = status
		if reportJSON != "" && reportJSON != "null" {
			if err := json.Unmarshal([]byte(reportJSON), &e.Report); err != nil {
				return nil, fmt.Errorf("decoding report for row %d: %w", e.ID, err)
			}
		}
		e.StartedAt = parseTime(started)
		e.FinishedAt = parseTime(finished)
		if t, err := time.Parse(time.RFC3339, recorded); err == nil {
			e.RecordedAt = t
		} else if t, err := time.Parse("2006-01-02 15:04:05", recorded); err == nil {
			e.RecordedAt = t
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func timePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339)
}

func parseTime(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, s.String)
	if err != nil {
		return nil
	}
	return &t
}
