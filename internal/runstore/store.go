package runstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/mortdiggiddy/video-translator/internal/config"
	"github.com/mortdiggiddy/video-translator/internal/run"
	"github.com/mortdiggiddy/video-translator/internal/services"
)

// Store manages run and checkpoint persistence backed by SQLite.
type Store struct {
	db   *sql.DB
	path string
}

// Open initializes or connects to the run database and applies the schema.
func Open(cfg *config.Config) (*Store, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}

	dbPath := filepath.Join(cfg.WorkDir, "runs.db")
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = FULL",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &Store{db: db, path: dbPath}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Path returns the database file location.
func (s *Store) Path() string {
	return s.path
}

const runColumns = `id, input_json, status, current_stage, result_json, error_kind, error_message, created_at, updated_at`

// CreateRun persists a new run record.
func (s *Store) CreateRun(ctx context.Context, r *run.Run) error {
	now := time.Now().UTC()
	r.CreatedAt = now
	r.UpdatedAt = now

	inputJSON, err := json.Marshal(r.Input)
	if err != nil {
		return fmt.Errorf("marshal input: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO runs (id, input_json, status, current_stage, error_kind, error_message, created_at, updated_at)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID,
		string(inputJSON),
		string(r.Status),
		r.CurrentStage,
		r.ErrorKind,
		r.ErrorMessage,
		now.Format(time.RFC3339Nano),
		now.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// GetRun fetches a run by identifier. Unknown IDs yield a not-found error.
func (s *Store) GetRun(ctx context.Context, id string) (*run.Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, services.Wrap(services.ErrNotFound, "runstore", "get", fmt.Sprintf("run %s", id), nil)
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	return r, nil
}

// UpdateRun persists mutated run fields.
func (s *Store) UpdateRun(ctx context.Context, r *run.Run) error {
	r.UpdatedAt = time.Now().UTC()

	var resultJSON sql.NullString
	if r.Result != nil {
		data, err := json.Marshal(r.Result)
		if err != nil {
			return fmt.Errorf("marshal result: %w", err)
		}
		resultJSON = sql.NullString{String: string(data), Valid: true}
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, current_stage = ?, result_json = ?, error_kind = ?, error_message = ?, updated_at = ?
         WHERE id = ?`,
		string(r.Status),
		r.CurrentStage,
		resultJSON,
		r.ErrorKind,
		r.ErrorMessage,
		r.UpdatedAt.Format(time.RFC3339Nano),
		r.ID,
	)
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update run rows affected: %w", err)
	}
	if affected == 0 {
		return services.Wrap(services.ErrNotFound, "runstore", "update", fmt.Sprintf("run %s", r.ID), nil)
	}
	return nil
}

// ListRuns returns all runs ordered newest first.
func (s *Store) ListRuns(ctx context.Context) ([]*run.Run, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+runColumns+` FROM runs ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()
	return collectRuns(rows)
}

// ListActive returns runs that have not reached a terminal status, oldest
// first so resume-after-restart preserves submission order.
func (s *Store) ListActive(ctx context.Context) ([]*run.Run, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+runColumns+` FROM runs WHERE status IN (?, ?) ORDER BY created_at ASC`,
		string(run.StatusPending), string(run.StatusRunning),
	)
	if err != nil {
		return nil, fmt.Errorf("list active runs: %w", err)
	}
	defer rows.Close()
	return collectRuns(rows)
}

// ListTerminal returns completed, failed, and cancelled runs.
func (s *Store) ListTerminal(ctx context.Context) ([]*run.Run, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+runColumns+` FROM runs WHERE status IN (?, ?, ?)`,
		string(run.StatusCompleted), string(run.StatusFailed), string(run.StatusCancelled),
	)
	if err != nil {
		return nil, fmt.Errorf("list terminal runs: %w", err)
	}
	defer rows.Close()
	return collectRuns(rows)
}

// DeleteRun removes a run record. Checkpoints are purged separately so the
// caller controls ordering.
func (s *Store) DeleteRun(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM runs WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete run: %w", err)
	}
	return nil
}

// Stats aggregates run counts per status.
func (s *Store) Stats(ctx context.Context) (map[run.Status]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM runs GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("run stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[run.Status]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("scan stats: %w", err)
		}
		stats[run.Status(status)] = count
	}
	return stats, rows.Err()
}

func collectRuns(rows *sql.Rows) ([]*run.Run, error) {
	var runs []*run.Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*run.Run, error) {
	var (
		r          run.Run
		inputJSON  string
		status     string
		resultJSON sql.NullString
		createdAt  string
		updatedAt  string
	)
	if err := row.Scan(&r.ID, &inputJSON, &status, &r.CurrentStage, &resultJSON, &r.ErrorKind, &r.ErrorMessage, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(inputJSON), &r.Input); err != nil {
		return nil, fmt.Errorf("decode input: %w", err)
	}
	r.Status = run.Status(status)
	if resultJSON.Valid && resultJSON.String != "" {
		var result run.Result
		if err := json.Unmarshal([]byte(resultJSON.String), &result); err != nil {
			return nil, fmt.Errorf("decode result: %w", err)
		}
		r.Result = &result
	}
	var err error
	if r.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	if r.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
		return nil, fmt.Errorf("parse updated_at: %w", err)
	}
	return &r, nil
}
