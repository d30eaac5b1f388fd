package runstore

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mortdiggiddy/video-translator/internal/services"
)

// Checkpoint is the durable record that a stage completed with a given
// payload. Write-once per (runID, ordinal).
type Checkpoint struct {
	RunID       string
	Ordinal     int
	StageName   string
	Payload     json.RawMessage
	CommittedAt time.Time
}

// SaveCheckpoint records a stage result. Re-saving an identical payload is a
// no-op so a crash between the checkpoint write and the progress publish can
// be replayed safely. A differing payload for the same key means the stage
// re-produced a different result, which is a determinism bug and always fatal.
// Ordinals must be written contiguously in ascending order.
func (s *Store) SaveCheckpoint(ctx context.Context, runID string, ordinal int, stageName string, payload json.RawMessage) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin checkpoint tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	var existing string
	err = tx.QueryRowContext(ctx,
		`SELECT payload FROM checkpoints WHERE run_id = ? AND ordinal = ?`,
		runID, ordinal,
	).Scan(&existing)
	switch {
	case err == nil:
		if bytes.Equal(canonicalJSON([]byte(existing)), canonicalJSON(payload)) {
			return nil
		}
		return services.Wrap(services.ErrConflict, "runstore", "save checkpoint",
			fmt.Sprintf("run %s stage %d already checkpointed with a different payload", runID, ordinal), nil)
	case errors.Is(err, sql.ErrNoRows):
		// First write for this key.
	default:
		return fmt.Errorf("read existing checkpoint: %w", err)
	}

	var count int
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM checkpoints WHERE run_id = ?`, runID,
	).Scan(&count); err != nil {
		return fmt.Errorf("count checkpoints: %w", err)
	}
	if count != ordinal {
		return services.Wrap(services.ErrConflict, "runstore", "save checkpoint",
			fmt.Sprintf("run %s has %d checkpoints, cannot write ordinal %d", runID, count, ordinal), nil)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO checkpoints (run_id, ordinal, stage_name, payload, committed_at) VALUES (?, ?, ?, ?, ?)`,
		runID, ordinal, stageName, string(payload), time.Now().UTC().Format(time.RFC3339Nano),
	); err != nil {
		return fmt.Errorf("insert checkpoint: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit checkpoint: %w", err)
	}
	return nil
}

// Checkpoints returns the contiguous checkpoint prefix for a run, ordered by
// ordinal. A gap in the sequence reports a conflict error since it can only
// result from corruption.
func (s *Store) Checkpoints(ctx context.Context, runID string) ([]Checkpoint, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, ordinal, stage_name, payload, committed_at FROM checkpoints WHERE run_id = ? ORDER BY ordinal ASC`,
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}
	defer rows.Close()

	var checkpoints []Checkpoint
	for rows.Next() {
		var (
			cp          Checkpoint
			payload     string
			committedAt string
		)
		if err := rows.Scan(&cp.RunID, &cp.Ordinal, &cp.StageName, &payload, &committedAt); err != nil {
			return nil, fmt.Errorf("scan checkpoint: %w", err)
		}
		cp.Payload = json.RawMessage(payload)
		if cp.CommittedAt, err = time.Parse(time.RFC3339Nano, committedAt); err != nil {
			return nil, fmt.Errorf("parse committed_at: %w", err)
		}
		checkpoints = append(checkpoints, cp)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i, cp := range checkpoints {
		if cp.Ordinal != i {
			return nil, services.Wrap(services.ErrConflict, "runstore", "load checkpoints",
				fmt.Sprintf("run %s checkpoint sequence has a gap at ordinal %d", runID, i), nil)
		}
	}
	return checkpoints, nil
}

// PurgeCheckpoints removes all checkpoints for a run, used when pruning
// terminal runs whose artifacts are already persisted.
func (s *Store) PurgeCheckpoints(ctx context.Context, runID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM checkpoints WHERE run_id = ?`, runID); err != nil {
		return fmt.Errorf("purge checkpoints: %w", err)
	}
	return nil
}

// canonicalJSON re-encodes a JSON document with sorted object keys so payload
// comparison is independent of field ordering.
func canonicalJSON(data []byte) []byte {
	var value any
	if err := json.Unmarshal(data, &value); err != nil {
		return data
	}
	canonical, err := json.Marshal(value)
	if err != nil {
		return data
	}
	return canonical
}
