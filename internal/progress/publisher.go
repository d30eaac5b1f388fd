// Package progress maintains queryable per-run progress snapshots. One writer
// (the run's orchestrator goroutine) replaces snapshots atomically; any number
// of readers observe them concurrently.
package progress

import (
	"fmt"
	"sync"
	"time"

	"github.com/mortdiggiddy/video-translator/internal/run"
	"github.com/mortdiggiddy/video-translator/internal/services"
)

// Snapshot is the point-in-time view of a run's progress.
type Snapshot struct {
	RunID           string     `json:"run_id"`
	StageOrdinal    int        `json:"stage_ordinal"`
	StageName       string     `json:"stage_name"`
	PercentComplete float64    `json:"percent_complete"`
	Status          run.Status `json:"status"`
	ErrorKind       string     `json:"error_kind,omitempty"`
	ErrorMessage    string     `json:"error_message,omitempty"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// Publisher holds the current snapshot per run.
type Publisher struct {
	mu    sync.RWMutex
	snaps map[string]Snapshot
}

// NewPublisher constructs an empty publisher.
func NewPublisher() *Publisher {
	return &Publisher{snaps: make(map[string]Snapshot)}
}

// Publish replaces a run's snapshot. Percent never regresses within a run:
// a retry that re-reports an earlier percentage is clamped to the previous
// value, and 100 is reserved for completed runs.
func (p *Publisher) Publish(snap Snapshot) {
	snap.UpdatedAt = time.Now().UTC()
	if snap.Status != run.StatusCompleted && snap.PercentComplete >= 100 {
		snap.PercentComplete = 99
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if prev, ok := p.snaps[snap.RunID]; ok && snap.PercentComplete < prev.PercentComplete {
		snap.PercentComplete = prev.PercentComplete
	}
	p.snaps[snap.RunID] = snap
}

// Query returns the current snapshot for a run.
func (p *Publisher) Query(runID string) (Snapshot, error) {
	p.mu.RLock()
	snap, ok := p.snaps[runID]
	p.mu.RUnlock()
	if !ok {
		return Snapshot{}, services.Wrap(services.ErrNotFound, "progress", "query", fmt.Sprintf("run %s", runID), nil)
	}
	return snap, nil
}

// Forget drops a run's snapshot, used when purging terminated runs.
func (p *Publisher) Forget(runID string) {
	p.mu.Lock()
	delete(p.snaps, runID)
	p.mu.Unlock()
}
