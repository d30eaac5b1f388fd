// Package registry is the single entry point for run lifecycle operations:
// submission, lookup, progress, and cancellation. Both the REST API and any
// future front end go through it, so daemon invariants live here.
package registry

import (
	"context"
	"log/slog"
	"sync"

	"github.com/mortdiggiddy/video-translator/internal/logging"
	"github.com/mortdiggiddy/video-translator/internal/orchestrator"
	"github.com/mortdiggiddy/video-translator/internal/pipeline"
	"github.com/mortdiggiddy/video-translator/internal/progress"
	"github.com/mortdiggiddy/video-translator/internal/run"
	"github.com/mortdiggiddy/video-translator/internal/runstore"
	"github.com/mortdiggiddy/video-translator/internal/services"
)

// Registry coordinates the store, orchestrator, and progress publisher.
type Registry struct {
	store     *runstore.Store
	orch      *orchestrator.Orchestrator
	publisher *progress.Publisher
	stages    []pipeline.Stage
	logger    *slog.Logger

	mu   sync.Mutex
	life context.Context
}

// New constructs the registry over the same stage list the orchestrator
// executes, so progress reconstruction uses the real weights.
func New(store *runstore.Store, orch *orchestrator.Orchestrator, publisher *progress.Publisher, stages []pipeline.Stage, logger *slog.Logger) *Registry {
	return &Registry{
		store:     store,
		orch:      orch,
		publisher: publisher,
		stages:    stages,
		logger:    logging.WithComponent(logger, "registry"),
	}
}

// Bind sets the daemon lifetime context. Submitted runs must outlive the
// API request that carried them but still stop at daemon shutdown, so Start
// launches under this context instead of the caller's.
func (reg *Registry) Bind(ctx context.Context) {
	reg.mu.Lock()
	reg.life = ctx
	reg.mu.Unlock()
}

func (reg *Registry) lifetime() context.Context {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	if reg.life != nil {
		return reg.life
	}
	return context.Background()
}

// Start validates the input, persists a pending run, and launches it. The
// returned ID is stable for the run's lifetime.
func (reg *Registry) Start(ctx context.Context, mediaPath, sourceLang, targetLang string, wantVideo, burnIn bool) (*run.Run, error) {
	input, err := run.ValidateInput(mediaPath, sourceLang, targetLang, wantVideo, burnIn)
	if err != nil {
		return nil, err
	}

	r := &run.Run{
		ID:     run.NewID(input.MediaPath, input.TargetLang),
		Input:  input,
		Status: run.StatusPending,
	}
	if err := reg.store.CreateRun(ctx, r); err != nil {
		return nil, err
	}
	reg.logger.Info("run submitted",
		logging.String(logging.FieldRunID, r.ID),
		logging.String("media_path", input.MediaPath),
		logging.String("target_lang", input.TargetLang))

	reg.orch.Launch(reg.lifetime(), r)
	return r, nil
}

// Describe returns the stored run.
func (reg *Registry) Describe(ctx context.Context, runID string) (*run.Run, error) {
	return reg.store.GetRun(ctx, runID)
}

// List returns all runs, newest first.
func (reg *Registry) List(ctx context.Context) ([]*run.Run, error) {
	return reg.store.ListRuns(ctx)
}

// Progress returns the run's current progress snapshot. Runs without an
// in-memory snapshot (finished before a restart, or never started) are
// reconstructed from the store.
func (reg *Registry) Progress(ctx context.Context, runID string) (progress.Snapshot, error) {
	snap, err := reg.publisher.Query(runID)
	if err == nil {
		return snap, nil
	}

	r, err := reg.store.GetRun(ctx, runID)
	if err != nil {
		return progress.Snapshot{}, err
	}
	// CurrentStage counts completed stages, so the cumulative weight never
	// reports less than a client already saw before the restart.
	percent := pipeline.CumulativePercent(reg.stages, r.CurrentStage)
	if r.Status == run.StatusCompleted {
		percent = 100
	}
	ordinal := r.CurrentStage
	stageName := ""
	if ordinal >= len(reg.stages) {
		ordinal = len(reg.stages) - 1
	}
	if ordinal >= 0 && ordinal < len(reg.stages) {
		stageName = reg.stages[ordinal].Definition().Name
	}
	return progress.Snapshot{
		RunID:           r.ID,
		StageOrdinal:    ordinal,
		StageName:       stageName,
		PercentComplete: percent,
		Status:          r.Status,
		ErrorKind:       r.ErrorKind,
		ErrorMessage:    r.ErrorMessage,
		UpdatedAt:       r.UpdatedAt,
	}, nil
}

// Cancel requests cancellation. Terminal runs cannot be cancelled; a pending
// or executing run stops at its next cancellation point with all committed
// checkpoints intact.
func (reg *Registry) Cancel(ctx context.Context, runID string) error {
	r, err := reg.store.GetRun(ctx, runID)
	if err != nil {
		return err
	}
	if r.Status.IsTerminal() {
		return services.Wrap(services.ErrPermanent, "registry", "cancel",
			"run already "+string(r.Status), nil)
	}
	if err := reg.orch.Cancel(runID); err != nil {
		return err
	}
	reg.logger.Info("cancellation requested", logging.String(logging.FieldRunID, runID))
	return nil
}

// Prune removes terminal runs, their checkpoints, and their in-memory
// progress snapshots. Artifacts on disk are left alone. Returns the number
// of runs removed.
func (reg *Registry) Prune(ctx context.Context) (int, error) {
	terminal, err := reg.store.ListTerminal(ctx)
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, r := range terminal {
		if err := reg.store.PurgeCheckpoints(ctx, r.ID); err != nil {
			return removed, err
		}
		if err := reg.store.DeleteRun(ctx, r.ID); err != nil {
			return removed, err
		}
		reg.publisher.Forget(r.ID)
		removed++
	}
	if removed > 0 {
		reg.logger.Info("pruned terminal runs", logging.Int("count", removed))
	}
	return removed, nil
}

// Stats returns run counts per status for the daemon status endpoint.
func (reg *Registry) Stats(ctx context.Context) (map[run.Status]int, error) {
	return reg.store.Stats(ctx)
}
