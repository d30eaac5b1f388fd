// Package orchestrator drives runs through the fixed stage sequence: it owns
// the worker pool, per-run cancellation, checkpoint replay on resume, and the
// checkpoint-then-publish ordering that keeps observed progress truthful.
package orchestrator

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/mortdiggiddy/video-translator/internal/config"
	"github.com/mortdiggiddy/video-translator/internal/fileutil"
	"github.com/mortdiggiddy/video-translator/internal/logging"
	"github.com/mortdiggiddy/video-translator/internal/pipeline"
	"github.com/mortdiggiddy/video-translator/internal/progress"
	"github.com/mortdiggiddy/video-translator/internal/retry"
	"github.com/mortdiggiddy/video-translator/internal/run"
	"github.com/mortdiggiddy/video-translator/internal/runstore"
	"github.com/mortdiggiddy/video-translator/internal/services"
)

// Orchestrator executes runs against the durable store. One instance serves
// the whole daemon; per-run state lives on the goroutine's stack.
type Orchestrator struct {
	cfg       *config.Config
	store     *runstore.Store
	publisher *progress.Publisher
	invoker   *retry.Invoker
	stages    []pipeline.Stage
	logger    *slog.Logger

	slots chan struct{}
	wg    sync.WaitGroup

	mu        sync.Mutex
	cancels   map[string]context.CancelFunc
	requested map[string]bool
}

// New validates the stage sequence and constructs the orchestrator.
func New(cfg *config.Config, store *runstore.Store, publisher *progress.Publisher, invoker *retry.Invoker, stages []pipeline.Stage, logger *slog.Logger) (*Orchestrator, error) {
	if err := pipeline.Validate(stages); err != nil {
		return nil, err
	}
	concurrency := cfg.Workflow.MaxConcurrentRuns
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Orchestrator{
		cfg:       cfg,
		store:     store,
		publisher: publisher,
		invoker:   invoker,
		stages:    stages,
		logger:    logging.WithComponent(logger, "orchestrator"),
		slots:     make(chan struct{}, concurrency),
		cancels:   make(map[string]context.CancelFunc),
		requested: make(map[string]bool),
	}, nil
}

// Launch schedules a run for execution. The run waits for a worker slot but
// is cancellable from the moment Launch returns.
func (o *Orchestrator) Launch(ctx context.Context, r *run.Run) {
	runCtx, cancel := context.WithCancel(ctx)
	o.mu.Lock()
	o.cancels[r.ID] = cancel
	o.mu.Unlock()

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer func() {
			o.mu.Lock()
			delete(o.cancels, r.ID)
			delete(o.requested, r.ID)
			o.mu.Unlock()
			cancel()
		}()

		select {
		case o.slots <- struct{}{}:
			defer func() { <-o.slots }()
		case <-runCtx.Done():
			o.handleInterruption(r, o.logger.With(logging.String(logging.FieldRunID, r.ID)))
			return
		}
		o.Execute(runCtx, r)
	}()
}

// Cancel requests cancellation of a launched run. Unknown or already-finished
// runs report not found.
func (o *Orchestrator) Cancel(runID string) error {
	o.mu.Lock()
	cancel, ok := o.cancels[runID]
	if ok {
		o.requested[runID] = true
	}
	o.mu.Unlock()
	if !ok {
		return services.Wrap(services.ErrNotFound, "orchestrator", "cancel", "run is not executing", nil)
	}
	cancel()
	return nil
}

// ResumeActive relaunches every non-terminal run, oldest first. Called once
// at daemon startup before the API accepts new submissions.
func (o *Orchestrator) ResumeActive(ctx context.Context) error {
	active, err := o.store.ListActive(ctx)
	if err != nil {
		return err
	}
	for _, r := range active {
		o.logger.Info("resuming run",
			logging.String(logging.FieldRunID, r.ID),
			logging.Int("current_stage", r.CurrentStage))
		o.Launch(ctx, r)
	}
	return nil
}

// Wait blocks until every launched run goroutine has finished.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

// Execute runs a single run to a terminal status. Committed checkpoints are
// replayed without re-invoking their stages; remaining stages execute under
// the retry policy. Every checkpoint is durable before its progress is
// visible.
func (o *Orchestrator) Execute(ctx context.Context, r *run.Run) {
	logger := o.logger.With(logging.String(logging.FieldRunID, r.ID))

	st := &pipeline.State{
		RunID:   r.ID,
		Input:   r.Input,
		WorkDir: filepath.Join(o.cfg.Paths.WorkDir, r.ID),
	}
	// Scratch files outlive an interrupted run so a resume can reuse them;
	// any terminal status releases them.
	defer func() {
		if r.Status.IsTerminal() {
			o.cleanup(st, logger)
		}
	}()
	if err := os.MkdirAll(st.WorkDir, 0o755); err != nil {
		o.finishFailed(r, services.Wrap(services.ErrTransient, "orchestrator", "create work dir", st.WorkDir, err), logger)
		return
	}

	// Replay and the running-status write must not race a cancel into a
	// spurious failure; the loop's first cancellation check handles any
	// interruption that landed during this window.
	startCtx := context.WithoutCancel(ctx)
	completed, err := o.restore(startCtx, st)
	if err != nil {
		o.finishFailed(r, err, logger)
		return
	}
	if completed > 0 {
		logger.Info("restored checkpoints", logging.Int("checkpoints", completed))
	}

	r.Status = run.StatusRunning
	r.CurrentStage = completed
	if err := o.store.UpdateRun(startCtx, r); err != nil {
		o.finishFailed(r, err, logger)
		return
	}
	o.publishRunning(r, completed)

	for ordinal := completed; ordinal < len(o.stages); ordinal++ {
		if err := ctx.Err(); err != nil {
			o.handleInterruption(r, logger)
			return
		}

		stage := o.stages[ordinal]
		def := stage.Definition()
		stageLogger := logger.With(logging.String(logging.FieldStage, def.Name))
		stageLogger.Info("stage starting", logging.Int("ordinal", ordinal))

		var payload json.RawMessage
		err := o.invoker.Do(ctx, def.Name, def.Dependency, o.policyFor(def), func(attemptCtx context.Context) error {
			out, execErr := stage.Execute(attemptCtx, st)
			if execErr != nil {
				return execErr
			}
			payload = out
			return nil
		})
		if err != nil {
			if services.KindOf(err) == services.KindCancelled {
				o.handleInterruption(r, logger)
			} else {
				o.finishFailed(r, err, stageLogger)
			}
			return
		}

		// The checkpoint must be durable before the stage is reported
		// complete. A completed stage survives cancellation, so the save
		// runs detached from the run context.
		saveCtx := context.WithoutCancel(ctx)
		if err := o.store.SaveCheckpoint(saveCtx, r.ID, ordinal, def.Name, payload); err != nil {
			o.finishFailed(r, err, stageLogger)
			return
		}
		r.CurrentStage = ordinal + 1
		if err := o.store.UpdateRun(saveCtx, r); err != nil {
			o.finishFailed(r, err, stageLogger)
			return
		}
		o.publishRunning(r, ordinal+1)
		stageLogger.Info("stage complete",
			logging.Float64("percent", pipeline.CumulativePercent(o.stages, ordinal+1)))
	}

	o.finishCompleted(ctx, r, st, logger)
}

// restore replays committed checkpoints into the state and returns how many
// stages are already done.
func (o *Orchestrator) restore(ctx context.Context, st *pipeline.State) (int, error) {
	checkpoints, err := o.store.Checkpoints(ctx, st.RunID)
	if err != nil {
		return 0, err
	}
	for _, cp := range checkpoints {
		if cp.Ordinal >= len(o.stages) {
			return 0, services.Wrap(services.ErrConflict, "orchestrator", "restore", "checkpoint beyond known stages", nil)
		}
		stage := o.stages[cp.Ordinal]
		if def := stage.Definition(); def.Name != cp.StageName {
			return 0, services.Wrap(services.ErrConflict, "orchestrator", "restore",
				"checkpoint stage "+cp.StageName+" does not match "+def.Name, nil)
		}
		if err := stage.Restore(st, cp.Payload); err != nil {
			return 0, err
		}
	}
	return len(checkpoints), nil
}

func (o *Orchestrator) policyFor(def pipeline.Definition) retry.Policy {
	attempts := def.MaxAttempts
	if o.cfg.Workflow.MaxAttemptsOverride > 0 {
		attempts = o.cfg.Workflow.MaxAttemptsOverride
	}
	return retry.Policy{
		MaxAttempts: attempts,
		Timeout:     def.Timeout,
		BackoffBase: def.BackoffBase,
	}
}

func (o *Orchestrator) publishRunning(r *run.Run, completed int) {
	ordinal := completed
	name := ""
	if ordinal < len(o.stages) {
		name = o.stages[ordinal].Definition().Name
	} else {
		ordinal = len(o.stages) - 1
		name = o.stages[ordinal].Definition().Name
	}
	o.publisher.Publish(progress.Snapshot{
		RunID:           r.ID,
		StageOrdinal:    ordinal,
		StageName:       name,
		PercentComplete: pipeline.CumulativePercent(o.stages, completed),
		Status:          run.StatusRunning,
	})
}

func (o *Orchestrator) finishCompleted(ctx context.Context, r *run.Run, st *pipeline.State, logger *slog.Logger) {
	r.Status = run.StatusCompleted
	r.Result = aggregateResult(st)
	if err := o.store.UpdateRun(context.WithoutCancel(ctx), r); err != nil {
		logger.Error("persist completed run", logging.Error(err))
	}
	o.publisher.Publish(progress.Snapshot{
		RunID:           r.ID,
		StageOrdinal:    len(o.stages) - 1,
		StageName:       o.stages[len(o.stages)-1].Definition().Name,
		PercentComplete: 100,
		Status:          run.StatusCompleted,
	})
	logger.Info("run completed", logging.String("artifacts_dir", r.Result.ArtifactsDir))
}

func (o *Orchestrator) finishFailed(r *run.Run, cause error, logger *slog.Logger) {
	details := services.Detail(cause)
	r.SetFailed(string(details.Kind), details.Message)
	if err := o.store.UpdateRun(context.Background(), r); err != nil {
		logger.Error("persist failed run", logging.Error(err))
	}
	o.publishTerminal(r)
	logger.Error("run failed",
		logging.String(logging.FieldErrorKind, string(details.Kind)),
		logging.Error(cause))
}

func (o *Orchestrator) finishCancelled(r *run.Run, logger *slog.Logger) {
	r.Status = run.StatusCancelled
	r.ErrorKind = string(services.KindCancelled)
	r.ErrorMessage = "run cancelled"
	if err := o.store.UpdateRun(context.Background(), r); err != nil {
		logger.Error("persist cancelled run", logging.Error(err))
	}
	o.publishTerminal(r)
	logger.Info("run cancelled", logging.Int("current_stage", r.CurrentStage))
}

// handleInterruption distinguishes an explicit cancel from a daemon shutdown.
// A cancel request is terminal; a shutdown leaves the stored status alone so
// the next startup resumes the run from its committed checkpoints.
func (o *Orchestrator) handleInterruption(r *run.Run, logger *slog.Logger) {
	o.mu.Lock()
	requested := o.requested[r.ID]
	o.mu.Unlock()
	if requested {
		o.finishCancelled(r, logger)
		return
	}
	logger.Info("run interrupted, will resume on next startup",
		logging.Int("current_stage", r.CurrentStage))
}

func (o *Orchestrator) publishTerminal(r *run.Run) {
	ordinal := r.CurrentStage
	if ordinal >= len(o.stages) {
		ordinal = len(o.stages) - 1
	}
	o.publisher.Publish(progress.Snapshot{
		RunID:           r.ID,
		StageOrdinal:    ordinal,
		StageName:       o.stages[ordinal].Definition().Name,
		PercentComplete: pipeline.CumulativePercent(o.stages, r.CurrentStage),
		Status:          r.Status,
		ErrorKind:       r.ErrorKind,
		ErrorMessage:    r.ErrorMessage,
	})
}

// cleanup removes the run's scratch files after a terminal status. Failures
// are logged and never promoted into a run failure.
func (o *Orchestrator) cleanup(st *pipeline.State, logger *slog.Logger) {
	if leftover := fileutil.RemoveAllQuiet(st.TempPaths()); len(leftover) > 0 {
		logger.Warn("scratch files not removed", logging.Any("paths", leftover))
	}
	if err := os.RemoveAll(st.WorkDir); err != nil {
		logger.Warn("work dir not removed", logging.Error(err))
	}
}

func aggregateResult(st *pipeline.State) *run.Result {
	result := &run.Result{}
	if st.Transcript != nil {
		result.Transcription = st.Transcript.Text
	}
	if st.Translation != nil {
		result.Translation = st.Translation.TranslatedText
	}
	if st.Summary != nil {
		result.Summary = st.Summary.Summary
		result.KeyPoints = st.Summary.KeyPoints
	}
	if st.Artifacts != nil {
		result.ArtifactsDir = st.Artifacts.ArtifactsDir
		result.SubtitlesPath = st.Artifacts.SubtitlesPath
		result.VideoPath = st.Artifacts.VideoPath
		result.Files = st.Artifacts.Files
	}
	return result
}
