package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mortdiggiddy/video-translator/internal/breaker"
	"github.com/mortdiggiddy/video-translator/internal/config"
	"github.com/mortdiggiddy/video-translator/internal/pipeline"
	"github.com/mortdiggiddy/video-translator/internal/progress"
	"github.com/mortdiggiddy/video-translator/internal/retry"
	"github.com/mortdiggiddy/video-translator/internal/run"
	"github.com/mortdiggiddy/video-translator/internal/runstore"
	"github.com/mortdiggiddy/video-translator/internal/services"
	"github.com/mortdiggiddy/video-translator/internal/testsupport"
)

// stubStage is a controllable stage for orchestrator tests.
type stubStage struct {
	def      pipeline.Definition
	execute  func(ctx context.Context, st *pipeline.State) (json.RawMessage, error)
	executed atomic.Int32
	restored atomic.Int32
}

func (s *stubStage) Definition() pipeline.Definition { return s.def }

func (s *stubStage) Execute(ctx context.Context, st *pipeline.State) (json.RawMessage, error) {
	s.executed.Add(1)
	if s.execute != nil {
		return s.execute(ctx, st)
	}
	return json.RawMessage(fmt.Sprintf(`{"stage":%d}`, s.def.Ordinal)), nil
}

func (s *stubStage) Restore(st *pipeline.State, payload json.RawMessage) error {
	s.restored.Add(1)
	return nil
}

func newStub(name string, ordinal int, weight float64) *stubStage {
	return &stubStage{def: pipeline.Definition{
		Name:           name,
		Ordinal:        ordinal,
		Timeout:        time.Second,
		MaxAttempts:    1,
		BackoffBase:    time.Millisecond,
		ProgressWeight: weight,
	}}
}

func threeStubs() []*stubStage {
	return []*stubStage{
		newStub("alpha", 0, 50),
		newStub("beta", 1, 30),
		newStub("gamma", 2, 20),
	}
}

type harness struct {
	orch      *Orchestrator
	store     *runstore.Store
	publisher *progress.Publisher
	cfg       *config.Config
}

func newHarness(t *testing.T, stubs []*stubStage) *harness {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	publisher := progress.NewPublisher()
	invoker := retry.NewInvoker(breaker.NewSet(100, time.Minute), nil)

	stages := make([]pipeline.Stage, len(stubs))
	for i, s := range stubs {
		stages[i] = s
	}
	orch, err := New(cfg, store, publisher, invoker, stages, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return &harness{orch: orch, store: store, publisher: publisher, cfg: cfg}
}

func TestExecuteCompletesAllStages(t *testing.T) {
	stubs := threeStubs()
	h := newHarness(t, stubs)
	r := testsupport.NewRun(t, h.store, "run-1", run.Input{MediaPath: "/m.mp4", TargetLang: "es"})

	h.orch.Execute(context.Background(), r)

	stored, err := h.store.GetRun(context.Background(), "run-1")
	if err != nil {
		t.Fatal(err)
	}
	if stored.Status != run.StatusCompleted {
		t.Fatalf("status = %s, want completed (%s: %s)", stored.Status, stored.ErrorKind, stored.ErrorMessage)
	}
	for _, s := range stubs {
		if s.executed.Load() != 1 {
			t.Errorf("stage %s executed %d times, want 1", s.def.Name, s.executed.Load())
		}
	}

	checkpoints, err := h.store.Checkpoints(context.Background(), "run-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(checkpoints) != 3 {
		t.Errorf("got %d checkpoints, want 3", len(checkpoints))
	}

	snap, err := h.publisher.Query("run-1")
	if err != nil {
		t.Fatal(err)
	}
	if snap.PercentComplete != 100 || snap.Status != run.StatusCompleted {
		t.Errorf("snapshot = %+v, want 100%% completed", snap)
	}
}

func TestResumeSkipsCheckpointedStages(t *testing.T) {
	stubs := threeStubs()
	h := newHarness(t, stubs)
	r := testsupport.NewRun(t, h.store, "run-1", run.Input{MediaPath: "/m.mp4"})

	ctx := context.Background()
	if err := h.store.SaveCheckpoint(ctx, "run-1", 0, "alpha", json.RawMessage(`{"stage":0}`)); err != nil {
		t.Fatal(err)
	}
	if err := h.store.SaveCheckpoint(ctx, "run-1", 1, "beta", json.RawMessage(`{"stage":1}`)); err != nil {
		t.Fatal(err)
	}
	r.Status = run.StatusRunning
	r.CurrentStage = 2
	if err := h.store.UpdateRun(ctx, r); err != nil {
		t.Fatal(err)
	}

	h.orch.Execute(ctx, r)

	if n := stubs[0].executed.Load(); n != 0 {
		t.Errorf("alpha executed %d times after resume, want 0", n)
	}
	if n := stubs[1].executed.Load(); n != 0 {
		t.Errorf("beta executed %d times after resume, want 0", n)
	}
	if n := stubs[2].executed.Load(); n != 1 {
		t.Errorf("gamma executed %d times, want 1", n)
	}
	if stubs[0].restored.Load() != 1 || stubs[1].restored.Load() != 1 {
		t.Error("checkpointed stages were not restored")
	}

	stored, _ := h.store.GetRun(ctx, "run-1")
	if stored.Status != run.StatusCompleted {
		t.Errorf("status = %s, want completed", stored.Status)
	}
}

func TestResumeOfCompletedPrefixIsIdempotent(t *testing.T) {
	stubs := threeStubs()
	h := newHarness(t, stubs)
	r := testsupport.NewRun(t, h.store, "run-1", run.Input{MediaPath: "/m.mp4"})

	ctx := context.Background()
	h.orch.Execute(ctx, r)
	first, err := h.store.Checkpoints(ctx, "run-1")
	if err != nil {
		t.Fatal(err)
	}

	// Executing again must replay, not re-run: no stage executes twice and
	// the checkpoint payloads are untouched.
	stored, _ := h.store.GetRun(ctx, "run-1")
	h.orch.Execute(ctx, stored)

	for _, s := range stubs {
		if s.executed.Load() != 1 {
			t.Errorf("stage %s executed %d times across resume, want 1", s.def.Name, s.executed.Load())
		}
	}
	second, err := h.store.Checkpoints(ctx, "run-1")
	if err != nil {
		t.Fatal(err)
	}
	for i := range first {
		if string(first[i].Payload) != string(second[i].Payload) {
			t.Errorf("checkpoint %d payload changed on resume", i)
		}
	}
}

func TestTransientFailureRetriesExactlyMaxAttempts(t *testing.T) {
	stubs := threeStubs()
	stubs[1].def.MaxAttempts = 3
	stubs[1].execute = func(ctx context.Context, st *pipeline.State) (json.RawMessage, error) {
		return nil, services.Wrap(services.ErrTransient, "beta", "execute", "flaky", nil)
	}
	h := newHarness(t, stubs)
	r := testsupport.NewRun(t, h.store, "run-1", run.Input{MediaPath: "/m.mp4"})

	h.orch.Execute(context.Background(), r)

	if n := stubs[1].executed.Load(); n != 3 {
		t.Errorf("beta executed %d times, want exactly 3", n)
	}
	stored, _ := h.store.GetRun(context.Background(), "run-1")
	if stored.Status != run.StatusFailed {
		t.Errorf("status = %s, want failed", stored.Status)
	}
	if stored.ErrorKind != string(services.KindTransient) {
		t.Errorf("error kind = %s, want transient", stored.ErrorKind)
	}

	// The checkpoint prefix before the failing stage survives.
	checkpoints, _ := h.store.Checkpoints(context.Background(), "run-1")
	if len(checkpoints) != 1 {
		t.Errorf("got %d checkpoints, want 1", len(checkpoints))
	}
}

func TestPermanentFailureDoesNotRetry(t *testing.T) {
	stubs := threeStubs()
	stubs[0].def.MaxAttempts = 5
	stubs[0].execute = func(ctx context.Context, st *pipeline.State) (json.RawMessage, error) {
		return nil, services.Wrap(services.ErrPermanent, "alpha", "execute", "bad input", nil)
	}
	h := newHarness(t, stubs)
	r := testsupport.NewRun(t, h.store, "run-1", run.Input{MediaPath: "/m.mp4"})

	h.orch.Execute(context.Background(), r)

	if n := stubs[0].executed.Load(); n != 1 {
		t.Errorf("alpha executed %d times, want 1", n)
	}
	stored, _ := h.store.GetRun(context.Background(), "run-1")
	if stored.Status != run.StatusFailed || stored.ErrorKind != string(services.KindPermanent) {
		t.Errorf("run = %s/%s, want failed/permanent", stored.Status, stored.ErrorKind)
	}
	if stubs[1].executed.Load() != 0 {
		t.Error("later stage ran after a permanent failure")
	}
}

func TestCancelMidStageKeepsPriorCheckpoints(t *testing.T) {
	stubs := threeStubs()
	entered := make(chan struct{})
	stubs[1].execute = func(ctx context.Context, st *pipeline.State) (json.RawMessage, error) {
		close(entered)
		<-ctx.Done()
		return nil, ctx.Err()
	}
	h := newHarness(t, stubs)
	r := testsupport.NewRun(t, h.store, "run-1", run.Input{MediaPath: "/m.mp4"})

	h.orch.Launch(context.Background(), r)
	<-entered
	if err := h.orch.Cancel("run-1"); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	h.orch.Wait()

	stored, _ := h.store.GetRun(context.Background(), "run-1")
	if stored.Status != run.StatusCancelled {
		t.Fatalf("status = %s, want cancelled", stored.Status)
	}
	checkpoints, _ := h.store.Checkpoints(context.Background(), "run-1")
	if len(checkpoints) != 1 {
		t.Errorf("got %d checkpoints, want the pre-cancel prefix of 1", len(checkpoints))
	}
	if stubs[2].executed.Load() != 0 {
		t.Error("stage after cancellation point executed")
	}
}

func TestCancelUnknownRun(t *testing.T) {
	h := newHarness(t, threeStubs())
	if err := h.orch.Cancel("missing"); services.KindOf(err) != services.KindNotFound {
		t.Fatalf("err = %v, want not found", err)
	}
}

func TestShutdownLeavesRunResumable(t *testing.T) {
	stubs := threeStubs()
	entered := make(chan struct{})
	stubs[1].execute = func(ctx context.Context, st *pipeline.State) (json.RawMessage, error) {
		close(entered)
		<-ctx.Done()
		return nil, ctx.Err()
	}
	h := newHarness(t, stubs)
	r := testsupport.NewRun(t, h.store, "run-1", run.Input{MediaPath: "/m.mp4"})

	ctx, cancel := context.WithCancel(context.Background())
	h.orch.Launch(ctx, r)
	<-entered
	cancel()
	h.orch.Wait()

	stored, _ := h.store.GetRun(context.Background(), "run-1")
	if stored.Status != run.StatusRunning {
		t.Fatalf("status = %s, want running so the next startup resumes it", stored.Status)
	}
}

func TestShutdownDuringRestoreLeavesRunResumable(t *testing.T) {
	stubs := threeStubs()
	h := newHarness(t, stubs)
	r := testsupport.NewRun(t, h.store, "run-1", run.Input{MediaPath: "/m.mp4"})

	if err := h.store.SaveCheckpoint(context.Background(), "run-1", 0, "alpha", json.RawMessage(`{"stage":0}`)); err != nil {
		t.Fatal(err)
	}

	// Cancellation that lands before the first stage must interrupt the
	// run, not fail it.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	h.orch.Execute(ctx, r)

	stored, err := h.store.GetRun(context.Background(), "run-1")
	if err != nil {
		t.Fatal(err)
	}
	if stored.Status != run.StatusRunning {
		t.Errorf("status = %s, want running so the next startup resumes it", stored.Status)
	}
	for _, s := range stubs {
		if s.executed.Load() != 0 {
			t.Errorf("stage %s executed under a cancelled context", s.def.Name)
		}
	}
	checkpoints, _ := h.store.Checkpoints(context.Background(), "run-1")
	if len(checkpoints) != 1 {
		t.Errorf("got %d checkpoints, want the committed one preserved", len(checkpoints))
	}
}

func TestResumeActiveRelaunchesStoredRuns(t *testing.T) {
	stubs := threeStubs()
	h := newHarness(t, stubs)
	r := testsupport.NewRun(t, h.store, "run-1", run.Input{MediaPath: "/m.mp4"})
	r.Status = run.StatusRunning
	if err := h.store.UpdateRun(context.Background(), r); err != nil {
		t.Fatal(err)
	}

	if err := h.orch.ResumeActive(context.Background()); err != nil {
		t.Fatalf("ResumeActive: %v", err)
	}
	h.orch.Wait()

	stored, _ := h.store.GetRun(context.Background(), "run-1")
	if stored.Status != run.StatusCompleted {
		t.Errorf("status = %s, want completed", stored.Status)
	}
}

func TestCheckpointStageMismatchFailsRun(t *testing.T) {
	stubs := threeStubs()
	h := newHarness(t, stubs)
	r := testsupport.NewRun(t, h.store, "run-1", run.Input{MediaPath: "/m.mp4"})

	ctx := context.Background()
	if err := h.store.SaveCheckpoint(ctx, "run-1", 0, "renamed-stage", json.RawMessage(`{}`)); err != nil {
		t.Fatal(err)
	}

	h.orch.Execute(ctx, r)

	stored, _ := h.store.GetRun(ctx, "run-1")
	if stored.Status != run.StatusFailed || stored.ErrorKind != string(services.KindConflict) {
		t.Errorf("run = %s/%s, want failed/conflict", stored.Status, stored.ErrorKind)
	}
	if stubs[0].executed.Load() != 0 {
		t.Error("stage executed despite conflicting checkpoint")
	}
}

func TestConcurrencyLimitHonored(t *testing.T) {
	stubs := threeStubs()
	var active, peak atomic.Int32
	stubs[0].execute = func(ctx context.Context, st *pipeline.State) (json.RawMessage, error) {
		n := active.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		active.Add(-1)
		return json.RawMessage(`{"stage":0}`), nil
	}
	h := newHarness(t, stubs)
	h.cfg.Workflow.MaxConcurrentRuns = 1

	orch, err := New(h.cfg, h.store, h.publisher, retry.NewInvoker(breaker.NewSet(100, time.Minute), nil), []pipeline.Stage{stubs[0], stubs[1], stubs[2]}, nil)
	if err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 3; i++ {
		r := testsupport.NewRun(t, h.store, fmt.Sprintf("run-%d", i), run.Input{MediaPath: "/m.mp4"})
		orch.Launch(context.Background(), r)
	}
	orch.Wait()

	if peak.Load() != 1 {
		t.Errorf("peak concurrency = %d, want 1", peak.Load())
	}
}

func TestProgressNeverRegressesAcrossRetries(t *testing.T) {
	stubs := threeStubs()
	h := newHarness(t, stubs)
	r := testsupport.NewRun(t, h.store, "run-1", run.Input{MediaPath: "/m.mp4"})

	ctx := context.Background()
	if err := h.store.SaveCheckpoint(ctx, "run-1", 0, "alpha", json.RawMessage(`{"stage":0}`)); err != nil {
		t.Fatal(err)
	}
	r.CurrentStage = 1
	h.orch.Execute(ctx, r)

	snap, err := h.publisher.Query("run-1")
	if err != nil {
		t.Fatal(err)
	}
	if snap.PercentComplete != 100 {
		t.Errorf("final percent = %v, want 100", snap.PercentComplete)
	}
}

func TestBuildStagesTopology(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	stages := BuildStages(cfg, nil)
	if err := pipeline.Validate(stages); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	wantNames := []string{
		pipeline.StageExtractAudio,
		pipeline.StageTranscribe,
		pipeline.StageTranslate,
		pipeline.StageSummarize,
		pipeline.StageSubtitles,
		pipeline.StageMuxVideo,
		pipeline.StagePersistArtifacts,
	}
	if len(stages) != len(wantNames) {
		t.Fatalf("got %d stages, want %d", len(stages), len(wantNames))
	}
	for i, want := range wantNames {
		if got := stages[i].Definition().Name; got != want {
			t.Errorf("stage %d = %s, want %s", i, got, want)
		}
	}
}
