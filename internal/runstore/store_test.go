package runstore_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/mortdiggiddy/video-translator/internal/run"
	"github.com/mortdiggiddy/video-translator/internal/services"
	"github.com/mortdiggiddy/video-translator/internal/testsupport"
)

func TestCreateAndGetRun(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	input := run.Input{MediaPath: "/media/talk.mp4", TargetLang: "es", TargetDisplay: "Spanish"}
	created := testsupport.NewRun(t, store, "talk-es-abc123", input)

	fetched, err := store.GetRun(ctx, created.ID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if fetched.Input.TargetLang != "es" || fetched.Status != run.StatusPending {
		t.Fatalf("unexpected run %+v", fetched)
	}
	if fetched.CreatedAt.IsZero() || fetched.UpdatedAt.IsZero() {
		t.Fatal("timestamps not persisted")
	}
}

func TestGetRunNotFound(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	_, err := store.GetRun(context.Background(), "missing")
	if !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not-found, got %v", err)
	}
}

func TestUpdateRunPersistsResult(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	r := testsupport.NewRun(t, store, "talk-es-def456", run.Input{MediaPath: "/m.mp4", TargetLang: "es"})
	r.Status = run.StatusCompleted
	r.CurrentStage = 7
	r.Result = &run.Result{ArtifactsDir: "/artifacts/talk", Summary: "short", KeyPoints: []string{"a", "b"}}
	if err := store.UpdateRun(ctx, r); err != nil {
		t.Fatalf("UpdateRun: %v", err)
	}

	fetched, err := store.GetRun(ctx, r.ID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if fetched.Result == nil || len(fetched.Result.KeyPoints) != 2 {
		t.Fatalf("result not round-tripped: %+v", fetched.Result)
	}
	if fetched.Status != run.StatusCompleted {
		t.Fatalf("unexpected status %s", fetched.Status)
	}
}

func TestUpdateUnknownRun(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ghost := &run.Run{ID: "ghost", Status: run.StatusRunning}
	if err := store.UpdateRun(context.Background(), ghost); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not-found, got %v", err)
	}
}

func TestListActiveOrdersBySubmission(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	first := testsupport.NewRun(t, store, "first-es-000001", run.Input{MediaPath: "/a.mp4", TargetLang: "es"})
	second := testsupport.NewRun(t, store, "second-es-000002", run.Input{MediaPath: "/b.mp4", TargetLang: "es"})
	done := testsupport.NewRun(t, store, "done-es-000003", run.Input{MediaPath: "/c.mp4", TargetLang: "es"})
	done.Status = run.StatusCompleted
	if err := store.UpdateRun(ctx, done); err != nil {
		t.Fatalf("UpdateRun: %v", err)
	}

	active, err := store.ListActive(ctx)
	if err != nil {
		t.Fatalf("ListActive: %v", err)
	}
	if len(active) != 2 || active[0].ID != first.ID || active[1].ID != second.ID {
		ids := make([]string, 0, len(active))
		for _, r := range active {
			ids = append(ids, r.ID)
		}
		t.Fatalf("unexpected active runs %v", ids)
	}
}

func TestSaveCheckpointIdempotent(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()
	r := testsupport.NewRun(t, store, "cp-es-000001", run.Input{MediaPath: "/a.mp4", TargetLang: "es"})

	payload := json.RawMessage(`{"audio_path":"/work/a.wav","duration":12.5}`)
	if err := store.SaveCheckpoint(ctx, r.ID, 0, "extract_audio", payload); err != nil {
		t.Fatalf("first save: %v", err)
	}
	// Same payload again is a safe no-op (crash between checkpoint and publish).
	if err := store.SaveCheckpoint(ctx, r.ID, 0, "extract_audio", payload); err != nil {
		t.Fatalf("idempotent save: %v", err)
	}
	// Field order must not matter.
	reordered := json.RawMessage(`{"duration":12.5,"audio_path":"/work/a.wav"}`)
	if err := store.SaveCheckpoint(ctx, r.ID, 0, "extract_audio", reordered); err != nil {
		t.Fatalf("reordered save: %v", err)
	}
}

func TestSaveCheckpointConflict(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()
	r := testsupport.NewRun(t, store, "cp-es-000002", run.Input{MediaPath: "/a.mp4", TargetLang: "es"})

	if err := store.SaveCheckpoint(ctx, r.ID, 0, "extract_audio", json.RawMessage(`{"v":1}`)); err != nil {
		t.Fatalf("save: %v", err)
	}
	err := store.SaveCheckpoint(ctx, r.ID, 0, "extract_audio", json.RawMessage(`{"v":2}`))
	if !errors.Is(err, services.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestSaveCheckpointEnforcesContiguity(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()
	r := testsupport.NewRun(t, store, "cp-es-000003", run.Input{MediaPath: "/a.mp4", TargetLang: "es"})

	err := store.SaveCheckpoint(ctx, r.ID, 2, "translate", json.RawMessage(`{}`))
	if !errors.Is(err, services.ErrConflict) {
		t.Fatalf("expected conflict for gap, got %v", err)
	}
}

func TestCheckpointsOrderedAndPurgeable(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()
	r := testsupport.NewRun(t, store, "cp-es-000004", run.Input{MediaPath: "/a.mp4", TargetLang: "es"})

	for i, name := range []string{"extract_audio", "transcribe", "translate"} {
		payload := json.RawMessage(fmt.Sprintf(`{"ordinal":%d}`, i))
		if err := store.SaveCheckpoint(ctx, r.ID, i, name, payload); err != nil {
			t.Fatalf("save %d: %v", i, err)
		}
	}

	checkpoints, err := store.Checkpoints(ctx, r.ID)
	if err != nil {
		t.Fatalf("Checkpoints: %v", err)
	}
	if len(checkpoints) != 3 {
		t.Fatalf("expected 3 checkpoints, got %d", len(checkpoints))
	}
	for i, cp := range checkpoints {
		if cp.Ordinal != i {
			t.Fatalf("checkpoint %d has ordinal %d", i, cp.Ordinal)
		}
	}
	if checkpoints[1].StageName != "transcribe" {
		t.Fatalf("unexpected stage name %q", checkpoints[1].StageName)
	}

	if err := store.PurgeCheckpoints(ctx, r.ID); err != nil {
		t.Fatalf("PurgeCheckpoints: %v", err)
	}
	checkpoints, err = store.Checkpoints(ctx, r.ID)
	if err != nil {
		t.Fatalf("Checkpoints after purge: %v", err)
	}
	if len(checkpoints) != 0 {
		t.Fatalf("expected purge to remove checkpoints, got %d", len(checkpoints))
	}
}

func TestStats(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	testsupport.NewRun(t, store, "s1-es-000001", run.Input{MediaPath: "/a.mp4", TargetLang: "es"})
	r := testsupport.NewRun(t, store, "s2-es-000002", run.Input{MediaPath: "/b.mp4", TargetLang: "es"})
	r.Status = run.StatusFailed
	if err := store.UpdateRun(ctx, r); err != nil {
		t.Fatalf("UpdateRun: %v", err)
	}

	stats, err := store.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats[run.StatusPending] != 1 || stats[run.StatusFailed] != 1 {
		t.Fatalf("unexpected stats %v", stats)
	}
}
