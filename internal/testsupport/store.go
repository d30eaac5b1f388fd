package testsupport

import (
	"context"
	"testing"

	"github.com/mortdiggiddy/video-translator/internal/config"
	"github.com/mortdiggiddy/video-translator/internal/run"
	"github.com/mortdiggiddy/video-translator/internal/runstore"
)

// MustOpenStore opens a runstore.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *runstore.Store {
	t.Helper()

	store, err := runstore.Open(cfg)
	if err != nil {
		t.Fatalf("runstore.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// NewRun creates and persists a pending run for tests.
func NewRun(t testing.TB, store *runstore.Store, id string, input run.Input) *run.Run {
	t.Helper()

	r := &run.Run{ID: id, Input: input, Status: run.StatusPending}
	if err := store.CreateRun(context.Background(), r); err != nil {
		t.Fatalf("store.CreateRun: %v", err)
	}
	return r
}
