package daemon

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/mortdiggiddy/video-translator/internal/api"
	"github.com/mortdiggiddy/video-translator/internal/config"
	"github.com/mortdiggiddy/video-translator/internal/testsupport"
)

// startDaemon brings up a full daemon on an ephemeral port. The ffmpeg and
// ffprobe binaries are shell fakes so pipeline stages run without real media
// tools; the OpenAI endpoint is unreachable, which only matters to tests
// that drive a run through the transcription stage.
func startDaemon(t *testing.T, mutate func(*config.Config)) (*Daemon, string) {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	writeFakeTools(t, cfg)
	// Point at a closed port so inference calls fail fast instead of
	// reaching the real backend.
	cfg.OpenAI.BaseURL = "http://127.0.0.1:1"
	if mutate != nil {
		mutate(cfg)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatal(err)
	}
	store := testsupport.MustOpenStore(t, cfg)

	d, err := New(cfg, store, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	if err := d.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() {
		cancel()
		d.Stop()
	})
	return d, "http://" + d.Addr()
}

func writeFakeTools(t *testing.T, cfg *config.Config) {
	t.Helper()
	dir := t.TempDir()
	probe := filepath.Join(dir, "ffprobe")
	if err := os.WriteFile(probe, []byte("#!/bin/sh\necho 10\n"), 0o755); err != nil {
		t.Fatal(err)
	}
	ffmpeg := filepath.Join(dir, "ffmpeg")
	if err := os.WriteFile(ffmpeg, []byte("#!/bin/sh\nfor last; do :; done\n: > \"$last\"\n"), 0o755); err != nil {
		t.Fatal(err)
	}
	cfg.FFmpeg.Binary = ffmpeg
	cfg.FFmpeg.ProbeBinary = probe
}

func TestDaemonSingletonLock(t *testing.T) {
	d, _ := startDaemon(t, nil)

	second, err := New(d.cfg, d.store, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := second.Start(context.Background()); err == nil {
		second.Stop()
		t.Fatal("second daemon acquired the lock")
	}
}

func TestStatusEndpoint(t *testing.T) {
	_, base := startDaemon(t, nil)

	resp, err := http.Get(base + "/api/status")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var status api.StatusView
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		t.Fatal(err)
	}
	if !status.Running {
		t.Error("daemon not reported running")
	}
}

func TestStartRunEndpointValidation(t *testing.T) {
	_, base := startDaemon(t, nil)

	body, _ := json.Marshal(api.StartRunRequest{MediaPath: "/no/such/file.mp4", TargetLang: "es"})
	resp, err := http.Post(base+"/api/runs", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
	var apiErr api.ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiErr); err != nil {
		t.Fatal(err)
	}
	if apiErr.Kind != "permanent" {
		t.Errorf("kind = %q, want permanent", apiErr.Kind)
	}
}

func TestGetUnknownRunReturns404(t *testing.T) {
	_, base := startDaemon(t, nil)

	resp, err := http.Get(base + "/api/runs/missing")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

func TestPruneEndpointWithNothingToRemove(t *testing.T) {
	_, base := startDaemon(t, nil)

	resp, err := http.Post(base+"/api/prune", "application/json", nil)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var result api.PruneResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		t.Fatal(err)
	}
	if result.Removed != 0 {
		t.Errorf("removed = %d, want 0", result.Removed)
	}
}

func TestRunLifecycleOverAPI(t *testing.T) {
	_, base := startDaemon(t, nil)

	mediaPath := filepath.Join(t.TempDir(), "talk.mp4")
	if err := os.WriteFile(mediaPath, []byte("media"), 0o644); err != nil {
		t.Fatal(err)
	}

	body, _ := json.Marshal(api.StartRunRequest{MediaPath: mediaPath, TargetLang: "es"})
	resp, err := http.Post(base+"/api/runs", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want 201", resp.StatusCode)
	}
	var created api.RunView
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		t.Fatal(err)
	}
	if created.ID == "" || created.TargetLang != "es" {
		t.Fatalf("unexpected run view %+v", created)
	}

	// The run fails in transcription (no API backend), then becomes
	// observable as a terminal run over the API.
	deadline := time.Now().Add(15 * time.Second)
	for {
		listResp, err := http.Get(base + "/api/runs/" + created.ID)
		if err != nil {
			t.Fatal(err)
		}
		var view api.RunView
		if err := json.NewDecoder(listResp.Body).Decode(&view); err != nil {
			t.Fatal(err)
		}
		listResp.Body.Close()
		if view.Status == "failed" {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("run did not reach a terminal status, last view %+v", view)
		}
		time.Sleep(50 * time.Millisecond)
	}

	progResp, err := http.Get(base + fmt.Sprintf("/api/runs/%s/progress", created.ID))
	if err != nil {
		t.Fatal(err)
	}
	defer progResp.Body.Close()
	var prog api.ProgressView
	if err := json.NewDecoder(progResp.Body).Decode(&prog); err != nil {
		t.Fatal(err)
	}
	if prog.Status != "failed" || prog.PercentComplete < 10 {
		t.Errorf("progress = %+v, want failed at >= 10%% (extraction checkpointed)", prog)
	}
}

func TestBearerAuth(t *testing.T) {
	_, base := startDaemon(t, func(cfg *config.Config) {
		cfg.APIToken = "secret"
	})

	resp, err := http.Get(base + "/api/status")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("unauthenticated status = %d, want 401", resp.StatusCode)
	}

	req, _ := http.NewRequest(http.MethodGet, base+"/api/status", nil)
	req.Header.Set("Authorization", "Bearer secret")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("authenticated status = %d, want 200", resp.StatusCode)
	}
}
