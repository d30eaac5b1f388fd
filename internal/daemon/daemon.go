// Package daemon hosts the long-running process: singleton locking, the run
// store, the orchestrator with its resume pass, and the REST API.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"

	"github.com/mortdiggiddy/video-translator/internal/breaker"
	"github.com/mortdiggiddy/video-translator/internal/config"
	"github.com/mortdiggiddy/video-translator/internal/logging"
	"github.com/mortdiggiddy/video-translator/internal/orchestrator"
	"github.com/mortdiggiddy/video-translator/internal/progress"
	"github.com/mortdiggiddy/video-translator/internal/registry"
	"github.com/mortdiggiddy/video-translator/internal/retry"
	"github.com/mortdiggiddy/video-translator/internal/runstore"
)

// Daemon owns the orchestration runtime and enforces single-instance
// execution via a lock file.
type Daemon struct {
	cfg      *config.Config
	logger   *slog.Logger
	store    *runstore.Store
	orch     *orchestrator.Orchestrator
	registry *registry.Registry
	api      *apiServer

	lockPath string
	lock     *flock.Flock

	running atomic.Bool
	cancel  context.CancelFunc
}

// New wires the daemon's components against an opened store.
func New(cfg *config.Config, store *runstore.Store, logger *slog.Logger) (*Daemon, error) {
	if cfg == nil || store == nil {
		return nil, errors.New("daemon requires config and store")
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	breakers := breaker.NewSet(cfg.Breaker.FailureThreshold, time.Duration(cfg.Breaker.CooldownSeconds)*time.Second)
	invoker := retry.NewInvoker(breakers, logger)
	publisher := progress.NewPublisher()
	stages := orchestrator.BuildStages(cfg, logger)
	orch, err := orchestrator.New(cfg, store, publisher, invoker, stages, logger)
	if err != nil {
		return nil, err
	}
	reg := registry.New(store, orch, publisher, stages, logger)

	lockPath := filepath.Join(cfg.LogDir, "vtd.lock")
	d := &Daemon{
		cfg:      cfg,
		logger:   logging.WithComponent(logger, "daemon"),
		store:    store,
		orch:     orch,
		registry: reg,
		lockPath: lockPath,
		lock:     flock.New(lockPath),
	}
	d.api = newAPIServer(cfg, d.registry, d, logger)
	return d, nil
}

// Registry exposes the run registry for in-process callers.
func (d *Daemon) Registry() *registry.Registry { return d.registry }

// Start acquires the singleton lock, resumes interrupted runs, and serves
// the API. It returns once the daemon is accepting work.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another daemon instance is already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	d.registry.Bind(runCtx)

	if err := d.orch.ResumeActive(runCtx); err != nil {
		cancel()
		_ = d.lock.Unlock()
		return fmt.Errorf("resume active runs: %w", err)
	}
	if err := d.api.start(runCtx); err != nil {
		cancel()
		_ = d.lock.Unlock()
		return err
	}

	d.running.Store(true)
	d.logger.Info("daemon started",
		logging.String("lock", d.lockPath),
		logging.String("store", d.store.Path()))
	return nil
}

// Stop shuts down the API, waits for in-flight runs to reach a cancellation
// point, and releases the lock. Interrupted runs resume on the next start.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.api.stop()
	d.orch.Wait()
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("release daemon lock", logging.Error(err))
	}
	d.running.Store(false)
	d.logger.Info("daemon stopped")
}

// Close stops the daemon and closes the store.
func (d *Daemon) Close() error {
	d.Stop()
	return d.store.Close()
}

// Addr returns the API listen address, empty until started.
func (d *Daemon) Addr() string {
	return d.api.addr()
}
