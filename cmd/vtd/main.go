package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"github.com/mortdiggiddy/video-translator/internal/config"
	"github.com/mortdiggiddy/video-translator/internal/daemon"
	"github.com/mortdiggiddy/video-translator/internal/logging"
	"github.com/mortdiggiddy/video-translator/internal/runstore"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, cfgPath, err := config.Load("")
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		log.Fatalf("prepare directories: %v", err)
	}

	outputs, err := logging.EnsureFileTarget(cfg.LogDir, "vtd.log", []string{"stdout"})
	if err != nil {
		log.Fatalf("prepare log file: %v", err)
	}
	logger, err := logging.New(logging.Options{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		OutputPaths: outputs,
	})
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	logger.Info("configuration loaded", logging.String("path", cfgPath))

	store, err := runstore.Open(cfg)
	if err != nil {
		logger.Error("open run store", logging.Error(err))
		return
	}

	d, err := daemon.New(cfg, store, logger)
	if err != nil {
		store.Close()
		logger.Error("create daemon", logging.Error(err))
		return
	}
	defer d.Close()

	if err := d.Start(ctx); err != nil {
		logger.Error("daemon start", logging.Error(err))
		return
	}

	<-ctx.Done()
	logger.Info("shutting down")
}
