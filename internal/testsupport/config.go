package testsupport

import (
	"path/filepath"
	"testing"

	"github.com/mortdiggiddy/video-translator/internal/config"
)

// NewConfig produces a config seeded with unique temp directories per test.
func NewConfig(t testing.TB) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfg := config.Default()
	cfg.ArtifactsDir = filepath.Join(base, "artifacts")
	cfg.WorkDir = filepath.Join(base, "work")
	cfg.LogDir = filepath.Join(base, "logs")
	cfg.APIBind = "127.0.0.1:0"
	cfg.OpenAI.APIKey = "test"
	return &cfg
}
