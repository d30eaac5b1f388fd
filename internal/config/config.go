package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory and bind address configuration.
type Paths struct {
	ArtifactsDir string `toml:"artifacts_dir"`
	WorkDir      string `toml:"work_dir"`
	LogDir       string `toml:"log_dir"`
	APIBind      string `toml:"api_bind"`
	APIToken     string `toml:"api_token"`
}

// OpenAI contains connection settings for the hosted inference APIs.
type OpenAI struct {
	APIKey             string `toml:"api_key"`
	BaseURL            string `toml:"base_url"`
	WhisperModel       string `toml:"whisper_model"`
	ChatModel          string `toml:"chat_model"`
	TimeoutSeconds     int    `toml:"timeout_seconds"`
	ChunkWindowSeconds int    `toml:"chunk_window_seconds"`
}

// FFmpeg contains transcoder binary locations.
type FFmpeg struct {
	Binary        string `toml:"binary"`
	ProbeBinary   string `toml:"probe_binary"`
	AudioBitrate  string `toml:"audio_bitrate"`
	VideoEncoder  string `toml:"video_encoder"`
	SubtitleStyle string `toml:"subtitle_style"`
}

// Workflow contains orchestration limits and intervals.
type Workflow struct {
	MaxConcurrentRuns int `toml:"max_concurrent_runs"`
	// Stage attempt/backoff knobs apply uniformly on top of the per-stage
	// compiled defaults; zero means keep the default.
	MaxAttemptsOverride int `toml:"max_attempts_override"`
}

// Breaker contains circuit-breaker thresholds shared across runs.
type Breaker struct {
	FailureThreshold int `toml:"failure_threshold"`
	CooldownSeconds  int `toml:"cooldown_seconds"`
}

// Logging contains log output configuration.
type Logging struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// Config is the root configuration document.
type Config struct {
	Paths    `toml:"paths"`
	OpenAI   OpenAI   `toml:"openai"`
	FFmpeg   FFmpeg   `toml:"ffmpeg"`
	Workflow Workflow `toml:"workflow"`
	Breaker  Breaker  `toml:"breaker"`
	Logging  Logging  `toml:"logging"`
}

// DefaultConfigPath returns the standard config file location.
func DefaultConfigPath() string {
	return "~/.config/video-translator/config.toml"
}

// Load reads configuration from path (or the default location when empty),
// normalizes it, and validates it. The second return value is the resolved
// path that was consulted; a missing file yields defaults without error.
func Load(path string) (*Config, string, error) {
	resolved := strings.TrimSpace(path)
	if resolved == "" {
		resolved = DefaultConfigPath()
	}
	resolved = ExpandPath(resolved)

	cfg := Default()
	data, err := os.ReadFile(resolved)
	switch {
	case err == nil:
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return nil, resolved, fmt.Errorf("parse config %s: %w", resolved, err)
		}
	case errors.Is(err, fs.ErrNotExist):
		// Defaults apply when no config file exists.
	default:
		return nil, resolved, fmt.Errorf("read config %s: %w", resolved, err)
	}

	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, resolved, err
	}
	return &cfg, resolved, nil
}

// WriteSample writes the embedded sample configuration to path.
func WriteSample(path string) error {
	path = ExpandPath(path)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}
	return os.WriteFile(path, []byte(sampleConfig), 0o644)
}

// EnsureDirectories creates the directories the daemon writes into.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.ArtifactsDir, c.WorkDir, c.LogDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	return nil
}

// ExpandPath resolves a leading ~ against the current user's home directory.
func ExpandPath(path string) string {
	path = strings.TrimSpace(path)
	if path == "" || !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	if path == "~" {
		return home
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~/"))
}

func (c *Config) normalize() {
	c.ArtifactsDir = ExpandPath(c.ArtifactsDir)
	c.WorkDir = ExpandPath(c.WorkDir)
	c.LogDir = ExpandPath(c.LogDir)
	c.OpenAI.BaseURL = strings.TrimRight(strings.TrimSpace(c.OpenAI.BaseURL), "/")
	if c.FFmpeg.Binary == "" {
		c.FFmpeg.Binary = defaultFFmpegBinary
	}
	if c.FFmpeg.ProbeBinary == "" {
		c.FFmpeg.ProbeBinary = defaultFFprobeBinary
	}
	if c.Workflow.MaxConcurrentRuns <= 0 {
		c.Workflow.MaxConcurrentRuns = defaultMaxConcurrentRuns
	}
	if c.Breaker.FailureThreshold <= 0 {
		c.Breaker.FailureThreshold = defaultBreakerThreshold
	}
	if c.Breaker.CooldownSeconds <= 0 {
		c.Breaker.CooldownSeconds = defaultBreakerCooldownSeconds
	}
	if c.OpenAI.ChunkWindowSeconds <= 0 {
		c.OpenAI.ChunkWindowSeconds = defaultChunkWindowSeconds
	}
	if c.OpenAI.TimeoutSeconds <= 0 {
		c.OpenAI.TimeoutSeconds = defaultOpenAITimeoutSeconds
	}
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
}

// Validate reports configuration problems that prevent the daemon from
// starting.
func (c *Config) Validate() error {
	var problems []string
	if strings.TrimSpace(c.ArtifactsDir) == "" {
		problems = append(problems, "paths.artifacts_dir must be set")
	}
	if strings.TrimSpace(c.WorkDir) == "" {
		problems = append(problems, "paths.work_dir must be set")
	}
	if strings.TrimSpace(c.LogDir) == "" {
		problems = append(problems, "paths.log_dir must be set")
	}
	switch strings.ToLower(strings.TrimSpace(c.Logging.Format)) {
	case "console", "json":
	default:
		problems = append(problems, fmt.Sprintf("logging.format %q is not one of console, json", c.Logging.Format))
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}
