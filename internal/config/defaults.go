package config

const (
	defaultArtifactsDir           = "~/.local/share/video-translator/artifacts"
	defaultWorkDir                = "~/.local/share/video-translator/work"
	defaultLogDir                 = "~/.local/share/video-translator/logs"
	defaultAPIBind                = "127.0.0.1:7519"
	defaultOpenAIBaseURL          = "https://api.openai.com/v1"
	defaultWhisperModel           = "whisper-1"
	defaultChatModel              = "gpt-4o-mini"
	defaultOpenAITimeoutSeconds   = 300
	defaultChunkWindowSeconds     = 600
	defaultFFmpegBinary           = "ffmpeg"
	defaultFFprobeBinary          = "ffprobe"
	defaultMaxConcurrentRuns      = 2
	defaultBreakerThreshold       = 5
	defaultBreakerCooldownSeconds = 60
	defaultLogLevel               = "info"
	defaultLogFormat              = "console"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			ArtifactsDir: defaultArtifactsDir,
			WorkDir:      defaultWorkDir,
			LogDir:       defaultLogDir,
			APIBind:      defaultAPIBind,
		},
		OpenAI: OpenAI{
			BaseURL:            defaultOpenAIBaseURL,
			WhisperModel:       defaultWhisperModel,
			ChatModel:          defaultChatModel,
			TimeoutSeconds:     defaultOpenAITimeoutSeconds,
			ChunkWindowSeconds: defaultChunkWindowSeconds,
		},
		FFmpeg: FFmpeg{
			Binary:      defaultFFmpegBinary,
			ProbeBinary: defaultFFprobeBinary,
		},
		Workflow: Workflow{
			MaxConcurrentRuns: defaultMaxConcurrentRuns,
		},
		Breaker: Breaker{
			FailureThreshold: defaultBreakerThreshold,
			CooldownSeconds:  defaultBreakerCooldownSeconds,
		},
		Logging: Logging{
			Level:  defaultLogLevel,
			Format: defaultLogFormat,
		},
	}
}
