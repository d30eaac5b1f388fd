package orchestrator

import (
	"log/slog"

	"github.com/mortdiggiddy/video-translator/internal/artifacts"
	"github.com/mortdiggiddy/video-translator/internal/config"
	"github.com/mortdiggiddy/video-translator/internal/extraction"
	"github.com/mortdiggiddy/video-translator/internal/media"
	"github.com/mortdiggiddy/video-translator/internal/muxing"
	"github.com/mortdiggiddy/video-translator/internal/pipeline"
	"github.com/mortdiggiddy/video-translator/internal/services/openai"
	"github.com/mortdiggiddy/video-translator/internal/subtitles"
	"github.com/mortdiggiddy/video-translator/internal/summary"
	"github.com/mortdiggiddy/video-translator/internal/transcription"
	"github.com/mortdiggiddy/video-translator/internal/translation"
)

// BuildStages wires the fixed stage sequence with its shared collaborators.
// The returned slice is ordered by ordinal.
func BuildStages(cfg *config.Config, logger *slog.Logger) []pipeline.Stage {
	runner := media.NewRunner(cfg.FFmpeg, logger)
	client := openai.NewClient(cfg.OpenAI)
	return []pipeline.Stage{
		extraction.NewExtractor(runner, logger),
		transcription.NewTranscriber(cfg.OpenAI, client, runner, logger),
		translation.NewTranslator(client, logger),
		summary.NewSummarizer(client, logger),
		subtitles.NewGenerator(logger),
		muxing.NewMuxer(runner, logger),
		artifacts.NewPersister(cfg.Paths, logger),
	}
}
