// Package extraction implements the first pipeline stage: pulling the audio
// track out of the source media into a standalone file for transcription.
package extraction

import (
	"context"
	"encoding/json"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/mortdiggiddy/video-translator/internal/logging"
	"github.com/mortdiggiddy/video-translator/internal/media"
	"github.com/mortdiggiddy/video-translator/internal/pipeline"
	"github.com/mortdiggiddy/video-translator/internal/services"
)

// Extractor runs ffmpeg against the source media.
type Extractor struct {
	runner *media.Runner
	logger *slog.Logger
}

// NewExtractor constructs the stage.
func NewExtractor(runner *media.Runner, logger *slog.Logger) *Extractor {
	return &Extractor{
		runner: runner,
		logger: logging.WithComponent(logger, "extraction"),
	}
}

func (e *Extractor) Definition() pipeline.Definition {
	return pipeline.Definition{
		Name:           pipeline.StageExtractAudio,
		Ordinal:        0,
		Dependency:     pipeline.DepFFmpeg,
		Timeout:        10 * time.Minute,
		MaxAttempts:    2,
		BackoffBase:    time.Second,
		ProgressWeight: 10,
	}
}

func (e *Extractor) Execute(ctx context.Context, st *pipeline.State) (json.RawMessage, error) {
	duration, err := e.runner.ProbeDuration(ctx, st.Input.MediaPath)
	if err != nil {
		return nil, err
	}
	if duration <= 0 {
		return nil, services.Wrap(services.ErrPermanent, pipeline.StageExtractAudio, "probe", "media has no measurable duration", nil)
	}

	audioPath := filepath.Join(st.WorkDir, "audio.mp3")
	if err := e.runner.ExtractAudio(ctx, st.Input.MediaPath, audioPath); err != nil {
		return nil, err
	}
	st.AddTemp(audioPath)

	result := pipeline.AudioResult{
		AudioPath:       audioPath,
		MediaPath:       st.Input.MediaPath,
		DurationSeconds: duration,
	}
	st.Audio = &result
	e.logger.Info("audio extracted",
		logging.String(logging.FieldRunID, st.RunID),
		logging.Float64("duration_seconds", duration))
	return json.Marshal(result)
}

func (e *Extractor) Restore(st *pipeline.State, payload json.RawMessage) error {
	var result pipeline.AudioResult
	if err := json.Unmarshal(payload, &result); err != nil {
		return services.Wrap(services.ErrConflict, pipeline.StageExtractAudio, "restore", "undecodable checkpoint", err)
	}
	st.Audio = &result
	return nil
}
