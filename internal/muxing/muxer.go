// Package muxing implements the mux_video stage: attaching the generated
// subtitles to the source video, either as a soft subtitle track or burned
// into the picture. Runs that did not request video output still checkpoint a
// skipped result so the checkpoint sequence stays contiguous.
package muxing

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/mortdiggiddy/video-translator/internal/logging"
	"github.com/mortdiggiddy/video-translator/internal/media"
	"github.com/mortdiggiddy/video-translator/internal/pipeline"
	"github.com/mortdiggiddy/video-translator/internal/services"
)

// Muxer runs ffmpeg to combine video and subtitles.
type Muxer struct {
	runner *media.Runner
	logger *slog.Logger
}

// NewMuxer constructs the stage.
func NewMuxer(runner *media.Runner, logger *slog.Logger) *Muxer {
	return &Muxer{
		runner: runner,
		logger: logging.WithComponent(logger, "muxing"),
	}
}

func (m *Muxer) Definition() pipeline.Definition {
	return pipeline.Definition{
		Name:           pipeline.StageMuxVideo,
		Ordinal:        5,
		Dependency:     pipeline.DepFFmpeg,
		Timeout:        30 * time.Minute,
		MaxAttempts:    2,
		BackoffBase:    time.Second,
		ProgressWeight: 10,
	}
}

func (m *Muxer) Execute(ctx context.Context, st *pipeline.State) (json.RawMessage, error) {
	if !st.Input.WantVideo {
		result := pipeline.MuxResult{Skipped: true}
		st.Mux = &result
		return json.Marshal(result)
	}
	if st.Subtitles == nil {
		return nil, services.Wrap(services.ErrConflict, pipeline.StageMuxVideo, "execute", "missing subtitles", nil)
	}

	hasVideo, err := m.runner.HasVideoStream(ctx, st.Input.MediaPath)
	if err != nil {
		return nil, err
	}
	if !hasVideo {
		return nil, services.Wrap(services.ErrPermanent, pipeline.StageMuxVideo, "execute", "source media has no video stream", nil)
	}

	subtitlePath := filepath.Join(st.WorkDir, "subtitles.srt")
	if err := os.WriteFile(subtitlePath, []byte(st.Subtitles.SRTContent), 0o644); err != nil {
		return nil, services.Wrap(services.ErrTransient, pipeline.StageMuxVideo, "write subtitle file", "", err)
	}
	st.AddTemp(subtitlePath)

	outputPath := filepath.Join(st.WorkDir, "translated_video.mkv")
	if st.Input.BurnInSubs {
		err = m.runner.MuxBurnIn(ctx, st.Input.MediaPath, subtitlePath, outputPath)
	} else {
		err = m.runner.MuxSoft(ctx, st.Input.MediaPath, subtitlePath, outputPath)
	}
	if err != nil {
		return nil, err
	}
	st.AddTemp(outputPath)

	result := pipeline.MuxResult{OutputPath: outputPath}
	st.Mux = &result
	m.logger.Info("video muxed",
		logging.String(logging.FieldRunID, st.RunID),
		logging.Bool("burn_in", st.Input.BurnInSubs))
	return json.Marshal(result)
}

func (m *Muxer) Restore(st *pipeline.State, payload json.RawMessage) error {
	var result pipeline.MuxResult
	if err := json.Unmarshal(payload, &result); err != nil {
		return services.Wrap(services.ErrConflict, pipeline.StageMuxVideo, "restore", "undecodable checkpoint", err)
	}
	st.Mux = &result
	return nil
}
