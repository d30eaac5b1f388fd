// Package transcription implements the transcribe stage. Long audio is split
// into bounded windows before upload so a single request never exceeds the
// API's size limit; per-window segments are re-offset into source-media time
// and merged.
package transcription

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/mortdiggiddy/video-translator/internal/config"
	"github.com/mortdiggiddy/video-translator/internal/logging"
	"github.com/mortdiggiddy/video-translator/internal/media"
	"github.com/mortdiggiddy/video-translator/internal/pipeline"
	"github.com/mortdiggiddy/video-translator/internal/retry"
	"github.com/mortdiggiddy/video-translator/internal/services"
	"github.com/mortdiggiddy/video-translator/internal/services/openai"
)

// Transcriber runs speech-to-text over the extracted audio.
type Transcriber struct {
	client        *openai.Client
	runner        *media.Runner
	windowSeconds float64
	logger        *slog.Logger
}

// NewTranscriber constructs the stage. The chunk window comes from the OpenAI
// configuration; values at or below zero disable chunking.
func NewTranscriber(cfg config.OpenAI, client *openai.Client, runner *media.Runner, logger *slog.Logger) *Transcriber {
	return &Transcriber{
		client:        client,
		runner:        runner,
		windowSeconds: float64(cfg.ChunkWindowSeconds),
		logger:        logging.WithComponent(logger, "transcription"),
	}
}

func (t *Transcriber) Definition() pipeline.Definition {
	return pipeline.Definition{
		Name:           pipeline.StageTranscribe,
		Ordinal:        1,
		Dependency:     pipeline.DepOpenAIAudio,
		Timeout:        30 * time.Minute,
		MaxAttempts:    3,
		BackoffBase:    2 * time.Second,
		ProgressWeight: 30,
	}
}

func (t *Transcriber) Execute(ctx context.Context, st *pipeline.State) (json.RawMessage, error) {
	if st.Audio == nil {
		return nil, services.Wrap(services.ErrConflict, pipeline.StageTranscribe, "execute", "missing audio result", nil)
	}

	var (
		merged pipeline.TranscriptResult
		texts  []string
	)
	windows := t.windows(st.Audio.DurationSeconds)
	for i, w := range windows {
		audioPath := st.Audio.AudioPath
		if len(windows) > 1 {
			chunkPath := filepath.Join(st.WorkDir, fmt.Sprintf("chunk-%03d.mp3", i))
			if err := t.runner.SliceAudio(ctx, st.Audio.AudioPath, chunkPath, w.start, w.length); err != nil {
				return nil, err
			}
			st.AddTemp(chunkPath)
			audioPath = chunkPath
		}

		key, err := retry.IdempotencyKey(st.RunID, 1, fmt.Sprintf("transcribe:%d:%s", i, audioPath))
		if err != nil {
			return nil, services.Wrap(services.ErrPermanent, pipeline.StageTranscribe, "idempotency key", "", err)
		}
		resp, err := t.client.Transcribe(ctx, pipeline.StageTranscribe, audioPath, st.Input.SourceLang, key)
		if err != nil {
			return nil, err
		}
		if merged.DetectedLanguage == "" {
			merged.DetectedLanguage = resp.Language
		}
		for _, seg := range resp.Segments {
			text := strings.TrimSpace(seg.Text)
			if text == "" {
				continue
			}
			merged.Segments = append(merged.Segments, pipeline.Segment{
				Start: seg.Start + w.start,
				End:   seg.End + w.start,
				Text:  text,
			})
		}
		if text := strings.TrimSpace(resp.Text); text != "" {
			texts = append(texts, text)
		}
	}

	merged.Text = strings.Join(texts, " ")
	if merged.Text == "" {
		return nil, services.Wrap(services.ErrPermanent, pipeline.StageTranscribe, "execute", "no speech detected in audio", nil)
	}

	st.Transcript = &merged
	t.logger.Info("transcription complete",
		logging.String(logging.FieldRunID, st.RunID),
		logging.Int("windows", len(windows)),
		logging.Int("segments", len(merged.Segments)),
		logging.String("detected_language", merged.DetectedLanguage))
	return json.Marshal(merged)
}

func (t *Transcriber) Restore(st *pipeline.State, payload json.RawMessage) error {
	var result pipeline.TranscriptResult
	if err := json.Unmarshal(payload, &result); err != nil {
		return services.Wrap(services.ErrConflict, pipeline.StageTranscribe, "restore", "undecodable checkpoint", err)
	}
	st.Transcript = &result
	return nil
}

type window struct {
	start  float64
	length float64
}

// windows splits the audio duration into chunk windows. A duration within a
// single window returns exactly one entry covering the whole file.
func (t *Transcriber) windows(duration float64) []window {
	if t.windowSeconds <= 0 || duration <= t.windowSeconds {
		return []window{{start: 0, length: duration}}
	}
	var out []window
	for start := 0.0; start < duration; start += t.windowSeconds {
		length := t.windowSeconds
		if start+length > duration {
			length = duration - start
		}
		out = append(out, window{start: start, length: length})
	}
	return out
}
