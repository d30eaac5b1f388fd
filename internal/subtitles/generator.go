// Package subtitles implements the generate_subtitles stage. Translated text
// is redistributed across the original transcript timing windows, then the
// same cue list is rendered as both SRT and WebVTT so the two formats can
// never disagree on boundaries.
package subtitles

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/mortdiggiddy/video-translator/internal/logging"
	"github.com/mortdiggiddy/video-translator/internal/pipeline"
	"github.com/mortdiggiddy/video-translator/internal/services"
)

// maxLineRunes is the wrap width for a single subtitle line.
const maxLineRunes = 42

// Generator builds subtitle documents from transcript timing and translated
// text. It is a purely local stage with no external dependency.
type Generator struct {
	logger *slog.Logger
}

// NewGenerator constructs the stage.
func NewGenerator(logger *slog.Logger) *Generator {
	return &Generator{logger: logging.WithComponent(logger, "subtitles")}
}

func (g *Generator) Definition() pipeline.Definition {
	return pipeline.Definition{
		Name:           pipeline.StageSubtitles,
		Ordinal:        4,
		Timeout:        2 * time.Minute,
		MaxAttempts:    2,
		BackoffBase:    time.Second,
		ProgressWeight: 15,
	}
}

func (g *Generator) Execute(ctx context.Context, st *pipeline.State) (json.RawMessage, error) {
	switch {
	case st.Audio == nil:
		return nil, services.Wrap(services.ErrConflict, pipeline.StageSubtitles, "execute", "missing audio result", nil)
	case st.Transcript == nil:
		return nil, services.Wrap(services.ErrConflict, pipeline.StageSubtitles, "execute", "missing transcript", nil)
	case st.Translation == nil:
		return nil, services.Wrap(services.ErrConflict, pipeline.StageSubtitles, "execute", "missing translation", nil)
	}

	cues := buildCues(st.Transcript.Segments, st.Translation.TranslatedText, st.Audio.DurationSeconds)
	if len(cues) == 0 {
		return nil, services.Wrap(services.ErrPermanent, pipeline.StageSubtitles, "execute", "no cues produced", nil)
	}

	result := pipeline.SubtitleResult{
		SRTContent: renderSRT(cues),
		VTTContent: renderVTT(cues),
	}
	st.Subtitles = &result
	g.logger.Info("subtitles generated",
		logging.String(logging.FieldRunID, st.RunID),
		logging.Int("cues", len(cues)))
	return json.Marshal(result)
}

func (g *Generator) Restore(st *pipeline.State, payload json.RawMessage) error {
	var result pipeline.SubtitleResult
	if err := json.Unmarshal(payload, &result); err != nil {
		return services.Wrap(services.ErrConflict, pipeline.StageSubtitles, "restore", "undecodable checkpoint", err)
	}
	st.Subtitles = &result
	return nil
}

// Cue is one timed subtitle entry.
type Cue struct {
	Start float64
	End   float64
	Text  string
}

// buildCues assigns translated words to the original timing windows in
// proportion to each window's share of the source text. The split points are
// a pure function of the inputs, so retries and resumes reproduce identical
// documents. Cue times are clamped to the media duration.
func buildCues(segments []pipeline.Segment, translated string, duration float64) []Cue {
	words := strings.Fields(translated)
	if len(words) == 0 || len(segments) == 0 {
		return nil
	}

	var totalWeight float64
	weights := make([]float64, len(segments))
	for i, seg := range segments {
		w := float64(len([]rune(seg.Text)))
		if w <= 0 {
			w = 1
		}
		weights[i] = w
		totalWeight += w
	}

	cues := make([]Cue, 0, len(segments))
	var cumWeight float64
	taken := 0
	for i, seg := range segments {
		cumWeight += weights[i]
		// Cumulative rounding keeps per-segment drift under one word.
		boundary := int(cumWeight/totalWeight*float64(len(words)) + 0.5)
		if i == len(segments)-1 {
			boundary = len(words)
		}
		if boundary > len(words) {
			boundary = len(words)
		}
		if boundary <= taken {
			continue
		}
		text := strings.Join(words[taken:boundary], " ")
		taken = boundary

		start, end := clampWindow(seg.Start, seg.End, duration)
		cues = append(cues, Cue{Start: start, End: end, Text: wrapText(text)})
	}
	return cues
}

// clampWindow forces a cue inside [0, duration] and keeps it non-degenerate.
func clampWindow(start, end, duration float64) (float64, float64) {
	if start < 0 {
		start = 0
	}
	if duration > 0 && end > duration {
		end = duration
	}
	if duration > 0 && start > duration {
		start = duration
	}
	if end <= start {
		end = start + 0.5
		if duration > 0 && end > duration {
			end = duration
		}
	}
	return start, end
}

// wrapText folds cue text into lines of at most maxLineRunes runes, breaking
// on word boundaries.
func wrapText(text string) string {
	words := strings.Fields(text)
	var (
		lines []string
		line  strings.Builder
		count int
	)
	for _, word := range words {
		runes := len([]rune(word))
		if count > 0 && count+1+runes > maxLineRunes {
			lines = append(lines, line.String())
			line.Reset()
			count = 0
		}
		if count > 0 {
			line.WriteByte(' ')
			count++
		}
		line.WriteString(word)
		count += runes
	}
	if line.Len() > 0 {
		lines = append(lines, line.String())
	}
	return strings.Join(lines, "\n")
}

func renderSRT(cues []Cue) string {
	var b strings.Builder
	for i, cue := range cues {
		fmt.Fprintf(&b, "%d\n%s --> %s\n%s\n\n",
			i+1, formatTimestamp(cue.Start, ","), formatTimestamp(cue.End, ","), cue.Text)
	}
	return b.String()
}

func renderVTT(cues []Cue) string {
	var b strings.Builder
	b.WriteString("WEBVTT\n\n")
	for _, cue := range cues {
		fmt.Fprintf(&b, "%s --> %s\n%s\n\n",
			formatTimestamp(cue.Start, "."), formatTimestamp(cue.End, "."), cue.Text)
	}
	return b.String()
}

// formatTimestamp renders seconds as HH:MM:SS with millisecond precision.
// SRT separates milliseconds with a comma, WebVTT with a period.
func formatTimestamp(seconds float64, msSep string) string {
	if seconds < 0 {
		seconds = 0
	}
	millis := int64(seconds*1000 + 0.5)
	h := millis / 3_600_000
	m := millis % 3_600_000 / 60_000
	s := millis % 60_000 / 1000
	ms := millis % 1000
	return fmt.Sprintf("%02d:%02d:%02d%s%03d", h, m, s, msSep, ms)
}
