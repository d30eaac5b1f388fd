// Package summary implements the summarize stage: a structured summary and
// key-point list of the translated text, produced as a JSON completion.
package summary

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/mortdiggiddy/video-translator/internal/logging"
	"github.com/mortdiggiddy/video-translator/internal/pipeline"
	"github.com/mortdiggiddy/video-translator/internal/retry"
	"github.com/mortdiggiddy/video-translator/internal/services"
	"github.com/mortdiggiddy/video-translator/internal/services/openai"
)

const systemPrompt = "You summarize translated video transcripts. Respond in %s with a JSON object " +
	`of the form {"summary": "...", "key_points": ["...", "..."]}. ` +
	"The summary is two to four sentences; key_points lists three to seven short bullet statements."

// Summarizer runs the chat-completion summarization.
type Summarizer struct {
	client *openai.Client
	logger *slog.Logger
}

// NewSummarizer constructs the stage.
func NewSummarizer(client *openai.Client, logger *slog.Logger) *Summarizer {
	return &Summarizer{
		client: client,
		logger: logging.WithComponent(logger, "summary"),
	}
}

func (s *Summarizer) Definition() pipeline.Definition {
	return pipeline.Definition{
		Name:           pipeline.StageSummarize,
		Ordinal:        3,
		Dependency:     pipeline.DepOpenAIChat,
		Timeout:        5 * time.Minute,
		MaxAttempts:    3,
		BackoffBase:    2 * time.Second,
		ProgressWeight: 10,
	}
}

func (s *Summarizer) Execute(ctx context.Context, st *pipeline.State) (json.RawMessage, error) {
	if st.Translation == nil {
		return nil, services.Wrap(services.ErrConflict, pipeline.StageSummarize, "execute", "missing translation", nil)
	}

	key, err := retry.IdempotencyKey(st.RunID, 3, st.Translation.TranslatedText)
	if err != nil {
		return nil, services.Wrap(services.ErrPermanent, pipeline.StageSummarize, "idempotency key", "", err)
	}

	system := fmt.Sprintf(systemPrompt, st.Input.TargetDisplay)
	var result pipeline.SummaryResult
	if err := s.client.ChatJSON(ctx, pipeline.StageSummarize, system, st.Translation.TranslatedText, key, &result); err != nil {
		return nil, err
	}
	result.Summary = strings.TrimSpace(result.Summary)
	if result.Summary == "" {
		return nil, services.Wrap(services.ErrTransient, pipeline.StageSummarize, "execute", "empty summary", nil)
	}
	for i, point := range result.KeyPoints {
		result.KeyPoints[i] = strings.TrimSpace(point)
	}

	st.Summary = &result
	s.logger.Info("summary complete",
		logging.String(logging.FieldRunID, st.RunID),
		logging.Int("key_points", len(result.KeyPoints)))
	return json.Marshal(result)
}

func (s *Summarizer) Restore(st *pipeline.State, payload json.RawMessage) error {
	var result pipeline.SummaryResult
	if err := json.Unmarshal(payload, &result); err != nil {
		return services.Wrap(services.ErrConflict, pipeline.StageSummarize, "restore", "undecodable checkpoint", err)
	}
	st.Summary = &result
	return nil
}
