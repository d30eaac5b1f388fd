// Package translation implements the translate stage: the full transcript is
// rendered into the target language through a chat completion.
package translation

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

const systemPrompt = "You are a professional translator. Translate the user's text into %s. " +
	"Preserve the meaning, tone, and paragraph structure. " +
	"Return only the translated text with no commentary."

// Translator runs the chat-completion translation.
type Translator struct {
	client *openai.Client
	logger *slog.Logger
}

// NewTranslator constructs the stage.
func NewTranslator(client *openai.Client, logger *slog.Logger) *Translator {
	return &Translator{
		client: client,
		logger: logging.WithComponent(logger, "translation"),
	}
}

func (t *Translator) Definition() pipeline.Definition {
	return pipeline.Definition{
		Name:           pipeline.StageTranslate,
		Ordinal:        2,
		Dependency:     pipeline.DepOpenAIChat,
		Timeout:        10 * time.Minute,
		MaxAttempts:    3,
		BackoffBase:    2 * time.Second,
		ProgressWeight: 20,
	}
}

func (t *Translator) Execute(ctx context.Context, st *pipeline.State) (json.RawMessage, error) {
	if st.Transcript == nil {
		return nil, services.Wrap(services.ErrConflict, pipeline.StageTranslate, "execute", "missing transcript", nil)
	}

	key, err := retry.IdempotencyKey(st.RunID, 2, st.Transcript.Text)
	if err != nil {
		return nil, services.Wrap(services.ErrPermanent, pipeline.StageTranslate, "idempotency key", "", err)
	}

	system := fmt.Sprintf(systemPrompt, st.Input.TargetDisplay)
	translated, err := t.client.Chat(ctx, pipeline.StageTranslate, system, st.Transcript.Text, key)
	if err != nil {
		return nil, err
	}
	translated = strings.TrimSpace(translated)
	if translated == "" {
		return nil, services.Wrap(services.ErrTransient, pipeline.StageTranslate, "execute", "empty translation", nil)
	}

	result := pipeline.TranslationResult{TranslatedText: translated}
	st.Translation = &result
	t.logger.Info("translation complete",
		logging.String(logging.FieldRunID, st.RunID),
		logging.String("target_lang", st.Input.TargetLang),
		logging.Int("chars", len(translated)))
	return json.Marshal(result)
}

func (t *Translator) Restore(st *pipeline.State, payload json.RawMessage) error {
	var result pipeline.TranslationResult
	if err := json.Unmarshal(payload, &result); err != nil {
		return services.Wrap(services.ErrConflict, pipeline.StageTranslate, "restore", "undecodable checkpoint", err)
	}
	st.Translation = &result
	return nil
}
