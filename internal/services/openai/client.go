// Package openai wraps the hosted inference APIs used by the pipeline
// stages: chat completions for translation and summarization, and audio
// transcription. Retry policy lives with the caller; this client performs a
// single attempt and classifies failures.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mortdiggiddy/video-translator/internal/config"
	"github.com/mortdiggiddy/video-translator/internal/services"
)

const dependencyName = "openai"

// Client talks to an OpenAI-compatible API.
type Client struct {
	cfg        config.OpenAI
	httpClient *http.Client
}

// Option customizes the client.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client (used in tests).
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// NewClient constructs a client from configuration.
func NewClient(cfg config.OpenAI, opts ...Option) *Client {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	client := &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: timeout},
	}
	for _, opt := range opts {
		opt(client)
	}
	return client
}

type chatRequest struct {
	Model          string        `json:"model"`
	Messages       []chatMessage `json:"messages"`
	ResponseFormat *respFormat   `json:"response_format,omitempty"`
	Temperature    float64       `json:"temperature"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type respFormat struct {
	Type string `json:"type"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

// Chat sends a system+user prompt pair and returns the assistant text.
// The idempotency key is forwarded so the backend can short-circuit a
// duplicate submission from a retried attempt.
func (c *Client) Chat(ctx context.Context, operation, system, user, idempotencyKey string) (string, error) {
	return c.chat(ctx, operation, system, user, idempotencyKey, nil)
}

// ChatJSON is Chat with a JSON response format, decoded into out.
func (c *Client) ChatJSON(ctx context.Context, operation, system, user, idempotencyKey string, out any) error {
	content, err := c.chat(ctx, operation, system, user, idempotencyKey, &respFormat{Type: "json_object"})
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(content), out); err != nil {
		return services.Wrap(services.ErrTransient, operation, "decode json response", content, err)
	}
	return nil
}

func (c *Client) chat(ctx context.Context, operation, system, user, idempotencyKey string, format *respFormat) (string, error) {
	if strings.TrimSpace(c.cfg.APIKey) == "" {
		return "", services.Wrap(services.ErrPermanent, operation, "chat", "openai.api_key is not configured", nil)
	}

	payload, err := json.Marshal(chatRequest{
		Model: c.cfg.ChatModel,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		ResponseFormat: format,
	})
	if err != nil {
		return "", services.Wrap(services.ErrPermanent, operation, "encode request", "", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return "", services.Wrap(services.ErrPermanent, operation, "build request", "", err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.setCommonHeaders(req, idempotencyKey)

	body, err := c.do(req, operation)
	if err != nil {
		return "", err
	}

	var decoded chatResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return "", services.Wrap(services.ErrTransient, operation, "decode response", "", err)
	}
	if len(decoded.Choices) == 0 || strings.TrimSpace(decoded.Choices[0].Message.Content) == "" {
		return "", services.Wrap(services.ErrTransient, operation, "chat", "empty completion", nil)
	}
	return decoded.Choices[0].Message.Content, nil
}

// TranscriptionSegment mirrors the verbose transcription response timing.
type TranscriptionSegment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// Transcription is the decoded transcription response.
type Transcription struct {
	Text     string                 `json:"text"`
	Language string                 `json:"language"`
	Segments []TranscriptionSegment `json:"segments"`
}

// Transcribe uploads an audio file for transcription with per-segment
// timestamps. languageHint may be empty for auto-detection.
func (c *Client) Transcribe(ctx context.Context, operation, audioPath, languageHint, idempotencyKey string) (Transcription, error) {
	if strings.TrimSpace(c.cfg.APIKey) == "" {
		return Transcription{}, services.Wrap(services.ErrPermanent, operation, "transcribe", "openai.api_key is not configured", nil)
	}

	file, err := os.Open(audioPath)
	if err != nil {
		return Transcription{}, services.Wrap(services.ErrPermanent, operation, "open audio", audioPath, err)
	}
	defer file.Close()

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("file", filepath.Base(audioPath))
	if err != nil {
		return Transcription{}, services.Wrap(services.ErrPermanent, operation, "build multipart", "", err)
	}
	if _, err := io.Copy(part, file); err != nil {
		return Transcription{}, services.Wrap(services.ErrTransient, operation, "read audio", audioPath, err)
	}
	fields := map[string]string{
		"model":           c.cfg.WhisperModel,
		"response_format": "verbose_json",
	}
	if languageHint != "" {
		fields["language"] = languageHint
	}
	for key, value := range fields {
		if err := writer.WriteField(key, value); err != nil {
			return Transcription{}, services.Wrap(services.ErrPermanent, operation, "build multipart", key, err)
		}
	}
	if err := writer.Close(); err != nil {
		return Transcription{}, services.Wrap(services.ErrPermanent, operation, "finalize multipart", "", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/audio/transcriptions", &buf)
	if err != nil {
		return Transcription{}, services.Wrap(services.ErrPermanent, operation, "build request", "", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	c.setCommonHeaders(req, idempotencyKey)

	body, err := c.do(req, operation)
	if err != nil {
		return Transcription{}, err
	}

	var decoded Transcription
	if err := json.Unmarshal(body, &decoded); err != nil {
		return Transcription{}, services.Wrap(services.ErrTransient, operation, "decode response", "", err)
	}
	return decoded, nil
}

func (c *Client) setCommonHeaders(req *http.Request, idempotencyKey string) {
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}
}

func (c *Client) do(req *http.Request, operation string) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, services.Wrap(nil, operation, "request", dependencyName, services.Classify(err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, operation, "read response", "", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, statusError(operation, resp.StatusCode, body)
	}
	return body, nil
}

// statusError classifies HTTP failures: rate limits, request timeouts, and
// server errors are transient; remaining client errors are permanent.
func statusError(operation string, status int, body []byte) error {
	marker := services.ErrPermanent
	if status == http.StatusTooManyRequests || status == http.StatusRequestTimeout || status >= 500 {
		marker = services.ErrTransient
	}
	snippet := strings.TrimSpace(string(body))
	if len(snippet) > 200 {
		snippet = snippet[:200]
	}
	return services.Wrap(marker, operation, "request", fmt.Sprintf("http %d: %s", status, snippet), nil)
}
