package openai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/mortdiggiddy/video-translator/internal/config"
	"github.com/mortdiggiddy/video-translator/internal/services"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	cfg := config.OpenAI{
		APIKey:         "test-key",
		BaseURL:        server.URL,
		WhisperModel:   "whisper-1",
		ChatModel:      "gpt-4o-mini",
		TimeoutSeconds: 5,
	}
	return NewClient(cfg, WithHTTPClient(server.Client()))
}

func TestChatReturnsCompletionContent(t *testing.T) {
	var gotKey string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer test-key" {
			t.Errorf("unexpected auth header %q", auth)
		}
		gotKey = r.Header.Get("Idempotency-Key")
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]string{"content": "hola"}},
			},
		})
	})

	out, err := client.Chat(context.Background(), "translate", "system", "hello", "key-123")
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if out != "hola" {
		t.Errorf("content = %q, want hola", out)
	}
	if gotKey != "key-123" {
		t.Errorf("idempotency key = %q, want key-123", gotKey)
	}
}

func TestChatJSONDecodesObject(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any
		json.NewDecoder(r.Body).Decode(&req)
		if format, ok := req["response_format"].(map[string]any); !ok || format["type"] != "json_object" {
			t.Errorf("response_format = %v, want json_object", req["response_format"])
		}
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]string{"content": `{"summary":"ok"}`}},
			},
		})
	})

	var out struct {
		Summary string `json:"summary"`
	}
	if err := client.ChatJSON(context.Background(), "summarize", "system", "user", "", &out); err != nil {
		t.Fatalf("ChatJSON: %v", err)
	}
	if out.Summary != "ok" {
		t.Errorf("summary = %q, want ok", out.Summary)
	}
}

func TestChatClassifiesStatusCodes(t *testing.T) {
	cases := []struct {
		name   string
		status int
		want   services.Kind
	}{
		{"rate limited", http.StatusTooManyRequests, services.KindTransient},
		{"server error", http.StatusInternalServerError, services.KindTransient},
		{"bad request", http.StatusBadRequest, services.KindPermanent},
		{"unauthorized", http.StatusUnauthorized, services.KindPermanent},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "nope", tc.status)
			})
			_, err := client.Chat(context.Background(), "translate", "s", "u", "")
			if err == nil {
				t.Fatal("expected error")
			}
			if kind := services.KindOf(err); kind != tc.want {
				t.Errorf("kind = %s, want %s", kind, tc.want)
			}
		})
	}
}

func TestChatRequiresAPIKey(t *testing.T) {
	client := NewClient(config.OpenAI{BaseURL: "http://127.0.0.1:0"})
	_, err := client.Chat(context.Background(), "translate", "s", "u", "")
	if !errors.Is(err, services.ErrPermanent) {
		t.Fatalf("err = %v, want permanent", err)
	}
}

func TestTranscribeUploadsAudio(t *testing.T) {
	audioPath := filepath.Join(t.TempDir(), "audio.mp3")
	if err := os.WriteFile(audioPath, []byte("fake-audio"), 0o644); err != nil {
		t.Fatal(err)
	}

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/audio/transcriptions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Fatalf("parse multipart: %v", err)
		}
		if model := r.FormValue("model"); model != "whisper-1" {
			t.Errorf("model = %q", model)
		}
		if lang := r.FormValue("language"); lang != "en" {
			t.Errorf("language = %q", lang)
		}
		json.NewEncoder(w).Encode(Transcription{
			Text:     "hello world",
			Language: "en",
			Segments: []TranscriptionSegment{{Start: 0, End: 1.5, Text: "hello world"}},
		})
	})

	got, err := client.Transcribe(context.Background(), "transcribe", audioPath, "en", "key-1")
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if got.Text != "hello world" || len(got.Segments) != 1 {
		t.Errorf("unexpected transcription %+v", got)
	}
}

func TestTranscribeMissingFileIsPermanent(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {})
	_, err := client.Transcribe(context.Background(), "transcribe", "/does/not/exist.mp3", "", "")
	if !errors.Is(err, services.ErrPermanent) {
		t.Fatalf("err = %v, want permanent", err)
	}
}
