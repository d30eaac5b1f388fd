package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/mortdiggiddy/video-translator/internal/services"
)

// Client talks to a running daemon's REST API.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewClient constructs a client for the daemon at bind (host:port or URL).
func NewClient(bind, token string) *Client {
	base := strings.TrimSpace(bind)
	if base != "" && !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}
	return &Client{
		baseURL:    strings.TrimRight(base, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// StartRun submits a new run.
func (c *Client) StartRun(ctx context.Context, req StartRunRequest) (RunView, error) {
	var view RunView
	err := c.do(ctx, http.MethodPost, "/api/runs", req, &view)
	return view, err
}

// ListRuns fetches all runs.
func (c *Client) ListRuns(ctx context.Context) ([]RunView, error) {
	var views []RunView
	err := c.do(ctx, http.MethodGet, "/api/runs", nil, &views)
	return views, err
}

// GetRun fetches one run.
func (c *Client) GetRun(ctx context.Context, id string) (RunView, error) {
	var view RunView
	err := c.do(ctx, http.MethodGet, "/api/runs/"+id, nil, &view)
	return view, err
}

// Progress fetches a run's progress snapshot.
func (c *Client) Progress(ctx context.Context, id string) (ProgressView, error) {
	var view ProgressView
	err := c.do(ctx, http.MethodGet, "/api/runs/"+id+"/progress", nil, &view)
	return view, err
}

// CancelRun requests cancellation of a run.
func (c *Client) CancelRun(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPost, "/api/runs/"+id+"/cancel", nil, nil)
}

// Prune removes terminal runs and their checkpoints from the daemon's store.
func (c *Client) Prune(ctx context.Context) (PruneResult, error) {
	var result PruneResult
	err := c.do(ctx, http.MethodPost, "/api/prune", nil, &result)
	return result, err
}

// Status fetches daemon status.
func (c *Client) Status(ctx context.Context) (StatusView, error) {
	var view StatusView
	err := c.do(ctx, http.MethodGet, "/api/status", nil, &view)
	return view, err
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return services.Wrap(services.ErrPermanent, "api", "encode request", path, err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return services.Wrap(services.ErrPermanent, "api", "build request", path, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return services.Wrap(services.ErrUnavailable, "api", "request",
			"daemon not reachable at "+c.baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return decodeError(resp, path)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return services.Wrap(services.ErrTransient, "api", "decode response", path, err)
	}
	return nil
}

func decodeError(resp *http.Response, path string) error {
	var apiErr ErrorResponse
	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if err := json.Unmarshal(data, &apiErr); err != nil || apiErr.Error == "" {
		apiErr.Error = strings.TrimSpace(string(data))
	}
	marker := markerForKind(services.Kind(apiErr.Kind), resp.StatusCode)
	return services.Wrap(marker, "api", path, fmt.Sprintf("http %d: %s", resp.StatusCode, apiErr.Error), nil)
}

const maxErrorBody = 64 << 10

// markerForKind restores the service classification the daemon reported, so
// CLI exit handling matches in-process behavior. The HTTP status is the
// fallback when the body carried no kind.
func markerForKind(kind services.Kind, status int) error {
	switch kind {
	case services.KindNotFound:
		return services.ErrNotFound
	case services.KindPermanent:
		return services.ErrPermanent
	case services.KindUnavailable:
		return services.ErrUnavailable
	case services.KindConflict:
		return services.ErrConflict
	case services.KindCancelled:
		return services.ErrCancelled
	case services.KindTransient:
		return services.ErrTransient
	}
	switch {
	case status == http.StatusNotFound:
		return services.ErrNotFound
	case status >= 400 && status < 500:
		return services.ErrPermanent
	default:
		return services.ErrTransient
	}
}
