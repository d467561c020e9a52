// Package comfy is a client for the ComfyUI HTTP API: job submission,
// history polling, artifact download and websocket progress events.
package comfy

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/pithecene-io/imitatoes/iox"
	"github.com/pithecene-io/imitatoes/types"
)

// DefaultBaseURL is the local ComfyUI endpoint.
const DefaultBaseURL = "http://127.0.0.1:8188"

// DefaultTimeout is the per-request HTTP timeout.
const DefaultTimeout = 60 * time.Second

// Config configures the ComfyUI client.
type Config struct {
	// BaseURL of the ComfyUI server (default http://127.0.0.1:8188).
	BaseURL string
	// Timeout is the per-request timeout (default 60s).
	Timeout time.Duration
	// ClientID is sent with each submission so websocket events can be
	// attributed. Required when Websocket is set.
	ClientID string
	// Websocket enables WaitCompletion over /ws.
	Websocket bool
}

// Client talks to one ComfyUI server. It is not safe for concurrent
// submissions; the loop keeps one job in flight.
type Client struct {
	baseURL string
	http    *http.Client
	config  Config

	mu    sync.Mutex
	ws    *websocket.Conn
	wsErr error
}

// New creates a ComfyUI client.
func New(cfg Config) (*Client, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Websocket && cfg.ClientID == "" {
		return nil, errors.New("comfy: websocket mode requires a client id")
	}
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		base = DefaultBaseURL
	}
	if _, err := url.Parse(base); err != nil {
		return nil, fmt.Errorf("comfy: invalid base url %q: %w", cfg.BaseURL, err)
	}
	return &Client{
		baseURL: base,
		http:    &http.Client{Timeout: cfg.Timeout},
		config:  cfg,
	}, nil
}

// StatusError is returned for non-2xx responses. Body holds a bounded
// prefix of the response for diagnostics.
type StatusError struct {
	Op   string
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("comfy %s: unexpected status %d", e.Op, e.Code)
	}
	return fmt.Sprintf("comfy %s: unexpected status %d: %s", e.Op, e.Code, e.Body)
}

type submitRequest struct {
	Prompt   json.RawMessage `json:"prompt"`
	ClientID string          `json:"client_id,omitempty"`
}

type submitResponse struct {
	PromptID   string          `json:"prompt_id"`
	Number     int             `json:"number"`
	NodeErrors json.RawMessage `json:"node_errors"`
}

// Submit queues a rendered workflow and returns its prompt id.
func (c *Client) Submit(ctx context.Context, job json.RawMessage) (string, error) {
	if c.config.Websocket {
		// A failed dial is reported by WaitCompletion; polling still works.
		c.ensureWS(ctx)
	}

	body, err := json.Marshal(submitRequest{Prompt: job, ClientID: c.config.ClientID})
	if err != nil {
		return "", fmt.Errorf("comfy submit: encode: %w", err)
	}

	var resp submitResponse
	if err := c.doJSON(ctx, http.MethodPost, "/prompt", body, "submit", &resp); err != nil {
		return "", err
	}
	if resp.PromptID == "" {
		return "", errors.New("comfy submit: response has no prompt_id")
	}
	return resp.PromptID, nil
}

// PollCompletion reads /history/{id}. The boolean is false while the job
// is not yet in the history index.
func (c *Client) PollCompletion(ctx context.Context, jobID string) (*types.Completion, bool, error) {
	var history map[string]json.RawMessage
	if err := c.doJSON(ctx, http.MethodGet, "/history/"+url.PathEscape(jobID), nil, "history", &history); err != nil {
		return nil, false, err
	}
	raw, ok := history[jobID]
	if !ok {
		return nil, false, nil
	}
	completion, err := parseHistoryEntry(jobID, raw)
	if err != nil {
		return nil, false, err
	}
	return completion, true, nil
}

// FetchArtifact downloads an output file through /view.
func (c *Client) FetchArtifact(ctx context.Context, ref types.ArtifactRef) ([]byte, error) {
	kind := ref.Type
	if kind == "" {
		kind = "output"
	}
	q := url.Values{}
	q.Set("filename", ref.Filename)
	q.Set("subfolder", ref.Subfolder)
	q.Set("type", kind)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/view?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("comfy view: create request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("comfy view: request failed: %w", err)
	}
	defer iox.DrainClose(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, statusError("view", resp)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("comfy view: read body: %w", err)
	}
	return data, nil
}

// Close releases the websocket connection and idle HTTP connections.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.http.CloseIdleConnections()
	if c.ws == nil {
		return nil
	}
	err := c.ws.Close()
	c.ws = nil
	return err
}

func (c *Client) doJSON(ctx context.Context, method, path string, body []byte, op string, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("comfy %s: create request: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("comfy %s: request failed: %w", op, err)
	}
	defer iox.DrainClose(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return statusError(op, resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("comfy %s: decode response: %w", op, err)
	}
	return nil
}

func statusError(op string, resp *http.Response) error {
	b, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
	return &StatusError{Op: op, Code: resp.StatusCode, Body: strings.TrimSpace(string(b))}
}
