// Package ollama implements a Critic against the Ollama chat API.
//
// Requests are sent non-streaming to /api/chat with the image attached to
// the user message as base64.
package ollama

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pithecene-io/imitatoes/critique"
	"github.com/pithecene-io/imitatoes/iox"
)

// DefaultBaseURL is the local Ollama endpoint.
const DefaultBaseURL = "http://127.0.0.1:11434"

// DefaultModel is a vision-capable model commonly pulled for local review.
const DefaultModel = "llava-llama3"

// DefaultTimeout bounds one review request.
const DefaultTimeout = 60 * time.Second

// Config configures the Ollama critic.
type Config struct {
	// BaseURL of the Ollama server (default http://127.0.0.1:11434).
	BaseURL string
	// Model is the vision model identifier (required).
	Model string
	// Timeout is the per-request timeout (default 60s).
	Timeout time.Duration
}

// Critic reviews images with an Ollama vision model.
type Critic struct {
	baseURL string
	model   string
	client  *http.Client
}

// New creates an Ollama critic.
func New(cfg Config) (*Critic, error) {
	if strings.TrimSpace(cfg.Model) == "" {
		return nil, errors.New("ollama critic requires a model identifier")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &Critic{
		baseURL: normalizeBaseURL(cfg.BaseURL),
		model:   cfg.Model,
		client:  &http.Client{Timeout: cfg.Timeout},
	}, nil
}

// Name returns "ollama/<model>".
func (c *Critic) Name() string { return "ollama/" + c.model }

// Critique posts the review request and returns message.content.
func (c *Critic) Critique(ctx context.Context, req critique.Request) (string, error) {
	payload := chatRequest{
		Model:  c.model,
		Stream: false,
		Messages: []chatMessage{
			{Role: "system", Content: req.SystemPrompt},
			{
				Role:    "user",
				Content: req.UserMessage,
				Images:  []string{base64.StdEncoding.EncodeToString(req.Image)},
			},
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("ollama: encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("ollama: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("ollama: chat failed: %w", err)
	}
	defer iox.DrainClose(resp.Body)

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("ollama: chat failed: status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var chatResp chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		return "", fmt.Errorf("ollama: decode response: %w", err)
	}
	if chatResp.Error != "" {
		return "", fmt.Errorf("ollama: %s", chatResp.Error)
	}
	if chatResp.Message == nil {
		return "", nil
	}
	return chatResp.Message.Content, nil
}

type chatRequest struct {
	Model    string        `json:"model"`
	Stream   bool          `json:"stream"`
	Messages []chatMessage `json:"messages"`
}

type chatMessage struct {
	Role    string   `json:"role"`
	Content string   `json:"content"`
	Images  []string `json:"images,omitempty"`
}

type chatResponse struct {
	Model   string       `json:"model"`
	Message *chatMessage `json:"message"`
	Done    bool         `json:"done"`
	Error   string       `json:"error,omitempty"`
}

func normalizeBaseURL(baseURL string) string {
	url := strings.TrimSpace(baseURL)
	if url == "" {
		return DefaultBaseURL
	}
	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		url = "http://" + url
	}
	return strings.TrimRight(url, "/")
}
