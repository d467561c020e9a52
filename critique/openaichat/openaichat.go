// Package openaichat implements a Critic against any OpenAI-compatible chat
// completions endpoint (OpenAI, OpenRouter, vLLM, LM Studio).
package openaichat

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	openai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/pithecene-io/imitatoes/critique"
)

// DefaultTimeout bounds one review request.
const DefaultTimeout = 60 * time.Second

// Config configures the chat-completions critic.
type Config struct {
	// BaseURL overrides the API endpoint (default: SDK default).
	BaseURL string
	// APIKey authenticates requests (required).
	APIKey string
	// Model is the vision-capable model name (required).
	Model string
	// Timeout is the per-request timeout (default 60s).
	Timeout time.Duration
	// MaxRetries is passed to the SDK. Zero (the default) disables retries;
	// negative values are treated as zero.
	MaxRetries int
}

// Critic reviews images through the chat completions API.
type Critic struct {
	client openai.Client
	model  string
}

// New creates a chat-completions critic.
func New(cfg Config) (*Critic, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("openai critic requires an API key")
	}
	if strings.TrimSpace(cfg.Model) == "" {
		return nil, errors.New("openai critic requires a model identifier")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithRequestTimeout(cfg.Timeout),
		option.WithMaxRetries(cfg.MaxRetries),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(strings.TrimRight(cfg.BaseURL, "/")+"/"))
	}

	return &Critic{
		client: openai.NewClient(opts...),
		model:  cfg.Model,
	}, nil
}

// Name returns "openai/<model>".
func (c *Critic) Name() string { return "openai/" + c.model }

// Critique sends a system message and a user message carrying the text and
// the image as a data URL, and returns the first choice's content.
func (c *Critic) Critique(ctx context.Context, req critique.Request) (string, error) {
	mimeType := req.MIMEType
	if mimeType == "" {
		mimeType = critique.DefaultMIMEType
	}

	params := openai.ChatCompletionNewParams{
		Model: openai.ChatModel(c.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(req.SystemPrompt),
			openai.UserMessage([]openai.ChatCompletionContentPartUnionParam{
				openai.TextContentPart(req.UserMessage),
				openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{
					URL: dataURL(mimeType, req.Image),
				}),
			}),
		},
	}

	resp, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("openai: chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("openai: response contained no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

func dataURL(mimeType string, b []byte) string {
	return fmt.Sprintf("data:%s;base64,%s", mimeType, base64.StdEncoding.EncodeToString(b))
}
