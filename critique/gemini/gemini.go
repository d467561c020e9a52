// Package gemini implements a Critic on the Google GenAI SDK.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/pithecene-io/imitatoes/critique"
)

// DefaultModel is used when no model is configured.
const DefaultModel = "gemini-2.5-flash"

// Config configures the Gemini critic.
type Config struct {
	// APIKey authenticates against the Gemini API (required).
	APIKey string
	// Model is the model name, with or without the "models/" prefix.
	Model string
	// BaseURL overrides the API endpoint; used for proxies and tests.
	BaseURL string
}

// Critic reviews images with a Gemini model.
type Critic struct {
	client *genai.Client
	model  string
}

// New creates a Gemini critic.
func New(ctx context.Context, cfg Config) (*Critic, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("gemini critic requires an API key")
	}

	clientCfg := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.BaseURL != "" {
		clientCfg.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}

	client, err := genai.NewClient(ctx, clientCfg)
	if err != nil {
		return nil, fmt.Errorf("gemini: create client: %w", err)
	}
	return &Critic{client: client, model: normalizeModel(cfg.Model)}, nil
}

// Name returns "gemini/<model>".
func (c *Critic) Name() string { return "gemini/" + c.model }

// Critique sends the schema as system instruction and the user text plus
// inline image as one user turn. Text parts of the first candidate are
// concatenated.
func (c *Critic) Critique(ctx context.Context, req critique.Request) (string, error) {
	mimeType := req.MIMEType
	if mimeType == "" {
		mimeType = critique.DefaultMIMEType
	}

	parts := []*genai.Part{
		genai.NewPartFromText(req.UserMessage),
		{InlineData: &genai.Blob{MIMEType: mimeType, Data: req.Image}},
	}
	contents := []*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}
	config := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(req.SystemPrompt, genai.RoleUser),
	}

	resp, err := c.client.Models.GenerateContent(ctx, c.model, contents, config)
	if err != nil {
		return "", fmt.Errorf("gemini: generate content failed: %w", err)
	}

	var out strings.Builder
	if len(resp.Candidates) > 0 && resp.Candidates[0].Content != nil {
		for _, p := range resp.Candidates[0].Content.Parts {
			if p.Text != "" {
				out.WriteString(p.Text)
			}
		}
	}
	if out.Len() == 0 {
		return "", errors.New("gemini: no text returned by model")
	}
	return out.String(), nil
}

// normalizeModel strips provider prefixes and variant suffixes.
func normalizeModel(model string) string {
	m := strings.TrimSpace(model)
	if m == "" {
		return DefaultModel
	}
	m = strings.TrimPrefix(m, "models/")
	m = strings.TrimPrefix(m, "google/")
	if i := strings.IndexByte(m, ':'); i >= 0 {
		m = m[:i]
	}
	return m
}
