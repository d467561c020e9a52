// Package config loads the optional imitatoes.yaml file. Every value is a
// default for a `imitatoes run` flag; flags always win.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents an imitatoes.yaml configuration file.
type Config struct {
	Workflow       string   `yaml:"workflow"`
	Prompt         string   `yaml:"prompt"`
	NegativePrompt string   `yaml:"negative_prompt"`
	CFG            *float64 `yaml:"cfg"`
	Steps          *int     `yaml:"steps"`
	Seed           *int64   `yaml:"seed"`

	Iterations int    `yaml:"iterations"`
	MaxLoops   int    `yaml:"max_loops"`
	DoneToken  string `yaml:"done_token"`
	Report     string `yaml:"report"`

	Comfy   ComfyConfig   `yaml:"comfy"`
	Critic  CriticConfig  `yaml:"critic"`
	Storage StorageConfig `yaml:"storage"`
	Adapter AdapterConfig `yaml:"adapter"`
	Tokens  TokensConfig  `yaml:"tokens"`
}

// TokensConfig overrides workflow placeholder names. Empty entries keep the
// built-in __PROMPT__, __NEG__, __CFG__, __STEPS__ and __SEED__.
type TokensConfig struct {
	Prompt   string `yaml:"prompt,omitempty"`
	Negative string `yaml:"negative,omitempty"`
	CFG      string `yaml:"cfg,omitempty"`
	Steps    string `yaml:"steps,omitempty"`
	Seed     string `yaml:"seed,omitempty"`
}

// ComfyConfig holds generation backend defaults.
type ComfyConfig struct {
	URL          string   `yaml:"url"`
	Timeout      Duration `yaml:"timeout"`
	PollInterval Duration `yaml:"poll_interval"`
	PollTimeout  Duration `yaml:"poll_timeout"`
	WaitMode     string   `yaml:"wait_mode"`
}

// CriticConfig selects and configures the reviewing model.
type CriticConfig struct {
	// Provider is ollama, openai or gemini.
	Provider   string   `yaml:"provider"`
	URL        string   `yaml:"url"`
	Model      string   `yaml:"model"`
	APIKey     string   `yaml:"api_key"`
	Timeout    Duration `yaml:"timeout"`
	MaxRetries *int     `yaml:"max_retries,omitempty"`
}

// StorageConfig holds artifact storage defaults.
type StorageConfig struct {
	// Backend is fs or s3.
	Backend     string `yaml:"backend"`
	Path        string `yaml:"path"`
	Region      string `yaml:"region"`
	Endpoint    string `yaml:"endpoint"`
	S3PathStyle bool   `yaml:"s3_path_style"`
}

// AdapterConfig configures the completion notification.
type AdapterConfig struct {
	// Type is webhook or redis; empty disables notification.
	Type    string            `yaml:"type"`
	URL     string            `yaml:"url"`
	Channel string            `yaml:"channel,omitempty"`
	Headers map[string]string `yaml:"headers,omitempty"`
	Timeout Duration          `yaml:"timeout,omitempty"`
	Retries *int              `yaml:"retries,omitempty"`
}

// Duration wraps time.Duration for YAML string parsing (e.g. "2s", "3m").
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses a duration string; an empty string leaves it zero.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return fmt.Errorf("line %d: duration must be a string like \"2s\": %w", node.Line, err)
	}
	if s == "" {
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("line %d: invalid duration %q: %w", node.Line, s, err)
	}
	d.Duration = parsed
	return nil
}

var (
	providers = []string{"ollama", "openai", "gemini"}
	backends  = []string{"fs", "s3"}
	adapters  = []string{"webhook", "redis"}
)

// Validate checks enumerations and bounds that YAML typing cannot.
func (c *Config) Validate() error {
	var errs []error
	oneOf := func(field, value string, allowed []string) {
		if value == "" {
			return
		}
		for _, a := range allowed {
			if strings.EqualFold(value, a) {
				return
			}
		}
		errs = append(errs, fmt.Errorf("%s: %q is not one of %s", field, value, strings.Join(allowed, ", ")))
	}
	oneOf("critic.provider", c.Critic.Provider, providers)
	oneOf("storage.backend", c.Storage.Backend, backends)
	oneOf("adapter.type", c.Adapter.Type, adapters)
	oneOf("comfy.wait_mode", c.Comfy.WaitMode, []string{"poll", "websocket"})

	if c.Iterations < 0 {
		errs = append(errs, fmt.Errorf("iterations must be >= 1, got %d", c.Iterations))
	}
	if c.MaxLoops < 0 {
		errs = append(errs, fmt.Errorf("max_loops must be >= 1, got %d", c.MaxLoops))
	}
	if c.Adapter.Type != "" && c.Adapter.URL == "" {
		errs = append(errs, errors.New("adapter.url is required when adapter.type is set"))
	}
	if c.Adapter.Retries != nil && *c.Adapter.Retries < 0 {
		errs = append(errs, fmt.Errorf("adapter.retries must be >= 0, got %d", *c.Adapter.Retries))
	}
	return errors.Join(errs...)
}
