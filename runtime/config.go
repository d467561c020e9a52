// Package runtime drives the generate/critique/evolve loop against a
// generation backend, a critic and an artifact store.
package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/pithecene-io/imitatoes/comfy"
	"github.com/pithecene-io/imitatoes/critique"
	"github.com/pithecene-io/imitatoes/lode"
	"github.com/pithecene-io/imitatoes/log"
	"github.com/pithecene-io/imitatoes/metrics"
	"github.com/pithecene-io/imitatoes/types"
)

// Defaults applied by the CLI when a value is not configured.
const (
	DefaultIterationsPerLoop = 1
	DefaultMaxLoops          = 3
	DefaultPollInterval      = 2 * time.Second
	DefaultPollTimeout       = 180 * time.Second
)

// WaitMode selects how the driver learns that a job finished.
type WaitMode string

const (
	// WaitPoll polls the completion index until the job appears.
	WaitPoll WaitMode = "poll"
	// WaitWebsocket blocks on backend progress events, then reads the
	// completion index. Falls back to polling when events are unavailable.
	WaitWebsocket WaitMode = "websocket"
)

// ParseWaitMode parses a wait mode name; empty means poll.
func ParseWaitMode(s string) (WaitMode, error) {
	switch WaitMode(strings.ToLower(strings.TrimSpace(s))) {
	case "", WaitPoll:
		return WaitPoll, nil
	case WaitWebsocket, "ws":
		return WaitWebsocket, nil
	default:
		return "", fmt.Errorf("unknown wait mode %q (want poll or websocket)", s)
	}
}

// Generator is the image-generation backend.
type Generator interface {
	// Submit queues a rendered job and returns its id.
	Submit(ctx context.Context, job json.RawMessage) (string, error)
	// PollCompletion looks the job up in the completion index. The boolean
	// is false while the job has not completed.
	PollCompletion(ctx context.Context, jobID string) (*types.Completion, bool, error)
	// FetchArtifact downloads an output file.
	FetchArtifact(ctx context.Context, ref types.ArtifactRef) ([]byte, error)
}

// CompletionWaiter is implemented by generators that can push completion
// events. It must return once the job finished or ctx is done.
type CompletionWaiter interface {
	WaitCompletion(ctx context.Context, jobID string) error
}

// LoopConfig configures a single loop run. It is read-only once passed to
// NewLoopOrchestrator.
type LoopConfig struct {
	// RunMeta is the run identity used in logs, records and reports.
	RunMeta *types.RunMeta
	// Template is the parsed job template with placeholder tokens.
	Template *comfy.Template
	// Initial is the state the first iteration generates from.
	Initial types.LoopState

	// IterationsPerLoop is the inner bound (>= 1).
	IterationsPerLoop int
	// MaxLoops is the outer bound (>= 1).
	MaxLoops int
	// PollInterval is the sleep between completion checks.
	PollInterval time.Duration
	// PollTimeout bounds the wait for a single job.
	PollTimeout time.Duration
	// WaitMode selects polling or websocket completion events.
	WaitMode WaitMode
	// DoneToken is the advisory token the reviewer is told to emit.
	DoneToken string
	// Tokens names the template placeholders. Empty names use the defaults.
	Tokens comfy.TokenSet

	// Generator submits jobs and fetches artifacts.
	Generator Generator
	// Critic reviews each artifact.
	Critic critique.Critic
	// Store persists images, critique snapshots and journal records.
	Store *lode.ArtifactStore

	// Collector records run metrics. Nil disables metrics.
	Collector *metrics.Collector
	// Logger receives run logs. Nil discards them.
	Logger *log.Logger
}

// Validate checks bounds and required collaborators.
func (c *LoopConfig) Validate() error {
	var errs []error
	if c.RunMeta == nil {
		errs = append(errs, errors.New("run metadata is required"))
	} else if err := c.RunMeta.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("invalid run metadata: %w", err))
	}
	if c.Template == nil {
		errs = append(errs, errors.New("workflow template is required"))
	}
	if c.IterationsPerLoop < 1 {
		errs = append(errs, fmt.Errorf("iterations per loop must be >= 1, got %d", c.IterationsPerLoop))
	}
	if c.MaxLoops < 1 {
		errs = append(errs, fmt.Errorf("max loops must be >= 1, got %d", c.MaxLoops))
	}
	if c.PollInterval <= 0 {
		errs = append(errs, fmt.Errorf("poll interval must be positive, got %s", c.PollInterval))
	}
	if c.PollTimeout <= 0 {
		errs = append(errs, fmt.Errorf("poll timeout must be positive, got %s", c.PollTimeout))
	}
	if _, err := ParseWaitMode(string(c.WaitMode)); err != nil {
		errs = append(errs, err)
	}
	if err := c.Tokens.WithDefaults().Validate(); err != nil {
		errs = append(errs, fmt.Errorf("invalid placeholder tokens: %w", err))
	}
	if c.Generator == nil {
		errs = append(errs, errors.New("generator is required"))
	}
	if c.Critic == nil {
		errs = append(errs, errors.New("critic is required"))
	}
	if c.Store == nil {
		errs = append(errs, errors.New("artifact store is required"))
	}
	return errors.Join(errs...)
}

// Budget is the maximum number of iterations the run may execute.
func (c *LoopConfig) Budget() int {
	return c.IterationsPerLoop * c.MaxLoops
}
