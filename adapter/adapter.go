// Package adapter defines the notification boundary: when a loop run
// ends, adapters tell downstream systems how it went.
package adapter

import (
	"context"
	"fmt"
	"time"
)

// EventTypeLoopCompleted is the only event type published.
const EventTypeLoopCompleted = "loop_completed"

// LoopCompletedEvent is the payload published when a run finishes,
// successfully or not.
type LoopCompletedEvent struct {
	Version    string `json:"version"`
	EventType  string `json:"event_type"`
	RunID      string `json:"run_id"`
	Workflow   string `json:"workflow"`
	Outcome    string `json:"outcome"`
	Message    string `json:"message"`
	ExitCode   int    `json:"exit_code"`
	Iterations int    `json:"iterations"`
	Loop       int    `json:"loop"`
	Iteration  int    `json:"iteration"`
	Reason     string `json:"reason,omitempty"`
	// FinalPrompt is the prompt of the accepted or last evolved state.
	FinalPrompt string `json:"final_prompt"`
	StoragePath string `json:"storage_path"`
	Timestamp   string `json:"timestamp"` // RFC 3339
	DurationMs  int64  `json:"duration_ms"`
}

// Adapter publishes loop completion events to a downstream system.
type Adapter interface {
	// Publish sends the event. Must respect context cancellation.
	Publish(ctx context.Context, event *LoopCompletedEvent) error

	// Close releases adapter resources.
	Close() error
}

// BaseBackoff is the delay before the first retry; it doubles per attempt.
const BaseBackoff = 500 * time.Millisecond

// Retry calls fn up to 1+retries times with exponential backoff between
// attempts. It stops early when fn succeeds, when permanent reports the
// error as non-retriable, or when ctx is done. name prefixes errors.
func Retry(ctx context.Context, name string, retries int, permanent func(error) bool, fn func(context.Context) error) error {
	attempts := 1 + retries
	var lastErr error
	for i := range attempts {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%s: context canceled: %w", name, err)
		}
		if i > 0 {
			timer := time.NewTimer(time.Duration(1<<uint(i-1)) * BaseBackoff)
			select {
			case <-ctx.Done():
				timer.Stop()
				return fmt.Errorf("%s: context canceled during backoff: %w", name, ctx.Err())
			case <-timer.C:
			}
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if permanent != nil && permanent(lastErr) {
			return fmt.Errorf("%s: non-retriable error: %w", name, lastErr)
		}
	}
	return fmt.Errorf("%s: failed after %d attempts: %w", name, attempts, lastErr)
}
