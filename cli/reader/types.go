// Package reader is the read side of the CLI: it turns the iteration
// journal persisted by a run back into views for inspect.
package reader

import (
	"encoding/json"
	"time"

	"github.com/pithecene-io/imitatoes/types"
)

// RunSummary describes the most recent run found in a store.
type RunSummary struct {
	RunID      string `json:"run_id"`
	Critic     string `json:"critic"`
	Location   string `json:"location"`
	Iterations int    `json:"iterations"`
	Loops      int    `json:"loops"`
	Done       bool   `json:"done"`
	LastReason string `json:"last_reason"`
	// FinalPrompt is the accepted prompt when done, else the evolved one.
	FinalPrompt   string    `json:"final_prompt"`
	FinalNegative string    `json:"final_negative_prompt"`
	FirstRecorded time.Time `json:"first_recorded"`
	LastRecorded  time.Time `json:"last_recorded"`
	// Stale counts records left behind by earlier runs in the same store.
	Stale int `json:"stale"`
}

// IterationRow is one line of the iteration history.
type IterationRow struct {
	Key          string `json:"key"`
	Loop         int    `json:"loop"`
	Iteration    int    `json:"iteration"`
	JobID        string `json:"job_id"`
	Done         bool   `json:"done"`
	CFG          string `json:"cfg"`
	Steps        string `json:"steps"`
	Seed         string `json:"seed"`
	Reason       string `json:"reason"`
	GenerationMs int64  `json:"generation_ms"`
	CritiqueMs   int64  `json:"critique_ms"`
}

// IterationDetail is everything persisted for one iteration.
type IterationDetail struct {
	Key            string           `json:"key"`
	RunID          string           `json:"run_id"`
	JobID          string           `json:"job_id"`
	Critic         string           `json:"critic"`
	Done           bool             `json:"done"`
	Reason         string           `json:"reason"`
	Prompt         string           `json:"prompt"`
	NegativePrompt string           `json:"negative_prompt"`
	State          types.LoopState  `json:"state"`
	Next           *types.LoopState `json:"next,omitempty"`
	Image          string           `json:"image"`
	ImageBytes     int              `json:"image_bytes"`
	Critique       Snapshot         `json:"critique"`
	Reply          string           `json:"reply"`
	RecordedAt     time.Time        `json:"recorded_at"`
}

// RunView bundles the summary and history for the interactive browser.
type RunView struct {
	Summary    *RunSummary    `json:"summary"`
	Iterations []IterationRow `json:"iterations"`
}

// Snapshot is a persisted critique document. It embeds as an object in
// JSON output and is decoded for YAML output.
type Snapshot []byte

// MarshalJSON implements json.Marshaler.
func (s Snapshot) MarshalJSON() ([]byte, error) {
	if len(s) == 0 {
		return []byte("null"), nil
	}
	return s, nil
}

// MarshalYAML implements yaml.Marshaler.
func (s Snapshot) MarshalYAML() (any, error) {
	var v any
	if err := json.Unmarshal(s, &v); err != nil {
		return string(s), nil
	}
	return v, nil
}

// String returns the document text.
func (s Snapshot) String() string { return string(s) }
