// Package types defines core domain types for the imitatoes loop: the
// mutable loop state, parsed critiques and run identity.
//
//nolint:revive // types is a common Go package naming convention
package types

import (
	"errors"
	"fmt"
	"time"
)

// RunMeta identifies one loop run.
type RunMeta struct {
	// RunID is the run identifier, unique per invocation.
	RunID string
	// Workflow is the path of the job template the run was started with.
	Workflow string
	// StartedAt is the wall-clock start of the run.
	StartedAt time.Time
}

// Validate checks that the run identity is usable for logging and reports.
func (r *RunMeta) Validate() error {
	if r.RunID == "" {
		return errors.New("run_id must be non-empty")
	}
	if r.Workflow == "" {
		return fmt.Errorf("run %s: workflow must be non-empty", r.RunID)
	}
	return nil
}

// OutcomeStatus is the terminal classification of a run.
type OutcomeStatus string

const (
	// OutcomeDone means a critique reported done=true.
	OutcomeDone OutcomeStatus = "done"
	// OutcomeBudgetExhausted means every loop and iteration ran without done=true.
	OutcomeBudgetExhausted OutcomeStatus = "budget_exhausted"
	// OutcomeJobTimeout means a generation job never completed in time.
	OutcomeJobTimeout OutcomeStatus = "job_timeout"
	// OutcomeNoArtifact means a completed job referenced no image.
	OutcomeNoArtifact OutcomeStatus = "no_artifact"
	// OutcomeMalformedCritique means no JSON object could be extracted.
	OutcomeMalformedCritique OutcomeStatus = "malformed_critique"
	// OutcomeCanceled means the run context was canceled (signal).
	OutcomeCanceled OutcomeStatus = "canceled"
	// OutcomeBackendError covers transport, provider and storage failures.
	OutcomeBackendError OutcomeStatus = "backend_error"
)

// Terminal reports whether the status ended the run without a fatal error.
func (s OutcomeStatus) Terminal() bool {
	return s == OutcomeDone || s == OutcomeBudgetExhausted
}
