package runtime

import (
	"context"
	"errors"

	"github.com/pithecene-io/imitatoes/critique"
	"github.com/pithecene-io/imitatoes/types"
)

// Process exit codes for each outcome.
const (
	ExitCodeSuccess           = 0 // done or budget exhausted
	ExitCodeError             = 1 // backend, storage or configuration failure
	ExitCodeJobTimeout        = 2
	ExitCodeNoArtifact        = 3
	ExitCodeMalformedCritique = 4
)

// ClassifyError maps a run failure to its outcome status.
// A nil error is treated as budget exhaustion.
func ClassifyError(err error) types.OutcomeStatus {
	switch {
	case err == nil:
		return types.OutcomeBudgetExhausted
	case errors.Is(err, ErrJobTimeout):
		return types.OutcomeJobTimeout
	case errors.Is(err, ErrNoArtifact):
		return types.OutcomeNoArtifact
	case errors.Is(err, critique.ErrMalformedCritique):
		return types.OutcomeMalformedCritique
	case errors.Is(err, context.Canceled):
		return types.OutcomeCanceled
	default:
		return types.OutcomeBackendError
	}
}

// ExitCode maps an outcome status to the process exit code.
func ExitCode(status types.OutcomeStatus) int {
	if status.Terminal() {
		return ExitCodeSuccess
	}
	switch status {
	case types.OutcomeJobTimeout:
		return ExitCodeJobTimeout
	case types.OutcomeNoArtifact:
		return ExitCodeNoArtifact
	case types.OutcomeMalformedCritique:
		return ExitCodeMalformedCritique
	default:
		return ExitCodeError
	}
}
