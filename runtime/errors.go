package runtime

import (
	"errors"
	"fmt"

	"github.com/pithecene-io/imitatoes/types"
)

var (
	// ErrJobTimeout means a submitted job did not complete before the poll
	// deadline.
	ErrJobTimeout = errors.New("job timeout")
	// ErrNoArtifact means a completed job referenced no output image.
	ErrNoArtifact = errors.New("no artifact")
)

// Stage names the loop step a failure happened in.
type Stage string

// Loop stages in execution order.
const (
	StageRender   Stage = "render"
	StageSubmit   Stage = "submit"
	StageAwait    Stage = "await"
	StageFetch    Stage = "fetch"
	StageCritique Stage = "critique"
	StageParse    Stage = "parse"
	StagePersist  Stage = "persist"
)

// RunError is the fatal failure of a loop run. It carries enough context
// to resume manually: where it stopped and the state it was generating.
type RunError struct {
	Stage     Stage
	Loop      int
	Iteration int
	// JobID is empty when the failure happened before submission.
	JobID     string
	LastState types.LoopState
	Err       error
}

func (e *RunError) Error() string {
	job := ""
	if e.JobID != "" {
		job = " job " + e.JobID
	}
	return fmt.Sprintf("loop %d iteration %d%s: %s: %v", e.Loop, e.Iteration, job, e.Stage, e.Err)
}

// Unwrap returns the underlying error so errors.Is matches the failure kind.
func (e *RunError) Unwrap() error { return e.Err }
