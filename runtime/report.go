package runtime

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/pithecene-io/imitatoes/metrics"
	"github.com/pithecene-io/imitatoes/types"
)

// RunReport is the structured JSON report written by --report.
type RunReport struct {
	RunID      string              `json:"run_id"`
	Workflow   string              `json:"workflow"`
	Version    string              `json:"version"`
	Outcome    types.OutcomeStatus `json:"outcome"`
	Message    string              `json:"message"`
	ExitCode   int                 `json:"exit_code"`
	DurationMs int64               `json:"duration_ms"`

	Iterations int              `json:"iterations"`
	Budget     int              `json:"budget"`
	Loop       int              `json:"loop"`
	Iteration  int              `json:"iteration"`
	Reason     string           `json:"reason,omitempty"`
	FinalState *types.LoopState `json:"final_state"`

	Storage *ReportStorage    `json:"storage"`
	Failure *ReportFailure    `json:"failure,omitempty"`
	Metrics *metrics.Snapshot `json:"metrics"`
}

// ReportStorage locates the run's artifacts.
type ReportStorage struct {
	Backend  string   `json:"backend"`
	Location string   `json:"location"`
	Files    []string `json:"files"`
}

// ReportFailure is the resume context of a failed run.
type ReportFailure struct {
	Stage     Stage           `json:"stage"`
	Loop      int             `json:"loop"`
	Iteration int             `json:"iteration"`
	JobID     string          `json:"job_id,omitempty"`
	LastState types.LoopState `json:"last_state"`
	Error     string          `json:"error"`
}

// BuildRunReport composes a RunReport from a LoopResult and metrics snapshot.
// The exitCode is the process exit code that will be returned to the caller.
func BuildRunReport(result *LoopResult, config *LoopConfig, snap metrics.Snapshot, exitCode int) *RunReport {
	final := result.FinalState.Clone()
	files := result.Files
	if files == nil {
		files = []string{}
	}
	report := &RunReport{
		RunID:      result.RunMeta.RunID,
		Workflow:   result.RunMeta.Workflow,
		Version:    types.Version,
		Outcome:    result.Outcome,
		Message:    result.Message,
		ExitCode:   exitCode,
		DurationMs: result.Duration.Milliseconds(),
		Iterations: result.Iterations,
		Budget:     config.Budget(),
		Loop:       result.Last.Loop,
		Iteration:  result.Last.Iteration,
		Reason:     result.Reason,
		FinalState: &final,
		Storage: &ReportStorage{
			Backend:  string(config.Store.Backend()),
			Location: config.Store.Location(),
			Files:    files,
		},
		Metrics: &snap,
	}

	if f := result.Failure; f != nil {
		report.Failure = &ReportFailure{
			Stage:     f.Stage,
			Loop:      f.Loop,
			Iteration: f.Iteration,
			JobID:     f.JobID,
			LastState: f.LastState.Clone(),
			Error:     f.Err.Error(),
		}
	}
	return report
}

// WriteRunReport writes the report as JSON to the specified path.
// If path is "-", writes to stderr.
func WriteRunReport(report *RunReport, path string) error {
	if path == "" {
		return errors.New("report path must not be empty")
	}

	if path == "-" {
		if err := writeRunReportTo(report, os.Stderr); err != nil {
			return fmt.Errorf("failed to write report to stderr: %w", err)
		}
		return nil
	}

	data, err := marshalReport(report)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write report to %s: %w", path, err)
	}
	return nil
}

func writeRunReportTo(report *RunReport, w io.Writer) error {
	data, err := marshalReport(report)
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

func marshalReport(report *RunReport) ([]byte, error) {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal report: %w", err)
	}
	return append(data, '\n'), nil
}
