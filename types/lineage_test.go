package types //nolint:revive // types is a valid package name

import (
	"testing"
)

func TestRunMeta_Validate(t *testing.T) {
	tests := []struct {
		name    string
		meta    RunMeta
		wantErr bool
	}{
		{
			name:    "empty run_id",
			meta:    RunMeta{RunID: "", Workflow: "wf.json"},
			wantErr: true,
		},
		{
			name:    "empty workflow",
			meta:    RunMeta{RunID: "run-001"},
			wantErr: true,
		},
		{
			name:    "valid",
			meta:    RunMeta{RunID: "run-001", Workflow: "wf.json"},
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.meta.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestOutcomeStatus_Terminal(t *testing.T) {
	tests := []struct {
		status OutcomeStatus
		want   bool
	}{
		{OutcomeDone, true},
		{OutcomeBudgetExhausted, true},
		{OutcomeJobTimeout, false},
		{OutcomeNoArtifact, false},
		{OutcomeMalformedCritique, false},
		{OutcomeCanceled, false},
		{OutcomeBackendError, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			if got := tt.status.Terminal(); got != tt.want {
				t.Errorf("Terminal() = %v, want %v", got, tt.want)
			}
		})
	}
}
