package log

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/pithecene-io/imitatoes/types"
)

func TestLogger_IncludesRunContext(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter(&types.RunMeta{RunID: "run-1", Workflow: "wf.json"}, &buf)

	logger.Info("iteration complete", map[string]any{"loop": 1, "iteration": 2})

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("decode log line %q: %v", buf.String(), err)
	}
	if entry["run_id"] != "run-1" || entry["workflow"] != "wf.json" {
		t.Errorf("missing run context: %v", entry)
	}
	if entry["level"] != "info" || entry["message"] != "iteration complete" {
		t.Errorf("unexpected entry: %v", entry)
	}
	fields, ok := entry["fields"].(map[string]any)
	if !ok || fields["iteration"] != float64(2) {
		t.Errorf("fields = %v", entry["fields"])
	}
}

func TestSugar(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter(&types.RunMeta{RunID: "run-3", Workflow: "wf.json"}, &buf)

	logger.Sugar().With("stage", "critique").Errorf("reviewer failed: %s", "boom")

	out := buf.String()
	for _, want := range []string{`"level":"error"`, "reviewer failed: boom", `"stage":"critique"`} {
		if !strings.Contains(out, want) {
			t.Errorf("output %q missing %s", out, want)
		}
	}
}

func TestNop(t *testing.T) {
	Nop().Info("discarded", map[string]any{"k": "v"})
}
