package tui

import (
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/pithecene-io/imitatoes/cli/reader"
	"github.com/pithecene-io/imitatoes/types"
)

func TestIsTUISupported(t *testing.T) {
	tests := []struct {
		viewType string
		want     bool
	}{
		{ViewRun, true},
		{ViewIteration, true},
		{"inspect_job", false},
		{"run", false},
		{"version", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(tt.viewType, func(t *testing.T) {
			if got := IsTUISupported(tt.viewType); got != tt.want {
				t.Errorf("IsTUISupported(%q) = %v, want %v", tt.viewType, got, tt.want)
			}
		})
	}
}

func TestRun_Rejects(t *testing.T) {
	if err := Run("run", nil); err == nil {
		t.Error("expected error for unsupported view type")
	}
	if err := Run(ViewRun, "not a view"); err == nil {
		t.Error("expected error for wrong payload type")
	}
	if err := Run(ViewIteration, (*reader.IterationDetail)(nil)); err == nil {
		t.Error("expected error for nil payload")
	}
}

func testView() *reader.RunView {
	return &reader.RunView{
		Summary: &reader.RunSummary{
			RunID:       "run-1",
			Critic:      "ollama/llava",
			Iterations:  3,
			Loops:       3,
			Done:        true,
			FinalPrompt: "fox\nsnow",
			Stale:       2,
		},
		Iterations: []reader.IterationRow{
			{Key: "loop_01_iter_01", Reason: "too dark"},
			{Key: "loop_02_iter_01", Reason: "needs snow", Seed: "42"},
			{Key: "loop_03_iter_01", Done: true, Reason: "looks right"},
		},
	}
}

func press(m tea.Model, k string) tea.Model {
	var msg tea.KeyMsg
	switch k {
	case "up":
		msg = tea.KeyMsg{Type: tea.KeyUp}
	case "down":
		msg = tea.KeyMsg{Type: tea.KeyDown}
	default:
		msg = tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(k)}
	}
	next, _ := m.Update(msg)
	return next
}

func TestRunModel_Navigation(t *testing.T) {
	var m tea.Model = NewRunModel(testView())
	if got := m.(RunModel).Cursor(); got != 2 {
		t.Fatalf("initial cursor = %d, want 2", got)
	}

	m = press(m, "down")
	if got := m.(RunModel).Cursor(); got != 2 {
		t.Errorf("cursor moved past end: %d", got)
	}
	m = press(press(m, "up"), "k")
	if got := m.(RunModel).Cursor(); got != 0 {
		t.Errorf("cursor = %d, want 0", got)
	}
	m = press(m, "up")
	if got := m.(RunModel).Cursor(); got != 0 {
		t.Errorf("cursor moved before start: %d", got)
	}

	view := m.View()
	for _, want := range []string{"run-1", "too dark", "2 records from earlier runs", "fox | snow"} {
		if !strings.Contains(view, want) {
			t.Errorf("view missing %q", want)
		}
	}
}

func TestRunModel_Quit(t *testing.T) {
	next, cmd := NewRunModel(testView()).Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	if cmd == nil {
		t.Fatal("expected quit command")
	}
	if next.View() != "" {
		t.Error("view should be empty after quit")
	}
}

func TestIterationModel_View(t *testing.T) {
	seed := int64(9)
	m := NewIterationModel(&reader.IterationDetail{
		Key:      "loop_02_iter_01",
		RunID:    "run-1",
		Image:    "loop_02_iter_01.png",
		Prompt:   "fox\nsnow",
		State:    types.LoopState{Prompt: "fox\nsnow", Seed: &seed},
		Critique: []byte(`{"done": true}`),
		Done:     true,
	})

	view := m.View()
	for _, want := range []string{"loop_02_iter_01", "seed=9", `{"done": true}`, "done"} {
		if !strings.Contains(view, want) {
			t.Errorf("view missing %q:\n%s", want, view)
		}
	}
}

func TestOneLine(t *testing.T) {
	if got := oneLine(" a\nb ", 0); got != "a | b" {
		t.Errorf("oneLine = %q", got)
	}
	if got := oneLine("abcdef", 4); got != "abc…" {
		t.Errorf("oneLine truncated = %q", got)
	}
}
