package tui

import (
	"fmt"
	"slices"
)

const (
	// ViewRun browses the iteration history of the latest run.
	ViewRun = "inspect_run"
	// ViewIteration shows one iteration with its critique.
	ViewIteration = "inspect_iteration"
)

// Run starts the browser for viewType.
func Run(viewType string, data any) error {
	if !IsTUISupported(viewType) {
		return fmt.Errorf("TUI mode is not supported for %s", viewType)
	}
	model, err := newModel(viewType, data)
	if err != nil {
		return err
	}
	return runProgram(model)
}

// IsTUISupported reports whether viewType has an interactive view.
// Only read-only inspect views do.
func IsTUISupported(viewType string) bool {
	return slices.Contains(SupportedTUIViews(), viewType)
}

// SupportedTUIViews lists the view types with an interactive view.
func SupportedTUIViews() []string {
	return []string{ViewRun, ViewIteration}
}
