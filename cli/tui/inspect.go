package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/pithecene-io/imitatoes/cli/reader"
)

type keyMap struct {
	Up   key.Binding
	Down key.Binding
	Quit key.Binding
}

func (k keyMap) ShortHelp() []key.Binding { return []key.Binding{k.Up, k.Down, k.Quit} }

func (k keyMap) FullHelp() [][]key.Binding { return [][]key.Binding{k.ShortHelp()} }

var keys = keyMap{
	Up: key.NewBinding(
		key.WithKeys("up", "k"),
		key.WithHelp("↑/k", "up"),
	),
	Down: key.NewBinding(
		key.WithKeys("down", "j"),
		key.WithHelp("↓/j", "down"),
	),
	Quit: key.NewBinding(
		key.WithKeys("q", "esc", "ctrl+c"),
		key.WithHelp("q", "quit"),
	),
}

func newModel(viewType string, data any) (tea.Model, error) {
	switch viewType {
	case ViewRun:
		view, ok := data.(*reader.RunView)
		if !ok || view == nil || view.Summary == nil {
			return nil, fmt.Errorf("invalid data type for %s: %T", viewType, data)
		}
		return NewRunModel(view), nil
	case ViewIteration:
		detail, ok := data.(*reader.IterationDetail)
		if !ok || detail == nil {
			return nil, fmt.Errorf("invalid data type for %s: %T", viewType, data)
		}
		return NewIterationModel(detail), nil
	default:
		return nil, fmt.Errorf("unknown view type: %s", viewType)
	}
}

func runProgram(model tea.Model) error {
	_, err := tea.NewProgram(model, tea.WithAltScreen()).Run()
	return err
}

// RunModel lists a run's iterations with a cursor; the selected row's
// parameters and reason are shown below the list.
type RunModel struct {
	view     *reader.RunView
	cursor   int
	help     help.Model
	quitting bool
}

// NewRunModel creates a run browser positioned on the last iteration.
func NewRunModel(view *reader.RunView) RunModel {
	return RunModel{
		view:   view,
		cursor: max(len(view.Iterations)-1, 0),
		help:   help.New(),
	}
}

// Init implements tea.Model.
func (m RunModel) Init() tea.Cmd { return nil }

// Update implements tea.Model.
func (m RunModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.help.Width = msg.Width
	case tea.KeyMsg:
		switch {
		case key.Matches(msg, keys.Quit):
			m.quitting = true
			return m, tea.Quit
		case key.Matches(msg, keys.Up):
			if m.cursor > 0 {
				m.cursor--
			}
		case key.Matches(msg, keys.Down):
			if m.cursor < len(m.view.Iterations)-1 {
				m.cursor++
			}
		}
	}
	return m, nil
}

// Cursor is the index of the selected iteration.
func (m RunModel) Cursor() int { return m.cursor }

// View implements tea.Model.
func (m RunModel) View() string {
	if m.quitting {
		return ""
	}
	s := m.view.Summary

	var b strings.Builder
	b.WriteString(TitleStyle.Render("Run " + s.RunID))
	b.WriteString("\n")
	field(&b, "Critic", s.Critic)
	field(&b, "Location", s.Location)
	b.WriteString(fmt.Sprintf("%s %s\n", LabelStyle.Render("Status:"), DoneStyle(s.Done).Render(status(s.Done))))
	field(&b, "Iterations", fmt.Sprintf("%d over %d loops", s.Iterations, s.Loops))
	if s.Stale > 0 {
		field(&b, "Stale", fmt.Sprintf("%d records from earlier runs", s.Stale))
	}
	b.WriteString("\n")

	for i, row := range m.view.Iterations {
		line := fmt.Sprintf("%s  %-6s  %s", row.Key, status(row.Done), oneLine(row.Reason, 56))
		if i == m.cursor {
			b.WriteString(SelectedStyle.Render("> " + line))
		} else {
			b.WriteString("  " + DoneStyle(row.Done).Render(line))
		}
		b.WriteString("\n")
	}

	if m.cursor < len(m.view.Iterations) {
		row := m.view.Iterations[m.cursor]
		b.WriteString("\n")
		field(&b, "Job", row.JobID)
		field(&b, "Params", fmt.Sprintf("cfg=%s steps=%s seed=%s", orDash(row.CFG), orDash(row.Steps), orDash(row.Seed)))
		field(&b, "Timing", fmt.Sprintf("generate %dms, critique %dms", row.GenerationMs, row.CritiqueMs))
		field(&b, "Reason", row.Reason)
	}
	if s.Done {
		b.WriteString("\n")
		field(&b, "Final prompt", oneLine(s.FinalPrompt, 0))
	}

	return BoxStyle.Render(b.String()) + "\n" + HelpStyle.Render(m.help.View(keys))
}

// IterationModel shows one iteration; the critique and prompts scroll in
// a viewport.
type IterationModel struct {
	detail   *reader.IterationDetail
	viewport viewport.Model
	help     help.Model
	quitting bool
}

// NewIterationModel creates the iteration view.
func NewIterationModel(detail *reader.IterationDetail) IterationModel {
	vp := viewport.New(100, 40)
	vp.SetContent(iterationBody(detail))
	return IterationModel{detail: detail, viewport: vp, help: help.New()}
}

// Init implements tea.Model.
func (m IterationModel) Init() tea.Cmd { return nil }

// Update implements tea.Model.
func (m IterationModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.viewport.Width = msg.Width
		m.viewport.Height = max(msg.Height-8, 4)
		m.help.Width = msg.Width
	case tea.KeyMsg:
		if key.Matches(msg, keys.Quit) {
			m.quitting = true
			return m, tea.Quit
		}
	}
	var cmd tea.Cmd
	m.viewport, cmd = m.viewport.Update(msg)
	return m, cmd
}

// View implements tea.Model.
func (m IterationModel) View() string {
	if m.quitting {
		return ""
	}
	d := m.detail
	header := TitleStyle.Render(fmt.Sprintf("%s  %s", d.Key, DoneStyle(d.Done).Render(status(d.Done))))
	return header + "\n" + m.viewport.View() + "\n" + HelpStyle.Render(m.help.View(keys))
}

func iterationBody(d *reader.IterationDetail) string {
	var b strings.Builder
	field(&b, "Run", d.RunID)
	field(&b, "Job", d.JobID)
	field(&b, "Critic", d.Critic)
	field(&b, "Image", fmt.Sprintf("%s (%d bytes)", d.Image, d.ImageBytes))
	field(&b, "Params", fmt.Sprintf("cfg=%s steps=%s seed=%s",
		orDash(d.State.CFGString()), orDash(d.State.StepsString()), orDash(d.State.SeedString())))
	field(&b, "Reason", d.Reason)

	section(&b, "Prompt", d.Prompt)
	section(&b, "Negative", d.NegativePrompt)
	section(&b, "Critique", string(d.Critique))
	if d.Next != nil {
		section(&b, "Next prompt", d.Next.Prompt)
	}
	return b.String()
}

func field(b *strings.Builder, label, value string) {
	fmt.Fprintf(b, "%s %s\n", LabelStyle.Render(label+":"), ValueStyle.Render(value))
}

func section(b *strings.Builder, title, body string) {
	b.WriteString("\n")
	b.WriteString(TitleStyle.Render(title))
	b.WriteString("\n")
	b.WriteString(strings.TrimRight(body, "\n"))
	b.WriteString("\n")
}

func status(done bool) string {
	if done {
		return "done"
	}
	return "evolve"
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// oneLine joins prompt lines and truncates to limit runes (0 = no limit).
func oneLine(s string, limit int) string {
	s = strings.ReplaceAll(strings.TrimSpace(s), "\n", " | ")
	if r := []rune(s); limit > 0 && len(r) > limit {
		return string(r[:limit-1]) + "…"
	}
	return s
}
