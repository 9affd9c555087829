// Package ui renders a live view of the executors of a running firmware.
package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"

	"ember/internal/executor"
)

// ExecutorRow is one executor in a snapshot.
type ExecutorRow struct {
	Name  string
	Core  int
	Stats executor.Stats
}

// Snapshot is the state of the firmware at one instant.
type Snapshot struct {
	Elapsed   time.Duration
	Executors []ExecutorRow
	Note      string
}

type taskViewModel struct {
	title     string
	duration  time.Duration
	snapshots <-chan Snapshot
	spinner   spinner.Model
	prog      progress.Model
	rows      []row
	index     map[string]int
	note      string
	width     int
	done      bool
}

type row struct {
	ExecutorRow
	status string
}

type snapshotMsg Snapshot
type doneMsg struct{}

// NewTaskViewModel returns a Bubble Tea model that renders executor counters
// as snapshots arrive. The model quits when snapshots is closed. duration is
// the expected run time and drives the progress bar; zero hides it.
func NewTaskViewModel(title string, duration time.Duration, snapshots <-chan Snapshot) tea.Model {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("6"))

	prog := progress.New(progress.WithDefaultGradient())
	prog.Width = 76

	return &taskViewModel{
		title:     title,
		duration:  duration,
		snapshots: snapshots,
		spinner:   sp,
		prog:      prog,
		index:     make(map[string]int),
		width:     80,
	}
}

func (m *taskViewModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.listen())
}

func (m *taskViewModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case snapshotMsg:
		cmd := m.apply(Snapshot(msg))
		return m, tea.Batch(cmd, m.listen())
	case doneMsg:
		m.done = true
		for i := range m.rows {
			if m.rows[i].status != "done" {
				m.rows[i].status = "stopped"
			}
		}
		return m, tea.Quit
	case spinner.TickMsg:
		if m.done {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	case tea.KeyMsg:
		if msg.String() == "ctrl+c" || msg.String() == "q" {
			return m, tea.Quit
		}
		return m, nil
	case tea.WindowSizeMsg:
		if msg.Width > 0 {
			m.width = msg.Width
			m.prog.Width = msg.Width - 4
		}
		return m, nil
	case progress.FrameMsg:
		progressModel, cmd := m.prog.Update(msg)
		m.prog = progressModel.(progress.Model)
		return m, cmd
	}
	return m, nil
}

func (m *taskViewModel) View() string {
	titleStyle := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("7"))
	header := m.title
	if m.note != "" {
		header = fmt.Sprintf("%s (%s)", header, m.note)
	}
	if m.done {
		header = fmt.Sprintf("done: %s", header)
	} else {
		header = fmt.Sprintf("%s %s", m.spinner.View(), header)
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render(header))
	b.WriteString("\n\n")

	nameWidth := m.width - 12 - 6*9 - 4
	if nameWidth < 12 {
		nameWidth = 12
	}
	b.WriteString(fmt.Sprintf("  %12s %-*s %4s %8s %8s %8s %8s %8s\n",
		"status", nameWidth, "executor", "core", "polls", "resumes", "live", "busy", "idle"))
	for _, r := range m.rows {
		status := styleStatus(r.status).Render(fmt.Sprintf("%12s", r.status))
		name := runewidth.FillRight(truncate(r.Name, nameWidth), nameWidth)
		st := r.Stats
		b.WriteString(fmt.Sprintf("  %s %s %4d %8d %8d %8d %8d %8d\n",
			status, name, r.Core, st.Polls, st.Resumes, st.Spawned-st.Ended, st.Busy, st.Idles))
	}

	if m.duration > 0 {
		b.WriteString("\n")
		if m.done {
			b.WriteString(m.prog.ViewAs(1.0))
		} else {
			b.WriteString(m.prog.View())
		}
		b.WriteString("\n")
	}
	return b.String()
}

func (m *taskViewModel) listen() tea.Cmd {
	return func() tea.Msg {
		snap, ok := <-m.snapshots
		if !ok {
			return doneMsg{}
		}
		return snapshotMsg(snap)
	}
}

func (m *taskViewModel) apply(snap Snapshot) tea.Cmd {
	if snap.Note != "" {
		m.note = snap.Note
	}
	for _, ex := range snap.Executors {
		idx, ok := m.index[ex.Name]
		if !ok {
			idx = len(m.rows)
			m.index[ex.Name] = idx
			m.rows = append(m.rows, row{ExecutorRow: ex, status: "starting"})
		}
		prev := m.rows[idx].Stats
		m.rows[idx].ExecutorRow = ex
		m.rows[idx].status = statusOf(prev, ex.Stats)
	}
	if m.duration <= 0 {
		return nil
	}
	pct := float64(snap.Elapsed) / float64(m.duration)
	if pct > 1 {
		pct = 1
	}
	return m.prog.SetPercent(pct)
}

func statusOf(prev, cur executor.Stats) string {
	switch {
	case cur.Spawned > 0 && cur.Spawned == cur.Ended:
		return "done"
	case cur.Resumes > prev.Resumes:
		return "running"
	case cur.Spawned == 0:
		return "starting"
	default:
		return "idle"
	}
}

func styleStatus(status string) lipgloss.Style {
	switch status {
	case "done":
		return lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	case "stopped":
		return lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
	case "running":
		return lipgloss.NewStyle().Foreground(lipgloss.Color("6"))
	default:
		return lipgloss.NewStyle().Foreground(lipgloss.Color("7"))
	}
}

func truncate(value string, width int) string {
	if width <= 0 {
		return value
	}
	if runewidth.StringWidth(value) <= width {
		return value
	}
	if width <= 3 {
		return runewidth.Truncate(value, width, "")
	}
	return runewidth.Truncate(value, width-3, "...")
}
