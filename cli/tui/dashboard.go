package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/justapithecus/stakeout/cli/reader"
)

// pollInterval is how often the dashboard refreshes from the store.
const pollInterval = 2 * time.Second

// keyMap defines dashboard key bindings.
type keyMap struct {
	Quit    key.Binding
	Refresh key.Binding
}

var keys = keyMap{
	Quit: key.NewBinding(
		key.WithKeys("q", "ctrl+c"),
		key.WithHelp("q", "quit"),
	),
	Refresh: key.NewBinding(
		key.WithKeys("r"),
		key.WithHelp("r", "refresh"),
	),
}

// snapshotMsg delivers one store poll to the model.
type snapshotMsg struct {
	snap *reader.StatusSnapshot
	err  error
}

// tickMsg requests the next poll. gen ties a tick to the chain that
// scheduled it so a manual refresh can orphan the in-flight one.
type tickMsg struct {
	gen int
}

// Dashboard is the Bubble Tea model behind stakeout status --watch.
type Dashboard struct {
	reader   *reader.Reader
	snap     *reader.StatusSnapshot
	err      error
	gen      int
	width    int
	height   int
	quitting bool
}

// NewDashboard creates the dashboard model.
func NewDashboard(rd *reader.Reader) Dashboard {
	return Dashboard{reader: rd}
}

// Init starts the first poll.
func (m Dashboard) Init() tea.Cmd {
	return m.poll
}

// poll reads one snapshot. It runs on the Bubble Tea command pool, so
// the store round-trip stays off the UI loop.
func (m Dashboard) poll() tea.Msg {
	ctx, cancel := context.WithTimeout(context.Background(), pollInterval)
	defer cancel()
	snap, err := m.reader.Status(ctx)
	return snapshotMsg{snap: snap, err: err}
}

func (m Dashboard) tick() tea.Cmd {
	gen := m.gen
	return tea.Tick(pollInterval, func(time.Time) tea.Msg {
		return tickMsg{gen: gen}
	})
}

// Update handles messages.
func (m Dashboard) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case snapshotMsg:
		// A failed poll keeps the previous snapshot on screen.
		if msg.err != nil {
			m.err = msg.err
		} else {
			m.snap = msg.snap
			m.err = nil
		}
		return m, m.tick()

	case tickMsg:
		if msg.gen != m.gen {
			return m, nil
		}
		return m, m.poll

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, keys.Quit):
			m.quitting = true
			return m, tea.Quit
		case key.Matches(msg, keys.Refresh):
			m.gen++
			return m, m.poll
		}
	}

	return m, nil
}

// View renders the dashboard.
func (m Dashboard) View() string {
	if m.quitting {
		return ""
	}
	if m.snap == nil {
		if m.err != nil {
			return ErrorStyle.Render(fmt.Sprintf("Error: %v", m.err)) +
				HelpStyle.Render("\nPress q to quit, r to retry")
		}
		return TitleStyle.Render("Stakeout") + "\n" + HelpStyle.Render("Loading...")
	}

	var b strings.Builder
	b.WriteString(TitleStyle.Render("Stakeout"))
	b.WriteString("\n")
	b.WriteString(m.renderCounters())
	b.WriteString("\n\n")
	b.WriteString(m.renderBotGrid())
	b.WriteString("\n")
	b.WriteString(m.renderRecentTasks())

	if m.err != nil {
		b.WriteString("\n")
		b.WriteString(ErrorStyle.Render(fmt.Sprintf("refresh failed: %v", m.err)))
	}

	b.WriteString(HelpStyle.Render(fmt.Sprintf(
		"\nPress q to quit, r to refresh. Updated %s.",
		m.snap.CollectedAt.Local().Format("15:04:05"),
	)))
	return b.String()
}

func (m Dashboard) renderCounters() string {
	boxes := []string{
		m.renderStatBox("Trackers", m.snap.Trackers, highlightColor),
		m.renderStatBox("Alive", m.snap.Alive, successColor),
		m.renderStatBox("Progress", m.snap.Progress, warningColor),
		m.renderStatBox("Failing", m.snap.Failing, errorColor),
		m.renderStatBox("Crashed", m.snap.Crashed, errorColor),
		m.renderStatBox("Archived", m.snap.Archived, mutedColor),
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, boxes...)
}

func (m Dashboard) renderStatBox(label string, value int, color lipgloss.Color) string {
	boxStyle := StatBoxStyle.BorderForeground(color)

	valueStr := StatValueStyle.Foreground(color).Render(fmt.Sprintf("%d", value))
	labelStr := StatLabelStyle.Render(label)

	content := lipgloss.JoinVertical(lipgloss.Center, valueStr, labelStr)

	return boxStyle.Render(content)
}

func (m Dashboard) renderBotGrid() string {
	var b strings.Builder
	b.WriteString(TitleStyle.Render("Bots by family"))
	b.WriteString("\n")

	if len(m.snap.Bots) == 0 {
		b.WriteString(MutedStyle.Render("(no bots)"))
		b.WriteString("\n")
		return b.String()
	}
	for _, cell := range m.snap.Bots {
		b.WriteString(fmt.Sprintf("%s %s %s\n",
			LabelStyle.Render(cell.Family),
			StatusStyle(cell.Status).Render(fmt.Sprintf("%-10s", cell.Status)),
			ValueStyle.Render(fmt.Sprintf("%d", cell.Count)),
		))
	}
	return b.String()
}

func (m Dashboard) renderRecentTasks() string {
	var b strings.Builder
	b.WriteString(TitleStyle.Render("Recent tasks"))
	b.WriteString("\n")

	if len(m.snap.RecentTasks) == 0 {
		b.WriteString(MutedStyle.Render("(no tasks)"))
		b.WriteString("\n")
		return b.String()
	}
	for _, task := range m.snap.RecentTasks {
		line := fmt.Sprintf("%s %s %s %s",
			LabelStyle.Render(fmt.Sprintf("task %d", task.TaskID)),
			StatusStyle(task.Status).Render(fmt.Sprintf("%-10s", task.Status)),
			MutedStyle.Render(task.StartTime.Local().Format("15:04:05")),
			ValueStyle.Render(task.Family),
		)
		if task.FailReason != "" {
			line += " " + ErrorStyle.Render(truncate(task.FailReason, 48))
		}
		b.WriteString(line)
		b.WriteString("\n")
	}
	return b.String()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

// RunDashboard blocks inside the live dashboard until the user quits.
func RunDashboard(rd *reader.Reader) error {
	p := tea.NewProgram(NewDashboard(rd), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
