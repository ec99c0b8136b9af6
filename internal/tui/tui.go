// Package tui is the terminal dashboard: device state, the channel table
// and a log pane, driven by single-key actions.
package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/shaunagostinho/adacon/internal/adacom"
	"github.com/shaunagostinho/adacon/internal/control"
)

const maxLogLines = 200

// Controller is the set of intents the dashboard fires. *control.Controller
// implements it.
type Controller interface {
	Connect()
	Disconnect()
	Select(ch int)
	Shift(delta int)
	StepSelected(up bool)
	SelectedToMax()
	SelectedToMin()
	AllToMax()
	AllToMin()
	Solo()
	SoloStep()
}

type snapshotMsg control.Snapshot

type logMsg string

// Model is the Bubble Tea model.
type Model struct {
	ctrl    Controller
	updates <-chan control.Snapshot
	logs    <-chan string

	keys keyMap
	help help.Model

	snap     control.Snapshot
	haveSnap bool
	logLines []string

	width    int
	height   int
	quitting bool
}

// New creates the model. updates and logs may be nil.
func New(ctrl Controller, updates <-chan control.Snapshot, logs <-chan string) Model {
	return Model{
		ctrl:    ctrl,
		updates: updates,
		logs:    logs,
		keys:    defaultKeyMap(),
		help:    help.New(),
		snap:    control.Snapshot{Selected: -1},
		width:   80,
		height:  24,
	}
}

// Run shows the dashboard until the user quits or ctx is cancelled.
func Run(ctx context.Context, m Model) error {
	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := p.Run()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}

func waitForSnapshot(ch <-chan control.Snapshot) tea.Cmd {
	if ch == nil {
		return nil
	}
	return func() tea.Msg {
		s, ok := <-ch
		if !ok {
			return nil
		}
		return snapshotMsg(s)
	}
}

func waitForLog(ch <-chan string) tea.Cmd {
	if ch == nil {
		return nil
	}
	return func() tea.Msg {
		l, ok := <-ch
		if !ok {
			return nil
		}
		return logMsg(l)
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(waitForSnapshot(m.updates), waitForLog(m.logs))
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.help.Width = msg.Width

	case snapshotMsg:
		m.snap = control.Snapshot(msg)
		m.haveSnap = true
		return m, waitForSnapshot(m.updates)

	case logMsg:
		m.logLines = append(m.logLines, string(msg))
		if len(m.logLines) > maxLogLines {
			m.logLines = m.logLines[len(m.logLines)-maxLogLines:]
		}
		return m, waitForLog(m.logs)
	}
	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	k := m.keys
	switch {
	case key.Matches(msg, k.Quit):
		m.quitting = true
		return m, tea.Quit
	case key.Matches(msg, k.Connect):
		m.ctrl.Connect()
	case key.Matches(msg, k.Disconnect):
		m.ctrl.Disconnect()
	case key.Matches(msg, k.AllMax):
		m.ctrl.AllToMax()
	case key.Matches(msg, k.AllMin):
		m.ctrl.AllToMin()
	case key.Matches(msg, k.SoloStep):
		m.ctrl.SoloStep()
	case key.Matches(msg, k.Solo):
		m.ctrl.Solo()
	case key.Matches(msg, k.Up):
		m.ctrl.StepSelected(true)
	case key.Matches(msg, k.Down):
		m.ctrl.StepSelected(false)
	case key.Matches(msg, k.Max):
		m.ctrl.SelectedToMax()
	case key.Matches(msg, k.Min):
		m.ctrl.SelectedToMin()
	case key.Matches(msg, k.Left):
		m.ctrl.Shift(-1)
	case key.Matches(msg, k.Right):
		m.ctrl.Shift(1)
	case key.Matches(msg, k.Select):
		m.ctrl.Select(int(msg.Runes[0] - '1'))
	case msg.String() == "?":
		m.help.ShowAll = !m.help.ShowAll
	}
	return m, nil
}

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("12")).
			Background(lipgloss.Color("235")).
			Padding(0, 1)

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("12")).
			Bold(true)

	valueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("10"))

	mutedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))

	selectedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("0")).
			Background(lipgloss.Color("12"))

	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240")).
			Padding(0, 1)
)

func stateStyle(s adacom.State) lipgloss.Style {
	switch s {
	case adacom.StateConnected:
		return valueStyle
	case adacom.StateConnecting:
		return lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	case adacom.StateError:
		return lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	default:
		return mutedStyle
	}
}

func (m Model) View() string {
	if m.quitting {
		return "Shutting down...\n"
	}

	var s strings.Builder
	s.WriteString(titleStyle.Render("ADACON"))
	s.WriteString(mutedStyle.Render(" | Adaura Controller"))
	s.WriteString("\n\n")

	top := lipgloss.JoinHorizontal(lipgloss.Top, m.renderInfo(), " ", m.renderChannels())
	s.WriteString(top)
	s.WriteString("\n")
	s.WriteString(m.renderLog())
	s.WriteString("\n")
	s.WriteString(m.help.View(m.keys))
	return s.String()
}

func (m Model) renderInfo() string {
	snap := m.snap
	or := func(v string) string {
		if v == "" {
			return "-"
		}
		return v
	}
	channels := "-"
	if snap.Info.Channels > 0 {
		channels = fmt.Sprintf("%d", snap.Info.Channels)
	}
	state := snap.State.String()
	if snap.Busy {
		state += " *"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s %s\n", labelStyle.Render("State:   "), stateStyle(snap.State).Render(state))
	fmt.Fprintf(&b, "%s %s\n", labelStyle.Render("Model:   "), valueStyle.Render(or(snap.Info.Model)))
	fmt.Fprintf(&b, "%s %s\n", labelStyle.Render("S/N:     "), valueStyle.Render(or(snap.Info.SerialNumber)))
	fmt.Fprintf(&b, "%s %s", labelStyle.Render("Channels:"), valueStyle.Render(channels))
	return boxStyle.Render(b.String())
}

func (m Model) renderChannels() string {
	snap := m.snap
	if len(snap.Attenuations) == 0 {
		return boxStyle.Render(mutedStyle.Render("(no channels)"))
	}
	known := snap.State == adacom.StateConnected
	rows := make([]string, len(snap.Attenuations))
	for i, v := range snap.Attenuations {
		value := "    --   "
		if known {
			value = fmt.Sprintf("%6.2f dB", v)
		}
		row := fmt.Sprintf(" CH%02d %s ", i+1, value)
		if i == snap.Selected {
			row = selectedStyle.Render(row)
		}
		rows[i] = row
	}
	return boxStyle.Render(strings.Join(rows, "\n"))
}

func (m Model) renderLog() string {
	height := m.height - 14
	if height < 3 {
		height = 3
	}
	lines := m.logLines
	if len(lines) > height {
		lines = lines[len(lines)-height:]
	}
	content := mutedStyle.Render("  (no events yet)")
	if len(lines) > 0 {
		content = strings.Join(lines, "\n")
	}
	width := m.width - 4
	if width < 20 {
		width = 20
	}
	return boxStyle.Width(width).Render(content)
}
