// Package tui provides the BubbleTea-based terminal user interface.
package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"github.com/jmylchreest/archsense/internal/adapter/output"
	"github.com/jmylchreest/archsense/internal/config"
	"github.com/jmylchreest/archsense/internal/model"
	"github.com/jmylchreest/archsense/internal/protocol"
)

// Client sends commands to archsensed.
type Client interface {
	Exec(ctx context.Context, cmd protocol.Command) (*model.Snapshot, []protocol.Warning, error)
}

// Mode represents the current UI mode.
type Mode int

const (
	ModeMain Mode = iota
	ModeHelp
)

// Model is the main TUI model.
type Model struct {
	cfg    *config.Config
	client Client

	mode     Mode
	help     help.Model
	keys     KeyMap
	controls []control
	cursor   int

	snap      *model.Snapshot
	lastErr   error
	width     int
	height    int
	ready     bool

	// Status message
	statusMsg string
	statusErr bool
}

// New creates a new TUI model.
func New(cfg *config.Config, client Client) Model {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	return Model{
		cfg:      cfg,
		client:   client,
		mode:     ModeMain,
		help:     help.New(),
		keys:     DefaultKeyMap(),
		controls: controls(),
	}
}

// stateMsg carries the result of a round trip to the daemon.
type stateMsg struct {
	snap     *model.Snapshot
	warnings []protocol.Warning
	err      error
	command  protocol.Tag // empty for a background refresh
}

type tickMsg time.Time

type statusMsg struct {
	text  string
	isErr bool
}

type clearStatusMsg struct{}

type copyResultMsg struct {
	err error
}

// Init initializes the TUI.
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.send(protocol.GetState{}, false), m.tick())
}

func (m Model) tick() tea.Cmd {
	return tea.Tick(m.cfg.TUI.Refresh.Duration(), func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// send runs cmd against the daemon. Refreshes are not reported as
// commands so a failing poll does not flood the status bar.
func (m Model) send(cmd protocol.Command, userInitiated bool) tea.Cmd {
	client := m.client
	timeout := m.cfg.Timeout.Duration()
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		snap, warnings, err := client.Exec(ctx, cmd)
		msg := stateMsg{snap: snap, warnings: warnings, err: err}
		if userInitiated {
			msg.command = cmd.Tag()
		}
		return msg
	}
}

// Update handles messages and updates the model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.help.Width = msg.Width
		m.ready = true
		return m, nil

	case tickMsg:
		return m, tea.Batch(m.send(protocol.GetState{}, false), m.tick())

	case stateMsg:
		return m.handleState(msg)

	case statusMsg:
		m.statusMsg = msg.text
		m.statusErr = msg.isErr
		return m, tea.Tick(3*time.Second, func(t time.Time) tea.Msg {
			return clearStatusMsg{}
		})

	case clearStatusMsg:
		m.statusMsg = ""
		m.statusErr = false
		return m, nil

	case copyResultMsg:
		if msg.err != nil {
			return m, status("Copy failed: "+msg.err.Error(), true)
		}
		return m, status("Copied state to clipboard", false)
	}

	return m, nil
}

func (m Model) handleState(msg stateMsg) (tea.Model, tea.Cmd) {
	if msg.err != nil {
		if msg.command == "" {
			// Background refresh: keep the last good state and show the
			// connection problem in the header.
			m.lastErr = msg.err
			return m, nil
		}
		return m, status(describeError(msg.command, msg.err), true)
	}

	m.lastErr = nil
	if m.snap == nil || msg.snap.Revision >= m.snap.Revision || msg.command != "" {
		m.snap = msg.snap
	}

	if len(msg.warnings) > 0 {
		texts := make([]string, len(msg.warnings))
		for i, w := range msg.warnings {
			texts[i] = w.Message
		}
		return m, status("Warning: "+strings.Join(texts, "; "), true)
	}
	return m, nil
}

func describeError(tag protocol.Tag, err error) string {
	var cmdErr *model.CommandError
	if errors.As(err, &cmdErr) {
		switch cmdErr.Kind {
		case model.KindUnavailable:
			return fmt.Sprintf("%s: hardware busy, try again", tag)
		case model.KindUnsupported:
			return fmt.Sprintf("%s: not supported on this machine", tag)
		}
		return fmt.Sprintf("%s: %s", tag, cmdErr.Message)
	}
	return fmt.Sprintf("%s: %v", tag, err)
}

func status(text string, isErr bool) tea.Cmd {
	return func() tea.Msg {
		return statusMsg{text: text, isErr: isErr}
	}
}

// handleKey handles key presses.
func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		return m, tea.Quit
	case key.Matches(msg, m.keys.Help):
		if m.mode == ModeHelp {
			m.mode = ModeMain
		} else {
			m.mode = ModeHelp
		}
		return m, nil
	}

	if m.mode == ModeHelp {
		if key.Matches(msg, m.keys.Back) {
			m.mode = ModeMain
		}
		return m, nil
	}

	switch {
	case key.Matches(msg, m.keys.Up):
		if m.cursor > 0 {
			m.cursor--
		}
		return m, nil

	case key.Matches(msg, m.keys.Down):
		if m.cursor < len(m.controls)-1 {
			m.cursor++
		}
		return m, nil

	case key.Matches(msg, m.keys.Refresh):
		return m, m.send(protocol.GetState{}, true)

	case key.Matches(msg, m.keys.Copy):
		return m, m.copyState()
	}

	if m.snap == nil {
		return m, status("Not connected to archsensed", true)
	}

	switch {
	case key.Matches(msg, m.keys.Increase), key.Matches(msg, m.keys.Toggle):
		return m, m.adjust(m.controls[m.cursor], 1)
	case key.Matches(msg, m.keys.Decrease):
		return m, m.adjust(m.controls[m.cursor], -1)
	case key.Matches(msg, m.keys.CycleFan):
		return m, m.adjust(control{kind: controlFan}, 1)
	case key.Matches(msg, m.keys.CycleUsb):
		return m, m.adjust(control{kind: controlUsb}, 1)
	case key.Matches(msg, m.keys.CycleThermal):
		return m, m.adjust(control{kind: controlThermal}, 1)
	}

	return m, nil
}

func (m Model) adjust(c control, dir int) tea.Cmd {
	cmd, err := c.adjust(m.snap, dir)
	if err != nil {
		return status(err.Error(), true)
	}
	if cmd == nil {
		return nil
	}
	return m.send(cmd, true)
}

func (m Model) copyState() tea.Cmd {
	if m.snap == nil {
		return status("Nothing to copy yet", true)
	}
	var sb strings.Builder
	if err := output.NewYAMLFormatter(output.DefaultFormatterOptions()).Format(&sb, m.snap); err != nil {
		return status("Failed to marshal YAML: "+err.Error(), true)
	}
	cfg := m.cfg
	text := sb.String()
	return func() tea.Msg {
		return copyResultMsg{err: copyText(text, cfg)}
	}
}

var (
	titleStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	labelStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	selectedStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("10"))
	valueStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("7"))
	disabledStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("8")).Strikethrough(true)
	errorStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	panelStyle    = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("8")).Padding(0, 1)
)

// View renders the TUI.
func (m Model) View() string {
	if !m.ready {
		return "Initializing..."
	}
	if m.mode == ModeHelp {
		return m.viewHelp()
	}
	return m.viewMain()
}

func (m Model) viewMain() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("archsense"))
	if m.snap != nil {
		b.WriteString(labelStyle.Render(fmt.Sprintf("  rev %d", m.snap.Revision)))
	}
	b.WriteString("\n")

	if m.snap == nil {
		if m.lastErr != nil {
			b.WriteString(errorStyle.Render("Cannot reach archsensed: "+m.lastErr.Error()) + "\n")
		} else {
			b.WriteString(labelStyle.Render("Connecting...") + "\n")
		}
		b.WriteString("\n" + m.help.View(m.keys))
		return b.String()
	}

	b.WriteString(panelStyle.Render(m.viewControls()))
	b.WriteString("\n")
	b.WriteString(panelStyle.Render(m.viewTelemetry()))
	b.WriteString("\n")

	switch {
	case m.statusMsg != "":
		style := valueStyle
		if m.statusErr {
			style = errorStyle
		}
		b.WriteString(style.Render(m.statusMsg))
	case m.lastErr != nil:
		b.WriteString(errorStyle.Render("Connection lost: " + m.lastErr.Error()))
	case m.cfg.TUI.ShowHelp:
		b.WriteString(m.help.View(m.keys))
	}

	return b.String()
}

func (m Model) viewControls() string {
	var lines []string
	for i, c := range m.controls {
		label := fmt.Sprintf("%-20s", c.label())
		var value string
		if !m.snap.Supports(c.capability()) {
			value = disabledStyle.Render("unsupported")
		} else {
			value = valueStyle.Render(c.value(m.snap))
		}

		if i == m.cursor {
			lines = append(lines, selectedStyle.Render("> "+label)+value)
		} else {
			lines = append(lines, "  "+labelStyle.Render(label)+value)
		}
	}
	return strings.Join(lines, "\n")
}

func (m Model) viewTelemetry() string {
	t := m.snap.Telemetry
	temp := "n/a"
	if t.CPUTempC > 0 {
		temp = fmt.Sprintf("%.0f°C", t.CPUTempC)
	}
	line := fmt.Sprintf("%s %s", labelStyle.Render("CPU"), temp)
	if t.GPUTempC > 0 {
		line += fmt.Sprintf("   %s %.0f°C", labelStyle.Render("GPU"), t.GPUTempC)
	}
	line += fmt.Sprintf("   %s cpu %d%% gpu %d%%",
		labelStyle.Render("Fans"), t.CPUFanPercent, t.GPUFanPercent)
	if !t.UpdatedAt.IsZero() {
		line += "   " + labelStyle.Render("updated "+humanize.Time(t.UpdatedAt))
	}
	return line
}

func (m Model) viewHelp() string {
	sectionStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("8"))

	s := titleStyle.MarginBottom(1).Render("Keyboard Shortcuts") + "\n\n"
	s += sectionStyle.Render("Controls") + "\n"
	m.help.ShowAll = true
	s += m.help.View(m.keys) + "\n\n"
	s += sectionStyle.Render("Brightness moves in steps of 10%. Colour is only available in static, breathing, shifting and zoom modes.") + "\n\n"
	s += sectionStyle.Render("Press ? or esc to return")
	return s
}

// RunOptions configures the TUI.
type RunOptions struct {
	Config *config.Config
	Client Client
}

// Run starts the TUI with the given options.
func Run(opts RunOptions) error {
	if opts.Client == nil {
		return fmt.Errorf("no daemon client")
	}
	p := tea.NewProgram(New(opts.Config, opts.Client), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
