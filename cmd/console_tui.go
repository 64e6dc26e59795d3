// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/Thermoquad/zwserial/pkg/driver"
	"github.com/Thermoquad/zwserial/pkg/frame"
	"github.com/Thermoquad/zwserial/pkg/session"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// Event log entry
type logEntry struct {
	timestamp time.Time
	message   string
	isError   bool
}

// consoleModel is the Bubble Tea model for the console TUI
type consoleModel struct {
	sender   commander
	connInfo string
	stats    func() driver.Stats
	started  time.Time

	// Fed by the link, drained on every tick
	traffic     <-chan string
	unsolicited <-chan *session.Command
	quit        chan struct{}

	input     textinput.Model
	logView   viewport.Model
	entries   []logEntry
	lastStats driver.Stats

	width          int
	height         int
	pending        bool
	quitting       bool
	connectionLost bool
}

func newConsoleModel(sender commander, connInfo string, stats func() driver.Stats) consoleModel {
	ti := textinput.New()
	ti.Placeholder = "GET_VERSION"
	ti.Prompt = "> "
	ti.CharLimit = 512
	ti.Width = 60
	ti.Focus()

	return consoleModel{
		sender:   sender,
		connInfo: connInfo,
		stats:    stats,
		started:  time.Now(),
		quit:     make(chan struct{}),
		input:    ti,
		logView:  viewport.New(76, 12),
		width:    80,
		height:   24,
	}
}

func (m consoleModel) Init() tea.Cmd {
	return tea.Batch(consoleTickCmd(), textinput.Blink)
}

func (m consoleModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKeyMsg(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.resize()

	case consoleTickMsg:
		m.drain()
		if m.stats != nil {
			m.lastStats = m.stats()
		}
		return m, consoleTickCmd()

	case commandDoneMsg:
		m.pending = false
		m.logExchange(msg)

	case connectionLostMsg:
		m.connectionLost = true
		m.addLogEntry("Connection lost", true)
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m consoleModel) handleKeyMsg(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c", "esc":
		m.quitting = true
		return m, tea.Quit

	case "enter":
		return m.submit()

	case "pgup", "pgdown":
		var cmd tea.Cmd
		m.logView, cmd = m.logView.Update(msg)
		return m, cmd
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// submit parses the input line and starts the exchange
func (m consoleModel) submit() (tea.Model, tea.Cmd) {
	line := strings.TrimSpace(m.input.Value())
	if line == "" {
		return m, nil
	}
	if m.connectionLost {
		m.addLogEntry("Cannot send command: connection lost", true)
		return m, nil
	}
	if m.pending {
		m.addLogEntry("Previous command still pending", true)
		return m, nil
	}

	req, err := parseConsoleLine(line)
	if err != nil {
		m.addLogEntry(err.Error(), true)
		return m, nil
	}

	m.input.SetValue("")
	m.pending = true
	m.addLogEntry(fmt.Sprintf("%s (0x%02X) % X [%s]", frame.FormatCommand(req.command), req.command, req.payload, req.flags), false)
	return m, exchangeCmd(m.sender, req, consoleWait)
}

// drain moves queued traffic and unsolicited requests into the log
func (m *consoleModel) drain() {
	for {
		select {
		case line := <-m.traffic:
			m.addLogEntry(line, false)
		case c := <-m.unsolicited:
			m.addLogEntry("Unsolicited "+c.String(), false)
		default:
			return
		}
	}
}

func (m *consoleModel) logExchange(msg commandDoneMsg) {
	if msg.result.response != nil {
		m.addLogEntry(fmt.Sprintf("Response % X", msg.result.response.Payload), false)
	}
	if msg.result.callback != nil {
		m.addLogEntry("Callback "+msg.result.callback.String(), false)
	}
	if msg.err != nil {
		m.addLogEntry(msg.err.Error(), true)
	} else if msg.result.response == nil && msg.result.callback == nil {
		m.addLogEntry(fmt.Sprintf("%s acknowledged", frame.FormatCommand(msg.result.command)), false)
	}
}

func (m *consoleModel) addLogEntry(message string, isError bool) {
	m.entries = append(m.entries, logEntry{
		timestamp: time.Now(),
		message:   message,
		isError:   isError,
	})
	if len(m.entries) > maxConsoleLines {
		m.entries = m.entries[len(m.entries)-maxConsoleLines:]
	}
	m.refreshLog()
}

func (m *consoleModel) refreshLog() {
	headerStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	errorStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	infoStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("11"))

	var s strings.Builder
	for _, entry := range m.entries {
		icon, style := "i", infoStyle
		if entry.isError {
			icon, style = "x", errorStyle
		}
		fmt.Fprintf(&s, "%s %s %s\n",
			headerStyle.Render(entry.timestamp.Format("15:04:05.000")),
			style.Render(icon),
			entry.message)
	}
	m.logView.SetContent(s.String())
	m.logView.GotoBottom()
}

// resize fits the log between the header block and the input line
func (m *consoleModel) resize() {
	m.logView.Width = max(m.width-4, 20)
	m.logView.Height = max(m.height-12, 5)
	m.input.Width = max(m.width-8, 10)
	m.refreshLog()
}

func (m consoleModel) View() string {
	if m.quitting {
		return "Shutting down...\n"
	}

	titleStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("12")).
		Background(lipgloss.Color("235")).
		Padding(0, 1)

	headerStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("241"))

	statsLabelStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("12")).
		Bold(true)

	statsValueStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("10"))

	errorStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("9")).
		Bold(true)

	warningStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("11"))

	boxStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("240")).
		Padding(0, 1)

	var s strings.Builder
	s.WriteString(titleStyle.Render("ZWSERIAL CONSOLE"))
	s.WriteString(" ")
	connStatus := m.connInfo
	if m.connectionLost {
		connStatus = warningStyle.Render("CONNECTION LOST")
	}
	s.WriteString(headerStyle.Render(fmt.Sprintf("| %s | up %s | Esc=quit", connStatus, formatUptime(time.Since(m.started)))))
	s.WriteString("\n\n")

	link, sess := m.lastStats.Link, m.lastStats.Session
	errors := link.ChecksumErrors + link.SendFailures + link.SendTimeouts + link.TransportFails
	errStyle := statsValueStyle
	if errors > 0 {
		errStyle = errorStyle
	}

	var stats strings.Builder
	fmt.Fprintf(&stats, "%s %s   %s %s   %s %s   %s %s\n",
		statsLabelStyle.Render("Rx:"), statsValueStyle.Render(fmt.Sprintf("%d", link.FramesReceived)),
		statsLabelStyle.Render("Tx:"), statsValueStyle.Render(fmt.Sprintf("%d", link.FramesSent)),
		statsLabelStyle.Render("Resends:"), statsValueStyle.Render(fmt.Sprintf("%d", link.Resends)),
		statsLabelStyle.Render("Errors:"), errStyle.Render(fmt.Sprintf("%d", errors)),
	)
	fmt.Fprintf(&stats, "%s %s   %s %s   %s %s   %s %s",
		statsLabelStyle.Render("Commands:"), statsValueStyle.Render(fmt.Sprintf("%d", sess.Commands)),
		statsLabelStyle.Render("Failed:"), statsValueStyle.Render(fmt.Sprintf("%d", sess.Failures)),
		statsLabelStyle.Render("Callbacks:"), statsValueStyle.Render(fmt.Sprintf("%d", sess.Callbacks)),
		statsLabelStyle.Render("Unsolicited:"), statsValueStyle.Render(fmt.Sprintf("%d", sess.Unsolicited)),
	)
	s.WriteString(boxStyle.Render(stats.String()))
	s.WriteString("\n")

	if len(m.entries) == 0 {
		m.logView.SetContent(headerStyle.Render("  (no events yet)"))
	}
	s.WriteString(boxStyle.Width(m.width - 2).Render(m.logView.View()))
	s.WriteString("\n")

	s.WriteString(m.input.View())
	if m.pending {
		s.WriteString(warningStyle.Render("  waiting..."))
	}
	return s.String()
}

// formatUptime formats a duration as "1 day, 2 hours and 5 seconds"
func formatUptime(d time.Duration) string {
	seconds := int64(d / time.Second)
	if seconds <= 0 {
		return "0 seconds"
	}

	units := []struct {
		name string
		size int64
	}{
		{"day", 86400},
		{"hour", 3600},
		{"minute", 60},
		{"second", 1},
	}

	var parts []string
	for _, u := range units {
		n := seconds / u.size
		seconds %= u.size
		switch {
		case n == 1:
			parts = append(parts, "1 "+u.name)
		case n > 1:
			parts = append(parts, fmt.Sprintf("%d %ss", n, u.name))
		}
	}

	if len(parts) == 1 {
		return parts[0]
	}
	last := parts[len(parts)-1]
	return strings.Join(parts[:len(parts)-1], ", ") + " and " + last
}
