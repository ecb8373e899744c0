// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Cogni-Robot/servo-controller/pkg/recorder"
	"github.com/Cogni-Robot/servo-controller/pkg/st3215"
	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

//////////////////////////////////////////////////////////////
// Types
//////////////////////////////////////////////////////////////

// Event log entry
type eventLogEntry struct {
	timestamp time.Time
	message   string
	isError   bool // true for errors, false for information
}

// servoBus is the part of *st3215.Bus the monitor uses
type servoBus interface {
	ReadTelemetry(ctx context.Context, id uint8) (*st3215.Telemetry, error)
	ReadValue(ctx context.Context, id uint8, reg st3215.Register) (int, error)
	EnableTorque(ctx context.Context, id uint8, enable bool) error
	Stats() st3215.Statistics
	ResetStats()
}

// monitorModel is the Bubble Tea model for the live monitor
type monitorModel struct {
	ctx      context.Context
	bus      servoBus
	recorder *recorder.Writer
	connInfo string
	interval time.Duration
	limits   st3215.Limits

	// Servo tracking
	ids    []uint8
	latest map[uint8]*st3215.Telemetry
	table  table.Model
	polls  int

	eventLog      []eventLogEntry
	maxLogEntries int

	// UI state
	started  time.Time
	width    int
	height   int
	quitting bool
}

//////////////////////////////////////////////////////////////
// Messages
//////////////////////////////////////////////////////////////

type tickMsg time.Time

type telemetryMsg struct {
	snapshots []*st3215.Telemetry
	err       error
}

type torqueMsg struct {
	id      uint8
	enabled bool
	err     error
}

//////////////////////////////////////////////////////////////
// Model
//////////////////////////////////////////////////////////////

var monitorColumns = []table.Column{
	{Title: "ID", Width: 4},
	{Title: "Position", Width: 9},
	{Title: "Speed", Width: 8},
	{Title: "Load %", Width: 7},
	{Title: "Volt V", Width: 7},
	{Title: "Curr mA", Width: 8},
	{Title: "Temp °C", Width: 8},
	{Title: "State", Width: 22},
}

func newMonitorModel(ctx context.Context, bus servoBus, ids []uint8, connInfo string, interval time.Duration, rec *recorder.Writer) monitorModel {
	t := table.New(
		table.WithColumns(monitorColumns),
		table.WithFocused(true),
		table.WithHeight(len(ids)+1),
	)
	styles := table.DefaultStyles()
	styles.Header = styles.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("240")).
		BorderBottom(true).
		Bold(true)
	styles.Selected = styles.Selected.
		Foreground(lipgloss.Color("229")).
		Background(lipgloss.Color("57"))
	t.SetStyles(styles)

	m := monitorModel{
		ctx:           ctx,
		bus:           bus,
		recorder:      rec,
		connInfo:      connInfo,
		interval:      interval,
		limits:        st3215.DefaultLimits(),
		ids:           ids,
		latest:        make(map[uint8]*st3215.Telemetry),
		table:         t,
		eventLog:      make([]eventLogEntry, 0),
		maxLogEntries: 100,
		started:       time.Now(),
		width:         80,
		height:        24,
	}
	m.table.SetRows(m.rows())
	return m
}

func (m monitorModel) Init() tea.Cmd {
	return tea.Batch(
		pollTelemetry(m.ctx, m.bus, m.ids),
		tea.EnterAltScreen,
	)
}

func tickCmd(d time.Duration) tea.Cmd {
	return tea.Tick(d, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// pollTelemetry reads every servo once. The next poll is scheduled when the
// result arrives, so polls never overlap.
func pollTelemetry(ctx context.Context, bus servoBus, ids []uint8) tea.Cmd {
	return func() tea.Msg {
		snapshots := make([]*st3215.Telemetry, 0, len(ids))
		for _, id := range ids {
			t, err := bus.ReadTelemetry(ctx, id)
			if err != nil {
				return telemetryMsg{snapshots: snapshots, err: err}
			}
			snapshots = append(snapshots, t)
		}
		return telemetryMsg{snapshots: snapshots}
	}
}

// toggleTorque reads TORQUE_ENABLE and writes the opposite
func toggleTorque(ctx context.Context, bus servoBus, id uint8) tea.Cmd {
	return func() tea.Msg {
		v, err := bus.ReadValue(ctx, id, st3215.RegTorqueEnable)
		if err != nil {
			return torqueMsg{id: id, err: err}
		}
		enable := v == st3215.TorqueOff
		if err := bus.EnableTorque(ctx, id, enable); err != nil {
			return torqueMsg{id: id, err: err}
		}
		return torqueMsg{id: id, enabled: enable}
	}
}

func (m monitorModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKeyMsg(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case tickMsg:
		if m.ctx.Err() != nil {
			return m, nil
		}
		return m, pollTelemetry(m.ctx, m.bus, m.ids)

	case telemetryMsg:
		m.handleTelemetry(msg)
		if msg.err != nil && m.ctx.Err() != nil {
			m.quitting = true
			return m, tea.Quit
		}
		return m, tickCmd(m.interval)

	case torqueMsg:
		if msg.err != nil {
			m.addLogEntry(fmt.Sprintf("Servo %d: torque toggle failed: %s", msg.id, describeError(msg.err)), true)
		} else if msg.enabled {
			m.addLogEntry(fmt.Sprintf("Servo %d: torque on", msg.id), false)
		} else {
			m.addLogEntry(fmt.Sprintf("Servo %d: torque off", msg.id), false)
		}
	}

	return m, nil
}

func (m monitorModel) handleKeyMsg(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		m.quitting = true
		return m, tea.Quit

	case "t":
		if id, ok := m.selectedID(); ok {
			return m, toggleTorque(m.ctx, m.bus, id)
		}
		return m, nil

	case "r":
		m.bus.ResetStats()
		m.addLogEntry("Statistics reset", false)
		return m, nil
	}

	var cmd tea.Cmd
	m.table, cmd = m.table.Update(msg)
	return m, cmd
}

// selectedID returns the servo under the table cursor
func (m monitorModel) selectedID() (uint8, bool) {
	i := m.table.Cursor()
	if i < 0 || i >= len(m.ids) {
		return 0, false
	}
	return m.ids[i], true
}

func (m *monitorModel) handleTelemetry(msg telemetryMsg) {
	m.polls++
	for _, t := range msg.snapshots {
		prev := m.latest[t.ID]
		m.latest[t.ID] = t

		// Log transitions only, not every poll
		if t.Failed() > 0 && (prev == nil || prev.Failed() == 0) {
			m.addLogEntry(fmt.Sprintf("Servo %d: %d of %d fields failed", t.ID, t.Failed(), len(t.Fields())), true)
		}
		if t.Failed() == 0 && prev != nil && prev.Failed() > 0 {
			m.addLogEntry(fmt.Sprintf("Servo %d: recovered", t.ID), false)
		}
		if len(st3215.ValidateTelemetry(t, m.limits)) > 0 && (prev == nil || len(st3215.ValidateTelemetry(prev, m.limits)) == 0) {
			for _, issue := range st3215.ValidateTelemetry(t, m.limits) {
				m.addLogEntry(issue.Message, true)
			}
		}

		if m.recorder != nil {
			if err := m.recorder.WriteTelemetry(t); err != nil {
				m.addLogEntry(fmt.Sprintf("Recording failed: %v", err), true)
				m.recorder = nil
			}
		}
	}

	if msg.err != nil {
		m.addLogEntry(fmt.Sprintf("Poll failed: %v", msg.err), true)
	}
	m.table.SetRows(m.rows())
}

func (m *monitorModel) addLogEntry(message string, isError bool) {
	entry := eventLogEntry{
		timestamp: time.Now(),
		message:   message,
		isError:   isError,
	}
	m.eventLog = append(m.eventLog, entry)

	// Keep only last N entries
	if len(m.eventLog) > m.maxLogEntries {
		m.eventLog = m.eventLog[len(m.eventLog)-m.maxLogEntries:]
	}
}

// rows renders the latest telemetry of every servo
func (m monitorModel) rows() []table.Row {
	rows := make([]table.Row, 0, len(m.ids))
	for _, id := range m.ids {
		t, ok := m.latest[id]
		if !ok {
			rows = append(rows, table.Row{fmt.Sprint(id), "-", "-", "-", "-", "-", "-", "waiting"})
			continue
		}
		rows = append(rows, table.Row{
			fmt.Sprint(id),
			cell(t.Position, "%.0f"),
			cell(t.Speed, "%.0f"),
			cell(t.Load, "%.1f"),
			cell(t.Voltage, "%.1f"),
			cell(t.Current, "%.0f"),
			cell(t.Temperature, "%.0f"),
			servoState(t, m.limits),
		})
	}
	return rows
}

func cell(r st3215.Reading, format string) string {
	if r.Err != nil {
		return "ERR"
	}
	return fmt.Sprintf(format, r.Value)
}

// servoState summarizes a snapshot in one short word
func servoState(t *st3215.Telemetry, limits st3215.Limits) string {
	switch {
	case t.Failed() == len(t.Fields()):
		return "no reply"
	case t.Failed() > 0:
		return fmt.Sprintf("%d field(s) failed", t.Failed())
	}
	if issues := st3215.ValidateTelemetry(t, limits); len(issues) > 0 {
		return issues[0].Type.String()
	}
	return "ok"
}

//////////////////////////////////////////////////////////////
// View
//////////////////////////////////////////////////////////////

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("12")).
			Background(lipgloss.Color("235")).
			Padding(0, 1)

	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))

	statsLabelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("12")).
			Bold(true)

	statsValueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("10"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("9")).
			Bold(true)

	warningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("11"))

	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240")).
			Padding(0, 1)
)

func (m monitorModel) View() string {
	if m.quitting {
		return "Shutting down...\n"
	}

	// Header
	var s strings.Builder
	s.WriteString(titleStyle.Render("SERVOCTL - MONITOR"))
	s.WriteString("\n")
	s.WriteString(headerStyle.Render(fmt.Sprintf("%s | Poll: %v | Up: %s | ↑/↓ select, t torque, r reset stats, q quit",
		m.connInfo, m.interval, formatUptime(uint64(time.Since(m.started).Milliseconds())))))
	s.WriteString("\n\n")

	s.WriteString(boxStyle.Render(m.table.View()))
	s.WriteString("\n\n")

	// Statistics
	stats := m.bus.Stats()
	stats.CalculateRates()
	var completedPercent float64
	if stats.Transactions > 0 {
		completedPercent = float64(stats.Completed) * 100.0 / float64(stats.Transactions)
	}

	statsContent := strings.Builder{}
	statsContent.WriteString(fmt.Sprintf("%s %s   %s %s   %s %s\n",
		statsLabelStyle.Render("Transactions:"), statsValueStyle.Render(fmt.Sprintf("%d", stats.Transactions)),
		statsLabelStyle.Render("Completed:"), statsValueStyle.Render(fmt.Sprintf("%d (%.1f%%)", stats.Completed, completedPercent)),
		statsLabelStyle.Render("Errors:"), errorStyle.Render(fmt.Sprintf("%d", stats.Errors())),
	))

	if stats.Timeouts > 0 || stats.ChecksumErrors > 0 || stats.Malformed > 0 {
		statsContent.WriteString(fmt.Sprintf("%s %s   %s %s   %s %s\n",
			statsLabelStyle.Render("Timeouts:"), errorStyle.Render(fmt.Sprintf("%d", stats.Timeouts)),
			statsLabelStyle.Render("Checksum:"), errorStyle.Render(fmt.Sprintf("%d", stats.ChecksumErrors)),
			statsLabelStyle.Render("Malformed:"), errorStyle.Render(fmt.Sprintf("%d", stats.Malformed)),
		))
	}

	if stats.StatusErrors > 0 || stats.Retries > 0 {
		statsContent.WriteString(fmt.Sprintf("%s %s   %s %s\n",
			statsLabelStyle.Render("Servo Errors:"), warningStyle.Render(fmt.Sprintf("%d", stats.StatusErrors)),
			statsLabelStyle.Render("Retries:"), warningStyle.Render(fmt.Sprintf("%d", stats.Retries)),
		))
	}

	statsContent.WriteString(fmt.Sprintf("%s %s   %s %s",
		statsLabelStyle.Render("Rate:"), statsValueStyle.Render(fmt.Sprintf("%.1f tx/s", stats.TransactionRate)),
		statsLabelStyle.Render("Error Rate:"), func() string {
			if stats.ErrorRate > 0 {
				return errorStyle.Render(fmt.Sprintf("%.1f err/s", stats.ErrorRate))
			}
			return statsValueStyle.Render(fmt.Sprintf("%.1f err/s", stats.ErrorRate))
		}(),
	))
	if m.recorder != nil {
		statsContent.WriteString(fmt.Sprintf("   %s %s",
			statsLabelStyle.Render("Recorded:"), statsValueStyle.Render(fmt.Sprintf("%d", m.recorder.Samples())),
		))
	}

	s.WriteString(boxStyle.Render(statsContent.String()))
	s.WriteString("\n\n")

	// Event log
	s.WriteString(statsLabelStyle.Render("Recent Events:"))
	s.WriteString("\n")

	// Calculate how many log entries we can show
	logHeight := m.height - len(m.ids) - 16 // Reserve space for header, table and stats
	if logHeight < 5 {
		logHeight = 5
	}

	logContent := strings.Builder{}
	startIdx := len(m.eventLog) - logHeight
	if startIdx < 0 {
		startIdx = 0
	}

	if len(m.eventLog) == 0 {
		logContent.WriteString(headerStyle.Render("  (no events yet)"))
	} else {
		for i := startIdx; i < len(m.eventLog); i++ {
			entry := m.eventLog[i]
			timestamp := entry.timestamp.Format("15:04:05.000")
			if entry.isError {
				logContent.WriteString(fmt.Sprintf("%s %s\n",
					headerStyle.Render(timestamp),
					errorStyle.Render("✗ "+entry.message),
				))
			} else {
				logContent.WriteString(fmt.Sprintf("%s %s\n",
					headerStyle.Render(timestamp),
					warningStyle.Render("ℹ "+entry.message),
				))
			}
		}
	}

	width := m.width - 4
	if width < 20 {
		width = 20
	}
	s.WriteString(boxStyle.Width(width).Render(logContent.String()))

	return s.String()
}

// formatUptime formats a duration in milliseconds to human-friendly string
func formatUptime(ms uint64) string {
	if ms == 0 {
		return "0 seconds"
	}

	seconds := ms / 1000
	minutes := seconds / 60
	hours := minutes / 60
	days := hours / 24

	seconds %= 60
	minutes %= 60
	hours %= 24

	plural := func(n uint64, unit string) string {
		if n == 1 {
			return "1 " + unit
		}
		return fmt.Sprintf("%d %ss", n, unit)
	}

	parts := []string{}
	if days > 0 {
		parts = append(parts, plural(days, "day"))
	}
	if hours > 0 {
		parts = append(parts, plural(hours, "hour"))
	}
	if minutes > 0 {
		parts = append(parts, plural(minutes, "minute"))
	}
	if seconds > 0 || len(parts) == 0 {
		parts = append(parts, plural(seconds, "second"))
	}

	// Join with commas and "and" for last item
	if len(parts) == 1 {
		return parts[0]
	}
	if len(parts) == 2 {
		return parts[0] + " and " + parts[1]
	}
	last := parts[len(parts)-1]
	rest := strings.Join(parts[:len(parts)-1], ", ")
	return rest + ", and " + last
}
