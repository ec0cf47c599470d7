package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"

	"github.com/loykin/procdash/internal/process"
)

func (m *Model) View() string {
	if m.quitting {
		return ""
	}
	switch m.view {
	case viewLogs:
		return m.renderLogs()
	case viewQuitConfirm:
		return m.renderQuitConfirm()
	default:
		return m.renderList()
	}
}

func (m *Model) renderList() string {
	rows := make([]string, 0, m.reg.Len())
	for i := 0; i < m.reg.Len(); i++ {
		rows = append(rows, m.renderRow(i, m.reg.At(i).Snapshot()))
	}
	body := lipgloss.JoinVertical(lipgloss.Left,
		titleStyle.Render("Processes"),
		strings.Join(rows, "\n"),
	)
	return m.frame(body, m.keys.ListHelp())
}

// renderRow formats one process as "name [status (code N) uptime]" followed
// by the port and pid when known.
func (m *Model) renderRow(i int, info process.Info) string {
	var b strings.Builder
	b.WriteString(info.Name)
	b.WriteString(" [")
	b.WriteString(styleStatus(info.Status).Render(info.Status))
	if info.Exit != nil {
		fmt.Fprintf(&b, " (%s)", info.Exit)
	}
	uptime := "0s"
	if !info.StartedAt.IsZero() {
		uptime = formatDuration(info.Uptime)
	}
	b.WriteString(" ")
	b.WriteString(uptime)
	b.WriteString("]")
	if info.Port != 0 {
		fmt.Fprintf(&b, " :%d", info.Port)
	}
	if info.PID != 0 {
		fmt.Fprintf(&b, " pid %d", info.PID)
	}
	if a, ok := m.pending[info.Name]; ok {
		fmt.Fprintf(&b, " (%s…)", a)
	}
	if i == m.selected {
		return selectedRowStyle.Render(selectedMarker + b.String())
	}
	return rowStyle.Render(strings.Repeat(" ", len(selectedMarker)) + b.String())
}

func styleStatus(status string) lipgloss.Style {
	switch status {
	case process.StatusRunning:
		return statusRunningStyle
	case process.StatusStopped:
		return statusStoppedStyle
	default:
		return statusTransientStyle
	}
}

func (m *Model) renderLogs() string {
	name := ""
	if s := m.current(); s != nil {
		name = s.Name()
	}
	title := titleStyle.Render(fmt.Sprintf("Logs: %s (esc)", name))
	body := lipgloss.JoinVertical(lipgloss.Left, title, m.logs.View())
	return m.frame(body, m.keys.LogsHelp())
}

func (m *Model) renderQuitConfirm() string {
	body := lipgloss.JoinVertical(lipgloss.Left,
		titleStyle.Render("Confirm Exit"),
		confirmStyle.Render("Quit program? (y/n)"),
	)
	return panelStyle.Render(body)
}

// frame wraps body in the panel and appends the help bar and status message.
func (m *Model) frame(body string, help []key.Binding) string {
	panel := panelStyle
	if m.width > 0 {
		panel = panel.Width(m.width - panelStyle.GetHorizontalFrameSize())
	}
	parts := []string{panel.Render(body), renderHelp(help)}
	if m.statusMsg != "" {
		st := statusBarSuccessStyle
		if m.statusErr {
			st = statusBarErrorStyle
		}
		parts = append(parts, st.Render(m.statusMsg))
	}
	return lipgloss.JoinVertical(lipgloss.Left, parts...)
}

// renderHelp renders bindings as " Label <key>" in the given order.
func renderHelp(bs []key.Binding) string {
	var b strings.Builder
	for _, k := range bs {
		h := k.Help()
		b.WriteString(helpDescStyle.Render(" " + h.Desc + " "))
		b.WriteString(helpKeyStyle.Render("<" + h.Key + ">"))
	}
	return b.String()
}

// prepareLogContent truncates long lines so the viewport never wraps and
// dims the supervisor's own lines.
func prepareLogContent(lines []string, maxWidth int) string {
	out := make([]string, len(lines))
	for i, line := range lines {
		if maxWidth > 0 && runewidth.StringWidth(line) > maxWidth {
			line = runewidth.Truncate(line, maxWidth-1, "") + "…"
		}
		if isSupervisorLine(line) {
			line = logSystemStyle.Render(line)
		}
		out[i] = line
	}
	return strings.Join(out, "\n")
}

var supervisorPrefixes = []string{
	"Working directory: ",
	"Command: ",
	"--- start logs ---",
	"Failed to start: ",
	"No command configured",
	"Process exited (",
	"Stopped gracefully",
	"Force killed",
	"Killed pid ",
}

func isSupervisorLine(l string) bool {
	for _, p := range supervisorPrefixes {
		if strings.HasPrefix(l, p) {
			return true
		}
	}
	return false
}

// formatDuration renders d in its largest whole unit: ms, s, m, h or d.
func formatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	ms := d.Milliseconds()
	if ms < 1000 {
		return fmt.Sprintf("%dms", ms)
	}
	secs := ms / 1000
	if secs < 60 {
		return fmt.Sprintf("%ds", secs)
	}
	mins := secs / 60
	if mins < 60 {
		return fmt.Sprintf("%dm", mins)
	}
	hours := mins / 60
	if hours < 24 {
		return fmt.Sprintf("%dh", hours)
	}
	return fmt.Sprintf("%dd", hours/24)
}
