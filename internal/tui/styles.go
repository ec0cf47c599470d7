package tui

import "github.com/charmbracelet/lipgloss"

const selectedMarker = ">> "

var (
	panelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.AdaptiveColor{Light: "#606060", Dark: "#A0A0A0"}).
			Padding(0, 1)

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.AdaptiveColor{Light: "#000000", Dark: "#FFFFFF"})

	selectedRowStyle = lipgloss.NewStyle().Reverse(true)
	rowStyle         = lipgloss.NewStyle()

	statusRunningStyle   = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#006400", Dark: "#8AE234"})
	statusStoppedStyle   = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#606060", Dark: "#A0A0A0"})
	statusTransientStyle = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#B8860B", Dark: "#FCE94F"})

	helpKeyStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.AdaptiveColor{Light: "#0000CC", Dark: "#58A6FF"})
	helpDescStyle = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#303030", Dark: "#D0D0D0"})

	statusBarSuccessStyle = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#006400", Dark: "#8AE234"})
	statusBarErrorStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.AdaptiveColor{Light: "#B22222", Dark: "#EF2929"})

	logSystemStyle = lipgloss.NewStyle().Faint(true)

	confirmStyle = lipgloss.NewStyle().Bold(true)
)
