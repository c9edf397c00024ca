package tui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/benchsweep/benchsweep/internal/track"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.AdaptiveColor{Light: "#000000", Dark: "#FFFFFF"}).
			Background(lipgloss.AdaptiveColor{Light: "#D0D0D0", Dark: "#303030"}).
			Padding(0, 1)

	paneStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			Padding(0, 1)

	selectedStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.AdaptiveColor{Light: "#0000CC", Dark: "#58A6FF"})

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.AdaptiveColor{Light: "#606060", Dark: "#909090"})

	errorStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.AdaptiveColor{Light: "#B30000", Dark: "#FF6B6B"})

	stateStyles = map[track.State]lipgloss.Style{
		track.Pending:   dimStyle,
		track.Submitted: lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#A07000", Dark: "#FFD066"}),
		track.Running:   lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#0000CC", Dark: "#58A6FF"}),
		track.Completed: lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#006600", Dark: "#8AE234"}),
		track.Failed:    errorStyle,
		track.Cancelled: dimStyle,
	}
)

func stateLabel(state track.State) string {
	if style, ok := stateStyles[state]; ok {
		return style.Render(state.String())
	}
	return state.String()
}
