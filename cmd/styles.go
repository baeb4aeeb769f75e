package cmd

import "github.com/charmbracelet/lipgloss"

var (
	colorAccent = lipgloss.Color("#A8D8EA")
	colorMuted  = lipgloss.Color("#6c757d")
	colorGood   = lipgloss.Color("#4ECDC4")
	colorBad    = lipgloss.Color("#FF6B6B")
)

var (
	styleTitle = lipgloss.NewStyle().
			Foreground(colorAccent).
			Bold(true).
			Border(lipgloss.NormalBorder(), false, false, true, false).
			BorderForeground(colorMuted)

	styleLabel = lipgloss.NewStyle().Foreground(colorMuted).Width(16)
	styleGood  = lipgloss.NewStyle().Foreground(colorGood).Bold(true)
	styleBad   = lipgloss.NewStyle().Foreground(colorBad).Bold(true)
)
