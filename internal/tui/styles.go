package tui

import "github.com/charmbracelet/lipgloss"

var (
	colorMuted  = lipgloss.Color("#636B78")
	colorText   = lipgloss.Color("#ABB2BF")
	colorAccent = lipgloss.Color("#61AFEF")
	colorError  = lipgloss.Color("#E06C75")
	colorOK     = lipgloss.Color("#98C379")
	colorBorder = lipgloss.Color("#3F4451")
)

var (
	titleStyle = lipgloss.NewStyle().
			Foreground(colorAccent).
			Bold(true).
			PaddingLeft(1)

	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorBorder).
			Padding(0, 1)

	labelStyle = lipgloss.NewStyle().
			Foreground(colorMuted).
			Width(14)

	valueStyle = lipgloss.NewStyle().Foreground(colorText)

	mutedStyle = lipgloss.NewStyle().Foreground(colorMuted)

	errorStyle = lipgloss.NewStyle().Foreground(colorError)

	okStyle = lipgloss.NewStyle().Foreground(colorOK)

	userLineStyle = lipgloss.NewStyle().
			Foreground(colorAccent).
			Align(lipgloss.Right)
)

func agentStyle(colour string, active bool) lipgloss.Style {
	s := lipgloss.NewStyle().Foreground(lipgloss.Color(colour)).Padding(0, 1)
	if active {
		s = s.Bold(true).Underline(true)
	}
	return s
}
