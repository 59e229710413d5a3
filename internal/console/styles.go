package console

import "github.com/charmbracelet/lipgloss"

type styles struct {
	Caption lipgloss.Style
	Button  lipgloss.Style
	Focused lipgloss.Style
	Status  lipgloss.Style
	Error   lipgloss.Style
}

func newStyles() styles {
	return styles{
		Caption: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("99")).
			MarginBottom(1),
		Button: lipgloss.NewStyle().
			Padding(0, 1).
			Border(lipgloss.RoundedBorder(), false, true).
			BorderForeground(lipgloss.Color("241")),
		Focused: lipgloss.NewStyle().
			Padding(0, 1).
			Border(lipgloss.RoundedBorder(), false, true).
			BorderForeground(lipgloss.Color("220")).
			Foreground(lipgloss.Color("220")).
			Bold(true),
		Status: lipgloss.NewStyle().
			Foreground(lipgloss.Color("241")).
			MarginTop(1),
		Error: lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			MarginTop(1),
	}
}
