package tui

import "github.com/charmbracelet/lipgloss"

// Theme is the color palette for the watch view and the report renderer.
type Theme struct {
	Success lipgloss.Color
	Warning lipgloss.Color
	Error   lipgloss.Color
	Muted   lipgloss.Color
	Text    lipgloss.Color

	Title         lipgloss.Style
	StatusHealthy lipgloss.Style
	StatusFailed  lipgloss.Style
	StatusPending lipgloss.Style
	StatusActive  lipgloss.Style
	Reason        lipgloss.Style
}

func DefaultTheme() Theme {
	success := lipgloss.Color("#22C55E")
	warning := lipgloss.Color("#EAB308")
	errorC := lipgloss.Color("#EF4444")
	muted := lipgloss.Color("#6B7280")
	text := lipgloss.Color("#F9FAFB")

	return Theme{
		Success: success,
		Warning: warning,
		Error:   errorC,
		Muted:   muted,
		Text:    text,

		Title:         lipgloss.NewStyle().Bold(true).Foreground(text),
		StatusHealthy: lipgloss.NewStyle().Foreground(success),
		StatusFailed:  lipgloss.NewStyle().Foreground(errorC),
		StatusPending: lipgloss.NewStyle().Foreground(muted),
		StatusActive:  lipgloss.NewStyle().Foreground(warning),
		Reason:        lipgloss.NewStyle().Foreground(muted),
	}
}

var DefaultStyles = DefaultTheme()

// Status icons.
const (
	IconHealthy = "✓"
	IconFailed  = "✗"
	IconPending = "○"
)
