package cli

import "github.com/charmbracelet/lipgloss"

// Theme defines the color scheme for styled terminal output.
type Theme struct {
	Primary lipgloss.Color // accent color
	Good    lipgloss.Color // success / running
	Bad     lipgloss.Color // errors / stopped
	Warn    lipgloss.Color // warnings
	Dim     lipgloss.Color // dimmed detail text
}

// DefaultTheme is the default bright green theme.
var DefaultTheme = Theme{
	Primary: lipgloss.Color("#00ff9f"),
	Good:    lipgloss.Color("#00ff9f"),
	Bad:     lipgloss.Color("#ff5f5f"),
	Warn:    lipgloss.Color("#ffaf00"),
	Dim:     lipgloss.Color("#6e7681"),
}

// Styles holds all styles derived from a theme.
type Styles struct {
	Title   lipgloss.Style
	Label   lipgloss.Style
	Success lipgloss.Style
	Error   lipgloss.Style
	Warning lipgloss.Style
	Dim     lipgloss.Style
}

// NewStyles creates styles from a theme.
func NewStyles(t Theme) Styles {
	return Styles{
		Title:   lipgloss.NewStyle().Bold(true).Foreground(t.Primary),
		Label:   lipgloss.NewStyle().Bold(true).Foreground(t.Primary),
		Success: lipgloss.NewStyle().Foreground(t.Good),
		Error:   lipgloss.NewStyle().Foreground(t.Bad),
		Warning: lipgloss.NewStyle().Foreground(t.Warn),
		Dim:     lipgloss.NewStyle().Foreground(t.Dim),
	}
}

// DefaultStyles are the styles used by the Print helpers.
var DefaultStyles = NewStyles(DefaultTheme)

// StatusLine renders a "label: value" line with a styled label.
func StatusLine(label, value string) string {
	return DefaultStyles.Label.Render(label+":") + " " + value
}
