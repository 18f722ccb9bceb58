package ui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/gpericol/BurberOste/internal/status"
)

// Colors used throughout the TUI.
var (
	ColorRed     = lipgloss.Color("#E5484D")
	ColorGreen   = lipgloss.Color("#46A758")
	ColorAmber   = lipgloss.Color("#FFB224")
	ColorBlue    = lipgloss.Color("#3E93DE")
	ColorGray    = lipgloss.Color("#666666")
	ColorDimGray = lipgloss.Color("#444444")
	ColorWhite   = lipgloss.Color("#FFFFFF")
	ColorWood    = lipgloss.Color("#C08552")
)

// Base styles reused by the view.
var (
	TitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorWood)

	DimStyle = lipgloss.NewStyle().
			Foreground(ColorGray)

	DividerStyle = lipgloss.NewStyle().
			Foreground(ColorDimGray)

	RecordingDotStyle = lipgloss.NewStyle().
				Foreground(ColorRed).
				Bold(true)

	IdleDotStyle = lipgloss.NewStyle().
			Foreground(ColorGray)

	PlayerLabelStyle = lipgloss.NewStyle().
				Foreground(ColorBlue).
				Bold(true)

	NPCLabelStyle = lipgloss.NewStyle().
			Foreground(ColorWood).
			Bold(true)

	TimestampStyle = lipgloss.NewStyle().
			Foreground(ColorGray)

	ProgressFillStyle = lipgloss.NewStyle().
				Foreground(ColorAmber)

	ProgressEmptyStyle = lipgloss.NewStyle().
				Foreground(ColorDimGray)

	FooterKeyStyle = lipgloss.NewStyle().
			Foreground(ColorAmber).
			Bold(true)

	FooterDescStyle = lipgloss.NewStyle().
			Foreground(ColorGray)
)

// severityStyles colors the status line.
var severityStyles = map[status.Severity]lipgloss.Style{
	status.SeverityInfo:    lipgloss.NewStyle().Foreground(ColorBlue),
	status.SeveritySuccess: lipgloss.NewStyle().Foreground(ColorGreen),
	status.SeverityWarning: lipgloss.NewStyle().Foreground(ColorAmber),
	status.SeverityDanger:  lipgloss.NewStyle().Foreground(ColorRed).Bold(true),
}

// SeverityStyle returns the status line style for s.
func SeverityStyle(s status.Severity) lipgloss.Style {
	if st, ok := severityStyles[s]; ok {
		return st
	}
	return DimStyle
}

// sympathyStyle colors the sympathy bar: red when the innkeeper is hostile,
// amber when indifferent, green when friendly.
func sympathyStyle(level int) lipgloss.Style {
	switch {
	case level <= 3:
		return lipgloss.NewStyle().Foreground(ColorRed)
	case level <= 6:
		return lipgloss.NewStyle().Foreground(ColorAmber)
	default:
		return lipgloss.NewStyle().Foreground(ColorGreen)
	}
}
