package tui

import "github.com/charmbracelet/lipgloss"

var (
	// Colors
	ColorNeonPurple = lipgloss.Color("#bd93f9")
	ColorNeonPink   = lipgloss.Color("#ff79c6")
	ColorNeonCyan   = lipgloss.Color("#8be9fd")
	ColorLightGray  = lipgloss.Color("#f8f8f2")
	ColorGray       = lipgloss.Color("#6272a4")
	ColorBorder     = lipgloss.Color("#44475a")

	ColorStateDownloading = lipgloss.Color("#50fa7b")
	ColorStateDone        = lipgloss.Color("#8be9fd")
	ColorStatePaused      = lipgloss.Color("#ffb86c")
	ColorStateError       = lipgloss.Color("#ff5555")

	LogoStyle = lipgloss.NewStyle().
			Foreground(ColorNeonPurple).
			Bold(true)

	StatsStyle = lipgloss.NewStyle().
			Foreground(ColorGray).
			Padding(DefaultPaddingY, DefaultPaddingX)

	// Base Card Style
	CardStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(ColorBorder).
			Padding(DefaultPaddingY, DefaultPaddingX)

	// Selected Card Style (highlighted border)
	SelectedCardStyle = CardStyle.
				BorderForeground(ColorNeonPink)

	CardTitleStyle = lipgloss.NewStyle().
			Foreground(ColorNeonPurple).
			Bold(true)

	CardStatsStyle = lipgloss.NewStyle().
			Foreground(ColorGray).
			Italic(true)

	HelpStyle = lipgloss.NewStyle().
			Foreground(ColorGray)

	NoticeStyle = lipgloss.NewStyle().
			Foreground(ColorStatePaused)
)
