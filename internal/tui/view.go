package tui

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
)

func (m RootModel) View() string {
	if m.width == 0 {
		return "Loading..."
	}

	availableWidth := m.width - 2
	if availableWidth < MinCardWidth {
		availableWidth = MinCardWidth
	}

	active, queued, finished := m.CalculateStats()
	header := lipgloss.JoinHorizontal(lipgloss.Center,
		LogoStyle.Render("thindl"),
		StatsStyle.Render(fmt.Sprintf("%d active · %d queued · %d finished · %s/s",
			active, queued, finished, humanize.IBytes(uint64(m.calcTotalSpeed())))),
	)

	graph := renderMultiLineGraph(m.SpeedHistory, availableWidth-2, GraphHeight-2, m.maxSpeed(), ColorNeonPink)
	graphBox := renderBtopBox("Speed", graph, availableWidth, GraphHeight, ColorBorder, true)

	cards := make([]string, 0, len(m.downloads))
	for i, d := range m.downloads {
		cards = append(cards, renderCard(d, availableWidth, i == m.cursor))
	}
	list := strings.Join(cards, "\n")
	if len(cards) == 0 {
		list = CardStatsStyle.Render("No downloads queued")
	}

	footer := HelpStyle.Render("↑/↓ select · p pause · c cancel · q quit")
	if m.notice != "" {
		footer = lipgloss.JoinVertical(lipgloss.Left, NoticeStyle.Render(m.notice), footer)
	}

	return lipgloss.JoinVertical(lipgloss.Left, header, graphBox, list, footer)
}

func renderCard(d *DownloadModel, w int, selected bool) string {
	style := CardStyle
	if selected {
		style = SelectedCardStyle
	}
	inner := w - 4

	title := lipgloss.JoinHorizontal(lipgloss.Left,
		CardTitleStyle.Render(truncateString(d.Filename, inner-20)),
		"  ",
		getDownloadStatus(d),
	)

	d.progress.Width = inner
	var bar string
	switch {
	case d.Total > 0:
		bar = d.progress.View()
	case d.finished():
		bar = d.progress.ViewAs(1.0)
	default:
		// Length unknown, nothing sensible to fill
		bar = d.progress.ViewAs(0)
	}

	stats := []string{d.Priority.String(), sizeLabel(d)}
	if d.Speed > 0 {
		stats = append(stats, humanize.IBytes(uint64(d.Speed))+"/s")
	}
	if d.MIME != "" {
		stats = append(stats, d.MIME)
	}
	lines := []string{title, bar, CardStatsStyle.Render(strings.Join(stats, " · "))}
	if d.err != nil {
		lines = append(lines, lipgloss.NewStyle().Foreground(ColorStateError).Render(truncateString(d.err.Error(), inner)))
	}
	return style.Width(w - 2).Render(lipgloss.JoinVertical(lipgloss.Left, lines...))
}

func sizeLabel(d *DownloadModel) string {
	if d.Total < 0 {
		return humanize.IBytes(uint64(d.Downloaded)) + " / ?"
	}
	return humanize.IBytes(uint64(d.Downloaded)) + " / " + humanize.IBytes(uint64(d.Total))
}

func getDownloadStatus(d *DownloadModel) string {
	style := lipgloss.NewStyle()

	switch {
	case d.err != nil:
		return style.Foreground(ColorStateError).Render("✖ Error")
	case d.done:
		return style.Foreground(ColorStateDone).Render("✔ Completed")
	case d.paused:
		return style.Foreground(ColorStatePaused).Render("⏸ Paused")
	case !d.started:
		return style.Foreground(ColorGray).Render("o Queued")
	default:
		return style.Foreground(ColorStateDownloading).Render("⬇ Downloading")
	}
}

// calcTotalSpeed is the sum of running download speeds in bytes per second.
func (m RootModel) calcTotalSpeed() float64 {
	total := 0.0
	for _, d := range m.downloads {
		if d.finished() {
			continue
		}
		total += d.Speed
	}
	return total
}

func (m RootModel) maxSpeed() float64 {
	maxSpeed := 1.0 // Prevent divide by zero
	for _, v := range m.SpeedHistory {
		if v > maxSpeed {
			maxSpeed = v
		}
	}
	return maxSpeed * 1.1
}

func (m RootModel) CalculateStats() (active, queued, finished int) {
	for _, d := range m.downloads {
		switch {
		case d.finished():
			finished++
		case d.started:
			active++
		default:
			queued++
		}
	}
	return
}

func truncateString(s string, i int) string {
	if i < 4 {
		i = 4
	}
	runes := []rune(s)
	if len(runes) > i {
		return string(runes[:i-3]) + "..."
	}
	return s
}

func baseName(path string) string {
	if path == "" {
		return ""
	}
	return filepath.Base(path)
}

// renderBtopBox creates a btop-style box with title embedded in the top border
// Example (left):  ╭─ TITLE ─────────────────────────────────╮
// Example (right): ╭─────────────────────────────────── TITLE ─╮
func renderBtopBox(title string, content string, width, height int, borderColor lipgloss.Color, titleRight bool) string {
	const (
		topLeft     = "╭"
		topRight    = "╮"
		bottomLeft  = "╰"
		bottomRight = "╯"
		horizontal  = "─"
		vertical    = "│"
	)

	innerWidth := width - 2
	if innerWidth < 1 {
		innerWidth = 1
	}

	border := lipgloss.NewStyle().Foreground(borderColor)
	titleStyle := lipgloss.NewStyle().Foreground(ColorNeonCyan).Bold(true)

	titleText := fmt.Sprintf(" %s ", title)
	remainingWidth := innerWidth - lipgloss.Width(titleText) - 1
	if remainingWidth < 0 {
		remainingWidth = 0
	}

	var topBorder string
	if titleRight {
		topBorder = border.Render(topLeft+strings.Repeat(horizontal, remainingWidth)) +
			titleStyle.Render(titleText) +
			border.Render(horizontal+topRight)
	} else {
		topBorder = border.Render(topLeft+horizontal) +
			titleStyle.Render(titleText) +
			border.Render(strings.Repeat(horizontal, remainingWidth)+topRight)
	}
	bottomBorder := border.Render(bottomLeft + strings.Repeat(horizontal, innerWidth) + bottomRight)

	contentLines := strings.Split(content, "\n")
	innerHeight := height - 2

	wrapped := make([]string, 0, innerHeight)
	for i := 0; i < innerHeight; i++ {
		line := ""
		if i < len(contentLines) {
			line = contentLines[i]
		}
		if lw := lipgloss.Width(line); lw < innerWidth {
			line += strings.Repeat(" ", innerWidth-lw)
		}
		wrapped = append(wrapped, border.Render(vertical)+line+border.Render(vertical))
	}

	return lipgloss.JoinVertical(lipgloss.Left,
		topBorder,
		strings.Join(wrapped, "\n"),
		bottomBorder,
	)
}

// Failures counts downloads that ended with an error.
func (m RootModel) Failures() int {
	n := 0
	for _, d := range m.downloads {
		if d.err != nil {
			n++
		}
	}
	return n
}
