package tui

import "time"

const (
	// Timeouts and Intervals
	TickInterval = 500 * time.Millisecond

	// Layout Offsets and Padding
	DefaultPaddingX = 1
	DefaultPaddingY = 0
	MinCardWidth    = 40
	GraphHeight     = 6

	// Samples kept for the speed graph
	SpeedHistoryLen = 120
)
