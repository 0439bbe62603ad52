// Package tui renders running downloads. It consumes the messages produced
// by events.ChannelDelivery.
package tui

import (
	"time"

	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/thindl/thindl/internal/engine/types"
)

// Controller is the part of the download manager the dashboard drives.
type Controller interface {
	Pause(id int64) (bool, error)
	Cancel(id int64) (bool, error)
}

type DownloadModel struct {
	ID       int64
	URL      string
	Filename string
	DestPath string
	Priority types.Priority

	Total      int64 // -1 while unknown
	Downloaded int64
	Speed      float64 // bytes per second
	MIME       string

	StartTime time.Time
	Elapsed   time.Duration

	progress progress.Model

	started bool
	done    bool
	paused  bool
	err     error
}

// finished reports whether the download reached an end state.
func (d *DownloadModel) finished() bool {
	return d.done || d.paused || d.err != nil
}

type RootModel struct {
	downloads    []*DownloadModel
	width        int
	height       int
	progressChan <-chan any
	ctrl         Controller

	SpeedHistory []float64

	// exitWhenDone quits once every tracked download is finished
	exitWhenDone bool
	notice       string

	// Navigation
	cursor int
}

type tickMsg time.Time

func NewDownloadModel(id int64, url, dest string, priority types.Priority) *DownloadModel {
	return &DownloadModel{
		ID:       id,
		URL:      url,
		DestPath: dest,
		Filename: baseName(dest),
		Priority: priority,
		Total:    -1,
		progress: progress.New(progress.WithDefaultGradient()),
	}
}

// InitialRootModel builds a dashboard reading events from ch.
func InitialRootModel(ch <-chan any, ctrl Controller, exitWhenDone bool) RootModel {
	return RootModel{
		downloads:    make([]*DownloadModel, 0),
		progressChan: ch,
		ctrl:         ctrl,
		exitWhenDone: exitWhenDone,
	}
}

// Track lists a queued download before any event for it arrives.
func (m *RootModel) Track(id int64, url, dest string, priority types.Priority) {
	if m.find(id) != nil {
		return
	}
	m.downloads = append(m.downloads, NewDownloadModel(id, url, dest, priority))
}

func (m RootModel) find(id int64) *DownloadModel {
	for _, d := range m.downloads {
		if d.ID == id {
			return d
		}
	}
	return nil
}

// ensure returns the model for id, creating it for downloads that were
// never tracked.
func (m *RootModel) ensure(id int64) *DownloadModel {
	if d := m.find(id); d != nil {
		return d
	}
	d := NewDownloadModel(id, "", "", types.PriorityNormal)
	m.downloads = append(m.downloads, d)
	return d
}

func (m RootModel) allFinished() bool {
	if len(m.downloads) == 0 {
		return false
	}
	for _, d := range m.downloads {
		if !d.finished() {
			return false
		}
	}
	return true
}

func (m RootModel) Init() tea.Cmd {
	return tea.Batch(listenForActivity(m.progressChan), tick())
}

func listenForActivity(sub <-chan any) tea.Cmd {
	return func() tea.Msg {
		msg, ok := <-sub
		if !ok {
			return nil
		}
		return msg
	}
}

func tick() tea.Cmd {
	return tea.Tick(TickInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}
