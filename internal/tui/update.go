package tui

import (
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/thindl/thindl/internal/engine/events"
	"github.com/thindl/thindl/internal/utils"
)

// Update handles messages and updates the model
func (m RootModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case events.DownloadStartedMsg:
		d := m.ensure(msg.ID)
		d.URL = msg.URL
		d.Filename = msg.Filename
		d.DestPath = msg.DestPath
		d.Priority = msg.Priority
		d.StartTime = time.Now()
		d.started = true
		cmds = append(cmds, listenForActivity(m.progressChan))

	case events.ProgressMsg:
		d := m.ensure(msg.ID)
		if !d.finished() {
			d.started = true
			d.Downloaded = msg.Downloaded
			d.Total = msg.Total
			d.Elapsed = msg.Elapsed
			if secs := msg.Elapsed.Seconds(); secs > 0 {
				d.Speed = float64(msg.Downloaded) / secs
			}
			if msg.Percent >= 0 {
				cmds = append(cmds, d.progress.SetPercent(float64(msg.Percent)/100))
			}
		}
		cmds = append(cmds, listenForActivity(m.progressChan))

	case events.DownloadCompleteMsg:
		d := m.ensure(msg.ID)
		d.done = true
		d.Speed = 0
		d.Elapsed = msg.Elapsed
		d.MIME = msg.MIME
		if msg.Total >= 0 {
			d.Total = msg.Total
			d.Downloaded = msg.Total
		}
		if msg.Filename != "" {
			d.Filename = msg.Filename
		}
		utils.Debug("download %d complete in %s", msg.ID, msg.Elapsed)
		cmds = append(cmds, d.progress.SetPercent(1.0), listenForActivity(m.progressChan))

	case events.DownloadPausedMsg:
		d := m.ensure(msg.ID)
		d.paused = true
		d.Speed = 0
		if msg.Downloaded > 0 {
			d.Downloaded = msg.Downloaded
		}
		cmds = append(cmds, listenForActivity(m.progressChan))

	case events.DownloadErrorMsg:
		d := m.ensure(msg.ID)
		d.err = msg.Err
		if d.err == nil {
			d.err = errors.New(msg.Code.String())
		}
		d.Speed = 0
		cmds = append(cmds, listenForActivity(m.progressChan))

	case tickMsg:
		m.SpeedHistory = append(m.SpeedHistory, m.calcTotalSpeed())
		if len(m.SpeedHistory) > SpeedHistoryLen {
			m.SpeedHistory = m.SpeedHistory[len(m.SpeedHistory)-SpeedHistoryLen:]
		}
		return m, tick()

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "up", "k":
			if m.cursor > 0 {
				m.cursor--
			}
		case "down", "j":
			if m.cursor < len(m.downloads)-1 {
				m.cursor++
			}
		case "p":
			m.notice = m.control("pause", m.pauseSelected)
		case "c":
			m.notice = m.control("cancel", m.cancelSelected)
		}
		return m, nil
	}

	if m.exitWhenDone && m.allFinished() {
		cmds = append(cmds, tea.Quit)
	}

	// Propagate messages to progress bars
	for i := range m.downloads {
		newModel, cmd := m.downloads[i].progress.Update(msg)
		if p, ok := newModel.(progress.Model); ok {
			m.downloads[i].progress = p
		}
		cmds = append(cmds, cmd)
	}

	return m, tea.Batch(cmds...)
}

func (m RootModel) selected() *DownloadModel {
	if m.cursor < 0 || m.cursor >= len(m.downloads) {
		return nil
	}
	return m.downloads[m.cursor]
}

func (m RootModel) pauseSelected(id int64) (bool, error)  { return m.ctrl.Pause(id) }
func (m RootModel) cancelSelected(id int64) (bool, error) { return m.ctrl.Cancel(id) }

// control applies op to the selected download and returns the notice to show.
func (m RootModel) control(verb string, op func(int64) (bool, error)) string {
	d := m.selected()
	if d == nil || m.ctrl == nil {
		return ""
	}
	if d.finished() {
		return fmt.Sprintf("%s already finished", d.Filename)
	}
	found, err := op(d.ID)
	switch {
	case err != nil:
		return fmt.Sprintf("cannot %s %s: %v", verb, d.Filename, err)
	case !found:
		return fmt.Sprintf("%s is no longer queued", d.Filename)
	}
	return fmt.Sprintf("%s requested for %s", verb, d.Filename)
}
