// Package events carries download outcomes from dispatchers to callers.
package events

import (
	"errors"
	"path/filepath"
	"sync"
	"time"

	"github.com/h2non/filetype"
	"github.com/rs/zerolog"

	"github.com/thindl/thindl/internal/engine/request"
	"github.com/thindl/thindl/internal/engine/types"
	"github.com/thindl/thindl/internal/utils"
)

// Delivery posts events for a request onto the caller's execution context.
// Events for one request must be delivered in the order they were posted.
type Delivery interface {
	PostProgress(r *request.Request, total, downloaded int64, percent int)
	PostComplete(r *request.Request)
	PostFailed(r *request.Request, code types.ErrorCode, message string)
}

// Executor runs callbacks on some execution context.
type Executor interface {
	Execute(fn func())
}

// SerialExecutor runs callbacks one at a time, in submission order, on a
// single goroutine.
type SerialExecutor struct {
	mu     sync.Mutex
	tasks  []func()
	closed bool
	signal chan struct{}
	done   chan struct{}
	logger zerolog.Logger
}

func NewSerialExecutor() *SerialExecutor {
	e := &SerialExecutor{
		signal: make(chan struct{}, 1),
		done:   make(chan struct{}),
		logger: utils.GetLogger("executor"),
	}
	go e.run()
	return e
}

// Execute queues fn. It never blocks. Callbacks submitted after Close are dropped.
func (e *SerialExecutor) Execute(fn func()) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.tasks = append(e.tasks, fn)
	e.mu.Unlock()

	select {
	case e.signal <- struct{}{}:
	default:
	}
}

// Close runs everything already queued and stops the goroutine.
func (e *SerialExecutor) Close() {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()

	select {
	case e.signal <- struct{}{}:
	default:
	}
	<-e.done
}

func (e *SerialExecutor) run() {
	defer close(e.done)
	for range e.signal {
		for {
			e.mu.Lock()
			if len(e.tasks) == 0 {
				closed := e.closed
				e.mu.Unlock()
				if closed {
					return
				}
				break
			}
			fn := e.tasks[0]
			e.tasks[0] = nil
			e.tasks = e.tasks[1:]
			e.mu.Unlock()

			e.safeRun(fn)
		}
	}
}

func (e *SerialExecutor) safeRun(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error().Interface("panic", r).Msg("callback panicked")
		}
	}()
	fn()
}

// CallbackDelivery invokes each request's StatusListener through an Executor.
type CallbackDelivery struct {
	exec Executor
}

func NewCallbackDelivery(exec Executor) *CallbackDelivery {
	return &CallbackDelivery{exec: exec}
}

func (d *CallbackDelivery) PostProgress(r *request.Request, total, downloaded int64, percent int) {
	d.exec.Execute(func() {
		if l := r.Listener(); l != nil {
			l.OnProgress(r, total, downloaded, percent)
		}
	})
}

func (d *CallbackDelivery) PostComplete(r *request.Request) {
	d.exec.Execute(func() {
		if l := r.Listener(); l != nil {
			l.OnDownloadComplete(r)
		}
	})
}

func (d *CallbackDelivery) PostFailed(r *request.Request, code types.ErrorCode, message string) {
	d.exec.Execute(func() {
		if l := r.Listener(); l != nil {
			l.OnDownloadFailed(r, code, message)
		}
	})
}

type tracked struct {
	started    time.Time
	total      int64
	downloaded int64
}

// ChannelDelivery converts events into messages on a channel, the way a
// bubbletea program consumes them. Sends block until the consumer reads.
type ChannelDelivery struct {
	ch chan<- any

	mu     sync.Mutex
	active map[string]*tracked
}

func NewChannelDelivery(ch chan<- any) *ChannelDelivery {
	return &ChannelDelivery{ch: ch, active: make(map[string]*tracked)}
}

// track returns the bookkeeping for r and whether this is its first event.
func (d *ChannelDelivery) track(r *request.Request) (*tracked, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	t, ok := d.active[r.Key()]
	if !ok {
		t = &tracked{started: time.Now(), total: -1}
		d.active[r.Key()] = t
	}
	return t, !ok
}

func (d *ChannelDelivery) untrack(r *request.Request) *tracked {
	d.mu.Lock()
	defer d.mu.Unlock()
	t := d.active[r.Key()]
	delete(d.active, r.Key())
	if t == nil {
		t = &tracked{started: time.Now(), total: -1}
	}
	return t
}

func (d *ChannelDelivery) started(r *request.Request) {
	dest := r.DestinationPath()
	d.ch <- DownloadStartedMsg{
		DownloadID: r.Key(),
		ID:         r.ID(),
		URL:        r.URL().String(),
		Filename:   filepath.Base(dest),
		DestPath:   dest,
		Priority:   r.Priority(),
	}
}

func (d *ChannelDelivery) PostProgress(r *request.Request, total, downloaded int64, percent int) {
	t, first := d.track(r)
	if first {
		d.started(r)
	}
	d.mu.Lock()
	t.total, t.downloaded = total, downloaded
	elapsed := time.Since(t.started)
	d.mu.Unlock()

	d.ch <- ProgressMsg{
		DownloadID: r.Key(),
		ID:         r.ID(),
		Downloaded: downloaded,
		Total:      total,
		Percent:    percent,
		Elapsed:    elapsed,
	}
}

func (d *ChannelDelivery) PostComplete(r *request.Request) {
	t := d.untrack(r)
	dest := r.DestinationPath()

	msg := DownloadCompleteMsg{
		DownloadID: r.Key(),
		ID:         r.ID(),
		Filename:   filepath.Base(dest),
		Elapsed:    time.Since(t.started),
		Total:      t.total,
	}
	if kind, err := filetype.MatchFile(dest); err == nil && kind != filetype.Unknown {
		msg.MIME = kind.MIME.Value
	}
	d.ch <- msg
}

func (d *ChannelDelivery) PostFailed(r *request.Request, code types.ErrorCode, message string) {
	t := d.untrack(r)
	filename := filepath.Base(r.DestinationPath())

	if code == types.ErrorDownloadCancelled && r.IsPaused() {
		d.ch <- DownloadPausedMsg{
			DownloadID: r.Key(),
			ID:         r.ID(),
			Filename:   filename,
			Downloaded: t.downloaded,
		}
		return
	}

	d.ch <- DownloadErrorMsg{
		DownloadID: r.Key(),
		ID:         r.ID(),
		Filename:   filename,
		Code:       code,
		Err:        errors.New(code.String() + ": " + message),
	}
}
