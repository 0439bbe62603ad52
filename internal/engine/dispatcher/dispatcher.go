// Package dispatcher runs downloads. Each Dispatcher is one worker that
// pulls requests from a shared source and drives them to a terminal state.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/vfaronov/httpheader"

	"github.com/thindl/thindl/internal/engine/events"
	"github.com/thindl/thindl/internal/engine/files"
	"github.com/thindl/thindl/internal/engine/request"
	"github.com/thindl/thindl/internal/engine/transport"
	"github.com/thindl/thindl/internal/engine/types"
)

// Source hands out pending requests.
type Source interface {
	// Poll returns the next request or nil. It must not block.
	Poll() *request.Request
	// Wake is signalled when Poll may return a request.
	Wake() <-chan struct{}
}

type Config struct {
	ID         int
	Source     Source
	Delivery   events.Delivery
	Transport  transport.Transport
	Storage    files.Storage
	BufferSize int
	Logger     zerolog.Logger
}

type Dispatcher struct {
	id        int
	source    Source
	delivery  events.Delivery
	transport transport.Transport
	storage   files.Storage
	bufSize   int
	logger    zerolog.Logger

	// Requests whose backoff elapsed, handed back to this worker
	retryCh chan *request.Request
	quit    chan struct{}
	done    chan struct{}

	// Cancelled on Stop so blocked transport calls return
	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	timers   map[*request.Request]*time.Timer
	stopOnce sync.Once
}

func New(cfg Config) *Dispatcher {
	ctx, cancel := context.WithCancel(context.Background())
	if cfg.Storage == nil {
		cfg.Storage = files.OS{}
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = types.BufferSize
	}
	return &Dispatcher{
		id:        cfg.ID,
		source:    cfg.Source,
		delivery:  cfg.Delivery,
		transport: cfg.Transport,
		storage:   cfg.Storage,
		bufSize:   cfg.BufferSize,
		logger:    cfg.Logger.With().Int("worker", cfg.ID).Logger(),
		retryCh:   make(chan *request.Request),
		quit:      make(chan struct{}),
		done:      make(chan struct{}),
		ctx:       ctx,
		cancel:    cancel,
		timers:    make(map[*request.Request]*time.Timer),
	}
}

func (d *Dispatcher) Start() {
	go d.run()
}

// Stop asks the worker to exit. It does not wait; use Done for that.
func (d *Dispatcher) Stop() {
	d.stopOnce.Do(func() {
		close(d.quit)
		d.cancel()
	})
}

// Done is closed once the worker has exited and every request it held
// has been failed.
func (d *Dispatcher) Done() <-chan struct{} {
	return d.done
}

func (d *Dispatcher) stopping() bool {
	select {
	case <-d.quit:
		return true
	default:
		return false
	}
}

func (d *Dispatcher) run() {
	defer close(d.done)
	defer d.abandonScheduled()

	d.logger.Debug().Msg("dispatcher started")
	for {
		if d.stopping() {
			return
		}

		select {
		case r := <-d.retryCh:
			d.execute(r)
			continue
		default:
		}

		if r := d.source.Poll(); r != nil {
			d.process(r)
			continue
		}

		select {
		case <-d.quit:
			return
		case r := <-d.retryCh:
			d.execute(r)
		case <-d.source.Wake():
		}
	}
}

// process runs a freshly dequeued request.
func (d *Dispatcher) process(r *request.Request) {
	if r.IsCancelled() {
		d.fail(r, nil, types.ErrorDownloadCancelled, "download cancelled before start")
		return
	}
	// Retries re-enter execute from RETRYING and skip this state
	d.setState(r, types.StatusStarted)
	d.execute(r)
}

// testHookSetState observes every state change made by a dispatcher.
var testHookSetState = func(*request.Request, types.Status) {}

func (d *Dispatcher) setState(r *request.Request, s types.Status) {
	r.SetState(s)
	testHookSetState(r, s)
}

// attempt holds the state of one connection attempt, including the
// redirects followed on the way.
type attempt struct {
	redirects      int
	allowRedirects bool
	contentLength  int64
	downloaded     int64
}

func (a *attempt) reset() {
	a.redirects = 0
	a.allowRedirects = false
	a.contentLength = -1
	a.downloaded = 0
}

// execute performs one attempt: connect, follow redirects, transfer.
func (d *Dispatcher) execute(r *request.Request) {
	a := &attempt{allowRedirects: true, contentLength: -1}
	path := r.DestinationPath()
	policy := r.RetryPolicy()
	offset := d.resumeOffset(r, path)
	target := r.URL()

	log := d.logger.With().Int64("download_id", r.ID()).Str("key", r.Key()).Logger()

	for {
		if r.IsCancelled() || d.stopping() {
			d.fail(r, a, types.ErrorDownloadCancelled, "download cancelled")
			return
		}
		d.setState(r, types.StatusConnecting)

		hdr := r.Headers()
		hdr.Set("Range", fmt.Sprintf("bytes=%d-", offset))
		timeout := policy.CurrentTimeout()

		log.Debug().
			Str("url", target.Redacted()).
			Int64("offset", offset).
			Int("attempt", policy.CurrentRetryCount()+1).
			Dur("timeout", timeout).
			Msg("connecting")

		resp, err := d.transport.Open(d.ctx, &transport.Request{
			URL:            target.String(),
			Header:         hdr,
			ConnectTimeout: timeout,
			ReadTimeout:    timeout,
		})
		if err != nil {
			d.handleError(r, a, err)
			return
		}

		next := d.handleResponse(r, a, resp, target, path, offset)
		// The connection is released on every path
		_ = resp.Close()
		if next == nil {
			return
		}
		target = next
	}
}

// resumeOffset is the length of the existing destination for resumable
// requests. Other requests always start from zero and overwrite.
func (d *Dispatcher) resumeOffset(r *request.Request, path string) int64 {
	if !r.Resumable() {
		return 0
	}
	size, err := d.storage.Size(path)
	if err != nil {
		return 0
	}
	return size
}

// handleResponse returns the next URL when the response is a redirect to
// follow, and nil once the request reached a terminal or retrying state.
func (d *Dispatcher) handleResponse(r *request.Request, a *attempt, resp transport.Response, current *url.URL, path string, offset int64) *url.URL {
	code := resp.StatusCode()

	switch code {
	case http.StatusOK, http.StatusPartialContent:
		a.allowRedirects = false
		total, ok := resolveContentLength(resp.Header(), code, offset)
		if !ok {
			d.fail(r, a, types.ErrorDownloadSizeUnknown,
				"server sent neither Content-Length nor Transfer-Encoding")
			return nil
		}
		a.contentLength = total

		start := offset
		if code == http.StatusOK {
			// Range was ignored, the body is the whole file
			start = 0
		}
		if offset > 0 && total == offset {
			d.setState(r, types.StatusSuccessful)
			d.logger.Debug().Int64("download_id", r.ID()).Msg("destination already complete")
			d.delivery.PostComplete(r)
			r.Finish()
			return nil
		}
		d.transfer(r, a, resp.Body(), path, start)
		return nil

	case http.StatusMovedPermanently, http.StatusFound, http.StatusSeeOther, http.StatusTemporaryRedirect:
		if !a.allowRedirects || a.redirects >= types.MaxRedirects {
			d.fail(r, a, types.ErrorTooManyRedirects,
				fmt.Sprintf("too many redirects (limit %d)", types.MaxRedirects))
			return nil
		}
		next, err := resolveLocation(current, resp.Header().Get("Location"))
		if err != nil {
			d.fail(r, a, types.ErrorMalformedURI, err.Error())
			return nil
		}
		a.redirects++
		d.logger.Debug().
			Int64("download_id", r.ID()).
			Int("status", code).
			Int("redirects", a.redirects).
			Str("location", next.Redacted()).
			Msg("following redirect")
		return next

	case http.StatusRequestedRangeNotSatisfiable, http.StatusInternalServerError:
		d.fail(r, a, types.ErrorCode(code), resp.Message())
		return nil

	case http.StatusServiceUnavailable:
		msg := resp.Message()
		if at := httpheader.RetryAfter(resp.Header()); !at.IsZero() {
			msg = fmt.Sprintf("%s (retry after %s)", msg, time.Until(at).Round(time.Second))
		}
		d.fail(r, a, types.ErrorCode(code), msg)
		return nil

	default:
		d.fail(r, a, types.ErrorUnhandledHTTPCode,
			fmt.Sprintf("unhandled HTTP response: %d %s", code, resp.Message()))
		return nil
	}
}

// resolveContentLength returns the full size of the file, -1 for a
// streamed body of unknown size, and false when the size is unknowable.
func resolveContentLength(h http.Header, code int, offset int64) (int64, bool) {
	if h.Get("Transfer-Encoding") != "" {
		return -1, true
	}
	raw := h.Get("Content-Length")
	if raw == "" {
		return 0, false
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || n < 0 {
		return 0, false
	}
	if code == http.StatusPartialContent {
		// A partial body excludes the bytes we already have
		n += offset
	}
	return n, true
}

// resolveLocation resolves a redirect target against the current URL.
func resolveLocation(current *url.URL, loc string) (*url.URL, error) {
	if loc == "" {
		return nil, errors.New("redirect without Location header")
	}
	next, err := current.Parse(loc)
	if err != nil {
		return nil, fmt.Errorf("malformed redirect location %q: %w", loc, err)
	}
	switch strings.ToLower(next.Scheme) {
	case "http", "https":
	default:
		return nil, fmt.Errorf("redirect to unsupported scheme %q", next.Scheme)
	}
	return next, nil
}

// transfer streams the body into path starting at start.
func (d *Dispatcher) transfer(r *request.Request, a *attempt, body io.Reader, path string, start int64) {
	f, err := d.storage.Open(path)
	if err != nil {
		d.fail(r, a, types.ErrorFile, err.Error())
		return
	}
	if start == 0 {
		// Stale bytes from an earlier download must not survive a shorter body
		if err := f.Truncate(0); err != nil {
			_ = f.Close()
			d.fail(r, a, types.ErrorFile, err.Error())
			return
		}
	}

	d.setState(r, types.StatusRunning)
	total := a.contentLength
	written := start
	buf := make([]byte, d.bufSize)

	for {
		n, rerr := body.Read(buf)
		if n > 0 {
			if r.IsCancelled() || d.stopping() {
				_ = f.Close()
				d.fail(r, a, types.ErrorDownloadCancelled, "download cancelled")
				return
			}
			if _, err := f.WriteAt(buf[:n], written); err != nil {
				_ = f.Close()
				d.fail(r, a, types.ErrorFile, err.Error())
				return
			}
			written += int64(n)
			a.downloaded = written

			switch {
			case total > 0:
				d.delivery.PostProgress(r, total, written, int(written*100/total))
			case total < 0:
				d.delivery.PostProgress(r, -1, written, -1)
			}
		}

		if rerr == nil {
			continue
		}
		if rerr == io.EOF || errors.Is(rerr, transport.ErrEndOfStream) {
			break
		}

		_ = f.Close()
		switch {
		case r.IsCancelled() || d.stopping():
			d.fail(r, a, types.ErrorDownloadCancelled, "download cancelled")
		case errors.Is(rerr, transport.ErrTimeout):
			d.retryOrFail(r, a, rerr)
		default:
			d.fail(r, a, types.ErrorHTTPData, rerr.Error())
		}
		return
	}

	if err := f.Sync(); err != nil {
		_ = f.Close()
		d.fail(r, a, types.ErrorFile, err.Error())
		return
	}
	if err := f.Close(); err != nil {
		d.fail(r, a, types.ErrorFile, err.Error())
		return
	}

	d.setState(r, types.StatusSuccessful)
	d.logger.Info().
		Int64("download_id", r.ID()).
		Str("path", path).
		Int64("bytes", written).
		Msg("download complete")
	d.delivery.PostComplete(r)
	r.Finish()
}

// handleError resolves a failed Open.
func (d *Dispatcher) handleError(r *request.Request, a *attempt, err error) {
	switch {
	case r.IsCancelled() || d.stopping():
		d.fail(r, a, types.ErrorDownloadCancelled, "download cancelled")
	case errors.Is(err, transport.ErrTimeout):
		d.retryOrFail(r, a, err)
	default:
		d.fail(r, a, types.ErrorHTTPData, err.Error())
	}
}

func (d *Dispatcher) retryOrFail(r *request.Request, a *attempt, cause error) {
	policy := r.RetryPolicy()
	if err := policy.Retry(); err != nil {
		d.fail(r, a, types.ErrorConnectionTimeoutAfterRetries,
			fmt.Sprintf("%v after %d retries", cause, policy.CurrentRetryCount()-1))
		return
	}

	d.setState(r, types.StatusRetrying)
	delay := policy.CurrentTimeout()
	d.logger.Warn().
		Int64("download_id", r.ID()).
		Int("attempt", policy.CurrentRetryCount()).
		Dur("backoff", delay).
		Err(cause).
		Msg("timed out, retrying")
	d.schedule(r, delay)
}

// schedule re-runs r on this worker after delay. Timers die with the worker.
func (d *Dispatcher) schedule(r *request.Request, delay time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopping() {
		go d.abandon(r)
		return
	}

	d.timers[r] = time.AfterFunc(delay, func() {
		d.mu.Lock()
		delete(d.timers, r)
		d.mu.Unlock()

		select {
		case d.retryCh <- r:
		case <-d.quit:
			d.abandon(r)
		}
	})
}

// abandonScheduled fails every request still waiting for its backoff.
func (d *Dispatcher) abandonScheduled() {
	d.mu.Lock()
	var pending []*request.Request
	for r, t := range d.timers {
		// A timer that already fired abandons its request itself
		if t.Stop() {
			pending = append(pending, r)
		}
		delete(d.timers, r)
	}
	d.mu.Unlock()

	for _, r := range pending {
		d.abandon(r)
	}
	d.logger.Debug().Msg("dispatcher stopped")
}

func (d *Dispatcher) abandon(r *request.Request) {
	d.fail(r, nil, types.ErrorDownloadCancelled, "dispatcher stopped")
}

// fail moves r to FAILED, removes the destination when asked to, reports
// the failure and deregisters the request.
func (d *Dispatcher) fail(r *request.Request, a *attempt, code types.ErrorCode, message string) {
	if a != nil {
		a.reset()
	}
	d.setState(r, types.StatusFailed)

	path := r.DestinationPath()
	if r.DeleteOnFailure() {
		if err := d.storage.Remove(path); err != nil {
			d.logger.Warn().Err(err).Str("path", path).Msg("could not remove destination")
		}
	}

	ev := d.logger.Error()
	if code == types.ErrorDownloadCancelled {
		ev = d.logger.Info()
	}
	ev.Int64("download_id", r.ID()).
		Str("code", code.String()).
		Str("reason", message).
		Msg("download failed")

	if !r.IsDiscarded() {
		d.delivery.PostFailed(r, code, message)
	}
	r.Finish()
}
