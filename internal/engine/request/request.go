// Package request defines the unit of work handed to the download queue.
package request

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/thindl/thindl/internal/engine/retry"
	"github.com/thindl/thindl/internal/engine/types"
	"github.com/thindl/thindl/internal/utils"
)

var (
	// ErrUnsupportedScheme is returned for URIs that are not http or https.
	ErrUnsupportedScheme = errors.New("unsupported uri scheme")
	// ErrAlreadyQueued is returned when a request is admitted twice.
	ErrAlreadyQueued = errors.New("request already belongs to a queue")
)

// StatusListener receives the outcome of a single request. Calls are made
// on the delivery's execution context, never on a dispatcher goroutine.
type StatusListener interface {
	OnProgress(r *Request, total, downloaded int64, percent int)
	OnDownloadComplete(r *Request)
	OnDownloadFailed(r *Request, code types.ErrorCode, message string)
}

// Request is a single download. Configure it with the setters before
// handing it to a queue; after admission only the runtime state changes.
type Request struct {
	key      uuid.UUID
	uri      *url.URL
	priority types.Priority
	headers  http.Header
	policy   retry.Policy

	destination     string
	resumable       bool
	deleteOnFailure bool

	listener StatusListener
	data     any

	id        atomic.Int64
	state     atomic.Int32
	cancelled atomic.Bool
	paused    atomic.Bool
	discarded atomic.Bool

	mu       sync.Mutex
	attached bool
	finish   func(*Request)
	finished bool
}

// New validates the URI and returns a request in the PENDING state.
func New(rawURL string) (*Request, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return nil, fmt.Errorf("parse %q: %w", rawURL, err)
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedScheme, u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("missing host in %q", rawURL)
	}

	r := &Request{
		key:             uuid.New(),
		uri:             u,
		priority:        types.PriorityNormal,
		headers:         make(http.Header),
		deleteOnFailure: true,
	}
	r.state.Store(int32(types.StatusPending))
	return r, nil
}

func (r *Request) SetPriority(p types.Priority) *Request {
	r.priority = p
	return r
}

// AddCustomHeader sets a header sent with every attempt. Later values for
// the same key replace earlier ones.
func (r *Request) AddCustomHeader(key, value string) *Request {
	r.headers.Set(key, value)
	return r
}

func (r *Request) SetRetryPolicy(p retry.Policy) *Request {
	r.mu.Lock()
	r.policy = p
	r.mu.Unlock()
	return r
}

// SetDestination sets the output path. A path ending in a separator is a
// directory and the file name is taken from the URL.
func (r *Request) SetDestination(dest string) *Request {
	r.destination = dest
	return r
}

// SetResumable keeps partial data on failure and resumes with a Range
// request on the next attempt.
func (r *Request) SetResumable(resumable bool) *Request {
	r.resumable = resumable
	if resumable {
		r.deleteOnFailure = false
	}
	return r
}

// SetDeleteDestinationFileOnFailure is ignored for resumable requests.
func (r *Request) SetDeleteDestinationFileOnFailure(del bool) *Request {
	if r.resumable {
		return r
	}
	r.deleteOnFailure = del
	return r
}

func (r *Request) SetStatusListener(l StatusListener) *Request {
	r.listener = l
	return r
}

// SetData attaches an arbitrary caller value to the request.
func (r *Request) SetData(v any) *Request {
	r.data = v
	return r
}

func (r *Request) ID() int64                { return r.id.Load() }
func (r *Request) Key() string              { return r.key.String() }
func (r *Request) URL() *url.URL            { return r.uri }
func (r *Request) Priority() types.Priority { return r.priority }
func (r *Request) Resumable() bool          { return r.resumable }
func (r *Request) DeleteOnFailure() bool    { return r.deleteOnFailure }
func (r *Request) Listener() StatusListener { return r.listener }
func (r *Request) Data() any                { return r.data }

// Headers returns a copy of the custom headers.
func (r *Request) Headers() http.Header {
	return r.headers.Clone()
}

// HasRetryPolicy reports whether a policy was set or already created.
func (r *Request) HasRetryPolicy() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.policy != nil
}

// RetryPolicy returns the request's policy, creating the default one on
// first use so the budget is shared by every attempt.
func (r *Request) RetryPolicy() retry.Policy {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.policy == nil {
		r.policy = retry.Default()
	}
	return r.policy
}

// Destination is the raw destination as configured.
func (r *Request) Destination() string {
	return r.destination
}

// DestinationPath is the file the bytes are written to.
func (r *Request) DestinationPath() string {
	return utils.ResolveDestination(r.destination, r.uri.String())
}

func (r *Request) State() types.Status {
	return types.Status(r.state.Load())
}

func (r *Request) SetState(s types.Status) {
	r.state.Store(int32(s))
}

// Cancel flags the request. A dispatcher notices before connecting and
// between chunks.
func (r *Request) Cancel() {
	r.cancelled.Store(true)
}

// Pause cancels the request and records that the caller means to resume
// it later from the partial file.
func (r *Request) Pause() {
	r.paused.Store(true)
	r.cancelled.Store(true)
}

func (r *Request) IsPaused() bool {
	return r.paused.Load()
}

// AbortCancel clears a cancellation or pause that has not been acted on yet.
func (r *Request) AbortCancel() {
	r.paused.Store(false)
	r.cancelled.Store(false)
}

func (r *Request) IsCancelled() bool {
	return r.cancelled.Load()
}

// Discard cancels the request and suppresses its failure callback. Used
// when the owning queue drops requests in bulk.
func (r *Request) Discard() {
	r.discarded.Store(true)
	r.cancelled.Store(true)
}

func (r *Request) IsDiscarded() bool {
	return r.discarded.Load()
}

// Attach assigns the queue id and the callback used to deregister the
// request once it is terminal. It can only succeed once.
func (r *Request) Attach(id int64, finish func(*Request)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.attached {
		return ErrAlreadyQueued
	}
	r.attached = true
	r.finish = finish
	r.id.Store(id)
	return nil
}

// Finish deregisters the request from its queue. Only the first call has
// an effect.
func (r *Request) Finish() {
	r.mu.Lock()
	if r.finished {
		r.mu.Unlock()
		return
	}
	r.finished = true
	fn := r.finish
	r.finish = nil
	r.mu.Unlock()

	if fn != nil {
		fn(r)
	}
}

// Less orders requests for dispatch: higher priority first, then by
// admission order.
func Less(a, b *Request) bool {
	if a.priority != b.priority {
		return a.priority > b.priority
	}
	return a.ID() < b.ID()
}

func (r *Request) String() string {
	return fmt.Sprintf("request[%d %s %s]", r.ID(), r.priority, r.uri.Redacted())
}
