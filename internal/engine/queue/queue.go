// Package queue admits download requests and feeds them, highest
// priority first, to a fixed pool of dispatchers.
package queue

import (
	"container/heap"
	"errors"
	"sync"
	"weak"

	"github.com/rs/zerolog"

	"github.com/thindl/thindl/internal/engine/dispatcher"
	"github.com/thindl/thindl/internal/engine/events"
	"github.com/thindl/thindl/internal/engine/files"
	"github.com/thindl/thindl/internal/engine/request"
	"github.com/thindl/thindl/internal/engine/transport"
	"github.com/thindl/thindl/internal/engine/types"
)

var (
	// ErrNotResumable is returned when pausing a request that cannot resume.
	ErrNotResumable = errors.New("request is not resumable")
	// ErrReleased is returned by Add after Release.
	ErrReleased = errors.New("queue has been released")
)

type Config struct {
	PoolSize   int
	Delivery   events.Delivery
	Transport  transport.Transport
	Storage    files.Storage
	BufferSize int
	Logger     zerolog.Logger
}

// RequestQueue owns every admitted request until it is terminal.
//
// active and pending are guarded by mu. Every pending request is also in
// active; a request leaves pending when a dispatcher takes it and leaves
// active when it is terminal.
type RequestQueue struct {
	cfg    Config
	logger zerolog.Logger

	mu       sync.Mutex
	active   map[int64]*request.Request
	pending  pendingHeap
	seq      int64
	started  bool
	released bool
	workers  []*dispatcher.Dispatcher

	wake chan struct{}
}

func New(cfg Config) *RequestQueue {
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = (*types.RuntimeConfig)(nil).GetPoolSize()
	}
	if cfg.Storage == nil {
		cfg.Storage = files.OS{}
	}
	return &RequestQueue{
		cfg:    cfg,
		logger: cfg.Logger.With().Str("component", "queue").Logger(),
		active: make(map[int64]*request.Request),
		wake:   make(chan struct{}, 1),
	}
}

// Add assigns the next id to r and queues it. It returns immediately.
func (q *RequestQueue) Add(r *request.Request) (int64, error) {
	q.mu.Lock()
	if q.released {
		q.mu.Unlock()
		return 0, ErrReleased
	}

	id := q.seq + 1
	wq := weak.Make(q)
	err := r.Attach(id, func(r *request.Request) {
		// The request must not keep a released queue alive
		if q := wq.Value(); q != nil {
			q.finish(r)
		}
	})
	if err != nil {
		q.mu.Unlock()
		return 0, err
	}
	q.seq = id
	q.active[id] = r
	heap.Push(&q.pending, r)
	q.mu.Unlock()

	q.logger.Debug().
		Int64("download_id", id).
		Str("priority", r.Priority().String()).
		Str("url", r.URL().Redacted()).
		Msg("request queued")
	q.signal()
	return id, nil
}

func (q *RequestQueue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// Poll hands the highest priority pending request to a dispatcher.
func (q *RequestQueue) Poll() *request.Request {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.pending.Len() == 0 {
		return nil
	}
	r := heap.Pop(&q.pending).(*request.Request)
	if q.pending.Len() > 0 {
		// Chain the wake-up to the next idle dispatcher
		q.signal()
	}
	return r
}

func (q *RequestQueue) Wake() <-chan struct{} {
	return q.wake
}

// Query returns the status of id, or StatusNotFound.
func (q *RequestQueue) Query(id int64) types.Status {
	q.mu.Lock()
	defer q.mu.Unlock()
	if r, ok := q.active[id]; ok {
		return r.State()
	}
	return types.StatusNotFound
}

// Len is the number of requests not yet terminal.
func (q *RequestQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.active)
}

// Cancel flags id for cancellation and reports whether it was found.
func (q *RequestQueue) Cancel(id int64) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	r, ok := q.active[id]
	if ok {
		r.Cancel()
	}
	return ok
}

// CancelAll cancels every request without reporting them.
func (q *RequestQueue) CancelAll() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.dropAllLocked()
}

// Pause cancels a resumable request, keeping its partial file.
func (q *RequestQueue) Pause(id int64) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	r, ok := q.active[id]
	if !ok {
		return false, nil
	}
	if !r.Resumable() {
		return true, ErrNotResumable
	}
	r.Pause()
	return true, nil
}

// PauseAll is CancelAll with a warning for requests whose partial data
// will be deleted.
func (q *RequestQueue) PauseAll() {
	q.mu.Lock()
	defer q.mu.Unlock()
	for id, r := range q.active {
		if !r.Resumable() {
			q.logger.Warn().Int64("download_id", id).Msg("pausing a non-resumable request cancels it")
		}
	}
	q.dropAllLocked()
}

func (q *RequestQueue) dropAllLocked() {
	for id, r := range q.active {
		r.Discard()
		delete(q.active, id)
	}
	// Nobody will dequeue these, settle them here
	for _, r := range q.pending {
		r.SetState(types.StatusFailed)
	}
	q.pending = nil
}

// finish removes a terminal request.
func (q *RequestQueue) finish(r *request.Request) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if cur, ok := q.active[r.ID()]; ok && cur == r {
		delete(q.active, r.ID())
	}
}

// Start launches the dispatcher pool. Calling it twice is a no-op.
func (q *RequestQueue) Start() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.started || q.released {
		return
	}
	q.started = true

	q.workers = make([]*dispatcher.Dispatcher, q.cfg.PoolSize)
	for i := range q.workers {
		d := dispatcher.New(dispatcher.Config{
			ID:         i + 1,
			Source:     q,
			Delivery:   q.cfg.Delivery,
			Transport:  q.cfg.Transport,
			Storage:    q.cfg.Storage,
			BufferSize: q.cfg.BufferSize,
			Logger:     q.cfg.Logger,
		})
		q.workers[i] = d
		d.Start()
	}
	q.logger.Debug().Int("workers", q.cfg.PoolSize).Msg("dispatchers started")
}

// Stop terminates every dispatcher and waits for them. Requests they held
// fail as cancelled; pending requests stay queued for the next Start.
func (q *RequestQueue) Stop() {
	q.mu.Lock()
	workers := q.workers
	q.workers = nil
	q.started = false
	q.mu.Unlock()

	for _, d := range workers {
		d.Stop()
	}
	for _, d := range workers {
		<-d.Done()
	}
	if len(workers) > 0 {
		q.logger.Debug().Msg("dispatchers stopped")
	}
}

// Release stops the pool and drops every request silently. The queue
// cannot be used afterwards.
func (q *RequestQueue) Release() {
	q.mu.Lock()
	if q.released {
		q.mu.Unlock()
		return
	}
	q.released = true
	for _, r := range q.active {
		r.Discard()
	}
	q.mu.Unlock()

	q.Stop()

	q.mu.Lock()
	q.dropAllLocked()
	q.mu.Unlock()
}

// pendingHeap orders requests by request.Less.
type pendingHeap []*request.Request

func (h pendingHeap) Len() int           { return len(h) }
func (h pendingHeap) Less(i, j int) bool { return request.Less(h[i], h[j]) }
func (h pendingHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *pendingHeap) Push(x any) {
	*h = append(*h, x.(*request.Request))
}

func (h *pendingHeap) Pop() any {
	old := *h
	n := len(old)
	r := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return r
}
