// Package download is the public face of the engine. A Manager owns a
// request queue, its dispatcher pool and the delivery of callbacks.
package download

import (
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/thindl/thindl/internal/engine/events"
	"github.com/thindl/thindl/internal/engine/files"
	"github.com/thindl/thindl/internal/engine/queue"
	"github.com/thindl/thindl/internal/engine/request"
	"github.com/thindl/thindl/internal/engine/retry"
	"github.com/thindl/thindl/internal/engine/transport"
	"github.com/thindl/thindl/internal/engine/types"
	"github.com/thindl/thindl/internal/utils"
)

var (
	// ErrReleased is returned by every operation after Release.
	ErrReleased = errors.New("download manager has been released")
	// ErrInvalidRequest is returned when Add is given nothing to download.
	ErrInvalidRequest = errors.New("invalid download request")
	// ErrNotResumable is returned by Pause for requests that cannot resume.
	ErrNotResumable = queue.ErrNotResumable
)

type options struct {
	poolSize  int
	delivery  events.Delivery
	transport transport.Transport
	storage   files.Storage
	runtime   *types.RuntimeConfig
	logger    *zerolog.Logger
	noStart   bool
}

type Option func(*options)

// WithPoolSize sets the number of dispatchers. Zero or less means one per
// CPU.
func WithPoolSize(n int) Option {
	return func(o *options) { o.poolSize = n }
}

// WithDelivery replaces the default listener delivery, which runs callbacks
// in order on a single goroutine owned by the manager.
func WithDelivery(d events.Delivery) Option {
	return func(o *options) { o.delivery = d }
}

func WithTransport(t transport.Transport) Option {
	return func(o *options) { o.transport = t }
}

func WithStorage(s files.Storage) Option {
	return func(o *options) { o.storage = s }
}

// WithRuntime supplies tuning for the pool, the HTTP transport and the
// retry policy of requests that carry none.
func WithRuntime(rc *types.RuntimeConfig) Option {
	return func(o *options) { o.runtime = rc }
}

func WithLogger(l zerolog.Logger) Option {
	return func(o *options) { o.logger = &l }
}

// WithoutAutoStart keeps the dispatchers idle until Start is called, so a
// batch can be queued and then served strictly by priority.
func WithoutAutoStart() Option {
	return func(o *options) { o.noStart = true }
}

type Manager struct {
	queue   *queue.RequestQueue
	runtime *types.RuntimeConfig
	logger  zerolog.Logger

	// owned is the executor behind the default delivery, if any
	owned *events.SerialExecutor

	mu       sync.RWMutex
	released bool
}

// New builds a manager. Unless WithoutAutoStart is given the dispatchers
// are running when it returns.
func New(opts ...Option) (*Manager, error) {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}

	logger := utils.GetLogger("download")
	if o.logger != nil {
		logger = o.logger.With().Str("component", "download").Logger()
	}

	if o.transport == nil {
		t, err := transport.NewHTTP(o.runtime)
		if err != nil {
			return nil, fmt.Errorf("failed to create transport: %w", err)
		}
		o.transport = t
	}

	m := &Manager{
		runtime: o.runtime,
		logger:  logger,
	}
	if o.delivery == nil {
		m.owned = events.NewSerialExecutor()
		o.delivery = events.NewCallbackDelivery(m.owned)
	}

	poolSize := o.poolSize
	if poolSize <= 0 {
		poolSize = o.runtime.GetPoolSize()
	}

	m.queue = queue.New(queue.Config{
		PoolSize:   poolSize,
		Delivery:   o.delivery,
		Transport:  o.transport,
		Storage:    o.storage,
		BufferSize: o.runtime.GetBufferSize(),
		Logger:     logger,
	})
	if !o.noStart {
		m.queue.Start()
	}
	logger.Debug().Int("pool_size", poolSize).Msg("download manager ready")
	return m, nil
}

// Start launches the dispatchers of a manager built WithoutAutoStart.
func (m *Manager) Start() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.released {
		return ErrReleased
	}
	m.queue.Start()
	return nil
}

// Add queues r and returns its download id.
func (m *Manager) Add(r *request.Request) (int64, error) {
	if r == nil {
		return 0, ErrInvalidRequest
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.released {
		return 0, ErrReleased
	}
	if !r.HasRetryPolicy() && m.runtime != nil {
		r.SetRetryPolicy(retry.FromConfig(m.runtime))
	}

	id, err := m.queue.Add(r)
	switch {
	case errors.Is(err, queue.ErrReleased):
		return 0, ErrReleased
	case err != nil:
		return 0, fmt.Errorf("add %s: %w", r.URL().Redacted(), err)
	}
	return id, nil
}

// Cancel stops id and reports DOWNLOAD_CANCELLED to its listener. The
// boolean is false when id is unknown or already terminal.
func (m *Manager) Cancel(id int64) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.released {
		return false, ErrReleased
	}
	return m.queue.Cancel(id), nil
}

// CancelAll stops every request. Listeners are not notified.
func (m *Manager) CancelAll() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.released {
		return ErrReleased
	}
	m.queue.CancelAll()
	return nil
}

// Pause stops a resumable request and keeps its partial file so that a
// new request for the same destination continues where it stopped.
func (m *Manager) Pause(id int64) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.released {
		return false, ErrReleased
	}
	return m.queue.Pause(id)
}

// PauseAll stops every request without notifying listeners. Partial files
// of non-resumable requests are deleted.
func (m *Manager) PauseAll() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.released {
		return ErrReleased
	}
	m.queue.PauseAll()
	return nil
}

// Query returns the state of id. Unknown, finished and released ids are
// StatusNotFound.
func (m *Manager) Query(id int64) types.Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.released {
		return types.StatusNotFound
	}
	return m.queue.Query(id)
}

// Active is the number of requests that are not terminal yet.
func (m *Manager) Active() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.released {
		return 0
	}
	return m.queue.Len()
}

// Release drops every request silently and stops the dispatchers. Only
// the first call has any effect.
func (m *Manager) Release() {
	m.mu.Lock()
	if m.released {
		m.mu.Unlock()
		return
	}
	m.released = true
	m.mu.Unlock()

	m.queue.Release()
	if m.owned != nil {
		m.owned.Close()
	}
	m.logger.Debug().Msg("download manager released")
}

func (m *Manager) IsReleased() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.released
}
