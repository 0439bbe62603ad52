package dispatcher

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thindl/thindl/internal/engine/files"
	"github.com/thindl/thindl/internal/engine/request"
	"github.com/thindl/thindl/internal/engine/retry"
	"github.com/thindl/thindl/internal/engine/transport"
	"github.com/thindl/thindl/internal/engine/types"
	"github.com/thindl/thindl/internal/testutil"
)

// fakeSource is a FIFO Source.
type fakeSource struct {
	mu    sync.Mutex
	items []*request.Request
	wake  chan struct{}
}

func newFakeSource() *fakeSource {
	return &fakeSource{wake: make(chan struct{}, 1)}
}

func (s *fakeSource) push(r *request.Request) {
	s.mu.Lock()
	s.items = append(s.items, r)
	s.mu.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *fakeSource) Poll() *request.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.items) == 0 {
		return nil
	}
	r := s.items[0]
	s.items = s.items[1:]
	return r
}

func (s *fakeSource) Wake() <-chan struct{} { return s.wake }

type outcome struct {
	ok      bool
	code    types.ErrorCode
	message string
}

// recorder is a synchronous Delivery.
type recorder struct {
	mu       sync.Mutex
	progress map[int64][]int
	totals   map[int64][]int64
	results  map[int64]outcome
	done     chan int64

	onProgress func(r *request.Request, downloaded int64)
}

func newRecorder() *recorder {
	return &recorder{
		progress: make(map[int64][]int),
		totals:   make(map[int64][]int64),
		results:  make(map[int64]outcome),
		done:     make(chan int64, 64),
	}
}

func (rc *recorder) PostProgress(r *request.Request, total, downloaded int64, percent int) {
	rc.mu.Lock()
	rc.progress[r.ID()] = append(rc.progress[r.ID()], percent)
	rc.totals[r.ID()] = append(rc.totals[r.ID()], total)
	hook := rc.onProgress
	rc.mu.Unlock()
	if hook != nil {
		hook(r, downloaded)
	}
}

func (rc *recorder) PostComplete(r *request.Request) {
	rc.mu.Lock()
	rc.results[r.ID()] = outcome{ok: true}
	rc.mu.Unlock()
	rc.done <- r.ID()
}

func (rc *recorder) PostFailed(r *request.Request, code types.ErrorCode, message string) {
	rc.mu.Lock()
	rc.results[r.ID()] = outcome{code: code, message: message}
	rc.mu.Unlock()
	rc.done <- r.ID()
}

func (rc *recorder) wait(t *testing.T, id int64) outcome {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case got := <-rc.done:
			if got == id {
				rc.mu.Lock()
				defer rc.mu.Unlock()
				return rc.results[id]
			}
		case <-deadline:
			t.Fatalf("request %d did not reach a terminal state", id)
		}
	}
}

func (rc *recorder) percents(id int64) []int {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return append([]int(nil), rc.progress[id]...)
}

type harness struct {
	d        *Dispatcher
	src      *fakeSource
	rec      *recorder
	dir      string
	nextID   int64
	finished sync.Map
}

func newHarness(t *testing.T, tr transport.Transport, bufSize int) *harness {
	t.Helper()
	h := &harness{src: newFakeSource(), rec: newRecorder(), dir: t.TempDir()}
	h.d = New(Config{
		ID:         1,
		Source:     h.src,
		Delivery:   h.rec,
		Transport:  tr,
		Storage:    files.OS{},
		BufferSize: bufSize,
		Logger:     zerolog.Nop(),
	})
	h.d.Start()
	t.Cleanup(func() {
		h.d.Stop()
		<-h.d.Done()
	})
	return h
}

func (h *harness) request(t *testing.T, url, name string) *request.Request {
	t.Helper()
	r, err := request.New(url)
	require.NoError(t, err)
	r.SetDestination(filepath.Join(h.dir, name))
	return r
}

func (h *harness) submit(t *testing.T, r *request.Request) int64 {
	t.Helper()
	h.nextID++
	id := h.nextID
	require.NoError(t, r.Attach(id, func(r *request.Request) {
		h.finished.Store(r.ID(), true)
	}))
	h.src.push(r)
	return id
}

func (h *harness) isFinished(id int64) bool {
	_, ok := h.finished.Load(id)
	return ok
}

func TestDispatcher_SimpleDownload(t *testing.T) {
	body := []byte("0123456789")
	stub := testutil.NewStubTransport().Route("http://host/file", testutil.OK(body))
	h := newHarness(t, stub, 0)

	r := h.request(t, "http://host/file", "file.bin")
	id := h.submit(t, r)

	res := h.rec.wait(t, id)
	require.True(t, res.ok, "failed: %v %s", res.code, res.message)
	assert.Equal(t, types.StatusSuccessful, r.State())
	assert.True(t, h.isFinished(id))

	data, err := os.ReadFile(r.DestinationPath())
	require.NoError(t, err)
	assert.Equal(t, body, data)

	pcts := h.rec.percents(id)
	require.NotEmpty(t, pcts)
	assert.Equal(t, 100, pcts[len(pcts)-1])

	calls := stub.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "bytes=0-", calls[0].Header.Get("Range"))
	assert.Equal(t, types.DefaultTimeout, calls[0].ConnectTimeout)
	assert.Equal(t, types.DefaultTimeout, calls[0].ReadTimeout)
}

func TestDispatcher_CustomHeaders(t *testing.T) {
	stub := testutil.NewStubTransport().Route("http://host/file", testutil.OK([]byte("x")))
	h := newHarness(t, stub, 0)

	r := h.request(t, "http://host/file", "file.bin")
	r.AddCustomHeader("Authorization", "Bearer t")
	h.rec.wait(t, h.submit(t, r))

	assert.Equal(t, "Bearer t", stub.Calls()[0].Header.Get("Authorization"))
}

func chain(stub *testutil.StubTransport, hops int, final string) string {
	for i := hops; i > 0; i-- {
		next := fmt.Sprintf("http://host/hop/%d", i-1)
		if i == 1 {
			next = final
		}
		stub.Route(fmt.Sprintf("http://host/hop/%d", i), testutil.Redirect(http.StatusFound, next))
	}
	return fmt.Sprintf("http://host/hop/%d", hops)
}

func TestDispatcher_RedirectBound(t *testing.T) {
	tests := []struct {
		hops   int
		wantOK bool
	}{
		{1, true},
		{5, true},
		{6, false},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%d hops", tt.hops), func(t *testing.T) {
			stub := testutil.NewStubTransport().Route("http://host/final", testutil.OK([]byte("done")))
			start := chain(stub, tt.hops, "http://host/final")
			h := newHarness(t, stub, 0)

			r := h.request(t, start, "file.bin")
			res := h.rec.wait(t, h.submit(t, r))

			if tt.wantOK {
				assert.True(t, res.ok, "got %v %s", res.code, res.message)
				assert.Equal(t, "http://host/final", stub.URLs()[len(stub.URLs())-1])
				return
			}
			assert.False(t, res.ok)
			assert.Equal(t, types.ErrorTooManyRedirects, res.code)
			assert.NotContains(t, stub.URLs(), "http://host/final")
		})
	}
}

func TestDispatcher_RelativeRedirect(t *testing.T) {
	stub := testutil.NewStubTransport().
		Route("http://host/a/start", testutil.Redirect(http.StatusSeeOther, "../b/file")).
		Route("http://host/b/file", testutil.OK([]byte("ok")))
	h := newHarness(t, stub, 0)

	res := h.rec.wait(t, h.submit(t, h.request(t, "http://host/a/start", "f")))
	assert.True(t, res.ok)
}

func TestDispatcher_RedirectToBadScheme(t *testing.T) {
	stub := testutil.NewStubTransport().
		Route("http://host/start", testutil.Redirect(http.StatusTemporaryRedirect, "ftp://host/file"))
	h := newHarness(t, stub, 0)

	res := h.rec.wait(t, h.submit(t, h.request(t, "http://host/start", "f")))
	assert.Equal(t, types.ErrorMalformedURI, res.code)
}

func TestDispatcher_ErrorStatuses(t *testing.T) {
	tests := []struct {
		status   int
		wantCode types.ErrorCode
	}{
		{http.StatusRequestedRangeNotSatisfiable, types.ErrorCode(416)},
		{http.StatusInternalServerError, types.ErrorCode(500)},
		{http.StatusServiceUnavailable, types.ErrorCode(503)},
		{http.StatusNotFound, types.ErrorUnhandledHTTPCode},
		{http.StatusForbidden, types.ErrorUnhandledHTTPCode},
		{http.StatusNotModified, types.ErrorUnhandledHTTPCode},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			stub := testutil.NewStubTransport().Route("http://host/file",
				testutil.StubResponse{Status: tt.status, Message: "server says no"})
			h := newHarness(t, stub, 0)

			r := h.request(t, "http://host/file", "file.bin")
			id := h.submit(t, r)
			res := h.rec.wait(t, id)

			assert.False(t, res.ok)
			assert.Equal(t, tt.wantCode, res.code)
			assert.Contains(t, res.message, "server says no")
			assert.Equal(t, types.StatusFailed, r.State())
			assert.True(t, h.isFinished(id))
			assert.Len(t, stub.Calls(), 1, "protocol errors are not retried")
		})
	}
}

func TestDispatcher_RetryAfterHint(t *testing.T) {
	stub := testutil.NewStubTransport().Route("http://host/file", testutil.StubResponse{
		Status: http.StatusServiceUnavailable,
		Header: http.Header{"Retry-After": {"120"}},
	})
	h := newHarness(t, stub, 0)

	res := h.rec.wait(t, h.submit(t, h.request(t, "http://host/file", "f")))
	assert.Equal(t, types.ErrorCode(503), res.code)
	assert.Contains(t, res.message, "retry after")
}

func TestDispatcher_SizeUnknown(t *testing.T) {
	stub := testutil.NewStubTransport().Route("http://host/file", testutil.StubResponse{
		Status:     http.StatusOK,
		Body:       []byte("abc"),
		OmitLength: true,
	})
	h := newHarness(t, stub, 0)

	r := h.request(t, "http://host/file", "file.bin")
	res := h.rec.wait(t, h.submit(t, r))

	assert.Equal(t, types.ErrorDownloadSizeUnknown, res.code)
	assert.NoFileExists(t, r.DestinationPath())
}

func TestDispatcher_ChunkedUnknownTotal(t *testing.T) {
	body := bytes.Repeat([]byte("z"), 10000)
	stub := testutil.NewStubTransport().Route("http://host/file", testutil.StubResponse{
		Status:  http.StatusOK,
		Body:    body,
		Chunked: true,
	})
	h := newHarness(t, stub, 0)

	r := h.request(t, "http://host/file", "file.bin")
	id := h.submit(t, r)
	res := h.rec.wait(t, id)
	require.True(t, res.ok)

	for _, p := range h.rec.percents(id) {
		assert.Equal(t, -1, p)
	}
	h.rec.mu.Lock()
	for _, total := range h.rec.totals[id] {
		assert.Equal(t, int64(-1), total)
	}
	h.rec.mu.Unlock()

	require.NoError(t, testutil.VerifyFileSize(r.DestinationPath(), 10000))
}

func TestDispatcher_ProgressChunks(t *testing.T) {
	body := bytes.Repeat([]byte("a"), 3*types.BufferSize)
	stub := testutil.NewStubTransport().Route("http://host/file", testutil.OK(body))
	h := newHarness(t, stub, 0)

	id := h.submit(t, h.request(t, "http://host/file", "f"))
	require.True(t, h.rec.wait(t, id).ok)

	assert.Equal(t, []int{33, 66, 100}, h.rec.percents(id))
}

func TestDispatcher_Resume(t *testing.T) {
	full := make([]byte, 10000)
	for i := range full {
		full[i] = byte(i % 251)
	}
	const have = 4000

	stub := testutil.NewStubTransport().Route("http://host/file", testutil.StubResponse{
		Status: http.StatusPartialContent,
		Body:   full[have:],
	})
	h := newHarness(t, stub, 0)

	r := h.request(t, "http://host/file", "file.bin")
	r.SetResumable(true)
	require.NoError(t, os.WriteFile(r.DestinationPath(), full[:have], 0o644))

	id := h.submit(t, r)
	require.True(t, h.rec.wait(t, id).ok)

	assert.Equal(t, "bytes=4000-", stub.Calls()[0].Header.Get("Range"))

	data, err := os.ReadFile(r.DestinationPath())
	require.NoError(t, err)
	assert.Equal(t, full, data)

	pcts := h.rec.percents(id)
	assert.Equal(t, 100, pcts[len(pcts)-1])
	assert.Greater(t, pcts[0], 40, "progress accounts for the resumed offset")
}

func TestDispatcher_ResumeAlreadyComplete(t *testing.T) {
	full := []byte("complete file")
	stub := testutil.NewStubTransport().Route("http://host/file", testutil.OK(full))
	h := newHarness(t, stub, 0)

	r := h.request(t, "http://host/file", "file.bin")
	r.SetResumable(true)
	require.NoError(t, os.WriteFile(r.DestinationPath(), full, 0o644))

	id := h.submit(t, r)
	require.True(t, h.rec.wait(t, id).ok)
	assert.Empty(t, h.rec.percents(id), "nothing was transferred")
}

func TestDispatcher_ResumeIgnoredByServer(t *testing.T) {
	full := []byte("the whole body again")
	stub := testutil.NewStubTransport().Route("http://host/file", testutil.OK(full))
	h := newHarness(t, stub, 0)

	r := h.request(t, "http://host/file", "file.bin")
	r.SetResumable(true)
	require.NoError(t, os.WriteFile(r.DestinationPath(), []byte("the whole"), 0o644))

	require.True(t, h.rec.wait(t, h.submit(t, r)).ok)

	data, _ := os.ReadFile(r.DestinationPath())
	assert.Equal(t, full, data)
}

func TestDispatcher_StaleFileDiscarded(t *testing.T) {
	stub := testutil.NewStubTransport().Route("http://host/file", testutil.OK([]byte("new")))
	h := newHarness(t, stub, 0)

	r := h.request(t, "http://host/file", "file.bin")
	require.NoError(t, os.WriteFile(r.DestinationPath(), []byte("old stale partial content"), 0o644))

	require.True(t, h.rec.wait(t, h.submit(t, r)).ok)
	assert.Equal(t, "bytes=0-", stub.Calls()[0].Header.Get("Range"))

	data, _ := os.ReadFile(r.DestinationPath())
	assert.Equal(t, "new", string(data))
}

func TestDispatcher_CancelMidStream(t *testing.T) {
	for _, resumable := range []bool{false, true} {
		t.Run(fmt.Sprintf("resumable=%v", resumable), func(t *testing.T) {
			body := bytes.Repeat([]byte("q"), 100)
			stub := testutil.NewStubTransport().Route("http://host/file", testutil.OK(body))
			h := newHarness(t, stub, 10)

			r := h.request(t, "http://host/file", "file.bin")
			r.SetResumable(resumable)

			var seen atomic.Int32
			h.rec.onProgress = func(pr *request.Request, downloaded int64) {
				if seen.Add(1) == 3 {
					pr.Cancel()
				}
			}

			id := h.submit(t, r)
			res := h.rec.wait(t, id)

			assert.Equal(t, types.ErrorDownloadCancelled, res.code)
			assert.Equal(t, types.StatusFailed, r.State())
			assert.Len(t, h.rec.percents(id), 3, "no progress after cancellation")

			if resumable {
				require.NoError(t, testutil.VerifyFileSize(r.DestinationPath(), 30))
			} else {
				assert.NoFileExists(t, r.DestinationPath())
			}
		})
	}
}

func TestDispatcher_CancelledBeforeStart(t *testing.T) {
	stub := testutil.NewStubTransport()
	h := newHarness(t, stub, 0)

	r := h.request(t, "http://host/file", "file.bin")
	r.Cancel()
	res := h.rec.wait(t, h.submit(t, r))

	assert.Equal(t, types.ErrorDownloadCancelled, res.code)
	assert.Empty(t, stub.Calls())
}

func TestDispatcher_DiscardedIsSilent(t *testing.T) {
	release := make(chan struct{})
	stub := testutil.NewStubTransport().Route("http://host/file", testutil.OK([]byte("x")))
	stub.OnOpen = func(*transport.Request) { <-release }
	h := newHarness(t, stub, 0)

	r := h.request(t, "http://host/file", "file.bin")
	id := h.submit(t, r)

	require.Eventually(t, func() bool { return r.State() == types.StatusConnecting }, 2*time.Second, 5*time.Millisecond)
	r.Discard()
	close(release)

	require.Eventually(t, func() bool { return h.isFinished(id) }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, types.StatusFailed, r.State())
	select {
	case <-h.rec.done:
		t.Fatal("discarded requests must not report")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestDispatcher_TimeoutBackoffAndExhaustion(t *testing.T) {
	stub := testutil.NewStubTransport().Route("http://host/file",
		testutil.StubResponse{OpenErr: testutil.ErrStubTimeout})
	h := newHarness(t, stub, 0)

	r := h.request(t, "http://host/file", "file.bin")
	r.SetRetryPolicy(retry.NewDefaultPolicy(10*time.Millisecond, 2, 1))

	res := h.rec.wait(t, h.submit(t, r))
	assert.Equal(t, types.ErrorConnectionTimeoutAfterRetries, res.code)

	var timeouts []time.Duration
	for _, c := range stub.Calls() {
		timeouts = append(timeouts, c.ConnectTimeout)
	}
	assert.Equal(t, []time.Duration{10 * time.Millisecond, 20 * time.Millisecond, 40 * time.Millisecond}, timeouts)
}

func TestDispatcher_TimeoutThenSuccess(t *testing.T) {
	stub := testutil.NewStubTransport().Route("http://host/file",
		testutil.StubResponse{OpenErr: testutil.ErrStubTimeout},
		testutil.OK([]byte("finally")),
	)
	h := newHarness(t, stub, 0)

	r := h.request(t, "http://host/file", "file.bin")
	r.SetRetryPolicy(retry.NewDefaultPolicy(5*time.Millisecond, 1, 1))

	var states []types.Status
	var mu sync.Mutex
	stub.OnOpen = func(*transport.Request) {
		mu.Lock()
		states = append(states, r.State())
		mu.Unlock()
	}

	res := h.rec.wait(t, h.submit(t, r))
	require.True(t, res.ok, "got %v %s", res.code, res.message)
	assert.Equal(t, 1, r.RetryPolicy().CurrentRetryCount())
	assert.Equal(t, []types.Status{types.StatusConnecting, types.StatusConnecting}, states)
}

func TestDispatcher_RetryGoesStraightToConnecting(t *testing.T) {
	var (
		mu     sync.Mutex
		states []types.Status
	)
	testHookSetState = func(_ *request.Request, s types.Status) {
		mu.Lock()
		states = append(states, s)
		mu.Unlock()
	}
	t.Cleanup(func() { testHookSetState = func(*request.Request, types.Status) {} })

	stub := testutil.NewStubTransport().Route("http://host/file",
		testutil.StubResponse{OpenErr: testutil.ErrStubTimeout},
		testutil.OK([]byte("finally")),
	)
	h := newHarness(t, stub, 0)

	r := h.request(t, "http://host/file", "file.bin")
	r.SetRetryPolicy(retry.NewDefaultPolicy(5*time.Millisecond, 1, 1))

	res := h.rec.wait(t, h.submit(t, r))
	require.True(t, res.ok, "got %v %s", res.code, res.message)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []types.Status{
		types.StatusStarted,
		types.StatusConnecting,
		types.StatusRetrying,
		types.StatusConnecting,
		types.StatusRunning,
		types.StatusSuccessful,
	}, states)
}

func TestDispatcher_ReadTimeoutIsRetried(t *testing.T) {
	stub := testutil.NewStubTransport().Route("http://host/file",
		testutil.StubResponse{Status: http.StatusOK, Body: []byte("par"), BodyErr: testutil.ErrStubTimeout,
			Header: http.Header{"Content-Length": {"7"}}},
		testutil.OK([]byte("partial")),
	)
	h := newHarness(t, stub, 0)

	r := h.request(t, "http://host/file", "file.bin")
	r.SetRetryPolicy(retry.NewDefaultPolicy(5*time.Millisecond, 1, 1))

	require.True(t, h.rec.wait(t, h.submit(t, r)).ok)
	assert.Len(t, stub.Calls(), 2)
}

func TestDispatcher_BodyErrors(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		wantOK bool
	}{
		{"end of stream", transport.ErrEndOfStream, true},
		{"reset", errors.New("connection reset by peer"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stub := testutil.NewStubTransport().Route("http://host/file", testutil.StubResponse{
				Status:  http.StatusOK,
				Body:    []byte("half"),
				BodyErr: tt.err,
				Header:  http.Header{"Content-Length": {"8"}},
			})
			h := newHarness(t, stub, 0)

			r := h.request(t, "http://host/file", "file.bin")
			res := h.rec.wait(t, h.submit(t, r))

			if tt.wantOK {
				assert.True(t, res.ok)
				return
			}
			assert.Equal(t, types.ErrorHTTPData, res.code)
			assert.NoFileExists(t, r.DestinationPath())
		})
	}
}

func TestDispatcher_OtherOpenErrors(t *testing.T) {
	stub := testutil.NewStubTransport().Route("http://host/file",
		testutil.StubResponse{OpenErr: errors.New("connection refused")})
	h := newHarness(t, stub, 0)

	res := h.rec.wait(t, h.submit(t, h.request(t, "http://host/file", "f")))
	assert.Equal(t, types.ErrorHTTPData, res.code)
	assert.Len(t, stub.Calls(), 1)
}

func TestDispatcher_FileError(t *testing.T) {
	stub := testutil.NewStubTransport().Route("http://host/file", testutil.OK([]byte("x")))
	h := newHarness(t, stub, 0)

	// A regular file where a parent directory is needed
	blocker := filepath.Join(h.dir, "blocker")
	require.NoError(t, os.WriteFile(blocker, nil, 0o644))

	r, err := request.New("http://host/file")
	require.NoError(t, err)
	r.SetDestination(filepath.Join(blocker, "file.bin"))

	res := h.rec.wait(t, h.submit(t, r))
	assert.Equal(t, types.ErrorFile, res.code)
}

func TestDispatcher_StopAbandonsScheduledRetry(t *testing.T) {
	stub := testutil.NewStubTransport().Route("http://host/file",
		testutil.StubResponse{OpenErr: testutil.ErrStubTimeout})
	h := newHarness(t, stub, 0)

	r := h.request(t, "http://host/file", "file.bin")
	r.SetRetryPolicy(retry.NewDefaultPolicy(time.Hour, 3, 1))
	id := h.submit(t, r)

	require.Eventually(t, func() bool { return r.State() == types.StatusRetrying }, 2*time.Second, 5*time.Millisecond)

	h.d.Stop()
	select {
	case <-h.d.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("dispatcher did not stop")
	}

	res := h.rec.wait(t, id)
	assert.Equal(t, types.ErrorDownloadCancelled, res.code)
	assert.True(t, h.isFinished(id))
}

func TestDispatcher_StopWhileIdle(t *testing.T) {
	h := newHarness(t, testutil.NewStubTransport(), 0)

	h.d.Stop()
	select {
	case <-h.d.Done():
	case <-time.After(time.Second):
		t.Fatal("idle dispatcher did not stop promptly")
	}
}

func TestResolveContentLength(t *testing.T) {
	tests := []struct {
		name   string
		header http.Header
		code   int
		offset int64
		want   int64
		ok     bool
	}{
		{"200 with length", http.Header{"Content-Length": {"100"}}, 200, 0, 100, true},
		{"206 adds offset", http.Header{"Content-Length": {"60"}}, 206, 40, 100, true},
		{"chunked", http.Header{"Transfer-Encoding": {"chunked"}}, 200, 0, -1, true},
		{"chunked wins over length", http.Header{"Transfer-Encoding": {"chunked"}, "Content-Length": {"5"}}, 206, 10, -1, true},
		{"missing", http.Header{}, 200, 0, 0, false},
		{"garbage", http.Header{"Content-Length": {"abc"}}, 200, 0, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := resolveContentLength(tt.header, tt.code, tt.offset)
			assert.Equal(t, tt.ok, ok)
			if ok {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}
