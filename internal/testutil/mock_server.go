// Package testutil provides testing utilities for the thindl download engine.
package testutil

import (
	"crypto/rand"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// MockServer is a configurable HTTP test server for download testing.
type MockServer struct {
	Server *httptest.Server

	// Configuration
	FileSize         int64         // Size of the served file
	SupportsRanges   bool          // Whether to support HTTP Range requests
	ContentType      string        // Content-Type header value
	Filename         string        // Last path element of URL()
	RandomData       bool          // If true, serve random data; otherwise serve zeros
	Latency          time.Duration // Artificial latency per request
	ByteLatency      time.Duration // Latency per byte (simulates slow connection)
	ChunkSize        int64         // Bytes per write
	FailAfterBytes   int64         // Cut the connection after this many bytes (0 = no fail)
	FailOnNthRequest int           // Fail on Nth request (0 = don't fail)
	Redirects        int           // Length of the redirect chain in front of the file
	RedirectStatus   int           // Status used for redirect hops
	Status           int           // Fixed status for every file request (0 = normal serving)
	Chunked          bool          // Stream with Transfer-Encoding: chunked
	NoLength         bool          // Send neither Content-Length nor Transfer-Encoding
	ExtraHeaders     http.Header   // Added to every file response

	// Tracking
	RequestCount   atomic.Int64
	RedirectCount  atomic.Int64
	BytesServed    atomic.Int64
	ActiveRequests atomic.Int64
	RangeRequests  atomic.Int64
	FullRequests   atomic.Int64
	FailedRequests atomic.Int64
	requestCountMu sync.Mutex
	internalReqNum int
	lastHeaders    http.Header

	// Internal
	data          []byte
	CustomHandler http.HandlerFunc
}

// MockServerOption is a function that configures a MockServer.
type MockServerOption func(*MockServer)

// WithHandler sets a custom request handler.
func WithHandler(h http.HandlerFunc) MockServerOption {
	return func(m *MockServer) {
		m.CustomHandler = h
	}
}

// WithFileSize sets the file size to serve.
func WithFileSize(size int64) MockServerOption {
	return func(m *MockServer) {
		m.FileSize = size
	}
}

// WithRangeSupport enables or disables Range request support.
func WithRangeSupport(enabled bool) MockServerOption {
	return func(m *MockServer) {
		m.SupportsRanges = enabled
	}
}

// WithContentType sets the Content-Type header.
func WithContentType(ct string) MockServerOption {
	return func(m *MockServer) {
		m.ContentType = ct
	}
}

// WithFilename sets the file name used in URL().
func WithFilename(name string) MockServerOption {
	return func(m *MockServer) {
		m.Filename = name
	}
}

// WithRandomData enables serving random bytes instead of zeros.
func WithRandomData(random bool) MockServerOption {
	return func(m *MockServer) {
		m.RandomData = random
	}
}

// WithLatency adds artificial latency per request.
func WithLatency(d time.Duration) MockServerOption {
	return func(m *MockServer) {
		m.Latency = d
	}
}

// WithByteLatency adds artificial latency per byte served.
func WithByteLatency(d time.Duration) MockServerOption {
	return func(m *MockServer) {
		m.ByteLatency = d
	}
}

// WithChunkSize sets how many bytes are written (and flushed) at once.
func WithChunkSize(n int64) MockServerOption {
	return func(m *MockServer) {
		m.ChunkSize = n
	}
}

// WithFailAfterBytes causes the connection to fail after serving N bytes.
func WithFailAfterBytes(n int64) MockServerOption {
	return func(m *MockServer) {
		m.FailAfterBytes = n
	}
}

// WithFailOnNthRequest causes the Nth request to fail.
func WithFailOnNthRequest(n int) MockServerOption {
	return func(m *MockServer) {
		m.FailOnNthRequest = n
	}
}

// WithRedirects puts a chain of n redirects in front of the file.
func WithRedirects(n int, status int) MockServerOption {
	return func(m *MockServer) {
		m.Redirects = n
		m.RedirectStatus = status
	}
}

// WithStatus answers every file request with the given status.
func WithStatus(code int) MockServerOption {
	return func(m *MockServer) {
		m.Status = code
	}
}

// WithChunked streams the body with chunked transfer encoding.
func WithChunked(enabled bool) MockServerOption {
	return func(m *MockServer) {
		m.Chunked = enabled
	}
}

// WithNoLength sends a close-delimited body without any length framing.
func WithNoLength(enabled bool) MockServerOption {
	return func(m *MockServer) {
		m.NoLength = enabled
	}
}

// WithHeader adds a response header to file responses.
func WithHeader(key, value string) MockServerOption {
	return func(m *MockServer) {
		if m.ExtraHeaders == nil {
			m.ExtraHeaders = make(http.Header)
		}
		m.ExtraHeaders.Set(key, value)
	}
}

func newMockServer(opts []MockServerOption) *MockServer {
	m := &MockServer{
		FileSize:       1024 * 1024, // 1MB default
		SupportsRanges: true,
		ContentType:    "application/octet-stream",
		Filename:       "testfile.bin",
		ChunkSize:      32 * 1024,
		RedirectStatus: http.StatusFound,
	}

	for _, opt := range opts {
		opt(m)
	}

	// Pre-generate data
	m.data = make([]byte, m.FileSize)
	if m.RandomData {
		_, _ = rand.Read(m.data)
	}
	return m
}

// NewMockServer creates a new mock HTTP server with the given options.
func NewMockServer(opts ...MockServerOption) *MockServer {
	m := newMockServer(opts)
	m.Server = NewHTTPServer(http.HandlerFunc(m.handleRequest))
	return m
}

// NewMockServerT creates a new mock HTTP server and skips the test if binding fails.
func NewMockServerT(t *testing.T, opts ...MockServerOption) *MockServer {
	t.Helper()
	m := newMockServer(opts)
	m.Server = NewHTTPServerT(t, http.HandlerFunc(m.handleRequest))
	return m
}

// URL returns the address a download should start from. With redirects
// configured this is the head of the chain.
func (m *MockServer) URL() string {
	if m.Redirects > 0 {
		return fmt.Sprintf("%s/hop/%d", m.Server.URL, m.Redirects)
	}
	return m.FileURL()
}

// FileURL returns the address of the file itself.
func (m *MockServer) FileURL() string {
	return m.Server.URL + "/" + m.Filename
}

// Data returns the bytes the server serves.
func (m *MockServer) Data() []byte {
	return m.data
}

// LastHeaders returns the headers of the most recent file request.
func (m *MockServer) LastHeaders() http.Header {
	m.requestCountMu.Lock()
	defer m.requestCountMu.Unlock()
	return m.lastHeaders.Clone()
}

// Close shuts down the mock server.
func (m *MockServer) Close() {
	if m.Server != nil {
		m.Server.Close()
	}
}

// Reset clears all tracking counters.
func (m *MockServer) Reset() {
	m.RequestCount.Store(0)
	m.RedirectCount.Store(0)
	m.BytesServed.Store(0)
	m.ActiveRequests.Store(0)
	m.RangeRequests.Store(0)
	m.FullRequests.Store(0)
	m.FailedRequests.Store(0)
	m.requestCountMu.Lock()
	m.internalReqNum = 0
	m.requestCountMu.Unlock()
}

// Stats returns a summary of server statistics.
func (m *MockServer) Stats() MockServerStats {
	return MockServerStats{
		TotalRequests:  m.RequestCount.Load(),
		Redirects:      m.RedirectCount.Load(),
		BytesServed:    m.BytesServed.Load(),
		RangeRequests:  m.RangeRequests.Load(),
		FullRequests:   m.FullRequests.Load(),
		FailedRequests: m.FailedRequests.Load(),
	}
}

// MockServerStats contains server statistics.
type MockServerStats struct {
	TotalRequests  int64
	Redirects      int64
	BytesServed    int64
	RangeRequests  int64
	FullRequests   int64
	FailedRequests int64
}

func (m *MockServer) handleRequest(w http.ResponseWriter, r *http.Request) {
	if m.CustomHandler != nil {
		m.CustomHandler(w, r)
		return
	}

	m.RequestCount.Add(1)

	if hop, ok := strings.CutPrefix(r.URL.Path, "/hop/"); ok {
		m.handleRedirect(w, r, hop)
		return
	}

	m.ActiveRequests.Add(1)
	defer m.ActiveRequests.Add(-1)

	// Track request number for fail-on-nth logic
	m.requestCountMu.Lock()
	m.internalReqNum++
	reqNum := m.internalReqNum
	m.lastHeaders = r.Header.Clone()
	m.requestCountMu.Unlock()

	// Fail on Nth request if configured
	if m.FailOnNthRequest > 0 && reqNum == m.FailOnNthRequest {
		m.FailedRequests.Add(1)
		http.Error(w, "Simulated failure", http.StatusInternalServerError)
		return
	}

	// Add request latency
	if m.Latency > 0 {
		time.Sleep(m.Latency)
	}

	for k, vals := range m.ExtraHeaders {
		w.Header()[k] = vals
	}

	if m.Status != 0 {
		m.FailedRequests.Add(1)
		http.Error(w, http.StatusText(m.Status), m.Status)
		return
	}

	if m.NoLength {
		m.serveUnframed(w)
		return
	}

	// Parse Range header
	rangeHeader := r.Header.Get("Range")
	start := int64(0)
	end := m.FileSize - 1

	if rangeHeader != "" && m.SupportsRanges {
		m.RangeRequests.Add(1)

		// Parse "bytes=start-end"
		var err error
		start, end, err = parseRange(rangeHeader, m.FileSize)
		if err != nil {
			w.Header().Set("Content-Range", fmt.Sprintf("bytes */%d", m.FileSize))
			http.Error(w, "Invalid range", http.StatusRequestedRangeNotSatisfiable)
			return
		}

		m.setCommonHeaders(w, start, end)
		w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end, m.FileSize))
		w.WriteHeader(http.StatusPartialContent)
	} else {
		m.FullRequests.Add(1)
		m.setCommonHeaders(w, 0, m.FileSize-1)
		if m.SupportsRanges {
			w.Header().Set("Accept-Ranges", "bytes")
		}
		w.WriteHeader(http.StatusOK)
	}

	flusher, _ := w.(http.Flusher)
	if m.Chunked && flusher != nil {
		// Forces chunked framing even for bodies that fit the write buffer
		flusher.Flush()
	}

	// Serve data
	length := end - start + 1
	bytesWritten := int64(0)

	chunkSize := m.ChunkSize
	for bytesWritten < length {
		// Per-request byte count so a retried request can succeed
		if m.FailAfterBytes > 0 && bytesWritten >= m.FailAfterBytes {
			m.FailedRequests.Add(1)
			// Returning short of Content-Length makes the server drop the connection
			return
		}

		remaining := length - bytesWritten
		if remaining < chunkSize {
			chunkSize = remaining
		}
		if m.FailAfterBytes > 0 && bytesWritten+chunkSize > m.FailAfterBytes {
			chunkSize = m.FailAfterBytes - bytesWritten
		}

		dataStart := start + bytesWritten
		dataEnd := dataStart + chunkSize

		n, err := w.Write(m.data[dataStart:dataEnd])
		if err != nil {
			return // Client disconnected
		}

		bytesWritten += int64(n)
		m.BytesServed.Add(int64(n))

		if m.ByteLatency > 0 {
			if flusher != nil {
				flusher.Flush()
			}
			time.Sleep(m.ByteLatency * time.Duration(n))
		}
	}
}

func (m *MockServer) handleRedirect(w http.ResponseWriter, r *http.Request, hop string) {
	n, err := strconv.Atoi(hop)
	if err != nil || n < 1 {
		http.NotFound(w, r)
		return
	}
	m.RedirectCount.Add(1)

	next := "/" + m.Filename
	if n > 1 {
		next = fmt.Sprintf("/hop/%d", n-1)
	}
	w.Header().Set("Location", next)
	w.WriteHeader(m.RedirectStatus)
}

// serveUnframed writes a raw HTTP/1.1 response delimited by connection close.
func (m *MockServer) serveUnframed(w http.ResponseWriter) {
	hj, ok := w.(http.Hijacker)
	if !ok {
		http.Error(w, "hijacking unsupported", http.StatusInternalServerError)
		return
	}
	conn, buf, err := hj.Hijack()
	if err != nil {
		return
	}
	defer conn.Close()

	m.FullRequests.Add(1)
	fmt.Fprintf(buf, "HTTP/1.1 200 OK\r\nContent-Type: %s\r\nConnection: close\r\n\r\n", m.ContentType)
	n, _ := buf.Write(m.data)
	m.BytesServed.Add(int64(n))
	_ = buf.Flush()
}

func (m *MockServer) setCommonHeaders(w http.ResponseWriter, start, end int64) {
	w.Header().Set("Content-Type", m.ContentType)
	if !m.Chunked {
		w.Header().Set("Content-Length", strconv.FormatInt(end-start+1, 10))
	}
	if m.Filename != "" {
		w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, m.Filename))
	}
}

// parseRange parses an HTTP Range header and returns start, end positions.
// Handles formats like "bytes=0-499" or "bytes=500-"
func parseRange(rangeHeader string, fileSize int64) (int64, int64, error) {
	if !strings.HasPrefix(rangeHeader, "bytes=") {
		return 0, 0, fmt.Errorf("invalid range prefix")
	}

	rangeSpec := strings.TrimPrefix(rangeHeader, "bytes=")
	parts := strings.Split(rangeSpec, "-")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid range format")
	}

	var start, end int64
	var err error

	if parts[0] == "" {
		// Suffix range: -500 means last 500 bytes
		end = fileSize - 1
		start, err = strconv.ParseInt(parts[1], 10, 64)
		if err != nil {
			return 0, 0, err
		}
		start = fileSize - start
	} else {
		start, err = strconv.ParseInt(parts[0], 10, 64)
		if err != nil {
			return 0, 0, err
		}

		if parts[1] == "" {
			// Open-ended range: 500-
			end = fileSize - 1
		} else {
			end, err = strconv.ParseInt(parts[1], 10, 64)
			if err != nil {
				return 0, 0, err
			}
		}
	}

	// Validate
	if start < 0 || end >= fileSize || start > end {
		return 0, 0, fmt.Errorf("range out of bounds")
	}

	return start, end, nil
}
