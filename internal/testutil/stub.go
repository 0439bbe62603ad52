package testutil

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"

	"github.com/thindl/thindl/internal/engine/transport"
)

// StubResponse scripts one answer of a StubTransport.
type StubResponse struct {
	Status  int
	Message string
	Header  http.Header
	Body    []byte
	// BodyErr is returned by the body once Body is exhausted, instead of io.EOF.
	BodyErr error
	// OpenErr makes Open fail without a response.
	OpenErr error
	// Chunked marks the response as chunked instead of sending Content-Length.
	Chunked bool
	// OmitLength sends neither Content-Length nor Transfer-Encoding.
	OmitLength bool
}

// OK returns a 200 response carrying body.
func OK(body []byte) StubResponse {
	return StubResponse{Status: http.StatusOK, Body: body}
}

// Redirect returns a redirect to location.
func Redirect(status int, location string) StubResponse {
	return StubResponse{Status: status, Header: http.Header{"Location": {location}}}
}

// StubTransport is a deterministic transport.Transport for engine tests.
// Responses are scripted per URL and consumed in order; the last one
// repeats. Unscripted URLs get Default, or a 404.
type StubTransport struct {
	mu      sync.Mutex
	routes  map[string][]StubResponse
	calls   []transport.Request
	Default *StubResponse

	// OnOpen runs before every Open, outside the lock. Tests use it to
	// block a dispatcher or to record ordering.
	OnOpen func(req *transport.Request)
}

func NewStubTransport() *StubTransport {
	return &StubTransport{routes: make(map[string][]StubResponse)}
}

// Route appends scripted responses for url.
func (s *StubTransport) Route(url string, responses ...StubResponse) *StubTransport {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.routes[url] = append(s.routes[url], responses...)
	return s
}

// Calls returns a copy of every request seen so far.
func (s *StubTransport) Calls() []transport.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]transport.Request(nil), s.calls...)
}

// URLs returns the URL of every request seen so far.
func (s *StubTransport) URLs() []string {
	calls := s.Calls()
	urls := make([]string, len(calls))
	for i, c := range calls {
		urls[i] = c.URL
	}
	return urls
}

func (s *StubTransport) next(url string) StubResponse {
	s.mu.Lock()
	defer s.mu.Unlock()
	script, ok := s.routes[url]
	if !ok || len(script) == 0 {
		if s.Default != nil {
			return *s.Default
		}
		return StubResponse{Status: http.StatusNotFound}
	}
	resp := script[0]
	if len(script) > 1 {
		s.routes[url] = script[1:]
	}
	return resp
}

func (s *StubTransport) Open(ctx context.Context, req *transport.Request) (transport.Response, error) {
	if s.OnOpen != nil {
		s.OnOpen(req)
	}

	s.mu.Lock()
	recorded := *req
	recorded.Header = req.Header.Clone()
	s.calls = append(s.calls, recorded)
	s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sr := s.next(req.URL)
	if sr.OpenErr != nil {
		return nil, sr.OpenErr
	}

	h := sr.Header.Clone()
	if h == nil {
		h = make(http.Header)
	}
	switch {
	case sr.Chunked:
		h.Set("Transfer-Encoding", "chunked")
	case sr.OmitLength:
	case h.Get("Content-Length") != "":
	case sr.Status == http.StatusOK || sr.Status == http.StatusPartialContent:
		h.Set("Content-Length", strconv.Itoa(len(sr.Body)))
	}

	msg := sr.Message
	if msg == "" {
		msg = http.StatusText(sr.Status)
	}

	return &stubResponse{
		status: sr.Status,
		msg:    msg,
		header: h,
		body:   &stubBody{r: bytes.NewReader(sr.Body), err: sr.BodyErr},
	}, nil
}

type stubResponse struct {
	status int
	msg    string
	header http.Header
	body   *stubBody
	closed bool
}

func (r *stubResponse) StatusCode() int     { return r.status }
func (r *stubResponse) Message() string     { return r.msg }
func (r *stubResponse) Header() http.Header { return r.header }
func (r *stubResponse) Body() io.Reader     { return r.body }

func (r *stubResponse) Close() error {
	if r.closed {
		return errors.New("stub response closed twice")
	}
	r.closed = true
	return nil
}

type stubBody struct {
	r   *bytes.Reader
	err error
}

func (b *stubBody) Read(p []byte) (int, error) {
	n, err := b.r.Read(p)
	if err == io.EOF && b.err != nil {
		return n, b.err
	}
	return n, err
}

// ErrStubTimeout is a convenience timeout error for scripted responses.
var ErrStubTimeout = fmt.Errorf("%w: stub", transport.ErrTimeout)
