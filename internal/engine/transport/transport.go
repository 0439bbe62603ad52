// Package transport opens HTTP connections for the dispatcher.
package transport

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"
)

var (
	// ErrTimeout wraps connect and read timeouts. The dispatcher retries these.
	ErrTimeout = errors.New("transport timeout")
	// ErrEndOfStream is returned by a body that was closed by the server
	// after a partial read, when the transport is configured to accept that
	// as a normal end.
	ErrEndOfStream = errors.New("end of stream")
)

// Request describes a single GET. Redirects are never followed.
type Request struct {
	URL            string
	Header         http.Header
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
}

// Response is an open connection. Close must always be called.
type Response interface {
	StatusCode() int
	// Message is the reason phrase sent by the server.
	Message() string
	Header() http.Header
	Body() io.Reader
	Close() error
}

type Transport interface {
	Open(ctx context.Context, req *Request) (Response, error)
}
