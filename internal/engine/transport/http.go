package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/net/proxy"

	"github.com/thindl/thindl/internal/engine/types"
	"github.com/thindl/thindl/internal/utils"
)

var errReadTimeout = errors.New("read idle timeout")

type connectTimeoutKey struct{}

// HTTP is the net/http backed Transport.
type HTTP struct {
	client    *http.Client
	userAgent string
	lenient   bool
	logger    zerolog.Logger
}

// NewHTTP builds a transport from runtime settings. An invalid proxy URL
// is an error rather than a silent fallback.
func NewHTTP(rc *types.RuntimeConfig) (*HTTP, error) {
	logger := utils.GetLogger("transport")

	dialer := &timeoutDialer{keepAlive: types.KeepAliveDuration}
	tr := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		MaxIdleConns:          types.DefaultMaxIdleConns,
		IdleConnTimeout:       types.DefaultIdleConnTimeout,
		TLSHandshakeTimeout:   types.DefaultTLSHandshakeTimeout,
		ExpectContinueTimeout: types.DefaultExpectContinueTimeout,
		// Content-Length must describe the bytes on the wire for range resume
		DisableCompression: true,
	}

	if rc != nil && rc.ProxyURL != "" {
		parsedURL, err := url.Parse(rc.ProxyURL)
		if err != nil {
			return nil, fmt.Errorf("invalid proxy url %q: %w", rc.ProxyURL, err)
		}
		switch {
		case strings.HasPrefix(parsedURL.Scheme, "socks5"):
			var auth *proxy.Auth
			if parsedURL.User != nil {
				pw, _ := parsedURL.User.Password()
				auth = &proxy.Auth{User: parsedURL.User.Username(), Password: pw}
			}
			socks, err := proxy.SOCKS5("tcp", parsedURL.Host, auth, dialer)
			if err != nil {
				return nil, fmt.Errorf("socks5 proxy %q: %w", parsedURL.Host, err)
			}
			cd, ok := socks.(proxy.ContextDialer)
			if !ok {
				return nil, fmt.Errorf("socks5 dialer does not support contexts")
			}
			tr.Proxy = nil
			tr.DialContext = cd.DialContext
			logger.Debug().Str("proxy", parsedURL.Redacted()).Msg("using SOCKS5 proxy")
		case parsedURL.Scheme == "http" || parsedURL.Scheme == "https":
			tr.Proxy = http.ProxyURL(parsedURL)
			logger.Debug().Str("proxy", parsedURL.Redacted()).Msg("using HTTP proxy")
		default:
			return nil, fmt.Errorf("unsupported proxy scheme %q", parsedURL.Scheme)
		}
	}

	if rc != nil && rc.SkipTLSVerification {
		logger.Warn().Msg("TLS verification disabled")
		tr.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}

	return &HTTP{
		client: &http.Client{
			Transport: tr,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		userAgent: rc.GetUserAgent(),
		lenient:   rc != nil && rc.LenientEndOfStream,
		logger:    logger,
	}, nil
}

// Open issues the GET and returns once the response headers are in.
// ReadTimeout bounds every wait for data, including the wait for headers.
func (t *HTTP) Open(ctx context.Context, req *Request) (Response, error) {
	ctx, cancel := context.WithCancelCause(ctx)
	if req.ConnectTimeout > 0 {
		ctx = context.WithValue(ctx, connectTimeoutKey{}, req.ConnectTimeout)
	}

	hreq, err := http.NewRequestWithContext(ctx, http.MethodGet, req.URL, nil)
	if err != nil {
		cancel(nil)
		return nil, fmt.Errorf("create request: %w", err)
	}
	if req.Header != nil {
		hreq.Header = req.Header.Clone()
	}
	if hreq.Header.Get("User-Agent") == "" {
		hreq.Header.Set("User-Agent", t.userAgent)
	}

	idle := newIdleTimer(req.ReadTimeout, func() { cancel(errReadTimeout) })

	resp, err := t.client.Do(hreq)
	if err != nil {
		idle.stop()
		err = t.classify(ctx, err)
		cancel(nil)
		return nil, err
	}
	// Only time spent blocked in Read counts from here on
	idle.disarm()

	return &httpResponse{
		resp:   resp,
		header: synthesizeHeader(resp),
		body:   &idleReader{t: t, ctx: ctx, r: resp.Body, idle: idle},
		cancel: cancel,
		idle:   idle,
	}, nil
}

func (t *HTTP) classify(ctx context.Context, err error) error {
	if errors.Is(context.Cause(ctx), errReadTimeout) {
		return fmt.Errorf("%w: no data within read timeout: %v", ErrTimeout, err)
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	if t.lenient && errors.Is(err, io.ErrUnexpectedEOF) {
		return ErrEndOfStream
	}
	return err
}

// synthesizeHeader restores the framing headers net/http moves into fields.
func synthesizeHeader(resp *http.Response) http.Header {
	h := resp.Header.Clone()
	if h == nil {
		h = make(http.Header)
	}
	if len(resp.TransferEncoding) > 0 {
		h.Set("Transfer-Encoding", strings.Join(resp.TransferEncoding, ", "))
		h.Del("Content-Length")
	} else if resp.ContentLength >= 0 {
		h.Set("Content-Length", strconv.FormatInt(resp.ContentLength, 10))
	} else {
		h.Del("Content-Length")
	}
	return h
}

type httpResponse struct {
	resp   *http.Response
	header http.Header
	body   io.Reader
	cancel context.CancelCauseFunc
	idle   *idleTimer
	once   sync.Once
}

func (r *httpResponse) StatusCode() int { return r.resp.StatusCode }

func (r *httpResponse) Message() string {
	msg := strings.TrimSpace(strings.TrimPrefix(r.resp.Status, strconv.Itoa(r.resp.StatusCode)))
	if msg == "" {
		msg = http.StatusText(r.resp.StatusCode)
	}
	return msg
}

func (r *httpResponse) Header() http.Header { return r.header }
func (r *httpResponse) Body() io.Reader     { return r.body }

func (r *httpResponse) Close() error {
	var err error
	r.once.Do(func() {
		r.idle.stop()
		err = r.resp.Body.Close()
		r.cancel(nil)
	})
	return err
}

type idleReader struct {
	t    *HTTP
	ctx  context.Context
	r    io.Reader
	idle *idleTimer
}

func (ir *idleReader) Read(p []byte) (int, error) {
	ir.idle.kick()
	n, err := ir.r.Read(p)
	ir.idle.disarm()
	if err != nil && err != io.EOF {
		err = ir.t.classify(ir.ctx, err)
	}
	return n, err
}

// idleTimer fires when a single wait for data lasts longer than d.
// A zero d disables it.
type idleTimer struct {
	mu    sync.Mutex
	timer *time.Timer
	d     time.Duration
}

func newIdleTimer(d time.Duration, fire func()) *idleTimer {
	it := &idleTimer{d: d}
	if d > 0 {
		it.timer = time.AfterFunc(d, fire)
	}
	return it
}

func (it *idleTimer) kick() {
	it.mu.Lock()
	defer it.mu.Unlock()
	if it.timer != nil {
		it.timer.Reset(it.d)
	}
}

func (it *idleTimer) disarm() {
	it.mu.Lock()
	defer it.mu.Unlock()
	if it.timer != nil {
		it.timer.Stop()
	}
}

func (it *idleTimer) stop() {
	it.mu.Lock()
	defer it.mu.Unlock()
	if it.timer != nil {
		it.timer.Stop()
		it.timer = nil
	}
}

// timeoutDialer applies the per-request connect timeout carried in the context.
type timeoutDialer struct {
	keepAlive time.Duration
}

func (d *timeoutDialer) DialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	nd := &net.Dialer{KeepAlive: d.keepAlive}
	if v, ok := ctx.Value(connectTimeoutKey{}).(time.Duration); ok && v > 0 {
		nd.Timeout = v
	}
	return nd.DialContext(ctx, network, addr)
}

func (d *timeoutDialer) Dial(network, addr string) (net.Conn, error) {
	return d.DialContext(context.Background(), network, addr)
}
