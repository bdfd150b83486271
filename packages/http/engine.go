package http

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"net/http"
	neturl "net/url"
	"os"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/abdul-hamid-achik/courier/packages/engine"
)

const (
	// DefaultTimeout bounds connecting, waiting for response headers and
	// each body read. It never caps the length of a whole transfer.
	DefaultTimeout = 30 * time.Second
	// DefaultMaxRedirects is the maximum number of redirects to follow
	DefaultMaxRedirects = 10
	// DefaultMaxIdleConns is the maximum number of idle connections in the pool
	DefaultMaxIdleConns = 100
	// DefaultMaxIdleConnsPerHost is the maximum number of idle connections per host
	DefaultMaxIdleConnsPerHost = 10
	// DefaultIdleConnTimeout is how long idle connections stay in the pool
	DefaultIdleConnTimeout = 90 * time.Second
	// DefaultMaxChallengeAttempts caps how often a task answers 401 challenges
	DefaultMaxChallengeAttempts = 5
)

type taskKey struct{}

// Engine runs tasks on a shared http.Client and reports their progress to an
// engine.Events sink.
type Engine struct {
	events     engine.Events
	httpClient *http.Client
	nextID     atomic.Uint64

	timeout        time.Duration
	followRedirect bool
	maxRedirects   int
	validateSSL    bool
	proxyURL       string
	defaultHeaders map[string]string
	jar            http.CookieJar
	rootCAs        *x509.CertPool
	tempDir        string
	becomeDownload func(*http.Response) bool
}

type Option func(*Engine)

// New creates an engine delivering events to events.
func New(events engine.Events, opts ...Option) *Engine {
	e := &Engine{
		events:         events,
		timeout:        DefaultTimeout,
		followRedirect: true,
		maxRedirects:   DefaultMaxRedirects,
		validateSSL:    true,
		defaultHeaders: make(map[string]string),
		tempDir:        os.TempDir(),
	}

	for _, opt := range opts {
		opt(e)
	}

	dialer := &net.Dialer{Timeout: e.timeout, KeepAlive: 30 * time.Second}
	transport := &http.Transport{
		DialContext:         dialer.DialContext,
		DialTLSContext:      e.dialTLS(dialer),
		MaxIdleConns:          DefaultMaxIdleConns,
		MaxIdleConnsPerHost:   DefaultMaxIdleConnsPerHost,
		IdleConnTimeout:       DefaultIdleConnTimeout,
		TLSHandshakeTimeout:   e.timeout,
		ResponseHeaderTimeout: e.timeout,
	}

	// Configure proxy if specified
	if e.proxyURL != "" {
		proxyURL, err := neturl.Parse(e.proxyURL)
		if err == nil {
			transport.Proxy = http.ProxyURL(proxyURL)
		}
	}

	e.httpClient = &http.Client{
		Transport:     transport,
		CheckRedirect: e.checkRedirect,
		Jar:           e.jar,
	}

	return e
}

func WithTimeout(d time.Duration) Option {
	return func(e *Engine) {
		e.timeout = d
	}
}

func WithFollowRedirects(follow bool) Option {
	return func(e *Engine) {
		e.followRedirect = follow
	}
}

func WithMaxRedirects(max int) Option {
	return func(e *Engine) {
		e.maxRedirects = max
	}
}

// WithDefaultHeaders sets headers added to every request that lacks them
func WithDefaultHeaders(headers map[string]string) Option {
	return func(e *Engine) {
		for k, v := range headers {
			e.defaultHeaders[k] = v
		}
	}
}

// WithValidateSSL enables or disables default certificate validation
func WithValidateSSL(validate bool) Option {
	return func(e *Engine) {
		e.validateSSL = validate
	}
}

// WithProxy sets the proxy URL for all requests
func WithProxy(proxyURL string) Option {
	return func(e *Engine) {
		e.proxyURL = proxyURL
	}
}

// WithCookieJar sets the jar shared by all tasks
func WithCookieJar(jar http.CookieJar) Option {
	return func(e *Engine) {
		e.jar = jar
	}
}

// WithRootCAs sets the roots used by default server trust evaluation
func WithRootCAs(pool *x509.CertPool) Option {
	return func(e *Engine) {
		e.rootCAs = pool
	}
}

// WithTempDir sets where download tasks write their files
func WithTempDir(dir string) Option {
	return func(e *Engine) {
		e.tempDir = dir
	}
}

// WithBecomeDownload turns data tasks into download tasks when fn returns
// true for their response.
func WithBecomeDownload(fn func(*http.Response) bool) Option {
	return func(e *Engine) {
		e.becomeDownload = fn
	}
}

// AttachmentResponses matches responses served as file attachments.
func AttachmentResponses(resp *http.Response) bool {
	cd := resp.Header.Get("Content-Disposition")
	return len(cd) >= 10 && cd[:10] == "attachment"
}

// CookieJar returns the jar tasks share, if any.
func (e *Engine) CookieJar() http.CookieJar {
	return e.jar
}

// DefaultHeaders returns a copy of the headers added to every request.
func (e *Engine) DefaultHeaders() map[string]string {
	headers := make(map[string]string, len(e.defaultHeaders))
	for k, v := range e.defaultHeaders {
		headers[k] = v
	}
	return headers
}

func (e *Engine) DataTask(req *http.Request) (engine.Task, error) {
	if err := ValidateURL(req.URL.String()); err != nil {
		return nil, err
	}
	return e.newTask(engine.KindData, req), nil
}

func (e *Engine) DownloadTask(req *http.Request) (engine.DownloadTask, error) {
	if err := ValidateURL(req.URL.String()); err != nil {
		return nil, err
	}
	return e.newTask(engine.KindDownload, req), nil
}

func (e *Engine) DownloadTaskWithResumeData(resumeData []byte) (engine.DownloadTask, error) {
	token, err := decodeResumeData(resumeData)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequest(http.MethodGet, token.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", engine.ErrInvalidResumeData, err)
	}
	t := e.newTask(engine.KindDownload, req)
	t.resumeFrom = token
	return t, nil
}

func (e *Engine) UploadTask(req *http.Request, body engine.Uploadable) (engine.Task, error) {
	if err := ValidateURL(req.URL.String()); err != nil {
		return nil, err
	}
	t := e.newTask(engine.KindUpload, req)
	t.upload = body
	return t, nil
}

func (e *Engine) checkRedirect(req *http.Request, via []*http.Request) error {
	if !e.followRedirect {
		return http.ErrUseLastResponse
	}
	if len(via) > e.maxRedirects {
		return engine.ErrTooManyRedirects
	}

	t, ok := req.Context().Value(taskKey{}).(*task)
	if !ok {
		return nil
	}
	next := t.askRedirect(req.Response, req)
	if next == nil {
		return http.ErrUseLastResponse
	}
	if next != req {
		req.URL = next.URL
		req.Host = ""
		for k, v := range next.Header {
			req.Header[k] = v
		}
	}
	t.setCurrent(req)
	return nil
}

// dialTLS performs the handshake itself so that peer evaluation can be
// surfaced as a server trust challenge.
func (e *Engine) dialTLS(dialer *net.Dialer) func(ctx context.Context, network, addr string) (net.Conn, error) {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		raw, err := dialer.DialContext(ctx, network, addr)
		if err != nil {
			return nil, err
		}
		host, portStr, err := net.SplitHostPort(addr)
		if err != nil {
			raw.Close()
			return nil, err
		}
		port, _ := strconv.Atoi(portStr)

		cfg := &tls.Config{
			ServerName:         host,
			InsecureSkipVerify: true,
			VerifyConnection: func(cs tls.ConnectionState) error {
				return e.evaluateTrust(ctx, host, port, cs)
			},
		}
		conn := tls.Client(raw, cfg)
		hctx := ctx
		if e.timeout > 0 {
			var cancel context.CancelFunc
			hctx, cancel = context.WithTimeout(ctx, e.timeout)
			defer cancel()
		}
		if err := conn.HandshakeContext(hctx); err != nil {
			raw.Close()
			return nil, err
		}
		return conn, nil
	}
}
