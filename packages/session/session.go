package session

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/juju/clock"

	"github.com/abdul-hamid-achik/courier/packages/core/logging"
	"github.com/abdul-hamid-achik/courier/packages/engine"
	courierhttp "github.com/abdul-hamid-achik/courier/packages/http"
)

// EngineFactory builds the engine a session submits to. The session passes
// itself, as the receiver of engine events.
type EngineFactory func(events engine.Events) engine.Engine

// Session owns an engine and coordinates every request submitted to it.
type Session struct {
	engine   engine.Engine
	registry *registry

	adapter          Adapter
	retrier          Retrier
	clock            clock.Clock
	logger           *slog.Logger
	observers        []Observer
	credentials      CredentialStorage
	trustPolicies    *ServerTrustPolicyManager
	startImmediately bool
	overrides        overrides

	// becomeDownloadDestination is used when the engine turns a data task
	// into a download
	becomeDownloadDestination Destination
}

// Option configures a Session.
type Option func(*sessionConfig)

type sessionConfig struct {
	*Session
	engineFactory EngineFactory
}

// New creates a session. Unless WithEngine is given it runs on the net/http
// engine with default settings.
func New(opts ...Option) *Session {
	s := &Session{
		registry:         newRegistry(),
		clock:            clock.WallClock,
		logger:           logging.Nop(),
		startImmediately: true,
	}
	cfg := &sessionConfig{Session: s}
	for _, opt := range opts {
		opt(cfg)
	}
	s.overrides.resolve()

	factory := cfg.engineFactory
	if factory == nil {
		factory = func(events engine.Events) engine.Engine { return courierhttp.New(events) }
	}
	s.engine = factory(&router{s: s})
	return s
}

// WithEngine sets the factory for the session's engine.
func WithEngine(factory EngineFactory) Option {
	return func(c *sessionConfig) {
		c.engineFactory = factory
	}
}

// WithAdapter sets the Adapter every submission attempt passes through.
func WithAdapter(a Adapter) Option {
	return func(c *sessionConfig) {
		c.adapter = a
	}
}

// WithRetrier sets the Retrier consulted after failures.
func WithRetrier(r Retrier) Option {
	return func(c *sessionConfig) {
		c.retrier = r
	}
}

// WithClock sets the clock used for timestamps and retry delays.
func WithClock(clk clock.Clock) Option {
	return func(c *sessionConfig) {
		c.clock = clk
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *sessionConfig) {
		c.logger = logger
	}
}

// WithObserver adds an observer. It may be given more than once.
func WithObserver(o Observer) Option {
	return func(c *sessionConfig) {
		c.observers = append(c.observers, o)
	}
}

func WithCredentialStorage(storage CredentialStorage) Option {
	return func(c *sessionConfig) {
		c.credentials = storage
	}
}

func WithServerTrustPolicies(m *ServerTrustPolicyManager) Option {
	return func(c *sessionConfig) {
		c.trustPolicies = m
	}
}

// WithStartRequestsImmediately controls whether new requests are resumed as
// soon as they are created. Defaults to true.
func WithStartRequestsImmediately(start bool) Option {
	return func(c *sessionConfig) {
		c.startImmediately = start
	}
}

// WithBecomeDownloadDestination sets where data requests the engine turned
// into downloads keep their file.
func WithBecomeDownloadDestination(d Destination) Option {
	return func(c *sessionConfig) {
		c.becomeDownloadDestination = d
	}
}

// WithSessionChallenge overrides handling of challenges no task owns.
func WithSessionChallenge(fn SessionChallengeFunc) Option {
	return func(c *sessionConfig) {
		c.overrides.sessionChallengeSync = fn
	}
}

// WithSessionChallengeHandler is the completion form of
// WithSessionChallenge. It wins when both are given.
func WithSessionChallengeHandler(h SessionChallengeHandler) Option {
	return func(c *sessionConfig) {
		c.overrides.sessionChallengeAsync = h
	}
}

// WithTaskChallenge overrides challenge handling for every task.
func WithTaskChallenge(fn ChallengeFunc) Option {
	return func(c *sessionConfig) {
		c.overrides.taskChallengeSync = fn
	}
}

// WithTaskChallengeHandler is the completion form of WithTaskChallenge. It
// wins when both are given.
func WithTaskChallengeHandler(h ChallengeHandler) Option {
	return func(c *sessionConfig) {
		c.overrides.taskChallengeAsync = h
	}
}

// WithRedirect overrides redirect handling for every task.
func WithRedirect(fn RedirectFunc) Option {
	return func(c *sessionConfig) {
		c.overrides.redirectSync = fn
	}
}

// WithRedirectHandler is the completion form of WithRedirect. It wins when
// both are given.
func WithRedirectHandler(h RedirectHandler) Option {
	return func(c *sessionConfig) {
		c.overrides.redirectAsync = h
	}
}

func WithResponseOverride(fn func(task engine.Task, response *http.Response)) Option {
	return func(c *sessionConfig) {
		c.overrides.response = fn
	}
}

func WithDataOverride(fn func(task engine.Task, data []byte)) Option {
	return func(c *sessionConfig) {
		c.overrides.data = fn
	}
}

func WithSendBodyDataOverride(fn func(task engine.Task, bytesSent, totalBytesSent, totalBytesExpectedToSend int64)) Option {
	return func(c *sessionConfig) {
		c.overrides.sendBodyData = fn
	}
}

func WithWriteDataOverride(fn func(task engine.Task, bytesWritten, totalBytesWritten, totalBytesExpectedToWrite int64)) Option {
	return func(c *sessionConfig) {
		c.overrides.writeData = fn
	}
}

func WithResumeAtOffsetOverride(fn func(task engine.Task, fileOffset, expectedTotalBytes int64)) Option {
	return func(c *sessionConfig) {
		c.overrides.resumeAtOffset = fn
	}
}

func WithFinishDownloadingOverride(fn func(task engine.Task, location string)) Option {
	return func(c *sessionConfig) {
		c.overrides.finishDownloading = fn
	}
}

// WithBecomeDownloadOverride is called when a data task becomes a download.
// The session still moves the request over to the new task.
func WithBecomeDownloadOverride(fn func(dataTask engine.Task, downloadTask engine.DownloadTask)) Option {
	return func(c *sessionConfig) {
		c.overrides.becomeDownload = fn
	}
}

// WithTaskCompleted is called for every task that completes, alongside the
// session's own completion handling.
func WithTaskCompleted(fn func(task engine.Task, err error)) Option {
	return func(c *sessionConfig) {
		c.overrides.taskCompleted = fn
	}
}

// Engine returns the engine requests are submitted to.
func (s *Session) Engine() engine.Engine {
	return s.engine
}

// ActiveRequests reports how many tasks are registered with the session.
func (s *Session) ActiveRequests() int {
	return s.registry.Len()
}

// RequestConvertible produces the request to submit.
type RequestConvertible interface {
	HTTPRequest() (*http.Request, error)
}

type httpRequest struct {
	req *http.Request
}

func (h httpRequest) HTTPRequest() (*http.Request, error) {
	return h.req, nil
}

// FromHTTP wraps a ready made request.
func FromHTTP(req *http.Request) RequestConvertible {
	return httpRequest{req: req}
}

// Request creates a data request.
func (s *Session) Request(rc RequestConvertible) *DataRequest {
	req, err := rc.HTTPRequest()
	r := s.newRequest(taskSpec{kind: engine.KindData, request: req, err: err}, func(c *delegateCore) taskDelegate {
		return newDataDelegate(c)
	})
	return &DataRequest{Request: r}
}

// Download creates a download request. The file is moved to destination
// when the transfer finishes.
func (s *Session) Download(rc RequestConvertible, destination Destination) *DownloadRequest {
	req, err := rc.HTTPRequest()
	r := s.newRequest(taskSpec{kind: engine.KindDownload, request: req, err: err}, func(c *delegateCore) taskDelegate {
		return newDownloadDelegate(c, destination)
	})
	return &DownloadRequest{Request: r}
}

// DownloadResuming continues a download from the resume data a cancelled
// download produced.
func (s *Session) DownloadResuming(resumeData []byte, destination Destination) *DownloadRequest {
	spec := taskSpec{kind: engine.KindDownload, resumeData: resumeData}
	if len(resumeData) == 0 {
		spec.err = fmt.Errorf("%w: empty resume data", engine.ErrInvalidResumeData)
	}
	r := s.newRequest(spec, func(c *delegateCore) taskDelegate {
		return newDownloadDelegate(c, destination)
	})
	return &DownloadRequest{Request: r}
}

// Upload creates an upload request sending body.
func (s *Session) Upload(rc RequestConvertible, body engine.Uploadable) *UploadRequest {
	req, err := rc.HTTPRequest()
	r := s.newRequest(taskSpec{kind: engine.KindUpload, request: req, upload: body, err: err}, func(c *delegateCore) taskDelegate {
		return newUploadDelegate(c)
	})
	return &UploadRequest{DataRequest: &DataRequest{Request: r}}
}

func (s *Session) newRequest(spec taskSpec, newDelegate func(*delegateCore) taskDelegate) *Request {
	r := newRequest(s, spec)
	r.delegate = newDelegate(newDelegateCore(s, newWorkQueue()))

	task, err := s.makeTask(spec)
	if err != nil {
		s.logger.Warn("request could not be submitted", append(r.logAttrs(), "error", err)...)
		r.delegate.core().setError(err)
	} else {
		r.attach(task)
		s.registry.Register(task.ID(), r)
		s.logger.Debug("task registered", append(r.logAttrs(), "task", task.ID())...)
	}

	if s.startImmediately {
		r.Resume()
	}
	return r
}

// makeTask runs the Adapter and asks the engine for a task. It is used for
// the first submission and for every retry.
func (s *Session) makeTask(spec taskSpec) (engine.Task, error) {
	if spec.err != nil {
		return nil, spec.err
	}
	if spec.resumeData != nil {
		return s.engine.DownloadTaskWithResumeData(spec.resumeData)
	}

	req := spec.request
	if s.adapter != nil {
		adapted, err := s.adapter.Adapt(req)
		if err != nil {
			return nil, &AdaptError{Err: err}
		}
		req = adapted
	}

	switch spec.kind {
	case engine.KindDownload:
		return s.engine.DownloadTask(req)
	case engine.KindUpload:
		return s.engine.UploadTask(req, spec.upload)
	default:
		return s.engine.DataTask(req)
	}
}

// evaluateServerTrust applies the policy registered for the challenge host.
// ok is false when no policy applies.
func (s *Session) evaluateServerTrust(ch *engine.Challenge) (engine.Disposition, *engine.Credential, bool) {
	host := ch.ProtectionSpace.Host
	policy, ok := s.trustPolicies.PolicyForHost(host)
	if !ok {
		return engine.PerformDefaultHandling, nil, false
	}
	if policy.Evaluate(ch.ConnectionState, host) {
		return engine.UseCredential, engine.TrustCredential(), true
	}
	s.logger.Warn("server trust evaluation failed", "host", host)
	return engine.CancelAuthenticationChallenge, nil, true
}

func (s *Session) defaultCredential(space engine.ProtectionSpace) *engine.Credential {
	if s.credentials == nil {
		return nil
	}
	credential, err := s.credentials.DefaultCredential(space)
	if err != nil {
		s.logger.Warn("credential lookup failed", "space", space.String(), "error", err)
		return nil
	}
	return credential
}

func (s *Session) notify(fn func(Observer)) {
	for _, o := range s.observers {
		fn(o)
	}
}
