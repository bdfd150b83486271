package session

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/abdul-hamid-achik/courier/packages/engine"
)

// taskSpec is everything needed to create a task for a request again.
type taskSpec struct {
	kind       engine.Kind
	request    *http.Request
	upload     engine.Uploadable
	resumeData []byte
	// err is a failure to build the request; it is reported instead of
	// submitting
	err error
}

// Request is the handle for one logical request. It wraps one engine task
// at a time; a retry moves it to a new task.
type Request struct {
	id      uuid.UUID
	session *Session
	spec    taskSpec

	mu          sync.Mutex
	task        engine.Task
	delegate    taskDelegate
	retryCount  int
	startTime   time.Time
	validations []func()
	cancelled   bool
}

func newRequest(s *Session, spec taskSpec) *Request {
	return &Request{
		id:      uuid.New(),
		session: s,
		spec:    spec,
	}
}

// ID identifies the request across retries.
func (r *Request) ID() uuid.UUID {
	return r.id
}

// Task returns the task currently wrapped, nil when submission failed.
func (r *Request) Task() engine.Task {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.task
}

// HTTPRequest returns the request as submitted to the engine, after
// adaptation. Before submission it returns the request as built.
func (r *Request) HTTPRequest() *http.Request {
	if task := r.Task(); task != nil {
		return task.OriginalRequest()
	}
	return r.spec.request
}

// HTTPResponse returns the response of the current task, if any.
func (r *Request) HTTPResponse() *http.Response {
	if task := r.Task(); task != nil {
		return task.Response()
	}
	return nil
}

// RetryCount is how many times the request was resubmitted.
func (r *Request) RetryCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.retryCount
}

// Err returns the error recorded so far.
func (r *Request) Err() error {
	return r.currentDelegate().core().recordedError()
}

func (r *Request) currentDelegate() taskDelegate {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.delegate
}

// attach makes task the current task of a newly created request.
func (r *Request) attach(task engine.Task) {
	r.mu.Lock()
	r.task = task
	d := r.delegate
	r.mu.Unlock()
	d.core().setTask(task)
}

// prepareRetry resets the delegate for task. r keeps reporting the previous
// task until publishRetry.
func (r *Request) prepareRetry(task engine.Task) {
	d := r.currentDelegate()
	if d.kind() != task.Kind() {
		// The previous attempt ended as a download; start over with the
		// delegate kind the request was created with.
		r.mu.Lock()
		r.delegate = r.initialDelegate(r.delegate.core().inherit(task))
		d = r.delegate
		r.mu.Unlock()
		d.core().resetCore(task)
		return
	}
	d.reset(task)
}

// publishRetry makes task current and counts the retry. It reports whether
// the request was cancelled first; a later Cancel sees task.
func (r *Request) publishRetry(task engine.Task) (cancelled bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.task = task
	r.retryCount++
	r.startTime = r.session.clock.Now()
	return r.cancelled
}

func (r *Request) initialDelegate(c *delegateCore) taskDelegate {
	switch r.spec.kind {
	case engine.KindUpload:
		return newUploadDelegate(c)
	case engine.KindDownload:
		return newDownloadDelegate(c, nil)
	default:
		return newDataDelegate(c)
	}
}

// swapDelegate replaces the delegate with one built for task. The queue,
// credential and hooks of the old delegate carry over.
func (r *Request) swapDelegate(task engine.Task, build func(*delegateCore) taskDelegate) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.delegate = build(r.delegate.core().inherit(task))
	r.task = task
}

// Authenticate attaches a credential used to answer challenges.
func (r *Request) Authenticate(user, password string) *Request {
	return r.AuthenticateWith(engine.NewCredential(user, password))
}

func (r *Request) AuthenticateWith(credential *engine.Credential) *Request {
	r.currentDelegate().core().setCredential(credential)
	return r
}

// HandleChallenge overrides challenge handling for this request.
func (r *Request) HandleChallenge(fn ChallengeFunc) *Request {
	r.currentDelegate().core().setChallengeHooks(fn, nil)
	return r
}

// HandleChallengeAsync is the completion form of HandleChallenge. It wins
// when both are set.
func (r *Request) HandleChallengeAsync(h ChallengeHandler) *Request {
	r.currentDelegate().core().setChallengeHooks(nil, h)
	return r
}

// HandleRedirect overrides redirect handling for this request.
func (r *Request) HandleRedirect(fn RedirectFunc) *Request {
	r.currentDelegate().core().setRedirectHooks(fn, nil)
	return r
}

// HandleRedirectAsync is the completion form of HandleRedirect. It wins when
// both are set.
func (r *Request) HandleRedirectAsync(h RedirectHandler) *Request {
	r.currentDelegate().core().setRedirectHooks(nil, h)
	return r
}

// Resume starts or continues the request. A request that could not be
// submitted settles with its error.
func (r *Request) Resume() {
	r.mu.Lock()
	task := r.task
	if r.startTime.IsZero() {
		r.startTime = r.session.clock.Now()
	}
	r.mu.Unlock()

	if task == nil {
		r.session.finalizeUnsubmitted(r)
		return
	}
	task.Resume()
	r.session.notify(func(o Observer) { o.RequestResumed(r) })
}

func (r *Request) Suspend() {
	task := r.Task()
	if task == nil {
		return
	}
	task.Suspend()
	r.session.notify(func(o Observer) { o.RequestSuspended(r) })
}

// Cancel records engine.ErrCancelled and cancels the task. The request
// settles through the normal completion path.
func (r *Request) Cancel() {
	task := r.markCancelled()
	if task != nil {
		task.Cancel()
	}
}

func (r *Request) markCancelled() engine.Task {
	r.mu.Lock()
	r.cancelled = true
	task := r.task
	r.mu.Unlock()

	r.currentDelegate().core().setError(engine.ErrCancelled)
	r.session.notify(func(o Observer) { o.RequestCancelled(r) })
	return task
}

func (r *Request) isCancelled() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cancelled
}

// Progress is the receive side progress: bytes received for data requests,
// bytes written for downloads.
func (r *Request) Progress() Progress {
	return r.currentDelegate().core().currentProgress()
}

// Timeline reports the phases of the request. Phases still in progress are
// stamped with the current time.
func (r *Request) Timeline() Timeline {
	now := r.session.clock.Now()
	r.mu.Lock()
	start := r.startTime
	r.mu.Unlock()
	initial, end := r.currentDelegate().core().times()

	if start.IsZero() {
		start = now
	}
	if end.IsZero() {
		end = now
	}
	if initial.IsZero() {
		initial = end
	}
	return Timeline{
		RequestStart:           start,
		InitialResponse:        initial,
		RequestCompleted:       end,
		SerializationCompleted: now,
	}
}

func (r *Request) String() string {
	req := r.HTTPRequest()
	if req == nil {
		return "<invalid request>"
	}
	s := req.Method + " " + req.URL.String()
	if resp := r.HTTPResponse(); resp != nil {
		s += fmt.Sprintf(" (%d)", resp.StatusCode)
	}
	return s
}

func (r *Request) logAttrs() []any {
	attrs := []any{"request", r.id.String(), "state", r.currentDelegate().core().currentState().String()}
	if req := r.HTTPRequest(); req != nil {
		attrs = append(attrs, "method", req.Method, "url", req.URL.String())
	}
	return attrs
}

// enqueue adds op to the handlers that run once the request settles.
func (r *Request) enqueue(op func()) {
	r.currentDelegate().core().queue.add(op)
}

// DataRequest accumulates the response body in memory.
type DataRequest struct {
	*Request
}

// Stream delivers each received chunk to fn instead of keeping it. The
// response then carries no data.
func (r *DataRequest) Stream(fn func(data []byte)) *DataRequest {
	if d, ok := r.currentDelegate().(interface{ setStream(func([]byte)) }); ok {
		d.setStream(fn)
	}
	return r
}

// DownloadProgress reports receive progress through exec.
func (r *DataRequest) DownloadProgress(exec Executor, fn ProgressFunc) *DataRequest {
	r.currentDelegate().core().setProgressHandler(exec, fn)
	return r
}

// DownloadRequest writes the response body to a file.
type DownloadRequest struct {
	*Request
}

// DownloadProgress reports bytes written through exec.
func (r *DownloadRequest) DownloadProgress(exec Executor, fn ProgressFunc) *DownloadRequest {
	r.currentDelegate().core().setProgressHandler(exec, fn)
	return r
}

// CancelProducingResumeData cancels the download and keeps the engine's
// resume data, available from ResumeData once the request settles.
func (r *DownloadRequest) CancelProducingResumeData() {
	task := r.markCancelled()
	dt, ok := task.(engine.DownloadTask)
	if !ok {
		if task != nil {
			task.Cancel()
		}
		return
	}
	dt.CancelProducingResumeData(func(data []byte) {
		if d, ok := r.currentDelegate().(*downloadDelegate); ok {
			d.setResumeData(data)
		}
	})
}

// ResumeData returns the data produced by CancelProducingResumeData.
func (r *DownloadRequest) ResumeData() []byte {
	if d, ok := r.currentDelegate().(*downloadDelegate); ok {
		return d.currentResumeData()
	}
	return nil
}

// UploadRequest sends a body and accumulates the response in memory.
type UploadRequest struct {
	*DataRequest
}

// UploadProgress reports bytes sent through exec.
func (r *UploadRequest) UploadProgress(exec Executor, fn ProgressFunc) *UploadRequest {
	if d, ok := r.currentDelegate().(*uploadDelegate); ok {
		d.setUploadProgressHandler(exec, fn)
	}
	return r
}

// CurrentUploadProgress returns the latest upload snapshot.
func (r *UploadRequest) CurrentUploadProgress() Progress {
	if d, ok := r.currentDelegate().(*uploadDelegate); ok {
		return d.currentUploadProgress()
	}
	return Progress{Total: -1}
}
