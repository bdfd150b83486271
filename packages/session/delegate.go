package session

import (
	"bytes"
	"net/http"
	"sync"
	"time"

	"github.com/abdul-hamid-achik/courier/packages/engine"
)

type delegateState int

const (
	stateIdle delegateState = iota
	stateActive
	stateTerminal
)

func (s delegateState) String() string {
	switch s {
	case stateIdle:
		return "idle"
	case stateActive:
		return "active"
	default:
		return "terminal"
	}
}

// taskDelegate consumes the engine events of the one task a Request
// currently wraps. Kind specific delegates embed delegateCore and override
// the events they care about.
type taskDelegate interface {
	core() *delegateCore
	kind() engine.Kind

	didReceiveResponse(response *http.Response)
	didReceiveData(data []byte)
	didSendBodyData(bytesSent, totalBytesSent, totalBytesExpectedToSend int64)
	didWriteData(bytesWritten, totalBytesWritten, totalBytesExpectedToWrite int64)
	didResumeAtOffset(fileOffset, expectedTotalBytes int64)
	didFinishDownloading(location string)

	// responseData is the accumulated body, nil when streamed or downloaded.
	responseData() []byte
	reset(task engine.Task)
}

// delegateCore holds the state every kind of delegate shares.
type delegateCore struct {
	session *Session
	queue   *workQueue

	mu                  sync.Mutex
	task                engine.Task
	state               delegateState
	err                 error
	credential          *engine.Credential
	initialResponseTime time.Time
	endTime             time.Time
	progress            Progress
	progressFn          ProgressFunc
	progressExec        Executor

	challengeSync  ChallengeFunc
	challengeAsync ChallengeHandler
	redirectSync   RedirectFunc
	redirectAsync  RedirectHandler
}

func newDelegateCore(s *Session, queue *workQueue) *delegateCore {
	return &delegateCore{
		session:  s,
		queue:    queue,
		progress: Progress{Total: -1},
	}
}

// inherit returns a core for a replacement delegate. The queue, the attached
// credential and the caller hooks carry over; per-attempt state does not.
func (d *delegateCore) inherit(task engine.Task) *delegateCore {
	d.mu.Lock()
	defer d.mu.Unlock()
	return &delegateCore{
		session:        d.session,
		queue:          d.queue,
		task:           task,
		state:          stateActive,
		err:            d.err,
		credential:     d.credential,
		progress:       Progress{Total: -1},
		progressFn:     d.progressFn,
		progressExec:   d.progressExec,
		challengeSync:  d.challengeSync,
		challengeAsync: d.challengeAsync,
		redirectSync:   d.redirectSync,
		redirectAsync:  d.redirectAsync,
	}
}

func (d *delegateCore) core() *delegateCore { return d }

func (d *delegateCore) currentTask() engine.Task {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.task
}

func (d *delegateCore) setTask(task engine.Task) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.task = task
}

// activate moves an idle delegate to active on its first event.
func (d *delegateCore) activate() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state == stateIdle {
		d.state = stateActive
	}
}

func (d *delegateCore) currentState() delegateState {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// setError records err unless an error is already recorded or the delegate
// is terminal.
func (d *delegateCore) setError(err error) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err == nil || d.err != nil || d.state == stateTerminal {
		return false
	}
	d.err = err
	return true
}

func (d *delegateCore) recordedError() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.err
}

func (d *delegateCore) setCredential(c *engine.Credential) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.credential = c
}

func (d *delegateCore) attachedCredential() *engine.Credential {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.credential
}

func (d *delegateCore) markInitialResponse() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.initialResponseTime.IsZero() {
		d.initialResponseTime = d.session.clock.Now()
	}
}

func (d *delegateCore) times() (initial, end time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.initialResponseTime, d.endTime
}

func (d *delegateCore) setProgressHandler(exec Executor, fn ProgressFunc) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if exec == nil {
		exec = Inline
	}
	d.progressExec, d.progressFn = exec, fn
}

func (d *delegateCore) currentProgress() Progress {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.progress
}

// updateProgress stores a new snapshot and dispatches it to the handler.
func (d *delegateCore) updateProgress(p Progress) {
	d.mu.Lock()
	d.progress = p
	fn, exec := d.progressFn, d.progressExec
	d.mu.Unlock()
	if fn != nil {
		exec(func() { fn(p) })
	}
}

func (d *delegateCore) setChallengeHooks(fn ChallengeFunc, handler ChallengeHandler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if fn != nil {
		d.challengeSync = fn
	}
	if handler != nil {
		d.challengeAsync = handler
	}
}

func (d *delegateCore) setRedirectHooks(fn RedirectFunc, handler RedirectHandler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if fn != nil {
		d.redirectSync = fn
	}
	if handler != nil {
		d.redirectAsync = handler
	}
}

// didReceiveChallenge resolves a challenge: caller hooks first, then the
// session's server trust policies, then default handling.
func (d *delegateCore) didReceiveChallenge(task engine.Task, ch *engine.Challenge, complete func(engine.Disposition, *engine.Credential)) {
	d.activate()
	d.mu.Lock()
	hook := challengeOverride(d.challengeAsync, d.challengeSync)
	d.mu.Unlock()
	if hook != nil {
		hook(challengeArgs{task, ch}, func(a answer) { complete(a.disposition, a.credential) })
		return
	}

	if ch.IsServerTrust() {
		if disposition, credential, ok := d.session.evaluateServerTrust(ch); ok {
			complete(disposition, credential)
			return
		}
		complete(engine.PerformDefaultHandling, nil)
		return
	}

	if ch.PreviousFailureCount > 0 {
		complete(engine.RejectProtectionSpace, nil)
		return
	}
	credential := d.attachedCredential()
	if credential == nil {
		credential = d.session.defaultCredential(ch.ProtectionSpace)
	}
	if credential != nil {
		complete(engine.UseCredential, credential)
		return
	}
	complete(engine.PerformDefaultHandling, nil)
}

func (d *delegateCore) willRedirect(task engine.Task, response *http.Response, next *http.Request, complete func(*http.Request)) {
	d.activate()
	d.mu.Lock()
	hook := redirectOverride(d.redirectAsync, d.redirectSync)
	d.mu.Unlock()
	if hook != nil {
		hook(redirectArgs{task, response, next}, complete)
		return
	}
	complete(next)
}

// complete records err (first write wins), stamps the end time and releases
// the queue. It returns false when the delegate was already terminal.
func (d *delegateCore) complete(err error) bool {
	d.mu.Lock()
	if d.state == stateTerminal {
		d.mu.Unlock()
		return false
	}
	if err != nil && d.err == nil {
		d.err = err
	}
	d.state = stateTerminal
	d.endTime = d.session.clock.Now()
	d.mu.Unlock()

	d.queue.release()
	return true
}

func (d *delegateCore) resetCore(task engine.Task) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.task = task
	d.state = stateIdle
	d.err = nil
	d.initialResponseTime = time.Time{}
	d.endTime = time.Time{}
	d.progress = Progress{Total: -1}
}

func (d *delegateCore) kind() engine.Kind {
	return engine.KindData
}

func (d *delegateCore) didReceiveResponse(*http.Response) {
	d.activate()
}

func (d *delegateCore) didReceiveData([]byte) {
	d.activate()
}

func (d *delegateCore) didSendBodyData(_, _, _ int64) {
	d.activate()
}

func (d *delegateCore) didWriteData(_, _, _ int64) {
	d.activate()
}

func (d *delegateCore) didResumeAtOffset(_, _ int64) {
	d.activate()
}

func (d *delegateCore) didFinishDownloading(location string) {
	d.activate()
}

func (d *delegateCore) responseData() []byte {
	return nil
}

func (d *delegateCore) reset(task engine.Task) {
	d.resetCore(task)
}

// dataDelegate accumulates the body in memory, or hands each chunk to a
// stream callback without keeping it.
type dataDelegate struct {
	*delegateCore

	buf      bytes.Buffer
	stream   func([]byte)
	received int64
	expected int64
}

func newDataDelegate(c *delegateCore) *dataDelegate {
	return &dataDelegate{delegateCore: c, expected: -1}
}

func (d *dataDelegate) kind() engine.Kind { return engine.KindData }

func (d *dataDelegate) setStream(fn func([]byte)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stream = fn
}

func (d *dataDelegate) didReceiveResponse(response *http.Response) {
	d.activate()
	d.mu.Lock()
	d.expected = response.ContentLength
	d.mu.Unlock()
}

func (d *dataDelegate) didReceiveData(data []byte) {
	d.activate()
	d.markInitialResponse()

	d.mu.Lock()
	stream := d.stream
	if stream == nil {
		d.buf.Write(data)
	}
	d.received += int64(len(data))
	p := Progress{Completed: d.received, Total: d.expected}
	d.mu.Unlock()

	if stream != nil {
		stream(data)
	}
	d.updateProgress(p)
}

func (d *dataDelegate) responseData() []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stream != nil {
		return nil
	}
	return append([]byte(nil), d.buf.Bytes()...)
}

func (d *dataDelegate) reset(task engine.Task) {
	d.resetCore(task)
	d.mu.Lock()
	defer d.mu.Unlock()
	d.buf.Reset()
	d.received = 0
	d.expected = -1
}

// uploadDelegate is a data delegate that also reports upload progress.
type uploadDelegate struct {
	*dataDelegate

	uploadProgress Progress
	uploadFn       ProgressFunc
	uploadExec     Executor
}

func newUploadDelegate(c *delegateCore) *uploadDelegate {
	return &uploadDelegate{dataDelegate: newDataDelegate(c), uploadProgress: Progress{Total: -1}}
}

func (d *uploadDelegate) kind() engine.Kind { return engine.KindUpload }

func (d *uploadDelegate) setUploadProgressHandler(exec Executor, fn ProgressFunc) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if exec == nil {
		exec = Inline
	}
	d.uploadExec, d.uploadFn = exec, fn
}

func (d *uploadDelegate) didSendBodyData(bytesSent, totalBytesSent, totalBytesExpectedToSend int64) {
	d.activate()
	p := Progress{Completed: totalBytesSent, Total: totalBytesExpectedToSend}
	d.mu.Lock()
	d.uploadProgress = p
	fn, exec := d.uploadFn, d.uploadExec
	d.mu.Unlock()
	if fn != nil {
		exec(func() { fn(p) })
	}
}

func (d *uploadDelegate) currentUploadProgress() Progress {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.uploadProgress
}

func (d *uploadDelegate) reset(task engine.Task) {
	d.dataDelegate.reset(task)
	d.mu.Lock()
	defer d.mu.Unlock()
	d.uploadProgress = Progress{Total: -1}
}
