package session

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/abdul-hamid-achik/courier/packages/engine"
)

var errTransport = errors.New("connection reset by peer")

// fakeEngine hands out tasks with ids starting at 100. Tests drive events by
// hand through the fakeTask helpers.
type fakeEngine struct {
	mu      sync.Mutex
	events  engine.Events
	nextID  engine.TaskID
	err     error
	jar     http.CookieJar
	resumed chan *fakeTask
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{nextID: 100, resumed: make(chan *fakeTask, 64)}
}

func (e *fakeEngine) factory(events engine.Events) engine.Engine {
	e.events = events
	return e
}

func (e *fakeEngine) setErr(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.err = err
}

func (e *fakeEngine) newTask(kind engine.Kind, req *http.Request) (*fakeTask, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.err != nil {
		return nil, e.err
	}
	t := &fakeTask{id: e.nextID, kind: kind, req: req, e: e}
	e.nextID++
	return t, nil
}

func (e *fakeEngine) DataTask(req *http.Request) (engine.Task, error) {
	t, err := e.newTask(engine.KindData, req)
	if err != nil {
		return nil, err
	}
	return t, nil
}

func (e *fakeEngine) DownloadTask(req *http.Request) (engine.DownloadTask, error) {
	t, err := e.newTask(engine.KindDownload, req)
	if err != nil {
		return nil, err
	}
	return t, nil
}

func (e *fakeEngine) DownloadTaskWithResumeData(resumeData []byte) (engine.DownloadTask, error) {
	if len(resumeData) == 0 {
		return nil, engine.ErrInvalidResumeData
	}
	req, _ := http.NewRequest(http.MethodGet, "http://example.com/resumed", nil)
	t, err := e.newTask(engine.KindDownload, req)
	if err != nil {
		return nil, err
	}
	return t, nil
}

func (e *fakeEngine) UploadTask(req *http.Request, _ engine.Uploadable) (engine.Task, error) {
	t, err := e.newTask(engine.KindUpload, req)
	if err != nil {
		return nil, err
	}
	return t, nil
}

func (e *fakeEngine) CookieJar() http.CookieJar {
	return e.jar
}

// next waits until a task is resumed. Tasks are resumed only after the
// session registered them, so events sent to the result are routed.
func (e *fakeEngine) next(t *testing.T) *fakeTask {
	t.Helper()
	select {
	case task := <-e.resumed:
		return task
	case <-time.After(2 * time.Second):
		t.Fatal("no task was resumed")
		return nil
	}
}

// expectNoTask fails if a task is resumed within a short window.
func (e *fakeEngine) expectNoTask(t *testing.T) {
	t.Helper()
	select {
	case task := <-e.resumed:
		t.Fatalf("unexpected task %d resumed", task.ID())
	case <-time.After(50 * time.Millisecond):
	}
}

// becomeDownload creates the download task a data task turns into.
func (e *fakeEngine) becomeDownload(t *testing.T, from *fakeTask) *fakeTask {
	t.Helper()
	dl, err := e.newTask(engine.KindDownload, from.req)
	require.NoError(t, err)
	dl.state = engine.StateRunning
	dl.response = from.Response()
	e.events.DidBecomeDownloadTask(from, dl)
	return dl
}

type fakeTask struct {
	id   engine.TaskID
	kind engine.Kind
	req  *http.Request
	e    *fakeEngine

	mu       sync.Mutex
	state    engine.State
	response *http.Response
}

func (t *fakeTask) ID() engine.TaskID { return t.id }

func (t *fakeTask) Kind() engine.Kind { return t.kind }

func (t *fakeTask) OriginalRequest() *http.Request { return t.req }

func (t *fakeTask) CurrentRequest() *http.Request { return t.req }

func (t *fakeTask) resumeToken() []byte {
	return []byte(fmt.Sprintf("resume-%d", t.id))
}

func (t *fakeTask) CancelProducingResumeData(fn func([]byte)) {
	fn(t.resumeToken())
	t.finish(engine.ErrCancelled)
}

func (t *fakeTask) State() engine.State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *fakeTask) Response() *http.Response {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.response
}

func (t *fakeTask) Resume() {
	t.mu.Lock()
	started := t.state == engine.StateSuspended
	if started {
		t.state = engine.StateRunning
	}
	t.mu.Unlock()
	if started {
		t.e.resumed <- t
	}
}

func (t *fakeTask) Suspend() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state == engine.StateRunning {
		t.state = engine.StateSuspended
	}
}

func (t *fakeTask) Cancel() {
	t.finish(engine.ErrCancelled)
}

// respond delivers a response and, when body is not empty, one data chunk.
func (t *fakeTask) respond(status int, contentType, body string) {
	resp := &http.Response{
		StatusCode:    status,
		Header:        http.Header{},
		ContentLength: int64(len(body)),
		Request:       t.req,
	}
	if contentType != "" {
		resp.Header.Set("Content-Type", contentType)
	}
	t.mu.Lock()
	t.response = resp
	t.mu.Unlock()
	t.e.events.DidReceiveResponse(t, resp)
	if body != "" {
		t.e.events.DidReceiveData(t, []byte(body))
	}
}

// download writes content to a temporary file and reports it finished.
func (t *fakeTask) download(tt *testing.T, content string) string {
	tt.Helper()
	path := filepath.Join(tt.TempDir(), fmt.Sprintf("task-%d.tmp", t.id))
	require.NoError(tt, os.WriteFile(path, []byte(content), 0o644))
	n := int64(len(content))
	t.e.events.DidWriteData(t, n, n, n)
	t.e.events.DidFinishDownloading(t, path)
	return path
}

// finish delivers the completion event once.
func (t *fakeTask) finish(err error) {
	t.mu.Lock()
	if t.state == engine.StateCompleted {
		t.mu.Unlock()
		return
	}
	t.state = engine.StateCompleted
	t.mu.Unlock()
	t.e.events.DidComplete(t, err)
}

func newTestSession(eng *fakeEngine, opts ...Option) *Session {
	return New(append([]Option{WithEngine(eng.factory)}, opts...)...)
}

func mustRequest(t *testing.T, method, url string) RequestConvertible {
	t.Helper()
	req, err := http.NewRequest(method, url, nil)
	require.NoError(t, err)
	return FromHTTP(req)
}

func waitFor[T any](t *testing.T, ch chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for completion")
		var zero T
		return zero
	}
}

func alwaysRetry(delay time.Duration) Retrier {
	return RetrierFunc(func(_ *Request, _ error, completion func(RetryDecision)) {
		completion(RetryDecision{Retry: true, Delay: delay})
	})
}

func neverRetry() Retrier {
	return RetrierFunc(func(_ *Request, _ error, completion func(RetryDecision)) {
		completion(RetryDecision{})
	})
}
