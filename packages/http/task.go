package http

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/abdul-hamid-achik/courier/packages/engine"
)

const readChunkSize = 32 * 1024

type task struct {
	id     engine.TaskID
	kind   engine.Kind
	e      *Engine
	ctx    context.Context
	cancel context.CancelFunc
	gate   *gate

	original   *http.Request
	upload     engine.Uploadable
	resumeFrom *resumeToken

	mu           sync.Mutex
	state        engine.State
	started      bool
	current      *http.Request
	response     *http.Response
	resumeDataFn func([]byte)

	// emitMu keeps events for one task strictly sequential; the transport
	// reports upload progress from its own goroutine.
	emitMu *sync.Mutex
}

func (e *Engine) newTask(kind engine.Kind, req *http.Request) *task {
	ctx, cancel := context.WithCancel(context.Background())
	t := &task{
		id:       engine.TaskID(e.nextID.Add(1)),
		kind:     kind,
		e:        e,
		cancel:   cancel,
		gate:     newGate(),
		original: req,
		current:  req,
		state:    engine.StateSuspended,
		emitMu:   &sync.Mutex{},
	}
	t.ctx = context.WithValue(ctx, taskKey{}, t)
	return t
}

func (t *task) ID() engine.TaskID { return t.id }

func (t *task) Kind() engine.Kind { return t.kind }

func (t *task) State() engine.State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *task) OriginalRequest() *http.Request { return t.original }

func (t *task) CurrentRequest() *http.Request {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.current
}

func (t *task) Response() *http.Response {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.response
}

func (t *task) setCurrent(req *http.Request) {
	t.mu.Lock()
	t.current = req
	t.mu.Unlock()
}

func (t *task) Resume() {
	t.mu.Lock()
	defer t.mu.Unlock()
	switch {
	case t.state == engine.StateCompleted || t.state == engine.StateCanceling:
		return
	case !t.started:
		t.started = true
		t.state = engine.StateRunning
		go t.run()
	case t.state == engine.StateSuspended:
		t.state = engine.StateRunning
		t.gate.open()
	}
}

func (t *task) Suspend() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != engine.StateRunning {
		return
	}
	t.state = engine.StateSuspended
	t.gate.close()
}

func (t *task) Cancel() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state == engine.StateCompleted || t.state == engine.StateCanceling {
		return
	}
	t.state = engine.StateCanceling
	t.cancel()
	t.gate.open()
	if !t.started {
		t.started = true
		go t.run()
	}
}

func (t *task) CancelProducingResumeData(fn func([]byte)) {
	t.mu.Lock()
	t.resumeDataFn = fn
	t.mu.Unlock()
	t.Cancel()
}

func (t *task) emit(fn func()) {
	t.emitMu.Lock()
	defer t.emitMu.Unlock()
	fn()
}

func (t *task) askChallenge(challenge *engine.Challenge) (engine.Disposition, *engine.Credential) {
	type answer struct {
		disposition engine.Disposition
		credential  *engine.Credential
	}
	ch := make(chan answer, 1)
	var once sync.Once
	t.emit(func() {
		t.e.events.DidReceiveChallenge(t, challenge, func(d engine.Disposition, c *engine.Credential) {
			once.Do(func() { ch <- answer{d, c} })
		})
	})
	select {
	case a := <-ch:
		return a.disposition, a.credential
	case <-t.ctx.Done():
		return engine.CancelAuthenticationChallenge, nil
	}
}

func (t *task) askRedirect(response *http.Response, next *http.Request) *http.Request {
	ch := make(chan *http.Request, 1)
	var once sync.Once
	t.emit(func() {
		t.e.events.WillRedirect(t, response, next, func(req *http.Request) {
			once.Do(func() { ch <- req })
		})
	})
	select {
	case req := <-ch:
		return req
	case <-t.ctx.Done():
		return nil
	}
}

func (t *task) run() {
	active := t
	var err error
	defer func() {
		if t.ctx.Err() != nil {
			err = engine.ErrCancelled
			active.deliverResumeData(nil)
		}
		active.finish(err)
		if active != t {
			t.markCompleted()
		}
	}()

	if t.ctx.Err() != nil {
		return
	}

	resp, err := t.roundTrip()
	if err != nil {
		return
	}
	defer resp.Body.Close()

	t.mu.Lock()
	t.response = resp
	t.mu.Unlock()

	if t.kind == engine.KindData && t.e.becomeDownload != nil && t.e.becomeDownload(resp) {
		active = t.becomeDownload(resp)
	}

	active.emit(func() { t.e.events.DidReceiveResponse(active, resp) })

	if active.kind == engine.KindDownload {
		err = active.readToFile(resp)
		return
	}
	err = t.readToEvents(resp)
}

// roundTrip sends the request, answering 401 challenges until the server
// accepts a credential or the caller stops answering.
func (t *task) roundTrip() (*http.Response, error) {
	authorization := ""
	for failures := 0; ; failures++ {
		req, err := t.buildRequest(authorization)
		if err != nil {
			return nil, err
		}
		resp, err := t.e.httpClient.Do(req)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode != http.StatusUnauthorized || failures >= DefaultMaxChallengeAttempts {
			return resp, nil
		}
		challenge, ok := parseChallenge(resp, failures)
		if !ok {
			return resp, nil
		}

		disposition, credential := t.askChallenge(challenge)
		switch {
		case disposition == engine.UseCredential && credential != nil:
			header, err := authorizationFor(challenge, credential, resp.Request)
			if err != nil {
				resp.Body.Close()
				return nil, err
			}
			drain(resp)
			authorization = header
		case disposition == engine.CancelAuthenticationChallenge:
			resp.Body.Close()
			return nil, engine.ErrChallengeCancelled
		default:
			return resp, nil
		}
	}
}

func (t *task) buildRequest(authorization string) (*http.Request, error) {
	req := t.original.Clone(t.ctx)
	if t.original.GetBody != nil {
		body, err := t.original.GetBody()
		if err != nil {
			return nil, fmt.Errorf("failed to reopen request body: %w", err)
		}
		req.Body = body
	}

	for k, v := range t.e.defaultHeaders {
		if req.Header.Get(k) == "" {
			req.Header.Set(k, v)
		}
	}

	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}

	if t.upload != nil {
		body, length, err := t.upload.Open()
		if err != nil {
			return nil, fmt.Errorf("failed to open upload body: %w", err)
		}
		req.Body = &progressReader{ReadCloser: body, task: t, expected: length}
		req.ContentLength = length
		req.GetBody = nil
	}

	if t.resumeFrom != nil {
		t.resumeFrom.apply(req)
	}

	t.setCurrent(req)
	return req, nil
}

func (t *task) readToEvents(resp *http.Response) error {
	watch := t.watchBody(resp.Body)
	defer watch.stop()

	buf := make([]byte, readChunkSize)
	for {
		if err := t.gate.wait(t.ctx); err != nil {
			return err
		}
		n, err := watch.read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			t.emit(func() { t.e.events.DidReceiveData(t, chunk) })
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

func (t *task) readToFile(resp *http.Response) error {
	file, offset, err := t.openDownloadFile(resp)
	if err != nil {
		return err
	}

	expected := resp.ContentLength
	if expected >= 0 {
		expected += offset
	}
	if t.resumeFrom != nil {
		t.emit(func() { t.e.events.DidResumeAtOffset(t, offset, expected) })
	}

	watch := t.watchBody(resp.Body)
	defer watch.stop()

	written := offset
	buf := make([]byte, readChunkSize)
	for {
		if err = t.gate.wait(t.ctx); err != nil {
			break
		}
		n, readErr := watch.read(buf)
		if n > 0 {
			if _, err = file.Write(buf[:n]); err != nil {
				break
			}
			written += int64(n)
			t.emit(func() { t.e.events.DidWriteData(t, int64(n), written, expected) })
		}
		if errors.Is(readErr, io.EOF) {
			break
		}
		if readErr != nil {
			err = readErr
			break
		}
	}
	if closeErr := file.Close(); err == nil {
		err = closeErr
	}

	if err != nil {
		t.abandonDownload(file.Name(), written, resp)
		return err
	}

	t.emit(func() { t.e.events.DidFinishDownloading(t, file.Name()) })
	// Whatever the delegate did not move away is discarded.
	_ = os.Remove(file.Name())
	return nil
}

func (t *task) openDownloadFile(resp *http.Response) (*os.File, int64, error) {
	if t.resumeFrom != nil && t.resumeFrom.Path != "" {
		if resp.StatusCode == http.StatusPartialContent {
			file, err := os.OpenFile(t.resumeFrom.Path, os.O_WRONLY|os.O_APPEND, 0o600)
			if err == nil {
				return file, t.resumeFrom.Offset, nil
			}
		}
		file, err := os.OpenFile(t.resumeFrom.Path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
		if err == nil {
			return file, 0, nil
		}
	}
	file, err := os.CreateTemp(t.e.tempDir, "courier-download-*.tmp")
	if err != nil {
		return nil, 0, fmt.Errorf("failed to create download file: %w", err)
	}
	return file, 0, nil
}

func (t *task) abandonDownload(path string, written int64, resp *http.Response) {
	t.mu.Lock()
	wantsResumeData := t.resumeDataFn != nil
	t.mu.Unlock()
	if !wantsResumeData || t.ctx.Err() == nil {
		_ = os.Remove(path)
		return
	}
	token := newResumeToken(t.original.URL.String(), path, written, resp)
	data, err := token.encode()
	if err != nil {
		_ = os.Remove(path)
		return
	}
	t.deliverResumeData(data)
}

// deliverResumeData hands data to the cancel callback at most once.
func (t *task) deliverResumeData(data []byte) {
	t.mu.Lock()
	fn := t.resumeDataFn
	t.resumeDataFn = nil
	t.mu.Unlock()
	if fn != nil {
		fn(data)
	}
}

// becomeDownload hands the in-flight response to a new download task.
func (t *task) becomeDownload(resp *http.Response) *task {
	dl := &task{
		id:       engine.TaskID(t.e.nextID.Add(1)),
		kind:     engine.KindDownload,
		e:        t.e,
		ctx:      t.ctx,
		cancel:   t.cancel,
		gate:     t.gate,
		original: t.original,
		current:  t.CurrentRequest(),
		response: resp,
		state:    engine.StateRunning,
		started:  true,
		emitMu:   t.emitMu,
	}
	t.emit(func() { t.e.events.DidBecomeDownloadTask(t, dl) })
	t.markCompleted()
	return dl
}

func (t *task) markCompleted() {
	t.mu.Lock()
	t.state = engine.StateCompleted
	t.mu.Unlock()
}

func (t *task) finish(err error) {
	t.markCompleted()
	t.emit(func() { t.e.events.DidComplete(t, err) })
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))
	resp.Body.Close()
}

type progressReader struct {
	io.ReadCloser
	task     *task
	expected int64
	sent     int64
}

func (r *progressReader) Read(p []byte) (int, error) {
	n, err := r.ReadCloser.Read(p)
	if n > 0 {
		r.sent += int64(n)
		sent, total := int64(n), r.sent
		r.task.emit(func() { r.task.e.events.DidSendBodyData(r.task, sent, total, r.expected) })
	}
	return n, err
}

// gate blocks body reads while a task is suspended.
type gate struct {
	mu sync.Mutex
	ch chan struct{}
}

func newGate() *gate {
	ch := make(chan struct{})
	close(ch)
	return &gate{ch: ch}
}

func (g *gate) open() {
	g.mu.Lock()
	defer g.mu.Unlock()
	select {
	case <-g.ch:
	default:
		close(g.ch)
	}
}

func (g *gate) close() {
	g.mu.Lock()
	defer g.mu.Unlock()
	select {
	case <-g.ch:
		g.ch = make(chan struct{})
	default:
	}
}

func (g *gate) isOpen() bool {
	g.mu.Lock()
	ch := g.ch
	g.mu.Unlock()
	select {
	case <-ch:
		return true
	default:
		return false
	}
}

func (g *gate) wait(ctx context.Context) error {
	g.mu.Lock()
	ch := g.ch
	g.mu.Unlock()
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// bodyWatch closes a response body that delivers nothing for the engine
// timeout while its task is running. Time spent suspended does not count.
type bodyWatch struct {
	body    io.ReadCloser
	timeout time.Duration
	kick    chan struct{}
	done    chan struct{}
	fired   atomic.Bool
}

func (t *task) watchBody(body io.ReadCloser) *bodyWatch {
	w := &bodyWatch{
		body:    body,
		timeout: t.e.timeout,
		kick:    make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	if w.timeout > 0 {
		go w.run(t.gate)
	}
	return w
}

func (w *bodyWatch) run(g *gate) {
	timer := time.NewTimer(w.timeout)
	defer timer.Stop()
	for {
		select {
		case <-w.done:
			return
		case <-w.kick:
			timer.Reset(w.timeout)
		case <-timer.C:
			if !g.isOpen() {
				timer.Reset(w.timeout)
				continue
			}
			w.fired.Store(true)
			w.body.Close()
			return
		}
	}
}

// read reads the next chunk and restarts the idle timer.
func (w *bodyWatch) read(p []byte) (int, error) {
	w.restart()
	n, err := w.body.Read(p)
	if err != nil && w.fired.Load() {
		return n, fmt.Errorf("%w: no response data for %s", os.ErrDeadlineExceeded, w.timeout)
	}
	return n, err
}

func (w *bodyWatch) restart() {
	select {
	case w.kick <- struct{}{}:
	default:
	}
}

func (w *bodyWatch) stop() {
	close(w.done)
}
