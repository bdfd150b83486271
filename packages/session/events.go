package session

import (
	"net/http"

	"github.com/abdul-hamid-achik/courier/packages/engine"
)

// router receives engine events and sends each one to a caller override,
// the delegate of the owning request, or a session default.
type router struct {
	s *Session
}

var _ engine.Events = (*router)(nil)

func (rt *router) delegateFor(task engine.Task) (taskDelegate, bool) {
	r, ok := rt.s.registry.Lookup(task.ID())
	if !ok {
		return nil, false
	}
	return r.currentDelegate(), true
}

func (rt *router) DidReceiveSessionChallenge(ch *engine.Challenge, completion func(engine.Disposition, *engine.Credential)) {
	if o := rt.s.overrides.sessionChallenge; o != nil {
		o(ch, func(a answer) { completion(a.disposition, a.credential) })
		return
	}
	if ch.IsServerTrust() {
		if disposition, credential, ok := rt.s.evaluateServerTrust(ch); ok {
			completion(disposition, credential)
			return
		}
	}
	completion(engine.PerformDefaultHandling, nil)
}

func (rt *router) DidReceiveChallenge(task engine.Task, ch *engine.Challenge, completion func(engine.Disposition, *engine.Credential)) {
	if o := rt.s.overrides.taskChallenge; o != nil {
		o(challengeArgs{task, ch}, func(a answer) { completion(a.disposition, a.credential) })
		return
	}
	if d, ok := rt.delegateFor(task); ok {
		d.core().didReceiveChallenge(task, ch, completion)
		return
	}
	completion(engine.PerformDefaultHandling, nil)
}

func (rt *router) WillRedirect(task engine.Task, response *http.Response, next *http.Request, completion func(*http.Request)) {
	if o := rt.s.overrides.redirect; o != nil {
		o(redirectArgs{task, response, next}, completion)
		return
	}
	if d, ok := rt.delegateFor(task); ok {
		d.core().willRedirect(task, response, next, completion)
		return
	}
	completion(next)
}

func (rt *router) DidReceiveResponse(task engine.Task, response *http.Response) {
	if o := rt.s.overrides.response; o != nil {
		o(task, response)
		return
	}
	if d, ok := rt.delegateFor(task); ok {
		d.didReceiveResponse(response)
	}
}

func (rt *router) DidReceiveData(task engine.Task, data []byte) {
	if o := rt.s.overrides.data; o != nil {
		o(task, data)
		return
	}
	if d, ok := rt.delegateFor(task); ok {
		d.didReceiveData(data)
	}
}

func (rt *router) DidSendBodyData(task engine.Task, bytesSent, totalBytesSent, totalBytesExpectedToSend int64) {
	if o := rt.s.overrides.sendBodyData; o != nil {
		o(task, bytesSent, totalBytesSent, totalBytesExpectedToSend)
		return
	}
	if d, ok := rt.delegateFor(task); ok {
		d.didSendBodyData(bytesSent, totalBytesSent, totalBytesExpectedToSend)
	}
}

func (rt *router) DidWriteData(task engine.Task, bytesWritten, totalBytesWritten, totalBytesExpectedToWrite int64) {
	if o := rt.s.overrides.writeData; o != nil {
		o(task, bytesWritten, totalBytesWritten, totalBytesExpectedToWrite)
		return
	}
	if d, ok := rt.delegateFor(task); ok {
		d.didWriteData(bytesWritten, totalBytesWritten, totalBytesExpectedToWrite)
	}
}

func (rt *router) DidResumeAtOffset(task engine.Task, fileOffset, expectedTotalBytes int64) {
	if o := rt.s.overrides.resumeAtOffset; o != nil {
		o(task, fileOffset, expectedTotalBytes)
		return
	}
	if d, ok := rt.delegateFor(task); ok {
		d.didResumeAtOffset(fileOffset, expectedTotalBytes)
	}
}

func (rt *router) DidFinishDownloading(task engine.Task, location string) {
	if o := rt.s.overrides.finishDownloading; o != nil {
		o(task, location)
		return
	}
	if d, ok := rt.delegateFor(task); ok {
		d.didFinishDownloading(location)
	}
}

// DidBecomeDownloadTask swaps the request over to the download task and a
// download delegate. The swap is bookkeeping, so it happens even when an
// override is registered.
func (rt *router) DidBecomeDownloadTask(dataTask engine.Task, downloadTask engine.DownloadTask) {
	if o := rt.s.overrides.becomeDownload; o != nil {
		o(dataTask, downloadTask)
	}
	r, ok := rt.s.registry.Lookup(dataTask.ID())
	if !ok {
		return
	}
	r.swapDelegate(downloadTask, func(c *delegateCore) taskDelegate {
		return newDownloadDelegate(c, rt.s.becomeDownloadDestination)
	})
	rt.s.registry.Replace(dataTask.ID(), downloadTask.ID(), r)
	rt.s.logger.Debug("task became download",
		append(r.logAttrs(), "old_task", dataTask.ID(), "task", downloadTask.ID())...)
}

// DidComplete deliberately runs both the task completed override and the
// session's own pipeline; see taskCompleted.
func (rt *router) DidComplete(task engine.Task, err error) {
	rt.s.taskCompleted(task, err)
}
