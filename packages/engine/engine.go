// Package engine defines the contract between the request coordinator and the
// network engine that actually moves bytes.
//
// An Engine creates tasks. Every task starts suspended and is identified by a
// TaskID that is unique within the engine. Once resumed, the engine reports
// what happens to the task through the Events interface it was constructed
// with. Events for a single task are delivered one at a time; events for
// different tasks may be delivered concurrently.
package engine

import (
	"io"
	"net/http"
)

// TaskID identifies one in-flight transfer attempt.
type TaskID uint64

// Kind classifies what a task does with the response body.
type Kind int

const (
	// KindData accumulates the response body in memory.
	KindData Kind = iota
	// KindDownload writes the response body to a temporary file.
	KindDownload
	// KindUpload sends a body supplied by an Uploadable.
	KindUpload
)

func (k Kind) String() string {
	switch k {
	case KindData:
		return "data"
	case KindDownload:
		return "download"
	case KindUpload:
		return "upload"
	default:
		return "unknown"
	}
}

// State is the engine-side lifecycle state of a task.
type State int

const (
	StateSuspended State = iota
	StateRunning
	StateCanceling
	StateCompleted
)

func (s State) String() string {
	switch s {
	case StateSuspended:
		return "suspended"
	case StateRunning:
		return "running"
	case StateCanceling:
		return "canceling"
	case StateCompleted:
		return "completed"
	default:
		return "unknown"
	}
}

// Task is a handle to one transfer attempt.
type Task interface {
	ID() TaskID
	Kind() Kind
	State() State

	// OriginalRequest is the request the task was created with.
	OriginalRequest() *http.Request
	// CurrentRequest differs from OriginalRequest after a redirect.
	CurrentRequest() *http.Request
	// Response is nil until response headers have been received.
	Response() *http.Response

	Resume()
	Suspend()
	Cancel()
}

// DownloadTask is a Task that can produce resume data when canceled.
type DownloadTask interface {
	Task

	// CancelProducingResumeData cancels the task and calls fn with an opaque
	// resume token before the task's completion event is delivered. fn
	// receives nil when the transfer cannot be resumed.
	CancelProducingResumeData(fn func(resumeData []byte))
}

// Uploadable produces a fresh request body for every submission attempt.
type Uploadable interface {
	Open() (body io.ReadCloser, length int64, err error)
}

// Engine creates tasks. Implementations must be safe for concurrent use.
type Engine interface {
	DataTask(req *http.Request) (Task, error)
	DownloadTask(req *http.Request) (DownloadTask, error)
	DownloadTaskWithResumeData(resumeData []byte) (DownloadTask, error)
	UploadTask(req *http.Request, body Uploadable) (Task, error)
}

// Events receives everything an engine observes about its tasks.
//
// Methods taking a completion function must call it exactly once; the engine
// blocks the task until it does.
type Events interface {
	// DidReceiveSessionChallenge is used for connection-level challenges
	// that cannot be attributed to a task.
	DidReceiveSessionChallenge(challenge *Challenge, completion func(Disposition, *Credential))
	DidReceiveChallenge(task Task, challenge *Challenge, completion func(Disposition, *Credential))
	// WillRedirect asks whether to follow a redirect. Passing nil to
	// completion stops redirection and delivers response as final.
	WillRedirect(task Task, response *http.Response, next *http.Request, completion func(*http.Request))
	DidReceiveResponse(task Task, response *http.Response)
	DidReceiveData(task Task, data []byte)
	DidSendBodyData(task Task, bytesSent, totalBytesSent, totalBytesExpectedToSend int64)
	DidWriteData(task Task, bytesWritten, totalBytesWritten, totalBytesExpectedToWrite int64)
	DidResumeAtOffset(task Task, fileOffset, expectedTotalBytes int64)
	DidFinishDownloading(task Task, location string)
	// DidBecomeDownloadTask reports that a data task has been reclassified.
	// No further events are delivered for dataTask; they arrive for
	// downloadTask instead.
	DidBecomeDownloadTask(dataTask Task, downloadTask DownloadTask)
	// DidComplete is the last event delivered for a task.
	DidComplete(task Task, err error)
}
