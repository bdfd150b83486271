package session

import (
	"net/http"

	"github.com/abdul-hamid-achik/courier/packages/engine"
)

// ChallengeFunc answers a task challenge synchronously.
type ChallengeFunc func(task engine.Task, challenge *engine.Challenge) (engine.Disposition, *engine.Credential)

// ChallengeHandler answers a task challenge by calling complete exactly once,
// possibly from another goroutine.
type ChallengeHandler func(task engine.Task, challenge *engine.Challenge, complete func(engine.Disposition, *engine.Credential))

// SessionChallengeFunc answers a challenge that no task owns.
type SessionChallengeFunc func(challenge *engine.Challenge) (engine.Disposition, *engine.Credential)

// SessionChallengeHandler is the completion form of SessionChallengeFunc.
type SessionChallengeHandler func(challenge *engine.Challenge, complete func(engine.Disposition, *engine.Credential))

// RedirectFunc returns the request to follow, or nil to stop redirecting.
type RedirectFunc func(task engine.Task, response *http.Response, next *http.Request) *http.Request

// RedirectHandler is the completion form of RedirectFunc.
type RedirectHandler func(task engine.Task, response *http.Response, next *http.Request, complete func(*http.Request))

// override is the one shape every overridable event takes internally: the
// caller receives the arguments and a completion.
type override[A, R any] func(args A, complete func(R))

type challengeArgs struct {
	task      engine.Task
	challenge *engine.Challenge
}

type redirectArgs struct {
	task     engine.Task
	response *http.Response
	next     *http.Request
}

type answer struct {
	disposition engine.Disposition
	credential  *engine.Credential
}

// pick prefers the completion form when both are registered.
func pick[A, R any](async override[A, R], sync func(A) R) override[A, R] {
	if async != nil {
		return async
	}
	if sync == nil {
		return nil
	}
	return func(args A, complete func(R)) { complete(sync(args)) }
}

func challengeOverride(async ChallengeHandler, sync ChallengeFunc) override[challengeArgs, answer] {
	var a override[challengeArgs, answer]
	if async != nil {
		a = func(args challengeArgs, complete func(answer)) {
			async(args.task, args.challenge, func(d engine.Disposition, c *engine.Credential) { complete(answer{d, c}) })
		}
	}
	var s func(challengeArgs) answer
	if sync != nil {
		s = func(args challengeArgs) answer {
			d, c := sync(args.task, args.challenge)
			return answer{d, c}
		}
	}
	return pick(a, s)
}

func redirectOverride(async RedirectHandler, sync RedirectFunc) override[redirectArgs, *http.Request] {
	var a override[redirectArgs, *http.Request]
	if async != nil {
		a = func(args redirectArgs, complete func(*http.Request)) {
			async(args.task, args.response, args.next, complete)
		}
	}
	var s func(redirectArgs) *http.Request
	if sync != nil {
		s = func(args redirectArgs) *http.Request { return sync(args.task, args.response, args.next) }
	}
	return pick(a, s)
}

// overrides is the session-wide override table. It is filled by options and
// never modified after New returns.
type overrides struct {
	sessionChallengeSync  SessionChallengeFunc
	sessionChallengeAsync SessionChallengeHandler
	taskChallengeSync     ChallengeFunc
	taskChallengeAsync    ChallengeHandler
	redirectSync          RedirectFunc
	redirectAsync         RedirectHandler

	response          func(task engine.Task, response *http.Response)
	data              func(task engine.Task, data []byte)
	sendBodyData      func(task engine.Task, bytesSent, totalBytesSent, totalBytesExpectedToSend int64)
	writeData         func(task engine.Task, bytesWritten, totalBytesWritten, totalBytesExpectedToWrite int64)
	resumeAtOffset    func(task engine.Task, fileOffset, expectedTotalBytes int64)
	finishDownloading func(task engine.Task, location string)
	becomeDownload    func(dataTask engine.Task, downloadTask engine.DownloadTask)
	taskCompleted     func(task engine.Task, err error)

	// resolved in New
	sessionChallenge override[*engine.Challenge, answer]
	taskChallenge    override[challengeArgs, answer]
	redirect         override[redirectArgs, *http.Request]
}

func (o *overrides) resolve() {
	var async override[*engine.Challenge, answer]
	if o.sessionChallengeAsync != nil {
		h := o.sessionChallengeAsync
		async = func(ch *engine.Challenge, complete func(answer)) {
			h(ch, func(d engine.Disposition, c *engine.Credential) { complete(answer{d, c}) })
		}
	}
	var sync func(*engine.Challenge) answer
	if o.sessionChallengeSync != nil {
		f := o.sessionChallengeSync
		sync = func(ch *engine.Challenge) answer {
			d, c := f(ch)
			return answer{d, c}
		}
	}
	o.sessionChallenge = pick(async, sync)
	o.taskChallenge = challengeOverride(o.taskChallengeAsync, o.taskChallengeSync)
	o.redirect = redirectOverride(o.redirectAsync, o.redirectSync)
}
