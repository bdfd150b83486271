package engine

import "errors"

var (
	// ErrCancelled is reported as the completion error of a canceled task.
	ErrCancelled = errors.New("task cancelled")
	// ErrTooManyRedirects is reported when a redirect chain exceeds the limit.
	ErrTooManyRedirects = errors.New("too many redirects")
	// ErrChallengeCancelled is reported when a challenge answer cancels the task.
	ErrChallengeCancelled = errors.New("authentication challenge cancelled")
	// ErrServerTrust is reported when a server trust challenge rejects the peer.
	ErrServerTrust = errors.New("server trust evaluation failed")
	// ErrInvalidResumeData is returned for unreadable resume tokens.
	ErrInvalidResumeData = errors.New("invalid resume data")
)
