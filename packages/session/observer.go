package session

import (
	"log/slog"
	"time"
)

// Observer is notified of lifecycle changes of every request in a session.
// Methods are called synchronously and must not block.
type Observer interface {
	RequestResumed(r *Request)
	RequestSuspended(r *Request)
	RequestCancelled(r *Request)
	RequestRetrying(r *Request, err error, delay time.Duration)
	RequestCompleted(r *Request, err error)
}

// LogObserver logs lifecycle changes.
type LogObserver struct {
	Logger *slog.Logger
}

func (o LogObserver) RequestResumed(r *Request) {
	o.Logger.Debug("request resumed", r.logAttrs()...)
}

func (o LogObserver) RequestSuspended(r *Request) {
	o.Logger.Debug("request suspended", r.logAttrs()...)
}

func (o LogObserver) RequestCancelled(r *Request) {
	o.Logger.Info("request cancelled", r.logAttrs()...)
}

func (o LogObserver) RequestRetrying(r *Request, err error, delay time.Duration) {
	o.Logger.Info("retrying request", append(r.logAttrs(), "error", err, "delay", delay)...)
}

func (o LogObserver) RequestCompleted(r *Request, err error) {
	attrs := append(r.logAttrs(), "duration", r.Timeline().RequestDuration())
	if resp := r.HTTPResponse(); resp != nil {
		attrs = append(attrs, "status", resp.StatusCode)
	}
	if err != nil {
		o.Logger.Warn("request failed", append(attrs, "error", err)...)
		return
	}
	o.Logger.Info("request completed", attrs...)
}
