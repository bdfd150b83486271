package session

import (
	"sync"

	"github.com/abdul-hamid-achik/courier/packages/engine"
)

// taskCompleted runs the completion pipeline for a task the engine reports
// as finished: validations, effective error, retry decision, then either
// resubmission or finalize.
func (s *Session) taskCompleted(task engine.Task, err error) {
	r, ok := s.registry.Lookup(task.ID())
	if !ok {
		if s.overrides.taskCompleted != nil {
			s.overrides.taskCompleted(task, err)
		}
		return
	}

	r.runValidations()
	if recorded := r.currentDelegate().core().recordedError(); recorded != nil {
		err = recorded
	}

	if err == nil || s.retrier == nil {
		s.finalize(r, task, err)
		return
	}

	var once sync.Once
	completion := func(decision RetryDecision) {
		handled := false
		once.Do(func() {
			handled = true
			s.retryDecided(r, task, err, decision)
		})
		if !handled {
			s.logger.Warn("duplicate retry decision ignored", r.logAttrs()...)
		}
	}
	go s.retrier.Should(r, err, completion)
}

func (s *Session) retryDecided(r *Request, task engine.Task, err error, decision RetryDecision) {
	if !decision.Retry {
		s.logger.Debug("retry declined", append(r.logAttrs(), "error", err)...)
		s.finalize(r, task, err)
		return
	}

	s.notify(func(o Observer) { o.RequestRetrying(r, err, decision.Delay) })
	if decision.Delay <= 0 {
		s.resubmit(r, task, err)
		return
	}
	s.clock.AfterFunc(decision.Delay, func() { s.resubmit(r, task, err) })
}

// resubmit creates a new task for r. On success the registry is re-keyed to
// the new task id and the new attempt re-enters the pipeline when it ends.
// On failure r is finalized with the error that caused the retry.
func (s *Session) resubmit(r *Request, old engine.Task, err error) {
	if r.isCancelled() {
		s.finalize(r, old, engine.ErrCancelled)
		return
	}

	task, submitErr := s.makeTask(r.spec)
	if submitErr != nil {
		s.logger.Warn("retry submission failed", append(r.logAttrs(), "error", submitErr)...)
		s.finalize(r, old, err)
		return
	}

	r.prepareRetry(task)
	s.registry.Replace(old.ID(), task.ID(), r)
	if r.publishRetry(task) {
		// cancelled while the task was being created
		r.currentDelegate().core().setError(engine.ErrCancelled)
		task.Cancel()
		return
	}
	s.logger.Info("request resubmitted",
		append(r.logAttrs(), "old_task", old.ID(), "task", task.ID(), "retry", r.RetryCount())...)
	task.Resume()
}

// finalize fixes the outcome of r: the task completed override runs, the
// delegate records err and releases queued handlers, and the task id is
// unregistered.
func (s *Session) finalize(r *Request, task engine.Task, err error) {
	if s.overrides.taskCompleted != nil {
		s.overrides.taskCompleted(task, err)
	}
	if r.currentDelegate().core().complete(err) {
		final := r.currentDelegate().core().recordedError()
		s.notify(func(o Observer) { o.RequestCompleted(r, final) })
	}
	s.registry.Unregister(task.ID())
}

// finalizeUnsubmitted settles a request that never obtained a task.
func (s *Session) finalizeUnsubmitted(r *Request) {
	if r.currentDelegate().core().complete(nil) {
		err := r.currentDelegate().core().recordedError()
		s.notify(func(o Observer) { o.RequestCompleted(r, err) })
	}
}
