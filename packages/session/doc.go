// Package session coordinates the lifecycle of requests issued through an
// engine.Engine.
//
// A Session receives every event the engine reports, routes it to the
// Request that owns the task (or to a caller override registered with
// New), and runs the completion pipeline once a task ends: deferred
// validations, the Retrier, resubmission through the Adapter, and finally
// the release of the response handlers queued on the Request.
//
// Response handlers never run before the outcome of a Request is settled,
// retries included, and they run at most once.
package session
