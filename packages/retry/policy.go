// Package retry provides Retrier implementations for courier sessions.
//
// A Policy decides from the failure and the request whether another attempt
// is worthwhile, and how long to wait before it. A Budget caps the rate of
// retries across every request sharing it.
package retry

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"net"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/abdul-hamid-achik/courier/packages/core/logging"
	"github.com/abdul-hamid-achik/courier/packages/engine"
	"github.com/abdul-hamid-achik/courier/packages/session"
)

const (
	// DefaultMaxRetries is the number of resubmissions a Policy allows
	DefaultMaxRetries = 2
	// DefaultDelay is the wait before the first retry
	DefaultDelay = 500 * time.Millisecond
	// DefaultMaxDelay caps exponential backoff
	DefaultMaxDelay = 30 * time.Second
)

// Backoff selects how the delay grows between attempts.
type Backoff string

const (
	BackoffFixed       Backoff = "fixed"
	BackoffExponential Backoff = "exponential"
)

// DefaultStatuses are the status codes worth retrying.
var DefaultStatuses = []int{
	http.StatusRequestTimeout,
	http.StatusTooManyRequests,
	http.StatusBadGateway,
	http.StatusServiceUnavailable,
	http.StatusGatewayTimeout,
}

// IdempotentMethods may be sent more than once without side effects.
var IdempotentMethods = []string{
	http.MethodGet,
	http.MethodHead,
	http.MethodOptions,
	http.MethodPut,
	http.MethodDelete,
	http.MethodTrace,
}

// Policy is a session.Retrier driven by attempt count, failure kind and
// request method.
type Policy struct {
	MaxRetries int
	Delay      time.Duration
	Backoff    Backoff
	MaxDelay   time.Duration
	// Statuses lists the response codes that justify another attempt
	Statuses []int
	// Methods lists the request methods that may be resent
	Methods []string
	// Budget, when set, spreads retries out over time
	Budget *Budget
	Logger *slog.Logger
}

// NewPolicy returns a policy with the default statuses and idempotent
// methods.
func NewPolicy(maxRetries int, delay time.Duration, backoff Backoff) *Policy {
	return &Policy{
		MaxRetries: maxRetries,
		Delay:      delay,
		Backoff:    backoff,
		MaxDelay:   DefaultMaxDelay,
		Statuses:   DefaultStatuses,
		Methods:    IdempotentMethods,
	}
}

// DefaultPolicy retries idempotent requests twice with exponential backoff.
func DefaultPolicy() *Policy {
	return NewPolicy(DefaultMaxRetries, DefaultDelay, BackoffExponential)
}

var _ session.Retrier = (*Policy)(nil)

// Should implements session.Retrier.
func (p *Policy) Should(req *session.Request, err error, completion func(session.RetryDecision)) {
	method := http.MethodGet
	if r := req.HTTPRequest(); r != nil && r.Method != "" {
		method = r.Method
	}
	status := 0
	if resp := req.HTTPResponse(); resp != nil {
		status = resp.StatusCode
	}

	retry, delay := p.Decide(method, status, req.RetryCount(), err)
	if retry && p.Budget != nil {
		retry, delay = p.Budget.Reserve(delay)
	}
	p.logger().Debug("retry decision",
		"request", req.ID().String(),
		"retry", retry,
		"delay", delay,
		"attempt", req.RetryCount()+1,
		"error", err,
	)
	completion(session.RetryDecision{Retry: retry, Delay: delay})
}

// Decide reports whether a request that has already been retried retries
// times should be tried again after failing with err, and the delay before
// that attempt.
func (p *Policy) Decide(method string, status, retries int, err error) (bool, time.Duration) {
	if err == nil || retries >= p.MaxRetries {
		return false, 0
	}
	if !p.methodAllowed(method) || !p.retryable(status, err) {
		return false, 0
	}
	return true, p.delay(retries)
}

func (p *Policy) methodAllowed(method string) bool {
	if len(p.Methods) == 0 {
		return true
	}
	return slices.ContainsFunc(p.Methods, func(m string) bool { return strings.EqualFold(m, method) })
}

func (p *Policy) retryable(status int, err error) bool {
	var adaptErr *session.AdaptError
	switch {
	case errors.Is(err, engine.ErrCancelled),
		errors.Is(err, engine.ErrChallengeCancelled),
		errors.Is(err, engine.ErrServerTrust),
		errors.Is(err, engine.ErrTooManyRedirects),
		errors.Is(err, engine.ErrInvalidResumeData),
		errors.Is(err, context.Canceled),
		errors.As(err, &adaptErr):
		return false
	}

	var validationErr *session.ValidationError
	if errors.As(err, &validationErr) {
		if validationErr.Reason != session.ReasonUnacceptableStatusCode {
			return false
		}
		if validationErr.StatusCode != 0 {
			status = validationErr.StatusCode
		}
		return slices.Contains(p.Statuses, status)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	// Anything else came from the transport without a typed cause, such as
	// a reset connection or an unexpected EOF.
	return true
}

// delay returns the wait before retry number retries+1.
func (p *Policy) delay(retries int) time.Duration {
	d := p.Delay
	if p.Backoff == BackoffExponential {
		d = time.Duration(float64(p.Delay) * math.Pow(2, float64(retries)))
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	return d
}

func (p *Policy) logger() *slog.Logger {
	if p.Logger != nil {
		return p.Logger
	}
	return logging.Nop()
}
