package session

import (
	"net/http"
	"time"
)

// Adapter transforms an outgoing request immediately before a task is
// created for it. It runs once per submission attempt, retries included, and
// must not modify its argument.
type Adapter interface {
	Adapt(req *http.Request) (*http.Request, error)
}

// AdapterFunc adapts an ordinary function to the Adapter interface.
type AdapterFunc func(req *http.Request) (*http.Request, error)

func (f AdapterFunc) Adapt(req *http.Request) (*http.Request, error) {
	return f(req)
}

// Chain runs adapters in order, feeding each the previous result.
func Chain(adapters ...Adapter) Adapter {
	return AdapterFunc(func(req *http.Request) (*http.Request, error) {
		var err error
		for _, a := range adapters {
			if req, err = a.Adapt(req); err != nil {
				return nil, err
			}
		}
		return req, nil
	})
}

// HeaderAdapter sets fixed headers on every attempt.
type HeaderAdapter map[string]string

func (h HeaderAdapter) Adapt(req *http.Request) (*http.Request, error) {
	adapted := req.Clone(req.Context())
	for k, v := range h {
		adapted.Header.Set(k, v)
	}
	return adapted, nil
}

// RetryDecision is a Retrier's answer for one failure.
type RetryDecision struct {
	Retry bool
	Delay time.Duration
}

// Retrier decides whether a failed request is submitted again. It must call
// completion exactly once, from any goroutine; further calls are ignored.
type Retrier interface {
	Should(req *Request, err error, completion func(RetryDecision))
}

// RetrierFunc adapts an ordinary function to the Retrier interface.
type RetrierFunc func(req *Request, err error, completion func(RetryDecision))

func (f RetrierFunc) Should(req *Request, err error, completion func(RetryDecision)) {
	f(req, err, completion)
}
