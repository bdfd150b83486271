package session

import (
	"errors"
	"fmt"
)

// ErrNoResponseData is returned by serializers when the body is empty.
var ErrNoResponseData = errors.New("response data is nil or zero length")

// AdaptError is delivered when the Adapter rejects an outgoing request. The
// engine never sees the request.
type AdaptError struct {
	Err error
}

func (e *AdaptError) Error() string {
	return fmt.Sprintf("request adaptation failed: %v", e.Err)
}

func (e *AdaptError) Unwrap() error {
	return e.Err
}

// ValidationReason names the check a response failed.
type ValidationReason string

const (
	ReasonUnacceptableStatusCode  ValidationReason = "unacceptable status code"
	ReasonUnacceptableContentType ValidationReason = "unacceptable content type"
	ReasonMissingContentType      ValidationReason = "missing content type"
	ReasonSchemaMismatch          ValidationReason = "response does not match schema"
	ReasonCustom                  ValidationReason = "custom validation failed"
)

// ValidationError is recorded when a deferred validation rejects a response.
type ValidationError struct {
	Reason     ValidationReason
	StatusCode int
	Detail     string
}

func (e *ValidationError) Error() string {
	msg := fmt.Sprintf("response validation failed: %s", e.Reason)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

// SerializationError wraps a failure to decode a response body.
type SerializationError struct {
	Err error
}

func (e *SerializationError) Error() string {
	return fmt.Sprintf("response serialization failed: %v", e.Err)
}

func (e *SerializationError) Unwrap() error {
	return e.Err
}
