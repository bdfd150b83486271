package session

import (
	"fmt"
	"mime"
	"net/http"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// Validation inspects a finished transfer. A non-nil error fails the
// request even though the transfer itself succeeded. data is nil for
// downloads and streamed requests.
type Validation func(req *http.Request, resp *http.Response, data []byte) error

// Validate defers v until the transfer ends. Validations run in the order
// they were added, only while no error is recorded and a response exists.
func (r *Request) Validate(v Validation) *Request {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.validations = append(r.validations, func() {
		resp := r.HTTPResponse()
		d := r.currentDelegate()
		if resp == nil || d.core().recordedError() != nil {
			return
		}
		if err := v(r.HTTPRequest(), resp, d.responseData()); err != nil {
			d.core().setError(err)
		}
	})
	return r
}

func (r *Request) runValidations() {
	r.mu.Lock()
	validations := append([]func(){}, r.validations...)
	r.mu.Unlock()
	for _, v := range validations {
		v()
	}
}

// ValidateStatus accepts only the given status codes.
func (r *Request) ValidateStatus(codes ...int) *Request {
	return r.Validate(func(_ *http.Request, resp *http.Response, _ []byte) error {
		for _, code := range codes {
			if resp.StatusCode == code {
				return nil
			}
		}
		return &ValidationError{Reason: ReasonUnacceptableStatusCode, StatusCode: resp.StatusCode}
	})
}

// ValidateStatusRange accepts status codes in [lo, hi].
func (r *Request) ValidateStatusRange(lo, hi int) *Request {
	return r.Validate(func(_ *http.Request, resp *http.Response, _ []byte) error {
		if resp.StatusCode < lo || resp.StatusCode > hi {
			return &ValidationError{Reason: ReasonUnacceptableStatusCode, StatusCode: resp.StatusCode}
		}
		return nil
	})
}

// ValidateContentType accepts responses whose media type matches one of
// types. Wildcards like "text/*" and "*/*" are allowed. Responses without a
// body are accepted.
func (r *Request) ValidateContentType(types ...string) *Request {
	return r.Validate(func(_ *http.Request, resp *http.Response, data []byte) error {
		if resp.StatusCode == http.StatusNoContent || resp.StatusCode == http.StatusResetContent {
			return nil
		}
		header := resp.Header.Get("Content-Type")
		if header == "" {
			if len(data) == 0 {
				return nil
			}
			return &ValidationError{Reason: ReasonMissingContentType, StatusCode: resp.StatusCode}
		}
		mediaType, _, err := mime.ParseMediaType(header)
		if err != nil {
			return &ValidationError{Reason: ReasonUnacceptableContentType, StatusCode: resp.StatusCode, Detail: header}
		}
		for _, acceptable := range types {
			if mediaTypeMatches(acceptable, mediaType) {
				return nil
			}
		}
		return &ValidationError{Reason: ReasonUnacceptableContentType, StatusCode: resp.StatusCode, Detail: mediaType}
	})
}

// ValidateDefault accepts 2xx responses whose content type matches the
// request's Accept header.
func (r *Request) ValidateDefault() *Request {
	r.ValidateStatusRange(200, 299)
	var accept []string
	if req := r.HTTPRequest(); req != nil {
		for _, part := range strings.Split(req.Header.Get("Accept"), ",") {
			if mt := strings.TrimSpace(strings.SplitN(part, ";", 2)[0]); mt != "" {
				accept = append(accept, mt)
			}
		}
	}
	if len(accept) == 0 {
		accept = []string{"*/*"}
	}
	return r.ValidateContentType(accept...)
}

// ValidateJSONSchema checks the response body against a JSON schema.
func (r *Request) ValidateJSONSchema(schema string) *Request {
	loader := gojsonschema.NewStringLoader(schema)
	return r.Validate(func(_ *http.Request, resp *http.Response, data []byte) error {
		result, err := gojsonschema.Validate(loader, gojsonschema.NewBytesLoader(data))
		if err != nil {
			return &ValidationError{Reason: ReasonSchemaMismatch, StatusCode: resp.StatusCode, Detail: err.Error()}
		}
		if result.Valid() {
			return nil
		}
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return &ValidationError{
			Reason:     ReasonSchemaMismatch,
			StatusCode: resp.StatusCode,
			Detail:     strings.Join(msgs, "; "),
		}
	})
}

func mediaTypeMatches(acceptable, actual string) bool {
	if acceptable == "*/*" || acceptable == "*" {
		return true
	}
	aType, aSub, ok := strings.Cut(acceptable, "/")
	if !ok {
		return false
	}
	mainType, sub, ok := strings.Cut(actual, "/")
	if !ok {
		return false
	}
	return (aType == "*" || strings.EqualFold(aType, mainType)) &&
		(aSub == "*" || strings.EqualFold(aSub, sub))
}

// StatusError is a convenience for custom validations.
func StatusError(resp *http.Response, format string, args ...any) error {
	err := &ValidationError{Reason: ReasonCustom, Detail: fmt.Sprintf(format, args...)}
	if resp != nil {
		err.StatusCode = resp.StatusCode
	}
	return err
}
