package session

import (
	"errors"
	"fmt"
	"net/http"
	"os"

	"github.com/tidwall/gjson"
)

// DefaultResponse is what a Response handler receives.
type DefaultResponse struct {
	Request  *http.Request
	Response *http.Response
	// Data is the accumulated body of data and upload requests
	Data []byte
	// TemporaryPath and DestinationPath are set for downloads
	TemporaryPath   string
	DestinationPath string
	// ResumeData is set for downloads cancelled with resume data
	ResumeData []byte
	Error      error
	Timeline   Timeline
}

// Result is the outcome of serializing a response.
type Result[T any] struct {
	Value T
	Err   error
}

func (r Result[T]) IsSuccess() bool { return r.Err == nil }

func (r Result[T]) IsFailure() bool { return r.Err != nil }

func Success[T any](v T) Result[T] { return Result[T]{Value: v} }

func Failure[T any](err error) Result[T] { return Result[T]{Err: err} }

// DataResponse pairs a serialized Result with the raw exchange.
type DataResponse[T any] struct {
	Request  *http.Request
	Response *http.Response
	Data     []byte
	Result   Result[T]
	Timeline Timeline
}

// Serializer turns the raw outcome of a request into a Result.
type Serializer[T any] func(req *http.Request, resp *http.Response, data []byte, err error) Result[T]

// Response queues handler to run once the request settles, retries
// included. Handlers run one at a time in the order they were added.
func (r *Request) Response(handler func(DefaultResponse)) *Request {
	r.enqueue(func() {
		handler(r.defaultResponse())
	})
	return r
}

func (r *Request) defaultResponse() DefaultResponse {
	d := r.currentDelegate()
	resp := DefaultResponse{
		Request:  r.HTTPRequest(),
		Response: r.HTTPResponse(),
		Data:     d.responseData(),
		Error:    d.core().recordedError(),
	}
	if dl, ok := d.(*downloadDelegate); ok {
		resp.TemporaryPath, resp.DestinationPath = dl.paths()
		resp.ResumeData = dl.currentResumeData()
	}
	resp.Timeline = r.Timeline()
	return resp
}

// ResponseWith queues handler to receive the output of serializer once r
// settles.
func ResponseWith[T any](r *Request, serializer Serializer[T], handler func(DataResponse[T])) *Request {
	r.enqueue(func() {
		raw := r.defaultResponse()
		result := serializer(raw.Request, raw.Response, raw.Data, raw.Error)
		handler(DataResponse[T]{
			Request:  raw.Request,
			Response: raw.Response,
			Data:     raw.Data,
			Result:   result,
			Timeline: r.Timeline(),
		})
	})
	return r
}

// DownloadResponseWith is ResponseWith for downloads: the serializer
// receives the contents of the downloaded file.
func DownloadResponseWith[T any](r *DownloadRequest, serializer Serializer[T], handler func(DataResponse[T])) *DownloadRequest {
	r.enqueue(func() {
		raw := r.defaultResponse()
		err := raw.Error
		var data []byte
		if err == nil {
			path := raw.DestinationPath
			if path == "" {
				path = raw.TemporaryPath
			}
			if path == "" {
				err = fmt.Errorf("%w: no downloaded file", ErrNoResponseData)
			} else if data, err = os.ReadFile(path); err != nil {
				err = fmt.Errorf("failed to read downloaded file: %w", err)
			}
		}
		handler(DataResponse[T]{
			Request:  raw.Request,
			Response: raw.Response,
			Data:     data,
			Result:   serializer(raw.Request, raw.Response, data, err),
			Timeline: r.Timeline(),
		})
	})
	return r
}

func emptyBodyStatus(resp *http.Response) bool {
	return resp != nil && (resp.StatusCode == http.StatusNoContent || resp.StatusCode == http.StatusResetContent)
}

// DataSerializer passes the body through. 204 and 205 responses yield an
// empty body; any other empty body is ErrNoResponseData.
func DataSerializer(_ *http.Request, resp *http.Response, data []byte, err error) Result[[]byte] {
	if err != nil {
		return Failure[[]byte](err)
	}
	if emptyBodyStatus(resp) {
		return Success([]byte{})
	}
	if len(data) == 0 {
		return Failure[[]byte](ErrNoResponseData)
	}
	return Success(data)
}

// StringSerializer returns the body as a string.
func StringSerializer(req *http.Request, resp *http.Response, data []byte, err error) Result[string] {
	raw := DataSerializer(req, resp, data, err)
	if raw.IsFailure() {
		return Failure[string](raw.Err)
	}
	return Success(string(raw.Value))
}

// JSONSerializer parses the body with gjson. 204 and 205 responses yield an
// empty result.
func JSONSerializer(req *http.Request, resp *http.Response, data []byte, err error) Result[gjson.Result] {
	raw := DataSerializer(req, resp, data, err)
	if raw.IsFailure() {
		return Failure[gjson.Result](raw.Err)
	}
	if len(raw.Value) == 0 {
		return Success(gjson.Result{})
	}
	if !gjson.ValidBytes(raw.Value) {
		return Failure[gjson.Result](&SerializationError{Err: errors.New("invalid JSON")})
	}
	return Success(gjson.ParseBytes(raw.Value))
}

// ResponseData is ResponseWith using DataSerializer.
func (r *DataRequest) ResponseData(handler func(DataResponse[[]byte])) *DataRequest {
	ResponseWith(r.Request, DataSerializer, handler)
	return r
}

// ResponseString is ResponseWith using StringSerializer.
func (r *DataRequest) ResponseString(handler func(DataResponse[string])) *DataRequest {
	ResponseWith(r.Request, StringSerializer, handler)
	return r
}

// ResponseJSON is ResponseWith using JSONSerializer.
func (r *DataRequest) ResponseJSON(handler func(DataResponse[gjson.Result])) *DataRequest {
	ResponseWith(r.Request, JSONSerializer, handler)
	return r
}
