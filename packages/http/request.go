package http

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	neturl "net/url"
	"strings"
)

// Request describes an outbound request before it is handed to a session.
type Request struct {
	Method      string
	URL         string
	Headers     map[string]string
	Body        []byte
	QueryParams map[string]string
}

func NewRequest(method, requestURL string) *Request {
	return &Request{
		Method:      method,
		URL:         requestURL,
		Headers:     make(map[string]string),
		QueryParams: make(map[string]string),
	}
}

func (r *Request) SetHeader(key, value string) *Request {
	r.Headers[key] = value
	return r
}

func (r *Request) SetBody(body []byte) *Request {
	r.Body = body
	return r
}

func (r *Request) SetQueryParam(key, value string) *Request {
	r.QueryParams[key] = value
	return r
}

// SetBasicAuth sets a preemptive Basic Authorization header
func (r *Request) SetBasicAuth(user, password string) *Request {
	r.Headers["Authorization"] = BasicAuthorization(user, password)
	return r
}

// SetBearerToken sets a Bearer Authorization header
func (r *Request) SetBearerToken(token string) *Request {
	r.Headers["Authorization"] = "Bearer " + token
	return r
}

// SetForm encodes body as application/x-www-form-urlencoded
func (r *Request) SetForm(body string) *Request {
	values := neturl.Values{}
	for k, v := range ParseFormBody(body) {
		values.Set(k, v)
	}
	r.Body = []byte(values.Encode())
	if r.Headers["Content-Type"] == "" {
		r.Headers["Content-Type"] = "application/x-www-form-urlencoded"
	}
	return r
}

func (r *Request) BuildURL() string {
	if len(r.QueryParams) == 0 {
		return r.URL
	}

	u, err := neturl.Parse(r.URL)
	if err != nil {
		return r.URL
	}

	q := u.Query()
	for k, v := range r.QueryParams {
		q.Set(k, v)
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// HTTPRequest builds the net/http request. The body can be reopened so the
// request survives challenges and retries.
func (r *Request) HTTPRequest() (*http.Request, error) {
	return r.ToHTTP(context.Background())
}

func (r *Request) ToHTTP(ctx context.Context) (*http.Request, error) {
	target := r.BuildURL()
	if err := ValidateURL(target); err != nil {
		return nil, err
	}

	method := strings.ToUpper(r.Method)
	if method == "" {
		method = http.MethodGet
	}

	var body io.Reader
	if len(r.Body) > 0 {
		body = bytes.NewReader(r.Body)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	for k, v := range r.Headers {
		req.Header.Set(k, v)
	}
	return req, nil
}

// ValidateURL checks that the URL is valid and uses http or https scheme
func ValidateURL(rawURL string) error {
	u, err := neturl.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %v", err)
	}

	// Check for valid scheme
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported URL scheme: %s (only http and https are allowed)", u.Scheme)
	}

	// Check for valid host
	if u.Host == "" {
		return fmt.Errorf("URL must have a host")
	}

	return nil
}

func ParseFormBody(body string) map[string]string {
	result := make(map[string]string)
	pairs := strings.Split(body, "&")
	for _, pair := range pairs {
		kv := strings.SplitN(pair, "=", 2)
		if len(kv) == 2 {
			key, _ := neturl.QueryUnescape(kv[0])
			value, _ := neturl.QueryUnescape(kv[1])
			result[key] = value
		}
	}
	return result
}
