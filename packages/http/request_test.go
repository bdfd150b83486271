package http

import (
	"context"
	"io"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequest_ToHTTP(t *testing.T) {
	req := NewRequest("post", "https://api.example.com/items").
		SetHeader("Content-Type", "application/json").
		SetQueryParam("page", "2").
		SetBody([]byte(`{"name": "test"}`))

	httpReq, err := req.ToHTTP(context.Background())
	require.NoError(t, err)

	assert.Equal(t, http.MethodPost, httpReq.Method)
	assert.Equal(t, "https://api.example.com/items?page=2", httpReq.URL.String())
	assert.Equal(t, "application/json", httpReq.Header.Get("Content-Type"))
	require.NotNil(t, httpReq.GetBody)

	for i := 0; i < 2; i++ {
		body, err := httpReq.GetBody()
		require.NoError(t, err)
		data, err := io.ReadAll(body)
		require.NoError(t, err)
		assert.Equal(t, `{"name": "test"}`, string(data))
	}
}

func TestRequest_DefaultsToGet(t *testing.T) {
	httpReq, err := NewRequest("", "http://example.com").HTTPRequest()
	require.NoError(t, err)
	assert.Equal(t, http.MethodGet, httpReq.Method)
	assert.Nil(t, httpReq.GetBody)
}

func TestRequest_Auth(t *testing.T) {
	httpReq, err := NewRequest("GET", "http://example.com").SetBasicAuth("user", "pass").HTTPRequest()
	require.NoError(t, err)
	user, pass, ok := httpReq.BasicAuth()
	assert.True(t, ok)
	assert.Equal(t, "user", user)
	assert.Equal(t, "pass", pass)

	httpReq, err = NewRequest("GET", "http://example.com").SetBearerToken("tok").HTTPRequest()
	require.NoError(t, err)
	assert.Equal(t, "Bearer tok", httpReq.Header.Get("Authorization"))
}

func TestRequest_SetForm(t *testing.T) {
	req := NewRequest("POST", "http://example.com").SetForm("name=John+Doe&city=NYC")
	assert.Equal(t, "application/x-www-form-urlencoded", req.Headers["Content-Type"])

	parsed := ParseFormBody(string(req.Body))
	assert.Equal(t, "John Doe", parsed["name"])
	assert.Equal(t, "NYC", parsed["city"])
}

func TestRequest_InvalidURL(t *testing.T) {
	_, err := NewRequest("GET", "file:///etc/passwd").HTTPRequest()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported URL scheme")
}

func TestValidateURL(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		wantErr bool
		errMsg  string
	}{
		{
			name:    "valid http URL",
			url:     "http://example.com/path",
			wantErr: false,
		},
		{
			name:    "valid https URL",
			url:     "https://example.com/path",
			wantErr: false,
		},
		{
			name:    "invalid scheme",
			url:     "ftp://example.com",
			wantErr: true,
			errMsg:  "unsupported URL scheme",
		},
		{
			name:    "missing scheme",
			url:     "example.com/path",
			wantErr: true,
			errMsg:  "unsupported URL scheme",
		},
		{
			name:    "file scheme",
			url:     "file:///etc/passwd",
			wantErr: true,
			errMsg:  "unsupported URL scheme",
		},
		{
			name:    "missing host",
			url:     "http:///path",
			wantErr: true,
			errMsg:  "URL must have a host",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateURL(tt.url)
			if tt.wantErr {
				assert.Error(t, err)
				assert.Contains(t, err.Error(), tt.errMsg)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
