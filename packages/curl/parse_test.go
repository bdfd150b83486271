package curl

import (
	"bytes"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abdul-hamid-achik/courier/packages/session"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name        string
		cmd         string
		wantMethod  string
		wantURL     string
		wantHeaders map[string]string
		wantBody    string
		wantUser    string
		wantPass    string
	}{
		{
			name:       "simple get",
			cmd:        "curl https://api.example.com/users",
			wantMethod: "GET",
			wantURL:    "https://api.example.com/users",
		},
		{
			name:       "implicit post",
			cmd:        `curl https://api.example.com/users -d '{"name":"ada"}'`,
			wantMethod: "POST",
			wantURL:    "https://api.example.com/users",
			wantBody:   `{"name":"ada"}`,
		},
		{
			name:        "explicit method and headers",
			cmd:         `curl -X put -H "Content-Type: application/json" -H 'X-Trace: abc' https://api.example.com/users/1`,
			wantMethod:  "PUT",
			wantURL:     "https://api.example.com/users/1",
			wantHeaders: map[string]string{"Content-Type": "application/json", "X-Trace": "abc"},
		},
		{
			name:       "basic auth",
			cmd:        "curl -u ada:secret https://api.example.com/private",
			wantMethod: "GET",
			wantURL:    "https://api.example.com/private",
			wantUser:   "ada",
			wantPass:   "secret",
		},
		{
			name:        "cookies, agent and unknown flags",
			cmd:         `curl --compressed -b "a=1" -b "b=2" -A courier/1 --max-time 5 https://api.example.com/`,
			wantMethod:  "GET",
			wantURL:     "https://api.example.com/",
			wantHeaders: map[string]string{"Cookie": "a=1; b=2", "User-Agent": "courier/1"},
		},
		{
			name:       "prompt and continuations",
			cmd:        "$ curl -v \\\n\t-X DELETE \\\n\t\"https://api.example.com/users/1\"",
			wantMethod: "DELETE",
			wantURL:    "https://api.example.com/users/1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd, err := Parse(tt.cmd)
			require.NoError(t, err)
			assert.Equal(t, tt.wantMethod, cmd.Request.Method)
			assert.Equal(t, tt.wantURL, cmd.Request.URL)
			assert.Equal(t, tt.wantBody, string(cmd.Request.Body))
			assert.Equal(t, tt.wantUser, cmd.User)
			assert.Equal(t, tt.wantPass, cmd.Password)
			for k, v := range tt.wantHeaders {
				assert.Equal(t, v, cmd.Request.Headers[k], k)
			}
		})
	}
}

func TestParseFlags(t *testing.T) {
	cmd, err := Parse("curl -k -L -v https://example.com")
	require.NoError(t, err)
	assert.True(t, cmd.Insecure)
	assert.True(t, cmd.FollowRedirects)
	assert.True(t, cmd.Verbose)
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		cmd  string
	}{
		{"empty", ""},
		{"bare curl", "curl"},
		{"no url", "curl -X GET"},
		{"missing header value", "curl https://example.com -H"},
		{"unsupported scheme", "curl ftp://example.com/file"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.cmd)
			assert.Error(t, err)
		})
	}
}

func TestTokenize(t *testing.T) {
	tests := []struct {
		input string
		want  []string
	}{
		{`a b  c`, []string{"a", "b", "c"}},
		{`-H "X: y z"`, []string{"-H", "X: y z"}},
		{`-d '{"a": 1}'`, []string{"-d", `{"a": 1}`}},
		{`-d "say \"hi\""`, []string{"-d", `say "hi"`}},
		{`-d ''`, []string{"-d", ""}},
		{"a \\\n\tb", []string{"a", "b"}},
		{`'back\slash'`, []string{`back\slash`}},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, tokenize(tt.input), tt.input)
	}
}

func TestParseReadsRequestCURL(t *testing.T) {
	s := session.New(session.WithStartRequestsImmediately(false))

	req, err := http.NewRequest(http.MethodPatch, "https://api.example.com/users/7?fields=name", bytes.NewReader([]byte(`{"name":"ada \"the\" first"}`)))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-Id", "42")

	r := s.Request(session.FromHTTP(req))
	r.Authenticate("ada", "secret")

	cmd, err := Parse(r.CURL())
	require.NoError(t, err)
	assert.Equal(t, http.MethodPatch, cmd.Request.Method)
	assert.Equal(t, "https://api.example.com/users/7?fields=name", cmd.Request.URL)
	assert.Equal(t, `{"name":"ada \"the\" first"}`, string(cmd.Request.Body))
	assert.Equal(t, "application/json", cmd.Request.Headers["Content-Type"])
	assert.Equal(t, "42", cmd.Request.Headers["X-Request-Id"])
	assert.Equal(t, "ada", cmd.User)
	assert.Equal(t, "secret", cmd.Password)
	assert.True(t, cmd.Verbose)
}
