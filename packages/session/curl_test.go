package session

import (
	"bytes"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abdul-hamid-achik/courier/packages/engine"
)

func TestCURL(t *testing.T) {
	eng := newFakeEngine()
	s := newTestSession(eng, WithStartRequestsImmediately(false))

	req, err := http.NewRequest(http.MethodPost, "http://example.com/api/users?page=2", bytes.NewReader([]byte(`{"name":"ada \"the\" first"}`)))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Trace", `a "quoted" value`)
	req.Header.Set("Cookie", "ignored=1")

	r := s.Request(FromHTTP(req))
	r.Authenticate("ada", "secret")

	want := strings.Join([]string{
		"$ curl -v",
		"-X POST",
		"-u ada:secret",
		`-H "Content-Type: application/json"`,
		`-H "X-Trace: a \"quoted\" value"`,
		`-d "{\"name\":\"ada \\\"the\\\" first\"}"`,
		`"http://example.com/api/users?page=2"`,
	}, " \\\n\t")
	assert.Equal(t, want, r.CURL())
}

func TestCURLGetOmitsMethod(t *testing.T) {
	eng := newFakeEngine()
	s := newTestSession(eng, WithStartRequestsImmediately(false))

	r := s.Request(mustRequest(t, http.MethodGet, "https://example.com/"))
	assert.Equal(t, "$ curl -v \\\n\t\"https://example.com/\"", r.CURL())
}

func TestCURLUsesCredentialStorage(t *testing.T) {
	eng := newFakeEngine()
	storage := NewMemoryCredentialStorage()
	storage.Set(engine.ProtectionSpace{Host: "example.com", Port: 8080, Scheme: "http"}, engine.NewCredential("stored", "pw"))
	s := newTestSession(eng, WithCredentialStorage(storage), WithStartRequestsImmediately(false))

	r := s.Request(mustRequest(t, http.MethodGet, "http://example.com:8080/reports"))
	r.Authenticate("attached", "pw")

	out := r.CURL()
	assert.Contains(t, out, "-u stored:pw")
	assert.NotContains(t, out, "attached")
}

func TestCURLIncludesCookies(t *testing.T) {
	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	u, err := url.Parse("http://example.com/")
	require.NoError(t, err)
	jar.SetCookies(u, []*http.Cookie{{Name: "session", Value: "abc"}, {Name: "theme", Value: "dark"}})

	eng := newFakeEngine()
	eng.jar = jar
	s := newTestSession(eng, WithStartRequestsImmediately(false))

	r := s.Request(mustRequest(t, http.MethodGet, "http://example.com/account"))
	assert.Contains(t, r.CURL(), `-b "session=abc;theme=dark"`)
}

func TestCURLWithoutRequest(t *testing.T) {
	eng := newFakeEngine()
	s := newTestSession(eng, WithStartRequestsImmediately(false))

	r := s.DownloadResuming(nil, nil)
	assert.Equal(t, "$ curl command could not be created", r.CURL())
}
