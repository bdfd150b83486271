package http

import (
	"bytes"
	"crypto/md5"
	"encoding/hex"
	"net/http"
	neturl "net/url"
	"strings"
	"testing"
	"time"

	"github.com/abdul-hamid-achik/courier/packages/engine"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseWWWAuthenticate(t *testing.T) {
	tests := []struct {
		name   string
		header string
		want   map[string]string
	}{
		{
			name:   "digest",
			header: `Digest realm="testrealm@host.com", qop="auth", nonce="dcd98b", opaque="5ccc"`,
			want: map[string]string{
				"realm":  "testrealm@host.com",
				"qop":    "auth",
				"nonce":  "dcd98b",
				"opaque": "5ccc",
			},
		},
		{
			name:   "basic",
			header: `Basic realm="api"`,
			want:   map[string]string{"realm": "api"},
		},
		{
			name:   "quoted commas and escapes",
			header: `Digest realm="a, b", qop="auth,auth-int", nonce="x\"y", algorithm=MD5`,
			want: map[string]string{
				"realm":     "a, b",
				"qop":       "auth,auth-int",
				"nonce":     `x"y`,
				"algorithm": "MD5",
			},
		},
		{
			name:   "no scheme",
			header: `realm="api", nonce="n"`,
			want:   map[string]string{"realm": "api", "nonce": "n"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseWWWAuthenticate(tt.header))
		})
	}
}

func TestDigestResponse(t *testing.T) {
	tests := []struct {
		name   string
		digest Digest
		want   string
	}{
		{
			// RFC 2617 section 3.5
			name: "md5 auth",
			digest: Digest{
				User: "Mufasa", Password: "Circle Of Life", Realm: "testrealm@host.com",
				Nonce: "dcd98b7102dd2f0e8b11d0f600bfb0c093", URI: "/dir/index.html",
				Qop: "auth", NC: 1, CNonce: "0a4f113b", Method: "GET",
			},
			want: "6629fae49393a05397450978507c4ef1",
		},
		{
			// RFC 7616 section 3.9.1
			name: "sha-256 auth",
			digest: Digest{
				User: "Mufasa", Password: "Circle of Life", Realm: "http-auth@example.org",
				Nonce: "7ypf/xlj9XXwfDPEoM4URrv/xwf94BcCAzFZH4GiTo0v", URI: "/dir/index.html",
				Algorithm: "SHA-256", Qop: "auth", NC: 1,
				CNonce: "f2/wE4q74E6zIJEtWaHKaf5wv/H5QzzpXusqGemxURZJ", Method: "GET",
			},
			want: "753927fa0e85d155564e2e272a28d1802ca10daf4496794697cf8db5856cb6c1",
		},
		{
			name: "no qop",
			digest: Digest{
				User: "u", Password: "p", Realm: "r", Nonce: "n", URI: "/", Method: "GET",
			},
			want: md5Hex(md5Hex("u:r:p") + ":n:" + md5Hex("GET:/")),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.digest.Response())
		})
	}
}

func md5Hex(s string) string {
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}

func TestNewDigest(t *testing.T) {
	req, err := http.NewRequest(http.MethodGet, "https://api.example.com/private?x=1", nil)
	require.NoError(t, err)

	d, err := NewDigest(map[string]string{
		"realm": "api", "nonce": "n1", "qop": "auth-int, auth", "opaque": "o",
	}, "ada", "secret", req, 2)
	require.NoError(t, err)
	assert.Equal(t, "auth", d.Qop)
	assert.Equal(t, "/private?x=1", d.URI)
	assert.Len(t, d.CNonce, 16)

	header := d.Header()
	assert.True(t, strings.HasPrefix(header, "Digest "))
	params := ParseWWWAuthenticate(header)
	assert.Equal(t, "ada", params["username"])
	assert.Equal(t, "00000002", params["nc"])
	assert.Equal(t, "o", params["opaque"])
	assert.Equal(t, d.Response(), params["response"])

	_, err = NewDigest(map[string]string{"realm": "api"}, "ada", "secret", req, 1)
	assert.Error(t, err)
	_, err = NewDigest(map[string]string{"nonce": "n", "algorithm": "SHA-512"}, "ada", "secret", req, 1)
	assert.Error(t, err)
	_, err = NewDigest(map[string]string{"nonce": "n", "qop": "auth-int"}, "ada", "secret", req, 1)
	assert.Error(t, err)
}

func TestParseChallenge(t *testing.T) {
	req, err := http.NewRequest(http.MethodGet, "https://api.example.com/private", nil)
	require.NoError(t, err)

	tests := []struct {
		name   string
		header string
		ok     bool
		method engine.AuthMethod
	}{
		{"basic", `Basic realm="api"`, true, engine.AuthMethodBasic},
		{"digest", `Digest realm="api", nonce="n"`, true, engine.AuthMethodDigest},
		{"bearer is not surfaced", `Bearer realm="api"`, false, ""},
		{"missing header", "", false, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := &http.Response{StatusCode: 401, Header: http.Header{}, Request: req}
			if tt.header != "" {
				resp.Header.Set("WWW-Authenticate", tt.header)
			}
			ch, ok := parseChallenge(resp, 2)
			assert.Equal(t, tt.ok, ok)
			if !ok {
				return
			}
			assert.Equal(t, tt.method, ch.ProtectionSpace.AuthMethod)
			assert.Equal(t, "api.example.com", ch.ProtectionSpace.Host)
			assert.Equal(t, 443, ch.ProtectionSpace.Port)
			assert.Equal(t, "api", ch.ProtectionSpace.Realm)
			assert.Equal(t, 2, ch.PreviousFailureCount)
		})
	}
}

func TestAWSSigner_Adapt(t *testing.T) {
	signer := &AWSSigner{
		AccessKey: "AKIDEXAMPLE",
		SecretKey: "secret",
		Region:    "us-east-1",
		Service:   "s3",
		Now: func() time.Time {
			return time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
		},
	}

	req, err := http.NewRequest(http.MethodPut, "https://bucket.s3.amazonaws.com/key?b=2&a=1", bytes.NewReader([]byte("payload")))
	require.NoError(t, err)

	signed, err := signer.Adapt(req)
	require.NoError(t, err)

	auth := signed.Header.Get("Authorization")
	assert.True(t, strings.HasPrefix(auth, "AWS4-HMAC-SHA256 Credential=AKIDEXAMPLE/20240102/us-east-1/s3/aws4_request"))
	assert.Contains(t, auth, "SignedHeaders=host;x-amz-date")
	assert.Equal(t, "20240102T030405Z", signed.Header.Get("X-Amz-Date"))
	assert.Equal(t, sha256Hash("payload"), signed.Header.Get("X-Amz-Content-Sha256"))
	assert.Empty(t, req.Header.Get("Authorization"), "original request is left untouched")

	again, err := signer.Adapt(req)
	require.NoError(t, err)
	assert.Equal(t, auth, again.Header.Get("Authorization"))
}

func TestAWSSigner_MissingCredentials(t *testing.T) {
	req, err := http.NewRequest(http.MethodGet, "https://example.com", nil)
	require.NoError(t, err)
	_, err = (&AWSSigner{}).Adapt(req)
	assert.Error(t, err)
}

func TestResumeToken(t *testing.T) {
	resp := &http.Response{Header: http.Header{"Etag": {`"v1"`}}}
	token := newResumeToken("http://example.com/file", "/tmp/partial", 1024, resp)
	data, err := token.encode()
	require.NoError(t, err)

	decoded, err := decodeResumeData(data)
	require.NoError(t, err)
	assert.Equal(t, token, decoded)

	req, err := http.NewRequest(http.MethodGet, decoded.URL, nil)
	require.NoError(t, err)
	decoded.apply(req)
	assert.Equal(t, "bytes=1024-", req.Header.Get("Range"))
	assert.Equal(t, `"v1"`, req.Header.Get("If-Range"))

	_, err = decodeResumeData([]byte(`{"offset": 3}`))
	assert.ErrorIs(t, err, engine.ErrInvalidResumeData)
}

func TestProtectionSpaceFor(t *testing.T) {
	tests := []struct {
		raw  string
		want engine.ProtectionSpace
	}{
		{"http://example.com/a", engine.ProtectionSpace{Host: "example.com", Port: 80, Scheme: "http", Realm: "r"}},
		{"https://example.com", engine.ProtectionSpace{Host: "example.com", Port: 443, Scheme: "https", Realm: "r"}},
		{"http://127.0.0.1:8080/x", engine.ProtectionSpace{Host: "127.0.0.1", Port: 8080, Scheme: "http", Realm: "r"}},
	}

	for _, tt := range tests {
		u, err := neturl.Parse(tt.raw)
		require.NoError(t, err)
		assert.Equal(t, tt.want, ProtectionSpaceFor(u, "r"), tt.raw)
	}
}
