package template

import (
	"io"
	"mime"
	"mime/multipart"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abdul-hamid-achik/courier/packages/core/env"
)

func resolver() *env.Resolver {
	r := env.NewResolver()
	r.SetAll(map[string]string{"host": "api.example.com", "token": "t0k", "name": "ada"})
	return r
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"missing url", "method: GET"},
		{"invalid yaml", "url: [unterminated"},
		{"two bodies", "url: http://x\nbody: a\nform:\n  a: b"},
		{"user and bearer", "url: http://x\nauth:\n  user: a\n  bearer: b"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			assert.Error(t, err)
		})
	}
}

func TestBuild(t *testing.T) {
	tests := []struct {
		name        string
		yaml        string
		wantMethod  string
		wantURL     string
		wantBody    string
		wantHeaders map[string]string
	}{
		{
			name:       "get with query",
			yaml:       "url: https://{{host}}/users\nquery:\n  page: \"2\"",
			wantMethod: "GET",
			wantURL:    "https://api.example.com/users?page=2",
		},
		{
			name:        "json body implies post",
			yaml:        "url: https://{{host}}/users\njson:\n  name: \"{{name}}\"\n  admin: true",
			wantMethod:  "POST",
			wantURL:     "https://api.example.com/users",
			wantBody:    `{"admin":true,"name":"ada"}`,
			wantHeaders: map[string]string{"Content-Type": "application/json"},
		},
		{
			name:        "form body",
			yaml:        "method: put\nurl: https://{{host}}/login\nform:\n  user: \"{{name}}\"\n  note: a&b c",
			wantMethod:  "PUT",
			wantURL:     "https://api.example.com/login",
			wantBody:    "note=a%26b+c&user=ada",
			wantHeaders: map[string]string{"Content-Type": "application/x-www-form-urlencoded"},
		},
		{
			name:        "bearer auth and headers",
			yaml:        "url: https://{{host}}/me\nheaders:\n  Accept: application/json\nauth:\n  bearer: \"{{token}}\"",
			wantMethod:  "GET",
			wantURL:     "https://api.example.com/me",
			wantHeaders: map[string]string{"Accept": "application/json", "Authorization": "Bearer t0k"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tmpl, err := Parse([]byte(tt.yaml))
			require.NoError(t, err)

			built, err := tmpl.Build(resolver(), ".")
			require.NoError(t, err)
			assert.Equal(t, tt.wantMethod, built.Request.Method)
			assert.Equal(t, tt.wantURL, built.Request.BuildURL())
			assert.Equal(t, tt.wantBody, string(built.Request.Body))
			for k, v := range tt.wantHeaders {
				assert.Equal(t, v, built.Request.Headers[k], k)
			}
		})
	}
}

func TestBuildBasicAuthAndExpect(t *testing.T) {
	dir := t.TempDir()
	tmpl, err := Parse([]byte("url: https://{{host}}/private\nauth:\n  user: \"{{name}}\"\n  password: pw\nexpect:\n  status: [200, 204]\n  schema: user.schema.json\ndownload: out"))
	require.NoError(t, err)

	built, err := tmpl.Build(resolver(), dir)
	require.NoError(t, err)
	assert.Equal(t, "ada", built.User)
	assert.Equal(t, "pw", built.Password)
	assert.Empty(t, built.Request.Headers["Authorization"])
	assert.Equal(t, []int{200, 204}, built.Expect.Status)
	assert.Equal(t, filepath.Join(dir, "user.schema.json"), built.Expect.Schema)
	assert.Equal(t, "out", built.Download)
}

func TestBuildMultipart(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "avatar.txt"), []byte("pixels"), 0o644))

	tmpl, err := Parse([]byte("url: https://{{host}}/upload\nmultipart:\n  fields:\n    owner: \"{{name}}\"\n  files:\n    avatar: avatar.txt"))
	require.NoError(t, err)

	built, err := tmpl.Build(resolver(), dir)
	require.NoError(t, err)
	require.NotNil(t, built.Form)
	assert.Equal(t, "POST", built.Request.Method)
	assert.Equal(t, built.Form.ContentType(), built.Request.Headers["Content-Type"])

	body, _, err := built.Form.Open()
	require.NoError(t, err)
	defer body.Close()

	_, params, err := mime.ParseMediaType(built.Form.ContentType())
	require.NoError(t, err)
	reader := multipart.NewReader(body, params["boundary"])

	got := map[string]string{}
	for {
		part, err := reader.NextPart()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		data, err := io.ReadAll(part)
		require.NoError(t, err)
		got[part.FormName()] = string(data)
	}
	assert.Equal(t, map[string]string{"owner": "ada", "avatar": "pixels"}, got)
}

func TestBuildRejectsBadURL(t *testing.T) {
	tmpl, err := Parse([]byte("url: ftp://{{host}}/file"))
	require.NoError(t, err)
	_, err = tmpl.Build(resolver(), ".")
	assert.Error(t, err)
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "get.yaml")
	require.NoError(t, os.WriteFile(path, []byte("name: health\nurl: http://localhost/health"), 0o644))

	tmpl, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "health", tmpl.Name)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
