// Package template loads request templates from YAML files.
//
// A template describes one request with {{placeholders}} that are resolved
// when it is built:
//
//	method: POST
//	url: https://{{host}}/users
//	headers:
//	  X-Request-Id: "{{uuid()}}"
//	json:
//	  name: ada
//	expect:
//	  status: [201]
package template

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/abdul-hamid-achik/courier/packages/core/env"
	courierhttp "github.com/abdul-hamid-achik/courier/packages/http"
	"github.com/abdul-hamid-achik/courier/packages/multipart"
)

// Template is a request description as written in a file.
type Template struct {
	Name    string            `yaml:"name,omitempty"`
	Method  string            `yaml:"method,omitempty"`
	URL     string            `yaml:"url"`
	Headers map[string]string `yaml:"headers,omitempty"`
	Query   map[string]string `yaml:"query,omitempty"`

	// At most one body kind may be set
	Body      string            `yaml:"body,omitempty"`
	JSON      any               `yaml:"json,omitempty"`
	Form      map[string]string `yaml:"form,omitempty"`
	Multipart *Multipart        `yaml:"multipart,omitempty"`

	Auth   *Auth   `yaml:"auth,omitempty"`
	Expect *Expect `yaml:"expect,omitempty"`

	// Download saves the response into this directory
	Download string `yaml:"download,omitempty"`
}

type Multipart struct {
	Fields map[string]string `yaml:"fields,omitempty"`
	// Files maps field names to paths relative to the template
	Files map[string]string `yaml:"files,omitempty"`
}

// Auth holds credentials. Basic credentials answer challenges, a bearer
// token is sent up front.
type Auth struct {
	User     string `yaml:"user,omitempty"`
	Password string `yaml:"password,omitempty"`
	Bearer   string `yaml:"bearer,omitempty"`
}

// Expect lists validations applied to the response.
type Expect struct {
	Status      []int    `yaml:"status,omitempty"`
	ContentType []string `yaml:"contentType,omitempty"`
	// Schema is a JSON schema file the body must satisfy
	Schema string `yaml:"schema,omitempty"`
}

// Built is a resolved template ready to hand to a session.
type Built struct {
	Request *courierhttp.Request
	// Form is set for multipart templates and is sent as an upload
	Form     *multipart.Form
	User     string
	Password string
	Expect   Expect
	Download string
}

// Load reads a template file.
func Load(path string) (*Template, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	t, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return t, nil
}

// Parse decodes and validates a YAML template.
func Parse(data []byte) (*Template, error) {
	var t Template
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("failed to parse template: %w", err)
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return &t, nil
}

func (t *Template) Validate() error {
	if strings.TrimSpace(t.URL) == "" {
		return fmt.Errorf("url is required")
	}
	kinds := 0
	for _, set := range []bool{t.Body != "", t.JSON != nil, len(t.Form) > 0, t.Multipart != nil} {
		if set {
			kinds++
		}
	}
	if kinds > 1 {
		return fmt.Errorf("only one of body, json, form and multipart may be set")
	}
	if t.Auth != nil && t.Auth.Bearer != "" && t.Auth.User != "" {
		return fmt.Errorf("auth takes either user or bearer, not both")
	}
	return nil
}

// Build resolves placeholders with r and produces the request. Relative
// file paths are taken from baseDir.
func (t *Template) Build(r *env.Resolver, baseDir string) (*Built, error) {
	req := courierhttp.NewRequest(strings.ToUpper(r.Resolve(t.Method)), r.Resolve(t.URL))
	for k, v := range r.ResolveAll(t.Headers) {
		req.SetHeader(k, v)
	}
	for k, v := range r.ResolveAll(t.Query) {
		req.SetQueryParam(k, v)
	}

	built := &Built{Request: req, Download: t.Download}
	if t.Expect != nil {
		built.Expect = *t.Expect
		if built.Expect.Schema != "" && !filepath.IsAbs(built.Expect.Schema) {
			built.Expect.Schema = filepath.Join(baseDir, built.Expect.Schema)
		}
	}

	switch {
	case t.Body != "":
		req.SetBody([]byte(r.Resolve(t.Body)))
	case t.JSON != nil:
		data, err := json.Marshal(t.JSON)
		if err != nil {
			return nil, fmt.Errorf("failed to encode json body: %w", err)
		}
		req.SetBody([]byte(r.Resolve(string(data))))
		if _, ok := req.Headers["Content-Type"]; !ok {
			req.SetHeader("Content-Type", "application/json")
		}
	case len(t.Form) > 0:
		values := url.Values{}
		for k, v := range t.Form {
			values.Set(k, r.Resolve(v))
		}
		req.SetBody([]byte(values.Encode()))
		req.SetHeader("Content-Type", "application/x-www-form-urlencoded")
	case t.Multipart != nil:
		form := multipart.NewForm()
		form.BaseDir = baseDir
		for _, k := range sortedKeys(t.Multipart.Fields) {
			form.AddField(k, r.Resolve(t.Multipart.Fields[k]))
		}
		for _, k := range sortedKeys(t.Multipart.Files) {
			form.AddFile(k, r.Resolve(t.Multipart.Files[k]))
		}
		req.SetHeader("Content-Type", form.ContentType())
		built.Form = form
	}

	if req.Method == "" {
		req.Method = "GET"
		if len(req.Body) > 0 || built.Form != nil {
			req.Method = "POST"
		}
	}

	if t.Auth != nil {
		if t.Auth.Bearer != "" {
			req.SetBearerToken(r.Resolve(t.Auth.Bearer))
		}
		built.User = r.Resolve(t.Auth.User)
		built.Password = r.Resolve(t.Auth.Password)
	}

	if err := courierhttp.ValidateURL(req.BuildURL()); err != nil {
		return nil, err
	}
	return built, nil
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
