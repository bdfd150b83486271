package session

import (
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"github.com/abdul-hamid-achik/courier/packages/engine"
)

const curlUnavailable = "$ curl command could not be created"

// CURL renders the request as a cURL command for debugging. Credentials come
// from the session's credential storage, falling back to the credential
// attached to the request. Cookies are included when the engine exposes a
// cookie jar.
func (r *Request) CURL() string {
	req := r.HTTPRequest()
	if req == nil || req.URL == nil || req.URL.Hostname() == "" {
		return curlUnavailable
	}
	u := req.URL

	components := []string{"$ curl -v"}
	if req.Method != "" && req.Method != http.MethodGet {
		components = append(components, "-X "+req.Method)
	}

	for _, c := range r.curlCredentials() {
		components = append(components, fmt.Sprintf("-u %s:%s", c.User, c.Password))
	}

	if jarred, ok := r.session.engine.(interface{ CookieJar() http.CookieJar }); ok {
		if jar := jarred.CookieJar(); jar != nil {
			if cookies := jar.Cookies(u); len(cookies) > 0 {
				pairs := make([]string, 0, len(cookies))
				for _, c := range cookies {
					pairs = append(pairs, c.Name+"="+c.Value)
				}
				components = append(components, fmt.Sprintf("-b %q", strings.Join(pairs, ";")))
			}
		}
	}

	headers := make(map[string]string)
	if defaulted, ok := r.session.engine.(interface{ DefaultHeaders() map[string]string }); ok {
		for k, v := range defaulted.DefaultHeaders() {
			headers[http.CanonicalHeaderKey(k)] = v
		}
	}
	for k, v := range req.Header {
		headers[http.CanonicalHeaderKey(k)] = strings.Join(v, ", ")
	}
	delete(headers, "Cookie")
	keys := make([]string, 0, len(headers))
	for k := range headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		components = append(components, fmt.Sprintf("-H \"%s: %s\"", k, strings.ReplaceAll(headers[k], `"`, `\"`)))
	}

	if body := curlBody(req); body != "" {
		escaped := strings.ReplaceAll(body, `\"`, `\\"`)
		escaped = strings.ReplaceAll(escaped, `"`, `\"`)
		components = append(components, fmt.Sprintf("-d \"%s\"", escaped))
	}

	components = append(components, fmt.Sprintf("%q", u.String()))
	return strings.Join(components, " \\\n\t")
}

func (r *Request) curlCredentials() []*engine.Credential {
	var creds []*engine.Credential
	if storage := r.session.credentials; storage != nil {
		u := r.HTTPRequest().URL
		space := engine.ProtectionSpace{
			Host:       u.Hostname(),
			Port:       urlPort(u.Scheme, u.Port()),
			Scheme:     u.Scheme,
			Realm:      u.Hostname(),
			AuthMethod: engine.AuthMethodBasic,
		}
		stored, err := storage.Credentials(space)
		if err != nil {
			r.session.logger.Warn("credential lookup failed", "space", space.String(), "error", err)
		}
		creds = stored
	}
	if len(creds) == 0 {
		if c := r.currentDelegate().core().attachedCredential(); c != nil {
			creds = []*engine.Credential{c}
		}
	}

	usable := creds[:0:0]
	for _, c := range creds {
		if c != nil && c.User != "" {
			usable = append(usable, c)
		}
	}
	return usable
}

func curlBody(req *http.Request) string {
	if req.GetBody == nil {
		return ""
	}
	rc, err := req.GetBody()
	if err != nil || rc == nil {
		return ""
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return ""
	}
	return string(data)
}

func urlPort(scheme, port string) int {
	if p, err := strconv.Atoi(port); err == nil {
		return p
	}
	if scheme == "https" {
		return 443
	}
	return 80
}
