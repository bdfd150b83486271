package http

import (
	"crypto/md5"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"net/http"
	"strings"
)

// Digest answers an HTTP Digest challenge (RFC 7616).
type Digest struct {
	User      string
	Password  string
	Realm     string
	Nonce     string
	Opaque    string
	Algorithm string
	Qop       string
	Method    string
	URI       string
	NC        int
	CNonce    string
}

// NewDigest prepares an answer to the challenge params for req. nc is the
// nonce count, starting at 1.
func NewDigest(params map[string]string, user, password string, req *http.Request, nc int) (*Digest, error) {
	d := &Digest{
		User:      user,
		Password:  password,
		Realm:     params["realm"],
		Nonce:     params["nonce"],
		Opaque:    params["opaque"],
		Algorithm: params["algorithm"],
		Method:    req.Method,
		URI:       req.URL.RequestURI(),
		NC:        nc,
	}
	if d.Nonce == "" {
		return nil, fmt.Errorf("digest challenge without nonce")
	}
	if d.hash() == nil {
		return nil, fmt.Errorf("unsupported digest algorithm: %s", d.Algorithm)
	}

	if qop := params["qop"]; qop != "" {
		for _, option := range strings.Split(qop, ",") {
			if strings.TrimSpace(option) == "auth" {
				d.Qop = "auth"
			}
		}
		if d.Qop == "" {
			return nil, fmt.Errorf("unsupported digest qop: %s", qop)
		}
	}
	if d.Qop != "" || strings.HasSuffix(strings.ToLower(d.Algorithm), "-sess") {
		b := make([]byte, 8)
		if _, err := rand.Read(b); err != nil {
			return nil, err
		}
		d.CNonce = hex.EncodeToString(b)
	}
	return d, nil
}

func (d *Digest) hash() func() hash.Hash {
	switch strings.TrimSuffix(strings.ToUpper(d.Algorithm), "-SESS") {
	case "", "MD5":
		return md5.New
	case "SHA-256":
		return sha256.New
	default:
		return nil
	}
}

func (d *Digest) sum(parts ...string) string {
	h := d.hash()()
	h.Write([]byte(strings.Join(parts, ":")))
	return hex.EncodeToString(h.Sum(nil))
}

// Response is the request digest sent in the response parameter.
func (d *Digest) Response() string {
	ha1 := d.sum(d.User, d.Realm, d.Password)
	if strings.HasSuffix(strings.ToLower(d.Algorithm), "-sess") {
		ha1 = d.sum(ha1, d.Nonce, d.CNonce)
	}
	ha2 := d.sum(d.Method, d.URI)
	if d.Qop == "" {
		return d.sum(ha1, d.Nonce, ha2)
	}
	return d.sum(ha1, d.Nonce, fmt.Sprintf("%08x", d.NC), d.CNonce, d.Qop, ha2)
}

// Header is the Authorization header value.
func (d *Digest) Header() string {
	var b strings.Builder
	fmt.Fprintf(&b, `Digest username="%s", realm="%s", nonce="%s", uri="%s", response="%s"`,
		d.User, d.Realm, d.Nonce, d.URI, d.Response())
	if d.Algorithm != "" {
		fmt.Fprintf(&b, ", algorithm=%s", d.Algorithm)
	}
	if d.Qop != "" {
		fmt.Fprintf(&b, `, qop=%s, nc=%08x, cnonce="%s"`, d.Qop, d.NC, d.CNonce)
	}
	if d.Opaque != "" {
		fmt.Fprintf(&b, `, opaque="%s"`, d.Opaque)
	}
	return b.String()
}

// ParseWWWAuthenticate returns the auth-params of a WWW-Authenticate or
// Authorization header value. The leading scheme is skipped and quoted
// values may contain commas.
func ParseWWWAuthenticate(header string) map[string]string {
	params := make(map[string]string)

	if i := strings.IndexByte(header, ' '); i > 0 && !strings.Contains(header[:i], "=") {
		header = header[i+1:]
	}

	for header != "" {
		header = strings.TrimLeft(header, " ,")
		eq := strings.IndexByte(header, '=')
		if eq < 0 {
			break
		}
		key := strings.ToLower(strings.TrimSpace(header[:eq]))
		header = strings.TrimLeft(header[eq+1:], " ")

		var value string
		if strings.HasPrefix(header, `"`) {
			var b strings.Builder
			i := 1
			for ; i < len(header) && header[i] != '"'; i++ {
				if header[i] == '\\' && i+1 < len(header) {
					i++
				}
				b.WriteByte(header[i])
			}
			value = b.String()
			header = header[min(i+1, len(header)):]
		} else {
			end := strings.IndexByte(header, ',')
			if end < 0 {
				end = len(header)
			}
			value = strings.TrimSpace(header[:end])
			header = header[end:]
		}
		params[key] = value
	}
	return params
}
