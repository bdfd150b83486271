package http

import (
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/abdul-hamid-achik/courier/packages/engine"
)

// parseChallenge turns a 401 response into a task challenge. Only Basic and
// Digest schemes are surfaced.
func parseChallenge(resp *http.Response, failures int) (*engine.Challenge, bool) {
	header := resp.Header.Get("WWW-Authenticate")
	if header == "" {
		return nil, false
	}

	var method engine.AuthMethod
	switch scheme := strings.ToLower(strings.SplitN(header, " ", 2)[0]); scheme {
	case "basic":
		method = engine.AuthMethodBasic
	case "digest":
		method = engine.AuthMethodDigest
	default:
		return nil, false
	}

	params := ParseWWWAuthenticate(header)
	space := ProtectionSpaceFor(resp.Request.URL, params["realm"])
	space.AuthMethod = method

	return &engine.Challenge{
		ProtectionSpace:      space,
		PreviousFailureCount: failures,
		Params:               params,
	}, true
}

// authorizationFor builds the Authorization header answering challenge.
func authorizationFor(challenge *engine.Challenge, credential *engine.Credential, req *http.Request) (string, error) {
	switch challenge.ProtectionSpace.AuthMethod {
	case engine.AuthMethodBasic:
		return BasicAuthorization(credential.User, credential.Password), nil
	case engine.AuthMethodDigest:
		d, err := NewDigest(challenge.Params, credential.User, credential.Password, req, challenge.PreviousFailureCount+1)
		if err != nil {
			return "", err
		}
		return d.Header(), nil
	default:
		return "", fmt.Errorf("unsupported challenge method: %s", challenge.ProtectionSpace.AuthMethod)
	}
}

// BasicAuthorization returns the value of a Basic Authorization header.
func BasicAuthorization(user, password string) string {
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(user+":"+password))
}

// ProtectionSpaceFor returns the protection space of u, filling in the
// scheme's default port.
func ProtectionSpaceFor(u *url.URL, realm string) engine.ProtectionSpace {
	port, _ := strconv.Atoi(u.Port())
	if port == 0 {
		port = defaultPort(u.Scheme)
	}
	return engine.ProtectionSpace{
		Host:   u.Hostname(),
		Port:   port,
		Scheme: u.Scheme,
		Realm:  realm,
	}
}

func defaultPort(scheme string) int {
	if scheme == "https" {
		return 443
	}
	return 80
}
