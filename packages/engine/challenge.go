package engine

import (
	"crypto/tls"
	"fmt"
	"strconv"
)

// AuthMethod names the kind of authentication a challenge asks for.
type AuthMethod string

const (
	AuthMethodBasic       AuthMethod = "basic"
	AuthMethodDigest      AuthMethod = "digest"
	AuthMethodServerTrust AuthMethod = "server-trust"
)

// Disposition is the answer to a challenge.
type Disposition int

const (
	// PerformDefaultHandling lets the engine behave as if no one answered.
	PerformDefaultHandling Disposition = iota
	// UseCredential answers with the supplied credential.
	UseCredential
	// CancelAuthenticationChallenge fails the task.
	CancelAuthenticationChallenge
	// RejectProtectionSpace declines this challenge; the engine delivers the
	// challenging response as final.
	RejectProtectionSpace
)

func (d Disposition) String() string {
	switch d {
	case PerformDefaultHandling:
		return "perform-default-handling"
	case UseCredential:
		return "use-credential"
	case CancelAuthenticationChallenge:
		return "cancel"
	case RejectProtectionSpace:
		return "reject-protection-space"
	default:
		return "unknown"
	}
}

// ProtectionSpace is the server area a challenge applies to.
type ProtectionSpace struct {
	Host       string
	Port       int
	Scheme     string
	Realm      string
	AuthMethod AuthMethod
}

func (p ProtectionSpace) String() string {
	return fmt.Sprintf("%s://%s:%s realm=%q (%s)", p.Scheme, p.Host, strconv.Itoa(p.Port), p.Realm, p.AuthMethod)
}

// Challenge is an authentication request from the server.
type Challenge struct {
	ProtectionSpace ProtectionSpace
	// PreviousFailureCount is how many answers to this challenge have already
	// been rejected for the task.
	PreviousFailureCount int
	// Params holds the parsed WWW-Authenticate parameters.
	Params map[string]string
	// ConnectionState is set for server trust challenges.
	ConnectionState *tls.ConnectionState
}

// IsServerTrust reports whether the challenge asks to evaluate a TLS peer.
func (c *Challenge) IsServerTrust() bool {
	return c.ProtectionSpace.AuthMethod == AuthMethodServerTrust
}

// Credential answers a challenge. For server trust challenges a non-nil
// credential with Trusted set accepts the peer.
type Credential struct {
	User     string
	Password string
	Trusted  bool
}

// NewCredential returns a user/password credential.
func NewCredential(user, password string) *Credential {
	return &Credential{User: user, Password: password}
}

// TrustCredential returns the credential that accepts a server trust challenge.
func TrustCredential() *Credential {
	return &Credential{Trusted: true}
}
