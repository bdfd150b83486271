package session

import (
	"bytes"
	"crypto/tls"
	"crypto/x509"
	"strings"

	courierhttp "github.com/abdul-hamid-achik/courier/packages/http"
)

// ServerTrustPolicy decides whether a TLS peer is trusted.
type ServerTrustPolicy interface {
	Evaluate(state *tls.ConnectionState, host string) bool
}

// DefaultEvaluation verifies the chain against Roots (system roots when nil)
// and, when ValidateHost is set, the host name.
type DefaultEvaluation struct {
	ValidateHost bool
	Roots        *x509.CertPool
}

func (p DefaultEvaluation) Evaluate(state *tls.ConnectionState, host string) bool {
	if state == nil {
		return false
	}
	if !p.ValidateHost {
		host = ""
	}
	return courierhttp.VerifyPeer(*state, host, p.Roots) == nil
}

// PinnedCertificates trusts a peer whose chain contains one of Certificates.
type PinnedCertificates struct {
	Certificates  []*x509.Certificate
	ValidateChain bool
	ValidateHost  bool
}

func (p PinnedCertificates) Evaluate(state *tls.ConnectionState, host string) bool {
	if state == nil {
		return false
	}
	if p.ValidateChain && !chainValid(state, host, p.ValidateHost, p.Certificates) {
		return false
	}
	for _, peer := range state.PeerCertificates {
		for _, pinned := range p.Certificates {
			if peer.Equal(pinned) {
				return true
			}
		}
	}
	return false
}

// PinnedPublicKeys trusts a peer whose chain carries one of Keys, given as
// DER encoded SubjectPublicKeyInfo.
type PinnedPublicKeys struct {
	Keys          [][]byte
	ValidateChain bool
	ValidateHost  bool
}

func (p PinnedPublicKeys) Evaluate(state *tls.ConnectionState, host string) bool {
	if state == nil {
		return false
	}
	if p.ValidateChain && !chainValid(state, host, p.ValidateHost, nil) {
		return false
	}
	for _, peer := range state.PeerCertificates {
		for _, key := range p.Keys {
			if bytes.Equal(peer.RawSubjectPublicKeyInfo, key) {
				return true
			}
		}
	}
	return false
}

// DisableEvaluation trusts every peer.
type DisableEvaluation struct{}

func (DisableEvaluation) Evaluate(*tls.ConnectionState, string) bool { return true }

// CustomEvaluation adapts a function to ServerTrustPolicy.
type CustomEvaluation func(state *tls.ConnectionState, host string) bool

func (f CustomEvaluation) Evaluate(state *tls.ConnectionState, host string) bool {
	return f(state, host)
}

// ServerTrustPolicyManager maps hosts to policies. Hosts without a policy
// get default handling from the engine.
type ServerTrustPolicyManager struct {
	policies map[string]ServerTrustPolicy
}

func NewServerTrustPolicyManager(policies map[string]ServerTrustPolicy) *ServerTrustPolicyManager {
	m := &ServerTrustPolicyManager{policies: make(map[string]ServerTrustPolicy, len(policies))}
	for host, policy := range policies {
		m.policies[strings.ToLower(host)] = policy
	}
	return m
}

// PolicyForHost returns the policy for host, falling back to a "*" entry.
func (m *ServerTrustPolicyManager) PolicyForHost(host string) (ServerTrustPolicy, bool) {
	if m == nil {
		return nil, false
	}
	if policy, ok := m.policies[strings.ToLower(host)]; ok {
		return policy, true
	}
	policy, ok := m.policies["*"]
	return policy, ok
}

// chainValid verifies the peer chain. Pinned certificates act as extra
// roots, so self-signed pins validate.
func chainValid(state *tls.ConnectionState, host string, validateHost bool, pinned []*x509.Certificate) bool {
	var roots *x509.CertPool
	if len(pinned) > 0 {
		roots = x509.NewCertPool()
		for _, cert := range pinned {
			roots.AddCert(cert)
		}
	}
	if !validateHost {
		host = ""
	}
	return courierhttp.VerifyPeer(*state, host, roots) == nil
}
