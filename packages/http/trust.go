package http

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"

	"github.com/abdul-hamid-achik/courier/packages/engine"
)

// evaluateTrust asks the owning task (or the session when the connection is
// not attributable) how to treat the peer.
func (e *Engine) evaluateTrust(ctx context.Context, host string, port int, cs tls.ConnectionState) error {
	challenge := &engine.Challenge{
		ProtectionSpace: engine.ProtectionSpace{
			Host:       host,
			Port:       port,
			Scheme:     "https",
			Realm:      host,
			AuthMethod: engine.AuthMethodServerTrust,
		},
		ConnectionState: &cs,
	}

	var disposition engine.Disposition
	var credential *engine.Credential
	if t, ok := ctx.Value(taskKey{}).(*task); ok {
		disposition, credential = t.askChallenge(challenge)
	} else {
		done := make(chan struct{})
		e.events.DidReceiveSessionChallenge(challenge, func(d engine.Disposition, c *engine.Credential) {
			disposition, credential = d, c
			close(done)
		})
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	switch disposition {
	case engine.UseCredential:
		if credential != nil && credential.Trusted {
			return nil
		}
		return fmt.Errorf("%w: no trust credential supplied for %s", engine.ErrServerTrust, host)
	case engine.CancelAuthenticationChallenge:
		return fmt.Errorf("%w: challenge cancelled for %s", engine.ErrServerTrust, host)
	default:
		if !e.validateSSL {
			return nil
		}
		return VerifyPeer(cs, host, e.rootCAs)
	}
}

// VerifyPeer runs standard chain and host name verification against roots.
// A nil pool means the system roots.
func VerifyPeer(cs tls.ConnectionState, host string, roots *x509.CertPool) error {
	if len(cs.PeerCertificates) == 0 {
		return fmt.Errorf("%w: no peer certificates", engine.ErrServerTrust)
	}
	opts := x509.VerifyOptions{
		DNSName:       host,
		Roots:         roots,
		Intermediates: x509.NewCertPool(),
	}
	for _, cert := range cs.PeerCertificates[1:] {
		opts.Intermediates.AddCert(cert)
	}
	if _, err := cs.PeerCertificates[0].Verify(opts); err != nil {
		return fmt.Errorf("%w: %v", engine.ErrServerTrust, err)
	}
	return nil
}
