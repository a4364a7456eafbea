package listener

import (
	"bytes"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"io"
	"net/http"

	"golang.org/x/crypto/ocsp"
)

// TLSOptions mirrors the ssl_* config options (§6) this package turns into
// a *tls.Config.
type TLSOptions struct {
	RequireClientCert          bool
	CheckCertificateRevocation bool
	EnabledProtocols           []string
}

// BuildTLSConfig loads certFile/keyFile and applies opts, wiring
// ssl_check_certificate_revocation to a live OCSP lookup against the
// leaf certificate's issuer (§6 "ssl_check_certificate_revocation").
func BuildTLSConfig(certFile, keyFile string, opts TLSOptions) (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, fmt.Errorf("listener: could not load TLS keypair: %w", err)
	}
	cfg := &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   minVersionFor(opts.EnabledProtocols),
	}
	if opts.RequireClientCert {
		cfg.ClientAuth = tls.RequireAndVerifyClientCert
	}
	if opts.CheckCertificateRevocation {
		cfg.VerifyPeerCertificate = verifyNotRevoked
	}
	return cfg, nil
}

func minVersionFor(enabled []string) uint16 {
	for _, p := range enabled {
		switch p {
		case "TLSv1.0":
			return tls.VersionTLS10
		case "TLSv1.1":
			return tls.VersionTLS11
		}
	}
	return tls.VersionTLS12
}

// verifyNotRevoked runs after the standard chain verification succeeds; it
// queries each leaf certificate's OCSP responder and rejects the
// connection if the responder reports the certificate revoked. A
// responder that cannot be reached or parsed fails open (the chain's own
// signature verification already ran), matching the advisory nature most
// deployments give OCSP over CRL distribution points.
func verifyNotRevoked(_ [][]byte, verifiedChains [][]*x509.Certificate) error {
	for _, chain := range verifiedChains {
		if len(chain) < 2 {
			continue // no issuer to query against
		}
		leaf, issuer := chain[0], chain[1]
		if len(leaf.OCSPServer) == 0 {
			continue
		}
		status, err := queryOCSP(leaf, issuer, leaf.OCSPServer[0])
		if err != nil {
			continue
		}
		if status == ocsp.Revoked {
			return fmt.Errorf("listener: certificate %s is revoked", leaf.Subject.CommonName)
		}
	}
	return nil
}

func queryOCSP(leaf, issuer *x509.Certificate, responderURL string) (int, error) {
	req, err := ocsp.CreateRequest(leaf, issuer, nil)
	if err != nil {
		return 0, err
	}
	resp, err := http.Post(responderURL, "application/ocsp-request", bytes.NewReader(req))
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, err
	}
	parsed, err := ocsp.ParseResponseForCert(raw, leaf, issuer)
	if err != nil {
		return 0, err
	}
	return parsed.Status, nil
}
