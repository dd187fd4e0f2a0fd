package transport

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
)

// TLS constants for CardLink.
const (
	// ALPNProtocol is the ALPN identifier negotiated on TLS connections.
	ALPNProtocol = "cardlink/1"

	// DefaultPort is the default relay port.
	DefaultPort = 8765
)

// TLSConfig holds configuration for CardLink TLS connections.
//
// TLS is an optional outer layer: client authentication comes from the
// bearer token and payload confidentiality from the message channel, so
// the relay runs over plain TCP unless TLS is explicitly configured.
type TLSConfig struct {
	// Certificate is the TLS certificate for this endpoint.
	// Required for servers, unused for clients.
	Certificate tls.Certificate

	// RootCAs is the pool of trusted CA certificates for verifying the
	// relay certificate. Nil uses the system pool.
	RootCAs *x509.CertPool

	// ServerName is the expected server name for client connections.
	ServerName string

	// InsecureSkipVerify disables certificate verification.
	// Only for testing - never use in production!
	InsecureSkipVerify bool
}

// NewServerTLSConfig creates a TLS configuration for the relay (server).
func NewServerTLSConfig(cfg *TLSConfig) (*tls.Config, error) {
	if cfg == nil {
		return nil, fmt.Errorf("TLSConfig is required")
	}
	if len(cfg.Certificate.Certificate) == 0 {
		return nil, fmt.Errorf("server certificate is required")
	}

	return &tls.Config{
		// TLS 1.3 only - no fallback
		MinVersion: tls.VersionTLS13,
		MaxVersion: tls.VersionTLS13,

		Certificates: []tls.Certificate{cfg.Certificate},

		// Clients authenticate with the bearer token, not certificates.
		ClientAuth: tls.NoClientCert,

		NextProtos: []string{ALPNProtocol},

		CurvePreferences: []tls.CurveID{
			tls.X25519,
			tls.CurveP256,
		},

		SessionTicketsDisabled: true,
	}, nil
}

// NewClientTLSConfig creates a TLS configuration for a client connecting
// to the relay.
func NewClientTLSConfig(cfg *TLSConfig) (*tls.Config, error) {
	if cfg == nil {
		return nil, fmt.Errorf("TLSConfig is required")
	}

	return &tls.Config{
		// TLS 1.3 only - no fallback
		MinVersion: tls.VersionTLS13,
		MaxVersion: tls.VersionTLS13,

		RootCAs:    cfg.RootCAs,
		ServerName: cfg.ServerName,

		NextProtos: []string{ALPNProtocol},

		CurvePreferences: []tls.CurveID{
			tls.X25519,
			tls.CurveP256,
		},

		SessionTicketsDisabled: true,

		// For testing only
		InsecureSkipVerify: cfg.InsecureSkipVerify,
	}, nil
}

// VerifyTLS13 checks that a TLS connection is using TLS 1.3.
func VerifyTLS13(state tls.ConnectionState) error {
	if state.Version != tls.VersionTLS13 {
		return fmt.Errorf("TLS version %x is not TLS 1.3 (0x0304)", state.Version)
	}
	return nil
}

// VerifyALPN checks that the negotiated ALPN protocol is correct.
func VerifyALPN(state tls.ConnectionState) error {
	if state.NegotiatedProtocol != ALPNProtocol {
		return fmt.Errorf("ALPN protocol %q is not %q", state.NegotiatedProtocol, ALPNProtocol)
	}
	return nil
}

// VerifyConnection performs standard CardLink TLS connection verification.
func VerifyConnection(state tls.ConnectionState) error {
	if err := VerifyTLS13(state); err != nil {
		return err
	}
	if err := VerifyALPN(state); err != nil {
		return err
	}
	return nil
}
