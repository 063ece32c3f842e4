// Package tlsutil builds tls.Config values for the operational HTTP endpoints
// from platform security configuration.
package tlsutil

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"

	"github.com/c360/confsync/errors"
	"github.com/c360/confsync/pkg/security"
)

// LoadServerTLSConfig creates a tls.Config for HTTP servers from platform
// config. Returns nil when TLS is disabled. With mTLS enabled, client
// certificates are verified against the configured CA files and, when a
// whitelist is set, their common name must be on it.
func LoadServerTLSConfig(cfg security.ServerTLSConfig, mtlsCfg security.ServerMTLSConfig) (*tls.Config, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
	if err != nil {
		return nil, errors.WrapFatal(err, "tlsutil", "LoadServerTLSConfig", "load certificate")
	}

	tlsConfig := &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   minTLSVersion(cfg.MinVersion),
	}
	if !mtlsCfg.Enabled {
		return tlsConfig, nil
	}

	pool, err := clientCAPool(mtlsCfg.ClientCAFiles)
	if err != nil {
		return nil, err
	}
	tlsConfig.ClientCAs = pool

	tlsConfig.ClientAuth = tls.VerifyClientCertIfGiven
	if mtlsCfg.RequireClientCert {
		tlsConfig.ClientAuth = tls.RequireAndVerifyClientCert
	}

	if len(mtlsCfg.AllowedClientCNs) > 0 {
		tlsConfig.VerifyPeerCertificate = allowedCNVerifier(mtlsCfg.AllowedClientCNs)
	}

	return tlsConfig, nil
}

// clientCAPool collects the CA certificates client certs are verified
// against.
func clientCAPool(files []string) (*x509.CertPool, error) {
	pool := x509.NewCertPool()
	for _, file := range files {
		pemData, err := os.ReadFile(file)
		if err != nil {
			return nil, errors.WrapFatal(err, "tlsutil", "clientCAPool",
				fmt.Sprintf("read client CA file %s", file))
		}
		if !pool.AppendCertsFromPEM(pemData) {
			return nil, errors.WrapFatal(fmt.Errorf("invalid PEM data"),
				"tlsutil", "clientCAPool",
				fmt.Sprintf("parse client CA certificate from %s", file))
		}
	}
	return pool, nil
}

// allowedCNVerifier returns a peer verifier accepting only leaf
// certificates whose common name is whitelisted. It runs after chain
// verification, so the chains handed in are already trusted.
func allowedCNVerifier(allowedCNs []string) func([][]byte, [][]*x509.Certificate) error {
	allowed := make(map[string]struct{}, len(allowedCNs))
	for _, cn := range allowedCNs {
		allowed[cn] = struct{}{}
	}

	return func(_ [][]byte, chains [][]*x509.Certificate) error {
		if len(chains) == 0 {
			return fmt.Errorf("no verified certificate chains")
		}
		cn := chains[0][0].Subject.CommonName
		if _, ok := allowed[cn]; !ok {
			return fmt.Errorf("client certificate CN '%s' not in allowed list", cn)
		}
		return nil
	}
}

// minTLSVersion maps the configured version onto a crypto/tls constant.
// Anything other than "1.3" pins the floor at 1.2.
func minTLSVersion(version string) uint16 {
	if version == "1.3" {
		return tls.VersionTLS13
	}
	return tls.VersionTLS12
}
