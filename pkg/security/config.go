// Package security defines the security configuration shared by the
// operational HTTP endpoints.
package security

// Config is the security section of the daemon configuration.
type Config struct {
	TLS TLSConfig `json:"tls,omitempty"`
}

// TLSConfig groups the TLS settings. Only the server side lives here;
// the NATS connection carries its own TLS settings in the nats section.
type TLSConfig struct {
	Server ServerTLSConfig `json:"server,omitempty"`
}

// ServerTLSConfig secures the metrics and health listeners.
type ServerTLSConfig struct {
	Enabled    bool   `json:"enabled"`
	CertFile   string `json:"cert_file,omitempty"`
	KeyFile    string `json:"key_file,omitempty"`
	MinVersion string `json:"min_version,omitempty"` // "1.2" or "1.3"

	MTLS ServerMTLSConfig `json:"mtls,omitempty"`
}

// ServerMTLSConfig turns on client certificate validation for the
// operational endpoints. RequireClientCert decides between demanding a
// certificate and verifying one only when presented.
type ServerMTLSConfig struct {
	Enabled           bool     `json:"enabled"`
	ClientCAFiles     []string `json:"client_ca_files,omitempty"`
	RequireClientCert bool     `json:"require_client_cert,omitempty"`
	AllowedClientCNs  []string `json:"allowed_client_cns,omitempty"` // optional CN whitelist
}
