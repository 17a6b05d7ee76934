package device

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"

	"github.com/upflux/upflux-gateway/internal/config"
)

// transportConfig builds the optional TLS wrapper for the device listener and
// dialer. Returns nil when the deployment runs plaintext; the protocol is
// identical either way.
func transportConfig(cfg *config.Config) (*tls.Config, error) {
	if cfg.Device.TLSCertFile == "" || cfg.Device.TLSKeyFile == "" {
		return nil, nil
	}

	cert, err := tls.LoadX509KeyPair(cfg.Device.TLSCertFile, cfg.Device.TLSKeyFile)
	if err != nil {
		return nil, fmt.Errorf("loading device TLS keypair: %w", err)
	}
	tlsConfig := &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}

	if cfg.Device.TLSCaFile != "" {
		caPEM, err := os.ReadFile(cfg.Device.TLSCaFile)
		if err != nil {
			return nil, fmt.Errorf("reading device CA bundle: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caPEM) {
			return nil, fmt.Errorf("device CA bundle contains no certificates")
		}
		tlsConfig.ClientCAs = pool
		tlsConfig.RootCAs = pool
		tlsConfig.ClientAuth = tls.RequireAndVerifyClientCert
	}

	return tlsConfig, nil
}
