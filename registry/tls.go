package registry

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
)

// clientTLS loads the client certificate and CA named by cfg.
func clientTLS(cfg *TLSConfig) (*tls.Config, error) {
	switch {
	case cfg.CertFile == "":
		return nil, fmt.Errorf("TLS cert file is required when TLS is enabled")
	case cfg.KeyFile == "":
		return nil, fmt.Errorf("TLS key file is required when TLS is enabled")
	case cfg.CAFile == "":
		return nil, fmt.Errorf("TLS CA file is required when TLS is enabled")
	}

	cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load client certificate: %w", err)
	}
	caData, err := os.ReadFile(cfg.CAFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read CA certificate: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(caData) {
		return nil, fmt.Errorf("failed to parse CA certificate")
	}

	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		RootCAs:      pool,
		MinVersion:   tls.VersionTLS12,
	}, nil
}
