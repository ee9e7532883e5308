// Package tls builds mutual-TLS configurations for the model client and the
// proxy server.
//
// Both sides enforce TLS 1.3 and verify the peer against a private CA.
package tls

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
)

// Config holds PEM file paths for one side of an mTLS connection.
type Config struct {
	Enabled  bool
	CertFile string
	KeyFile  string
	CAFile   string

	// ServerName overrides the name used to verify the server certificate.
	// Only meaningful on the client side.
	ServerName string
}

// Validate returns an error when TLS is enabled but a file is missing or
// unreadable. A disabled Config is always valid.
func (c Config) Validate() error {
	if !c.Enabled {
		return nil
	}

	files := []struct{ name, path string }{
		{"certificate", c.CertFile},
		{"key", c.KeyFile},
		{"CA certificate", c.CAFile},
	}
	for _, f := range files {
		if f.path == "" {
			return fmt.Errorf("tls enabled but %s file not specified", f.name)
		}
		if _, err := os.Stat(f.path); err != nil {
			return fmt.Errorf("%s file %q: %w", f.name, f.path, err)
		}
	}
	return nil
}

// ServerConfig returns a server-side configuration that requires and verifies
// client certificates.
func (c Config) ServerConfig() (*tls.Config, error) {
	if err := c.validateFiles(); err != nil {
		return nil, err
	}

	pool, err := loadCAPool(c.CAFile)
	if err != nil {
		return nil, err
	}

	cert, err := tls.LoadX509KeyPair(c.CertFile, c.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("load server certificate: %w", err)
	}

	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		ClientCAs:    pool,
		ClientAuth:   tls.RequireAndVerifyClientCert,
		MinVersion:   tls.VersionTLS13,
	}, nil
}

// ClientConfig returns a client-side configuration that presents the client
// certificate and verifies the server against the CA.
func (c Config) ClientConfig() (*tls.Config, error) {
	if err := c.validateFiles(); err != nil {
		return nil, err
	}

	cert, err := tls.LoadX509KeyPair(c.CertFile, c.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("load client certificate: %w", err)
	}

	pool, err := loadCAPool(c.CAFile)
	if err != nil {
		return nil, err
	}

	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		RootCAs:      pool,
		ServerName:   c.ServerName,
		MinVersion:   tls.VersionTLS13,
	}, nil
}

func (c Config) validateFiles() error {
	enabled := c
	enabled.Enabled = true
	return enabled.Validate()
}

func loadCAPool(caFile string) (*x509.CertPool, error) {
	caCert, err := os.ReadFile(caFile)
	if err != nil {
		return nil, fmt.Errorf("read CA certificate: %w", err)
	}

	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(caCert) {
		return nil, errors.New("failed to parse CA certificate")
	}
	return pool, nil
}
