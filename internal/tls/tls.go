package tls

import (
	"crypto/tls"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	tlsCaCrt = "tls_ca.crt"
	tlsCrt   = "tls.crt"
	tlsKey   = "tls.key"
)

// Config describes the certificate the HTTP API serves. Either CertFile and
// KeyFile name the pair directly, or Dir holds tls.crt and tls.key, which
// are generated on first use when AutoGenerate is set.
type Config struct {
	CertFile     string
	KeyFile      string
	Dir          string
	AutoGenerate bool
	MinVersion   string // "1.2" or "1.3", default 1.3
	CommonName   string
	DNSNames     []string
	ValidDays    int
}

// Enabled reports whether any certificate source is configured.
func (c Config) Enabled() bool {
	return (c.CertFile != "" && c.KeyFile != "") || c.Dir != ""
}

func parseTLSVersion(ver string) (uint16, error) {
	switch strings.ToLower(strings.TrimSpace(ver)) {
	case "", "default", "1.3", "tls1.3":
		return tls.VersionTLS13, nil
	case "1.2", "tls1.2":
		return tls.VersionTLS12, nil
	default:
		return 0, fmt.Errorf("unsupported TLS version %q (want 1.2 or 1.3)", ver)
	}
}

// Setup returns the server TLS config, or nil when TLS is not configured.
func Setup(c Config) (*tls.Config, error) {
	if !c.Enabled() {
		return nil, nil
	}
	minVer, err := parseTLSVersion(c.MinVersion)
	if err != nil {
		return nil, err
	}

	certPath, keyPath := c.CertFile, c.KeyFile
	if certPath == "" || keyPath == "" {
		certPath = filepath.Join(c.Dir, tlsCrt)
		keyPath = filepath.Join(c.Dir, tlsKey)
		if !certificatesExist(certPath, keyPath) {
			if !c.AutoGenerate {
				return nil, fmt.Errorf("no certificate in %s and auto_generate is off", c.Dir)
			}
			if err := generateCertificate(c); err != nil {
				return nil, fmt.Errorf("certificate generation failed: %w", err)
			}
		}
	}
	// fail at startup rather than on the first handshake
	if _, err := loadPair(certPath, keyPath); err != nil {
		return nil, err
	}
	return &tls.Config{
		GetCertificate: func(*tls.ClientHelloInfo) (*tls.Certificate, error) {
			return loadPair(certPath, keyPath)
		},
		MinVersion: minVer,
	}, nil
}

// loadPair reads the pair on every call so a renewed certificate is picked
// up without a restart.
func loadPair(certPath, keyPath string) (*tls.Certificate, error) {
	certPEM, err := os.ReadFile(filepath.Clean(certPath))
	if err != nil {
		return nil, err
	}
	keyPEM, err := os.ReadFile(filepath.Clean(keyPath))
	if err != nil {
		return nil, err
	}
	cert, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		return nil, fmt.Errorf("load key pair %s: %w", certPath, err)
	}
	return &cert, nil
}

func certificatesExist(certPath, keyPath string) bool {
	_, certErr := os.Stat(certPath)
	_, keyErr := os.Stat(keyPath)
	return certErr == nil && keyErr == nil
}

func generateCertificate(c Config) error {
	if c.Dir == "" {
		return errors.New("certificate directory not set")
	}
	if err := os.MkdirAll(c.Dir, 0o750); err != nil {
		return fmt.Errorf("failed to create certificate directory: %w", err)
	}
	cn := c.CommonName
	if cn == "" {
		cn = "localhost"
	}
	names := c.DNSNames
	if len(names) == 0 {
		names = []string{"localhost"}
	}
	days := c.ValidDays
	if days <= 0 {
		days = 365
	}
	return GenerateSelfSignedCert(CertConfig{
		CommonName:   cn,
		Organization: "procdash",
		DNSNames:     names,
		IPAddresses:  []string{"127.0.0.1", "::1"},
		NotAfter:     time.Now().AddDate(0, 0, days),
		CertPath:     filepath.Join(c.Dir, tlsCrt),
		KeyPath:      filepath.Join(c.Dir, tlsKey),
		CACertPath:   filepath.Join(c.Dir, tlsCaCrt),
	})
}
