package certs

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// CertManager loads CA certificates from a file or a directory of .crt/.pem files.
type CertManager struct {
	path string
}

func NewCertManager(path string) *CertManager {
	return &CertManager{path: path}
}

// LoadCertificates loads every certificate found under the manager's path.
func (cm *CertManager) LoadCertificates() ([]*x509.Certificate, error) {
	info, err := os.Stat(cm.path)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		data, err := os.ReadFile(cm.path)
		if err != nil {
			return nil, err
		}
		return ParsePEM(data)
	}

	var certs []*x509.Certificate
	err = filepath.Walk(cm.path, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		if strings.HasSuffix(info.Name(), ".crt") || strings.HasSuffix(info.Name(), ".pem") {
			data, err := os.ReadFile(path)
			if err != nil {
				return err
			}
			parsed, err := ParsePEM(data)
			if err != nil {
				return err
			}
			certs = append(certs, parsed...)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return certs, nil
}

// IsExpired checks if a certificate is expired.
func IsExpired(cert *x509.Certificate) bool {
	return cert.NotAfter.Before(time.Now())
}

// ParsePEM parses every CERTIFICATE block in data.
func ParsePEM(data []byte) ([]*x509.Certificate, error) {
	var certs []*x509.Certificate
	for {
		var block *pem.Block
		block, data = pem.Decode(data)
		if block == nil {
			break
		}
		if block.Type != "CERTIFICATE" {
			continue
		}
		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, err
		}
		certs = append(certs, cert)
	}
	if len(certs) == 0 {
		return nil, errors.New("failed to parse certificate PEM")
	}
	return certs, nil
}

// ParseMaterial accepts PEM text or base64-encoded PEM.
func ParseMaterial(material string) ([]*x509.Certificate, error) {
	material = strings.TrimSpace(material)
	if strings.HasPrefix(material, "-----BEGIN") {
		return ParsePEM([]byte(material))
	}
	raw, err := base64.StdEncoding.DecodeString(material)
	if err != nil {
		return nil, errors.New("ca material is neither PEM nor base64 PEM")
	}
	return ParsePEM(raw)
}

// TLSConfig builds the client TLS policy. verify=false disables chain,
// expiry and hostname checks; the caller asked for that explicitly.
// Inline material and path are both added to the pool when present.
func TLSConfig(verify bool, material, path string) (*tls.Config, error) {
	cfg := &tls.Config{MinVersion: tls.VersionTLS12}
	if !verify {
		cfg.InsecureSkipVerify = true
		return cfg, nil
	}
	if material == "" && path == "" {
		return cfg, nil
	}
	pool, err := x509.SystemCertPool()
	if err != nil || pool == nil {
		pool = x509.NewCertPool()
	}
	if material != "" {
		certs, err := ParseMaterial(material)
		if err != nil {
			return nil, err
		}
		if err := addRoots(pool, certs, "ca material"); err != nil {
			return nil, err
		}
	}
	if path != "" {
		certs, err := NewCertManager(path).LoadCertificates()
		if err != nil {
			return nil, err
		}
		if err := addRoots(pool, certs, path); err != nil {
			return nil, err
		}
	}
	cfg.RootCAs = pool
	return cfg, nil
}

// addRoots adds the certificates that have not expired. A source whose
// certificates have all expired is an error: nothing it signed can verify.
func addRoots(pool *x509.CertPool, certs []*x509.Certificate, source string) error {
	added := 0
	for _, c := range certs {
		if IsExpired(c) {
			continue
		}
		pool.AddCert(c)
		added++
	}
	if added == 0 {
		return errors.New(source + ": every CA certificate has expired")
	}
	return nil
}
