package server

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"

	"golang.org/x/crypto/pkcs12"
)

// TLSConfig locates the server certificate. Either CertFile and KeyFile
// (PEM) or PKCS12File must be set.
type TLSConfig struct {
	CertFile string
	KeyFile  string

	// KeyPassword decrypts a legacy encrypted PEM key or the PKCS#12 bundle.
	KeyPassword string

	PKCS12File string
}

// Configured reports whether enough is set to load a certificate.
func (c TLSConfig) Configured() bool {
	return c.PKCS12File != "" || (c.CertFile != "" && c.KeyFile != "")
}

// LoadCertificates loads the TLS certificate chain and key.
func (c TLSConfig) LoadCertificates() ([]tls.Certificate, error) {
	if c.PKCS12File != "" {
		cert, err := loadPKCS12(c.PKCS12File, c.KeyPassword)
		if err != nil {
			return nil, err
		}
		return []tls.Certificate{cert}, nil
	}

	if c.CertFile == "" || c.KeyFile == "" {
		return nil, errors.New("server: certfile and keyfile must be specified")
	}

	certPEM, err := os.ReadFile(c.CertFile)
	if err != nil {
		return nil, fmt.Errorf("server: read certificate: %w", err)
	}
	keyPEM, err := os.ReadFile(c.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("server: read key: %w", err)
	}
	keyPEM, err = decryptKeyPEM(keyPEM, c.KeyPassword)
	if err != nil {
		return nil, err
	}

	cert, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		return nil, fmt.Errorf("server: failed to load certificates: %w", err)
	}
	return []tls.Certificate{cert}, nil
}

// decryptKeyPEM returns keyPEM unchanged unless its first block is a legacy
// encrypted PEM block, which is decrypted with password.
func decryptKeyPEM(keyPEM []byte, password string) ([]byte, error) {
	block, _ := pem.Decode(keyPEM)
	if block == nil {
		return nil, errors.New("server: key file contains no PEM block")
	}
	//lint:ignore SA1019 legacy encrypted keys are still produced by openssl -des3
	if !x509.IsEncryptedPEMBlock(block) {
		return keyPEM, nil
	}
	if password == "" {
		return nil, errors.New("server: key is encrypted and no password is configured")
	}
	//lint:ignore SA1019 see above
	der, err := x509.DecryptPEMBlock(block, []byte(password))
	if err != nil {
		return nil, fmt.Errorf("server: decrypt key: %w", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: block.Type, Bytes: der}), nil
}

func loadPKCS12(path, password string) (tls.Certificate, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("server: read pkcs12: %w", err)
	}
	key, leaf, err := pkcs12.Decode(data, password)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("server: decode pkcs12: %w", err)
	}
	return tls.Certificate{
		Certificate: [][]byte{leaf.Raw},
		PrivateKey:  key,
		Leaf:        leaf,
	}, nil
}

// ServerTLSConfig returns the TLS configuration for the listener. TLS 1.2
// stays enabled for older browsers in headset runtimes.
func ServerTLSConfig(certificates []tls.Certificate) *tls.Config {
	return &tls.Config{
		Certificates: certificates,
		MinVersion:   tls.VersionTLS12,
		CurvePreferences: []tls.CurveID{
			tls.X25519,
			tls.CurveP256,
		},
		NextProtos: []string{"http/1.1"},
	}
}
