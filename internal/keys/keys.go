// Package keys loads the PEM signing material a federation participant
// needs: an RSA private key (optionally passphrase-encrypted) and its
// X.509 certificate. Connections store the PEM text itself; parsing
// happens at the point of use.
package keys

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"time"
)

// KeyPair holds PEM-encoded signing material as stored on a connection.
type KeyPair struct {
	PrivateKey         string
	PrivateKeyPassword string
	Certificate        string
}

// Load reads a private key and certificate from files under basePath.
func Load(basePath, keyFile, certFile, password string) (KeyPair, error) {
	keyPEM, err := os.ReadFile(filepath.Join(basePath, keyFile))
	if err != nil {
		return KeyPair{}, fmt.Errorf("failed to read private key: %w", err)
	}
	certPEM, err := os.ReadFile(filepath.Join(basePath, certFile))
	if err != nil {
		return KeyPair{}, fmt.Errorf("failed to read certificate: %w", err)
	}

	kp := KeyPair{
		PrivateKey:         string(keyPEM),
		PrivateKeyPassword: password,
		Certificate:        string(certPEM),
	}

	// Reject unusable material at load time rather than on first use.
	if _, err := ParsePrivateKey(kp.PrivateKey, kp.PrivateKeyPassword); err != nil {
		return KeyPair{}, fmt.Errorf("invalid private key %s: %w", keyFile, err)
	}
	if _, err := ParseCertificate(kp.Certificate); err != nil {
		return KeyPair{}, fmt.Errorf("invalid certificate %s: %w", certFile, err)
	}

	return kp, nil
}

// LoadCertificate reads a single PEM certificate from a file under basePath.
func LoadCertificate(basePath, certFile string) (string, error) {
	certPEM, err := os.ReadFile(filepath.Join(basePath, certFile))
	if err != nil {
		return "", fmt.Errorf("failed to read certificate: %w", err)
	}
	if _, err := ParseCertificate(string(certPEM)); err != nil {
		return "", fmt.Errorf("invalid certificate %s: %w", certFile, err)
	}
	return string(certPEM), nil
}

// ParsePrivateKey decodes a PEM RSA private key. Encrypted PEM blocks
// (RFC 1423) are decrypted with the supplied password.
func ParsePrivateKey(pemData, password string) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode([]byte(pemData))
	if block == nil {
		return nil, fmt.Errorf("no PEM block found in private key data")
	}

	der := block.Bytes
	if x509.IsEncryptedPEMBlock(block) { //nolint:staticcheck // legacy encrypted keys are part of the data model
		decrypted, err := x509.DecryptPEMBlock(block, []byte(password)) //nolint:staticcheck
		if err != nil {
			return nil, fmt.Errorf("failed to decrypt private key: %w", err)
		}
		der = decrypted
	}

	if key, err := x509.ParsePKCS1PrivateKey(der); err == nil {
		return key, nil
	}
	parsed, err := x509.ParsePKCS8PrivateKey(der)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}
	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("private key is not RSA")
	}
	return key, nil
}

// ParseCertificate decodes a PEM X.509 certificate.
func ParseCertificate(pemData string) (*x509.Certificate, error) {
	block, _ := pem.Decode([]byte(pemData))
	if block == nil {
		return nil, fmt.Errorf("no PEM block found in certificate data")
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse certificate: %w", err)
	}
	return cert, nil
}

// EnsureDevKeys loads the named key pair from dir, generating and writing
// it first if the files do not exist. The three local processes share one
// directory, so whichever starts first mints the pair and the others pick
// it up.
func EnsureDevKeys(dir, name string) (KeyPair, error) {
	keyFile := name + ".key.pem"
	certFile := name + ".cert.pem"

	if _, err := os.Stat(filepath.Join(dir, keyFile)); err == nil {
		return Load(dir, keyFile, certFile, "")
	}

	kp, err := GenerateSelfSigned(name)
	if err != nil {
		return KeyPair{}, err
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return KeyPair{}, fmt.Errorf("failed to create key directory: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, keyFile), []byte(kp.PrivateKey), 0o600); err != nil {
		return KeyPair{}, fmt.Errorf("failed to write private key: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, certFile), []byte(kp.Certificate), 0o644); err != nil {
		return KeyPair{}, fmt.Errorf("failed to write certificate: %w", err)
	}
	return kp, nil
}

// GenerateSelfSigned creates a throwaway RSA key pair and self-signed
// certificate for development and tests, where no key files are
// provisioned.
func GenerateSelfSigned(commonName string) (KeyPair, error) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return KeyPair{}, fmt.Errorf("failed to generate RSA key: %w", err)
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return KeyPair{}, fmt.Errorf("failed to generate serial number: %w", err)
	}

	template := x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			CommonName:   commonName,
			Organization: []string{"samlproxy development"},
		},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(365 * 24 * time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
	}

	certDER, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	if err != nil {
		return KeyPair{}, fmt.Errorf("failed to create certificate: %w", err)
	}

	keyPEM := pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(key),
	})
	certPEM := pem.EncodeToMemory(&pem.Block{
		Type:  "CERTIFICATE",
		Bytes: certDER,
	})

	return KeyPair{
		PrivateKey:  string(keyPEM),
		Certificate: string(certPEM),
	}, nil
}
