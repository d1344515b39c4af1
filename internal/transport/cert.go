// Package transport owns this device's self-signed TLS identity and the
// Trust-On-First-Use verification used against peers (spec §4.7): every
// device presents a self-signed certificate naming its own UUID, and every
// peer connection is pinned by SHA-256 fingerprint rather than a CA chain.
package transport

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dotancohen/notesync/internal/syncerr"
)

// CertValidity is the lifetime of a generated device certificate (spec
// §4.7: "validity 10 years").
const CertValidity = 10 * 365 * 24 * time.Hour

// Identity is this device's TLS certificate and private key, kept in
// memory as both the parsed tls.Certificate (for serving/dialing) and its
// fingerprint (for display and handshake responses).
type Identity struct {
	Certificate tls.Certificate
	Fingerprint string
}

// GenerateSelfSigned creates a fresh ECDSA P-256 self-signed certificate
// naming deviceID as the subject common name, matching MaxIOFS's node-cert
// generation shape adapted to a single self-signed leaf instead of a
// CA-signed one (spec §4.7 calls for no CA — TOFU pins the leaf directly).
func GenerateSelfSigned(deviceID uuid.UUID) (certPEM, keyPEM []byte, err error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, nil, syncerr.TLS(fmt.Sprintf("failed to generate device key: %v", err))
	}

	serialNumber, err := randomSerialNumber()
	if err != nil {
		return nil, nil, err
	}

	cn := deviceID.String()
	template := &x509.Certificate{
		SerialNumber: serialNumber,
		Subject:      pkix.Name{CommonName: cn},
		NotBefore:    time.Now().Add(-1 * time.Hour),
		NotAfter:     time.Now().Add(CertValidity),
		KeyUsage:     x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage: []x509.ExtKeyUsage{
			x509.ExtKeyUsageServerAuth,
			x509.ExtKeyUsageClientAuth,
		},
		DNSNames: []string{"localhost"},
	}

	certDER, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		return nil, nil, syncerr.TLS(fmt.Sprintf("failed to create self-signed certificate: %v", err))
	}
	certPEM = pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: certDER})

	keyDER, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		return nil, nil, syncerr.TLS(fmt.Sprintf("failed to marshal device key: %v", err))
	}
	keyPEM = pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER})

	return certPEM, keyPEM, nil
}

// EnsureIdentity loads the certificate/key pair at certPath/keyPath,
// generating and persisting a fresh self-signed identity for deviceID if
// either file is absent.
func EnsureIdentity(certPath, keyPath string, deviceID uuid.UUID) (*Identity, error) {
	_, certErr := os.Stat(certPath)
	_, keyErr := os.Stat(keyPath)
	if os.IsNotExist(certErr) || os.IsNotExist(keyErr) {
		certPEM, keyPEM, err := GenerateSelfSigned(deviceID)
		if err != nil {
			return nil, err
		}
		if err := os.MkdirAll(filepath.Dir(certPath), 0o700); err != nil {
			return nil, syncerr.TLS(fmt.Sprintf("failed to create certificate directory: %v", err))
		}
		if err := os.WriteFile(certPath, certPEM, 0o644); err != nil {
			return nil, syncerr.TLS(fmt.Sprintf("failed to write certificate: %v", err))
		}
		if err := os.WriteFile(keyPath, keyPEM, 0o600); err != nil {
			return nil, syncerr.TLS(fmt.Sprintf("failed to write private key: %v", err))
		}
	}

	certPEM, err := os.ReadFile(certPath)
	if err != nil {
		return nil, syncerr.TLS(fmt.Sprintf("failed to read certificate: %v", err))
	}
	keyPEM, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, syncerr.TLS(fmt.Sprintf("failed to read private key: %v", err))
	}

	cert, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		return nil, syncerr.TLS(fmt.Sprintf("failed to parse certificate/key pair: %v", err))
	}

	fp, err := FingerprintFromDER(cert.Certificate[0])
	if err != nil {
		return nil, err
	}

	return &Identity{Certificate: cert, Fingerprint: fp}, nil
}

// FingerprintFromDER computes the "SHA256:aa:bb:...:ff" fingerprint of a
// DER-encoded certificate (spec §4.7).
func FingerprintFromDER(der []byte) (string, error) {
	sum := sha256.Sum256(der)
	parts := make([]string, len(sum))
	for i, b := range sum {
		parts[i] = fmt.Sprintf("%02x", b)
	}
	return "SHA256:" + strings.Join(parts, ":"), nil
}

func randomSerialNumber() (*big.Int, error) {
	serialNumber, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, syncerr.TLS(fmt.Sprintf("failed to generate certificate serial number: %v", err))
	}
	return serialNumber, nil
}
