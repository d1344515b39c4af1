package transport

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"strings"

	"github.com/dotancohen/notesync/internal/syncerr"
)

// TrustStore is the minimal view of peer configuration the TOFU verifier
// needs: read the pinned fingerprint for a peer, and capture one on first
// contact. internal/config's Config satisfies this.
type TrustStore interface {
	PinnedFingerprint(peerID string) (string, bool)
	PinFingerprint(peerID, fingerprint string) error
}

// TOFUVerifier implements Trust-On-First-Use against a peer: accept and pin
// a peer's certificate fingerprint the first time it is seen, and require
// an exact match on every subsequent connection (spec §4.7, §8 property 6,
// scenario S5). It never re-pins on mismatch.
type TOFUVerifier struct {
	peerID string
	trust  TrustStore
}

// NewTOFUVerifier builds a verifier scoped to one peer id.
func NewTOFUVerifier(peerID string, trust TrustStore) *TOFUVerifier {
	return &TOFUVerifier{peerID: peerID, trust: trust}
}

// ClientConfig returns a tls.Config suitable for dialing this peer.
// Verification is skipped by the standard library (self-signed leaves have
// no CA to chain to) and instead performed in VerifyPeerCertificate, which
// is where the actual TOFU decision is made.
func (v *TOFUVerifier) ClientConfig() *tls.Config {
	return &tls.Config{
		InsecureSkipVerify:    true,
		MinVersion:            tls.VersionTLS12,
		VerifyPeerCertificate: v.verify,
	}
}

// verify is the tls.Config.VerifyPeerCertificate callback: it fingerprints
// the leaf certificate and either pins it (first contact) or enforces the
// existing pin.
func (v *TOFUVerifier) verify(rawCerts [][]byte, _ [][]*x509.Certificate) error {
	if len(rawCerts) == 0 {
		return syncerr.TLS("peer presented no certificate")
	}

	actual, err := FingerprintFromDER(rawCerts[0])
	if err != nil {
		return err
	}

	pinned, ok := v.trust.PinnedFingerprint(v.peerID)
	if !ok || pinned == "" {
		// First connection: trust and pin (spec §4.7).
		if err := v.trust.PinFingerprint(v.peerID, actual); err != nil {
			return syncerr.TLS(fmt.Sprintf("failed to pin certificate fingerprint: %v", err))
		}
		return nil
	}

	if strings.EqualFold(pinned, actual) {
		return nil
	}

	return syncerr.TLS(fmt.Sprintf(
		"certificate fingerprint mismatch for peer %s: expected %s, got %s — refusing connection, pin not updated",
		v.peerID, pinned, actual,
	))
}

// ServerConfig returns a tls.Config for this device's listener: it
// presents identity's certificate and does not itself verify client
// certificates — TOFU pinning is the client's responsibility for the
// server it dials, and the server-side caller (internal/protocol) expects
// device identity to be confirmed through the handshake payload, not the
// TLS handshake.
func ServerConfig(identity *Identity) *tls.Config {
	return &tls.Config{
		Certificates: []tls.Certificate{identity.Certificate},
		MinVersion:   tls.VersionTLS12,
	}
}
