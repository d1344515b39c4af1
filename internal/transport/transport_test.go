package transport

import (
	"crypto/x509"
	"encoding/pem"
	"path/filepath"
	"testing"

	"github.com/dotancohen/notesync/internal/idgen"
)

func TestGenerateSelfSigned_NamesDeviceIDAsCommonName(t *testing.T) {
	deviceID := idgen.New()
	certPEM, keyPEM, err := GenerateSelfSigned(deviceID)
	if err != nil {
		t.Fatalf("failed to generate self-signed cert: %v", err)
	}
	if len(certPEM) == 0 || len(keyPEM) == 0 {
		t.Fatalf("expected non-empty cert and key PEM")
	}

	block, _ := pem.Decode(certPEM)
	if block == nil {
		t.Fatalf("failed to decode generated certificate PEM")
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		t.Fatalf("failed to parse generated certificate: %v", err)
	}
	if cert.Subject.CommonName != deviceID.String() {
		t.Fatalf("expected CN %s, got %s", deviceID.String(), cert.Subject.CommonName)
	}
}

func TestEnsureIdentity_PersistsAndReloadsSameFingerprint(t *testing.T) {
	dir := t.TempDir()
	certPath := filepath.Join(dir, "device.crt")
	keyPath := filepath.Join(dir, "device.key")
	deviceID := idgen.New()

	first, err := EnsureIdentity(certPath, keyPath, deviceID)
	if err != nil {
		t.Fatalf("failed to establish identity: %v", err)
	}

	second, err := EnsureIdentity(certPath, keyPath, deviceID)
	if err != nil {
		t.Fatalf("failed to reload identity: %v", err)
	}

	if first.Fingerprint != second.Fingerprint {
		t.Fatalf("expected fingerprint to be stable across reload, got %s then %s", first.Fingerprint, second.Fingerprint)
	}
}

type fakeTrustStore struct {
	fingerprints map[string]string
}

func newFakeTrustStore() *fakeTrustStore {
	return &fakeTrustStore{fingerprints: map[string]string{}}
}

func (f *fakeTrustStore) PinnedFingerprint(peerID string) (string, bool) {
	fp, ok := f.fingerprints[peerID]
	return fp, ok
}

func (f *fakeTrustStore) PinFingerprint(peerID, fingerprint string) error {
	f.fingerprints[peerID] = fingerprint
	return nil
}

func TestTOFUVerifier_PinsOnFirstContact(t *testing.T) {
	trust := newFakeTrustStore()
	v := NewTOFUVerifier("peer-1", trust)

	_, certDER := generateTestCert(t)
	if err := v.verify([][]byte{certDER}, nil); err != nil {
		t.Fatalf("expected first contact to succeed and pin, got error: %v", err)
	}

	fp, ok := trust.PinnedFingerprint("peer-1")
	if !ok || fp == "" {
		t.Fatalf("expected a fingerprint to be pinned after first contact")
	}
}

func TestTOFUVerifier_AcceptsMatchingPin(t *testing.T) {
	trust := newFakeTrustStore()
	v := NewTOFUVerifier("peer-1", trust)

	_, certDER := generateTestCert(t)
	if err := v.verify([][]byte{certDER}, nil); err != nil {
		t.Fatalf("first contact failed: %v", err)
	}
	if err := v.verify([][]byte{certDER}, nil); err != nil {
		t.Fatalf("expected a second connection with the same cert to succeed, got: %v", err)
	}
}

func TestTOFUVerifier_RejectsMismatchedPin_WithoutRepinning(t *testing.T) {
	trust := newFakeTrustStore()
	v := NewTOFUVerifier("peer-1", trust)

	_, firstDER := generateTestCert(t)
	if err := v.verify([][]byte{firstDER}, nil); err != nil {
		t.Fatalf("first contact failed: %v", err)
	}
	pinnedBefore, _ := trust.PinnedFingerprint("peer-1")

	_, secondDER := generateTestCert(t)
	if err := v.verify([][]byte{secondDER}, nil); err == nil {
		t.Fatalf("expected a mismatched certificate to be rejected")
	}

	pinnedAfter, _ := trust.PinnedFingerprint("peer-1")
	if pinnedBefore != pinnedAfter {
		t.Fatalf("expected the pin to remain unchanged after a rejected connection, got %s then %s", pinnedBefore, pinnedAfter)
	}
}

func generateTestCert(t *testing.T) (deviceIDStr string, der []byte) {
	t.Helper()
	deviceID := idgen.New()
	certPEM, _, err := GenerateSelfSigned(deviceID)
	if err != nil {
		t.Fatalf("failed to generate test certificate: %v", err)
	}
	block, _ := pem.Decode(certPEM)
	if block == nil {
		t.Fatalf("failed to decode generated certificate PEM")
	}
	return deviceID.String(), block.Bytes
}
