package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/dotancohen/notesync/internal/idgen"
)

func TestLoad_CreatesDefaultsOnFirstRun(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if _, err := cfg.DeviceID(); err != nil {
		t.Fatalf("expected a generated device id to parse, got error: %v", err)
	}
	if cfg.DeviceName() == "" {
		t.Fatalf("expected a non-empty default device name")
	}
	if cfg.ServerPort() != DefaultServerPort {
		t.Fatalf("expected default server port %d, got %d", DefaultServerPort, cfg.ServerPort())
	}
	if cfg.SyncEnabled() {
		t.Fatalf("expected sync to default to disabled")
	}
	if cfg.DatabaseFile() != filepath.Join(dir, "notes.db") {
		t.Fatalf("unexpected default database file: %s", cfg.DatabaseFile())
	}

	if _, err := os.Stat(filepath.Join(dir, "config.yaml")); err != nil {
		t.Fatalf("expected config.yaml to be written on first load: %v", err)
	}
}

func TestLoad_PersistsDeviceIDAcrossReloads(t *testing.T) {
	dir := t.TempDir()
	first, err := Load(dir)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}
	firstID, err := first.DeviceID()
	if err != nil {
		t.Fatalf("failed to read device id: %v", err)
	}

	second, err := Load(dir)
	if err != nil {
		t.Fatalf("failed to reload config: %v", err)
	}
	secondID, err := second.DeviceID()
	if err != nil {
		t.Fatalf("failed to read reloaded device id: %v", err)
	}

	if firstID != secondID {
		t.Fatalf("expected device id to persist across reloads, got %s then %s", firstID, secondID)
	}
}

func TestAddPeer_RejectsDuplicateByDefault(t *testing.T) {
	cfg, err := Load(t.TempDir())
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}
	peerID := idgen.Hex(idgen.New())

	if err := cfg.AddPeer(peerID, "laptop", "https://10.0.0.5:8384", "", false); err != nil {
		t.Fatalf("failed to add peer: %v", err)
	}
	if err := cfg.AddPeer(peerID, "laptop-renamed", "https://10.0.0.6:8384", "", false); err == nil {
		t.Fatalf("expected adding a duplicate peer without allowUpdate to fail")
	}

	peers := cfg.Peers()
	if len(peers) != 1 || peers[0].PeerURL != "https://10.0.0.5:8384" {
		t.Fatalf("expected the original peer to remain unmodified, got %+v", peers)
	}
}

func TestAddPeer_AllowUpdateOverwritesExisting(t *testing.T) {
	cfg, err := Load(t.TempDir())
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}
	peerID := idgen.Hex(idgen.New())

	if err := cfg.AddPeer(peerID, "laptop", "https://10.0.0.5:8384", "", false); err != nil {
		t.Fatalf("failed to add peer: %v", err)
	}
	if err := cfg.AddPeer(peerID, "laptop", "https://10.0.0.6:8384", "", true); err != nil {
		t.Fatalf("failed to update peer: %v", err)
	}

	peer, ok := cfg.GetPeer(peerID)
	if !ok {
		t.Fatalf("expected peer to still be configured")
	}
	if peer.PeerURL != "https://10.0.0.6:8384" {
		t.Fatalf("expected updated url, got %s", peer.PeerURL)
	}
}

func TestRemovePeer_ReportsWhetherRemoved(t *testing.T) {
	cfg, err := Load(t.TempDir())
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}
	peerID := idgen.Hex(idgen.New())
	if err := cfg.AddPeer(peerID, "laptop", "https://10.0.0.5:8384", "", false); err != nil {
		t.Fatalf("failed to add peer: %v", err)
	}

	removed, err := cfg.RemovePeer(peerID)
	if err != nil || !removed {
		t.Fatalf("expected peer to be removed, got removed=%v err=%v", removed, err)
	}

	removedAgain, err := cfg.RemovePeer(peerID)
	if err != nil || removedAgain {
		t.Fatalf("expected removing an already-removed peer to report false, got %v, %v", removedAgain, err)
	}
}

func TestTOFUFingerprintPinning(t *testing.T) {
	cfg, err := Load(t.TempDir())
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}
	peerID := idgen.Hex(idgen.New())
	if err := cfg.AddPeer(peerID, "laptop", "https://10.0.0.5:8384", "", false); err != nil {
		t.Fatalf("failed to add peer: %v", err)
	}

	if _, pinned := cfg.PinnedFingerprint(peerID); pinned {
		t.Fatalf("expected a freshly added peer to have no pinned fingerprint")
	}

	if err := cfg.PinFingerprint(peerID, "aa:bb:cc"); err != nil {
		t.Fatalf("failed to pin fingerprint: %v", err)
	}

	fp, pinned := cfg.PinnedFingerprint(peerID)
	if !pinned || fp != "aa:bb:cc" {
		t.Fatalf("expected pinned fingerprint aa:bb:cc, got %q (pinned=%v)", fp, pinned)
	}
}

func TestPinFingerprint_UnknownPeer_ReturnsNotFound(t *testing.T) {
	cfg, err := Load(t.TempDir())
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}
	if err := cfg.PinFingerprint(idgen.Hex(idgen.New()), "aa:bb:cc"); err == nil {
		t.Fatalf("expected pinning an unknown peer's fingerprint to fail")
	}
}
