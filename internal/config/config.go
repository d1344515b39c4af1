// Package config loads and persists this device's sync identity and peer
// list. It mirrors the teacher's env-override precedence
// (cmd/server/main.go's env(k, def) helper) using viper's file+environment
// layering instead of a bespoke helper, and the struct shape and
// defaulting rules of the original Rust config.rs (device id/name
// generation-on-absence, certs_dir()).
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"github.com/spf13/viper"

	"github.com/dotancohen/notesync/internal/idgen"
	"github.com/dotancohen/notesync/internal/syncerr"
	"github.com/dotancohen/notesync/internal/validate"
)

// DefaultServerPort is the sync listener's default port (spec.md §4.7,
// ported from the original's default_server_port()).
const DefaultServerPort = 8384

// Peer is one configured sync counterpart.
type Peer struct {
	PeerID                 string `mapstructure:"peer_id" yaml:"peer_id"`
	PeerName               string `mapstructure:"peer_name" yaml:"peer_name"`
	PeerURL                string `mapstructure:"peer_url" yaml:"peer_url"`
	CertificateFingerprint string `mapstructure:"certificate_fingerprint" yaml:"certificate_fingerprint,omitempty"`
}

// SyncConfig holds the sync listener's settings and known peers.
type SyncConfig struct {
	Enabled    bool   `mapstructure:"enabled" yaml:"enabled"`
	ServerPort int    `mapstructure:"server_port" yaml:"server_port"`
	Peers      []Peer `mapstructure:"peers" yaml:"peers"`
}

// Device identifies this installation to its peers.
type Device struct {
	ID   string `mapstructure:"id" yaml:"id"`
	Name string `mapstructure:"name" yaml:"name"`
}

// Data is the full persisted configuration document.
type Data struct {
	DatabaseFile                 string     `mapstructure:"database_file" yaml:"database_file"`
	Device                       Device     `mapstructure:"device" yaml:"device"`
	Sync                         SyncConfig `mapstructure:"sync" yaml:"sync"`
	ServerCertificateFingerprint string     `mapstructure:"server_certificate_fingerprint" yaml:"server_certificate_fingerprint,omitempty"`
}

// Config is the loaded configuration, safe for concurrent peer mutation.
type Config struct {
	mu        sync.Mutex
	v         *viper.Viper
	configDir string
	path      string
	data      Data
}

// Load reads configuration from configDir/config.yaml, creating it with
// defaults (including a freshly generated device id/name) if absent.
// NOTESYNC_-prefixed environment variables override file values, matching
// the teacher's env-override-wins precedence.
func Load(configDir string) (*Config, error) {
	if configDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, syncerr.Storage("failed to resolve home directory", err)
		}
		configDir = filepath.Join(home, ".config", "notesync")
	}
	if err := os.MkdirAll(configDir, 0o700); err != nil {
		return nil, syncerr.Storage("failed to create config directory", err)
	}

	path := filepath.Join(configDir, "config.yaml")

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("NOTESYNC")
	v.AutomaticEnv()

	v.SetDefault("database_file", filepath.Join(configDir, "notes.db"))
	v.SetDefault("device.id", idgen.Hex(idgen.New()))
	v.SetDefault("device.name", defaultDeviceName())
	v.SetDefault("sync.enabled", false)
	v.SetDefault("sync.server_port", DefaultServerPort)

	c := &Config{v: v, configDir: configDir, path: path}

	if err := v.ReadInConfig(); err != nil {
		if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound {
			return nil, syncerr.Storage("failed to read configuration", err)
		}
	}

	if err := v.Unmarshal(&c.data); err != nil {
		return nil, syncerr.Storage("failed to parse configuration", err)
	}
	if _, err := validate.DeviceID(c.data.Device.ID); err != nil {
		return nil, syncerr.Storage("configured device.id is not a valid device id", err)
	}

	if err := c.save(); err != nil {
		return nil, err
	}
	return c, nil
}

func defaultDeviceName() string {
	host, err := os.Hostname()
	if err != nil {
		return "notesync device"
	}
	return fmt.Sprintf("notesync on %s", host)
}

// DeviceID returns this device's id as a UUID.
func (c *Config) DeviceID() (uuid.UUID, error) {
	return idgen.ParseHex(c.data.Device.ID, "device_id")
}

// DeviceName returns the configured human-readable device name.
func (c *Config) DeviceName() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.data.Device.Name
}

// DatabaseFile returns the local store's file path.
func (c *Config) DatabaseFile() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.data.DatabaseFile
}

// ServerPort returns the configured sync listener port.
func (c *Config) ServerPort() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.data.Sync.ServerPort
}

// SyncEnabled reports whether this device should run the sync daemon at
// all (spec.md §4.1's per-device opt-in).
func (c *Config) SyncEnabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.data.Sync.Enabled
}

// CertsDir returns this device's certificate directory, creating it if
// absent (spec.md §4.7's "per-device certificates directory").
func (c *Config) CertsDir() (string, error) {
	dir := filepath.Join(c.configDir, "certs")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", syncerr.Storage("failed to create certificates directory", err)
	}
	return dir, nil
}

// Peers returns a copy of the configured peer list.
func (c *Config) Peers() []Peer {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Peer, len(c.data.Sync.Peers))
	copy(out, c.data.Sync.Peers)
	return out
}

// GetPeer looks up a configured peer by id.
func (c *Config) GetPeer(peerID string) (Peer, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, p := range c.data.Sync.Peers {
		if p.PeerID == peerID {
			return p, true
		}
	}
	return Peer{}, false
}

// AddPeer adds or, if allowUpdate is set, updates a configured peer.
func (c *Config) AddPeer(peerID, peerName, peerURL string, fingerprint string, allowUpdate bool) error {
	if _, err := validate.DeviceID(peerID); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	for i, p := range c.data.Sync.Peers {
		if p.PeerID == peerID {
			if !allowUpdate {
				return syncerr.Validation("peer_id", "peer already exists")
			}
			c.data.Sync.Peers[i].PeerName = peerName
			c.data.Sync.Peers[i].PeerURL = peerURL
			if fingerprint != "" {
				c.data.Sync.Peers[i].CertificateFingerprint = fingerprint
			}
			return c.save()
		}
	}

	c.data.Sync.Peers = append(c.data.Sync.Peers, Peer{
		PeerID:                 peerID,
		PeerName:               peerName,
		PeerURL:                peerURL,
		CertificateFingerprint: fingerprint,
	})
	return c.save()
}

// RemovePeer removes a configured peer, reporting whether one was found.
func (c *Config) RemovePeer(peerID string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	peers := c.data.Sync.Peers
	for i, p := range peers {
		if p.PeerID == peerID {
			c.data.Sync.Peers = append(peers[:i], peers[i+1:]...)
			return true, c.save()
		}
	}
	return false, nil
}

// PinnedFingerprint implements transport.TrustStore: it returns the stored
// fingerprint for peerID, if any.
func (c *Config) PinnedFingerprint(peerID string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, p := range c.data.Sync.Peers {
		if p.PeerID == peerID {
			return p.CertificateFingerprint, p.CertificateFingerprint != ""
		}
	}
	return "", false
}

// PinFingerprint implements transport.TrustStore: it records peerID's
// fingerprint on first contact. Spec §4.7 requires this only ever be
// called for a peer with no existing pin — internal/transport enforces
// that invariant; this method trusts its caller.
func (c *Config) PinFingerprint(peerID, fingerprint string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, p := range c.data.Sync.Peers {
		if p.PeerID == peerID {
			c.data.Sync.Peers[i].CertificateFingerprint = fingerprint
			return c.save()
		}
	}
	return syncerr.NotFound("unknown peer: " + peerID)
}

// SetServerCertificateFingerprint records this device's own certificate
// fingerprint, advertised in handshake responses (spec §4.5).
func (c *Config) SetServerCertificateFingerprint(fingerprint string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data.ServerCertificateFingerprint = fingerprint
	return c.save()
}

// save persists the in-memory document to disk. Callers must hold c.mu.
func (c *Config) save() error {
	c.v.Set("database_file", c.data.DatabaseFile)
	c.v.Set("device.id", c.data.Device.ID)
	c.v.Set("device.name", c.data.Device.Name)
	c.v.Set("sync.enabled", c.data.Sync.Enabled)
	c.v.Set("sync.server_port", c.data.Sync.ServerPort)
	c.v.Set("sync.peers", c.data.Sync.Peers)
	c.v.Set("server_certificate_fingerprint", c.data.ServerCertificateFingerprint)

	if err := c.v.WriteConfigAs(c.path); err != nil {
		return syncerr.Storage("failed to write configuration", err)
	}
	return nil
}
