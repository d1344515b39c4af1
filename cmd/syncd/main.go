// Command syncd is the sync daemon: it serves the five sync protocol
// endpoints over mutually-suspicious TLS and periodically pulls/pushes
// against every configured peer in the background.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dotancohen/notesync/internal/conflict"
	"github.com/dotancohen/notesync/internal/config"
	"github.com/dotancohen/notesync/internal/idgen"
	"github.com/dotancohen/notesync/internal/protocol"
	"github.com/dotancohen/notesync/internal/reconcile"
	"github.com/dotancohen/notesync/internal/store"
	"github.com/dotancohen/notesync/internal/syncclient"
	"github.com/dotancohen/notesync/internal/transport"
)

func env(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

// defaultSyncInterval is how often the background loop calls SyncAll
// against every configured peer. It is a fixed constant: neither the
// on-disk config nor the environment changes it.
const defaultSyncInterval = 5 * time.Minute

func main() {
	zerolog.TimeFieldFormat = time.RFC3339Nano
	log.Logger = log.With().Str("service", "syncd").Logger()

	if env("ENV", "") == "dev" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"})
	}

	cfg, err := config.Load(env("NOTESYNC_CONFIG_DIR", ""))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	if !cfg.SyncEnabled() {
		log.Info().Msg("sync.enabled is false in config, exiting")
		return
	}

	deviceID, err := cfg.DeviceID()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid device id in config")
	}

	certsDir, err := cfg.CertsDir()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to prepare certs directory")
	}
	certPath := certsDir + "/device.crt"
	keyPath := certsDir + "/device.key"

	identity, err := transport.EnsureIdentity(certPath, keyPath, deviceID)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to establish device TLS identity")
	}
	if err := cfg.SetServerCertificateFingerprint(identity.Fingerprint); err != nil {
		log.Fatal().Err(err).Msg("failed to persist certificate fingerprint")
	}
	log.Info().Str("fingerprint", identity.Fingerprint).Msg("device TLS identity ready")

	db, err := store.Open(cfg.DatabaseFile(), deviceID)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open local store")
	}
	defer db.Close()

	conflicts := conflict.New(db)
	reconciler := reconcile.New(db, conflicts, log.Logger)
	client := syncclient.New(cfg, db, reconciler, log.Logger)

	srv := &protocol.Server{
		Store:      db,
		Reconciler: reconciler,
		DeviceID:   idgen.Hex(deviceID),
		DeviceName: cfg.DeviceName(),
		Log:        log.Logger,
	}

	httpAddr := env("SYNCD_ADDR", "")
	if httpAddr == "" {
		httpAddr = fmt.Sprintf(":%d", cfg.ServerPort())
	}

	httpServer := &http.Server{
		Addr:         httpAddr,
		Handler:      srv.Routes(),
		TLSConfig:    transport.ServerConfig(identity),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Info().Str("addr", httpAddr).Msg("starting sync server")
		if err := httpServer.ListenAndServeTLS("", ""); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("sync server failed")
		}
	}()

	ctx, stopLoop := context.WithCancel(context.Background())
	go runSyncLoop(ctx, client, log.Logger)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Info().Msg("shutting down gracefully...")
	stopLoop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("sync server shutdown error")
	}

	log.Info().Msg("syncd stopped")
}

// runSyncLoop calls SyncAll on a ticker until ctx is cancelled. Every
// peer failure is logged and skipped (spec §4.6): one unreachable peer
// never blocks the others or stops the loop itself.
func runSyncLoop(ctx context.Context, client *syncclient.Client, logger zerolog.Logger) {
	ticker := time.NewTicker(defaultSyncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			results := client.SyncAll(ctx)
			for _, r := range results {
				if r.Err != nil {
					logger.Warn().Str("peer_id", r.PeerID).Err(r.Err).Msg("background sync with peer failed")
					continue
				}
				logger.Info().
					Str("peer_id", r.PeerID).
					Int("applied", r.Applied).
					Int("conflicts", r.Conflicts).
					Int("pushed", r.Pushed).
					Msg("background sync with peer completed")
			}
		}
	}
}
