// Package store implements the local, per-device relational database: one
// sqlite file holding notes, tags, note-tag associations, per-peer sync
// watermarks, and one conflict table per kind.
//
// All access goes through a single exclusive mutex (spec §5: "no
// reader/writer split is specified"). The local device id is threaded
// through the constructor rather than held in process-global state, so
// tests can open multiple independent stores in one process.
package store

import (
	"database/sql"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	_ "modernc.org/sqlite"

	"github.com/dotancohen/notesync/internal/syncerr"
)

// Store is the local, single-device database handle.
type Store struct {
	db       *sql.DB
	mu       sync.Mutex
	deviceID uuid.UUID
	log      zerolog.Logger
}

// Open opens (creating if absent) the sqlite file at path, applies any
// pending schema migrations, and returns a ready Store bound to
// localDeviceID — the identity stamped on every local write.
func Open(path string, localDeviceID uuid.UUID) (*Store, error) {
	dsn := fmt.Sprintf("%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, syncerr.Storage("failed to open database file", err)
	}
	db.SetMaxOpenConns(1) // single sqlite connection; the store mutex already serializes access

	s := &Store{
		db:       db,
		deviceID: localDeviceID,
		log:      log.With().Str("component", "store").Str("path", path).Logger(),
	}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}

	s.log.Info().Msg("store opened")
	return s, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// DeviceID returns the local device identity this Store stamps on local
// writes.
func (s *Store) DeviceID() uuid.UUID {
	return s.deviceID
}
