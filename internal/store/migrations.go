package store

import (
	"database/sql"
	"fmt"
	"sort"

	"github.com/dotancohen/notesync/internal/syncerr"
)

// migration is one idempotent schema step. Migrations never destroy user
// data (spec §4.1).
type migration struct {
	version     int
	description string
	up          func(*sql.Tx) error
}

func migrations() []migration {
	return []migration{
		{
			version:     1,
			description: "initial schema: notes, tags, note_tags, sync_peers, conflict tables, meta",
			up: func(tx *sql.Tx) error {
				stmts := []string{
					`CREATE TABLE IF NOT EXISTS meta (
						key   TEXT PRIMARY KEY,
						value TEXT NOT NULL
					)`,
					`CREATE TABLE IF NOT EXISTS notes (
						id          BLOB PRIMARY KEY,
						created_at  TEXT NOT NULL,
						content     TEXT NOT NULL,
						device_id   BLOB NOT NULL,
						modified_at TEXT,
						deleted_at  TEXT
					)`,
					`CREATE TABLE IF NOT EXISTS tags (
						id          BLOB PRIMARY KEY,
						name        TEXT NOT NULL,
						device_id   BLOB NOT NULL,
						parent_id   BLOB,
						created_at  TEXT NOT NULL,
						modified_at TEXT,
						deleted_at  TEXT
					)`,
					`CREATE INDEX IF NOT EXISTS idx_tags_parent_name ON tags(parent_id, name)`,
					`CREATE TABLE IF NOT EXISTS note_tags (
						note_id     BLOB NOT NULL,
						tag_id      BLOB NOT NULL,
						created_at  TEXT NOT NULL,
						device_id   BLOB NOT NULL,
						modified_at TEXT,
						deleted_at  TEXT,
						PRIMARY KEY (note_id, tag_id)
					)`,
					`CREATE INDEX IF NOT EXISTS idx_note_tags_tag ON note_tags(tag_id)`,
					`CREATE TABLE IF NOT EXISTS sync_peers (
						peer_id      BLOB PRIMARY KEY,
						peer_name    TEXT,
						last_sync_at TEXT
					)`,
					`CREATE TABLE IF NOT EXISTS conflicts_note_content (
						id                 BLOB PRIMARY KEY,
						note_id            BLOB NOT NULL,
						local_content      TEXT NOT NULL,
						remote_content     TEXT NOT NULL,
						local_timestamp    TEXT NOT NULL,
						remote_timestamp   TEXT NOT NULL,
						remote_device_id   BLOB,
						remote_device_name TEXT,
						created_at         TEXT NOT NULL,
						resolved_at        TEXT,
						resolution_content TEXT
					)`,
					`CREATE TABLE IF NOT EXISTS conflicts_note_delete (
						id                 BLOB PRIMARY KEY,
						note_id            BLOB NOT NULL,
						local_content      TEXT,
						remote_deleted_at  TEXT,
						local_timestamp    TEXT NOT NULL,
						remote_timestamp   TEXT NOT NULL,
						remote_device_id   BLOB,
						remote_device_name TEXT,
						created_at         TEXT NOT NULL,
						resolved_at        TEXT,
						resolution         TEXT
					)`,
					`CREATE TABLE IF NOT EXISTS conflicts_tag_rename (
						id                 BLOB PRIMARY KEY,
						tag_id             BLOB NOT NULL,
						local_name         TEXT NOT NULL,
						remote_name        TEXT NOT NULL,
						local_timestamp    TEXT NOT NULL,
						remote_timestamp   TEXT NOT NULL,
						remote_device_id   BLOB,
						remote_device_name TEXT,
						created_at         TEXT NOT NULL,
						resolved_at        TEXT,
						resolution_name    TEXT
					)`,
					`CREATE TABLE IF NOT EXISTS conflicts_tag_parent (
						id                    BLOB PRIMARY KEY,
						tag_id                BLOB NOT NULL,
						local_parent_id       BLOB,
						remote_parent_id      BLOB,
						local_timestamp       TEXT NOT NULL,
						remote_timestamp      TEXT NOT NULL,
						remote_device_id      BLOB,
						remote_device_name    TEXT,
						created_at            TEXT NOT NULL,
						resolved_at           TEXT,
						resolution_parent_id  BLOB
					)`,
					`CREATE TABLE IF NOT EXISTS conflicts_tag_delete (
						id                 BLOB PRIMARY KEY,
						tag_id             BLOB NOT NULL,
						local_timestamp    TEXT NOT NULL,
						remote_timestamp   TEXT NOT NULL,
						remote_device_id   BLOB,
						remote_device_name TEXT,
						created_at         TEXT NOT NULL,
						resolved_at        TEXT,
						resolution         TEXT
					)`,
					`CREATE TABLE IF NOT EXISTS conflicts_note_tag (
						id                 BLOB PRIMARY KEY,
						note_id            BLOB NOT NULL,
						tag_id             BLOB NOT NULL,
						local_deleted_at   TEXT,
						remote_deleted_at  TEXT,
						local_timestamp    TEXT NOT NULL,
						remote_timestamp   TEXT NOT NULL,
						remote_device_id   BLOB,
						remote_device_name TEXT,
						created_at         TEXT NOT NULL,
						resolved_at        TEXT,
						resolution         TEXT
					)`,
				}
				for _, stmt := range stmts {
					if _, err := tx.Exec(stmt); err != nil {
						return fmt.Errorf("exec %q: %w", stmt, err)
					}
				}
				return nil
			},
		},
	}
}

// migrate brings the schema up to the latest version, recording progress in
// the meta table's "schema_version" row.
func (s *Store) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS meta (key TEXT PRIMARY KEY, value TEXT NOT NULL)`); err != nil {
		return syncerr.Storage("failed to initialize meta table", err)
	}

	current, err := s.schemaVersion()
	if err != nil {
		return err
	}

	all := migrations()
	sort.Slice(all, func(i, j int) bool { return all[i].version < all[j].version })

	target := 0
	for _, m := range all {
		if m.version > target {
			target = m.version
		}
	}
	if current > target {
		return syncerr.Storage(fmt.Sprintf("database schema version (%d) is newer than this binary supports (%d)", current, target), nil)
	}

	for _, m := range all {
		if m.version <= current {
			continue
		}
		if err := s.runMigration(m); err != nil {
			return syncerr.Storage(fmt.Sprintf("migration %d (%s) failed", m.version, m.description), err)
		}
		s.log.Info().Int("version", m.version).Str("description", m.description).Msg("applied migration")
	}
	return nil
}

func (s *Store) schemaVersion() (int, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM meta WHERE key = 'schema_version'`).Scan(&value)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, syncerr.Storage("failed to read schema version", err)
	}
	var version int
	if _, err := fmt.Sscanf(value, "%d", &version); err != nil {
		return 0, syncerr.Storage("malformed schema_version value", err)
	}
	return version, nil
}

func (s *Store) runMigration(m migration) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := m.up(tx); err != nil {
		tx.Rollback()
		return err
	}
	if _, err := tx.Exec(
		`INSERT INTO meta (key, value) VALUES ('schema_version', ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		fmt.Sprintf("%d", m.version),
	); err != nil {
		tx.Rollback()
		return fmt.Errorf("record schema version: %w", err)
	}
	return tx.Commit()
}
