package store

import (
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/dotancohen/notesync/internal/syncerr"
	"github.com/dotancohen/notesync/internal/validate"
)

// CreateNote is a local write primitive: it stamps device_id to this
// Store's own identity and created_at to now().
func (s *Store) CreateNote(content string) (*Note, error) {
	clean, err := validate.NoteContent(content)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	n := &Note{
		ID:        uuid.Must(uuid.NewV7()),
		CreatedAt: now(),
		Content:   clean,
		DeviceID:  s.deviceID,
	}
	_, err = s.db.Exec(
		`INSERT INTO notes (id, created_at, content, device_id, modified_at, deleted_at) VALUES (?, ?, ?, ?, NULL, NULL)`,
		n.ID[:], formatTime(n.CreatedAt), n.Content, n.DeviceID[:],
	)
	if err != nil {
		return nil, syncerr.Storage("failed to insert note", err)
	}
	return n, nil
}

// UpdateNoteContent is a local write primitive.
func (s *Store) UpdateNoteContent(id uuid.UUID, content string) (*Note, error) {
	clean, err := validate.NoteContent(content)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, err := s.getNoteRawLocked(id)
	if err != nil {
		return nil, err
	}

	modified := now()
	_, err = s.db.Exec(
		`UPDATE notes SET content = ?, device_id = ?, modified_at = ? WHERE id = ?`,
		clean, s.deviceID[:], formatTime(modified), id[:],
	)
	if err != nil {
		return nil, syncerr.Storage("failed to update note content", err)
	}

	existing.Content = clean
	existing.DeviceID = s.deviceID
	existing.ModifiedAt = &modified
	return existing, nil
}

// DeleteNote soft-deletes a note and cascades the soft delete to its
// note-tag associations (spec §9: "cascade on tag delete" is confirmed by
// test for tags; the same cascading idiom applies to note deletion so
// memberships do not silently dangle).
func (s *Store) DeleteNote(id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.getNoteRawLocked(id); err != nil {
		return err
	}

	tx, err := s.db.Begin()
	if err != nil {
		return syncerr.Storage("failed to begin transaction", err)
	}
	defer tx.Rollback()

	deleted := now()
	if _, err := tx.Exec(
		`UPDATE notes SET device_id = ?, deleted_at = ? WHERE id = ?`,
		s.deviceID[:], formatTime(deleted), id[:],
	); err != nil {
		return syncerr.Storage("failed to soft-delete note", err)
	}
	if _, err := tx.Exec(
		`UPDATE note_tags SET device_id = ?, modified_at = ?, deleted_at = ? WHERE note_id = ? AND deleted_at IS NULL`,
		s.deviceID[:], formatTime(deleted), formatTime(deleted), id[:],
	); err != nil {
		return syncerr.Storage("failed to cascade-delete note tags", err)
	}
	if err := tx.Commit(); err != nil {
		return syncerr.Storage("failed to commit note delete", err)
	}
	return nil
}

// RestoreNote clears a note's deleted_at, used by conflict resolution when
// the user chooses to keep a note the remote side deleted.
func (s *Store) RestoreNote(id uuid.UUID) (*Note, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, err := s.getNoteRawLocked(id)
	if err != nil {
		return nil, err
	}

	modified := now()
	_, err = s.db.Exec(
		`UPDATE notes SET device_id = ?, modified_at = ?, deleted_at = NULL WHERE id = ?`,
		s.deviceID[:], formatTime(modified), id[:],
	)
	if err != nil {
		return nil, syncerr.Storage("failed to restore note", err)
	}
	existing.DeviceID = s.deviceID
	existing.ModifiedAt = &modified
	existing.DeletedAt = nil
	return existing, nil
}

// GetNote returns the note, hiding it (as NotFound) if soft-deleted — the
// user-facing view.
func (s *Store) GetNote(id uuid.UUID) (*Note, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, err := s.getNoteRawLocked(id)
	if err != nil {
		return nil, err
	}
	if n.DeletedAt != nil {
		return nil, syncerr.NotFound("note not found: " + id.String())
	}
	return n, nil
}

// GetNoteRaw returns the full row including deleted_at, for the
// Reconciler's use.
func (s *Store) GetNoteRaw(id uuid.UUID) (*Note, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getNoteRawLocked(id)
}

func (s *Store) getNoteRawLocked(id uuid.UUID) (*Note, error) {
	row := s.db.QueryRow(
		`SELECT id, created_at, content, device_id, modified_at, deleted_at FROM notes WHERE id = ?`,
		id[:],
	)
	n, err := scanNote(row)
	if err == sql.ErrNoRows {
		return nil, syncerr.NotFound("note not found: " + id.String())
	}
	if err != nil {
		return nil, syncerr.Storage("failed to read note", err)
	}
	return n, nil
}

// ListNotes returns all non-deleted notes.
func (s *Store) ListNotes() ([]Note, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(
		`SELECT id, created_at, content, device_id, modified_at, deleted_at FROM notes WHERE deleted_at IS NULL ORDER BY created_at ASC`,
	)
	if err != nil {
		return nil, syncerr.Storage("failed to list notes", err)
	}
	defer rows.Close()

	var out []Note
	for rows.Next() {
		n, err := scanNote(rows)
		if err != nil {
			return nil, syncerr.Storage("failed to scan note", err)
		}
		out = append(out, *n)
	}
	return out, rows.Err()
}

// ApplyNote is an apply-sync primitive: it upserts the full row
// unconditionally, preserving the peer-supplied timestamps and device id.
// It is the Reconciler's responsibility to decide whether this should be
// called; ApplyNote itself never creates a conflict record.
func (s *Store) ApplyNote(n Note) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(
		`INSERT INTO notes (id, created_at, content, device_id, modified_at, deleted_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   content = excluded.content,
		   device_id = excluded.device_id,
		   modified_at = excluded.modified_at,
		   deleted_at = excluded.deleted_at`,
		n.ID[:], formatTime(n.CreatedAt), n.Content, n.DeviceID[:], formatTimePtr(n.ModifiedAt), formatTimePtr(n.DeletedAt),
	)
	if err != nil {
		return syncerr.Storage("failed to apply note", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanNote(r rowScanner) (*Note, error) {
	var (
		idBytes, deviceBytes []byte
		createdAt            string
		content              string
		modifiedAt, deletedAt sql.NullString
	)
	if err := r.Scan(&idBytes, &createdAt, &content, &deviceBytes, &modifiedAt, &deletedAt); err != nil {
		return nil, err
	}
	id, err := uuid.FromBytes(idBytes)
	if err != nil {
		return nil, err
	}
	device, err := uuid.FromBytes(deviceBytes)
	if err != nil {
		return nil, err
	}
	created, err := parseTime(createdAt)
	if err != nil {
		return nil, err
	}
	n := &Note{ID: id, CreatedAt: created, Content: content, DeviceID: device}
	if modifiedAt.Valid {
		t, err := parseTime(modifiedAt.String)
		if err != nil {
			return nil, err
		}
		n.ModifiedAt = &t
	}
	if deletedAt.Valid {
		t, err := parseTime(deletedAt.String)
		if err != nil {
			return nil, err
		}
		n.DeletedAt = &t
	}
	return n, nil
}

// EffectiveTimestamp returns the note's effective timestamp per the
// GLOSSARY definition.
func (n Note) EffectiveTimestamp() time.Time {
	return effectiveTimestamp(n.CreatedAt, n.ModifiedAt, n.DeletedAt)
}
