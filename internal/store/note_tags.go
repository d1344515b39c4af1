package store

import (
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/dotancohen/notesync/internal/syncerr"
)

// AttachTag is a local write primitive associating a tag with a note. Both
// referenced entities must exist (may be soft-deleted, per spec §3's
// invariant that a NoteTag row's referents need only exist, not be active).
func (s *Store) AttachTag(noteID, tagID uuid.UUID) (*NoteTag, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.getNoteRawLocked(noteID); err != nil {
		return nil, err
	}
	if _, err := s.getTagRawLocked(tagID); err != nil {
		return nil, err
	}

	existing, err := s.getNoteTagRawLocked(noteID, tagID)
	if err == nil {
		// Re-attaching an association that already exists (possibly
		// soft-deleted) reactivates it as a local write.
		modified := now()
		_, err = s.db.Exec(
			`UPDATE note_tags SET device_id = ?, modified_at = ?, deleted_at = NULL WHERE note_id = ? AND tag_id = ?`,
			s.deviceID[:], formatTime(modified), noteID[:], tagID[:],
		)
		if err != nil {
			return nil, syncerr.Storage("failed to reactivate note tag", err)
		}
		existing.DeviceID = s.deviceID
		existing.ModifiedAt = &modified
		existing.DeletedAt = nil
		return existing, nil
	}
	if !syncerr.Is(err, syncerr.KindNotFound) {
		return nil, err
	}

	nt := &NoteTag{NoteID: noteID, TagID: tagID, CreatedAt: now(), DeviceID: s.deviceID}
	_, err = s.db.Exec(
		`INSERT INTO note_tags (note_id, tag_id, created_at, device_id, modified_at, deleted_at) VALUES (?, ?, ?, ?, NULL, NULL)`,
		noteID[:], tagID[:], formatTime(nt.CreatedAt), s.deviceID[:],
	)
	if err != nil {
		return nil, syncerr.Storage("failed to attach tag", err)
	}
	return nt, nil
}

// DetachTag is a local write primitive soft-deleting the association.
func (s *Store) DetachTag(noteID, tagID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.getNoteTagRawLocked(noteID, tagID); err != nil {
		return err
	}

	deleted := now()
	_, err := s.db.Exec(
		`UPDATE note_tags SET device_id = ?, modified_at = ?, deleted_at = ? WHERE note_id = ? AND tag_id = ?`,
		s.deviceID[:], formatTime(deleted), formatTime(deleted), noteID[:], tagID[:],
	)
	if err != nil {
		return syncerr.Storage("failed to detach tag", err)
	}
	return nil
}

// GetNoteTagRaw returns the association row regardless of soft-delete state.
func (s *Store) GetNoteTagRaw(noteID, tagID uuid.UUID) (*NoteTag, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getNoteTagRawLocked(noteID, tagID)
}

func (s *Store) getNoteTagRawLocked(noteID, tagID uuid.UUID) (*NoteTag, error) {
	row := s.db.QueryRow(
		`SELECT note_id, tag_id, created_at, device_id, modified_at, deleted_at FROM note_tags WHERE note_id = ? AND tag_id = ?`,
		noteID[:], tagID[:],
	)
	nt, err := scanNoteTag(row)
	if err == sql.ErrNoRows {
		return nil, syncerr.NotFound("note tag not found")
	}
	if err != nil {
		return nil, syncerr.Storage("failed to read note tag", err)
	}
	return nt, nil
}

// FilterNotesByTags returns notes associated (actively) with every tag id
// in the conjunction.
func (s *Store) FilterNotesByTags(tagIDs []uuid.UUID) ([]Note, error) {
	if len(tagIDs) == 0 {
		return s.ListNotes()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	placeholders := ""
	args := make([]any, 0, len(tagIDs)+1)
	for i, id := range tagIDs {
		if i > 0 {
			placeholders += ","
		}
		placeholders += "?"
		args = append(args, id[:])
	}
	args = append(args, len(tagIDs))

	query := `
		SELECT n.id, n.created_at, n.content, n.device_id, n.modified_at, n.deleted_at
		FROM notes n
		JOIN note_tags nt ON nt.note_id = n.id AND nt.deleted_at IS NULL
		WHERE n.deleted_at IS NULL AND nt.tag_id IN (` + placeholders + `)
		GROUP BY n.id
		HAVING COUNT(DISTINCT nt.tag_id) = ?
		ORDER BY n.created_at ASC`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, syncerr.Storage("failed to filter notes by tags", err)
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

// ApplyNoteTag is an apply-sync primitive: upserts unconditionally.
func (s *Store) ApplyNoteTag(nt NoteTag) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(
		`INSERT INTO note_tags (note_id, tag_id, created_at, device_id, modified_at, deleted_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(note_id, tag_id) DO UPDATE SET
		   device_id = excluded.device_id,
		   modified_at = excluded.modified_at,
		   deleted_at = excluded.deleted_at`,
		nt.NoteID[:], nt.TagID[:], formatTime(nt.CreatedAt), nt.DeviceID[:], formatTimePtr(nt.ModifiedAt), formatTimePtr(nt.DeletedAt),
	)
	if err != nil {
		return syncerr.Storage("failed to apply note tag", err)
	}
	return nil
}

func scanNoteTag(r rowScanner) (*NoteTag, error) {
	var (
		noteBytes, tagBytes, deviceBytes []byte
		createdAt                       string
		modifiedAt, deletedAt           sql.NullString
	)
	if err := r.Scan(&noteBytes, &tagBytes, &createdAt, &deviceBytes, &modifiedAt, &deletedAt); err != nil {
		return nil, err
	}
	noteID, err := uuid.FromBytes(noteBytes)
	if err != nil {
		return nil, err
	}
	tagID, err := uuid.FromBytes(tagBytes)
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
	nt := &NoteTag{NoteID: noteID, TagID: tagID, CreatedAt: created, DeviceID: device}
	if modifiedAt.Valid {
		t, err := parseTime(modifiedAt.String)
		if err != nil {
			return nil, err
		}
		nt.ModifiedAt = &t
	}
	if deletedAt.Valid {
		t, err := parseTime(deletedAt.String)
		if err != nil {
			return nil, err
		}
		nt.DeletedAt = &t
	}
	return nt, nil
}

// EffectiveTimestamp returns the association's effective timestamp.
func (nt NoteTag) EffectiveTimestamp() time.Time {
	return effectiveTimestamp(nt.CreatedAt, nt.ModifiedAt, nt.DeletedAt)
}
