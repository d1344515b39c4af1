package store

import (
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/dotancohen/notesync/internal/syncerr"
	"github.com/dotancohen/notesync/internal/validate"
)

// CreateTag is a local write primitive. It refuses a name collision among
// the chosen parent's existing (non-deleted) children — names are unique
// per sibling group, case-sensitive.
func (s *Store) CreateTag(name string, parentID *uuid.UUID) (*Tag, error) {
	clean, err := validate.TagName(name)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if parentID != nil {
		if _, err := s.getTagRawLocked(*parentID); err != nil {
			return nil, err
		}
	}
	if collides, err := s.siblingNameCollidesLocked(parentID, clean, nil); err != nil {
		return nil, err
	} else if collides {
		return nil, syncerr.Validation("name", "a sibling tag with this name already exists")
	}

	t := &Tag{
		ID:        uuid.Must(uuid.NewV7()),
		Name:      clean,
		DeviceID:  s.deviceID,
		ParentID:  parentID,
		CreatedAt: now(),
	}
	_, err = s.db.Exec(
		`INSERT INTO tags (id, name, device_id, parent_id, created_at, modified_at, deleted_at) VALUES (?, ?, ?, ?, ?, NULL, NULL)`,
		t.ID[:], t.Name, t.DeviceID[:], parentIDBytes(parentID), formatTime(t.CreatedAt),
	)
	if err != nil {
		return nil, syncerr.Storage("failed to insert tag", err)
	}
	return t, nil
}

// RenameTag is a local write primitive.
func (s *Store) RenameTag(id uuid.UUID, name string) (*Tag, error) {
	clean, err := validate.TagName(name)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, err := s.getTagRawLocked(id)
	if err != nil {
		return nil, err
	}
	if collides, err := s.siblingNameCollidesLocked(existing.ParentID, clean, &id); err != nil {
		return nil, err
	} else if collides {
		return nil, syncerr.Validation("name", "a sibling tag with this name already exists")
	}

	modified := now()
	_, err = s.db.Exec(
		`UPDATE tags SET name = ?, device_id = ?, modified_at = ? WHERE id = ?`,
		clean, s.deviceID[:], formatTime(modified), id[:],
	)
	if err != nil {
		return nil, syncerr.Storage("failed to rename tag", err)
	}
	existing.Name = clean
	existing.DeviceID = s.deviceID
	existing.ModifiedAt = &modified
	return existing, nil
}

// ReparentTag is a local write primitive. It refuses both self-parenting
// and cycles (moving a tag under one of its own descendants).
func (s *Store) ReparentTag(id uuid.UUID, newParentID *uuid.UUID) (*Tag, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, err := s.getTagRawLocked(id)
	if err != nil {
		return nil, err
	}

	if newParentID != nil {
		if *newParentID == id {
			return nil, syncerr.Validation("parent_id", "tag cannot be its own parent")
		}
		if _, err := s.getTagRawLocked(*newParentID); err != nil {
			return nil, err
		}
		introducesCycle, err := s.isDescendantLocked(*newParentID, id)
		if err != nil {
			return nil, err
		}
		if introducesCycle {
			return nil, syncerr.Validation("parent_id", "reparenting would introduce a cycle")
		}
	}
	if collides, err := s.siblingNameCollidesLocked(newParentID, existing.Name, &id); err != nil {
		return nil, err
	} else if collides {
		return nil, syncerr.Validation("parent_id", "a sibling tag with this name already exists under the new parent")
	}

	modified := now()
	_, err = s.db.Exec(
		`UPDATE tags SET parent_id = ?, device_id = ?, modified_at = ? WHERE id = ?`,
		parentIDBytes(newParentID), s.deviceID[:], formatTime(modified), id[:],
	)
	if err != nil {
		return nil, syncerr.Storage("failed to reparent tag", err)
	}
	existing.ParentID = newParentID
	existing.DeviceID = s.deviceID
	existing.ModifiedAt = &modified
	return existing, nil
}

// DeleteTag soft-deletes a tag and cascades the soft delete to every
// note-tag association that referenced it (spec §9, confirmed cascade
// semantics).
func (s *Store) DeleteTag(id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.getTagRawLocked(id); err != nil {
		return err
	}

	tx, err := s.db.Begin()
	if err != nil {
		return syncerr.Storage("failed to begin transaction", err)
	}
	defer tx.Rollback()

	deleted := now()
	if _, err := tx.Exec(
		`UPDATE tags SET device_id = ?, modified_at = ?, deleted_at = ? WHERE id = ?`,
		s.deviceID[:], formatTime(deleted), formatTime(deleted), id[:],
	); err != nil {
		return syncerr.Storage("failed to soft-delete tag", err)
	}
	if _, err := tx.Exec(
		`UPDATE note_tags SET device_id = ?, modified_at = ?, deleted_at = ? WHERE tag_id = ? AND deleted_at IS NULL`,
		s.deviceID[:], formatTime(deleted), formatTime(deleted), id[:],
	); err != nil {
		return syncerr.Storage("failed to cascade-delete note tags", err)
	}
	if err := tx.Commit(); err != nil {
		return syncerr.Storage("failed to commit tag delete", err)
	}
	return nil
}

// RestoreTag clears a tag's deleted_at, used by conflict resolution when
// the user chooses to keep a tag the remote side deleted. It does not
// revive cascaded note-tag associations; those were each soft-deleted with
// their own timestamp and are reconciled independently.
func (s *Store) RestoreTag(id uuid.UUID) (*Tag, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, err := s.getTagRawLocked(id)
	if err != nil {
		return nil, err
	}

	modified := now()
	_, err = s.db.Exec(
		`UPDATE tags SET device_id = ?, modified_at = ?, deleted_at = NULL WHERE id = ?`,
		s.deviceID[:], formatTime(modified), id[:],
	)
	if err != nil {
		return nil, syncerr.Storage("failed to restore tag", err)
	}
	existing.DeviceID = s.deviceID
	existing.ModifiedAt = &modified
	existing.DeletedAt = nil
	return existing, nil
}

// GetTag returns the tag, hiding it if soft-deleted.
func (s *Store) GetTag(id uuid.UUID) (*Tag, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, err := s.getTagRawLocked(id)
	if err != nil {
		return nil, err
	}
	if t.DeletedAt != nil {
		return nil, syncerr.NotFound("tag not found: " + id.String())
	}
	return t, nil
}

// GetTagRaw returns the full row including deleted_at.
func (s *Store) GetTagRaw(id uuid.UUID) (*Tag, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getTagRawLocked(id)
}

func (s *Store) getTagRawLocked(id uuid.UUID) (*Tag, error) {
	row := s.db.QueryRow(
		`SELECT id, name, device_id, parent_id, created_at, modified_at, deleted_at FROM tags WHERE id = ?`,
		id[:],
	)
	t, err := scanTag(row)
	if err == sql.ErrNoRows {
		return nil, syncerr.NotFound("tag not found: " + id.String())
	}
	if err != nil {
		return nil, syncerr.Storage("failed to read tag", err)
	}
	return t, nil
}

// ListTags returns all non-deleted tags.
func (s *Store) ListTags() ([]Tag, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(
		`SELECT id, name, device_id, parent_id, created_at, modified_at, deleted_at FROM tags WHERE deleted_at IS NULL ORDER BY name ASC`,
	)
	if err != nil {
		return nil, syncerr.Storage("failed to list tags", err)
	}
	defer rows.Close()

	var out []Tag
	for rows.Next() {
		t, err := scanTag(rows)
		if err != nil {
			return nil, syncerr.Storage("failed to scan tag", err)
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

// GetTagsByName returns every non-deleted tag with an exact name match —
// used by the "ambiguous tag" warning (spec §4.1, §8 S6).
func (s *Store) GetTagsByName(name string) ([]Tag, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(
		`SELECT id, name, device_id, parent_id, created_at, modified_at, deleted_at FROM tags WHERE name = ? AND deleted_at IS NULL`,
		name,
	)
	if err != nil {
		return nil, syncerr.Storage("failed to query tags by name", err)
	}
	defer rows.Close()

	var out []Tag
	for rows.Next() {
		t, err := scanTag(rows)
		if err != nil {
			return nil, syncerr.Storage("failed to scan tag", err)
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

// IsTagNameAmbiguous reports whether more than one non-deleted tag shares
// the exact given name (spec §8 S6).
func (s *Store) IsTagNameAmbiguous(name string) (bool, error) {
	tags, err := s.GetTagsByName(name)
	if err != nil {
		return false, err
	}
	return len(tags) > 1, nil
}

// GetTagByPath resolves a slash-separated path like "A/B/C" by descending
// the parent tree one segment at a time, returning exactly one match
// disambiguated by path (spec §8 S6).
func (s *Store) GetTagByPath(path string) (*Tag, error) {
	parts, err := validate.TagPath(path)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var parentID *uuid.UUID
	var current *Tag
	for _, part := range parts {
		row := s.db.QueryRow(
			`SELECT id, name, device_id, parent_id, created_at, modified_at, deleted_at
			 FROM tags WHERE name = ? AND deleted_at IS NULL AND ((parent_id IS NULL AND ? IS NULL) OR parent_id = ?)`,
			part, parentIDBytes(parentID), parentIDBytes(parentID),
		)
		t, err := scanTag(row)
		if err == sql.ErrNoRows {
			return nil, syncerr.NotFound("no tag at path segment: " + part)
		}
		if err != nil {
			return nil, syncerr.Storage("failed to resolve tag path", err)
		}
		current = t
		parentID = &t.ID
	}
	return current, nil
}

// ListDescendants returns every descendant of id, transitively, in
// breadth-first order.
func (s *Store) ListDescendants(id uuid.UUID) ([]Tag, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Tag
	frontier := []uuid.UUID{id}
	for len(frontier) > 0 {
		var next []uuid.UUID
		for _, parent := range frontier {
			rows, err := s.db.Query(
				`SELECT id, name, device_id, parent_id, created_at, modified_at, deleted_at FROM tags WHERE parent_id = ? AND deleted_at IS NULL`,
				parent[:],
			)
			if err != nil {
				return nil, syncerr.Storage("failed to list tag descendants", err)
			}
			for rows.Next() {
				t, err := scanTag(rows)
				if err != nil {
					rows.Close()
					return nil, syncerr.Storage("failed to scan tag", err)
				}
				out = append(out, *t)
				next = append(next, t.ID)
			}
			rows.Close()
		}
		frontier = next
	}
	return out, nil
}

// ApplyTag is an apply-sync primitive: upserts unconditionally, preserving
// the peer-supplied timestamps and device id.
func (s *Store) ApplyTag(t Tag) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(
		`INSERT INTO tags (id, name, device_id, parent_id, created_at, modified_at, deleted_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   name = excluded.name,
		   device_id = excluded.device_id,
		   parent_id = excluded.parent_id,
		   modified_at = excluded.modified_at,
		   deleted_at = excluded.deleted_at`,
		t.ID[:], t.Name, t.DeviceID[:], parentIDBytes(t.ParentID), formatTime(t.CreatedAt), formatTimePtr(t.ModifiedAt), formatTimePtr(t.DeletedAt),
	)
	if err != nil {
		return syncerr.Storage("failed to apply tag", err)
	}
	return nil
}

// WouldIntroduceCycle reports whether reparenting id under newParentID
// would create a cycle (self-parenting counts). Used by the Reconciler to
// decide between applying an incoming reparent and recording a tag-parent
// conflict instead (spec §4.4).
func (s *Store) WouldIntroduceCycle(id uuid.UUID, newParentID *uuid.UUID) (bool, error) {
	if newParentID == nil {
		return false, nil
	}
	if *newParentID == id {
		return true, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isDescendantLocked(*newParentID, id)
}

// isDescendantLocked reports whether candidate is a descendant of root
// (used to reject cycle-introducing reparents).
func (s *Store) isDescendantLocked(candidate, root uuid.UUID) (bool, error) {
	current := candidate
	for {
		row := s.db.QueryRow(`SELECT parent_id FROM tags WHERE id = ?`, current[:])
		var parentBytes []byte
		if err := row.Scan(&parentBytes); err != nil {
			if err == sql.ErrNoRows {
				return false, nil
			}
			return false, syncerr.Storage("failed to walk tag ancestry", err)
		}
		if parentBytes == nil {
			return false, nil
		}
		parent, err := uuid.FromBytes(parentBytes)
		if err != nil {
			return false, syncerr.Storage("corrupt parent_id", err)
		}
		if parent == root {
			return true, nil
		}
		current = parent
	}
}

func (s *Store) siblingNameCollidesLocked(parentID *uuid.UUID, name string, excludeID *uuid.UUID) (bool, error) {
	var rows *sql.Rows
	var err error
	if parentID == nil {
		rows, err = s.db.Query(`SELECT id FROM tags WHERE parent_id IS NULL AND name = ? AND deleted_at IS NULL`, name)
	} else {
		rows, err = s.db.Query(`SELECT id FROM tags WHERE parent_id = ? AND name = ? AND deleted_at IS NULL`, (*parentID)[:], name)
	}
	if err != nil {
		return false, syncerr.Storage("failed to check sibling name collision", err)
	}
	defer rows.Close()

	for rows.Next() {
		var idBytes []byte
		if err := rows.Scan(&idBytes); err != nil {
			return false, syncerr.Storage("failed to scan sibling tag id", err)
		}
		id, err := uuid.FromBytes(idBytes)
		if err != nil {
			return false, syncerr.Storage("corrupt tag id", err)
		}
		if excludeID == nil || id != *excludeID {
			return true, nil
		}
	}
	return false, rows.Err()
}

// EffectiveTimestamp returns the tag's effective timestamp per the
// GLOSSARY definition (tags have no deleted_at in the coalesce chain).
func (t Tag) EffectiveTimestamp() time.Time {
	return effectiveTagTimestamp(t.CreatedAt, t.ModifiedAt)
}

func parentIDBytes(id *uuid.UUID) any {
	if id == nil {
		return nil
	}
	return (*id)[:]
}

func scanTag(r rowScanner) (*Tag, error) {
	var (
		idBytes, deviceBytes []byte
		parentBytes          []byte
		name, createdAt      string
		modifiedAt, deletedAt sql.NullString
	)
	if err := r.Scan(&idBytes, &name, &deviceBytes, &parentBytes, &createdAt, &modifiedAt, &deletedAt); err != nil {
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
	t := &Tag{ID: id, Name: name, DeviceID: device, CreatedAt: created}
	if parentBytes != nil {
		p, err := uuid.FromBytes(parentBytes)
		if err != nil {
			return nil, err
		}
		t.ParentID = &p
	}
	if modifiedAt.Valid {
		mt, err := parseTime(modifiedAt.String)
		if err != nil {
			return nil, err
		}
		t.ModifiedAt = &mt
	}
	if deletedAt.Valid {
		dt, err := parseTime(deletedAt.String)
		if err != nil {
			return nil, err
		}
		t.DeletedAt = &dt
	}
	return t, nil
}
