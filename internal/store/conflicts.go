package store

import (
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/dotancohen/notesync/internal/idgen"
	"github.com/dotancohen/notesync/internal/syncerr"
)

// conflictBase holds the fields common to every conflict table.
type conflictBase struct {
	ID               uuid.UUID
	RemoteDeviceID   *uuid.UUID
	RemoteDeviceName *string
	CreatedAt        time.Time
	ResolvedAt       *time.Time
}

// NoteContentConflict pins a diverged note body pending user resolution.
type NoteContentConflict struct {
	conflictBase
	NoteID            uuid.UUID
	LocalContent      string
	RemoteContent     string
	LocalTimestamp    time.Time
	RemoteTimestamp   time.Time
	ResolutionContent *string
}

// NoteDeleteConflict pins a local edit against a remote delete (or vice
// versa) pending a restore-or-confirm decision.
type NoteDeleteConflict struct {
	conflictBase
	NoteID          uuid.UUID
	LocalContent    *string
	RemoteDeletedAt *time.Time
	LocalTimestamp  time.Time
	RemoteTimestamp time.Time
	Resolution      *string // "restore" | "confirm"
}

// TagRenameConflict pins a diverged tag name.
type TagRenameConflict struct {
	conflictBase
	TagID           uuid.UUID
	LocalName       string
	RemoteName      string
	LocalTimestamp  time.Time
	RemoteTimestamp time.Time
	ResolutionName  *string
}

// TagParentConflict pins a diverged tag parent (reparent collision, or a
// would-be cycle).
type TagParentConflict struct {
	conflictBase
	TagID               uuid.UUID
	LocalParentID       *uuid.UUID
	RemoteParentID      *uuid.UUID
	LocalTimestamp      time.Time
	RemoteTimestamp     time.Time
	ResolutionParentID  *uuid.UUID
}

// TagDeleteConflict pins a diverged tag delete state.
type TagDeleteConflict struct {
	conflictBase
	TagID           uuid.UUID
	LocalTimestamp  time.Time
	RemoteTimestamp time.Time
	Resolution      *string // "restore" | "confirm"
}

// NoteTagConflict pins a diverged note-tag membership state.
type NoteTagConflict struct {
	conflictBase
	NoteID          uuid.UUID
	TagID           uuid.UUID
	LocalDeletedAt  *time.Time
	RemoteDeletedAt *time.Time
	LocalTimestamp  time.Time
	RemoteTimestamp time.Time
	Resolution      *string
}

// CreateNoteContentConflict inserts a row, or returns the existing id if an
// identical (note_id, local_timestamp, remote_timestamp) triple was already
// recorded — re-running a sync must not duplicate conflict records.
func (s *Store) CreateNoteContentConflict(noteID uuid.UUID, localContent, remoteContent string, localTS, remoteTS time.Time, remoteDevice *uuid.UUID, remoteDeviceName *string) (uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var existing []byte
	err := s.db.QueryRow(
		`SELECT id FROM conflicts_note_content WHERE note_id = ? AND local_timestamp = ? AND remote_timestamp = ?`,
		noteID[:], formatTime(localTS), formatTime(remoteTS),
	).Scan(&existing)
	if err == nil {
		id, err := uuid.FromBytes(existing)
		if err != nil {
			return uuid.Nil, syncerr.Storage("corrupt conflict id", err)
		}
		return id, nil
	}
	if err != sql.ErrNoRows {
		return uuid.Nil, syncerr.Storage("failed to check existing conflict", err)
	}

	id := idgen.New()
	_, err = s.db.Exec(
		`INSERT INTO conflicts_note_content
		 (id, note_id, local_content, remote_content, local_timestamp, remote_timestamp, remote_device_id, remote_device_name, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id[:], noteID[:], localContent, remoteContent, formatTime(localTS), formatTime(remoteTS),
		uuidBytesPtr(remoteDevice), nullableString(remoteDeviceName), formatTime(now()),
	)
	if err != nil {
		return uuid.Nil, syncerr.Storage("failed to insert note-content conflict", err)
	}
	return id, nil
}

// ListNoteContentConflicts returns unresolved conflicts by default;
// includeResolved also returns resolved ones.
func (s *Store) ListNoteContentConflicts(includeResolved bool) ([]NoteContentConflict, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `SELECT id, note_id, local_content, remote_content, local_timestamp, remote_timestamp,
	          remote_device_id, remote_device_name, created_at, resolved_at, resolution_content
	          FROM conflicts_note_content`
	if !includeResolved {
		query += ` WHERE resolved_at IS NULL`
	}
	rows, err := s.db.Query(query)
	if err != nil {
		return nil, syncerr.Storage("failed to list note-content conflicts", err)
	}
	defer rows.Close()

	var out []NoteContentConflict
	for rows.Next() {
		var (
			idBytes, noteBytes, remoteDeviceBytes  []byte
			localContent, remoteContent            string
			localTS, remoteTS, createdAt            string
			remoteDeviceName, resolvedAt, resContent sql.NullString
		)
		if err := rows.Scan(&idBytes, &noteBytes, &localContent, &remoteContent, &localTS, &remoteTS,
			&remoteDeviceBytes, &remoteDeviceName, &createdAt, &resolvedAt, &resContent); err != nil {
			return nil, syncerr.Storage("failed to scan note-content conflict", err)
		}
		c := NoteContentConflict{LocalContent: localContent, RemoteContent: remoteContent}
		c.ID, _ = uuid.FromBytes(idBytes)
		c.NoteID, _ = uuid.FromBytes(noteBytes)
		c.LocalTimestamp, _ = parseTime(localTS)
		c.RemoteTimestamp, _ = parseTime(remoteTS)
		c.CreatedAt, _ = parseTime(createdAt)
		c.RemoteDeviceID = uuidBytesToPtr(remoteDeviceBytes)
		if remoteDeviceName.Valid {
			c.RemoteDeviceName = &remoteDeviceName.String
		}
		if resolvedAt.Valid {
			t, _ := parseTime(resolvedAt.String)
			c.ResolvedAt = &t
		}
		if resContent.Valid {
			c.ResolutionContent = &resContent.String
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// MarkNoteContentConflictResolved stamps resolved_at and the chosen
// content on the conflict record itself. Applying that content to the
// note is the caller's (internal/conflict's) responsibility, via the
// local write path.
func (s *Store) MarkNoteContentConflictResolved(id uuid.UUID, resolutionContent string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(
		`UPDATE conflicts_note_content SET resolved_at = ?, resolution_content = ? WHERE id = ? AND resolved_at IS NULL`,
		formatTime(now()), resolutionContent, id[:],
	)
	if err != nil {
		return syncerr.Storage("failed to resolve note-content conflict", err)
	}
	return checkResolvedRow(res, id)
}

// CreateNoteDeleteConflict is idempotent on (note_id, local_timestamp, remote_timestamp).
func (s *Store) CreateNoteDeleteConflict(noteID uuid.UUID, localContent *string, remoteDeletedAt *time.Time, localTS, remoteTS time.Time, remoteDevice *uuid.UUID, remoteDeviceName *string) (uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var existing []byte
	err := s.db.QueryRow(
		`SELECT id FROM conflicts_note_delete WHERE note_id = ? AND local_timestamp = ? AND remote_timestamp = ?`,
		noteID[:], formatTime(localTS), formatTime(remoteTS),
	).Scan(&existing)
	if err == nil {
		id, _ := uuid.FromBytes(existing)
		return id, nil
	}
	if err != sql.ErrNoRows {
		return uuid.Nil, syncerr.Storage("failed to check existing conflict", err)
	}

	id := idgen.New()
	_, err = s.db.Exec(
		`INSERT INTO conflicts_note_delete
		 (id, note_id, local_content, remote_deleted_at, local_timestamp, remote_timestamp, remote_device_id, remote_device_name, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id[:], noteID[:], nullableString(localContent), formatTimePtr(remoteDeletedAt), formatTime(localTS), formatTime(remoteTS),
		uuidBytesPtr(remoteDevice), nullableString(remoteDeviceName), formatTime(now()),
	)
	if err != nil {
		return uuid.Nil, syncerr.Storage("failed to insert note-delete conflict", err)
	}
	return id, nil
}

// ListNoteDeleteConflicts returns unresolved conflicts by default.
func (s *Store) ListNoteDeleteConflicts(includeResolved bool) ([]NoteDeleteConflict, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `SELECT id, note_id, local_content, remote_deleted_at, local_timestamp, remote_timestamp,
	          remote_device_id, remote_device_name, created_at, resolved_at, resolution
	          FROM conflicts_note_delete`
	if !includeResolved {
		query += ` WHERE resolved_at IS NULL`
	}
	rows, err := s.db.Query(query)
	if err != nil {
		return nil, syncerr.Storage("failed to list note-delete conflicts", err)
	}
	defer rows.Close()

	var out []NoteDeleteConflict
	for rows.Next() {
		var (
			idBytes, noteBytes, remoteDeviceBytes []byte
			localContent, remoteDeletedAt         sql.NullString
			localTS, remoteTS, createdAt          string
			remoteDeviceName, resolvedAt, res     sql.NullString
		)
		if err := rows.Scan(&idBytes, &noteBytes, &localContent, &remoteDeletedAt, &localTS, &remoteTS,
			&remoteDeviceBytes, &remoteDeviceName, &createdAt, &resolvedAt, &res); err != nil {
			return nil, syncerr.Storage("failed to scan note-delete conflict", err)
		}
		c := NoteDeleteConflict{}
		c.ID, _ = uuid.FromBytes(idBytes)
		c.NoteID, _ = uuid.FromBytes(noteBytes)
		if localContent.Valid {
			c.LocalContent = &localContent.String
		}
		if remoteDeletedAt.Valid {
			t, _ := parseTime(remoteDeletedAt.String)
			c.RemoteDeletedAt = &t
		}
		c.LocalTimestamp, _ = parseTime(localTS)
		c.RemoteTimestamp, _ = parseTime(remoteTS)
		c.CreatedAt, _ = parseTime(createdAt)
		c.RemoteDeviceID = uuidBytesToPtr(remoteDeviceBytes)
		if remoteDeviceName.Valid {
			c.RemoteDeviceName = &remoteDeviceName.String
		}
		if resolvedAt.Valid {
			t, _ := parseTime(resolvedAt.String)
			c.ResolvedAt = &t
		}
		if res.Valid {
			c.Resolution = &res.String
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// MarkNoteDeleteConflictResolved stamps the record with the user's
// restore/confirm decision.
func (s *Store) MarkNoteDeleteConflictResolved(id uuid.UUID, resolution string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(
		`UPDATE conflicts_note_delete SET resolved_at = ?, resolution = ? WHERE id = ? AND resolved_at IS NULL`,
		formatTime(now()), resolution, id[:],
	)
	if err != nil {
		return syncerr.Storage("failed to resolve note-delete conflict", err)
	}
	return checkResolvedRow(res, id)
}

// CreateTagRenameConflict is idempotent on (tag_id, local_timestamp, remote_timestamp).
func (s *Store) CreateTagRenameConflict(tagID uuid.UUID, localName, remoteName string, localTS, remoteTS time.Time, remoteDevice *uuid.UUID, remoteDeviceName *string) (uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createSimpleConflictLocked("conflicts_tag_rename", "tag_id", tagID, localTS, remoteTS,
		func(id uuid.UUID) (sql.Result, error) {
			return s.db.Exec(
				`INSERT INTO conflicts_tag_rename (id, tag_id, local_name, remote_name, local_timestamp, remote_timestamp, remote_device_id, remote_device_name, created_at)
				 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				id[:], tagID[:], localName, remoteName, formatTime(localTS), formatTime(remoteTS),
				uuidBytesPtr(remoteDevice), nullableString(remoteDeviceName), formatTime(now()),
			)
		})
}

// ListTagRenameConflicts returns unresolved conflicts by default.
func (s *Store) ListTagRenameConflicts(includeResolved bool) ([]TagRenameConflict, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `SELECT id, tag_id, local_name, remote_name, local_timestamp, remote_timestamp,
	          remote_device_id, remote_device_name, created_at, resolved_at, resolution_name
	          FROM conflicts_tag_rename`
	if !includeResolved {
		query += ` WHERE resolved_at IS NULL`
	}
	rows, err := s.db.Query(query)
	if err != nil {
		return nil, syncerr.Storage("failed to list tag-rename conflicts", err)
	}
	defer rows.Close()

	var out []TagRenameConflict
	for rows.Next() {
		var (
			idBytes, tagBytes, remoteDeviceBytes []byte
			localName, remoteName                string
			localTS, remoteTS, createdAt          string
			remoteDeviceName, resolvedAt, resName sql.NullString
		)
		if err := rows.Scan(&idBytes, &tagBytes, &localName, &remoteName, &localTS, &remoteTS,
			&remoteDeviceBytes, &remoteDeviceName, &createdAt, &resolvedAt, &resName); err != nil {
			return nil, syncerr.Storage("failed to scan tag-rename conflict", err)
		}
		c := TagRenameConflict{LocalName: localName, RemoteName: remoteName}
		c.ID, _ = uuid.FromBytes(idBytes)
		c.TagID, _ = uuid.FromBytes(tagBytes)
		c.LocalTimestamp, _ = parseTime(localTS)
		c.RemoteTimestamp, _ = parseTime(remoteTS)
		c.CreatedAt, _ = parseTime(createdAt)
		c.RemoteDeviceID = uuidBytesToPtr(remoteDeviceBytes)
		if remoteDeviceName.Valid {
			c.RemoteDeviceName = &remoteDeviceName.String
		}
		if resolvedAt.Valid {
			t, _ := parseTime(resolvedAt.String)
			c.ResolvedAt = &t
		}
		if resName.Valid {
			c.ResolutionName = &resName.String
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// MarkTagRenameConflictResolved stamps the chosen name.
func (s *Store) MarkTagRenameConflictResolved(id uuid.UUID, resolutionName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.Exec(
		`UPDATE conflicts_tag_rename SET resolved_at = ?, resolution_name = ? WHERE id = ? AND resolved_at IS NULL`,
		formatTime(now()), resolutionName, id[:],
	)
	if err != nil {
		return syncerr.Storage("failed to resolve tag-rename conflict", err)
	}
	return checkResolvedRow(res, id)
}

// CreateTagParentConflict is idempotent on (tag_id, local_timestamp, remote_timestamp).
func (s *Store) CreateTagParentConflict(tagID uuid.UUID, localParentID, remoteParentID *uuid.UUID, localTS, remoteTS time.Time, remoteDevice *uuid.UUID, remoteDeviceName *string) (uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createSimpleConflictLocked("conflicts_tag_parent", "tag_id", tagID, localTS, remoteTS,
		func(id uuid.UUID) (sql.Result, error) {
			return s.db.Exec(
				`INSERT INTO conflicts_tag_parent (id, tag_id, local_parent_id, remote_parent_id, local_timestamp, remote_timestamp, remote_device_id, remote_device_name, created_at)
				 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				id[:], tagID[:], parentIDBytes(localParentID), parentIDBytes(remoteParentID), formatTime(localTS), formatTime(remoteTS),
				uuidBytesPtr(remoteDevice), nullableString(remoteDeviceName), formatTime(now()),
			)
		})
}

// ListTagParentConflicts returns unresolved conflicts by default.
func (s *Store) ListTagParentConflicts(includeResolved bool) ([]TagParentConflict, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `SELECT id, tag_id, local_parent_id, remote_parent_id, local_timestamp, remote_timestamp,
	          remote_device_id, remote_device_name, created_at, resolved_at, resolution_parent_id
	          FROM conflicts_tag_parent`
	if !includeResolved {
		query += ` WHERE resolved_at IS NULL`
	}
	rows, err := s.db.Query(query)
	if err != nil {
		return nil, syncerr.Storage("failed to list tag-parent conflicts", err)
	}
	defer rows.Close()

	var out []TagParentConflict
	for rows.Next() {
		var (
			idBytes, tagBytes, localParentBytes, remoteParentBytes, remoteDeviceBytes, resParentBytes []byte
			localTS, remoteTS, createdAt                                                              string
			remoteDeviceName, resolvedAt                                                               sql.NullString
		)
		if err := rows.Scan(&idBytes, &tagBytes, &localParentBytes, &remoteParentBytes, &localTS, &remoteTS,
			&remoteDeviceBytes, &remoteDeviceName, &createdAt, &resolvedAt, &resParentBytes); err != nil {
			return nil, syncerr.Storage("failed to scan tag-parent conflict", err)
		}
		c := TagParentConflict{}
		c.ID, _ = uuid.FromBytes(idBytes)
		c.TagID, _ = uuid.FromBytes(tagBytes)
		c.LocalParentID = uuidBytesToPtr(localParentBytes)
		c.RemoteParentID = uuidBytesToPtr(remoteParentBytes)
		c.LocalTimestamp, _ = parseTime(localTS)
		c.RemoteTimestamp, _ = parseTime(remoteTS)
		c.CreatedAt, _ = parseTime(createdAt)
		c.RemoteDeviceID = uuidBytesToPtr(remoteDeviceBytes)
		if remoteDeviceName.Valid {
			c.RemoteDeviceName = &remoteDeviceName.String
		}
		if resolvedAt.Valid {
			t, _ := parseTime(resolvedAt.String)
			c.ResolvedAt = &t
		}
		c.ResolutionParentID = uuidBytesToPtr(resParentBytes)
		out = append(out, c)
	}
	return out, rows.Err()
}

// MarkTagParentConflictResolved stamps the chosen parent (nil for root).
func (s *Store) MarkTagParentConflictResolved(id uuid.UUID, resolutionParentID *uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.Exec(
		`UPDATE conflicts_tag_parent SET resolved_at = ?, resolution_parent_id = ? WHERE id = ? AND resolved_at IS NULL`,
		formatTime(now()), parentIDBytes(resolutionParentID), id[:],
	)
	if err != nil {
		return syncerr.Storage("failed to resolve tag-parent conflict", err)
	}
	return checkResolvedRow(res, id)
}

// CreateTagDeleteConflict is idempotent on (tag_id, local_timestamp, remote_timestamp).
func (s *Store) CreateTagDeleteConflict(tagID uuid.UUID, localTS, remoteTS time.Time, remoteDevice *uuid.UUID, remoteDeviceName *string) (uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createSimpleConflictLocked("conflicts_tag_delete", "tag_id", tagID, localTS, remoteTS,
		func(id uuid.UUID) (sql.Result, error) {
			return s.db.Exec(
				`INSERT INTO conflicts_tag_delete (id, tag_id, local_timestamp, remote_timestamp, remote_device_id, remote_device_name, created_at)
				 VALUES (?, ?, ?, ?, ?, ?, ?)`,
				id[:], tagID[:], formatTime(localTS), formatTime(remoteTS),
				uuidBytesPtr(remoteDevice), nullableString(remoteDeviceName), formatTime(now()),
			)
		})
}

// ListTagDeleteConflicts returns unresolved conflicts by default.
func (s *Store) ListTagDeleteConflicts(includeResolved bool) ([]TagDeleteConflict, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `SELECT id, tag_id, local_timestamp, remote_timestamp,
	          remote_device_id, remote_device_name, created_at, resolved_at, resolution
	          FROM conflicts_tag_delete`
	if !includeResolved {
		query += ` WHERE resolved_at IS NULL`
	}
	rows, err := s.db.Query(query)
	if err != nil {
		return nil, syncerr.Storage("failed to list tag-delete conflicts", err)
	}
	defer rows.Close()

	var out []TagDeleteConflict
	for rows.Next() {
		var (
			idBytes, tagBytes, remoteDeviceBytes []byte
			localTS, remoteTS, createdAt         string
			remoteDeviceName, resolvedAt, res    sql.NullString
		)
		if err := rows.Scan(&idBytes, &tagBytes, &localTS, &remoteTS,
			&remoteDeviceBytes, &remoteDeviceName, &createdAt, &resolvedAt, &res); err != nil {
			return nil, syncerr.Storage("failed to scan tag-delete conflict", err)
		}
		c := TagDeleteConflict{}
		c.ID, _ = uuid.FromBytes(idBytes)
		c.TagID, _ = uuid.FromBytes(tagBytes)
		c.LocalTimestamp, _ = parseTime(localTS)
		c.RemoteTimestamp, _ = parseTime(remoteTS)
		c.CreatedAt, _ = parseTime(createdAt)
		c.RemoteDeviceID = uuidBytesToPtr(remoteDeviceBytes)
		if remoteDeviceName.Valid {
			c.RemoteDeviceName = &remoteDeviceName.String
		}
		if resolvedAt.Valid {
			t, _ := parseTime(resolvedAt.String)
			c.ResolvedAt = &t
		}
		if res.Valid {
			c.Resolution = &res.String
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// MarkTagDeleteConflictResolved stamps the restore/confirm decision.
func (s *Store) MarkTagDeleteConflictResolved(id uuid.UUID, resolution string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.Exec(
		`UPDATE conflicts_tag_delete SET resolved_at = ?, resolution = ? WHERE id = ? AND resolved_at IS NULL`,
		formatTime(now()), resolution, id[:],
	)
	if err != nil {
		return syncerr.Storage("failed to resolve tag-delete conflict", err)
	}
	return checkResolvedRow(res, id)
}

// CreateNoteTagConflict is idempotent on (note_id, tag_id, local_timestamp, remote_timestamp).
func (s *Store) CreateNoteTagConflict(noteID, tagID uuid.UUID, localDeletedAt, remoteDeletedAt *time.Time, localTS, remoteTS time.Time, remoteDevice *uuid.UUID, remoteDeviceName *string) (uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var existing []byte
	err := s.db.QueryRow(
		`SELECT id FROM conflicts_note_tag WHERE note_id = ? AND tag_id = ? AND local_timestamp = ? AND remote_timestamp = ?`,
		noteID[:], tagID[:], formatTime(localTS), formatTime(remoteTS),
	).Scan(&existing)
	if err == nil {
		id, _ := uuid.FromBytes(existing)
		return id, nil
	}
	if err != sql.ErrNoRows {
		return uuid.Nil, syncerr.Storage("failed to check existing conflict", err)
	}

	id := idgen.New()
	_, err = s.db.Exec(
		`INSERT INTO conflicts_note_tag (id, note_id, tag_id, local_deleted_at, remote_deleted_at, local_timestamp, remote_timestamp, remote_device_id, remote_device_name, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id[:], noteID[:], tagID[:], formatTimePtr(localDeletedAt), formatTimePtr(remoteDeletedAt), formatTime(localTS), formatTime(remoteTS),
		uuidBytesPtr(remoteDevice), nullableString(remoteDeviceName), formatTime(now()),
	)
	if err != nil {
		return uuid.Nil, syncerr.Storage("failed to insert note-tag conflict", err)
	}
	return id, nil
}

// ListNoteTagConflicts returns unresolved conflicts by default.
func (s *Store) ListNoteTagConflicts(includeResolved bool) ([]NoteTagConflict, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `SELECT id, note_id, tag_id, local_deleted_at, remote_deleted_at, local_timestamp, remote_timestamp,
	          remote_device_id, remote_device_name, created_at, resolved_at, resolution
	          FROM conflicts_note_tag`
	if !includeResolved {
		query += ` WHERE resolved_at IS NULL`
	}
	rows, err := s.db.Query(query)
	if err != nil {
		return nil, syncerr.Storage("failed to list note-tag conflicts", err)
	}
	defer rows.Close()

	var out []NoteTagConflict
	for rows.Next() {
		var (
			idBytes, noteBytes, tagBytes, remoteDeviceBytes []byte
			localDeletedAt, remoteDeletedAt                 sql.NullString
			localTS, remoteTS, createdAt                    string
			remoteDeviceName, resolvedAt, res               sql.NullString
		)
		if err := rows.Scan(&idBytes, &noteBytes, &tagBytes, &localDeletedAt, &remoteDeletedAt, &localTS, &remoteTS,
			&remoteDeviceBytes, &remoteDeviceName, &createdAt, &resolvedAt, &res); err != nil {
			return nil, syncerr.Storage("failed to scan note-tag conflict", err)
		}
		c := NoteTagConflict{}
		c.ID, _ = uuid.FromBytes(idBytes)
		c.NoteID, _ = uuid.FromBytes(noteBytes)
		c.TagID, _ = uuid.FromBytes(tagBytes)
		if localDeletedAt.Valid {
			t, _ := parseTime(localDeletedAt.String)
			c.LocalDeletedAt = &t
		}
		if remoteDeletedAt.Valid {
			t, _ := parseTime(remoteDeletedAt.String)
			c.RemoteDeletedAt = &t
		}
		c.LocalTimestamp, _ = parseTime(localTS)
		c.RemoteTimestamp, _ = parseTime(remoteTS)
		c.CreatedAt, _ = parseTime(createdAt)
		c.RemoteDeviceID = uuidBytesToPtr(remoteDeviceBytes)
		if remoteDeviceName.Valid {
			c.RemoteDeviceName = &remoteDeviceName.String
		}
		if resolvedAt.Valid {
			t, _ := parseTime(resolvedAt.String)
			c.ResolvedAt = &t
		}
		if res.Valid {
			c.Resolution = &res.String
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// MarkNoteTagConflictResolved stamps the resolution decision.
func (s *Store) MarkNoteTagConflictResolved(id uuid.UUID, resolution string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.Exec(
		`UPDATE conflicts_note_tag SET resolved_at = ?, resolution = ? WHERE id = ? AND resolved_at IS NULL`,
		formatTime(now()), resolution, id[:],
	)
	if err != nil {
		return syncerr.Storage("failed to resolve note-tag conflict", err)
	}
	return checkResolvedRow(res, id)
}

// UnresolvedConflictCounts returns a map from kind name to the number of
// unresolved conflicts of that kind — the UI's badge source (spec §4.3).
func (s *Store) UnresolvedConflictCounts() (map[string]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tables := map[string]string{
		"note-content": "conflicts_note_content",
		"note-delete":  "conflicts_note_delete",
		"tag-rename":   "conflicts_tag_rename",
		"tag-parent":   "conflicts_tag_parent",
		"tag-delete":   "conflicts_tag_delete",
		"note-tag":     "conflicts_note_tag",
	}
	out := make(map[string]int, len(tables))
	for kind, table := range tables {
		var count int
		if err := s.db.QueryRow(`SELECT COUNT(*) FROM ` + table + ` WHERE resolved_at IS NULL`).Scan(&count); err != nil {
			return nil, syncerr.Storage("failed to count unresolved conflicts for "+kind, err)
		}
		out[kind] = count
	}
	return out, nil
}

func (s *Store) createSimpleConflictLocked(table, idColumn string, entityID uuid.UUID, localTS, remoteTS time.Time, insert func(uuid.UUID) (sql.Result, error)) (uuid.UUID, error) {
	var existing []byte
	err := s.db.QueryRow(
		`SELECT id FROM `+table+` WHERE `+idColumn+` = ? AND local_timestamp = ? AND remote_timestamp = ?`,
		entityID[:], formatTime(localTS), formatTime(remoteTS),
	).Scan(&existing)
	if err == nil {
		id, _ := uuid.FromBytes(existing)
		return id, nil
	}
	if err != sql.ErrNoRows {
		return uuid.Nil, syncerr.Storage("failed to check existing conflict", err)
	}

	id := idgen.New()
	if _, err := insert(id); err != nil {
		return uuid.Nil, syncerr.Storage("failed to insert conflict record", err)
	}
	return id, nil
}

func checkResolvedRow(res sql.Result, id uuid.UUID) error {
	n, err := res.RowsAffected()
	if err != nil {
		return syncerr.Storage("failed to confirm conflict resolution", err)
	}
	if n == 0 {
		return syncerr.NotFound("conflict not found or already resolved: " + id.String())
	}
	return nil
}

func uuidBytesPtr(id *uuid.UUID) any {
	if id == nil {
		return nil
	}
	return (*id)[:]
}

func uuidBytesToPtr(b []byte) *uuid.UUID {
	if b == nil {
		return nil
	}
	id, err := uuid.FromBytes(b)
	if err != nil {
		return nil
	}
	return &id
}
