// Package conflict is the business layer over the six typed conflict
// tables: record, list, and resolve (spec §4.3). It wraps the raw table
// accessors in internal/store and, on resolve, writes the user's decision
// back through the normal local write path so it becomes an ordinary
// locally-authored change that flows out on the next push.
package conflict

import (
	"time"

	"github.com/google/uuid"

	"github.com/dotancohen/notesync/internal/store"
	"github.com/dotancohen/notesync/internal/syncerr"
)

// Resolution values accepted by the delete-style kinds.
const (
	ResolutionRestore = "restore"
	ResolutionConfirm = "confirm"
)

// Conflicts is the resolver/recorder for one local store.
type Conflicts struct {
	store *store.Store
}

// New wraps s for conflict recording and resolution.
func New(s *store.Store) *Conflicts {
	return &Conflicts{store: s}
}

// RecordNoteContent pins a diverged note body. Idempotent on
// (note_id, local_timestamp, remote_timestamp).
func (c *Conflicts) RecordNoteContent(noteID uuid.UUID, localContent, remoteContent string, localTS, remoteTS time.Time, remoteDevice *uuid.UUID, remoteDeviceName *string) (uuid.UUID, error) {
	return c.store.CreateNoteContentConflict(noteID, localContent, remoteContent, localTS, remoteTS, remoteDevice, remoteDeviceName)
}

// ListNoteContent returns unresolved note-content conflicts by default.
func (c *Conflicts) ListNoteContent(includeResolved bool) ([]store.NoteContentConflict, error) {
	return c.store.ListNoteContentConflicts(includeResolved)
}

// ResolveNoteContent applies newContent as the note's authoritative
// content through the normal local write path, then marks the conflict
// resolved.
func (c *Conflicts) ResolveNoteContent(id, noteID uuid.UUID, newContent string) error {
	if _, err := c.store.UpdateNoteContent(noteID, newContent); err != nil {
		return err
	}
	return c.store.MarkNoteContentConflictResolved(id, newContent)
}

// RecordNoteDelete pins a local edit diverging from a remote delete (or
// vice versa).
func (c *Conflicts) RecordNoteDelete(noteID uuid.UUID, localContent *string, remoteDeletedAt *time.Time, localTS, remoteTS time.Time, remoteDevice *uuid.UUID, remoteDeviceName *string) (uuid.UUID, error) {
	return c.store.CreateNoteDeleteConflict(noteID, localContent, remoteDeletedAt, localTS, remoteTS, remoteDevice, remoteDeviceName)
}

// ListNoteDelete returns unresolved note-delete conflicts by default.
func (c *Conflicts) ListNoteDelete(includeResolved bool) ([]store.NoteDeleteConflict, error) {
	return c.store.ListNoteDeleteConflicts(includeResolved)
}

// ResolveNoteDelete applies the user's restore-vs-confirm decision: restore
// clears the note's deleted_at; confirm leaves it set.
func (c *Conflicts) ResolveNoteDelete(id, noteID uuid.UUID, resolution string) error {
	switch resolution {
	case ResolutionRestore:
		if _, err := c.store.RestoreNote(noteID); err != nil {
			return err
		}
	case ResolutionConfirm:
		if err := c.store.DeleteNote(noteID); err != nil && !syncerr.Is(err, syncerr.KindNotFound) {
			return err
		}
	default:
		return syncerr.Validationf("resolution", "must be %q or %q, got %q", ResolutionRestore, ResolutionConfirm, resolution)
	}
	return c.store.MarkNoteDeleteConflictResolved(id, resolution)
}

// RecordTagRename pins a diverged tag name.
func (c *Conflicts) RecordTagRename(tagID uuid.UUID, localName, remoteName string, localTS, remoteTS time.Time, remoteDevice *uuid.UUID, remoteDeviceName *string) (uuid.UUID, error) {
	return c.store.CreateTagRenameConflict(tagID, localName, remoteName, localTS, remoteTS, remoteDevice, remoteDeviceName)
}

// ListTagRename returns unresolved tag-rename conflicts by default.
func (c *Conflicts) ListTagRename(includeResolved bool) ([]store.TagRenameConflict, error) {
	return c.store.ListTagRenameConflicts(includeResolved)
}

// ResolveTagRename applies the chosen name through the local rename path
// (name validation and sibling-collision checks run there) and marks the
// conflict resolved.
func (c *Conflicts) ResolveTagRename(id, tagID uuid.UUID, newName string) error {
	if _, err := c.store.RenameTag(tagID, newName); err != nil {
		return err
	}
	return c.store.MarkTagRenameConflictResolved(id, newName)
}

// RecordTagParent pins a diverged tag parent (including a would-be cycle).
func (c *Conflicts) RecordTagParent(tagID uuid.UUID, localParentID, remoteParentID *uuid.UUID, localTS, remoteTS time.Time, remoteDevice *uuid.UUID, remoteDeviceName *string) (uuid.UUID, error) {
	return c.store.CreateTagParentConflict(tagID, localParentID, remoteParentID, localTS, remoteTS, remoteDevice, remoteDeviceName)
}

// ListTagParent returns unresolved tag-parent conflicts by default.
func (c *Conflicts) ListTagParent(includeResolved bool) ([]store.TagParentConflict, error) {
	return c.store.ListTagParentConflicts(includeResolved)
}

// ResolveTagParent applies the chosen parent (nil reparents to root)
// through the local reparent path (cycle checks run there).
func (c *Conflicts) ResolveTagParent(id, tagID uuid.UUID, newParentID *uuid.UUID) error {
	if _, err := c.store.ReparentTag(tagID, newParentID); err != nil {
		return err
	}
	return c.store.MarkTagParentConflictResolved(id, newParentID)
}

// RecordTagDelete pins a diverged tag delete state.
func (c *Conflicts) RecordTagDelete(tagID uuid.UUID, localTS, remoteTS time.Time, remoteDevice *uuid.UUID, remoteDeviceName *string) (uuid.UUID, error) {
	return c.store.CreateTagDeleteConflict(tagID, localTS, remoteTS, remoteDevice, remoteDeviceName)
}

// ListTagDelete returns unresolved tag-delete conflicts by default.
func (c *Conflicts) ListTagDelete(includeResolved bool) ([]store.TagDeleteConflict, error) {
	return c.store.ListTagDeleteConflicts(includeResolved)
}

// ResolveTagDelete applies the user's restore-vs-confirm decision.
func (c *Conflicts) ResolveTagDelete(id, tagID uuid.UUID, resolution string) error {
	switch resolution {
	case ResolutionRestore:
		if _, err := c.store.RestoreTag(tagID); err != nil {
			return err
		}
	case ResolutionConfirm:
		if err := c.store.DeleteTag(tagID); err != nil && !syncerr.Is(err, syncerr.KindNotFound) {
			return err
		}
	default:
		return syncerr.Validationf("resolution", "must be %q or %q, got %q", ResolutionRestore, ResolutionConfirm, resolution)
	}
	return c.store.MarkTagDeleteConflictResolved(id, resolution)
}

// RecordNoteTag pins a diverged note-tag membership state.
func (c *Conflicts) RecordNoteTag(noteID, tagID uuid.UUID, localDeletedAt, remoteDeletedAt *time.Time, localTS, remoteTS time.Time, remoteDevice *uuid.UUID, remoteDeviceName *string) (uuid.UUID, error) {
	return c.store.CreateNoteTagConflict(noteID, tagID, localDeletedAt, remoteDeletedAt, localTS, remoteTS, remoteDevice, remoteDeviceName)
}

// ListNoteTag returns unresolved note-tag conflicts by default.
func (c *Conflicts) ListNoteTag(includeResolved bool) ([]store.NoteTagConflict, error) {
	return c.store.ListNoteTagConflicts(includeResolved)
}

// ResolveNoteTag applies the user's restore-vs-confirm decision to the
// note-tag association.
func (c *Conflicts) ResolveNoteTag(id, noteID, tagID uuid.UUID, resolution string) error {
	switch resolution {
	case ResolutionRestore:
		if _, err := c.store.AttachTag(noteID, tagID); err != nil {
			return err
		}
	case ResolutionConfirm:
		if err := c.store.DetachTag(noteID, tagID); err != nil && !syncerr.Is(err, syncerr.KindNotFound) {
			return err
		}
	default:
		return syncerr.Validationf("resolution", "must be %q or %q, got %q", ResolutionRestore, ResolutionConfirm, resolution)
	}
	return c.store.MarkNoteTagConflictResolved(id, resolution)
}

// UnresolvedCounts returns a map from kind name to the count of unresolved
// conflicts of that kind — the UI's badge source.
func (c *Conflicts) UnresolvedCounts() (map[string]int, error) {
	return c.store.UnresolvedConflictCounts()
}
