package store

import (
	"time"

	"github.com/google/uuid"
)

// Note is the full row for a single note, including soft-delete state.
type Note struct {
	ID         uuid.UUID
	CreatedAt  time.Time
	Content    string
	DeviceID   uuid.UUID
	ModifiedAt *time.Time
	DeletedAt  *time.Time
}

// Tag is the full row for a single tag in the tag forest. DeletedAt is not
// part of spec.md's literal field list for Tag, but spec.md §4.1 names
// "soft-delete tag (cascades to associations as soft deletes)" as a local
// write primitive and §4.3 names a tag-delete conflict kind, both of which
// require tags to carry soft-delete state; this field completes that gap.
type Tag struct {
	ID         uuid.UUID
	Name       string
	DeviceID   uuid.UUID
	ParentID   *uuid.UUID
	CreatedAt  time.Time
	ModifiedAt *time.Time
	DeletedAt  *time.Time
}

// NoteTag is the association row between a note and a tag.
type NoteTag struct {
	NoteID     uuid.UUID
	TagID      uuid.UUID
	CreatedAt  time.Time
	DeviceID   uuid.UUID
	ModifiedAt *time.Time
	DeletedAt  *time.Time
}

// SyncPeer records the high-water mark of the most recent successful
// exchange with a peer device.
type SyncPeer struct {
	PeerID     uuid.UUID
	PeerName   *string
	LastSyncAt *time.Time
}

// ChangeKind names the entity type carried by a ChangeRecord.
type ChangeKind string

const (
	ChangeKindNote    ChangeKind = "note"
	ChangeKindTag     ChangeKind = "tag"
	ChangeKindNoteTag ChangeKind = "note_tag"
)

// Operation names the derived mutation kind of a ChangeRecord.
type Operation string

const (
	OpCreate Operation = "create"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
)

// ChangeRecord is one entry in the changes feed returned by
// Store.GetChangesSince, and the wire shape POSTed to /sync/apply.
type ChangeRecord struct {
	EntityType ChangeKind     `json:"entity_type"`
	EntityID   string         `json:"entity_id"`
	Operation  Operation      `json:"operation"`
	Timestamp  time.Time      `json:"timestamp"`
	DeviceID   *string        `json:"device_id,omitempty"`
	DeviceName *string        `json:"device_name,omitempty"`
	Data       map[string]any `json:"data"`
}

// effectiveTimestamp implements the GLOSSARY definition: coalesce(modified_at,
// deleted_at, created_at) for notes/note-tags, coalesce(modified_at,
// created_at) for tags.
func effectiveTimestamp(created time.Time, modified, deleted *time.Time) time.Time {
	if modified != nil {
		return *modified
	}
	if deleted != nil {
		return *deleted
	}
	return created
}

func effectiveTagTimestamp(created time.Time, modified *time.Time) time.Time {
	if modified != nil {
		return *modified
	}
	return created
}
