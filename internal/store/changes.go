package store

import (
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/dotancohen/notesync/internal/idgen"
	"github.com/dotancohen/notesync/internal/syncerr"
)

type changeCandidate struct {
	record ChangeRecord
	ts     time.Time
}

// GetChangesSince returns up to limit entity change records whose effective
// timestamp is strictly greater than since (nil means "since the
// beginning of time"), ordered by effective timestamp ascending, along
// with the maximum timestamp actually observed among the returned records
// (spec §4.1).
func (s *Store) GetChangesSince(since *time.Time, limit int) ([]ChangeRecord, *time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var candidates []changeCandidate

	noteCandidates, err := s.noteChangesLocked(since)
	if err != nil {
		return nil, nil, err
	}
	candidates = append(candidates, noteCandidates...)

	tagCandidates, err := s.tagChangesLocked(since)
	if err != nil {
		return nil, nil, err
	}
	candidates = append(candidates, tagCandidates...)

	noteTagCandidates, err := s.noteTagChangesLocked(since)
	if err != nil {
		return nil, nil, err
	}
	candidates = append(candidates, noteTagCandidates...)

	sort.Slice(candidates, func(i, j int) bool { return candidates[i].ts.Before(candidates[j].ts) })

	if limit <= 0 || limit > len(candidates) {
		limit = len(candidates)
	}
	page := candidates[:limit]

	out := make([]ChangeRecord, 0, len(page))
	var max *time.Time
	for _, c := range page {
		out = append(out, c.record)
		t := c.ts
		max = &t
	}
	return out, max, nil
}

func (s *Store) noteChangesLocked(since *time.Time) ([]changeCandidate, error) {
	rows, err := s.db.Query(`SELECT id, created_at, content, device_id, modified_at, deleted_at FROM notes`)
	if err != nil {
		return nil, syncerr.Storage("failed to scan note changes", err)
	}
	defer rows.Close()

	var out []changeCandidate
	for rows.Next() {
		n, err := scanNote(rows)
		if err != nil {
			return nil, syncerr.Storage("failed to scan note", err)
		}
		eff := n.EffectiveTimestamp()
		if since != nil && !eff.After(*since) {
			continue
		}
		op := OpCreate
		if n.DeletedAt != nil {
			op = OpDelete
		} else if n.ModifiedAt != nil {
			op = OpUpdate
		}
		deviceHex := idgen.Hex(n.DeviceID)
		out = append(out, changeCandidate{
			ts: eff,
			record: ChangeRecord{
				EntityType: ChangeKindNote,
				EntityID:   idgen.Hex(n.ID),
				Operation:  op,
				Timestamp:  eff,
				DeviceID:   &deviceHex,
				Data:       noteToWire(n),
			},
		})
	}
	return out, rows.Err()
}

func (s *Store) tagChangesLocked(since *time.Time) ([]changeCandidate, error) {
	rows, err := s.db.Query(`SELECT id, name, device_id, parent_id, created_at, modified_at, deleted_at FROM tags`)
	if err != nil {
		return nil, syncerr.Storage("failed to scan tag changes", err)
	}
	defer rows.Close()

	var out []changeCandidate
	for rows.Next() {
		t, err := scanTag(rows)
		if err != nil {
			return nil, syncerr.Storage("failed to scan tag", err)
		}
		eff := t.EffectiveTimestamp()
		if since != nil && !eff.After(*since) {
			continue
		}
		op := OpCreate
		if t.ModifiedAt != nil {
			op = OpUpdate
		}
		deviceHex := idgen.Hex(t.DeviceID)
		out = append(out, changeCandidate{
			ts: eff,
			record: ChangeRecord{
				EntityType: ChangeKindTag,
				EntityID:   idgen.Hex(t.ID),
				Operation:  op,
				Timestamp:  eff,
				DeviceID:   &deviceHex,
				Data:       tagToWire(t),
			},
		})
	}
	return out, rows.Err()
}

func (s *Store) noteTagChangesLocked(since *time.Time) ([]changeCandidate, error) {
	rows, err := s.db.Query(`SELECT note_id, tag_id, created_at, device_id, modified_at, deleted_at FROM note_tags`)
	if err != nil {
		return nil, syncerr.Storage("failed to scan note tag changes", err)
	}
	defer rows.Close()

	var out []changeCandidate
	for rows.Next() {
		nt, err := scanNoteTag(rows)
		if err != nil {
			return nil, syncerr.Storage("failed to scan note tag", err)
		}
		eff := nt.EffectiveTimestamp()
		if since != nil && !eff.After(*since) {
			continue
		}
		op := OpCreate
		if nt.DeletedAt != nil {
			op = OpDelete
		} else if nt.ModifiedAt != nil {
			op = OpUpdate
		}
		deviceHex := idgen.Hex(nt.DeviceID)
		out = append(out, changeCandidate{
			ts: eff,
			record: ChangeRecord{
				EntityType: ChangeKindNoteTag,
				EntityID:   idgen.Hex(nt.NoteID) + ":" + idgen.Hex(nt.TagID),
				Operation:  op,
				Timestamp:  eff,
				DeviceID:   &deviceHex,
				Data:       noteTagToWire(nt),
			},
		})
	}
	return out, rows.Err()
}

func noteToWire(n *Note) map[string]any {
	m := map[string]any{
		"id":         idgen.Hex(n.ID),
		"created_at": formatTime(n.CreatedAt),
		"content":    n.Content,
		"device_id":  idgen.Hex(n.DeviceID),
	}
	if n.ModifiedAt != nil {
		m["modified_at"] = formatTime(*n.ModifiedAt)
	}
	if n.DeletedAt != nil {
		m["deleted_at"] = formatTime(*n.DeletedAt)
	}
	return m
}

func tagToWire(t *Tag) map[string]any {
	m := map[string]any{
		"id":         idgen.Hex(t.ID),
		"name":       t.Name,
		"device_id":  idgen.Hex(t.DeviceID),
		"created_at": formatTime(t.CreatedAt),
	}
	if t.ParentID != nil {
		m["parent_id"] = idgen.Hex(*t.ParentID)
	}
	if t.ModifiedAt != nil {
		m["modified_at"] = formatTime(*t.ModifiedAt)
	}
	if t.DeletedAt != nil {
		m["deleted_at"] = formatTime(*t.DeletedAt)
	}
	return m
}

func noteTagToWire(nt *NoteTag) map[string]any {
	m := map[string]any{
		"note_id":    idgen.Hex(nt.NoteID),
		"tag_id":     idgen.Hex(nt.TagID),
		"device_id":  idgen.Hex(nt.DeviceID),
		"created_at": formatTime(nt.CreatedAt),
	}
	if nt.ModifiedAt != nil {
		m["modified_at"] = formatTime(*nt.ModifiedAt)
	}
	if nt.DeletedAt != nil {
		m["deleted_at"] = formatTime(*nt.DeletedAt)
	}
	return m
}

// NoteFromWire decodes a change record's data payload back into a Note for
// ApplyNote — used by the Reconciler and by the sync client's InitialSync.
func NoteFromWire(data map[string]any) (Note, error) {
	id, err := fieldHex(data, "id")
	if err != nil {
		return Note{}, err
	}
	device, err := fieldHex(data, "device_id")
	if err != nil {
		return Note{}, err
	}
	created, err := fieldTime(data, "created_at")
	if err != nil {
		return Note{}, err
	}
	content, _ := data["content"].(string)
	n := Note{ID: id, CreatedAt: created, Content: content, DeviceID: device}
	if n.ModifiedAt, err = fieldTimePtr(data, "modified_at"); err != nil {
		return Note{}, err
	}
	if n.DeletedAt, err = fieldTimePtr(data, "deleted_at"); err != nil {
		return Note{}, err
	}
	return n, nil
}

// TagFromWire decodes a change record's data payload into a Tag.
func TagFromWire(data map[string]any) (Tag, error) {
	id, err := fieldHex(data, "id")
	if err != nil {
		return Tag{}, err
	}
	device, err := fieldHex(data, "device_id")
	if err != nil {
		return Tag{}, err
	}
	created, err := fieldTime(data, "created_at")
	if err != nil {
		return Tag{}, err
	}
	name, _ := data["name"].(string)
	t := Tag{ID: id, Name: name, DeviceID: device, CreatedAt: created}
	if raw, ok := data["parent_id"].(string); ok && raw != "" {
		p, err := idgen.ParseHex(raw, "parent_id")
		if err != nil {
			return Tag{}, err
		}
		t.ParentID = &p
	}
	if t.ModifiedAt, err = fieldTimePtr(data, "modified_at"); err != nil {
		return Tag{}, err
	}
	if t.DeletedAt, err = fieldTimePtr(data, "deleted_at"); err != nil {
		return Tag{}, err
	}
	return t, nil
}

// NoteTagFromWire decodes a change record's data payload into a NoteTag.
func NoteTagFromWire(data map[string]any) (NoteTag, error) {
	noteID, err := fieldHex(data, "note_id")
	if err != nil {
		return NoteTag{}, err
	}
	tagID, err := fieldHex(data, "tag_id")
	if err != nil {
		return NoteTag{}, err
	}
	device, err := fieldHex(data, "device_id")
	if err != nil {
		return NoteTag{}, err
	}
	created, err := fieldTime(data, "created_at")
	if err != nil {
		return NoteTag{}, err
	}
	nt := NoteTag{NoteID: noteID, TagID: tagID, CreatedAt: created, DeviceID: device}
	if nt.ModifiedAt, err = fieldTimePtr(data, "modified_at"); err != nil {
		return NoteTag{}, err
	}
	if nt.DeletedAt, err = fieldTimePtr(data, "deleted_at"); err != nil {
		return NoteTag{}, err
	}
	return nt, nil
}

func fieldHex(data map[string]any, key string) (uuid.UUID, error) {
	raw, _ := data[key].(string)
	return idgen.ParseHex(raw, key)
}

func fieldTime(data map[string]any, key string) (time.Time, error) {
	raw, _ := data[key].(string)
	t, err := parseTime(raw)
	if err != nil {
		return time.Time{}, syncerr.Validationf(key, "invalid timestamp: %v", err)
	}
	return t, nil
}

func fieldTimePtr(data map[string]any, key string) (*time.Time, error) {
	raw, ok := data[key]
	if !ok || raw == nil {
		return nil, nil
	}
	s, ok := raw.(string)
	if !ok || s == "" {
		return nil, nil
	}
	t, err := parseTime(s)
	if err != nil {
		return nil, syncerr.Validationf(key, "invalid timestamp: %v", err)
	}
	return &t, nil
}
