// Package validate holds the input-validation rules used by the Store's
// local write primitives and by the config loader's device and peer id
// checks.
package validate

import (
	"strings"

	"github.com/google/uuid"

	"github.com/dotancohen/notesync/internal/idgen"
	"github.com/dotancohen/notesync/internal/syncerr"
)

// Limits mirror the original implementation's validation constants.
const (
	MaxTagNameLength    = 100
	MaxNoteContentLen   = 100_000
	MaxSearchQueryLen   = 500
	MaxTagPathLength    = 500
	MaxTagPathDepth     = 50
)

// EntityID validates a hex-or-hyphenated UUID string for the given field.
func EntityID(value, field string) (uuid.UUID, error) {
	return idgen.ParseHex(value, field)
}

// NoteID validates a note id.
func NoteID(value string) (uuid.UUID, error) { return EntityID(value, "note_id") }

// TagID validates a tag id.
func TagID(value string) (uuid.UUID, error) { return EntityID(value, "tag_id") }

// DeviceID validates a device id.
func DeviceID(value string) (uuid.UUID, error) { return EntityID(value, "device_id") }

// TagIDs validates a batch of tag id strings, reporting the offending index
// on failure.
func TagIDs(tagIDs []string) ([]uuid.UUID, error) {
	out := make([]uuid.UUID, 0, len(tagIDs))
	for i, raw := range tagIDs {
		id, err := TagID(raw)
		if err != nil {
			return nil, syncerr.Validationf("tag_ids", "item %d: invalid tag ID", i)
		}
		out = append(out, id)
	}
	return out, nil
}

// TagName validates a tag name: non-empty after trim, within length, and
// free of the '/' path separator.
func TagName(name string) (string, error) {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return "", syncerr.Validation("tag_name", "cannot be empty or whitespace only")
	}
	if len([]rune(trimmed)) > MaxTagNameLength {
		return "", syncerr.Validationf("tag_name", "cannot exceed %d characters (got %d)", MaxTagNameLength, len([]rune(trimmed)))
	}
	if strings.Contains(trimmed, "/") {
		return "", syncerr.Validation("tag_name", "cannot contain '/' character (reserved for paths)")
	}
	return trimmed, nil
}

// TagPath validates a slash-separated tag path such as "Europe/France/Paris".
func TagPath(path string) ([]string, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return nil, syncerr.Validation("tag_path", "cannot be empty or whitespace only")
	}
	if len([]rune(trimmed)) > MaxTagPathLength {
		return nil, syncerr.Validationf("tag_path", "cannot exceed %d characters (got %d)", MaxTagPathLength, len([]rune(trimmed)))
	}

	parts := strings.Split(trimmed, "/")
	if len(parts) > MaxTagPathDepth {
		return nil, syncerr.Validationf("tag_path", "cannot exceed %d levels (got %d)", MaxTagPathDepth, len(parts))
	}

	nonEmpty := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			nonEmpty = append(nonEmpty, p)
		}
	}
	if len(nonEmpty) == 0 {
		return nil, syncerr.Validation("tag_path", "must contain at least one valid tag name")
	}
	for _, part := range nonEmpty {
		if len([]rune(part)) > MaxTagNameLength {
			return nil, syncerr.Validationf("tag_path", "tag name '%s...' exceeds %d characters", truncate(part, 20), MaxTagNameLength)
		}
	}
	return nonEmpty, nil
}

// NoteContent validates note body text.
func NoteContent(content string) (string, error) {
	if strings.TrimSpace(content) == "" {
		return "", syncerr.Validation("content", "cannot be empty or whitespace only")
	}
	if n := len([]rune(content)); n > MaxNoteContentLen {
		return "", syncerr.Validationf("content", "cannot exceed %d characters (got %d)", MaxNoteContentLen, n)
	}
	return content, nil
}

// SearchQuery validates an optional free-text search query.
func SearchQuery(query *string) error {
	if query == nil {
		return nil
	}
	if n := len([]rune(*query)); n > MaxSearchQueryLen {
		return syncerr.Validationf("search_query", "cannot exceed %d characters (got %d)", MaxSearchQueryLen, n)
	}
	return nil
}

// ParentTagID validates an optional parent tag id against the tag being
// created/updated, rejecting self-parenting.
func ParentTagID(parentID, tagID *string) (*uuid.UUID, error) {
	if parentID == nil {
		return nil, nil
	}
	parent, err := TagID(*parentID)
	if err != nil {
		return nil, err
	}
	if tagID != nil {
		self, err := TagID(*tagID)
		if err != nil {
			return nil, err
		}
		if parent == self {
			return nil, syncerr.Validation("parent_id", "tag cannot be its own parent")
		}
	}
	return &parent, nil
}

// TagIDGroups validates a disjunctive-normal-form grouping of tag ids used
// by Store.SearchNotes.
func TagIDGroups(groups [][]string) ([][]uuid.UUID, error) {
	if groups == nil {
		return nil, nil
	}
	result := make([][]uuid.UUID, 0, len(groups))
	for i, group := range groups {
		converted := make([]uuid.UUID, 0, len(group))
		for j, raw := range group {
			id, err := TagID(raw)
			if err != nil {
				return nil, syncerr.Validationf("tag_id_groups", "group %d, item %d: invalid tag ID", i, j)
			}
			converted = append(converted, id)
		}
		result = append(result, converted)
	}
	return result, nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
