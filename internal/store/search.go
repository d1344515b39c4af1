package store

import (
	"strings"

	"github.com/google/uuid"
)

// SearchNotes filters notes by an optional case-insensitive text query and
// an optional disjunctive-normal-form grouping of tag ids: a note matches
// if it satisfies ALL tag ids in at least ONE group (OR of ANDs).
func (s *Store) SearchNotes(query *string, tagIDGroups [][]uuid.UUID) ([]Note, error) {
	var candidates []Note
	if len(tagIDGroups) == 0 {
		all, err := s.ListNotes()
		if err != nil {
			return nil, err
		}
		candidates = all
	} else {
		seen := make(map[uuid.UUID]Note)
		for _, group := range tagIDGroups {
			matched, err := s.FilterNotesByTags(group)
			if err != nil {
				return nil, err
			}
			for _, n := range matched {
				seen[n.ID] = n
			}
		}
		for _, n := range seen {
			candidates = append(candidates, n)
		}
	}

	if query == nil || strings.TrimSpace(*query) == "" {
		return candidates, nil
	}

	needle := strings.ToLower(*query)
	var out []Note
	for _, n := range candidates {
		if strings.Contains(strings.ToLower(n.Content), needle) {
			out = append(out, n)
		}
	}
	return out, nil
}
