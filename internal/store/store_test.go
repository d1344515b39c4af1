package store

import (
	"testing"

	"github.com/google/uuid"

	"github.com/dotancohen/notesync/internal/idgen"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir()+"/notesync.db", idgen.New())
	if err != nil {
		t.Fatalf("failed to open test store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestCreateNote_SoftDeleteAndRestore(t *testing.T) {
	s := newTestStore(t)
	note, err := s.CreateNote("hello world")
	if err != nil {
		t.Fatalf("failed to create note: %v", err)
	}

	if err := s.DeleteNote(note.ID); err != nil {
		t.Fatalf("failed to delete note: %v", err)
	}
	if _, err := s.GetNote(note.ID); err == nil {
		t.Fatalf("expected GetNote to hide a soft-deleted note")
	}
	if raw, err := s.GetNoteRaw(note.ID); err != nil || raw.DeletedAt == nil {
		t.Fatalf("expected GetNoteRaw to still return the row with deleted_at set, got %+v, err=%v", raw, err)
	}

	restored, err := s.RestoreNote(note.ID)
	if err != nil {
		t.Fatalf("failed to restore note: %v", err)
	}
	if restored.DeletedAt != nil {
		t.Fatalf("expected restored note to have no deleted_at")
	}
	if _, err := s.GetNote(note.ID); err != nil {
		t.Fatalf("expected a restored note to be visible again: %v", err)
	}
}

func TestUpdateNoteContent_ChangesContentAndModifiedAt(t *testing.T) {
	s := newTestStore(t)
	note, err := s.CreateNote("v1")
	if err != nil {
		t.Fatalf("failed to create note: %v", err)
	}

	updated, err := s.UpdateNoteContent(note.ID, "v2")
	if err != nil {
		t.Fatalf("failed to update note: %v", err)
	}
	if updated.Content != "v2" {
		t.Fatalf("expected updated content v2, got %q", updated.Content)
	}
	if updated.ModifiedAt == nil {
		t.Fatalf("expected modified_at to be set after an update")
	}
}

func TestCreateTag_RejectsSiblingNameCollision(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.CreateTag("work", nil); err != nil {
		t.Fatalf("failed to create first tag: %v", err)
	}
	if _, err := s.CreateTag("work", nil); err == nil {
		t.Fatalf("expected a root-level sibling name collision to be rejected")
	}
}

func TestCreateTag_AllowsSameNameUnderDifferentParents(t *testing.T) {
	s := newTestStore(t)
	parentA, err := s.CreateTag("projects", nil)
	if err != nil {
		t.Fatalf("failed to create parentA: %v", err)
	}
	parentB, err := s.CreateTag("archive", nil)
	if err != nil {
		t.Fatalf("failed to create parentB: %v", err)
	}

	if _, err := s.CreateTag("notes", &parentA.ID); err != nil {
		t.Fatalf("failed to create child under parentA: %v", err)
	}
	if _, err := s.CreateTag("notes", &parentB.ID); err != nil {
		t.Fatalf("expected the same name to be allowed under a different parent: %v", err)
	}
}

func TestReparentTag_RejectsSelfParenting(t *testing.T) {
	s := newTestStore(t)
	tag, err := s.CreateTag("solo", nil)
	if err != nil {
		t.Fatalf("failed to create tag: %v", err)
	}
	if _, err := s.ReparentTag(tag.ID, &tag.ID); err == nil {
		t.Fatalf("expected self-parenting to be rejected")
	}
}

func TestReparentTag_RejectsCycle(t *testing.T) {
	s := newTestStore(t)
	parent, err := s.CreateTag("parent", nil)
	if err != nil {
		t.Fatalf("failed to create parent: %v", err)
	}
	child, err := s.CreateTag("child", &parent.ID)
	if err != nil {
		t.Fatalf("failed to create child: %v", err)
	}
	grandchild, err := s.CreateTag("grandchild", &child.ID)
	if err != nil {
		t.Fatalf("failed to create grandchild: %v", err)
	}

	if _, err := s.ReparentTag(parent.ID, &grandchild.ID); err == nil {
		t.Fatalf("expected reparenting an ancestor under its own descendant to be rejected")
	}
}

func TestWouldIntroduceCycle_MatchesReparentTagBehavior(t *testing.T) {
	s := newTestStore(t)
	parent, err := s.CreateTag("parent", nil)
	if err != nil {
		t.Fatalf("failed to create parent: %v", err)
	}
	child, err := s.CreateTag("child", &parent.ID)
	if err != nil {
		t.Fatalf("failed to create child: %v", err)
	}

	cycle, err := s.WouldIntroduceCycle(parent.ID, &child.ID)
	if err != nil {
		t.Fatalf("failed to check for a cycle: %v", err)
	}
	if !cycle {
		t.Fatalf("expected reparenting the parent under its own child to be reported as a cycle")
	}

	unrelated, err := s.CreateTag("unrelated", nil)
	if err != nil {
		t.Fatalf("failed to create unrelated tag: %v", err)
	}
	cycle, err = s.WouldIntroduceCycle(child.ID, &unrelated.ID)
	if err != nil {
		t.Fatalf("failed to check for a cycle: %v", err)
	}
	if cycle {
		t.Fatalf("expected reparenting under an unrelated tag to not be a cycle")
	}
}

func TestDeleteTag_CascadesSoftDeleteToNoteTags(t *testing.T) {
	s := newTestStore(t)
	note, err := s.CreateNote("tagged note")
	if err != nil {
		t.Fatalf("failed to create note: %v", err)
	}
	tag, err := s.CreateTag("label", nil)
	if err != nil {
		t.Fatalf("failed to create tag: %v", err)
	}
	if _, err := s.AttachTag(note.ID, tag.ID); err != nil {
		t.Fatalf("failed to attach tag: %v", err)
	}

	if err := s.DeleteTag(tag.ID); err != nil {
		t.Fatalf("failed to delete tag: %v", err)
	}

	nt, err := s.GetNoteTagRaw(note.ID, tag.ID)
	if err != nil {
		t.Fatalf("failed to reload note_tag: %v", err)
	}
	if nt.DeletedAt == nil {
		t.Fatalf("expected the note_tag association to be cascade-deleted")
	}
}

func TestAttachTag_IsIdempotent(t *testing.T) {
	s := newTestStore(t)
	note, err := s.CreateNote("tagged note")
	if err != nil {
		t.Fatalf("failed to create note: %v", err)
	}
	tag, err := s.CreateTag("label", nil)
	if err != nil {
		t.Fatalf("failed to create tag: %v", err)
	}

	if _, err := s.AttachTag(note.ID, tag.ID); err != nil {
		t.Fatalf("failed to attach tag: %v", err)
	}
	if _, err := s.AttachTag(note.ID, tag.ID); err != nil {
		t.Fatalf("expected attaching an already-attached tag to be idempotent, got: %v", err)
	}

	notes, err := s.FilterNotesByTags([]uuid.UUID{tag.ID})
	if err != nil {
		t.Fatalf("failed to filter notes by tag: %v", err)
	}
	if len(notes) != 1 {
		t.Fatalf("expected exactly 1 note attached to the tag, got %d", len(notes))
	}
}

func TestSearchNotes_FiltersByContentAndTagGroups(t *testing.T) {
	s := newTestStore(t)
	groceries, err := s.CreateNote("buy milk and eggs")
	if err != nil {
		t.Fatalf("failed to create groceries note: %v", err)
	}
	work, err := s.CreateNote("finish the quarterly report")
	if err != nil {
		t.Fatalf("failed to create work note: %v", err)
	}

	personalTag, err := s.CreateTag("personal", nil)
	if err != nil {
		t.Fatalf("failed to create personal tag: %v", err)
	}
	if _, err := s.AttachTag(groceries.ID, personalTag.ID); err != nil {
		t.Fatalf("failed to attach personal tag: %v", err)
	}
	_ = work

	byText, err := s.SearchNotes(strPtr("milk"), nil)
	if err != nil {
		t.Fatalf("failed to search by text: %v", err)
	}
	if len(byText) != 1 || byText[0].ID != groceries.ID {
		t.Fatalf("expected text search to find only the groceries note, got %+v", byText)
	}

	byTag, err := s.SearchNotes(nil, [][]uuid.UUID{{personalTag.ID}})
	if err != nil {
		t.Fatalf("failed to search by tag: %v", err)
	}
	if len(byTag) != 1 || byTag[0].ID != groceries.ID {
		t.Fatalf("expected tag search to find only the groceries note, got %+v", byTag)
	}
}

func strPtr(s string) *string { return &s }
