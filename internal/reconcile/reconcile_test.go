package reconcile

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/dotancohen/notesync/internal/conflict"
	"github.com/dotancohen/notesync/internal/idgen"
	"github.com/dotancohen/notesync/internal/store"
)

func newTestReconciler(t *testing.T) (*store.Store, *Reconciler) {
	t.Helper()
	s, err := store.Open(t.TempDir()+"/notesync.db", idgen.New())
	if err != nil {
		t.Fatalf("failed to open test store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s, New(s, conflict.New(s), zerolog.Nop())
}

func noteChange(id uuid.UUID, content string, created time.Time, device uuid.UUID, op store.Operation) store.ChangeRecord {
	return store.ChangeRecord{
		EntityType: store.ChangeKindNote,
		EntityID:   idgen.Hex(id),
		Operation:  op,
		Timestamp:  created,
		Data: map[string]any{
			"id":         idgen.Hex(id),
			"device_id":  idgen.Hex(device),
			"created_at": created.UTC().Format(time.RFC3339),
			"content":    content,
		},
	}
}

func TestReconcile_NewRemoteNote_Applied(t *testing.T) {
	s, r := newTestReconciler(t)
	remoteDevice := idgen.New()
	noteID := idgen.New()
	ts := time.Now().UTC().Truncate(time.Second)

	change := noteChange(noteID, "hello from peer", ts, remoteDevice, store.OpCreate)
	result := r.Reconcile(remoteDevice, nil, []store.ChangeRecord{change}, nil)

	if result.Applied != 1 || result.Conflicts != 0 || len(result.Errors) != 0 {
		t.Fatalf("expected 1 applied, 0 conflicts, 0 errors, got %+v", result)
	}

	local, err := s.GetNoteRaw(noteID)
	if err != nil {
		t.Fatalf("expected note to exist locally: %v", err)
	}
	if local.Content != "hello from peer" {
		t.Fatalf("expected content %q, got %q", "hello from peer", local.Content)
	}
}

func TestReconcile_DivergedContent_RecordsConflict(t *testing.T) {
	s, r := newTestReconciler(t)
	remoteDevice := idgen.New()

	local, err := s.CreateNote("local content")
	if err != nil {
		t.Fatalf("failed to create local note: %v", err)
	}

	// No prior sync watermark: the note is considered locally changed
	// since peerLastSync is nil, so a differing remote content conflicts
	// instead of silently overwriting the local edit.
	remoteTS := local.CreatedAt.Add(time.Minute)
	change := noteChange(local.ID, "remote content", remoteTS, remoteDevice, store.OpUpdate)

	result := r.Reconcile(remoteDevice, nil, []store.ChangeRecord{change}, nil)
	if result.Conflicts != 1 || result.Applied != 0 {
		t.Fatalf("expected 1 conflict, 0 applied, got %+v", result)
	}

	conflicts, err := conflict.New(s).ListNoteContent(false)
	if err != nil {
		t.Fatalf("failed to list note content conflicts: %v", err)
	}
	if len(conflicts) != 1 {
		t.Fatalf("expected 1 unresolved note content conflict, got %d", len(conflicts))
	}

	// The local row must be untouched by a conflicting change.
	stillLocal, err := s.GetNoteRaw(local.ID)
	if err != nil {
		t.Fatalf("failed to reload local note: %v", err)
	}
	if stillLocal.Content != "local content" {
		t.Fatalf("expected local content preserved, got %q", stillLocal.Content)
	}
}

func TestReconcile_RedeliveredChange_IsSkipped(t *testing.T) {
	s, r := newTestReconciler(t)
	remoteDevice := idgen.New()
	noteID := idgen.New()
	ts := time.Now().UTC().Truncate(time.Second)
	peerLastSync := ts.Add(time.Hour) // change predates the watermark

	change := noteChange(noteID, "stale", ts, remoteDevice, store.OpCreate)
	result := r.Reconcile(remoteDevice, nil, []store.ChangeRecord{change}, &peerLastSync)

	if result.Applied != 0 || result.Conflicts != 0 {
		t.Fatalf("expected the change to be skipped, got %+v", result)
	}
	if _, err := s.GetNoteRaw(noteID); err == nil {
		t.Fatalf("expected note to not exist after a skipped change")
	}
}

func TestReconcile_UpdatesPeerWatermarkEvenOnError(t *testing.T) {
	s, r := newTestReconciler(t)
	remoteDevice := idgen.New()

	bad := store.ChangeRecord{
		EntityType: store.ChangeKind("unknown"),
		EntityID:   "not-a-valid-id",
		Operation:  store.OpCreate,
		Timestamp:  time.Now().UTC(),
		Data:       map[string]any{},
	}

	result := r.Reconcile(remoteDevice, nil, []store.ChangeRecord{bad}, nil)
	if len(result.Errors) != 1 {
		t.Fatalf("expected 1 error from the unknown entity type, got %+v", result.Errors)
	}

	peer, err := s.GetPeerLastSync(remoteDevice)
	if err != nil {
		t.Fatalf("failed to read peer sync state: %v", err)
	}
	if peer.LastSyncAt == nil {
		t.Fatalf("expected peer watermark to be set despite the per-change error")
	}
}

func noteTagChange(noteID, tagID, device uuid.UUID, created time.Time, deletedAt *time.Time) store.ChangeRecord {
	data := map[string]any{
		"note_id":    idgen.Hex(noteID),
		"tag_id":     idgen.Hex(tagID),
		"device_id":  idgen.Hex(device),
		"created_at": created.UTC().Format(time.RFC3339),
	}
	op := store.OpCreate
	if deletedAt != nil {
		data["deleted_at"] = deletedAt.UTC().Format(time.RFC3339)
		op = store.OpDelete
	}
	return store.ChangeRecord{
		EntityType: store.ChangeKindNoteTag,
		EntityID:   idgen.Hex(noteID) + ":" + idgen.Hex(tagID),
		Operation:  op,
		Timestamp:  created,
		Data:       data,
	}
}

func TestReconcile_NoteTag_BothActive_IsSkipped(t *testing.T) {
	s, r := newTestReconciler(t)
	remoteDevice := idgen.New()

	note, err := s.CreateNote("tagged note")
	if err != nil {
		t.Fatalf("failed to create note: %v", err)
	}
	tag, err := s.CreateTag("label", nil)
	if err != nil {
		t.Fatalf("failed to create tag: %v", err)
	}
	if _, err := s.AttachTag(note.ID, tag.ID); err != nil {
		t.Fatalf("failed to attach tag locally: %v", err)
	}

	ts := time.Now().UTC().Truncate(time.Second)
	change := noteTagChange(note.ID, tag.ID, remoteDevice, ts, nil)
	result := r.Reconcile(remoteDevice, nil, []store.ChangeRecord{change}, nil)

	if result.Applied != 0 || result.Conflicts != 0 {
		t.Fatalf("expected an already-active association to be skipped, got %+v", result)
	}
}

func TestReconcile_NoteTag_LocalActiveRemoteDelete_RecordsConflictWhenLocalChanged(t *testing.T) {
	s, r := newTestReconciler(t)
	remoteDevice := idgen.New()

	note, err := s.CreateNote("tagged note")
	if err != nil {
		t.Fatalf("failed to create note: %v", err)
	}
	tag, err := s.CreateTag("label", nil)
	if err != nil {
		t.Fatalf("failed to create tag: %v", err)
	}
	local, err := s.AttachTag(note.ID, tag.ID)
	if err != nil {
		t.Fatalf("failed to attach tag locally: %v", err)
	}

	remoteDeletedAt := local.CreatedAt.Add(time.Minute)
	change := noteTagChange(note.ID, tag.ID, remoteDevice, remoteDeletedAt, &remoteDeletedAt)

	result := r.Reconcile(remoteDevice, nil, []store.ChangeRecord{change}, nil)
	if result.Conflicts != 1 || result.Applied != 0 {
		t.Fatalf("expected a conflict preserving the active association, got %+v", result)
	}

	reloaded, err := s.GetNoteTagRaw(note.ID, tag.ID)
	if err != nil {
		t.Fatalf("failed to reload note_tag: %v", err)
	}
	if reloaded.DeletedAt != nil {
		t.Fatalf("expected the local association to remain active after the conflict")
	}
}

func TestReconcile_NoteTag_LocalDeletedRemoteActive_Reactivates(t *testing.T) {
	s, r := newTestReconciler(t)
	remoteDevice := idgen.New()

	note, err := s.CreateNote("tagged note")
	if err != nil {
		t.Fatalf("failed to create note: %v", err)
	}
	tag, err := s.CreateTag("label", nil)
	if err != nil {
		t.Fatalf("failed to create tag: %v", err)
	}
	local, err := s.AttachTag(note.ID, tag.ID)
	if err != nil {
		t.Fatalf("failed to attach tag locally: %v", err)
	}
	if err := s.DetachTag(note.ID, tag.ID); err != nil {
		t.Fatalf("failed to detach tag locally: %v", err)
	}

	remoteTS := local.CreatedAt.Add(time.Minute)
	change := noteTagChange(note.ID, tag.ID, remoteDevice, remoteTS, nil)

	result := r.Reconcile(remoteDevice, nil, []store.ChangeRecord{change}, nil)
	if result.Applied != 0 || result.Conflicts != 1 {
		t.Fatalf("expected the reactivation to also be recorded as a conflict, got %+v", result)
	}

	reloaded, err := s.GetNoteTagRaw(note.ID, tag.ID)
	if err != nil {
		t.Fatalf("failed to reload note_tag: %v", err)
	}
	if reloaded.DeletedAt != nil {
		t.Fatalf("expected the association to be reactivated, got deleted_at=%v", reloaded.DeletedAt)
	}
}

func TestReconcile_NoteTag_BothDeleted_DifferentTimestamps_Applies(t *testing.T) {
	s, r := newTestReconciler(t)
	remoteDevice := idgen.New()

	note, err := s.CreateNote("tagged note")
	if err != nil {
		t.Fatalf("failed to create note: %v", err)
	}
	tag, err := s.CreateTag("label", nil)
	if err != nil {
		t.Fatalf("failed to create tag: %v", err)
	}
	local, err := s.AttachTag(note.ID, tag.ID)
	if err != nil {
		t.Fatalf("failed to attach tag locally: %v", err)
	}
	if err := s.DetachTag(note.ID, tag.ID); err != nil {
		t.Fatalf("failed to detach tag locally: %v", err)
	}

	remoteDeletedAt := local.CreatedAt.Add(time.Hour)
	change := noteTagChange(note.ID, tag.ID, remoteDevice, remoteDeletedAt, &remoteDeletedAt)

	result := r.Reconcile(remoteDevice, nil, []store.ChangeRecord{change}, nil)
	if result.Applied != 1 || result.Conflicts != 0 {
		t.Fatalf("expected a converged double-delete to apply without a conflict, got %+v", result)
	}
}

func TestReconcile_TagReparentCycle_RecordsConflictInsteadOfApplying(t *testing.T) {
	s, r := newTestReconciler(t)
	remoteDevice := idgen.New()

	parent, err := s.CreateTag("parent", nil)
	if err != nil {
		t.Fatalf("failed to create parent tag: %v", err)
	}
	child, err := s.CreateTag("child", &parent.ID)
	if err != nil {
		t.Fatalf("failed to create child tag: %v", err)
	}

	// Remote reparents "parent" under "child" — a cycle.
	ts := time.Now().UTC().Truncate(time.Second).Add(time.Minute)
	change := store.ChangeRecord{
		EntityType: store.ChangeKindTag,
		EntityID:   idgen.Hex(parent.ID),
		Operation:  store.OpUpdate,
		Timestamp:  ts,
		Data: map[string]any{
			"id":         idgen.Hex(parent.ID),
			"device_id":  idgen.Hex(remoteDevice),
			"created_at": parent.CreatedAt.UTC().Format(time.RFC3339),
			"name":       "parent",
			"parent_id":  idgen.Hex(child.ID),
			"modified_at": ts.Format(time.RFC3339),
		},
	}

	result := r.Reconcile(remoteDevice, nil, []store.ChangeRecord{change}, nil)
	if result.Conflicts != 1 || result.Applied != 0 {
		t.Fatalf("expected a tag-parent conflict instead of a cycle, got %+v", result)
	}

	reloaded, err := s.GetTagRaw(parent.ID)
	if err != nil {
		t.Fatalf("failed to reload parent tag: %v", err)
	}
	if reloaded.ParentID != nil {
		t.Fatalf("expected parent tag to remain root-level, got parent_id %v", reloaded.ParentID)
	}
}
