package protocol

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/dotancohen/notesync/internal/conflict"
	"github.com/dotancohen/notesync/internal/idgen"
	"github.com/dotancohen/notesync/internal/reconcile"
	"github.com/dotancohen/notesync/internal/store"
)

func newTestServer(t *testing.T) (*Server, *store.Store) {
	t.Helper()
	deviceID := idgen.New()
	s, err := store.Open(t.TempDir()+"/notesync.db", deviceID)
	if err != nil {
		t.Fatalf("failed to open test store: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	reconciler := reconcile.New(s, conflict.New(s), zerolog.Nop())
	return &Server{
		Store:      s,
		Reconciler: reconciler,
		DeviceID:   idgen.Hex(deviceID),
		DeviceName: "test-device",
		Log:        zerolog.Nop(),
	}, s
}

func TestHandleStatus(t *testing.T) {
	srv, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/sync/status", nil)
	rec := httptest.NewRecorder()
	srv.Routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp statusResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.DeviceID != srv.DeviceID || resp.Status != "ok" {
		t.Fatalf("unexpected status response: %+v", resp)
	}
}

func TestHandleHandshake_UnknownPeer_NoLastSync(t *testing.T) {
	srv, _ := newTestServer(t)
	peerID := idgen.New()

	body, _ := json.Marshal(handshakeRequest{
		DeviceID:        idgen.Hex(peerID),
		DeviceName:      "peer-device",
		ProtocolVersion: ProtocolVersion,
	})
	req := httptest.NewRequest(http.MethodPost, "/sync/handshake", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	srv.Routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp handshakeResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.LastSyncTimestamp != nil {
		t.Fatalf("expected no last sync timestamp for an unknown peer, got %v", *resp.LastSyncTimestamp)
	}
}

func TestHandleHandshake_InvalidDeviceID(t *testing.T) {
	srv, _ := newTestServer(t)
	body, _ := json.Marshal(handshakeRequest{DeviceID: "not-hex", DeviceName: "x", ProtocolVersion: ProtocolVersion})
	req := httptest.NewRequest(http.MethodPost, "/sync/handshake", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	srv.Routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for an invalid device id, got %d", rec.Code)
	}
}

func TestHandleChanges_ReturnsCreatedNote(t *testing.T) {
	srv, s := newTestServer(t)
	if _, err := s.CreateNote("first note"); err != nil {
		t.Fatalf("failed to seed note: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/sync/changes", nil)
	rec := httptest.NewRecorder()
	srv.Routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp changesResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(resp.Changes) != 1 {
		t.Fatalf("expected 1 change, got %d", len(resp.Changes))
	}
	if !resp.IsComplete {
		t.Fatalf("expected is_complete true when under the page limit")
	}
}

func TestHandleApply_AppliesIncomingNote(t *testing.T) {
	srv, s := newTestServer(t)
	remoteDevice := idgen.New()
	noteID := idgen.New()
	ts := time.Now().UTC().Truncate(time.Second)
	now := formatTimestamp(ts)

	applyBody, _ := json.Marshal(applyRequest{
		DeviceID:   idgen.Hex(remoteDevice),
		DeviceName: "peer-device",
		Changes: []store.ChangeRecord{
			{
				EntityType: store.ChangeKindNote,
				EntityID:   idgen.Hex(noteID),
				Operation:  store.OpCreate,
				Timestamp:  ts,
				Data: map[string]any{
					"id":         idgen.Hex(noteID),
					"device_id":  idgen.Hex(remoteDevice),
					"created_at": now,
					"content":    "pushed from peer",
				},
			},
		},
	})

	req := httptest.NewRequest(http.MethodPost, "/sync/apply", bytes.NewReader(applyBody))
	rec := httptest.NewRecorder()
	srv.Routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp applyResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Applied != 1 || resp.Conflicts != 0 {
		t.Fatalf("expected 1 applied, 0 conflicts, got %+v", resp)
	}

	local, err := s.GetNoteRaw(noteID)
	if err != nil {
		t.Fatalf("expected applied note to exist locally: %v", err)
	}
	if local.Content != "pushed from peer" {
		t.Fatalf("unexpected content: %q", local.Content)
	}
}

func TestHandleFull_BucketsEntitiesByType(t *testing.T) {
	srv, s := newTestServer(t)
	if _, err := s.CreateNote("a note"); err != nil {
		t.Fatalf("failed to seed note: %v", err)
	}
	if _, err := s.CreateTag("a tag", nil); err != nil {
		t.Fatalf("failed to seed tag: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/sync/full", nil)
	rec := httptest.NewRecorder()
	srv.Routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp fullSyncResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(resp.Notes) != 1 || len(resp.Tags) != 1 || len(resp.NoteTags) != 0 {
		t.Fatalf("expected 1 note, 1 tag, 0 note_tags, got notes=%d tags=%d note_tags=%d",
			len(resp.Notes), len(resp.Tags), len(resp.NoteTags))
	}
}
