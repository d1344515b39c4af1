package protocol

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/dotancohen/notesync/internal/idgen"
	"github.com/dotancohen/notesync/internal/store"
	"github.com/dotancohen/notesync/internal/syncerr"
)

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, statusResponse{
		DeviceID:        s.DeviceID,
		DeviceName:      s.DeviceName,
		ProtocolVersion: ProtocolVersion,
		Status:          "ok",
	})
}

func (s *Server) handleHandshake(w http.ResponseWriter, r *http.Request) {
	var req handshakeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed handshake body")
		return
	}

	peerID, err := idgen.ParseHex(req.DeviceID, "device_id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid device_id format")
		return
	}

	peer, err := s.Store.GetPeerLastSync(peerID)
	if err != nil {
		writeErrFromSync(w, err)
		return
	}

	var lastSync *string
	if peer.LastSyncAt != nil {
		ts := formatTimestamp(*peer.LastSyncAt)
		lastSync = &ts
	}

	s.writeJSON(w, http.StatusOK, handshakeResponse{
		DeviceID:          s.DeviceID,
		DeviceName:        s.DeviceName,
		ProtocolVersion:   ProtocolVersion,
		LastSyncTimestamp: lastSync,
		ServerTimestamp:   formatTimestamp(time.Now()),
	})
}

func (s *Server) handleChanges(w http.ResponseWriter, r *http.Request) {
	since, err := parseSince(r.URL.Query().Get("since"))
	if err != nil {
		writeErrFromSync(w, err)
		return
	}
	limit := parseLimit(r.URL.Query().Get("limit"), DefaultChangesLimit, MaxChangesLimit)

	changes, to, err := s.Store.GetChangesSince(since, limit)
	if err != nil {
		writeErrFromSync(w, err)
		return
	}

	var fromStr, toStr *string
	if since != nil {
		v := formatTimestamp(*since)
		fromStr = &v
	}
	if to != nil {
		v := formatTimestamp(*to)
		toStr = &v
	}

	s.writeJSON(w, http.StatusOK, changesResponse{
		Changes:       changes,
		FromTimestamp: fromStr,
		ToTimestamp:   toStr,
		DeviceID:      s.DeviceID,
		DeviceName:    s.DeviceName,
		IsComplete:    len(changes) < limit,
	})
}

func (s *Server) handleApply(w http.ResponseWriter, r *http.Request) {
	var req applyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed apply body")
		return
	}

	peerID, err := idgen.ParseHex(req.DeviceID, "device_id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid device_id format")
		return
	}

	peer, err := s.Store.GetPeerLastSync(peerID)
	if err != nil {
		writeErrFromSync(w, err)
		return
	}

	var peerName *string
	if req.DeviceName != "" {
		peerName = &req.DeviceName
	}

	result := s.Reconciler.Reconcile(peerID, peerName, req.Changes, peer.LastSyncAt)

	errs := make([]string, 0, len(result.Errors))
	for _, e := range result.Errors {
		errs = append(errs, e.Error())
	}

	s.writeJSON(w, http.StatusOK, applyResponse{
		Applied:   result.Applied,
		Conflicts: result.Conflicts,
		Errors:    errs,
	})
}

func (s *Server) handleFull(w http.ResponseWriter, r *http.Request) {
	changes, _, err := s.Store.GetChangesSince(nil, 0)
	if err != nil {
		writeErrFromSync(w, err)
		return
	}

	resp := fullSyncResponse{
		Notes:    []map[string]any{},
		Tags:     []map[string]any{},
		NoteTags: []map[string]any{},
	}
	for _, c := range changes {
		switch c.EntityType {
		case store.ChangeKindNote:
			resp.Notes = append(resp.Notes, c.Data)
		case store.ChangeKindTag:
			resp.Tags = append(resp.Tags, c.Data)
		case store.ChangeKindNoteTag:
			resp.NoteTags = append(resp.NoteTags, c.Data)
		default:
			writeErrFromSync(w, syncerr.Sync("unknown entity_type in full sync dataset"))
			return
		}
	}

	s.writeJSON(w, http.StatusOK, resp)
}
