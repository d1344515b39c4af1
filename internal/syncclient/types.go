package syncclient

import "github.com/dotancohen/notesync/internal/store"

// protocolVersion is the value this client advertises in handshakes; it
// must match internal/protocol.ProtocolVersion.
const protocolVersion = "1.0"

type handshakeRequest struct {
	DeviceID        string `json:"device_id"`
	DeviceName      string `json:"device_name"`
	ProtocolVersion string `json:"protocol_version"`
}

type handshakeResponse struct {
	DeviceID          string  `json:"device_id"`
	DeviceName        string  `json:"device_name"`
	ProtocolVersion   string  `json:"protocol_version"`
	LastSyncTimestamp *string `json:"last_sync_timestamp,omitempty"`
	ServerTimestamp   string  `json:"server_timestamp"`
}

type changesResponse struct {
	Changes       []store.ChangeRecord `json:"changes"`
	FromTimestamp *string               `json:"from_timestamp,omitempty"`
	ToTimestamp   *string               `json:"to_timestamp,omitempty"`
	DeviceID      string                `json:"device_id"`
	DeviceName    string                `json:"device_name"`
	IsComplete    bool                  `json:"is_complete"`
}

type applyRequest struct {
	DeviceID   string                `json:"device_id"`
	DeviceName string                `json:"device_name"`
	Changes    []store.ChangeRecord  `json:"changes"`
}

type applyResponse struct {
	Applied   int      `json:"applied"`
	Conflicts int      `json:"conflicts"`
	Errors    []string `json:"errors"`
}

type fullSyncResponse struct {
	Notes    []map[string]any `json:"notes"`
	Tags     []map[string]any `json:"tags"`
	NoteTags []map[string]any `json:"note_tags"`
}

type wireErrorResponse struct {
	Error string `json:"error"`
}

// PeerResult is the outcome of one sync_with_peer-style call against a
// single peer, returned from Client.SyncAll so the caller (the daemon's
// ticker, or cmd/syncctl) can report totals without any single peer's
// failure aborting the others (spec §4.6: "all network errors are
// non-fatal to the peer loop").
type PeerResult struct {
	PeerID    string
	Applied   int
	Conflicts int
	Pushed    int
	Err       error
}
