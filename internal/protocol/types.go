package protocol

import "github.com/dotancohen/notesync/internal/store"

// ProtocolVersion is advertised in every handshake and status response
// (spec §4.5).
const ProtocolVersion = "1.0"

type statusResponse struct {
	DeviceID        string `json:"device_id"`
	DeviceName      string `json:"device_name"`
	ProtocolVersion string `json:"protocol_version"`
	Status          string `json:"status"`
}

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

type errorResponse struct {
	Error string `json:"error"`
}
