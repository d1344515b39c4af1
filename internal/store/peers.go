package store

import (
	"database/sql"

	"github.com/google/uuid"

	"github.com/dotancohen/notesync/internal/syncerr"
)

// GetPeerLastSync returns the sync_peers row for peerID. It never returns a
// nil *SyncPeer on success: for a peer this device has never synced with,
// the returned row's LastSyncAt is nil.
func (s *Store) GetPeerLastSync(peerID uuid.UUID) (*SyncPeer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row := s.db.QueryRow(`SELECT peer_id, peer_name, last_sync_at FROM sync_peers WHERE peer_id = ?`, peerID[:])
	var (
		idBytes      []byte
		peerName     sql.NullString
		lastSyncAt   sql.NullString
	)
	if err := row.Scan(&idBytes, &peerName, &lastSyncAt); err == sql.ErrNoRows {
		return &SyncPeer{PeerID: peerID}, nil
	} else if err != nil {
		return nil, syncerr.Storage("failed to read peer sync state", err)
	}

	sp := &SyncPeer{PeerID: peerID}
	if peerName.Valid {
		sp.PeerName = &peerName.String
	}
	if lastSyncAt.Valid {
		t, err := parseTime(lastSyncAt.String)
		if err != nil {
			return nil, syncerr.Storage("malformed peer last_sync_at", err)
		}
		sp.LastSyncAt = &t
	}
	return sp, nil
}

// UpdatePeerSyncTime sets the peer's watermark to "now on this device" —
// deliberately not the maximum applied-change timestamp (spec §4.4, §9):
// this guards against clock skew, since any locally-created change after
// this point will be picked up on the next outgoing push regardless of the
// peer's own clock.
func (s *Store) UpdatePeerSyncTime(peerID uuid.UUID, peerName *string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ts := formatTime(now())
	_, err := s.db.Exec(
		`INSERT INTO sync_peers (peer_id, peer_name, last_sync_at) VALUES (?, ?, ?)
		 ON CONFLICT(peer_id) DO UPDATE SET
		   peer_name = COALESCE(excluded.peer_name, sync_peers.peer_name),
		   last_sync_at = excluded.last_sync_at`,
		peerID[:], nullableString(peerName), ts,
	)
	if err != nil {
		return syncerr.Storage("failed to update peer sync time", err)
	}
	return nil
}

func nullableString(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}
