// Package syncclient drives the peer side of a sync: per spec.md §4.6 it
// resolves a configured peer's URL and pinned fingerprint, opens TLS,
// handshakes, then pulls and pushes changes. Every peer is handled
// independently — a network failure against one peer never aborts the
// others.
package syncclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/dotancohen/notesync/internal/config"
	"github.com/dotancohen/notesync/internal/idgen"
	"github.com/dotancohen/notesync/internal/metrics"
	"github.com/dotancohen/notesync/internal/reconcile"
	"github.com/dotancohen/notesync/internal/store"
	"github.com/dotancohen/notesync/internal/syncerr"
	"github.com/dotancohen/notesync/internal/transport"
)

// ChangesPageSize bounds each /sync/changes and /sync/apply request this
// client issues; the server independently clamps to its own max (spec
// §4.5's 10000), so this only controls round-trip granularity.
const ChangesPageSize = 1000

// Per-call timeouts (spec §4.7's concurrency model: "default 30 seconds
// for handshake/status, 5 minutes for full sync").
const (
	CallTimeout     = 30 * time.Second
	FullSyncTimeout = 5 * time.Minute
)

// Client drives outbound sync against configured peers.
type Client struct {
	cfg        *config.Config
	store      *store.Store
	reconciler *reconcile.Reconciler
	log        zerolog.Logger
}

// New builds a Client over the given config, store and reconciler.
func New(cfg *config.Config, s *store.Store, r *reconcile.Reconciler, log zerolog.Logger) *Client {
	return &Client{cfg: cfg, store: s, reconciler: r, log: log.With().Str("component", "syncclient").Logger()}
}

func (c *Client) httpClient(peer config.Peer) *http.Client {
	verifier := transport.NewTOFUVerifier(peer.PeerID, c.cfg)
	return &http.Client{
		Transport: &http.Transport{TLSClientConfig: verifier.ClientConfig()},
	}
}

// SyncAll runs sync_with_peer against every configured peer, collecting a
// PeerResult per peer regardless of individual failures.
func (c *Client) SyncAll(ctx context.Context) []PeerResult {
	peers := c.cfg.Peers()
	results := make([]PeerResult, 0, len(peers))
	for _, peer := range peers {
		results = append(results, c.syncPeerSafely(ctx, peer))
	}
	return results
}

func (c *Client) syncPeerSafely(ctx context.Context, peer config.Peer) PeerResult {
	timer := metrics.NewTimer()
	res := c.SyncWithPeer(ctx, peer)
	timer.ObserveDuration(metrics.PeerSyncDuration.WithLabelValues(peer.PeerID))
	if res.Err != nil {
		metrics.PeerSyncFailuresTotal.WithLabelValues(peer.PeerID, syncerr.KindOf(res.Err).String()).Inc()
		c.log.Warn().Err(res.Err).Str("peer_id", peer.PeerID).Msg("peer sync failed, continuing to next peer")
	}
	return res
}

// SyncWithPeer performs one full pull-then-push exchange with peer (spec
// §4.6). A failure anywhere in the exchange is non-fatal to the caller:
// it is recorded on the returned PeerResult and the peer watermark is
// left untouched.
func (c *Client) SyncWithPeer(ctx context.Context, peer config.Peer) PeerResult {
	res := PeerResult{PeerID: peer.PeerID}

	peerID, err := idgen.ParseHex(peer.PeerID, "peer_id")
	if err != nil {
		res.Err = err
		return res
	}

	httpClient := c.httpClient(peer)
	deviceID, err := c.cfg.DeviceID()
	if err != nil {
		res.Err = err
		return res
	}
	deviceIDHex := idgen.Hex(deviceID)
	deviceName := c.cfg.DeviceName()

	hctx, cancel := context.WithTimeout(ctx, CallTimeout)
	hs, err := c.handshake(hctx, httpClient, peer, deviceIDHex, deviceName)
	cancel()
	if err != nil {
		res.Err = err
		return res
	}

	localPeer, err := c.store.GetPeerLastSync(peerID)
	if err != nil {
		res.Err = err
		return res
	}

	applied, conflicts, err := c.pullFrom(ctx, httpClient, peer, peerID, localPeer.LastSyncAt)
	if err != nil {
		res.Err = err
		return res
	}
	res.Applied, res.Conflicts = applied, conflicts

	var remoteWatermark *time.Time
	if hs.LastSyncTimestamp != nil {
		t, err := time.Parse(time.RFC3339, *hs.LastSyncTimestamp)
		if err == nil {
			remoteWatermark = &t
		}
	}

	pushed, err := c.pushTo(ctx, httpClient, peer, deviceIDHex, deviceName, remoteWatermark)
	if err != nil {
		res.Err = err
		return res
	}
	res.Pushed = pushed

	if err := c.store.UpdatePeerSyncTime(peerID, &hs.DeviceName); err != nil {
		res.Err = err
		return res
	}
	return res
}

// InitialSync performs spec §4.6's "GET /sync/full, apply all entities
// unconditionally" bootstrap, then runs a normal SyncWithPeer to pick up
// anything that changed between the full fetch and now.
func (c *Client) InitialSync(ctx context.Context, peer config.Peer) PeerResult {
	res := PeerResult{PeerID: peer.PeerID}

	if _, err := idgen.ParseHex(peer.PeerID, "peer_id"); err != nil {
		res.Err = err
		return res
	}

	httpClient := c.httpClient(peer)
	fctx, cancel := context.WithTimeout(ctx, FullSyncTimeout)
	full, err := c.fetchFull(fctx, httpClient, peer)
	cancel()
	if err != nil {
		res.Err = err
		return res
	}

	applied := 0
	for _, data := range full.Notes {
		n, err := store.NoteFromWire(data)
		if err != nil {
			res.Err = err
			return res
		}
		if err := c.store.ApplyNote(n); err != nil {
			res.Err = err
			return res
		}
		applied++
	}
	for _, data := range full.Tags {
		t, err := store.TagFromWire(data)
		if err != nil {
			res.Err = err
			return res
		}
		if err := c.store.ApplyTag(t); err != nil {
			res.Err = err
			return res
		}
		applied++
	}
	for _, data := range full.NoteTags {
		nt, err := store.NoteTagFromWire(data)
		if err != nil {
			res.Err = err
			return res
		}
		if err := c.store.ApplyNoteTag(nt); err != nil {
			res.Err = err
			return res
		}
		applied++
	}
	res.Applied = applied

	follow := c.SyncWithPeer(ctx, peer)
	follow.Applied += res.Applied
	return follow
}

// PullFromPeer is the one-way pull variant for operator use (spec §4.6).
func (c *Client) PullFromPeer(ctx context.Context, peer config.Peer) PeerResult {
	res := PeerResult{PeerID: peer.PeerID}

	peerID, err := idgen.ParseHex(peer.PeerID, "peer_id")
	if err != nil {
		res.Err = err
		return res
	}
	localPeer, err := c.store.GetPeerLastSync(peerID)
	if err != nil {
		res.Err = err
		return res
	}

	httpClient := c.httpClient(peer)
	applied, conflicts, err := c.pullFrom(ctx, httpClient, peer, peerID, localPeer.LastSyncAt)
	res.Applied, res.Conflicts, res.Err = applied, conflicts, err
	if err == nil {
		err = c.store.UpdatePeerSyncTime(peerID, nil)
		res.Err = err
	}
	return res
}

// PushToPeer is the one-way push variant for operator use (spec §4.6).
func (c *Client) PushToPeer(ctx context.Context, peer config.Peer) PeerResult {
	res := PeerResult{PeerID: peer.PeerID}

	peerID, err := idgen.ParseHex(peer.PeerID, "peer_id")
	if err != nil {
		res.Err = err
		return res
	}

	httpClient := c.httpClient(peer)
	deviceID, err := c.cfg.DeviceID()
	if err != nil {
		res.Err = err
		return res
	}
	deviceIDHex := idgen.Hex(deviceID)
	deviceName := c.cfg.DeviceName()

	hctx, cancel := context.WithTimeout(ctx, CallTimeout)
	hs, err := c.handshake(hctx, httpClient, peer, deviceIDHex, deviceName)
	cancel()
	if err != nil {
		res.Err = err
		return res
	}

	var remoteWatermark *time.Time
	if hs.LastSyncTimestamp != nil {
		t, err := time.Parse(time.RFC3339, *hs.LastSyncTimestamp)
		if err == nil {
			remoteWatermark = &t
		}
	}

	pushed, err := c.pushTo(ctx, httpClient, peer, deviceIDHex, deviceName, remoteWatermark)
	res.Pushed, res.Err = pushed, err
	if err == nil {
		err = c.store.UpdatePeerSyncTime(peerID, &hs.DeviceName)
		res.Err = err
	}
	return res
}

func (c *Client) pullFrom(ctx context.Context, httpClient *http.Client, peer config.Peer, peerID uuid.UUID, since *time.Time) (applied, conflicts int, err error) {
	cursor := since
	for {
		cctx, cancel := context.WithTimeout(ctx, CallTimeout)
		page, err := c.fetchChanges(cctx, httpClient, peer, cursor, ChangesPageSize)
		cancel()
		if err != nil {
			return applied, conflicts, err
		}

		if len(page.Changes) > 0 {
			result := c.reconciler.Reconcile(peerID, &page.DeviceName, page.Changes, since)
			applied += result.Applied
			conflicts += result.Conflicts
			if len(result.Errors) > 0 {
				c.log.Warn().Int("count", len(result.Errors)).Str("peer_id", peer.PeerID).Msg("errors reconciling pulled changes")
			}
		}

		if page.IsComplete {
			return applied, conflicts, nil
		}
		if page.ToTimestamp == nil {
			return applied, conflicts, nil
		}
		t, perr := time.Parse(time.RFC3339, *page.ToTimestamp)
		if perr != nil {
			return applied, conflicts, syncerr.Sync("server returned malformed to_timestamp")
		}
		cursor = &t
	}
}

func (c *Client) pushTo(ctx context.Context, httpClient *http.Client, peer config.Peer, deviceIDHex, deviceName string, since *time.Time) (int, error) {
	pushed := 0
	cursor := since
	for {
		changes, to, err := c.store.GetChangesSince(cursor, ChangesPageSize)
		if err != nil {
			return pushed, err
		}
		if len(changes) == 0 {
			return pushed, nil
		}

		cctx, cancel := context.WithTimeout(ctx, CallTimeout)
		err = c.apply(cctx, httpClient, peer, deviceIDHex, deviceName, changes)
		cancel()
		if err != nil {
			return pushed, err
		}
		pushed += len(changes)

		if len(changes) < ChangesPageSize || to == nil {
			return pushed, nil
		}
		cursor = to
	}
}

func (c *Client) handshake(ctx context.Context, httpClient *http.Client, peer config.Peer, deviceIDHex, deviceName string) (*handshakeResponse, error) {
	reqBody := handshakeRequest{DeviceID: deviceIDHex, DeviceName: deviceName, ProtocolVersion: protocolVersion}
	var resp handshakeResponse
	if err := c.doJSON(ctx, httpClient, http.MethodPost, peer.PeerURL+"/sync/handshake", reqBody, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) fetchChanges(ctx context.Context, httpClient *http.Client, peer config.Peer, since *time.Time, limit int) (*changesResponse, error) {
	url := fmt.Sprintf("%s/sync/changes?limit=%d", peer.PeerURL, limit)
	if since != nil {
		url += "&since=" + since.UTC().Format(time.RFC3339)
	}
	var resp changesResponse
	if err := c.doJSON(ctx, httpClient, http.MethodGet, url, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) apply(ctx context.Context, httpClient *http.Client, peer config.Peer, deviceIDHex, deviceName string, changes []store.ChangeRecord) error {
	reqBody := applyRequest{DeviceID: deviceIDHex, DeviceName: deviceName, Changes: changes}
	var resp applyResponse
	if err := c.doJSON(ctx, httpClient, http.MethodPost, peer.PeerURL+"/sync/apply", reqBody, &resp); err != nil {
		return err
	}
	if len(resp.Errors) > 0 {
		c.log.Warn().Strs("errors", resp.Errors).Str("peer_id", peer.PeerID).Msg("peer reported errors applying pushed changes")
	}
	return nil
}

func (c *Client) fetchFull(ctx context.Context, httpClient *http.Client, peer config.Peer) (*fullSyncResponse, error) {
	var resp fullSyncResponse
	if err := c.doJSON(ctx, httpClient, http.MethodGet, peer.PeerURL+"/sync/full", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) doJSON(ctx context.Context, httpClient *http.Client, method, url string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return syncerr.Other("failed to encode request body", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return syncerr.Network("failed to build request", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return syncerr.Network(fmt.Sprintf("request to %s failed", url), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var wireErr wireErrorResponse
		_ = json.NewDecoder(resp.Body).Decode(&wireErr)
		return syncerr.Sync(fmt.Sprintf("peer returned HTTP %d for %s: %s", resp.StatusCode, url, wireErr.Error))
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return syncerr.Sync(fmt.Sprintf("failed to decode response from %s: %v", url, err))
		}
	}
	return nil
}
