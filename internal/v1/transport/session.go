package transport

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/drophub/drophub/internal/v1/hub"
	"github.com/drophub/drophub/internal/v1/logging"
	"github.com/drophub/drophub/internal/v1/metrics"
	"github.com/drophub/drophub/internal/v1/ratelimit"
	"github.com/drophub/drophub/internal/v1/room"
	"github.com/drophub/drophub/internal/v1/types"
)

// session is the per-connection dispatcher: it binds at most one room
// subscription and any number of concurrent downloads to the socket, and
// tears all of it down when the socket goes away.
type session struct {
	hub     *hub.Hub
	conn    *conn
	limiter *ratelimit.Limiter
	remote  string

	// ctx ends with the connection; it unblocks uploads parked on
	// back-pressure when the uploader disappears.
	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	sub       *hub.Subscription
	downloads map[types.TransferID]*room.Download
}

// newSession binds a dispatcher to one connection. limiter may be nil, which
// disables per-call throttling (tests, dev mode).
func newSession(h *hub.Hub, c *conn, limiter *ratelimit.Limiter, remote string) *session {
	ctx, cancel := context.WithCancel(context.Background())
	return &session{
		hub:       h,
		conn:      c,
		limiter:   limiter,
		remote:    remote,
		ctx:       ctx,
		cancel:    cancel,
		downloads: make(map[types.TransferID]*room.Download),
	}
}

// rateKey identifies the caller for throttling: peer id once subscribed,
// remote address before that.
func (s *session) rateKey() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sub != nil {
		return string(s.sub.PeerID())
	}
	return s.remote
}

// dispatch decodes one inbound frame and routes it. Handlers for short
// operations run inline; only the block upload can park, bounded by the
// session context.
func (s *session) dispatch(data []byte) {
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		s.conn.enqueue(newErrorResponse(nil, &Error{Code: CodeParseError, Message: "parse error"}))
		return
	}
	if req.JSONRPC != jsonRPCVersion || req.Method == "" {
		s.conn.enqueue(newErrorResponse(req.ID, &Error{Code: CodeInvalidRequest, Message: "invalid request"}))
		return
	}

	if s.limiter != nil && !s.limiter.AllowRPC(s.ctx, s.rateKey()) {
		if req.ID != nil {
			s.conn.enqueue(newErrorResponse(req.ID, &Error{Code: CodeRateLimited, Message: "rate limit exceeded"}))
		}
		return
	}

	start := time.Now()
	result, err := s.call(&req)
	status := "ok"
	if err != nil {
		status = "error"
	}
	metrics.RPCRequests.WithLabelValues(req.Method, status).Inc()
	metrics.RPCDuration.WithLabelValues(req.Method).Observe(time.Since(start).Seconds())

	// Notifications get no reply, not even errors.
	if req.ID == nil {
		return
	}
	if err != nil {
		s.conn.enqueue(newErrorResponse(req.ID, toRPCError(err)))
		return
	}
	s.conn.enqueue(newResponse(req.ID, result))
}

func (s *session) call(req *Request) (any, error) {
	switch req.Method {
	case MethodRoomCreate:
		return s.handleCreate(req.Params)
	case MethodRoomConnect:
		return s.handleConnect(req.Params)
	case MethodRoomInvite:
		return s.handleInvite(req.Params)
	case MethodRoomRevoke:
		return s.handleRevokeInvite(req.Params)
	case MethodRoomKick:
		return s.handleKick(req.Params)
	case MethodEntityAnnounce:
		return s.handleAnnounceEntity(req.Params)
	case MethodEntityRemove:
		return s.handleRemoveEntity(req.Params)
	case MethodSubDownload:
		return s.handleSubDownload(req.Params)
	case MethodUploadBlock:
		return s.handleUploadBlock(req.Params)
	case MethodCancelDownload:
		return s.handleCancelDownload(req.Params)
	default:
		return nil, &Error{Code: CodeMethodNotFound, Message: "method not found: " + req.Method}
	}
}

func decodeParams(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return &Error{Code: CodeInvalidParams, Message: "missing params"}
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return &Error{Code: CodeInvalidParams, Message: "invalid params: " + err.Error()}
	}
	return nil
}

// attach binds the connection's single room subscription and starts the
// event forwarder.
func (s *session) attach(sub *hub.Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.sub != nil {
		sub.Close()
		return &Error{Code: CodeInvalidRequest, Message: "connection already subscribed to a room"}
	}
	s.sub = sub
	go s.forwardEvents(sub)
	return nil
}

func (s *session) handleCreate(raw json.RawMessage) (any, error) {
	var p createRoomParams
	if len(raw) > 0 {
		if err := decodeParams(raw, &p); err != nil {
			return nil, err
		}
	}

	sub, err := s.hub.CreateRoom(p.Options)
	if err != nil {
		return nil, err
	}
	if err := s.attach(sub); err != nil {
		return nil, err
	}
	return subscribedResult{RoomID: sub.RoomID(), PeerID: sub.PeerID()}, nil
}

func (s *session) handleConnect(raw json.RawMessage) (any, error) {
	var p connectRoomParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}

	sub, err := s.hub.JoinRoom(p.RoomID, p.Passphrase)
	if err != nil {
		return nil, err
	}
	if err := s.attach(sub); err != nil {
		return nil, err
	}
	return subscribedResult{RoomID: sub.RoomID(), PeerID: sub.PeerID()}, nil
}

func (s *session) handleInvite(raw json.RawMessage) (any, error) {
	var p credentialParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	inv, err := s.hub.Invite(p.Credential)
	if err != nil {
		return nil, err
	}
	return inviteResult{Passphrase: inv.Passphrase, RoomID: inv.RoomID, ExpiresAt: inv.ExpiresAt}, nil
}

func (s *session) handleRevokeInvite(raw json.RawMessage) (any, error) {
	var p revokeInviteParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	return struct{}{}, s.hub.RevokeInvite(p.Credential, p.Passphrase)
}

func (s *session) handleKick(raw json.RawMessage) (any, error) {
	var p kickParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	return struct{}{}, s.hub.Kick(p.Credential, p.PeerID)
}

func (s *session) handleAnnounceEntity(raw json.RawMessage) (any, error) {
	var p announceEntityParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	if err := p.Meta.Validate(); err != nil {
		return nil, &Error{Code: CodeInvalidParams, Message: err.Error()}
	}
	id, err := s.hub.AnnounceEntity(p.Credential, p.Meta)
	if err != nil {
		return nil, err
	}
	return announceEntityResult{EntityID: id}, nil
}

func (s *session) handleRemoveEntity(raw json.RawMessage) (any, error) {
	var p removeEntityParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	return struct{}{}, s.hub.RemoveEntity(p.Credential, p.EntityID)
}

func (s *session) handleSubDownload(raw json.RawMessage) (any, error) {
	var p subDownloadParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}

	dl, err := s.hub.Download(p.Credential, p.EntityID)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.downloads[dl.TransferID] = dl
	s.mu.Unlock()
	go s.forwardDownload(dl)

	return subDownloadResult{
		TransferID:  dl.TransferID,
		EntityID:    dl.EntityID,
		SizeBytes:   dl.SizeBytes,
		BlockSize:   dl.BlockSize,
		TotalBlocks: dl.TotalBlocks,
	}, nil
}

func (s *session) handleUploadBlock(raw json.RawMessage) (any, error) {
	var p uploadBlockParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	if err := s.hub.UploadBlock(s.ctx, p.Credential, p.TransferID, p.BlockIndex, p.Bytes); err != nil {
		return nil, err
	}
	return struct{}{}, nil
}

func (s *session) handleCancelDownload(raw json.RawMessage) (any, error) {
	var p cancelDownloadParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	return struct{}{}, s.hub.CancelTransfer(p.Credential, p.TransferID)
}

// forwardEvents pushes the subscription stream to the socket. When the
// stream ends server side (kick or room teardown) the socket closes too;
// the client observes the close frame after the last event.
func (s *session) forwardEvents(sub *hub.Subscription) {
	for ev := range sub.Events() {
		s.conn.enqueue(newNotification(NotifyRoomEvent, ev))
	}

	s.mu.Lock()
	stillOurs := s.sub == sub
	s.mu.Unlock()
	if stillOurs {
		s.conn.disconnect()
	}
}

// forwardDownload pushes transfer blocks to the socket and reports how the
// transfer ended.
func (s *session) forwardDownload(dl *room.Download) {
	complete := false
	idx := 0

	for {
		var done bool
		select {
		case b, ok := <-dl.Data:
			if !ok {
				complete = true
				done = true
				break
			}
			s.conn.enqueue(newNotification(NotifyDownloadBlock, downloadBlockNotif{
				TransferID: dl.TransferID,
				Block:      types.Block{Index: idx, Data: b, Last: idx == dl.TotalBlocks-1},
			}))
			idx++
		case <-dl.Done:
			done = true
		}
		if done {
			break
		}
	}

	s.mu.Lock()
	delete(s.downloads, dl.TransferID)
	s.mu.Unlock()

	s.conn.enqueue(newNotification(NotifyDownloadClosed, downloadClosedNotif{
		TransferID: dl.TransferID,
		Complete:   complete,
	}))
}

// teardown releases everything the connection held: its pending uploads,
// its downloads, and finally its room membership. Called once from the read
// pump's exit path.
func (s *session) teardown() {
	s.cancel()

	s.mu.Lock()
	sub := s.sub
	downloads := make([]*room.Download, 0, len(s.downloads))
	for _, dl := range s.downloads {
		downloads = append(downloads, dl)
	}
	s.mu.Unlock()

	for _, dl := range downloads {
		s.hub.ReleaseTransfer(dl.RoomID, dl.TransferID)
	}

	if sub != nil {
		logging.Info(s.ctx, "Subscription closing with connection",
			zap.Uint64("room", uint64(sub.RoomID())),
			zap.String("peerId", string(sub.PeerID())))
		sub.Close()
	}
}
