package hub

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/drophub/drophub/internal/v1/logging"
	"github.com/drophub/drophub/internal/v1/room"
	"github.com/drophub/drophub/internal/v1/types"
)

// subscriptionBuffer bounds the outbound event queue per subscription. A
// consumer that stalls longer than this back-pressures the event loop, which
// in turn lets the room's broadcast lag machinery kick in.
const subscriptionBuffer = 32

// Subscription is one peer's live attachment to a room. Its event stream
// starts with an Init carrying the minted credential, then interleaves
// post-mutation snapshots and upload demands. The stream closing without
// Close being called means the peer was kicked or the room ended.
type Subscription struct {
	hub  *Hub
	room *room.Room
	peer *room.Peer
	info *room.InfoSub
	init types.InitEvent

	out      chan types.RoomEvent
	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// newSubscription mints the peer's credential and attaches the broadcast
// receiver. The event loop is started separately once the peer is a member.
func (h *Hub) newSubscription(r *room.Room, peer *room.Peer) (*Subscription, error) {
	now := h.opts.Now()
	access, refresh, err := h.codec.Mint(peer.ID, r.ID(), peer.Role, now)
	if err != nil {
		return nil, err
	}

	return &Subscription{
		hub:  h,
		room: r,
		peer: peer,
		info: r.SubscribeInfo(),
		init: types.InitEvent{
			Credential:   access,
			RefreshToken: refresh,
			RoomID:       r.ID(),
			PeerID:       peer.ID,
			Role:         peer.Role,
			ExpiresAt:    now.Add(h.codec.AccessTTL()),
		},
		out:  make(chan types.RoomEvent, subscriptionBuffer),
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}, nil
}

// start launches the event loop. Called exactly once, after the peer is
// registered in the room.
func (s *Subscription) start() {
	go s.run()
}

// abort releases a subscription whose peer never joined. The loop was not
// started, so everything closes synchronously.
func (s *Subscription) abort() {
	s.info.Cancel()
	s.peer.Close()
	close(s.out)
	close(s.done)
}

// RoomID returns the subscribed room's id.
func (s *Subscription) RoomID() types.RoomID {
	return s.room.ID()
}

// PeerID returns the subscriber's peer id.
func (s *Subscription) PeerID() types.PeerID {
	return s.peer.ID
}

// Role returns the subscriber's role.
func (s *Subscription) Role() types.RoleType {
	return s.peer.Role
}

// Events returns the ordered event stream. It closes when the subscription
// ends, whichever side initiated it.
func (s *Subscription) Events() <-chan types.RoomEvent {
	return s.out
}

// Done is closed once the event loop has fully unwound, including any
// peer or room removal triggered by Close.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Close ends the subscription from the client side: the host's departure
// removes the whole room, a guest's departure removes just the guest.
// Safe to call more than once.
func (s *Subscription) Close() {
	s.stopOnce.Do(func() { close(s.stop) })
	<-s.done
}

func (s *Subscription) run() {
	defer close(s.done)
	defer close(s.out)

	if !s.send(types.RoomEvent{Type: types.EventTypeInit, Init: &s.init}) {
		s.leave()
		return
	}

	for {
		select {
		case <-s.stop:
			s.leave()
			return

		case ev, ok := <-s.info.C():
			if !ok {
				// Room torn down underneath us.
				return
			}
			info := ev.Info
			if !s.send(types.RoomEvent{
				Type:     types.EventTypeRoomInfo,
				RoomInfo: &types.RoomInfoEvent{Info: info, Resync: ev.Lagged},
			}) {
				s.leave()
				return
			}

		case req, ok := <-s.peer.Demands():
			if !ok {
				// The peer was removed: kicked, or the room ended.
				s.info.Cancel()
				return
			}
			if !s.send(types.RoomEvent{Type: types.EventTypeUploadRequest, UploadRequest: &req}) {
				s.leave()
				return
			}
		}
	}
}

// send queues one event for the consumer. It reports false once Close was
// requested, so the loop unwinds instead of blocking forever.
func (s *Subscription) send(ev types.RoomEvent) bool {
	select {
	case s.out <- ev:
		return true
	case <-s.stop:
		return false
	}
}

// leave detaches the peer on a client-initiated close. The host takes the
// room down with it; a guest's exit removes the guest and its entities.
func (s *Subscription) leave() {
	s.info.Cancel()

	if s.peer.Role == types.RoleTypeHost {
		s.hub.store.Remove(s.room.ID())
		return
	}

	if err := s.room.RemovePeer(s.peer.ID); err != nil && !room.IsNotFound(err) {
		logging.Warn(context.Background(), "Guest removal on disconnect failed",
			zap.Uint64("room", uint64(s.room.ID())),
			zap.String("peerId", string(s.peer.ID)),
			zap.Error(err))
	}
}
