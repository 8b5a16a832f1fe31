// Package hub ties the credential codec to the room store and exposes the
// operation surface the transport dispatches into: room lifecycle, invites,
// entity announcements and the block relay. Every operation except room
// creation and joining is guarded by a verified credential; the claims name
// the caller and its room, so callers never pass a room id alongside.
package hub

import (
	"context"
	"errors"
	"time"

	"github.com/drophub/drophub/internal/v1/credential"
	"github.com/drophub/drophub/internal/v1/invite"
	"github.com/drophub/drophub/internal/v1/room"
	"github.com/drophub/drophub/internal/v1/types"
)

// ErrInvalidCapacity rejects room creation with a capacity outside [1, MaxCapacity].
var ErrInvalidCapacity = errors.New("room capacity out of range")

// Options carries the knobs the hub hands down to rooms it creates.
type Options struct {
	// Room is cloned into every created room.
	Room room.Settings
	// DefaultCapacity applies when create_room leaves capacity unset.
	DefaultCapacity int
	// Now is the hub clock, injectable for tests.
	Now func() time.Time
}

func (o Options) withDefaults() Options {
	if o.DefaultCapacity <= 0 {
		o.DefaultCapacity = 8
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// Hub is the shared dispatcher between transports and rooms.
type Hub struct {
	store *room.Store
	codec *credential.Codec
	opts  Options
}

// New builds a hub around the given store and credential codec.
func New(store *room.Store, codec *credential.Codec, opts Options) *Hub {
	return &Hub{store: store, codec: codec, opts: opts.withDefaults()}
}

// Store exposes the room store for health reporting.
func (h *Hub) Store() *room.Store {
	return h.store
}

// CreateRoom creates a room with the caller as host and returns the caller's
// subscription. The first event on it is the Init carrying the host
// credential; a full snapshot follows.
func (h *Hub) CreateRoom(opts types.RoomOptions) (*Subscription, error) {
	if opts.Capacity == 0 {
		opts.Capacity = h.opts.DefaultCapacity
	}
	if opts.Capacity < 1 || opts.Capacity > room.MaxCapacity {
		return nil, ErrInvalidCapacity
	}

	host := room.NewPeer(types.NewPeerID(), types.RoleTypeHost)
	r := h.store.Create(host, opts, h.opts.Room)

	sub, err := h.newSubscription(r, host)
	if err != nil {
		h.store.Remove(r.ID())
		return nil, err
	}
	sub.start()

	// Deliver the post-create snapshot behind the Init event.
	r.PublishInfo()
	return sub, nil
}

// JoinRoom redeems a single-use passphrase and returns the guest's
// subscription. The join snapshot, including the new peer, follows the Init
// event.
func (h *Hub) JoinRoom(roomID types.RoomID, passphrase string) (*Subscription, error) {
	r, err := h.store.Get(roomID)
	if err != nil {
		return nil, err
	}

	guest := room.NewPeer(types.NewPeerID(), types.RoleTypeGuest)
	sub, err := h.newSubscription(r, guest)
	if err != nil {
		guest.Close()
		return nil, err
	}

	if err := r.AddPeer(guest, passphrase); err != nil {
		sub.abort()
		return nil, err
	}
	sub.start()
	return sub, nil
}

// verify checks the credential and resolves the caller's room. Expiry maps
// to a permission rejection, everything else to a malformed-credential
// protocol error.
func (h *Hub) verify(cred string) (*credential.Claims, *room.Room, error) {
	claims, err := h.codec.Verify(cred, h.opts.Now())
	if err != nil {
		if errors.Is(err, credential.ErrExpired) {
			return nil, nil, &room.PermissionDeniedError{Detail: room.DetailCredentialExpired}
		}
		return nil, nil, room.ErrMalformedCredential
	}

	r, err := h.store.Get(claims.RoomID)
	if err != nil {
		return nil, nil, err
	}
	// The credential may outlive the peer's membership.
	if _, err := r.Peer(claims.PeerID); err != nil {
		return nil, nil, err
	}
	return claims, r, nil
}

// Invite mints a single-use passphrase for the caller's room. Host only.
func (h *Hub) Invite(cred string) (*invite.Invite, error) {
	claims, r, err := h.verify(cred)
	if err != nil {
		return nil, err
	}
	if err := room.CheckHost(claims.Role, claims.PeerID, claims.RoomID); err != nil {
		return nil, err
	}
	return r.GenerateInvite()
}

// RevokeInvite withdraws a live passphrase. Host only.
func (h *Hub) RevokeInvite(cred string, passphrase string) error {
	claims, r, err := h.verify(cred)
	if err != nil {
		return err
	}
	if err := room.CheckHost(claims.Role, claims.PeerID, claims.RoomID); err != nil {
		return err
	}
	return r.RevokeInvite(passphrase)
}

// Kick removes another peer from the room. Host only, and never the host
// itself.
func (h *Hub) Kick(cred string, target types.PeerID) error {
	claims, r, err := h.verify(cred)
	if err != nil {
		return err
	}
	if err := room.CheckHost(claims.Role, claims.PeerID, claims.RoomID); err != nil {
		return err
	}
	if err := room.CheckNotSelfKick(claims.PeerID, target, claims.RoomID); err != nil {
		return err
	}
	return r.RemovePeer(target)
}

// AnnounceEntity registers an entity owned by the caller.
func (h *Hub) AnnounceEntity(cred string, meta types.EntityMeta) (types.EntityID, error) {
	claims, r, err := h.verify(cred)
	if err != nil {
		return "", err
	}
	return r.AddEntity(meta, claims.PeerID)
}

// RemoveEntity withdraws an entity the caller owns.
func (h *Hub) RemoveEntity(cred string, entityID types.EntityID) error {
	claims, r, err := h.verify(cred)
	if err != nil {
		return err
	}
	return r.RemoveEntity(entityID, claims.PeerID)
}

// Download starts a transfer of the entity to the caller and returns the
// receiving end. The entity's owner is demanded for block 0 on its own
// subscription.
func (h *Hub) Download(cred string, entityID types.EntityID) (*room.Download, error) {
	claims, r, err := h.verify(cred)
	if err != nil {
		return nil, err
	}
	return r.StartTransfer(entityID, claims.PeerID)
}

// UploadBlock relays one block from the owning caller to the transfer's
// downloader. It blocks until the downloader consumed the previous block,
// bounded by ctx.
func (h *Hub) UploadBlock(ctx context.Context, cred string, transferID types.TransferID, blockIdx int, block []byte) error {
	claims, r, err := h.verify(cred)
	if err != nil {
		return err
	}
	return r.DeliverBlock(ctx, claims.PeerID, transferID, blockIdx, block)
}

// CancelTransfer stops an in-flight transfer on the downloader's request.
func (h *Hub) CancelTransfer(cred string, transferID types.TransferID) error {
	_, r, err := h.verify(cred)
	if err != nil {
		return err
	}
	r.StopTransfer(transferID)
	return nil
}

// ReleaseTransfer stops a transfer without a credential check. Transports
// call it when the downloading connection goes away.
func (h *Hub) ReleaseTransfer(roomID types.RoomID, transferID types.TransferID) {
	r, err := h.store.Get(roomID)
	if err != nil {
		return
	}
	r.StopTransfer(transferID)
}

// Shutdown tears down every live room, which ends all subscriptions and
// lets their connections drain.
func (h *Hub) Shutdown(ctx context.Context) {
	for _, id := range h.store.IDs() {
		select {
		case <-ctx.Done():
			return
		default:
		}
		h.store.Remove(id)
	}
}
