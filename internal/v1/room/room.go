// Package room implements the in-memory core of DropHub: the concurrent
// room store, the per-room data model (peers, entities, invites, pending
// transfers), the policy checks guarding every mutation, and the transfer
// state machine pairing a downloader with the owning peer's block uploads.
//
// The store is the sole owner of each room's memory. A room's interior is
// serialized by its mutex; every mutator publishes a fresh RoomInfo
// snapshot on the broadcast channel before releasing it, so any snapshot a
// subscriber observes reflects a prefix of the mutations on that room.
package room

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"

	"k8s.io/utils/set"

	"github.com/drophub/drophub/internal/v1/invite"
	"github.com/drophub/drophub/internal/v1/logging"
	"github.com/drophub/drophub/internal/v1/metrics"
	"github.com/drophub/drophub/internal/v1/types"
	"go.uber.org/zap"
)

// MaxCapacity is the largest capacity a host may request for a room.
const MaxCapacity = 64

// Settings carries the per-room configuration constants handed down from
// the process configuration.
type Settings struct {
	BlockSize int
	InviteTTL time.Duration
	Now       func() time.Time
	Gen       *invite.Generator
}

func (s Settings) withDefaults() Settings {
	if s.BlockSize <= 0 {
		s.BlockSize = 64 * 1024
	}
	if s.InviteTTL <= 0 {
		s.InviteTTL = 10 * time.Minute
	}
	if s.Now == nil {
		s.Now = time.Now
	}
	if s.Gen == nil {
		s.Gen = invite.NewGenerator()
	}
	return s
}

// Peer is one connected client within a room.
type Peer struct {
	ID       types.PeerID
	Role     types.RoleType
	entities set.Set[types.EntityID]
	demands  *demandQueue
}

// NewPeer allocates a peer with a fresh upload-demand inbox.
func NewPeer(id types.PeerID, role types.RoleType) *Peer {
	return &Peer{
		ID:       id,
		Role:     role,
		entities: set.New[types.EntityID](),
		demands:  newDemandQueue(),
	}
}

// Demands returns the peer's upload-demand inbox. The channel closes when
// the peer leaves the room, which its subscription loop treats as a kick.
func (p *Peer) Demands() <-chan types.UploadRequestEvent {
	return p.demands.C()
}

// Close shuts the peer's demand inbox. Rooms close it for registered peers
// on removal; callers close it themselves when registration fails.
func (p *Peer) Close() {
	p.demands.close()
}

// Entity is a file or text blob announced by its owning peer.
type Entity struct {
	ID      types.EntityID
	Meta    types.EntityMeta
	OwnerID types.PeerID
}

// Room is an ephemeral rendezvous object. It exists exactly as long as its
// host subscription is alive.
type Room struct {
	id     types.RoomID
	hostID types.PeerID
	opts   types.RoomOptions
	cfg    Settings

	// mu serializes the room interior; all mutators and their broadcast
	// publish run under it so snapshots linearize with mutations.
	mu sync.Mutex

	peers     map[types.PeerID]*Peer
	entities  map[types.EntityID]*Entity
	invites   map[string]*invite.Invite
	transfers map[types.TransferID]*transfer

	broadcast *broadcaster
	closed    bool
}

// New constructs a room with the host peer already registered. Rooms are
// normally built through Store.Create, which allocates the id.
func New(id types.RoomID, host *Peer, opts types.RoomOptions, cfg Settings) *Room {
	r := &Room{
		id:        id,
		hostID:    host.ID,
		opts:      opts,
		cfg:       cfg.withDefaults(),
		peers:     make(map[types.PeerID]*Peer),
		entities:  make(map[types.EntityID]*Entity),
		invites:   make(map[string]*invite.Invite),
		transfers: make(map[types.TransferID]*transfer),
		broadcast: newBroadcaster(),
	}
	r.peers[host.ID] = host
	metrics.RoomPeers.WithLabelValues(r.label()).Set(1)
	return r
}

// ID returns the room id.
func (r *Room) ID() types.RoomID {
	return r.id
}

// HostID returns the id of the room's host peer.
func (r *Room) HostID() types.PeerID {
	return r.hostID
}

// Options returns the host-chosen room options.
func (r *Room) Options() types.RoomOptions {
	return r.opts
}

// BlockSize returns the room's transfer block size in bytes.
func (r *Room) BlockSize() int {
	return r.cfg.BlockSize
}

func (r *Room) label() string {
	return strconv.FormatUint(uint64(r.id), 10)
}

// SubscribeInfo attaches a new receiver to the room's broadcast channel.
func (r *Room) SubscribeInfo() *InfoSub {
	return r.broadcast.subscribe()
}

// PublishInfo publishes a current snapshot without mutating anything.
// The dispatcher uses it to deliver the post-join snapshot.
func (r *Room) PublishInfo() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.publishLocked()
}

// Snapshot returns the public view of the room at this instant.
func (r *Room) Snapshot() types.RoomInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked()
}

func (r *Room) snapshotLocked() types.RoomInfo {
	now := r.cfg.Now()

	info := types.RoomInfo{
		RoomID:   r.id,
		HostID:   r.hostID,
		Options:  r.opts,
		Peers:    make([]types.PeerInfo, 0, len(r.peers)),
		Entities: make(map[types.EntityID]types.EntityInfo, len(r.entities)),
		Invites:  make([]string, 0, len(r.invites)),
	}

	for _, p := range r.peers {
		info.Peers = append(info.Peers, types.PeerInfo{ID: p.ID, Role: p.Role})
	}
	sort.Slice(info.Peers, func(i, j int) bool {
		// Host first, then stable order by id.
		if (info.Peers[i].Role == types.RoleTypeHost) != (info.Peers[j].Role == types.RoleTypeHost) {
			return info.Peers[i].Role == types.RoleTypeHost
		}
		return info.Peers[i].ID < info.Peers[j].ID
	})

	for id, e := range r.entities {
		info.Entities[id] = types.EntityInfo{Meta: e.Meta, OwnerID: e.OwnerID}
	}

	for _, inv := range r.invites {
		if inv.Live(now) {
			info.Invites = append(info.Invites, inv.Passphrase)
		}
	}
	sort.Strings(info.Invites)

	return info
}

// publishLocked emits the post-mutation snapshot. Callers hold r.mu.
func (r *Room) publishLocked() {
	r.broadcast.publish(r.snapshotLocked())
}

// purgeInvitesLocked lazily drops invites past their expiry.
func (r *Room) purgeInvitesLocked(now time.Time) {
	for pass, inv := range r.invites {
		if !inv.Live(now) {
			delete(r.invites, pass)
		}
	}
}

func (r *Room) liveInviteCountLocked(now time.Time) int {
	n := 0
	for _, inv := range r.invites {
		if inv.Live(now) {
			n++
		}
	}
	return n
}

// GenerateInvite mints a fresh single-use passphrase for this room,
// provided capacity allows another peer.
func (r *Room) GenerateInvite() (*invite.Invite, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.cfg.Now()
	r.purgeInvitesLocked(now)

	if err := checkCapacity(len(r.peers), r.liveInviteCountLocked(now), r.opts.Capacity, r.id); err != nil {
		return nil, err
	}

	pass, err := r.cfg.Gen.Passphrase(func(candidate string) bool {
		_, live := r.invites[candidate]
		return live
	})
	if err != nil {
		return nil, err
	}

	inv := &invite.Invite{
		Passphrase: pass,
		RoomID:     r.id,
		ExpiresAt:  now.Add(r.cfg.InviteTTL),
	}
	r.invites[pass] = inv
	metrics.InvitesIssued.Inc()

	r.publishLocked()
	return inv, nil
}

// RevokeInvite withdraws a live invite before it is redeemed.
func (r *Room) RevokeInvite(passphrase string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.purgeInvitesLocked(r.cfg.Now())
	if _, ok := r.invites[passphrase]; !ok {
		return &InviteNotFoundError{Passphrase: passphrase, RoomID: r.id}
	}
	delete(r.invites, passphrase)

	r.publishLocked()
	return nil
}

// AddPeer atomically verifies-and-consumes an invite, then inserts the
// peer. Invites are single-use: redemption removes them even though the
// join itself keeps the peers+invites sum within capacity.
func (r *Room) AddPeer(peer *Peer, passphrase string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return &RoomNotFoundError{RoomID: r.id}
	}

	now := r.cfg.Now()
	inv, ok := r.invites[passphrase]
	if !ok || !inv.Live(now) {
		return &InviteNotFoundError{Passphrase: passphrase, RoomID: r.id}
	}
	delete(r.invites, passphrase)

	r.peers[peer.ID] = peer
	metrics.RoomPeers.WithLabelValues(r.label()).Set(float64(len(r.peers)))

	r.publishLocked()
	return nil
}

// RemovePeer drops a peer, purges the entities it owned, cancels transfers
// sourcing from it, and closes its demand inbox, which ends the peer's
// subscription loop.
func (r *Room) RemovePeer(peerID types.PeerID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	peer, ok := r.peers[peerID]
	if !ok {
		return &PeerNotFoundError{PeerID: peerID, RoomID: r.id}
	}

	delete(r.peers, peerID)
	for entityID := range peer.entities {
		delete(r.entities, entityID)
	}
	for id, t := range r.transfers {
		if t.ownerID == peerID {
			delete(r.transfers, id)
			t.stop()
			metrics.ActiveTransfers.Dec()
		}
	}
	peer.demands.close()
	metrics.RoomPeers.WithLabelValues(r.label()).Set(float64(len(r.peers)))

	logging.Info(context.Background(), "Peer removed",
		zap.Uint64("room", uint64(r.id)), zap.String("peerId", string(peerID)))

	r.publishLocked()
	return nil
}

// Peer returns the live peer with the given id.
func (r *Room) Peer(peerID types.PeerID) (*Peer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	peer, ok := r.peers[peerID]
	if !ok {
		return nil, &PeerNotFoundError{PeerID: peerID, RoomID: r.id}
	}
	return peer, nil
}

// PeerCount returns the number of live peers.
func (r *Room) PeerCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.peers)
}

// AddEntity announces an entity owned by ownerID. The entity id derives
// from the content checksum, so re-announcing identical content by the same
// owner is idempotent; the same content announced by a different peer is
// rejected.
func (r *Room) AddEntity(meta types.EntityMeta, ownerID types.PeerID) (types.EntityID, error) {
	if err := meta.Validate(); err != nil {
		return "", err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	owner, ok := r.peers[ownerID]
	if !ok {
		return "", &PeerNotFoundError{PeerID: ownerID, RoomID: r.id}
	}

	id := types.EntityIDFromChecksum(meta.Checksum)
	if existing, ok := r.entities[id]; ok {
		if existing.OwnerID != ownerID {
			return "", &PermissionDeniedError{PeerID: ownerID, RoomID: r.id, Detail: DetailEntityOwnedByPeer}
		}
		return id, nil
	}

	r.entities[id] = &Entity{ID: id, Meta: meta, OwnerID: ownerID}
	owner.entities.Insert(id)

	r.publishLocked()
	return id, nil
}

// RemoveEntity withdraws an entity. Only the owner may remove it; in-flight
// transfers of the entity are cancelled.
func (r *Room) RemoveEntity(entityID types.EntityID, requester types.PeerID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	entity, ok := r.entities[entityID]
	if !ok {
		return &EntityNotFoundError{EntityID: entityID, RoomID: r.id}
	}
	if err := checkEntityOwner(entity, requester, r.id); err != nil {
		return err
	}

	delete(r.entities, entityID)
	if owner, ok := r.peers[entity.OwnerID]; ok {
		owner.entities.Delete(entityID)
	}
	for id, t := range r.transfers {
		if t.entityID == entityID {
			delete(r.transfers, id)
			t.stop()
			metrics.ActiveTransfers.Dec()
		}
	}

	r.publishLocked()
	return nil
}

// Entity returns the live entity with the given id.
func (r *Room) Entity(entityID types.EntityID) (*Entity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entity, ok := r.entities[entityID]
	if !ok {
		return nil, &EntityNotFoundError{EntityID: entityID, RoomID: r.id}
	}
	return entity, nil
}

// Close tears the room down: every transfer stops, every demand inbox and
// broadcast receiver closes, which in turn terminates every subscription
// loop attached to the room.
func (r *Room) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return
	}
	r.closed = true

	for id, t := range r.transfers {
		delete(r.transfers, id)
		t.stop()
		metrics.ActiveTransfers.Dec()
	}
	for _, p := range r.peers {
		p.demands.close()
	}
	r.broadcast.close()
	metrics.RoomPeers.DeleteLabelValues(r.label())
}
