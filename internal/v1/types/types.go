package types

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// --- Core Domain Types ---

// RoomID identifies a room. IDs are allocated by atomic increment and are
// never reused within a process lifetime.
type RoomID uint64

// PeerID identifies one connected client within a room.
type PeerID string

// EntityID identifies an announced file or text blob.
type EntityID string

// TransferID identifies one active download.
type TransferID string

// RoleType defines the role a peer holds inside a room.
type RoleType string

const (
	RoleTypeHost  RoleType = "host"
	RoleTypeGuest RoleType = "guest"
)

// EntityKind distinguishes the payload category of an entity.
type EntityKind string

const (
	EntityKindFile EntityKind = "file"
	EntityKindText EntityKind = "text"
)

// entityNamespace is the UUID namespace for checksum-derived entity ids.
var entityNamespace = uuid.MustParse("5f1d0d6e-9a76-4f51-8f40-2a6a5c3f9e21")

// NewPeerID returns a fresh random peer identifier.
func NewPeerID() PeerID {
	return PeerID(uuid.NewString())
}

// NewTransferID returns a fresh random transfer identifier.
func NewTransferID() TransferID {
	return TransferID(uuid.NewString())
}

// EntityIDFromChecksum derives a stable entity id from a content checksum so
// that the same content always maps to the same id. An empty checksum falls
// back to a random id.
func EntityIDFromChecksum(checksum string) EntityID {
	if checksum == "" {
		return EntityID(uuid.NewString())
	}
	return EntityID(uuid.NewSHA1(entityNamespace, []byte(checksum)).String())
}

// --- Room Data ---

// RoomOptions are the host-chosen settings for a room. Encryption is an
// advisory flag relayed to peers; the server never inspects entity bytes.
type RoomOptions struct {
	Encryption bool `json:"encryption"`
	Capacity   int  `json:"capacity"`
}

// EntityMeta is the client-supplied description of an announced entity.
type EntityMeta struct {
	Name      string     `json:"name"`
	SizeBytes int64      `json:"size_bytes"`
	Kind      EntityKind `json:"kind"`
	Checksum  string     `json:"checksum,omitempty"`
}

// Validate ensures announced metadata is safe to store.
func (m EntityMeta) Validate() error {
	if m.Name == "" {
		return errors.New("entity name cannot be empty")
	}
	if len(m.Name) > 255 {
		return errors.New("entity name cannot exceed 255 characters")
	}
	if m.SizeBytes < 0 {
		return errors.New("entity size cannot be negative")
	}
	if m.Kind != EntityKindFile && m.Kind != EntityKindText {
		return errors.New("entity kind must be file or text")
	}
	return nil
}

// PeerInfo is the public summary of one peer inside a RoomInfo snapshot.
type PeerInfo struct {
	ID   PeerID   `json:"id"`
	Role RoleType `json:"role"`
}

// EntityInfo is the public view of an announced entity.
type EntityInfo struct {
	Meta    EntityMeta `json:"meta"`
	OwnerID PeerID     `json:"owner_id"`
}

// RoomInfo is the public, serializable view of a room at a point in time.
// Snapshots are published on the room's broadcast channel after every
// state-visible mutation.
type RoomInfo struct {
	RoomID   RoomID                  `json:"room_id"`
	HostID   PeerID                  `json:"host_id"`
	Options  RoomOptions             `json:"options"`
	Peers    []PeerInfo              `json:"peers"`
	Entities map[EntityID]EntityInfo `json:"entities"`
	Invites  []string                `json:"invites"`
}

// --- Subscription Events ---

// EventType enumerates the event variants delivered on a room subscription.
type EventType string

const (
	EventTypeInit          EventType = "init"
	EventTypeRoomInfo      EventType = "room_info"
	EventTypeUploadRequest EventType = "upload_request"
)

// InitEvent is the first event on every subscription. It carries the minted
// credential pair for the new peer.
type InitEvent struct {
	Credential   string    `json:"credential"`
	RefreshToken string    `json:"refresh_token"`
	RoomID       RoomID    `json:"room_id"`
	PeerID       PeerID    `json:"peer_id"`
	Role         RoleType  `json:"role"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// RoomInfoEvent carries a post-mutation snapshot. Resync is set when the
// receiver lagged behind the broadcast buffer; the snapshot carried here is
// authoritative and replaces anything missed.
type RoomInfoEvent struct {
	Info   RoomInfo `json:"info"`
	Resync bool     `json:"resync,omitempty"`
}

// UploadRequestEvent asks the receiving peer to produce one block of an
// entity it owns and reply with an upload_block call.
type UploadRequestEvent struct {
	TransferID TransferID `json:"transfer_id"`
	EntityID   EntityID   `json:"entity_id"`
	BlockIndex int        `json:"block_idx"`
}

// RoomEvent is the tagged union delivered on a room subscription. Exactly
// one of the payload pointers matching Type is set.
type RoomEvent struct {
	Type          EventType           `json:"type"`
	Init          *InitEvent          `json:"init,omitempty"`
	RoomInfo      *RoomInfoEvent      `json:"room_info,omitempty"`
	UploadRequest *UploadRequestEvent `json:"upload_request,omitempty"`
}

// Block is one chunk of an entity delivered on a download subscription.
type Block struct {
	Index int    `json:"block_idx"`
	Data  []byte `json:"bytes"`
	Last  bool   `json:"last"`
}
