package room

import (
	"errors"
	"fmt"

	"github.com/drophub/drophub/internal/v1/types"
)

// Permission detail strings, shared with tests and the transport layer.
const (
	DetailHostRequired      = "host role required"
	DetailCannotKickSelf    = "cannot kick self"
	DetailNotOwner          = "not-owner"
	DetailOwnDownload       = "cannot download own entity"
	DetailCredentialExpired = "credential expired"
	DetailEntityOwnedByPeer = "entity owned by another peer"
)

// RoomNotFoundError reports a lookup of a room id that is not in the store.
type RoomNotFoundError struct {
	RoomID types.RoomID
}

func (e *RoomNotFoundError) Error() string {
	return fmt.Sprintf("room %d not found", e.RoomID)
}

// PeerNotFoundError reports a peer id that is not a member of the room.
type PeerNotFoundError struct {
	PeerID types.PeerID
	RoomID types.RoomID
}

func (e *PeerNotFoundError) Error() string {
	return fmt.Sprintf("peer %s not found in room %d", e.PeerID, e.RoomID)
}

// EntityNotFoundError reports an entity id with no live entity in the room.
type EntityNotFoundError struct {
	EntityID types.EntityID
	RoomID   types.RoomID
}

func (e *EntityNotFoundError) Error() string {
	return fmt.Sprintf("entity %s not found in room %d", e.EntityID, e.RoomID)
}

// InviteNotFoundError reports a passphrase that is unknown or expired.
// Expired invites observed during redemption fail with this error.
type InviteNotFoundError struct {
	Passphrase string
	RoomID     types.RoomID
}

func (e *InviteNotFoundError) Error() string {
	return fmt.Sprintf("invite %q not found in room %d", e.Passphrase, e.RoomID)
}

// TransferNotFoundError reports a transfer id with no live record.
type TransferNotFoundError struct {
	TransferID types.TransferID
	RoomID     types.RoomID
}

func (e *TransferNotFoundError) Error() string {
	return fmt.Sprintf("transfer %s not found in room %d", e.TransferID, e.RoomID)
}

// PermissionDeniedError reports an operation rejected by policy. Detail
// distinguishes role, self-kick, ownership, self-download and expired
// credential rejections.
type PermissionDeniedError struct {
	PeerID types.PeerID
	RoomID types.RoomID
	Detail string
}

func (e *PermissionDeniedError) Error() string {
	return fmt.Sprintf("peer %s denied in room %d: %s", e.PeerID, e.RoomID, e.Detail)
}

// CapacityReachedError reports that peers plus live invites already fill
// the room.
type CapacityReachedError struct {
	RoomID   types.RoomID
	Capacity int
}

func (e *CapacityReachedError) Error() string {
	return fmt.Sprintf("room %d at capacity %d", e.RoomID, e.Capacity)
}

// Protocol errors for the block transfer state machine.
var (
	ErrInvalidBlockSize     = errors.New("invalid block size")
	ErrUnexpectedBlockIndex = errors.New("unexpected block index")
	ErrMalformedCredential  = errors.New("malformed credential")
)

// IsNotFound reports whether err is any of the not-found kinds.
func IsNotFound(err error) bool {
	var (
		room     *RoomNotFoundError
		peer     *PeerNotFoundError
		entity   *EntityNotFoundError
		inv      *InviteNotFoundError
		transfer *TransferNotFoundError
	)
	return errors.As(err, &room) ||
		errors.As(err, &peer) ||
		errors.As(err, &entity) ||
		errors.As(err, &inv) ||
		errors.As(err, &transfer)
}

// IsPermissionDenied reports whether err is a policy rejection.
func IsPermissionDenied(err error) bool {
	var denied *PermissionDeniedError
	return errors.As(err, &denied)
}
