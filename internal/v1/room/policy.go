package room

import (
	"github.com/drophub/drophub/internal/v1/types"
)

// Stateless policy checks composed into per-operation validators. Every
// mutating operation verifies the caller's credential first (the codec
// fails closed on expiry); the checks here cover the operation-specific
// rules. Each failure maps to one precise error kind.

// CheckHost rejects callers whose claimed role is not Host.
func CheckHost(role types.RoleType, peerID types.PeerID, roomID types.RoomID) error {
	if role != types.RoleTypeHost {
		return &PermissionDeniedError{PeerID: peerID, RoomID: roomID, Detail: DetailHostRequired}
	}
	return nil
}

// CheckNotSelfKick rejects a host kicking its own peer id.
func CheckNotSelfKick(requester, target types.PeerID, roomID types.RoomID) error {
	if requester == target {
		return &PermissionDeniedError{PeerID: requester, RoomID: roomID, Detail: DetailCannotKickSelf}
	}
	return nil
}

// checkEntityOwner rejects requesters that do not own the entity.
func checkEntityOwner(entity *Entity, requester types.PeerID, roomID types.RoomID) error {
	if entity.OwnerID != requester {
		return &PermissionDeniedError{PeerID: requester, RoomID: roomID, Detail: DetailNotOwner}
	}
	return nil
}

// checkNotOwnDownload rejects a peer downloading an entity it owns.
func checkNotOwnDownload(entity *Entity, requester types.PeerID, roomID types.RoomID) error {
	if entity.OwnerID == requester {
		return &PermissionDeniedError{PeerID: requester, RoomID: roomID, Detail: DetailOwnDownload}
	}
	return nil
}

// checkCapacity enforces |peers| + |live invites| < capacity before a new
// invite is issued.
func checkCapacity(peers, liveInvites, capacity int, roomID types.RoomID) error {
	if peers+liveInvites >= capacity {
		return &CapacityReachedError{RoomID: roomID, Capacity: capacity}
	}
	return nil
}
