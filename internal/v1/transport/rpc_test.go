package transport

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/drophub/drophub/internal/v1/hub"
	"github.com/drophub/drophub/internal/v1/invite"
	"github.com/drophub/drophub/internal/v1/room"
)

func TestToRPCErrorCodes(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code int
	}{
		{"room not found", &room.RoomNotFoundError{RoomID: 1}, CodeNotFound},
		{"peer not found", &room.PeerNotFoundError{PeerID: "p", RoomID: 1}, CodeNotFound},
		{"entity not found", &room.EntityNotFoundError{EntityID: "e", RoomID: 1}, CodeNotFound},
		{"invite not found", &room.InviteNotFoundError{Passphrase: "x", RoomID: 1}, CodeNotFound},
		{"transfer not found", &room.TransferNotFoundError{TransferID: "t", RoomID: 1}, CodeNotFound},
		{"permission denied", &room.PermissionDeniedError{PeerID: "p", RoomID: 1, Detail: room.DetailHostRequired}, CodePermissionDenied},
		{"invalid block size", room.ErrInvalidBlockSize, CodeBusinessError},
		{"unexpected block index", room.ErrUnexpectedBlockIndex, CodeBusinessError},
		{"malformed credential", room.ErrMalformedCredential, CodeBusinessError},
		{"invalid capacity", hub.ErrInvalidCapacity, CodeBusinessError},
		{"invite generation failure", invite.ErrGenerationFailure, CodeBusinessError},
		{"capacity reached", &room.CapacityReachedError{RoomID: 1, Capacity: 2}, CodeBusinessError},
		{"unknown", errors.New("boom"), CodeInternalError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rpcErr := toRPCError(tt.err)
			assert.Equal(t, tt.code, rpcErr.Code)
			assert.NotEmpty(t, rpcErr.Message)
		})
	}
}

func TestToRPCErrorPassthrough(t *testing.T) {
	orig := &Error{Code: CodeInvalidParams, Message: "missing params"}
	assert.Same(t, orig, toRPCError(orig))
}
