package transport

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/drophub/drophub/internal/v1/hub"
	"github.com/drophub/drophub/internal/v1/invite"
	"github.com/drophub/drophub/internal/v1/room"
	"github.com/drophub/drophub/internal/v1/types"
)

// The wire protocol is JSON-RPC 2.0 over a single WebSocket. Requests flow
// client to server; the server pushes room events and download blocks as
// notifications on the same socket.

const jsonRPCVersion = "2.0"

// Client-callable methods.
const (
	MethodRoomCreate     = "room.create"
	MethodRoomConnect    = "room.connect"
	MethodRoomInvite     = "room.invite"
	MethodRoomRevoke     = "room.revoke_invite"
	MethodRoomKick       = "room.kick"
	MethodEntityAnnounce = "room.announce_entity"
	MethodEntityRemove   = "room.remove_entity"
	MethodSubDownload    = "rpc.sub_download"
	MethodUploadBlock    = "rpc.upload_block"
	MethodCancelDownload = "rpc.cancel_download"
)

// Server-pushed notifications.
const (
	NotifyRoomEvent      = "room.event"
	NotifyDownloadBlock  = "download.block"
	NotifyDownloadClosed = "download.closed"
)

// JSON-RPC error codes. The -32xxx range is the standard envelope errors;
// the -40xxx range carries the domain outcomes.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
	CodeRateLimited    = -32029

	CodeBusinessError    = -40000
	CodeNotFound         = -40001
	CodePermissionDenied = -40002
)

// Request is an incoming JSON-RPC call. A nil ID marks a notification.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Response answers one Request.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Result  any             `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// Notification is a server-initiated push without an id.
type Notification struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params"`
}

// Error is the JSON-RPC error member.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (e *Error) Error() string {
	return e.Message
}

func newResponse(id json.RawMessage, result any) Response {
	return Response{JSONRPC: jsonRPCVersion, ID: id, Result: result}
}

func newErrorResponse(id json.RawMessage, err *Error) Response {
	return Response{JSONRPC: jsonRPCVersion, ID: id, Error: err}
}

func newNotification(method string, params any) Notification {
	return Notification{JSONRPC: jsonRPCVersion, Method: method, Params: params}
}

// --- Method payloads ---

type createRoomParams struct {
	Options types.RoomOptions `json:"options"`
}

type connectRoomParams struct {
	RoomID     types.RoomID `json:"room_id"`
	Passphrase string       `json:"passphrase"`
}

type subscribedResult struct {
	RoomID types.RoomID `json:"room_id"`
	PeerID types.PeerID `json:"peer_id"`
}

type credentialParams struct {
	Credential string `json:"credential"`
}

type inviteResult struct {
	Passphrase string       `json:"passphrase"`
	RoomID     types.RoomID `json:"room_id"`
	ExpiresAt  time.Time    `json:"expires_at"`
}

type revokeInviteParams struct {
	Credential string `json:"credential"`
	Passphrase string `json:"passphrase"`
}

type kickParams struct {
	Credential string       `json:"credential"`
	PeerID     types.PeerID `json:"peer_id"`
}

type announceEntityParams struct {
	Credential string           `json:"credential"`
	Meta       types.EntityMeta `json:"meta"`
}

type announceEntityResult struct {
	EntityID types.EntityID `json:"entity_id"`
}

type removeEntityParams struct {
	Credential string         `json:"credential"`
	EntityID   types.EntityID `json:"entity_id"`
}

type subDownloadParams struct {
	Credential string         `json:"credential"`
	EntityID   types.EntityID `json:"entity_id"`
}

type subDownloadResult struct {
	TransferID  types.TransferID `json:"transfer_id"`
	EntityID    types.EntityID   `json:"entity_id"`
	SizeBytes   int64            `json:"size_bytes"`
	BlockSize   int              `json:"block_size"`
	TotalBlocks int              `json:"total_blocks"`
}

type uploadBlockParams struct {
	Credential string           `json:"credential"`
	TransferID types.TransferID `json:"transfer_id"`
	BlockIndex int              `json:"block_idx"`
	Bytes      []byte           `json:"bytes"`
}

type cancelDownloadParams struct {
	Credential string           `json:"credential"`
	TransferID types.TransferID `json:"transfer_id"`
}

type downloadBlockNotif struct {
	TransferID types.TransferID `json:"transfer_id"`
	Block      types.Block      `json:"block"`
}

type downloadClosedNotif struct {
	TransferID types.TransferID `json:"transfer_id"`
	Complete   bool             `json:"complete"`
}

// toRPCError translates a domain error into its wire shape. Lookups of ids
// that no longer exist, policy rejections and business-rule violations each
// keep a stable code so clients can branch without parsing messages.
func toRPCError(err error) *Error {
	var rpcErr *Error
	if errors.As(err, &rpcErr) {
		return rpcErr
	}

	switch {
	case room.IsNotFound(err):
		return &Error{Code: CodeNotFound, Message: err.Error()}
	case room.IsPermissionDenied(err):
		return &Error{Code: CodePermissionDenied, Message: err.Error()}
	case errors.Is(err, room.ErrInvalidBlockSize),
		errors.Is(err, room.ErrUnexpectedBlockIndex),
		errors.Is(err, room.ErrMalformedCredential),
		errors.Is(err, hub.ErrInvalidCapacity),
		errors.Is(err, invite.ErrGenerationFailure):
		return &Error{Code: CodeBusinessError, Message: err.Error()}
	}

	var full *room.CapacityReachedError
	if errors.As(err, &full) {
		return &Error{Code: CodeBusinessError, Message: err.Error()}
	}

	return &Error{Code: CodeInternalError, Message: err.Error()}
}
