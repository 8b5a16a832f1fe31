package transport

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drophub/drophub/internal/v1/credential"
	"github.com/drophub/drophub/internal/v1/hub"
	"github.com/drophub/drophub/internal/v1/room"
	"github.com/drophub/drophub/internal/v1/types"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func newTestServer(t *testing.T) (*Server, *hub.Hub) {
	t.Helper()
	codec, err := credential.NewCodec(testSecret, 15*time.Minute, 168*time.Hour)
	require.NoError(t, err)

	h := hub.New(room.NewStore(), codec, hub.Options{
		Room:            room.Settings{BlockSize: 1024, InviteTTL: 10 * time.Minute},
		DefaultCapacity: 8,
	})
	return NewServer(h, nil, []string{"http://localhost:3000"}), h
}

func dial(t *testing.T, srv *Server) *wireClient {
	t.Helper()
	sock := newFakeSocket()
	srv.handleSocket(sock, "127.0.0.1")
	t.Cleanup(sock.hangUp)
	return newWireClient(t, sock)
}

// waitForRooms polls until the store holds want rooms.
func waitForRooms(t *testing.T, h *hub.Hub, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for h.Store().Len() != want {
		if time.Now().After(deadline) {
			t.Fatalf("store has %d rooms, want %d", h.Store().Len(), want)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// openRoom creates a room on the given client and returns its init event.
func openRoom(t *testing.T, w *wireClient) (subscribedResult, types.InitEvent) {
	t.Helper()
	var res subscribedResult
	w.mustCall(MethodRoomCreate, createRoomParams{Options: types.RoomOptions{Capacity: 4}}, &res)

	var ev types.RoomEvent
	w.notification(NotifyRoomEvent, &ev)
	require.Equal(t, types.EventTypeInit, ev.Type)
	require.NotNil(t, ev.Init)

	var snap types.RoomEvent
	w.notification(NotifyRoomEvent, &snap)
	require.Equal(t, types.EventTypeRoomInfo, snap.Type)

	return res, *ev.Init
}

// joinRoom invites on the host client and connects the guest client.
func joinRoom(t *testing.T, host, guest *wireClient, roomID types.RoomID, hostCred string) types.InitEvent {
	t.Helper()
	var inv inviteResult
	host.mustCall(MethodRoomInvite, credentialParams{Credential: hostCred}, &inv)

	var res subscribedResult
	guest.mustCall(MethodRoomConnect, connectRoomParams{RoomID: roomID, Passphrase: inv.Passphrase}, &res)

	var ev types.RoomEvent
	guest.notification(NotifyRoomEvent, &ev)
	require.Equal(t, types.EventTypeInit, ev.Type)
	require.NotNil(t, ev.Init)
	return *ev.Init
}

func TestCreateRoomOverWire(t *testing.T) {
	srv, h := newTestServer(t)
	host := dial(t, srv)

	res, init := openRoom(t, host)
	assert.Equal(t, res.RoomID, init.RoomID)
	assert.Equal(t, res.PeerID, init.PeerID)
	assert.Equal(t, types.RoleTypeHost, init.Role)
	assert.NotEmpty(t, init.Credential)
	assert.NotEmpty(t, init.RefreshToken)
	assert.Equal(t, 1, h.Store().Len())
}

func TestSecondSubscribeRejected(t *testing.T) {
	srv, _ := newTestServer(t)
	host := dial(t, srv)
	openRoom(t, host)

	_, rpcErr := host.call(MethodRoomCreate, createRoomParams{})
	require.NotNil(t, rpcErr)
	assert.Equal(t, CodeInvalidRequest, rpcErr.Code)
}

func TestEnvelopeErrors(t *testing.T) {
	srv, _ := newTestServer(t)
	w := dial(t, srv)

	// Parse error.
	w.sock.in <- []byte("{not json")
	f, ok := w.read()
	require.True(t, ok)
	require.NotNil(t, f.Error)
	assert.Equal(t, CodeParseError, f.Error.Code)

	// Unknown method.
	_, rpcErr := w.call("room.explode", nil)
	require.NotNil(t, rpcErr)
	assert.Equal(t, CodeMethodNotFound, rpcErr.Code)

	// Invalid params.
	_, rpcErr = w.call(MethodRoomConnect, "not an object")
	require.NotNil(t, rpcErr)
	assert.Equal(t, CodeInvalidParams, rpcErr.Code)
}

func TestDomainErrorCodes(t *testing.T) {
	srv, _ := newTestServer(t)
	host := dial(t, srv)
	guest := dial(t, srv)

	res, hostInit := openRoom(t, host)
	guestInit := joinRoom(t, host, guest, res.RoomID, hostInit.Credential)

	// Unknown room.
	_, rpcErr := guest.call(MethodRoomConnect, connectRoomParams{RoomID: res.RoomID + 99, Passphrase: "x"})
	require.NotNil(t, rpcErr)
	assert.Equal(t, CodeNotFound, rpcErr.Code)

	// Guest calling a host-only method.
	_, rpcErr = guest.call(MethodRoomInvite, credentialParams{Credential: guestInit.Credential})
	require.NotNil(t, rpcErr)
	assert.Equal(t, CodePermissionDenied, rpcErr.Code)

	// Garbage credential.
	_, rpcErr = host.call(MethodRoomInvite, credentialParams{Credential: "garbage"})
	require.NotNil(t, rpcErr)
	assert.Equal(t, CodeBusinessError, rpcErr.Code)

	// Invalid entity metadata.
	_, rpcErr = host.call(MethodEntityAnnounce, announceEntityParams{
		Credential: hostInit.Credential,
		Meta:       types.EntityMeta{Name: "", Kind: types.EntityKindFile},
	})
	require.NotNil(t, rpcErr)
	assert.Equal(t, CodeInvalidParams, rpcErr.Code)
}

func TestFullTransferOverWire(t *testing.T) {
	srv, _ := newTestServer(t)
	host := dial(t, srv)
	guest := dial(t, srv)

	res, hostInit := openRoom(t, host)
	guestInit := joinRoom(t, host, guest, res.RoomID, hostInit.Credential)

	// Guest announces 2500 bytes: blocks of 1024, 1024, 452.
	var announced announceEntityResult
	guest.mustCall(MethodEntityAnnounce, announceEntityParams{
		Credential: guestInit.Credential,
		Meta: types.EntityMeta{
			Name:      "payload.bin",
			SizeBytes: 2500,
			Kind:      types.EntityKindFile,
			Checksum:  "sha256:payload",
		},
	}, &announced)

	var dl subDownloadResult
	host.mustCall(MethodSubDownload, subDownloadParams{
		Credential: hostInit.Credential,
		EntityID:   announced.EntityID,
	}, &dl)
	require.Equal(t, 3, dl.TotalBlocks)
	assert.Equal(t, int64(2500), dl.SizeBytes)

	sizes := []int{1024, 1024, 452}
	for i, n := range sizes {
		var req types.RoomEvent
		guest.notification(NotifyRoomEvent, &req)
		require.Equal(t, types.EventTypeUploadRequest, req.Type)
		require.NotNil(t, req.UploadRequest)
		assert.Equal(t, i, req.UploadRequest.BlockIndex)

		guest.mustCall(MethodUploadBlock, uploadBlockParams{
			Credential: guestInit.Credential,
			TransferID: req.UploadRequest.TransferID,
			BlockIndex: i,
			Bytes:      make([]byte, n),
		}, nil)
	}

	total := 0
	for i := range sizes {
		var blk downloadBlockNotif
		host.notification(NotifyDownloadBlock, &blk)
		assert.Equal(t, dl.TransferID, blk.TransferID)
		assert.Equal(t, i, blk.Block.Index)
		assert.Equal(t, i == len(sizes)-1, blk.Block.Last)
		total += len(blk.Block.Data)
	}
	assert.Equal(t, 2500, total)

	var closed downloadClosedNotif
	host.notification(NotifyDownloadClosed, &closed)
	assert.True(t, closed.Complete)
}

func TestCancelDownloadOverWire(t *testing.T) {
	srv, _ := newTestServer(t)
	host := dial(t, srv)
	guest := dial(t, srv)

	res, hostInit := openRoom(t, host)
	guestInit := joinRoom(t, host, guest, res.RoomID, hostInit.Credential)

	var announced announceEntityResult
	guest.mustCall(MethodEntityAnnounce, announceEntityParams{
		Credential: guestInit.Credential,
		Meta: types.EntityMeta{
			Name:      "big.bin",
			SizeBytes: 4096,
			Kind:      types.EntityKindFile,
			Checksum:  "sha256:big",
		},
	}, &announced)

	var dl subDownloadResult
	host.mustCall(MethodSubDownload, subDownloadParams{
		Credential: hostInit.Credential,
		EntityID:   announced.EntityID,
	}, &dl)

	host.mustCall(MethodCancelDownload, cancelDownloadParams{
		Credential: hostInit.Credential,
		TransferID: dl.TransferID,
	}, nil)

	var closed downloadClosedNotif
	host.notification(NotifyDownloadClosed, &closed)
	assert.False(t, closed.Complete)
}

func TestKickClosesGuestSocket(t *testing.T) {
	srv, _ := newTestServer(t)
	host := dial(t, srv)
	guest := dial(t, srv)

	res, hostInit := openRoom(t, host)
	guestInit := joinRoom(t, host, guest, res.RoomID, hostInit.Credential)

	host.mustCall(MethodRoomKick, kickParams{
		Credential: hostInit.Credential,
		PeerID:     guestInit.PeerID,
	}, nil)

	guest.expectClosed()
}

func TestHostHangUpRemovesRoom(t *testing.T) {
	srv, h := newTestServer(t)
	host := dial(t, srv)
	guest := dial(t, srv)

	res, hostInit := openRoom(t, host)
	joinRoom(t, host, guest, res.RoomID, hostInit.Credential)

	host.sock.hangUp()
	guest.expectClosed()
	waitForRooms(t, h, 0)
}
