package room

import (
	"context"
	"sync"

	"github.com/drophub/drophub/internal/v1/metrics"
	"github.com/drophub/drophub/internal/v1/types"
)

// transfer is the per-download state machine record. It advances
// AwaitingBlock(idx) -> AwaitingBlock(idx+1) on each delivered block and is
// dropped once the final block is pushed to the downloader.
type transfer struct {
	id          types.TransferID
	entityID    types.EntityID
	ownerID     types.PeerID
	sizeBytes   int64
	totalBlocks int

	// next and delivering are guarded by the room mutex.
	next       int
	delivering bool

	// data moves blocks owner -> downloader with capacity 1, so the owner
	// is back-pressured until the downloader consumed the previous block.
	// Closed by the delivering goroutine after the final block.
	data chan []byte
	// done signals cancellation (downloader gone, owner kicked, entity
	// removed, room closed). Never carries data.
	done     chan struct{}
	stopOnce sync.Once
}

func (t *transfer) stop() {
	t.stopOnce.Do(func() { close(t.done) })
}

// Download is the downloader's end of a transfer. Data closing without Done
// means the entity arrived completely; Done closing is a cancellation and
// reads as end-of-stream.
type Download struct {
	TransferID  types.TransferID
	RoomID      types.RoomID
	EntityID    types.EntityID
	OwnerID     types.PeerID
	SizeBytes   int64
	BlockSize   int
	TotalBlocks int
	Data        <-chan []byte
	Done        <-chan struct{}
}

func blockCount(sizeBytes int64, blockSize int) int {
	if sizeBytes <= 0 {
		return 0
	}
	return int((sizeBytes + int64(blockSize) - 1) / int64(blockSize))
}

// StartTransfer creates a transfer of the entity to the requesting peer and
// demands block 0 from the owner. The returned Download is consumed by the
// downloader's subscription loop. Transfers do not broadcast; only
// state-visible mutations do.
func (r *Room) StartTransfer(entityID types.EntityID, requester types.PeerID) (*Download, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, &RoomNotFoundError{RoomID: r.id}
	}
	if _, ok := r.peers[requester]; !ok {
		return nil, &PeerNotFoundError{PeerID: requester, RoomID: r.id}
	}
	entity, ok := r.entities[entityID]
	if !ok {
		return nil, &EntityNotFoundError{EntityID: entityID, RoomID: r.id}
	}
	if err := checkNotOwnDownload(entity, requester, r.id); err != nil {
		return nil, err
	}

	t := &transfer{
		id:          types.NewTransferID(),
		entityID:    entityID,
		ownerID:     entity.OwnerID,
		sizeBytes:   entity.Meta.SizeBytes,
		totalBlocks: blockCount(entity.Meta.SizeBytes, r.cfg.BlockSize),
		data:        make(chan []byte, 1),
		done:        make(chan struct{}),
	}

	dl := &Download{
		TransferID:  t.id,
		RoomID:      r.id,
		EntityID:    t.entityID,
		OwnerID:     t.ownerID,
		SizeBytes:   t.sizeBytes,
		BlockSize:   r.cfg.BlockSize,
		TotalBlocks: t.totalBlocks,
		Data:        t.data,
		Done:        t.done,
	}

	// Empty entities complete immediately: no record, no demand.
	if t.totalBlocks == 0 {
		close(t.data)
		return dl, nil
	}

	r.transfers[t.id] = t
	metrics.ActiveTransfers.Inc()

	owner := r.peers[t.ownerID]
	owner.demands.push(types.UploadRequestEvent{
		TransferID: t.id,
		EntityID:   t.entityID,
		BlockIndex: 0,
	})

	return dl, nil
}

// DeliverBlock validates and relays one block uploaded by from, then either
// demands the next block or completes the transfer. Only the entity's owner
// may deliver. The push into the data channel blocks until the downloader
// consumed the previous block; the room mutex is not held across that
// suspension.
func (r *Room) DeliverBlock(ctx context.Context, from types.PeerID, transferID types.TransferID, blockIdx int, block []byte) error {
	r.mu.Lock()
	t, ok := r.transfers[transferID]
	if !ok {
		r.mu.Unlock()
		return &TransferNotFoundError{TransferID: transferID, RoomID: r.id}
	}
	if t.ownerID != from {
		r.mu.Unlock()
		return &PermissionDeniedError{PeerID: from, RoomID: r.id, Detail: DetailNotOwner}
	}
	if t.delivering || blockIdx != t.next {
		r.mu.Unlock()
		return ErrUnexpectedBlockIndex
	}
	if err := t.checkBlockSize(blockIdx, len(block), r.cfg.BlockSize); err != nil {
		r.mu.Unlock()
		return err
	}
	t.delivering = true
	r.mu.Unlock()

	select {
	case t.data <- block:
	case <-t.done:
		// Cancelled while waiting for the downloader; the record is gone.
		return &TransferNotFoundError{TransferID: transferID, RoomID: r.id}
	case <-ctx.Done():
		r.mu.Lock()
		t.delivering = false
		r.mu.Unlock()
		return ctx.Err()
	}

	metrics.BlocksRelayed.Inc()
	metrics.BytesRelayed.Add(float64(len(block)))

	r.mu.Lock()
	defer r.mu.Unlock()

	t.delivering = false
	t.next++

	if _, still := r.transfers[transferID]; !still {
		// Stopped while the block was in flight; nothing more to demand.
		return nil
	}

	if t.next == t.totalBlocks {
		delete(r.transfers, transferID)
		close(t.data)
		metrics.ActiveTransfers.Dec()
		return nil
	}

	if owner, ok := r.peers[t.ownerID]; ok {
		owner.demands.push(types.UploadRequestEvent{
			TransferID: t.id,
			EntityID:   t.entityID,
			BlockIndex: t.next,
		})
	}
	return nil
}

// checkBlockSize enforces the block size rules: every block is exactly the
// room block size except the final one, which must carry exactly the
// remainder.
func (t *transfer) checkBlockSize(blockIdx, n, blockSize int) error {
	last := blockIdx == t.totalBlocks-1
	if last {
		remainder := int(t.sizeBytes - int64(t.totalBlocks-1)*int64(blockSize))
		if n != remainder {
			return ErrInvalidBlockSize
		}
		return nil
	}
	if n != blockSize {
		return ErrInvalidBlockSize
	}
	return nil
}

// StopTransfer removes the transfer record, if present. The owner receives
// no further demands for it and a blocked delivery unwinds.
func (r *Room) StopTransfer(transferID types.TransferID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.transfers[transferID]
	if !ok {
		return
	}
	delete(r.transfers, transferID)
	t.stop()
	metrics.ActiveTransfers.Dec()
}

// TransferCount returns the number of in-flight transfers.
func (r *Room) TransferCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.transfers)
}
