package room

import (
	"sync"

	"github.com/drophub/drophub/internal/v1/types"
)

// broadcastBuffer bounds each subscriber's pending snapshot queue. A slow
// subscriber never stalls publishers; it observes a lag marker instead and
// treats the next snapshot as authoritative.
const broadcastBuffer = 16

// InfoEvent is one delivery on the room's broadcast channel.
type InfoEvent struct {
	Info types.RoomInfo
	// Lagged is set when earlier snapshots were dropped for this receiver.
	Lagged bool
}

// InfoSub is one receiver of a room's RoomInfo broadcasts. Cancel must be
// called when the receiver stops listening.
type InfoSub struct {
	id uint64
	b  *broadcaster
	ch chan InfoEvent
}

// C returns the receive side. The channel is closed when the room ends or
// the subscription is cancelled.
func (s *InfoSub) C() <-chan InfoEvent {
	return s.ch
}

// Cancel detaches the receiver and closes its channel.
func (s *InfoSub) Cancel() {
	s.b.cancel(s.id)
}

type infoReceiver struct {
	ch     chan InfoEvent
	lagged bool
}

// broadcaster is a bounded multi-receiver fan-out of RoomInfo snapshots.
// Publish never blocks: when a receiver's buffer is full, its oldest pending
// snapshot is dropped and the next delivered event carries the lag marker.
type broadcaster struct {
	mu     sync.Mutex
	subs   map[uint64]*infoReceiver
	nextID uint64
	closed bool
}

func newBroadcaster() *broadcaster {
	return &broadcaster{subs: make(map[uint64]*infoReceiver)}
}

func (b *broadcaster) subscribe() *InfoSub {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	sub := &InfoSub{id: b.nextID, b: b, ch: make(chan InfoEvent, broadcastBuffer)}
	if b.closed {
		close(sub.ch)
		return sub
	}
	b.subs[sub.id] = &infoReceiver{ch: sub.ch}
	return sub
}

func (b *broadcaster) cancel(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if r, ok := b.subs[id]; ok {
		delete(b.subs, id)
		close(r.ch)
	}
}

func (b *broadcaster) publish(info types.RoomInfo) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}

	for _, r := range b.subs {
		ev := InfoEvent{Info: info, Lagged: r.lagged}
		select {
		case r.ch <- ev:
			r.lagged = false
		default:
			// Buffer full: evict the oldest pending snapshot and retry with
			// the lag marker set. The receiver may race us on the drain, in
			// which case the marker carries over to the next publish.
			select {
			case <-r.ch:
			default:
			}
			ev.Lagged = true
			select {
			case r.ch <- ev:
				r.lagged = false
			default:
				r.lagged = true
			}
		}
	}
}

func (b *broadcaster) close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for id, r := range b.subs {
		delete(b.subs, id)
		close(r.ch)
	}
}
