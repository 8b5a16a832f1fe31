package room

import (
	"sync"

	"github.com/drophub/drophub/internal/v1/types"
)

// demandQueue is the per-peer upload-demand inbox: unbounded, single
// producer side (the room, under its lock), single consumer (the owning
// subscription loop). Application-level rate keeps it small — at most one
// outstanding demand per transfer — but a push never blocks the room.
type demandQueue struct {
	mu     sync.Mutex
	closed bool
	in     chan types.UploadRequestEvent
	out    chan types.UploadRequestEvent
}

func newDemandQueue() *demandQueue {
	q := &demandQueue{
		in:  make(chan types.UploadRequestEvent, 16),
		out: make(chan types.UploadRequestEvent),
	}
	go q.pump()
	return q
}

// pump shuttles demands from in to out, buffering without bound in between.
// It exits (closing out) once in is closed and the backlog is drained.
func (q *demandQueue) pump() {
	var pending []types.UploadRequestEvent
	for {
		if len(pending) == 0 {
			req, ok := <-q.in
			if !ok {
				close(q.out)
				return
			}
			pending = append(pending, req)
			continue
		}

		select {
		case req, ok := <-q.in:
			if !ok {
				// Closed queues belong to departed peers; the backlog is moot.
				close(q.out)
				return
			}
			pending = append(pending, req)
		case q.out <- pending[0]:
			pending = pending[1:]
		}
	}
}

// push enqueues a demand. It reports false once the queue is closed.
func (q *demandQueue) push(req types.UploadRequestEvent) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	q.in <- req
	return true
}

// C returns the consumer side. It is closed after close() once drained,
// which the subscription loop treats as "this peer was kicked".
func (q *demandQueue) C() <-chan types.UploadRequestEvent {
	return q.out
}

func (q *demandQueue) close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	close(q.in)
}
