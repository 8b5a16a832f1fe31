package room

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/drophub/drophub/internal/v1/logging"
	"github.com/drophub/drophub/internal/v1/metrics"
	"github.com/drophub/drophub/internal/v1/types"
	"go.uber.org/zap"
)

// Store is the concurrent mapping of room id to room. It is the sole owner
// of each room's memory: rooms enter through Create and leave through
// Remove, and ids are never reused within the process.
//
// Readers of distinct rooms do not block each other; operations on one
// room's interior serialize on the room's own mutex.
type Store struct {
	mu     sync.RWMutex
	rooms  map[types.RoomID]*Room
	nextID atomic.Uint64
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{rooms: make(map[types.RoomID]*Room)}
}

// Create allocates the next room id, builds the room with the host peer
// registered, and inserts it.
func (s *Store) Create(host *Peer, opts types.RoomOptions, cfg Settings) *Room {
	id := types.RoomID(s.nextID.Add(1))
	r := New(id, host, opts, cfg)

	s.mu.Lock()
	s.rooms[id] = r
	s.mu.Unlock()

	metrics.ActiveRooms.Inc()
	logging.Info(context.Background(), "Room created",
		zap.Uint64("room", uint64(id)), zap.String("hostId", string(host.ID)),
		zap.Int("capacity", opts.Capacity))
	return r
}

// Get returns the room with the given id.
func (s *Store) Get(id types.RoomID) (*Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.rooms[id]
	if !ok {
		return nil, &RoomNotFoundError{RoomID: id}
	}
	return r, nil
}

// Remove deletes the room and tears it down, terminating every
// subscription still attached to it.
func (s *Store) Remove(id types.RoomID) {
	s.mu.Lock()
	r, ok := s.rooms[id]
	delete(s.rooms, id)
	s.mu.Unlock()

	if !ok {
		return
	}

	r.Close()
	metrics.ActiveRooms.Dec()
	logging.Info(context.Background(), "Room removed", zap.Uint64("room", uint64(id)))
}

// Len returns the number of live rooms.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rooms)
}

// IDs returns a snapshot of the live room ids.
func (s *Store) IDs() []types.RoomID {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]types.RoomID, 0, len(s.rooms))
	for id := range s.rooms {
		ids = append(ids, id)
	}
	return ids
}
