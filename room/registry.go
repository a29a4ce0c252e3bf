package room

import (
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"collabcanvas/crdtdoc"
)

// Registry is the process-wide directory of active rooms. Rooms are created
// lazily on first join and removed synchronously when their last participant
// leaves; a room is present iff it has at least one participant.
//
// The registry mutex only guards the directory map. Lock order is always
// registry before room: rooms never call back into the registry while
// holding their own lock.
type Registry struct {
	mu          sync.Mutex
	rooms       map[string]*Room
	newDocument crdtdoc.Factory
	logger      *zap.Logger
}

// NewRegistry creates an empty registry. The factory produces the replicated
// document for each newly created room.
func NewRegistry(factory crdtdoc.Factory, logger *zap.Logger) *Registry {
	return &Registry{
		rooms:       make(map[string]*Room),
		newDocument: factory,
		logger:      logger,
	}
}

// GetOrCreate returns the room for the given id, creating it with a fresh
// document and empty participant set if none exists. Only one room instance
// ever exists per id, including under concurrent first joins.
func (reg *Registry) GetOrCreate(roomID string) (*Room, error) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	if r, ok := reg.rooms[roomID]; ok {
		return r, nil
	}

	doc, err := reg.newDocument(roomID)
	if err != nil {
		return nil, fmt.Errorf("failed to create document for room %q: %w", roomID, err)
	}

	r := newRoom(roomID, doc, reg.remove, reg.logger)
	reg.rooms[roomID] = r
	reg.logger.Info("room created", zap.String("room_id", roomID))
	return r, nil
}

// Get returns the active room for the given id, if any.
func (reg *Registry) Get(roomID string) (*Room, bool) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	r, ok := reg.rooms[roomID]
	return r, ok
}

// Join resolves (or creates) the room and joins it. Retries when the join
// loses a race with the teardown of a draining room, so callers always land
// in a registered room.
func (reg *Registry) Join(roomID, connectionID, userID, userName string, sender Sender) (*Room, *JoinState, error) {
	for {
		r, err := reg.GetOrCreate(roomID)
		if err != nil {
			return nil, nil, err
		}

		state, err := r.Join(connectionID, userID, userName, sender)
		if errors.Is(err, ErrRoomClosed) {
			continue
		}
		if err != nil {
			return nil, nil, err
		}
		return r, state, nil
	}
}

// remove drops a drained room from the directory. Idempotent: removing an
// absent id is a no-op, and a room that regained a participant since it
// reported empty is kept.
func (reg *Registry) remove(roomID string) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	r, ok := reg.rooms[roomID]
	if !ok {
		return
	}
	if !r.shutdown() {
		return
	}

	delete(reg.rooms, roomID)
	reg.logger.Info("room removed", zap.String("room_id", roomID))
}

// Rooms returns a snapshot of the active rooms.
func (reg *Registry) Rooms() []*Room {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	rooms := make([]*Room, 0, len(reg.rooms))
	for _, r := range reg.rooms {
		rooms = append(rooms, r)
	}
	return rooms
}

// Len returns the number of active rooms.
func (reg *Registry) Len() int {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	return len(reg.rooms)
}
