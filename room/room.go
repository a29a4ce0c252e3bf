// Package room implements the unit of collaboration: one replicated document,
// one presence store, and the set of currently joined connections for one
// project id, plus the process-wide registry that owns room lifecycles.
package room

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"collabcanvas/crdtdoc"
	"collabcanvas/presence"
)

// ErrRoomClosed is returned by Join when the room lost a race with its own
// teardown. Callers resolve the room id again and retry.
var ErrRoomClosed = errors.New("room is closed")

// Room owns the collaborative state for one project id. All operations on a
// room are serialized under one mutex, held across the mutation and the
// resulting fan-out; operations on different rooms proceed in parallel.
type Room struct {
	id        string
	createdAt time.Time
	logger    *zap.Logger

	mu           sync.Mutex
	closed       bool
	doc          crdtdoc.Document
	presence     *presence.Store
	participants map[string]*Participant
	joinCount    int
	onEmpty      func(roomID string)
}

func newRoom(id string, doc crdtdoc.Document, onEmpty func(roomID string), logger *zap.Logger) *Room {
	return &Room{
		id:           id,
		createdAt:    time.Now(),
		logger:       logger,
		doc:          doc,
		presence:     presence.NewStore(),
		participants: make(map[string]*Participant),
		onEmpty:      onEmpty,
	}
}

// ID returns the project id this room collaborates on.
func (r *Room) ID() string {
	return r.id
}

// CreatedAt returns when the room was created. Informational only.
func (r *Room) CreatedAt() time.Time {
	return r.createdAt
}

// JoinState is everything a freshly joined client needs to initialize:
// the current participant list, its own assigned color and connection id,
// and the full encoded document.
type JoinState struct {
	Users        []ParticipantInfo
	Color        string
	ConnectionID string
	DocState     []byte
}

// Join inserts a new participant, assigns the next round-robin color, and
// announces the arrival to everyone else in the room.
func (r *Room) Join(connectionID, userID, userName string, sender Sender) (*JoinState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, ErrRoomClosed
	}

	state, err := r.doc.EncodeState()
	if err != nil {
		return nil, fmt.Errorf("failed to encode document state: %w", err)
	}

	p := &Participant{
		ConnectionID: connectionID,
		UserID:       userID,
		Name:         userName,
		Color:        r.nextColorLocked(),
		JoinedAt:     time.Now(),
		sender:       sender,
	}
	r.participants[connectionID] = p
	r.presence.Track(connectionID)

	users := r.participantsLocked()
	r.broadcastLocked(connectionID, EventUserJoined, UserJoinedMessage{User: p.Info(), Users: users})

	r.logger.Info("participant joined",
		zap.String("room_id", r.id),
		zap.String("connection_id", connectionID),
		zap.String("user_id", userID),
		zap.Int("participant_count", len(r.participants)))

	return &JoinState{
		Users:        users,
		Color:        p.Color,
		ConnectionID: connectionID,
		DocState:     state,
	}, nil
}

// Leave removes the participant and announces the departure. Leaving a room
// the connection is not in is a no-op. When the last participant leaves, the
// room removes itself from the registry.
func (r *Room) Leave(connectionID string) {
	r.mu.Lock()
	p, ok := r.participants[connectionID]
	if !ok {
		r.mu.Unlock()
		return
	}

	delete(r.participants, connectionID)
	r.presence.Remove(connectionID)
	r.broadcastLocked(connectionID, EventUserLeft, UserLeftMessage{UserID: p.UserID, Users: r.participantsLocked()})

	empty := len(r.participants) == 0
	onEmpty := r.onEmpty

	r.logger.Info("participant left",
		zap.String("room_id", r.id),
		zap.String("connection_id", connectionID),
		zap.String("user_id", p.UserID),
		zap.Int("participant_count", len(r.participants)))
	r.mu.Unlock()

	// The registry re-checks emptiness under its own lock, so a concurrent
	// join between the unlock above and this call cannot lose the room.
	if empty && onEmpty != nil {
		onEmpty(r.id)
	}
}

// ApplyUpdate merges a document update and relays it verbatim to every other
// participant. A failed merge is isolated to this one call: the update is
// dropped, the room and the sender keep operating.
func (r *Room) ApplyUpdate(connectionID string, update []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.participants[connectionID]; !ok {
		return nil
	}

	if err := r.doc.Merge(update); err != nil {
		r.logger.Warn("dropping malformed document update",
			zap.String("room_id", r.id),
			zap.String("connection_id", connectionID),
			zap.Int("update_size", len(update)),
			zap.Error(err))
		return err
	}

	r.broadcastLocked(connectionID, EventDocUpdate, DocUpdateMessage{Update: update})
	return nil
}

// SetCursor updates the participant's cursor and broadcasts it. Never
// touches the document.
func (r *Room) SetCursor(connectionID string, cursor presence.Cursor) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.participants[connectionID]
	if !ok {
		return
	}

	r.presence.SetCursor(connectionID, cursor)
	r.broadcastLocked(connectionID, EventCursorUpdate, CursorUpdateMessage{
		UserID: p.UserID,
		Cursor: cursor,
		Color:  p.Color,
		Name:   p.Name,
	})
}

// SetSelection updates the participant's selected item ids and broadcasts
// them. Never touches the document.
func (r *Room) SetSelection(connectionID string, selectedIDs []string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.participants[connectionID]
	if !ok {
		return
	}

	r.presence.SetSelection(connectionID, selectedIDs)
	r.broadcastLocked(connectionID, EventSelectionUpdate, SelectionUpdateMessage{
		UserID:      p.UserID,
		SelectedIDs: selectedIDs,
		Color:       p.Color,
	})
}

// Relay broadcasts an application-defined operation to every other
// participant, tagged with the sender's user id. The core does not interpret
// the payload.
func (r *Room) Relay(connectionID string, operation json.RawMessage) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.participants[connectionID]
	if !ok {
		return
	}

	r.broadcastLocked(connectionID, EventCanvasOperation, CanvasOperationMessage{
		Operation:  operation,
		FromUserID: p.UserID,
	})
}

// Snapshot returns the document's current encoded state. Used to answer
// explicit resync requests without a rejoin, and by the snapshot publisher.
func (r *Room) Snapshot() ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.doc.EncodeState()
}

// Presence returns the participant's current presence state.
func (r *Room) Presence(connectionID string) (presence.State, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.presence.Get(connectionID)
}

// ParticipantCount returns the number of currently joined connections.
func (r *Room) ParticipantCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.participants)
}

// Participants returns the current participant list.
func (r *Room) Participants() []ParticipantInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.participantsLocked()
}

// nextColorLocked advances the round-robin color counter, skipping colors a
// current participant already holds. Colors stay unique until the room has
// more concurrent participants than the palette has entries. Callers hold
// r.mu.
func (r *Room) nextColorLocked() string {
	inUse := make(map[string]bool, len(r.participants))
	for _, p := range r.participants {
		inUse[p.Color] = true
	}

	for i := 0; i < presence.PaletteSize(); i++ {
		color := presence.ColorAt(r.joinCount)
		r.joinCount++
		if !inUse[color] {
			return color
		}
	}

	// Palette exhausted; colors repeat from here on.
	color := presence.ColorAt(r.joinCount)
	r.joinCount++
	return color
}

// participantsLocked snapshots the participant list, ordered by join time so
// clients render a stable list. Callers hold r.mu.
func (r *Room) participantsLocked() []ParticipantInfo {
	members := make([]*Participant, 0, len(r.participants))
	for _, p := range r.participants {
		members = append(members, p)
	}
	sort.Slice(members, func(i, j int) bool {
		return members[i].JoinedAt.Before(members[j].JoinedAt)
	})

	users := make([]ParticipantInfo, len(members))
	for i, p := range members {
		users[i] = p.Info()
	}
	return users
}

// broadcastLocked fans an event out to every participant except the
// originator. Fire and forget: a failed send is logged and skipped, and
// never surfaces to another participant. Callers hold r.mu.
func (r *Room) broadcastLocked(excludeConnectionID, event string, payload interface{}) {
	for connectionID, p := range r.participants {
		if connectionID == excludeConnectionID {
			continue
		}
		if err := p.sender.Send(event, payload); err != nil {
			r.logger.Debug("dropping broadcast",
				zap.String("room_id", r.id),
				zap.String("connection_id", connectionID),
				zap.String("event", event),
				zap.Error(err))
		}
	}
}

// shutdown marks the room closed if it is still empty. Called by the
// registry with the registry lock held; returns false when a participant
// joined in the meantime and the room must stay.
func (r *Room) shutdown() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.participants) > 0 {
		return false
	}
	r.closed = true
	return true
}
