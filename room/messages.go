package room

import (
	"encoding/json"

	"collabcanvas/presence"
)

// Event names sent from the server to clients.
const (
	// EventRoomState is the unicast reply to a join, carrying the
	// participant list and the joiner's assigned color and id.
	EventRoomState = "room-state"
	// EventDocState carries the full encoded document, unicast on join and
	// on explicit sync requests.
	EventDocState = "yjs-state"
	// EventDocUpdate relays one document update verbatim to the other
	// participants.
	EventDocUpdate = "yjs-update"
	// EventUserJoined announces a new participant to the rest of the room.
	EventUserJoined = "user-joined"
	// EventUserLeft announces a departure to the rest of the room.
	EventUserLeft = "user-left"
	// EventCursorUpdate broadcasts a participant's cursor position.
	EventCursorUpdate = "cursor-update"
	// EventSelectionUpdate broadcasts a participant's selected item ids.
	EventSelectionUpdate = "selection-update"
	// EventCanvasOperation relays an application-defined operation the core
	// does not interpret.
	EventCanvasOperation = "canvas-operation"
)

// ParticipantInfo is the public description of a participant.
type ParticipantInfo struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Color string `json:"color"`
}

// RoomStateMessage is the payload of EventRoomState.
type RoomStateMessage struct {
	Users     []ParticipantInfo `json:"users"`
	YourColor string            `json:"yourColor"`
	YourID    string            `json:"yourId"`
}

// UserJoinedMessage is the payload of EventUserJoined.
type UserJoinedMessage struct {
	User  ParticipantInfo   `json:"user"`
	Users []ParticipantInfo `json:"users"`
}

// UserLeftMessage is the payload of EventUserLeft.
type UserLeftMessage struct {
	UserID string            `json:"userId"`
	Users  []ParticipantInfo `json:"users"`
}

// CursorUpdateMessage is the payload of EventCursorUpdate.
type CursorUpdateMessage struct {
	UserID string          `json:"userId"`
	Cursor presence.Cursor `json:"cursor"`
	Color  string          `json:"color"`
	Name   string          `json:"name"`
}

// SelectionUpdateMessage is the payload of EventSelectionUpdate.
type SelectionUpdateMessage struct {
	UserID      string   `json:"userId"`
	SelectedIDs []string `json:"selectedIds"`
	Color       string   `json:"color"`
}

// DocUpdateMessage is the payload of EventDocUpdate and EventDocState. The
// update bytes are opaque to the core and travel base64-encoded in JSON.
type DocUpdateMessage struct {
	Update []byte `json:"update"`
}

// CanvasOperationMessage is the payload of EventCanvasOperation.
type CanvasOperationMessage struct {
	Operation  json.RawMessage `json:"operation"`
	FromUserID string          `json:"fromUserId"`
}
