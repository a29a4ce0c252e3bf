package collabws

import "encoding/json"

// Envelope is one wire frame: an event name plus a JSON payload. Byte
// payloads such as document updates travel base64-encoded inside the JSON.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Event names accepted from clients. Server-to-client names live in the room
// package, since rooms originate those broadcasts.
const (
	eventJoinRoom        = "join-room"
	eventLeaveRoom       = "leave-room"
	eventCursorMove      = "cursor-move"
	eventSelectionChange = "selection-change"
	eventDocUpdate       = "yjs-update"
	eventCanvasOperation = "canvas-operation"
	eventSyncRequest     = "sync-request"
)

type joinRoomRequest struct {
	ProjectID string `json:"projectId"`
	UserID    string `json:"userId"`
	UserName  string `json:"userName"`
}

type roomScopedRequest struct {
	ProjectID string `json:"projectId"`
}

type cursorMoveRequest struct {
	ProjectID string  `json:"projectId"`
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
}

type selectionChangeRequest struct {
	ProjectID   string   `json:"projectId"`
	SelectedIDs []string `json:"selectedIds"`
}

type docUpdateRequest struct {
	ProjectID string `json:"projectId"`
	Update    []byte `json:"update"`
}

type canvasOperationRequest struct {
	ProjectID string          `json:"projectId"`
	Operation json.RawMessage `json:"operation"`
}
