// Package collabws is the websocket transport of the collaboration core:
// one connection per client, one goroutine reading inbound frames and one
// writing outbound frames, with inbound events dispatched to the owning room.
package collabws

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"collabcanvas/presence"
	"collabcanvas/room"
)

// outboundBuffer bounds the per-connection send queue. Broadcasts that do
// not fit are dropped; delivery is best effort by design.
const outboundBuffer = 64

// Client is one connected editor. It implements room.Sender, so rooms fan
// events out to it directly.
type Client struct {
	id       string
	conn     *websocket.Conn
	registry *room.Registry
	logger   *zap.Logger

	outbound  chan []byte
	done      chan struct{}
	closeOnce sync.Once

	// mu guards roomID, which the read loop writes and close() reads.
	mu     sync.Mutex
	roomID string
}

func newClient(conn *websocket.Conn, registry *room.Registry, logger *zap.Logger) *Client {
	id := uuid.NewString()
	return &Client{
		id:       id,
		conn:     conn,
		registry: registry,
		logger:   logger.With(zap.String("connection_id", id)),
		outbound: make(chan []byte, outboundBuffer),
		done:     make(chan struct{}),
	}
}

// ID returns the server-assigned connection id.
func (c *Client) ID() string {
	return c.id
}

// run serves the connection until it closes. The caller runs it in its own
// goroutine; run starts the write loop and then reads inbound frames.
func (c *Client) run() {
	go c.writeLoop()
	c.readLoop()
}

// Send queues one event toward the client. Never blocks: when the outbound
// queue is full or the connection is closed the event is dropped and an
// error returned, which rooms log and ignore.
func (c *Client) Send(event string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal %s payload: %w", event, err)
	}
	frame, err := json.Marshal(Envelope{Event: event, Data: data})
	if err != nil {
		return fmt.Errorf("failed to marshal %s frame: %w", event, err)
	}

	select {
	case <-c.done:
		return fmt.Errorf("connection is closed")
	case c.outbound <- frame:
		return nil
	default:
		return fmt.Errorf("outbound queue full, dropping %s", event)
	}
}

func (c *Client) writeLoop() {
	for {
		select {
		case <-c.done:
			return
		case frame := <-c.outbound:
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				c.logger.Debug("websocket write failed", zap.Error(err))
				c.close()
				return
			}
		}
	}
}

func (c *Client) readLoop() {
	defer c.close()

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Warn("websocket read error", zap.Error(err))
			}
			return
		}

		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			c.logger.Warn("dropping malformed frame", zap.Error(err))
			continue
		}

		c.dispatch(&env)
	}
}

// close tears the connection down exactly once. A transport disconnect is an
// implicit leave for the room the connection had joined.
func (c *Client) close() {
	c.closeOnce.Do(func() {
		close(c.done)

		c.mu.Lock()
		roomID := c.roomID
		c.roomID = ""
		c.mu.Unlock()

		if roomID != "" {
			if r, ok := c.registry.Get(roomID); ok {
				r.Leave(c.id)
			}
		}

		c.conn.Close()
		c.logger.Info("connection closed")
	})
}

func (c *Client) currentRoom() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.roomID
}

func (c *Client) setRoom(roomID string) {
	c.mu.Lock()
	c.roomID = roomID
	c.mu.Unlock()
}

func (c *Client) dispatch(env *Envelope) {
	switch env.Event {
	case eventJoinRoom:
		c.handleJoinRoom(env.Data)
	case eventLeaveRoom:
		c.handleLeaveRoom(env.Data)
	case eventCursorMove:
		c.handleCursorMove(env.Data)
	case eventSelectionChange:
		c.handleSelectionChange(env.Data)
	case eventDocUpdate:
		c.handleDocUpdate(env.Data)
	case eventCanvasOperation:
		c.handleCanvasOperation(env.Data)
	case eventSyncRequest:
		c.handleSyncRequest(env.Data)
	default:
		c.logger.Debug("ignoring unknown event", zap.String("event", env.Event))
	}
}

func (c *Client) handleJoinRoom(data json.RawMessage) {
	var req joinRoomRequest
	if err := json.Unmarshal(data, &req); err != nil || req.ProjectID == "" {
		c.logger.Warn("dropping invalid join-room payload", zap.Error(err))
		return
	}

	// A connection collaborates on at most one room; joining another room
	// leaves the current one first.
	if current := c.currentRoom(); current != "" {
		if r, ok := c.registry.Get(current); ok {
			r.Leave(c.id)
		}
		c.setRoom("")
	}

	_, state, err := c.registry.Join(req.ProjectID, c.id, req.UserID, req.UserName, c)
	if err != nil {
		c.logger.Error("failed to join room",
			zap.String("room_id", req.ProjectID),
			zap.Error(err))
		return
	}

	// close() closes done before it reads roomID, so exactly one side sees
	// the other: either the check below observes the closed connection and
	// undoes the join, or close() observes the new roomID and leaves it.
	c.mu.Lock()
	select {
	case <-c.done:
		c.mu.Unlock()
		if r, ok := c.registry.Get(req.ProjectID); ok {
			r.Leave(c.id)
		}
		return
	default:
	}
	c.roomID = req.ProjectID
	c.mu.Unlock()

	if err := c.Send(room.EventRoomState, room.RoomStateMessage{
		Users:     state.Users,
		YourColor: state.Color,
		YourID:    state.ConnectionID,
	}); err != nil {
		c.logger.Debug("failed to send room state", zap.Error(err))
	}
	if err := c.Send(room.EventDocState, room.DocUpdateMessage{Update: state.DocState}); err != nil {
		c.logger.Debug("failed to send document state", zap.Error(err))
	}
}

func (c *Client) handleLeaveRoom(data json.RawMessage) {
	var req roomScopedRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return
	}

	if r, ok := c.registry.Get(req.ProjectID); ok {
		r.Leave(c.id)
	}
	if c.currentRoom() == req.ProjectID {
		c.setRoom("")
	}
}

func (c *Client) handleCursorMove(data json.RawMessage) {
	var req cursorMoveRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return
	}

	if r, ok := c.registry.Get(req.ProjectID); ok {
		r.SetCursor(c.id, presence.Cursor{X: req.X, Y: req.Y})
	}
}

func (c *Client) handleSelectionChange(data json.RawMessage) {
	var req selectionChangeRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return
	}

	if r, ok := c.registry.Get(req.ProjectID); ok {
		r.SetSelection(c.id, req.SelectedIDs)
	}
}

func (c *Client) handleDocUpdate(data json.RawMessage) {
	var req docUpdateRequest
	if err := json.Unmarshal(data, &req); err != nil {
		c.logger.Warn("dropping invalid yjs-update payload", zap.Error(err))
		return
	}

	r, ok := c.registry.Get(req.ProjectID)
	if !ok {
		return
	}
	// Merge failures are already logged and isolated by the room.
	_ = r.ApplyUpdate(c.id, req.Update)
}

func (c *Client) handleCanvasOperation(data json.RawMessage) {
	var req canvasOperationRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return
	}

	if r, ok := c.registry.Get(req.ProjectID); ok {
		r.Relay(c.id, req.Operation)
	}
}

func (c *Client) handleSyncRequest(data json.RawMessage) {
	var req roomScopedRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return
	}

	r, ok := c.registry.Get(req.ProjectID)
	if !ok {
		return
	}

	state, err := r.Snapshot()
	if err != nil {
		c.logger.Error("failed to snapshot document",
			zap.String("room_id", req.ProjectID),
			zap.Error(err))
		return
	}

	if err := c.Send(room.EventDocState, room.DocUpdateMessage{Update: state}); err != nil {
		c.logger.Debug("failed to send document state", zap.Error(err))
	}
}
