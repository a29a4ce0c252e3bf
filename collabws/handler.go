package collabws

import (
	"net/http"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"collabcanvas/room"
)

// Handler upgrades HTTP requests into collaboration connections.
type Handler struct {
	registry *room.Registry
	logger   *zap.Logger
	upgrader websocket.Upgrader
}

// NewHandler creates a websocket handler serving the given room registry.
func NewHandler(registry *room.Registry, logger *zap.Logger) *Handler {
	return &Handler{
		registry: registry,
		logger:   logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

// ServeHTTP upgrades the request and serves the connection until it closes.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("failed to upgrade connection", zap.Error(err))
		return
	}

	client := newClient(conn, h.registry, h.logger)
	h.logger.Info("connection opened",
		zap.String("connection_id", client.id),
		zap.String("remote_addr", r.RemoteAddr))

	go client.run()
}
