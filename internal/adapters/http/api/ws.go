package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/okian/facewatch/internal/adapters/hub"
	service "github.com/okian/facewatch/internal/app"
	"github.com/okian/facewatch/pkg/logger"
)

// Subscriber attaches live viewers.
type Subscriber interface {
	Subscribe(ctx context.Context, conn hub.Conn) error
}

// WSHandler upgrades viewers to websockets and hands them to the hub.
type WSHandler struct {
	deps     Subscriber
	upgrader *websocket.Upgrader
	logger   logger.Logger
}

// NewWSHandler creates a new websocket handler.
func NewWSHandler(deps Subscriber, upgrader *websocket.Upgrader, l logger.Logger) *WSHandler {
	return &WSHandler{deps: deps, upgrader: upgrader, logger: l}
}

// HandleWS handles GET /ws requests. It blocks for the life of the viewer.
func (h *WSHandler) HandleWS(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		h.logger.Debug(ctx, "websocket upgrade failed", logger.Error(err))
		return
	}

	if err := h.deps.Subscribe(ctx, hub.NewWSConn(ws)); err != nil && !errors.Is(err, context.Canceled) {
		level := h.logger.Warn
		if errors.Is(err, service.ErrNotStarted) {
			level = h.logger.Debug
		}
		level(ctx, "viewer subscription failed", logger.Error(err))
	}
}
