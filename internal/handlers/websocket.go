package handlers

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/credbridge/internal/common"
	"github.com/ternarybob/credbridge/internal/registry"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsPingInterval = 30 * time.Second
)

// WebSocketHandler serves GET /ws/sessions/{id}: a live view of one
// session's event log. On attach the full history is replayed in order,
// then every new event is pushed as it is appended.
type WebSocketHandler struct {
	registry *registry.Registry
	upgrader websocket.Upgrader
	logger   arbor.ILogger
}

// NewWebSocketHandler creates the stream handler. Cross-origin upgrades are
// admitted only from the configured widget origins; requests without an
// Origin header (non-browser clients) are always admitted.
func NewWebSocketHandler(reg *registry.Registry, config *common.Config, logger arbor.ILogger) *WebSocketHandler {
	allowed := make(map[string]bool, len(config.Server.AllowedOrigins))
	for _, origin := range config.Server.AllowedOrigins {
		allowed[origin] = true
	}

	return &WebSocketHandler{
		registry: reg,
		logger:   logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				if origin == "" {
					return true
				}
				return allowed[origin]
			},
		},
	}
}

// StreamHandler upgrades the connection and streams the session's events. A
// disconnecting client is detected by the read loop and its subscription
// dropped, never leaked.
func (h *WebSocketHandler) StreamHandler(w http.ResponseWriter, r *http.Request, sessionID string) {
	sub, err := h.registry.Subscribe(r.Context(), sessionID)
	if err != nil {
		h.logger.Error().Err(err).Str("session_id", sessionID).Msg("Subscribe failed")
		WriteError(w, http.StatusInternalServerError, "internal_error")
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		sub.Close()
		h.logger.Debug().Err(err).Str("session_id", sessionID).Msg("WebSocket upgrade failed")
		return
	}

	h.logger.Debug().
		Str("session_id", sessionID).
		Str("remote", r.RemoteAddr).
		Msg("Event stream attached")

	// The read loop exists to observe the close; clients send nothing.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	defer func() {
		sub.Close()
		conn.Close()
		h.logger.Debug().Str("session_id", sessionID).Msg("Event stream detached")
	}()

	pinger := time.NewTicker(wsPingInterval)
	defer pinger.Stop()

	for {
		select {
		case event, ok := <-sub.Events():
			if !ok {
				// Evicted as a slow consumer (or registry shutdown).
				return
			}
			conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteJSON(event); err != nil {
				return
			}
		case <-pinger.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}
