package httpapi

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/cory-johannsen/omok/internal/game/broadcast"
)

// writeWait bounds a single WebSocket write.
const writeWait = 10 * time.Second

// lobbyEvents streams directory events as server-sent events until the
// client disconnects.
func (h *Handler) lobbyEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"success": false, "error": "streaming unsupported", "code": "internal"})
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	obs := h.dir.Subscribe()
	defer obs.Close()
	logger := h.logger.With(zap.String("observer", obs.ID()), zap.String("transport", "sse"))
	logger.Debug("event stream opened")

	for {
		select {
		case <-r.Context().Done():
			logger.Debug("event stream closed by client")
			return
		case data, ok := <-obs.Events():
			if !ok {
				logger.Debug("event stream detached")
				return
			}
			if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
				logger.Debug("event stream write failed", zap.Error(err))
				return
			}
			flusher.Flush()
		}
	}
}

func (h *Handler) lobbySocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("websocket upgrade failed", zap.Error(err))
		return
	}
	h.pump(conn, h.dir.Subscribe(), zap.String("stream", "lobby"))
}

func (h *Handler) roomSocket(w http.ResponseWriter, r *http.Request) {
	roomID := mux.Vars(r)["roomId"]
	sess, err := h.sessions.Get(roomID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("websocket upgrade failed", zap.String("session_id", roomID), zap.Error(err))
		return
	}
	h.pump(conn, sess.Subscribe(), zap.String("stream", "room"), zap.String("session_id", roomID))
}

// pump forwards observer events to conn until either side goes away. A read
// failure closes the observer, which drops it from its hub on the next publish.
func (h *Handler) pump(conn *websocket.Conn, obs *broadcast.Observer, fields ...zap.Field) {
	logger := h.logger.With(append(fields, zap.String("observer", obs.ID()))...)
	logger.Debug("websocket stream opened")
	defer func() {
		_ = obs.Close()
		_ = conn.Close()
		logger.Debug("websocket stream closed")
	}()

	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(2 * h.pingInterval))
	})
	_ = conn.SetReadDeadline(time.Now().Add(2 * h.pingInterval))

	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				_ = obs.Close()
				return
			}
		}
	}()

	ticker := time.NewTicker(h.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-readDone:
			return
		case data, ok := <-obs.Events():
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "stream closed"),
					time.Now().Add(writeWait))
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				logger.Debug("websocket write failed", zap.Error(err))
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}
