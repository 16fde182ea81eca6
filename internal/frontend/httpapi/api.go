// Package httpapi maps HTTP, server-sent event, and WebSocket requests onto
// directory and game session operations.
package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/cory-johannsen/omok/internal/config"
	"github.com/cory-johannsen/omok/internal/game/directory"
	"github.com/cory-johannsen/omok/internal/game/gameerr"
	"github.com/cory-johannsen/omok/internal/game/session"
)

// maxBodyBytes bounds every request body.
const maxBodyBytes = 64 << 10

// codeBadRequest is reported for malformed or incomplete request bodies.
const codeBadRequest = "bad_request"

// Handler serves the omok API.
type Handler struct {
	dir      *directory.Directory
	sessions *session.Manager
	origins  []string
	logger   *zap.Logger
	upgrader websocket.Upgrader
	// pingInterval is how often idle WebSocket streams are pinged.
	pingInterval time.Duration
}

// NewHandler creates a Handler over dir and sessions.
//
// Precondition: dir, sessions, and logger must be non-nil.
func NewHandler(dir *directory.Directory, sessions *session.Manager, cfg config.HTTPConfig, logger *zap.Logger) *Handler {
	h := &Handler{
		dir:          dir,
		sessions:     sessions,
		origins:      cfg.AllowedOrigins,
		logger:       logger,
		pingInterval: 30 * time.Second,
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

// Router returns the routed handler wrapped with CORS and panic recovery.
func (h *Handler) Router() http.Handler {
	r := mux.NewRouter()

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/lobby/join", h.lobbyJoin).Methods(http.MethodPost)
	api.HandleFunc("/lobby/leave", h.lobbyLeave).Methods(http.MethodPost)
	api.HandleFunc("/lobby/chat", h.lobbyChat).Methods(http.MethodPost)
	api.HandleFunc("/lobby/chat-history", h.lobbyChatHistory).Methods(http.MethodGet)
	api.HandleFunc("/lobby/debug", h.lobbyDebug).Methods(http.MethodGet)
	api.HandleFunc("/rooms", h.rooms).Methods(http.MethodGet)
	api.HandleFunc("/room/create", h.roomCreate).Methods(http.MethodPost)
	api.HandleFunc("/room/join", h.roomJoin).Methods(http.MethodPost)
	api.HandleFunc("/room/leave", h.roomLeave).Methods(http.MethodPost)
	api.HandleFunc("/room/move", h.roomMove).Methods(http.MethodPost)
	api.HandleFunc("/room/chat", h.roomChat).Methods(http.MethodPost)
	api.HandleFunc("/room/reset", h.roomReset).Methods(http.MethodPost)
	api.HandleFunc("/room/{roomId}/state", h.roomState).Methods(http.MethodGet)

	r.HandleFunc("/events", h.lobbyEvents).Methods(http.MethodGet)
	r.HandleFunc("/ws/lobby", h.lobbySocket)
	r.HandleFunc("/ws/rooms/{roomId}", h.roomSocket)
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, map[string]any{"success": false, "error": "not found", "code": "not_found"})
	})

	cors := handlers.CORS(
		handlers.AllowedOrigins(h.origins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Content-Type"}),
	)
	return handlers.RecoveryHandler(handlers.RecoveryLogger(recoveryLogger{h.logger}))(cors(r))
}

// Close detaches every directory and session stream so open SSE and
// WebSocket handlers return. Register it with http.Server.RegisterOnShutdown.
func (h *Handler) Close() {
	h.sessions.Close()
	h.dir.Close()
	h.logger.Info("event streams closed")
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, o := range h.origins {
		if o == "*" || strings.EqualFold(o, origin) {
			return true
		}
	}
	return false
}

type lobbyJoinRequest struct {
	PlayerID   string `json:"playerId"`
	PlayerName string `json:"playerName"`
}

type lobbyLeaveRequest struct {
	PlayerID string `json:"playerId"`
}

type chatRequest struct {
	PlayerID string `json:"playerId"`
	RoomID   string `json:"roomId"`
	Message  string `json:"message"`
}

type roomCreateRequest struct {
	PlayerID   string `json:"playerId"`
	PlayerName string `json:"playerName"`
	RoomName   string `json:"roomName"`
}

type roomJoinRequest struct {
	PlayerID    string `json:"playerId"`
	PlayerName  string `json:"playerName"`
	RoomID      string `json:"roomId"`
	AsSpectator bool   `json:"asSpectator"`
}

type roomLeaveRequest struct {
	PlayerID string `json:"playerId"`
	RoomID   string `json:"roomId"`
}

type roomMoveRequest struct {
	PlayerID string `json:"playerId"`
	RoomID   string `json:"roomId"`
	Row      *int   `json:"row"`
	Col      *int   `json:"col"`
}

type roomResetRequest struct {
	RoomID string `json:"roomId"`
}

func (h *Handler) lobbyJoin(w http.ResponseWriter, r *http.Request) {
	var req lobbyJoinRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.PlayerID == "" || req.PlayerName == "" {
		badRequest(w, "playerId and playerName are required")
		return
	}
	res := h.dir.Join(req.PlayerID, req.PlayerName)
	writeJSON(w, http.StatusOK, map[string]any{
		"success":     true,
		"chatHistory": res.ChatHistory,
		"rooms":       res.Sessions,
	})
}

func (h *Handler) lobbyLeave(w http.ResponseWriter, r *http.Request) {
	var req lobbyLeaveRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.PlayerID == "" {
		badRequest(w, "playerId is required")
		return
	}
	h.dir.Leave(req.PlayerID)
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (h *Handler) lobbyChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if !h.decode(w, r, &req) {
		return
	}
	entry, err := h.dir.Chat(req.PlayerID, req.Message)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": entry})
}

func (h *Handler) lobbyChatHistory(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "messages": h.dir.ChatHistory()})
}

func (h *Handler) lobbyDebug(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"success":  true,
		"stats":    h.dir.Stats(),
		"sessions": h.sessions.Count(),
	})
}

func (h *Handler) rooms(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "rooms": h.dir.Summaries()})
}

func (h *Handler) roomCreate(w http.ResponseWriter, r *http.Request) {
	var req roomCreateRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.PlayerID == "" || req.PlayerName == "" || strings.TrimSpace(req.RoomName) == "" {
		badRequest(w, "playerId, playerName, and roomName are required")
		return
	}
	sess, st, err := h.sessions.Create(req.RoomName, req.PlayerID, req.PlayerName)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.logger.Info("room created",
		zap.String("session_id", sess.ID()),
		zap.String("creator_id", req.PlayerID),
	)
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "roomId": sess.ID(), "gameState": st})
}

func (h *Handler) roomJoin(w http.ResponseWriter, r *http.Request) {
	var req roomJoinRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.PlayerID == "" || req.PlayerName == "" || req.RoomID == "" {
		badRequest(w, "playerId, playerName, and roomId are required")
		return
	}
	sess, err := h.sessions.Get(req.RoomID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	st, err := sess.Join(req.PlayerID, req.PlayerName, req.AsSpectator)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "gameState": st})
}

func (h *Handler) roomLeave(w http.ResponseWriter, r *http.Request) {
	var req roomLeaveRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.PlayerID == "" || req.RoomID == "" {
		badRequest(w, "playerId and roomId are required")
		return
	}
	empty, err := h.sessions.Leave(req.RoomID, req.PlayerID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "isEmpty": empty})
}

func (h *Handler) roomMove(w http.ResponseWriter, r *http.Request) {
	var req roomMoveRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.PlayerID == "" || req.RoomID == "" || req.Row == nil || req.Col == nil {
		badRequest(w, "playerId, roomId, row, and col are required")
		return
	}
	sess, err := h.sessions.Get(req.RoomID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	st, err := sess.Move(req.PlayerID, *req.Row, *req.Col)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "gameState": st})
}

func (h *Handler) roomChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.RoomID == "" {
		badRequest(w, "roomId is required")
		return
	}
	sess, err := h.sessions.Get(req.RoomID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	entry, err := sess.Chat(req.PlayerID, req.Message)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": entry})
}

func (h *Handler) roomReset(w http.ResponseWriter, r *http.Request) {
	var req roomResetRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.RoomID == "" {
		badRequest(w, "roomId is required")
		return
	}
	sess, err := h.sessions.Get(req.RoomID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	st, err := sess.Reset()
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "gameState": st})
}

func (h *Handler) roomState(w http.ResponseWriter, r *http.Request) {
	sess, err := h.sessions.Get(mux.Vars(r)["roomId"])
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "gameState": sess.State()})
}

// decode reads a JSON body into v, answering 400 itself on failure.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			badRequest(w, "request body is empty")
			return false
		}
		badRequest(w, fmt.Sprintf("invalid request body: %v", err))
		return false
	}
	return true
}

// statusFor maps a domain error code to an HTTP status.
func statusFor(code string) int {
	switch code {
	case "session_not_found":
		return http.StatusNotFound
	case "duplicate_participant":
		return http.StatusConflict
	case "internal":
		return http.StatusInternalServerError
	}
	return http.StatusBadRequest
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	code := gameerr.Code(err)
	status := statusFor(code)
	if status == http.StatusInternalServerError {
		h.logger.Error("request failed", zap.Error(err))
	} else {
		h.logger.Debug("request rejected", zap.String("code", code), zap.Error(err))
	}
	writeJSON(w, status, map[string]any{"success": false, "error": err.Error(), "code": code})
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "error": msg, "code": codeBadRequest})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// recoveryLogger adapts zap to handlers.RecoveryHandlerLogger.
type recoveryLogger struct {
	logger *zap.Logger
}

func (l recoveryLogger) Println(v ...interface{}) {
	l.logger.Error("handler panic", zap.String("panic", fmt.Sprint(v...)))
}
