package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/Dosada05/skill-arena/brackets"
	"github.com/Dosada05/skill-arena/services"
	"github.com/gorilla/websocket"
)

type WebSocketHandler struct {
	hub            *brackets.Hub
	bracketService services.BracketService
	upgrader       websocket.Upgrader
	logger         *slog.Logger
}

// NewWebSocketHandler allows connections only from allowedOrigins; an empty list allows any origin.
func NewWebSocketHandler(hub *brackets.Hub, bs services.BracketService, allowedOrigins []string, logger *slog.Logger) *WebSocketHandler {
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[o] = true
	}
	return &WebSocketHandler{
		hub:            hub,
		bracketService: bs,
		logger:         logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return len(allowed) == 0 || origin == "" || allowed[origin]
			},
		},
	}
}

// ServeWs handles /ws/tournaments/{tournamentID}.
// The first frame is a BRACKET_SNAPSHOT; MATCH_* and TOURNAMENT_UPDATED events follow.
// Events committed while the snapshot was read may repeat state it already holds,
// clients drop them by version.
func (h *WebSocketHandler) ServeWs(w http.ResponseWriter, r *http.Request) {
	tournamentID, err := getIDFromURL(r, "tournamentID")
	if err != nil {
		badRequestResponse(w, r, err)
		return
	}

	room := brackets.RoomForTournament(tournamentID)
	client := &brackets.Client{
		Hub:  h.hub,
		Send: make(chan []byte, 256),
		Room: room,
	}
	// join before reading so no commit between the read and the join goes unseen
	if !h.hub.Join(client) {
		errorResponse(w, r, http.StatusServiceUnavailable, "server is shutting down")
		return
	}

	snapshot, err := h.bracketService.GetBracket(r.Context(), tournamentID)
	if err != nil {
		h.hub.Leave(client)
		mapServiceErrorToHTTP(w, r, err)
		return
	}
	first, err := json.Marshal(brackets.WebSocketMessage{Type: brackets.EventBracketSnapshot, Payload: snapshot, RoomID: room})
	if err != nil {
		h.hub.Leave(client)
		serverErrorResponse(w, r, err)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error
		h.hub.Leave(client)
		h.logger.Warn("websocket upgrade failed", slog.Int("tournament_id", tournamentID), slog.Any("error", err))
		return
	}
	client.Conn = conn
	if !client.Prepend(first) {
		conn.Close()
		return
	}

	go client.WritePump()
	go client.ReadPump()

	h.logger.Debug("websocket client connected", slog.String("room", room))
}
