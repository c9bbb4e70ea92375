package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/Dosada05/skill-arena/middleware"
	"github.com/Dosada05/skill-arena/models"
	"github.com/Dosada05/skill-arena/services"
)

type DisputeHandler struct {
	matchService services.MatchService
}

func NewDisputeHandler(ms services.MatchService) *DisputeHandler {
	return &DisputeHandler{matchService: ms}
}

// ListHandler обрабатывает GET /disputes?status=pending&limit=N
func (h *DisputeHandler) ListHandler(w http.ResponseWriter, r *http.Request) {
	currentUserID, err := middleware.GetUserIDFromContext(r.Context())
	if err != nil {
		unauthorizedResponse(w, r, "authentication required to list disputes")
		return
	}
	if status := r.URL.Query().Get("status"); status != "" && status != string(models.DisputePending) {
		badRequestResponse(w, r, errors.New("only status=pending is supported"))
		return
	}
	limit, err := queryInt(r, "limit", 50)
	if err != nil {
		badRequestResponse(w, r, err)
		return
	}

	disputes, err := h.matchService.ListPendingDisputes(r.Context(), currentUserID, limit)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}

	if err := writeJSON(w, http.StatusOK, jsonResponse{"disputes": disputes}, nil); err != nil {
		serverErrorResponse(w, r, err)
	}
}

type resolveDisputeInput struct {
	WinnerID int    `json:"winner_id"`
	Response string `json:"response"`
}

// ResolveHandler обрабатывает POST /disputes/{disputeID}/resolve
func (h *DisputeHandler) ResolveHandler(w http.ResponseWriter, r *http.Request) {
	currentUserID, err := middleware.GetUserIDFromContext(r.Context())
	if err != nil {
		unauthorizedResponse(w, r, "authentication required to resolve a dispute")
		return
	}
	id, err := getIDFromURL(r, "disputeID")
	if err != nil {
		badRequestResponse(w, r, err)
		return
	}

	var input resolveDisputeInput
	if err := readJSON(w, r, &input); err != nil {
		badRequestResponse(w, r, err)
		return
	}
	if input.WinnerID <= 0 {
		badRequestResponse(w, r, errors.New("winner_id is required"))
		return
	}
	response := strings.TrimSpace(input.Response)
	if response == "" {
		response = "resolved by organizer"
	}

	dispute, err := h.matchService.ResolveDispute(r.Context(), id, input.WinnerID, currentUserID, response)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}

	if err := writeJSON(w, http.StatusOK, jsonResponse{"dispute": dispute}, nil); err != nil {
		serverErrorResponse(w, r, err)
	}
}
