package handlers

import (
	"errors"
	"net/http"

	"github.com/Dosada05/skill-arena/middleware"
	"github.com/Dosada05/skill-arena/services"
)

type MatchHandler struct {
	resultService services.ResultService
	matchService  services.MatchService
}

func NewMatchHandler(rs services.ResultService, ms services.MatchService) *MatchHandler {
	return &MatchHandler{resultService: rs, matchService: ms}
}

type winnerInput struct {
	WinnerID int `json:"winner_id"`
}

func (in winnerInput) validate() error {
	if in.WinnerID <= 0 {
		return errors.New("winner_id is required")
	}
	return nil
}

func (h *MatchHandler) GetByIDHandler(w http.ResponseWriter, r *http.Request) {
	id, err := getIDFromURL(r, "matchID")
	if err != nil {
		badRequestResponse(w, r, err)
		return
	}
	match, err := h.matchService.GetMatch(r.Context(), id)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}
	if err := writeJSON(w, http.StatusOK, jsonResponse{"match": match}, nil); err != nil {
		serverErrorResponse(w, r, err)
	}
}

// ReportHandler handles POST /matches/{matchID}/report.
// A dispute is a normal outcome and is answered with 200.
func (h *MatchHandler) ReportHandler(w http.ResponseWriter, r *http.Request) {
	currentUserID, err := middleware.GetUserIDFromContext(r.Context())
	if err != nil {
		unauthorizedResponse(w, r, "authentication required to report a result")
		return
	}
	id, err := getIDFromURL(r, "matchID")
	if err != nil {
		badRequestResponse(w, r, err)
		return
	}

	var input winnerInput
	if err := readJSON(w, r, &input); err != nil {
		badRequestResponse(w, r, err)
		return
	}
	if err := input.validate(); err != nil {
		badRequestResponse(w, r, err)
		return
	}

	result, err := h.resultService.ReportResult(r.Context(), id, input.WinnerID, currentUserID)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}

	if err := writeJSON(w, http.StatusOK, result, nil); err != nil {
		serverErrorResponse(w, r, err)
	}
}

// ResolveHandler handles POST /matches/{matchID}/resolve, the organizer override.
func (h *MatchHandler) ResolveHandler(w http.ResponseWriter, r *http.Request) {
	currentUserID, err := middleware.GetUserIDFromContext(r.Context())
	if err != nil {
		unauthorizedResponse(w, r, "authentication required to resolve a match")
		return
	}
	id, err := getIDFromURL(r, "matchID")
	if err != nil {
		badRequestResponse(w, r, err)
		return
	}

	var input winnerInput
	if err := readJSON(w, r, &input); err != nil {
		badRequestResponse(w, r, err)
		return
	}
	if err := input.validate(); err != nil {
		badRequestResponse(w, r, err)
		return
	}

	match, err := h.matchService.ResolveByOrganizer(r.Context(), id, input.WinnerID, currentUserID)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}

	if err := writeJSON(w, http.StatusOK, jsonResponse{"match": match}, nil); err != nil {
		serverErrorResponse(w, r, err)
	}
}
