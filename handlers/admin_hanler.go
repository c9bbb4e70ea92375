package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/Dosada05/skill-arena/automation"
)

// CycleRunner is the part of automation.Scheduler the admin endpoint needs.
type CycleRunner interface {
	RunCycle(ctx context.Context) (*automation.CycleReport, error)
}

type AdminHandler struct {
	scheduler CycleRunner
}

func NewAdminHandler(s CycleRunner) *AdminHandler {
	return &AdminHandler{scheduler: s}
}

// RunAutomationHandler handles POST /internal/automation/run.
// Job failures are part of the report; only a cycle that could not start is an error.
func (h *AdminHandler) RunAutomationHandler(w http.ResponseWriter, r *http.Request) {
	report, err := h.scheduler.RunCycle(r.Context())
	if errors.Is(err, automation.ErrCycleRunning) {
		conflictResponse(w, r, err.Error())
		return
	}
	if err != nil {
		serverErrorResponse(w, r, err)
		return
	}

	if err := writeJSON(w, http.StatusOK, jsonResponse{"success": true, "report": report}, nil); err != nil {
		serverErrorResponse(w, r, err)
	}
}
