package webhook

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/cortexflow/cortex/internal/errs"
	"github.com/cortexflow/cortex/internal/store"
	"github.com/cortexflow/cortex/pkg/models"
	"github.com/google/uuid"
)

// createUnitRequest mirrors spec §6's POST /units body.
type createUnitRequest struct {
	Name   string `json:"name"`
	Prompt string `json:"prompt"`
}

// handleCreateUnit implements spec §6's `POST /units`. A Compiler
// ClarificationNeeded result is not an error: it is reported as a 200
// so the UI can re-prompt the user without treating it as a failure.
func (h *Handler) handleCreateUnit(w http.ResponseWriter, r *http.Request, userID string) {
	var req createUnitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Prompt == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "prompt is required"})
		return
	}

	unit, clarification, err := h.compiler.Compile(r.Context(), userID, req.Prompt)
	if err != nil {
		writeJSON(w, statusForErr(err), map[string]string{"error": err.Error()})
		return
	}
	if clarification != nil {
		writeJSON(w, http.StatusOK, map[string]any{"clarification": clarification})
		return
	}

	unit.ID = uuid.NewString()
	if req.Name != "" {
		unit.Name = req.Name
	}
	unit.Status = models.UnitStatusActive
	if err := h.units.SaveUnit(r.Context(), unit); err != nil {
		writeJSON(w, statusForErr(err), map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"unit": unit})
}

// handleListUnits implements spec §6's `GET /units`.
func (h *Handler) handleListUnits(w http.ResponseWriter, r *http.Request, userID string) {
	units, err := h.units.ListUnits(r.Context(), userID)
	if err != nil {
		writeJSON(w, statusForErr(err), map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"units": units})
}

type setUnitStatusRequest struct {
	Status models.UnitStatus `json:"status"`
}

// handleSetUnitStatus implements spec §6's `PATCH /units/:id/status`.
func (h *Handler) handleSetUnitStatus(w http.ResponseWriter, r *http.Request, userID string) {
	id := r.PathValue("id")
	var req setUnitStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "malformed request body"})
		return
	}
	switch req.Status {
	case models.UnitStatusActive, models.UnitStatusPaused, models.UnitStatusDisabled:
	default:
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unknown status"})
		return
	}

	unit, err := h.authorizedUnit(r, userID, id)
	if err != nil {
		writeJSON(w, statusForErr(err), map[string]string{"error": err.Error()})
		return
	}
	if err := h.units.SetUnitStatus(r.Context(), id, req.Status); err != nil {
		writeJSON(w, statusForErr(err), map[string]string{"error": err.Error()})
		return
	}
	unit.Status = req.Status
	writeJSON(w, http.StatusOK, map[string]any{"unit": unit})
}

// handleDeleteUnit implements spec §6's `DELETE /units/:id`.
func (h *Handler) handleDeleteUnit(w http.ResponseWriter, r *http.Request, userID string) {
	id := r.PathValue("id")
	if _, err := h.authorizedUnit(r, userID, id); err != nil {
		writeJSON(w, statusForErr(err), map[string]string{"error": err.Error()})
		return
	}
	if err := h.units.DeleteUnit(r.Context(), id); err != nil {
		writeJSON(w, statusForErr(err), map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// authorizedUnit loads a Unit and rejects cross-user access as not
// found, never leaking another user's Unit's existence.
func (h *Handler) authorizedUnit(r *http.Request, userID, id string) (*models.Unit, error) {
	unit, err := h.units.GetUnit(r.Context(), id)
	if err != nil {
		return nil, err
	}
	if unit.UserID != userID {
		return nil, store.ErrNotFound
	}
	return unit, nil
}

// handleListRuns implements spec §6's `GET /runs?limit=N`.
func (h *Handler) handleListRuns(w http.ResponseWriter, r *http.Request, userID string) {
	limit := 50
	if q := r.URL.Query().Get("limit"); q != "" {
		if n, err := strconv.Atoi(q); err == nil && n > 0 {
			limit = n
		}
	}
	runs, err := h.runs.ListRuns(r.Context(), userID, limit)
	if err != nil {
		writeJSON(w, statusForErr(err), map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

// handleListSteps implements spec §6's `GET /runs/:id/steps`.
func (h *Handler) handleListSteps(w http.ResponseWriter, r *http.Request, userID string) {
	id := r.PathValue("id")
	if _, err := h.authorizedRun(r, userID, id); err != nil {
		writeJSON(w, statusForErr(err), map[string]string{"error": err.Error()})
		return
	}
	steps, err := h.runs.ListSteps(r.Context(), id)
	if err != nil {
		writeJSON(w, statusForErr(err), map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"steps": steps})
}

// handleRerun implements spec §6's `POST /runs/:id/rerun`. Per spec
// §4.5, Runtime never retries a crashed Run itself; this creates a new
// Run against the same eventId instead of mutating the original.
func (h *Handler) handleRerun(w http.ResponseWriter, r *http.Request, userID string) {
	id := r.PathValue("id")
	original, err := h.authorizedRun(r, userID, id)
	if err != nil {
		writeJSON(w, statusForErr(err), map[string]string{"error": err.Error()})
		return
	}

	retry := &models.Run{
		ID:         uuid.NewString(),
		UnitID:     original.UnitID,
		UserID:     original.UserID,
		EventID:    original.EventID,
		Status:     models.RunStatusPending,
		RetryOfRun: original.ID,
	}
	outcome, err := h.runs.CreateRun(r.Context(), retry)
	if err != nil {
		writeJSON(w, statusForErr(err), map[string]string{"error": err.Error()})
		return
	}
	if outcome == store.OutcomeDuplicate {
		writeJSON(w, http.StatusConflict, map[string]string{"error": "rerun already in progress"})
		return
	}
	if !h.dispatcher.EnqueueRun(r.Context(), retry) {
		h.logger.Warn("control: rerun dropped under backpressure", "run_id", retry.ID)
	}
	writeJSON(w, http.StatusCreated, map[string]any{"run": retry})
}

func (h *Handler) authorizedRun(r *http.Request, userID, id string) (*models.Run, error) {
	run, err := h.runs.GetRun(r.Context(), id)
	if err != nil {
		return nil, err
	}
	if run.UserID != userID {
		return nil, store.ErrNotFound
	}
	return run, nil
}

type saveConnectionRequest struct {
	Provider     string `json:"provider"`
	ConnectionID string `json:"connection_id"`
}

// handleListConnections implements spec §6's `GET /connections`.
func (h *Handler) handleListConnections(w http.ResponseWriter, r *http.Request, userID string) {
	conns, err := h.connections.List(r.Context(), userID)
	if err != nil {
		writeJSON(w, statusForErr(err), map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"connections": conns})
}

// handleSaveConnection implements spec §6's `POST /connections`.
func (h *Handler) handleSaveConnection(w http.ResponseWriter, r *http.Request, userID string) {
	var req saveConnectionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Provider == "" || req.ConnectionID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "provider and connection_id are required"})
		return
	}
	conn := &models.Connection{
		ID:                 uuid.NewString(),
		UserID:             userID,
		Provider:           req.Provider,
		ExternalConnection: req.ConnectionID,
		Enabled:            true,
	}
	if err := h.connections.Save(r.Context(), conn); err != nil {
		writeJSON(w, statusForErr(err), map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"connection": conn})
}

// handleDeleteConnection implements spec §6's `DELETE /connections/:provider`.
func (h *Handler) handleDeleteConnection(w http.ResponseWriter, r *http.Request, userID string) {
	provider := r.PathValue("provider")
	if err := h.connections.Delete(r.Context(), userID, provider); err != nil {
		writeJSON(w, statusForErr(err), map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// statusForErr maps an errs.Kind to the Control API's HTTP status, per
// the teacher's http_server.go error-to-status convention. Store's bare
// ErrNotFound sentinel (not always wrapped in *errs.Error) is checked
// explicitly so a missing row still reads as 404, not 500.
func statusForErr(err error) int {
	if errors.Is(err, store.ErrNotFound) {
		return http.StatusNotFound
	}
	switch errs.KindOf(err) {
	case errs.KindValidation:
		return http.StatusBadRequest
	case errs.KindResourceMissing:
		return http.StatusNotFound
	case errs.KindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
