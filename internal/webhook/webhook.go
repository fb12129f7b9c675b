// Package webhook implements WebhookFront (spec §4.1) and the Control
// API (spec §6), built on net/http + http.ServeMux following the
// teacher's http_server.go pattern (no web framework).
package webhook

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/cortexflow/cortex/internal/dispatcher"
	"github.com/cortexflow/cortex/internal/shaper"
)

// syncPayload mirrors the provider sync webhook body of spec §6 exactly.
type syncPayload struct {
	Type              string          `json:"type"`
	ConnectionID      string          `json:"connectionId"`
	ProviderConfigKey string          `json:"providerConfigKey"`
	Model             string          `json:"model"`
	SyncName          string          `json:"syncName"`
	ResponseResults   responseResults `json:"responseResults"`
}

type responseResults struct {
	Added   []shaper.Record `json:"added"`
	Updated []shaper.Record `json:"updated"`
	Deleted []shaper.Record `json:"deleted"`
}

func (p syncPayload) valid() bool {
	return p.ConnectionID != "" && p.Model != ""
}

// Metrics receives WebhookFront observability signals (ambient stack:
// webhook accept latency histogram).
type Metrics interface {
	WebhookAccepted(status int, duration time.Duration)
}

type noopMetrics struct{}

func (noopMetrics) WebhookAccepted(int, time.Duration) {}

// handleSync implements spec §4.1 exactly: shape validation, type/202
// short-circuit, connectionId resolution, enqueue, always-202-or-400.
func (h *Handler) handleSync(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	status := http.StatusAccepted
	defer func() { h.metrics.WebhookAccepted(status, time.Since(start)) }()

	var payload syncPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil || !payload.valid() {
		status = http.StatusBadRequest
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "malformed webhook payload"})
		return
	}

	if payload.Type != "" && payload.Type != "sync" {
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted", "message": "ignored non-sync event"})
		return
	}

	if _, ok := shaper.Lookup(payload.Model); !ok {
		status = http.StatusBadRequest
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unknown model/provider key"})
		return
	}

	userID, err := h.connections.ResolveUserID(r.Context(), payload.ConnectionID, payload.ProviderConfigKey)
	if err != nil {
		// spec §4.1: unknown connectionId is never a 4xx — the provider
		// may legitimately retry a webhook for a connection this
		// deployment doesn't recognize (yet, or anymore).
		h.logger.Warn("webhook: unresolved connection", "connection_id", payload.ConnectionID, "provider", payload.ProviderConfigKey, "error", err)
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted", "message": "connection not recognized"})
		return
	}

	raw, _ := json.Marshal(payload)
	task := dispatcher.ShaperTask{
		UserID: userID,
		Batch: shaper.Batch{
			ProviderKey: payload.Model,
			Added:       payload.ResponseResults.Added,
			Updated:     payload.ResponseResults.Updated,
			Deleted:     payload.ResponseResults.Deleted,
			Raw:         raw,
		},
	}
	if !h.dispatcher.EnqueueWebhook(r.Context(), task) {
		h.logger.Warn("webhook: task dropped under backpressure", "user_id", userID, "model", payload.Model)
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted", "message": "queued for processing"})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
