package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

// Handlers holds HTTP handler dependencies.
type Handlers struct {
	provider SnapshotProvider
	logger   *slog.Logger
}

// NewHandlers builds a Handlers bound to provider.
func NewHandlers(provider SnapshotProvider, logger *slog.Logger) *Handlers {
	return &Handlers{provider: provider, logger: logger.With("component", "api-handlers")}
}

// HandleHealth is a liveness probe; it does not touch the exchange.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// HandleSnapshot returns the current dashboard state.
func (h *Handlers) HandleSnapshot(w http.ResponseWriter, r *http.Request) {
	snap := BuildSnapshot(r.Context(), h.provider, h.logger)

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(snap); err != nil {
		h.logger.Error("failed to encode snapshot", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}
