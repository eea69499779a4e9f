package server

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/smarthubsync/smarthubsync/pkg/coordinator"
	"github.com/smarthubsync/smarthubsync/pkg/log"
	"github.com/smarthubsync/smarthubsync/pkg/types"
)

type updateResponse struct {
	Status  string              `json:"status"`
	Error   string              `json:"error,omitempty"`
	Sensors []types.SensorState `json:"sensors"`
}

// handleUpdate forces an update cycle. A failed cycle answers 500 so that an
// external scheduler retries it.
func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	log.Ctx(ctx).DebugContext(ctx, "update: starting forced cycle")
	states, err := s.updater.Update(ctx)
	if states == nil {
		states = []types.SensorState{}
	}
	if err != nil {
		msg := "update failed"
		if !errors.Is(err, coordinator.ErrUpdateFailed) {
			msg = err.Error()
		}
		log.Ctx(ctx).ErrorContext(ctx, "update: cycle failed", slog.Any("error", err))
		writeJSON(w, http.StatusInternalServerError, updateResponse{
			Status:  "failed",
			Error:   msg,
			Sensors: states,
		})
		return
	}

	log.Ctx(ctx).DebugContext(ctx, "update: cycle finished", slog.Int("sensors", len(states)))
	writeJSON(w, http.StatusOK, updateResponse{
		Status:  "ok",
		Sensors: states,
	})
}

// handleRefreshAuthentication replaces the SmartHub token without running a
// cycle.
func (s *Server) handleRefreshAuthentication(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if err := s.updater.RefreshAuthentication(ctx); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to refresh authentication", slog.Any("error", err))
		writeJSONError(w, "failed to refresh authentication", http.StatusBadGateway)
		return
	}
	log.Ctx(ctx).InfoContext(ctx, "authentication refreshed")
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
