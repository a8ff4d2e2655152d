// fixit/controllers/health.go
package controllers

import (
	"context"
	httputils "fixit/fixit/utils/http"
	"fixit/fixit/utils/logging"
	"fixit/fixit/utils/types"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Pinger is satisfied by every usage store.
type Pinger interface {
	Ping(ctx context.Context) error
}

type HealthController struct {
	store Pinger
	now   func() time.Time
}

func NewHealthController(store Pinger) *HealthController {
	return &HealthController{store: store, now: time.Now}
}

func (h *HealthController) HealthCheck(w http.ResponseWriter, r *http.Request) {
	resp := types.HealthResponse{
		Status:    "ok",
		Timestamp: h.now().UTC().Format(time.RFC3339),
	}
	status := http.StatusOK
	if h.store != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.store.Ping(ctx); err != nil {
			logging.ErrorLogger.Error("health check: storage ping failed", zap.Error(err))
			resp.Status = "degraded"
			resp.Storage = "unavailable"
			status = http.StatusServiceUnavailable
		}
	}
	httputils.WriteJSON(w, status, resp)
}
