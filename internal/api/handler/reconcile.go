package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/kiranshivaraju/clipforge/internal/api/response"
	"github.com/kiranshivaraju/clipforge/internal/reconcile"
	"github.com/kiranshivaraju/clipforge/pkg/models"
)

// Ticker runs one reconciliation pass.
type Ticker interface {
	Tick(ctx context.Context) (models.TickSummary, error)
}

// NewReconcileHandler returns an http.HandlerFunc for POST /internal/reconcile.
func NewReconcileHandler(t Ticker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		summary, err := t.Tick(r.Context())
		if err != nil {
			if errors.Is(err, reconcile.ErrTickInProgress) {
				response.Error(w, http.StatusConflict, "TICK_IN_PROGRESS",
					"A reconciliation tick is already running", nil)
				return
			}
			slog.Error("manual reconcile tick", "error", err)
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"Reconciliation tick failed", nil)
			return
		}
		response.Plain(w, http.StatusOK, summary)
	}
}
