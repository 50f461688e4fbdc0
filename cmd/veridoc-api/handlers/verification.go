package handlers

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/veridoc-ai/veridoc/internal/observability"
	"github.com/veridoc-ai/veridoc/internal/orchestrator"
	"github.com/veridoc-ai/veridoc/internal/storage"
)

// VerificationHandler serves group verification results.
type VerificationHandler struct {
	logger   *observability.Logger
	pipeline *orchestrator.Pipeline
}

// NewVerificationHandler creates a new verification handler.
func NewVerificationHandler(logger *observability.Logger, pipeline *orchestrator.Pipeline) *VerificationHandler {
	return &VerificationHandler{logger: logger, pipeline: pipeline}
}

// Group handles GET /v1/owners/{ownerId}/verification. It never blocks
// on in-flight processing; documents still working show their current
// stage with an inconclusive group verdict.
func (h *VerificationHandler) Group(w http.ResponseWriter, r *http.Request) {
	ownerID, err := uuid.Parse(chi.URLParam(r, "ownerId"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid ownerId", err.Error())
		return
	}

	group, err := h.pipeline.Group(r.Context(), ownerID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "no documents for owner", ownerID.String())
			return
		}
		h.logger.Error().Err(err).Msg("load group status")
		writeError(w, http.StatusInternalServerError, "failed to load verification", "")
		return
	}
	writeJSON(w, http.StatusOK, group)
}
