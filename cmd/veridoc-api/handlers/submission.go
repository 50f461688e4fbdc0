// Package handlers provides HTTP handlers for the veridoc API.
package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/veridoc-ai/veridoc/internal/observability"
	"github.com/veridoc-ai/veridoc/internal/orchestrator"
	"github.com/veridoc-ai/veridoc/internal/storage"
)

// SubmissionConfig holds upload handling settings.
type SubmissionConfig struct {
	StorageDir     string
	MaxUploadBytes int64
}

// SubmissionHandler handles document submission and status requests.
type SubmissionHandler struct {
	logger   *observability.Logger
	pipeline *orchestrator.Pipeline
	cfg      SubmissionConfig
}

// NewSubmissionHandler creates a new submission handler.
func NewSubmissionHandler(logger *observability.Logger, pipeline *orchestrator.Pipeline, cfg SubmissionConfig) *SubmissionHandler {
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 25 << 20
	}
	return &SubmissionHandler{logger: logger, pipeline: pipeline, cfg: cfg}
}

// SubmissionDTO is the API response for an accepted document.
type SubmissionDTO struct {
	SubmissionID string `json:"submissionId"`
	OwnerID      string `json:"ownerId"`
	Kind         string `json:"kind"`
	Stage        string `json:"stage"`
}

// Submit handles POST /v1/owners/{ownerId}/documents. The document
// arrives as a multipart upload with kind and capture form fields.
func (h *SubmissionHandler) Submit(w http.ResponseWriter, r *http.Request) {
	ownerID, err := uuid.Parse(chi.URLParam(r, "ownerId"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid ownerId", err.Error())
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.cfg.MaxUploadBytes)
	if err := r.ParseMultipartForm(h.cfg.MaxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart body", err.Error())
		return
	}

	kind := storage.DocumentKind(r.FormValue("kind"))
	switch kind {
	case storage.KindIdentity, storage.KindPrimaryEducation, storage.KindSecondaryEducation, storage.KindOther:
	default:
		writeError(w, http.StatusBadRequest, "invalid kind", string(kind))
		return
	}

	capture := storage.CaptureMethod(r.FormValue("capture"))
	if capture == "" {
		capture = storage.CaptureFile
	}
	if capture != storage.CaptureFile && capture != storage.CaptureCamera {
		writeError(w, http.StatusBadRequest, "invalid capture", string(capture))
		return
	}

	file, header, err := r.FormFile("document")
	if err != nil {
		writeError(w, http.StatusBadRequest, "document file is required", err.Error())
		return
	}
	defer file.Close()

	format := formatFor(header.Filename, header.Header.Get("Content-Type"))
	if format == "" {
		writeError(w, http.StatusUnsupportedMediaType, "unsupported document format", header.Filename)
		return
	}

	fileRef, err := h.saveUpload(file, header.Filename)
	if err != nil {
		h.logger.Error().Err(err).Msg("store upload")
		writeError(w, http.StatusInternalServerError, "failed to store document", "")
		return
	}

	sub := &storage.DocumentSubmission{
		OwnerID: ownerID,
		Kind:    kind,
		Format:  format,
		Capture: capture,
		FileRef: fileRef,
	}
	job, err := h.pipeline.Submit(r.Context(), sub)
	if err != nil {
		h.logger.Error().Err(err).Msg("submit document")
		writeError(w, http.StatusInternalServerError, "failed to queue document", "")
		return
	}

	writeJSON(w, http.StatusAccepted, SubmissionDTO{
		SubmissionID: sub.ID.String(),
		OwnerID:      ownerID.String(),
		Kind:         string(kind),
		Stage:        string(job.Stage),
	})
}

// Status handles GET /v1/documents/{submissionId}/status.
func (h *SubmissionHandler) Status(w http.ResponseWriter, r *http.Request) {
	submissionID, err := uuid.Parse(chi.URLParam(r, "submissionId"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid submissionId", err.Error())
		return
	}

	status, err := h.pipeline.Status(r.Context(), submissionID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "submission not found", submissionID.String())
			return
		}
		h.logger.Error().Err(err).Msg("load status")
		writeError(w, http.StatusInternalServerError, "failed to load status", "")
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// Cancel handles POST /v1/documents/{submissionId}/cancel.
func (h *SubmissionHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	submissionID, err := uuid.Parse(chi.URLParam(r, "submissionId"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid submissionId", err.Error())
		return
	}

	if !h.pipeline.Cancel(submissionID) {
		writeError(w, http.StatusConflict, "submission is not in flight", submissionID.String())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"submissionId": submissionID.String(), "status": "canceling"})
}

func (h *SubmissionHandler) saveUpload(src io.Reader, original string) (string, error) {
	name := uuid.New().String() + strings.ToLower(filepath.Ext(original))
	dst, err := os.Create(filepath.Join(h.cfg.StorageDir, name))
	if err != nil {
		return "", err
	}
	defer dst.Close()
	if _, err := io.Copy(dst, src); err != nil {
		os.Remove(dst.Name())
		return "", err
	}
	return name, nil
}

func formatFor(filename, contentType string) storage.DocumentFormat {
	ext := strings.ToLower(filepath.Ext(filename))
	switch {
	case ext == ".pdf" || contentType == "application/pdf":
		return storage.FormatPDF
	case ext == ".png" || ext == ".jpg" || ext == ".jpeg" || strings.HasPrefix(contentType, "image/"):
		return storage.FormatImage
	default:
		return ""
	}
}

type errorResponse struct {
	Error  string `json:"error"`
	Detail string `json:"detail,omitempty"`
}

func writeError(w http.ResponseWriter, status int, msg, detail string) {
	writeJSON(w, status, errorResponse{Error: msg, Detail: detail})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "encode response: %v\n", err)
	}
}
