package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/bnema/tikrec/config"
	"github.com/bnema/tikrec/internal/domain"
	"github.com/bnema/tikrec/internal/infrastructure/logger"
	"github.com/bnema/tikrec/internal/service"
	"github.com/bnema/tikrec/internal/validation"
)

const maxBodyBytes = 64 << 10

type Handlers struct {
	engine    Engine
	settings  Settings
	artifacts ArtifactOpener
	version   string
}

func NewHandlers(engine Engine, settings Settings, artifacts ArtifactOpener, version string) *Handlers {
	return &Handlers{
		engine:    engine,
		settings:  settings,
		artifacts: artifacts,
		version:   version,
	}
}

type submitRequest struct {
	URL      string          `json:"url"`
	Duration *int            `json:"duration,omitempty"`
	Quality  *domain.Quality `json:"quality,omitempty"`
}

type submitResponse struct {
	ID string `json:"id"`
}

type errorResponse struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}

type healthResponse struct {
	Status    string `json:"status"`
	Recording bool   `json:"recording"`
	Version   string `json:"version"`
}

func (h *Handlers) Health() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, healthResponse{
			Status:    "ok",
			Recording: h.engine.IsRecording(),
			Version:   h.version,
		})
	}
}

// Submit fills an omitted duration or quality from the current settings.
func (h *Handlers) Submit() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req submitRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeDecodeError(w, err)
			return
		}

		defaults := h.settings.Get()
		duration := defaults.DefaultDuration
		if req.Duration != nil {
			duration = *req.Duration
		}
		quality := defaults.DefaultQuality
		if req.Quality != nil {
			quality = *req.Quality
		}

		id, err := h.engine.Submit(strings.TrimSpace(req.URL), duration, quality)
		if err != nil {
			writeError(w, err)
			return
		}

		w.Header().Set("Location", "/api/jobs/"+id)
		writeJSON(w, http.StatusCreated, submitResponse{ID: id})
	}
}

func (h *Handlers) List() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, h.engine.ListJobs())
	}
}

func (h *Handlers) Get() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		job, err := h.engine.Get(r.PathValue("id"))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, job)
	}
}

func (h *Handlers) Cancel() http.HandlerFunc {
	return h.accepted(h.engine.Cancel)
}

func (h *Handlers) Retry() http.HandlerFunc {
	return h.accepted(h.engine.Retry)
}

// accepted answers 202 with the job as it stands right after op.
func (h *Handlers) accepted(op func(id string) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		if err := op(id); err != nil {
			writeError(w, err)
			return
		}
		job, err := h.engine.Get(id)
		if err != nil {
			w.WriteHeader(http.StatusAccepted)
			return
		}
		writeJSON(w, http.StatusAccepted, job)
	}
}

func (h *Handlers) Delete() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		if err := h.engine.Delete(r.Context(), id); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// Artifact streams a completed job's recording. Range requests are honoured.
func (h *Handlers) Artifact() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		job, err := h.engine.Get(id)
		if err != nil {
			writeError(w, err)
			return
		}
		if job.State != domain.JobStateCompleted || job.Artifact == nil {
			writeError(w, fmt.Errorf("%w: job %s has no recording", domain.ErrInvalidState, id))
			return
		}

		f, err := h.artifacts.Open(r.Context(), job.Artifact.Filename)
		if errors.Is(err, os.ErrNotExist) {
			writeError(w, fmt.Errorf("%w: recording for job %s is gone", domain.ErrNotFound, id))
			return
		}
		if err != nil {
			writeError(w, err)
			return
		}
		defer f.Close()

		info, err := f.Stat()
		if err != nil {
			writeError(w, err)
			return
		}

		inline := r.URL.Query().Get("inline") == "1"
		w.Header().Set("Content-Type", "video/mp4")
		w.Header().Set("Content-Disposition", validation.ContentDisposition(job.Artifact.Filename, inline))
		http.ServeContent(w, r, "", info.ModTime(), f)
	}
}

func (h *Handlers) GetConfig() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, h.settings.Get())
	}
}

// PutConfig replaces the whole settings object. Running jobs keep going
// under the old limits.
func (h *Handlers) PutConfig() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, err := config.DecodeSettings(http.MaxBytesReader(w, r.Body, maxBodyBytes))
		if err != nil {
			writeError(w, err)
			return
		}
		if err := h.settings.Replace(s, h.engine.SetConfig); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, h.settings.Get())
	}
}

func (h *Handlers) Usage() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, h.engine.Usage())
	}
}

var errTrailingData = errors.New("request body must hold a single JSON object")

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is empty")
		}
		return fmt.Errorf("decode request: %w", err)
	}
	if dec.More() {
		return errTrailingData
	}
	return nil
}

func writeDecodeError(w http.ResponseWriter, err error) {
	status := http.StatusBadRequest
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		status = http.StatusRequestEntityTooLarge
	}
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error.Printf("encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	resp := errorResponse{Error: err.Error()}

	var verr *domain.ValidationError
	if errors.As(err, &verr) {
		resp.Field = verr.Field
	}
	if status >= http.StatusInternalServerError {
		logger.Error.Printf("request failed: %v", err)
	}
	writeJSON(w, status, resp)
}

func statusFor(err error) int {
	var verr *domain.ValidationError
	var maxErr *http.MaxBytesError
	switch {
	case errors.As(err, &maxErr):
		return http.StatusRequestEntityTooLarge
	case errors.As(err, &verr), errors.Is(err, domain.ErrInvalidConfig):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidState):
		return http.StatusConflict
	case errors.Is(err, service.ErrEngineClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
