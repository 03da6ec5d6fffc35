package api

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/hlog"

	"github.com/sushil32/Neura/internal/jobs"
	"github.com/sushil32/Neura/internal/storage"
)

type JobsHandler struct {
	pool      *jobs.WorkerPool
	store     jobs.Store
	artifacts storage.ArtifactStore
}

func NewJobsHandler(pool *jobs.WorkerPool, store jobs.Store, artifacts storage.ArtifactStore) *JobsHandler {
	return &JobsHandler{pool: pool, store: store, artifacts: artifacts}
}

// Submit accepts a rendering job and queues it.
func (h *JobsHandler) Submit(w http.ResponseWriter, r *http.Request) {
	var req jobs.Request
	if err := DecodeJSON(r, &req); err != nil {
		WriteErrorDetail(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	job, err := h.pool.Submit(r.Context(), req)
	if err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	hlog.FromRequest(r).Info().Str("job_id", job.ID).Msg("job submitted")
	WriteJSON(w, http.StatusAccepted, job)
}

// Get returns one job by ID.
func (h *JobsHandler) Get(w http.ResponseWriter, r *http.Request) {
	job, err := h.store.Get(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, jobs.ErrNotFound) {
		WriteError(w, http.StatusNotFound, "job not found")
		return
	}
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "lookup failed")
		return
	}
	WriteJSON(w, http.StatusOK, job)
}

// List returns jobs in a lifecycle status, oldest first.
func (h *JobsHandler) List(w http.ResponseWriter, r *http.Request) {
	status := jobs.StatusPending
	if v, ok := QueryString(r, "status"); ok {
		status = jobs.Status(v)
		switch status {
		case jobs.StatusPending, jobs.StatusProcessing, jobs.StatusCompleted, jobs.StatusFailed, jobs.StatusCancelled:
		default:
			WriteError(w, http.StatusBadRequest, "unknown status "+v)
			return
		}
	}
	limit := 50
	if n, ok := QueryInt(r, "limit"); ok && n > 0 {
		limit = n
	}

	list, err := h.store.ListByStatus(r.Context(), status, limit)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "list failed")
		return
	}
	if list == nil {
		list = []*jobs.Job{}
	}
	WriteJSON(w, http.StatusOK, map[string]any{"jobs": list, "count": len(list)})
}

// Cancel stops a pending or running job.
func (h *JobsHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	err := h.pool.Cancel(r.Context(), id)
	switch {
	case errors.Is(err, jobs.ErrNotFound):
		WriteError(w, http.StatusNotFound, "job not found")
	case err != nil && strings.Contains(err.Error(), "already"):
		WriteError(w, http.StatusConflict, err.Error())
	case err != nil:
		WriteError(w, http.StatusInternalServerError, err.Error())
	default:
		WriteJSON(w, http.StatusAccepted, map[string]string{"id": id, "status": "cancelling"})
	}
}

// Artifact serves a completed job's output video, preferring a presigned
// URL, then the local copy.
func (h *JobsHandler) Artifact(w http.ResponseWriter, r *http.Request) {
	job, err := h.store.Get(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, jobs.ErrNotFound) {
		WriteError(w, http.StatusNotFound, "job not found")
		return
	}
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "lookup failed")
		return
	}
	if job.ArtifactKey == "" {
		WriteError(w, http.StatusNotFound, "no artifact for job")
		return
	}

	if url, err := h.artifacts.URL(r.Context(), job.ArtifactKey); err == nil && url != "" {
		http.Redirect(w, r, url, http.StatusFound)
		return
	}
	if p := h.artifacts.LocalPath(job.ArtifactKey); p != "" {
		w.Header().Set("Content-Type", "video/mp4")
		http.ServeFile(w, r, p)
		return
	}

	rc, err := h.artifacts.Open(r.Context(), job.ArtifactKey)
	if err != nil {
		WriteError(w, http.StatusNotFound, "artifact unavailable")
		return
	}
	defer rc.Close()
	w.Header().Set("Content-Type", "video/mp4")
	io.Copy(w, rc)
}

// Stats reports worker queue counters.
func (h *JobsHandler) Stats(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, h.pool.Stats())
}

// Routes registers job routes on the given router.
func (h *JobsHandler) Routes(r chi.Router) {
	r.Post("/jobs", h.Submit)
	r.Get("/jobs", h.List)
	r.Get("/jobs/{id}", h.Get)
	r.Delete("/jobs/{id}", h.Cancel)
	r.Get("/jobs/{id}/artifact", h.Artifact)
	r.Get("/queue", h.Stats)
}
