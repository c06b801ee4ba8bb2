package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"streamvault/internal/queue"
	"streamvault/internal/storage"
)

// Jobs serves GET /api/jobs with optional status filter and pagination.
func (h *Handler) Jobs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
		return
	}
	page, limit := parsePagination(r.URL.Query())
	jobs, total, err := h.Store.ListJobs(r.Context(), storage.ListJobsParams{
		Status: strings.TrimSpace(r.URL.Query().Get("status")),
		Page:   page,
		Limit:  limit,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse{Items: jobs, Total: total, Page: page, Limit: limit})
}

// JobByID routes GET /api/jobs/{id} and POST /api/jobs/{id}/retry.
func (h *Handler) JobByID(w http.ResponseWriter, r *http.Request) {
	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/jobs/"), "/")
	if rest == "" {
		http.NotFound(w, r)
		return
	}
	parts := strings.Split(rest, "/")
	switch {
	case len(parts) == 1:
		h.getJob(w, r, parts[0])
	case len(parts) == 2 && parts[1] == "retry":
		h.retryJob(w, r, parts[0])
	default:
		http.NotFound(w, r)
	}
}

func (h *Handler) getJob(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
		return
	}
	job, err := h.Store.GetJob(r.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrJobNotFound) {
			writeError(w, http.StatusNotFound, errors.New("job not found"))
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// retryJob resets a failed job to pending under the same ID and re-enqueues
// it with the video's current source path.
func (h *Handler) retryJob(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
		return
	}
	job, err := h.Store.ResetJobForRetry(r.Context(), id)
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrJobNotFound):
			writeError(w, http.StatusNotFound, errors.New("job not found"))
		case errors.Is(err, storage.ErrJobNotRetryable):
			writeError(w, http.StatusConflict, errors.New("only finished jobs can be retried"))
		default:
			writeError(w, http.StatusInternalServerError, err)
		}
		return
	}

	video, err := h.Store.GetVideo(r.Context(), job.VideoID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Errorf("load video for retry: %w", err))
		return
	}
	msg := queue.Message{
		JobID:      job.ID,
		VideoID:    video.ID,
		SourcePath: video.SourcePath,
		BaseURL:    h.BaseURL,
	}
	if err := h.Queue.Enqueue(r.Context(), msg); err != nil {
		h.logger().Error("retry enqueue failed, job left pending", "job_id", job.ID, "error", err)
		writeJSON(w, http.StatusBadGateway, map[string]interface{}{
			"error": "transcoding queue unavailable, job left pending",
			"job":   job,
		})
		return
	}
	h.metrics().ObserveQueueEvent("enqueued")
	h.logger().Info("job re-enqueued", "job_id", job.ID, "video_id", video.ID)
	writeJSON(w, http.StatusAccepted, job)
}

// QueueStats merges broker depth with the store's job counts.
func (h *Handler) QueueStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
		return
	}
	stats, err := h.Queue.Stats(r.Context())
	if err != nil {
		writeError(w, http.StatusBadGateway, fmt.Errorf("queue stats: %w", err))
		return
	}
	counts, err := h.Store.JobCounts(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"queue": stats,
		"jobs":  counts,
	})
}
