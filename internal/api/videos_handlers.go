package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"streamvault/internal/models"
	"streamvault/internal/queue"
	"streamvault/internal/storage"
)

type createVideoRequest struct {
	Title      string `json:"title"`
	SourcePath string `json:"sourcePath"`
	FileSize   int64  `json:"fileSize,omitempty"`
}

type videoCreatedResponse struct {
	Video models.Video          `json:"video"`
	Job   models.TranscodingJob `json:"job"`
}

type videoDetailResponse struct {
	Video      models.Video            `json:"video"`
	Jobs       []models.TranscodingJob `json:"jobs,omitempty"`
	Renditions []models.Rendition      `json:"renditions,omitempty"`
}

// Videos handles the collection: POST creates a video plus its transcoding
// job and dispatches it, GET lists videos.
func (h *Handler) Videos(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		h.createVideo(w, r)
	case http.MethodGet:
		h.listVideos(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
	}
}

func (h *Handler) createVideo(w http.ResponseWriter, r *http.Request) {
	var req createVideoRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid payload: %w", err))
		return
	}
	if strings.TrimSpace(req.Title) == "" || strings.TrimSpace(req.SourcePath) == "" {
		writeError(w, http.StatusBadRequest, errors.New("title and sourcePath are required"))
		return
	}

	video, err := h.Store.CreateVideo(r.Context(), storage.CreateVideoParams{
		Title:      req.Title,
		SourcePath: req.SourcePath,
		FileSize:   req.FileSize,
		Status:     models.VideoStatusProcessing,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Errorf("create video: %w", err))
		return
	}
	job, err := h.Store.CreateJob(r.Context(), video.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Errorf("create job: %w", err))
		return
	}

	msg := queue.Message{
		JobID:      job.ID,
		VideoID:    video.ID,
		SourcePath: video.SourcePath,
		BaseURL:    h.BaseURL,
	}
	if err := h.Queue.Enqueue(r.Context(), msg); err != nil {
		// The records stand: the job stays pending and can be dispatched
		// later through the retry machinery.
		h.logger().Error("enqueue failed, job left pending", "job_id", job.ID, "error", err)
		writeJSON(w, http.StatusBadGateway, map[string]interface{}{
			"error": "transcoding queue unavailable, job left pending",
			"video": video,
			"job":   job,
		})
		return
	}
	h.metrics().ObserveQueueEvent("enqueued")
	h.logger().Info("video queued for transcoding", "video_id", video.ID, "job_id", job.ID)
	writeJSON(w, http.StatusCreated, videoCreatedResponse{Video: video, Job: job})
}

func (h *Handler) listVideos(w http.ResponseWriter, r *http.Request) {
	page, limit := parsePagination(r.URL.Query())
	videos, total, err := h.Store.ListVideos(r.Context(), storage.ListVideosParams{
		Status: strings.TrimSpace(r.URL.Query().Get("status")),
		Page:   page,
		Limit:  limit,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse{Items: videos, Total: total, Page: page, Limit: limit})
}

// VideoByID serves GET /api/videos/{id} with the video's jobs and renditions.
func (h *Handler) VideoByID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
		return
	}
	id := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/videos/"), "/")
	if id == "" || strings.Contains(id, "/") {
		http.NotFound(w, r)
		return
	}

	video, err := h.Store.GetVideo(r.Context(), id)
	if errors.Is(err, storage.ErrVideoNotFound) {
		// Slugs are stable across retries, so allow lookups by slug too.
		video, err = h.Store.GetVideoBySlug(r.Context(), id)
	}
	if err != nil {
		if errors.Is(err, storage.ErrVideoNotFound) {
			writeError(w, http.StatusNotFound, errors.New("video not found"))
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	jobs, err := h.Store.ListJobsForVideo(r.Context(), video.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	renditions, err := h.Store.ListRenditions(r.Context(), video.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, videoDetailResponse{Video: video, Jobs: jobs, Renditions: renditions})
}
