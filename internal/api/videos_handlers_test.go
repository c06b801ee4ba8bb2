package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"streamvault/internal/models"
	"streamvault/internal/observability/metrics"
	"streamvault/internal/queue"
	"streamvault/internal/storage"
)

func newTestHandler(t *testing.T) (*Handler, *storage.Storage, queue.Queue) {
	t.Helper()
	store, err := storage.NewStorage(filepath.Join(t.TempDir(), "data.json"))
	if err != nil {
		t.Fatalf("create storage: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close(context.Background())
	})
	q := queue.NewMemoryQueue(8)
	t.Cleanup(func() {
		_ = q.Close()
	})

	handler := NewHandler(store, q, "http://localhost:8080")
	handler.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	handler.Metrics = metrics.New()
	return handler, store, q
}

type failingQueue struct {
	queue.Queue
}

func (f *failingQueue) Enqueue(ctx context.Context, msg queue.Message) error {
	return errors.New("broker unreachable")
}

func TestCreateVideoQueuesTranscodingJob(t *testing.T) {
	handler, store, q := newTestHandler(t)

	body := `{"title":"Launch Highlights","sourcePath":"/uploads/launch.mp4","fileSize":1048576}`
	req := httptest.NewRequest(http.MethodPost, "/api/videos", strings.NewReader(body))
	rec := httptest.NewRecorder()
	handler.Videos(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201: %s", rec.Code, rec.Body.String())
	}
	var resp videoCreatedResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Video.Status != models.VideoStatusProcessing {
		t.Fatalf("video status = %s, want processing", resp.Video.Status)
	}
	if resp.Video.Slug != "launch-highlights" {
		t.Fatalf("unexpected slug %s", resp.Video.Slug)
	}
	if resp.Job.Status != models.JobStatusPending || resp.Job.VideoID != resp.Video.ID {
		t.Fatalf("unexpected job %+v", resp.Job)
	}

	stats, err := q.Stats(context.Background())
	if err != nil {
		t.Fatalf("queue stats: %v", err)
	}
	if stats.Queued != 1 {
		t.Fatalf("expected 1 queued message, got %d", stats.Queued)
	}

	stored, err := store.GetJob(context.Background(), resp.Job.ID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if stored.Status != models.JobStatusPending {
		t.Fatalf("stored job status = %s, want pending", stored.Status)
	}
}

func TestCreateVideoRejectsMissingFields(t *testing.T) {
	handler, _, _ := newTestHandler(t)

	req := httptest.NewRequest(http.MethodPost, "/api/videos", strings.NewReader(`{"title":"No Source"}`))
	rec := httptest.NewRecorder()
	handler.Videos(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestCreateVideoEnqueueFailureLeavesJobPending(t *testing.T) {
	handler, store, q := newTestHandler(t)
	handler.Queue = &failingQueue{Queue: q}

	body := `{"title":"Broker Down","sourcePath":"/uploads/broker.mp4"}`
	req := httptest.NewRequest(http.MethodPost, "/api/videos", strings.NewReader(body))
	rec := httptest.NewRecorder()
	handler.Videos(rec, req)

	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502: %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Error string                `json:"error"`
		Job   models.TranscodingJob `json:"job"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Error == "" || resp.Job.ID == "" {
		t.Fatalf("expected error and job record in response, got %s", rec.Body.String())
	}

	stored, err := store.GetJob(context.Background(), resp.Job.ID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if stored.Status != models.JobStatusPending {
		t.Fatalf("job status = %s, want pending after enqueue failure", stored.Status)
	}
}

func TestVideoByIDReturnsJobsAndRenditions(t *testing.T) {
	handler, store, _ := newTestHandler(t)

	video, err := store.CreateVideo(context.Background(), storage.CreateVideoParams{
		Title:      "Deep Dive",
		SourcePath: "/uploads/deep.mp4",
		Status:     models.VideoStatusProcessing,
	})
	if err != nil {
		t.Fatalf("create video: %v", err)
	}
	job, err := store.CreateJob(context.Background(), video.ID)
	if err != nil {
		t.Fatalf("create job: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/videos/"+video.ID, nil)
	rec := httptest.NewRecorder()
	handler.VideoByID(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	var resp videoDetailResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Video.ID != video.ID {
		t.Fatalf("unexpected video %s", resp.Video.ID)
	}
	if len(resp.Jobs) != 1 || resp.Jobs[0].ID != job.ID {
		t.Fatalf("unexpected jobs %+v", resp.Jobs)
	}

	// Same record is reachable by slug.
	req = httptest.NewRequest(http.MethodGet, "/api/videos/"+video.Slug, nil)
	rec = httptest.NewRecorder()
	handler.VideoByID(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("slug lookup status = %d, want 200", rec.Code)
	}
}

func TestVideoByIDNotFound(t *testing.T) {
	handler, _, _ := newTestHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/api/videos/nope", nil)
	rec := httptest.NewRecorder()
	handler.VideoByID(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestListVideosFiltersByStatus(t *testing.T) {
	handler, store, _ := newTestHandler(t)

	for _, title := range []string{"First", "Second"} {
		if _, err := store.CreateVideo(context.Background(), storage.CreateVideoParams{
			Title:      title,
			SourcePath: "/uploads/" + strings.ToLower(title) + ".mp4",
			Status:     models.VideoStatusProcessing,
		}); err != nil {
			t.Fatalf("create video: %v", err)
		}
	}

	req := httptest.NewRequest(http.MethodGet, "/api/videos?status=processing&limit=1", nil)
	rec := httptest.NewRecorder()
	handler.Videos(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var resp struct {
		Items []models.Video `json:"items"`
		Total int            `json:"total"`
		Limit int            `json:"limit"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Total != 2 || len(resp.Items) != 1 || resp.Limit != 1 {
		t.Fatalf("unexpected page: total=%d items=%d limit=%d", resp.Total, len(resp.Items), resp.Limit)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/videos?status=ready", nil)
	rec = httptest.NewRecorder()
	handler.Videos(rec, req)
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Total != 0 {
		t.Fatalf("expected no ready videos, got %d", resp.Total)
	}
}
