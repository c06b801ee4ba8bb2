package storage

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"streamvault/internal/models"
)

func newTestStorage(t *testing.T) *Storage {
	t.Helper()
	store, err := NewStorage(filepath.Join(t.TempDir(), "store.json"))
	if err != nil {
		t.Fatalf("NewStorage: %v", err)
	}
	return store
}

func createVideoAndJob(t *testing.T, store *Storage) (models.Video, models.TranscodingJob) {
	t.Helper()
	ctx := context.Background()
	video, err := store.CreateVideo(ctx, CreateVideoParams{
		Title:      "Launch Recap",
		SourcePath: "/uploads/launch.mp4",
		FileSize:   2048,
		Status:     models.VideoStatusProcessing,
	})
	if err != nil {
		t.Fatalf("CreateVideo: %v", err)
	}
	job, err := store.CreateJob(ctx, video.ID)
	if err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	return video, job
}

func TestCreateVideoGeneratesUniqueSlugs(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()

	first, err := store.CreateVideo(ctx, CreateVideoParams{Title: "My Great Video"})
	if err != nil {
		t.Fatalf("CreateVideo: %v", err)
	}
	second, err := store.CreateVideo(ctx, CreateVideoParams{Title: "My Great Video"})
	if err != nil {
		t.Fatalf("CreateVideo: %v", err)
	}

	if first.Slug != "my-great-video" {
		t.Fatalf("unexpected slug %q", first.Slug)
	}
	if second.Slug != "my-great-video-1" {
		t.Fatalf("expected suffixed slug, got %q", second.Slug)
	}

	found, err := store.GetVideoBySlug(ctx, "my-great-video-1")
	if err != nil {
		t.Fatalf("GetVideoBySlug: %v", err)
	}
	if found.ID != second.ID {
		t.Fatalf("slug lookup returned %s, want %s", found.ID, second.ID)
	}
}

func TestClaimJobTransitionsPendingOnly(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()
	video, job := createVideoAndJob(t, store)

	claimed, err := store.ClaimJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("ClaimJob: %v", err)
	}
	if claimed.Status != models.JobStatusProcessing {
		t.Fatalf("expected processing, got %s", claimed.Status)
	}
	if claimed.StartedAt == nil {
		t.Fatalf("expected StartedAt to be set")
	}

	updatedVideo, err := store.GetVideo(ctx, video.ID)
	if err != nil {
		t.Fatalf("GetVideo: %v", err)
	}
	if updatedVideo.Status != models.VideoStatusProcessing {
		t.Fatalf("expected video processing, got %s", updatedVideo.Status)
	}

	if _, err := store.ClaimJob(ctx, job.ID); !errors.Is(err, ErrJobNotClaimable) {
		t.Fatalf("second claim should fail with ErrJobNotClaimable, got %v", err)
	}
	if _, err := store.ClaimJob(ctx, "missing"); !errors.Is(err, ErrJobNotFound) {
		t.Fatalf("missing job should fail with ErrJobNotFound, got %v", err)
	}
}

func TestSetJobProgressIsMonotonic(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()
	_, job := createVideoAndJob(t, store)

	if err := store.SetJobProgress(ctx, job.ID, 50); err != nil {
		t.Fatalf("SetJobProgress: %v", err)
	}
	if err := store.SetJobProgress(ctx, job.ID, 30); err != nil {
		t.Fatalf("SetJobProgress regression: %v", err)
	}

	current, err := store.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if current.Progress != 50 {
		t.Fatalf("progress regressed to %d, want 50", current.Progress)
	}

	if err := store.SetJobProgress(ctx, job.ID, 250); err != nil {
		t.Fatalf("SetJobProgress overflow: %v", err)
	}
	current, err = store.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if current.Progress != 100 {
		t.Fatalf("progress should clamp to 100, got %d", current.Progress)
	}
}

func TestCompleteJobCouplesVideoOutcome(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()
	video, job := createVideoAndJob(t, store)

	if _, err := store.ClaimJob(ctx, job.ID); err != nil {
		t.Fatalf("ClaimJob: %v", err)
	}

	duration := 12.34
	completed, err := store.CompleteJob(ctx, job.ID, JobCompletion{
		DurationSeconds: &duration,
		HLSURL:          "http://cdn.example/hls/" + video.ID + "/master.m3u8",
		ThumbnailURL:    "http://cdn.example/thumbnails/" + video.ID + ".jpg",
	})
	if err != nil {
		t.Fatalf("CompleteJob: %v", err)
	}
	if completed.Status != models.JobStatusCompleted || completed.Progress != 100 {
		t.Fatalf("unexpected job state: %+v", completed)
	}
	if completed.CompletedAt == nil {
		t.Fatalf("expected CompletedAt to be set")
	}

	ready, err := store.GetVideo(ctx, video.ID)
	if err != nil {
		t.Fatalf("GetVideo: %v", err)
	}
	if ready.Status != models.VideoStatusReady {
		t.Fatalf("expected video ready, got %s", ready.Status)
	}
	if ready.DurationSeconds == nil || *ready.DurationSeconds != duration {
		t.Fatalf("unexpected duration %v", ready.DurationSeconds)
	}
	if ready.HLSURL == "" || ready.ThumbnailURL == "" {
		t.Fatalf("expected playback fields to be set: %+v", ready)
	}
}

func TestFailJobCouplesVideoOutcome(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()
	video, job := createVideoAndJob(t, store)

	if _, err := store.ClaimJob(ctx, job.ID); err != nil {
		t.Fatalf("ClaimJob: %v", err)
	}

	failed, err := store.FailJob(ctx, job.ID, "ffmpeg exited with code 1: boom")
	if err != nil {
		t.Fatalf("FailJob: %v", err)
	}
	if failed.Status != models.JobStatusFailed {
		t.Fatalf("expected failed, got %s", failed.Status)
	}
	if failed.ErrorMessage == "" {
		t.Fatalf("expected error message to be recorded")
	}

	broken, err := store.GetVideo(ctx, video.ID)
	if err != nil {
		t.Fatalf("GetVideo: %v", err)
	}
	if broken.Status != models.VideoStatusFailed {
		t.Fatalf("expected video failed, got %s", broken.Status)
	}
}

func TestResetJobForRetry(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()
	video, job := createVideoAndJob(t, store)

	if _, err := store.ResetJobForRetry(ctx, job.ID); !errors.Is(err, ErrJobNotRetryable) {
		t.Fatalf("retry of pending job should fail with ErrJobNotRetryable, got %v", err)
	}

	if _, err := store.ClaimJob(ctx, job.ID); err != nil {
		t.Fatalf("ClaimJob: %v", err)
	}
	if err := store.SetJobProgress(ctx, job.ID, 50); err != nil {
		t.Fatalf("SetJobProgress: %v", err)
	}
	if _, err := store.AppendRendition(ctx, AppendRenditionParams{
		VideoID: video.ID,
		Profile: "360p",
		Width:   640,
		Height:  360,
		Bitrate: 800000,
		Codec:   "h264",
		URL:     "http://cdn.example.com/hls/" + video.ID + "/360p/index.m3u8",
	}); err != nil {
		t.Fatalf("AppendRendition: %v", err)
	}
	if _, err := store.FailJob(ctx, job.ID, "encode blew up"); err != nil {
		t.Fatalf("FailJob: %v", err)
	}

	reset, err := store.ResetJobForRetry(ctx, job.ID)
	if err != nil {
		t.Fatalf("ResetJobForRetry: %v", err)
	}
	if reset.ID != job.ID {
		t.Fatalf("retry must keep the job ID: got %s want %s", reset.ID, job.ID)
	}
	if reset.Status != models.JobStatusPending || reset.Progress != 0 {
		t.Fatalf("unexpected reset state: %+v", reset)
	}
	if reset.ErrorMessage != "" || reset.StartedAt != nil || reset.CompletedAt != nil {
		t.Fatalf("retry should clear error and timestamps: %+v", reset)
	}

	renditions, err := store.ListRenditions(ctx, video.ID)
	if err != nil {
		t.Fatalf("ListRenditions: %v", err)
	}
	if len(renditions) != 0 {
		t.Fatalf("expected renditions cleared, got %d", len(renditions))
	}

	retried, err := store.GetVideo(ctx, video.ID)
	if err != nil {
		t.Fatalf("GetVideo: %v", err)
	}
	if retried.Status != models.VideoStatusProcessing {
		t.Fatalf("expected video back to processing, got %s", retried.Status)
	}
}

func TestResetJobForRetryAcceptsCompletedJob(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()
	video, job := createVideoAndJob(t, store)

	if _, err := store.ClaimJob(ctx, job.ID); err != nil {
		t.Fatalf("ClaimJob: %v", err)
	}
	duration := 61.0
	if _, err := store.CompleteJob(ctx, job.ID, JobCompletion{
		DurationSeconds: &duration,
		HLSURL:          "http://cdn.example.com/hls/" + video.ID + "/master.m3u8",
		ThumbnailURL:    "http://cdn.example.com/thumbnails/" + video.ID + ".jpg",
	}); err != nil {
		t.Fatalf("CompleteJob: %v", err)
	}

	reset, err := store.ResetJobForRetry(ctx, job.ID)
	if err != nil {
		t.Fatalf("ResetJobForRetry: %v", err)
	}
	if reset.Status != models.JobStatusPending || reset.Progress != 0 {
		t.Fatalf("unexpected reset state: %+v", reset)
	}
	if reset.CompletedAt != nil {
		t.Fatalf("retry should clear completedAt: %+v", reset)
	}

	retried, err := store.GetVideo(ctx, video.ID)
	if err != nil {
		t.Fatalf("GetVideo: %v", err)
	}
	if retried.Status != models.VideoStatusProcessing {
		t.Fatalf("expected video back to processing, got %s", retried.Status)
	}
}

func TestResetJobForRetryRetainsRenditionsWhenConfigured(t *testing.T) {
	store, err := NewStorage(filepath.Join(t.TempDir(), "store.json"), WithRetainRenditionsOnRetry())
	if err != nil {
		t.Fatalf("NewStorage: %v", err)
	}
	ctx := context.Background()
	video, job := createVideoAndJob(t, store)

	if _, err := store.ClaimJob(ctx, job.ID); err != nil {
		t.Fatalf("ClaimJob: %v", err)
	}
	if _, err := store.AppendRendition(ctx, AppendRenditionParams{
		VideoID: video.ID,
		Profile: "360p",
		Width:   640,
		Height:  360,
		Bitrate: 800000,
		Codec:   "h264",
		URL:     "http://cdn.example.com/hls/" + video.ID + "/360p/index.m3u8",
	}); err != nil {
		t.Fatalf("AppendRendition: %v", err)
	}
	if _, err := store.FailJob(ctx, job.ID, "encode blew up"); err != nil {
		t.Fatalf("FailJob: %v", err)
	}

	if _, err := store.ResetJobForRetry(ctx, job.ID); err != nil {
		t.Fatalf("ResetJobForRetry: %v", err)
	}
	renditions, err := store.ListRenditions(ctx, video.ID)
	if err != nil {
		t.Fatalf("ListRenditions: %v", err)
	}
	if len(renditions) != 1 {
		t.Fatalf("expected prior rendition to survive the retry, got %d", len(renditions))
	}
}

func TestPersistFailureRollsBack(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()
	_, job := createVideoAndJob(t, store)

	store.persistOverride = func(dataset) error {
		return fmt.Errorf("disk full")
	}

	if _, err := store.ClaimJob(ctx, job.ID); err == nil {
		t.Fatalf("expected claim to fail when persist fails")
	}

	store.persistOverride = nil
	recovered, err := store.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if recovered.Status != models.JobStatusPending {
		t.Fatalf("failed persist should leave job pending, got %s", recovered.Status)
	}
}

func TestStorageReloadsFromDisk(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "store.json")
	ctx := context.Background()

	store, err := NewStorage(path)
	if err != nil {
		t.Fatalf("NewStorage: %v", err)
	}
	video, err := store.CreateVideo(ctx, CreateVideoParams{Title: "Persisted"})
	if err != nil {
		t.Fatalf("CreateVideo: %v", err)
	}

	reloaded, err := NewStorage(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	found, err := reloaded.GetVideo(ctx, video.ID)
	if err != nil {
		t.Fatalf("GetVideo after reload: %v", err)
	}
	if found.Title != "Persisted" {
		t.Fatalf("unexpected title %q", found.Title)
	}
}

func TestListJobsFiltersAndPages(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, job := createVideoAndJob(t, store)
		if i == 0 {
			if _, err := store.ClaimJob(ctx, job.ID); err != nil {
				t.Fatalf("ClaimJob: %v", err)
			}
		}
	}

	pending, total, err := store.ListJobs(ctx, ListJobsParams{Status: models.JobStatusPending})
	if err != nil {
		t.Fatalf("ListJobs: %v", err)
	}
	if total != 2 || len(pending) != 2 {
		t.Fatalf("expected 2 pending jobs, got total=%d len=%d", total, len(pending))
	}

	paged, total, err := store.ListJobs(ctx, ListJobsParams{Page: 2, Limit: 2})
	if err != nil {
		t.Fatalf("ListJobs paged: %v", err)
	}
	if total != 3 || len(paged) != 1 {
		t.Fatalf("expected page 2 to hold 1 of 3 jobs, got total=%d len=%d", total, len(paged))
	}

	counts, err := store.JobCounts(ctx)
	if err != nil {
		t.Fatalf("JobCounts: %v", err)
	}
	if counts[models.JobStatusPending] != 2 || counts[models.JobStatusProcessing] != 1 {
		t.Fatalf("unexpected counts: %+v", counts)
	}
}
