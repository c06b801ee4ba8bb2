package storage

import (
	"context"
	"errors"

	"streamvault/internal/models"
)

var (
	ErrVideoNotFound = errors.New("video not found")
	ErrJobNotFound   = errors.New("transcoding job not found")
	// ErrJobNotClaimable signals that a job is no longer pending, typically
	// because a duplicate queue delivery raced an earlier claim.
	ErrJobNotClaimable = errors.New("transcoding job is not pending")
	// ErrJobNotRetryable signals that only failed jobs may be retried.
	ErrJobNotRetryable = errors.New("transcoding job is not failed")
)

// CreateVideoParams captures the attributes that can be set when registering a
// video for transcoding.
type CreateVideoParams struct {
	Title      string
	SourcePath string
	FileSize   int64
	Status     string
}

// ListVideosParams filters and pages video listings.
type ListVideosParams struct {
	Status string
	Page   int
	Limit  int
}

// ListJobsParams filters and pages job listings.
type ListJobsParams struct {
	Status string
	Page   int
	Limit  int
}

// AppendRenditionParams describes one encoded variant to record against a video.
type AppendRenditionParams struct {
	VideoID string
	Profile string
	Width   int
	Height  int
	Bitrate int
	Codec   string
	URL     string
}

// JobCompletion carries the playback artifacts written when a job finishes
// successfully.
type JobCompletion struct {
	DurationSeconds *float64
	HLSURL          string
	ThumbnailURL    string
}

// Repository exposes the datastore operations required by the API handlers and
// the transcoding worker. Job outcome writes couple the job and its video in a
// single transaction so readers never observe a completed job on a video that
// is still processing.
type Repository interface {
	Ping(ctx context.Context) error
	Close(ctx context.Context) error

	CreateVideo(ctx context.Context, params CreateVideoParams) (models.Video, error)
	GetVideo(ctx context.Context, id string) (models.Video, error)
	GetVideoBySlug(ctx context.Context, slug string) (models.Video, error)
	ListVideos(ctx context.Context, params ListVideosParams) ([]models.Video, int, error)

	CreateJob(ctx context.Context, videoID string) (models.TranscodingJob, error)
	GetJob(ctx context.Context, id string) (models.TranscodingJob, error)
	ListJobs(ctx context.Context, params ListJobsParams) ([]models.TranscodingJob, int, error)
	ListJobsForVideo(ctx context.Context, videoID string) ([]models.TranscodingJob, error)
	JobCounts(ctx context.Context) (map[string]int64, error)

	ClaimJob(ctx context.Context, jobID string) (models.TranscodingJob, error)
	SetJobProgress(ctx context.Context, jobID string, progress int) error
	AppendRendition(ctx context.Context, params AppendRenditionParams) (models.Rendition, error)
	ListRenditions(ctx context.Context, videoID string) ([]models.Rendition, error)
	CompleteJob(ctx context.Context, jobID string, result JobCompletion) (models.TranscodingJob, error)
	FailJob(ctx context.Context, jobID, message string) (models.TranscodingJob, error)
	ResetJobForRetry(ctx context.Context, jobID string) (models.TranscodingJob, error)
}

var _ Repository = (*Storage)(nil)
