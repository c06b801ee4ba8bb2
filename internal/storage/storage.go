package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"streamvault/internal/models"
)

type dataset struct {
	Videos     map[string]models.Video          `json:"videos"`
	Jobs       map[string]models.TranscodingJob `json:"jobs"`
	Renditions map[string][]models.Rendition    `json:"renditions"`
}

// Storage is a JSON-file backed Repository intended for development and tests.
// Every mutation holds the write lock, updates the in-memory dataset, and
// persists the whole file atomically; failed persists roll the dataset back.
type Storage struct {
	mu       sync.RWMutex
	filePath string
	data     dataset
	// retainRenditionsOnRetry keeps prior rendition rows when a job is
	// reset; a re-run then appends duplicates.
	retainRenditionsOnRetry bool
	// persistOverride allows tests to intercept persist operations.
	persistOverride func(dataset) error
}

func newDataset() dataset {
	return dataset{
		Videos:     make(map[string]models.Video),
		Jobs:       make(map[string]models.TranscodingJob),
		Renditions: make(map[string][]models.Rendition),
	}
}

func (s *Storage) ensureDatasetInitializedLocked() {
	if s.data.Videos == nil {
		s.data.Videos = make(map[string]models.Video)
	}
	if s.data.Jobs == nil {
		s.data.Jobs = make(map[string]models.TranscodingJob)
	}
	if s.data.Renditions == nil {
		s.data.Renditions = make(map[string][]models.Rendition)
	}
}

func NewStorage(path string, opts ...Option) (*Storage, error) {
	store := &Storage{filePath: path}
	for _, opt := range opts {
		opt.applyJSON(store)
	}
	if err := store.load(); err != nil {
		return nil, err
	}
	return store, nil
}

func (s *Storage) load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.filePath), 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	file, err := os.Open(s.filePath)
	if errors.Is(err, os.ErrNotExist) {
		s.data = newDataset()
		return nil
	} else if err != nil {
		return fmt.Errorf("open store file: %w", err)
	}
	defer file.Close()

	decoder := json.NewDecoder(file)
	if err := decoder.Decode(&s.data); err != nil {
		if errors.Is(err, io.EOF) {
			s.data = newDataset()
			return nil
		}
		return fmt.Errorf("decode store file: %w", err)
	}

	s.ensureDatasetInitializedLocked()

	return nil
}

func (s *Storage) persist() error {
	return s.persistDataset(s.data)
}

func (s *Storage) persistDataset(data dataset) error {
	if s.persistOverride != nil {
		if err := s.persistOverride(data); err != nil {
			return err
		}
	}

	dir := filepath.Dir(s.filePath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	tmpFile, err := os.CreateTemp(dir, "store-*.json")
	if err != nil {
		return fmt.Errorf("create temp store file: %w", err)
	}
	tmpPath := tmpFile.Name()
	success := false
	defer func() {
		if !success {
			_ = tmpFile.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	encoder := json.NewEncoder(tmpFile)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(data); err != nil {
		return fmt.Errorf("encode store file: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		return fmt.Errorf("flush store file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("close temp store file: %w", err)
	}

	if err := os.Rename(tmpPath, s.filePath); err != nil {
		return fmt.Errorf("replace store file: %w", err)
	}
	success = true
	return nil
}

func (s *Storage) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.data.Videos == nil {
		return fmt.Errorf("storage not initialized")
	}
	return nil
}

func (s *Storage) Close(ctx context.Context) error {
	return nil
}

func (s *Storage) CreateVideo(ctx context.Context, params CreateVideoParams) (models.Video, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.ensureDatasetInitializedLocked()

	title := strings.TrimSpace(params.Title)
	if title == "" {
		return models.Video{}, fmt.Errorf("video title is required")
	}

	status := strings.TrimSpace(params.Status)
	if status == "" {
		status = models.VideoStatusUploading
	}

	slug := s.uniqueSlugLocked(title)
	now := time.Now().UTC()
	video := models.Video{
		ID:         uuid.NewString(),
		Title:      title,
		Slug:       slug,
		Status:     status,
		SourcePath: strings.TrimSpace(params.SourcePath),
		FileSize:   params.FileSize,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	s.data.Videos[video.ID] = video
	if err := s.persist(); err != nil {
		delete(s.data.Videos, video.ID)
		return models.Video{}, err
	}
	return video, nil
}

func (s *Storage) uniqueSlugLocked(title string) string {
	base := Slugify(title)
	slug := base
	for counter := 1; ; counter++ {
		if !s.slugTakenLocked(slug) {
			return slug
		}
		slug = fmt.Sprintf("%s-%d", base, counter)
	}
}

func (s *Storage) slugTakenLocked(slug string) bool {
	for _, video := range s.data.Videos {
		if video.Slug == slug {
			return true
		}
	}
	return false
}

func (s *Storage) GetVideo(ctx context.Context, id string) (models.Video, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	video, ok := s.data.Videos[id]
	if !ok {
		return models.Video{}, ErrVideoNotFound
	}
	return cloneVideo(video), nil
}

func (s *Storage) GetVideoBySlug(ctx context.Context, slug string) (models.Video, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, video := range s.data.Videos {
		if video.Slug == slug {
			return cloneVideo(video), nil
		}
	}
	return models.Video{}, ErrVideoNotFound
}

func (s *Storage) ListVideos(ctx context.Context, params ListVideosParams) ([]models.Video, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	status := strings.ToLower(strings.TrimSpace(params.Status))
	videos := make([]models.Video, 0, len(s.data.Videos))
	for _, video := range s.data.Videos {
		if status != "" && video.Status != status {
			continue
		}
		videos = append(videos, cloneVideo(video))
	}
	sort.Slice(videos, func(i, j int) bool {
		if videos[i].CreatedAt.Equal(videos[j].CreatedAt) {
			return videos[i].ID < videos[j].ID
		}
		return videos[i].CreatedAt.After(videos[j].CreatedAt)
	})

	total := len(videos)
	return pageSlice(videos, params.Page, params.Limit), total, nil
}

func (s *Storage) CreateJob(ctx context.Context, videoID string) (models.TranscodingJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.ensureDatasetInitializedLocked()

	if _, ok := s.data.Videos[videoID]; !ok {
		return models.TranscodingJob{}, ErrVideoNotFound
	}

	now := time.Now().UTC()
	job := models.TranscodingJob{
		ID:        uuid.NewString(),
		VideoID:   videoID,
		Status:    models.JobStatusPending,
		Progress:  0,
		CreatedAt: now,
		UpdatedAt: now,
	}

	s.data.Jobs[job.ID] = job
	if err := s.persist(); err != nil {
		delete(s.data.Jobs, job.ID)
		return models.TranscodingJob{}, err
	}
	return job, nil
}

func (s *Storage) GetJob(ctx context.Context, id string) (models.TranscodingJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, ok := s.data.Jobs[id]
	if !ok {
		return models.TranscodingJob{}, ErrJobNotFound
	}
	return cloneJob(job), nil
}

func (s *Storage) ListJobs(ctx context.Context, params ListJobsParams) ([]models.TranscodingJob, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	status := strings.ToLower(strings.TrimSpace(params.Status))
	jobs := make([]models.TranscodingJob, 0, len(s.data.Jobs))
	for _, job := range s.data.Jobs {
		if status != "" && job.Status != status {
			continue
		}
		jobs = append(jobs, cloneJob(job))
	}
	sort.Slice(jobs, func(i, j int) bool {
		if jobs[i].CreatedAt.Equal(jobs[j].CreatedAt) {
			return jobs[i].ID < jobs[j].ID
		}
		return jobs[i].CreatedAt.After(jobs[j].CreatedAt)
	})

	total := len(jobs)
	return pageSlice(jobs, params.Page, params.Limit), total, nil
}

func (s *Storage) ListJobsForVideo(ctx context.Context, videoID string) ([]models.TranscodingJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	jobs := make([]models.TranscodingJob, 0, 1)
	for _, job := range s.data.Jobs {
		if job.VideoID == videoID {
			jobs = append(jobs, cloneJob(job))
		}
	}
	sort.Slice(jobs, func(i, j int) bool {
		return jobs[i].CreatedAt.After(jobs[j].CreatedAt)
	})
	return jobs, nil
}

func (s *Storage) JobCounts(ctx context.Context) (map[string]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[string]int64, 4)
	for _, job := range s.data.Jobs {
		counts[job.Status]++
	}
	return counts, nil
}

// ClaimJob atomically transitions a pending job to processing and marks its
// video as processing. Any other starting status yields ErrJobNotClaimable so
// duplicate queue deliveries are discarded instead of re-running the pipeline.
func (s *Storage) ClaimJob(ctx context.Context, jobID string) (models.TranscodingJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.data.Jobs[jobID]
	if !ok {
		return models.TranscodingJob{}, ErrJobNotFound
	}
	if job.Status != models.JobStatusPending {
		return models.TranscodingJob{}, ErrJobNotClaimable
	}
	video, ok := s.data.Videos[job.VideoID]
	if !ok {
		return models.TranscodingJob{}, ErrVideoNotFound
	}

	originalJob := job
	originalVideo := video

	now := time.Now().UTC()
	started := now
	job.Status = models.JobStatusProcessing
	job.StartedAt = &started
	job.UpdatedAt = now
	video.Status = models.VideoStatusProcessing
	video.UpdatedAt = now

	s.data.Jobs[jobID] = job
	s.data.Videos[video.ID] = video
	if err := s.persist(); err != nil {
		s.data.Jobs[jobID] = originalJob
		s.data.Videos[video.ID] = originalVideo
		return models.TranscodingJob{}, err
	}
	return cloneJob(job), nil
}

// SetJobProgress records pipeline progress. Values are clamped to 0..100 and
// regressions are ignored so progress stays monotonic within a run.
func (s *Storage) SetJobProgress(ctx context.Context, jobID string, progress int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.data.Jobs[jobID]
	if !ok {
		return ErrJobNotFound
	}
	if progress < 0 {
		progress = 0
	}
	if progress > 100 {
		progress = 100
	}
	if progress <= job.Progress {
		return nil
	}

	original := job
	job.Progress = progress
	job.UpdatedAt = time.Now().UTC()

	s.data.Jobs[jobID] = job
	if err := s.persist(); err != nil {
		s.data.Jobs[jobID] = original
		return err
	}
	return nil
}

func (s *Storage) AppendRendition(ctx context.Context, params AppendRenditionParams) (models.Rendition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.ensureDatasetInitializedLocked()

	if _, ok := s.data.Videos[params.VideoID]; !ok {
		return models.Rendition{}, ErrVideoNotFound
	}

	rendition := models.Rendition{
		ID:        uuid.NewString(),
		VideoID:   params.VideoID,
		Profile:   strings.TrimSpace(params.Profile),
		Width:     params.Width,
		Height:    params.Height,
		Bitrate:   params.Bitrate,
		Codec:     strings.TrimSpace(params.Codec),
		URL:       strings.TrimSpace(params.URL),
		CreatedAt: time.Now().UTC(),
	}

	existing := s.data.Renditions[params.VideoID]
	s.data.Renditions[params.VideoID] = append(existing, rendition)
	if err := s.persist(); err != nil {
		s.data.Renditions[params.VideoID] = existing
		return models.Rendition{}, err
	}
	return rendition, nil
}

func (s *Storage) ListRenditions(ctx context.Context, videoID string) ([]models.Rendition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	renditions := s.data.Renditions[videoID]
	out := make([]models.Rendition, len(renditions))
	copy(out, renditions)
	return out, nil
}

// CompleteJob finalizes a successful run: the job becomes completed at 100%
// progress and the video becomes ready with its playback fields, in one write.
func (s *Storage) CompleteJob(ctx context.Context, jobID string, result JobCompletion) (models.TranscodingJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.data.Jobs[jobID]
	if !ok {
		return models.TranscodingJob{}, ErrJobNotFound
	}
	video, ok := s.data.Videos[job.VideoID]
	if !ok {
		return models.TranscodingJob{}, ErrVideoNotFound
	}

	originalJob := job
	originalVideo := video

	now := time.Now().UTC()
	completed := now
	job.Status = models.JobStatusCompleted
	job.Progress = 100
	job.ErrorMessage = ""
	job.CompletedAt = &completed
	job.UpdatedAt = now

	video.Status = models.VideoStatusReady
	video.HLSURL = strings.TrimSpace(result.HLSURL)
	video.ThumbnailURL = strings.TrimSpace(result.ThumbnailURL)
	if result.DurationSeconds != nil {
		duration := *result.DurationSeconds
		video.DurationSeconds = &duration
	}
	video.UpdatedAt = now

	s.data.Jobs[jobID] = job
	s.data.Videos[video.ID] = video
	if err := s.persist(); err != nil {
		s.data.Jobs[jobID] = originalJob
		s.data.Videos[video.ID] = originalVideo
		return models.TranscodingJob{}, err
	}
	return cloneJob(job), nil
}

// FailJob records a failed run: the job becomes failed with its error message
// and the video becomes failed, in one write.
func (s *Storage) FailJob(ctx context.Context, jobID, message string) (models.TranscodingJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.data.Jobs[jobID]
	if !ok {
		return models.TranscodingJob{}, ErrJobNotFound
	}
	video, ok := s.data.Videos[job.VideoID]
	if !ok {
		return models.TranscodingJob{}, ErrVideoNotFound
	}

	originalJob := job
	originalVideo := video

	now := time.Now().UTC()
	completed := now
	job.Status = models.JobStatusFailed
	job.ErrorMessage = strings.TrimSpace(message)
	job.CompletedAt = &completed
	job.UpdatedAt = now

	video.Status = models.VideoStatusFailed
	video.UpdatedAt = now

	s.data.Jobs[jobID] = job
	s.data.Videos[video.ID] = video
	if err := s.persist(); err != nil {
		s.data.Jobs[jobID] = originalJob
		s.data.Videos[video.ID] = originalVideo
		return models.TranscodingJob{}, err
	}
	return cloneJob(job), nil
}

// ResetJobForRetry returns a terminal job to pending under the same ID,
// clearing progress, error, and timestamps, moving the video back to
// processing, and dropping renditions recorded by the prior run unless the
// store was configured to retain them.
func (s *Storage) ResetJobForRetry(ctx context.Context, jobID string) (models.TranscodingJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.data.Jobs[jobID]
	if !ok {
		return models.TranscodingJob{}, ErrJobNotFound
	}
	if !job.Terminal() {
		return models.TranscodingJob{}, ErrJobNotRetryable
	}
	video, ok := s.data.Videos[job.VideoID]
	if !ok {
		return models.TranscodingJob{}, ErrVideoNotFound
	}

	originalJob := job
	originalVideo := video
	originalRenditions := s.data.Renditions[job.VideoID]

	now := time.Now().UTC()
	job.Status = models.JobStatusPending
	job.Progress = 0
	job.ErrorMessage = ""
	job.StartedAt = nil
	job.CompletedAt = nil
	job.UpdatedAt = now

	video.Status = models.VideoStatusProcessing
	video.UpdatedAt = now

	s.data.Jobs[jobID] = job
	s.data.Videos[video.ID] = video
	if !s.retainRenditionsOnRetry {
		delete(s.data.Renditions, job.VideoID)
	}
	if err := s.persist(); err != nil {
		s.data.Jobs[jobID] = originalJob
		s.data.Videos[video.ID] = originalVideo
		if originalRenditions != nil {
			s.data.Renditions[job.VideoID] = originalRenditions
		}
		return models.TranscodingJob{}, err
	}
	return cloneJob(job), nil
}

func pageSlice[T any](items []T, page, limit int) []T {
	if limit <= 0 {
		return items
	}
	if page <= 0 {
		page = 1
	}
	start := (page - 1) * limit
	if start >= len(items) {
		return nil
	}
	end := start + limit
	if end > len(items) {
		end = len(items)
	}
	return items[start:end]
}

func cloneVideo(video models.Video) models.Video {
	cloned := video
	if video.DurationSeconds != nil {
		duration := *video.DurationSeconds
		cloned.DurationSeconds = &duration
	}
	return cloned
}

func cloneJob(job models.TranscodingJob) models.TranscodingJob {
	cloned := job
	if job.StartedAt != nil {
		started := *job.StartedAt
		cloned.StartedAt = &started
	}
	if job.CompletedAt != nil {
		completed := *job.CompletedAt
		cloned.CompletedAt = &completed
	}
	return cloned
}
