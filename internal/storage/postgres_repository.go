package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"streamvault/internal/models"
)

type postgresRepository struct {
	pool *pgxpool.Pool
	cfg  PostgresConfig
}

const postgresSchema = `
CREATE TABLE IF NOT EXISTS videos (
	id TEXT PRIMARY KEY,
	title TEXT NOT NULL,
	slug TEXT NOT NULL UNIQUE,
	status TEXT NOT NULL,
	source_path TEXT NOT NULL DEFAULT '',
	file_size BIGINT NOT NULL DEFAULT 0,
	duration_seconds DOUBLE PRECISION,
	hls_url TEXT NOT NULL DEFAULT '',
	thumbnail_url TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS transcoding_jobs (
	id TEXT PRIMARY KEY,
	video_id TEXT NOT NULL REFERENCES videos(id) ON DELETE CASCADE,
	status TEXT NOT NULL,
	progress INTEGER NOT NULL DEFAULT 0,
	error_message TEXT NOT NULL DEFAULT '',
	started_at TIMESTAMPTZ,
	completed_at TIMESTAMPTZ,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS transcoding_jobs_status_idx ON transcoding_jobs (status);
CREATE INDEX IF NOT EXISTS transcoding_jobs_video_idx ON transcoding_jobs (video_id);

CREATE TABLE IF NOT EXISTS renditions (
	id TEXT PRIMARY KEY,
	video_id TEXT NOT NULL REFERENCES videos(id) ON DELETE CASCADE,
	profile TEXT NOT NULL,
	width INTEGER NOT NULL,
	height INTEGER NOT NULL,
	bitrate INTEGER NOT NULL,
	codec TEXT NOT NULL DEFAULT '',
	url TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS renditions_video_idx ON renditions (video_id);
`

const videoColumns = "id, title, slug, status, source_path, file_size, duration_seconds, hls_url, thumbnail_url, created_at, updated_at"

const jobColumns = "id, video_id, status, progress, error_message, started_at, completed_at, created_at, updated_at"

// NewPostgresRepository opens a Postgres-backed repository and bootstraps the
// schema when it does not exist yet.
func NewPostgresRepository(ctx context.Context, dsn string, opts ...Option) (Repository, error) {
	cfg := newPostgresConfig(dsn, opts...)
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, fmt.Errorf("postgres dsn required")
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres config: %w", err)
	}
	if cfg.MaxConnections > 0 {
		poolCfg.MaxConns = cfg.MaxConnections
	}
	if cfg.MinConnections >= 0 {
		poolCfg.MinConns = cfg.MinConnections
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.MaxConnIdleTime > 0 {
		poolCfg.MaxConnIdleTime = cfg.MaxConnIdleTime
	}
	if cfg.HealthCheckInterval > 0 {
		poolCfg.HealthCheckPeriod = cfg.HealthCheckInterval
	}
	if cfg.AcquireTimeout > 0 {
		poolCfg.ConnConfig.ConnectTimeout = cfg.AcquireTimeout
	}
	if cfg.ApplicationName != "" {
		if poolCfg.ConnConfig.RuntimeParams == nil {
			poolCfg.ConnConfig.RuntimeParams = make(map[string]string)
		}
		poolCfg.ConnConfig.RuntimeParams["application_name"] = cfg.ApplicationName
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("open postgres pool: %w", err)
	}

	repo := &postgresRepository{pool: pool, cfg: cfg}
	if err := repo.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return repo, nil
}

func (r *postgresRepository) ensureSchema(ctx context.Context) error {
	if _, err := r.pool.Exec(ctx, postgresSchema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

func (r *postgresRepository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

func (r *postgresRepository) Close(ctx context.Context) error {
	if r == nil || r.pool == nil {
		return nil
	}
	done := make(chan struct{})
	go func() {
		r.pool.Close()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

func (r *postgresRepository) CreateVideo(ctx context.Context, params CreateVideoParams) (models.Video, error) {
	title := strings.TrimSpace(params.Title)
	if title == "" {
		return models.Video{}, fmt.Errorf("video title is required")
	}
	status := strings.TrimSpace(params.Status)
	if status == "" {
		status = models.VideoStatusUploading
	}

	slug, err := r.uniqueSlug(ctx, title)
	if err != nil {
		return models.Video{}, err
	}

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

	_, err = r.pool.Exec(ctx,
		`INSERT INTO videos (id, title, slug, status, source_path, file_size, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		video.ID, video.Title, video.Slug, video.Status, video.SourcePath, video.FileSize, video.CreatedAt, video.UpdatedAt)
	if err != nil {
		return models.Video{}, fmt.Errorf("insert video: %w", err)
	}
	return video, nil
}

func (r *postgresRepository) uniqueSlug(ctx context.Context, title string) (string, error) {
	base := Slugify(title)
	slug := base
	for counter := 1; ; counter++ {
		var exists bool
		if err := r.pool.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM videos WHERE slug = $1)`, slug).Scan(&exists); err != nil {
			return "", fmt.Errorf("check slug: %w", err)
		}
		if !exists {
			return slug, nil
		}
		slug = fmt.Sprintf("%s-%d", base, counter)
	}
}

func scanVideo(row pgx.Row) (models.Video, error) {
	var video models.Video
	err := row.Scan(&video.ID, &video.Title, &video.Slug, &video.Status, &video.SourcePath,
		&video.FileSize, &video.DurationSeconds, &video.HLSURL, &video.ThumbnailURL,
		&video.CreatedAt, &video.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Video{}, ErrVideoNotFound
	}
	if err != nil {
		return models.Video{}, fmt.Errorf("scan video: %w", err)
	}
	return video, nil
}

func (r *postgresRepository) GetVideo(ctx context.Context, id string) (models.Video, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+videoColumns+` FROM videos WHERE id = $1`, id)
	return scanVideo(row)
}

func (r *postgresRepository) GetVideoBySlug(ctx context.Context, slug string) (models.Video, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+videoColumns+` FROM videos WHERE slug = $1`, slug)
	return scanVideo(row)
}

func (r *postgresRepository) ListVideos(ctx context.Context, params ListVideosParams) ([]models.Video, int, error) {
	status := strings.ToLower(strings.TrimSpace(params.Status))
	limit, offset := pageBounds(params.Page, params.Limit)

	var total int
	countQuery := `SELECT count(*) FROM videos`
	listQuery := `SELECT ` + videoColumns + ` FROM videos`
	args := []any{}
	if status != "" {
		countQuery += ` WHERE status = $1`
		listQuery += ` WHERE status = $1`
		args = append(args, status)
	}
	if err := r.pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count videos: %w", err)
	}

	listQuery += fmt.Sprintf(` ORDER BY created_at DESC, id LIMIT $%d OFFSET $%d`, len(args)+1, len(args)+2)
	args = append(args, limit, offset)

	rows, err := r.pool.Query(ctx, listQuery, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list videos: %w", err)
	}
	defer rows.Close()

	videos := make([]models.Video, 0, limit)
	for rows.Next() {
		video, err := scanVideo(rows)
		if err != nil {
			return nil, 0, err
		}
		videos = append(videos, video)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("list videos: %w", err)
	}
	return videos, total, nil
}

func (r *postgresRepository) CreateJob(ctx context.Context, videoID string) (models.TranscodingJob, error) {
	if _, err := r.GetVideo(ctx, videoID); err != nil {
		return models.TranscodingJob{}, err
	}

	now := time.Now().UTC()
	job := models.TranscodingJob{
		ID:        uuid.NewString(),
		VideoID:   videoID,
		Status:    models.JobStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}

	_, err := r.pool.Exec(ctx,
		`INSERT INTO transcoding_jobs (id, video_id, status, progress, created_at, updated_at)
		 VALUES ($1, $2, $3, 0, $4, $5)`,
		job.ID, job.VideoID, job.Status, job.CreatedAt, job.UpdatedAt)
	if err != nil {
		return models.TranscodingJob{}, fmt.Errorf("insert job: %w", err)
	}
	return job, nil
}

func scanJob(row pgx.Row) (models.TranscodingJob, error) {
	var job models.TranscodingJob
	err := row.Scan(&job.ID, &job.VideoID, &job.Status, &job.Progress, &job.ErrorMessage,
		&job.StartedAt, &job.CompletedAt, &job.CreatedAt, &job.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.TranscodingJob{}, ErrJobNotFound
	}
	if err != nil {
		return models.TranscodingJob{}, fmt.Errorf("scan job: %w", err)
	}
	return job, nil
}

func (r *postgresRepository) GetJob(ctx context.Context, id string) (models.TranscodingJob, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM transcoding_jobs WHERE id = $1`, id)
	return scanJob(row)
}

func (r *postgresRepository) ListJobs(ctx context.Context, params ListJobsParams) ([]models.TranscodingJob, int, error) {
	status := strings.ToLower(strings.TrimSpace(params.Status))
	limit, offset := pageBounds(params.Page, params.Limit)

	var total int
	countQuery := `SELECT count(*) FROM transcoding_jobs`
	listQuery := `SELECT ` + jobColumns + ` FROM transcoding_jobs`
	args := []any{}
	if status != "" {
		countQuery += ` WHERE status = $1`
		listQuery += ` WHERE status = $1`
		args = append(args, status)
	}
	if err := r.pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count jobs: %w", err)
	}

	listQuery += fmt.Sprintf(` ORDER BY created_at DESC, id LIMIT $%d OFFSET $%d`, len(args)+1, len(args)+2)
	args = append(args, limit, offset)

	rows, err := r.pool.Query(ctx, listQuery, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	jobs := make([]models.TranscodingJob, 0, limit)
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, 0, err
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("list jobs: %w", err)
	}
	return jobs, total, nil
}

func (r *postgresRepository) ListJobsForVideo(ctx context.Context, videoID string) ([]models.TranscodingJob, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+jobColumns+` FROM transcoding_jobs WHERE video_id = $1 ORDER BY created_at DESC`, videoID)
	if err != nil {
		return nil, fmt.Errorf("list jobs for video: %w", err)
	}
	defer rows.Close()

	var jobs []models.TranscodingJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list jobs for video: %w", err)
	}
	return jobs, nil
}

func (r *postgresRepository) JobCounts(ctx context.Context) (map[string]int64, error) {
	rows, err := r.pool.Query(ctx, `SELECT status, count(*) FROM transcoding_jobs GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count jobs by status: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int64, 4)
	for rows.Next() {
		var status string
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("scan job count: %w", err)
		}
		counts[status] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("count jobs by status: %w", err)
	}
	return counts, nil
}

// ClaimJob relies on a conditional UPDATE so that only one consumer can move a
// pending job into processing; late duplicates observe zero affected rows and
// receive ErrJobNotClaimable.
func (r *postgresRepository) ClaimJob(ctx context.Context, jobID string) (models.TranscodingJob, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return models.TranscodingJob{}, fmt.Errorf("begin claim: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	now := time.Now().UTC()
	row := tx.QueryRow(ctx,
		`UPDATE transcoding_jobs SET status = $2, started_at = $3, updated_at = $3
		 WHERE id = $1 AND status = $4
		 RETURNING `+jobColumns,
		jobID, models.JobStatusProcessing, now, models.JobStatusPending)
	job, err := scanJob(row)
	if errors.Is(err, ErrJobNotFound) {
		var status string
		probe := r.pool.QueryRow(ctx, `SELECT status FROM transcoding_jobs WHERE id = $1`, jobID)
		if scanErr := probe.Scan(&status); scanErr != nil {
			if errors.Is(scanErr, pgx.ErrNoRows) {
				return models.TranscodingJob{}, ErrJobNotFound
			}
			return models.TranscodingJob{}, fmt.Errorf("probe job status: %w", scanErr)
		}
		return models.TranscodingJob{}, ErrJobNotClaimable
	}
	if err != nil {
		return models.TranscodingJob{}, err
	}

	if _, err := tx.Exec(ctx,
		`UPDATE videos SET status = $2, updated_at = $3 WHERE id = $1`,
		job.VideoID, models.VideoStatusProcessing, now); err != nil {
		return models.TranscodingJob{}, fmt.Errorf("mark video processing: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return models.TranscodingJob{}, fmt.Errorf("commit claim: %w", err)
	}
	return job, nil
}

func (r *postgresRepository) SetJobProgress(ctx context.Context, jobID string, progress int) error {
	if progress < 0 {
		progress = 0
	}
	if progress > 100 {
		progress = 100
	}
	tag, err := r.pool.Exec(ctx,
		`UPDATE transcoding_jobs SET progress = $2, updated_at = $3
		 WHERE id = $1 AND progress < $2`,
		jobID, progress, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("update progress: %w", err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := r.pool.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM transcoding_jobs WHERE id = $1)`, jobID).Scan(&exists); err != nil {
			return fmt.Errorf("probe job: %w", err)
		}
		if !exists {
			return ErrJobNotFound
		}
	}
	return nil
}

func (r *postgresRepository) AppendRendition(ctx context.Context, params AppendRenditionParams) (models.Rendition, error) {
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
	_, err := r.pool.Exec(ctx,
		`INSERT INTO renditions (id, video_id, profile, width, height, bitrate, codec, url, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		rendition.ID, rendition.VideoID, rendition.Profile, rendition.Width, rendition.Height,
		rendition.Bitrate, rendition.Codec, rendition.URL, rendition.CreatedAt)
	if err != nil {
		return models.Rendition{}, fmt.Errorf("insert rendition: %w", err)
	}
	return rendition, nil
}

func (r *postgresRepository) ListRenditions(ctx context.Context, videoID string) ([]models.Rendition, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, video_id, profile, width, height, bitrate, codec, url, created_at
		 FROM renditions WHERE video_id = $1 ORDER BY created_at, id`, videoID)
	if err != nil {
		return nil, fmt.Errorf("list renditions: %w", err)
	}
	defer rows.Close()

	var renditions []models.Rendition
	for rows.Next() {
		var rendition models.Rendition
		if err := rows.Scan(&rendition.ID, &rendition.VideoID, &rendition.Profile, &rendition.Width,
			&rendition.Height, &rendition.Bitrate, &rendition.Codec, &rendition.URL, &rendition.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan rendition: %w", err)
		}
		renditions = append(renditions, rendition)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list renditions: %w", err)
	}
	return renditions, nil
}

func (r *postgresRepository) CompleteJob(ctx context.Context, jobID string, result JobCompletion) (models.TranscodingJob, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return models.TranscodingJob{}, fmt.Errorf("begin completion: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	now := time.Now().UTC()
	row := tx.QueryRow(ctx,
		`UPDATE transcoding_jobs
		 SET status = $2, progress = 100, error_message = '', completed_at = $3, updated_at = $3
		 WHERE id = $1
		 RETURNING `+jobColumns,
		jobID, models.JobStatusCompleted, now)
	job, err := scanJob(row)
	if err != nil {
		return models.TranscodingJob{}, err
	}

	if _, err := tx.Exec(ctx,
		`UPDATE videos
		 SET status = $2, duration_seconds = COALESCE($3, duration_seconds), hls_url = $4, thumbnail_url = $5, updated_at = $6
		 WHERE id = $1`,
		job.VideoID, models.VideoStatusReady, result.DurationSeconds,
		strings.TrimSpace(result.HLSURL), strings.TrimSpace(result.ThumbnailURL), now); err != nil {
		return models.TranscodingJob{}, fmt.Errorf("mark video ready: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return models.TranscodingJob{}, fmt.Errorf("commit completion: %w", err)
	}
	return job, nil
}

func (r *postgresRepository) FailJob(ctx context.Context, jobID, message string) (models.TranscodingJob, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return models.TranscodingJob{}, fmt.Errorf("begin failure: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	now := time.Now().UTC()
	row := tx.QueryRow(ctx,
		`UPDATE transcoding_jobs
		 SET status = $2, error_message = $3, completed_at = $4, updated_at = $4
		 WHERE id = $1
		 RETURNING `+jobColumns,
		jobID, models.JobStatusFailed, strings.TrimSpace(message), now)
	job, err := scanJob(row)
	if err != nil {
		return models.TranscodingJob{}, err
	}

	if _, err := tx.Exec(ctx,
		`UPDATE videos SET status = $2, updated_at = $3 WHERE id = $1`,
		job.VideoID, models.VideoStatusFailed, now); err != nil {
		return models.TranscodingJob{}, fmt.Errorf("mark video failed: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return models.TranscodingJob{}, fmt.Errorf("commit failure: %w", err)
	}
	return job, nil
}

func (r *postgresRepository) ResetJobForRetry(ctx context.Context, jobID string) (models.TranscodingJob, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return models.TranscodingJob{}, fmt.Errorf("begin retry: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	now := time.Now().UTC()
	row := tx.QueryRow(ctx,
		`UPDATE transcoding_jobs
		 SET status = $2, progress = 0, error_message = '', started_at = NULL, completed_at = NULL, updated_at = $3
		 WHERE id = $1 AND status IN ($4, $5)
		 RETURNING `+jobColumns,
		jobID, models.JobStatusPending, now, models.JobStatusFailed, models.JobStatusCompleted)
	job, err := scanJob(row)
	if errors.Is(err, ErrJobNotFound) {
		var status string
		probe := r.pool.QueryRow(ctx, `SELECT status FROM transcoding_jobs WHERE id = $1`, jobID)
		if scanErr := probe.Scan(&status); scanErr != nil {
			if errors.Is(scanErr, pgx.ErrNoRows) {
				return models.TranscodingJob{}, ErrJobNotFound
			}
			return models.TranscodingJob{}, fmt.Errorf("probe job status: %w", scanErr)
		}
		return models.TranscodingJob{}, ErrJobNotRetryable
	}
	if err != nil {
		return models.TranscodingJob{}, err
	}

	if _, err := tx.Exec(ctx,
		`UPDATE videos SET status = $2, updated_at = $3 WHERE id = $1`,
		job.VideoID, models.VideoStatusProcessing, now); err != nil {
		return models.TranscodingJob{}, fmt.Errorf("mark video processing: %w", err)
	}
	if !r.cfg.RetainRenditionsOnRetry {
		if _, err := tx.Exec(ctx, `DELETE FROM renditions WHERE video_id = $1`, job.VideoID); err != nil {
			return models.TranscodingJob{}, fmt.Errorf("clear renditions: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return models.TranscodingJob{}, fmt.Errorf("commit retry: %w", err)
	}
	return job, nil
}

func pageBounds(page, limit int) (int, int) {
	if limit <= 0 {
		limit = 20
	}
	if page <= 0 {
		page = 1
	}
	return limit, (page - 1) * limit
}

var _ Repository = (*postgresRepository)(nil)
