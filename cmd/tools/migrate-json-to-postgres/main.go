// Command migrate-json-to-postgres copies videos, transcoding jobs and
// renditions from the JSON datastore into Postgres, preserving IDs and
// timestamps so queued jobs stay valid after the switch.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"streamvault/internal/models"
	"streamvault/internal/storage"
)

func main() {
	jsonPath := flag.String("json", "data/store.json", "path to the JSON datastore to migrate")
	postgresDSN := flag.String("postgres-dsn", "", "Postgres connection string")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	dsn := strings.TrimSpace(*postgresDSN)
	if dsn == "" {
		dsn = strings.TrimSpace(os.Getenv("STREAMVAULT_POSTGRES_DSN"))
	}
	if dsn == "" {
		dsn = strings.TrimSpace(os.Getenv("DATABASE_URL"))
	}
	if dsn == "" {
		logger.Error("postgres DSN required", "hint", "set --postgres-dsn, STREAMVAULT_POSTGRES_DSN, or DATABASE_URL")
		os.Exit(1)
	}

	ctx := context.Background()

	source, err := storage.NewStorage(*jsonPath)
	if err != nil {
		logger.Error("failed to open JSON datastore", "error", err)
		os.Exit(1)
	}
	defer func() { _ = source.Close(ctx) }()

	videos, jobs, renditions, err := loadSnapshot(ctx, source)
	if err != nil {
		logger.Error("failed to load JSON snapshot", "error", err)
		os.Exit(1)
	}
	logger.Info("loaded JSON snapshot", "path", *jsonPath,
		"videos", len(videos), "jobs", len(jobs), "renditions", len(renditions))

	// Opening the repository bootstraps the schema.
	repo, err := storage.NewPostgresRepository(ctx, dsn)
	if err != nil {
		logger.Error("failed to open postgres repository", "error", err)
		os.Exit(1)
	}
	if err := repo.Close(ctx); err != nil {
		logger.Warn("failed to close postgres repository", "error", err)
	}

	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		logger.Error("failed to parse postgres config", "error", err)
		os.Exit(1)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		logger.Error("failed to open postgres pool", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	if err := importSnapshot(ctx, pool, videos, jobs, renditions); err != nil {
		logger.Error("failed to import snapshot", "error", err)
		os.Exit(1)
	}

	if err := verifyCounts(ctx, pool, len(videos), len(jobs), len(renditions)); err != nil {
		logger.Error("verification failed", "error", err)
		os.Exit(1)
	}

	logger.Info("migration completed",
		"videos", len(videos), "jobs", len(jobs), "renditions", len(renditions))
}

func loadSnapshot(ctx context.Context, source storage.Repository) ([]models.Video, []models.TranscodingJob, []models.Rendition, error) {
	videos, _, err := source.ListVideos(ctx, storage.ListVideosParams{Page: 1, Limit: 100})
	if err != nil {
		return nil, nil, nil, fmt.Errorf("list videos: %w", err)
	}
	for page := 2; ; page++ {
		batch, _, err := source.ListVideos(ctx, storage.ListVideosParams{Page: page, Limit: 100})
		if err != nil {
			return nil, nil, nil, fmt.Errorf("list videos page %d: %w", page, err)
		}
		if len(batch) == 0 {
			break
		}
		videos = append(videos, batch...)
	}

	var jobs []models.TranscodingJob
	var renditions []models.Rendition
	for _, video := range videos {
		videoJobs, err := source.ListJobsForVideo(ctx, video.ID)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("list jobs for video %s: %w", video.ID, err)
		}
		jobs = append(jobs, videoJobs...)

		videoRenditions, err := source.ListRenditions(ctx, video.ID)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("list renditions for video %s: %w", video.ID, err)
		}
		renditions = append(renditions, videoRenditions...)
	}
	return videos, jobs, renditions, nil
}

func importSnapshot(ctx context.Context, pool *pgxpool.Pool, videos []models.Video, jobs []models.TranscodingJob, renditions []models.Rendition) error {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin import: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for _, video := range videos {
		if _, err := tx.Exec(ctx,
			`INSERT INTO videos (id, title, slug, status, source_path, file_size, duration_seconds, hls_url, thumbnail_url, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
			 ON CONFLICT (id) DO NOTHING`,
			video.ID, video.Title, video.Slug, video.Status, video.SourcePath, video.FileSize,
			video.DurationSeconds, video.HLSURL, video.ThumbnailURL, video.CreatedAt, video.UpdatedAt); err != nil {
			return fmt.Errorf("insert video %s: %w", video.ID, err)
		}
	}
	for _, job := range jobs {
		if _, err := tx.Exec(ctx,
			`INSERT INTO transcoding_jobs (id, video_id, status, progress, error_message, started_at, completed_at, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			 ON CONFLICT (id) DO NOTHING`,
			job.ID, job.VideoID, job.Status, job.Progress, job.ErrorMessage,
			job.StartedAt, job.CompletedAt, job.CreatedAt, job.UpdatedAt); err != nil {
			return fmt.Errorf("insert job %s: %w", job.ID, err)
		}
	}
	for _, rendition := range renditions {
		if _, err := tx.Exec(ctx,
			`INSERT INTO renditions (id, video_id, profile, width, height, bitrate, codec, url, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			 ON CONFLICT (id) DO NOTHING`,
			rendition.ID, rendition.VideoID, rendition.Profile, rendition.Width, rendition.Height,
			rendition.Bitrate, rendition.Codec, rendition.URL, rendition.CreatedAt); err != nil {
			return fmt.Errorf("insert rendition %s: %w", rendition.ID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit import: %w", err)
	}
	return nil
}

func verifyCounts(ctx context.Context, pool *pgxpool.Pool, videos, jobs, renditions int) error {
	checks := []struct {
		name     string
		query    string
		expected int
	}{
		{"videos", "SELECT COUNT(*) FROM videos", videos},
		{"transcoding_jobs", "SELECT COUNT(*) FROM transcoding_jobs", jobs},
		{"renditions", "SELECT COUNT(*) FROM renditions", renditions},
	}
	for _, check := range checks {
		var actual int
		if err := pool.QueryRow(ctx, check.query).Scan(&actual); err != nil {
			return fmt.Errorf("query %s: %w", check.name, err)
		}
		if actual < check.expected {
			return fmt.Errorf("mismatch for %s: expected at least %d, got %d", check.name, check.expected, actual)
		}
	}
	return nil
}
