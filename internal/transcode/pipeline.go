package transcode

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"time"

	"streamvault/internal/observability/logging"
	"streamvault/internal/observability/metrics"
	"streamvault/internal/queue"
	"streamvault/internal/storage"
)

// renditionCodec is recorded on every rendition row; the encoder always
// produces H.264 via libx264.
const renditionCodec = "h264"

// Pipeline executes one transcoding job end to end: claim the job record,
// extract a thumbnail, encode every ladder profile, write the master
// manifest, probe the duration, and record the terminal outcome.
type Pipeline struct {
	Store    storage.Repository
	Encoder  Encoder
	Layout   Layout
	Profiles []Profile
	Logger   *slog.Logger
	Metrics  *metrics.Recorder
	// CleanupOnFailure removes the video's output directory when a job
	// fails. Partial artifacts are kept otherwise so failures can be
	// inspected and segments reused.
	CleanupOnFailure bool
}

// Run processes a single delivery. A nil return means the delivery is fully
// handled, including duplicates that were discarded and jobs whose failure
// was recorded in the store. Errors are returned only when the outcome could
// not be persisted.
func (p *Pipeline) Run(ctx context.Context, msg queue.Message) error {
	ctx = logging.ContextWithJobID(ctx, msg.JobID)
	ctx = logging.ContextWithVideoID(ctx, msg.VideoID)
	logger := logging.WithContext(ctx, p.logger())

	job, err := p.Store.ClaimJob(ctx, msg.JobID)
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrJobNotClaimable):
			// Duplicate delivery or a job another worker already owns.
			p.metrics().JobDiscarded()
			logger.Info("discarding delivery for unclaimable job")
			return nil
		case errors.Is(err, storage.ErrJobNotFound):
			p.metrics().JobDiscarded()
			logger.Warn("discarding delivery for unknown job")
			return nil
		default:
			return fmt.Errorf("claim job %s: %w", msg.JobID, err)
		}
	}
	p.metrics().JobStarted()
	logger.Info("transcoding started", "source", msg.SourcePath, "attempt_created_at", job.CreatedAt)

	profiles := p.profiles()
	if err := p.Layout.EnsureVideoDirs(msg.VideoID, profiles); err != nil {
		return p.fail(ctx, logger, msg, err)
	}

	stageStart := time.Now()
	if err := p.Encoder.ExtractThumbnail(ctx, msg.SourcePath, p.Layout.ThumbnailPath(msg.VideoID)); err != nil {
		return p.fail(ctx, logger, msg, err)
	}
	p.metrics().ObserveStage("thumbnail", time.Since(stageStart))
	if err := p.Store.SetJobProgress(ctx, msg.JobID, 10); err != nil {
		return fmt.Errorf("record thumbnail progress: %w", err)
	}

	for i, profile := range profiles {
		stageStart = time.Now()
		dir := p.Layout.ProfileDir(msg.VideoID, profile.Name)
		if err := p.Encoder.TranscodeProfile(ctx, msg.SourcePath, dir, profile); err != nil {
			return p.fail(ctx, logger, msg, err)
		}
		p.metrics().ObserveStage("encode", time.Since(stageStart))
		if _, err := p.Store.AppendRendition(ctx, storage.AppendRenditionParams{
			VideoID: msg.VideoID,
			Profile: profile.Name,
			Width:   profile.Width,
			Height:  profile.Height,
			Bitrate: profile.Bandwidth,
			Codec:   renditionCodec,
			URL:     p.Layout.RenditionURL(msg.BaseURL, msg.VideoID, profile.Name),
		}); err != nil {
			return fmt.Errorf("record %s rendition: %w", profile.Name, err)
		}
		progress := progressAfterProfile(i+1, len(profiles))
		if err := p.Store.SetJobProgress(ctx, msg.JobID, progress); err != nil {
			return fmt.Errorf("record encode progress: %w", err)
		}
		logger.Info("profile encoded", "profile", profile.Name, "progress", progress)
	}

	stageStart = time.Now()
	if err := WriteMasterManifest(p.Layout.MasterPath(msg.VideoID), profiles); err != nil {
		return p.fail(ctx, logger, msg, err)
	}
	p.metrics().ObserveStage("manifest", time.Since(stageStart))

	stageStart = time.Now()
	// A failed probe records a zero duration rather than leaving the field
	// unset, so players always see a number.
	duration, err := p.Encoder.ProbeDuration(ctx, msg.SourcePath)
	if err != nil {
		logger.Warn("duration probe failed", "error", err)
		duration = 0
	}
	p.metrics().ObserveStage("probe", time.Since(stageStart))

	completion := storage.JobCompletion{
		DurationSeconds: &duration,
		HLSURL:          p.Layout.PlaybackURL(msg.BaseURL, msg.VideoID),
		ThumbnailURL:    p.Layout.ThumbnailURL(msg.BaseURL, msg.VideoID),
	}
	if _, err := p.Store.CompleteJob(ctx, msg.JobID, completion); err != nil {
		return fmt.Errorf("complete job %s: %w", msg.JobID, err)
	}
	p.metrics().JobCompleted()
	logger.Info("transcoding completed", "hls_url", completion.HLSURL)
	return nil
}

// fail records the stage error as the job's terminal outcome. The original
// error is folded into the job record, not returned; only a store write
// failure propagates.
func (p *Pipeline) fail(ctx context.Context, logger *slog.Logger, msg queue.Message, cause error) error {
	logger.Error("transcoding failed", "error", cause)
	if p.CleanupOnFailure {
		if err := os.RemoveAll(p.Layout.VideoDir(msg.VideoID)); err != nil {
			logger.Warn("cleanup of partial output failed", "error", err)
		}
	}
	if _, err := p.Store.FailJob(ctx, msg.JobID, cause.Error()); err != nil {
		return fmt.Errorf("record job failure: %w", err)
	}
	p.metrics().JobFailed()
	return nil
}

func (p *Pipeline) profiles() []Profile {
	if len(p.Profiles) > 0 {
		return p.Profiles
	}
	return DefaultProfiles()
}

func (p *Pipeline) logger() *slog.Logger {
	if p.Logger != nil {
		return p.Logger
	}
	return slog.Default()
}

func (p *Pipeline) metrics() *metrics.Recorder {
	if p.Metrics != nil {
		return p.Metrics
	}
	return metrics.Default()
}

// progressAfterProfile maps the k-th completed encode of n to the job's
// progress value. The thumbnail stage owns the first 10 points, encoding the
// next 80, completion the rest.
func progressAfterProfile(k, n int) int {
	if n <= 0 {
		return 10
	}
	return 10 + int(math.Round(80*float64(k)/float64(n)))
}
