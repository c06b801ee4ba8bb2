package transcode

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Encoder abstracts the external media tooling so the pipeline can be tested
// without ffmpeg installed.
type Encoder interface {
	ExtractThumbnail(ctx context.Context, src, dst string) error
	TranscodeProfile(ctx context.Context, src, dir string, profile Profile) error
	ProbeDuration(ctx context.Context, src string) (float64, error)
}

// FFmpeg shells out to ffmpeg and ffprobe.
type FFmpeg struct {
	FFmpegPath  string
	FFprobePath string
	// EncodeTimeout bounds a single profile encode, ShortTimeout bounds
	// thumbnail extraction and probing.
	EncodeTimeout time.Duration
	ShortTimeout  time.Duration
}

var _ Encoder = (*FFmpeg)(nil)

func (f *FFmpeg) ffmpeg() string {
	if strings.TrimSpace(f.FFmpegPath) != "" {
		return f.FFmpegPath
	}
	return "ffmpeg"
}

func (f *FFmpeg) ffprobe() string {
	if strings.TrimSpace(f.FFprobePath) != "" {
		return f.FFprobePath
	}
	return "ffprobe"
}

func (f *FFmpeg) encodeTimeout() time.Duration {
	if f.EncodeTimeout > 0 {
		return f.EncodeTimeout
	}
	return 2 * time.Hour
}

func (f *FFmpeg) shortTimeout() time.Duration {
	if f.ShortTimeout > 0 {
		return f.ShortTimeout
	}
	return 30 * time.Second
}

// ExtractThumbnail grabs a single frame ten seconds in, scaled to fit 720p.
func (f *FFmpeg) ExtractThumbnail(ctx context.Context, src, dst string) error {
	args := []string{
		"-i", src,
		"-ss", "00:00:10",
		"-vframes", "1",
		"-vf", "scale=1280:720:force_original_aspect_ratio=decrease",
		"-q:v", "2",
		"-y", dst,
	}
	_, err := runCommand(ctx, f.ffmpeg(), args, f.shortTimeout())
	return err
}

// TranscodeProfile encodes src into an H.264/AAC HLS rendition under dir.
// The scale filter shrinks to fit and pads to the exact profile dimensions so
// non-16:9 sources are letterboxed rather than stretched. The -y flag lets a
// retried job overwrite the playlist a previous attempt left behind.
func (f *FFmpeg) TranscodeProfile(ctx context.Context, src, dir string, profile Profile) error {
	args := []string{
		"-i", src,
		"-c:v", "libx264",
		"-preset", "medium",
		"-b:v", profile.Bitrate,
		"-maxrate", profile.Bitrate,
		"-bufsize", doubleBitrate(profile.Bitrate),
		"-vf", scalePadFilter(profile.Width, profile.Height),
		"-c:a", "aac",
		"-b:a", "128k",
		"-ar", "44100",
		"-hls_time", "6",
		"-hls_playlist_type", "vod",
		"-hls_list_size", "0",
		"-hls_segment_filename", filepath.Join(dir, "segment_%03d.ts"),
		"-f", "hls",
		"-y", filepath.Join(dir, "index.m3u8"),
	}
	_, err := runCommand(ctx, f.ffmpeg(), args, f.encodeTimeout())
	return err
}

func scalePadFilter(width, height int) string {
	return fmt.Sprintf("scale=%d:%d:force_original_aspect_ratio=decrease,pad=%d:%d:(ow-iw)/2:(oh-ih)/2",
		width, height, width, height)
}

type probeOutput struct {
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

// ProbeDuration reads the container duration in seconds. Callers treat any
// failure as non-fatal and fall back to an unknown duration.
func (f *FFmpeg) ProbeDuration(ctx context.Context, src string) (float64, error) {
	args := []string{
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		src,
	}
	out, err := runCommand(ctx, f.ffprobe(), args, f.shortTimeout())
	if err != nil {
		return 0, err
	}
	var probe probeOutput
	if err := json.Unmarshal(out, &probe); err != nil {
		return 0, fmt.Errorf("parse ffprobe output: %w", err)
	}
	raw := strings.TrimSpace(probe.Format.Duration)
	if raw == "" {
		return 0, fmt.Errorf("ffprobe output is missing format.duration")
	}
	duration, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("parse duration %q: %w", raw, err)
	}
	return duration, nil
}

// doubleBitrate returns twice the rate for the encoder's bufsize argument,
// preserving the "k"/"M" suffix.
func doubleBitrate(bitrate string) string {
	trimmed := strings.TrimSpace(bitrate)
	suffix := ""
	if n := len(trimmed); n > 0 {
		switch trimmed[n-1] {
		case 'k', 'K', 'm', 'M':
			suffix = trimmed[n-1:]
			trimmed = trimmed[:n-1]
		}
	}
	value, err := strconv.Atoi(trimmed)
	if err != nil {
		return bitrate
	}
	return strconv.Itoa(value*2) + suffix
}
