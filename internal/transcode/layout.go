package transcode

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// Layout maps video IDs to their on-disk output locations and public URLs.
type Layout struct {
	OutputRoot    string
	ThumbnailRoot string
	BaseURL       string
}

func (l Layout) VideoDir(videoID string) string {
	return filepath.Join(l.OutputRoot, videoID)
}

func (l Layout) ProfileDir(videoID, profile string) string {
	return filepath.Join(l.OutputRoot, videoID, profile)
}

func (l Layout) MasterPath(videoID string) string {
	return filepath.Join(l.OutputRoot, videoID, "master.m3u8")
}

func (l Layout) ThumbnailPath(videoID string) string {
	return filepath.Join(l.ThumbnailRoot, videoID+".jpg")
}

// PlaybackURL returns the public address of the video's master playlist. The
// base URL normally comes from the enqueue message; the layout's own BaseURL
// is the fallback for retries dispatched without one.
func (l Layout) PlaybackURL(baseURL, videoID string) string {
	return joinURL(l.baseOrDefault(baseURL), "hls", videoID, "master.m3u8")
}

// RenditionURL returns the public address of one profile's variant playlist.
func (l Layout) RenditionURL(baseURL, videoID, profile string) string {
	return joinURL(l.baseOrDefault(baseURL), "hls", videoID, profile, "index.m3u8")
}

func (l Layout) ThumbnailURL(baseURL, videoID string) string {
	return joinURL(l.baseOrDefault(baseURL), "thumbnails", videoID+".jpg")
}

// EnsureVideoDirs creates the output directories for a video and the ladder's
// per-profile segment directories.
func (l Layout) EnsureVideoDirs(videoID string, profiles []Profile) error {
	if err := os.MkdirAll(l.VideoDir(videoID), 0o755); err != nil {
		return fmt.Errorf("prepare output dir: %w", err)
	}
	for _, p := range profiles {
		if err := os.MkdirAll(l.ProfileDir(videoID, p.Name), 0o755); err != nil {
			return fmt.Errorf("prepare %s dir: %w", p.Name, err)
		}
	}
	if err := os.MkdirAll(l.ThumbnailRoot, 0o755); err != nil {
		return fmt.Errorf("prepare thumbnail dir: %w", err)
	}
	return nil
}

func (l Layout) baseOrDefault(baseURL string) string {
	if strings.TrimSpace(baseURL) != "" {
		return baseURL
	}
	return l.BaseURL
}

func joinURL(base string, parts ...string) string {
	trimmed := strings.TrimRight(strings.TrimSpace(base), "/")
	addition := path.Join(parts...)
	if addition == "." {
		addition = ""
	}
	if addition == "" {
		return trimmed
	}
	if trimmed == "" {
		return "/" + strings.TrimLeft(addition, "/")
	}
	return trimmed + "/" + strings.TrimLeft(addition, "/")
}
