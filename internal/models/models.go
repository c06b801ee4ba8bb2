package models

import "time"

// Video lifecycle statuses. A video enters "processing" as soon as a
// transcoding job exists for it and only reaches "ready" when that job
// completes with a playable HLS package.
const (
	VideoStatusUploading  = "uploading"
	VideoStatusProcessing = "processing"
	VideoStatusReady      = "ready"
	VideoStatusFailed     = "failed"
)

// Transcoding job statuses.
const (
	JobStatusPending    = "pending"
	JobStatusProcessing = "processing"
	JobStatusCompleted  = "completed"
	JobStatusFailed     = "failed"
)

// Video is the canonical record for an uploaded asset. DurationSeconds is
// nil until the source has been probed; HLSURL and ThumbnailURL are set when
// transcoding completes.
type Video struct {
	ID              string    `json:"id"`
	Title           string    `json:"title"`
	Slug            string    `json:"slug"`
	Status          string    `json:"status"`
	SourcePath      string    `json:"sourcePath,omitempty"`
	FileSize        int64     `json:"fileSize,omitempty"`
	DurationSeconds *float64  `json:"durationSeconds,omitempty"`
	HLSURL          string    `json:"hlsUrl,omitempty"`
	ThumbnailURL    string    `json:"thumbnailUrl,omitempty"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

// TranscodingJob tracks one transcode run of a video source. Progress moves
// monotonically from 0 to 100 within a run; a retry resets it to 0 while
// keeping the same job ID.
type TranscodingJob struct {
	ID           string     `json:"id"`
	VideoID      string     `json:"videoId"`
	Status       string     `json:"status"`
	Progress     int        `json:"progress"`
	ErrorMessage string     `json:"errorMessage,omitempty"`
	StartedAt    *time.Time `json:"startedAt,omitempty"`
	CompletedAt  *time.Time `json:"completedAt,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
	UpdatedAt    time.Time  `json:"updatedAt"`
}

// Terminal reports whether the job has reached a final status.
func (j TranscodingJob) Terminal() bool {
	return j.Status == JobStatusCompleted || j.Status == JobStatusFailed
}

// Rendition records one encoded variant of a video. URL points at the
// variant playlist and is absolute, so API consumers can play it without
// knowing the on-disk layout.
type Rendition struct {
	ID        string    `json:"id"`
	VideoID   string    `json:"videoId"`
	Profile   string    `json:"profile"`
	Width     int       `json:"width"`
	Height    int       `json:"height"`
	Bitrate   int       `json:"bitrate"`
	Codec     string    `json:"codec"`
	URL       string    `json:"url"`
	CreatedAt time.Time `json:"createdAt"`
}
