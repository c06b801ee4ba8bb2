package transcode

import "fmt"

// Profile describes one rung of the adaptive bitrate ladder. Bitrate is the
// ffmpeg rate argument ("800k"), Bandwidth the equivalent bits per second
// advertised in the master manifest.
type Profile struct {
	Name      string
	Width     int
	Height    int
	Bitrate   string
	Bandwidth int
}

// Resolution returns the profile's dimensions formatted for ffmpeg filters
// and manifest attributes.
func (p Profile) Resolution() string {
	return fmt.Sprintf("%dx%d", p.Width, p.Height)
}

// DefaultProfiles returns the standard ladder, lowest rung first.
func DefaultProfiles() []Profile {
	return []Profile{
		{Name: "360p", Width: 640, Height: 360, Bitrate: "800k", Bandwidth: 800_000},
		{Name: "480p", Width: 854, Height: 480, Bitrate: "1400k", Bandwidth: 1_400_000},
		{Name: "720p", Width: 1280, Height: 720, Bitrate: "2800k", Bandwidth: 2_800_000},
		{Name: "1080p", Width: 1920, Height: 1080, Bitrate: "5000k", Bandwidth: 5_000_000},
	}
}
