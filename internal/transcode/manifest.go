package transcode

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// BuildMasterManifest renders the HLS master playlist for the given ladder.
// Each profile references its variant playlist relative to the master, so the
// output is position independent. An empty ladder yields just the header.
func BuildMasterManifest(profiles []Profile) string {
	lines := make([]string, 0, 1+2*len(profiles))
	lines = append(lines, "#EXTM3U")
	for _, p := range profiles {
		lines = append(lines,
			fmt.Sprintf("#EXT-X-STREAM-INF:BANDWIDTH=%d,RESOLUTION=%s", p.Bandwidth, p.Resolution()),
			p.Name+"/index.m3u8",
		)
	}
	return strings.Join(lines, "\n")
}

// WriteMasterManifest writes the master playlist to path via a temp file and
// rename so players never observe a partial manifest.
func WriteMasterManifest(path string, profiles []Profile) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "master-*.tmp")
	if err != nil {
		return fmt.Errorf("create manifest temp file: %w", err)
	}
	if _, err := tmp.WriteString(BuildMasterManifest(profiles)); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write manifest: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close manifest temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("replace manifest: %w", err)
	}
	return nil
}
