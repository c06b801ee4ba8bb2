package transcode

import (
	"os"
	"path/filepath"
	"testing"
)

func TestBuildMasterManifestDefaultLadder(t *testing.T) {
	got := BuildMasterManifest(DefaultProfiles())
	want := "#EXTM3U\n" +
		"#EXT-X-STREAM-INF:BANDWIDTH=800000,RESOLUTION=640x360\n" +
		"360p/index.m3u8\n" +
		"#EXT-X-STREAM-INF:BANDWIDTH=1400000,RESOLUTION=854x480\n" +
		"480p/index.m3u8\n" +
		"#EXT-X-STREAM-INF:BANDWIDTH=2800000,RESOLUTION=1280x720\n" +
		"720p/index.m3u8\n" +
		"#EXT-X-STREAM-INF:BANDWIDTH=5000000,RESOLUTION=1920x1080\n" +
		"1080p/index.m3u8"
	if got != want {
		t.Fatalf("unexpected manifest:\n%s\nwant:\n%s", got, want)
	}
}

func TestBuildMasterManifestEmptyLadder(t *testing.T) {
	if got := BuildMasterManifest(nil); got != "#EXTM3U" {
		t.Fatalf("expected bare header for empty ladder, got %q", got)
	}
}

func TestWriteMasterManifestReplacesAtomically(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "master.m3u8")
	if err := os.WriteFile(path, []byte("stale"), 0o644); err != nil {
		t.Fatalf("seed manifest: %v", err)
	}

	profiles := DefaultProfiles()[:2]
	if err := WriteMasterManifest(path, profiles); err != nil {
		t.Fatalf("write manifest: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read manifest: %v", err)
	}
	if string(data) != BuildMasterManifest(profiles) {
		t.Fatalf("unexpected manifest contents: %q", data)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected no leftover temp files, found %d entries", len(entries))
	}
}

func TestDefaultProfilesLadderOrder(t *testing.T) {
	profiles := DefaultProfiles()
	if len(profiles) != 4 {
		t.Fatalf("expected 4 profiles, got %d", len(profiles))
	}
	names := []string{"360p", "480p", "720p", "1080p"}
	for i, want := range names {
		if profiles[i].Name != want {
			t.Fatalf("profile %d = %s, want %s", i, profiles[i].Name, want)
		}
	}
	if res := profiles[2].Resolution(); res != "1280x720" {
		t.Fatalf("unexpected 720p resolution %s", res)
	}
}
