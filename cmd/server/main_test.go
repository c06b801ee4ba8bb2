package main

import (
	"context"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"streamvault/internal/queue"
)

func TestConfigureQueueDefaultsToMemory(t *testing.T) {
	q, err := configureQueue("", queue.RedisQueueConfig{}, slog.Default())
	if err != nil {
		t.Fatalf("configureQueue returned error: %v", err)
	}
	if q == nil {
		t.Fatal("configureQueue returned nil queue")
	}
	_ = q.Close()
}

func TestConfigureQueueRedisMissingAddress(t *testing.T) {
	_, err := configureQueue("redis", queue.RedisQueueConfig{}, slog.Default())
	if err == nil {
		t.Fatal("expected error when redis addr missing")
	}
}

func TestConfigureQueueUnknownDriver(t *testing.T) {
	_, err := configureQueue("rabbitmq", queue.RedisQueueConfig{}, slog.Default())
	if err == nil {
		t.Fatal("expected error for unsupported driver")
	}
}

func TestOpenStoreDefaultsToJSON(t *testing.T) {
	store, err := openStore(context.Background(), storeSettings{
		DataPath: filepath.Join(t.TempDir(), "store.json"),
	})
	if err != nil {
		t.Fatalf("openStore returned error: %v", err)
	}
	defer store.Close(context.Background())

	if err := store.Ping(context.Background()); err != nil {
		t.Fatalf("ping: %v", err)
	}
}

func TestOpenStorePostgresRequiresDSN(t *testing.T) {
	if _, err := openStore(context.Background(), storeSettings{Driver: "postgres"}); err == nil {
		t.Fatal("expected error when postgres selected without DSN")
	}
}

func TestFirstNonEmptySkipsBlankValues(t *testing.T) {
	if got := firstNonEmpty("  ", "", "value", "other"); got != "value" {
		t.Fatalf("firstNonEmpty = %q, want %q", got, "value")
	}
	if got := firstNonEmpty("", "   "); got != "" {
		t.Fatalf("firstNonEmpty = %q, want empty", got)
	}
}

func TestSplitAndTrim(t *testing.T) {
	got := splitAndTrim(" a, ,b ,c")
	want := []string{"a", "b", "c"}
	if len(got) != len(want) {
		t.Fatalf("splitAndTrim = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("splitAndTrim[%d] = %q, want %q", i, got[i], want[i])
		}
	}
	if splitAndTrim("  ") != nil {
		t.Fatal("expected nil for blank input")
	}
}

func TestResolveDurationFallsBack(t *testing.T) {
	if got := resolveDuration(0, "STREAMVAULT_TEST_UNSET_DURATION", 2*time.Second); got != 2*time.Second {
		t.Fatalf("resolveDuration = %v, want 2s", got)
	}
	if got := resolveDuration(5*time.Second, "STREAMVAULT_TEST_UNSET_DURATION", time.Second); got != 5*time.Second {
		t.Fatalf("resolveDuration = %v, want 5s", got)
	}
	t.Setenv("STREAMVAULT_TEST_DURATION", "750ms")
	if got := resolveDuration(0, "STREAMVAULT_TEST_DURATION", time.Second); got != 750*time.Millisecond {
		t.Fatalf("resolveDuration = %v, want 750ms", got)
	}
}

func TestResolveBoolReadsEnv(t *testing.T) {
	if resolveBool(false, "STREAMVAULT_TEST_UNSET_BOOL") {
		t.Fatal("expected false for unset env")
	}
	t.Setenv("STREAMVAULT_TEST_BOOL", "true")
	if !resolveBool(false, "STREAMVAULT_TEST_BOOL") {
		t.Fatal("expected env override to apply")
	}
	if !resolveBool(true, "STREAMVAULT_TEST_UNSET_BOOL") {
		t.Fatal("flag true must win")
	}
}
