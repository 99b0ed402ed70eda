package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	os.Unsetenv("LIMITS_CONFIG_PATH")
	os.Unsetenv("LIMIT_DAILY_REQUESTS")

	lim, err := Load(nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if lim.DailyRequestsPerUser != 10 {
		t.Fatalf("DailyRequestsPerUser: expected 10 got %d", lim.DailyRequestsPerUser)
	}
	if lim.ResolvePollInterval() != 5*time.Second {
		t.Fatalf("ResolvePollInterval: got %v", lim.ResolvePollInterval())
	}
	if lim.ResolveTimeout() != 10*time.Minute {
		t.Fatalf("ResolveTimeout: got %v", lim.ResolveTimeout())
	}
}

func TestLoadYAMLWithEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "limits.yaml")
	body := []byte("daily_requests_per_user: 25\nbatch_size: 5\nrender_timeout_minutes: 90\n")
	if err := os.WriteFile(path, body, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("LIMITS_CONFIG_PATH", path)
	t.Setenv("BATCH_SIZE", "7")

	lim, err := Load(nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if lim.DailyRequestsPerUser != 25 {
		t.Fatalf("DailyRequestsPerUser: expected 25 got %d", lim.DailyRequestsPerUser)
	}
	// env wins over file
	if lim.BatchSize != 7 {
		t.Fatalf("BatchSize: expected 7 got %d", lim.BatchSize)
	}
	if lim.RenderTimeout() != 90*time.Minute {
		t.Fatalf("RenderTimeout: got %v", lim.RenderTimeout())
	}
}

func TestSanitizedRejectsNonsense(t *testing.T) {
	lim := Limits{BatchSize: -1, ConcurrentPerUser: 0}.sanitized()
	if lim.BatchSize != 3 || lim.ConcurrentPerUser != 2 {
		t.Fatalf("sanitized: got %+v", lim)
	}
}
