package config

import (
	"os"
	"testing"
)

func TestLoad_FailsWithoutRequiredDatabaseURL(t *testing.T) {
	os.Unsetenv("DATABASE_URL")
	if _, err := Load(); err == nil {
		t.Fatalf("expected error when DATABASE_URL is unset")
	}
}

func TestLoad_AppliesDefaultsForOptionalSettings(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/db")
	os.Unsetenv("PORT")
	os.Unsetenv("STORAGE_ROOT")
	os.Unsetenv("RATE_LIMIT_PER_MIN")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Port != "8080" {
		t.Fatalf("expected default port 8080, got %q", cfg.Port)
	}
	if cfg.StorageRoot != "./data" {
		t.Fatalf("expected default storage root ./data, got %q", cfg.StorageRoot)
	}
	if cfg.RateLimitPerMin != 120 {
		t.Fatalf("expected default rate limit 120, got %d", cfg.RateLimitPerMin)
	}
}

func TestLoad_RejectsNonIntegerRateLimit(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/db")
	t.Setenv("RATE_LIMIT_PER_MIN", "not-a-number")
	if _, err := Load(); err == nil {
		t.Fatalf("expected error for non-integer RATE_LIMIT_PER_MIN")
	}
}

func TestLoad_HonorsExplicitOverrides(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/db")
	t.Setenv("PORT", "9090")
	t.Setenv("RATE_LIMIT_BURST", "5")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Port != "9090" {
		t.Fatalf("expected overridden port 9090, got %q", cfg.Port)
	}
	if cfg.RateLimitBurst != 5 {
		t.Fatalf("expected overridden burst 5, got %d", cfg.RateLimitBurst)
	}
}
