package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{"API_ADDR", "DATABASE_URL", "REDIS_URL", "MEILI_URL", "SNAPSHOT_BACKEND", "MARGINALIA_CACHE_TTL_SECONDS", "MARGINALIA_LOG_DEV"} {
		t.Setenv(key, "")
	}
	cfg := Load()

	if cfg.Addr != ":8787" {
		t.Fatalf("expected default addr, got %q", cfg.Addr)
	}
	if cfg.RedisURL != "" || cfg.MeiliURL != "" {
		t.Fatalf("expected optional backends disabled by default, got redis=%q meili=%q", cfg.RedisURL, cfg.MeiliURL)
	}
	if cfg.CacheTTL != 10*time.Minute {
		t.Fatalf("expected 10m cache ttl, got %v", cfg.CacheTTL)
	}
	if cfg.SnapshotBackend != SnapshotBackendDisk {
		t.Fatalf("expected disk snapshots, got %q", cfg.SnapshotBackend)
	}
	if cfg.LogDev {
		t.Fatal("expected production logging by default")
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("API_ADDR", ":9999")
	t.Setenv("DATABASE_URL", "sqlite://./dev.db")
	t.Setenv("MARGINALIA_CACHE_TTL_SECONDS", "30")
	t.Setenv("SNAPSHOT_BACKEND", "S3")
	t.Setenv("S3_USE_SSL", "true")
	t.Setenv("MARGINALIA_LOG_DEV", "1")
	cfg := Load()

	if cfg.Addr != ":9999" || cfg.DatabaseURL != "sqlite://./dev.db" {
		t.Fatalf("unexpected config %+v", cfg)
	}
	if cfg.CacheTTL != 30*time.Second {
		t.Fatalf("expected 30s ttl, got %v", cfg.CacheTTL)
	}
	if cfg.SnapshotBackend != SnapshotBackendS3 || !cfg.S3UseSSL || !cfg.LogDev {
		t.Fatalf("unexpected snapshot/log settings %+v", cfg)
	}
}

func TestMalformedNumbersFallBack(t *testing.T) {
	t.Setenv("MARGINALIA_CACHE_TTL_SECONDS", "ten")
	t.Setenv("S3_USE_SSL", "maybe")
	cfg := Load()
	if cfg.CacheTTL != 10*time.Minute || cfg.S3UseSSL {
		t.Fatalf("expected fallbacks, got ttl=%v ssl=%v", cfg.CacheTTL, cfg.S3UseSSL)
	}
}
