package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Addr != ":8787" {
		t.Fatalf("Addr = %q", cfg.Addr)
	}
	if cfg.BundleTimeout != 5*time.Second {
		t.Fatalf("BundleTimeout = %v, want 5s", cfg.BundleTimeout)
	}
	if cfg.BlobBucket != "thesis-documents" {
		t.Fatalf("BlobBucket = %q", cfg.BlobBucket)
	}
	if cfg.RedisURL != "" {
		t.Fatalf("RedisURL = %q, want empty", cfg.RedisURL)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("THESISFLOW_BUNDLE_TIMEOUT", "250ms")
	t.Setenv("BLOB_USE_SSL", "true")
	t.Setenv("THESISFLOW_MAX_UPLOAD_MB", "5")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.BundleTimeout != 250*time.Millisecond {
		t.Fatalf("BundleTimeout = %v", cfg.BundleTimeout)
	}
	if !cfg.BlobUseSSL {
		t.Fatal("expected BlobUseSSL")
	}
	if cfg.MaxUploadMB != 5 {
		t.Fatalf("MaxUploadMB = %d", cfg.MaxUploadMB)
	}
}

func TestLoadRejectsMalformedDuration(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("THESISFLOW_ACCESS_TTL", "soon")

	if _, err := Load(); err == nil {
		t.Fatal("expected parse error")
	}
}
