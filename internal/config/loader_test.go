package config

import (
	"testing"
	"time"
)

func TestLoadAppliesEnvOverrides(t *testing.T) {
	t.Setenv("SHEETAUDIT_QUEUE_PROJECT_ID", "audit-prod")
	t.Setenv("SHEETAUDIT_DATABASE_HOST", "db.internal")
	t.Setenv("SHEETAUDIT_STORAGE_PATH", "/var/blobs")
	t.Setenv("SHEETAUDIT_WORKER_STALE_AFTER", "30m")

	cfg, err := Load(t.TempDir())
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	if cfg.Database.Host != "db.internal" {
		t.Fatalf("expected database host from env, got %q", cfg.Database.Host)
	}
	if cfg.Queue.ProjectID != "audit-prod" {
		t.Fatalf("expected queue project id from env, got %q", cfg.Queue.ProjectID)
	}
	if cfg.Storage.Path != "/var/blobs" {
		t.Fatalf("expected storage path from env, got %q", cfg.Storage.Path)
	}
	if cfg.Worker.StaleAfter != 30*time.Minute {
		t.Fatalf("expected stale_after 30m from env, got %v", cfg.Worker.StaleAfter)
	}
}

func TestLoadDefaultsWithoutConfigFile(t *testing.T) {
	t.Setenv("SHEETAUDIT_QUEUE_PROJECT_ID", "audit-prod")

	cfg, err := Load(t.TempDir())
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	if cfg.Database.Port != 5432 {
		t.Fatalf("expected default database port, got %d", cfg.Database.Port)
	}
	if cfg.Server.Port != 8080 {
		t.Fatalf("expected default server port, got %d", cfg.Server.Port)
	}
	if cfg.Storage.Backend != "fs" {
		t.Fatalf("expected default fs backend, got %q", cfg.Storage.Backend)
	}
	if cfg.Queue.Topic != "sheetaudit-extraction" {
		t.Fatalf("expected default topic, got %q", cfg.Queue.Topic)
	}
}

func TestLoadRequiresQueueProjectID(t *testing.T) {
	t.Setenv("SHEETAUDIT_QUEUE_PROJECT_ID", "")

	if _, err := Load(t.TempDir()); err == nil {
		t.Fatalf("expected validation error without a queue project id")
	}
}

func TestLoadRequiresBucketForGCSBackend(t *testing.T) {
	t.Setenv("SHEETAUDIT_QUEUE_PROJECT_ID", "audit-prod")
	t.Setenv("SHEETAUDIT_STORAGE_BACKEND", "gcs")

	if _, err := Load(t.TempDir()); err == nil {
		t.Fatalf("expected validation error for gcs backend without a bucket")
	}
}
