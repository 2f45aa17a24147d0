package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-test")
	cfg, err := Load("", "")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.MaxUploadBytes() != 100<<20 {
		t.Fatalf("max upload = %d, want 100MB", cfg.MaxUploadBytes())
	}
	if cfg.ChunkDuration() != 300*time.Second || cfg.TranscribeModel != "whisper-1" {
		t.Fatalf("chunk = %v model = %s", cfg.ChunkDuration(), cfg.TranscribeModel)
	}
}

func TestLoadPrecedence(t *testing.T) {
	yamlPath := writeFile(t, "config.yaml", strings.Join([]string{
		"server_port: \"9000\"",
		"chunk_seconds: 120",
		"transcribe_model: yaml-model",
		"breaker_cooldown: 1m",
	}, "\n"))
	envPath := writeFile(t, ".env", strings.Join([]string{
		"OPENAI_API_KEY=from-dotenv",
		"CHUNK_SECONDS=60",
		"TRANSCRIBE_MODEL=dotenv-model",
	}, "\n"))
	t.Setenv("TRANSCRIBE_MODEL", "env-model")
	t.Setenv("OPENAI_API_KEY", "")

	cfg, err := Load(yamlPath, envPath)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ServerPort != "9000" {
		t.Fatalf("port = %s, want yaml value", cfg.ServerPort)
	}
	if cfg.ChunkSeconds != 60 {
		t.Fatalf("chunk seconds = %d, want dotenv value", cfg.ChunkSeconds)
	}
	if cfg.OpenAIAPIKey != "from-dotenv" {
		t.Fatalf("api key = %q", cfg.OpenAIAPIKey)
	}
	if cfg.TranscribeModel != "env-model" {
		t.Fatalf("model = %s, want environment to win", cfg.TranscribeModel)
	}
	if cfg.BreakerCooldown != time.Minute {
		t.Fatalf("cooldown = %v", cfg.BreakerCooldown)
	}
}

func TestLoadRejectsBadValues(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("CHUNK_SECONDS", "abc")
	if _, err := Load("", ""); err == nil || !strings.Contains(err.Error(), "CHUNK_SECONDS") {
		t.Fatalf("err = %v, want CHUNK_SECONDS parse error", err)
	}

	t.Setenv("CHUNK_SECONDS", "0")
	if _, err := Load("", ""); err == nil {
		t.Fatal("expected validation error for zero chunk seconds")
	}
}

func TestLoadMissingExplicitEnvFile(t *testing.T) {
	if _, err := Load("", filepath.Join(t.TempDir(), "missing.env")); err == nil {
		t.Fatal("expected error for missing env file")
	}
}

func TestValidateStorageBackend(t *testing.T) {
	cfg := Defaults()
	cfg.OpenAIAPIKey = "sk-test"
	cfg.StorageBackend = "s3"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected bucket error")
	}
	cfg.S3Bucket = "transcripts"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	cfg.StorageBackend = "ftp"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected unknown backend error")
	}
}

func TestLoadRequiresAPIKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("OPENAI_BASE_URL", "")
	_, err := Load("", "")
	if err == nil || !strings.Contains(err.Error(), "OPENAI_API_KEY") {
		t.Fatalf("err = %v, want missing api key error", err)
	}

	t.Setenv("OPENAI_BASE_URL", "http://localhost:8000/v1")
	cfg, err := Load("", "")
	if err != nil {
		t.Fatalf("load with base url: %v", err)
	}
	if cfg.OpenAIAPIKey != "" || cfg.OpenAIBaseURL != "http://localhost:8000/v1" {
		t.Fatalf("key = %q base = %q", cfg.OpenAIAPIKey, cfg.OpenAIBaseURL)
	}
}
