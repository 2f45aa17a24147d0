package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"chunk-transcriber/config"
)

func TestTranscribeRequiresOneInput(t *testing.T) {
	cmd := newRootCommand(&bytes.Buffer{})
	cmd.SetArgs([]string{})
	cmd.SetErr(&bytes.Buffer{})
	if err := cmd.Execute(); err == nil {
		t.Fatal("expected an argument error")
	}
}

func TestTranscribeMissingInput(t *testing.T) {
	cmd := newRootCommand(&bytes.Buffer{})
	cmd.SetArgs([]string{"/nonexistent/talk.mp3"})
	err := cmd.Execute()
	if err == nil || !strings.Contains(err.Error(), "input not found") {
		t.Fatalf("err = %v, want input not found", err)
	}
}

func TestTranscribeRejectsNegativeChunk(t *testing.T) {
	cmd := newRootCommand(&bytes.Buffer{})
	cmd.SetArgs([]string{"--chunk-seconds", "-5", "talk.mp3"})
	err := cmd.Execute()
	if err == nil || !strings.Contains(err.Error(), "chunk-seconds") {
		t.Fatalf("err = %v, want chunk-seconds error", err)
	}
}

func TestScratchStorageIsRemoved(t *testing.T) {
	cfg := config.Defaults()
	cfg.WorkDir = t.TempDir()
	cfg.StorageBackend = "s3"
	cfg.StorageDir = "./data/transcripts"

	release, err := useScratchStorage(cfg)
	if err != nil {
		t.Fatalf("scratch storage: %v", err)
	}
	if cfg.StorageBackend != "local" || !strings.HasPrefix(cfg.StorageDir, cfg.WorkDir) {
		t.Fatalf("storage = %s %s", cfg.StorageBackend, cfg.StorageDir)
	}
	if err := os.WriteFile(filepath.Join(cfg.StorageDir, "job.txt"), []byte("text"), 0o644); err != nil {
		t.Fatalf("write transcript: %v", err)
	}

	release()
	if _, err := os.Stat(cfg.StorageDir); !os.IsNotExist(err) {
		t.Fatalf("scratch storage still present: %v", err)
	}
}
