package models

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

// TestJobStatusTransitions checks the allowed state machine edges.
func TestJobStatusTransitions(t *testing.T) {
	cases := []struct {
		from, to JobStatus
		want     bool
	}{
		{JobStatusQueued, JobStatusProcessing, true},
		{JobStatusQueued, JobStatusError, true},
		{JobStatusQueued, JobStatusDone, false},
		{JobStatusProcessing, JobStatusDone, true},
		{JobStatusProcessing, JobStatusError, true},
		{JobStatusProcessing, JobStatusQueued, false},
		{JobStatusDone, JobStatusError, false},
		{JobStatusError, JobStatusProcessing, false},
	}
	for _, tc := range cases {
		if got := tc.from.CanTransition(tc.to); got != tc.want {
			t.Fatalf("%s -> %s = %v, want %v", tc.from, tc.to, got, tc.want)
		}
	}
}

// TestJobViewHidesTranscriptUntilDone verifies poll output per status.
func TestJobViewHidesTranscriptUntilDone(t *testing.T) {
	job := Job{ID: "j", Status: JobStatusProcessing, Progress: 0.5, Transcript: "partial"}
	if v := job.View(); v.Transcript != nil || v.Error != nil {
		t.Fatalf("processing view = %+v, want no transcript or error", v)
	}

	job.Status = JobStatusDone
	job.Progress = 1
	v := job.View()
	if v.Transcript == nil || *v.Transcript != "partial" {
		t.Fatalf("done view transcript = %v", v.Transcript)
	}

	failed := Job{ID: "j", Status: JobStatusError, Error: "rate limited"}
	v = failed.View()
	if v.Error == nil || *v.Error != "rate limited" || v.Transcript != nil {
		t.Fatalf("error view = %+v", v)
	}
}

// TestJobOptionsWithDefaults checks defaulting of unset options.
func TestJobOptionsWithDefaults(t *testing.T) {
	got := JobOptions{Language: "en"}.WithDefaults()
	if got.ChunkDuration != 300*time.Second {
		t.Fatalf("chunk duration = %v, want 5m", got.ChunkDuration)
	}
	if got.Model != "whisper-1" {
		t.Fatalf("model = %q, want whisper-1", got.Model)
	}
	if got.Language != "en" {
		t.Fatalf("language = %q, want en", got.Language)
	}
}

// TestFailureMessageUsesUpstreamMessage checks error kind mapping.
func TestFailureMessageUsesUpstreamMessage(t *testing.T) {
	err := fmt.Errorf("chunk 2: %w", &TranscriptionServiceError{Chunk: 1, Message: "rate limited"})
	if got := FailureMessage(err); got != "rate limited" {
		t.Fatalf("message = %q, want rate limited", got)
	}
	if got := ErrorKind(err); got != "transcription_service" {
		t.Fatalf("kind = %q", got)
	}

	decode := &MediaDecodeError{Message: "no audio stream", Err: errors.New("x")}
	if got := ErrorKind(decode); got != "media_decode" {
		t.Fatalf("kind = %q", got)
	}
	if got := ErrorKind(&StorageError{Op: "delete", Path: "/tmp/a", Err: errors.New("busy")}); got != "storage" {
		t.Fatalf("kind = %q", got)
	}
	if got := ErrorKind(errors.New("boom")); got != "internal" {
		t.Fatalf("kind = %q", got)
	}
}
