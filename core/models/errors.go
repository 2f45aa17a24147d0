package models

import (
	"errors"
	"fmt"
)

// CommandLog captures one external command invocation result
type CommandLog struct {
	Command  string   `json:"command"`
	Args     []string `json:"args"`
	ExitCode int      `json:"exitCode"`
	Stderr   string   `json:"stderr,omitempty"`
}

// MediaDecodeError reports a source that cannot be parsed as audio/video,
// has no audio track, or cannot be cut into chunks.
type MediaDecodeError struct {
	Path       string
	Message    string
	CommandLog CommandLog
	Err        error
}

func (e *MediaDecodeError) Error() string {
	if e == nil {
		return ""
	}
	if e.CommandLog.Command == "" {
		return fmt.Sprintf("media decode: %s", e.Message)
	}
	return fmt.Sprintf("media decode: %s (cmd=%s exit=%d)", e.Message, e.CommandLog.Command, e.CommandLog.ExitCode)
}

func (e *MediaDecodeError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// TranscriptionServiceError reports a failed or malformed call to the
// speech-to-text service. Message is the upstream message verbatim.
type TranscriptionServiceError struct {
	Chunk      int
	StatusCode int
	Message    string
	Err        error
}

func (e *TranscriptionServiceError) Error() string {
	if e == nil {
		return ""
	}
	return e.Message
}

func (e *TranscriptionServiceError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// StorageError reports an artifact read, write or delete failure
type StorageError struct {
	Op   string // read | write | delete
	Path string
	Err  error
}

func (e *StorageError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("storage %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *StorageError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// ErrorKind names the failure class of err for logs and events
func ErrorKind(err error) string {
	var decodeErr *MediaDecodeError
	var serviceErr *TranscriptionServiceError
	var storageErr *StorageError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &decodeErr):
		return "media_decode"
	case errors.As(err, &serviceErr):
		return "transcription_service"
	case errors.As(err, &storageErr):
		return "storage"
	default:
		return "internal"
	}
}

// FailureMessage is the human-readable job error for err
func FailureMessage(err error) string {
	var serviceErr *TranscriptionServiceError
	if errors.As(err, &serviceErr) {
		return serviceErr.Message
	}
	return err.Error()
}
