package transcription

import (
	"context"
	"strings"
)

// Result is the typed outcome of one chunk transcription
type Result struct {
	Text string
}

// Client converts one chunk artifact into text. Implementations make a
// single attempt per call and report failures as
// *models.TranscriptionServiceError. Empty text is a valid result.
type Client interface {
	TranscribeChunk(ctx context.Context, path, model, language string) (Result, error)
}

// ClientFunc adapts a plain function to Client
type ClientFunc func(ctx context.Context, path, model, language string) (Result, error)

// TranscribeChunk calls f
func (f ClientFunc) TranscribeChunk(ctx context.Context, path, model, language string) (Result, error) {
	return f(ctx, path, model, language)
}

// NormalizeLanguage maps "" and "auto" to no language hint
func NormalizeLanguage(raw string) string {
	lang := strings.TrimSpace(raw)
	if lang == "" || strings.EqualFold(lang, "auto") {
		return ""
	}
	return lang
}
