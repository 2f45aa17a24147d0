package transcription

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"chunk-transcriber/core/models"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAIConfig holds settings for the OpenAI speech-to-text adapter
type OpenAIConfig struct {
	APIKey  string
	BaseURL string // Empty means the public API
	Timeout time.Duration
}

// OpenAIClient transcribes chunks with the audio transcriptions endpoint
type OpenAIClient struct {
	api *openai.Client
}

// NewOpenAIClient creates an adapter for the configured endpoint
func NewOpenAIClient(cfg OpenAIConfig) *OpenAIClient {
	conf := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		conf.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	conf.HTTPClient = &http.Client{Timeout: timeout}
	return &OpenAIClient{api: openai.NewClientWithConfig(conf)}
}

// TranscribeChunk uploads one chunk file and returns its text
func (c *OpenAIClient) TranscribeChunk(ctx context.Context, path, model, language string) (Result, error) {
	if model == "" {
		model = models.DefaultModel
	}
	resp, err := c.api.CreateTranscription(ctx, openai.AudioRequest{
		Model:    model,
		FilePath: path,
		Language: NormalizeLanguage(language),
		Format:   openai.AudioResponseFormatJSON,
	})
	if err != nil {
		return Result{}, serviceError(err)
	}
	return Result{Text: resp.Text}, nil
}

// serviceError converts adapter errors into the transcription error kind,
// keeping the upstream message verbatim when the API supplied one
func serviceError(err error) error {
	svcErr := &models.TranscriptionServiceError{Message: err.Error(), Err: err}

	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case errors.As(err, &apiErr):
		svcErr.StatusCode = apiErr.HTTPStatusCode
		if apiErr.Message != "" {
			svcErr.Message = apiErr.Message
		}
	case errors.As(err, &reqErr):
		svcErr.StatusCode = reqErr.HTTPStatusCode
		body := strings.TrimSpace(string(reqErr.Body))
		if body != "" {
			svcErr.Message = body
		} else {
			svcErr.Message = fmt.Sprintf("transcription service returned %d", reqErr.HTTPStatusCode)
		}
	case errors.Is(err, context.DeadlineExceeded):
		svcErr.Message = "transcription request timed out"
	}
	return svcErr
}
