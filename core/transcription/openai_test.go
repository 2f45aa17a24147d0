package transcription

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"chunk-transcriber/core/models"
)

func writeChunk(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "talk_part0.mp3")
	if err := os.WriteFile(path, []byte("ID3fake"), 0o644); err != nil {
		t.Fatalf("write chunk: %v", err)
	}
	return path
}

func newTestServer(t *testing.T, handler http.HandlerFunc) *OpenAIClient {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/audio/transcriptions", handler)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return NewOpenAIClient(OpenAIConfig{APIKey: "test-key", BaseURL: srv.URL + "/v1"})
}

func TestOpenAIClientReturnsText(t *testing.T) {
	var gotModel, gotLanguage, gotAuth string
	client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse form: %v", err)
		}
		gotModel = r.FormValue("model")
		gotLanguage = r.FormValue("language")
		gotAuth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"text":"hello world"}`))
	})

	res, err := client.TranscribeChunk(context.Background(), writeChunk(t), "whisper-1", "de")
	if err != nil {
		t.Fatalf("transcribe: %v", err)
	}
	if res.Text != "hello world" {
		t.Fatalf("text = %q, want %q", res.Text, "hello world")
	}
	if gotModel != "whisper-1" || gotLanguage != "de" {
		t.Fatalf("form model=%q language=%q", gotModel, gotLanguage)
	}
	if gotAuth != "Bearer test-key" {
		t.Fatalf("authorization = %q", gotAuth)
	}
}

func TestOpenAIClientAutoLanguageSendsNoHint(t *testing.T) {
	var sawLanguage bool
	client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseMultipartForm(1 << 20)
		_, sawLanguage = r.MultipartForm.Value["language"]
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"text":""}`))
	})

	res, err := client.TranscribeChunk(context.Background(), writeChunk(t), "", "auto")
	if err != nil {
		t.Fatalf("transcribe: %v", err)
	}
	if res.Text != "" {
		t.Fatalf("text = %q, want empty", res.Text)
	}
	if sawLanguage {
		t.Fatal("language field sent for auto")
	}
}

func TestOpenAIClientKeepsUpstreamMessage(t *testing.T) {
	client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"message":"rate limited","type":"requests"}}`))
	})

	_, err := client.TranscribeChunk(context.Background(), writeChunk(t), "whisper-1", "")
	var svcErr *models.TranscriptionServiceError
	if !errors.As(err, &svcErr) {
		t.Fatalf("err = %v, want TranscriptionServiceError", err)
	}
	if svcErr.Message != "rate limited" || svcErr.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("service error = %q/%d", svcErr.Message, svcErr.StatusCode)
	}
	if models.FailureMessage(err) != "rate limited" {
		t.Fatalf("failure message = %q", models.FailureMessage(err))
	}
}

func TestOpenAIClientMalformedResponse(t *testing.T) {
	client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`not json`))
	})

	_, err := client.TranscribeChunk(context.Background(), writeChunk(t), "whisper-1", "")
	var svcErr *models.TranscriptionServiceError
	if !errors.As(err, &svcErr) {
		t.Fatalf("err = %v, want TranscriptionServiceError", err)
	}
}

func TestNormalizeLanguage(t *testing.T) {
	cases := map[string]string{"": "", "auto": "", " AUTO ": "", "en": "en", " fr ": "fr"}
	for in, want := range cases {
		if got := NormalizeLanguage(in); got != want {
			t.Fatalf("NormalizeLanguage(%q) = %q, want %q", in, got, want)
		}
	}
}
