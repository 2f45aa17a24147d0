package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"chunk-transcriber/core/media"
	"chunk-transcriber/core/models"
	"chunk-transcriber/core/repository"
	"chunk-transcriber/core/transcription"
	"chunk-transcriber/storage"
)

// fakeSegmenter writes one real file per window into a scratch directory
type fakeSegmenter struct {
	duration time.Duration
	openErr  error
	dir      string
}

func (f *fakeSegmenter) Open(ctx context.Context, path string, chunk time.Duration) (ChunkSource, error) {
	if f.openErr != nil {
		return nil, f.openErr
	}
	return &fakeSource{windows: media.Windows(f.duration, chunk), dir: f.dir}, nil
}

type fakeSource struct {
	windows []media.Window
	dir     string
	next    int
	closed  bool
}

func (s *fakeSource) Len() int { return len(s.windows) }

func (s *fakeSource) Next(ctx context.Context) (media.Chunk, error) {
	if s.next >= len(s.windows) {
		return media.Chunk{}, io.EOF
	}
	w := s.windows[s.next]
	s.next++
	path := filepath.Join(s.dir, fmt.Sprintf("src_part%d.mp3", w.Index))
	if err := os.WriteFile(path, []byte("chunk"), 0o644); err != nil {
		return media.Chunk{}, err
	}
	return media.Chunk{Window: w, Path: path}, nil
}

func (s *fakeSource) Close() error {
	s.closed = true
	return nil
}

type harness struct {
	table   *repository.MemoryJobTable
	store   *storage.LocalStore
	runner  *Runner
	scratch string
	calls   []string
	mu      sync.Mutex
}

func newHarness(t *testing.T, seg *fakeSegmenter, respond func(index int, path string) (string, error)) *harness {
	t.Helper()
	h := &harness{
		table:   repository.NewMemoryJobTable(repository.NewMemoryEventRepository(100), nil),
		scratch: t.TempDir(),
	}
	seg.dir = h.scratch
	store, err := storage.NewLocalStore(t.TempDir())
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	h.store = store

	index := 0
	client := transcription.ClientFunc(func(ctx context.Context, path, model, language string) (transcription.Result, error) {
		h.mu.Lock()
		h.calls = append(h.calls, path)
		i := index
		index++
		h.mu.Unlock()
		if _, err := os.Stat(path); err != nil {
			t.Errorf("chunk %d not materialized: %v", i, err)
		}
		text, err := respond(i, path)
		return transcription.Result{Text: text}, err
	})
	h.runner = NewRunner(h.table, seg, client, store, nil)
	return h
}

func (h *harness) submit(t *testing.T, id string, chunk time.Duration) string {
	t.Helper()
	upload := filepath.Join(t.TempDir(), id+"-talk.mp3")
	if err := os.WriteFile(upload, []byte("media"), 0o644); err != nil {
		t.Fatalf("write upload: %v", err)
	}
	job := &models.Job{
		ID:         id,
		SourceName: "talk.mp3",
		SourcePath: upload,
		Options:    models.JobOptions{ChunkDuration: chunk},
		Artifacts:  []string{upload},
	}
	if err := h.table.Create(job); err != nil {
		t.Fatalf("create: %v", err)
	}
	return upload
}

func assertNoChunkFiles(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read scratch: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("residual chunk files: %d", len(entries))
	}
}

func TestRunnerJoinsChunksInOrder(t *testing.T) {
	texts := []string{"a", "b", "c"}
	h := newHarness(t, &fakeSegmenter{duration: 13 * time.Minute}, func(i int, _ string) (string, error) {
		return texts[i], nil
	})
	upload := h.submit(t, "job-1", 300*time.Second)

	if err := h.runner.Run(context.Background(), "job-1"); err != nil {
		t.Fatalf("run: %v", err)
	}

	job, _ := h.table.Get("job-1")
	view := job.View()
	if view.Status != models.JobStatusDone || view.Transcript == nil || *view.Transcript != "a\nb\nc" {
		t.Fatalf("view = %+v", view)
	}
	if job.Progress != 1 || job.ChunksTotal != 3 || job.ChunksDone != 3 {
		t.Fatalf("progress = %v chunks %d/%d", job.Progress, job.ChunksDone, job.ChunksTotal)
	}
	if len(h.calls) != 3 {
		t.Fatalf("calls = %d, want 3", len(h.calls))
	}
	for i, call := range h.calls {
		if want := fmt.Sprintf("src_part%d.mp3", i); filepath.Base(call) != want {
			t.Fatalf("call %d = %s, want %s", i, call, want)
		}
	}

	rc, err := h.store.Open(context.Background(), job.TranscriptKey)
	if err != nil {
		t.Fatalf("open transcript: %v", err)
	}
	stored, _ := io.ReadAll(rc)
	rc.Close()
	if string(stored) != "a\nb\nc" {
		t.Fatalf("stored transcript = %q", stored)
	}

	assertNoChunkFiles(t, h.scratch)
	if _, err := os.Stat(upload); !os.IsNotExist(err) {
		t.Fatalf("upload still present: %v", err)
	}
	if got := h.runner.Stats(); got.ChunksTranscribed != 3 || got.JobsSucceeded != 1 {
		t.Fatalf("stats = %+v", got)
	}
}

func TestRunnerZeroDurationSource(t *testing.T) {
	h := newHarness(t, &fakeSegmenter{duration: 0}, func(int, string) (string, error) {
		return "", errors.New("should not be called")
	})
	h.submit(t, "job-1", 0)

	if err := h.runner.Run(context.Background(), "job-1"); err != nil {
		t.Fatalf("run: %v", err)
	}
	job, _ := h.table.Get("job-1")
	if job.Status != models.JobStatusDone || job.Transcript != "" || job.Progress != 1 {
		t.Fatalf("job = %s %q %v", job.Status, job.Transcript, job.Progress)
	}
	if len(h.calls) != 0 {
		t.Fatalf("calls = %d, want 0", len(h.calls))
	}
}

func TestRunnerFailsFastOnServiceError(t *testing.T) {
	h := newHarness(t, &fakeSegmenter{duration: 4 * time.Minute}, func(i int, _ string) (string, error) {
		if i == 2 {
			return "", &models.TranscriptionServiceError{StatusCode: 429, Message: "rate limited"}
		}
		return fmt.Sprintf("t%d", i), nil
	})
	upload := h.submit(t, "job-1", time.Minute)

	err := h.runner.Run(context.Background(), "job-1")
	var svcErr *models.TranscriptionServiceError
	if !errors.As(err, &svcErr) || svcErr.Chunk != 2 {
		t.Fatalf("err = %v, want service error on chunk 2", err)
	}

	job, _ := h.table.Get("job-1")
	view := job.View()
	if view.Status != models.JobStatusError || view.Error == nil || *view.Error != "rate limited" {
		t.Fatalf("view = %+v", view)
	}
	if view.Transcript != nil || job.Transcript != "" {
		t.Fatal("failed job exposes a transcript")
	}
	if math.Abs(job.Progress-0.5) > 1e-9 {
		t.Fatalf("progress = %v, want 0.5", job.Progress)
	}
	if len(h.calls) != 3 {
		t.Fatalf("calls = %d, want 3 (chunk 3 must not be sent)", len(h.calls))
	}
	assertNoChunkFiles(t, h.scratch)
	if _, err := os.Stat(upload); !os.IsNotExist(err) {
		t.Fatalf("upload still present: %v", err)
	}
	if _, err := h.store.Open(context.Background(), storage.TranscriptKey("job-1")); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("transcript stored for failed job: %v", err)
	}
}

func TestRunnerKeepsEmptyChunkText(t *testing.T) {
	texts := []string{"a", "  ", "", "d"}
	h := newHarness(t, &fakeSegmenter{duration: 4 * time.Second}, func(i int, _ string) (string, error) {
		return texts[i], nil
	})
	h.submit(t, "job-1", time.Second)

	if err := h.runner.Run(context.Background(), "job-1"); err != nil {
		t.Fatalf("run: %v", err)
	}
	job, _ := h.table.Get("job-1")
	if want := "a\n  \n\nd"; job.Transcript != want {
		t.Fatalf("transcript = %q, want %q", job.Transcript, want)
	}
}

func TestRunnerDecodeError(t *testing.T) {
	decodeErr := &models.MediaDecodeError{Path: "x", Message: "source has no audio track"}
	h := newHarness(t, &fakeSegmenter{openErr: decodeErr}, func(int, string) (string, error) {
		return "", nil
	})
	h.submit(t, "job-1", 0)

	if err := h.runner.Run(context.Background(), "job-1"); !errors.As(err, &decodeErr) {
		t.Fatalf("err = %v, want MediaDecodeError", err)
	}
	job, _ := h.table.Get("job-1")
	if job.Status != models.JobStatusError || !strings.Contains(job.Error, "no audio track") {
		t.Fatalf("job = %s %q", job.Status, job.Error)
	}
	if job.Progress != 0 {
		t.Fatalf("progress = %v, want 0", job.Progress)
	}
}

func TestRunnerRunsJobAtMostOnce(t *testing.T) {
	h := newHarness(t, &fakeSegmenter{duration: time.Second}, func(int, string) (string, error) {
		return "x", nil
	})
	h.submit(t, "job-1", 0)

	if err := h.runner.Run(context.Background(), "job-1"); err != nil {
		t.Fatalf("first run: %v", err)
	}
	if err := h.runner.Run(context.Background(), "job-1"); !errors.Is(err, ErrAlreadyRun) {
		t.Fatalf("second run err = %v, want ErrAlreadyRun", err)
	}
	if len(h.calls) != 1 {
		t.Fatalf("calls = %d, want 1", len(h.calls))
	}
}

func TestRunnerPublishesProgressBeforeNextChunk(t *testing.T) {
	const n = 5
	var h *harness
	var observed []float64
	h = newHarness(t, &fakeSegmenter{duration: n * time.Second}, func(i int, _ string) (string, error) {
		job, err := h.table.Get("job-1")
		if err != nil {
			return "", err
		}
		if job.Status != models.JobStatusProcessing {
			return "", fmt.Errorf("status %s during chunk %d", job.Status, i)
		}
		observed = append(observed, job.Progress)
		return "w", nil
	})
	h.submit(t, "job-1", time.Second)

	if err := h.runner.Run(context.Background(), "job-1"); err != nil {
		t.Fatalf("run: %v", err)
	}
	for i, p := range observed {
		if want := float64(i) / n; math.Abs(p-want) > 1e-9 {
			t.Fatalf("progress before chunk %d = %v, want %v", i, p, want)
		}
	}
}

func TestRunnerStorageFailure(t *testing.T) {
	h := newHarness(t, &fakeSegmenter{duration: time.Second}, func(int, string) (string, error) {
		return "x", nil
	})
	h.runner.store = failingStore{}
	h.submit(t, "job-1", 0)

	err := h.runner.Run(context.Background(), "job-1")
	if models.ErrorKind(err) != "storage" {
		t.Fatalf("err = %v, want storage error", err)
	}
	job, _ := h.table.Get("job-1")
	if job.Status != models.JobStatusError || job.Transcript != "" {
		t.Fatalf("job = %s %q", job.Status, job.Transcript)
	}
}

func TestRunnerIsolatesConcurrentJobs(t *testing.T) {
	h := newHarness(t, &fakeSegmenter{duration: 3 * time.Second}, func(i int, path string) (string, error) {
		return "ok", nil
	})
	ids := []string{"j1", "j2", "j3", "j4"}
	for _, id := range ids {
		h.submit(t, id, time.Second)
	}

	// Each job gets its own scratch dir so chunk names do not collide.
	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			seg := &fakeSegmenter{duration: 3 * time.Second, dir: t.TempDir()}
			r := NewRunner(h.table, seg, h.runner.client, h.store, nil)
			if err := r.Run(context.Background(), id); err != nil {
				t.Errorf("run %s: %v", id, err)
			}
		}(id)
	}
	wg.Wait()

	for _, id := range ids {
		job, _ := h.table.Get(id)
		if job.Status != models.JobStatusDone || job.Transcript != "ok\nok\nok" {
			t.Fatalf("job %s = %s %q", id, job.Status, job.Transcript)
		}
	}
}

type failingStore struct{}

func (failingStore) Put(ctx context.Context, key string, data []byte) (string, error) {
	return "", &models.StorageError{Op: "write", Path: key, Err: errors.New("disk full")}
}

func (failingStore) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	return nil, storage.ErrNotFound
}

func (failingStore) Delete(ctx context.Context, key string) error { return nil }

func (failingStore) Backend() string { return "failing" }

func TestRunnerRemovesArtifactsWhenClientPanics(t *testing.T) {
	h := newHarness(t, &fakeSegmenter{duration: 10 * time.Minute}, func(i int, _ string) (string, error) {
		panic("client exploded")
	})
	upload := h.submit(t, "job-1", 300*time.Second)

	func() {
		defer func() {
			if r := recover(); r == nil {
				t.Fatal("expected the panic to reach the caller")
			}
		}()
		_ = h.runner.Run(context.Background(), "job-1")
	}()

	if _, err := os.Stat(upload); !os.IsNotExist(err) {
		t.Fatalf("upload still present after panic: %v", err)
	}
	assertNoChunkFiles(t, h.scratch)
}
