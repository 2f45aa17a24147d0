package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"chunk-transcriber/core/models"
	"chunk-transcriber/core/repository"
	"chunk-transcriber/core/scheduler"
	"chunk-transcriber/storage"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

// JobQueue accepts jobs for asynchronous processing
type JobQueue interface {
	Enqueue(jobID string) error
	Reject(jobID string, cause error)
}

// JobHandlerConfig holds submission limits and defaults
type JobHandlerConfig struct {
	UploadDir      string
	MaxUploadBytes int64
	Defaults       models.JobOptions
}

// JobHandler handles job-related HTTP requests
type JobHandler struct {
	table     repository.JobTable
	eventRepo repository.EventRepository
	queue     JobQueue
	store     storage.TranscriptStore
	cfg       JobHandlerConfig
	logger    logrus.FieldLogger
}

// NewJobHandler creates a new job handler
func NewJobHandler(
	table repository.JobTable,
	eventRepo repository.EventRepository,
	queue JobQueue,
	store storage.TranscriptStore,
	cfg JobHandlerConfig,
	logger logrus.FieldLogger,
) *JobHandler {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 100 << 20
	}
	return &JobHandler{
		table:     table,
		eventRepo: eventRepo,
		queue:     queue,
		store:     store,
		cfg:       cfg,
		logger:    logger,
	}
}

// SubmitJobResponse represents the response after submitting a job
type SubmitJobResponse struct {
	ID        string           `json:"id"`
	Status    models.JobStatus `json:"status"`
	CreatedAt time.Time        `json:"created_at"`
}

// SubmitJob handles POST /v1/jobs (multipart: file, model, language, chunk_seconds)
func (h *JobHandler) SubmitJob(w http.ResponseWriter, r *http.Request) {
	if r.ContentLength > h.cfg.MaxUploadBytes {
		http.Error(w, fmt.Sprintf("File exceeds the %d MB upload limit", h.cfg.MaxUploadBytes>>20), http.StatusRequestEntityTooLarge)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, h.cfg.MaxUploadBytes)
	if err := r.ParseMultipartForm(8 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			http.Error(w, fmt.Sprintf("File exceeds the %d MB upload limit", h.cfg.MaxUploadBytes>>20), http.StatusRequestEntityTooLarge)
			return
		}
		http.Error(w, "Invalid multipart request", http.StatusBadRequest)
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "No file provided", http.StatusBadRequest)
		return
	}
	defer file.Close()

	name := SanitizeFilename(header.Filename)
	if name == "" {
		http.Error(w, "No file selected", http.StatusBadRequest)
		return
	}

	opts, err := h.parseOptions(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	jobID := uuid.NewString()
	sourcePath, err := h.saveUpload(jobID, name, file)
	if err != nil {
		h.logger.WithError(err).Error("failed to save upload")
		http.Error(w, "Failed to save upload", http.StatusInternalServerError)
		return
	}

	job := &models.Job{
		ID:         jobID,
		SourceName: name,
		SourcePath: sourcePath,
		Options:    opts,
		Status:     models.JobStatusQueued,
		Artifacts:  []string{sourcePath},
	}
	if err := h.table.Create(job); err != nil {
		os.Remove(sourcePath)
		http.Error(w, "Failed to create job: "+err.Error(), http.StatusInternalServerError)
		return
	}

	if err := h.queue.Enqueue(jobID); err != nil {
		h.queue.Reject(jobID, err)
		os.Remove(sourcePath)
		status := http.StatusServiceUnavailable
		if !errors.Is(err, scheduler.ErrQueueFull) && !errors.Is(err, scheduler.ErrStopped) {
			status = http.StatusInternalServerError
		}
		http.Error(w, "Failed to schedule job: "+err.Error(), status)
		return
	}

	h.logger.WithFields(logrus.Fields{
		"job_id": jobID,
		"source": name,
		"model":  opts.Model,
	}).Info("job submitted")

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Location", "/v1/jobs/"+jobID)
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(SubmitJobResponse{
		ID:        jobID,
		Status:    job.Status,
		CreatedAt: job.CreatedAt,
	})
}

func (h *JobHandler) parseOptions(r *http.Request) (models.JobOptions, error) {
	opts := h.cfg.Defaults
	if model := strings.TrimSpace(r.FormValue("model")); model != "" {
		opts.Model = model
	}
	if language := strings.TrimSpace(r.FormValue("language")); language != "" {
		opts.Language = language
	}
	if raw := strings.TrimSpace(r.FormValue("chunk_seconds")); raw != "" {
		seconds, err := strconv.Atoi(raw)
		if err != nil || seconds <= 0 {
			return opts, fmt.Errorf("chunk_seconds must be a positive integer")
		}
		opts.ChunkDuration = time.Duration(seconds) * time.Second
	}
	return opts.WithDefaults(), nil
}

func (h *JobHandler) saveUpload(jobID, name string, src io.Reader) (string, error) {
	if err := os.MkdirAll(h.cfg.UploadDir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(h.cfg.UploadDir, jobID+"_"+name)
	dst, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		os.Remove(path)
		return "", err
	}
	if err := dst.Close(); err != nil {
		os.Remove(path)
		return "", err
	}
	return path, nil
}

// JobResponse is the poll response with job details
type JobResponse struct {
	models.StatusView
	SourceName  string     `json:"source_name"`
	Model       string     `json:"model"`
	Language    string     `json:"language,omitempty"`
	ChunksTotal int        `json:"chunks_total"`
	ChunksDone  int        `json:"chunks_done"`
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

func newJobResponse(job models.Job) JobResponse {
	return JobResponse{
		StatusView:  job.View(),
		SourceName:  job.SourceName,
		Model:       job.Options.Model,
		Language:    job.Options.Language,
		ChunksTotal: job.ChunksTotal,
		ChunksDone:  job.ChunksDone,
		CreatedAt:   job.CreatedAt,
		StartedAt:   job.StartedAt,
		CompletedAt: job.CompletedAt,
	}
}

// GetJob handles GET /v1/jobs/{id}
func (h *JobHandler) GetJob(w http.ResponseWriter, r *http.Request) {
	job, ok := h.lookup(w, r)
	if !ok {
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(newJobResponse(job))
}

// ListJobs handles GET /v1/jobs
func (h *JobHandler) ListJobs(w http.ResponseWriter, r *http.Request) {
	statusParam := r.URL.Query().Get("status")
	limit := 50
	if limitParam := r.URL.Query().Get("limit"); limitParam != "" {
		n, err := strconv.Atoi(limitParam)
		if err != nil || n <= 0 {
			http.Error(w, "Invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}

	items := make([]map[string]interface{}, 0)
	for _, job := range h.table.List() {
		if statusParam != "" && string(job.Status) != statusParam {
			continue
		}
		items = append(items, map[string]interface{}{
			"id":          job.ID,
			"status":      job.Status,
			"progress":    job.Progress,
			"source_name": job.SourceName,
			"created_at":  job.CreatedAt,
		})
		if len(items) == limit {
			break
		}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"items": items,
	})
}

// GetJobEvents handles GET /v1/jobs/{id}/events
func (h *JobHandler) GetJobEvents(w http.ResponseWriter, r *http.Request) {
	job, ok := h.lookup(w, r)
	if !ok {
		return
	}

	items := make([]map[string]interface{}, 0)
	if h.eventRepo != nil {
		events, err := h.eventRepo.GetJobEvents(r.Context(), job.ID, 100)
		if err != nil {
			http.Error(w, "Failed to fetch events: "+err.Error(), http.StatusInternalServerError)
			return
		}
		for _, event := range events {
			item := map[string]interface{}{
				"at":        event.At,
				"to_status": event.ToStatus,
				"reason":    event.Reason,
			}
			if event.FromStatus != nil {
				item["from_status"] = *event.FromStatus
			}
			if len(event.MetaJSON) > 0 {
				item["meta"] = event.MetaJSON
			}
			items = append(items, item)
		}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"items": items,
	})
}

// DownloadTranscript handles GET /v1/jobs/{id}/transcript
func (h *JobHandler) DownloadTranscript(w http.ResponseWriter, r *http.Request) {
	job, ok := h.lookup(w, r)
	if !ok {
		return
	}
	if job.Status != models.JobStatusDone {
		http.Error(w, fmt.Sprintf("Transcript not available: job is %s", job.Status), http.StatusConflict)
		return
	}

	rc, err := h.store.Open(r.Context(), job.TranscriptKey)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			http.Error(w, "Transcript not found", http.StatusNotFound)
			return
		}
		h.logger.WithError(err).WithField("job_id", job.ID).Error("failed to open transcript")
		http.Error(w, "Failed to read transcript", http.StatusInternalServerError)
		return
	}
	defer rc.Close()

	stem := strings.TrimSuffix(job.SourceName, filepath.Ext(job.SourceName))
	if stem == "" {
		stem = job.ID
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", stem+"_transcript.txt"))
	if _, err := io.Copy(w, rc); err != nil {
		h.logger.WithError(err).WithField("job_id", job.ID).Warn("transcript download interrupted")
	}
}

func (h *JobHandler) lookup(w http.ResponseWriter, r *http.Request) (models.Job, bool) {
	jobID := mux.Vars(r)["id"]
	job, err := h.table.Get(jobID)
	if err != nil {
		if errors.Is(err, repository.ErrJobNotFound) {
			http.Error(w, "Job not found", http.StatusNotFound)
			return models.Job{}, false
		}
		http.Error(w, "Failed to fetch job: "+err.Error(), http.StatusInternalServerError)
		return models.Job{}, false
	}
	return job, true
}

// SanitizeFilename reduces an uploaded filename to a safe base name of
// ASCII letters, digits, dots, dashes and underscores
func SanitizeFilename(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	name = filepath.Base(name)

	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			b.WriteRune(r)
		case r == ' ' || r == '\t':
			b.WriteRune('_')
		}
	}
	out := strings.Trim(b.String(), "._")
	if len(out) > 128 {
		ext := filepath.Ext(out)
		if len(ext) > 16 {
			ext = ""
		}
		out = out[:128-len(ext)] + ext
	}
	return out
}
