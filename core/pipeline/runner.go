package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"chunk-transcriber/core/models"
	"chunk-transcriber/core/repository"
	"chunk-transcriber/core/transcription"
	"chunk-transcriber/storage"

	"github.com/sirupsen/logrus"
)

// ErrAlreadyRun is returned when a job ID is handed to the runner twice
var ErrAlreadyRun = errors.New("job already run")

// Runner drives one job from queued to a terminal state
type Runner struct {
	table     repository.JobTable
	segmenter Segmenter
	client    transcription.Client
	store     storage.TranscriptStore
	logger    logrus.FieldLogger

	started sync.Map
	remove  func(name string) error

	chunksTranscribed atomic.Int64
	jobsSucceeded     atomic.Int64
	jobsFailed        atomic.Int64
}

// Stats are cumulative runner counters
type Stats struct {
	ChunksTranscribed int64
	JobsSucceeded     int64
	JobsFailed        int64
}

// NewRunner creates a runner
func NewRunner(
	table repository.JobTable,
	segmenter Segmenter,
	client transcription.Client,
	store storage.TranscriptStore,
	logger logrus.FieldLogger,
) *Runner {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Runner{
		table:     table,
		segmenter: segmenter,
		client:    client,
		store:     store,
		logger:    logger,
		remove:    os.RemoveAll,
	}
}

// Stats returns a snapshot of the runner counters
func (r *Runner) Stats() Stats {
	return Stats{
		ChunksTranscribed: r.chunksTranscribed.Load(),
		JobsSucceeded:     r.jobsSucceeded.Load(),
		JobsFailed:        r.jobsFailed.Load(),
	}
}

// chunkResult is the outcome of one chunk: text or the error that stops the job
type chunkResult struct {
	index int
	text  string
	err   error
}

// Run processes the job to done or error. The returned error is the
// failure recorded on the job, or a table error if the job could not start.
// Each job ID is processed at most once per Runner.
func (r *Runner) Run(ctx context.Context, jobID string) error {
	if _, loaded := r.started.LoadOrStore(jobID, struct{}{}); loaded {
		return fmt.Errorf("run job %s: %w", jobID, ErrAlreadyRun)
	}

	job, err := r.table.Get(jobID)
	if err != nil {
		return fmt.Errorf("run job %s: %w", jobID, err)
	}
	log := r.logger.WithFields(logrus.Fields{
		"job_id": job.ID,
		"source": job.SourceName,
	})

	if err := r.table.UpdateStatus(jobID, repository.Transition(models.JobStatusProcessing, "run_started")); err != nil {
		return fmt.Errorf("run job %s: %w", jobID, err)
	}
	log.Info("job processing started")
	defer r.cleanup(job, log)

	opts := job.Options.WithDefaults()
	texts, total, err := r.transcribe(ctx, job, opts, log)
	if err == nil {
		err = r.complete(ctx, job.ID, texts, total, log)
	}

	if err != nil {
		r.jobsFailed.Add(1)
		r.fail(jobID, err, log)
		return err
	}
	r.jobsSucceeded.Add(1)
	return nil
}

// transcribe opens the source and sends its chunks to the client one at a time
func (r *Runner) transcribe(ctx context.Context, job models.Job, opts models.JobOptions, log logrus.FieldLogger) ([]string, int, error) {
	src, err := r.segmenter.Open(ctx, job.SourcePath, opts.ChunkDuration)
	if err != nil {
		return nil, 0, err
	}
	defer func() {
		if cerr := src.Close(); cerr != nil {
			log.WithError(cerr).WithField("artifact", models.ArtifactTypeExtracted).Warn("failed to remove scratch directory")
		}
	}()

	total := src.Len()
	if err := r.table.UpdateStatus(job.ID, models.JobUpdate{ChunksTotal: &total}); err != nil {
		return nil, total, err
	}
	log.WithField("chunks", total).Info("source segmented")

	texts := make([]string, 0, total)
	for i := 0; i < total; i++ {
		res := r.runChunk(ctx, src, i, opts, log)
		if res.err != nil {
			return nil, total, res.err
		}
		texts = append(texts, res.text)
		r.chunksTranscribed.Add(1)

		// The last chunk is published together with the done transition.
		done := i + 1
		if done < total {
			progress := float64(done) / float64(total)
			if err := r.table.UpdateStatus(job.ID, models.JobUpdate{Progress: &progress, ChunksDone: &done}); err != nil {
				return nil, total, err
			}
		}
	}
	return texts, total, nil
}

// runChunk exports, transcribes and deletes one chunk
func (r *Runner) runChunk(ctx context.Context, src ChunkSource, index int, opts models.JobOptions, log logrus.FieldLogger) chunkResult {
	chunk, err := src.Next(ctx)
	if errors.Is(err, io.EOF) {
		return chunkResult{index: index, err: fmt.Errorf("source ended after %d of %d chunks", index, src.Len())}
	}
	if err != nil {
		return chunkResult{index: index, err: err}
	}
	defer func() {
		if rerr := chunk.Remove(); rerr != nil {
			log.WithError(rerr).WithFields(logrus.Fields{
				"chunk":    chunk.Index,
				"artifact": models.ArtifactTypeChunk,
			}).Warn("failed to remove chunk")
		}
	}()

	res, err := r.client.TranscribeChunk(ctx, chunk.Path, opts.Model, opts.Language)
	if err != nil {
		var svcErr *models.TranscriptionServiceError
		if errors.As(err, &svcErr) {
			svcErr.Chunk = chunk.Index
		} else {
			err = &models.TranscriptionServiceError{Chunk: chunk.Index, Message: err.Error(), Err: err}
		}
		log.WithError(err).WithField("chunk", chunk.Index).Warn("chunk transcription failed")
		return chunkResult{index: chunk.Index, err: err}
	}

	log.WithFields(logrus.Fields{
		"chunk": chunk.Index,
		"start": chunk.Start.String(),
		"chars": len(res.Text),
	}).Debug("chunk transcribed")
	return chunkResult{index: chunk.Index, text: res.Text}
}

// complete stores the transcript and moves the job to done
func (r *Runner) complete(ctx context.Context, jobID string, texts []string, total int, log logrus.FieldLogger) error {
	transcript := strings.Join(texts, "\n")
	key := storage.TranscriptKey(jobID)
	location, err := r.store.Put(ctx, key, []byte(transcript))
	if err != nil {
		return err
	}

	status := models.JobStatusDone
	if err := r.table.UpdateStatus(jobID, models.JobUpdate{
		Status:        &status,
		Transcript:    &transcript,
		TranscriptKey: &key,
		ChunksDone:    &total,
		Reason:        "transcript_stored",
	}); err != nil {
		if derr := r.store.Delete(ctx, key); derr != nil {
			log.WithError(derr).Warn("failed to remove orphaned transcript")
		}
		return err
	}

	log.WithFields(logrus.Fields{
		"chunks":   total,
		"location": location,
	}).Info("job done")
	return nil
}

// fail moves the job to error with its failure message
func (r *Runner) fail(jobID string, cause error, log logrus.FieldLogger) {
	msg := models.FailureMessage(cause)
	if strings.TrimSpace(msg) == "" {
		msg = "transcription failed"
	}
	status := models.JobStatusError
	update := models.JobUpdate{
		Status: &status,
		Error:  &msg,
		Reason: models.ErrorKind(cause),
	}
	if err := r.table.UpdateStatus(jobID, update); err != nil {
		log.WithError(err).Error("failed to record job failure")
		return
	}
	log.WithFields(logrus.Fields{
		"kind":  models.ErrorKind(cause),
		"error": msg,
	}).Warn("job failed")
}

// cleanup removes temporary artifacts owned by the job. Failures are logged only.
func (r *Runner) cleanup(job models.Job, log logrus.FieldLogger) {
	current, err := r.table.Get(job.ID)
	if err == nil {
		job = current
	}
	for _, path := range job.Artifacts {
		if path == "" {
			continue
		}
		if err := r.remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			log.WithError(err).WithField("path", path).Warn("failed to remove job artifact")
		}
	}
}
