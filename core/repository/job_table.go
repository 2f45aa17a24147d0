package repository

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"chunk-transcriber/core/models"

	"github.com/sirupsen/logrus"
)

var (
	// ErrJobNotFound is returned for an unknown job ID
	ErrJobNotFound = errors.New("job not found")
	// ErrJobExists is returned when an ID is issued twice
	ErrJobExists = errors.New("job already exists")
	// ErrInvalidTransition is returned for updates the state machine forbids
	ErrInvalidTransition = errors.New("invalid job transition")
)

// journalTimeout bounds one event journal write
const journalTimeout = 2 * time.Second

// JobTable is the concurrent registry of jobs keyed by ID.
// Get and List return copies; only UpdateStatus mutates a stored job.
type JobTable interface {
	Create(job *models.Job) error
	Get(id string) (models.Job, error)
	List() []models.Job
	UpdateStatus(id string, update models.JobUpdate) error
}

// MemoryJobTable keeps jobs in process memory for the lifetime of the process
type MemoryJobTable struct {
	mu     sync.RWMutex
	jobs   map[string]*models.Job
	issued map[string]struct{}
	events EventRepository
	logger logrus.FieldLogger
	now    func() time.Time

	journalTimeout time.Duration
}

// NewMemoryJobTable creates an empty table. events may be nil.
func NewMemoryJobTable(events EventRepository, logger logrus.FieldLogger) *MemoryJobTable {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &MemoryJobTable{
		jobs:   make(map[string]*models.Job),
		issued: make(map[string]struct{}),
		events: events,
		logger: logger,
		now:    time.Now,

		journalTimeout: journalTimeout,
	}
}

// Create stores a new queued job
func (t *MemoryJobTable) Create(job *models.Job) error {
	if job == nil || job.ID == "" {
		return fmt.Errorf("create job: id is required")
	}
	if job.Status == "" {
		job.Status = models.JobStatusQueued
	}
	if job.Status != models.JobStatusQueued || job.Progress != 0 {
		return fmt.Errorf("create job %s: %w: new jobs start queued at zero progress", job.ID, ErrInvalidTransition)
	}

	t.mu.Lock()
	if _, ok := t.issued[job.ID]; ok {
		t.mu.Unlock()
		return fmt.Errorf("create job %s: %w", job.ID, ErrJobExists)
	}
	now := t.now()
	job.CreatedAt = now
	job.UpdatedAt = now
	stored := job.Clone()
	t.jobs[job.ID] = &stored
	t.issued[job.ID] = struct{}{}
	t.mu.Unlock()

	t.recordEvent(job.ID, nil, models.JobStatusQueued, "job_created", map[string]interface{}{
		"source": job.SourceName,
	})
	return nil
}

// Get returns a snapshot of the job
func (t *MemoryJobTable) Get(id string) (models.Job, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	job, ok := t.jobs[id]
	if !ok {
		return models.Job{}, fmt.Errorf("get job %s: %w", id, ErrJobNotFound)
	}
	return job.Clone(), nil
}

// List returns snapshots of all jobs, newest first
func (t *MemoryJobTable) List() []models.Job {
	t.mu.RLock()
	out := make([]models.Job, 0, len(t.jobs))
	for _, job := range t.jobs {
		out = append(out, job.Clone())
	}
	t.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// UpdateStatus validates and applies update atomically with event logging
func (t *MemoryJobTable) UpdateStatus(id string, update models.JobUpdate) error {
	t.mu.Lock()
	job, ok := t.jobs[id]
	if !ok {
		t.mu.Unlock()
		return fmt.Errorf("update job %s: %w", id, ErrJobNotFound)
	}

	next := job.Clone()
	if err := applyUpdate(&next, update); err != nil {
		t.mu.Unlock()
		return fmt.Errorf("update job %s: %w", id, err)
	}

	from := job.Status
	now := t.now()
	next.UpdatedAt = now
	if next.Status != from {
		switch {
		case next.Status == models.JobStatusProcessing:
			next.StartedAt = &now
		case next.Status.IsTerminal():
			next.CompletedAt = &now
		}
	}
	*job = next
	t.mu.Unlock()

	if next.Status != from {
		meta := map[string]interface{}{"progress": next.Progress}
		if next.Error != "" {
			meta["error"] = next.Error
		}
		t.recordEvent(id, &from, next.Status, update.Reason, meta)
	}
	return nil
}

// applyUpdate mutates job in place and enforces the job invariants
func applyUpdate(job *models.Job, u models.JobUpdate) error {
	if job.Status.IsTerminal() {
		return fmt.Errorf("%w: job is %s", ErrInvalidTransition, job.Status)
	}

	status := job.Status
	if u.Status != nil && *u.Status != status {
		if !status.CanTransition(*u.Status) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, status, *u.Status)
		}
		status = *u.Status
	}

	if u.Transcript != nil && status != models.JobStatusDone {
		return fmt.Errorf("%w: transcript is only set when done", ErrInvalidTransition)
	}
	if u.Error != nil && status != models.JobStatusError {
		return fmt.Errorf("%w: error is only set on failure", ErrInvalidTransition)
	}

	switch status {
	case models.JobStatusDone:
		if u.Transcript == nil {
			return fmt.Errorf("%w: done requires a transcript", ErrInvalidTransition)
		}
		job.Transcript = *u.Transcript
		job.Progress = 1
	case models.JobStatusError:
		if u.Error == nil || *u.Error == "" {
			return fmt.Errorf("%w: error requires a message", ErrInvalidTransition)
		}
		job.Error = *u.Error
		job.Transcript = ""
	}

	if u.Progress != nil {
		p := *u.Progress
		if status != models.JobStatusProcessing {
			if status != models.JobStatusDone || p != 1 {
				return fmt.Errorf("%w: progress %.3f while %s", ErrInvalidTransition, p, status)
			}
		}
		if p < 0 || p > 1 {
			return fmt.Errorf("%w: progress %.3f out of range", ErrInvalidTransition, p)
		}
		if status == models.JobStatusProcessing && p >= 1 {
			return fmt.Errorf("%w: progress reaches 1.0 only when done", ErrInvalidTransition)
		}
		if p < job.Progress {
			return fmt.Errorf("%w: progress decreased %.3f -> %.3f", ErrInvalidTransition, job.Progress, p)
		}
		job.Progress = p
	}

	if u.ChunksTotal != nil {
		job.ChunksTotal = *u.ChunksTotal
	}
	if u.ChunksDone != nil {
		job.ChunksDone = *u.ChunksDone
	}
	if u.TranscriptKey != nil {
		job.TranscriptKey = *u.TranscriptKey
	}
	if len(u.AddArtifacts) > 0 {
		job.Artifacts = append(job.Artifacts, u.AddArtifacts...)
	}

	job.Status = status
	return nil
}

func (t *MemoryJobTable) recordEvent(jobID string, from *models.JobStatus, to models.JobStatus, reason string, meta map[string]interface{}) {
	if t.events == nil {
		return
	}
	event := models.JobEvent{
		JobID:      jobID,
		At:         t.now(),
		FromStatus: from,
		ToStatus:   to,
		Reason:     reason,
		MetaJSON:   meta,
	}
	// Journal failures never affect the job itself.
	ctx, cancel := context.WithTimeout(context.Background(), t.journalTimeout)
	defer cancel()
	if err := t.events.CreateJobEvent(ctx, event); err != nil {
		t.logger.WithFields(logrus.Fields{
			"job_id": jobID,
			"status": to,
		}).WithError(err).Warn("failed to record job event")
	}
}

// Transition is a shorthand for a status-only update
func Transition(to models.JobStatus, reason string) models.JobUpdate {
	return models.JobUpdate{Status: &to, Reason: reason}
}
