package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"chunk-transcriber/core/models"
	"chunk-transcriber/core/repository"

	"github.com/sirupsen/logrus"
)

var (
	// ErrQueueFull is returned when every worker is busy and the queue is at capacity
	ErrQueueFull = errors.New("job queue is full")
	// ErrStopped is returned for jobs submitted after Stop
	ErrStopped = errors.New("scheduler stopped")
)

// JobRunner processes one job to a terminal state
type JobRunner interface {
	Run(ctx context.Context, jobID string) error
}

// Config sizes the worker pool
type Config struct {
	Workers   int // Jobs processed in parallel
	QueueSize int // Jobs waiting for a worker
}

// DefaultConfig returns the default pool size
func DefaultConfig() Config {
	return Config{Workers: 2, QueueSize: 64}
}

// Validate validates configuration
func (c Config) Validate() error {
	if c.Workers < 1 {
		return errors.New("workers must be greater than 0")
	}
	if c.QueueSize < 1 {
		return errors.New("queue size must be greater than 0")
	}
	return nil
}

// Scheduler runs queued jobs on a bounded pool of workers. A job runs
// entirely on one worker, detached from the submitter's cancellation.
type Scheduler struct {
	table  repository.JobTable
	runner JobRunner
	logger logrus.FieldLogger

	workers int
	queue   chan string

	mu      sync.RWMutex
	started bool
	stopped bool
	wg      sync.WaitGroup

	active    atomic.Int64
	pending   atomic.Int64
	completed atomic.Int64
}

// NewScheduler creates a new scheduler
func NewScheduler(cfg Config, table repository.JobTable, runner JobRunner, logger logrus.FieldLogger) (*Scheduler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid scheduler config: %w", err)
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Scheduler{
		table:   table,
		runner:  runner,
		logger:  logger,
		workers: cfg.Workers,
		queue:   make(chan string, cfg.QueueSize),
	}, nil
}

// Start launches the workers. ctx supplies values only; cancelling it does
// not interrupt running jobs.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started || s.stopped {
		return
	}
	s.started = true

	jobCtx := context.WithoutCancel(ctx)
	for i := 0; i < s.workers; i++ {
		s.wg.Add(1)
		go s.worker(jobCtx, i)
	}
	s.logger.WithField("workers", s.workers).Info("scheduler started")
}

// Enqueue hands a queued job to the pool without blocking
func (s *Scheduler) Enqueue(jobID string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.stopped {
		return ErrStopped
	}

	s.pending.Add(1)
	select {
	case s.queue <- jobID:
		return nil
	default:
		s.pending.Add(-1)
		return ErrQueueFull
	}
}

// Stop stops accepting jobs and waits for queued and running jobs to
// finish, or for ctx to end
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.stopped {
		s.stopped = true
		close(s.queue)
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("scheduler stopped")
		return nil
	case <-ctx.Done():
		s.logger.WithFields(logrus.Fields{
			"active":  s.active.Load(),
			"pending": s.pending.Load(),
		}).Warn("scheduler stop timed out with jobs in flight")
		return ctx.Err()
	}
}

// Stats describes the pool for metrics output
type Stats struct {
	Workers   int
	Active    int64
	Pending   int64
	Completed int64
}

// Stats returns current pool counters
func (s *Scheduler) Stats() Stats {
	return Stats{
		Workers:   s.workers,
		Active:    s.active.Load(),
		Pending:   s.pending.Load(),
		Completed: s.completed.Load(),
	}
}

func (s *Scheduler) worker(ctx context.Context, n int) {
	defer s.wg.Done()
	for jobID := range s.queue {
		s.pending.Add(-1)
		s.process(ctx, jobID, n)
	}
}

// process runs one job, converting a runner panic into a job failure
func (s *Scheduler) process(ctx context.Context, jobID string, worker int) {
	s.active.Add(1)
	log := s.logger.WithFields(logrus.Fields{"job_id": jobID, "worker": worker})
	defer func() {
		s.active.Add(-1)
		s.completed.Add(1)
		if r := recover(); r != nil {
			log.WithField("panic", r).Error("job runner panicked")
			s.failJob(jobID, fmt.Sprintf("internal error: %v", r), log)
		}
	}()

	if err := s.runner.Run(ctx, jobID); err != nil {
		log.WithError(err).Debug("job finished with error")
	}
}

// failJob moves a non-terminal job to error
func (s *Scheduler) failJob(jobID, msg string, log logrus.FieldLogger) {
	job, err := s.table.Get(jobID)
	if err != nil || job.Status.IsTerminal() {
		return
	}
	status := models.JobStatusError
	if err := s.table.UpdateStatus(jobID, models.JobUpdate{Status: &status, Error: &msg, Reason: "scheduler_error"}); err != nil {
		log.WithError(err).Error("failed to record job failure")
	}
}

// Reject fails a queued job that could not be scheduled
func (s *Scheduler) Reject(jobID string, cause error) {
	log := s.logger.WithField("job_id", jobID)
	log.WithError(cause).Warn("job rejected by scheduler")
	s.failJob(jobID, cause.Error(), log)
}
