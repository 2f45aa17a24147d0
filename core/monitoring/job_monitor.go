package monitoring

import (
	"context"
	"time"

	"chunk-transcriber/core/models"
	"chunk-transcriber/core/repository"

	"github.com/sirupsen/logrus"
)

// JobMonitor periodically logs the progress of processing jobs
type JobMonitor struct {
	table      repository.JobTable
	logger     logrus.FieldLogger
	interval   time.Duration
	stallAfter time.Duration
	now        func() time.Time
}

// NewJobMonitor creates a new job monitor
func NewJobMonitor(table repository.JobTable, interval time.Duration, logger logrus.FieldLogger) *JobMonitor {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &JobMonitor{
		table:      table,
		logger:     logger,
		interval:   interval,
		stallAfter: 10 * time.Minute,
		now:        time.Now,
	}
}

// Start runs the monitoring loop until ctx is done
func (jm *JobMonitor) Start(ctx context.Context) {
	ticker := time.NewTicker(jm.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			jm.monitorProcessingJobs()
		}
	}
}

// monitorProcessingJobs logs one line per processing job
func (jm *JobMonitor) monitorProcessingJobs() {
	for _, job := range jm.table.List() {
		if job.Status != models.JobStatusProcessing {
			continue
		}
		m := jm.metricsFor(job)
		entry := jm.logger.WithFields(logrus.Fields{
			"job_id":   job.ID,
			"progress": m.Progress,
			"chunks":   m.ChunksDone,
			"total":    m.ChunksTotal,
			"elapsed":  m.ElapsedTime.Round(time.Second).String(),
		})
		if m.Remaining > 0 {
			entry = entry.WithField("eta", m.Remaining.Round(time.Second).String())
		}
		if m.SinceUpdate > jm.stallAfter {
			entry.WithField("idle", m.SinceUpdate.Round(time.Second).String()).Warn("job has not progressed recently")
			continue
		}
		entry.Info("job progress")
	}
}

// GetJobMetrics returns metrics for a job
func (jm *JobMonitor) GetJobMetrics(jobID string) (*JobMetrics, error) {
	job, err := jm.table.Get(jobID)
	if err != nil {
		return nil, err
	}
	m := jm.metricsFor(job)
	return &m, nil
}

func (jm *JobMonitor) metricsFor(job models.Job) JobMetrics {
	now := jm.now()
	m := JobMetrics{
		JobID:       job.ID,
		Status:      job.Status,
		Progress:    job.Progress,
		ChunksDone:  job.ChunksDone,
		ChunksTotal: job.ChunksTotal,
		StartTime:   job.StartedAt,
		SinceUpdate: now.Sub(job.UpdatedAt),
	}
	if job.StartedAt == nil {
		return m
	}

	end := now
	if job.CompletedAt != nil {
		end = *job.CompletedAt
	}
	m.ElapsedTime = end.Sub(*job.StartedAt)
	if job.Status == models.JobStatusProcessing && job.ChunksDone > 0 && job.ChunksTotal > job.ChunksDone {
		perChunk := m.ElapsedTime / time.Duration(job.ChunksDone)
		m.Remaining = perChunk * time.Duration(job.ChunksTotal-job.ChunksDone)
	}
	return m
}

// JobMetrics represents job monitoring metrics
type JobMetrics struct {
	JobID       string
	Status      models.JobStatus
	Progress    float64
	ChunksDone  int
	ChunksTotal int
	StartTime   *time.Time
	ElapsedTime time.Duration
	Remaining   time.Duration // Estimated from the average chunk time so far
	SinceUpdate time.Duration
}
