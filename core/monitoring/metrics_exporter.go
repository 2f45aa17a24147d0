package monitoring

import (
	"fmt"
	"strings"

	"chunk-transcriber/core/models"
	"chunk-transcriber/core/pipeline"
	"chunk-transcriber/core/repository"
	"chunk-transcriber/core/scheduler"
)

// RunnerStats is implemented by pipeline.Runner
type RunnerStats interface {
	Stats() pipeline.Stats
}

// PoolStats is implemented by scheduler.Scheduler
type PoolStats interface {
	Stats() scheduler.Stats
}

// MetricsExporter exports metrics in the Prometheus text format
type MetricsExporter struct {
	table  repository.JobTable
	runner RunnerStats
	pool   PoolStats
}

// NewMetricsExporter creates a new metrics exporter. runner and pool may be nil.
func NewMetricsExporter(table repository.JobTable, runner RunnerStats, pool PoolStats) *MetricsExporter {
	return &MetricsExporter{
		table:  table,
		runner: runner,
		pool:   pool,
	}
}

var exportedStatuses = []models.JobStatus{
	models.JobStatusQueued,
	models.JobStatusProcessing,
	models.JobStatusDone,
	models.JobStatusError,
}

// GetPrometheusMetrics returns metrics in Prometheus format
func (me *MetricsExporter) GetPrometheusMetrics() string {
	var b strings.Builder

	counts := make(map[models.JobStatus]int, len(exportedStatuses))
	var chunksPending int
	for _, job := range me.table.List() {
		counts[job.Status]++
		if job.Status == models.JobStatusProcessing {
			chunksPending += job.ChunksTotal - job.ChunksDone
		}
	}

	b.WriteString("# HELP transcriber_jobs Number of jobs by status\n")
	b.WriteString("# TYPE transcriber_jobs gauge\n")
	for _, status := range exportedStatuses {
		fmt.Fprintf(&b, "transcriber_jobs{status=%q} %d\n", status, counts[status])
	}

	b.WriteString("# HELP transcriber_chunks_pending Chunks not yet transcribed in processing jobs\n")
	b.WriteString("# TYPE transcriber_chunks_pending gauge\n")
	fmt.Fprintf(&b, "transcriber_chunks_pending %d\n", chunksPending)

	if me.runner != nil {
		stats := me.runner.Stats()
		b.WriteString("# HELP transcriber_chunks_transcribed_total Chunks transcribed successfully\n")
		b.WriteString("# TYPE transcriber_chunks_transcribed_total counter\n")
		fmt.Fprintf(&b, "transcriber_chunks_transcribed_total %d\n", stats.ChunksTranscribed)

		b.WriteString("# HELP transcriber_job_runs_total Finished job runs by outcome\n")
		b.WriteString("# TYPE transcriber_job_runs_total counter\n")
		fmt.Fprintf(&b, "transcriber_job_runs_total{outcome=\"done\"} %d\n", stats.JobsSucceeded)
		fmt.Fprintf(&b, "transcriber_job_runs_total{outcome=\"error\"} %d\n", stats.JobsFailed)
	}

	if me.pool != nil {
		stats := me.pool.Stats()
		b.WriteString("# HELP transcriber_scheduler_workers Configured workers\n")
		b.WriteString("# TYPE transcriber_scheduler_workers gauge\n")
		fmt.Fprintf(&b, "transcriber_scheduler_workers %d\n", stats.Workers)

		b.WriteString("# HELP transcriber_scheduler_active Jobs currently running\n")
		b.WriteString("# TYPE transcriber_scheduler_active gauge\n")
		fmt.Fprintf(&b, "transcriber_scheduler_active %d\n", stats.Active)

		b.WriteString("# HELP transcriber_scheduler_queue_depth Jobs waiting for a worker\n")
		b.WriteString("# TYPE transcriber_scheduler_queue_depth gauge\n")
		fmt.Fprintf(&b, "transcriber_scheduler_queue_depth %d\n", stats.Pending)
	}

	return b.String()
}
