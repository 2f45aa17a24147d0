package handlers

import (
	"encoding/json"
	"html/template"
	"net/http"
	"time"

	"chunk-transcriber/core/models"
	"chunk-transcriber/core/monitoring"
	"chunk-transcriber/core/repository"

	"github.com/sirupsen/logrus"
)

// DashboardHandler serves the upload page, summaries and metrics
type DashboardHandler struct {
	table       repository.JobTable
	exporter    *monitoring.MetricsExporter
	maxUploadMB int64
	logger      logrus.FieldLogger
}

// NewDashboardHandler creates a new dashboard handler
func NewDashboardHandler(
	table repository.JobTable,
	exporter *monitoring.MetricsExporter,
	maxUploadBytes int64,
	logger logrus.FieldLogger,
) *DashboardHandler {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &DashboardHandler{
		table:       table,
		exporter:    exporter,
		maxUploadMB: maxUploadBytes >> 20,
		logger:      logger,
	}
}

var indexTemplate = template.Must(template.New("index").Parse(`<!doctype html>
<html>
<head><meta charset="utf-8"><title>Transcriber</title></head>
<body>
<h1>Audio/Video Transcriber</h1>
<form id="upload" method="post" action="/v1/jobs" enctype="multipart/form-data">
  <p><input type="file" name="file" accept="audio/*,video/*" required> (max {{.MaxUploadMB}} MB)</p>
  <p><label>Language <input type="text" name="language" placeholder="auto"></label></p>
  <p><label>Model <input type="text" name="model" placeholder="whisper-1"></label></p>
  <p><button type="submit">Transcribe</button></p>
</form>
<pre id="status"></pre>
<h2>Recent jobs</h2>
<table>
<tr><th>File</th><th>Status</th><th>Progress</th><th></th></tr>
{{range .Jobs}}<tr>
<td>{{.SourceName}}</td><td>{{.Status}}</td><td>{{printf "%.0f" .Percent}}%</td>
<td>{{if .Done}}<a href="/v1/jobs/{{.ID}}/transcript">download</a>{{else if .Error}}{{.Error}}{{end}}</td>
</tr>{{end}}
</table>
<script>
document.getElementById("upload").addEventListener("submit", async function (e) {
  e.preventDefault();
  const out = document.getElementById("status");
  const resp = await fetch("/v1/jobs", {method: "POST", body: new FormData(this)});
  if (!resp.ok) { out.textContent = await resp.text(); return; }
  const job = await resp.json();
  const poll = async function () {
    const s = await (await fetch("/v1/jobs/" + job.id)).json();
    out.textContent = s.status + " " + Math.round(s.progress * 100) + "%";
    if (s.status === "done") { out.textContent = s.transcript; return; }
    if (s.status === "error") { out.textContent = "Error: " + s.error; return; }
    setTimeout(poll, 2000);
  };
  poll();
});
</script>
</body>
</html>
`))

type indexJob struct {
	ID         string
	SourceName string
	Status     models.JobStatus
	Percent    float64
	Done       bool
	Error      string
}

// Index handles GET / with the upload form and recent jobs
func (h *DashboardHandler) Index(w http.ResponseWriter, r *http.Request) {
	jobs := h.table.List()
	if len(jobs) > 20 {
		jobs = jobs[:20]
	}
	rows := make([]indexJob, 0, len(jobs))
	for _, job := range jobs {
		rows = append(rows, indexJob{
			ID:         job.ID,
			SourceName: job.SourceName,
			Status:     job.Status,
			Percent:    job.Progress * 100,
			Done:       job.Status == models.JobStatusDone,
			Error:      job.Error,
		})
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := indexTemplate.Execute(w, map[string]interface{}{
		"MaxUploadMB": h.maxUploadMB,
		"Jobs":        rows,
	}); err != nil {
		h.logger.WithError(err).Warn("failed to render index")
	}
}

// GetJobSummary handles GET /v1/dashboard/summary
func (h *DashboardHandler) GetJobSummary(w http.ResponseWriter, r *http.Request) {
	startDate := r.URL.Query().Get("start_date")
	endDate := r.URL.Query().Get("end_date")

	// Default to the last 24 hours
	var start, end time.Time
	if startDate != "" {
		var err error
		start, err = time.Parse(time.RFC3339, startDate)
		if err != nil {
			http.Error(w, "Invalid start_date format", http.StatusBadRequest)
			return
		}
	} else {
		start = time.Now().Add(-24 * time.Hour)
	}

	if endDate != "" {
		var err error
		end, err = time.Parse(time.RFC3339, endDate)
		if err != nil {
			http.Error(w, "Invalid end_date format", http.StatusBadRequest)
			return
		}
	} else {
		end = time.Now()
	}

	counts := map[models.JobStatus]int{}
	var processed time.Duration
	finished := 0
	for _, job := range h.table.List() {
		if job.CreatedAt.Before(start) || job.CreatedAt.After(end) {
			continue
		}
		counts[job.Status]++
		if job.StartedAt != nil && job.CompletedAt != nil {
			processed += job.CompletedAt.Sub(*job.StartedAt)
			finished++
		}
	}

	var avgSeconds float64
	if finished > 0 {
		avgSeconds = (processed / time.Duration(finished)).Seconds()
	}

	response := map[string]interface{}{
		"period": map[string]interface{}{
			"start": start.Format(time.RFC3339),
			"end":   end.Format(time.RFC3339),
		},
		"jobs": map[string]interface{}{
			"queued":     counts[models.JobStatusQueued],
			"processing": counts[models.JobStatusProcessing],
			"done":       counts[models.JobStatusDone],
			"error":      counts[models.JobStatusError],
		},
		"avg_processing_seconds": avgSeconds,
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

// Metrics handles GET /metrics
func (h *DashboardHandler) Metrics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	w.Write([]byte(h.exporter.GetPrometheusMetrics()))
}

// Health handles GET /health
func (h *DashboardHandler) Health(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}
