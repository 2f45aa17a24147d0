package models

import "time"

// DefaultChunkDuration is the nominal length of one transcribed window
const DefaultChunkDuration = 300 * time.Second

// DefaultModel is the transcription model used when a submission names none
const DefaultModel = "whisper-1"

// Job represents one submitted transcription request and its lifecycle
type Job struct {
	ID            string
	SourceName    string // Sanitized original filename
	SourcePath    string // Uploaded artifact consumed by the runner
	Options       JobOptions
	Status        JobStatus
	Progress      float64 // 0.0 - 1.0, reaches 1.0 only when done
	ChunksTotal   int
	ChunksDone    int
	Transcript    string
	Error         string
	TranscriptKey string   // Storage key of the persisted transcript
	Artifacts     []string // Temporary files owned by the job
	CreatedAt     time.Time
	StartedAt     *time.Time
	CompletedAt   *time.Time
	UpdatedAt     time.Time
}

// JobOptions carries per-job transcription settings
type JobOptions struct {
	ChunkDuration time.Duration
	Model         string
	Language      string // Empty means no hint
}

// WithDefaults fills unset options
func (o JobOptions) WithDefaults() JobOptions {
	if o.ChunkDuration <= 0 {
		o.ChunkDuration = DefaultChunkDuration
	}
	if o.Model == "" {
		o.Model = DefaultModel
	}
	return o
}

// JobStatus represents the current status of a job
type JobStatus string

const (
	JobStatusQueued     JobStatus = "queued"
	JobStatusProcessing JobStatus = "processing"
	JobStatusDone       JobStatus = "done"
	JobStatusError      JobStatus = "error"
)

// IsTerminal reports whether no further transitions are allowed
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusDone || s == JobStatusError
}

// CanTransition enforces queued -> processing -> {done | error}.
// A queued job may also fail before it is picked up.
func (s JobStatus) CanTransition(to JobStatus) bool {
	switch s {
	case JobStatusQueued:
		return to == JobStatusProcessing || to == JobStatusError
	case JobStatusProcessing:
		return to == JobStatusDone || to == JobStatusError
	default:
		return false
	}
}

// JobUpdate is a partial mutation applied atomically by the job table.
// Nil fields are left unchanged.
type JobUpdate struct {
	Status        *JobStatus
	Progress      *float64
	ChunksTotal   *int
	ChunksDone    *int
	Transcript    *string
	Error         *string
	TranscriptKey *string
	AddArtifacts  []string
	Reason        string // Recorded on the job event when Status changes
}

// StatusView is the poll response for a job
type StatusView struct {
	ID         string    `json:"id"`
	Status     JobStatus `json:"status"`
	Progress   float64   `json:"progress"`
	Transcript *string   `json:"transcript,omitempty"`
	Error      *string   `json:"error,omitempty"`
	Message    *string   `json:"message,omitempty"` // Mirrors Error
}

// View builds the poll response, exposing transcript or error only in terminal states
func (j Job) View() StatusView {
	v := StatusView{
		ID:       j.ID,
		Status:   j.Status,
		Progress: j.Progress,
	}
	switch j.Status {
	case JobStatusDone:
		t := j.Transcript
		v.Transcript = &t
	case JobStatusError:
		e := j.Error
		v.Error = &e
		v.Message = &e
	}
	return v
}

// Clone returns a copy that shares no mutable state with j
func (j Job) Clone() Job {
	c := j
	if j.Artifacts != nil {
		c.Artifacts = append([]string(nil), j.Artifacts...)
	}
	if j.StartedAt != nil {
		t := *j.StartedAt
		c.StartedAt = &t
	}
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		c.CompletedAt = &t
	}
	return c
}
