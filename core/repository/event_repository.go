package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"sync"

	"chunk-transcriber/core/models"
)

// EventRepository stores job state transition events
type EventRepository interface {
	CreateJobEvent(ctx context.Context, event models.JobEvent) error
	GetJobEvents(ctx context.Context, jobID string, limit int) ([]models.JobEvent, error)
}

// MemoryEventRepository keeps the most recent events in a bounded buffer
type MemoryEventRepository struct {
	mu        sync.RWMutex
	nextID    int64
	maxEvents int
	events    []models.JobEvent
}

// NewMemoryEventRepository creates a bounded in-memory event buffer
func NewMemoryEventRepository(maxEvents int) *MemoryEventRepository {
	if maxEvents <= 0 {
		maxEvents = 1000
	}
	return &MemoryEventRepository{
		maxEvents: maxEvents,
		events:    make([]models.JobEvent, 0, maxEvents),
	}
}

// CreateJobEvent appends one event and assigns its ID
func (r *MemoryEventRepository) CreateJobEvent(_ context.Context, event models.JobEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	event.ID = r.nextID
	r.events = append(r.events, event)
	if len(r.events) > r.maxEvents {
		trim := len(r.events) - r.maxEvents
		r.events = append([]models.JobEvent(nil), r.events[trim:]...)
	}
	return nil
}

// GetJobEvents returns up to limit events for a job, newest first
func (r *MemoryEventRepository) GetJobEvents(_ context.Context, jobID string, limit int) ([]models.JobEvent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []models.JobEvent
	for i := len(r.events) - 1; i >= 0; i-- {
		if r.events[i].JobID != jobID {
			continue
		}
		out = append(out, r.events[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// PostgresEventRepository journals job events to the job_events table
type PostgresEventRepository struct {
	db *DB
}

// NewPostgresEventRepository creates a new event repository
func NewPostgresEventRepository(db *DB) *PostgresEventRepository {
	return &PostgresEventRepository{db: db}
}

// CreateJobEvent inserts one event
func (r *PostgresEventRepository) CreateJobEvent(ctx context.Context, event models.JobEvent) error {
	query := `
		INSERT INTO job_events (job_id, at, from_status, to_status, reason, meta_json)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	var fromStatus *string
	if event.FromStatus != nil {
		s := string(*event.FromStatus)
		fromStatus = &s
	}

	metaJSON := "{}"
	if event.MetaJSON != nil {
		metaBytes, err := json.Marshal(event.MetaJSON)
		if err != nil {
			return err
		}
		metaJSON = string(metaBytes)
	}

	_, err := r.db.ExecContext(ctx, query,
		event.JobID,
		event.At,
		fromStatus,
		string(event.ToStatus),
		event.Reason,
		metaJSON,
	)
	return err
}

// GetJobEvents retrieves events for a job
func (r *PostgresEventRepository) GetJobEvents(ctx context.Context, jobID string, limit int) ([]models.JobEvent, error) {
	query := `
		SELECT id, job_id, at, from_status, to_status, reason, meta_json
		FROM job_events
		WHERE job_id = $1
		ORDER BY at DESC, id DESC
		LIMIT $2
	`

	rows, err := r.db.QueryContext(ctx, query, jobID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []models.JobEvent
	for rows.Next() {
		var event models.JobEvent
		var fromStatus sql.NullString
		var toStatus string
		var metaJSON string

		if err := rows.Scan(
			&event.ID,
			&event.JobID,
			&event.At,
			&fromStatus,
			&toStatus,
			&event.Reason,
			&metaJSON,
		); err != nil {
			return nil, err
		}

		event.ToStatus = models.JobStatus(toStatus)
		if fromStatus.Valid {
			status := models.JobStatus(fromStatus.String)
			event.FromStatus = &status
		}
		if metaJSON != "" {
			if err := json.Unmarshal([]byte(metaJSON), &event.MetaJSON); err != nil {
				return nil, err
			}
		}

		events = append(events, event)
	}

	return events, rows.Err()
}
