package models

import "time"

// JobEvent represents a state transition event for a job
type JobEvent struct {
	ID         int64
	JobID      string
	At         time.Time
	FromStatus *JobStatus
	ToStatus   JobStatus
	Reason     string
	MetaJSON   map[string]interface{} // Additional metadata
}

// ArtifactType represents the type of job artifact
type ArtifactType string

const (
	ArtifactTypeSource     ArtifactType = "source"
	ArtifactTypeExtracted  ArtifactType = "extracted_audio"
	ArtifactTypeChunk      ArtifactType = "chunk"
	ArtifactTypeTranscript ArtifactType = "transcript"
)
