package model

import "time"

// RunStatus represents the state of a pipeline run.
type RunStatus string

const (
	RunStatusRunning  RunStatus = "running"
	RunStatusComplete RunStatus = "complete"
	RunStatusFailed   RunStatus = "failed"
)

// PipelineRun records one bronze-to-gold execution of the pipeline.
type PipelineRun struct {
	ID         string     `json:"id"`
	Status     RunStatus  `json:"status"`
	Counts     RunCounts  `json:"counts"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Error      string     `json:"error,omitempty"`
}

// RunCounts tallies records through each pipeline layer.
type RunCounts struct {
	RawRecords      int `json:"raw_records"`
	Events          int `json:"events"`
	Facts           int `json:"facts"`
	Discarded       int `json:"discarded"`
	SourcesTotal    int `json:"sources_total"`
	SourcesFailed   int `json:"sources_failed"`
	LateArrivals    int `json:"late_arrivals"`
	Inconsistencies int `json:"inconsistencies"`
}

// RunFilter selects pipeline runs from the store.
type RunFilter struct {
	Status       RunStatus `json:"status,omitempty"`
	CreatedAfter time.Time `json:"created_after,omitempty"`
	Limit        int       `json:"limit,omitempty"`
	Offset       int       `json:"offset,omitempty"`
}
