package schema

import (
	"time"

	"gorm.io/datatypes"

	"github.com/bottlescout/price-ingest/internal/domain"
)

// RunStatus represents the status of an ingestion run
type RunStatus string

const (
	// RunStatusRunning is the status of an in-flight ingestion run
	RunStatusRunning RunStatus = "running"
	// RunStatusCompleted is the status of a cleanly finished ingestion run
	RunStatusCompleted RunStatus = "completed"
	// RunStatusFailed is the status of a run that aborted, timed out, or
	// tripped the zero-item authenticated rule
	RunStatusFailed RunStatus = "failed"
)

// Terminal reports whether the status can never change again
func (s RunStatus) Terminal() bool {
	return s == RunStatusCompleted || s == RunStatusFailed
}

// IngestionRun represents the ingestion_runs table - one scheduler-invoked
// pass over one chain. Created as running before the first fetch so crashes
// stay visible; terminal rows are never reopened.
type IngestionRun struct {
	// ID is a ULID assigned at pass start (time-sortable)
	ID string `gorm:"column:id;primaryKey;type:text"`
	// Chain is the chain this pass covered
	Chain domain.Chain `gorm:"column:chain;not null;type:text;index:idx_runs_chain_started,priority:1"`
	// Status is running, completed or failed
	Status RunStatus `gorm:"column:status;not null;type:text"`
	// StartedAt is the pass start timestamp
	StartedAt time.Time `gorm:"column:started_at;not null;type:timestamptz;index:idx_runs_chain_started,priority:2,sort:desc"`
	// FinishedAt is set when the run reaches a terminal state
	FinishedAt *time.Time `gorm:"column:finished_at;type:timestamptz"`
	// ItemsTotal is the number of records the pass emitted
	ItemsTotal int `gorm:"column:items_total;not null;default:0"`
	// ItemsChanged is the number of (product, store) prices that actually changed
	ItemsChanged int `gorm:"column:items_changed;not null;default:0"`
	// ItemsFailed is the number of records, pages or stores dropped as failed
	ItemsFailed int `gorm:"column:items_failed;not null;default:0"`
	// Log holds structured failure detail and skip reasons as JSON
	Log datatypes.JSON `gorm:"column:log;type:jsonb"`
}

// TableName specifies the table name for the IngestionRun model
func (IngestionRun) TableName() string {
	return "ingestion_runs"
}
