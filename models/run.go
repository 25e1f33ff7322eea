package models

import (
	"time"

	"github.com/google/uuid"
)

type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCancelled RunStatus = "cancelled"
)

// ScrapeRun records one pass over the catalog.
type ScrapeRun struct {
	ID           uuid.UUID  `json:"id" db:"id"`
	StartedAt    time.Time  `json:"started_at" db:"started_at"`
	FinishedAt   *time.Time `json:"finished_at" db:"finished_at"`
	Status       RunStatus  `json:"status" db:"status"`
	Selective    bool       `json:"selective" db:"selective"`
	URLsDue      int        `json:"urls_due" db:"urls_due"`
	URLsFetched  int        `json:"urls_fetched" db:"urls_fetched"`
	URLsSkipped  int        `json:"urls_skipped" db:"urls_skipped"`
	Observations int        `json:"observations" db:"observations"`
	ErrorsCount  int        `json:"errors_count" db:"errors_count"`
}
