package models

import (
	"encoding/json"
	"time"
)

type RunStatus string

const (
	RunStatusRunning             RunStatus = "running"
	RunStatusSuccess             RunStatus = "success"
	RunStatusPartialFailure      RunStatus = "partial_failure"
	RunStatusCatastrophicFailure RunStatus = "catastrophic_failure"
	RunStatusFailed              RunStatus = "failed"
)

// RunOutcome is the verdict a run ends with
type RunOutcome string

const (
	OutcomeSuccess             RunOutcome = "success"
	OutcomePartialFailure      RunOutcome = "partial_failure"
	OutcomeCatastrophicFailure RunOutcome = "catastrophic_failure"
	OutcomeFatal               RunOutcome = "fatal"
)

// Status maps an outcome to the status persisted on the run log.
func (o RunOutcome) Status() RunStatus {
	switch o {
	case OutcomeSuccess:
		return RunStatusSuccess
	case OutcomePartialFailure:
		return RunStatusPartialFailure
	case OutcomeCatastrophicFailure:
		return RunStatusCatastrophicFailure
	default:
		return RunStatusFailed
	}
}

// AllowsDestructiveTransitions reports whether staleness may mark animals
// unavailable after a run with this outcome.
func (o RunOutcome) AllowsDestructiveTransitions() bool {
	return o == OutcomeSuccess
}

// RunLog is one row of run_logs
type RunLog struct {
	ID               int64           `json:"id" db:"id"`
	OrganizationID   string          `json:"organization_id" db:"organization_id"`
	StartedAt        time.Time       `json:"started_at" db:"started_at"`
	CompletedAt      *time.Time      `json:"completed_at" db:"completed_at"`
	Status           RunStatus       `json:"status" db:"status"`
	AnimalsFound     int             `json:"animals_found" db:"animals_found"`
	AnimalsAdded     int             `json:"animals_added" db:"animals_added"`
	AnimalsUpdated   int             `json:"animals_updated" db:"animals_updated"`
	AnimalsSkipped   int             `json:"animals_skipped" db:"animals_skipped"`
	ErrorsCount      int             `json:"errors_count" db:"errors_count"`
	DurationSeconds  float64         `json:"duration_seconds" db:"duration_seconds"`
	DataQualityScore float64         `json:"data_quality_score" db:"data_quality_score"`
	ErrorMessage     *string         `json:"error_message" db:"error_message"`
	Metadata         json.RawMessage `json:"metadata" db:"metadata"`
}

// RunCompletion is the terminal record written once per run
type RunCompletion struct {
	OrganizationID   string
	Status           RunStatus
	CompletedAt      time.Time
	AnimalsFound     int
	AnimalsAdded     int
	AnimalsUpdated   int
	AnimalsSkipped   int
	ErrorsCount      int
	DurationSeconds  float64
	DataQualityScore float64
	ErrorMessage     *string
	Metadata         json.RawMessage
}
