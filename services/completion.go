package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"rescue_scrooper/logging"
	"rescue_scrooper/models"
)

var ErrAlreadyCompleted = errors.New("run already completed")

// RunMetrics are the figures a terminal record carries.
type RunMetrics struct {
	Outcome          models.RunOutcome
	AnimalsFound     int
	AnimalsAdded     int
	AnimalsUpdated   int
	AnimalsSkipped   int
	ErrorsCount      int
	DataQualityScore float64
	Staleness        *models.StalenessSummary
	Notes            []string
}

// CompletionLogger writes exactly one terminal record for a run. The first
// LogSuccess or LogFailure wins; any later call returns ErrAlreadyCompleted.
//
// The record goes to the primary store when its run log was opened,
// otherwise (or when that write fails) to the journal, and as a last resort
// to the log output.
type CompletionLogger struct {
	primary RunLogWriter
	journal RunLogWriter
	orgID   string
	now     func() time.Time
	logger  *log.Logger

	mu        sync.Mutex
	startedAt time.Time
	logID     int64
	opened    bool
	completed bool
	record    *models.RunCompletion
}

func NewCompletionLogger(primary, journal RunLogWriter, orgID string) *CompletionLogger {
	return &CompletionLogger{
		primary:   primary,
		journal:   journal,
		orgID:     orgID,
		now:       time.Now,
		logger:    logging.Get("completion"),
		startedAt: time.Now(),
	}
}

// Open creates the running run log in the primary store and starts the run
// timer at startedAt. A failed open is remembered so the terminal record
// falls through to the journal.
func (c *CompletionLogger) Open(ctx context.Context, startedAt time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.startedAt = startedAt
	if c.primary == nil {
		return nil
	}
	id, err := c.primary.CreateRunLog(ctx, c.orgID, startedAt)
	if err != nil {
		return fmt.Errorf("create run log: %w", err)
	}
	c.logID = id
	c.opened = true
	return nil
}

// LogSuccess finalizes a run that completed, whatever its outcome verdict.
func (c *CompletionLogger) LogSuccess(ctx context.Context, m RunMetrics) error {
	if m.Outcome == "" {
		m.Outcome = models.OutcomeSuccess
	}
	return c.complete(ctx, m.Outcome.Status(), m, nil)
}

// LogFailure finalizes a run that was aborted. partial may be nil.
func (c *CompletionLogger) LogFailure(ctx context.Context, errMsg string, partial *RunMetrics) error {
	m := RunMetrics{Outcome: models.OutcomeFatal}
	if partial != nil {
		m = *partial
	}
	return c.complete(ctx, models.RunStatusFailed, m, &errMsg)
}

// Completed reports whether a terminal record was already produced.
func (c *CompletionLogger) Completed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.completed
}

// Record returns the terminal record, nil before completion.
func (c *CompletionLogger) Record() *models.RunCompletion {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.record
}

func (c *CompletionLogger) complete(ctx context.Context, status models.RunStatus, m RunMetrics, errMsg *string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.completed {
		c.logger.Printf("BUG: second completion for %s (run log %d) with status %s", c.orgID, c.logID, status)
		return fmt.Errorf("%s run log %d: %w", c.orgID, c.logID, ErrAlreadyCompleted)
	}
	c.completed = true

	now := c.now()
	rec := &models.RunCompletion{
		OrganizationID:   c.orgID,
		Status:           status,
		CompletedAt:      now,
		AnimalsFound:     m.AnimalsFound,
		AnimalsAdded:     m.AnimalsAdded,
		AnimalsUpdated:   m.AnimalsUpdated,
		AnimalsSkipped:   m.AnimalsSkipped,
		ErrorsCount:      m.ErrorsCount,
		DurationSeconds:  now.Sub(c.startedAt).Seconds(),
		DataQualityScore: m.DataQualityScore,
		ErrorMessage:     errMsg,
		Metadata:         metadataJSON(m),
	}
	c.record = rec

	if c.opened {
		err := c.primary.CompleteRunLog(ctx, c.logID, rec)
		if err == nil {
			return nil
		}
		c.logger.Printf("%s: complete run log %d failed, writing to journal: %v", c.orgID, c.logID, err)
	}

	if c.journal != nil {
		id, err := c.journal.CreateRunLog(ctx, c.orgID, c.startedAt)
		if err == nil {
			err = c.journal.CompleteRunLog(ctx, id, rec)
		}
		if err == nil {
			return nil
		}
		c.logger.Printf("%s: journal write failed: %v", c.orgID, err)
	}

	data, _ := json.Marshal(rec)
	c.logger.Printf("%s: run record (unpersisted): %s", c.orgID, data)
	return nil
}

func metadataJSON(m RunMetrics) json.RawMessage {
	meta := map[string]interface{}{
		"outcome": m.Outcome,
	}
	if m.Staleness != nil {
		meta["staleness"] = m.Staleness
	}
	if len(m.Notes) > 0 {
		meta["notes"] = m.Notes
	}
	data, err := json.Marshal(meta)
	if err != nil {
		return nil
	}
	return data
}
