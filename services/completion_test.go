package services

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"rescue_scrooper/models"
	"rescue_scrooper/storage"
)

func TestCompletionLogger_ExactlyOnce(t *testing.T) {
	primary := storage.NewMemoryStore()
	c := NewCompletionLogger(primary, nil, "org")
	ctx := context.Background()

	if err := c.Open(ctx, time.Now()); err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := c.LogSuccess(ctx, RunMetrics{Outcome: models.OutcomeSuccess, AnimalsFound: 12}); err != nil {
		t.Fatalf("log success: %v", err)
	}
	if err := c.LogFailure(ctx, "late", nil); !errors.Is(err, ErrAlreadyCompleted) {
		t.Fatalf("second completion: expected ErrAlreadyCompleted, got %v", err)
	}

	if primary.Completions() != 1 {
		t.Errorf("completions = %d, want 1", primary.Completions())
	}
	runs := primary.Runs("org")
	if len(runs) != 1 || runs[0].Status != models.RunStatusSuccess || runs[0].AnimalsFound != 12 {
		t.Errorf("runs = %+v", runs)
	}
	if !c.Completed() || c.Record().Status != models.RunStatusSuccess {
		t.Error("record should reflect the first completion")
	}
}

func TestCompletionLogger_OutcomeStatus(t *testing.T) {
	primary := storage.NewMemoryStore()
	c := NewCompletionLogger(primary, nil, "org")
	ctx := context.Background()
	c.Open(ctx, time.Now())

	summary := &models.StalenessSummary{Incremented: 2}
	c.LogSuccess(ctx, RunMetrics{Outcome: models.OutcomePartialFailure, Staleness: summary, Notes: []string{"media skipped"}})

	run := primary.Runs("org")[0]
	if run.Status != models.RunStatusPartialFailure {
		t.Errorf("status = %s, want partial_failure", run.Status)
	}
	var meta map[string]interface{}
	if err := json.Unmarshal(run.Metadata, &meta); err != nil {
		t.Fatalf("metadata: %v", err)
	}
	if meta["outcome"] != "partial_failure" {
		t.Errorf("metadata outcome = %v", meta["outcome"])
	}
	if _, ok := meta["notes"]; !ok {
		t.Error("metadata missing notes")
	}
}

func TestCompletionLogger_FailureWithPartialMetrics(t *testing.T) {
	primary := storage.NewMemoryStore()
	c := NewCompletionLogger(primary, nil, "org")
	ctx := context.Background()
	c.Open(ctx, time.Now())

	c.LogFailure(ctx, "collector exploded", &RunMetrics{AnimalsFound: 3, ErrorsCount: 1})

	run := primary.Runs("org")[0]
	if run.Status != models.RunStatusFailed {
		t.Errorf("status = %s, want failed", run.Status)
	}
	if run.ErrorMessage == nil || *run.ErrorMessage != "collector exploded" {
		t.Errorf("error message = %v", run.ErrorMessage)
	}
	if run.AnimalsFound != 3 || run.ErrorsCount != 1 {
		t.Errorf("partial metrics lost: %+v", run)
	}
}

func TestCompletionLogger_FallsBackToJournal(t *testing.T) {
	primary := storage.NewMemoryStore()
	primary.SetDown(true)
	journal := storage.NewMemoryStore()
	c := NewCompletionLogger(primary, journal, "org")
	ctx := context.Background()

	if err := c.Open(ctx, time.Now()); err == nil {
		t.Fatal("open should fail when primary is down")
	}
	if err := c.LogFailure(ctx, "database unreachable", nil); err != nil {
		t.Fatalf("log failure: %v", err)
	}

	if journal.Completions() != 1 {
		t.Fatalf("journal completions = %d, want 1", journal.Completions())
	}
	if got := journal.Runs("org")[0].Status; got != models.RunStatusFailed {
		t.Errorf("journal status = %s, want failed", got)
	}
}

func TestCompletionLogger_PrimaryCompleteFailsUsesJournal(t *testing.T) {
	primary := storage.NewMemoryStore()
	journal := storage.NewMemoryStore()
	c := NewCompletionLogger(primary, journal, "org")
	ctx := context.Background()

	c.Open(ctx, time.Now())
	primary.SetDown(true)
	c.LogSuccess(ctx, RunMetrics{Outcome: models.OutcomeSuccess})

	if journal.Completions() != 1 {
		t.Errorf("journal completions = %d, want 1", journal.Completions())
	}
}

func TestCompletionLogger_NothingWritableStillCompletes(t *testing.T) {
	c := NewCompletionLogger(nil, nil, "org")
	ctx := context.Background()
	c.Open(ctx, time.Now())

	if err := c.LogFailure(ctx, "nowhere to write", nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !c.Completed() {
		t.Error("run should be completed")
	}
}

func TestCompletionLogger_Duration(t *testing.T) {
	primary := storage.NewMemoryStore()
	c := NewCompletionLogger(primary, nil, "org")
	start := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return start.Add(90 * time.Second) }

	c.Open(context.Background(), start)
	c.LogSuccess(context.Background(), RunMetrics{})

	if got := c.Record().DurationSeconds; got != 90 {
		t.Errorf("duration = %v, want 90", got)
	}
}
