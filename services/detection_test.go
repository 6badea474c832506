package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"rescue_scrooper/config"
	"rescue_scrooper/models"
	"rescue_scrooper/storage"
)

func seedHistory(store *storage.MemoryStore, orgID string, counts ...int) {
	base := time.Now().Add(-time.Duration(len(counts)) * time.Hour)
	for i, c := range counts {
		store.SeedRun(orgID, models.RunStatusSuccess, c, base.Add(time.Duration(i)*time.Hour))
	}
}

func TestDetectCatastrophicFailure(t *testing.T) {
	tests := []struct {
		found, min int
		want       bool
	}{
		{0, 3, true},
		{2, 3, true},
		{3, 3, false},
		{25, 3, false},
		{0, 0, true},
	}
	for _, tt := range tests {
		if got := DetectCatastrophicFailure(tt.found, tt.min); got != tt.want {
			t.Errorf("DetectCatastrophicFailure(%d, %d) = %v, want %v", tt.found, tt.min, got, tt.want)
		}
	}
}

func TestDetectPartialFailure_WithHistory(t *testing.T) {
	store := storage.NewMemoryStore()
	seedHistory(store, "org", 100, 100, 100)
	sessions := NewSessionManager(store, 3)
	ctx := context.Background()

	partial, err := sessions.DetectPartialFailure(ctx, "org", 60, 0.5, 5, 3, 60, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if partial {
		t.Error("found 60 against avg 100 at 50% should not be partial")
	}

	partial, err = sessions.DetectPartialFailure(ctx, "org", 8, 0.5, 5, 3, 8, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !partial {
		t.Error("found 8 against avg 100 at 50% should be partial")
	}
}

func TestDetectPartialFailure_AbsoluteMinimumRaisesFloor(t *testing.T) {
	store := storage.NewMemoryStore()
	seedHistory(store, "org", 10, 10, 10)
	sessions := NewSessionManager(store, 3)

	// avg*pct = 5, absolute minimum 8 wins
	partial, err := sessions.DetectPartialFailure(context.Background(), "org", 7, 0.5, 8, 3, 7, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !partial {
		t.Error("found 7 under absolute minimum 8 should be partial")
	}
}

func TestDetectPartialFailure_InsufficientHistory(t *testing.T) {
	store := storage.NewMemoryStore()
	seedHistory(store, "org", 100)
	sessions := NewSessionManager(store, 3)
	ctx := context.Background()

	partial, _ := sessions.DetectPartialFailure(ctx, "org", 4, 0.5, 5, 3, 4, 0)
	if !partial {
		t.Error("found 4 under absolute minimum 5 should be partial")
	}
	partial, _ = sessions.DetectPartialFailure(ctx, "org", 6, 0.5, 5, 3, 6, 0)
	if partial {
		t.Error("found 6 with no usable history should fall back to absolute minimum only")
	}
}

func TestDetectPartialFailure_ZeroIsPartial(t *testing.T) {
	sessions := NewSessionManager(storage.NewMemoryStore(), 3)
	partial, err := sessions.DetectPartialFailure(context.Background(), "org", 0, 0.5, 0, 3, 0, 0)
	if err != nil || !partial {
		t.Errorf("got (%v, %v), want (true, nil)", partial, err)
	}
}

func TestDetectPartialFailure_IgnoresFailedRuns(t *testing.T) {
	store := storage.NewMemoryStore()
	seedHistory(store, "org", 100, 100, 100)
	store.SeedRun("org", models.RunStatusPartialFailure, 5, time.Now())
	store.SeedRun("org", models.RunStatusFailed, 0, time.Now())
	sessions := NewSessionManager(store, 3)

	partial, _ := sessions.DetectPartialFailure(context.Background(), "org", 60, 0.5, 5, 3, 60, 0)
	if partial {
		t.Error("failed runs must not drag the historical average down")
	}
}

func TestDetectScraperFailure(t *testing.T) {
	store := storage.NewMemoryStore()
	seedHistory(store, "org", 100, 100, 100)
	cfg := config.DetectionConfig{MissingThreshold: 3, PartialThresholdPct: 0.5, AbsoluteMinimum: 5, HistoricalSamples: 3}
	d := NewFailureDetector(NewSessionManager(store, 3), cfg)
	ctx := context.Background()

	tests := []struct {
		found int
		want  models.RunOutcome
	}{
		{0, models.OutcomeCatastrophicFailure},
		{4, models.OutcomeCatastrophicFailure},
		{30, models.OutcomePartialFailure},
		{95, models.OutcomeSuccess},
	}
	for _, tt := range tests {
		got, err := d.DetectScraperFailure(ctx, "org", tt.found, tt.found, 0)
		if err != nil {
			t.Fatalf("found %d: unexpected error: %v", tt.found, err)
		}
		if got != tt.want {
			t.Errorf("found %d: outcome = %s, want %s", tt.found, got, tt.want)
		}
	}
}

func TestDetectScraperFailure_HistoryErrorWithholdsTransitions(t *testing.T) {
	store := storage.NewMemoryStore()
	cfg := config.DetectionConfig{MissingThreshold: 3, PartialThresholdPct: 0.5, AbsoluteMinimum: 5, HistoricalSamples: 3}
	d := NewFailureDetector(NewSessionManager(store, 3), cfg)

	store.SetDown(true)
	got, err := d.DetectScraperFailure(context.Background(), "org", 50, 50, 0)
	if !errors.Is(err, storage.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
	if got.AllowsDestructiveTransitions() {
		t.Errorf("outcome %s must not allow destructive transitions", got)
	}
}
