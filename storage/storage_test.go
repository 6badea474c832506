package storage

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"rescue_scrooper/models"
)

func TestMemoryStore_UpsertAddsThenUpdates(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	res, err := s.UpsertAnimal(ctx, "org", &models.RawAnimal{ExternalID: "a1", Name: "Rex", PrimaryImageURL: "https://img/1.jpg"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Action != models.UpsertActionAdded {
		t.Errorf("action = %s, want added", res.Action)
	}

	res, _ = s.UpsertAnimal(ctx, "org", &models.RawAnimal{ExternalID: "a1", Name: "Rexy", Status: models.AnimalStatusUnknown})
	if res.Action != models.UpsertActionUpdated {
		t.Errorf("action = %s, want updated", res.Action)
	}
	if res.PreviousStatus != models.AnimalStatusAvailable {
		t.Errorf("previous status = %s, want available", res.PreviousStatus)
	}

	a, _ := s.Animal("org", "a1")
	if a.Name != "Rexy" {
		t.Errorf("name = %s, want Rexy", a.Name)
	}
	if a.PrimaryImageURL != "https://img/1.jpg" {
		t.Errorf("image overwritten with empty value: %q", a.PrimaryImageURL)
	}
	if a.Status != models.AnimalStatusAvailable {
		t.Errorf("unknown status overwrote stored status: %s", a.Status)
	}
}

func TestMemoryStore_MissingCountReachesThreshold(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	s.SeedAnimal(models.Animal{OrganizationID: "org", ExternalID: "a", ConsecutiveMissingCount: 2})

	summary, err := s.UpdateStaleness(ctx, "org", "session-1", 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if summary.MarkedUnavailable != 1 {
		t.Errorf("marked unavailable = %d, want 1", summary.MarkedUnavailable)
	}
	a, _ := s.Animal("org", "a")
	if a.ConsecutiveMissingCount != 3 || a.Status != models.AnimalStatusUnavailable {
		t.Errorf("got count %d status %s, want 3 unavailable", a.ConsecutiveMissingCount, a.Status)
	}

	// already unavailable animals keep counting but are not re-marked
	summary, _ = s.UpdateStaleness(ctx, "org", "session-2", 3)
	if summary.Incremented != 1 || summary.MarkedUnavailable != 0 {
		t.Errorf("second pass = %+v", summary)
	}
}

func TestMemoryStore_SkippedAnimalsNeverAge(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	var ids []string
	for i := 0; i < 35; i++ {
		ext := string(rune('A'+i%26)) + string(rune('a'+i/26))
		s.SeedAnimal(models.Animal{OrganizationID: "org", ExternalID: ext})
		ids = append(ids, ext)
	}

	for run := 1; run <= 5; run++ {
		session := fmt.Sprintf("session-%d", run)
		n, err := s.MarkExternalIDsSeen(ctx, "org", ids, session, time.Now())
		if err != nil || n != 35 {
			t.Fatalf("run %d: mark seen = (%d, %v)", run, n, err)
		}
		summary, _ := s.UpdateStaleness(ctx, "org", session, 3)
		if summary.Incremented != 0 {
			t.Fatalf("run %d: %d animals aged", run, summary.Incremented)
		}
	}

	for _, a := range s.Animals("org") {
		if a.Status != models.AnimalStatusAvailable || a.ConsecutiveMissingCount != 0 {
			t.Fatalf("%s: status %s count %d", a.ExternalID, a.Status, a.ConsecutiveMissingCount)
		}
	}
}

func TestMemoryStore_ExistingIDsLeaveOutUnavailable(t *testing.T) {
	s := NewMemoryStore()
	s.SeedAnimal(models.Animal{OrganizationID: "org", ExternalID: "here"})
	s.SeedAnimal(models.Animal{OrganizationID: "org", ExternalID: "adopted", Status: models.AnimalStatusAdopted})
	s.SeedAnimal(models.Animal{OrganizationID: "org", ExternalID: "gone", Status: models.AnimalStatusUnavailable})
	s.SeedAnimal(models.Animal{OrganizationID: "other", ExternalID: "elsewhere"})

	ids, err := s.GetExistingExternalIDs(context.Background(), "org")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ids) != 2 {
		t.Errorf("got %d ids, want 2: %v", len(ids), ids)
	}
	if _, ok := ids["gone"]; ok {
		t.Error("unavailable animal returned as existing")
	}
}

func TestMemoryStore_RecentSuccessfulFoundCounts(t *testing.T) {
	s := NewMemoryStore()
	base := time.Now()
	s.SeedRun("org", models.RunStatusSuccess, 10, base.Add(-3*time.Hour))
	s.SeedRun("org", models.RunStatusSuccess, 20, base.Add(-2*time.Hour))
	s.SeedRun("org", models.RunStatusPartialFailure, 2, base.Add(-90*time.Minute))
	s.SeedRun("org", models.RunStatusSuccess, 30, base.Add(-1*time.Hour))
	s.SeedRun("other", models.RunStatusSuccess, 99, base)

	counts, err := s.RecentSuccessfulFoundCounts(context.Background(), "org", 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(counts) != 2 || counts[0] != 30 || counts[1] != 20 {
		t.Errorf("counts = %v, want [30 20]", counts)
	}
}

func TestSQLiteStore_Journal(t *testing.T) {
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "journal.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer s.Close()
	ctx := context.Background()

	started := time.Now().Add(-time.Minute)
	id, err := s.CreateRunLog(ctx, "org", started)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	msg := "database unreachable"
	err = s.CompleteRunLog(ctx, id, &models.RunCompletion{
		OrganizationID:  "org",
		Status:          models.RunStatusFailed,
		CompletedAt:     time.Now(),
		DurationSeconds: 60,
		ErrorMessage:    &msg,
		Metadata:        []byte(`{"outcome":"fatal"}`),
	})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}

	runs, err := s.RecentRuns("org", 10)
	if err != nil {
		t.Fatalf("recent runs: %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("got %d runs, want 1", len(runs))
	}
	r := runs[0]
	if r.Status != models.RunStatusFailed || r.ErrorMessage == nil || *r.ErrorMessage != msg {
		t.Errorf("run = %+v", r)
	}
	if r.CompletedAt == nil {
		t.Error("completed_at not set")
	}

	if err := s.CompleteRunLog(ctx, 999, &models.RunCompletion{}); err == nil {
		t.Error("expected error for unknown run id")
	}
}

func TestSQLiteStore_Commands(t *testing.T) {
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "journal.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer s.Close()

	s.EnqueueCommand(models.CmdScrapeOrg, &models.CommandParams{Organization: "paws"})
	s.EnqueueCommand(models.CmdPause, nil)

	cmds, err := s.GetPendingCommands()
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if len(cmds) != 2 {
		t.Fatalf("got %d commands, want 2", len(cmds))
	}

	params, err := s.ParseCommandParams(&cmds[0])
	if err != nil || params.Organization != "paws" {
		t.Errorf("params = %+v, err %v", params, err)
	}
	params, err = s.ParseCommandParams(&cmds[1])
	if err != nil || params.Organization != "" {
		t.Errorf("empty params = %+v, err %v", params, err)
	}

	s.MarkCommandProcessed(cmds[0].ID)
	cmds, _ = s.GetPendingCommands()
	if len(cmds) != 1 || cmds[0].Command != models.CmdPause {
		t.Errorf("pending after processing = %+v", cmds)
	}
}

func TestSQLiteStore_Log(t *testing.T) {
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "journal.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer s.Close()

	runID := int64(7)
	s.Log(&runID, models.LogLevelWarn, "media skipped", "org")
	s.Log(nil, models.LogLevelInfo, "other org", "elsewhere")

	logs, err := s.RecentLogs("org", 10)
	if err != nil {
		t.Fatalf("logs: %v", err)
	}
	if len(logs) != 1 || logs[0].Message != "media skipped" || logs[0].RunID == nil || *logs[0].RunID != 7 {
		t.Errorf("logs = %+v", logs)
	}
}

func TestPublicURL(t *testing.T) {
	tests := []struct {
		cfg  S3Config
		want string
	}{
		{S3Config{Bucket: "pets", Region: "us-east-1"}, "https://pets.s3.us-east-1.amazonaws.com/media/ab/x.jpg"},
		{S3Config{Bucket: "pets", Endpoint: "https://nyc3.digitaloceanspaces.com"}, "https://pets.nyc3.digitaloceanspaces.com/media/ab/x.jpg"},
		{S3Config{Bucket: "pets", Endpoint: "http://localhost:9000/"}, "http://localhost:9000/pets/media/ab/x.jpg"},
	}
	for _, tt := range tests {
		if got := PublicURL(tt.cfg, "media/ab/x.jpg"); got != tt.want {
			t.Errorf("PublicURL(%+v) = %s, want %s", tt.cfg, got, tt.want)
		}
	}
}
