package services

import (
	"context"
	"testing"

	"rescue_scrooper/models"
	"rescue_scrooper/storage"
)

func TestStartSession_UniqueTokens(t *testing.T) {
	sessions := NewSessionManager(storage.NewMemoryStore(), 3)
	a, err := sessions.StartSession(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	b, _ := sessions.StartSession(context.Background())
	if a.ID == b.ID {
		t.Error("two sessions got the same id")
	}
}

func TestStartSession_StoreDown(t *testing.T) {
	store := storage.NewMemoryStore()
	store.SetDown(true)
	if _, err := NewSessionManager(store, 3).StartSession(context.Background()); err == nil {
		t.Error("expected error when store is down")
	}
}

func TestMarkSeen_Idempotent(t *testing.T) {
	store := storage.NewMemoryStore()
	id := store.SeedAnimal(models.Animal{OrganizationID: "org", ExternalID: "a", ConsecutiveMissingCount: 2})
	sessions := NewSessionManager(store, 3)
	ctx := context.Background()
	session, _ := sessions.StartSession(ctx)

	for i := 0; i < 2; i++ {
		ok, err := sessions.MarkSeen(ctx, id, session)
		if err != nil || !ok {
			t.Fatalf("MarkSeen #%d = (%v, %v)", i+1, ok, err)
		}
	}

	a, _ := store.Animal("org", "a")
	if a.ConsecutiveMissingCount != 0 {
		t.Errorf("missing count = %d, want 0", a.ConsecutiveMissingCount)
	}
	if a.LastSessionID != session.String() {
		t.Errorf("last session = %q, want %q", a.LastSessionID, session.String())
	}
}

func TestMarkSeen_UnknownAnimal(t *testing.T) {
	sessions := NewSessionManager(storage.NewMemoryStore(), 3)
	session, _ := sessions.StartSession(context.Background())
	ok, err := sessions.MarkSeen(context.Background(), 999, session)
	if err != nil || ok {
		t.Errorf("got (%v, %v), want (false, nil)", ok, err)
	}
}

func TestUpdateStaleness_ThresholdAndTerminal(t *testing.T) {
	store := storage.NewMemoryStore()
	store.SeedAnimal(models.Animal{OrganizationID: "org", ExternalID: "seen"})
	store.SeedAnimal(models.Animal{OrganizationID: "org", ExternalID: "fresh"})
	store.SeedAnimal(models.Animal{OrganizationID: "org", ExternalID: "aging", ConsecutiveMissingCount: 2})
	store.SeedAnimal(models.Animal{OrganizationID: "org", ExternalID: "adopted", ConsecutiveMissingCount: 5, Status: models.AnimalStatusAdopted})
	store.SeedAnimal(models.Animal{OrganizationID: "other", ExternalID: "elsewhere"})

	sessions := NewSessionManager(store, 3)
	ctx := context.Background()
	session, _ := sessions.StartSession(ctx)
	seen, _ := store.Animal("org", "seen")
	sessions.MarkSeen(ctx, seen.ID, session)

	summary, err := sessions.UpdateStaleness(ctx, "org", session)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if summary.Incremented != 3 || summary.MarkedUnavailable != 1 || summary.Protected != 1 {
		t.Errorf("summary = %+v, want incremented 3, unavailable 1, protected 1", summary)
	}

	checks := []struct {
		ext     string
		missing int
		status  models.AnimalStatus
	}{
		{"seen", 0, models.AnimalStatusAvailable},
		{"fresh", 1, models.AnimalStatusAvailable},
		{"aging", 3, models.AnimalStatusUnavailable},
		{"adopted", 6, models.AnimalStatusAdopted},
	}
	for _, c := range checks {
		a, _ := store.Animal("org", c.ext)
		if a.ConsecutiveMissingCount != c.missing || a.Status != c.status {
			t.Errorf("%s: missing %d status %s, want %d %s", c.ext, a.ConsecutiveMissingCount, a.Status, c.missing, c.status)
		}
	}

	other, _ := store.Animal("other", "elsewhere")
	if other.ConsecutiveMissingCount != 0 {
		t.Error("staleness leaked into another organization")
	}
}

func TestMarkSkippedAsSeen_PreventsStaleness(t *testing.T) {
	store := storage.NewMemoryStore()
	var ids []string
	for _, ext := range []string{"a", "b", "c"} {
		store.SeedAnimal(models.Animal{OrganizationID: "org", ExternalID: ext, ConsecutiveMissingCount: 2})
		ids = append(ids, ext)
	}

	sessions := NewSessionManager(store, 3)
	ctx := context.Background()
	session, _ := sessions.StartSession(ctx)

	n, err := sessions.MarkSkippedAsSeen(ctx, "org", append(ids, "ghost"), session)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 3 {
		t.Errorf("matched %d, want 3", n)
	}

	summary, _ := sessions.UpdateStaleness(ctx, "org", session)
	if summary.Incremented != 0 || summary.MarkedUnavailable != 0 {
		t.Errorf("skipped animals were aged: %+v", summary)
	}
}

func TestRestoreAvailable(t *testing.T) {
	store := storage.NewMemoryStore()
	gone := store.SeedAnimal(models.Animal{OrganizationID: "org", ExternalID: "gone", Status: models.AnimalStatusUnavailable})
	adopted := store.SeedAnimal(models.Animal{OrganizationID: "org", ExternalID: "home", Status: models.AnimalStatusAdopted})
	sessions := NewSessionManager(store, 3)
	ctx := context.Background()

	if ok, _ := sessions.RestoreAvailable(ctx, gone); !ok {
		t.Error("unavailable animal should be restored")
	}
	if ok, _ := sessions.RestoreAvailable(ctx, adopted); ok {
		t.Error("adopted animal must not be restored")
	}
	a, _ := store.Animal("org", "gone")
	if a.Status != models.AnimalStatusAvailable {
		t.Errorf("status = %s, want available", a.Status)
	}
}
