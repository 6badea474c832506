package storage

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"rescue_scrooper/models"
)

var ErrUnavailable = errors.New("store unavailable")

// MemoryStore keeps animals and run logs in process memory. It backs dry runs
// and the engine's tests.
type MemoryStore struct {
	mu      sync.Mutex
	animals map[int64]*models.Animal
	byExt   map[string]int64 // orgID + "\x00" + externalID
	runs    map[int64]*models.RunLog
	nextID  int64
	nextRun int64
	down    bool

	completions int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		animals: make(map[int64]*models.Animal),
		byExt:   make(map[string]int64),
		runs:    make(map[int64]*models.RunLog),
	}
}

func extKey(orgID, externalID string) string {
	return orgID + "\x00" + externalID
}

// SetDown makes every call fail with ErrUnavailable.
func (s *MemoryStore) SetDown(down bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.down = down
}

func (s *MemoryStore) check() error {
	if s.down {
		return ErrUnavailable
	}
	return nil
}

func (s *MemoryStore) Ping(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.check()
}

// SeedAnimal inserts an animal as-is and returns its id.
func (s *MemoryStore) SeedAnimal(a models.Animal) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	a.ID = s.nextID
	if a.Status == "" {
		a.Status = models.AnimalStatusAvailable
	}
	s.animals[a.ID] = &a
	s.byExt[extKey(a.OrganizationID, a.ExternalID)] = a.ID
	return a.ID
}

// Animal returns a copy of the animal with the given external id.
func (s *MemoryStore) Animal(orgID, externalID string) (models.Animal, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byExt[extKey(orgID, externalID)]
	if !ok {
		return models.Animal{}, false
	}
	return *s.animals[id], true
}

// Animals returns copies of all animals of an organization ordered by id.
func (s *MemoryStore) Animals(orgID string) []models.Animal {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Animal
	for _, a := range s.animals {
		if a.OrganizationID == orgID {
			out = append(out, *a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// GetExistingExternalIDs leaves out unavailable animals so a re-listed one is
// upserted and restored.
func (s *MemoryStore) GetExistingExternalIDs(ctx context.Context, orgID string) (map[string]struct{}, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return nil, err
	}
	ids := make(map[string]struct{})
	for _, a := range s.animals {
		if a.OrganizationID == orgID && a.Status != models.AnimalStatusUnavailable {
			ids[a.ExternalID] = struct{}{}
		}
	}
	return ids, nil
}

func (s *MemoryStore) UpsertAnimal(ctx context.Context, orgID string, raw *models.RawAnimal) (*models.UpsertResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	now := time.Now()
	if id, ok := s.byExt[extKey(orgID, raw.ExternalID)]; ok {
		a := s.animals[id]
		prev := a.Status
		applyRaw(a, raw)
		if raw.Status != "" && raw.Status != models.AnimalStatusUnknown {
			a.Status = raw.Status
		}
		a.UpdatedAt = now
		return &models.UpsertResult{ID: id, Action: models.UpsertActionUpdated, PreviousStatus: prev}, nil
	}

	s.nextID++
	a := &models.Animal{
		ID:             s.nextID,
		OrganizationID: orgID,
		ExternalID:     raw.ExternalID,
		Status:         models.AnimalStatusAvailable,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	applyRaw(a, raw)
	if raw.Status != "" && raw.Status != models.AnimalStatusUnknown {
		a.Status = raw.Status
	}
	s.animals[a.ID] = a
	s.byExt[extKey(orgID, raw.ExternalID)] = a.ID
	return &models.UpsertResult{ID: a.ID, Action: models.UpsertActionAdded}, nil
}

func applyRaw(a *models.Animal, raw *models.RawAnimal) {
	a.Name = raw.Name
	a.Species = raw.Species
	a.Breed = raw.Breed
	a.Sex = raw.Sex
	a.Age = raw.Age
	a.Size = raw.Size
	a.Description = raw.Description
	a.URL = raw.URL
	if raw.PrimaryImageURL != "" {
		a.PrimaryImageURL = raw.PrimaryImageURL
	}
	if raw.OriginalImageURL != "" {
		a.OriginalImageURL = raw.OriginalImageURL
	}
}

func (s *MemoryStore) MarkAnimalSeen(ctx context.Context, animalID int64, sessionID string, seenAt time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return false, err
	}
	a, ok := s.animals[animalID]
	if !ok {
		return false, nil
	}
	markSeen(a, sessionID, seenAt)
	return true, nil
}

func (s *MemoryStore) MarkExternalIDsSeen(ctx context.Context, orgID string, externalIDs []string, sessionID string, seenAt time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return 0, err
	}
	n := 0
	for _, ext := range externalIDs {
		if id, ok := s.byExt[extKey(orgID, ext)]; ok {
			markSeen(s.animals[id], sessionID, seenAt)
			n++
		}
	}
	return n, nil
}

func markSeen(a *models.Animal, sessionID string, seenAt time.Time) {
	t := seenAt
	a.LastSeenAt = &t
	a.LastSessionID = sessionID
	a.ConsecutiveMissingCount = 0
}

func (s *MemoryStore) UpdateStaleness(ctx context.Context, orgID, sessionID string, threshold int) (models.StalenessSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var summary models.StalenessSummary
	if err := s.check(); err != nil {
		return summary, err
	}

	for _, a := range s.animals {
		if a.OrganizationID != orgID || a.LastSessionID == sessionID {
			continue
		}
		a.ConsecutiveMissingCount++
		summary.Incremented++
		if a.ConsecutiveMissingCount < threshold {
			continue
		}
		if a.Status.IsTerminal() {
			summary.Protected++
			continue
		}
		if a.Status != models.AnimalStatusUnavailable {
			a.Status = models.AnimalStatusUnavailable
			summary.MarkedUnavailable++
		}
	}
	return summary, nil
}

func (s *MemoryStore) RestoreAvailable(ctx context.Context, animalID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return false, err
	}
	a, ok := s.animals[animalID]
	if !ok || a.Status != models.AnimalStatusUnavailable {
		return false, nil
	}
	a.Status = models.AnimalStatusAvailable
	return true, nil
}

func (s *MemoryStore) CreateRunLog(ctx context.Context, orgID string, startedAt time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return 0, err
	}
	s.nextRun++
	s.runs[s.nextRun] = &models.RunLog{
		ID:             s.nextRun,
		OrganizationID: orgID,
		StartedAt:      startedAt,
		Status:         models.RunStatusRunning,
	}
	return s.nextRun, nil
}

func (s *MemoryStore) CompleteRunLog(ctx context.Context, logID int64, c *models.RunCompletion) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return err
	}
	r, ok := s.runs[logID]
	if !ok {
		return errors.New("run log not found")
	}
	completedAt := c.CompletedAt
	r.CompletedAt = &completedAt
	r.Status = c.Status
	r.AnimalsFound = c.AnimalsFound
	r.AnimalsAdded = c.AnimalsAdded
	r.AnimalsUpdated = c.AnimalsUpdated
	r.AnimalsSkipped = c.AnimalsSkipped
	r.ErrorsCount = c.ErrorsCount
	r.DurationSeconds = c.DurationSeconds
	r.DataQualityScore = c.DataQualityScore
	r.ErrorMessage = c.ErrorMessage
	r.Metadata = c.Metadata
	s.completions++
	return nil
}

// SeedRun records a finished run, for building history.
func (s *MemoryStore) SeedRun(orgID string, status models.RunStatus, found int, startedAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextRun++
	s.runs[s.nextRun] = &models.RunLog{
		ID:             s.nextRun,
		OrganizationID: orgID,
		StartedAt:      startedAt,
		Status:         status,
		AnimalsFound:   found,
	}
}

// Runs returns copies of the organization's run logs, oldest first.
func (s *MemoryStore) Runs(orgID string) []models.RunLog {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.RunLog
	for _, r := range s.runs {
		if r.OrganizationID == orgID {
			out = append(out, *r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Completions counts CompleteRunLog writes.
func (s *MemoryStore) Completions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.completions
}

func (s *MemoryStore) RecentSuccessfulFoundCounts(ctx context.Context, orgID string, limit int) ([]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return nil, err
	}

	var runs []*models.RunLog
	for _, r := range s.runs {
		if r.OrganizationID == orgID && r.Status == models.RunStatusSuccess && r.AnimalsFound > 0 {
			runs = append(runs, r)
		}
	}
	sort.Slice(runs, func(i, j int) bool { return runs[i].StartedAt.After(runs[j].StartedAt) })

	var counts []int
	for _, r := range runs {
		if limit > 0 && len(counts) >= limit {
			break
		}
		counts = append(counts, r.AnimalsFound)
	}
	return counts, nil
}
