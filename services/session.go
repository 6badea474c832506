package services

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"rescue_scrooper/logging"
	"rescue_scrooper/models"
)

// SessionToken identifies one run's observations. It is read-only once
// created.
type SessionToken struct {
	ID        uuid.UUID
	StartedAt time.Time
}

func (t SessionToken) String() string {
	return t.ID.String()
}

// SessionManager tracks which animals a run observed and evolves their
// staleness counters and availability across runs.
type SessionManager struct {
	store            Store
	missingThreshold int
	now              func() time.Time
	logger           *log.Logger
}

func NewSessionManager(store Store, missingThreshold int) *SessionManager {
	if missingThreshold < 1 {
		missingThreshold = 3
	}
	return &SessionManager{
		store:            store,
		missingThreshold: missingThreshold,
		now:              time.Now,
		logger:           logging.Get("session"),
	}
}

// StartSession begins a new session. It fails only when the store cannot be
// reached.
func (m *SessionManager) StartSession(ctx context.Context) (SessionToken, error) {
	if err := m.store.Ping(ctx); err != nil {
		return SessionToken{}, fmt.Errorf("start session: %w", err)
	}
	return SessionToken{ID: uuid.New(), StartedAt: m.now()}, nil
}

// MarkSeen records that the animal was observed in this session. Calling it
// again for the same session leaves the same state.
func (m *SessionManager) MarkSeen(ctx context.Context, animalID int64, session SessionToken) (bool, error) {
	ok, err := m.store.MarkAnimalSeen(ctx, animalID, session.String(), session.StartedAt)
	if err != nil {
		return false, fmt.Errorf("mark seen %d: %w", animalID, err)
	}
	return ok, nil
}

// MarkSkippedAsSeen applies the seen effect to animals dropped by the
// skip-existing filter. Being filtered out proves they are still listed.
func (m *SessionManager) MarkSkippedAsSeen(ctx context.Context, orgID string, externalIDs []string, session SessionToken) (int, error) {
	if len(externalIDs) == 0 {
		return 0, nil
	}
	n, err := m.store.MarkExternalIDsSeen(ctx, orgID, externalIDs, session.String(), session.StartedAt)
	if err != nil {
		return n, fmt.Errorf("mark skipped seen: %w", err)
	}
	if n != len(externalIDs) {
		m.logger.Printf("%s: %d skipped ids, %d matched stored animals", orgID, len(externalIDs), n)
	}
	return n, nil
}

// UpdateStaleness ages every animal of the organization that this session did
// not observe.
func (m *SessionManager) UpdateStaleness(ctx context.Context, orgID string, session SessionToken) (models.StalenessSummary, error) {
	summary, err := m.store.UpdateStaleness(ctx, orgID, session.String(), m.missingThreshold)
	if err != nil {
		return summary, fmt.Errorf("update staleness: %w", err)
	}
	m.logger.Printf("%s: staleness incremented %d, marked unavailable %d, protected %d",
		orgID, summary.Incremented, summary.MarkedUnavailable, summary.Protected)
	return summary, nil
}

// RestoreAvailable flips an unavailable animal back to available after it was
// seen again.
func (m *SessionManager) RestoreAvailable(ctx context.Context, animalID int64) (bool, error) {
	ok, err := m.store.RestoreAvailable(ctx, animalID)
	if err != nil {
		return false, fmt.Errorf("restore %d: %w", animalID, err)
	}
	return ok, nil
}

// DetectPartialFailure reports whether foundCount is anomalously low for the
// organization. totalBeforeFilter and totalSkipped are only logged; the
// comparison always uses the true found count.
func (m *SessionManager) DetectPartialFailure(ctx context.Context, orgID string, foundCount int,
	thresholdPct float64, absoluteMinimum, minimumHistoricalSamples, totalBeforeFilter, totalSkipped int) (bool, error) {
	if foundCount == 0 {
		return true, nil
	}

	samples, err := m.store.RecentSuccessfulFoundCounts(ctx, orgID, minimumHistoricalSamples)
	if err != nil {
		return false, fmt.Errorf("historical found counts: %w", err)
	}

	if minimumHistoricalSamples <= 0 || len(samples) < minimumHistoricalSamples {
		partial := foundCount < absoluteMinimum
		if partial {
			m.logger.Printf("%s: found %d below absolute minimum %d (only %d historical runs; before filter %d, skipped %d)",
				orgID, foundCount, absoluteMinimum, len(samples), totalBeforeFilter, totalSkipped)
		}
		return partial, nil
	}

	sum := 0
	for _, s := range samples {
		sum += s
	}
	average := float64(sum) / float64(len(samples))

	floor := max(average*thresholdPct, float64(absoluteMinimum))

	partial := float64(foundCount) < floor
	if partial {
		m.logger.Printf("%s: found %d below floor %.1f (historical avg %.1f over %d runs; before filter %d, skipped %d)",
			orgID, foundCount, floor, average, len(samples), totalBeforeFilter, totalSkipped)
	}
	return partial, nil
}
