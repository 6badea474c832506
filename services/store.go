package services

import (
	"context"
	"time"

	"rescue_scrooper/models"
)

// RunLogWriter persists run log rows. Both the primary store and the
// operational journal implement it.
type RunLogWriter interface {
	CreateRunLog(ctx context.Context, orgID string, startedAt time.Time) (int64, error)
	CompleteRunLog(ctx context.Context, logID int64, c *models.RunCompletion) error
}

// Store is the persistence surface the scrape engine needs.
type Store interface {
	RunLogWriter

	Ping(ctx context.Context) error
	GetExistingExternalIDs(ctx context.Context, orgID string) (map[string]struct{}, error)
	UpsertAnimal(ctx context.Context, orgID string, raw *models.RawAnimal) (*models.UpsertResult, error)

	// MarkAnimalSeen stamps the animal with the session and resets its
	// missing counter. Returns false when no such animal exists.
	MarkAnimalSeen(ctx context.Context, animalID int64, sessionID string, seenAt time.Time) (bool, error)
	MarkExternalIDsSeen(ctx context.Context, orgID string, externalIDs []string, sessionID string, seenAt time.Time) (int, error)

	// UpdateStaleness increments the missing counter of every animal of the
	// organization not stamped with sessionID and marks the ones reaching
	// threshold unavailable unless their status is terminal.
	UpdateStaleness(ctx context.Context, orgID, sessionID string, threshold int) (models.StalenessSummary, error)
	RestoreAvailable(ctx context.Context, animalID int64) (bool, error)

	// RecentSuccessfulFoundCounts returns animals_found of the newest
	// successful runs, newest first.
	RecentSuccessfulFoundCounts(ctx context.Context, orgID string, limit int) ([]int, error)
}
