package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"rescue_scrooper/models"
)

// PostgresStore is the central animal store.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, connString string) (*PostgresStore, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	config.MaxConns = 10
	config.MinConns = 2
	config.MaxConnLifetime = 30 * time.Minute
	config.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

func (s *PostgresStore) Pool() *pgxpool.Pool {
	return s.pool
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Migrate creates the animals and run_logs tables when missing.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS animals (
		id BIGSERIAL PRIMARY KEY,
		organization_id TEXT NOT NULL,
		external_id TEXT NOT NULL,
		name TEXT NOT NULL DEFAULT '',
		species TEXT NOT NULL DEFAULT '',
		breed TEXT NOT NULL DEFAULT '',
		sex TEXT NOT NULL DEFAULT '',
		age TEXT NOT NULL DEFAULT '',
		size TEXT NOT NULL DEFAULT '',
		description TEXT NOT NULL DEFAULT '',
		url TEXT NOT NULL DEFAULT '',
		primary_image_url TEXT NOT NULL DEFAULT '',
		original_image_url TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'available',
		data JSONB,
		last_seen_at TIMESTAMPTZ,
		last_session_id TEXT,
		consecutive_missing_count INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		UNIQUE (organization_id, external_id)
	);

	CREATE TABLE IF NOT EXISTS run_logs (
		id BIGSERIAL PRIMARY KEY,
		organization_id TEXT NOT NULL,
		started_at TIMESTAMPTZ NOT NULL,
		completed_at TIMESTAMPTZ,
		status TEXT NOT NULL,
		animals_found INTEGER NOT NULL DEFAULT 0,
		animals_added INTEGER NOT NULL DEFAULT 0,
		animals_updated INTEGER NOT NULL DEFAULT 0,
		animals_skipped INTEGER NOT NULL DEFAULT 0,
		errors_count INTEGER NOT NULL DEFAULT 0,
		duration_seconds DOUBLE PRECISION,
		data_quality_score DOUBLE PRECISION,
		error_message TEXT,
		metadata JSONB
	);

	CREATE INDEX IF NOT EXISTS idx_animals_org_session ON animals(organization_id, last_session_id);
	CREATE INDEX IF NOT EXISTS idx_run_logs_org_status ON run_logs(organization_id, status, started_at DESC);
	`
	_, err := s.pool.Exec(ctx, schema)
	return err
}

// =============================================================================
// Animals
// =============================================================================

// GetExistingExternalIDs leaves out unavailable animals so a re-listed one is
// upserted and restored.
func (s *PostgresStore) GetExistingExternalIDs(ctx context.Context, orgID string) (map[string]struct{}, error) {
	rows, err := s.pool.Query(ctx, `SELECT external_id FROM animals WHERE organization_id = $1 AND status <> 'unavailable'`, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := make(map[string]struct{})
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids[id] = struct{}{}
	}
	return ids, rows.Err()
}

// UpsertAnimal inserts or refreshes an animal. An unknown incoming status
// keeps the stored one; image columns are only overwritten when non-empty.
func (s *PostgresStore) UpsertAnimal(ctx context.Context, orgID string, raw *models.RawAnimal) (*models.UpsertResult, error) {
	query := `
		WITH prev AS (
			SELECT status FROM animals WHERE organization_id = $1 AND external_id = $2
		)
		INSERT INTO animals (
			organization_id, external_id, name, species, breed, sex, age, size,
			description, url, primary_image_url, original_image_url, status, data
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14
		)
		ON CONFLICT (organization_id, external_id) DO UPDATE SET
			name = EXCLUDED.name,
			species = EXCLUDED.species,
			breed = EXCLUDED.breed,
			sex = EXCLUDED.sex,
			age = EXCLUDED.age,
			size = EXCLUDED.size,
			description = EXCLUDED.description,
			url = EXCLUDED.url,
			primary_image_url = COALESCE(NULLIF(EXCLUDED.primary_image_url, ''), animals.primary_image_url),
			original_image_url = COALESCE(NULLIF(EXCLUDED.original_image_url, ''), animals.original_image_url),
			status = CASE WHEN $15 THEN EXCLUDED.status ELSE animals.status END,
			data = COALESCE(EXCLUDED.data, animals.data),
			updated_at = NOW()
		RETURNING id, (xmax = 0), COALESCE((SELECT status FROM prev), '')`

	status := raw.Status
	known := status != "" && status != models.AnimalStatusUnknown
	if !known {
		status = models.AnimalStatusAvailable
	}

	var data []byte
	if len(raw.Data) > 0 {
		data = raw.Data
	}

	var result models.UpsertResult
	var inserted bool
	var prev string
	err := s.pool.QueryRow(ctx, query,
		orgID, raw.ExternalID, raw.Name, raw.Species, raw.Breed, raw.Sex, raw.Age, raw.Size,
		raw.Description, raw.URL, raw.PrimaryImageURL, raw.OriginalImageURL, status, data, known,
	).Scan(&result.ID, &inserted, &prev)
	if err != nil {
		return nil, err
	}

	result.Action = models.UpsertActionUpdated
	if inserted {
		result.Action = models.UpsertActionAdded
	}
	result.PreviousStatus = models.AnimalStatus(prev)
	return &result, nil
}

func (s *PostgresStore) GetAnimal(ctx context.Context, orgID, externalID string) (*models.Animal, error) {
	query := `
		SELECT id, organization_id, external_id, name, species, breed, sex, age, size,
			description, url, primary_image_url, original_image_url, status,
			last_seen_at, COALESCE(last_session_id, ''), consecutive_missing_count, created_at, updated_at
		FROM animals WHERE organization_id = $1 AND external_id = $2`

	var a models.Animal
	err := s.pool.QueryRow(ctx, query, orgID, externalID).Scan(
		&a.ID, &a.OrganizationID, &a.ExternalID, &a.Name, &a.Species, &a.Breed, &a.Sex, &a.Age, &a.Size,
		&a.Description, &a.URL, &a.PrimaryImageURL, &a.OriginalImageURL, &a.Status,
		&a.LastSeenAt, &a.LastSessionID, &a.ConsecutiveMissingCount, &a.CreatedAt, &a.UpdatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// =============================================================================
// Sessions
// =============================================================================

func (s *PostgresStore) MarkAnimalSeen(ctx context.Context, animalID int64, sessionID string, seenAt time.Time) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE animals SET last_seen_at = $2, last_session_id = $3, consecutive_missing_count = 0
		WHERE id = $1`, animalID, seenAt, sessionID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PostgresStore) MarkExternalIDsSeen(ctx context.Context, orgID string, externalIDs []string, sessionID string, seenAt time.Time) (int, error) {
	if len(externalIDs) == 0 {
		return 0, nil
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE animals SET last_seen_at = $3, last_session_id = $4, consecutive_missing_count = 0
		WHERE organization_id = $1 AND external_id = ANY($2)`, orgID, externalIDs, seenAt, sessionID)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

// UpdateStaleness ages and flips in a single statement so a concurrent
// MarkAnimalSeen is either fully before or fully after it.
func (s *PostgresStore) UpdateStaleness(ctx context.Context, orgID, sessionID string, threshold int) (models.StalenessSummary, error) {
	query := `
		WITH old AS (
			SELECT id, status FROM animals
			WHERE organization_id = $1 AND last_session_id IS DISTINCT FROM $2
			FOR UPDATE
		), upd AS (
			UPDATE animals a SET
				consecutive_missing_count = a.consecutive_missing_count + 1,
				status = CASE
					WHEN a.consecutive_missing_count + 1 >= $3 AND a.status NOT IN ('adopted', 'reserved')
					THEN 'unavailable' ELSE a.status END,
				updated_at = NOW()
			FROM old WHERE a.id = old.id
			RETURNING old.status AS old_status, a.status AS new_status, a.consecutive_missing_count AS missing
		)
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE new_status = 'unavailable' AND old_status <> 'unavailable'),
			COUNT(*) FILTER (WHERE old_status IN ('adopted', 'reserved') AND missing >= $3)
		FROM upd`

	var summary models.StalenessSummary
	err := s.pool.QueryRow(ctx, query, orgID, sessionID, threshold).Scan(
		&summary.Incremented, &summary.MarkedUnavailable, &summary.Protected,
	)
	return summary, err
}

func (s *PostgresStore) RestoreAvailable(ctx context.Context, animalID int64) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE animals SET status = 'available', updated_at = NOW()
		WHERE id = $1 AND status = 'unavailable'`, animalID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// =============================================================================
// Run Logs
// =============================================================================

func (s *PostgresStore) CreateRunLog(ctx context.Context, orgID string, startedAt time.Time) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx, `
		INSERT INTO run_logs (organization_id, started_at, status)
		VALUES ($1, $2, $3)
		RETURNING id`, orgID, startedAt, models.RunStatusRunning).Scan(&id)
	return id, err
}

func (s *PostgresStore) CompleteRunLog(ctx context.Context, logID int64, c *models.RunCompletion) error {
	query := `
		UPDATE run_logs SET
			completed_at = $2, status = $3, animals_found = $4, animals_added = $5,
			animals_updated = $6, animals_skipped = $7, errors_count = $8,
			duration_seconds = $9, data_quality_score = $10, error_message = $11, metadata = $12
		WHERE id = $1`

	var metadata []byte
	if len(c.Metadata) > 0 {
		metadata = c.Metadata
	}

	tag, err := s.pool.Exec(ctx, query,
		logID, c.CompletedAt, c.Status, c.AnimalsFound, c.AnimalsAdded,
		c.AnimalsUpdated, c.AnimalsSkipped, c.ErrorsCount,
		c.DurationSeconds, c.DataQualityScore, c.ErrorMessage, metadata,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("run log %d not found", logID)
	}
	return nil
}

func (s *PostgresStore) RecentSuccessfulFoundCounts(ctx context.Context, orgID string, limit int) ([]int, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT animals_found FROM run_logs
		WHERE organization_id = $1 AND status = 'success' AND animals_found > 0
		ORDER BY started_at DESC
		LIMIT $2`, orgID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var counts []int
	for rows.Next() {
		var n int
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}
		counts = append(counts, n)
	}
	return counts, rows.Err()
}
