package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"rescue_scrooper/models"
)

// SQLiteStore is the local operational journal: run records that could not
// reach the central store, daemon logs and the command queue.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, err
	}

	store := &SQLiteStore{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, err
	}

	return store, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS scrape_runs (
		id INTEGER PRIMARY KEY,
		organization_id TEXT,
		started_at DATETIME,
		finished_at DATETIME,
		status TEXT,
		animals_found INTEGER DEFAULT 0,
		animals_added INTEGER DEFAULT 0,
		animals_updated INTEGER DEFAULT 0,
		animals_skipped INTEGER DEFAULT 0,
		errors_count INTEGER DEFAULT 0,
		duration_seconds REAL,
		data_quality_score REAL,
		error_message TEXT,
		metadata JSON
	);

	CREATE TABLE IF NOT EXISTS scrape_logs (
		id INTEGER PRIMARY KEY,
		run_id INTEGER,
		timestamp DATETIME,
		level TEXT,
		message TEXT,
		organization_id TEXT
	);

	CREATE TABLE IF NOT EXISTS commands (
		id INTEGER PRIMARY KEY,
		command TEXT,
		params JSON,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		processed_at DATETIME
	);

	CREATE INDEX IF NOT EXISTS idx_commands_pending ON commands(processed_at) WHERE processed_at IS NULL;
	CREATE INDEX IF NOT EXISTS idx_logs_run ON scrape_logs(run_id, timestamp);
	CREATE INDEX IF NOT EXISTS idx_runs_org ON scrape_runs(organization_id, started_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// Run journal
// =============================================================================

func (s *SQLiteStore) CreateRunLog(ctx context.Context, orgID string, startedAt time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO scrape_runs (organization_id, started_at, status)
		VALUES (?, ?, ?)`,
		orgID, startedAt, models.RunStatusRunning)
	if err != nil {
		return 0, err
	}
	return result.LastInsertId()
}

func (s *SQLiteStore) CompleteRunLog(ctx context.Context, logID int64, c *models.RunCompletion) error {
	var metadata *string
	if len(c.Metadata) > 0 {
		m := string(c.Metadata)
		metadata = &m
	}
	result, err := s.db.ExecContext(ctx, `
		UPDATE scrape_runs SET finished_at = ?, status = ?, animals_found = ?, animals_added = ?,
			animals_updated = ?, animals_skipped = ?, errors_count = ?, duration_seconds = ?,
			data_quality_score = ?, error_message = ?, metadata = ?
		WHERE id = ?`,
		c.CompletedAt, c.Status, c.AnimalsFound, c.AnimalsAdded,
		c.AnimalsUpdated, c.AnimalsSkipped, c.ErrorsCount, c.DurationSeconds,
		c.DataQualityScore, c.ErrorMessage, metadata, logID)
	if err != nil {
		return err
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("journal run %d not found", logID)
	}
	return nil
}

// RecentRuns returns the newest journal rows for an organization, or for
// all organizations when orgID is empty.
func (s *SQLiteStore) RecentRuns(orgID string, limit int) ([]models.RunLog, error) {
	rows, err := s.db.Query(`
		SELECT id, organization_id, started_at, finished_at, status, animals_found, animals_added,
			animals_updated, animals_skipped, errors_count, COALESCE(duration_seconds, 0),
			COALESCE(data_quality_score, 0), error_message, metadata
		FROM scrape_runs WHERE (? = '' OR organization_id = ?)
		ORDER BY started_at DESC, id DESC LIMIT ?`, orgID, orgID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []models.RunLog
	for rows.Next() {
		var r models.RunLog
		var finished sql.NullTime
		var errMsg, metadata sql.NullString
		if err := rows.Scan(&r.ID, &r.OrganizationID, &r.StartedAt, &finished, &r.Status, &r.AnimalsFound,
			&r.AnimalsAdded, &r.AnimalsUpdated, &r.AnimalsSkipped, &r.ErrorsCount, &r.DurationSeconds,
			&r.DataQualityScore, &errMsg, &metadata); err != nil {
			return nil, err
		}
		if finished.Valid {
			r.CompletedAt = &finished.Time
		}
		if errMsg.Valid {
			r.ErrorMessage = &errMsg.String
		}
		if metadata.Valid {
			r.Metadata = json.RawMessage(metadata.String)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// =============================================================================
// Logs
// =============================================================================

func (s *SQLiteStore) Log(runID *int64, level models.LogLevel, message, orgID string) error {
	_, err := s.db.Exec(`
		INSERT INTO scrape_logs (run_id, timestamp, level, message, organization_id)
		VALUES (?, ?, ?, ?, ?)`,
		runID, time.Now(), level, message, orgID)
	return err
}

func (s *SQLiteStore) RecentLogs(orgID string, limit int) ([]models.ScrapeLog, error) {
	rows, err := s.db.Query(`
		SELECT id, run_id, timestamp, level, message, COALESCE(organization_id, '')
		FROM scrape_logs WHERE (? = '' OR organization_id = ?)
		ORDER BY id DESC LIMIT ?`, orgID, orgID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var logs []models.ScrapeLog
	for rows.Next() {
		var l models.ScrapeLog
		if err := rows.Scan(&l.ID, &l.RunID, &l.Timestamp, &l.Level, &l.Message, &l.OrganizationID); err != nil {
			return nil, err
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

// =============================================================================
// Commands
// =============================================================================

func (s *SQLiteStore) EnqueueCommand(cmd models.CommandType, params *models.CommandParams) error {
	var raw *string
	if params != nil {
		data, err := json.Marshal(params)
		if err != nil {
			return err
		}
		p := string(data)
		raw = &p
	}
	_, err := s.db.Exec(`INSERT INTO commands (command, params) VALUES (?, ?)`, cmd, raw)
	return err
}

func (s *SQLiteStore) GetPendingCommands() ([]models.Command, error) {
	rows, err := s.db.Query(`
		SELECT id, command, params, created_at, processed_at
		FROM commands WHERE processed_at IS NULL ORDER BY created_at, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cmds []models.Command
	for rows.Next() {
		var cmd models.Command
		var params sql.NullString
		if err := rows.Scan(&cmd.ID, &cmd.Command, &params, &cmd.CreatedAt, &cmd.ProcessedAt); err != nil {
			return nil, err
		}
		if params.Valid {
			cmd.Params = json.RawMessage(params.String)
		}
		cmds = append(cmds, cmd)
	}
	return cmds, rows.Err()
}

func (s *SQLiteStore) MarkCommandProcessed(id int64) error {
	_, err := s.db.Exec(`UPDATE commands SET processed_at = ? WHERE id = ?`, time.Now(), id)
	return err
}

func (s *SQLiteStore) ParseCommandParams(cmd *models.Command) (*models.CommandParams, error) {
	if cmd.Params == nil || string(cmd.Params) == "null" {
		return &models.CommandParams{}, nil
	}
	var params models.CommandParams
	if err := json.Unmarshal(cmd.Params, &params); err != nil {
		return nil, err
	}
	return &params, nil
}
