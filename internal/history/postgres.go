package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JonMunkholm/pcodesync/internal/config"
)

const schema = `
CREATE TABLE IF NOT EXISTS sync_runs (
    id          TEXT PRIMARY KEY,
    trigger     TEXT NOT NULL,
    status      TEXT NOT NULL,
    started_at  TIMESTAMPTZ NOT NULL,
    finished_at TIMESTAMPTZ,
    countries   INTEGER NOT NULL DEFAULT 0,
    artifacts   INTEGER NOT NULL DEFAULT 0,
    targets     JSONB NOT NULL DEFAULT '[]',
    error       TEXT NOT NULL DEFAULT '',
    error_code  TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS sync_runs_started_at_idx ON sync_runs (started_at DESC);
`

const upsertRun = `
INSERT INTO sync_runs (id, trigger, status, started_at, finished_at, countries, artifacts, targets, error, error_code)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
ON CONFLICT (id) DO UPDATE SET
    status      = EXCLUDED.status,
    finished_at = EXCLUDED.finished_at,
    countries   = EXCLUDED.countries,
    artifacts   = EXCLUDED.artifacts,
    targets     = EXCLUDED.targets,
    error       = EXCLUDED.error,
    error_code  = EXCLUDED.error_code`

const selectRuns = `
SELECT id, trigger, status, started_at, finished_at, countries, artifacts, targets, error, error_code
FROM sync_runs`

// PostgresStore keeps runs in PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// OpenPostgres connects a pool using cfg, verifies it, and creates the
// sync_runs table if needed. The caller must Close the store.
func OpenPostgres(ctx context.Context, cfg config.DatabaseConfig) (*PostgresStore, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse database URL: %w", err)
	}
	poolConfig.MaxConns = int32(cfg.MaxConns)
	poolConfig.MinConns = int32(cfg.MinConns)

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := NewPostgresStore(pool)
	if err := store.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return store, nil
}

// NewPostgresStore wraps an existing pool.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Migrate creates the sync_runs table.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("create sync_runs: %w", err)
	}
	return nil
}

// Close releases the pool.
func (s *PostgresStore) Close() { s.pool.Close() }

// Save upserts run.
func (s *PostgresStore) Save(ctx context.Context, run *Run) error {
	targets, err := encodeTargets(run.Targets)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, upsertRun,
		run.ID, run.Trigger, run.Status, run.StartedAt, run.FinishedAt,
		run.Countries, run.Artifacts, targets, run.Error, run.ErrorCode,
	)
	if err != nil {
		return fmt.Errorf("save run %s: %w", run.ID, err)
	}
	return nil
}

// Get loads one run.
func (s *PostgresStore) Get(ctx context.Context, id string) (*Run, error) {
	row := s.pool.QueryRow(ctx, selectRuns+" WHERE id = $1", id)
	run, err := scanRun(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get run %s: %w", id, err)
	}
	return run, nil
}

// List loads up to limit runs, newest first.
func (s *PostgresStore) List(ctx context.Context, limit int) ([]*Run, error) {
	if limit <= 0 {
		limit = DefaultMemoryCapacity
	}
	rows, err := s.pool.Query(ctx, selectRuns+" ORDER BY started_at DESC, id DESC LIMIT $1", limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("list runs: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	return runs, nil
}

func scanRun(row pgx.Row) (*Run, error) {
	var (
		run        Run
		finishedAt *time.Time
		targets    []byte
	)
	err := row.Scan(
		&run.ID, &run.Trigger, &run.Status, &run.StartedAt, &finishedAt,
		&run.Countries, &run.Artifacts, &targets, &run.Error, &run.ErrorCode,
	)
	if err != nil {
		return nil, err
	}
	run.FinishedAt = finishedAt
	if run.Targets, err = decodeTargets(targets); err != nil {
		return nil, err
	}
	return &run, nil
}

func encodeTargets(targets []TargetResult) ([]byte, error) {
	if targets == nil {
		targets = []TargetResult{}
	}
	data, err := json.Marshal(targets)
	if err != nil {
		return nil, fmt.Errorf("encode target results: %w", err)
	}
	return data, nil
}

func decodeTargets(data []byte) ([]TargetResult, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var targets []TargetResult
	if err := json.Unmarshal(data, &targets); err != nil {
		return nil, fmt.Errorf("decode target results: %w", err)
	}
	return targets, nil
}
