package cloudsync

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

const incrementTotalPointsSQL = `
UPDATE users
SET total_points = total_points + $2, last_sync = now()
WHERE id = $1::uuid`

// mergeStorePointsSQL adds each incoming store total to the stored JSONB map
const mergeStorePointsSQL = `
UPDATE users
SET store_points = (
	SELECT COALESCE(jsonb_object_agg(key, total), '{}'::jsonb)
	FROM (
		SELECT key, SUM(value::bigint) AS total
		FROM (
			SELECT key, value FROM jsonb_each_text(COALESCE(users.store_points, '{}'::jsonb))
			UNION ALL
			SELECT key, value FROM jsonb_each_text($2::jsonb)
		) AS merged
		GROUP BY key
	) AS totals
), last_sync = now()
WHERE id = $1::uuid`

// PostgresConfig tunes the connection pool
type PostgresConfig struct {
	DSN         string
	MaxConns    int32
	DialTimeout time.Duration
}

// PostgresRemote applies point updates directly to the users table
type PostgresRemote struct {
	pool *pgxpool.Pool
}

// OpenPostgres connects a pgx pool for the remote backend
func OpenPostgres(ctx context.Context, cfg PostgresConfig) (*PostgresRemote, error) {
	pc, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parsing postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		pc.MaxConns = cfg.MaxConns
	}
	pc.ConnConfig.RuntimeParams["application_name"] = "return-pocket"

	if cfg.DialTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.DialTimeout)
		defer cancel()
	}
	pool, err := pgxpool.NewWithConfig(ctx, pc)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}

	slog.Info("Connected to postgres remote")
	return NewPostgresRemote(pool), nil
}

// NewPostgresRemote wraps an existing pool
func NewPostgresRemote(pool *pgxpool.Pool) *PostgresRemote {
	return &PostgresRemote{pool: pool}
}

// IncrementTotalPoints atomically adds amount to the user's total
func (p *PostgresRemote) IncrementTotalPoints(ctx context.Context, user uuid.UUID, amount int64) error {
	tag, err := p.pool.Exec(ctx, incrementTotalPointsSQL, user.String(), amount)
	if err != nil {
		return fmt.Errorf("incrementing total points: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrUserNotFound, user)
	}
	return nil
}

// MergeStorePoints atomically adds per-store points into the user's store_points map
func (p *PostgresRemote) MergeStorePoints(ctx context.Context, user uuid.UUID, storePoints map[string]int64) error {
	tag, err := p.pool.Exec(ctx, mergeStorePointsSQL, user.String(), storePoints)
	if err != nil {
		return fmt.Errorf("merging store points: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrUserNotFound, user)
	}
	return nil
}

// Close closes the pool
func (p *PostgresRemote) Close() {
	p.pool.Close()
}
