// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/accountlink/internal/store"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// StatusStoreConfig controls the Postgres connection pool used for status history.
type StatusStoreConfig struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type querier interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Close()
}

// StatusStore implements store.StatusRepository on Postgres.
type StatusStore struct {
	pool  querier
	table string
}

var _ store.StatusRepository = (*StatusStore)(nil)

// NewStatusStore creates a Postgres-backed StatusStore using the provided config.
func NewStatusStore(ctx context.Context, cfg StatusStoreConfig) (*StatusStore, error) {
	if cfg.DSN == "" {
		return nil, errors.New("store.dsn is required")
	}
	table, err := tableName(cfg.Table)
	if err != nil {
		return nil, err
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &StatusStore{pool: pool, table: table}, nil
}

// NewStatusStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewStatusStoreWithPool(pool querier, table string) (*StatusStore, error) {
	if pool == nil {
		return nil, errors.New("pool is required")
	}
	name, err := tableName(table)
	if err != nil {
		return nil, err
	}
	return &StatusStore{pool: pool, table: name}, nil
}

func tableName(table string) (string, error) {
	if table == "" {
		table = "connection_status"
	}
	if !validTableName.MatchString(table) {
		return "", fmt.Errorf("invalid table name %q", table)
	}
	return table, nil
}

// Close releases the underlying pool resources.
func (s *StatusStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// EnsureSchema creates the history table and index when missing.
func (s *StatusStore) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %[1]s (
	id          BIGSERIAL PRIMARY KEY,
	account_id  UUID        NOT NULL,
	status      TEXT        NOT NULL,
	previous    TEXT        NOT NULL DEFAULT '',
	recorded_at TIMESTAMPTZ NOT NULL,
	note        TEXT
);
CREATE INDEX IF NOT EXISTS %[1]s_account_idx ON %[1]s (account_id, recorded_at DESC);`, s.table)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("ensure status schema: %w", err)
	}
	return nil
}

// AppendTransition inserts one status row.
func (s *StatusStore) AppendTransition(ctx context.Context, t store.Transition) error {
	if t.AccountID == uuid.Nil {
		return errors.New("account id is required")
	}
	query := fmt.Sprintf(`
INSERT INTO %s (account_id, status, previous, recorded_at, note)
VALUES ($1, $2, $3, $4, $5)`, s.table)
	if _, err := s.pool.Exec(ctx, query, t.AccountID, t.Status, t.Previous, t.At, t.Note); err != nil {
		return fmt.Errorf("insert status transition: %w", err)
	}
	return nil
}

// LatestStatus returns the newest row for accountID.
func (s *StatusStore) LatestStatus(ctx context.Context, accountID uuid.UUID) (store.Transition, error) {
	query := fmt.Sprintf(`
SELECT account_id, status, previous, recorded_at, note
FROM %s
WHERE account_id = $1
ORDER BY recorded_at DESC, id DESC
LIMIT 1`, s.table)
	var t store.Transition
	err := s.pool.QueryRow(ctx, query, accountID).Scan(&t.AccountID, &t.Status, &t.Previous, &t.At, &t.Note)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.Transition{}, store.ErrNotFound
		}
		return store.Transition{}, fmt.Errorf("get latest status: %w", err)
	}
	return t, nil
}

// ListTransitions returns rows newest first.
func (s *StatusStore) ListTransitions(
	ctx context.Context,
	accountID uuid.UUID,
	limit,
	offset int,
) ([]store.Transition, error) {
	query := fmt.Sprintf(`
SELECT account_id, status, previous, recorded_at, note
FROM %s
WHERE account_id = $1
ORDER BY recorded_at DESC, id DESC
LIMIT $2 OFFSET $3`, s.table)
	rows, err := s.pool.Query(ctx, query, accountID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list status transitions: %w", err)
	}
	defer rows.Close()

	var out []store.Transition
	for rows.Next() {
		var t store.Transition
		if err := rows.Scan(&t.AccountID, &t.Status, &t.Previous, &t.At, &t.Note); err != nil {
			return nil, fmt.Errorf("scan status row: %w", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate status rows: %w", err)
	}
	return out, nil
}
