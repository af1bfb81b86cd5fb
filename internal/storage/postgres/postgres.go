// Package postgres implements the store ports on PostgreSQL using pgx.
// Payment and clearing write paths run under serializable isolation; the
// Run wrapper re-executes the whole unit of work on serialization
// failure (SQLSTATE 40001) or deadlock (40P01) with bounded exponential
// backoff and jitter.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/slawa19/GEOv0-sub001/internal/core/store"
)

// Config controls the connection pool and the retry wrapper.
type Config struct {
	URL             string
	MaxConns        int32
	MinConns        int32
	ConnMaxLifetime time.Duration

	// Retry wrapper bounds: attempts counts the total executions of the
	// unit of work.
	RetryAttempts  uint64
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
}

// Validate applies defaults and rejects unusable configurations.
func (c *Config) Validate() error {
	if c.URL == "" {
		return fmt.Errorf("postgres: connection URL is required")
	}
	if c.MaxConns <= 0 {
		c.MaxConns = 16
	}
	if c.RetryAttempts == 0 {
		c.RetryAttempts = 5
	}
	if c.RetryBaseDelay <= 0 {
		c.RetryBaseDelay = 10 * time.Millisecond
	}
	if c.RetryMaxDelay <= 0 {
		c.RetryMaxDelay = 500 * time.Millisecond
	}
	return nil
}

// Store is the pgx-backed implementation of store.Store.
type Store struct {
	pool   *pgxpool.Pool
	config Config
	log    *zap.Logger
}

// Open connects, applies the schema, and returns the store.
func Open(ctx context.Context, cfg Config, log *zap.Logger) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("postgres: parse config: %w", err)
	}
	poolCfg.MaxConns = cfg.MaxConns
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.ConnMaxLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.ConnMaxLifetime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}

	s := &Store{pool: pool, config: cfg, log: log}
	if err := s.initSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the pool.
func (s *Store) Close() { s.pool.Close() }

// Run implements the whole-unit-of-work retry contract. fn is invoked
// inside a fresh serializable transaction on every attempt; a naive
// commit-only replay would silently skip the business logic, so the
// entire closure re-runs.
func (s *Store) Run(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	attempt := 0
	op := func() error {
		attempt++
		err := s.runOnce(ctx, pgx.Serializable, pgx.ReadWrite, fn)
		if err == nil {
			return nil
		}
		if retryableSQLState(err) {
			s.log.Debug("retrying unit of work after serialization conflict",
				zap.Int("attempt", attempt), zap.Error(err))
			return err
		}
		return backoff.Permanent(err)
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = s.config.RetryBaseDelay
	bo.MaxInterval = s.config.RetryMaxDelay
	bo.MaxElapsedTime = 0 // bounded by attempts, not wall clock

	err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(bo, s.config.RetryAttempts-1), ctx))
	var perm *backoff.PermanentError
	if errors.As(err, &perm) {
		return perm.Err
	}
	return err
}

// RunReadOnly executes fn in a read-only transaction, no retry.
func (s *Store) RunReadOnly(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	return s.runOnce(ctx, pgx.RepeatableRead, pgx.ReadOnly, fn)
}

func (s *Store) runOnce(ctx context.Context, iso pgx.TxIsoLevel, mode pgx.TxAccessMode, fn func(ctx context.Context, tx store.Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: iso, AccessMode: mode})
	if err != nil {
		return fmt.Errorf("postgres: begin: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after commit

	if err := fn(ctx, newTx(tx)); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit: %w", err)
	}
	return nil
}

// retryableSQLState reports whether the error chain carries a
// serialization failure or deadlock SQLSTATE.
func retryableSQLState(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == "40001" || pgErr.Code == "40P01"
}

// mapError normalizes pgx errors onto the store sentinels.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return store.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return fmt.Errorf("%w: %s", store.ErrDuplicate, pgErr.ConstraintName)
	}
	return err
}
