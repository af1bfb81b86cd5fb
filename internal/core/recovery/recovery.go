// Package recovery keeps the 2PC protocol live against crashed or
// abandoned callers: it aborts transactions holding expired prepare
// locks and sweeps payment transactions stuck in an active state.
package recovery

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/slawa19/GEOv0-sub001/internal/core/errs"
	"github.com/slawa19/GEOv0-sub001/internal/core/model"
	"github.com/slawa19/GEOv0-sub001/internal/core/store"
)

// Aborter is the abort half of the payment engine.
type Aborter interface {
	Abort(ctx context.Context, txID uuid.UUID, reason string, code errs.Code, details map[string]any) error
}

// Config bounds the loop.
type Config struct {
	Interval     time.Duration
	StuckTimeout time.Duration
}

// Validate applies defaults.
func (c *Config) Validate() error {
	if c.Interval <= 0 {
		c.Interval = 60 * time.Second
	}
	if c.StuckTimeout <= 0 {
		c.StuckTimeout = 10 * time.Minute
	}
	return nil
}

// Loop is the periodic recovery worker.
type Loop struct {
	store   store.Store
	aborter Aborter
	config  Config
	log     *zap.Logger
	now     func() time.Time
	stop    chan struct{}
	done    chan struct{}
}

// NewLoop wires a recovery loop.
func NewLoop(st store.Store, aborter Aborter, cfg Config, log *zap.Logger) *Loop {
	_ = cfg.Validate()
	return &Loop{
		store:   st,
		aborter: aborter,
		config:  cfg,
		log:     log,
		now:     func() time.Time { return time.Now().UTC() },
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Start runs one pass immediately, then one per interval until Stop.
func (l *Loop) Start(ctx context.Context) {
	go func() {
		defer close(l.done)
		l.RunOnce(ctx)
		ticker := time.NewTicker(l.config.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-l.stop:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				l.RunOnce(ctx)
			}
		}
	}()
}

// Stop signals the loop and waits for the current pass to finish.
func (l *Loop) Stop() {
	close(l.stop)
	<-l.done
}

// RunOnce executes both recovery passes. Failures are logged and
// swallowed; one poison transaction must not stall the loop.
func (l *Loop) RunOnce(ctx context.Context) {
	if n := l.cleanupExpiredPrepareLocks(ctx); n > 0 {
		l.log.Info("recovered transactions with expired locks", zap.Int("count", n))
	}
	if n := l.abortStalePaymentTransactions(ctx); n > 0 {
		l.log.Info("recovered stale payment transactions", zap.Int("count", n))
	}
}

// cleanupExpiredPrepareLocks aborts every transaction holding at least
// one expired lock, then sweeps residual expired rows (locks whose
// owning transaction is already terminal).
func (l *Loop) cleanupExpiredPrepareLocks(ctx context.Context) int {
	now := l.now()
	var txIDs []uuid.UUID
	err := l.store.RunReadOnly(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		txIDs, err = tx.Locks().ExpiredTxIDs(ctx, now)
		return err
	})
	if err != nil {
		l.log.Warn("expired lock scan failed", zap.Error(err))
		return 0
	}

	recovered := 0
	for _, txID := range txIDs {
		if err := l.aborter.Abort(ctx, txID, "Prepare lock expired", errs.CodeTimeout, nil); err != nil {
			l.log.Warn("abort of expired-lock transaction failed",
				zap.String("tx_id", txID.String()),
				zap.Error(err))
			continue
		}
		recovered++
	}

	err = l.store.Run(ctx, func(ctx context.Context, tx store.Tx) error {
		n, err := tx.Locks().DeleteExpired(ctx, now)
		if err == nil && n > 0 {
			l.log.Debug("swept residual expired locks", zap.Int64("rows", n))
		}
		return err
	})
	if err != nil {
		l.log.Warn("expired lock sweep failed", zap.Error(err))
	}
	return recovered
}

// abortStalePaymentTransactions aborts payment transactions sitting in
// an active state longer than the stuck timeout.
func (l *Loop) abortStalePaymentTransactions(ctx context.Context) int {
	cutoff := l.now().Add(-l.config.StuckTimeout)
	var txIDs []uuid.UUID
	err := l.store.RunReadOnly(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		txIDs, err = tx.Transactions().ListStale(ctx, model.TxPayment, model.ActiveStates(), cutoff)
		return err
	})
	if err != nil {
		l.log.Warn("stale transaction scan failed", zap.Error(err))
		return 0
	}

	recovered := 0
	for _, txID := range txIDs {
		if err := l.aborter.Abort(ctx, txID, "Recovered stale payment transaction", errs.CodeTimeout, nil); err != nil {
			l.log.Warn("abort of stale transaction failed",
				zap.String("tx_id", txID.String()),
				zap.Error(err))
			continue
		}
		recovered++
	}
	return recovered
}
