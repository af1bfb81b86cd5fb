package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/slawa19/GEOv0-sub001/internal/core/store"
)

// pgTx adapts one pgx transaction to the store.Tx port. Repository
// handles are cheap value wrappers around the same transaction.
type pgTx struct {
	tx pgx.Tx
}

func newTx(tx pgx.Tx) *pgTx { return &pgTx{tx: tx} }

func (t *pgTx) Equivalents() store.EquivalentRepo   { return &equivalentRepo{tx: t.tx} }
func (t *pgTx) Participants() store.ParticipantRepo { return &participantRepo{tx: t.tx} }
func (t *pgTx) TrustLines() store.TrustLineRepo     { return &trustLineRepo{tx: t.tx} }
func (t *pgTx) Debts() store.DebtRepo               { return &debtRepo{tx: t.tx} }
func (t *pgTx) Locks() store.LockRepo               { return &lockRepo{tx: t.tx} }
func (t *pgTx) Transactions() store.TransactionRepo { return &transactionRepo{tx: t.tx} }
func (t *pgTx) Audit() store.AuditRepo              { return &auditRepo{tx: t.tx} }

// AdvisoryLock takes a transaction-scoped advisory lock; it is released
// automatically at commit or rollback.
func (t *pgTx) AdvisoryLock(ctx context.Context, key int64) error {
	_, err := t.tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, key)
	return err
}

// Savepoint runs fn in a nested transaction. pgx maps nested Begin onto
// SQL savepoints, so a failure here rolls back to the savepoint and
// leaves the outer transaction usable.
func (t *pgTx) Savepoint(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	inner, err := t.tx.Begin(ctx)
	if err != nil {
		return err
	}
	if err := fn(ctx, newTx(inner)); err != nil {
		_ = inner.Rollback(ctx)
		return err
	}
	return inner.Commit(ctx)
}
