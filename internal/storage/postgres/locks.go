package postgres

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/slawa19/GEOv0-sub001/internal/core/model"
)

type lockRepo struct {
	tx pgx.Tx
}

func (r *lockRepo) GetByTx(ctx context.Context, txID uuid.UUID) ([]model.PrepareLock, error) {
	rows, err := r.tx.Query(ctx,
		`SELECT id, tx_id, participant, effects, expires_at
		   FROM prepare_locks WHERE tx_id = $1 ORDER BY participant`, txID)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()
	return collectLocks(rows)
}

func collectLocks(rows pgx.Rows) ([]model.PrepareLock, error) {
	var out []model.PrepareLock
	for rows.Next() {
		var (
			l   model.PrepareLock
			raw []byte
		)
		if err := rows.Scan(&l.ID, &l.TxID, &l.Participant, &raw, &l.ExpiresAt); err != nil {
			return nil, err
		}
		eff, err := model.ParseEffects(raw)
		if err != nil {
			// A malformed effects bag must not fail the reader; the
			// commit path skips such flows.
			eff = model.LockEffects{}
		}
		l.Effects = eff
		out = append(out, l)
	}
	return out, rows.Err()
}

func (r *lockRepo) Create(ctx context.Context, lock *model.PrepareLock) error {
	raw, err := json.Marshal(lock.Effects)
	if err != nil {
		return err
	}
	_, err = r.tx.Exec(ctx,
		`INSERT INTO prepare_locks (id, tx_id, participant, effects, expires_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		lock.ID, lock.TxID, lock.Participant, raw, lock.ExpiresAt)
	return mapError(err)
}

func (r *lockRepo) DeleteByTx(ctx context.Context, txID uuid.UUID) error {
	_, err := r.tx.Exec(ctx, `DELETE FROM prepare_locks WHERE tx_id = $1`, txID)
	return mapError(err)
}

func (r *lockRepo) Reserved(ctx context.Context, from, to, equivalent string, exclude uuid.UUID, now time.Time) (decimal.Decimal, error) {
	var sumText string
	err := r.tx.QueryRow(ctx,
		`SELECT COALESCE(SUM((f->>'amount')::numeric), 0)::text
		   FROM prepare_locks l,
		        jsonb_array_elements(l.effects->'flows') f
		  WHERE l.expires_at > $4
		    AND l.tx_id <> $5
		    AND f->>'from' = $1 AND f->>'to' = $2 AND f->>'equivalent' = $3`,
		from, to, equivalent, now, exclude).Scan(&sumText)
	if err != nil {
		return decimal.Zero, mapError(err)
	}
	return decimal.NewFromString(sumText)
}

func (r *lockRepo) ListActive(ctx context.Context, equivalent string, now time.Time) ([]model.PrepareLock, error) {
	rows, err := r.tx.Query(ctx,
		`SELECT DISTINCT l.id, l.tx_id, l.participant, l.effects, l.expires_at
		   FROM prepare_locks l
		  WHERE l.expires_at > $2
		    AND ($1 = '' OR EXISTS (
		         SELECT 1 FROM jsonb_array_elements(l.effects->'flows') f
		          WHERE f->>'equivalent' = $1))
		  ORDER BY l.id`, equivalent, now)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()
	return collectLocks(rows)
}

func (r *lockRepo) ExpiredTxIDs(ctx context.Context, now time.Time) ([]uuid.UUID, error) {
	rows, err := r.tx.Query(ctx,
		`SELECT DISTINCT tx_id FROM prepare_locks WHERE expires_at <= $1`, now)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var out []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (r *lockRepo) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	tag, err := r.tx.Exec(ctx,
		`DELETE FROM prepare_locks WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, mapError(err)
	}
	return tag.RowsAffected(), nil
}
