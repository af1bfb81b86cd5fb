package postgres

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/slawa19/GEOv0-sub001/internal/core/model"
	"github.com/slawa19/GEOv0-sub001/internal/core/store"
)

type transactionRepo struct {
	tx pgx.Tx
}

const txColumns = `tx_id, type, initiator, COALESCE(idempotency_key, ''), payload, state, error, created_at, updated_at`

func scanTransaction(row pgx.Row) (*model.Transaction, error) {
	var (
		t        model.Transaction
		errRaw   []byte
		payload  []byte
	)
	if err := row.Scan(&t.TxID, &t.Type, &t.Initiator, &t.IdempotencyKey,
		&payload, &t.State, &errRaw, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return nil, mapError(err)
	}
	t.Payload = payload
	if len(errRaw) > 0 {
		var te model.TxError
		if err := json.Unmarshal(errRaw, &te); err == nil {
			t.Error = &te
		}
	}
	return &t, nil
}

func (r *transactionRepo) Get(ctx context.Context, txID uuid.UUID) (*model.Transaction, error) {
	return scanTransaction(r.tx.QueryRow(ctx,
		`SELECT `+txColumns+` FROM transactions WHERE tx_id = $1`, txID))
}

func (r *transactionRepo) GetForUpdate(ctx context.Context, txID uuid.UUID) (*model.Transaction, error) {
	return scanTransaction(r.tx.QueryRow(ctx,
		`SELECT `+txColumns+` FROM transactions WHERE tx_id = $1 FOR UPDATE`, txID))
}

func (r *transactionRepo) Create(ctx context.Context, t *model.Transaction) error {
	payload := t.Payload
	if payload == nil {
		payload = json.RawMessage(`{}`)
	}
	var key any
	if t.IdempotencyKey != "" {
		key = t.IdempotencyKey
	}
	_, err := r.tx.Exec(ctx,
		`INSERT INTO transactions (tx_id, type, initiator, idempotency_key, payload, state)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		t.TxID, t.Type, t.Initiator, key, []byte(payload), t.State)
	return mapError(err)
}

func (r *transactionRepo) SetState(ctx context.Context, txID uuid.UUID, state model.TxState) error {
	tag, err := r.tx.Exec(ctx,
		`UPDATE transactions SET state = $2, updated_at = NOW() WHERE tx_id = $1`,
		txID, state)
	if err != nil {
		return mapError(err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (r *transactionRepo) SetError(ctx context.Context, txID uuid.UUID, state model.TxState, e *model.TxError) error {
	raw, err := json.Marshal(e)
	if err != nil {
		return err
	}
	tag, err := r.tx.Exec(ctx,
		`UPDATE transactions SET state = $2, error = $3, updated_at = NOW() WHERE tx_id = $1`,
		txID, state, raw)
	if err != nil {
		return mapError(err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (r *transactionRepo) FindByIdempotency(ctx context.Context, initiator string, typ model.TxType, key string) (*model.Transaction, error) {
	return scanTransaction(r.tx.QueryRow(ctx,
		`SELECT `+txColumns+` FROM transactions
		  WHERE initiator = $1 AND type = $2 AND idempotency_key = $3`,
		initiator, typ, key))
}

func (r *transactionRepo) ListStale(ctx context.Context, typ model.TxType, states []model.TxState, cutoff time.Time) ([]uuid.UUID, error) {
	stateStrs := make([]string, len(states))
	for i, s := range states {
		stateStrs[i] = string(s)
	}
	rows, err := r.tx.Query(ctx,
		`SELECT tx_id FROM transactions
		  WHERE type = $1 AND state = ANY($2) AND updated_at < $3
		  ORDER BY updated_at`, typ, stateStrs, cutoff)
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

func (r *transactionRepo) ListPayments(ctx context.Context, f store.PaymentFilter) ([]model.Transaction, error) {
	// Direction filtering keys on the canonical payload fields written
	// by the payment service.
	field := "from"
	if f.Direction == store.DirectionReceived {
		field = "to"
	}
	limit := f.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := r.tx.Query(ctx,
		`SELECT `+txColumns+` FROM transactions
		  WHERE type = 'PAYMENT'
		    AND payload->>'`+field+`' = $1
		    AND ($2 = '' OR payload->>'equivalent' = $2)
		    AND ($3::timestamptz IS NULL OR created_at >= $3)
		  ORDER BY created_at DESC
		  LIMIT $4 OFFSET $5`,
		f.Participant, f.Equivalent, f.FromDate, limit, f.Offset)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var out []model.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}
