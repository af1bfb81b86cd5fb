package postgres

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/slawa19/GEOv0-sub001/internal/core/model"
	"github.com/slawa19/GEOv0-sub001/internal/core/store"
)

type trustLineRepo struct {
	tx pgx.Tx
}

const trustLineColumns = `id, from_pid, to_pid, equivalent, limit_amount::text, status, policy, version`

func scanTrustLine(row pgx.Row) (*model.TrustLine, error) {
	var (
		tl        model.TrustLine
		limitText string
		policyRaw []byte
	)
	if err := row.Scan(&tl.ID, &tl.From, &tl.To, &tl.Equivalent, &limitText,
		&tl.Status, &policyRaw, &tl.Version); err != nil {
		return nil, mapError(err)
	}
	limit, err := decimal.NewFromString(limitText)
	if err != nil {
		return nil, err
	}
	tl.Limit = limit
	if err := json.Unmarshal(policyRaw, &tl.Policy); err != nil {
		return nil, err
	}
	return &tl, nil
}

func (r *trustLineRepo) Get(ctx context.Context, from, to, equivalent string) (*model.TrustLine, error) {
	return scanTrustLine(r.tx.QueryRow(ctx,
		`SELECT `+trustLineColumns+` FROM trustlines
		  WHERE from_pid = $1 AND to_pid = $2 AND equivalent = $3`,
		from, to, equivalent))
}

func (r *trustLineRepo) GetActive(ctx context.Context, from, to, equivalent string) (*model.TrustLine, error) {
	return scanTrustLine(r.tx.QueryRow(ctx,
		`SELECT `+trustLineColumns+` FROM trustlines
		  WHERE from_pid = $1 AND to_pid = $2 AND equivalent = $3 AND status = 'active'`,
		from, to, equivalent))
}

func (r *trustLineRepo) Create(ctx context.Context, tl *model.TrustLine) error {
	if err := tl.Validate(); err != nil {
		return err
	}
	policyRaw, err := json.Marshal(tl.Policy)
	if err != nil {
		return err
	}
	tl.Version = 1
	_, err = r.tx.Exec(ctx,
		`INSERT INTO trustlines (id, from_pid, to_pid, equivalent, limit_amount, status, policy, version)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		tl.ID, tl.From, tl.To, tl.Equivalent, tl.Limit.String(), tl.Status, policyRaw, tl.Version)
	return mapError(err)
}

func (r *trustLineRepo) Update(ctx context.Context, tl *model.TrustLine) error {
	if err := tl.Validate(); err != nil {
		return err
	}
	policyRaw, err := json.Marshal(tl.Policy)
	if err != nil {
		return err
	}
	tag, err := r.tx.Exec(ctx,
		`UPDATE trustlines
		    SET limit_amount = $2, status = $3, policy = $4, version = version + 1
		  WHERE id = $1 AND version = $5`,
		tl.ID, tl.Limit.String(), tl.Status, policyRaw, tl.Version)
	if err != nil {
		return mapError(err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrStale
	}
	tl.Version++
	return nil
}

func (r *trustLineRepo) ListByEquivalent(ctx context.Context, equivalent string) ([]model.TrustLine, error) {
	rows, err := r.tx.Query(ctx,
		`SELECT `+trustLineColumns+` FROM trustlines
		  WHERE equivalent = $1 ORDER BY from_pid, to_pid`, equivalent)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var out []model.TrustLine
	for rows.Next() {
		tl, err := scanTrustLine(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *tl)
	}
	return out, rows.Err()
}
