package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/slawa19/GEOv0-sub001/internal/core/model"
)

type equivalentRepo struct {
	tx pgx.Tx
}

func (r *equivalentRepo) Get(ctx context.Context, code string) (*model.Equivalent, error) {
	var eq model.Equivalent
	err := r.tx.QueryRow(ctx,
		`SELECT id, code, precision, active FROM equivalents WHERE code = $1`, code).
		Scan(&eq.ID, &eq.Code, &eq.Precision, &eq.Active)
	if err != nil {
		return nil, mapError(err)
	}
	return &eq, nil
}

func (r *equivalentRepo) List(ctx context.Context) ([]model.Equivalent, error) {
	rows, err := r.tx.Query(ctx,
		`SELECT id, code, precision, active FROM equivalents ORDER BY code`)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var out []model.Equivalent
	for rows.Next() {
		var eq model.Equivalent
		if err := rows.Scan(&eq.ID, &eq.Code, &eq.Precision, &eq.Active); err != nil {
			return nil, err
		}
		out = append(out, eq)
	}
	return out, rows.Err()
}

func (r *equivalentRepo) Create(ctx context.Context, eq *model.Equivalent) error {
	if err := eq.Validate(); err != nil {
		return err
	}
	_, err := r.tx.Exec(ctx,
		`INSERT INTO equivalents (id, code, precision, active) VALUES ($1, $2, $3, $4)`,
		eq.ID, eq.Code, eq.Precision, eq.Active)
	return mapError(err)
}
