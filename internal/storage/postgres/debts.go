package postgres

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/slawa19/GEOv0-sub001/internal/core/model"
	"github.com/slawa19/GEOv0-sub001/internal/core/store"
)

type debtRepo struct {
	tx pgx.Tx
}

const debtColumns = `id, debtor, creditor, equivalent, amount::text, version`

func scanDebt(row pgx.Row) (*model.Debt, error) {
	var (
		d          model.Debt
		amountText string
	)
	if err := row.Scan(&d.ID, &d.Debtor, &d.Creditor, &d.Equivalent, &amountText, &d.Version); err != nil {
		return nil, mapError(err)
	}
	amount, err := decimal.NewFromString(amountText)
	if err != nil {
		return nil, err
	}
	d.Amount = amount
	return &d, nil
}

func (r *debtRepo) Get(ctx context.Context, debtor, creditor, equivalent string) (*model.Debt, error) {
	return scanDebt(r.tx.QueryRow(ctx,
		`SELECT `+debtColumns+` FROM debts
		  WHERE debtor = $1 AND creditor = $2 AND equivalent = $3`,
		debtor, creditor, equivalent))
}

func (r *debtRepo) GetForUpdate(ctx context.Context, debtor, creditor, equivalent string) (*model.Debt, error) {
	return scanDebt(r.tx.QueryRow(ctx,
		`SELECT `+debtColumns+` FROM debts
		  WHERE debtor = $1 AND creditor = $2 AND equivalent = $3 FOR UPDATE`,
		debtor, creditor, equivalent))
}

func (r *debtRepo) Create(ctx context.Context, d *model.Debt) error {
	if err := d.Validate(); err != nil {
		return err
	}
	d.Version = 1
	_, err := r.tx.Exec(ctx,
		`INSERT INTO debts (id, debtor, creditor, equivalent, amount, version)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		d.ID, d.Debtor, d.Creditor, d.Equivalent, d.Amount.String(), d.Version)
	return mapError(err)
}

func (r *debtRepo) Update(ctx context.Context, d *model.Debt) error {
	if err := d.Validate(); err != nil {
		return err
	}
	tag, err := r.tx.Exec(ctx,
		`UPDATE debts SET amount = $2, version = version + 1
		  WHERE id = $1 AND version = $3`,
		d.ID, d.Amount.String(), d.Version)
	if err != nil {
		return mapError(err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrStale
	}
	d.Version++
	return nil
}

func (r *debtRepo) Delete(ctx context.Context, id uuid.UUID, version int64) error {
	tag, err := r.tx.Exec(ctx,
		`DELETE FROM debts WHERE id = $1 AND version = $2`, id, version)
	if err != nil {
		return mapError(err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrStale
	}
	return nil
}

func (r *debtRepo) ListByEquivalent(ctx context.Context, equivalent string) ([]model.Debt, error) {
	rows, err := r.tx.Query(ctx,
		`SELECT `+debtColumns+` FROM debts
		  WHERE equivalent = $1 ORDER BY debtor, creditor`, equivalent)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()
	return collectDebts(rows)
}

func collectDebts(rows pgx.Rows) ([]model.Debt, error) {
	var out []model.Debt
	for rows.Next() {
		d, err := scanDebt(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *d)
	}
	return out, rows.Err()
}

func (r *debtRepo) ListMutual(ctx context.Context) ([]store.SymmetryViolation, error) {
	return r.symmetryRows(ctx,
		`SELECT d1.debtor, d1.creditor, d1.equivalent, d1.amount::text, d2.amount::text
		   FROM debts d1
		   JOIN debts d2 ON d2.debtor = d1.creditor
		                AND d2.creditor = d1.debtor
		                AND d2.equivalent = d1.equivalent
		  WHERE d1.amount > 0 AND d2.amount > 0 AND d1.debtor < d1.creditor
		  ORDER BY d1.equivalent, d1.debtor, d1.creditor`)
}

func (r *debtRepo) NetPositions(ctx context.Context, equivalent string) (map[string]decimal.Decimal, error) {
	rows, err := r.tx.Query(ctx,
		`SELECT pid, SUM(delta)::text FROM (
			SELECT creditor AS pid, amount AS delta FROM debts
			 WHERE ($1 = '' OR equivalent = $1)
			UNION ALL
			SELECT debtor, -amount FROM debts
			 WHERE ($1 = '' OR equivalent = $1)
		 ) net GROUP BY pid`, equivalent)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	out := make(map[string]decimal.Decimal)
	for rows.Next() {
		var (
			pid     string
			sumText string
		)
		if err := rows.Scan(&pid, &sumText); err != nil {
			return nil, err
		}
		sum, err := decimal.NewFromString(sumText)
		if err != nil {
			return nil, err
		}
		out[pid] = sum
	}
	return out, rows.Err()
}

func (r *debtRepo) NetPosition(ctx context.Context, participant, equivalent string) (decimal.Decimal, error) {
	var sumText string
	err := r.tx.QueryRow(ctx,
		`SELECT (
			COALESCE((SELECT SUM(amount) FROM debts WHERE creditor = $1 AND equivalent = $2), 0) -
			COALESCE((SELECT SUM(amount) FROM debts WHERE debtor = $1 AND equivalent = $2), 0)
		 )::text`, participant, equivalent).Scan(&sumText)
	if err != nil {
		return decimal.Zero, mapError(err)
	}
	return decimal.NewFromString(sumText)
}

// pairKeys renders unordered pairs as "lo|hi" strings for ANY($n)
// filtering; the SQL side mirrors the encoding with least/greatest.
func pairKeys(pairs []model.PairKey) []string {
	keys := make([]string, len(pairs))
	for i, p := range pairs {
		keys[i] = p.Lo + "|" + p.Hi
	}
	return keys
}

func (r *debtRepo) TrustLimitViolations(ctx context.Context, equivalent string, pairs []model.PairKey) ([]store.TrustLimitViolation, error) {
	query := `
		SELECT d.debtor, d.creditor, d.equivalent, d.amount::text,
		       COALESCE(t.limit_amount, 0)::text
		  FROM debts d
		  LEFT JOIN trustlines t
		         ON t.from_pid = d.creditor AND t.to_pid = d.debtor
		        AND t.equivalent = d.equivalent AND t.status = 'active'
		 WHERE d.amount > COALESCE(t.limit_amount, 0)
		   AND ($1 = '' OR d.equivalent = $1)
		   AND ($2::text[] IS NULL OR
		        least(d.debtor, d.creditor) || '|' || greatest(d.debtor, d.creditor) = ANY($2))
		 ORDER BY d.equivalent, d.debtor, d.creditor`

	var keys []string
	if len(pairs) > 0 {
		keys = pairKeys(pairs)
	}
	rows, err := r.tx.Query(ctx, query, equivalent, keys)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var out []store.TrustLimitViolation
	for rows.Next() {
		var (
			v                   store.TrustLimitViolation
			debtText, limitText string
		)
		if err := rows.Scan(&v.Debtor, &v.Creditor, &v.Equivalent, &debtText, &limitText); err != nil {
			return nil, err
		}
		if v.Debt, err = decimal.NewFromString(debtText); err != nil {
			return nil, err
		}
		if v.Limit, err = decimal.NewFromString(limitText); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func (r *debtRepo) SymmetryViolations(ctx context.Context, equivalent string, pairs []model.PairKey) ([]store.SymmetryViolation, error) {
	query := `
		SELECT d1.debtor, d1.creditor, d1.equivalent, d1.amount::text, d2.amount::text
		  FROM debts d1
		  JOIN debts d2 ON d2.debtor = d1.creditor
		               AND d2.creditor = d1.debtor
		               AND d2.equivalent = d1.equivalent
		 WHERE d1.amount > 0 AND d2.amount > 0 AND d1.debtor < d1.creditor
		   AND ($1 = '' OR d1.equivalent = $1)
		   AND ($2::text[] IS NULL OR d1.debtor || '|' || d1.creditor = ANY($2))
		 ORDER BY d1.equivalent, d1.debtor, d1.creditor`

	var keys []string
	if len(pairs) > 0 {
		keys = pairKeys(pairs)
	}
	return r.symmetryRowsArgs(ctx, query, equivalent, keys)
}

func (r *debtRepo) symmetryRows(ctx context.Context, query string, args ...any) ([]store.SymmetryViolation, error) {
	return r.symmetryRowsArgs(ctx, query, args...)
}

func (r *debtRepo) symmetryRowsArgs(ctx context.Context, query string, args ...any) ([]store.SymmetryViolation, error) {
	rows, err := r.tx.Query(ctx, query, args...)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var out []store.SymmetryViolation
	for rows.Next() {
		var (
			v                store.SymmetryViolation
			abText, baText string
		)
		if err := rows.Scan(&v.A, &v.B, &v.Equivalent, &abText, &baText); err != nil {
			return nil, err
		}
		if v.AtoB, err = decimal.NewFromString(abText); err != nil {
			return nil, err
		}
		if v.BtoA, err = decimal.NewFromString(baText); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}
