package postgres

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/slawa19/GEOv0-sub001/internal/core/model"
)

// Set-based cycle detection. Each query self-joins the debt table along
// debtor→creditor edges and closes the loop back on the first edge. The
// d1.debtor < d*.debtor predicates pin the lexicographically smallest
// vertex as the start, so every cycle is reported exactly once.

func (r *debtRepo) FindCycles3(ctx context.Context, equivalent string) ([][]model.Debt, error) {
	const query = `
		SELECT d1.id, d1.debtor, d1.creditor, d1.amount::text, d1.version,
		       d2.id, d2.debtor, d2.creditor, d2.amount::text, d2.version,
		       d3.id, d3.debtor, d3.creditor, d3.amount::text, d3.version
		  FROM debts d1
		  JOIN debts d2 ON d2.debtor = d1.creditor AND d2.equivalent = d1.equivalent
		  JOIN debts d3 ON d3.debtor = d2.creditor AND d3.creditor = d1.debtor
		               AND d3.equivalent = d1.equivalent
		 WHERE d1.equivalent = $1
		   AND d1.amount > 0 AND d2.amount > 0 AND d3.amount > 0
		   AND d1.debtor < d2.debtor AND d1.debtor < d3.debtor
		 ORDER BY d1.debtor, d2.debtor, d3.debtor`

	return r.collectCycles(ctx, equivalent, query, 3)
}

func (r *debtRepo) FindCycles4(ctx context.Context, equivalent string) ([][]model.Debt, error) {
	// The repeated-vertex guards reject non-simple walks such as
	// A→B→C→B→A: the third vertex must differ from the first and the
	// fourth from the second.
	const query = `
		SELECT d1.id, d1.debtor, d1.creditor, d1.amount::text, d1.version,
		       d2.id, d2.debtor, d2.creditor, d2.amount::text, d2.version,
		       d3.id, d3.debtor, d3.creditor, d3.amount::text, d3.version,
		       d4.id, d4.debtor, d4.creditor, d4.amount::text, d4.version
		  FROM debts d1
		  JOIN debts d2 ON d2.debtor = d1.creditor AND d2.equivalent = d1.equivalent
		  JOIN debts d3 ON d3.debtor = d2.creditor AND d3.equivalent = d1.equivalent
		               AND d3.debtor <> d1.debtor
		  JOIN debts d4 ON d4.debtor = d3.creditor AND d4.creditor = d1.debtor
		               AND d4.equivalent = d1.equivalent
		               AND d4.debtor <> d2.debtor
		 WHERE d1.equivalent = $1
		   AND d1.amount > 0 AND d2.amount > 0 AND d3.amount > 0 AND d4.amount > 0
		   AND d1.debtor < d2.debtor AND d1.debtor < d3.debtor AND d1.debtor < d4.debtor
		 ORDER BY d1.debtor, d2.debtor, d3.debtor, d4.debtor`

	return r.collectCycles(ctx, equivalent, query, 4)
}

func (r *debtRepo) collectCycles(ctx context.Context, equivalent, query string, depth int) ([][]model.Debt, error) {
	rows, err := r.tx.Query(ctx, query, equivalent)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var cycles [][]model.Debt
	for rows.Next() {
		cycle := make([]model.Debt, depth)
		dests := make([]any, 0, depth*5)
		amounts := make([]string, depth)
		for i := range cycle {
			cycle[i].Equivalent = equivalent
			dests = append(dests, &cycle[i].ID, &cycle[i].Debtor, &cycle[i].Creditor,
				&amounts[i], &cycle[i].Version)
		}
		if err := rows.Scan(dests...); err != nil {
			return nil, err
		}
		for i := range cycle {
			amount, err := decimal.NewFromString(amounts[i])
			if err != nil {
				return nil, err
			}
			cycle[i].Amount = amount
		}
		cycles = append(cycles, cycle)
	}
	return cycles, rows.Err()
}
