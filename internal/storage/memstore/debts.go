package memstore

import (
	"context"
	"encoding/json"
	"sort"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/slawa19/GEOv0-sub001/internal/core/model"
	"github.com/slawa19/GEOv0-sub001/internal/core/store"
)

func decodePayload(raw []byte, v any) error {
	if len(raw) == 0 {
		return json.Unmarshal([]byte(`{}`), v)
	}
	return json.Unmarshal(raw, v)
}

type debtRepo struct {
	d *data
}

func (r *debtRepo) Get(_ context.Context, debtor, creditor, equivalent string) (*model.Debt, error) {
	d, ok := r.d.debts[debtKey{debtor, creditor, equivalent}]
	if !ok {
		return nil, store.ErrNotFound
	}
	c := *d
	return &c, nil
}

// GetForUpdate is identical to Get: the store mutex is the row lock.
func (r *debtRepo) GetForUpdate(ctx context.Context, debtor, creditor, equivalent string) (*model.Debt, error) {
	return r.Get(ctx, debtor, creditor, equivalent)
}

func (r *debtRepo) Create(_ context.Context, d *model.Debt) error {
	if err := d.Validate(); err != nil {
		return err
	}
	key := debtKey{d.Debtor, d.Creditor, d.Equivalent}
	if _, exists := r.d.debts[key]; exists {
		return store.ErrDuplicate
	}
	d.Version = 1
	c := *d
	r.d.debts[key] = &c
	return nil
}

func (r *debtRepo) Update(_ context.Context, d *model.Debt) error {
	if err := d.Validate(); err != nil {
		return err
	}
	cur, ok := r.d.debts[debtKey{d.Debtor, d.Creditor, d.Equivalent}]
	if !ok || cur.Version != d.Version {
		return store.ErrStale
	}
	cur.Amount = d.Amount
	cur.Version++
	d.Version = cur.Version
	return nil
}

func (r *debtRepo) Delete(_ context.Context, id uuid.UUID, version int64) error {
	for key, d := range r.d.debts {
		if d.ID == id {
			if d.Version != version {
				return store.ErrStale
			}
			delete(r.d.debts, key)
			return nil
		}
	}
	return store.ErrStale
}

func (r *debtRepo) ListByEquivalent(_ context.Context, equivalent string) ([]model.Debt, error) {
	var out []model.Debt
	for _, d := range r.d.debts {
		if d.Equivalent == equivalent {
			out = append(out, *d)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Debtor != out[j].Debtor {
			return out[i].Debtor < out[j].Debtor
		}
		return out[i].Creditor < out[j].Creditor
	})
	return out, nil
}

func (r *debtRepo) ListMutual(ctx context.Context) ([]store.SymmetryViolation, error) {
	return r.SymmetryViolations(ctx, "", nil)
}

func (r *debtRepo) NetPositions(_ context.Context, equivalent string) (map[string]decimal.Decimal, error) {
	out := make(map[string]decimal.Decimal)
	for _, d := range r.d.debts {
		if equivalent != "" && d.Equivalent != equivalent {
			continue
		}
		out[d.Creditor] = out[d.Creditor].Add(d.Amount)
		out[d.Debtor] = out[d.Debtor].Sub(d.Amount)
	}
	return out, nil
}

func (r *debtRepo) NetPosition(_ context.Context, participant, equivalent string) (decimal.Decimal, error) {
	sum := decimal.Zero
	for _, d := range r.d.debts {
		if d.Equivalent != equivalent {
			continue
		}
		if d.Creditor == participant {
			sum = sum.Add(d.Amount)
		}
		if d.Debtor == participant {
			sum = sum.Sub(d.Amount)
		}
	}
	return sum, nil
}

func pairMatch(pairs []model.PairKey, a, b string) bool {
	if len(pairs) == 0 {
		return true
	}
	key := model.NewPairKey(a, b)
	for _, p := range pairs {
		if p == key {
			return true
		}
	}
	return false
}

func (r *debtRepo) TrustLimitViolations(_ context.Context, equivalent string, pairs []model.PairKey) ([]store.TrustLimitViolation, error) {
	var out []store.TrustLimitViolation
	for _, d := range r.d.debts {
		if equivalent != "" && d.Equivalent != equivalent {
			continue
		}
		if !pairMatch(pairs, d.Debtor, d.Creditor) {
			continue
		}
		limit := decimal.Zero
		if tl, ok := r.d.trustlines[tlKey{d.Creditor, d.Debtor, d.Equivalent}]; ok {
			limit = tl.EffectiveLimit()
		}
		if d.Amount.GreaterThan(limit) {
			out = append(out, store.TrustLimitViolation{
				Debtor:     d.Debtor,
				Creditor:   d.Creditor,
				Equivalent: d.Equivalent,
				Debt:       d.Amount,
				Limit:      limit,
			})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Equivalent != out[j].Equivalent {
			return out[i].Equivalent < out[j].Equivalent
		}
		if out[i].Debtor != out[j].Debtor {
			return out[i].Debtor < out[j].Debtor
		}
		return out[i].Creditor < out[j].Creditor
	})
	return out, nil
}

func (r *debtRepo) SymmetryViolations(_ context.Context, equivalent string, pairs []model.PairKey) ([]store.SymmetryViolation, error) {
	var out []store.SymmetryViolation
	for key, d := range r.d.debts {
		if equivalent != "" && d.Equivalent != equivalent {
			continue
		}
		if key.debtor >= key.creditor {
			continue // report each pair once, from the low side
		}
		if !pairMatch(pairs, d.Debtor, d.Creditor) {
			continue
		}
		rev, ok := r.d.debts[debtKey{key.creditor, key.debtor, key.equivalent}]
		if !ok {
			continue
		}
		if d.Amount.IsPositive() && rev.Amount.IsPositive() {
			out = append(out, store.SymmetryViolation{
				A:          d.Debtor,
				B:          d.Creditor,
				Equivalent: d.Equivalent,
				AtoB:       d.Amount,
				BtoA:       rev.Amount,
			})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Equivalent != out[j].Equivalent {
			return out[i].Equivalent < out[j].Equivalent
		}
		if out[i].A != out[j].A {
			return out[i].A < out[j].A
		}
		return out[i].B < out[j].B
	})
	return out, nil
}

// edgesByDebtor mirrors the relational joins: debtor → outgoing debts.
func (r *debtRepo) edgesByDebtor(equivalent string) map[string][]*model.Debt {
	adj := make(map[string][]*model.Debt)
	for _, d := range r.d.debts {
		if d.Equivalent == equivalent && d.Amount.IsPositive() {
			adj[d.Debtor] = append(adj[d.Debtor], d)
		}
	}
	for _, edges := range adj {
		sort.Slice(edges, func(i, j int) bool { return edges[i].Creditor < edges[j].Creditor })
	}
	return adj
}

func (r *debtRepo) FindCycles3(_ context.Context, equivalent string) ([][]model.Debt, error) {
	adj := r.edgesByDebtor(equivalent)
	var cycles [][]model.Debt
	starts := sortedKeys(adj)
	for _, a := range starts {
		for _, d1 := range adj[a] {
			b := d1.Creditor
			if b <= a {
				continue
			}
			for _, d2 := range adj[b] {
				c := d2.Creditor
				if c <= a {
					continue
				}
				for _, d3 := range adj[c] {
					if d3.Creditor == a {
						cycles = append(cycles, []model.Debt{*d1, *d2, *d3})
					}
				}
			}
		}
	}
	return cycles, nil
}

func (r *debtRepo) FindCycles4(_ context.Context, equivalent string) ([][]model.Debt, error) {
	adj := r.edgesByDebtor(equivalent)
	var cycles [][]model.Debt
	starts := sortedKeys(adj)
	for _, a := range starts {
		for _, d1 := range adj[a] {
			b := d1.Creditor
			if b <= a {
				continue
			}
			for _, d2 := range adj[b] {
				c := d2.Creditor
				if c <= a || c == a || c == b {
					continue
				}
				for _, d3 := range adj[c] {
					e := d3.Creditor
					if e <= a || e == b || e == c {
						continue
					}
					for _, d4 := range adj[e] {
						if d4.Creditor == a {
							cycles = append(cycles, []model.Debt{*d1, *d2, *d3, *d4})
						}
					}
				}
			}
		}
	}
	return cycles, nil
}

func sortedKeys(m map[string][]*model.Debt) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
