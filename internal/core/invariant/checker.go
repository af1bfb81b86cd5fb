// Package invariant implements the pure read-side verifiers that guard
// every payment and clearing commit: zero-sum, trust-limit, debt
// symmetry, clearing neutrality, and per-participant payment delta
// drift. Checks run inside the caller's write transaction and therefore
// observe all of its prior writes.
package invariant

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/slawa19/GEOv0-sub001/internal/core/errs"
	"github.com/slawa19/GEOv0-sub001/internal/core/model"
	"github.com/slawa19/GEOv0-sub001/internal/core/store"
)

// Names used in integrity audit entries and checkpoint check bags.
const (
	CheckZeroSum      = "zero_sum"
	CheckTrustLimits  = "trust_limits"
	CheckDebtSymmetry = "debt_symmetry"
	CheckPaymentDelta = "payment_delta"
	CheckNeutrality   = "clearing_neutrality"
)

// DeltaTolerance bounds acceptable drift between expected and observed
// per-participant payment deltas.
var DeltaTolerance = decimal.New(1, -8) // 1e-8

// Checker verifies store-wide invariants.
type Checker struct{}

// NewChecker returns a stateless checker.
func NewChecker() *Checker { return &Checker{} }

// CheckZeroSum verifies Σ(credits − debts) = 0 per equivalent within
// the scope (all equivalents when empty). The per-participant sums
// cancel pairwise by construction, so any non-zero total means a debt
// row was written without its counterpart.
func (c *Checker) CheckZeroSum(ctx context.Context, tx store.Tx, equivalent string) error {
	positions, err := tx.Debts().NetPositions(ctx, equivalent)
	if err != nil {
		return errs.Internal("zero-sum query failed", err)
	}
	total := decimal.Zero
	for _, p := range positions {
		total = total.Add(p)
	}
	if !total.IsZero() {
		return errs.Conflict("ZERO_SUM_VIOLATION", map[string]any{
			"equivalent": equivalent,
			"total":      total.String(),
		})
	}
	return nil
}

// CheckTrustLimits verifies every debt against its controlling active
// trustline (creditor→debtor). pairs, when non-empty, scopes the check
// to the unordered endpoint pairs an operation touched, so a violation
// elsewhere in the graph cannot abort an unrelated payment.
func (c *Checker) CheckTrustLimits(ctx context.Context, tx store.Tx, equivalent string, pairs []model.PairKey) error {
	violations, err := tx.Debts().TrustLimitViolations(ctx, equivalent, pairs)
	if err != nil {
		return errs.Internal("trust-limit query failed", err)
	}
	if len(violations) == 0 {
		return nil
	}
	detail := make([]map[string]any, len(violations))
	for i, v := range violations {
		detail[i] = map[string]any{
			"debtor":     v.Debtor,
			"creditor":   v.Creditor,
			"equivalent": v.Equivalent,
			"debt":       v.Debt.String(),
			"limit":      v.Limit.String(),
		}
	}
	return errs.Conflict("TRUST_LIMIT_VIOLATION", map[string]any{
		"violations": detail,
	})
}

// CheckDebtSymmetry verifies no pair holds strictly positive debt in
// both directions, with the same pair scoping as CheckTrustLimits.
func (c *Checker) CheckDebtSymmetry(ctx context.Context, tx store.Tx, equivalent string, pairs []model.PairKey) error {
	violations, err := tx.Debts().SymmetryViolations(ctx, equivalent, pairs)
	if err != nil {
		return errs.Internal("symmetry query failed", err)
	}
	if len(violations) == 0 {
		return nil
	}
	detail := make([]map[string]any, len(violations))
	for i, v := range violations {
		detail[i] = map[string]any{
			"a":          v.A,
			"b":          v.B,
			"equivalent": v.Equivalent,
			"a_to_b":     v.AtoB.String(),
			"b_to_a":     v.BtoA.String(),
		}
	}
	return errs.Conflict("DEBT_SYMMETRY_VIOLATION", map[string]any{
		"violations": detail,
	})
}

// NetPosition returns credits − debts for one participant.
func (c *Checker) NetPosition(ctx context.Context, tx store.Tx, participant, equivalent string) (decimal.Decimal, error) {
	return tx.Debts().NetPosition(ctx, participant, equivalent)
}

// VerifyClearingNeutrality fails when any participant's net position
// moved relative to the snapshot taken before the clearing. Exact
// comparison, no tolerance: clearing subtracts the same amount from a
// participant's credit and debit side, so any drift is a bug.
func (c *Checker) VerifyClearingNeutrality(ctx context.Context, tx store.Tx, participants []string, equivalent string, before map[string]decimal.Decimal) error {
	var offenders []map[string]any
	for _, p := range participants {
		after, err := tx.Debts().NetPosition(ctx, p, equivalent)
		if err != nil {
			return errs.Internal("neutrality query failed", err)
		}
		if !after.Equal(before[p]) {
			offenders = append(offenders, map[string]any{
				"participant": p,
				"before":      before[p].String(),
				"after":       after.String(),
			})
		}
	}
	if len(offenders) > 0 {
		return errs.Conflict("CLEARING_NEUTRALITY_VIOLATION", map[string]any{
			"equivalent": equivalent,
			"offenders":  offenders,
		})
	}
	return nil
}

// CheckPaymentDelta verifies that each participant's observed position
// change equals the algebraic sum of the committed flows through them,
// within DeltaTolerance. expected carries ±amount per terminal node and
// zero for intermediates.
func (c *Checker) CheckPaymentDelta(ctx context.Context, tx store.Tx, equivalent string, before map[string]decimal.Decimal, expected map[string]decimal.Decimal) error {
	var offenders []map[string]any
	for participant, want := range expected {
		after, err := tx.Debts().NetPosition(ctx, participant, equivalent)
		if err != nil {
			return errs.Internal("delta query failed", err)
		}
		got := after.Sub(before[participant])
		if got.Sub(want).Abs().GreaterThan(DeltaTolerance) {
			offenders = append(offenders, map[string]any{
				"participant": participant,
				"expected":    want.String(),
				"observed":    got.String(),
			})
		}
	}
	if len(offenders) > 0 {
		return errs.Conflict("PAYMENT_DELTA_DRIFT", map[string]any{
			"equivalent": equivalent,
			"offenders":  offenders,
		})
	}
	return nil
}

// Summarize runs the three store-wide checks for one equivalent and
// folds the outcomes into a checkpoint status bag. Critical means
// zero-sum or trust-limit failed; a symmetry failure alone is a
// warning.
func (c *Checker) Summarize(ctx context.Context, tx store.Tx, equivalent string) (model.InvariantsStatus, error) {
	status := model.InvariantsStatus{
		Passed: true,
		Status: model.CheckpointHealthy,
		Checks: make(map[string]bool, 3),
	}

	record := func(name string, err error) error {
		if err == nil {
			status.Checks[name] = true
			return nil
		}
		if errs.CodeOf(err) != errs.CodeConflict {
			return err // infrastructure failure, not a verdict
		}
		e := errs.AsError(err)
		status.Checks[name] = false
		status.Passed = false
		status.Alerts = append(status.Alerts, fmt.Sprintf("%s: %s", name, e.Message))
		if name == CheckDebtSymmetry {
			if status.Status == model.CheckpointHealthy {
				status.Status = model.CheckpointWarning
			}
		} else {
			status.Status = model.CheckpointCritical
		}
		return nil
	}

	if err := record(CheckZeroSum, c.CheckZeroSum(ctx, tx, equivalent)); err != nil {
		return status, err
	}
	if err := record(CheckTrustLimits, c.CheckTrustLimits(ctx, tx, equivalent, nil)); err != nil {
		return status, err
	}
	if err := record(CheckDebtSymmetry, c.CheckDebtSymmetry(ctx, tx, equivalent, nil)); err != nil {
		return status, err
	}
	return status, nil
}
