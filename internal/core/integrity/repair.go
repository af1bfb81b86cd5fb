package integrity

import (
	"context"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/slawa19/GEOv0-sub001/internal/core/errs"
	"github.com/slawa19/GEOv0-sub001/internal/core/invariant"
	"github.com/slawa19/GEOv0-sub001/internal/core/model"
	"github.com/slawa19/GEOv0-sub001/internal/core/store"
)

// capTolerance: a controlling limit below this is treated as absent and
// the excess debt row is deleted outright.
var capTolerance = decimal.New(1, -9) // 1e-9

// RepairReport summarizes one repair run.
type RepairReport struct {
	PairsNetted  int
	DebtsCapped  int
	DebtsDeleted int
}

// NetMutualDebts nets every unordered pair holding debt in both
// directions down to a single directed edge. Applying it twice equals
// applying it once: after the first pass no mutual pair remains.
func (s *Service) NetMutualDebts(ctx context.Context) (RepairReport, error) {
	var report RepairReport
	err := s.store.Run(ctx, func(ctx context.Context, tx store.Tx) error {
		report = RepairReport{}
		mutual, err := tx.Debts().ListMutual(ctx)
		if err != nil {
			return err
		}
		touched := make(map[string]bool)
		for _, pair := range mutual {
			ab, err := tx.Debts().GetForUpdate(ctx, pair.A, pair.B, pair.Equivalent)
			if err != nil {
				return err
			}
			ba, err := tx.Debts().GetForUpdate(ctx, pair.B, pair.A, pair.Equivalent)
			if err != nil {
				return err
			}
			if err := nettDebts(ctx, tx, ab, ba); err != nil {
				return err
			}
			report.PairsNetted++
			touched[pair.Equivalent] = true
		}
		for equivalent := range touched {
			WriteAudit(ctx, tx, s.log, &model.IntegrityAuditLog{
				Operation:          model.IntegrityOpRepair,
				Equivalent:         equivalent,
				InvariantsChecked:  []string{invariant.CheckDebtSymmetry},
				VerificationPassed: true,
			})
		}
		return nil
	})
	if err != nil {
		return report, err
	}
	s.log.Info("netted mutual debts", zap.Int("pairs", report.PairsNetted))
	return report, nil
}

// nettDebts subtracts the smaller amount from both directions, deleting
// whichever row reaches zero.
func nettDebts(ctx context.Context, tx store.Tx, ab, ba *model.Debt) error {
	k := decimal.Min(ab.Amount, ba.Amount)
	for _, d := range []*model.Debt{ab, ba} {
		remaining := d.Amount.Sub(k)
		if remaining.IsZero() {
			if err := tx.Debts().Delete(ctx, d.ID, d.Version); err != nil {
				return err
			}
			continue
		}
		d.Amount = remaining
		if err := tx.Debts().Update(ctx, d); err != nil {
			return err
		}
	}
	return nil
}

// CapDebtsToTrustLimits reduces every debt exceeding its controlling
// active trustline down to the limit, deleting the row when no active
// line exists (effective limit within capTolerance of zero).
func (s *Service) CapDebtsToTrustLimits(ctx context.Context) (RepairReport, error) {
	var report RepairReport
	err := s.store.Run(ctx, func(ctx context.Context, tx store.Tx) error {
		report = RepairReport{}
		violations, err := tx.Debts().TrustLimitViolations(ctx, "", nil)
		if err != nil {
			return err
		}
		touched := make(map[string]bool)
		for _, v := range violations {
			d, err := tx.Debts().GetForUpdate(ctx, v.Debtor, v.Creditor, v.Equivalent)
			if err != nil {
				if err == store.ErrNotFound {
					continue
				}
				return err
			}
			if v.Limit.LessThanOrEqual(capTolerance) {
				if err := tx.Debts().Delete(ctx, d.ID, d.Version); err != nil {
					return err
				}
				report.DebtsDeleted++
			} else {
				d.Amount = v.Limit
				if err := tx.Debts().Update(ctx, d); err != nil {
					return err
				}
				report.DebtsCapped++
			}
			touched[v.Equivalent] = true
		}
		for equivalent := range touched {
			WriteAudit(ctx, tx, s.log, &model.IntegrityAuditLog{
				Operation:          model.IntegrityOpRepair,
				Equivalent:         equivalent,
				InvariantsChecked:  []string{invariant.CheckTrustLimits},
				VerificationPassed: true,
			})
		}
		return nil
	})
	if err != nil {
		return report, errs.AsError(err)
	}
	s.log.Info("capped debts to trust limits",
		zap.Int("capped", report.DebtsCapped),
		zap.Int("deleted", report.DebtsDeleted))
	return report, nil
}
