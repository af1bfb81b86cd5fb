package payment

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/slawa19/GEOv0-sub001/internal/core/errs"
	"github.com/slawa19/GEOv0-sub001/internal/core/model"
	"github.com/slawa19/GEOv0-sub001/internal/core/store"
)

// applyFlowAttempts bounds optimistic retries on a stale row version
// before the whole unit of work is surrendered to the outer retry.
const applyFlowAttempts = 3

// applyFlow realizes one directed flow from → to. Counter-debt is
// always consumed before new debt is created, so a pair never ends up
// owing in both directions:
//
//  1. reduce debt(to → from) by min(amount, its balance)
//  2. create or increase debt(from → to) with the remainder
//  3. if both directions ended positive anyway, net them down
//
// Each attempt runs in its own savepoint; a version conflict rolls the
// savepoint back and re-reads fresh rows.
func (e *Engine) applyFlow(ctx context.Context, tx store.Tx, f model.Flow) error {
	var err error
	for attempt := 0; attempt < applyFlowAttempts; attempt++ {
		err = tx.Savepoint(ctx, func(ctx context.Context, tx store.Tx) error {
			return applyFlowOnce(ctx, tx, f)
		})
		if !errors.Is(err, store.ErrStale) {
			return err
		}
	}
	return errs.Internal("flow application kept hitting stale rows", err)
}

func applyFlowOnce(ctx context.Context, tx store.Tx, f model.Flow) error {
	remaining := f.Amount

	counter, err := tx.Debts().GetForUpdate(ctx, f.To, f.From, f.Equivalent)
	switch {
	case err == nil:
		k := decimal.Min(remaining, counter.Amount)
		if k.IsPositive() {
			left := counter.Amount.Sub(k)
			if left.IsZero() {
				if err := tx.Debts().Delete(ctx, counter.ID, counter.Version); err != nil {
					return err
				}
			} else {
				counter.Amount = left
				if err := tx.Debts().Update(ctx, counter); err != nil {
					return err
				}
			}
			remaining = remaining.Sub(k)
		}
	case err == store.ErrNotFound:
		// nothing to consume
	default:
		return err
	}

	if remaining.IsPositive() {
		forward, err := tx.Debts().GetForUpdate(ctx, f.From, f.To, f.Equivalent)
		switch {
		case err == nil:
			forward.Amount = forward.Amount.Add(remaining)
			if err := tx.Debts().Update(ctx, forward); err != nil {
				return err
			}
		case err == store.ErrNotFound:
			if err := tx.Debts().Create(ctx, &model.Debt{
				ID:         uuid.New(),
				Debtor:     f.From,
				Creditor:   f.To,
				Equivalent: f.Equivalent,
				Amount:     remaining,
			}); err != nil {
				return err
			}
		default:
			return err
		}
	}

	return netPairDown(ctx, tx, f.From, f.To, f.Equivalent)
}

// netPairDown re-reads both directions and nets them when both are
// positive, which can happen when concurrent writers interleaved
// between the consume and create steps.
func netPairDown(ctx context.Context, tx store.Tx, a, b, equivalent string) error {
	ab, errAB := tx.Debts().GetForUpdate(ctx, a, b, equivalent)
	if errAB != nil && errAB != store.ErrNotFound {
		return errAB
	}
	ba, errBA := tx.Debts().GetForUpdate(ctx, b, a, equivalent)
	if errBA != nil && errBA != store.ErrNotFound {
		return errBA
	}
	if errAB != nil || errBA != nil {
		return nil
	}
	if !ab.Amount.IsPositive() || !ba.Amount.IsPositive() {
		return nil
	}

	k := decimal.Min(ab.Amount, ba.Amount)
	for _, d := range []*model.Debt{ab, ba} {
		left := d.Amount.Sub(k)
		if left.IsZero() {
			if err := tx.Debts().Delete(ctx, d.ID, d.Version); err != nil {
				return err
			}
			continue
		}
		d.Amount = left
		if err := tx.Debts().Update(ctx, d); err != nil {
			return err
		}
	}
	return nil
}
