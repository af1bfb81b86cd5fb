package payment

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/slawa19/GEOv0-sub001/internal/core/errs"
	"github.com/slawa19/GEOv0-sub001/internal/core/integrity"
	"github.com/slawa19/GEOv0-sub001/internal/core/invariant"
	"github.com/slawa19/GEOv0-sub001/internal/core/model"
	"github.com/slawa19/GEOv0-sub001/internal/core/store"
)

// commitFailure carries a commit-phase verdict out of the rolled-back
// unit of work so the abort can be persisted in its own transaction.
type commitFailure struct {
	reason string
	err    *errs.Error
}

func (f *commitFailure) Error() string { return f.err.Error() }
func (f *commitFailure) Unwrap() error { return f.err }

// Commit applies the reserved flows, verifies invariants scoped to the
// touched pairs, writes the integrity audit entry and finalizes the
// transaction. Any verification failure rolls the debt writes back and
// durably aborts the transaction instead.
func (e *Engine) Commit(ctx context.Context, txID uuid.UUID) error {
	err := e.store.Run(ctx, func(ctx context.Context, tx store.Tx) error {
		return e.commitOnce(ctx, tx, txID)
	})
	var failure *commitFailure
	if errors.As(err, &failure) {
		if abortErr := e.Abort(ctx, txID, failure.reason, failure.err.Code, failure.err.Details); abortErr != nil {
			e.log.Error("abort after failed commit did not persist",
				zap.String("tx_id", txID.String()),
				zap.Error(abortErr))
		}
		return failure.err
	}
	return err
}

func (e *Engine) commitOnce(ctx context.Context, tx store.Tx, txID uuid.UUID) error {
	t, err := tx.Transactions().GetForUpdate(ctx, txID)
	if err != nil {
		if err == store.ErrNotFound {
			return errs.Conflict("transaction does not exist", map[string]any{"tx_id": txID.String()})
		}
		return err
	}
	switch {
	case t.State == model.TxCommitted:
		return nil // idempotent
	case t.State.Terminal():
		return errs.Conflict("transaction already finished", map[string]any{
			"tx_id": txID.String(), "state": string(t.State),
		})
	case t.State != model.TxPrepared:
		return errs.Conflict("transaction is not prepared", map[string]any{
			"tx_id": txID.String(), "state": string(t.State),
		})
	}

	locks, err := tx.Locks().GetByTx(ctx, txID)
	if err != nil {
		return err
	}
	if len(locks) == 0 {
		return &commitFailure{
			reason: "no prepare locks held at commit",
			err:    errs.AsError(errs.Conflict("no prepare locks held at commit", map[string]any{"tx_id": txID.String()})),
		}
	}
	now := e.now()
	for i := range locks {
		if locks[i].Expired(now) {
			return &commitFailure{
				reason: "prepare lock expired before commit",
				err: errs.AsError(errs.Conflict("prepare lock expired before commit", map[string]any{
					"tx_id":       txID.String(),
					"participant": locks[i].Participant,
					"expired_at":  locks[i].ExpiresAt.Format(time.RFC3339Nano),
				})),
			}
		}
	}

	// Flows apply in a fixed order: locks by participant, flows in
	// declaration order within each lock. Malformed flow entries are
	// skipped, never fatal.
	sort.Slice(locks, func(i, j int) bool { return locks[i].Participant < locks[j].Participant })
	var flows []model.Flow
	for i := range locks {
		for _, f := range locks[i].Effects.Flows {
			if f.Validate() == nil {
				flows = append(flows, f)
			}
		}
	}
	if len(flows) == 0 {
		return &commitFailure{
			reason: "prepare locks carry no applicable flows",
			err:    errs.AsError(errs.Conflict("prepare locks carry no applicable flows", map[string]any{"tx_id": txID.String()})),
		}
	}

	snap, err := e.snapshot(ctx, tx, flows)
	if err != nil {
		return err
	}

	for _, f := range flows {
		if err := e.applyFlow(ctx, tx, f); err != nil {
			return err
		}
	}

	if err := e.verifyCommit(ctx, tx, snap); err != nil {
		var verdict *errs.Error
		if errors.As(err, &verdict) && verdict.Code == errs.CodeConflict {
			return &commitFailure{reason: verdict.Message, err: verdict}
		}
		return err
	}

	for _, eq := range snap.equivalents {
		after, err := integrity.Checksum(ctx, tx, eq)
		if err != nil {
			return err
		}
		integrity.WriteAudit(ctx, tx, e.log, &model.IntegrityAuditLog{
			Operation:      model.IntegrityOpPayment,
			TxID:           &txID,
			Equivalent:     eq,
			ChecksumBefore: snap.checksumBefore[eq],
			ChecksumAfter:  after,
			Participants:   snap.participants[eq],
			InvariantsChecked: []string{
				invariant.CheckZeroSum, invariant.CheckTrustLimits,
				invariant.CheckDebtSymmetry, invariant.CheckPaymentDelta,
			},
			VerificationPassed: true,
		})
	}

	if err := tx.Locks().DeleteByTx(ctx, txID); err != nil {
		return err
	}
	if err := tx.Transactions().SetState(ctx, txID, model.TxCommitted); err != nil {
		return err
	}
	e.log.Info("payment committed",
		zap.String("tx_id", txID.String()),
		zap.Int("flows", len(flows)))
	return nil
}

// commitSnapshot captures per-equivalent pre-apply state: checksum,
// touched participants and pairs, and net positions feeding the delta
// check.
type commitSnapshot struct {
	equivalents    []string
	checksumBefore map[string]string
	participants   map[string][]string
	pairs          map[string][]model.PairKey
	before         map[string]map[string]decimal.Decimal
	expected       map[string]map[string]decimal.Decimal
}

func (e *Engine) snapshot(ctx context.Context, tx store.Tx, flows []model.Flow) (*commitSnapshot, error) {
	snap := &commitSnapshot{
		checksumBefore: make(map[string]string),
		participants:   make(map[string][]string),
		pairs:          make(map[string][]model.PairKey),
		before:         make(map[string]map[string]decimal.Decimal),
		expected:       make(map[string]map[string]decimal.Decimal),
	}
	partSet := make(map[string]map[string]bool)
	pairSet := make(map[string]map[model.PairKey]bool)
	for _, f := range flows {
		eq := f.Equivalent
		if partSet[eq] == nil {
			snap.equivalents = append(snap.equivalents, eq)
			partSet[eq] = make(map[string]bool)
			pairSet[eq] = make(map[model.PairKey]bool)
			snap.before[eq] = make(map[string]decimal.Decimal)
			snap.expected[eq] = make(map[string]decimal.Decimal)
		}
		partSet[eq][f.From] = true
		partSet[eq][f.To] = true
		pairSet[eq][model.NewPairKey(f.From, f.To)] = true
		snap.expected[eq][f.From] = snap.expected[eq][f.From].Sub(f.Amount)
		snap.expected[eq][f.To] = snap.expected[eq][f.To].Add(f.Amount)
	}
	sort.Strings(snap.equivalents)

	for _, eq := range snap.equivalents {
		sum, err := integrity.Checksum(ctx, tx, eq)
		if err != nil {
			return nil, err
		}
		snap.checksumBefore[eq] = sum

		for p := range partSet[eq] {
			snap.participants[eq] = append(snap.participants[eq], p)
		}
		sort.Strings(snap.participants[eq])
		for pk := range pairSet[eq] {
			snap.pairs[eq] = append(snap.pairs[eq], pk)
		}
		sort.Slice(snap.pairs[eq], func(i, j int) bool {
			a, b := snap.pairs[eq][i], snap.pairs[eq][j]
			if a.Lo != b.Lo {
				return a.Lo < b.Lo
			}
			return a.Hi < b.Hi
		})

		for _, p := range snap.participants[eq] {
			pos, err := e.checker.NetPosition(ctx, tx, p, eq)
			if err != nil {
				return nil, err
			}
			snap.before[eq][p] = pos
		}
	}
	return snap, nil
}

func (e *Engine) verifyCommit(ctx context.Context, tx store.Tx, snap *commitSnapshot) error {
	for _, eq := range snap.equivalents {
		if err := e.checker.CheckTrustLimits(ctx, tx, eq, snap.pairs[eq]); err != nil {
			return err
		}
		if err := e.checker.CheckZeroSum(ctx, tx, eq); err != nil {
			return err
		}
		if err := e.checker.CheckDebtSymmetry(ctx, tx, eq, snap.pairs[eq]); err != nil {
			return err
		}
		if err := e.checker.CheckPaymentDelta(ctx, tx, eq, snap.before[eq], snap.expected[eq]); err != nil {
			return err
		}
	}
	return nil
}

// Abort durably finishes a transaction with an error object and drops
// its reservations. Idempotent: aborting an aborted transaction is a
// no-op, and a committed transaction never becomes aborted (its stray
// locks, if any, are still swept).
func (e *Engine) Abort(ctx context.Context, txID uuid.UUID, reason string, code errs.Code, details map[string]any) error {
	if !code.Valid() {
		code = errs.CodeInternal
	}
	return e.store.Run(ctx, func(ctx context.Context, tx store.Tx) error {
		t, err := tx.Transactions().GetForUpdate(ctx, txID)
		if err != nil {
			if err == store.ErrNotFound {
				return errs.Conflict("transaction does not exist", map[string]any{"tx_id": txID.String()})
			}
			return err
		}
		switch t.State {
		case model.TxCommitted, model.TxAborted, model.TxRejected:
			return tx.Locks().DeleteByTx(ctx, txID)
		}
		if err := tx.Transactions().SetError(ctx, txID, model.TxAborted, &model.TxError{
			Code:    string(code),
			Message: reason,
			Details: details,
		}); err != nil {
			return err
		}
		if err := tx.Locks().DeleteByTx(ctx, txID); err != nil {
			return err
		}
		e.log.Info("payment aborted",
			zap.String("tx_id", txID.String()),
			zap.String("code", string(code)),
			zap.String("reason", reason))
		return nil
	})
}
