package invariant

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slawa19/GEOv0-sub001/internal/core/errs"
	"github.com/slawa19/GEOv0-sub001/internal/core/model"
	"github.com/slawa19/GEOv0-sub001/internal/core/store"
	"github.com/slawa19/GEOv0-sub001/internal/storage/memstore"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func seed(t *testing.T, st *memstore.Store, fn func(ctx context.Context, tx store.Tx) error) {
	t.Helper()
	require.NoError(t, st.Run(context.Background(), fn))
}

func check(t *testing.T, st *memstore.Store, fn func(ctx context.Context, tx store.Tx) error) error {
	t.Helper()
	var out error
	require.NoError(t, st.RunReadOnly(context.Background(), func(ctx context.Context, tx store.Tx) error {
		out = fn(ctx, tx)
		return nil
	}))
	return out
}

func addDebt(ctx context.Context, tx store.Tx, debtor, creditor, amount string) error {
	return tx.Debts().Create(ctx, &model.Debt{
		ID: uuid.New(), Debtor: debtor, Creditor: creditor,
		Equivalent: "USD", Amount: dec(amount),
	})
}

func addLine(ctx context.Context, tx store.Tx, from, to, limit string) error {
	return tx.TrustLines().Create(ctx, &model.TrustLine{
		ID: uuid.New(), From: from, To: to, Equivalent: "USD",
		Limit: dec(limit), Status: model.TrustLineActive,
	})
}

func TestCheckZeroSum(t *testing.T) {
	st := memstore.New()
	c := NewChecker()
	seed(t, st, func(ctx context.Context, tx store.Tx) error {
		if err := addDebt(ctx, tx, "alice", "bob", "30"); err != nil {
			return err
		}
		return addDebt(ctx, tx, "bob", "carol", "10")
	})
	// Every debt row carries a debtor and a creditor side, so the sum is
	// zero by construction.
	assert.NoError(t, check(t, st, func(ctx context.Context, tx store.Tx) error {
		return c.CheckZeroSum(ctx, tx, "USD")
	}))
}

func TestCheckTrustLimits(t *testing.T) {
	st := memstore.New()
	c := NewChecker()
	seed(t, st, func(ctx context.Context, tx store.Tx) error {
		if err := addLine(ctx, tx, "bob", "alice", "20"); err != nil {
			return err
		}
		return addDebt(ctx, tx, "alice", "bob", "30")
	})

	err := check(t, st, func(ctx context.Context, tx store.Tx) error {
		return c.CheckTrustLimits(ctx, tx, "USD", nil)
	})
	require.Error(t, err)
	assert.Equal(t, errs.CodeConflict, errs.CodeOf(err))

	// Scoped to an untouched pair the violation stays invisible.
	assert.NoError(t, check(t, st, func(ctx context.Context, tx store.Tx) error {
		return c.CheckTrustLimits(ctx, tx, "USD", []model.PairKey{model.NewPairKey("x", "y")})
	}))
}

func TestCheckDebtSymmetry(t *testing.T) {
	st := memstore.New()
	c := NewChecker()
	seed(t, st, func(ctx context.Context, tx store.Tx) error {
		if err := addDebt(ctx, tx, "alice", "bob", "10"); err != nil {
			return err
		}
		return addDebt(ctx, tx, "bob", "alice", "4")
	})

	err := check(t, st, func(ctx context.Context, tx store.Tx) error {
		return c.CheckDebtSymmetry(ctx, tx, "USD", nil)
	})
	require.Error(t, err)
	assert.Equal(t, errs.CodeConflict, errs.CodeOf(err))
}

func TestVerifyClearingNeutrality(t *testing.T) {
	st := memstore.New()
	c := NewChecker()
	seed(t, st, func(ctx context.Context, tx store.Tx) error {
		return addDebt(ctx, tx, "alice", "bob", "10")
	})

	before := map[string]decimal.Decimal{"alice": dec("-10"), "bob": dec("10")}
	assert.NoError(t, check(t, st, func(ctx context.Context, tx store.Tx) error {
		return c.VerifyClearingNeutrality(ctx, tx, []string{"alice", "bob"}, "USD", before)
	}))

	moved := map[string]decimal.Decimal{"alice": dec("-10"), "bob": dec("11")}
	err := check(t, st, func(ctx context.Context, tx store.Tx) error {
		return c.VerifyClearingNeutrality(ctx, tx, []string{"alice", "bob"}, "USD", moved)
	})
	require.Error(t, err)
	assert.Equal(t, errs.CodeConflict, errs.CodeOf(err))
}

func TestCheckPaymentDelta(t *testing.T) {
	st := memstore.New()
	c := NewChecker()
	seed(t, st, func(ctx context.Context, tx store.Tx) error {
		return addDebt(ctx, tx, "alice", "bob", "10")
	})

	before := map[string]decimal.Decimal{"alice": dec("0"), "bob": dec("0")}
	expected := map[string]decimal.Decimal{"alice": dec("-10"), "bob": dec("10")}
	assert.NoError(t, check(t, st, func(ctx context.Context, tx store.Tx) error {
		return c.CheckPaymentDelta(ctx, tx, "USD", before, expected)
	}))

	drifted := map[string]decimal.Decimal{"alice": dec("-10"), "bob": dec("9.5")}
	err := check(t, st, func(ctx context.Context, tx store.Tx) error {
		return c.CheckPaymentDelta(ctx, tx, "USD", before, drifted)
	})
	require.Error(t, err)
	assert.Equal(t, errs.CodeConflict, errs.CodeOf(err))
}

func TestSummarize(t *testing.T) {
	st := memstore.New()
	c := NewChecker()

	t.Run("healthy", func(t *testing.T) {
		seed(t, st, func(ctx context.Context, tx store.Tx) error {
			if err := addLine(ctx, tx, "bob", "alice", "50"); err != nil {
				return err
			}
			return addDebt(ctx, tx, "alice", "bob", "30")
		})
		status, err := summarize(t, st, c)
		require.NoError(t, err)
		assert.True(t, status.Passed)
		assert.Equal(t, model.CheckpointHealthy, status.Status)
		assert.True(t, status.Checks[CheckZeroSum])
		assert.True(t, status.Checks[CheckTrustLimits])
		assert.True(t, status.Checks[CheckDebtSymmetry])
	})

	t.Run("symmetry failure is a warning", func(t *testing.T) {
		seed(t, st, func(ctx context.Context, tx store.Tx) error {
			if err := addLine(ctx, tx, "alice", "bob", "50"); err != nil {
				return err
			}
			return addDebt(ctx, tx, "bob", "alice", "5")
		})
		status, err := summarize(t, st, c)
		require.NoError(t, err)
		assert.False(t, status.Passed)
		assert.Equal(t, model.CheckpointWarning, status.Status)
		assert.False(t, status.Checks[CheckDebtSymmetry])
		assert.NotEmpty(t, status.Alerts)
	})

	t.Run("limit failure is critical", func(t *testing.T) {
		seed(t, st, func(ctx context.Context, tx store.Tx) error {
			return addDebt(ctx, tx, "carol", "dave", "100")
		})
		status, err := summarize(t, st, c)
		require.NoError(t, err)
		assert.Equal(t, model.CheckpointCritical, status.Status)
		assert.False(t, status.Checks[CheckTrustLimits])
	})
}

func summarize(t *testing.T, st *memstore.Store, c *Checker) (model.InvariantsStatus, error) {
	t.Helper()
	var status model.InvariantsStatus
	var out error
	require.NoError(t, st.RunReadOnly(context.Background(), func(ctx context.Context, tx store.Tx) error {
		status, out = c.Summarize(ctx, tx, "USD")
		return nil
	}))
	return status, out
}
