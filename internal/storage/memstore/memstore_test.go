package memstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slawa19/GEOv0-sub001/internal/core/model"
	"github.com/slawa19/GEOv0-sub001/internal/core/store"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func run(t *testing.T, st *Store, fn func(ctx context.Context, tx store.Tx) error) {
	t.Helper()
	require.NoError(t, st.Run(context.Background(), fn))
}

func newDebt(debtor, creditor, amount string) *model.Debt {
	return &model.Debt{
		ID: uuid.New(), Debtor: debtor, Creditor: creditor,
		Equivalent: "USD", Amount: dec(amount),
	}
}

func TestRunRollsBackOnError(t *testing.T) {
	st := New()
	boom := errors.New("boom")
	err := st.Run(context.Background(), func(ctx context.Context, tx store.Tx) error {
		if err := tx.Debts().Create(ctx, newDebt("alice", "bob", "10")); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	require.NoError(t, st.RunReadOnly(context.Background(), func(ctx context.Context, tx store.Tx) error {
		_, err := tx.Debts().Get(ctx, "alice", "bob", "USD")
		assert.ErrorIs(t, err, store.ErrNotFound)
		return nil
	}))
}

func TestSavepointRestoresState(t *testing.T) {
	st := New()
	run(t, st, func(ctx context.Context, tx store.Tx) error {
		if err := tx.Debts().Create(ctx, newDebt("alice", "bob", "10")); err != nil {
			return err
		}
		inner := tx.Savepoint(ctx, func(ctx context.Context, tx store.Tx) error {
			if err := tx.Debts().Create(ctx, newDebt("bob", "carol", "5")); err != nil {
				return err
			}
			return errors.New("abandon")
		})
		require.Error(t, inner)

		// The savepoint write is gone, the outer one survives.
		_, err := tx.Debts().Get(ctx, "bob", "carol", "USD")
		assert.ErrorIs(t, err, store.ErrNotFound)
		_, err = tx.Debts().Get(ctx, "alice", "bob", "USD")
		assert.NoError(t, err)
		return nil
	})
}

func TestDebtOptimisticLocking(t *testing.T) {
	st := New()
	run(t, st, func(ctx context.Context, tx store.Tx) error {
		return tx.Debts().Create(ctx, newDebt("alice", "bob", "10"))
	})

	run(t, st, func(ctx context.Context, tx store.Tx) error {
		d, err := tx.Debts().GetForUpdate(ctx, "alice", "bob", "USD")
		require.NoError(t, err)
		assert.Equal(t, int64(1), d.Version)

		d.Amount = dec("12")
		require.NoError(t, tx.Debts().Update(ctx, d))
		assert.Equal(t, int64(2), d.Version)

		// A write with the superseded version is stale.
		stale := *d
		stale.Version = 1
		assert.ErrorIs(t, tx.Debts().Update(ctx, &stale), store.ErrStale)
		assert.ErrorIs(t, tx.Debts().Delete(ctx, d.ID, 1), store.ErrStale)

		return tx.Debts().Delete(ctx, d.ID, d.Version)
	})

	require.NoError(t, st.RunReadOnly(context.Background(), func(ctx context.Context, tx store.Tx) error {
		_, err := tx.Debts().Get(ctx, "alice", "bob", "USD")
		assert.ErrorIs(t, err, store.ErrNotFound)
		return nil
	}))
}

func TestDuplicateConstraints(t *testing.T) {
	st := New()
	run(t, st, func(ctx context.Context, tx store.Tx) error {
		require.NoError(t, tx.Debts().Create(ctx, newDebt("alice", "bob", "10")))
		assert.ErrorIs(t, tx.Debts().Create(ctx, newDebt("alice", "bob", "20")), store.ErrDuplicate)

		require.NoError(t, tx.Participants().Create(ctx, &model.Participant{
			ID: uuid.New(), PID: "alice", DisplayName: "alice",
			PublicKey: []byte{0x02, 0x01}, Type: model.ParticipantPerson,
			Status: model.ParticipantActive,
		}))
		// Same PID and same public key are both unique.
		assert.ErrorIs(t, tx.Participants().Create(ctx, &model.Participant{
			ID: uuid.New(), PID: "alice", DisplayName: "again",
			PublicKey: []byte{0x02, 0x02}, Type: model.ParticipantPerson,
			Status: model.ParticipantActive,
		}), store.ErrDuplicate)
		assert.ErrorIs(t, tx.Participants().Create(ctx, &model.Participant{
			ID: uuid.New(), PID: "alice2", DisplayName: "clone",
			PublicKey: []byte{0x02, 0x01}, Type: model.ParticipantPerson,
			Status: model.ParticipantActive,
		}), store.ErrDuplicate)
		return nil
	})
}

func TestIdempotencyKeyUnique(t *testing.T) {
	st := New()
	key := uuid.New().String()
	run(t, st, func(ctx context.Context, tx store.Tx) error {
		require.NoError(t, tx.Transactions().Create(ctx, &model.Transaction{
			TxID: uuid.New(), Type: model.TxPayment, Initiator: "alice",
			IdempotencyKey: key, State: model.TxNew,
		}))
		// Same (initiator, type, key) is rejected even under a new tx_id.
		assert.ErrorIs(t, tx.Transactions().Create(ctx, &model.Transaction{
			TxID: uuid.New(), Type: model.TxPayment, Initiator: "alice",
			IdempotencyKey: key, State: model.TxNew,
		}), store.ErrDuplicate)
		// A different initiator may reuse the key.
		return tx.Transactions().Create(ctx, &model.Transaction{
			TxID: uuid.New(), Type: model.TxPayment, Initiator: "bob",
			IdempotencyKey: key, State: model.TxNew,
		})
	})
}

func TestNetPositions(t *testing.T) {
	st := New()
	run(t, st, func(ctx context.Context, tx store.Tx) error {
		require.NoError(t, tx.Debts().Create(ctx, newDebt("alice", "bob", "30")))
		require.NoError(t, tx.Debts().Create(ctx, newDebt("bob", "carol", "10")))
		return nil
	})

	require.NoError(t, st.RunReadOnly(context.Background(), func(ctx context.Context, tx store.Tx) error {
		positions, err := tx.Debts().NetPositions(ctx, "USD")
		require.NoError(t, err)
		assert.True(t, positions["alice"].Equal(dec("-30")))
		assert.True(t, positions["bob"].Equal(dec("20")))
		assert.True(t, positions["carol"].Equal(dec("10")))

		total := decimal.Zero
		for _, p := range positions {
			total = total.Add(p)
		}
		assert.True(t, total.IsZero())
		return nil
	}))
}

func TestReservedSumsActiveLocks(t *testing.T) {
	st := New()
	now := time.Now().UTC()
	mine, other, expired := uuid.New(), uuid.New(), uuid.New()

	run(t, st, func(ctx context.Context, tx store.Tx) error {
		for _, id := range []uuid.UUID{mine, other, expired} {
			require.NoError(t, tx.Transactions().Create(ctx, &model.Transaction{
				TxID: id, Type: model.TxPayment, Initiator: "alice",
				IdempotencyKey: id.String(), State: model.TxPrepared,
			}))
		}
		mk := func(txID uuid.UUID, amount string, expires time.Time) *model.PrepareLock {
			return &model.PrepareLock{
				ID: uuid.New(), TxID: txID, Participant: "alice",
				Effects: model.LockEffects{Flows: []model.Flow{
					{From: "alice", To: "bob", Amount: dec(amount), Equivalent: "USD"},
				}},
				ExpiresAt: expires,
			}
		}
		require.NoError(t, tx.Locks().Create(ctx, mk(mine, "10", now.Add(time.Minute))))
		require.NoError(t, tx.Locks().Create(ctx, mk(other, "25", now.Add(time.Minute))))
		require.NoError(t, tx.Locks().Create(ctx, mk(expired, "99", now.Add(-time.Minute))))
		return nil
	})

	require.NoError(t, st.RunReadOnly(context.Background(), func(ctx context.Context, tx store.Tx) error {
		// Own transaction excluded, expired lock ignored.
		sum, err := tx.Locks().Reserved(ctx, "alice", "bob", "USD", mine, now)
		require.NoError(t, err)
		assert.True(t, sum.Equal(dec("25")))

		ids, err := tx.Locks().ExpiredTxIDs(ctx, now)
		require.NoError(t, err)
		assert.Equal(t, []uuid.UUID{expired}, ids)
		return nil
	}))

	run(t, st, func(ctx context.Context, tx store.Tx) error {
		n, err := tx.Locks().DeleteExpired(ctx, now)
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)
		return nil
	})
}

func TestTrustLimitViolations(t *testing.T) {
	st := New()
	run(t, st, func(ctx context.Context, tx store.Tx) error {
		require.NoError(t, tx.TrustLines().Create(ctx, &model.TrustLine{
			ID: uuid.New(), From: "bob", To: "alice", Equivalent: "USD",
			Limit: dec("20"), Status: model.TrustLineActive,
		}))
		// Debt of 30 against a limit of 20.
		require.NoError(t, tx.Debts().Create(ctx, newDebt("alice", "bob", "30")))
		// Debt with no controlling line at all.
		require.NoError(t, tx.Debts().Create(ctx, newDebt("carol", "dave", "5")))
		return nil
	})

	require.NoError(t, st.RunReadOnly(context.Background(), func(ctx context.Context, tx store.Tx) error {
		violations, err := tx.Debts().TrustLimitViolations(ctx, "USD", nil)
		require.NoError(t, err)
		require.Len(t, violations, 2)

		// Pair scoping hides the unrelated violation.
		scoped, err := tx.Debts().TrustLimitViolations(ctx, "USD", []model.PairKey{
			model.NewPairKey("alice", "bob"),
		})
		require.NoError(t, err)
		require.Len(t, scoped, 1)
		assert.Equal(t, "alice", scoped[0].Debtor)
		assert.True(t, scoped[0].Limit.Equal(dec("20")))
		return nil
	}))
}

func TestSymmetryViolations(t *testing.T) {
	st := New()
	run(t, st, func(ctx context.Context, tx store.Tx) error {
		require.NoError(t, tx.Debts().Create(ctx, newDebt("alice", "bob", "10")))
		require.NoError(t, tx.Debts().Create(ctx, newDebt("bob", "alice", "4")))
		require.NoError(t, tx.Debts().Create(ctx, newDebt("carol", "dave", "7")))
		return nil
	})

	require.NoError(t, st.RunReadOnly(context.Background(), func(ctx context.Context, tx store.Tx) error {
		violations, err := tx.Debts().SymmetryViolations(ctx, "USD", nil)
		require.NoError(t, err)
		require.Len(t, violations, 1)
		assert.Equal(t, "alice", violations[0].A)
		assert.Equal(t, "bob", violations[0].B)
		assert.True(t, violations[0].AtoB.Equal(dec("10")))
		assert.True(t, violations[0].BtoA.Equal(dec("4")))
		return nil
	}))
}

func TestFindCycles3Canonical(t *testing.T) {
	st := New()
	run(t, st, func(ctx context.Context, tx store.Tx) error {
		require.NoError(t, tx.Debts().Create(ctx, newDebt("b", "c", "10")))
		require.NoError(t, tx.Debts().Create(ctx, newDebt("c", "a", "10")))
		require.NoError(t, tx.Debts().Create(ctx, newDebt("a", "b", "10")))
		return nil
	})

	require.NoError(t, st.RunReadOnly(context.Background(), func(ctx context.Context, tx store.Tx) error {
		cycles, err := tx.Debts().FindCycles3(ctx, "USD")
		require.NoError(t, err)
		// One cycle, reported once, starting from the smallest vertex.
		require.Len(t, cycles, 1)
		require.Len(t, cycles[0], 3)
		assert.Equal(t, "a", cycles[0][0].Debtor)
		return nil
	}))
}

func TestFindCycles4(t *testing.T) {
	st := New()
	run(t, st, func(ctx context.Context, tx store.Tx) error {
		ring := []string{"a", "b", "c", "d"}
		for i, debtor := range ring {
			require.NoError(t, tx.Debts().Create(ctx, newDebt(debtor, ring[(i+1)%4], "10")))
		}
		return nil
	})

	require.NoError(t, st.RunReadOnly(context.Background(), func(ctx context.Context, tx store.Tx) error {
		three, err := tx.Debts().FindCycles3(ctx, "USD")
		require.NoError(t, err)
		assert.Empty(t, three)

		four, err := tx.Debts().FindCycles4(ctx, "USD")
		require.NoError(t, err)
		require.Len(t, four, 1)
		assert.Len(t, four[0], 4)
		assert.Equal(t, "a", four[0][0].Debtor)
		return nil
	}))
}

func TestListStale(t *testing.T) {
	st := New()
	old, fresh := uuid.New(), uuid.New()
	run(t, st, func(ctx context.Context, tx store.Tx) error {
		for _, id := range []uuid.UUID{old, fresh} {
			require.NoError(t, tx.Transactions().Create(ctx, &model.Transaction{
				TxID: id, Type: model.TxPayment, Initiator: "alice",
				IdempotencyKey: id.String(), State: model.TxPrepared,
			}))
		}
		return nil
	})

	// Everything is stale against a future cutoff, nothing against a past one.
	require.NoError(t, st.RunReadOnly(context.Background(), func(ctx context.Context, tx store.Tx) error {
		ids, err := tx.Transactions().ListStale(ctx, model.TxPayment, model.ActiveStates(), time.Now().UTC().Add(time.Hour))
		require.NoError(t, err)
		assert.Len(t, ids, 2)

		ids, err = tx.Transactions().ListStale(ctx, model.TxPayment, model.ActiveStates(), time.Now().UTC().Add(-time.Hour))
		require.NoError(t, err)
		assert.Empty(t, ids)

		// Terminal states are never reported.
		ids, err = tx.Transactions().ListStale(ctx, model.TxPayment, []model.TxState{model.TxCommitted}, time.Now().UTC().Add(time.Hour))
		require.NoError(t, err)
		assert.Empty(t, ids)
		return nil
	}))
}
