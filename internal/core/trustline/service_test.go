package trustline

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

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

func newTestService(t *testing.T) (*Service, *memstore.Store) {
	t.Helper()
	st := memstore.New()
	require.NoError(t, st.Run(context.Background(), func(ctx context.Context, tx store.Tx) error {
		if err := tx.Equivalents().Create(ctx, &model.Equivalent{
			ID: uuid.New(), Code: "USD", Precision: 2, Active: true,
		}); err != nil {
			return err
		}
		for _, pid := range []string{"alice", "bob"} {
			if err := tx.Participants().Create(ctx, &model.Participant{
				ID: uuid.New(), PID: pid, DisplayName: pid,
				PublicKey: []byte("key-" + pid), Type: model.ParticipantPerson,
				Status: model.ParticipantActive,
			}); err != nil {
				return err
			}
		}
		return nil
	}))
	return NewService(st, zap.NewNop()), st
}

func TestOpen(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	line, err := svc.Open(ctx, "alice", "bob", "USD", dec("100"), model.TrustLinePolicy{})
	require.NoError(t, err)
	assert.Equal(t, model.TrustLineActive, line.Status)
	assert.True(t, line.Limit.Equal(dec("100")))

	// Opening the same direction twice is a conflict; the reverse
	// direction is a distinct line.
	_, err = svc.Open(ctx, "alice", "bob", "USD", dec("50"), model.TrustLinePolicy{})
	require.Error(t, err)
	assert.Equal(t, errs.CodeConflict, errs.CodeOf(err))

	_, err = svc.Open(ctx, "bob", "alice", "USD", dec("50"), model.TrustLinePolicy{})
	require.NoError(t, err)

	stored, err := svc.Get(ctx, "alice", "bob", "USD")
	require.NoError(t, err)
	assert.Equal(t, line.ID, stored.ID)
}

func TestOpenValidation(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	tests := []struct {
		name       string
		from, to   string
		equivalent string
		limit      string
		code       errs.Code
	}{
		{"zero limit", "alice", "bob", "USD", "0", errs.CodeInvalidInput},
		{"negative limit", "alice", "bob", "USD", "-5", errs.CodeInvalidInput},
		{"self line", "alice", "alice", "USD", "10", errs.CodeInvalidInput},
		{"unknown equivalent", "alice", "bob", "XXX", "10", errs.CodeInvalidInput},
		{"unknown participant", "alice", "mallory", "USD", "10", errs.CodeInvalidInput},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Open(ctx, tc.from, tc.to, tc.equivalent, dec(tc.limit), model.TrustLinePolicy{})
			require.Error(t, err)
			assert.Equal(t, tc.code, errs.CodeOf(err))
		})
	}
}

func TestOpenRejectsSuspendedParticipant(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()
	require.NoError(t, st.Run(ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.Participants().UpdateStatus(ctx, "bob", model.ParticipantSuspended)
	}))

	_, err := svc.Open(ctx, "alice", "bob", "USD", dec("10"), model.TrustLinePolicy{})
	require.Error(t, err)
	assert.Equal(t, errs.CodeInsufficientRights, errs.CodeOf(err))
}

func TestUpdate(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()
	_, err := svc.Open(ctx, "alice", "bob", "USD", dec("100"), model.TrustLinePolicy{})
	require.NoError(t, err)

	// bob owes alice 40 under this line.
	require.NoError(t, st.Run(ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.Debts().Create(ctx, &model.Debt{
			ID: uuid.New(), Debtor: "bob", Creditor: "alice",
			Equivalent: "USD", Amount: dec("40"),
		})
	}))

	line, err := svc.Update(ctx, "alice", "bob", "USD", dec("60"), nil)
	require.NoError(t, err)
	assert.True(t, line.Limit.Equal(dec("60")))

	// The limit cannot drop below the controlled debt.
	_, err = svc.Update(ctx, "alice", "bob", "USD", dec("30"), nil)
	require.Error(t, err)
	assert.Equal(t, errs.CodeTrustLimitExceeded, errs.CodeOf(err))

	// Policy updates ride along.
	optOut := false
	line, err = svc.Update(ctx, "alice", "bob", "USD", dec("60"), &model.TrustLinePolicy{AutoClearing: &optOut})
	require.NoError(t, err)
	assert.False(t, line.Policy.AllowsClearing())
}

func TestFreeze(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	_, err := svc.Open(ctx, "alice", "bob", "USD", dec("100"), model.TrustLinePolicy{})
	require.NoError(t, err)

	line, err := svc.Freeze(ctx, "alice", "bob", "USD")
	require.NoError(t, err)
	assert.Equal(t, model.TrustLineFrozen, line.Status)
	assert.True(t, line.EffectiveLimit().IsZero())

	// Frozen lines cannot be frozen again or updated.
	_, err = svc.Freeze(ctx, "alice", "bob", "USD")
	require.Error(t, err)
	assert.Equal(t, errs.CodeTrustLineNotActive, errs.CodeOf(err))

	_, err = svc.Update(ctx, "alice", "bob", "USD", dec("200"), nil)
	require.Error(t, err)
	assert.Equal(t, errs.CodeTrustLineNotActive, errs.CodeOf(err))
}

func TestClose(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()
	_, err := svc.Open(ctx, "alice", "bob", "USD", dec("100"), model.TrustLinePolicy{})
	require.NoError(t, err)

	// Outstanding debt blocks the close.
	require.NoError(t, st.Run(ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.Debts().Create(ctx, &model.Debt{
			ID: uuid.New(), Debtor: "bob", Creditor: "alice",
			Equivalent: "USD", Amount: dec("10"),
		})
	}))
	_, err = svc.Close(ctx, "alice", "bob", "USD")
	require.Error(t, err)
	assert.Equal(t, errs.CodeInvalidInput, errs.CodeOf(err))

	// Once repaid the close goes through, and a repeat is a conflict.
	require.NoError(t, st.Run(ctx, func(ctx context.Context, tx store.Tx) error {
		d, err := tx.Debts().GetForUpdate(ctx, "bob", "alice", "USD")
		if err != nil {
			return err
		}
		return tx.Debts().Delete(ctx, d.ID, d.Version)
	}))
	line, err := svc.Close(ctx, "alice", "bob", "USD")
	require.NoError(t, err)
	assert.Equal(t, model.TrustLineClosed, line.Status)

	_, err = svc.Close(ctx, "alice", "bob", "USD")
	require.Error(t, err)
	assert.Equal(t, errs.CodeConflict, errs.CodeOf(err))
}

func TestGetAndList(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	_, err := svc.Open(ctx, "alice", "bob", "USD", dec("100"), model.TrustLinePolicy{})
	require.NoError(t, err)
	_, err = svc.Open(ctx, "bob", "alice", "USD", dec("50"), model.TrustLinePolicy{})
	require.NoError(t, err)

	line, err := svc.Get(ctx, "alice", "bob", "USD")
	require.NoError(t, err)
	assert.True(t, line.Limit.Equal(dec("100")))

	_, err = svc.Get(ctx, "alice", "carol", "USD")
	require.Error(t, err)
	assert.Equal(t, errs.CodeInvalidInput, errs.CodeOf(err))

	lines, err := svc.List(ctx, "USD")
	require.NoError(t, err)
	require.Len(t, lines, 2)
	assert.Equal(t, "alice", lines[0].From)
	assert.Equal(t, "bob", lines[1].From)
}
