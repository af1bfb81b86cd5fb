package payment

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/slawa19/GEOv0-sub001/internal/core/errs"
	"github.com/slawa19/GEOv0-sub001/internal/core/invariant"
	"github.com/slawa19/GEOv0-sub001/internal/core/model"
	"github.com/slawa19/GEOv0-sub001/internal/core/store"
	"github.com/slawa19/GEOv0-sub001/internal/storage/memstore"
)

func newTestService(t *testing.T, cfg ServiceConfig) (*Service, *memstore.Store) {
	t.Helper()
	st := memstore.New()
	engine := NewEngine(st, invariant.NewChecker(), Config{PrepareLockTTL: time.Minute, MaxHops: 6, MaxPaths: 4}, zap.NewNop())
	svc := NewService(st, engine, NewGraphRouter(st), nil, nil, cfg, zap.NewNop())
	return svc, st
}

func seedPair(t *testing.T, st store.Store) {
	t.Helper()
	seed(t, st, func(ctx context.Context, tx store.Tx) error {
		if err := addEquivalent(ctx, tx, "USD"); err != nil {
			return err
		}
		for _, pid := range []string{"alice", "bob"} {
			if err := addParticipant(ctx, tx, pid); err != nil {
				return err
			}
		}
		return addTrustLine(ctx, tx, "bob", "alice", "USD", "100")
	})
}

func TestCreatePayment(t *testing.T) {
	svc, st := newTestService(t, ServiceConfig{MultipathEnabled: true})
	seedPair(t, st)
	ctx := context.Background()

	res, err := svc.CreatePayment(ctx, CreateRequest{
		Initiator: "alice", To: "bob", Equivalent: "USD", Amount: dec("40"),
	})
	require.NoError(t, err)
	assert.Equal(t, model.TxCommitted, res.Status)
	require.Len(t, res.Routes, 1)
	assert.Equal(t, []string{"alice", "bob"}, res.Routes[0].Path)

	amount, found := getDebt(t, st, "alice", "bob", "USD")
	require.True(t, found)
	assert.True(t, amount.Equal(dec("40")))
}

func TestCreatePaymentIdempotent(t *testing.T) {
	svc, st := newTestService(t, ServiceConfig{MultipathEnabled: true})
	seedPair(t, st)
	ctx := context.Background()
	txID := uuid.New()

	req := CreateRequest{
		Initiator: "alice", To: "bob", Equivalent: "USD",
		Amount: dec("40"), TxID: txID,
	}
	first, err := svc.CreatePayment(ctx, req)
	require.NoError(t, err)

	// Identical resubmission replays the stored result without moving
	// any debt.
	second, err := svc.CreatePayment(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, first.TxID, second.TxID)
	assert.Equal(t, model.TxCommitted, second.Status)
	amount, _ := getDebt(t, st, "alice", "bob", "USD")
	assert.True(t, amount.Equal(dec("40")))

	// Same key with a different payload is a conflict.
	req.Amount = dec("41")
	_, err = svc.CreatePayment(ctx, req)
	require.Error(t, err)
	assert.Equal(t, errs.CodeConflict, errs.CodeOf(err))
}

func TestCreatePaymentNoRoute(t *testing.T) {
	svc, st := newTestService(t, ServiceConfig{MultipathEnabled: true})
	seedPair(t, st)
	ctx := context.Background()

	// bob never extended alice that much trust.
	_, err := svc.CreatePayment(ctx, CreateRequest{
		Initiator: "alice", To: "bob", Equivalent: "USD", Amount: dec("150"),
	})
	require.Error(t, err)
	assert.Equal(t, errs.CodeNoRoute, errs.CodeOf(err))

	// No transaction row is left behind for an unroutable payment.
	require.NoError(t, st.RunReadOnly(ctx, func(ctx context.Context, tx store.Tx) error {
		rows, err := tx.Transactions().ListPayments(ctx, store.PaymentFilter{
			Participant: "alice", Direction: store.DirectionSent, Limit: 10,
		})
		require.NoError(t, err)
		assert.Empty(t, rows)
		return nil
	}))
}

func TestCreatePaymentValidation(t *testing.T) {
	svc, st := newTestService(t, ServiceConfig{MultipathEnabled: true})
	seedPair(t, st)
	ctx := context.Background()

	tests := []struct {
		name string
		req  CreateRequest
		code errs.Code
	}{
		{"self payment", CreateRequest{Initiator: "alice", To: "alice", Equivalent: "USD", Amount: dec("1")}, errs.CodeInvalidInput},
		{"zero amount", CreateRequest{Initiator: "alice", To: "bob", Equivalent: "USD", Amount: dec("0")}, errs.CodeInvalidInput},
		{"unknown equivalent", CreateRequest{Initiator: "alice", To: "bob", Equivalent: "XXX", Amount: dec("1")}, errs.CodeInvalidInput},
		{"unknown receiver", CreateRequest{Initiator: "alice", To: "mallory", Equivalent: "USD", Amount: dec("1")}, errs.CodeInvalidInput},
		{"too precise", CreateRequest{Initiator: "alice", To: "bob", Equivalent: "USD", Amount: dec("1.005")}, errs.CodeInvalidInput},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.CreatePayment(ctx, tc.req)
			require.Error(t, err)
			assert.Equal(t, tc.code, errs.CodeOf(err))
		})
	}
}

func TestCreatePaymentBlockedParticipant(t *testing.T) {
	svc, st := newTestService(t, ServiceConfig{MultipathEnabled: true})
	seedPair(t, st)
	ctx := context.Background()

	seed(t, st, func(ctx context.Context, tx store.Tx) error {
		return tx.Participants().UpdateStatus(ctx, "bob", model.ParticipantSuspended)
	})

	_, err := svc.CreatePayment(ctx, CreateRequest{
		Initiator: "alice", To: "bob", Equivalent: "USD", Amount: dec("1"),
	})
	require.Error(t, err)
	assert.Equal(t, errs.CodeInsufficientRights, errs.CodeOf(err))
}

func TestCreatePaymentMultipathDisabled(t *testing.T) {
	svc, st := newTestService(t, ServiceConfig{MultipathEnabled: false})
	seedPair(t, st)
	ctx := context.Background()

	_, err := svc.CreatePayment(ctx, CreateRequest{
		Initiator: "alice", To: "bob", Equivalent: "USD", Amount: dec("10"),
		Routes: []Route{
			{Path: []string{"alice", "bob"}, Amount: dec("5")},
			{Path: []string{"alice", "bob"}, Amount: dec("5")},
		},
	})
	require.Error(t, err)
	assert.Equal(t, errs.CodeInvalidInput, errs.CodeOf(err))
}

func TestCapacity(t *testing.T) {
	svc, st := newTestService(t, ServiceConfig{MultipathEnabled: true})
	seedPair(t, st)
	ctx := context.Background()

	res, err := svc.Capacity(ctx, "alice", "bob", "USD", dec("100"))
	require.NoError(t, err)
	assert.True(t, res.CanPay)
	assert.True(t, res.Available.Equal(dec("100")))

	_, err = svc.CreatePayment(ctx, CreateRequest{
		Initiator: "alice", To: "bob", Equivalent: "USD", Amount: dec("30"),
	})
	require.NoError(t, err)

	res, err = svc.Capacity(ctx, "alice", "bob", "USD", dec("100"))
	require.NoError(t, err)
	assert.False(t, res.CanPay)
	assert.True(t, res.Available.Equal(dec("70")))

	// Reverse direction gained the mirrored capacity.
	reverse, err := svc.Capacity(ctx, "bob", "alice", "USD", dec("30"))
	require.NoError(t, err)
	assert.True(t, reverse.CanPay)
	assert.True(t, reverse.Available.Equal(dec("30")))
}

func TestListPayments(t *testing.T) {
	svc, st := newTestService(t, ServiceConfig{MultipathEnabled: true})
	seedPair(t, st)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := svc.CreatePayment(ctx, CreateRequest{
			Initiator: "alice", To: "bob", Equivalent: "USD", Amount: dec("5"),
		})
		require.NoError(t, err)
	}

	sent, err := svc.ListPayments(ctx, store.PaymentFilter{
		Participant: "alice", Direction: store.DirectionSent,
	})
	require.NoError(t, err)
	assert.Len(t, sent, 3)

	received, err := svc.ListPayments(ctx, store.PaymentFilter{
		Participant: "bob", Direction: store.DirectionReceived,
	})
	require.NoError(t, err)
	assert.Len(t, received, 3)

	_, err = svc.ListPayments(ctx, store.PaymentFilter{Participant: "alice", Direction: "sideways"})
	require.Error(t, err)
	assert.Equal(t, errs.CodeInvalidInput, errs.CodeOf(err))
}

func TestMaxFlow(t *testing.T) {
	svc, st := newTestService(t, ServiceConfig{MultipathEnabled: true})
	ctx := context.Background()

	seed(t, st, func(ctx context.Context, tx store.Tx) error {
		if err := addEquivalent(ctx, tx, "USD"); err != nil {
			return err
		}
		for _, pid := range []string{"alice", "bob", "carol", "dave"} {
			if err := addParticipant(ctx, tx, pid); err != nil {
				return err
			}
		}
		for _, tl := range [][3]string{
			{"bob", "alice", "30"}, {"dave", "bob", "30"},
			{"carol", "alice", "20"}, {"dave", "carol", "20"},
		} {
			if err := addTrustLine(ctx, tx, tl[0], tl[1], "USD", tl[2]); err != nil {
				return err
			}
		}
		return nil
	})

	res, err := svc.MaxFlow(ctx, "alice", "dave", "USD")
	require.NoError(t, err)
	assert.True(t, res.MaxAmount.Equal(dec("50")))
	// Path decomposition stays hidden behind the full-multipath flag.
	assert.Nil(t, res.Paths)

	engine := NewEngine(st, invariant.NewChecker(), Config{PrepareLockTTL: time.Minute, MaxHops: 6, MaxPaths: 4}, zap.NewNop())
	full := NewService(st, engine, NewGraphRouter(st), nil, nil, ServiceConfig{MultipathEnabled: true, FullMultipathEnabled: true}, zap.NewNop())
	res, err = full.MaxFlow(ctx, "alice", "dave", "USD")
	require.NoError(t, err)
	assert.True(t, res.MaxAmount.Equal(dec("50")))
	assert.Len(t, res.Paths, 2)
}

func TestGraphRouterRoundTrip(t *testing.T) {
	_, st := newTestService(t, ServiceConfig{})
	ctx := context.Background()

	seed(t, st, func(ctx context.Context, tx store.Tx) error {
		if err := addEquivalent(ctx, tx, "USD"); err != nil {
			return err
		}
		for _, pid := range []string{"alice", "hub", "carol"} {
			if err := addParticipant(ctx, tx, pid); err != nil {
				return err
			}
		}
		if err := addTrustLine(ctx, tx, "hub", "alice", "USD", "50"); err != nil {
			return err
		}
		return addTrustLine(ctx, tx, "carol", "hub", "USD", "50")
	})

	router := NewGraphRouter(st)
	routes, err := router.FindRoutes(ctx, "alice", "carol", "USD", dec("20"), 6, 4)
	require.NoError(t, err)
	require.Len(t, routes, 1)
	assert.Equal(t, []string{"alice", "hub", "carol"}, routes[0].Path)
	assert.True(t, routes[0].Amount.Equal(dec("20")))

	// Amounts beyond the bottleneck are unroutable, not partially routed.
	routes, err = router.FindRoutes(ctx, "alice", "carol", "USD", dec("60"), 6, 4)
	require.NoError(t, err)
	assert.Nil(t, routes)
}
