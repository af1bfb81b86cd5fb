// Package payment implements the two-phase commit payment engine:
// capacity reservation at prepare, atomic debt application and invariant
// verification at commit, idempotent abort, and the payment-facing
// service surface (create, get, list, capacity, max-flow).
package payment

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/slawa19/GEOv0-sub001/internal/core/errs"
	"github.com/slawa19/GEOv0-sub001/internal/core/invariant"
	"github.com/slawa19/GEOv0-sub001/internal/core/model"
	"github.com/slawa19/GEOv0-sub001/internal/core/store"
)

// Route is one path with its share of the payment amount.
type Route struct {
	Path   []string
	Amount decimal.Decimal
}

// Config bounds the engine.
type Config struct {
	PrepareLockTTL time.Duration
	MaxHops        int
	MaxPaths       int
}

// Validate applies defaults.
func (c *Config) Validate() error {
	if c.PrepareLockTTL <= 0 {
		c.PrepareLockTTL = 30 * time.Second
	}
	if c.MaxHops <= 0 {
		c.MaxHops = 6
	}
	if c.MaxPaths <= 0 {
		c.MaxPaths = 4
	}
	return nil
}

// Engine executes the 2PC protocol for payments.
type Engine struct {
	store   store.Store
	checker *invariant.Checker
	config  Config
	log     *zap.Logger
	now     func() time.Time
}

// NewEngine wires a payment engine.
func NewEngine(st store.Store, checker *invariant.Checker, cfg Config, log *zap.Logger) *Engine {
	_ = cfg.Validate()
	return &Engine{
		store:   st,
		checker: checker,
		config:  cfg,
		log:     log,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Prepare reserves capacity for a single-route payment.
func (e *Engine) Prepare(ctx context.Context, txID uuid.UUID, path []string, amount decimal.Decimal, equivalent string) error {
	return e.PrepareRoutes(ctx, txID, []Route{{Path: path, Amount: amount}}, equivalent)
}

// segment is one directed capacity use accumulated during prepare.
type segment struct {
	from, to string
}

// PrepareRoutes reserves capacity along one or many routes. The payment
// amount is the sum of per-route amounts. The whole unit of work runs
// under the serialization-retry wrapper.
func (e *Engine) PrepareRoutes(ctx context.Context, txID uuid.UUID, routes []Route, equivalent string) error {
	if err := e.validateRoutes(routes, equivalent); err != nil {
		return err
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
		case model.TxCommitted:
			return nil // idempotent
		case model.TxAborted, model.TxRejected:
			return errs.Conflict("transaction already finished", map[string]any{
				"tx_id": txID.String(), "state": string(t.State),
			})
		case model.TxPrepared:
			locks, err := tx.Locks().GetByTx(ctx, txID)
			if err != nil {
				return err
			}
			if len(locks) > 0 {
				return nil // already prepared, idempotent
			}
		case model.TxNew, model.TxRouted:
			// proceed
		default:
			return errs.Conflict("transaction not preparable", map[string]any{
				"tx_id": txID.String(), "state": string(t.State),
			})
		}

		if err := e.checkParticipants(ctx, tx, routes); err != nil {
			return err
		}
		if _, err := tx.Equivalents().Get(ctx, equivalent); err != nil {
			if err == store.ErrNotFound {
				return errs.InvalidInput("unknown equivalent", map[string]any{"equivalent": equivalent})
			}
			return err
		}

		// Serialize concurrent prepares on shared bottleneck edges:
		// advisory locks per unique segment, acquired in ascending key
		// order before any capacity read.
		segments := uniqueSegments(routes)
		keys := make([]int64, 0, len(segments))
		for _, s := range segments {
			keys = append(keys, store.SegmentLockKey(equivalent, s.from, s.to))
		}
		sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
		for _, key := range keys {
			if err := tx.AdvisoryLock(ctx, key); err != nil {
				return err
			}
		}

		now := e.now()
		// Own pending reservations per segment: two of this prepare's
		// routes sharing an edge must fit together.
		pending := make(map[segment]decimal.Decimal)
		flowsBySender := make(map[string][]model.Flow)

		for _, route := range routes {
			for i := 0; i+1 < len(route.Path); i++ {
				seg := segment{from: route.Path[i], to: route.Path[i+1]}

				available, reserved, err := e.segmentCapacity(ctx, tx, seg.from, seg.to, equivalent, txID, now)
				if err != nil {
					return err
				}
				own := pending[seg]
				if available.LessThan(route.Amount.Add(reserved).Add(own)) {
					return errs.InsufficientCapacity("insufficient capacity on segment", map[string]any{
						"from":      seg.from,
						"to":        seg.to,
						"available": available.String(),
						"needed":    route.Amount.String(),
						"reserved":  reserved.Add(own).String(),
					})
				}
				pending[seg] = own.Add(route.Amount)
				flowsBySender[seg.from] = append(flowsBySender[seg.from], model.Flow{
					From:       seg.from,
					To:         seg.to,
					Amount:     route.Amount,
					Equivalent: equivalent,
				})
			}
		}

		// One lock row per sending participant; UNIQUE(tx_id,
		// participant) forces this aggregation.
		expires := now.Add(e.config.PrepareLockTTL)
		senders := make([]string, 0, len(flowsBySender))
		for sender := range flowsBySender {
			senders = append(senders, sender)
		}
		sort.Strings(senders)
		for _, sender := range senders {
			lock := &model.PrepareLock{
				ID:          uuid.New(),
				TxID:        txID,
				Participant: sender,
				Effects:     model.LockEffects{Flows: flowsBySender[sender]},
				ExpiresAt:   expires,
			}
			if err := tx.Locks().Create(ctx, lock); err != nil {
				return err
			}
		}

		if err := tx.Transactions().SetState(ctx, txID, model.TxPrepared); err != nil {
			return err
		}
		e.log.Debug("payment prepared",
			zap.String("tx_id", txID.String()),
			zap.String("equivalent", equivalent),
			zap.Int("routes", len(routes)),
			zap.Int("locks", len(senders)))
		return nil
	})
}

func (e *Engine) validateRoutes(routes []Route, equivalent string) error {
	if len(routes) == 0 {
		return errs.InvalidInput("at least one route is required", nil)
	}
	if equivalent == "" {
		return errs.InvalidInput("equivalent is required", nil)
	}
	for _, r := range routes {
		if len(r.Path) < 2 {
			return errs.InvalidInput("route must have at least two hops", map[string]any{
				"path": r.Path,
			})
		}
		if !r.Amount.IsPositive() {
			return errs.InvalidInput("route amount must be positive", map[string]any{
				"amount": r.Amount.String(),
			})
		}
		for i := 0; i+1 < len(r.Path); i++ {
			if r.Path[i] == r.Path[i+1] {
				return errs.InvalidInput("route contains a self-loop segment", map[string]any{
					"participant": r.Path[i],
				})
			}
		}
	}
	return nil
}

func (e *Engine) checkParticipants(ctx context.Context, tx store.Tx, routes []Route) error {
	var pids []string
	for _, r := range routes {
		pids = append(pids, r.Path...)
	}
	missing, err := tx.Participants().Missing(ctx, pids)
	if err != nil {
		return err
	}
	if len(missing) > 0 {
		return errs.InvalidInput("unknown participants in route", map[string]any{
			"missing": missing,
		})
	}
	return nil
}

func uniqueSegments(routes []Route) []segment {
	seen := make(map[segment]bool)
	var out []segment
	for _, r := range routes {
		for i := 0; i+1 < len(r.Path); i++ {
			s := segment{from: r.Path[i], to: r.Path[i+1]}
			if !seen[s] {
				seen[s] = true
				out = append(out, s)
			}
		}
	}
	return out
}

// segmentCapacity computes the admissible amount for a flow S→R:
// limit(TL R→S) − debt(S→R) + debt(R→S), alongside the amount other
// active prepares already reserve on the segment.
func (e *Engine) segmentCapacity(ctx context.Context, tx store.Tx, from, to, equivalent string, exclude uuid.UUID, now time.Time) (available, reserved decimal.Decimal, err error) {
	limit := decimal.Zero
	tl, err := tx.TrustLines().GetActive(ctx, to, from, equivalent)
	if err == nil {
		limit = tl.Limit
	} else if err != store.ErrNotFound {
		return decimal.Zero, decimal.Zero, err
	}

	y := decimal.Zero // debt from → to
	if d, err := tx.Debts().Get(ctx, from, to, equivalent); err == nil {
		y = d.Amount
	} else if err != store.ErrNotFound {
		return decimal.Zero, decimal.Zero, err
	}
	x := decimal.Zero // debt to → from
	if d, err := tx.Debts().Get(ctx, to, from, equivalent); err == nil {
		x = d.Amount
	} else if err != store.ErrNotFound {
		return decimal.Zero, decimal.Zero, err
	}

	reserved, err = tx.Locks().Reserved(ctx, from, to, equivalent, exclude, now)
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	return limit.Sub(y).Add(x), reserved, nil
}
