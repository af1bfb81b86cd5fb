// Package clearing discovers closed debt cycles and executes them,
// shrinking every edge by the cycle minimum while leaving each
// participant's net position exactly unchanged.
package clearing

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/slawa19/GEOv0-sub001/internal/core/errs"
	"github.com/slawa19/GEOv0-sub001/internal/core/invariant"
	"github.com/slawa19/GEOv0-sub001/internal/core/model"
	"github.com/slawa19/GEOv0-sub001/internal/core/store"
	"github.com/slawa19/GEOv0-sub001/internal/dlock"
	"github.com/slawa19/GEOv0-sub001/internal/events"
)

// Depth bounds accepted by FindCycles.
const (
	MinDepth = 3
	MaxDepth = 10
)

// dfsCycleCap bounds the fallback depth-first search.
const dfsCycleCap = 10

// autoClearCeiling bounds one AutoClear invocation.
const autoClearCeiling = 100

// Engine discovers and executes debt cycles.
type Engine struct {
	store   store.Store
	checker *invariant.Checker
	locks   dlock.Provider
	events  events.Publisher
	log     *zap.Logger
	now     func() time.Time
}

// NewEngine wires a clearing engine.
func NewEngine(st store.Store, checker *invariant.Checker, locks dlock.Provider, pub events.Publisher, log *zap.Logger) *Engine {
	if locks == nil {
		locks = dlock.NopProvider{}
	}
	if pub == nil {
		pub = events.NopPublisher{}
	}
	return &Engine{
		store:   st,
		checker: checker,
		locks:   locks,
		events:  pub,
		log:     log,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// FindCycles returns clearable cycles for one equivalent: set-based
// detection for depths 3 and 4, bounded DFS beyond, with cycles
// touching reserved pairs or opted-out trustlines dropped.
func (e *Engine) FindCycles(ctx context.Context, equivalent string, maxDepth int) ([][]model.Debt, error) {
	if maxDepth < MinDepth || maxDepth > MaxDepth {
		return nil, errs.InvalidInput("depth out of range", map[string]any{
			"max_depth": maxDepth, "min": MinDepth, "max": MaxDepth,
		})
	}
	var cycles [][]model.Debt
	err := e.store.RunReadOnly(ctx, func(ctx context.Context, tx store.Tx) error {
		locked, err := e.lockedPairs(ctx, tx, equivalent)
		if err != nil {
			return err
		}

		found, err := tx.Debts().FindCycles3(ctx, equivalent)
		if err != nil {
			return err
		}
		if maxDepth >= 4 {
			four, err := tx.Debts().FindCycles4(ctx, equivalent)
			if err != nil {
				return err
			}
			found = append(found, four...)
		}

		kept, err := e.filterCycles(ctx, tx, equivalent, found, locked)
		if err != nil {
			return err
		}
		if len(kept) == 0 && maxDepth > 4 {
			kept, err = e.deepSearch(ctx, tx, equivalent, maxDepth, locked)
			if err != nil {
				return err
			}
		}
		cycles = kept
		return nil
	})
	return cycles, err
}

// lockedPairs collects the unordered participant pairs touched by
// unexpired prepare locks. Cycles crossing a reserved pair are skipped
// so clearing never races an in-flight payment on the same edge.
func (e *Engine) lockedPairs(ctx context.Context, tx store.Tx, equivalent string) (map[model.PairKey]bool, error) {
	locks, err := tx.Locks().ListActive(ctx, equivalent, e.now())
	if err != nil {
		return nil, err
	}
	pairs := make(map[model.PairKey]bool)
	for i := range locks {
		for _, f := range locks[i].Effects.Flows {
			if f.Equivalent == equivalent {
				pairs[model.NewPairKey(f.From, f.To)] = true
			}
		}
	}
	return pairs, nil
}

func (e *Engine) filterCycles(ctx context.Context, tx store.Tx, equivalent string, cycles [][]model.Debt, locked map[model.PairKey]bool) ([][]model.Debt, error) {
	seen := make(map[string]bool)
	var kept [][]model.Debt
	for _, cycle := range cycles {
		ok, err := e.cycleClearable(ctx, tx, equivalent, cycle, locked)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		key := cycleKey(cycle)
		if seen[key] {
			continue
		}
		seen[key] = true
		kept = append(kept, cycle)
	}
	return kept, nil
}

// cycleClearable requires every edge's controlling trustline
// (creditor→debtor) to be active with auto-clearing allowed, and no
// edge on a reserved pair.
func (e *Engine) cycleClearable(ctx context.Context, tx store.Tx, equivalent string, cycle []model.Debt, locked map[model.PairKey]bool) (bool, error) {
	for _, edge := range cycle {
		if locked[model.NewPairKey(edge.Debtor, edge.Creditor)] {
			return false, nil
		}
		tl, err := tx.TrustLines().GetActive(ctx, edge.Creditor, edge.Debtor, equivalent)
		if err != nil {
			if err == store.ErrNotFound {
				return false, nil
			}
			return false, err
		}
		if !tl.Policy.AllowsClearing() {
			return false, nil
		}
	}
	return true, nil
}

// cycleKey is the dedupe identity: the sorted tuple of debt IDs.
func cycleKey(cycle []model.Debt) string {
	ids := make([]string, len(cycle))
	for i, d := range cycle {
		ids[i] = d.ID.String()
	}
	sort.Strings(ids)
	return strings.Join(ids, "|")
}

// deepSearch is the DFS fallback for depths beyond the set-based
// detectors. It walks the debt adjacency from each node, canonical
// start pinned to the smallest PID, and stops after dfsCycleCap
// clearable cycles.
func (e *Engine) deepSearch(ctx context.Context, tx store.Tx, equivalent string, maxDepth int, locked map[model.PairKey]bool) ([][]model.Debt, error) {
	debts, err := tx.Debts().ListByEquivalent(ctx, equivalent)
	if err != nil {
		return nil, err
	}
	adjacency := make(map[string][]model.Debt)
	for _, d := range debts {
		if d.Amount.IsPositive() {
			adjacency[d.Debtor] = append(adjacency[d.Debtor], d)
		}
	}
	starts := make([]string, 0, len(adjacency))
	for pid := range adjacency {
		starts = append(starts, pid)
	}
	sort.Strings(starts)

	seen := make(map[string]bool)
	var cycles [][]model.Debt
	var walk func(start string, path []model.Debt, onPath map[string]bool) error
	walk = func(start string, path []model.Debt, onPath map[string]bool) error {
		if len(cycles) >= dfsCycleCap {
			return nil
		}
		cur := start
		if len(path) > 0 {
			cur = path[len(path)-1].Creditor
		}
		for _, edge := range adjacency[cur] {
			if len(cycles) >= dfsCycleCap {
				return nil
			}
			if edge.Creditor == start {
				if len(path)+1 < MinDepth {
					continue
				}
				cycle := append(append([]model.Debt{}, path...), edge)
				key := cycleKey(cycle)
				if seen[key] {
					continue
				}
				ok, err := e.cycleClearable(ctx, tx, equivalent, cycle, locked)
				if err != nil {
					return err
				}
				if ok {
					seen[key] = true
					cycles = append(cycles, cycle)
				}
				continue
			}
			// Canonical start: never walk through a vertex smaller than
			// the start, the cycle will be found from that vertex.
			if edge.Creditor < start || onPath[edge.Creditor] {
				continue
			}
			if len(path)+1 >= maxDepth {
				continue
			}
			onPath[edge.Creditor] = true
			if err := walk(start, append(path, edge), onPath); err != nil {
				return err
			}
			delete(onPath, edge.Creditor)
		}
		return nil
	}

	for _, start := range starts {
		if len(cycles) >= dfsCycleCap {
			break
		}
		if err := walk(start, nil, map[string]bool{start: true}); err != nil {
			return nil, err
		}
	}
	return cycles, nil
}

// ExecuteClearing atomically shrinks every edge of one cycle by the
// cycle minimum, verifying that no participant's net position moved.
// The discovery snapshot is revalidated under row locks first; any
// drift since discovery rejects the cycle with E008.
func (e *Engine) ExecuteClearing(ctx context.Context, equivalent string, cycle []model.Debt) (uuid.UUID, error) {
	if len(cycle) < MinDepth {
		return uuid.Nil, errs.InvalidInput("cycle too short", map[string]any{"edges": len(cycle)})
	}
	discoveryMin := cycle[0].Amount
	for _, edge := range cycle[1:] {
		discoveryMin = decimal.Min(discoveryMin, edge.Amount)
	}

	txID := uuid.New()
	err := e.store.Run(ctx, func(ctx context.Context, tx store.Tx) error {
		fresh := make([]*model.Debt, len(cycle))
		for i, edge := range cycle {
			d, err := tx.Debts().GetForUpdate(ctx, edge.Debtor, edge.Creditor, equivalent)
			if err != nil {
				if err == store.ErrNotFound {
					return errs.Conflict("cycle edge disappeared since discovery", map[string]any{
						"debtor": edge.Debtor, "creditor": edge.Creditor,
					})
				}
				return err
			}
			if d.Amount.LessThan(discoveryMin) {
				return errs.Conflict("cycle edge shrank below the discovery minimum", map[string]any{
					"debtor": edge.Debtor, "creditor": edge.Creditor,
					"amount": d.Amount.String(), "minimum": discoveryMin.String(),
				})
			}
			fresh[i] = d
		}

		clearAmount := fresh[0].Amount
		for _, d := range fresh[1:] {
			clearAmount = decimal.Min(clearAmount, d.Amount)
		}

		locked, err := e.lockedPairs(ctx, tx, equivalent)
		if err != nil {
			return err
		}
		snapshot := make([]model.Debt, len(fresh))
		for i, d := range fresh {
			snapshot[i] = *d
		}
		ok, err := e.cycleClearable(ctx, tx, equivalent, snapshot, locked)
		if err != nil {
			return err
		}
		if !ok {
			return errs.Conflict("cycle no longer clearable", map[string]any{
				"equivalent": equivalent,
			})
		}

		participants := cycleParticipants(snapshot)
		before := make(map[string]decimal.Decimal, len(participants))
		for _, p := range participants {
			pos, err := e.checker.NetPosition(ctx, tx, p, equivalent)
			if err != nil {
				return err
			}
			before[p] = pos
		}
		checksumBefore, err := integrityChecksum(ctx, tx, equivalent)
		if err != nil {
			return err
		}

		if err := e.createClearingTransaction(ctx, tx, txID, equivalent, clearAmount, snapshot, participants); err != nil {
			return err
		}

		for _, d := range fresh {
			left := d.Amount.Sub(clearAmount)
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

		if err := e.checker.VerifyClearingNeutrality(ctx, tx, participants, equivalent, before); err != nil {
			return err
		}
		if err := e.checker.CheckZeroSum(ctx, tx, equivalent); err != nil {
			return err
		}

		checksumAfter, err := integrityChecksum(ctx, tx, equivalent)
		if err != nil {
			return err
		}
		writeClearingAudit(ctx, tx, e.log, txID, equivalent, checksumBefore, checksumAfter, participants)

		return tx.Transactions().SetState(ctx, txID, model.TxCommitted)
	})
	if err != nil {
		return uuid.Nil, err
	}

	e.events.Publish(ctx, events.Event{
		Name: events.ClearingDone,
		Payload: map[string]any{
			"tx_id":      txID.String(),
			"equivalent": equivalent,
			"edges":      len(cycle),
		},
	})
	e.log.Info("cycle cleared",
		zap.String("tx_id", txID.String()),
		zap.String("equivalent", equivalent),
		zap.Int("edges", len(cycle)))
	return txID, nil
}

func (e *Engine) createClearingTransaction(ctx context.Context, tx store.Tx, txID uuid.UUID, equivalent string, amount decimal.Decimal, edges []model.Debt, participants []string) error {
	payload := model.ClearingPayload{
		Equivalent: equivalent,
		Amount:     amount.String(),
		Cycle:      participants,
	}
	for _, d := range edges {
		// Amount is the edge's pre-clearing debt, not the cleared amount.
		payload.Edges = append(payload.Edges, model.ClearingEdge{
			DebtID:   d.ID,
			Debtor:   d.Debtor,
			Creditor: d.Creditor,
			Amount:   d.Amount.String(),
		})
	}
	raw, err := marshalPayload(payload)
	if err != nil {
		return err
	}
	return tx.Transactions().Create(ctx, &model.Transaction{
		TxID:           txID,
		Type:           model.TxClearing,
		Initiator:      "system",
		IdempotencyKey: txID.String(),
		Payload:        raw,
		State:          model.TxNew,
	})
}

// AutoClear repeatedly discovers and executes cycles until none remain,
// under a cross-process lock so only one node clears an equivalent at a
// time. Returns the number of cleared cycles.
func (e *Engine) AutoClear(ctx context.Context, equivalent string, maxDepth int) (int, error) {
	lock, err := e.locks.Acquire(ctx, fmt.Sprintf("dlock:clearing:%s", equivalent))
	if err != nil {
		if err == dlock.ErrNotAcquired {
			e.log.Debug("clearing already running elsewhere", zap.String("equivalent", equivalent))
			return 0, nil
		}
		return 0, err
	}
	defer func() {
		if err := lock.Release(context.WithoutCancel(ctx)); err != nil {
			e.log.Warn("clearing lock release failed", zap.Error(err))
		}
	}()

	cleared := 0
	for cleared < autoClearCeiling {
		cycles, err := e.FindCycles(ctx, equivalent, maxDepth)
		if err != nil {
			return cleared, err
		}
		if len(cycles) == 0 {
			break
		}
		progressed := false
		for _, cycle := range cycles {
			if cleared >= autoClearCeiling {
				break
			}
			if _, err := e.ExecuteClearing(ctx, equivalent, cycle); err != nil {
				// Rejected cycles are expected under contention; the
				// next discovery pass sees fresh state.
				if errs.CodeOf(err) == errs.CodeConflict {
					e.log.Debug("cycle rejected", zap.Error(err))
					continue
				}
				return cleared, err
			}
			cleared++
			progressed = true
		}
		if !progressed {
			break
		}
	}
	return cleared, nil
}

func cycleParticipants(cycle []model.Debt) []string {
	set := make(map[string]bool, len(cycle))
	for _, d := range cycle {
		set[d.Debtor] = true
		set[d.Creditor] = true
	}
	out := make([]string, 0, len(set))
	for p := range set {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}
