package payment

import (
	"context"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/slawa19/GEOv0-sub001/internal/core/model"
	"github.com/slawa19/GEOv0-sub001/internal/core/store"
)

// capacityGraph is the directed residual graph of admissible flow for
// one equivalent, reservations already subtracted.
type capacityGraph struct {
	cap map[string]map[string]decimal.Decimal
}

func newCapacityGraph() *capacityGraph {
	return &capacityGraph{cap: make(map[string]map[string]decimal.Decimal)}
}

func (g *capacityGraph) add(from, to string, delta decimal.Decimal) {
	if g.cap[from] == nil {
		g.cap[from] = make(map[string]decimal.Decimal)
	}
	g.cap[from][to] = g.cap[from][to].Add(delta)
}

func (g *capacityGraph) at(from, to string) decimal.Decimal {
	return g.cap[from][to]
}

// neighbors returns outgoing edges with positive capacity in a stable
// order, so path discovery is deterministic.
func (g *capacityGraph) neighbors(from string) []string {
	var out []string
	for to, c := range g.cap[from] {
		if c.IsPositive() {
			out = append(out, to)
		}
	}
	sort.Strings(out)
	return out
}

// buildCapacityGraph assembles per-segment capacity from trustlines,
// debts and active reservations, mirroring the prepare-time formula:
// a line TL(c→d) admits flow d→c up to its limit; debt shifts capacity
// from the debtor's outbound side to the creditor's.
func buildCapacityGraph(ctx context.Context, tx store.Tx, equivalent string, locks []model.PrepareLock) (*capacityGraph, error) {
	g := newCapacityGraph()

	lines, err := tx.TrustLines().ListByEquivalent(ctx, equivalent)
	if err != nil {
		return nil, err
	}
	for _, tl := range lines {
		limit := tl.EffectiveLimit()
		if limit.IsPositive() {
			g.add(tl.To, tl.From, limit)
		}
	}

	debts, err := tx.Debts().ListByEquivalent(ctx, equivalent)
	if err != nil {
		return nil, err
	}
	for _, d := range debts {
		g.add(d.Debtor, d.Creditor, d.Amount.Neg())
		g.add(d.Creditor, d.Debtor, d.Amount)
	}

	for i := range locks {
		for _, f := range locks[i].Effects.Flows {
			if f.Equivalent == equivalent {
				g.add(f.From, f.To, f.Amount.Neg())
			}
		}
	}
	return g, nil
}

// MaxFlowResult is the outcome of a max-flow probe.
type MaxFlowResult struct {
	MaxAmount decimal.Decimal
	// Paths carries the flow decomposition; populated only when the
	// full-multipath feature flag is on.
	Paths []Route
}

// MaxFlow computes the maximum routable amount from → to by repeated
// shortest augmenting paths over the live capacity graph, bounded by
// the configured hop and path limits.
func (s *Service) MaxFlow(ctx context.Context, from, to, equivalent string) (*MaxFlowResult, error) {
	if _, err := s.lookupEquivalent(ctx, equivalent); err != nil {
		return nil, err
	}
	res := &MaxFlowResult{MaxAmount: decimal.Zero}
	err := s.store.RunReadOnly(ctx, func(ctx context.Context, tx store.Tx) error {
		g, err := s.liveGraph(ctx, tx, equivalent)
		if err != nil {
			return err
		}
		amount, paths := augment(g, from, to, decimal.Zero, s.engine.config.MaxHops, 0)
		res.MaxAmount = amount
		if s.config.FullMultipathEnabled {
			res.Paths = paths
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (s *Service) liveGraph(ctx context.Context, tx store.Tx, equivalent string) (*capacityGraph, error) {
	locks, err := tx.Locks().ListActive(ctx, equivalent, s.engine.now())
	if err != nil {
		return nil, err
	}
	return buildCapacityGraph(ctx, tx, equivalent, locks)
}

// augment runs Edmonds-Karp over g, mutating it as the residual graph.
// target zero means "as much as possible"; maxPaths zero means
// unbounded. Returns the total routed amount and the used paths.
func augment(g *capacityGraph, from, to string, target decimal.Decimal, maxHops, maxPaths int) (decimal.Decimal, []Route) {
	total := decimal.Zero
	var routes []Route
	for {
		if !target.IsZero() && total.GreaterThanOrEqual(target) {
			break
		}
		if maxPaths > 0 && len(routes) >= maxPaths {
			break
		}
		path := shortestPath(g, from, to, maxHops)
		if path == nil {
			break
		}
		bottleneck := g.at(path[0], path[1])
		for i := 1; i+1 < len(path); i++ {
			bottleneck = decimal.Min(bottleneck, g.at(path[i], path[i+1]))
		}
		if !target.IsZero() {
			bottleneck = decimal.Min(bottleneck, target.Sub(total))
		}
		if !bottleneck.IsPositive() {
			break
		}
		for i := 0; i+1 < len(path); i++ {
			g.add(path[i], path[i+1], bottleneck.Neg())
			g.add(path[i+1], path[i], bottleneck)
		}
		total = total.Add(bottleneck)
		routes = append(routes, Route{Path: path, Amount: bottleneck})
	}
	return total, routes
}

// shortestPath finds a minimum-hop positive-capacity path via BFS.
func shortestPath(g *capacityGraph, from, to string, maxHops int) []string {
	if from == to {
		return nil
	}
	parent := map[string]string{from: from}
	depth := map[string]int{from: 0}
	queue := []string{from}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if maxHops > 0 && depth[cur] >= maxHops {
			continue
		}
		for _, next := range g.neighbors(cur) {
			if _, seen := parent[next]; seen {
				continue
			}
			parent[next] = cur
			depth[next] = depth[cur] + 1
			if next == to {
				var path []string
				for at := to; at != from; at = parent[at] {
					path = append(path, at)
				}
				path = append(path, from)
				for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
					path[i], path[j] = path[j], path[i]
				}
				return path
			}
			queue = append(queue, next)
		}
	}
	return nil
}

// GraphRouter routes over the ledger's own capacity graph. Used in
// standalone mode; deployments with an external router implement the
// Router interface at the boundary instead.
type GraphRouter struct {
	store store.Store
}

// NewGraphRouter wires the built-in router.
func NewGraphRouter(st store.Store) *GraphRouter {
	return &GraphRouter{store: st}
}

// FindRoutes returns a route set carrying exactly amount, or nil when
// the graph cannot carry it within the hop and path bounds.
func (r *GraphRouter) FindRoutes(ctx context.Context, from, to, equivalent string, amount decimal.Decimal, maxHops, maxPaths int) ([]Route, error) {
	var routes []Route
	err := r.store.RunReadOnly(ctx, func(ctx context.Context, tx store.Tx) error {
		locks, err := tx.Locks().ListActive(ctx, equivalent, time.Now().UTC())
		if err != nil {
			return err
		}
		g, err := buildCapacityGraph(ctx, tx, equivalent, locks)
		if err != nil {
			return err
		}
		routed, found := augment(g, from, to, amount, maxHops, maxPaths)
		if routed.Equal(amount) {
			routes = found
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return routes, nil
}
