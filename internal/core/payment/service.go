package payment

import (
	"bytes"
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/gowebpki/jcs"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/slawa19/GEOv0-sub001/internal/core/errs"
	"github.com/slawa19/GEOv0-sub001/internal/core/model"
	"github.com/slawa19/GEOv0-sub001/internal/core/signature"
	"github.com/slawa19/GEOv0-sub001/internal/core/store"
	"github.com/slawa19/GEOv0-sub001/internal/events"
)

// Router supplies candidate routes. The core validates what it
// receives; it does not own routing.
type Router interface {
	FindRoutes(ctx context.Context, from, to, equivalent string, amount decimal.Decimal, maxHops, maxPaths int) ([]Route, error)
}

// ServiceConfig carries the payment-facing feature flags.
type ServiceConfig struct {
	MultipathEnabled     bool
	FullMultipathEnabled bool
}

// equivalentCacheSize bounds the metadata cache; equivalents are few
// and effectively immutable once created.
const equivalentCacheSize = 128

// Service is the payment API consumed by the process boundary.
type Service struct {
	store    store.Store
	engine   *Engine
	router   Router
	verifier signature.Verifier
	events   events.Publisher
	config   ServiceConfig
	log      *zap.Logger

	equivalents *lru.Cache[string, model.Equivalent]
}

// NewService wires the payment service.
func NewService(st store.Store, engine *Engine, router Router, verifier signature.Verifier, pub events.Publisher, cfg ServiceConfig, log *zap.Logger) *Service {
	cache, _ := lru.New[string, model.Equivalent](equivalentCacheSize)
	if verifier == nil {
		verifier = signature.NopVerifier{}
	}
	if pub == nil {
		pub = events.NopPublisher{}
	}
	return &Service{
		store:       st,
		engine:      engine,
		router:      router,
		verifier:    verifier,
		events:      pub,
		config:      cfg,
		log:         log,
		equivalents: cache,
	}
}

// CreateRequest is one payment submission.
type CreateRequest struct {
	Initiator  string
	To         string
	Equivalent string
	Amount     decimal.Decimal
	// TxID doubles as the idempotency key; generated when zero.
	TxID uuid.UUID
	// Routes, when present, bypass the router (pre-negotiated paths).
	Routes []Route
	// Signature is a DER-encoded ECDSA signature over the canonical
	// payload encoding; empty means the boundary authenticated the
	// caller by other means.
	Signature []byte
}

// CreateResult is the terminal outcome of a payment submission.
type CreateResult struct {
	TxID   uuid.UUID
	Status model.TxState
	Routes []Route
	Error  *model.TxError
}

// CreatePayment runs the full 2PC for one payment: resolve routes,
// persist the transaction row, prepare, commit. Every failure after the
// row exists is surfaced through the abort path, so the caller always
// observes a terminal state with a stable error code.
func (s *Service) CreatePayment(ctx context.Context, req CreateRequest) (*CreateResult, error) {
	if err := s.validateCreate(ctx, &req); err != nil {
		return nil, err
	}

	payload, err := s.buildPayload(ctx, req)
	if err != nil {
		return nil, err
	}

	if prior, err := s.resolveIdempotent(ctx, req, payload); prior != nil || err != nil {
		return prior, err
	}

	if err := s.persistTransaction(ctx, req, payload); err != nil {
		return nil, err
	}

	routes := routesFromPayload(payload)
	if err := s.engine.PrepareRoutes(ctx, req.TxID, routes, req.Equivalent); err != nil {
		return s.abortedResult(ctx, req.TxID, routes, err)
	}
	if err := s.engine.Commit(ctx, req.TxID); err != nil {
		return s.abortedResult(ctx, req.TxID, routes, err)
	}

	s.events.Publish(ctx, events.Event{
		Name: events.PaymentReceived,
		Payload: map[string]any{
			"tx_id":      req.TxID.String(),
			"from":       req.Initiator,
			"to":         req.To,
			"equivalent": req.Equivalent,
			"amount":     req.Amount.String(),
		},
	})

	return &CreateResult{TxID: req.TxID, Status: model.TxCommitted, Routes: routes}, nil
}

func (s *Service) validateCreate(ctx context.Context, req *CreateRequest) error {
	if req.Initiator == "" || req.To == "" {
		return errs.InvalidInput("payment endpoints are required", nil)
	}
	if req.Initiator == req.To {
		return errs.InvalidInput("payment to self is not allowed", map[string]any{"pid": req.Initiator})
	}
	if !req.Amount.IsPositive() {
		return errs.InvalidInput("payment amount must be positive", map[string]any{"amount": req.Amount.String()})
	}
	if req.TxID == uuid.Nil {
		req.TxID = uuid.New()
	}

	eq, err := s.lookupEquivalent(ctx, req.Equivalent)
	if err != nil {
		return err
	}
	if req.Amount.Exponent() < -eq.Precision {
		return errs.InvalidInput("amount exceeds equivalent precision", map[string]any{
			"amount": req.Amount.String(), "precision": eq.Precision,
		})
	}

	return s.store.RunReadOnly(ctx, func(ctx context.Context, tx store.Tx) error {
		initiator, err := tx.Participants().GetByPID(ctx, req.Initiator)
		if err != nil {
			if err == store.ErrNotFound {
				return errs.InvalidInput("unknown initiator", map[string]any{"pid": req.Initiator})
			}
			return err
		}
		if !initiator.CanTransact() {
			return errs.InsufficientRights("initiator may not transact")
		}
		receiver, err := tx.Participants().GetByPID(ctx, req.To)
		if err != nil {
			if err == store.ErrNotFound {
				return errs.InvalidInput("unknown receiver", map[string]any{"pid": req.To})
			}
			return err
		}
		if !receiver.CanTransact() {
			return errs.InsufficientRights("receiver may not transact")
		}
		if len(req.Signature) > 0 {
			return s.verifier.Verify(initiator.PublicKey, signedPaymentBody(*req), req.Signature)
		}
		return nil
	})
}

// signedPaymentBody is the canonical signing shape; route selection is
// the ledger's business and stays outside the signature.
func signedPaymentBody(req CreateRequest) map[string]any {
	return map[string]any{
		"tx_id":      req.TxID.String(),
		"from":       req.Initiator,
		"to":         req.To,
		"equivalent": req.Equivalent,
		"amount":     req.Amount.String(),
	}
}

func (s *Service) buildPayload(ctx context.Context, req CreateRequest) (*model.PaymentPayload, error) {
	routes := req.Routes
	if len(routes) == 0 {
		maxPaths := s.engine.config.MaxPaths
		if !s.config.MultipathEnabled {
			maxPaths = 1
		}
		found, err := s.router.FindRoutes(ctx, req.Initiator, req.To, req.Equivalent, req.Amount, s.engine.config.MaxHops, maxPaths)
		if err != nil {
			return nil, err
		}
		routes = found
	}
	if len(routes) == 0 {
		return nil, errs.NoRoute("no route with sufficient capacity", map[string]any{
			"from": req.Initiator, "to": req.To,
			"equivalent": req.Equivalent, "amount": req.Amount.String(),
		})
	}
	if !s.config.MultipathEnabled && len(routes) > 1 {
		return nil, errs.InvalidInput("multipath payments are disabled", map[string]any{"routes": len(routes)})
	}

	total := decimal.Zero
	for _, r := range routes {
		if len(r.Path) < 2 || r.Path[0] != req.Initiator || r.Path[len(r.Path)-1] != req.To {
			return nil, errs.InvalidInput("route does not connect payment endpoints", map[string]any{
				"path": r.Path,
			})
		}
		total = total.Add(r.Amount)
	}
	if !total.Equal(req.Amount) {
		return nil, errs.InvalidInput("route amounts do not sum to payment amount", map[string]any{
			"amount": req.Amount.String(), "routed": total.String(),
		})
	}

	p := &model.PaymentPayload{
		From:       req.Initiator,
		To:         req.To,
		Equivalent: req.Equivalent,
		Amount:     req.Amount.String(),
	}
	for _, r := range routes {
		p.Routes = append(p.Routes, model.RouteEntry{Path: r.Path, Amount: r.Amount.String()})
	}
	return p, nil
}

// resolveIdempotent returns the prior terminal result for a repeated
// submission with an identical payload, or E008 when the same key
// arrives with a different payload.
func (s *Service) resolveIdempotent(ctx context.Context, req CreateRequest, payload *model.PaymentPayload) (*CreateResult, error) {
	var prior *model.Transaction
	err := s.store.RunReadOnly(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		prior, err = tx.Transactions().FindByIdempotency(ctx, req.Initiator, model.TxPayment, req.TxID.String())
		if err == store.ErrNotFound {
			prior = nil
			return nil
		}
		return err
	})
	if err != nil || prior == nil {
		return nil, err
	}

	same, err := payloadsEqual(prior.Payload, payload)
	if err != nil {
		return nil, errs.Internal("stored payload cannot be compared", err)
	}
	if !same {
		return nil, errs.Conflict("idempotency key reused with a different payload", map[string]any{
			"tx_id": req.TxID.String(),
		})
	}
	return resultFromTransaction(prior), nil
}

func payloadsEqual(stored json.RawMessage, payload *model.PaymentPayload) (bool, error) {
	fresh, err := json.Marshal(payload)
	if err != nil {
		return false, err
	}
	a, err := jcs.Transform(stored)
	if err != nil {
		return false, err
	}
	b, err := jcs.Transform(fresh)
	if err != nil {
		return false, err
	}
	return bytes.Equal(a, b), nil
}

func (s *Service) persistTransaction(ctx context.Context, req CreateRequest, payload *model.PaymentPayload) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return errs.Internal("payload encoding failed", err)
	}
	err = s.store.Run(ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.Transactions().Create(ctx, &model.Transaction{
			TxID:           req.TxID,
			Type:           model.TxPayment,
			Initiator:      req.Initiator,
			IdempotencyKey: req.TxID.String(),
			Payload:        raw,
			State:          model.TxNew,
		})
	})
	if err == store.ErrDuplicate {
		// Raced a concurrent identical submission; the idempotency path
		// on the next attempt resolves it.
		return errs.Conflict("transaction already exists", map[string]any{"tx_id": req.TxID.String()})
	}
	return err
}

// abortedResult persists the abort (unless the engine already did) and
// maps the failure into the terminal response shape. The original error
// is returned alongside so callers can branch on its code.
func (s *Service) abortedResult(ctx context.Context, txID uuid.UUID, routes []Route, cause error) (*CreateResult, error) {
	e := errs.AsError(cause)
	if abortErr := s.engine.Abort(ctx, txID, e.Message, e.Code, e.Details); abortErr != nil {
		s.log.Error("payment abort did not persist",
			zap.String("tx_id", txID.String()),
			zap.Error(abortErr))
	}
	return &CreateResult{
		TxID:   txID,
		Status: model.TxAborted,
		Routes: routes,
		Error:  &model.TxError{Code: string(e.Code), Message: e.Message, Details: e.Details},
	}, cause
}

// GetPayment returns the durable transaction row.
func (s *Service) GetPayment(ctx context.Context, txID uuid.UUID) (*model.Transaction, error) {
	var t *model.Transaction
	err := s.store.RunReadOnly(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		t, err = tx.Transactions().Get(ctx, txID)
		if err == store.ErrNotFound {
			return errs.InvalidInput("unknown transaction", map[string]any{"tx_id": txID.String()})
		}
		return err
	})
	return t, err
}

// ListPayments pages through a participant's sent or received payments.
func (s *Service) ListPayments(ctx context.Context, f store.PaymentFilter) ([]model.Transaction, error) {
	if f.Participant == "" {
		return nil, errs.InvalidInput("participant is required", nil)
	}
	switch f.Direction {
	case store.DirectionSent, store.DirectionReceived:
	default:
		return nil, errs.InvalidInput("direction must be sent or received", map[string]any{
			"direction": string(f.Direction),
		})
	}
	if f.Limit <= 0 || f.Limit > 500 {
		f.Limit = 50
	}
	var out []model.Transaction
	err := s.store.RunReadOnly(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		out, err = tx.Transactions().ListPayments(ctx, f)
		return err
	})
	return out, err
}

// CapacityResult answers "can from pay to this much right now".
type CapacityResult struct {
	CanPay    bool
	Available decimal.Decimal
}

// Capacity computes the single-segment admissible amount with the same
// formula prepare uses, reservations included.
func (s *Service) Capacity(ctx context.Context, from, to, equivalent string, amount decimal.Decimal) (*CapacityResult, error) {
	if _, err := s.lookupEquivalent(ctx, equivalent); err != nil {
		return nil, err
	}
	var res CapacityResult
	err := s.store.RunReadOnly(ctx, func(ctx context.Context, tx store.Tx) error {
		available, reserved, err := s.engine.segmentCapacity(ctx, tx, from, to, equivalent, uuid.Nil, s.engine.now())
		if err != nil {
			return err
		}
		res.Available = decimal.Max(available.Sub(reserved), decimal.Zero)
		res.CanPay = amount.IsPositive() && res.Available.GreaterThanOrEqual(amount)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &res, nil
}

// lookupEquivalent resolves equivalent metadata through the cache.
func (s *Service) lookupEquivalent(ctx context.Context, code string) (model.Equivalent, error) {
	if code == "" {
		return model.Equivalent{}, errs.InvalidInput("equivalent is required", nil)
	}
	if eq, ok := s.equivalents.Get(code); ok {
		return eq, nil
	}
	var eq model.Equivalent
	err := s.store.RunReadOnly(ctx, func(ctx context.Context, tx store.Tx) error {
		found, err := tx.Equivalents().Get(ctx, code)
		if err != nil {
			if err == store.ErrNotFound {
				return errs.InvalidInput("unknown equivalent", map[string]any{"equivalent": code})
			}
			return err
		}
		eq = *found
		return nil
	})
	if err != nil {
		return model.Equivalent{}, err
	}
	s.equivalents.Add(code, eq)
	return eq, nil
}

func routesFromPayload(p *model.PaymentPayload) []Route {
	routes := make([]Route, 0, len(p.Routes))
	for _, r := range p.Routes {
		amount, err := decimal.NewFromString(r.Amount)
		if err != nil {
			continue
		}
		routes = append(routes, Route{Path: r.Path, Amount: amount})
	}
	return routes
}

func resultFromTransaction(t *model.Transaction) *CreateResult {
	res := &CreateResult{TxID: t.TxID, Status: t.State, Error: t.Error}
	var p model.PaymentPayload
	if err := json.Unmarshal(t.Payload, &p); err == nil {
		res.Routes = routesFromPayload(&p)
	}
	return res
}
