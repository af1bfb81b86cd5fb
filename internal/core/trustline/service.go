// Package trustline manages the lifecycle of directed credit lines:
// open, update, freeze, close. Every mutation is recorded as a durable
// transaction and an administrative audit entry.
package trustline

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/slawa19/GEOv0-sub001/internal/core/errs"
	"github.com/slawa19/GEOv0-sub001/internal/core/model"
	"github.com/slawa19/GEOv0-sub001/internal/core/store"
)

// Service is the trustline lifecycle API.
type Service struct {
	store store.Store
	log   *zap.Logger
}

// NewService wires the trustline service.
func NewService(st store.Store, log *zap.Logger) *Service {
	return &Service{store: st, log: log}
}

// Open creates an active line From→To with the given limit. From is the
// creditor: the line caps how much To may owe From.
func (s *Service) Open(ctx context.Context, from, to, equivalent string, limit decimal.Decimal, policy model.TrustLinePolicy) (*model.TrustLine, error) {
	line := &model.TrustLine{
		ID:         uuid.New(),
		From:       from,
		To:         to,
		Equivalent: equivalent,
		Limit:      limit,
		Status:     model.TrustLineActive,
		Policy:     policy,
		Version:    1,
	}
	if err := line.Validate(); err != nil {
		return nil, errs.InvalidInput(err.Error(), nil)
	}
	if !limit.IsPositive() {
		return nil, errs.InvalidInput("trustline limit must be positive", map[string]any{
			"limit": limit.String(),
		})
	}

	err := s.store.Run(ctx, func(ctx context.Context, tx store.Tx) error {
		if err := s.checkEndpoints(ctx, tx, from, to, equivalent); err != nil {
			return err
		}
		if err := tx.TrustLines().Create(ctx, line); err != nil {
			if err == store.ErrDuplicate {
				return errs.Conflict("trustline already exists", map[string]any{
					"from": from, "to": to, "equivalent": equivalent,
				})
			}
			return err
		}
		if err := s.recordTransaction(ctx, tx, model.TxTrustLineOpen, from, line); err != nil {
			return err
		}
		return s.recordAudit(ctx, tx, from, "trustline.open", line, nil, line)
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("trustline opened",
		zap.String("from", from), zap.String("to", to),
		zap.String("equivalent", equivalent), zap.String("limit", limit.String()))
	return line, nil
}

// Update changes the limit and policy of an active line. The new limit
// must cover the debt the line currently controls.
func (s *Service) Update(ctx context.Context, from, to, equivalent string, limit decimal.Decimal, policy *model.TrustLinePolicy) (*model.TrustLine, error) {
	if !limit.IsPositive() {
		return nil, errs.InvalidInput("trustline limit must be positive", map[string]any{
			"limit": limit.String(),
		})
	}
	var updated *model.TrustLine
	err := s.store.Run(ctx, func(ctx context.Context, tx store.Tx) error {
		line, err := s.getLine(ctx, tx, from, to, equivalent)
		if err != nil {
			return err
		}
		if line.Status != model.TrustLineActive {
			return errs.TrustLineNotActive("trustline is not active", map[string]any{
				"from": from, "to": to, "status": string(line.Status),
			})
		}

		inUse, err := s.controlledDebt(ctx, tx, from, to, equivalent)
		if err != nil {
			return err
		}
		if limit.LessThan(inUse) {
			return errs.TrustLimitExceeded("new limit is below current debt", map[string]any{
				"limit": limit.String(), "debt": inUse.String(),
			})
		}

		before := *line
		line.Limit = limit
		if policy != nil {
			line.Policy = *policy
		}
		if err := tx.TrustLines().Update(ctx, line); err != nil {
			return err
		}
		if err := s.recordTransaction(ctx, tx, model.TxTrustLineUpdate, from, line); err != nil {
			return err
		}
		if err := s.recordAudit(ctx, tx, from, "trustline.update", line, &before, line); err != nil {
			return err
		}
		updated = line
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// Freeze suspends an active line. Frozen lines contribute zero capacity
// but keep their debt, so the debtor can still repay.
func (s *Service) Freeze(ctx context.Context, from, to, equivalent string) (*model.TrustLine, error) {
	return s.transition(ctx, from, to, equivalent, model.TxTrustLineFreeze, "trustline.freeze",
		func(line *model.TrustLine) error {
			if line.Status != model.TrustLineActive {
				return errs.TrustLineNotActive("only active trustlines can be frozen", map[string]any{
					"status": string(line.Status),
				})
			}
			line.Status = model.TrustLineFrozen
			return nil
		}, nil)
}

// Close retires a line. Requires zero debt in both directions between
// the endpoints: a line with live debt cannot disappear.
func (s *Service) Close(ctx context.Context, from, to, equivalent string) (*model.TrustLine, error) {
	return s.transition(ctx, from, to, equivalent, model.TxTrustLineClose, "trustline.close",
		func(line *model.TrustLine) error {
			if line.Status == model.TrustLineClosed {
				return errs.Conflict("trustline already closed", nil)
			}
			line.Status = model.TrustLineClosed
			return nil
		},
		func(ctx context.Context, tx store.Tx) error {
			for _, dir := range [][2]string{{to, from}, {from, to}} {
				d, err := tx.Debts().Get(ctx, dir[0], dir[1], equivalent)
				if err == store.ErrNotFound {
					continue
				}
				if err != nil {
					return err
				}
				if d.Amount.IsPositive() {
					return errs.InvalidInput("trustline with outstanding debt cannot be closed", map[string]any{
						"debtor": d.Debtor, "creditor": d.Creditor, "amount": d.Amount.String(),
					})
				}
			}
			return nil
		})
}

// Get returns one line.
func (s *Service) Get(ctx context.Context, from, to, equivalent string) (*model.TrustLine, error) {
	var line *model.TrustLine
	err := s.store.RunReadOnly(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		line, err = s.getLine(ctx, tx, from, to, equivalent)
		return err
	})
	return line, err
}

// List returns every line of one equivalent ordered by endpoints.
func (s *Service) List(ctx context.Context, equivalent string) ([]model.TrustLine, error) {
	var lines []model.TrustLine
	err := s.store.RunReadOnly(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		lines, err = tx.TrustLines().ListByEquivalent(ctx, equivalent)
		return err
	})
	return lines, err
}

func (s *Service) transition(ctx context.Context, from, to, equivalent string, txType model.TxType, action string, mutate func(*model.TrustLine) error, precondition func(context.Context, store.Tx) error) (*model.TrustLine, error) {
	var out *model.TrustLine
	err := s.store.Run(ctx, func(ctx context.Context, tx store.Tx) error {
		line, err := s.getLine(ctx, tx, from, to, equivalent)
		if err != nil {
			return err
		}
		if precondition != nil {
			if err := precondition(ctx, tx); err != nil {
				return err
			}
		}
		before := *line
		if err := mutate(line); err != nil {
			return err
		}
		if err := tx.TrustLines().Update(ctx, line); err != nil {
			return err
		}
		if err := s.recordTransaction(ctx, tx, txType, from, line); err != nil {
			return err
		}
		if err := s.recordAudit(ctx, tx, from, action, line, &before, line); err != nil {
			return err
		}
		out = line
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.Info(action,
		zap.String("from", from), zap.String("to", to),
		zap.String("equivalent", equivalent))
	return out, nil
}

func (s *Service) getLine(ctx context.Context, tx store.Tx, from, to, equivalent string) (*model.TrustLine, error) {
	line, err := tx.TrustLines().Get(ctx, from, to, equivalent)
	if err != nil {
		if err == store.ErrNotFound {
			return nil, errs.InvalidInput("trustline does not exist", map[string]any{
				"from": from, "to": to, "equivalent": equivalent,
			})
		}
		return nil, err
	}
	return line, nil
}

// controlledDebt is the debt this line controls: what To owes From.
func (s *Service) controlledDebt(ctx context.Context, tx store.Tx, from, to, equivalent string) (decimal.Decimal, error) {
	d, err := tx.Debts().Get(ctx, to, from, equivalent)
	if err == store.ErrNotFound {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, err
	}
	return d.Amount, nil
}

func (s *Service) checkEndpoints(ctx context.Context, tx store.Tx, from, to, equivalent string) error {
	if _, err := tx.Equivalents().Get(ctx, equivalent); err != nil {
		if err == store.ErrNotFound {
			return errs.InvalidInput("unknown equivalent", map[string]any{"equivalent": equivalent})
		}
		return err
	}
	for _, pid := range []string{from, to} {
		p, err := tx.Participants().GetByPID(ctx, pid)
		if err != nil {
			if err == store.ErrNotFound {
				return errs.InvalidInput("unknown participant", map[string]any{"pid": pid})
			}
			return err
		}
		if !p.CanTransact() {
			return errs.InsufficientRights("participant may not hold trustlines")
		}
	}
	return nil
}

type trustlinePayload struct {
	From       string                `json:"from"`
	To         string                `json:"to"`
	Equivalent string                `json:"equivalent"`
	Limit      string                `json:"limit"`
	Status     model.TrustLineStatus `json:"status"`
}

func (s *Service) recordTransaction(ctx context.Context, tx store.Tx, txType model.TxType, initiator string, line *model.TrustLine) error {
	raw, err := json.Marshal(trustlinePayload{
		From:       line.From,
		To:         line.To,
		Equivalent: line.Equivalent,
		Limit:      line.Limit.String(),
		Status:     line.Status,
	})
	if err != nil {
		return errs.Internal("trustline payload encoding failed", err)
	}
	txID := uuid.New()
	return tx.Transactions().Create(ctx, &model.Transaction{
		TxID:           txID,
		Type:           txType,
		Initiator:      initiator,
		IdempotencyKey: txID.String(),
		Payload:        raw,
		State:          model.TxCommitted,
	})
}

func (s *Service) recordAudit(ctx context.Context, tx store.Tx, actor, action string, line *model.TrustLine, before, after *model.TrustLine) error {
	encode := func(l *model.TrustLine) []byte {
		if l == nil {
			return nil
		}
		raw, err := json.Marshal(trustlinePayload{
			From: l.From, To: l.To, Equivalent: l.Equivalent,
			Limit: l.Limit.String(), Status: l.Status,
		})
		if err != nil {
			return nil
		}
		return raw
	}
	return tx.Audit().AppendAdmin(ctx, &model.AuditLog{
		ID:          uuid.New(),
		Timestamp:   time.Now().UTC(),
		Actor:       actor,
		Action:      action,
		Object:      line.From + "->" + line.To + ":" + line.Equivalent,
		BeforeState: encode(before),
		AfterState:  encode(after),
	})
}
