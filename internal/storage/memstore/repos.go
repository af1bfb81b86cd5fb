package memstore

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/slawa19/GEOv0-sub001/internal/core/model"
	"github.com/slawa19/GEOv0-sub001/internal/core/store"
)

type equivalentRepo struct {
	d *data
}

func (r *equivalentRepo) Get(_ context.Context, code string) (*model.Equivalent, error) {
	eq, ok := r.d.equivalents[code]
	if !ok {
		return nil, store.ErrNotFound
	}
	c := *eq
	return &c, nil
}

func (r *equivalentRepo) List(context.Context) ([]model.Equivalent, error) {
	out := make([]model.Equivalent, 0, len(r.d.equivalents))
	for _, eq := range r.d.equivalents {
		out = append(out, *eq)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

func (r *equivalentRepo) Create(_ context.Context, eq *model.Equivalent) error {
	if err := eq.Validate(); err != nil {
		return err
	}
	if _, exists := r.d.equivalents[eq.Code]; exists {
		return store.ErrDuplicate
	}
	c := *eq
	r.d.equivalents[eq.Code] = &c
	return nil
}

type participantRepo struct {
	d *data
}

func (r *participantRepo) GetByPID(_ context.Context, pid string) (*model.Participant, error) {
	p, ok := r.d.participants[pid]
	if !ok {
		return nil, store.ErrNotFound
	}
	c := *p
	return &c, nil
}

func (r *participantRepo) Missing(_ context.Context, pids []string) ([]string, error) {
	var missing []string
	seen := make(map[string]bool)
	for _, pid := range pids {
		if seen[pid] {
			continue
		}
		seen[pid] = true
		if _, ok := r.d.participants[pid]; !ok {
			missing = append(missing, pid)
		}
	}
	return missing, nil
}

func (r *participantRepo) Create(_ context.Context, p *model.Participant) error {
	if err := p.Validate(); err != nil {
		return err
	}
	if _, exists := r.d.participants[p.PID]; exists {
		return store.ErrDuplicate
	}
	for _, other := range r.d.participants {
		if string(other.PublicKey) == string(p.PublicKey) {
			return store.ErrDuplicate
		}
	}
	c := *p
	r.d.participants[p.PID] = &c
	return nil
}

func (r *participantRepo) UpdateStatus(_ context.Context, pid string, status model.ParticipantStatus) error {
	p, ok := r.d.participants[pid]
	if !ok {
		return store.ErrNotFound
	}
	p.Status = status
	return nil
}

type trustLineRepo struct {
	d *data
}

func (r *trustLineRepo) Get(_ context.Context, from, to, equivalent string) (*model.TrustLine, error) {
	tl, ok := r.d.trustlines[tlKey{from, to, equivalent}]
	if !ok {
		return nil, store.ErrNotFound
	}
	c := *tl
	return &c, nil
}

func (r *trustLineRepo) GetActive(ctx context.Context, from, to, equivalent string) (*model.TrustLine, error) {
	tl, err := r.Get(ctx, from, to, equivalent)
	if err != nil {
		return nil, err
	}
	if tl.Status != model.TrustLineActive {
		return nil, store.ErrNotFound
	}
	return tl, nil
}

func (r *trustLineRepo) Create(_ context.Context, tl *model.TrustLine) error {
	if err := tl.Validate(); err != nil {
		return err
	}
	key := tlKey{tl.From, tl.To, tl.Equivalent}
	if _, exists := r.d.trustlines[key]; exists {
		return store.ErrDuplicate
	}
	tl.Version = 1
	c := *tl
	r.d.trustlines[key] = &c
	return nil
}

func (r *trustLineRepo) Update(_ context.Context, tl *model.TrustLine) error {
	if err := tl.Validate(); err != nil {
		return err
	}
	cur, ok := r.d.trustlines[tlKey{tl.From, tl.To, tl.Equivalent}]
	if !ok || cur.Version != tl.Version {
		return store.ErrStale
	}
	c := *tl
	c.Version = tl.Version + 1
	r.d.trustlines[tlKey{tl.From, tl.To, tl.Equivalent}] = &c
	tl.Version = c.Version
	return nil
}

func (r *trustLineRepo) ListByEquivalent(_ context.Context, equivalent string) ([]model.TrustLine, error) {
	var out []model.TrustLine
	for _, tl := range r.d.trustlines {
		if tl.Equivalent == equivalent {
			out = append(out, *tl)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].From != out[j].From {
			return out[i].From < out[j].From
		}
		return out[i].To < out[j].To
	})
	return out, nil
}

type lockRepo struct {
	d *data
}

func (r *lockRepo) GetByTx(_ context.Context, txID uuid.UUID) ([]model.PrepareLock, error) {
	var out []model.PrepareLock
	for _, l := range r.d.locks {
		if l.TxID == txID {
			out = append(out, *l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Participant < out[j].Participant })
	return out, nil
}

func (r *lockRepo) Create(_ context.Context, lock *model.PrepareLock) error {
	for _, l := range r.d.locks {
		if l.TxID == lock.TxID && l.Participant == lock.Participant {
			return store.ErrDuplicate
		}
	}
	if _, ok := r.d.transactions[lock.TxID]; !ok {
		return store.ErrNotFound
	}
	c := *lock
	c.Effects.Flows = append([]model.Flow(nil), lock.Effects.Flows...)
	r.d.locks[lock.ID] = &c
	return nil
}

func (r *lockRepo) DeleteByTx(_ context.Context, txID uuid.UUID) error {
	for id, l := range r.d.locks {
		if l.TxID == txID {
			delete(r.d.locks, id)
		}
	}
	return nil
}

func (r *lockRepo) Reserved(_ context.Context, from, to, equivalent string, exclude uuid.UUID, now time.Time) (decimal.Decimal, error) {
	sum := decimal.Zero
	for _, l := range r.d.locks {
		if l.TxID == exclude || l.Expired(now) {
			continue
		}
		for _, f := range l.Effects.Flows {
			if f.From == from && f.To == to && f.Equivalent == equivalent {
				sum = sum.Add(f.Amount)
			}
		}
	}
	return sum, nil
}

func (r *lockRepo) ListActive(_ context.Context, equivalent string, now time.Time) ([]model.PrepareLock, error) {
	var out []model.PrepareLock
	for _, l := range r.d.locks {
		if l.Expired(now) {
			continue
		}
		if equivalent != "" {
			touches := false
			for _, f := range l.Effects.Flows {
				if f.Equivalent == equivalent {
					touches = true
					break
				}
			}
			if !touches {
				continue
			}
		}
		out = append(out, *l)
	}
	sort.Slice(out, func(i, j int) bool {
		return strings.Compare(out[i].ID.String(), out[j].ID.String()) < 0
	})
	return out, nil
}

func (r *lockRepo) ExpiredTxIDs(_ context.Context, now time.Time) ([]uuid.UUID, error) {
	seen := make(map[uuid.UUID]bool)
	var out []uuid.UUID
	for _, l := range r.d.locks {
		if l.Expired(now) && !seen[l.TxID] {
			seen[l.TxID] = true
			out = append(out, l.TxID)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out, nil
}

func (r *lockRepo) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	var n int64
	for id, l := range r.d.locks {
		if l.Expired(now) {
			delete(r.d.locks, id)
			n++
		}
	}
	return n, nil
}

type transactionRepo struct {
	d *data
}

func (r *transactionRepo) Get(_ context.Context, txID uuid.UUID) (*model.Transaction, error) {
	t, ok := r.d.transactions[txID]
	if !ok {
		return nil, store.ErrNotFound
	}
	c := *t
	return &c, nil
}

func (r *transactionRepo) GetForUpdate(ctx context.Context, txID uuid.UUID) (*model.Transaction, error) {
	return r.Get(ctx, txID)
}

func (r *transactionRepo) Create(_ context.Context, t *model.Transaction) error {
	if _, exists := r.d.transactions[t.TxID]; exists {
		return store.ErrDuplicate
	}
	if t.IdempotencyKey != "" {
		for _, other := range r.d.transactions {
			if other.Initiator == t.Initiator && other.Type == t.Type &&
				other.IdempotencyKey == t.IdempotencyKey {
				return store.ErrDuplicate
			}
		}
	}
	c := *t
	now := time.Now().UTC()
	c.CreatedAt = now
	c.UpdatedAt = now
	r.d.transactions[t.TxID] = &c
	return nil
}

func (r *transactionRepo) SetState(_ context.Context, txID uuid.UUID, state model.TxState) error {
	t, ok := r.d.transactions[txID]
	if !ok {
		return store.ErrNotFound
	}
	t.State = state
	t.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *transactionRepo) SetError(_ context.Context, txID uuid.UUID, state model.TxState, e *model.TxError) error {
	t, ok := r.d.transactions[txID]
	if !ok {
		return store.ErrNotFound
	}
	t.State = state
	t.Error = e
	t.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *transactionRepo) FindByIdempotency(_ context.Context, initiator string, typ model.TxType, key string) (*model.Transaction, error) {
	for _, t := range r.d.transactions {
		if t.Initiator == initiator && t.Type == typ && t.IdempotencyKey == key {
			c := *t
			return &c, nil
		}
	}
	return nil, store.ErrNotFound
}

func (r *transactionRepo) ListStale(_ context.Context, typ model.TxType, states []model.TxState, cutoff time.Time) ([]uuid.UUID, error) {
	inState := make(map[model.TxState]bool, len(states))
	for _, s := range states {
		inState[s] = true
	}
	type stale struct {
		id uuid.UUID
		at time.Time
	}
	var hits []stale
	for _, t := range r.d.transactions {
		if t.Type == typ && inState[t.State] && t.UpdatedAt.Before(cutoff) {
			hits = append(hits, stale{t.TxID, t.UpdatedAt})
		}
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].at.Before(hits[j].at) })
	out := make([]uuid.UUID, len(hits))
	for i, h := range hits {
		out[i] = h.id
	}
	return out, nil
}

func (r *transactionRepo) ListPayments(_ context.Context, f store.PaymentFilter) ([]model.Transaction, error) {
	field := "from"
	if f.Direction == store.DirectionReceived {
		field = "to"
	}
	var out []model.Transaction
	for _, t := range r.d.transactions {
		if t.Type != model.TxPayment {
			continue
		}
		var payload model.PaymentPayload
		if err := decodePayload(t.Payload, &payload); err != nil {
			continue
		}
		who := payload.From
		if field == "to" {
			who = payload.To
		}
		if who != f.Participant {
			continue
		}
		if f.Equivalent != "" && payload.Equivalent != f.Equivalent {
			continue
		}
		if f.FromDate != nil && t.CreatedAt.Before(*f.FromDate) {
			continue
		}
		out = append(out, *t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	limit := f.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	if f.Offset >= len(out) {
		return nil, nil
	}
	out = out[f.Offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type auditRepo struct {
	d *data
}

func (r *auditRepo) AppendAdmin(_ context.Context, entry *model.AuditLog) error {
	r.d.adminAudit = append(r.d.adminAudit, *entry)
	return nil
}

func (r *auditRepo) AppendIntegrity(_ context.Context, entry *model.IntegrityAuditLog) error {
	r.d.integrityAudit = append(r.d.integrityAudit, *entry)
	return nil
}

func (r *auditRepo) ListIntegrity(_ context.Context, f store.IntegrityFilter) ([]model.IntegrityAuditLog, error) {
	var out []model.IntegrityAuditLog
	for i := len(r.d.integrityAudit) - 1; i >= 0; i-- {
		e := r.d.integrityAudit[i]
		if f.Equivalent != "" && e.Equivalent != f.Equivalent {
			continue
		}
		if f.Operation != "" && e.Operation != f.Operation {
			continue
		}
		out = append(out, e)
	}
	limit := f.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	if f.Offset >= len(out) {
		return nil, nil
	}
	out = out[f.Offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
