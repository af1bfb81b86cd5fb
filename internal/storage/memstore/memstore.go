// Package memstore is an in-memory implementation of the store ports.
// It backs engine tests and the standalone demo mode. A single mutex
// serializes transactions, so serialization failures cannot occur and
// Run never needs to retry; optimistic version checks and uniqueness
// constraints behave exactly as in the Postgres store.
package memstore

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/slawa19/GEOv0-sub001/internal/core/model"
	"github.com/slawa19/GEOv0-sub001/internal/core/store"
)

type tlKey struct {
	from, to, equivalent string
}

type debtKey struct {
	debtor, creditor, equivalent string
}

// data is the whole ledger state. Transactions operate on a deep copy
// and publish it on commit, which gives rollback for free.
type data struct {
	equivalents    map[string]*model.Equivalent
	participants   map[string]*model.Participant
	trustlines     map[tlKey]*model.TrustLine
	debts          map[debtKey]*model.Debt
	locks          map[uuid.UUID]*model.PrepareLock
	transactions   map[uuid.UUID]*model.Transaction
	adminAudit     []model.AuditLog
	integrityAudit []model.IntegrityAuditLog
}

func newData() *data {
	return &data{
		equivalents:  make(map[string]*model.Equivalent),
		participants: make(map[string]*model.Participant),
		trustlines:   make(map[tlKey]*model.TrustLine),
		debts:        make(map[debtKey]*model.Debt),
		locks:        make(map[uuid.UUID]*model.PrepareLock),
		transactions: make(map[uuid.UUID]*model.Transaction),
	}
}

func (d *data) clone() *data {
	out := newData()
	for k, v := range d.equivalents {
		c := *v
		out.equivalents[k] = &c
	}
	for k, v := range d.participants {
		c := *v
		out.participants[k] = &c
	}
	for k, v := range d.trustlines {
		c := *v
		c.Policy.Blocklist = append([]string(nil), v.Policy.Blocklist...)
		out.trustlines[k] = &c
	}
	for k, v := range d.debts {
		c := *v
		out.debts[k] = &c
	}
	for k, v := range d.locks {
		c := *v
		c.Effects.Flows = append([]model.Flow(nil), v.Effects.Flows...)
		out.locks[k] = &c
	}
	for k, v := range d.transactions {
		c := *v
		if v.Error != nil {
			e := *v.Error
			c.Error = &e
		}
		c.Payload = append([]byte(nil), v.Payload...)
		out.transactions[k] = &c
	}
	out.adminAudit = append([]model.AuditLog(nil), d.adminAudit...)
	out.integrityAudit = append([]model.IntegrityAuditLog(nil), d.integrityAudit...)
	return out
}

// Store is the in-memory store.
type Store struct {
	mu    sync.Mutex
	state *data
}

// New returns an empty in-memory store.
func New() *Store {
	return &Store{state: newData()}
}

// Run executes fn on a private copy of the state and publishes it on
// success. There is nothing to retry: the mutex is the serializer.
func (s *Store) Run(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	working := s.state.clone()
	if err := fn(ctx, &memTx{d: working}); err != nil {
		return err
	}
	s.state = working
	return nil
}

// RunReadOnly executes fn against a copy that is then discarded.
func (s *Store) RunReadOnly(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(ctx, &memTx{d: s.state.clone()})
}

// Close is a no-op.
func (s *Store) Close() {}

type memTx struct {
	d *data
}

func (t *memTx) Equivalents() store.EquivalentRepo   { return &equivalentRepo{d: t.d} }
func (t *memTx) Participants() store.ParticipantRepo { return &participantRepo{d: t.d} }
func (t *memTx) TrustLines() store.TrustLineRepo     { return &trustLineRepo{d: t.d} }
func (t *memTx) Debts() store.DebtRepo               { return &debtRepo{d: t.d} }
func (t *memTx) Locks() store.LockRepo               { return &lockRepo{d: t.d} }
func (t *memTx) Transactions() store.TransactionRepo { return &transactionRepo{d: t.d} }
func (t *memTx) Audit() store.AuditRepo              { return &auditRepo{d: t.d} }

// AdvisoryLock is a no-op: the store mutex already serializes writers.
func (t *memTx) AdvisoryLock(context.Context, int64) error { return nil }

// Savepoint snapshots the working state and restores it when fn fails.
func (t *memTx) Savepoint(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	saved := t.d.clone()
	if err := fn(ctx, t); err != nil {
		*t.d = *saved
		return err
	}
	return nil
}

var _ store.Store = (*Store)(nil)
var _ store.Tx = (*memTx)(nil)
