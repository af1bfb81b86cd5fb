// Package store defines the persistence ports consumed by the payment,
// clearing, integrity and recovery engines. Two implementations exist:
// internal/storage/postgres (pgx, the authoritative store) and
// internal/storage/memstore (hermetic in-memory store for tests and
// standalone mode). Engines are written against these interfaces only.
package store

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/slawa19/GEOv0-sub001/internal/core/model"
)

// Sentinel errors shared by all implementations.
var (
	ErrNotFound  = errors.New("row not found")
	ErrDuplicate = errors.New("unique constraint violated")
	// ErrStale signals an optimistic-lock conflict: the row version read
	// earlier no longer matches. Callers retry the enclosing savepoint.
	ErrStale = errors.New("stale row version")
)

// Store opens transactional units of work against the backing database.
type Store interface {
	// Run executes fn inside a serializable transaction and retries the
	// entire unit of work (reads, writes, commit) on serialization
	// failure or deadlock, with bounded exponential backoff. fn must be
	// safe to re-run from scratch.
	Run(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	// RunReadOnly executes fn in a read-only transaction without the
	// retry wrapper.
	RunReadOnly(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	// Close releases the underlying connections.
	Close()
}

// Tx is one open transaction. All repository handles share its
// visibility; writes are applied in program order.
type Tx interface {
	Equivalents() EquivalentRepo
	Participants() ParticipantRepo
	TrustLines() TrustLineRepo
	Debts() DebtRepo
	Locks() LockRepo
	Transactions() TransactionRepo
	Audit() AuditRepo

	// AdvisoryLock acquires a transaction-scoped advisory lock for key,
	// blocking until granted. Callers must acquire keys in ascending
	// order to stay deadlock-free. Implementations without advisory
	// locking may treat this as a no-op.
	AdvisoryLock(ctx context.Context, key int64) error

	// Savepoint runs fn inside a nested savepoint. On error the
	// savepoint is rolled back and the outer transaction stays usable.
	Savepoint(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// EquivalentRepo persists units of account.
type EquivalentRepo interface {
	Get(ctx context.Context, code string) (*model.Equivalent, error)
	List(ctx context.Context) ([]model.Equivalent, error)
	Create(ctx context.Context, eq *model.Equivalent) error
}

// ParticipantRepo persists identities.
type ParticipantRepo interface {
	GetByPID(ctx context.Context, pid string) (*model.Participant, error)
	// Missing returns the subset of pids that do not resolve to a row.
	Missing(ctx context.Context, pids []string) ([]string, error)
	Create(ctx context.Context, p *model.Participant) error
	UpdateStatus(ctx context.Context, pid string, status model.ParticipantStatus) error
}

// TrustLineRepo persists directed credit lines.
type TrustLineRepo interface {
	Get(ctx context.Context, from, to, equivalent string) (*model.TrustLine, error)
	// GetActive returns the line only when its status is active;
	// otherwise ErrNotFound. The capacity formula treats a missing or
	// non-active line as limit zero.
	GetActive(ctx context.Context, from, to, equivalent string) (*model.TrustLine, error)
	Create(ctx context.Context, tl *model.TrustLine) error
	// Update writes the row iff the version matches, then bumps it.
	Update(ctx context.Context, tl *model.TrustLine) error
	// ListByEquivalent returns lines ordered by (from, to) for the
	// deterministic integrity checksum.
	ListByEquivalent(ctx context.Context, equivalent string) ([]model.TrustLine, error)
}

// TrustLimitViolation is one debt exceeding its controlling line.
type TrustLimitViolation struct {
	Debtor     string
	Creditor   string
	Equivalent string
	Debt       decimal.Decimal
	Limit      decimal.Decimal
}

// SymmetryViolation is one pair with strictly positive debt both ways.
type SymmetryViolation struct {
	A          string
	B          string
	Equivalent string
	AtoB       decimal.Decimal
	BtoA       decimal.Decimal
}

// DebtRepo persists IOU edges and answers the relational invariant and
// cycle queries.
type DebtRepo interface {
	Get(ctx context.Context, debtor, creditor, equivalent string) (*model.Debt, error)
	// GetForUpdate takes a row-level lock on the debt before returning it.
	GetForUpdate(ctx context.Context, debtor, creditor, equivalent string) (*model.Debt, error)
	Create(ctx context.Context, d *model.Debt) error
	// Update writes amount iff the version matches, then bumps it.
	// Returns ErrStale on version mismatch.
	Update(ctx context.Context, d *model.Debt) error
	// Delete removes the row iff the version matches.
	Delete(ctx context.Context, id uuid.UUID, version int64) error
	// ListByEquivalent returns debts ordered by (debtor, creditor) for
	// the deterministic integrity checksum.
	ListByEquivalent(ctx context.Context, equivalent string) ([]model.Debt, error)
	// ListMutual returns every unordered pair holding debt in both
	// directions, for the repair surface.
	ListMutual(ctx context.Context) ([]SymmetryViolation, error)

	// NetPositions returns credits − debts per participant for one
	// equivalent (or all when equivalent is empty), omitting zeros.
	NetPositions(ctx context.Context, equivalent string) (map[string]decimal.Decimal, error)
	// NetPosition returns credits − debts for one participant.
	NetPosition(ctx context.Context, participant, equivalent string) (decimal.Decimal, error)

	// TrustLimitViolations joins debts to their controlling active
	// trustline (creditor→debtor) and returns rows where the debt
	// exceeds coalesce(limit, 0). pairs, when non-empty, restricts the
	// check to those unordered endpoint pairs.
	TrustLimitViolations(ctx context.Context, equivalent string, pairs []model.PairKey) ([]TrustLimitViolation, error)
	// SymmetryViolations returns pairs with positive debt both ways,
	// with the same pair scoping.
	SymmetryViolations(ctx context.Context, equivalent string, pairs []model.PairKey) ([]SymmetryViolation, error)

	// FindCycles3 and FindCycles4 are the set-based cycle detectors:
	// self-joins over the debt table returning simple cycles of length
	// 3 and 4 with all edge amounts positive.
	FindCycles3(ctx context.Context, equivalent string) ([][]model.Debt, error)
	FindCycles4(ctx context.Context, equivalent string) ([][]model.Debt, error)
}

// LockRepo persists 2PC capacity reservations.
type LockRepo interface {
	GetByTx(ctx context.Context, txID uuid.UUID) ([]model.PrepareLock, error)
	Create(ctx context.Context, lock *model.PrepareLock) error
	DeleteByTx(ctx context.Context, txID uuid.UUID) error
	// Reserved sums the amounts other active locks (expires_at > now,
	// tx_id ≠ exclude) hold on the directed segment.
	Reserved(ctx context.Context, from, to, equivalent string, exclude uuid.UUID, now time.Time) (decimal.Decimal, error)
	// ListActive returns unexpired locks, optionally scoped to one
	// equivalent via their flow entries.
	ListActive(ctx context.Context, equivalent string, now time.Time) ([]model.PrepareLock, error)
	// ExpiredTxIDs returns the distinct transactions owning at least one
	// expired lock.
	ExpiredTxIDs(ctx context.Context, now time.Time) ([]uuid.UUID, error)
	// DeleteExpired removes residual expired rows.
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// PaymentDirection selects sent or received payments in listings.
type PaymentDirection string

const (
	DirectionSent     PaymentDirection = "sent"
	DirectionReceived PaymentDirection = "received"
)

// PaymentFilter scopes payment listings.
type PaymentFilter struct {
	Participant string
	Direction   PaymentDirection
	Equivalent  string
	FromDate    *time.Time
	Limit       int
	Offset      int
}

// TransactionRepo persists durable operation records.
type TransactionRepo interface {
	Get(ctx context.Context, txID uuid.UUID) (*model.Transaction, error)
	GetForUpdate(ctx context.Context, txID uuid.UUID) (*model.Transaction, error)
	Create(ctx context.Context, t *model.Transaction) error
	// SetState transitions the row and refreshes updated_at.
	SetState(ctx context.Context, txID uuid.UUID, state model.TxState) error
	// SetError persists the stable error object together with the state.
	SetError(ctx context.Context, txID uuid.UUID, state model.TxState, e *model.TxError) error
	// FindByIdempotency resolves (initiator, type, idempotency_key).
	FindByIdempotency(ctx context.Context, initiator string, typ model.TxType, key string) (*model.Transaction, error)
	// ListStale returns transactions of the given type in any of the
	// states whose updated_at is older than cutoff.
	ListStale(ctx context.Context, typ model.TxType, states []model.TxState, cutoff time.Time) ([]uuid.UUID, error)
	ListPayments(ctx context.Context, f PaymentFilter) ([]model.Transaction, error)
}

// IntegrityFilter scopes integrity audit listings.
type IntegrityFilter struct {
	Equivalent string
	Operation  model.IntegrityOperation
	Limit      int
	Offset     int
}

// AuditRepo persists the append-only audit trails.
type AuditRepo interface {
	AppendAdmin(ctx context.Context, entry *model.AuditLog) error
	AppendIntegrity(ctx context.Context, entry *model.IntegrityAuditLog) error
	ListIntegrity(ctx context.Context, f IntegrityFilter) ([]model.IntegrityAuditLog, error)
}

// SegmentLockKey derives the deterministic signed 64-bit advisory lock
// key for a directed segment. Concurrent prepares touching the same
// (from, to, equivalent) edge serialize on this key; callers sort keys
// ascending before acquiring.
func SegmentLockKey(equivalent, from, to string) int64 {
	h := sha256.New()
	h.Write([]byte(equivalent))
	h.Write([]byte{0})
	h.Write([]byte(from))
	h.Write([]byte{0})
	h.Write([]byte(to))
	sum := h.Sum(nil)
	return int64(binary.BigEndian.Uint64(sum[:8]))
}
