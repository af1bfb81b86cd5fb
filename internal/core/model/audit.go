package model

import (
	"time"

	"github.com/google/uuid"
)

// AuditLog is an append-only record of an administrative action.
type AuditLog struct {
	ID            uuid.UUID
	Timestamp     time.Time
	Actor         string
	Action        string
	Object        string
	BeforeState   []byte
	AfterState    []byte
	CorrelationID string
}

// IntegrityOperation classifies an integrity audit entry.
type IntegrityOperation string

const (
	IntegrityOpPayment  IntegrityOperation = "PAYMENT"
	IntegrityOpClearing IntegrityOperation = "CLEARING"
	IntegrityOpVerify   IntegrityOperation = "VERIFY"
	IntegrityOpRepair   IntegrityOperation = "REPAIR"
)

// IntegrityAuditLog is the tamper-evidence trail: one row per mutating
// operation per affected equivalent, carrying the state checksums on
// either side of the mutation.
type IntegrityAuditLog struct {
	ID                 uuid.UUID
	Timestamp          time.Time
	Operation          IntegrityOperation
	TxID               *uuid.UUID
	Equivalent         string
	ChecksumBefore     string
	ChecksumAfter      string
	Participants       []string
	InvariantsChecked  []string
	VerificationPassed bool
	ErrorDetails       string
}

// CheckpointStatus grades an integrity checkpoint.
type CheckpointStatus string

const (
	CheckpointHealthy  CheckpointStatus = "healthy"
	CheckpointWarning  CheckpointStatus = "warning"
	CheckpointCritical CheckpointStatus = "critical"
)

// InvariantsStatus summarizes the invariant suite at a checkpoint.
// Critical means zero-sum or trust-limit failed; warning means only
// symmetry failed; healthy otherwise.
type InvariantsStatus struct {
	Passed bool             `json:"passed"`
	Status CheckpointStatus `json:"status"`
	Checks map[string]bool  `json:"checks"`
	Alerts []string         `json:"alerts,omitempty"`
}

// IntegrityCheckpoint is a per-equivalent snapshot signature of store
// state paired with the invariant summary.
type IntegrityCheckpoint struct {
	Equivalent string
	Checksum   string
	Invariants InvariantsStatus
	TakenAt    time.Time
}
