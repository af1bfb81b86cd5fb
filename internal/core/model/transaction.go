package model

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// TxType classifies a durable ledger transaction.
type TxType string

const (
	TxPayment         TxType = "PAYMENT"
	TxClearing        TxType = "CLEARING"
	TxTrustLineOpen   TxType = "TRUSTLINE_OPEN"
	TxTrustLineUpdate TxType = "TRUSTLINE_UPDATE"
	TxTrustLineFreeze TxType = "TRUSTLINE_FREEZE"
	TxTrustLineClose  TxType = "TRUSTLINE_CLOSE"
	TxRepair          TxType = "REPAIR"
)

// Valid reports whether t is a defined transaction type.
func (t TxType) Valid() bool {
	switch t {
	case TxPayment, TxClearing, TxTrustLineOpen, TxTrustLineUpdate,
		TxTrustLineFreeze, TxTrustLineClose, TxRepair:
		return true
	}
	return false
}

// TxState is the lifecycle state of a transaction. COMMITTED, ABORTED
// and REJECTED are terminal; COMMITTED never transitions to ABORTED.
type TxState string

const (
	TxNew               TxState = "NEW"
	TxRouted            TxState = "ROUTED"
	TxPrepareInProgress TxState = "PREPARE_IN_PROGRESS"
	TxPrepared          TxState = "PREPARED"
	TxProposed          TxState = "PROPOSED"
	TxWaiting           TxState = "WAITING"
	TxCommitted         TxState = "COMMITTED"
	TxAborted           TxState = "ABORTED"
	TxRejected          TxState = "REJECTED"
)

// Valid reports whether s is a defined transaction state.
func (s TxState) Valid() bool {
	switch s {
	case TxNew, TxRouted, TxPrepareInProgress, TxPrepared, TxProposed,
		TxWaiting, TxCommitted, TxAborted, TxRejected:
		return true
	}
	return false
}

// Terminal reports whether the state admits no further transitions.
func (s TxState) Terminal() bool {
	switch s {
	case TxCommitted, TxAborted, TxRejected:
		return true
	}
	return false
}

// ActiveStates are the non-terminal states the recovery loop scans for
// stuck payment transactions.
func ActiveStates() []TxState {
	return []TxState{TxNew, TxRouted, TxPrepareInProgress, TxPrepared, TxProposed, TxWaiting}
}

// ParseTxState maps a stored string to the closed enum.
func ParseTxState(s string) (TxState, error) {
	ts := TxState(s)
	if !ts.Valid() {
		return "", fmt.Errorf("unknown transaction state %q", s)
	}
	return ts, nil
}

// TxError is the stable error object persisted on aborted transactions.
type TxError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// Transaction is the durable record of any mutating ledger operation.
type Transaction struct {
	TxID           uuid.UUID
	Type           TxType
	Initiator      string
	IdempotencyKey string
	Payload        json.RawMessage
	State          TxState
	Error          *TxError
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// CanTransitionTo enforces the transaction lifecycle: forward progress
// through the 2PC states, abort from any non-terminal state, and no way
// back out of COMMITTED.
func (t *Transaction) CanTransitionTo(next TxState) bool {
	if t.State == next {
		return true
	}
	if t.State.Terminal() {
		return false
	}
	switch next {
	case TxAborted, TxRejected:
		return true
	case TxPrepareInProgress:
		return t.State == TxNew || t.State == TxRouted
	case TxPrepared:
		return t.State == TxNew || t.State == TxRouted || t.State == TxPrepareInProgress
	case TxCommitted:
		return t.State == TxPrepared
	case TxRouted:
		return t.State == TxNew
	case TxProposed, TxWaiting:
		return t.State == TxNew || t.State == TxRouted
	}
	return false
}

// PaymentPayload is the canonical payload of a PAYMENT transaction.
type PaymentPayload struct {
	From       string       `json:"from"`
	To         string       `json:"to"`
	Equivalent string       `json:"equivalent"`
	Amount     string       `json:"amount"`
	Routes     []RouteEntry `json:"routes,omitempty"`
}

// RouteEntry is one route of a (possibly multipath) payment.
type RouteEntry struct {
	Path   []string `json:"path"`
	Amount string   `json:"amount"`
}

// ClearingPayload is the canonical payload of a CLEARING transaction.
type ClearingPayload struct {
	Equivalent string         `json:"equivalent"`
	Amount     string         `json:"amount"`
	Edges      []ClearingEdge `json:"edges"`
	Cycle      []string       `json:"cycle"`
}

// ClearingEdge records one debt edge of a cleared cycle.
type ClearingEdge struct {
	DebtID   uuid.UUID `json:"debt_id"`
	Debtor   string    `json:"debtor"`
	Creditor string    `json:"creditor"`
	Amount   string    `json:"amount"`
}
