package model

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Flow is one directed capacity use S→R recorded in a prepare lock and
// realized at commit.
type Flow struct {
	From       string          `json:"from"`
	To         string          `json:"to"`
	Amount     decimal.Decimal `json:"amount"`
	Equivalent string          `json:"equivalent"`
}

// Validate rejects malformed flows. Commit skips (never fails on)
// malformed flows, so this is only enforced at prepare time.
func (f Flow) Validate() error {
	if f.From == "" || f.To == "" {
		return fmt.Errorf("flow endpoints are required")
	}
	if f.From == f.To {
		return fmt.Errorf("flow cannot be a self-loop: %s", f.From)
	}
	if f.Equivalent == "" {
		return fmt.Errorf("flow equivalent is required")
	}
	if !f.Amount.IsPositive() {
		return fmt.Errorf("flow amount must be positive: %s", f.Amount)
	}
	return nil
}

// LockEffects is the JSON effects bag of a prepare lock.
type LockEffects struct {
	Flows []Flow `json:"flows"`
}

// PrepareLock is a capacity reservation created in the 2PC prepare phase.
// One row per (transaction, participant); all of a participant's outbound
// flows for the transaction are aggregated into a single row.
type PrepareLock struct {
	ID          uuid.UUID
	TxID        uuid.UUID
	Participant string
	Effects     LockEffects
	ExpiresAt   time.Time
}

// Expired reports whether the reservation lapsed at the given instant.
func (l *PrepareLock) Expired(now time.Time) bool {
	return !l.ExpiresAt.After(now)
}

// ParseEffects decodes a stored effects bag. Malformed flows inside an
// otherwise valid bag are dropped, not surfaced: a commit must never fail
// because of one bad flow entry.
func ParseEffects(raw []byte) (LockEffects, error) {
	var eff LockEffects
	if err := json.Unmarshal(raw, &eff); err != nil {
		return LockEffects{}, fmt.Errorf("malformed lock effects: %w", err)
	}
	kept := eff.Flows[:0]
	for _, f := range eff.Flows {
		if f.Validate() == nil {
			kept = append(kept, f)
		}
	}
	eff.Flows = kept
	return eff, nil
}
