package model

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TrustLineStatus is the lifecycle state of a trustline.
type TrustLineStatus string

const (
	TrustLineActive TrustLineStatus = "active"
	TrustLineFrozen TrustLineStatus = "frozen"
	TrustLineClosed TrustLineStatus = "closed"
)

// Valid reports whether s is a defined trustline status.
func (s TrustLineStatus) Valid() bool {
	switch s {
	case TrustLineActive, TrustLineFrozen, TrustLineClosed:
		return true
	}
	return false
}

// TrustLinePolicy is the per-line policy bag. AutoClearing defaults to
// true: a nil pointer means consent.
type TrustLinePolicy struct {
	AutoClearing      *bool    `json:"auto_clearing,omitempty"`
	CanBeIntermediate *bool    `json:"can_be_intermediate,omitempty"`
	Blocklist         []string `json:"blocklist,omitempty"`
}

// AllowsClearing reports whether debts controlled by this line may be
// reduced by the clearing engine.
func (p TrustLinePolicy) AllowsClearing() bool {
	return p.AutoClearing == nil || *p.AutoClearing
}

// AllowsIntermediate reports whether the creditor consents to routing
// payments through this line.
func (p TrustLinePolicy) AllowsIntermediate() bool {
	return p.CanBeIntermediate == nil || *p.CanBeIntermediate
}

// Blocks reports whether pid is on the per-line blocklist.
func (p TrustLinePolicy) Blocks(pid string) bool {
	for _, b := range p.Blocklist {
		if b == pid {
			return true
		}
	}
	return false
}

// TrustLine is directed credit granted by From to To in one equivalent.
// It caps the debt To may owe From, which means it enables payment flows
// in the To→From direction.
type TrustLine struct {
	ID         uuid.UUID
	From       string // creditor PID
	To         string // debtor PID
	Equivalent string
	Limit      decimal.Decimal
	Status     TrustLineStatus
	Policy     TrustLinePolicy
	Version    int64
}

// Validate checks structural constraints on the line.
func (t *TrustLine) Validate() error {
	if t.From == "" || t.To == "" {
		return fmt.Errorf("trustline endpoints are required")
	}
	if t.From == t.To {
		return fmt.Errorf("trustline cannot reference itself: %s", t.From)
	}
	if t.Equivalent == "" {
		return fmt.Errorf("trustline equivalent is required")
	}
	if t.Limit.IsNegative() {
		return fmt.Errorf("trustline limit must be non-negative: %s", t.Limit)
	}
	if !t.Status.Valid() {
		return fmt.Errorf("unknown trustline status %q", t.Status)
	}
	return nil
}

// EffectiveLimit is the limit the invariant checker credits this line
// with: the stored limit while active, zero otherwise.
func (t *TrustLine) EffectiveLimit() decimal.Decimal {
	if t == nil || t.Status != TrustLineActive {
		return decimal.Zero
	}
	return t.Limit
}
