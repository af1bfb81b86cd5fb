package model

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Debt is an outstanding IOU from Debtor to Creditor in one equivalent.
// Rows are materialized on first use, updated in place under the
// optimistic Version column, and deleted when the amount reaches zero.
type Debt struct {
	ID         uuid.UUID
	Debtor     string
	Creditor   string
	Equivalent string
	Amount     decimal.Decimal
	Version    int64
}

// Validate checks structural constraints on the debt.
func (d *Debt) Validate() error {
	if d.Debtor == "" || d.Creditor == "" {
		return fmt.Errorf("debt endpoints are required")
	}
	if d.Debtor == d.Creditor {
		return fmt.Errorf("debt cannot reference itself: %s", d.Debtor)
	}
	if d.Equivalent == "" {
		return fmt.Errorf("debt equivalent is required")
	}
	if d.Amount.IsNegative() {
		return fmt.Errorf("debt amount must be non-negative: %s", d.Amount)
	}
	return nil
}

// PairKey returns the unordered endpoint pair of this debt, used when
// scoping symmetry and trust-limit checks to the pairs a payment touched.
func (d *Debt) PairKey() PairKey {
	return NewPairKey(d.Debtor, d.Creditor)
}

// PairKey identifies an unordered (A, B) participant pair.
type PairKey struct {
	Lo, Hi string
}

// NewPairKey normalizes two PIDs into an unordered pair key.
func NewPairKey(a, b string) PairKey {
	if a > b {
		a, b = b, a
	}
	return PairKey{Lo: a, Hi: b}
}

// Contains reports whether pid is one of the pair's endpoints.
func (k PairKey) Contains(pid string) bool {
	return k.Lo == pid || k.Hi == pid
}

// Zero is a shared zero decimal, kept for call-site readability.
var Zero = decimal.Zero
