// Package model holds the persistent entities of the mutual-credit
// ledger: equivalents, participants, trustlines, debts, transactions and
// prepare locks, together with their closed state enums. All monetary
// amounts are fixed-point decimals; the persistence layer maps enums to
// and from their wire strings at the boundary.
package model

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Equivalent is a unit of account, identified by an uppercase code.
type Equivalent struct {
	ID        uuid.UUID
	Code      string
	Precision int32
	Active    bool
}

// MaxPrecision bounds per-equivalent fixed-point precision.
const MaxPrecision = 18

// DefaultPrecision applies when an equivalent is created without one.
const DefaultPrecision = 2

// Validate checks the code and precision constraints.
func (e *Equivalent) Validate() error {
	if e.Code == "" {
		return fmt.Errorf("equivalent code is required")
	}
	if e.Code != strings.ToUpper(e.Code) {
		return fmt.Errorf("equivalent code must be uppercase: %q", e.Code)
	}
	if e.Precision < 0 || e.Precision > MaxPrecision {
		return fmt.Errorf("equivalent precision out of range [0..%d]: %d", MaxPrecision, e.Precision)
	}
	return nil
}

// Quantize rounds an amount to this equivalent's precision.
func (e *Equivalent) Quantize(amount decimal.Decimal) decimal.Decimal {
	return amount.Round(e.Precision)
}
