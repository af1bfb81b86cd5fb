// Package integrity produces deterministic per-equivalent state
// checksums, writes the tamper-evidence audit trail for every mutating
// operation, and hosts the administrative repair surface.
package integrity

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"

	"github.com/slawa19/GEOv0-sub001/internal/core/store"
)

// Checksum computes the canonical SHA-256 over one equivalent's debts
// and trustlines. Rows are enumerated in a fixed order and fed through
// a fixed textual encoding, so two stores with identical state always
// produce identical checksums:
//
//	debt|<debtor>|<creditor>|<amount>\n
//	trustline|<from>|<to>|<limit>|<status>\n
func Checksum(ctx context.Context, tx store.Tx, equivalent string) (string, error) {
	h := sha256.New()

	debts, err := tx.Debts().ListByEquivalent(ctx, equivalent)
	if err != nil {
		return "", err
	}
	for _, d := range debts {
		writeRow(h, "debt|%s|%s|%s\n", d.Debtor, d.Creditor, d.Amount.String())
	}

	lines, err := tx.TrustLines().ListByEquivalent(ctx, equivalent)
	if err != nil {
		return "", err
	}
	for _, tl := range lines {
		writeRow(h, "trustline|%s|%s|%s|%s\n", tl.From, tl.To, tl.Limit.String(), string(tl.Status))
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}

func writeRow(w io.Writer, format string, args ...any) {
	fmt.Fprintf(w, format, args...)
}
