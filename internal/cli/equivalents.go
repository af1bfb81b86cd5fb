package cli

import (
	"context"

	"github.com/slawa19/GEOv0-sub001/internal/core/store"
)

// activeEquivalents lists the codes of active units of account.
func activeEquivalents(ctx context.Context, st store.Store) ([]string, error) {
	var codes []string
	err := st.RunReadOnly(ctx, func(ctx context.Context, tx store.Tx) error {
		all, err := tx.Equivalents().List(ctx)
		if err != nil {
			return err
		}
		for _, eq := range all {
			if eq.Active {
				codes = append(codes, eq.Code)
			}
		}
		return nil
	})
	return codes, err
}
