package clearing

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/slawa19/GEOv0-sub001/internal/core/errs"
	"github.com/slawa19/GEOv0-sub001/internal/core/integrity"
	"github.com/slawa19/GEOv0-sub001/internal/core/invariant"
	"github.com/slawa19/GEOv0-sub001/internal/core/model"
	"github.com/slawa19/GEOv0-sub001/internal/core/store"
)

func integrityChecksum(ctx context.Context, tx store.Tx, equivalent string) (string, error) {
	return integrity.Checksum(ctx, tx, equivalent)
}

func writeClearingAudit(ctx context.Context, tx store.Tx, log *zap.Logger, txID uuid.UUID, equivalent, before, after string, participants []string) {
	integrity.WriteAudit(ctx, tx, log, &model.IntegrityAuditLog{
		Operation:      model.IntegrityOpClearing,
		TxID:           &txID,
		Equivalent:     equivalent,
		ChecksumBefore: before,
		ChecksumAfter:  after,
		Participants:   participants,
		InvariantsChecked: []string{
			invariant.CheckNeutrality, invariant.CheckZeroSum,
		},
		VerificationPassed: true,
	})
}

func marshalPayload(p model.ClearingPayload) ([]byte, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return nil, errs.Internal("clearing payload encoding failed", err)
	}
	return raw, nil
}
