package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/slawa19/GEOv0-sub001/internal/core/model"
	"github.com/slawa19/GEOv0-sub001/internal/core/store"
)

type auditRepo struct {
	tx pgx.Tx
}

func (r *auditRepo) AppendAdmin(ctx context.Context, entry *model.AuditLog) error {
	_, err := r.tx.Exec(ctx,
		`INSERT INTO audit_log (id, ts, actor, action, object, before_state, after_state, correlation_id)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		entry.ID, entry.Timestamp, entry.Actor, entry.Action, entry.Object,
		nullableJSON(entry.BeforeState), nullableJSON(entry.AfterState), entry.CorrelationID)
	return mapError(err)
}

func nullableJSON(raw []byte) any {
	if len(raw) == 0 {
		return nil
	}
	return raw
}

func (r *auditRepo) AppendIntegrity(ctx context.Context, entry *model.IntegrityAuditLog) error {
	_, err := r.tx.Exec(ctx,
		`INSERT INTO integrity_audit_log
		    (id, ts, operation, tx_id, equivalent, checksum_before, checksum_after,
		     participants, invariants_checked, verification_passed, error_details)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		entry.ID, entry.Timestamp, entry.Operation, entry.TxID, entry.Equivalent,
		entry.ChecksumBefore, entry.ChecksumAfter, entry.Participants,
		entry.InvariantsChecked, entry.VerificationPassed, entry.ErrorDetails)
	return mapError(err)
}

func (r *auditRepo) ListIntegrity(ctx context.Context, f store.IntegrityFilter) ([]model.IntegrityAuditLog, error) {
	limit := f.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := r.tx.Query(ctx,
		`SELECT id, ts, operation, tx_id, equivalent, checksum_before, checksum_after,
		        participants, invariants_checked, verification_passed, error_details
		   FROM integrity_audit_log
		  WHERE ($1 = '' OR equivalent = $1)
		    AND ($2 = '' OR operation = $2)
		  ORDER BY ts DESC
		  LIMIT $3 OFFSET $4`,
		f.Equivalent, string(f.Operation), limit, f.Offset)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var out []model.IntegrityAuditLog
	for rows.Next() {
		var e model.IntegrityAuditLog
		if err := rows.Scan(&e.ID, &e.Timestamp, &e.Operation, &e.TxID, &e.Equivalent,
			&e.ChecksumBefore, &e.ChecksumAfter, &e.Participants,
			&e.InvariantsChecked, &e.VerificationPassed, &e.ErrorDetails); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
