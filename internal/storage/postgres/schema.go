package postgres

import (
	"context"
	"fmt"
)

// initSchema creates the relational schema with the uniqueness and check
// constraints the engines rely on. Amounts are NUMERIC(38,18): wide
// enough for any supported equivalent precision, exact by construction.
func (s *Store) initSchema(ctx context.Context) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS equivalents (
			id UUID PRIMARY KEY,
			code VARCHAR(16) NOT NULL UNIQUE CHECK (code = upper(code)),
			precision INTEGER NOT NULL DEFAULT 2 CHECK (precision BETWEEN 0 AND 18),
			active BOOLEAN NOT NULL DEFAULT TRUE
		)`,

		`CREATE TABLE IF NOT EXISTS participants (
			id UUID PRIMARY KEY,
			pid TEXT NOT NULL UNIQUE,
			display_name TEXT NOT NULL DEFAULT '',
			public_key BYTEA NOT NULL UNIQUE,
			type TEXT NOT NULL CHECK (type IN ('person', 'business', 'hub')),
			status TEXT NOT NULL DEFAULT 'active'
				CHECK (status IN ('active', 'suspended', 'left', 'deleted')),
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,

		`CREATE TABLE IF NOT EXISTS trustlines (
			id UUID PRIMARY KEY,
			from_pid TEXT NOT NULL REFERENCES participants(pid),
			to_pid TEXT NOT NULL REFERENCES participants(pid),
			equivalent VARCHAR(16) NOT NULL REFERENCES equivalents(code),
			limit_amount NUMERIC(38,18) NOT NULL CHECK (limit_amount >= 0),
			status TEXT NOT NULL DEFAULT 'active'
				CHECK (status IN ('active', 'frozen', 'closed')),
			policy JSONB NOT NULL DEFAULT '{}',
			version BIGINT NOT NULL DEFAULT 1,
			UNIQUE (from_pid, to_pid, equivalent),
			CHECK (from_pid <> to_pid)
		)`,

		`CREATE TABLE IF NOT EXISTS debts (
			id UUID PRIMARY KEY,
			debtor TEXT NOT NULL REFERENCES participants(pid),
			creditor TEXT NOT NULL REFERENCES participants(pid),
			equivalent VARCHAR(16) NOT NULL REFERENCES equivalents(code),
			amount NUMERIC(38,18) NOT NULL CHECK (amount >= 0),
			version BIGINT NOT NULL DEFAULT 1,
			UNIQUE (debtor, creditor, equivalent),
			CHECK (debtor <> creditor)
		)`,

		`CREATE TABLE IF NOT EXISTS transactions (
			tx_id UUID PRIMARY KEY,
			type TEXT NOT NULL CHECK (type IN (
				'PAYMENT', 'CLEARING', 'TRUSTLINE_OPEN', 'TRUSTLINE_UPDATE',
				'TRUSTLINE_FREEZE', 'TRUSTLINE_CLOSE', 'REPAIR')),
			initiator TEXT NOT NULL,
			idempotency_key TEXT,
			payload JSONB NOT NULL DEFAULT '{}',
			state TEXT NOT NULL DEFAULT 'NEW' CHECK (state IN (
				'NEW', 'ROUTED', 'PREPARE_IN_PROGRESS', 'PREPARED', 'PROPOSED',
				'WAITING', 'COMMITTED', 'ABORTED', 'REJECTED')),
			error JSONB,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			UNIQUE (initiator, type, idempotency_key)
		)`,

		`CREATE TABLE IF NOT EXISTS prepare_locks (
			id UUID PRIMARY KEY,
			tx_id UUID NOT NULL REFERENCES transactions(tx_id) ON DELETE CASCADE,
			participant TEXT NOT NULL,
			effects JSONB NOT NULL,
			expires_at TIMESTAMPTZ NOT NULL,
			UNIQUE (tx_id, participant)
		)`,

		`CREATE TABLE IF NOT EXISTS audit_log (
			id UUID PRIMARY KEY,
			ts TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			actor TEXT NOT NULL,
			action TEXT NOT NULL,
			object TEXT NOT NULL,
			before_state JSONB,
			after_state JSONB,
			correlation_id TEXT NOT NULL DEFAULT ''
		)`,

		`CREATE TABLE IF NOT EXISTS integrity_audit_log (
			id UUID PRIMARY KEY,
			ts TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			operation TEXT NOT NULL CHECK (operation IN ('PAYMENT', 'CLEARING', 'VERIFY', 'REPAIR')),
			tx_id UUID,
			equivalent VARCHAR(16) NOT NULL,
			checksum_before TEXT NOT NULL,
			checksum_after TEXT NOT NULL,
			participants TEXT[] NOT NULL DEFAULT '{}',
			invariants_checked TEXT[] NOT NULL DEFAULT '{}',
			verification_passed BOOLEAN NOT NULL,
			error_details TEXT NOT NULL DEFAULT ''
		)`,

		`CREATE INDEX IF NOT EXISTS idx_debts_equivalent ON debts(equivalent)`,
		`CREATE INDEX IF NOT EXISTS idx_debts_creditor ON debts(creditor, equivalent)`,
		`CREATE INDEX IF NOT EXISTS idx_trustlines_equivalent ON trustlines(equivalent)`,
		`CREATE INDEX IF NOT EXISTS idx_locks_expiry ON prepare_locks(expires_at)`,
		`CREATE INDEX IF NOT EXISTS idx_tx_state ON transactions(type, state, updated_at)`,
		`CREATE INDEX IF NOT EXISTS idx_tx_initiator ON transactions(initiator, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_integrity_audit_equivalent ON integrity_audit_log(equivalent, ts)`,
	}

	for _, q := range queries {
		if _, err := s.pool.Exec(ctx, q); err != nil {
			return fmt.Errorf("postgres: schema: %w", err)
		}
	}
	return nil
}
