package integrity

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/slawa19/GEOv0-sub001/internal/core/errs"
	"github.com/slawa19/GEOv0-sub001/internal/core/invariant"
	"github.com/slawa19/GEOv0-sub001/internal/core/model"
	"github.com/slawa19/GEOv0-sub001/internal/core/store"
)

// Service is the integrity checkpoint and audit surface.
type Service struct {
	store   store.Store
	checker *invariant.Checker
	log     *zap.Logger
}

// NewService wires the integrity service.
func NewService(st store.Store, checker *invariant.Checker, log *zap.Logger) *Service {
	return &Service{store: st, checker: checker, log: log}
}

// Verify runs the full invariant suite and takes a checkpoint for one
// equivalent (or all active equivalents when empty). Each verification
// writes its own integrity audit row.
func (s *Service) Verify(ctx context.Context, equivalent string) ([]model.IntegrityCheckpoint, error) {
	var checkpoints []model.IntegrityCheckpoint
	err := s.store.Run(ctx, func(ctx context.Context, tx store.Tx) error {
		checkpoints = checkpoints[:0]
		codes, err := s.scopeCodes(ctx, tx, equivalent)
		if err != nil {
			return err
		}
		for _, code := range codes {
			cp, err := s.checkpoint(ctx, tx, code)
			if err != nil {
				return err
			}
			checkpoints = append(checkpoints, cp)

			WriteAudit(ctx, tx, s.log, &model.IntegrityAuditLog{
				Operation:          model.IntegrityOpVerify,
				Equivalent:         code,
				ChecksumBefore:     cp.Checksum,
				ChecksumAfter:      cp.Checksum,
				InvariantsChecked:  checkNames(cp.Invariants),
				VerificationPassed: cp.Invariants.Passed,
			})
		}
		return nil
	})
	return checkpoints, err
}

// Status is Verify without the audit write, for cheap polling.
func (s *Service) Status(ctx context.Context, equivalent string) ([]model.IntegrityCheckpoint, error) {
	var checkpoints []model.IntegrityCheckpoint
	err := s.store.RunReadOnly(ctx, func(ctx context.Context, tx store.Tx) error {
		codes, err := s.scopeCodes(ctx, tx, equivalent)
		if err != nil {
			return err
		}
		for _, code := range codes {
			cp, err := s.checkpoint(ctx, tx, code)
			if err != nil {
				return err
			}
			checkpoints = append(checkpoints, cp)
		}
		return nil
	})
	return checkpoints, err
}

// Checksum returns the current state checksum of one equivalent.
func (s *Service) Checksum(ctx context.Context, equivalent string) (string, error) {
	var sum string
	err := s.store.RunReadOnly(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		sum, err = Checksum(ctx, tx, equivalent)
		return err
	})
	return sum, err
}

// AuditLog pages through the integrity audit trail.
func (s *Service) AuditLog(ctx context.Context, f store.IntegrityFilter) ([]model.IntegrityAuditLog, error) {
	var entries []model.IntegrityAuditLog
	err := s.store.RunReadOnly(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		entries, err = tx.Audit().ListIntegrity(ctx, f)
		return err
	})
	return entries, err
}

func (s *Service) scopeCodes(ctx context.Context, tx store.Tx, equivalent string) ([]string, error) {
	if equivalent != "" {
		if _, err := tx.Equivalents().Get(ctx, equivalent); err != nil {
			return nil, errs.InvalidInput("unknown equivalent", map[string]any{"equivalent": equivalent})
		}
		return []string{equivalent}, nil
	}
	all, err := tx.Equivalents().List(ctx)
	if err != nil {
		return nil, err
	}
	codes := make([]string, 0, len(all))
	for _, eq := range all {
		if eq.Active {
			codes = append(codes, eq.Code)
		}
	}
	return codes, nil
}

func (s *Service) checkpoint(ctx context.Context, tx store.Tx, equivalent string) (model.IntegrityCheckpoint, error) {
	sum, err := Checksum(ctx, tx, equivalent)
	if err != nil {
		return model.IntegrityCheckpoint{}, err
	}
	status, err := s.checker.Summarize(ctx, tx, equivalent)
	if err != nil {
		return model.IntegrityCheckpoint{}, err
	}
	return model.IntegrityCheckpoint{
		Equivalent: equivalent,
		Checksum:   sum,
		Invariants: status,
		TakenAt:    time.Now().UTC(),
	}, nil
}

func checkNames(status model.InvariantsStatus) []string {
	names := make([]string, 0, len(status.Checks))
	for name := range status.Checks {
		names = append(names, name)
	}
	return names
}

// WriteAudit appends an integrity audit entry, filling in identity and
// timestamp. Audit writes are best-effort inside the owning
// transaction: a failure is logged and swallowed, never surfaced to the
// operation being audited.
func WriteAudit(ctx context.Context, tx store.Tx, log *zap.Logger, entry *model.IntegrityAuditLog) {
	entry.ID = uuid.New()
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	if err := tx.Audit().AppendIntegrity(ctx, entry); err != nil {
		log.Warn("integrity audit write failed",
			zap.String("operation", string(entry.Operation)),
			zap.String("equivalent", entry.Equivalent),
			zap.Error(err))
	}
}
