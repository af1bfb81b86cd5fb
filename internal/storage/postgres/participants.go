package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/slawa19/GEOv0-sub001/internal/core/model"
	"github.com/slawa19/GEOv0-sub001/internal/core/store"
)

type participantRepo struct {
	tx pgx.Tx
}

func (r *participantRepo) GetByPID(ctx context.Context, pid string) (*model.Participant, error) {
	var p model.Participant
	err := r.tx.QueryRow(ctx,
		`SELECT id, pid, display_name, public_key, type, status
		   FROM participants WHERE pid = $1`, pid).
		Scan(&p.ID, &p.PID, &p.DisplayName, &p.PublicKey, &p.Type, &p.Status)
	if err != nil {
		return nil, mapError(err)
	}
	return &p, nil
}

func (r *participantRepo) Missing(ctx context.Context, pids []string) ([]string, error) {
	if len(pids) == 0 {
		return nil, nil
	}
	rows, err := r.tx.Query(ctx,
		`SELECT wanted FROM unnest($1::text[]) AS wanted
		  WHERE wanted NOT IN (SELECT pid FROM participants)`, pids)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var missing []string
	for rows.Next() {
		var pid string
		if err := rows.Scan(&pid); err != nil {
			return nil, err
		}
		missing = append(missing, pid)
	}
	return missing, rows.Err()
}

func (r *participantRepo) Create(ctx context.Context, p *model.Participant) error {
	if err := p.Validate(); err != nil {
		return err
	}
	_, err := r.tx.Exec(ctx,
		`INSERT INTO participants (id, pid, display_name, public_key, type, status)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		p.ID, p.PID, p.DisplayName, p.PublicKey, p.Type, p.Status)
	return mapError(err)
}

func (r *participantRepo) UpdateStatus(ctx context.Context, pid string, status model.ParticipantStatus) error {
	tag, err := r.tx.Exec(ctx,
		`UPDATE participants SET status = $2 WHERE pid = $1`, pid, status)
	if err != nil {
		return mapError(err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}
