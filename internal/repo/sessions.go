package repo

import (
	"context"
	"errors"
	"time"

	"cpms/internal/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type SessionsRepo struct{ db *pgxpool.Pool }

func NewSessionsRepo(db *pgxpool.Pool) *SessionsRepo { return &SessionsRepo{db: db} }

func (r *SessionsRepo) Start(ctx context.Context, s models.Session) (string, error) {
	row := r.db.QueryRow(ctx, `
		insert into sessions (charge_point_id, connector_id, transaction_id, id_tag, started_at)
		values ($1,$2,$3,$4,$5)
		returning session_id::text
	`, s.ChargePointId, s.ConnectorId, s.TransactionId, s.IdTag, s.StartedAt)

	var id string
	if err := row.Scan(&id); err != nil {
		return "", err
	}
	return id, nil
}

func (r *SessionsRepo) FindByTx(ctx context.Context, cp string, tx int) (*models.Session, error) {
	row := r.db.QueryRow(ctx, `
		select session_id::text, charge_point_id, connector_id, transaction_id, coalesce(id_tag,''), started_at, ended_at, reason
		from sessions
		where charge_point_id=$1 and transaction_id=$2
		order by started_at desc
		limit 1
	`, cp, tx)

	var s models.Session
	if err := row.Scan(&s.SessionId, &s.ChargePointId, &s.ConnectorId, &s.TransactionId, &s.IdTag, &s.StartedAt, &s.EndedAt, &s.Reason); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &s, nil
}

func (r *SessionsRepo) End(ctx context.Context, sessionId string, endedAt time.Time, reason *string) error {
	_, err := r.db.Exec(ctx, `
		update sessions set ended_at=$2, reason=coalesce($3, reason), updated_at=now()
		where session_id=$1
	`, sessionId, endedAt, reason)
	return err
}

// TransactionStart returns when the transaction started, or nil when the
// gateway never reported it. Relative profiles are anchored on this instant.
func (r *SessionsRepo) TransactionStart(ctx context.Context, cp string, tx int) (*time.Time, error) {
	s, err := r.FindByTx(ctx, cp, tx)
	if err != nil || s == nil {
		return nil, err
	}
	started := s.StartedAt
	return &started, nil
}
