package repo

import (
	"context"

	"cpms/internal/models"

	"github.com/jackc/pgx/v5/pgxpool"
)

// EventsRepo is the append-only gateway event log.
type EventsRepo struct{ db *pgxpool.Pool }

func NewEventsRepo(db *pgxpool.Pool) *EventsRepo { return &EventsRepo{db: db} }

// Append stores e and returns its event id. Ts is the time the processor
// settled on, not necessarily the one in the payload.
func (r *EventsRepo) Append(ctx context.Context, e models.GatewayEvent) (int64, error) {
	var id int64
	err := r.db.QueryRow(ctx, `
		insert into gateway_events (charge_point_id, event_type, ts, payload)
		values ($1,$2,$3,$4)
		returning event_id
	`, e.ChargePointId, e.Type, e.Ts, e.Payload).Scan(&id)
	return id, err
}
