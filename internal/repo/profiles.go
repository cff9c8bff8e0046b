package repo

import (
	"context"
	"fmt"
	"strings"

	"cpms/internal/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type ProfilesRepo struct{ db *pgxpool.Pool }

func NewProfilesRepo(db *pgxpool.Pool) *ProfilesRepo { return &ProfilesRepo{db: db} }

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

const profileColumns = `charging_profile_pk, charge_point_id, connector_id, transaction_id, purpose, kind, recurrency_kind,
	stack_level, valid_from, valid_to, duration_in_seconds, start_schedule, charging_rate_unit, min_charging_rate,
	description, note`

// Create stores p with its periods in one transaction and returns the new
// identity. Identities increase monotonically, which the stack resolver
// relies on for its newest-wins tie-break.
func (r *ProfilesRepo) Create(ctx context.Context, p models.ChargingProfile) (int64, error) {
	var id int64
	err := pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx, `
			insert into charging_profiles (charge_point_id, connector_id, transaction_id, purpose, kind, recurrency_kind,
			  stack_level, valid_from, valid_to, duration_in_seconds, start_schedule, charging_rate_unit, min_charging_rate,
			  description, note)
			values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
			returning charging_profile_pk
		`, p.ChargePointId, p.ConnectorId, p.TransactionId, string(p.Purpose), string(p.Kind), recurrencyText(p.RecurrencyKind),
			p.StackLevel, p.ValidFrom, p.ValidTo, p.DurationSeconds, p.StartSchedule, string(p.RateUnit), p.MinChargingRate,
			p.Description, p.Note)
		if err := row.Scan(&id); err != nil {
			return err
		}
		return insertPeriods(ctx, tx, id, p.Periods)
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

// Replace swaps the stored profile with p, periods included, atomically.
func (r *ProfilesRepo) Replace(ctx context.Context, p models.ChargingProfile) error {
	return pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			update charging_profiles set
			  charge_point_id=$2, connector_id=$3, transaction_id=$4, purpose=$5, kind=$6, recurrency_kind=$7,
			  stack_level=$8, valid_from=$9, valid_to=$10, duration_in_seconds=$11, start_schedule=$12,
			  charging_rate_unit=$13, min_charging_rate=$14, description=$15, note=$16, updated_at=now()
			where charging_profile_pk=$1
		`, p.Id, p.ChargePointId, p.ConnectorId, p.TransactionId, string(p.Purpose), string(p.Kind), recurrencyText(p.RecurrencyKind),
			p.StackLevel, p.ValidFrom, p.ValidTo, p.DurationSeconds, p.StartSchedule, string(p.RateUnit), p.MinChargingRate,
			p.Description, p.Note)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return ErrNotFound
		}
		if _, err := tx.Exec(ctx, `delete from charging_schedule_periods where charging_profile_pk=$1`, p.Id); err != nil {
			return err
		}
		return insertPeriods(ctx, tx, p.Id, p.Periods)
	})
}

func (r *ProfilesRepo) Delete(ctx context.Context, id int64) error {
	tag, err := r.db.Exec(ctx, `delete from charging_profiles where charging_profile_pk=$1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *ProfilesRepo) Get(ctx context.Context, id int64) (*models.ChargingProfile, error) {
	var out []models.ChargingProfile
	err := pgx.BeginTxFunc(ctx, r.db, snapshotTx, func(tx pgx.Tx) error {
		var err error
		out, err = loadProfiles(ctx, tx, `select `+profileColumns+` from charging_profiles where charging_profile_pk=$1`, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, nil
	}
	return &out[0], nil
}

// ProfilesFor returns every profile of a charge point. Profiles and periods
// are read in one repeatable-read transaction so a concurrent Replace is
// seen either entirely or not at all.
func (r *ProfilesRepo) ProfilesFor(ctx context.Context, chargePointId string) ([]models.ChargingProfile, error) {
	var out []models.ChargingProfile
	err := pgx.BeginTxFunc(ctx, r.db, snapshotTx, func(tx pgx.Tx) error {
		var err error
		out, err = loadProfiles(ctx, tx, `
			select `+profileColumns+` from charging_profiles
			where charge_point_id=$1
			order by charging_profile_pk asc
		`, chargePointId)
		return err
	})
	return out, err
}

// List returns the profile overview matching f, newest first.
func (r *ProfilesRepo) List(ctx context.Context, f models.ProfileFilter) ([]models.ChargingProfile, error) {
	limit := f.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var (
		where []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if f.ChargePointId != "" {
		where = append(where, "charge_point_id="+arg(f.ChargePointId))
	}
	if f.Purpose != "" {
		where = append(where, "purpose="+arg(string(f.Purpose)))
	}
	if f.Kind != "" {
		where = append(where, "kind="+arg(string(f.Kind)))
	}
	if f.RecurrencyKind != "" {
		where = append(where, "recurrency_kind="+arg(string(f.RecurrencyKind)))
	}
	if f.StackLevel != nil {
		where = append(where, "stack_level="+arg(*f.StackLevel))
	}
	if f.Description != "" {
		where = append(where, "description ilike '%' || "+arg(f.Description)+" || '%'")
	}
	if f.ValidFrom != nil {
		where = append(where, "(valid_to is null or valid_to > "+arg(*f.ValidFrom)+")")
	}
	if f.ValidTo != nil {
		where = append(where, "(valid_from is null or valid_from < "+arg(*f.ValidTo)+")")
	}
	sql := `select ` + profileColumns + ` from charging_profiles`
	if len(where) > 0 {
		sql += " where " + strings.Join(where, " and ")
	}
	sql += " order by charging_profile_pk desc limit " + arg(limit)

	var out []models.ChargingProfile
	err := pgx.BeginTxFunc(ctx, r.db, snapshotTx, func(tx pgx.Tx) error {
		var err error
		out, err = loadProfiles(ctx, tx, sql, args...)
		return err
	})
	return out, err
}

var snapshotTx = pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly}

func insertPeriods(ctx context.Context, tx pgx.Tx, id int64, periods []models.SchedulePeriod) error {
	batch := &pgx.Batch{}
	for _, sp := range periods {
		batch.Queue(`
			insert into charging_schedule_periods (charging_profile_pk, start_period_in_seconds, power_limit, number_phases)
			values ($1,$2,$3,$4)
		`, id, sp.StartPeriodSeconds, sp.Limit, sp.NumberPhases)
	}
	return tx.SendBatch(ctx, batch).Close()
}

func loadProfiles(ctx context.Context, q querier, sql string, args ...any) ([]models.ChargingProfile, error) {
	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	var (
		out []models.ChargingProfile
		ids []int64
	)
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		out = append(out, p)
		ids = append(ids, p.Id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, nil
	}

	periods, err := loadPeriods(ctx, q, ids)
	if err != nil {
		return nil, err
	}
	for i := range out {
		out[i].Periods = periods[out[i].Id]
	}
	return out, nil
}

func loadPeriods(ctx context.Context, q querier, ids []int64) (map[int64][]models.SchedulePeriod, error) {
	rows, err := q.Query(ctx, `
		select charging_profile_pk, start_period_in_seconds, power_limit, number_phases
		from charging_schedule_periods
		where charging_profile_pk = any($1)
		order by charging_profile_pk, start_period_in_seconds
	`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[int64][]models.SchedulePeriod, len(ids))
	for rows.Next() {
		var (
			id int64
			sp models.SchedulePeriod
		)
		if err := rows.Scan(&id, &sp.StartPeriodSeconds, &sp.Limit, &sp.NumberPhases); err != nil {
			return nil, err
		}
		out[id] = append(out[id], sp)
	}
	return out, rows.Err()
}

func scanProfile(row pgx.Row) (models.ChargingProfile, error) {
	var (
		p                   models.ChargingProfile
		purpose, kind, unit string
		recurrency          *string
	)
	err := row.Scan(&p.Id, &p.ChargePointId, &p.ConnectorId, &p.TransactionId, &purpose, &kind, &recurrency,
		&p.StackLevel, &p.ValidFrom, &p.ValidTo, &p.DurationSeconds, &p.StartSchedule, &unit, &p.MinChargingRate,
		&p.Description, &p.Note)
	if err != nil {
		return p, err
	}
	p.Purpose = models.Purpose(purpose)
	p.Kind = models.Kind(kind)
	p.RateUnit = models.RateUnit(unit)
	if recurrency != nil {
		rk := models.RecurrencyKind(*recurrency)
		p.RecurrencyKind = &rk
	}
	return p, nil
}

func recurrencyText(rk *models.RecurrencyKind) *string {
	if rk == nil {
		return nil
	}
	s := string(*rk)
	return &s
}
