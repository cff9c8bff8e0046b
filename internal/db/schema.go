package db

import "context"

const schema = `
create table if not exists chargers (
  charge_point_id text primary key,
  is_active       boolean not null default false,
  vendor          text,
  model           text,
  ocpp_version    text,
  created_at      timestamptz not null default now(),
  updated_at      timestamptz not null default now(),
  last_seen_at    timestamptz
);

create table if not exists gateway_events (
  event_id        bigserial primary key,
  charge_point_id text not null,
  event_type      text not null,
  ts              timestamptz not null,
  payload         jsonb not null
);

create table if not exists sessions (
  session_id      uuid primary key default gen_random_uuid(),
  charge_point_id text not null,
  connector_id    integer not null,
  transaction_id  integer not null,
  id_tag          text,
  started_at      timestamptz not null,
  ended_at        timestamptz,
  reason          text,
  updated_at      timestamptz not null default now()
);
create index if not exists sessions_cp_tx_idx on sessions (charge_point_id, transaction_id, started_at desc);

create table if not exists charging_profiles (
  charging_profile_pk      bigserial primary key,
  charge_point_id          text not null,
  connector_id             integer,
  transaction_id           integer,
  purpose                  text not null,
  kind                     text not null,
  recurrency_kind          text,
  stack_level              integer not null check (stack_level >= 0),
  valid_from               timestamptz,
  valid_to                 timestamptz,
  duration_in_seconds      integer,
  start_schedule           timestamptz,
  charging_rate_unit       text not null,
  min_charging_rate        double precision,
  description              text not null default '',
  note                     text not null default '',
  created_at               timestamptz not null default now(),
  updated_at               timestamptz not null default now()
);
create index if not exists charging_profiles_cp_idx on charging_profiles (charge_point_id);

create table if not exists charging_schedule_periods (
  charging_profile_pk     bigint not null references charging_profiles (charging_profile_pk) on delete cascade,
  start_period_in_seconds integer not null,
  power_limit             double precision not null,
  number_phases           integer,
  primary key (charging_profile_pk, start_period_in_seconds)
);
`

// Migrate creates the tables used by the repos when they do not exist yet.
func (d *DB) Migrate(ctx context.Context) error {
	_, err := d.Pool.Exec(ctx, schema)
	return err
}
