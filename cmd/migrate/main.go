// Command migrate applies the CSMS schema and can register a charge
// point for local testing.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"time"

	"csms/internal/config"
	"csms/internal/db"
	"csms/internal/models"
	"csms/internal/store"
)

const schema = `
create table if not exists charge_points (
	charge_point_id  text primary key,
	vendor           text,
	model            text,
	firmware_version text,
	serial_number    text,
	status           text not null default 'Available',
	last_seen_at     timestamptz,
	additional_info  jsonb not null default '{}',
	created_at       timestamptz not null default now(),
	updated_at       timestamptz not null default now()
);

create table if not exists transactions (
	transaction_id  bigserial primary key,
	charge_point_id text not null,
	connector_id    int not null,
	id_tag          text,
	meter_start     bigint not null default 0,
	meter_stop      bigint,
	started_at      timestamptz not null,
	stopped_at      timestamptz,
	stop_reason     text,
	status          text not null default 'active' check (status in ('active','completed')),
	additional_info jsonb not null default '{}',
	created_at      timestamptz not null default now(),
	updated_at      timestamptz not null default now()
);

-- The arbiter for concurrent starts: at most one active transaction per
-- connector, enforced by storage rather than application checks alone.
create unique index if not exists transactions_one_active_per_connector
	on transactions (charge_point_id, connector_id)
	where status = 'active';

create index if not exists transactions_by_charge_point
	on transactions (charge_point_id, started_at desc);

create table if not exists authorizations (
	id              bigserial primary key,
	charge_point_id text not null,
	id_tag          text not null,
	status          text not null,
	expiry_date     timestamptz not null,
	created_at      timestamptz not null default now()
);

create table if not exists heartbeats (
	id              bigserial primary key,
	charge_point_id text not null,
	ts              timestamptz not null
);

create table if not exists status_notifications (
	id              bigserial primary key,
	charge_point_id text not null,
	connector_id    int not null,
	status          text not null,
	error_code      text,
	info            text,
	ts              timestamptz not null
);

create table if not exists meter_values (
	id              bigserial primary key,
	charge_point_id text not null,
	connector_id    int not null,
	transaction_id  bigint,
	ts              timestamptz not null,
	value           text not null,
	measurand       text,
	unit            text,
	context         text
);

create table if not exists failed_jobs (
	id         bigserial primary key,
	kind       text not null,
	payload    jsonb,
	attempts   int not null,
	last_error text,
	failed_at  timestamptz not null
);
`

func main() {
	id := flag.String("id", "", "optionally register this chargePointId after migrating")
	vendor := flag.String("vendor", "ABB", "vendor for the registered charge point")
	model := flag.String("model", "Terra54", "model for the registered charge point")
	flag.Parse()

	cfg := config.Load()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	d, err := db.Connect(ctx, cfg.DatabaseURL, db.Options{
		MaxConns: int32(cfg.DBMaxConns),
		MinConns: int32(cfg.DBMinConns),
	})
	if err != nil {
		log.Fatal(err)
	}
	defer d.Close()

	if _, err := d.Pool.Exec(ctx, schema); err != nil {
		log.Fatal(err)
	}
	fmt.Println("schema applied")

	if *id != "" {
		gw := store.NewPostgres(d.Pool)
		err := gw.UpsertChargePoint(ctx, models.ChargePoint{
			ChargePointId: *id,
			Vendor:        *vendor,
			Model:         *model,
			Status:        models.StatusAvailable,
		})
		if err != nil {
			log.Fatal(err)
		}
		fmt.Println("registered charge point:", *id)
	}
}
