package store

import (
	"context"

	"csms/internal/models"
)

// Append-only logs. Nothing on the fast path writes these except
// CreateAuthorization; the rest are pipeline consumer writes.

func (r *Postgres) CreateAuthorization(ctx context.Context, a models.Authorization) error {
	_, err := r.db.Exec(ctx, `
		insert into authorizations (charge_point_id, id_tag, status, expiry_date)
		values ($1,$2,$3,$4)
	`, a.ChargePointId, a.IdTag, a.Status, a.ExpiryDate)
	return err
}

// CreateHeartbeat records the heartbeat row and advances the charge
// point's lastSeen in one transaction, so a retried job cannot leave a
// second heartbeat row behind a stale lastSeen.
func (r *Postgres) CreateHeartbeat(ctx context.Context, h models.Heartbeat) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `
		insert into heartbeats (charge_point_id, ts)
		values ($1,$2)
	`, h.ChargePointId, h.Ts); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `
		update charge_points set last_seen_at=$2, updated_at=now()
		where charge_point_id=$1
	`, h.ChargePointId, h.Ts); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (r *Postgres) CreateStatusNotification(ctx context.Context, n models.StatusNotification) error {
	_, err := r.db.Exec(ctx, `
		insert into status_notifications (charge_point_id, connector_id, status, error_code, info, ts)
		values ($1,$2,$3,$4,$5,$6)
	`, n.ChargePointId, n.ConnectorId, n.Status, n.ErrorCode, n.Info, n.Ts)
	return err
}

// CreateMeterValues writes the whole batch in one transaction so a
// retried job is re-applied whole, never from the middle.
func (r *Postgres) CreateMeterValues(ctx context.Context, readings []models.MeterReading) error {
	if len(readings) == 0 {
		return nil
	}
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for _, m := range readings {
		if _, err := tx.Exec(ctx, `
			insert into meter_values (charge_point_id, connector_id, transaction_id, ts, value, measurand, unit, context)
			values ($1,$2,$3,$4,$5,$6,$7,$8)
		`, m.ChargePointId, m.ConnectorId, m.TransactionId, m.Ts, m.Value, m.Measurand, m.Unit, m.Context); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

func (r *Postgres) CreateFailedJob(ctx context.Context, j models.FailedJob) error {
	_, err := r.db.Exec(ctx, `
		insert into failed_jobs (kind, payload, attempts, last_error, failed_at)
		values ($1,$2,$3,$4,$5)
	`, j.Kind, j.Payload, j.Attempts, j.LastError, j.FailedAt)
	return err
}
