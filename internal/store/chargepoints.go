package store

import (
	"context"
	"errors"
	"time"

	"csms/internal/models"

	"github.com/jackc/pgx/v5"
)

func (r *Postgres) UpsertChargePoint(ctx context.Context, cp models.ChargePoint) error {
	info, err := marshalInfo(cp.AdditionalInfo)
	if err != nil {
		return err
	}
	_, err = r.db.Exec(ctx, `
		insert into charge_points (charge_point_id, vendor, model, firmware_version, serial_number, status, additional_info, last_seen_at)
		values ($1,$2,$3,$4,$5,$6,$7, now())
		on conflict (charge_point_id) do update set
		  vendor=excluded.vendor,
		  model=excluded.model,
		  firmware_version=excluded.firmware_version,
		  serial_number=excluded.serial_number,
		  status=excluded.status,
		  additional_info=excluded.additional_info,
		  last_seen_at=now(),
		  updated_at=now()
	`, cp.ChargePointId, cp.Vendor, cp.Model, cp.FirmwareVersion, cp.SerialNumber, cp.Status, info)
	return err
}

func (r *Postgres) GetChargePoint(ctx context.Context, id string) (*models.ChargePoint, error) {
	row := r.db.QueryRow(ctx, `
		select charge_point_id, coalesce(vendor,''), coalesce(model,''), coalesce(firmware_version,''), coalesce(serial_number,''),
		       coalesce(status,''), last_seen_at, additional_info, created_at, updated_at
		from charge_points where charge_point_id=$1
	`, id)

	var cp models.ChargePoint
	var info []byte
	if err := row.Scan(&cp.ChargePointId, &cp.Vendor, &cp.Model, &cp.FirmwareVersion, &cp.SerialNumber,
		&cp.Status, &cp.LastSeenAt, &info, &cp.CreatedAt, &cp.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	cp.AdditionalInfo = unmarshalInfo(info)
	return &cp, nil
}

func (r *Postgres) TouchLastSeen(ctx context.Context, id string, t time.Time) error {
	_, err := r.db.Exec(ctx, `update charge_points set last_seen_at=$2, updated_at=now() where charge_point_id=$1`, id, t)
	return err
}

func (r *Postgres) SetStatus(ctx context.Context, id, status string) error {
	_, err := r.db.Exec(ctx, `update charge_points set status=$2, updated_at=now() where charge_point_id=$1`, id, status)
	return err
}

func (r *Postgres) SetAllStatus(ctx context.Context, status string) error {
	_, err := r.db.Exec(ctx, `update charge_points set status=$1, updated_at=now()`, status)
	return err
}
