package store

import (
	"context"
	"errors"

	"csms/internal/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

const txColumns = `transaction_id, charge_point_id, connector_id, coalesce(id_tag,''), meter_start, meter_stop,
       started_at, stopped_at, stop_reason, status, additional_info`

func scanTx(row pgx.Row) (*models.Transaction, error) {
	var t models.Transaction
	var info []byte
	if err := row.Scan(&t.TransactionId, &t.ChargePointId, &t.ConnectorId, &t.IdTag, &t.MeterStart, &t.MeterStop,
		&t.StartedAt, &t.StoppedAt, &t.StopReason, &t.Status, &info); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	t.AdditionalInfo = unmarshalInfo(info)
	return &t, nil
}

// CreateTransaction inserts an active transaction and returns the
// server-assigned sequential id. The partial unique index on
// (charge_point_id, connector_id) where status='active' is the arbiter
// for concurrent starts on one connector; its violation maps to
// ErrDuplicateActive.
func (r *Postgres) CreateTransaction(ctx context.Context, t models.Transaction) (int64, error) {
	info, err := marshalInfo(t.AdditionalInfo)
	if err != nil {
		return 0, err
	}
	row := r.db.QueryRow(ctx, `
		insert into transactions (charge_point_id, connector_id, id_tag, meter_start, started_at, status, additional_info)
		values ($1,$2,$3,$4,$5,$6,$7)
		returning transaction_id
	`, t.ChargePointId, t.ConnectorId, t.IdTag, t.MeterStart, t.StartedAt, t.Status, info)

	var id int64
	if err := row.Scan(&id); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return 0, ErrDuplicateActive
		}
		return 0, err
	}
	return id, nil
}

func (r *Postgres) UpdateTransaction(ctx context.Context, t models.Transaction) error {
	info, err := marshalInfo(t.AdditionalInfo)
	if err != nil {
		return err
	}
	_, err = r.db.Exec(ctx, `
		update transactions set meter_stop=$2, stopped_at=$3, stop_reason=$4, status=$5, additional_info=$6, updated_at=now()
		where transaction_id=$1
	`, t.TransactionId, t.MeterStop, t.StoppedAt, t.StopReason, t.Status, info)
	return err
}

func (r *Postgres) FindTransactionByID(ctx context.Context, id int64) (*models.Transaction, error) {
	return scanTx(r.db.QueryRow(ctx, `select `+txColumns+` from transactions where transaction_id=$1`, id))
}

func (r *Postgres) FindActiveByConnector(ctx context.Context, cp string, connector int) (*models.Transaction, error) {
	return scanTx(r.db.QueryRow(ctx, `
		select `+txColumns+` from transactions
		where charge_point_id=$1 and connector_id=$2 and status='active'
		order by started_at desc
		limit 1
	`, cp, connector))
}

func (r *Postgres) FindActiveByIdTag(ctx context.Context, cp, idTag string) (*models.Transaction, error) {
	return scanTx(r.db.QueryRow(ctx, `
		select `+txColumns+` from transactions
		where charge_point_id=$1 and id_tag=$2 and status='active'
		order by started_at desc
		limit 1
	`, cp, idTag))
}

func (r *Postgres) ListActiveByChargePoint(ctx context.Context, cp string) ([]models.Transaction, error) {
	rows, err := r.db.Query(ctx, `
		select `+txColumns+` from transactions
		where charge_point_id=$1 and status='active'
		order by started_at desc
	`, cp)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectTxs(rows)
}

func (r *Postgres) ListTransactionsByChargePoint(ctx context.Context, cp string, limit int) ([]models.Transaction, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := r.db.Query(ctx, `
		select `+txColumns+` from transactions
		where charge_point_id=$1
		order by started_at desc
		limit $2
	`, cp, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectTxs(rows)
}

func collectTxs(rows pgx.Rows) ([]models.Transaction, error) {
	var out []models.Transaction
	for rows.Next() {
		t, err := scanTx(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}
