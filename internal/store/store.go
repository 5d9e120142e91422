package store

import (
	"context"
	"errors"
	"time"

	"csms/internal/models"
)

// ErrDuplicateActive is returned by CreateTransaction when the storage
// uniqueness constraint on one active transaction per connector fires.
// It is the final arbiter for concurrent StartTransaction races; the
// in-memory check in the core is only the fast path.
var ErrDuplicateActive = errors.New("active transaction already exists for connector")

// Gateway is the persistence boundary. All durable state is read and
// written through it; the session core holds no copies.
type Gateway interface {
	UpsertChargePoint(ctx context.Context, cp models.ChargePoint) error
	GetChargePoint(ctx context.Context, cpId string) (*models.ChargePoint, error)
	TouchLastSeen(ctx context.Context, cpId string, t time.Time) error
	SetStatus(ctx context.Context, cpId, status string) error
	SetAllStatus(ctx context.Context, status string) error

	CreateTransaction(ctx context.Context, tx models.Transaction) (int64, error)
	UpdateTransaction(ctx context.Context, tx models.Transaction) error
	FindTransactionByID(ctx context.Context, id int64) (*models.Transaction, error)
	FindActiveByConnector(ctx context.Context, cpId string, connectorId int) (*models.Transaction, error)
	FindActiveByIdTag(ctx context.Context, cpId, idTag string) (*models.Transaction, error)
	ListActiveByChargePoint(ctx context.Context, cpId string) ([]models.Transaction, error)
	ListTransactionsByChargePoint(ctx context.Context, cpId string, limit int) ([]models.Transaction, error)

	CreateAuthorization(ctx context.Context, a models.Authorization) error
	CreateHeartbeat(ctx context.Context, h models.Heartbeat) error
	CreateStatusNotification(ctx context.Context, n models.StatusNotification) error
	CreateMeterValues(ctx context.Context, readings []models.MeterReading) error
	CreateFailedJob(ctx context.Context, j models.FailedJob) error
}
