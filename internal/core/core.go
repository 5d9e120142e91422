// Package core is the per-connector OCPP transaction state machine:
// start idempotency and conflicts, stop resolution, and reconnection
// resume. It holds no state of its own; every decision re-reads the
// persistence gateway.
package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"csms/internal/models"
	"csms/internal/ocpp"
	"csms/internal/store"

	"go.uber.org/zap"
)

// DefaultStopReason is recorded when StopTransaction omits a reason.
const DefaultStopReason = "Local"

type Service struct {
	gw         store.Gateway
	log        *zap.SugaredLogger
	authExpiry time.Duration
	now        func() time.Time
}

func New(gw store.Gateway, log *zap.SugaredLogger, authExpiry time.Duration) *Service {
	if authExpiry <= 0 {
		authExpiry = 24 * time.Hour
	}
	return &Service{
		gw:         gw,
		log:        log.With("component", "core"),
		authExpiry: authExpiry,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Boot creates or refreshes the charge point row. Creation and update
// share this one upsert path.
func (s *Service) Boot(ctx context.Context, cpId string, req *ocpp.BootNotificationReq) error {
	return s.gw.UpsertChargePoint(ctx, models.ChargePoint{
		ChargePointId:   cpId,
		Vendor:          req.Vendor,
		Model:           req.Model,
		FirmwareVersion: req.FirmwareVersion,
		SerialNumber:    req.SerialNumber,
		Status:          models.StatusOnline,
		AdditionalInfo:  req.Raw,
	})
}

// Seen refreshes the charge point's last-seen marker; the dispatcher
// calls it for every inbound message.
func (s *Service) Seen(ctx context.Context, cpId string, at time.Time) error {
	return s.gw.TouchLastSeen(ctx, cpId, at)
}

// Authorize unconditionally accepts and appends an authorization row.
// A real allow/deny policy engine would slot in here.
func (s *Service) Authorize(ctx context.Context, cpId, idTag string) (models.Authorization, error) {
	a := models.Authorization{
		ChargePointId: cpId,
		IdTag:         idTag,
		Status:        "Accepted",
		ExpiryDate:    s.now().Add(s.authExpiry),
	}
	if err := s.gw.CreateAuthorization(ctx, a); err != nil {
		return models.Authorization{}, err
	}
	return a, nil
}

// StartTransaction enforces one active transaction per connector. A
// replay with the same idTag returns the existing transaction unchanged;
// a different idTag is a conflict. The storage uniqueness constraint
// backs the check against concurrent starts.
func (s *Service) StartTransaction(ctx context.Context, cpId string, req *ocpp.StartTransactionReq) (*models.Transaction, error) {
	existing, err := s.gw.FindActiveByConnector(ctx, cpId, req.ConnectorId)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		if existing.IdTag == req.IdTag {
			s.log.Infow("start replayed for in-flight transaction",
				"charge_point", cpId, "connector", req.ConnectorId, "transaction", existing.TransactionId)
			return existing, nil
		}
		return nil, connectorBusy(req.ConnectorId)
	}

	tx := models.Transaction{
		ChargePointId:  cpId,
		ConnectorId:    req.ConnectorId,
		IdTag:          req.IdTag,
		MeterStart:     req.MeterStart,
		StartedAt:      req.Timestamp.UTC(),
		Status:         models.TxActive,
		AdditionalInfo: map[string]any{},
	}
	id, err := s.gw.CreateTransaction(ctx, tx)
	if err != nil {
		if errors.Is(err, store.ErrDuplicateActive) {
			// Lost the race to a concurrent start; surface it the same
			// way as the synchronous check.
			return nil, connectorBusy(req.ConnectorId)
		}
		return nil, err
	}
	tx.TransactionId = id
	return &tx, nil
}

func connectorBusy(connector int) error {
	return &ConflictError{Msg: fmt.Sprintf("Connector %d already has an active transaction", connector)}
}

// StopRequest identifies the transaction to stop. Resolution order:
// TransactionId, then ConnectorId, then IdTag.
type StopRequest struct {
	TransactionId *int64
	ConnectorId   *int
	IdTag         string
	MeterStop     int64
	Timestamp     time.Time
	Reason        string
}

func (s *Service) StopTransaction(ctx context.Context, cpId string, req StopRequest) (*models.Transaction, error) {
	tx, err := s.resolveStop(ctx, cpId, req)
	if err != nil {
		return nil, err
	}
	if tx == nil || tx.Status != models.TxActive {
		return nil, &NotFoundError{Msg: "no active transaction to stop"}
	}

	reason := req.Reason
	if reason == "" {
		reason = DefaultStopReason
	}
	meterStop := req.MeterStop
	stoppedAt := req.Timestamp.UTC()
	tx.MeterStop = &meterStop
	tx.StoppedAt = &stoppedAt
	tx.StopReason = &reason
	tx.Status = models.TxCompleted
	if err := s.gw.UpdateTransaction(ctx, *tx); err != nil {
		return nil, err
	}
	return tx, nil
}

func (s *Service) resolveStop(ctx context.Context, cpId string, req StopRequest) (*models.Transaction, error) {
	switch {
	case req.TransactionId != nil:
		return s.gw.FindTransactionByID(ctx, *req.TransactionId)
	case req.ConnectorId != nil:
		return s.gw.FindActiveByConnector(ctx, cpId, *req.ConnectorId)
	case req.IdTag != "":
		return s.gw.FindActiveByIdTag(ctx, cpId, req.IdTag)
	default:
		return nil, nil
	}
}

// ResumeAll reconciles in-flight transactions after a reconnect: every
// active transaction of the charge point gets a reconnection timestamp
// and counter merged into its metadata bag. Status never changes.
// Resume is sequential and does not roll back already-resumed
// transactions when a later one fails.
func (s *Service) ResumeAll(ctx context.Context, cpId string, at time.Time) ([]models.Transaction, error) {
	active, err := s.gw.ListActiveByChargePoint(ctx, cpId)
	if err != nil {
		return nil, err
	}

	var resumed []models.Transaction
	for _, tx := range active {
		cur, err := s.gw.FindTransactionByID(ctx, tx.TransactionId)
		if err != nil {
			return resumed, err
		}
		if cur == nil {
			return resumed, &NotFoundError{Msg: fmt.Sprintf("transaction %d not found", tx.TransactionId)}
		}

		info := cur.AdditionalInfo
		if info == nil {
			info = map[string]any{}
		}
		info["reconnectedAt"] = at.UTC().Format(time.RFC3339)
		info["reconnects"] = intFromAny(info["reconnects"]) + 1
		cur.AdditionalInfo = info
		if err := s.gw.UpdateTransaction(ctx, *cur); err != nil {
			return resumed, err
		}
		resumed = append(resumed, *cur)
	}
	if len(resumed) > 0 {
		s.log.Infow("resumed in-flight transactions", "charge_point", cpId, "count", len(resumed))
	}
	return resumed, nil
}

// Connected marks a charge point online and resumes its in-flight
// transactions.
func (s *Service) Connected(ctx context.Context, cpId string, at time.Time) error {
	if err := s.gw.SetStatus(ctx, cpId, models.StatusOnline); err != nil {
		return err
	}
	if err := s.gw.TouchLastSeen(ctx, cpId, at); err != nil {
		return err
	}
	_, err := s.ResumeAll(ctx, cpId, at)
	return err
}

// Disconnected refreshes last-seen and, when the last socket for the
// charge point closed, marks it offline.
func (s *Service) Disconnected(ctx context.Context, cpId string, at time.Time, last bool) error {
	if err := s.gw.TouchLastSeen(ctx, cpId, at); err != nil {
		return err
	}
	if last {
		return s.gw.SetStatus(ctx, cpId, models.StatusOffline)
	}
	return nil
}

// intFromAny tolerates float64 counters read back from JSONB.
func intFromAny(v any) int {
	switch t := v.(type) {
	case float64:
		return int(t)
	case int:
		return t
	case int64:
		return int(t)
	default:
		return 0
	}
}
