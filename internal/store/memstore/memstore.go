// Package memstore is an in-memory store.Gateway used by tests. It
// mirrors the Postgres behavior the core depends on, including the
// one-active-transaction-per-connector exclusivity.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"csms/internal/models"
	"csms/internal/store"
)

type Store struct {
	mu sync.Mutex

	nextTxId     int64
	ChargePoints map[string]models.ChargePoint
	Transactions map[int64]models.Transaction

	Authorizations      []models.Authorization
	Heartbeats          []models.Heartbeat
	StatusNotifications []models.StatusNotification
	MeterReadings       []models.MeterReading
	FailedJobs          []models.FailedJob
}

var _ store.Gateway = (*Store)(nil)

func New() *Store {
	return &Store{
		nextTxId:     1,
		ChargePoints: map[string]models.ChargePoint{},
		Transactions: map[int64]models.Transaction{},
	}
}

func (s *Store) UpsertChargePoint(_ context.Context, cp models.ChargePoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	if existing, ok := s.ChargePoints[cp.ChargePointId]; ok {
		cp.CreatedAt = existing.CreatedAt
	} else {
		cp.CreatedAt = now
	}
	cp.UpdatedAt = now
	cp.LastSeenAt = &now
	s.ChargePoints[cp.ChargePointId] = cp
	return nil
}

func (s *Store) GetChargePoint(_ context.Context, id string) (*models.ChargePoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp, ok := s.ChargePoints[id]
	if !ok {
		return nil, nil
	}
	return &cp, nil
}

func (s *Store) TouchLastSeen(_ context.Context, id string, t time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cp, ok := s.ChargePoints[id]; ok {
		cp.LastSeenAt = &t
		cp.UpdatedAt = time.Now().UTC()
		s.ChargePoints[id] = cp
	}
	return nil
}

func (s *Store) SetStatus(_ context.Context, id, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cp, ok := s.ChargePoints[id]; ok {
		cp.Status = status
		s.ChargePoints[id] = cp
	}
	return nil
}

func (s *Store) SetAllStatus(_ context.Context, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, cp := range s.ChargePoints {
		cp.Status = status
		s.ChargePoints[id] = cp
	}
	return nil
}

func (s *Store) CreateTransaction(_ context.Context, t models.Transaction) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t.Status == models.TxActive {
		for _, existing := range s.Transactions {
			if existing.ChargePointId == t.ChargePointId && existing.ConnectorId == t.ConnectorId && existing.Status == models.TxActive {
				return 0, store.ErrDuplicateActive
			}
		}
	}
	t.TransactionId = s.nextTxId
	s.nextTxId++
	s.Transactions[t.TransactionId] = t
	return t.TransactionId, nil
}

func (s *Store) UpdateTransaction(_ context.Context, t models.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.Transactions[t.TransactionId]; ok {
		s.Transactions[t.TransactionId] = t
	}
	return nil
}

func (s *Store) FindTransactionByID(_ context.Context, id int64) (*models.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.Transactions[id]
	if !ok {
		return nil, nil
	}
	return &t, nil
}

func (s *Store) FindActiveByConnector(ctx context.Context, cp string, connector int) (*models.Transaction, error) {
	return s.findActive(func(t models.Transaction) bool {
		return t.ChargePointId == cp && t.ConnectorId == connector
	})
}

func (s *Store) FindActiveByIdTag(ctx context.Context, cp, idTag string) (*models.Transaction, error) {
	return s.findActive(func(t models.Transaction) bool {
		return t.ChargePointId == cp && t.IdTag == idTag
	})
}

func (s *Store) findActive(match func(models.Transaction) bool) (*models.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var found *models.Transaction
	for _, t := range s.Transactions {
		t := t
		if t.Status != models.TxActive || !match(t) {
			continue
		}
		if found == nil || t.StartedAt.After(found.StartedAt) {
			found = &t
		}
	}
	return found, nil
}

func (s *Store) ListActiveByChargePoint(_ context.Context, cp string) ([]models.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Transaction
	for _, t := range s.Transactions {
		if t.ChargePointId == cp && t.Status == models.TxActive {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	return out, nil
}

func (s *Store) ListTransactionsByChargePoint(_ context.Context, cp string, limit int) ([]models.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Transaction
	for _, t := range s.Transactions {
		if t.ChargePointId == cp {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) CreateAuthorization(_ context.Context, a models.Authorization) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a.Id = int64(len(s.Authorizations) + 1)
	s.Authorizations = append(s.Authorizations, a)
	return nil
}

func (s *Store) CreateHeartbeat(_ context.Context, h models.Heartbeat) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	h.Id = int64(len(s.Heartbeats) + 1)
	s.Heartbeats = append(s.Heartbeats, h)
	if cp, ok := s.ChargePoints[h.ChargePointId]; ok {
		ts := h.Ts
		cp.LastSeenAt = &ts
		s.ChargePoints[h.ChargePointId] = cp
	}
	return nil
}

func (s *Store) CreateStatusNotification(_ context.Context, n models.StatusNotification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n.Id = int64(len(s.StatusNotifications) + 1)
	s.StatusNotifications = append(s.StatusNotifications, n)
	return nil
}

func (s *Store) CreateMeterValues(_ context.Context, readings []models.MeterReading) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.MeterReadings = append(s.MeterReadings, readings...)
	return nil
}

func (s *Store) CreateFailedJob(_ context.Context, j models.FailedJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j.Id = int64(len(s.FailedJobs) + 1)
	s.FailedJobs = append(s.FailedJobs, j)
	return nil
}
