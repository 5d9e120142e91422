package pipeline

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"csms/internal/models"
	"csms/internal/store"
	"csms/internal/store/memstore"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newPipeline(t *testing.T, gw store.Gateway) *Pipeline {
	t.Helper()
	p, err := New(gw, zap.NewNop().Sugar(), Options{Workers: 2, Attempts: 3, Backoff: time.Millisecond})
	require.NoError(t, err)
	return p
}

func drain(t *testing.T, p *Pipeline) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, p.Close(ctx))
}

func TestHeartbeatJobPersists(t *testing.T) {
	ms := memstore.New()
	require.NoError(t, ms.UpsertChargePoint(context.Background(), models.ChargePoint{ChargePointId: "CP-1"}))
	p := newPipeline(t, ms)

	ts := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	h, err := p.EnqueueHeartbeat(HeartbeatJob{ChargePointId: "CP-1", Ts: ts})
	require.NoError(t, err)
	assert.Equal(t, KindHeartbeat, h.Kind)

	drain(t, p)

	require.Len(t, ms.Heartbeats, 1)
	assert.Equal(t, ts, ms.Heartbeats[0].Ts)
	cp, _ := ms.GetChargePoint(context.Background(), "CP-1")
	require.NotNil(t, cp.LastSeenAt)
	assert.Equal(t, ts, *cp.LastSeenAt)
}

func TestStatusJobPersists(t *testing.T) {
	ms := memstore.New()
	p := newPipeline(t, ms)

	_, err := p.EnqueueStatus(StatusJob{
		ChargePointId: "CP-1", ConnectorId: 2, Status: "Charging", ErrorCode: "NoError", Ts: time.Now().UTC(),
	})
	require.NoError(t, err)
	drain(t, p)

	require.Len(t, ms.StatusNotifications, 1)
	assert.Equal(t, 2, ms.StatusNotifications[0].ConnectorId)
	assert.Equal(t, "Charging", ms.StatusNotifications[0].Status)
}

func TestMeterJobPersistsBatch(t *testing.T) {
	ms := memstore.New()
	p := newPipeline(t, ms)

	txId := int64(5)
	ts := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	_, err := p.EnqueueMeter(MeterJob{
		ChargePointId: "CP-1",
		ConnectorId:   1,
		TransactionId: &txId,
		Readings: []Reading{
			{Ts: ts, Value: "1500", Measurand: "Energy.Active.Import.Register", Unit: "Wh"},
			{Ts: ts, Value: "230.1", Measurand: "Voltage", Unit: "V"},
		},
	})
	require.NoError(t, err)
	drain(t, p)

	require.Len(t, ms.MeterReadings, 2)
	assert.Equal(t, "1500", ms.MeterReadings[0].Value)
	require.NotNil(t, ms.MeterReadings[0].TransactionId)
	assert.Equal(t, txId, *ms.MeterReadings[0].TransactionId)
}

// failingGateway fails CreateHeartbeat a configured number of times.
type failingGateway struct {
	store.Gateway
	mu       sync.Mutex
	failures int
	calls    int
}

func (g *failingGateway) CreateHeartbeat(ctx context.Context, h models.Heartbeat) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	if g.calls <= g.failures {
		return errors.New("db down")
	}
	return g.Gateway.CreateHeartbeat(ctx, h)
}

func (g *failingGateway) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

func TestJobRetriesThenSucceeds(t *testing.T) {
	ms := memstore.New()
	gw := &failingGateway{Gateway: ms, failures: 2}
	p := newPipeline(t, gw)

	_, err := p.EnqueueHeartbeat(HeartbeatJob{ChargePointId: "CP-1", Ts: time.Now().UTC()})
	require.NoError(t, err)
	drain(t, p)

	assert.Equal(t, 3, gw.callCount())
	assert.Len(t, ms.Heartbeats, 1)
	assert.Empty(t, ms.FailedJobs)
}

func TestJobExhaustionDeadLetters(t *testing.T) {
	ms := memstore.New()
	gw := &failingGateway{Gateway: ms, failures: 100}
	p := newPipeline(t, gw)

	_, err := p.EnqueueHeartbeat(HeartbeatJob{ChargePointId: "CP-1", Ts: time.Now().UTC()})
	require.NoError(t, err)
	drain(t, p)

	assert.Equal(t, 3, gw.callCount(), "retry budget is 3 attempts")
	assert.Empty(t, ms.Heartbeats)
	require.Len(t, ms.FailedJobs, 1)
	assert.Equal(t, string(KindHeartbeat), ms.FailedJobs[0].Kind)
	assert.Equal(t, 3, ms.FailedJobs[0].Attempts)
	assert.Contains(t, ms.FailedJobs[0].LastError, "db down")
	assert.Contains(t, string(ms.FailedJobs[0].Payload), "CP-1")
}

func TestHeartbeatRetryWritesSingleRow(t *testing.T) {
	ms := memstore.New()
	require.NoError(t, ms.UpsertChargePoint(context.Background(), models.ChargePoint{ChargePointId: "CP-1"}))
	gw := &failingGateway{Gateway: ms, failures: 1}
	p := newPipeline(t, gw)

	ts := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	_, err := p.EnqueueHeartbeat(HeartbeatJob{ChargePointId: "CP-1", Ts: ts})
	require.NoError(t, err)
	drain(t, p)

	// the retried attempt must not leave a second row or a stale lastSeen
	require.Len(t, ms.Heartbeats, 1)
	cp, _ := ms.GetChargePoint(context.Background(), "CP-1")
	require.NotNil(t, cp.LastSeenAt)
	assert.Equal(t, ts, *cp.LastSeenAt)
}

func TestEnqueueAfterCloseFails(t *testing.T) {
	p := newPipeline(t, memstore.New())
	drain(t, p)

	_, err := p.EnqueueHeartbeat(HeartbeatJob{ChargePointId: "CP-1", Ts: time.Now().UTC()})
	require.ErrorIs(t, err, ErrClosed)
}

func TestConcurrentJobsAllProcessed(t *testing.T) {
	ms := memstore.New()
	p := newPipeline(t, ms)

	for i := 0; i < 20; i++ {
		_, err := p.EnqueueHeartbeat(HeartbeatJob{ChargePointId: "CP-1", Ts: time.Now().UTC()})
		require.NoError(t, err)
		_, err = p.EnqueueStatus(StatusJob{ChargePointId: "CP-1", ConnectorId: 1, Status: "Available", Ts: time.Now().UTC()})
		require.NoError(t, err)
	}
	drain(t, p)

	assert.Len(t, ms.Heartbeats, 20)
	assert.Len(t, ms.StatusNotifications, 20)
}

func TestEnqueueRacingCloseLosesNoJobs(t *testing.T) {
	ms := memstore.New()
	p := newPipeline(t, ms)

	var accepted int64
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				_, err := p.EnqueueHeartbeat(HeartbeatJob{ChargePointId: "CP-1", Ts: time.Now().UTC()})
				if errors.Is(err, ErrClosed) {
					return
				}
				if !assert.NoError(t, err) {
					return
				}
				atomic.AddInt64(&accepted, 1)
			}
		}()
	}

	drain(t, p)
	wg.Wait()

	// every job accepted before Close must have been processed
	assert.Equal(t, int(atomic.LoadInt64(&accepted)), len(ms.Heartbeats))
}
