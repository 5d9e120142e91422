package dispatcher

import (
	"context"
	"testing"
	"time"

	"csms/internal/core"
	"csms/internal/models"
	"csms/internal/pipeline"
	"csms/internal/store/memstore"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newDispatcher(t *testing.T) (*Dispatcher, *memstore.Store, *pipeline.Pipeline) {
	t.Helper()
	ms := memstore.New()
	log := zap.NewNop().Sugar()
	p, err := pipeline.New(ms, log, pipeline.Options{Workers: 2, Attempts: 3, Backoff: time.Millisecond})
	require.NoError(t, err)
	svc := core.New(ms, log, 24*time.Hour)
	return New(svc, p, log, 300*time.Second), ms, p
}

func drain(t *testing.T, p *pipeline.Pipeline) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, p.Close(ctx))
}

func asMap(t *testing.T, v any) map[string]any {
	t.Helper()
	m, ok := v.(map[string]any)
	require.True(t, ok, "reply is %T, want map", v)
	return m
}

func TestUnknownAction(t *testing.T) {
	d, _, p := newDispatcher(t)
	defer drain(t, p)

	_, err := d.Dispatch(context.Background(), "CP-1", "Reset", map[string]any{})
	var notImpl *NotImplementedError
	require.ErrorAs(t, err, &notImpl)
	assert.Contains(t, err.Error(), "Reset")
}

func TestBootNotificationReply(t *testing.T) {
	d, ms, p := newDispatcher(t)
	defer drain(t, p)

	reply, err := d.Dispatch(context.Background(), "CP-1", "BootNotification", map[string]any{
		"chargePointVendor": "Acme",
		"chargePointModel":  "X1",
	})
	require.NoError(t, err)

	m := asMap(t, reply)
	assert.Equal(t, "Accepted", m["status"])
	assert.Equal(t, 300, m["interval"])
	_, err = time.Parse(time.RFC3339, m["currentTime"].(string))
	require.NoError(t, err)

	cp, _ := ms.GetChargePoint(context.Background(), "CP-1")
	require.NotNil(t, cp)
	assert.Equal(t, "Acme", cp.Vendor)
}

func TestHeartbeatReplyAndJob(t *testing.T) {
	d, ms, p := newDispatcher(t)

	reply, err := d.Dispatch(context.Background(), "CP-1", "Heartbeat", map[string]any{})
	require.NoError(t, err)
	m := asMap(t, reply)
	_, err = time.Parse(time.RFC3339, m["currentTime"].(string))
	require.NoError(t, err)

	drain(t, p)
	assert.Len(t, ms.Heartbeats, 1)
}

func TestAuthorizeReply(t *testing.T) {
	d, ms, p := newDispatcher(t)
	defer drain(t, p)

	reply, err := d.Dispatch(context.Background(), "CP-1", "Authorize", map[string]any{"idTag": "TAG1"})
	require.NoError(t, err)

	info := asMap(t, asMap(t, reply)["idTagInfo"])
	assert.Equal(t, "Accepted", info["status"])
	_, err = time.Parse(time.RFC3339, info["expiryDate"].(string))
	require.NoError(t, err)
	assert.Len(t, ms.Authorizations, 1)
}

// Full protocol scenario: boot, start, stop.
func TestBootStartStopScenario(t *testing.T) {
	d, ms, p := newDispatcher(t)
	defer drain(t, p)
	ctx := context.Background()

	_, err := d.Dispatch(ctx, "CP-1", "BootNotification", map[string]any{
		"chargePointVendor": "Acme", "chargePointModel": "X1",
	})
	require.NoError(t, err)

	reply, err := d.Dispatch(ctx, "CP-1", "StartTransaction", map[string]any{
		"connectorId": float64(1),
		"idTag":       "TAG1",
		"meterStart":  float64(1000),
		"timestamp":   "2026-09-01T12:00:00Z",
	})
	require.NoError(t, err)
	m := asMap(t, reply)
	assert.Equal(t, int64(1), m["transactionId"])
	assert.Equal(t, "Accepted", asMap(t, m["idTagInfo"])["status"])

	reply, err = d.Dispatch(ctx, "CP-1", "StopTransaction", map[string]any{
		"transactionId": float64(1),
		"meterStop":     float64(2000),
		"timestamp":     "2026-09-01T13:00:00Z",
	})
	require.NoError(t, err)
	assert.Equal(t, "Accepted", asMap(t, asMap(t, reply)["idTagInfo"])["status"])

	tx, err := ms.FindTransactionByID(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, models.TxCompleted, tx.Status)
	require.NotNil(t, tx.MeterStop)
	assert.Equal(t, int64(2000), *tx.MeterStop)
}

func TestStartConflictSurfacesConnector(t *testing.T) {
	d, _, p := newDispatcher(t)
	defer drain(t, p)
	ctx := context.Background()

	start := func(tag string) (any, error) {
		return d.Dispatch(ctx, "CP-1", "StartTransaction", map[string]any{
			"connectorId": float64(1),
			"idTag":       tag,
			"meterStart":  float64(1000),
			"timestamp":   "2026-09-01T12:00:00Z",
		})
	}

	_, err := start("TAG1")
	require.NoError(t, err)

	_, err = start("TAG2")
	var conflict *core.ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Contains(t, err.Error(), "Connector 1 already has an active transaction")
}

func TestMeterValuesFlattening(t *testing.T) {
	d, ms, p := newDispatcher(t)

	// 2 entries with 2 and 1 sampled readings: 3 flat readings
	_, err := d.Dispatch(context.Background(), "CP-1", "MeterValues", map[string]any{
		"connectorId": float64(1),
		"meterValue": []any{
			map[string]any{
				"timestamp": "2026-09-01T12:00:00Z",
				"sampledValue": []any{
					map[string]any{"value": "1500", "measurand": "Energy.Active.Import.Register", "unit": "Wh"},
					map[string]any{"value": "230.1", "measurand": "Voltage", "unit": "V"},
				},
			},
			map[string]any{
				"timestamp":    "2026-09-01T12:01:00Z",
				"sampledValue": []any{map[string]any{"value": "1510"}},
			},
		},
	})
	require.NoError(t, err)
	drain(t, p)

	require.Len(t, ms.MeterReadings, 3)
	first := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	second := time.Date(2026, 9, 1, 12, 1, 0, 0, time.UTC)
	assert.Equal(t, first, ms.MeterReadings[0].Ts, "reading carries its parent entry's timestamp")
	assert.Equal(t, first, ms.MeterReadings[1].Ts)
	assert.Equal(t, second, ms.MeterReadings[2].Ts)
	assert.Equal(t, "Voltage", ms.MeterReadings[1].Measurand)
}

func TestStatusNotificationEnqueues(t *testing.T) {
	d, ms, p := newDispatcher(t)

	reply, err := d.Dispatch(context.Background(), "CP-1", "StatusNotification", map[string]any{
		"connectorId": float64(1),
		"errorCode":   "NoError",
		"status":      "Available",
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{}, reply)

	drain(t, p)
	require.Len(t, ms.StatusNotifications, 1)
	assert.Equal(t, "Available", ms.StatusNotifications[0].Status)
}

func TestValidationErrorPropagates(t *testing.T) {
	d, ms, p := newDispatcher(t)
	defer drain(t, p)

	_, err := d.Dispatch(context.Background(), "CP-1", "StartTransaction", map[string]any{
		"connectorId": float64(1),
	})
	require.Error(t, err)
	assert.Empty(t, ms.Transactions, "validation failure must not mutate state")
}
