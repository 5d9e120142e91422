// Package dispatcher routes decoded OCPP calls to their handlers and
// shapes protocol-conformant replies.
package dispatcher

import (
	"context"
	"time"

	"csms/internal/core"
	"csms/internal/ocpp"
	"csms/internal/pipeline"

	"go.uber.org/zap"
)

// NotImplementedError reports an action with no handler.
type NotImplementedError struct{ Action string }

func (e *NotImplementedError) Error() string { return "action not implemented: " + e.Action }

type Dispatcher struct {
	core     *core.Service
	pipeline *pipeline.Pipeline
	log      *zap.SugaredLogger
	interval time.Duration
	now      func() time.Time
}

func New(c *core.Service, p *pipeline.Pipeline, log *zap.SugaredLogger, heartbeatInterval time.Duration) *Dispatcher {
	if heartbeatInterval <= 0 {
		heartbeatInterval = 300 * time.Second
	}
	return &Dispatcher{
		core:     c,
		pipeline: p,
		log:      log.With("component", "dispatcher"),
		interval: heartbeatInterval,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Dispatch invokes the handler for action and returns the reply payload.
// Handler errors propagate unmodified; the transport renders them as
// CallError frames.
func (d *Dispatcher) Dispatch(ctx context.Context, cpId, action string, payload map[string]any) (any, error) {
	if err := d.core.Seen(ctx, cpId, d.now()); err != nil {
		d.log.Warnw("last-seen refresh failed", "charge_point", cpId, "error", err)
	}
	switch action {
	case "BootNotification":
		return d.bootNotification(ctx, cpId, payload)
	case "Heartbeat":
		return d.heartbeat(cpId)
	case "Authorize":
		return d.authorize(ctx, cpId, payload)
	case "StartTransaction":
		return d.startTransaction(ctx, cpId, payload)
	case "StopTransaction":
		return d.stopTransaction(ctx, cpId, payload)
	case "StatusNotification":
		return d.statusNotification(cpId, payload)
	case "MeterValues":
		return d.meterValues(cpId, payload)
	default:
		d.log.Warnw("unknown action", "charge_point", cpId, "action", action)
		return nil, &NotImplementedError{Action: action}
	}
}

func (d *Dispatcher) bootNotification(ctx context.Context, cpId string, payload map[string]any) (any, error) {
	req, err := ocpp.DecodeBootNotification(payload)
	if err != nil {
		return nil, err
	}
	if err := d.core.Boot(ctx, cpId, req); err != nil {
		return nil, err
	}
	return map[string]any{
		"status":      "Accepted",
		"currentTime": d.now().Format(time.RFC3339),
		"interval":    int(d.interval.Seconds()),
	}, nil
}

func (d *Dispatcher) heartbeat(cpId string) (any, error) {
	now := d.now()
	if _, err := d.pipeline.EnqueueHeartbeat(pipeline.HeartbeatJob{ChargePointId: cpId, Ts: now}); err != nil {
		return nil, err
	}
	return map[string]any{"currentTime": now.Format(time.RFC3339)}, nil
}

func (d *Dispatcher) authorize(ctx context.Context, cpId string, payload map[string]any) (any, error) {
	req, err := ocpp.DecodeAuthorize(payload)
	if err != nil {
		return nil, err
	}
	a, err := d.core.Authorize(ctx, cpId, req.IdTag)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"idTagInfo": map[string]any{
			"status":     a.Status,
			"expiryDate": a.ExpiryDate.Format(time.RFC3339),
		},
	}, nil
}

func (d *Dispatcher) startTransaction(ctx context.Context, cpId string, payload map[string]any) (any, error) {
	req, err := ocpp.DecodeStartTransaction(payload)
	if err != nil {
		return nil, err
	}
	tx, err := d.core.StartTransaction(ctx, cpId, req)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"transactionId": tx.TransactionId,
		"idTagInfo":     map[string]any{"status": "Accepted"},
	}, nil
}

func (d *Dispatcher) stopTransaction(ctx context.Context, cpId string, payload map[string]any) (any, error) {
	req, err := ocpp.DecodeStopTransaction(payload)
	if err != nil {
		return nil, err
	}
	txId := req.TransactionId
	if _, err := d.core.StopTransaction(ctx, cpId, core.StopRequest{
		TransactionId: &txId,
		IdTag:         req.IdTag,
		MeterStop:     req.MeterStop,
		Timestamp:     req.Timestamp,
		Reason:        req.Reason,
	}); err != nil {
		return nil, err
	}
	return map[string]any{
		"idTagInfo": map[string]any{"status": "Accepted"},
	}, nil
}

func (d *Dispatcher) statusNotification(cpId string, payload map[string]any) (any, error) {
	req, err := ocpp.DecodeStatusNotification(payload)
	if err != nil {
		return nil, err
	}
	ts := req.Timestamp
	if ts.IsZero() {
		ts = d.now()
	}
	if _, err := d.pipeline.EnqueueStatus(pipeline.StatusJob{
		ChargePointId: cpId,
		ConnectorId:   req.ConnectorId,
		Status:        req.Status,
		ErrorCode:     req.ErrorCode,
		Info:          req.Info,
		Ts:            ts,
	}); err != nil {
		return nil, err
	}
	return map[string]any{}, nil
}

func (d *Dispatcher) meterValues(cpId string, payload map[string]any) (any, error) {
	req, err := ocpp.DecodeMeterValues(payload)
	if err != nil {
		return nil, err
	}
	job := pipeline.MeterJob{
		ChargePointId: cpId,
		ConnectorId:   req.ConnectorId,
		TransactionId: req.TransactionId,
		Readings:      flattenReadings(req, d.now()),
	}
	if _, err := d.pipeline.EnqueueMeter(job); err != nil {
		return nil, err
	}
	return map[string]any{}, nil
}

// flattenReadings expands the nested meterValue structure into one flat
// reading per (entry, sampled value) pair, copying each entry's
// timestamp onto its readings.
func flattenReadings(req *ocpp.MeterValuesReq, now time.Time) []pipeline.Reading {
	var out []pipeline.Reading
	for _, entry := range req.MeterValue {
		ts := entry.Timestamp
		if ts.IsZero() {
			ts = now
		}
		for _, sv := range entry.SampledValue {
			out = append(out, pipeline.Reading{
				Ts:        ts.UTC(),
				Value:     sv.Value,
				Measurand: sv.Measurand,
				Unit:      sv.Unit,
				Context:   sv.Context,
			})
		}
	}
	return out
}
