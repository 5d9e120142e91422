// Package pipeline decouples fast-path acknowledgement from persistence
// side effects. Each job kind runs on its own bounded worker pool; a job
// is attempted up to a fixed retry budget with doubling backoff, then
// dead-lettered.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"csms/internal/models"
	"csms/internal/store"

	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"
)

type Kind string

const (
	KindHeartbeat Kind = "heartbeat"
	KindStatus    Kind = "status"
	KindMeter     Kind = "meter"
)

var kinds = []Kind{KindHeartbeat, KindStatus, KindMeter}

// ErrClosed is returned by enqueue calls after Close has begun.
var ErrClosed = errors.New("pipeline closed")

// Handle identifies an accepted job. Nothing about the job's outcome
// flows back through it; exhausted jobs surface via logs and the
// failed_jobs table.
type Handle struct {
	ID   uuid.UUID
	Kind Kind
}

type HeartbeatJob struct {
	ChargePointId string    `json:"chargePointId"`
	Ts            time.Time `json:"ts"`
}

type StatusJob struct {
	ChargePointId string    `json:"chargePointId"`
	ConnectorId   int       `json:"connectorId"`
	Status        string    `json:"status"`
	ErrorCode     string    `json:"errorCode"`
	Info          string    `json:"info,omitempty"`
	Ts            time.Time `json:"ts"`
}

type MeterJob struct {
	ChargePointId string    `json:"chargePointId"`
	ConnectorId   int       `json:"connectorId"`
	TransactionId *int64    `json:"transactionId,omitempty"`
	Readings      []Reading `json:"readings"`
}

type Reading struct {
	Ts        time.Time `json:"ts"`
	Value     string    `json:"value"`
	Measurand string    `json:"measurand,omitempty"`
	Unit      string    `json:"unit,omitempty"`
	Context   string    `json:"context,omitempty"`
}

type Options struct {
	Workers  int           // per kind, default 5
	Attempts int           // default 3
	Backoff  time.Duration // first retry delay, doubles; default 2s
}

type Pipeline struct {
	gw    store.Gateway
	log   *zap.SugaredLogger
	opts  Options
	pools map[Kind]*ants.Pool

	mu     sync.Mutex // guards closed and wg.Add against Close's wg.Wait
	wg     sync.WaitGroup
	closed bool
}

func New(gw store.Gateway, log *zap.SugaredLogger, opts Options) (*Pipeline, error) {
	if opts.Workers <= 0 {
		opts.Workers = 5
	}
	if opts.Attempts <= 0 {
		opts.Attempts = 3
	}
	if opts.Backoff <= 0 {
		opts.Backoff = 2 * time.Second
	}

	pools := make(map[Kind]*ants.Pool, len(kinds))
	for _, k := range kinds {
		pool, err := ants.NewPool(opts.Workers)
		if err != nil {
			for _, p := range pools {
				p.Release()
			}
			return nil, fmt.Errorf("pipeline: pool for %s: %w", k, err)
		}
		pools[k] = pool
	}
	return &Pipeline{
		gw:    gw,
		log:   log.With("component", "pipeline"),
		opts:  opts,
		pools: pools,
	}, nil
}

func (p *Pipeline) EnqueueHeartbeat(job HeartbeatJob) (Handle, error) {
	return p.submit(KindHeartbeat, job, func(ctx context.Context) error {
		return p.gw.CreateHeartbeat(ctx, models.Heartbeat{ChargePointId: job.ChargePointId, Ts: job.Ts})
	})
}

func (p *Pipeline) EnqueueStatus(job StatusJob) (Handle, error) {
	return p.submit(KindStatus, job, func(ctx context.Context) error {
		return p.gw.CreateStatusNotification(ctx, models.StatusNotification{
			ChargePointId: job.ChargePointId,
			ConnectorId:   job.ConnectorId,
			Status:        job.Status,
			ErrorCode:     job.ErrorCode,
			Info:          job.Info,
			Ts:            job.Ts,
		})
	})
}

func (p *Pipeline) EnqueueMeter(job MeterJob) (Handle, error) {
	return p.submit(KindMeter, job, func(ctx context.Context) error {
		readings := make([]models.MeterReading, 0, len(job.Readings))
		for _, r := range job.Readings {
			readings = append(readings, models.MeterReading{
				ChargePointId: job.ChargePointId,
				ConnectorId:   job.ConnectorId,
				TransactionId: job.TransactionId,
				Ts:            r.Ts.UTC(),
				Value:         r.Value,
				Measurand:     r.Measurand,
				Unit:          r.Unit,
				Context:       r.Context,
			})
		}
		return p.gw.CreateMeterValues(ctx, readings)
	})
}

// submit hands the job to its kind's pool. Failures here are synchronous
// and belong to the caller; once accepted, the job never resurfaces.
func (p *Pipeline) submit(kind Kind, payload any, consume func(context.Context) error) (Handle, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return Handle{}, ErrClosed
	}
	p.wg.Add(1)
	p.mu.Unlock()

	h := Handle{ID: uuid.New(), Kind: kind}
	if err := p.pools[kind].Submit(func() {
		defer p.wg.Done()
		p.process(h, payload, consume)
	}); err != nil {
		p.wg.Done()
		return Handle{}, fmt.Errorf("pipeline: enqueue %s: %w", kind, err)
	}
	return h, nil
}

func (p *Pipeline) process(h Handle, payload any, consume func(context.Context) error) {
	ctx := context.Background()
	delay := p.opts.Backoff
	var lastErr error
	for attempt := 1; attempt <= p.opts.Attempts; attempt++ {
		if lastErr = consume(ctx); lastErr == nil {
			return
		}
		p.log.Warnw("job attempt failed",
			"kind", h.Kind, "job", h.ID, "attempt", attempt, "error", lastErr)
		if attempt < p.opts.Attempts {
			time.Sleep(delay)
			delay *= 2
		}
	}

	p.log.Errorw("job failed permanently",
		"kind", h.Kind, "job", h.ID, "attempts", p.opts.Attempts, "error", lastErr)
	raw, _ := json.Marshal(payload)
	if err := p.gw.CreateFailedJob(ctx, models.FailedJob{
		Kind:      string(h.Kind),
		Payload:   raw,
		Attempts:  p.opts.Attempts,
		LastError: lastErr.Error(),
		FailedAt:  time.Now().UTC(),
	}); err != nil {
		p.log.Errorw("dead-letter write failed", "kind", h.Kind, "job", h.ID, "error", err)
	}
}

// Close stops accepting jobs and waits for in-flight ones until the
// context expires, then releases the pools.
func (p *Pipeline) Close(ctx context.Context) error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		err = ctx.Err()
	}
	for _, pool := range p.pools {
		pool.Release()
	}
	return err
}
