package scheduler

import (
	"context"
	"time"

	"salespipeline_backend/platform/logger"
)

const (
	defaultDispatchInterval = 2 * time.Second
	defaultSweepInterval    = 15 * time.Second
	dispatchBatch           = 100
	sweepBatch              = 200
)

// RunPump is the part of the engine that turns stored events and due runs
// into queue deliveries.
type RunPump interface {
	Dispatch(ctx context.Context, limit int) (int, error)
	Sweep(ctx context.Context, limit int) (int, error)
}

// Dispatcher fans pending events out into runs and re-enqueues runs that are
// due or whose worker lease expired.
type Dispatcher struct {
	pump             RunPump
	log              *logger.Logger
	dispatchInterval time.Duration
	sweepInterval    time.Duration
}

func NewDispatcher(pump RunPump, log *logger.Logger, dispatchInterval, sweepInterval time.Duration) *Dispatcher {
	if dispatchInterval <= 0 {
		dispatchInterval = defaultDispatchInterval
	}
	if sweepInterval <= 0 {
		sweepInterval = defaultSweepInterval
	}
	if log == nil {
		log = logger.Discard()
	}
	return &Dispatcher{
		pump:             pump,
		log:              log,
		dispatchInterval: dispatchInterval,
		sweepInterval:    sweepInterval,
	}
}

func (d *Dispatcher) Run(ctx context.Context) {
	if d == nil || d.pump == nil {
		return
	}

	dispatch := time.NewTicker(d.dispatchInterval)
	defer dispatch.Stop()
	sweep := time.NewTicker(d.sweepInterval)
	defer sweep.Stop()

	d.sweep(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-dispatch.C:
			d.dispatch(ctx)
		case <-sweep.C:
			d.sweep(ctx)
		}
	}
}

// dispatch keeps going while full batches come back.
func (d *Dispatcher) dispatch(ctx context.Context) {
	for ctx.Err() == nil {
		n, err := d.pump.Dispatch(ctx, dispatchBatch)
		if err != nil {
			d.log.Warn("event dispatch failed", "error", err)
			return
		}
		if n < dispatchBatch {
			return
		}
	}
}

func (d *Dispatcher) sweep(ctx context.Context) {
	n, err := d.pump.Sweep(ctx, sweepBatch)
	if err != nil {
		d.log.Warn("run sweep failed", "error", err)
		return
	}
	if n > 0 {
		d.log.Info("run sweep re-enqueued runs", "count", n)
	}
}
