package workflow

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
)

// CronRunner fires the engine's schedules from inside the process. The
// scheduler binary uses asynq's scheduler instead; both land on TriggerCron,
// whose idempotency key collapses duplicate ticks.
type CronRunner struct {
	engine *Engine
	cron   *cron.Cron
}

// NewCronRunner binds every registered schedule to a UTC cron instance.
func NewCronRunner(ctx context.Context, engine *Engine) (*CronRunner, error) {
	c := cron.New(cron.WithLocation(time.UTC))
	for _, entry := range engine.CronEntries() {
		fnID := entry.FunctionID
		_, err := c.AddFunc(entry.Spec, func() {
			if _, err := engine.TriggerCron(ctx, fnID, engine.clock.Now()); err != nil {
				engine.log.Error("cron_trigger_failed", "function_id", fnID, "error", err)
			}
		})
		if err != nil {
			return nil, err
		}
	}
	return &CronRunner{engine: engine, cron: c}, nil
}

// Start begins firing schedules in the background.
func (r *CronRunner) Start() {
	r.cron.Start()
}

// Stop halts the schedule and waits for running triggers.
func (r *CronRunner) Stop() {
	<-r.cron.Stop().Done()
}

// NextTick returns when spec next fires after t.
func NextTick(spec string, t time.Time) (time.Time, error) {
	sched, err := cron.ParseStandard(spec)
	if err != nil {
		return time.Time{}, err
	}
	return sched.Next(t.UTC()), nil
}
