package workflow

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Queue delivers run ids to workers at or after a given time. Delivery may
// be duplicated or lost: the store is the source of truth and the sweeper
// re-enqueues anything a queue dropped.
type Queue interface {
	Enqueue(ctx context.Context, runID uuid.UUID, at time.Time) error
}

type localItem struct {
	runID uuid.UUID
	at    time.Time
}

// LocalQueue holds run ids in memory. Engine.Drain executes what is due.
type LocalQueue struct {
	mu    sync.Mutex
	items []localItem
}

// NewLocalQueue creates an empty LocalQueue.
func NewLocalQueue() *LocalQueue {
	return &LocalQueue{}
}

func (q *LocalQueue) Enqueue(_ context.Context, runID uuid.UUID, at time.Time) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, localItem{runID: runID, at: at})
	return nil
}

// PopDue removes and returns distinct run ids due at now, earliest first.
func (q *LocalQueue) PopDue(now time.Time) []uuid.UUID {
	q.mu.Lock()
	defer q.mu.Unlock()

	sort.SliceStable(q.items, func(i, j int) bool { return q.items[i].at.Before(q.items[j].at) })
	seen := make(map[uuid.UUID]bool)
	var due []uuid.UUID
	rest := q.items[:0]
	for _, it := range q.items {
		if it.at.After(now) {
			rest = append(rest, it)
			continue
		}
		if !seen[it.runID] {
			seen[it.runID] = true
			due = append(due, it.runID)
		}
	}
	q.items = rest
	return due
}

// Len reports how many deliveries are pending.
func (q *LocalQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// RunLocal drains the engine on every tick until ctx ends. It backs the
// single-process mode where no task queue is configured.
func (e *Engine) RunLocal(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := e.Drain(ctx); err != nil {
				e.log.Error("local_drain_failed", "error", err)
			}
		}
	}
}
