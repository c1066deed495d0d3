package manager

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// slot is the exclusive right to touch the pipeline and device memory. It
// counts waiters so status can report contention.
type slot struct {
	sem     *semaphore.Weighted
	waiting atomic.Int64
	busy    atomic.Bool
}

func newSlot() *slot { return &slot{sem: semaphore.NewWeighted(1)} }

// acquire blocks until the slot is free or ctx is done. Returns a release
// func to be deferred and the context to run the held work under.
//
// ctx bounds only the wait. The returned context keeps ctx's values but drops
// its cancellation: the worker keeps computing after a dropped request, so
// abandoning a call half way would free the slot while the device is busy.
func (m *Manager) acquire(ctx context.Context) (context.Context, func(), error) {
	// Fast path: respect an already-canceled context
	if err := ctx.Err(); err != nil {
		return ctx, func() {}, err
	}
	m.slot.waiting.Add(1)
	slotWaiting.Inc()
	err := m.slot.sem.Acquire(ctx, 1)
	m.slot.waiting.Add(-1)
	slotWaiting.Dec()
	if err != nil {
		return ctx, func() {}, err
	}
	m.slot.busy.Store(true)
	return context.WithoutCancel(ctx), func() {
		m.slot.busy.Store(false)
		m.slot.sem.Release(1)
	}, nil
}
