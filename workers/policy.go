// Package workers decides how per-connection handlers are scheduled. The
// tracker and the seeder run every accepted connection through a Policy, so
// the wire protocol stays independent of the concurrency strategy.
package workers

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

// Policy runs tasks and tracks them until they return.
type Policy interface {
	// Go schedules task. Bounded policies block until a slot is free or ctx
	// is done, in which case task is not run and ctx.Err() is returned.
	Go(ctx context.Context, task func()) error
	// Wait blocks until every task started through Go has returned.
	Wait()
}

// Unbounded starts one goroutine per task with no limit.
func Unbounded() Policy {
	return &unbounded{}
}

type unbounded struct {
	wg sync.WaitGroup
}

func (u *unbounded) Go(_ context.Context, task func()) error {
	u.wg.Add(1)
	go func() {
		defer u.wg.Done()
		task()
	}()
	return nil
}

func (u *unbounded) Wait() { u.wg.Wait() }

// Limited runs at most n tasks at once, acting as a fixed-size pool. Callers
// of Go queue behind the semaphore while the pool is full. n <= 0 means
// Unbounded.
func Limited(n int) Policy {
	if n <= 0 {
		return Unbounded()
	}
	return &limited{sem: semaphore.NewWeighted(int64(n))}
}

type limited struct {
	sem *semaphore.Weighted
	wg  sync.WaitGroup
}

func (l *limited) Go(ctx context.Context, task func()) error {
	if err := l.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		defer l.sem.Release(1)
		task()
	}()
	return nil
}

func (l *limited) Wait() { l.wg.Wait() }
