// Package workerpool runs a fixed number of goroutines over a bounded queue.
package workerpool

import (
	"context"
	"sync"
)

// Pool is a fixed-size goroutine pool with a bounded input queue.
type Pool[T any] struct {
	queue     chan T
	process   func(ctx context.Context, t T)
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// New creates and starts a pool with n goroutines and queue capacity depth.
// Workers stop when ctx is cancelled or the pool is drained.
func New[T any](ctx context.Context, n, depth int, fn func(context.Context, T)) *Pool[T] {
	if n < 1 {
		n = 1
	}
	if depth < 0 {
		depth = 0
	}
	p := &Pool[T]{
		queue:   make(chan T, depth),
		process: fn,
	}
	for i := 0; i < n; i++ {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			p.run(ctx)
		}()
	}
	return p
}

func (p *Pool[T]) run(ctx context.Context) {
	for {
		select {
		case t, ok := <-p.queue:
			if !ok {
				return
			}
			p.process(ctx, t)
		case <-ctx.Done():
			return
		}
	}
}

// TrySubmit enqueues a job without blocking (returns false if full).
func (p *Pool[T]) TrySubmit(t T) bool {
	select {
	case p.queue <- t:
		return true
	default:
		return false
	}
}

// Submit enqueues a job, waiting for queue space until ctx is done.
func (p *Pool[T]) Submit(ctx context.Context, t T) error {
	select {
	case p.queue <- t:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Drain closes the queue and waits for all workers to finish.
// Queued jobs still run unless the pool's context is cancelled.
func (p *Pool[T]) Drain() {
	p.closeOnce.Do(func() { close(p.queue) })
	p.wg.Wait()
}

// Len returns how many jobs are currently queued.
func (p *Pool[T]) Len() int {
	return len(p.queue)
}

// Cap returns the total queue capacity.
func (p *Pool[T]) Cap() int {
	return cap(p.queue)
}
