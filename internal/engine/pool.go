package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// ErrPoolClosed is returned by Submit after Close.
var ErrPoolClosed = errors.New("worker pool closed")

type job struct {
	ctx  context.Context
	fn   func(context.Context)
	done chan struct{}
	err  error
}

// Pool runs agent work on a fixed set of workers so that blocking model
// and storage calls never occupy connection goroutines beyond its bound.
type Pool struct {
	jobs   chan *job
	quit   chan struct{}
	logger *slog.Logger

	mu     sync.RWMutex
	closed bool
	once   sync.Once
	wg     sync.WaitGroup
}

// NewPool starts workers goroutines with a queue of queueDepth pending jobs.
func NewPool(workers, queueDepth int, logger *slog.Logger) *Pool {
	if workers <= 0 {
		workers = 4
	}
	if queueDepth <= 0 {
		queueDepth = workers * 4
	}
	if logger == nil {
		logger = slog.Default()
	}
	p := &Pool{
		jobs:   make(chan *job, queueDepth),
		quit:   make(chan struct{}),
		logger: logger.With("component", "pool"),
	}
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			p.worker()
		}()
	}
	return p
}

func (p *Pool) worker() {
	for {
		select {
		case <-p.quit:
			return
		case j := <-p.jobs:
			p.run(j)
		}
	}
}

func (p *Pool) run(j *job) {
	defer close(j.done)
	defer func() {
		if r := recover(); r != nil {
			p.logger.ErrorContext(j.ctx, "pool job panicked", "panic", fmt.Sprint(r))
			j.err = fmt.Errorf("pool job panicked: %v", r)
		}
	}()
	j.fn(j.ctx)
}

// Submit queues fn and waits for it to finish. fn receives a context that
// keeps ctx's values but is not cancelled with it, so a started run always
// completes. Submit returns ctx.Err() if ctx ends first.
func (p *Pool) Submit(ctx context.Context, fn func(context.Context)) error {
	j := &job{ctx: context.WithoutCancel(ctx), fn: fn, done: make(chan struct{})}

	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		return ErrPoolClosed
	}
	select {
	case p.jobs <- j:
	case <-p.quit:
		p.mu.RUnlock()
		return ErrPoolClosed
	case <-ctx.Done():
		p.mu.RUnlock()
		return ctx.Err()
	}
	p.mu.RUnlock()

	select {
	case <-j.done:
		return j.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops the workers after their current job. Queued jobs that never
// started fail with ErrPoolClosed.
func (p *Pool) Close() {
	p.once.Do(func() {
		close(p.quit)
		p.mu.Lock()
		p.closed = true
		p.mu.Unlock()
		p.wg.Wait()
		for {
			select {
			case j := <-p.jobs:
				j.err = ErrPoolClosed
				close(j.done)
			default:
				return
			}
		}
	})
}
