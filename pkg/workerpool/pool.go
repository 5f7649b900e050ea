// Package workerpool provides a bounded pool of workers for fanning out
// independent blocking calls, such as per-patient ledger reads.
package workerpool

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"
)

var (
	ErrPoolClosed     = errors.New("workerpool: pool is closed")
	ErrQueueFull      = errors.New("workerpool: task queue is full")
	ErrInvalidConfig  = errors.New("workerpool: invalid configuration")
	ErrForcedShutdown = errors.New("workerpool: forced shutdown after timeout")
)

// Config for a worker pool
type Config struct {
	Workers         int           // Number of workers
	QueueSize       int           // Task queue buffer size
	ShutdownTimeout time.Duration // Max wait time for graceful shutdown
	ErrorHandler    func(error)   // Callback for task errors and panics
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() Config {
	return Config{
		Workers:         runtime.NumCPU(),
		QueueSize:       256,
		ShutdownTimeout: 30 * time.Second,
	}
}

// Validate validates the configuration
func (c Config) Validate() error {
	if c.Workers <= 0 {
		return fmt.Errorf("%w: workers must be > 0, got %d", ErrInvalidConfig, c.Workers)
	}
	if c.QueueSize < 0 {
		return fmt.Errorf("%w: queue size must be >= 0, got %d", ErrInvalidConfig, c.QueueSize)
	}
	if c.ShutdownTimeout < 0 {
		return fmt.Errorf("%w: shutdown timeout must be >= 0, got %v", ErrInvalidConfig, c.ShutdownTimeout)
	}
	return nil
}

type task struct {
	fn  func() error
	ctx context.Context
}

// WorkerPool manages a fixed set of workers draining a shared task queue
type WorkerPool struct {
	config Config
	tasks  chan *task
	wg     sync.WaitGroup // worker goroutines
	ctx    context.Context
	cancel context.CancelFunc
	once   sync.Once
	closed atomic.Bool

	inflight  sync.WaitGroup // queued and running tasks, for Wait()
	completed atomic.Uint64
	failed    atomic.Uint64
}

// New creates a worker pool and starts its workers.
// Returns an error if the configuration is invalid.
func New(config Config) (*WorkerPool, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &WorkerPool{
		config: config,
		tasks:  make(chan *task, config.QueueSize),
		ctx:    ctx,
		cancel: cancel,
	}

	for i := 0; i < config.Workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}

	return p, nil
}

func (p *WorkerPool) worker() {
	defer p.wg.Done()

	for {
		select {
		case <-p.ctx.Done():
			return
		case t, ok := <-p.tasks:
			if !ok {
				return
			}
			p.execute(t)
		}
	}
}

func (p *WorkerPool) execute(t *task) {
	defer p.inflight.Done()

	defer func() {
		if r := recover(); r != nil {
			p.failed.Add(1)
			if p.config.ErrorHandler != nil {
				p.config.ErrorHandler(fmt.Errorf("workerpool: task panic: %v\n%s", r, debug.Stack()))
			}
		}
	}()

	// Skip tasks whose context expired while queued
	select {
	case <-t.ctx.Done():
		p.failed.Add(1)
		if p.config.ErrorHandler != nil {
			p.config.ErrorHandler(t.ctx.Err())
		}
		return
	default:
	}

	if err := t.fn(); err != nil {
		p.failed.Add(1)
		if p.config.ErrorHandler != nil {
			p.config.ErrorHandler(err)
		}
		return
	}
	p.completed.Add(1)
}

// Submit submits a task to the pool. Blocks while the queue is full.
// Returns ErrPoolClosed if the pool has been stopped.
func (p *WorkerPool) Submit(fn func() error) error {
	return p.SubmitWithContext(context.Background(), fn)
}

// SubmitWithContext submits a task bound to ctx. The task is dropped
// without executing if ctx is cancelled before a worker picks it up.
func (p *WorkerPool) SubmitWithContext(ctx context.Context, fn func() error) error {
	if p.closed.Load() {
		return ErrPoolClosed
	}

	t := &task{fn: fn, ctx: ctx}
	p.inflight.Add(1)

	select {
	case <-p.ctx.Done():
		p.inflight.Done()
		return ErrPoolClosed
	case p.tasks <- t:
		return nil
	}
}

// TrySubmit attempts to submit without blocking.
// Returns ErrQueueFull if no queue space is available.
func (p *WorkerPool) TrySubmit(fn func() error) error {
	if p.closed.Load() {
		return ErrPoolClosed
	}

	t := &task{fn: fn, ctx: context.Background()}

	select {
	case <-p.ctx.Done():
		return ErrPoolClosed
	case p.tasks <- t:
		p.inflight.Add(1)
		return nil
	default:
		return ErrQueueFull
	}
}

// Wait blocks until every task submitted so far has finished.
// It does not prevent new submissions; use Stop for shutdown.
func (p *WorkerPool) Wait() {
	p.inflight.Wait()
}

// Stop gracefully shuts down the pool: stops accepting tasks and waits
// for in-flight work up to ShutdownTimeout.
func (p *WorkerPool) Stop() error {
	var shutdownErr error

	p.once.Do(func() {
		p.closed.Store(true)
		p.cancel()
		close(p.tasks)

		done := make(chan struct{})
		go func() {
			p.wg.Wait()
			close(done)
		}()

		select {
		case <-done:
		case <-time.After(p.config.ShutdownTimeout):
			shutdownErr = ErrForcedShutdown
		}
	})

	return shutdownErr
}

// IsClosed reports whether the pool has been stopped
func (p *WorkerPool) IsClosed() bool {
	return p.closed.Load()
}

// Stats is a point-in-time snapshot of pool activity
type Stats struct {
	Workers   int
	Queued    int
	Completed uint64
	Failed    uint64
}

// Stats returns current pool statistics. Safe for concurrent use.
func (p *WorkerPool) Stats() Stats {
	return Stats{
		Workers:   p.config.Workers,
		Queued:    len(p.tasks),
		Completed: p.completed.Load(),
		Failed:    p.failed.Load(),
	}
}
