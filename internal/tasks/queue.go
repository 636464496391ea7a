// Package tasks runs fire-and-forget side effects on a bounded worker pool.
package tasks

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrQueueFull is returned by Submit when the buffer is saturated; the task is dropped.
var ErrQueueFull = errors.New("task queue full")

// ErrClosed is returned by Submit after Shutdown.
var ErrClosed = errors.New("task queue closed")

// Func is a unit of background work. Its error is logged, never returned to the submitter.
type Func func(ctx context.Context) error

// Dispatcher is the submit side of a queue.
type Dispatcher interface {
	Submit(name string, fn Func) error
}

type task struct {
	name string
	fn   Func
}

// Queue is a fixed pool of workers draining a buffered channel.
type Queue struct {
	ch      chan task
	timeout time.Duration
	logger  *zap.SugaredLogger

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// NewQueue starts workers goroutines. Each task runs with its own timeout.
func NewQueue(workers, size int, timeout time.Duration, logger *zap.SugaredLogger) *Queue {
	if workers <= 0 {
		workers = 1
	}
	if size <= 0 {
		size = 64
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	q := &Queue{ch: make(chan task, size), timeout: timeout, logger: logger}
	q.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go q.work()
	}
	return q
}

// Submit enqueues fn without blocking.
func (q *Queue) Submit(name string, fn Func) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrClosed
	}
	select {
	case q.ch <- task{name: name, fn: fn}:
		return nil
	default:
		q.logger.Warnw("task dropped", "task", name, "err", ErrQueueFull)
		return ErrQueueFull
	}
}

func (q *Queue) work() {
	defer q.wg.Done()
	for t := range q.ch {
		q.run(t)
	}
}

func (q *Queue) run(t task) {
	ctx, cancel := context.WithTimeout(context.Background(), q.timeout)
	defer cancel()
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			q.logger.Errorw("task panicked", "task", t.name, "panic", r)
		}
	}()
	if err := t.fn(ctx); err != nil {
		q.logger.Errorw("task failed", "task", t.name, "err", err, "duration_ms", time.Since(start).Milliseconds())
		return
	}
	q.logger.Debugw("task done", "task", t.name, "duration_ms", time.Since(start).Milliseconds())
}

// Shutdown stops accepting tasks and waits for queued ones until ctx is done.
func (q *Queue) Shutdown(ctx context.Context) error {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.ch)
	}
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Inline runs tasks synchronously on Submit. Used in tests and CLI tools.
type Inline struct {
	Logger *zap.SugaredLogger
}

func (i Inline) Submit(name string, fn Func) error {
	if err := fn(context.Background()); err != nil && i.Logger != nil {
		i.Logger.Errorw("task failed", "task", name, "err", err)
	}
	return nil
}
