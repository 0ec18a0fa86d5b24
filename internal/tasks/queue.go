// Package tasks runs fire-and-forget work off the request path on a fixed pool of workers.
package tasks

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/lifelink/lifelink/pkg/logger"
	"github.com/lifelink/lifelink/pkg/metrics"
)

const (
	defaultWorkers     = 4
	defaultQueueSize   = 256
	defaultTaskTimeout = 30 * time.Second
)

// ErrQueueClosed is returned by Submit after Shutdown has started.
var ErrQueueClosed = errors.New("tasks: queue closed")

// ErrQueueFull is returned by Submit when the buffer has no room left.
var ErrQueueFull = errors.New("tasks: queue full")

// Func is a unit of background work.
type Func func(ctx context.Context) error

// Config sizes the queue.
type Config struct {
	Workers     int
	QueueSize   int
	TaskTimeout time.Duration
}

type job struct {
	name string
	fn   Func
}

// Queue is a bounded in-process work queue. Submit never blocks; work that does not fit is dropped
// and counted.
type Queue struct {
	cfg  Config
	jobs chan job
	wg   sync.WaitGroup
	log  *zap.Logger

	mu     sync.RWMutex
	closed bool

	stopOnce sync.Once
	base     context.Context
	cancel   context.CancelFunc
}

// NewQueue starts the worker pool.
func NewQueue(cfg Config) *Queue {
	if cfg.Workers <= 0 {
		cfg.Workers = defaultWorkers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}
	if cfg.TaskTimeout <= 0 {
		cfg.TaskTimeout = defaultTaskTimeout
	}

	base, cancel := context.WithCancel(context.Background())
	q := &Queue{
		cfg:    cfg,
		jobs:   make(chan job, cfg.QueueSize),
		log:    logger.WithModule("tasks"),
		base:   base,
		cancel: cancel,
	}

	q.wg.Add(cfg.Workers)
	for i := 0; i < cfg.Workers; i++ {
		go q.worker()
	}
	return q
}

// Submit enqueues fn under the supplied name.
func (q *Queue) Submit(name string, fn Func) error {
	if fn == nil {
		return errors.New("tasks: func is required")
	}

	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		metrics.BackgroundTasks.WithLabelValues(name, "dropped").Inc()
		return ErrQueueClosed
	}

	select {
	case q.jobs <- job{name: name, fn: fn}:
		return nil
	default:
		metrics.BackgroundTasks.WithLabelValues(name, "dropped").Inc()
		q.log.Warn("task dropped, queue full", zap.String("task", name), zap.Int("capacity", q.cfg.QueueSize))
		return ErrQueueFull
	}
}

// Shutdown stops accepting work and waits for queued tasks to finish. When ctx ends first the
// remaining tasks see a cancelled context.
func (q *Queue) Shutdown(ctx context.Context) error {
	q.stopOnce.Do(func() {
		q.mu.Lock()
		q.closed = true
		close(q.jobs)
		q.mu.Unlock()
	})

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		q.cancel()
		return nil
	case <-ctx.Done():
		q.cancel()
		<-done
		return fmt.Errorf("tasks: shutdown: %w", ctx.Err())
	}
}

func (q *Queue) worker() {
	defer q.wg.Done()
	for j := range q.jobs {
		q.run(j)
	}
}

func (q *Queue) run(j job) {
	ctx, cancel := context.WithTimeout(q.base, q.cfg.TaskTimeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			metrics.BackgroundTasks.WithLabelValues(j.name, "error").Inc()
			q.log.Error("task panicked", zap.String("task", j.name), zap.Any("panic", r))
		}
	}()

	if err := j.fn(ctx); err != nil {
		metrics.BackgroundTasks.WithLabelValues(j.name, "error").Inc()
		q.log.Warn("task failed", zap.String("task", j.name), zap.Error(err))
		return
	}
	metrics.BackgroundTasks.WithLabelValues(j.name, "ok").Inc()
}
