// Package workerpool runs one cycle's per-instrument tasks over a fixed
// number of goroutines.
package workerpool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"
)

// ErrTaskPanic marks a task that panicked; the pool recovers it.
var ErrTaskPanic = errors.New("task panicked")

// Task is one unit of work, usually one instrument.
type Task struct {
	Key string
	Run func(ctx context.Context) error
}

// Result reports the outcome of one task. Skipped tasks were never started
// because the cycle context ended first.
type Result struct {
	Key      string
	Err      error
	Duration time.Duration
	Skipped  bool
}

// Pool fans tasks over Size workers. Each task gets its own deadline
// derived from the cycle context.
type Pool struct {
	size        int
	taskTimeout time.Duration
	logger      *slog.Logger
}

// New creates a pool. size <= 0 means 10; taskTimeout <= 0 disables the
// per-task deadline.
func New(size int, taskTimeout time.Duration, logger *slog.Logger) *Pool {
	if size <= 0 {
		size = 10
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pool{size: size, taskTimeout: taskTimeout, logger: logger}
}

// Size returns the number of workers.
func (p *Pool) Size() int { return p.size }

// Run executes tasks and blocks until every started task returns.
// Results are in task order. Once ctx is done no further task starts;
// those not started are reported Skipped with ctx's error.
func (p *Pool) Run(ctx context.Context, tasks []Task) []Result {
	results := make([]Result, len(tasks))
	if len(tasks) == 0 {
		return results
	}

	jobs := make(chan int)
	var wg sync.WaitGroup
	workers := min(p.size, len(tasks))
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go p.worker(ctx, i, tasks, results, jobs, &wg)
	}

	next := 0
feed:
	for ; next < len(tasks) && ctx.Err() == nil; next++ {
		select {
		case <-ctx.Done():
			break feed
		case jobs <- next:
		}
	}
	close(jobs)
	wg.Wait()

	for i := next; i < len(tasks); i++ {
		results[i] = Result{Key: tasks[i].Key, Err: ctx.Err(), Skipped: true}
	}
	if next < len(tasks) {
		p.logger.Warn("cycle cancelled before all tasks started",
			"started", next, "skipped", len(tasks)-next, "error", ctx.Err())
	}
	return results
}

func (p *Pool) worker(ctx context.Context, id int, tasks []Task, results []Result, jobs <-chan int, wg *sync.WaitGroup) {
	defer wg.Done()

	p.logger.Debug("worker started", "worker_id", id)
	defer p.logger.Debug("worker stopped", "worker_id", id)

	for i := range jobs {
		start := time.Now()
		err := p.runOne(ctx, tasks[i])
		results[i] = Result{Key: tasks[i].Key, Err: err, Duration: time.Since(start)}
	}
}

func (p *Pool) runOne(ctx context.Context, t Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("task panic recovered", "key", t.Key, "panic", r, "stack", string(debug.Stack()))
			err = fmt.Errorf("%w: %s: %v", ErrTaskPanic, t.Key, r)
		}
	}()

	if p.taskTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.taskTimeout)
		defer cancel()
	}
	return t.Run(ctx)
}
