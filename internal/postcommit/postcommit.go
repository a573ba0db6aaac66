// Package postcommit runs best-effort side effects after a primary mutation
// has committed. Hook failures are logged and counted, never returned.
package postcommit

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Hook is one named side effect.
type Hook struct {
	Name string
	Run  func(ctx context.Context) error
}

// FailureRecorder counts failed hooks by name.
type FailureRecorder interface {
	HookFailed(name string)
}

// Runner executes hooks. The zero value is usable.
//
// Background batches run one at a time on a single worker in the order Go
// was called, so an index write queued before a delete of the same document
// always lands first.
type Runner struct {
	logger   *slog.Logger
	failures FailureRecorder
	timeout  time.Duration
	wg       sync.WaitGroup

	mu       sync.Mutex
	queue    []batch
	draining bool
}

type batch struct {
	ctx   context.Context
	hooks []Hook
}

func NewRunner(logger *slog.Logger, failures FailureRecorder) *Runner {
	return &Runner{logger: logger, failures: failures, timeout: 5 * time.Second}
}

// Run executes hooks in order on the caller's goroutine. The hooks see a
// context detached from the request's cancellation.
func (r *Runner) Run(ctx context.Context, hooks ...Hook) {
	detached := context.WithoutCancel(ctx)
	for _, hook := range hooks {
		r.runOne(detached, hook)
	}
}

// Go queues hooks for the background worker. Batches run in submission
// order and the worker exits once the queue is empty.
func (r *Runner) Go(ctx context.Context, hooks ...Hook) {
	if len(hooks) == 0 {
		return
	}
	r.wg.Add(1)
	r.mu.Lock()
	r.queue = append(r.queue, batch{ctx: context.WithoutCancel(ctx), hooks: hooks})
	start := !r.draining
	r.draining = true
	r.mu.Unlock()
	if start {
		go r.drain()
	}
}

func (r *Runner) drain() {
	for {
		r.mu.Lock()
		if len(r.queue) == 0 {
			r.draining = false
			r.mu.Unlock()
			return
		}
		next := r.queue[0]
		r.queue[0] = batch{}
		r.queue = r.queue[1:]
		r.mu.Unlock()

		for _, hook := range next.hooks {
			r.runOne(next.ctx, hook)
		}
		r.wg.Done()
	}
}

// Wait blocks until every batch queued by Go has finished.
func (r *Runner) Wait() {
	r.wg.Wait()
}

func (r *Runner) runOne(ctx context.Context, hook Hook) {
	if hook.Run == nil {
		return
	}
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}
	if err := safeRun(ctx, hook); err != nil {
		r.log().Warn("post-commit hook failed", "hook", hook.Name, "error", err)
		if r.failures != nil {
			r.failures.HookFailed(hook.Name)
		}
	}
}

func safeRun(ctx context.Context, hook Hook) (err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			err = fmt.Errorf("panic: %v", recovered)
		}
	}()
	return hook.Run(ctx)
}

func (r *Runner) log() *slog.Logger {
	if r.logger != nil {
		return r.logger
	}
	return slog.Default()
}
