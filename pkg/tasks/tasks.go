// Package tasks runs periodic background jobs with panic recovery.
package tasks

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"tunelink-backend/pkg/logger"
)

// Job is a unit of periodic background work. Errors are logged, not fatal.
type Job func(ctx context.Context) error

// Runner schedules periodic jobs and stops them all on Shutdown
type Runner struct {
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

// NewRunner creates a runner whose jobs stop when parent is cancelled
func NewRunner(parent context.Context) *Runner {
	ctx, cancel := context.WithCancel(parent)
	return &Runner{ctx: ctx, cancel: cancel}
}

// Every schedules job to run at the given interval until shutdown.
// A panicking run is recovered and logged; the schedule continues.
func (r *Runner) Every(interval time.Duration, name string, job Job) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-r.ctx.Done():
				return
			case <-ticker.C:
				r.run(name, job)
			}
		}
	}()
}

// Detach runs job once in the background. Used for fire-and-forget work
// like retention trims; failures are logged, never returned to the caller.
func (r *Runner) Detach(name string, job Job) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.run(name, job)
	}()
}

func (r *Runner) run(name string, job Job) {
	defer func() {
		if rec := recover(); rec != nil {
			logger.Error("Background job panicked",
				zap.String("job", name),
				zap.Any("panic", rec))
		}
	}()

	start := time.Now()
	if err := job(r.ctx); err != nil {
		logger.Warn("Background job failed",
			zap.String("job", name),
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err))
		return
	}

	logger.Debug("Background job completed",
		zap.String("job", name),
		zap.Duration("elapsed", time.Since(start)))
}

// Shutdown cancels all jobs and waits for in-flight runs to finish
func (r *Runner) Shutdown() {
	r.cancel()
	r.wg.Wait()
}
