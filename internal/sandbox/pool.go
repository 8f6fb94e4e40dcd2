package sandbox

import (
	"context"
	"time"
)

// Pool bounds concurrent sandbox invocations. Runs past the ceiling wait
// briefly for a slot and are then rejected as a data error, never queued
// without bound.
type Pool struct {
	runner  *Runner
	slots   chan struct{}
	maxWait time.Duration
}

func NewPool(runner *Runner, size int, maxWait time.Duration) *Pool {
	if size <= 0 {
		size = 1
	}
	return &Pool{
		runner:  runner,
		slots:   make(chan struct{}, size),
		maxWait: maxWait,
	}
}

// Run executes through the pool. Admission failure is reported inside the
// result like every other execution failure.
func (p *Pool) Run(ctx context.Context, code, language string) Result {
	start := time.Now()
	wait := time.NewTimer(p.maxWait)
	defer wait.Stop()

	select {
	case p.slots <- struct{}{}:
	case <-wait.C:
		return Result{
			Error:         "Code executor is at capacity, try again shortly",
			ExecutionTime: time.Since(start).Milliseconds(),
		}
	case <-ctx.Done():
		return Result{
			Error:         "Execution cancelled",
			ExecutionTime: time.Since(start).Milliseconds(),
		}
	}
	defer func() { <-p.slots }()

	return p.runner.Execute(ctx, code, language)
}
