package executor

import (
	"context"
	"fmt"

	"github.com/hyperengineering/synccore/internal/model"
	"github.com/hyperengineering/synccore/internal/ratelimit"
)

// Map runs fn over every item under bounded concurrency at normal priority
// and returns results in input order.
func Map(ctx context.Context, cfg Config, limiter ratelimit.Limiter, items []interface{}, fn func(context.Context, interface{}) (interface{}, error)) ([]Result, error) {
	e := New(cfg, limiter)
	stop, done := e.Start(ctx)
	defer stop()

	for i, item := range items {
		i, item := i, item
		if err := e.Submit(ctx, Task{
			ID:       fmt.Sprintf("map-%d", i),
			Priority: model.PriorityNormal,
			Run: func(taskCtx context.Context) (interface{}, error) {
				return fn(taskCtx, item)
			},
		}); err != nil {
			return nil, err
		}
	}

	if err := e.WaitIdle(ctx); err != nil {
		return nil, err
	}
	stop()
	<-done

	results := make([]Result, len(items))
	for i := range items {
		r, _ := e.Result(fmt.Sprintf("map-%d", i))
		results[i] = r
	}
	return results, nil
}

// All runs a fixed set of functions to completion and returns their results
// in the same order.
func All(ctx context.Context, fns []Fn) []Result {
	results := make([]Result, len(fns))
	done := make(chan struct{}, len(fns))

	for i, fn := range fns {
		i, fn := i, fn
		go func() {
			value, err := fn(ctx)
			results[i] = Result{ID: fmt.Sprintf("all-%d", i), Value: value, Err: err, Success: err == nil}
			done <- struct{}{}
		}()
	}

	for range fns {
		<-done
	}
	return results
}

// Race runs every fn concurrently and returns the first successful result.
// If every fn fails, the last observed failure is returned.
func Race(ctx context.Context, fns []Fn) (Result, error) {
	out := make(chan Result, len(fns))
	raceCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	for i, fn := range fns {
		i, fn := i, fn
		go func() {
			value, err := fn(raceCtx)
			out <- Result{ID: fmt.Sprintf("race-%d", i), Value: value, Err: err, Success: err == nil}
		}()
	}

	var lastFailure Result
	for range fns {
		r := <-out
		if r.Success {
			cancel()
			return r, nil
		}
		lastFailure = r
	}
	return lastFailure, lastFailure.Err
}
