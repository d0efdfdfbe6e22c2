package concurrency

import (
	"context"
	"fmt"
)

// Result holds one branch's outcome from a fan-out.
type Result[T any] struct {
	Value T
	Err   error
}

// Task is one branch of a homogeneous fan-out.
type Task[T any] func(ctx context.Context) (T, error)

// Parallel runs fns concurrently and returns their errors in input order.
// It never short-circuits: every branch runs to completion, and a panicking
// branch is captured as an error instead of poisoning the others.
func Parallel(ctx context.Context, fns ...func(ctx context.Context) error) []error {
	errs := make([]error, len(fns))
	done := make(chan int, len(fns))

	for i, fn := range fns {
		go func(i int, fn func(ctx context.Context) error) {
			defer func() {
				if r := recover(); r != nil {
					errs[i] = fmt.Errorf("fan-out branch panicked: %v", r)
				}
				done <- i
			}()
			errs[i] = fn(ctx)
		}(i, fn)
	}

	for range fns {
		<-done
	}
	return errs
}

// GatherOn runs the tasks through the worker pool and returns each branch's
// outcome in input order. A nil pool falls back to one goroutine per task.
func GatherOn[T any](ctx context.Context, pool *WorkerPool, tasks []Task[T]) []Result[T] {
	results := make([]Result[T], len(tasks))
	done := make(chan struct{}, len(tasks))

	for i, task := range tasks {
		run := func(i int, task Task[T]) func() {
			return func() {
				defer func() {
					if r := recover(); r != nil {
						results[i].Err = fmt.Errorf("fan-out branch panicked: %v", r)
					}
					done <- struct{}{}
				}()
				results[i].Value, results[i].Err = task(ctx)
			}
		}(i, task)

		if pool != nil {
			// Blocking submit keeps ordering pressure on the pool, not the venue.
			if err := pool.Submit(run); err != nil {
				results[i].Err = err
				done <- struct{}{}
			}
		} else {
			go run()
		}
	}

	for range tasks {
		<-done
	}
	return results
}

// FirstError returns the first non-nil error from a Parallel result set.
func FirstError(errs []error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
