package asyncx

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// Result is the outcome of one call fanned out by AllSettled.
type Result[T any] struct {
	Value T
	Err   error
}

// OK reports whether the result carries no error.
func (r Result[T]) OK() bool { return r.Err == nil }

// AllSettled runs every fn concurrently and waits for all of them. It never
// short-circuits and returns one Result per fn in input order. A panicking
// fn settles with an ErrTaskPanic error instead of taking the caller down.
func AllSettled[T any](ctx context.Context, fns ...func(context.Context) (T, error)) []Result[T] {
	results := make([]Result[T], len(fns))
	var wg sync.WaitGroup
	for i, fn := range fns {
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					results[i].Err = asyncxErrors.NewWithCause(ErrTaskPanic, fmt.Errorf("%v", r)).WithDetail("index", i)
				}
			}()
			results[i].Value, results[i].Err = fn(ctx)
		}()
	}
	wg.Wait()
	return results
}

// Errors joins the failures among results, or returns nil when all are OK.
func Errors[T any](results []Result[T]) error {
	var errs []error
	for _, r := range results {
		if r.Err != nil {
			errs = append(errs, r.Err)
		}
	}
	return errors.Join(errs...)
}

// WithTimeout runs fn under a deadline of d. The caller gets
// context.DeadlineExceeded at the deadline even when fn ignores its
// context; fn is then left to finish in the background and its result is
// discarded. A panicking fn comes back as an ErrTaskPanic error.
func WithTimeout[T any](ctx context.Context, d time.Duration, fn func(context.Context) (T, error)) (T, error) {
	ctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	done := make(chan Result[T], 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- Result[T]{Err: asyncxErrors.NewWithCause(ErrTaskPanic, fmt.Errorf("%v", r))}
			}
		}()
		v, err := fn(ctx)
		done <- Result[T]{Value: v, Err: err}
	}()

	select {
	case r := <-done:
		return r.Value, r.Err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}
