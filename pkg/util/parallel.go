package util

import (
	"context"
	"errors"
	"sync"
)

// Parallel runs fn over inputs with at most workerLimit calls in flight.
// A failing input does not stop the others; all failures are joined. Inputs not
// yet started when ctx is done are skipped and ctx's error is included.
func Parallel[T any](ctx context.Context, inputs []T, workerLimit int, fn func(context.Context, T) error) error {
	if len(inputs) == 0 {
		return nil
	}
	workerLimit = min(max(workerLimit, 1), len(inputs))

	var (
		mu   sync.Mutex
		errs []error
		wg   sync.WaitGroup
	)
	slots := make(chan struct{}, workerLimit)

feed:
	for _, item := range inputs {
		select {
		case <-ctx.Done():
			break feed
		case slots <- struct{}{}:
		}
		wg.Add(1)
		go func(item T) {
			defer func() { <-slots; wg.Done() }()
			if err := fn(ctx, item); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
		}(item)
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
