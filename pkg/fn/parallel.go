package fn

import (
	"context"
	"sync"
)

// ParMap applies f to each item using a fixed number of workers fed from a
// channel, preserving order. Items not started before ctx is done are given
// the value returned by skipped.
func ParMap[T, U any](ctx context.Context, items []T, workers int, f func(context.Context, T) U, skipped func(T, error) U) []U {
	out := make([]U, len(items))
	if len(items) == 0 {
		return out
	}
	if workers <= 0 || workers > len(items) {
		workers = len(items)
	}

	jobs := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				if err := ctx.Err(); err != nil {
					out[i] = skipped(items[i], err)
					continue
				}
				out[i] = f(ctx, items[i])
			}
		}()
	}
	for i := range items {
		jobs <- i
	}
	close(jobs)
	wg.Wait()
	return out
}

// ParMapResult is ParMap for functions returning Result; skipped items fail
// with the context error.
func ParMapResult[T, U any](ctx context.Context, items []T, workers int, f func(context.Context, T) Result[U]) []Result[U] {
	return ParMap(ctx, items, workers, f, func(_ T, err error) Result[U] {
		return Err[U](err)
	})
}
