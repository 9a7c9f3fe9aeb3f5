package engine

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"
)

// Batch defaults used by the rankings enrichment path.
const (
	DefaultBatchWidth = 10
	DefaultBatchPause = 100 * time.Millisecond
)

// BatchOptions controls FetchBatch.
type BatchOptions struct {
	Width int
	Pause time.Duration
	Sleep func(ctx context.Context, d time.Duration) error
	// OnBatch is called before each batch starts with its index and size.
	OnBatch func(index, size int)
}

// FetchBatch runs fn over items in sequential batches of Width. Calls within a
// batch run concurrently and do not cancel one another; the next batch starts
// after the previous one has fully settled. Pause separates consecutive
// batches and is not applied after the last one. Results keep input order.
//
// If ctx is cancelled during a pause, the remaining items are skipped and the
// context error is returned with the results gathered so far.
func FetchBatch[T, R any](ctx context.Context, items []T, opts BatchOptions, fn func(ctx context.Context, item T) R) ([]R, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	width := opts.Width
	if width <= 0 {
		width = DefaultBatchWidth
	}
	sleep := opts.Sleep
	if sleep == nil {
		sleep = SleepContext
	}

	results := make([]R, len(items))
	for start, index := 0, 0; start < len(items); start, index = start+width, index+1 {
		end := min(start+width, len(items))
		if opts.OnBatch != nil {
			opts.OnBatch(index, end-start)
		}

		var group errgroup.Group
		for i := start; i < end; i++ {
			group.Go(func() error {
				results[i] = fn(ctx, items[i])
				return nil
			})
		}
		_ = group.Wait()

		if end < len(items) && opts.Pause > 0 {
			if err := sleep(ctx, opts.Pause); err != nil {
				return results, err
			}
		}
	}

	return results, nil
}
