package pipeline

import (
	"context"
	"runtime"
	"time"
)

// ForEachChunk calls fn on consecutive slices of at most size items. Between
// chunks it yields the processor and, if pause > 0, sleeps so that one large
// batch does not starve other tenants' work. It stops at the first error or
// when ctx is done.
func ForEachChunk[T any](ctx context.Context, items []T, size int, pause time.Duration, fn func(ctx context.Context, index int, chunk []T) error) error {
	if size <= 0 {
		size = len(items)
	}
	for i, start := 0, 0; start < len(items); i, start = i+1, start+size {
		if err := ctx.Err(); err != nil {
			return err
		}
		end := min(start+size, len(items))
		if err := fn(ctx, i, items[start:end]); err != nil {
			return err
		}
		if end == len(items) {
			break
		}

		runtime.Gosched()
		if pause > 0 {
			timer := time.NewTimer(pause)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}
	}
	return nil
}
