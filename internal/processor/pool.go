package processor

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

const (
	DefaultConcurrency = 50
	MaxConcurrency     = 100
)

// Outcome is the result of one item. Err is per item; a failing item
// never stops the others.
type Outcome[R any] struct {
	Index    int
	Value    R
	Err      error
	Duration time.Duration
}

// Workers returns the worker count for n items: DefaultConcurrency when
// requested <= 0, never above MaxConcurrency or n.
func Workers(requested, n int) int {
	w := requested
	if w <= 0 {
		w = DefaultConcurrency
	}
	if w > MaxConcurrency {
		w = MaxConcurrency
	}
	if w > n {
		w = n
	}
	return w
}

// Map runs fn over items with a bounded pool. Each worker takes the next
// untaken index from a shared cursor, so every item is processed exactly
// once. Results keep the input order. Once ctx is done the remaining items
// are reported with ctx's error.
func Map[T, R any](ctx context.Context, items []T, concurrency int, fn func(context.Context, T) (R, error)) []Outcome[R] {
	out := make([]Outcome[R], len(items))
	if len(items) == 0 {
		return out
	}

	var (
		cursor atomic.Int64
		g      errgroup.Group
	)
	for w := 0; w < Workers(concurrency, len(items)); w++ {
		g.Go(func() error {
			for {
				i := int(cursor.Add(1)) - 1
				if i >= len(items) {
					return nil
				}
				if err := ctx.Err(); err != nil {
					out[i] = Outcome[R]{Index: i, Err: err}
					continue
				}
				start := time.Now()
				v, err := call(ctx, items[i], fn)
				out[i] = Outcome[R]{Index: i, Value: v, Err: err, Duration: time.Since(start)}
			}
		})
	}
	_ = g.Wait()
	return out
}

func call[T, R any](ctx context.Context, item T, fn func(context.Context, T) (R, error)) (v R, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("worker panic: %v", p)
		}
	}()
	return fn(ctx, item)
}
