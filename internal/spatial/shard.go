package spatial

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// chunksPerWorker over-partitions the input so one slow shard does not hold
// the others idle.
const chunksPerWorker = 4

// Shard splits items into contiguous chunks and runs fn on each with at most
// workers goroutines. Results are concatenated in chunk order, so the output
// is independent of scheduling. The first error cancels the remaining shards.
func Shard[T, R any](ctx context.Context, items []T, workers int, fn func(ctx context.Context, chunk []T) ([]R, error)) ([]R, error) {
	if len(items) == 0 {
		return nil, nil
	}
	if workers < 1 {
		workers = 1
	}
	n := workers * chunksPerWorker
	if n > len(items) {
		n = len(items)
	}
	size := (len(items) + n - 1) / n

	var chunks [][]T
	for start := 0; start < len(items); start += size {
		end := start + size
		if end > len(items) {
			end = len(items)
		}
		chunks = append(chunks, items[start:end])
	}

	parts := make([][]R, len(chunks))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, chunk := range chunks {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			out, err := fn(gctx, chunk)
			if err != nil {
				return err
			}
			parts[i] = out
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	total := 0
	for _, p := range parts {
		total += len(p)
	}
	out := make([]R, 0, total)
	for _, p := range parts {
		out = append(out, p...)
	}
	return out, nil
}
