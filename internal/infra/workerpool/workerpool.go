// Package workerpool bounds CPU-bound offload work (aggregation) to a
// fixed number of concurrent goroutines, so a burst of rounds closing at
// once doesn't oversubscribe the machine.
package workerpool

import (
	"context"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// Pool runs submitted functions with bounded concurrency.
type Pool struct {
	size int
}

// New builds a Pool sized to size, or runtime.NumCPU() if size <= 0.
func New(size int) *Pool {
	if size <= 0 {
		size = runtime.NumCPU()
	}
	return &Pool{size: size}
}

// Run executes each of fns with at most p.size running concurrently,
// returning the first error encountered (if any) after ctx is cancelled
// or all fns complete.
func (p *Pool) Run(ctx context.Context, fns ...func(ctx context.Context) error) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(p.size)
	for _, fn := range fns {
		fn := fn
		g.Go(func() error { return fn(ctx) })
	}
	return g.Wait()
}
