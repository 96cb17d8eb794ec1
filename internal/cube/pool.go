package cube

import (
	"context"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/xinlaoda/mallob-go/internal/solver"
	"github.com/xinlaoda/mallob-go/internal/term"
)

// AdapterFactory constructs a fresh solver.Adapter for one generator slot.
// Generator threads cannot share a single Adapter (Assume/Solve are
// stateful per call), so the pool asks for one instance per concurrent
// slot rather than per cube.
type AdapterFactory func() solver.Adapter

// RunGenerators drives up to threadsPerJob concurrent generator loops until
// the manager reaches a definitive result or the cube tree is exhausted.
// The semaphore caps how many generator slots may be active at once,
// matching the job's thread budget independently of how many goroutines
// happen to be started.
func RunGenerators(ctx context.Context, mgr *Manager, newChecker, newMain AdapterFactory, t *term.Terminator, threadsPerJob int) error {
	if threadsPerJob < 1 {
		threadsPerJob = 1
	}
	sem := semaphore.NewWeighted(int64(threadsPerJob))
	g, gctx := errgroup.WithContext(ctx)

	for i := 0; i < threadsPerJob; i++ {
		g.Go(func() error {
			if err := sem.Acquire(gctx, 1); err != nil {
				return err
			}
			defer sem.Release(1)

			checker := newChecker()
			main := newMain()
			for {
				select {
				case <-gctx.Done():
					return gctx.Err()
				default:
				}
				if mgr.Done() {
					return nil
				}
				if !RunGeneratorStep(mgr, checker, main, t) {
					return nil
				}
			}
		})
	}
	return g.Wait()
}
