// Package pool implements the two named worker pools a BAR daemon
// runs (§4.8): a client pool bounding interactive operations (restore,
// verify, convert) and a worker pool bounding scheduled background
// jobs, plus the cooperative-cancellation and shared-console pieces
// every pooled operation reports progress through.
package pool

import (
	"context"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// Pool bounds concurrent work to at most Workers goroutines at once,
// the same shape internal/batch.scheduler.run's errgroup-of-workers
// loop gives a fixed worker count, generalized with a semaphore so
// Submit can be called any number of times rather than only once per
// worker slot up front.
type Pool struct {
	sem *semaphore.Weighted
	eg  *errgroup.Group
	ctx context.Context
}

// New returns a Pool allowing up to workers concurrent Submit calls.
// The returned context is cancelled as soon as any submitted function
// returns a non-nil error, the same errgroup.WithContext behavior
// internal/batch and internal/install both rely on.
func New(ctx context.Context, workers int64) (*Pool, context.Context) {
	eg, egCtx := errgroup.WithContext(ctx)
	return &Pool{sem: semaphore.NewWeighted(workers), eg: eg, ctx: egCtx}, egCtx
}

// Submit runs fn in the pool once a slot is free. fn receives the
// pool's errgroup context, cancelled if a sibling task fails or the
// parent context is cancelled.
func (p *Pool) Submit(fn func(ctx context.Context) error) {
	if err := p.sem.Acquire(p.ctx, 1); err != nil {
		p.eg.Go(func() error { return err })
		return
	}
	p.eg.Go(func() error {
		defer p.sem.Release(1)
		return fn(p.ctx)
	})
}

// Wait blocks until every submitted task has returned, yielding the
// first non-nil error (if any), mirroring errgroup.Group.Wait.
func (p *Pool) Wait() error { return p.eg.Wait() }

// Pools bundles the client and worker pools a daemon keeps open for
// its lifetime.
type Pools struct {
	Client *Pool
	Worker *Pool
}

// NewPools builds the client/worker pool pair, sized independently so
// an operator can give interactive restores a small dedicated pool
// while scheduled backups get a larger one (or vice versa).
func NewPools(ctx context.Context, clientWorkers, workerWorkers int64) (*Pools, context.Context, context.Context) {
	client, clientCtx := New(ctx, clientWorkers)
	worker, workerCtx := New(ctx, workerWorkers)
	return &Pools{Client: client, Worker: worker}, clientCtx, workerCtx
}
