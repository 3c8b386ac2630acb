package pool

import (
	"context"
	"sync"

	"github.com/bar-archiver/bar/internal/barerrors"
)

// CancelToken is the cooperative cancellation handle a job's worker
// loop polls at its suspension points (§4.8), generalizing the plain
// ctx.Err() check internal/batch.scheduler.run makes at the top of
// every work-loop iteration into something that also supports pausing
// a job mid-run (an operator-requested suspend, not a cancellation)
// without tearing down its goroutines.
type CancelToken struct {
	mu        sync.Mutex
	cancelled bool
	suspended bool
	resumeCh  chan struct{}
}

// NewCancelToken returns a token in the running, not-cancelled state.
func NewCancelToken() *CancelToken {
	return &CancelToken{resumeCh: make(chan struct{})}
}

// Cancel marks the token cancelled, waking any goroutine blocked in
// CheckPoint on a suspend.
func (c *CancelToken) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cancelled = true
	if c.suspended {
		close(c.resumeCh)
		c.suspended = false
	}
}

// Cancelled reports whether Cancel has been called.
func (c *CancelToken) Cancelled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cancelled
}

// Suspend pauses the token: the next CheckPoint call (from any
// goroutine sharing this token) blocks until Resume or Cancel.
func (c *CancelToken) Suspend() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.suspended || c.cancelled {
		return
	}
	c.suspended = true
	c.resumeCh = make(chan struct{})
}

// Resume releases a Suspend.
func (c *CancelToken) Resume() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.suspended {
		return
	}
	c.suspended = false
	close(c.resumeCh)
}

// CheckPoint blocks while the token is suspended and returns an error
// once it is cancelled (via Cancel) or ctx is cancelled. Worker loops
// call this between entries/fragments the way batch.scheduler.run
// checks ctx.Err() between builds.
func (c *CancelToken) CheckPoint(ctx context.Context) error {
	c.mu.Lock()
	if c.cancelled {
		c.mu.Unlock()
		return barerrors.New(barerrors.KindAborted, "pool", context.Canceled)
	}
	if !c.suspended {
		c.mu.Unlock()
		if err := ctx.Err(); err != nil {
			return barerrors.New(barerrors.KindInterrupted, "pool", err)
		}
		return nil
	}
	resumeCh := c.resumeCh
	c.mu.Unlock()

	select {
	case <-resumeCh:
		return c.CheckPoint(ctx)
	case <-ctx.Done():
		return barerrors.New(barerrors.KindInterrupted, "pool", ctx.Err())
	}
}
