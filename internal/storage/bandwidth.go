package storage

import (
	"context"
	"io"
	"sync"
	"time"
)

// Limiter is a simple token-bucket bandwidth limiter shared across
// every reader/writer of one job's storage traffic (§4.6 bandwidth
// limiting). No pack example imports a rate-limiting library, so this
// is built directly on time.Timer/sync.Mutex -- a token bucket is a
// dozen lines and does not warrant a dependency.
type Limiter struct {
	mu         sync.Mutex
	bytesPerS  int64
	tokens     int64
	lastRefill time.Time
}

// NewLimiter returns a Limiter capped at bytesPerSecond. A zero or
// negative bytesPerSecond disables limiting (WaitN returns instantly).
func NewLimiter(bytesPerSecond int64) *Limiter {
	return &Limiter{bytesPerS: bytesPerSecond, lastRefill: time.Now()}
}

// WaitN blocks until n bytes' worth of budget is available.
func (l *Limiter) WaitN(ctx context.Context, n int) error {
	if l == nil || l.bytesPerS <= 0 {
		return nil
	}
	for {
		l.mu.Lock()
		now := time.Now()
		elapsed := now.Sub(l.lastRefill)
		l.tokens += int64(elapsed.Seconds() * float64(l.bytesPerS))
		burst := l.bytesPerS
		if int64(n) > burst {
			burst = int64(n)
		}
		if l.tokens > burst {
			l.tokens = burst
		}
		l.lastRefill = now
		if l.tokens >= int64(n) {
			l.tokens -= int64(n)
			l.mu.Unlock()
			return nil
		}
		need := int64(n) - l.tokens
		wait := time.Duration(float64(need) / float64(l.bytesPerS) * float64(time.Second))
		l.mu.Unlock()
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}

// limitedReader throttles Read calls against a shared Limiter, used to
// cap a restore job's aggregate read rate across however many
// Adapter.Reader values are active concurrently.
type limitedReader struct {
	ctx context.Context
	r   io.Reader
	l   *Limiter
}

// LimitReader wraps r so every Read call is throttled by l. A nil l
// (or one built with a non-positive rate) makes this a no-op passthrough.
func LimitReader(ctx context.Context, r io.Reader, l *Limiter) io.Reader {
	return &limitedReader{ctx: ctx, r: r, l: l}
}

func (lr *limitedReader) Read(p []byte) (int, error) {
	if err := lr.l.WaitN(lr.ctx, len(p)); err != nil {
		return 0, err
	}
	return lr.r.Read(p)
}

type limitedWriter struct {
	ctx context.Context
	w   io.Writer
	l   *Limiter
}

// LimitWriter is the write-side counterpart of LimitReader.
func LimitWriter(ctx context.Context, w io.Writer, l *Limiter) io.Writer {
	return &limitedWriter{ctx: ctx, w: w, l: l}
}

func (lw *limitedWriter) Write(p []byte) (int, error) {
	if err := lw.l.WaitN(lw.ctx, len(p)); err != nil {
		return 0, err
	}
	return lw.w.Write(p)
}
