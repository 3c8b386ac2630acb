package pool

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestPoolBoundsConcurrency(t *testing.T) {
	p, _ := New(context.Background(), 2)
	var active, maxActive int32
	for i := 0; i < 8; i++ {
		p.Submit(func(ctx context.Context) error {
			n := atomic.AddInt32(&active, 1)
			for {
				cur := atomic.LoadInt32(&maxActive)
				if n <= cur || atomic.CompareAndSwapInt32(&maxActive, cur, n) {
					break
				}
			}
			time.Sleep(10 * time.Millisecond)
			atomic.AddInt32(&active, -1)
			return nil
		})
	}
	if err := p.Wait(); err != nil {
		t.Fatal(err)
	}
	if maxActive > 2 {
		t.Fatalf("pool allowed %d concurrent tasks, want <= 2", maxActive)
	}
}

func TestPoolPropagatesError(t *testing.T) {
	p, ctx := New(context.Background(), 4)
	boom := errors.New("boom")
	p.Submit(func(ctx context.Context) error { return boom })
	p.Submit(func(ctx context.Context) error {
		<-ctx.Done() // cancelled once the sibling above fails
		return ctx.Err()
	})
	if err := p.Wait(); !errors.Is(err, boom) {
		t.Fatalf("got %v, want %v", err, boom)
	}
	if ctx.Err() == nil {
		t.Fatal("expected pool context to be cancelled after a task error")
	}
}

func TestCancelTokenSuspendResume(t *testing.T) {
	c := NewCancelToken()
	c.Suspend()

	done := make(chan error, 1)
	go func() { done <- c.CheckPoint(context.Background()) }()

	select {
	case <-done:
		t.Fatal("CheckPoint returned before Resume was called")
	case <-time.After(30 * time.Millisecond):
	}

	c.Resume()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("CheckPoint did not return after Resume")
	}
}

func TestCancelTokenCancelWakesSuspended(t *testing.T) {
	c := NewCancelToken()
	c.Suspend()
	done := make(chan error, 1)
	go func() { done <- c.CheckPoint(context.Background()) }()
	time.Sleep(10 * time.Millisecond)
	c.Cancel()
	select {
	case err := <-done:
		if err == nil {
			t.Fatal("expected an error after Cancel")
		}
	case <-time.After(time.Second):
		t.Fatal("CheckPoint did not return after Cancel")
	}
	if !c.Cancelled() {
		t.Fatal("expected Cancelled() to report true")
	}
}
