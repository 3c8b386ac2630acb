package continuous

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func openTest(t *testing.T) *Queue {
	t.Helper()
	path := filepath.Join(t.TempDir(), "continuous.sqlite3")
	q, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { q.Close() })
	return q
}

func TestPendingReturnsWindowedPaths(t *testing.T) {
	q := openTest(t)
	ctx := context.Background()
	now := time.Now()

	if err := q.Push(ctx, "job-1", "sched-1", "/etc/passwd", now.Add(-time.Minute), now.Add(time.Minute)); err != nil {
		t.Fatal(err)
	}
	if err := q.Push(ctx, "job-1", "sched-1", "/etc/future", now.Add(time.Hour), now.Add(2*time.Hour)); err != nil {
		t.Fatal(err)
	}

	paths, err := q.Pending("job-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(paths) != 1 || paths[0] != "/etc/passwd" {
		t.Fatalf("expected only the currently-due path, got %v", paths)
	}
}

func TestPendingDeduplicatesPath(t *testing.T) {
	q := openTest(t)
	ctx := context.Background()
	now := time.Now()

	q.Push(ctx, "job-1", "sched-1", "/var/log/a.log", now.Add(-time.Minute), now.Add(time.Minute))
	q.Push(ctx, "job-1", "sched-2", "/var/log/a.log", now.Add(-time.Minute), now.Add(time.Minute))

	paths, err := q.Pending("job-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(paths) != 1 {
		t.Fatalf("expected the duplicate path folded into one entry, got %v", paths)
	}
}

func TestAckDeletesConsumedRows(t *testing.T) {
	q := openTest(t)
	ctx := context.Background()
	now := time.Now()

	q.Push(ctx, "job-1", "sched-1", "/a", now.Add(-time.Minute), now.Add(time.Minute))
	q.Push(ctx, "job-1", "sched-1", "/b", now.Add(time.Hour), now.Add(2*time.Hour))

	if err := q.Ack("job-1", []string{"/a", "/b"}); err != nil {
		t.Fatal(err)
	}

	paths, err := q.Pending("job-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(paths) != 0 {
		t.Fatalf("expected /a consumed, got %v", paths)
	}

	var remaining int
	q.db.QueryRow(`SELECT COUNT(*) FROM continuous_changes WHERE path = ?`, "/b").Scan(&remaining)
	if remaining != 1 {
		t.Fatal("expected /b's not-yet-due row to survive Ack")
	}
}

func TestPushIgnoresDuplicateEvent(t *testing.T) {
	q := openTest(t)
	ctx := context.Background()
	now := time.Now()

	for i := 0; i < 3; i++ {
		if err := q.Push(ctx, "job-1", "sched-1", "/a", now, now.Add(time.Minute)); err != nil {
			t.Fatal(err)
		}
	}
	var count int
	q.db.QueryRow(`SELECT COUNT(*) FROM continuous_changes`).Scan(&count)
	if count != 1 {
		t.Fatalf("expected a re-pushed identical event to be folded, got %d rows", count)
	}
}
