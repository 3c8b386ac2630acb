package index

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/bar-archiver/bar/internal/barlog"
)

func openTest(t *testing.T) *Index {
	t.Helper()
	path := filepath.Join(t.TempDir(), "index.sqlite3")
	idx, err := Open(path, barlog.Default())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { idx.Close() })
	return idx
}

func TestCreateStorageCreatesEntityOnce(t *testing.T) {
	idx := openTest(t)
	ctx := context.Background()

	s1, err := idx.CreateStorage(ctx, "host-a", "vol-001", 0)
	if err != nil {
		t.Fatal(err)
	}
	s2, err := idx.CreateStorage(ctx, "host-a", "vol-002", 0)
	if err != nil {
		t.Fatal(err)
	}

	g1, err := idx.GetStorage(ctx, s1)
	if err != nil {
		t.Fatal(err)
	}
	g2, err := idx.GetStorage(ctx, s2)
	if err != nil {
		t.Fatal(err)
	}
	if g1.EntityID != g2.EntityID {
		t.Fatalf("expected both storages to share one entity, got %d and %d", g1.EntityID, g2.EntityID)
	}
	if g1.State != StateCreate {
		t.Fatalf("new storage should start in CREATE, got %s", g1.State)
	}
}

func TestStorageLifecycleOK(t *testing.T) {
	idx := openTest(t)
	ctx := context.Background()

	sid, err := idx.CreateStorage(ctx, "host-a", "vol-001", 0)
	if err != nil {
		t.Fatal(err)
	}
	if err := idx.RequestUpdate(ctx, sid); err != nil {
		t.Fatal(err)
	}
	if err := idx.BeginUpdate(ctx, sid); err != nil {
		t.Fatal(err)
	}
	if err := idx.CommitParse(ctx, sid, []Entry{
		{Path: "a.txt", Kind: 0, Size: 10},
		{Path: "b.txt", Kind: 0, Size: 20},
	}); err != nil {
		t.Fatal(err)
	}
	s, err := idx.GetStorage(ctx, sid)
	if err != nil {
		t.Fatal(err)
	}
	if s.State != StateOK {
		t.Fatalf("expected OK after a clean commit, got %s", s.State)
	}
}

func TestStorageLifecycleErrorThenRetry(t *testing.T) {
	idx := openTest(t)
	ctx := context.Background()

	sid, _ := idx.CreateStorage(ctx, "host-a", "vol-001", 0)
	idx.RequestUpdate(ctx, sid)
	idx.BeginUpdate(ctx, sid)

	if err := idx.FailParse(ctx, sid, "E_PARSE", "unexpected EOF"); err != nil {
		t.Fatal(err)
	}
	s, _ := idx.GetStorage(ctx, sid)
	if s.State != StateError || s.ErrorCode != "E_PARSE" {
		t.Fatalf("expected ERROR/E_PARSE, got %s/%s", s.State, s.ErrorCode)
	}

	// ERROR has no outgoing edge in this table; a retry must go through
	// UPDATE_REQUESTED the same way an interrupted UPDATE does, not by
	// re-parsing directly from ERROR.
	if err := idx.RetryParse(ctx, sid); err == nil {
		t.Fatal("expected RetryParse from ERROR to be rejected")
	}
}

func TestStorageLifecycleRetryFromInterruptedUpdate(t *testing.T) {
	idx := openTest(t)
	ctx := context.Background()

	sid, _ := idx.CreateStorage(ctx, "host-a", "vol-001", 0)
	idx.RequestUpdate(ctx, sid)
	idx.BeginUpdate(ctx, sid)

	if err := idx.RetryParse(ctx, sid); err != nil {
		t.Fatal(err)
	}
	s, _ := idx.GetStorage(ctx, sid)
	if s.State != StateUpdateRequested {
		t.Fatalf("expected UPDATE_REQUESTED after a retry, got %s", s.State)
	}
}

func TestIllegalTransitionRejected(t *testing.T) {
	idx := openTest(t)
	ctx := context.Background()

	sid, _ := idx.CreateStorage(ctx, "host-a", "vol-001", 0)
	// CREATE has no "ok" edge; only request_update is legal.
	if err := idx.CommitParse(ctx, sid, nil); err == nil {
		t.Fatal("expected CommitParse directly from CREATE to fail")
	}
}

func TestPurgeCascadesEntriesBeforeStorageBeforeEntity(t *testing.T) {
	idx := openTest(t)
	ctx := context.Background()

	sid, _ := idx.CreateStorage(ctx, "host-a", "vol-001", 0)
	idx.RequestUpdate(ctx, sid)
	idx.BeginUpdate(ctx, sid)
	if err := idx.CommitParse(ctx, sid, []Entry{{Path: "a.txt"}}); err != nil {
		t.Fatal(err)
	}
	s, _ := idx.GetStorage(ctx, sid)

	if err := idx.Purge(ctx, []int64{sid}); err != nil {
		t.Fatal(err)
	}

	var entryCount int
	idx.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM entries WHERE storage_id = ?`, sid).Scan(&entryCount)
	if entryCount != 0 {
		t.Fatalf("expected all entries purged, got %d remaining", entryCount)
	}
	var entityCount int
	idx.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM entities WHERE id = ?`, s.EntityID).Scan(&entityCount)
	if entityCount != 0 {
		t.Fatalf("expected the entity to be purged since it had no other storage, got %d", entityCount)
	}
}

func TestPurgeKeepsEntityWithRemainingStorage(t *testing.T) {
	idx := openTest(t)
	ctx := context.Background()

	sidA, _ := idx.CreateStorage(ctx, "host-a", "vol-001", 0)
	sidB, _ := idx.CreateStorage(ctx, "host-a", "vol-002", 0)
	sA, _ := idx.GetStorage(ctx, sidA)
	sB, _ := idx.GetStorage(ctx, sidB)
	if sA.EntityID != sB.EntityID {
		t.Fatal("expected shared entity")
	}

	if err := idx.Purge(ctx, []int64{sidA}); err != nil {
		t.Fatal(err)
	}
	var entityCount int
	idx.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM entities WHERE id = ?`, sA.EntityID).Scan(&entityCount)
	if entityCount != 1 {
		t.Fatal("expected the entity to survive since vol-002 still references it")
	}
}

func TestListStoragesByType(t *testing.T) {
	idx := openTest(t)
	ctx := context.Background()

	idx.CreateStorage(ctx, "host-a", "vol-001", 1)
	idx.CreateStorage(ctx, "host-a", "vol-002", 2)

	list, err := idx.ListStoragesByType(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 || list[0].Name != "vol-001" {
		t.Fatalf("expected exactly vol-001, got %v", list)
	}
}
