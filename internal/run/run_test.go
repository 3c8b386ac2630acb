package run

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/bar-archiver/bar/internal/archive"
	"github.com/bar-archiver/bar/internal/barlog"
	"github.com/bar-archiver/bar/internal/bartest"
	"github.com/bar-archiver/bar/internal/compress"
	"github.com/bar-archiver/bar/internal/crypt"
	"github.com/bar-archiver/bar/internal/index"
	"github.com/bar-archiver/bar/internal/job"
)

func newRunner(t *testing.T) (*Runner, func()) {
	t.Helper()
	cfg := bartest.Config(t)
	idx, err := index.Open(filepath.Join(bartest.TempStateDir(t), "index.sqlite3"), barlog.Default())
	if err != nil {
		t.Fatalf("index.Open: %v", err)
	}
	r := &Runner{
		Config: cfg,
		Index:  idx,
		Options: archive.Options{
			CryptType:     crypt.CryptTypeNone,
			CompressAlg:   compress.AlgorithmZlib,
			CompressLevel: 0,
		},
	}
	return r, func() { idx.Close() }
}

func TestExecuteFullWritesCatalogAndEntries(t *testing.T) {
	root := bartest.WriteTree(t, map[string]string{
		"a.txt":     "hello",
		"sub/b.txt": "world",
	})
	storageDir := t.TempDir()

	r, cleanup := newRunner(t)
	defer cleanup()
	r.Config.StateDir = t.TempDir()

	j := &job.Job{
		UUID:        "job-1",
		EntityName:  "host-a",
		SourceRoots: []string{root},
		StorageDir:  storageDir,
	}

	if err := r.Execute(context.Background(), j, job.ArchiveFull); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	storages, err := r.Index.ListStoragesByEntityAndType(context.Background(), "host-a", int(job.ArchiveFull))
	if err != nil {
		t.Fatalf("ListStoragesByEntityAndType: %v", err)
	}
	if len(storages) != 1 {
		t.Fatalf("expected 1 storage row, got %d", len(storages))
	}
	if storages[0].State != index.StateOK {
		t.Fatalf("expected storage state OK, got %s", storages[0].State)
	}

	entries := glob(t, storageDir)
	if len(entries) == 0 {
		t.Fatal("expected at least one archive part written")
	}
}

func TestExecuteIncrementalSkipsUnchangedFiles(t *testing.T) {
	root := bartest.WriteTree(t, map[string]string{
		"a.txt": "hello",
	})
	storageDir := t.TempDir()
	r, cleanup := newRunner(t)
	defer cleanup()
	r.Config.StateDir = t.TempDir()

	j := &job.Job{
		UUID:        "job-2",
		EntityName:  "host-b",
		SourceRoots: []string{root},
		StorageDir:  storageDir,
	}

	if err := r.Execute(context.Background(), j, job.ArchiveFull); err != nil {
		t.Fatalf("FULL Execute: %v", err)
	}
	if err := r.Execute(context.Background(), j, job.ArchiveIncremental); err != nil {
		t.Fatalf("INCREMENTAL Execute: %v", err)
	}

	storages, err := r.Index.ListStoragesByEntityAndType(context.Background(), "host-b", int(job.ArchiveIncremental))
	if err != nil {
		t.Fatalf("ListStoragesByEntityAndType: %v", err)
	}
	if len(storages) != 1 {
		t.Fatalf("expected 1 incremental storage row, got %d", len(storages))
	}

	results, err := r.Walk(context.Background(), j, storages[0].Name, archive.ModeList, archive.Selection{}, "")
	if err != nil {
		t.Fatalf("Walk: %v", err)
	}
	for _, res := range results {
		if res.Kind == archive.EntryFile {
			t.Fatalf("unchanged file %q archived again by the INCREMENTAL run", res.Path)
		}
	}
}

func glob(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}
