package archive

import (
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/bar-archiver/bar/internal/compress"
	"github.com/bar-archiver/bar/internal/source"
)

func writeRoundTripFixture(t *testing.T, content []byte, hash []byte) *memoryPartAllocator {
	t.Helper()
	alloc := &memoryPartAllocator{}
	w := NewWriter(alloc, Options{CompressAlg: compress.AlgorithmZlib})
	if err := w.Begin(); err != nil {
		t.Fatal(err)
	}
	if err := w.WriteDirectoryEntry(DirectoryMeta{Path: "d", Mtime: time.Unix(1, 0), Permissions: 0755}); err != nil {
		t.Fatal(err)
	}
	if err := w.WriteFileEntry(FileMeta{
		Paths: []string{"d/f"},
		Size:  uint64(len(content)),
		Mtime: time.Unix(2, 0),
		Hash:  hash,
	}, bytes.NewReader(content), nil, ""); err != nil {
		t.Fatal(err)
	}
	if err := w.End(); err != nil {
		t.Fatal(err)
	}
	return alloc
}

func TestReaderDetectsTamperedHash(t *testing.T) {
	content := []byte("trustworthy content")
	tampered := make([]byte, 32)
	alloc := writeRoundTripFixture(t, content, tampered)

	r, err := NewReader(bytes.NewReader(alloc.parts[0].Bytes()), ReadOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := r.Next(); err != nil { // directory entry
		t.Fatal(err)
	}
	e, err := r.Next()
	if err != nil {
		t.Fatal(err)
	}
	if _, err := io.ReadAll(e.Content); !errors.Is(err, ErrHashMismatch) {
		t.Fatalf("reading tampered-hash entry: got %v, want ErrHashMismatch", err)
	}
}

func TestWalkListAndTest(t *testing.T) {
	content := []byte("abc123")
	alloc := writeRoundTripFixture(t, content, hashOf(content))

	r, err := NewReader(bytes.NewReader(alloc.parts[0].Bytes()), ReadOptions{})
	if err != nil {
		t.Fatal(err)
	}
	results, err := Walk(r, ModeList, Selection{}, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(results))
	}
	for _, res := range results {
		if res.Status != StatusOK {
			t.Fatalf("entry %q: status %s, want OK", res.Path, res.Status)
		}
	}

	r2, err := NewReader(bytes.NewReader(alloc.parts[0].Bytes()), ReadOptions{})
	if err != nil {
		t.Fatal(err)
	}
	results, err = Walk(r2, ModeTest, Selection{}, "")
	if err != nil {
		t.Fatal(err)
	}
	for _, res := range results {
		if res.Status != StatusOK {
			t.Fatalf("test entry %q: status %s (%v)", res.Path, res.Status, res.Err)
		}
	}
}

func TestWalkRestoreWritesFilesAndDirectories(t *testing.T) {
	content := []byte("restore me")
	alloc := writeRoundTripFixture(t, content, hashOf(content))

	r, err := NewReader(bytes.NewReader(alloc.parts[0].Bytes()), ReadOptions{})
	if err != nil {
		t.Fatal(err)
	}
	dest := t.TempDir()
	results, err := Walk(r, ModeRestore, Selection{}, dest)
	if err != nil {
		t.Fatal(err)
	}
	for _, res := range results {
		if res.Status != StatusOK {
			t.Fatalf("restoring %q: status %s (%v)", res.Path, res.Status, res.Err)
		}
	}
	got, err := os.ReadFile(filepath.Join(dest, "d/f"))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, content) {
		t.Fatalf("restored content = %q, want %q", got, content)
	}
	if fi, err := os.Stat(filepath.Join(dest, "d")); err != nil || !fi.IsDir() {
		t.Fatalf("expected d to be restored as a directory, stat error: %v", err)
	}
}

func TestSelectionExcludeWinsOverInclude(t *testing.T) {
	sel := Selection{}
	if !sel.Allows("anything") {
		t.Fatal("zero Selection should allow everything")
	}
	sel = Selection{
		Include: []source.Pattern{{Kind: source.PatternGlob, Expr: "d/*"}},
		Exclude: []source.Pattern{{Kind: source.PatternGlob, Expr: "d/f"}},
	}
	if sel.Allows("d/f") {
		t.Fatal("a path matching both an include and an exclude should be excluded")
	}
	if !sel.Allows("d/g") {
		t.Fatal("a path matching only an include should be allowed")
	}
}
