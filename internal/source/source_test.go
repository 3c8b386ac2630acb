package source

import (
	"os"
	"path/filepath"
	"sort"
	"testing"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestWalkBasic(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a.txt"), "a")
	writeFile(t, filepath.Join(root, "sub", "b.txt"), "b")
	if err := os.Symlink("b.txt", filepath.Join(root, "sub", "link")); err != nil {
		t.Fatal(err)
	}

	w, err := NewWalker(Options{Roots: []string{root}})
	if err != nil {
		t.Fatal(err)
	}

	var got []string
	var kinds []Kind
	if err := w.Walk(func(n Node) error {
		got = append(got, n.RelPath)
		kinds = append(kinds, n.Kind)
		return nil
	}); err != nil {
		t.Fatal(err)
	}

	want := map[string]Kind{
		filepath.Base(root):                  KindDirectory,
		filepath.Join(filepath.Base(root), "a.txt"):          KindFile,
		filepath.Join(filepath.Base(root), "sub"):            KindDirectory,
		filepath.Join(filepath.Base(root), "sub", "b.txt"):   KindFile,
		filepath.Join(filepath.Base(root), "sub", "link"):    KindSymlink,
	}
	if len(got) != len(want) {
		t.Fatalf("got %d entries %v, want %d entries %v", len(got), got, len(want), want)
	}
	for i, relPath := range got {
		k, ok := want[relPath]
		if !ok {
			t.Fatalf("unexpected entry %q", relPath)
		}
		if kinds[i] != k {
			t.Fatalf("entry %q: got kind %v, want %v", relPath, kinds[i], k)
		}
	}
}

func TestWalkHonorsNoBackup(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "keep.txt"), "keep")
	writeFile(t, filepath.Join(root, "skipme", "file.txt"), "x")
	writeFile(t, filepath.Join(root, "skipme", ".nobackup"), "")

	w, err := NewWalker(Options{Roots: []string{root}, HonorNoBackup: true})
	if err != nil {
		t.Fatal(err)
	}
	var got []string
	if err := w.Walk(func(n Node) error {
		got = append(got, n.RelPath)
		return nil
	}); err != nil {
		t.Fatal(err)
	}
	for _, p := range got {
		if filepath.Base(filepath.Dir(p)) == "skipme" {
			t.Fatalf("expected skipme's contents to be skipped, found %q", p)
		}
	}
}

func TestWalkExcludePattern(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "keep.txt"), "a")
	writeFile(t, filepath.Join(root, "drop.log"), "b")

	w, err := NewWalker(Options{
		Roots:   []string{root},
		Exclude: []Pattern{{Kind: PatternGlob, Expr: "*/*.log"}},
	})
	if err != nil {
		t.Fatal(err)
	}
	var got []string
	if err := w.Walk(func(n Node) error {
		got = append(got, filepath.Base(n.RelPath))
		return nil
	}); err != nil {
		t.Fatal(err)
	}
	sort.Strings(got)
	for _, name := range got {
		if name == "drop.log" {
			t.Fatal("drop.log should have been excluded")
		}
	}
}

func TestWalkDetectsHardlinks(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "orig.txt"), "shared")
	if err := os.Link(filepath.Join(root, "orig.txt"), filepath.Join(root, "linked.txt")); err != nil {
		t.Skipf("hardlinks unsupported on this filesystem: %v", err)
	}

	w, err := NewWalker(Options{Roots: []string{root}})
	if err != nil {
		t.Fatal(err)
	}
	var hardlinkNode *Node
	if err := w.Walk(func(n Node) error {
		if n.Kind == KindHardlink {
			cp := n
			hardlinkNode = &cp
		}
		return nil
	}); err != nil {
		t.Fatal(err)
	}
	if hardlinkNode == nil {
		t.Fatal("expected one of orig.txt/linked.txt to be reported as KindHardlink")
	}
	if hardlinkNode.HardlinkOf == "" {
		t.Fatal("expected HardlinkOf to reference the first occurrence")
	}
}
