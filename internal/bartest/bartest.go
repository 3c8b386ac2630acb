// Package bartest collects the temp-dir/fixture helpers shared across
// BAR's package tests.
package bartest

import (
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/bar-archiver/bar/internal/config"
)

// TempStateDir creates a fresh StateDir-shaped temp directory (for
// job/schedule/persistence files and the C10/C11 sqlite databases),
// removed automatically at test cleanup.
func TempStateDir(t testing.TB) string {
	t.Helper()
	return t.TempDir()
}

// Config returns a Config wired to a fresh temp StateDir, validated,
// ready to hand to any component's constructor.
func Config(t testing.TB) *config.Config {
	t.Helper()
	c := config.Default(TempStateDir(t))
	if err := c.Validate(); err != nil {
		t.Fatalf("bartest.Config: %v", err)
	}
	return c
}

// WriteTree materializes files (relative path -> content) under a
// fresh temp root and returns that root, for internal/source walker
// tests and internal/archive round-trip tests that need a concrete
// source tree on disk rather than an in-memory fixture.
func WriteTree(t testing.TB, files map[string]string) string {
	t.Helper()
	root := t.TempDir()
	// Deterministic creation order makes failures easier to read off a
	// test's -v output; map iteration order is not guaranteed.
	var paths []string
	for p := range files {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	for _, rel := range paths {
		full := filepath.Join(root, rel)
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			t.Fatalf("bartest.WriteTree: %v", err)
		}
		if err := os.WriteFile(full, []byte(files[rel]), 0o644); err != nil {
			t.Fatalf("bartest.WriteTree: %v", err)
		}
	}
	return root
}

// RemoveAll wraps os.RemoveAll and fails the test on failure.
func RemoveAll(t testing.TB, path string) {
	t.Helper()
	if err := os.RemoveAll(path); err != nil {
		t.Fatalf("bartest.RemoveAll: %v", err)
	}
}
