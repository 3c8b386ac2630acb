package bartest

import (
	"os"
	"path/filepath"
	"testing"
)

func TestWriteTreeCreatesNestedFiles(t *testing.T) {
	root := WriteTree(t, map[string]string{
		"a.txt":        "hello",
		"sub/b.txt":    "world",
		"sub/deep/c.go": "package deep\n",
	})
	for rel, want := range map[string]string{
		"a.txt":         "hello",
		"sub/b.txt":     "world",
		"sub/deep/c.go": "package deep\n",
	} {
		got, err := os.ReadFile(filepath.Join(root, rel))
		if err != nil {
			t.Fatal(err)
		}
		if string(got) != want {
			t.Fatalf("%s: got %q, want %q", rel, got, want)
		}
	}
}

func TestConfigValidates(t *testing.T) {
	c := Config(t)
	if err := c.Validate(); err != nil {
		t.Fatalf("bartest.Config should already validate cleanly: %v", err)
	}
}
