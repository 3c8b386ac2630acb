package pool

import (
	"bytes"
	"strings"
	"testing"
)

func TestConsoleRepaintsOnTerminal(t *testing.T) {
	var buf bytes.Buffer
	c := &Console{out: &buf, isTerminal: true, lines: make(map[string]string)}

	c.SetLine("job-a", "job-a: 10%")
	c.SetLine("job-b", "job-b: 0%")
	if buf.Len() == 0 {
		t.Fatal("expected a repaint to have written something")
	}
	if !strings.Contains(buf.String(), "job-a: 10%") {
		t.Fatalf("output missing job-a's line: %q", buf.String())
	}

	c.RemoveLine("job-a")
	if len(c.order) != 1 || c.order[0] != "job-b" {
		t.Fatalf("expected only job-b to remain, got %v", c.order)
	}
}

func TestConsoleNoopWithoutTerminal(t *testing.T) {
	var buf bytes.Buffer
	c := &Console{out: &buf, isTerminal: false, lines: make(map[string]string)}
	c.SetLine("job-a", "job-a: 10%")
	if buf.Len() != 0 {
		t.Fatalf("expected no output for a non-terminal console, got %q", buf.String())
	}
}
