package pool

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-isatty"
)

// Console is the shared progress display every pooled job writes its
// one status line to (§4.8 shared console with in-place repaint),
// generalizing internal/batch.scheduler's fixed status []string plus
// refreshStatus/updateStatus pair (which repaints by moving the
// cursor up len(status) lines with "\033[%dA") into something jobs of
// any count can register/unregister a line in, rather than a single
// build run's fixed per-worker slice.
type Console struct {
	mu         sync.Mutex
	out        io.Writer
	isTerminal bool
	lines      map[string]string
	order      []string
	lastRepaint time.Time
}

// NewConsole returns a Console writing to out. Repaint is skipped
// entirely when out is not a terminal (isatty, the same check the
// teacher's own scheduler makes via unix.IoctlGetTermios/TCGETS,
// named here per DOMAIN STACK's go-isatty), since escape sequences
// in a log file or pipe would just corrupt it.
func NewConsole(out *os.File) *Console {
	return &Console{
		out:        out,
		isTerminal: isatty.IsTerminal(out.Fd()) || isatty.IsCygwinTerminal(out.Fd()),
		lines:      make(map[string]string),
	}
}

// SetLine sets (or adds, preserving first-seen order) the status text
// shown for key, then repaints if the terminal hasn't been refreshed
// in the last 100ms -- batch.scheduler's same throttle, there to keep
// frequent updates from dominating wall-clock time.
func (c *Console) SetLine(key, text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.lines[key]; !ok {
		c.order = append(c.order, key)
	}
	c.lines[key] = text
	if time.Since(c.lastRepaint) < 100*time.Millisecond {
		return
	}
	c.repaintLocked()
}

// RemoveLine drops key's status line (a job finished) and repaints
// immediately.
func (c *Console) RemoveLine(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.lines, key)
	for i, k := range c.order {
		if k == key {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
	c.repaintLocked()
}

func (c *Console) repaintLocked() {
	if !c.isTerminal {
		return
	}
	c.lastRepaint = time.Now()
	var maxLen int
	texts := make([]string, len(c.order))
	for i, k := range c.order {
		texts[i] = c.lines[k]
		if len(texts[i]) > maxLen {
			maxLen = len(texts[i])
		}
	}
	for _, line := range texts {
		if pad := maxLen - len(line); pad > 0 {
			line += strings.Repeat(" ", pad)
		}
		fmt.Fprintln(c.out, line)
	}
	if len(texts) > 0 {
		fmt.Fprintf(c.out, "\033[%dA", len(texts))
	}
}
