// Package mount implements the reference-counted mount table of
// §4.12, generalizing internal/build/mount.go's squashfs dependency
// mounter (which already mounts each not-yet-mounted dependency and
// rolls back on partial failure) to arbitrary backup storage mount
// points.
package mount

import (
	"fmt"
	"os/exec"
	"sort"
	"sync"
	"time"

	"github.com/bar-archiver/bar/internal/barerrors"
)

// MountTimeout is §4.12's idle-unmount threshold.
const MountTimeout = 60 * time.Second

// Target identifies one mount point by its (name, device) pair, the
// same identity key §4.12 specifies.
type Target struct {
	Name   string
	Device string
}

// Commands are the shell commands run via /bin/sh -c to mount/unmount
// a Target; the command text is not rewritten, and the mountpoint path
// and the device reach it as the BAR_MOUNTPOINT and BAR_DEVICE
// environment variables. internal/build/mount.go's squashfs-specific
// loop-device ioctls are not reused.
type Commands struct {
	Mount   string
	Unmount string
}

type entry struct {
	target      Target
	mountpoint  string
	refcount    int
	lastChanged time.Time
}

// Table is the in-process mount reference-counter. One Table is
// normally shared by every storage adapter that might request the
// same removable/network mount point, so a second job's request for
// an already-mounted share just bumps the refcount instead of
// re-mounting.
type Table struct {
	mu       sync.Mutex
	cmds     Commands
	entries  map[Target]*entry
	runCmd   func(tmpl, mountpoint, device string) error
}

// NewTable builds a Table driving mounts/unmounts via cmds's shell
// templates.
func NewTable(cmds Commands) *Table {
	return &Table{
		cmds:    cmds,
		entries: make(map[Target]*entry),
		runCmd:  runShellTemplate,
	}
}

func runShellTemplate(tmpl, mountpoint, device string) error {
	cmd := exec.Command("/bin/sh", "-c", tmpl)
	cmd.Env = append(cmd.Env, "BAR_MOUNTPOINT="+mountpoint, "BAR_DEVICE="+device)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s: %w: %s", tmpl, err, out)
	}
	return nil
}

// MountAll mounts each target not already mounted (refcount 0 -> 1),
// bumping the refcount of already-mounted ones. Per §4.12, a failure
// partway through rolls back every count this call incremented, in
// reverse order -- directly generalizing internal/build/mount.go's
// mount()'s deferred unmount-all-deps-on-failure cleanup closure.
func (t *Table) MountAll(targets []Target) (err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	var incremented []Target
	rollback := func() {
		for i := len(incremented) - 1; i >= 0; i-- {
			t.decrementLocked(incremented[i])
		}
	}

	for _, tgt := range targets {
		if err := t.incrementLocked(tgt); err != nil {
			rollback()
			return err
		}
		incremented = append(incremented, tgt)
	}
	return nil
}

func (t *Table) incrementLocked(tgt Target) error {
	e, ok := t.entries[tgt]
	if !ok {
		e = &entry{target: tgt, mountpoint: tgt.Name}
		t.entries[tgt] = e
	}
	if e.refcount == 0 {
		if err := t.runCmd(t.cmds.Mount, e.mountpoint, tgt.Device); err != nil {
			delete(t.entries, tgt)
			return barerrors.New(barerrors.KindIO, "mount", err)
		}
	}
	e.refcount++
	e.lastChanged = time.Now()
	return nil
}

// UnmountAll decrements each target's refcount. It does not actually
// unmount anything itself -- per §4.12 that is Purge's job, run
// separately once a target has sat idle past MountTimeout -- since an
// immediate unmount on refcount 0 would defeat back-to-back jobs
// sharing one removable volume.
func (t *Table) UnmountAll(targets []Target) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, tgt := range targets {
		t.decrementLocked(tgt)
	}
}

func (t *Table) decrementLocked(tgt Target) {
	e, ok := t.entries[tgt]
	if !ok || e.refcount == 0 {
		return
	}
	e.refcount--
	e.lastChanged = time.Now()
}

// Purge unmounts every target whose refcount is 0 and whose last
// change is older than MountTimeout, or every zero-refcount target
// regardless of age when force is true.
func (t *Table) Purge(force bool) []error {
	t.mu.Lock()
	defer t.mu.Unlock()

	var targets []Target
	for tgt, e := range t.entries {
		if e.refcount != 0 {
			continue
		}
		if force || time.Since(e.lastChanged) >= MountTimeout {
			targets = append(targets, tgt)
		}
	}
	sort.Slice(targets, func(i, j int) bool { return targets[i].Name < targets[j].Name })

	var errs []error
	for _, tgt := range targets {
		e := t.entries[tgt]
		if err := t.runCmd(t.cmds.Unmount, e.mountpoint, tgt.Device); err != nil {
			errs = append(errs, barerrors.New(barerrors.KindIO, "mount", err))
			continue
		}
		delete(t.entries, tgt)
	}
	return errs
}

// Refcount reports tgt's current reference count, 0 if untracked.
func (t *Table) Refcount(tgt Target) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if e, ok := t.entries[tgt]; ok {
		return e.refcount
	}
	return 0
}
