package mount

import (
	"errors"
	"testing"
	"time"
)

func fakeTable() *Table {
	t := NewTable(Commands{Mount: "mount", Unmount: "umount"})
	var calls []string
	t.runCmd = func(tmpl, mountpoint, device string) error {
		calls = append(calls, tmpl+":"+mountpoint)
		return nil
	}
	return t
}

func TestMountAllIncrementsRefcountOnce(t *testing.T) {
	tbl := fakeTable()
	var mounts int
	tbl.runCmd = func(tmpl, mountpoint, device string) error {
		mounts++
		return nil
	}
	tgt := Target{Name: "/mnt/backup", Device: "/dev/sdb1"}

	if err := tbl.MountAll([]Target{tgt}); err != nil {
		t.Fatal(err)
	}
	if err := tbl.MountAll([]Target{tgt}); err != nil {
		t.Fatal(err)
	}
	if mounts != 1 {
		t.Fatalf("expected the mount command to run once, ran %d times", mounts)
	}
	if got := tbl.Refcount(tgt); got != 2 {
		t.Fatalf("expected refcount 2, got %d", got)
	}
}

func TestMountAllRollsBackOnFailure(t *testing.T) {
	tbl := fakeTable()
	ok := Target{Name: "/mnt/ok", Device: "/dev/sda1"}
	bad := Target{Name: "/mnt/bad", Device: "/dev/sdb1"}
	boom := errors.New("mount failed")
	tbl.runCmd = func(tmpl, mountpoint, device string) error {
		if mountpoint == "/mnt/bad" {
			return boom
		}
		return nil
	}

	err := tbl.MountAll([]Target{ok, bad})
	if err == nil {
		t.Fatal("expected an error")
	}
	if got := tbl.Refcount(ok); got != 0 {
		t.Fatalf("expected the earlier successful mount rolled back, refcount %d", got)
	}
}

func TestUnmountAllDecrementsRefcount(t *testing.T) {
	tbl := fakeTable()
	tgt := Target{Name: "/mnt/backup", Device: "/dev/sdb1"}
	tbl.MountAll([]Target{tgt, tgt})
	tbl.UnmountAll([]Target{tgt})
	if got := tbl.Refcount(tgt); got != 1 {
		t.Fatalf("expected refcount 1 after one unmount, got %d", got)
	}
}

func TestPurgeUnmountsIdleZeroRefcountOnly(t *testing.T) {
	tbl := fakeTable()
	var unmounted []string
	tbl.runCmd = func(tmpl, mountpoint, device string) error {
		if tmpl == "umount" {
			unmounted = append(unmounted, mountpoint)
		}
		return nil
	}
	idle := Target{Name: "/mnt/idle", Device: "/dev/sdc1"}
	busy := Target{Name: "/mnt/busy", Device: "/dev/sdd1"}

	tbl.MountAll([]Target{idle, busy})
	tbl.UnmountAll([]Target{idle}) // refcount -> 0, but not yet idle long enough
	tbl.entries[idle].lastChanged = time.Now().Add(-2 * MountTimeout)

	errs := tbl.Purge(false)
	if len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}
	if len(unmounted) != 1 || unmounted[0] != "/mnt/idle" {
		t.Fatalf("expected only /mnt/idle purged, got %v", unmounted)
	}
	if tbl.Refcount(busy) != 1 {
		t.Fatal("busy target must survive Purge")
	}
}

func TestPurgeForceIgnoresIdleTimeout(t *testing.T) {
	tbl := fakeTable()
	var unmounted []string
	tbl.runCmd = func(tmpl, mountpoint, device string) error {
		if tmpl == "umount" {
			unmounted = append(unmounted, mountpoint)
		}
		return nil
	}
	tgt := Target{Name: "/mnt/fresh", Device: "/dev/sde1"}
	tbl.MountAll([]Target{tgt})
	tbl.UnmountAll([]Target{tgt}) // refcount 0, just now -- not idle yet

	if errs := tbl.Purge(false); len(errs) != 0 || len(unmounted) != 0 {
		t.Fatalf("expected no purge without force, got %v / %v", errs, unmounted)
	}
	if errs := tbl.Purge(true); len(errs) != 0 || len(unmounted) != 1 {
		t.Fatalf("expected force to purge the fresh zero-refcount target, got %v / %v", errs, unmounted)
	}
}
