package mount

import (
	"strings"

	"github.com/s-urbaniak/uevent"

	"github.com/bar-archiver/bar/internal/barerrors"
)

// DeviceEvent is a simplified kernel block-device add notification, the
// subset of a uevent a storage adapter's VolumeHandler (see
// internal/storage) needs to know a VOLUME_REQUEST_* prompt was just
// satisfied by media insertion.
type DeviceEvent struct {
	DevName string // e.g. "sr0", "sdb1"
	DevPath string
}

// Watcher decodes kernel uevent block-add/change notifications the
// same way cmd/minitrd/minitrd.go's uevent.NewReader/NewDecoder loop
// does, filtered down to the "block" subsystem events that matter for
// removable backup media (optical drives, USB devices) rather than
// minitrd's full root-filesystem-discovery state machine.
type Watcher struct {
	dec *uevent.Decoder
	r   *uevent.Reader
}

// NewWatcher opens a kernel uevent netlink socket. Must run as root.
func NewWatcher() (*Watcher, error) {
	r, err := uevent.NewReader()
	if err != nil {
		return nil, barerrors.New(barerrors.KindIO, "mount", err)
	}
	return &Watcher{r: r, dec: uevent.NewDecoder(r)}, nil
}

func (w *Watcher) Close() error { return w.r.Close() }

// Next blocks until the next relevant block-subsystem add/change
// uevent and returns it. Non-block-subsystem events and events with
// no DEVNAME variable (not a concrete device node) are skipped
// transparently, matching minitrd's own "continue // unexpected
// uevent message" filtering.
func (w *Watcher) Next() (DeviceEvent, error) {
	for {
		ev, err := w.dec.Decode()
		if err != nil {
			return DeviceEvent{}, barerrors.New(barerrors.KindIO, "mount", err)
		}
		if ev.Subsystem != "block" {
			continue
		}
		if !(ev.Action == "add" || ev.Action == "change") {
			continue
		}
		devname, ok := ev.Vars["DEVNAME"]
		if !ok {
			continue
		}
		if strings.HasPrefix(devname, "dm-") && ev.Action != "change" {
			continue // wait for the post-activation change event, see minitrd
		}
		return DeviceEvent{DevName: devname, DevPath: ev.Devpath}, nil
	}
}
