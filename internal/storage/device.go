package storage

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"

	"github.com/bar-archiver/bar/internal/barerrors"
)

// DeviceCommands names the operator-configured shell commands a
// DeviceAdapter runs to make removable media available, mirroring how
// internal/build.mount1 shells out to fixed tool invocations rather
// than reimplementing tray/mount control in Go. Each command runs
// unchanged via /bin/sh -c, with the VolumeRequest's Label in the
// BAR_VOLUME_LABEL environment variable.
type DeviceCommands struct {
	// Load is run before the first access to a given label (eject -t,
	// a jukebox "load slot N" script, cryptsetup open, ...).
	Load string
	// Unload is run when BAR is done with a label (eject, a jukebox
	// "unload" script, cryptsetup close, ...).
	Unload string
}

// DeviceAdapter wraps a FileAdapter rooted at the device's mount
// point, adding a RequestVolume that shells out to operator-supplied
// load/unload commands for optical (cd/dvd/bd) or removable-media
// targets (§4.6). The blob-stream operations themselves are plain
// file I/O once the volume is mounted, so DeviceAdapter embeds
// FileAdapter instead of reimplementing them.
type DeviceAdapter struct {
	*FileAdapter
	Commands DeviceCommands
}

func NewDeviceAdapter(mountpoint string, commands DeviceCommands, maxConns int) *DeviceAdapter {
	return &DeviceAdapter{FileAdapter: NewFileAdapter(mountpoint, maxConns), Commands: commands}
}

func (a *DeviceAdapter) runTemplate(ctx context.Context, tmpl, label string) error {
	if tmpl == "" {
		return nil
	}
	cmd := exec.CommandContext(ctx, "/bin/sh", "-c", tmpl)
	cmd.Env = append(cmd.Env, "BAR_VOLUME_LABEL="+label)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return barerrors.New(barerrors.KindStorage, "storage.device", fmt.Errorf("%s: %w: %s", tmpl, err, stderr.String()))
	}
	return nil
}

// RequestVolume runs the configured Load command, passing req.Label
// via the BAR_VOLUME_LABEL environment variable the way a jukebox
// loader script expects to receive its slot/volume identifier.
func (a *DeviceAdapter) RequestVolume(ctx context.Context, req VolumeRequest) error {
	return a.runTemplate(ctx, a.Commands.Load, req.Label)
}

// Unload runs the configured Unload command for label, called once a
// part on that volume will not be touched again in this job.
func (a *DeviceAdapter) Unload(ctx context.Context, label string) error {
	return a.runTemplate(ctx, a.Commands.Unload, label)
}

func (a *DeviceAdapter) Close() error { return a.FileAdapter.Close() }
