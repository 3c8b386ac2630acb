// Package config defines the resolved configuration object every BAR
// component is constructed from. Parsing (flags, a config file, env
// vars) is out of core scope per spec.md §1 -- the core only ever
// receives an already-validated *Config, the same way
// internal/build.Ctx and internal/batch.Ctx carry resolved settings
// rather than re-parsing flags themselves.
package config

import (
	"fmt"

	"github.com/bar-archiver/bar/internal/job"
)

// Config is the top-level resolved settings object threaded through
// C4-C12's constructors.
type Config struct {
	// StateDir holds the job/schedule/persistence/incremental-list
	// files of §6.5 and the C10/C11 sqlite databases.
	StateDir string

	// ClientWorkers/WorkerWorkers size C8's two named pools.
	ClientWorkers int64
	WorkerWorkers int64

	// BandwidthLimitBytesPerSec is a bandwidth cap in bytes per second;
	// Validate rejects a negative value. No storage adapter reads it, so
	// storage I/O is not throttled whatever its value.
	BandwidthLimitBytesPerSec int64

	// MaxStorageConns caps concurrent connections/handles each storage
	// adapter instance holds open against one server (§4.6 connection
	// pool); 0 means unlimited.
	MaxStorageConns int

	// Console selects human-readable terminal output over newline-delimited
	// JSON logging (see internal/barlog.New).
	Console bool

	// MountCommands drives internal/mount's command-template mounter.
	MountCommands MountCommands

	// DefaultPersistence supplies retention rules for archive types that
	// have no persistence-rule file of their own yet.
	DefaultPersistence map[job.ArchiveType][]job.PersistenceRule
}

// MountCommands has the same fields as internal/mount.Commands; it is
// a separate type so config need not import internal/mount for a
// single field group. Nothing converts one into the other, and
// Validate does not check it.
type MountCommands struct {
	Mount   string
	Unmount string
}

// Clone returns a shallow copy, the same pattern
// internal/build.Ctx.Clone() uses for per-sub-operation config
// forking (e.g. one Config per job run, sharing the parent's
// StateDir/MountCommands but free to override worker counts).
func (c *Config) Clone() *Config {
	result := &Config{}
	*result = *c
	return result
}

// Validate rejects a Config with missing required fields or
// out-of-range values before any component is constructed from it.
func (c *Config) Validate() error {
	if c.StateDir == "" {
		return fmt.Errorf("config: StateDir must be set")
	}
	if c.ClientWorkers <= 0 {
		return fmt.Errorf("config: ClientWorkers must be positive, got %d", c.ClientWorkers)
	}
	if c.WorkerWorkers <= 0 {
		return fmt.Errorf("config: WorkerWorkers must be positive, got %d", c.WorkerWorkers)
	}
	if c.BandwidthLimitBytesPerSec < 0 {
		return fmt.Errorf("config: BandwidthLimitBytesPerSec must not be negative, got %d", c.BandwidthLimitBytesPerSec)
	}
	return nil
}

// Default returns a Config with the teacher-like conservative
// defaults named in SPEC_FULL.md's DOMAIN STACK table: a client pool
// of 4 and a worker pool of runtime.NumCPU()+3, matching C8's stated
// sizing.
func Default(stateDir string) *Config {
	return &Config{
		StateDir:        stateDir,
		ClientWorkers:   4,
		WorkerWorkers:   int64(defaultWorkerPoolSize()),
		Console:         true,
		MaxStorageConns: 4,
	}
}
