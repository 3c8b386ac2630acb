// Package job implements the job record lifecycle state machine,
// archive-type election, the persistence (keep/age) policy, and the
// per-minute schedule evaluator (§4.9).
package job

import (
	"fmt"
	"time"

	"github.com/bar-archiver/bar/internal/barerrors"
)

// State is one of the job lifecycle states of §4.9.
type State int

const (
	StateNone State = iota
	StateWaiting
	StateRunning
	StateDone
	StateError
	StateAborted
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateNone:
		return "none"
	case StateWaiting:
		return "waiting"
	case StateRunning:
		return "running"
	case StateDone:
		return "done"
	case StateError:
		return "error"
	case StateAborted:
		return "aborted"
	case StateDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// ArchiveType is the kind of run a trigger requests.
type ArchiveType int

const (
	ArchiveNormal ArchiveType = iota
	ArchiveFull
	ArchiveIncremental
	ArchiveDifferential
	ArchiveContinuous
)

func (a ArchiveType) String() string {
	switch a {
	case ArchiveNormal:
		return "normal"
	case ArchiveFull:
		return "full"
	case ArchiveIncremental:
		return "incremental"
	case ArchiveDifferential:
		return "differential"
	case ArchiveContinuous:
		return "continuous"
	default:
		return "unknown"
	}
}

// transitions enumerates every legal (from, event) -> to edge of the
// §4.9 state diagram; anything not listed is rejected by Transition.
var transitions = map[State]map[string]State{
	StateNone:         {"trigger": StateWaiting},
	StateWaiting:      {"admit": StateRunning},
	StateRunning: {
		"succeed":  StateDone,
		"fail":     StateError,
		"abort":    StateAborted,
		"disconnect": StateDisconnected,
	},
	StateDisconnected: {"reconnect": StateRunning},
	StateDone:         {"trigger": StateWaiting},
	StateError:        {"trigger": StateWaiting},
	StateAborted:      {"trigger": StateWaiting},
}

// ErrIllegalTransition is returned by Job.Transition for an event not
// valid from the job's current state.
type ErrIllegalTransition struct {
	From  State
	Event string
}

func (e *ErrIllegalTransition) Error() string {
	return fmt.Sprintf("job: event %q is not valid from state %s", e.Event, e.From)
}

// Job is one named, schedulable backup job record.
type Job struct {
	UUID         string      `yaml:"uuid"`
	Name         string      `yaml:"name"`
	State        State       `yaml:"state"`
	LastTrigger  ArchiveType `yaml:"last_trigger"`
	LastExecuted time.Time   `yaml:"last_executed"`

	// EntityName groups this job's storages under one index entity
	// (§4.10); distinct jobs sharing an EntityName share retention.
	EntityName string `yaml:"entity_name"`

	// SourceRoots are the include-root paths internal/source walks.
	SourceRoots []string `yaml:"source_roots"`
	// IncludePatterns/ExcludePatterns are compiled into source.Pattern
	// at run time; job stays decoupled from internal/source's types.
	IncludePatterns []string `yaml:"include,omitempty"`
	ExcludePatterns []string `yaml:"exclude,omitempty"`

	// StorageDir is where this job's archive parts are written, a
	// path internal/storage.NewFileAdapter is rooted at.
	StorageDir string `yaml:"storage_dir"`
}

// Transition applies event to j, mutating j.State on success.
func (j *Job) Transition(event string) error {
	edges, ok := transitions[j.State]
	if !ok {
		return barerrors.New(barerrors.KindInternal, "job", &ErrIllegalTransition{From: j.State, Event: event})
	}
	to, ok := edges[event]
	if !ok {
		return barerrors.New(barerrors.KindInvalidArgument, "job", &ErrIllegalTransition{From: j.State, Event: event})
	}
	j.State = to
	return nil
}

// Trigger requests a run of archiveType. Per §4.9, triggers are
// idempotent: a job already WAITING or RUNNING silently drops the new
// trigger rather than erroring, since a scheduler firing once a minute
// must be safe to call against a job that is still mid-run.
func (j *Job) Trigger(archiveType ArchiveType) (triggered bool, err error) {
	if j.State == StateWaiting || j.State == StateRunning {
		return false, nil
	}
	if err := j.Transition("trigger"); err != nil {
		return false, err
	}
	j.LastTrigger = archiveType
	return true, nil
}
