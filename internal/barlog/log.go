// Package barlog provides the structured logger every BAR component is
// handed at construction time, the same way internal/batch.Ctx and
// internal/build.Ctx carry a *log.Logger instead of reaching for a
// package-global. Components never import zerolog's global logger
// directly; they take a barlog.Logger field.
package barlog

import (
	"io"
	"os"

	"github.com/rs/zerolog"
)

// Logger wraps zerolog.Logger so call sites can attach the job/entity/
// storage fields §4.8's shared console and §7's per-job log both need
// without repeating WithField boilerplate everywhere.
type Logger struct {
	zerolog.Logger
}

// New builds a logger writing to w. console selects a human-readable
// console writer (used for terminal output, see internal/pool); when
// false, output is newline-delimited JSON suitable for the per-job log
// file of §6.5.
func New(w io.Writer, console bool) Logger {
	if console {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: "15:04:05"}
	}
	return Logger{zerolog.New(w).With().Timestamp().Logger()}
}

// Default is a convenience logger writing JSON to stderr, used by
// components constructed without an explicit logger in tests.
func Default() Logger {
	return New(os.Stderr, false)
}

// Job returns a child logger tagged with the job/entity/storage triple
// that every per-run log line in §4.9/§4.10 needs for correlation.
func (l Logger) Job(jobUUID, entityID, storage string) Logger {
	ctx := l.With()
	if jobUUID != "" {
		ctx = ctx.Str("job_uuid", jobUUID)
	}
	if entityID != "" {
		ctx = ctx.Str("entity_id", entityID)
	}
	if storage != "" {
		ctx = ctx.Str("storage", storage)
	}
	return Logger{ctx.Logger()}
}
