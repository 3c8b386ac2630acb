// Package continuous implements the append-only change queue a
// file-system watcher feeds and CONTINUOUS job runs drain (§4.11).
package continuous

import (
	"context"
	"database/sql"
	"time"

	// sqlite driver for database/sql:
	_ "github.com/mattn/go-sqlite3"

	"github.com/bar-archiver/bar/internal/barerrors"
)

// Queue is the sqlite-backed change queue. It can share a database
// file with internal/index (both are sqlite-backed metadata, per
// §6.5), but is opened separately here since a watcher process and
// the indexer are independent collaborators that may run in separate
// address spaces.
type Queue struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS continuous_changes (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	job_uuid    TEXT NOT NULL,
	schedule_uuid TEXT NOT NULL,
	path        TEXT NOT NULL,
	min_time    TIMESTAMP NOT NULL,
	max_time    TIMESTAMP NOT NULL,
	UNIQUE(job_uuid, schedule_uuid, path, min_time, max_time)
);
CREATE INDEX IF NOT EXISTS continuous_changes_job_idx ON continuous_changes(job_uuid, min_time, max_time);
`

// Open opens (creating if absent) the queue database at path.
func Open(path string) (*Queue, error) {
	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on")
	if err != nil {
		return nil, barerrors.New(barerrors.KindStorage, "continuous", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(context.Background(), schema); err != nil {
		db.Close()
		return nil, barerrors.New(barerrors.KindStorage, "continuous", err)
	}
	return &Queue{db: db}, nil
}

func (q *Queue) Close() error { return q.db.Close() }

// Push records that path changed for jobUUID/scheduleUUID during
// [minTime, maxTime]. The watcher is expected to push one row per
// observed change event; duplicates (same 5-tuple) are silently
// folded together by the table's UNIQUE constraint rather than
// erroring, since a watcher restarting mid-stream may re-report an
// event it already pushed.
func (q *Queue) Push(ctx context.Context, jobUUID, scheduleUUID, path string, minTime, maxTime time.Time) error {
	_, err := q.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO continuous_changes(job_uuid, schedule_uuid, path, min_time, max_time) VALUES (?, ?, ?, ?, ?)`,
		jobUUID, scheduleUUID, path, minTime, maxTime)
	if err != nil {
		return barerrors.New(barerrors.KindStorage, "continuous", err)
	}
	return nil
}

// Pending returns the de-duplicated, path-sorted set of paths queued
// for jobUUID whose window covers now. It implements
// internal/job.ContinuousSource so a job's CONTINUOUS run can use a
// Queue as its include-list source without internal/job importing
// this package.
func (q *Queue) Pending(jobUUID string) ([]string, error) {
	rows, err := q.db.Query(
		`SELECT DISTINCT path FROM continuous_changes WHERE job_uuid = ? AND min_time <= ? AND max_time >= ? ORDER BY path`,
		jobUUID, time.Now(), time.Now())
	if err != nil {
		return nil, barerrors.New(barerrors.KindStorage, "continuous", err)
	}
	defer rows.Close()

	var paths []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, barerrors.New(barerrors.KindStorage, "continuous", err)
		}
		paths = append(paths, p)
	}
	if err := rows.Err(); err != nil {
		return nil, barerrors.New(barerrors.KindStorage, "continuous", err)
	}
	return paths, nil
}

// Ack deletes every currently-consumable row for jobUUID whose path is
// in paths, per §4.11's "deletes consumed rows on success". Rows whose
// window has not yet opened are left alone even if their path matches,
// since those represent a later, not-yet-due change.
func (q *Queue) Ack(jobUUID string, paths []string) error {
	ctx := context.Background()
	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return barerrors.New(barerrors.KindStorage, "continuous", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`DELETE FROM continuous_changes WHERE job_uuid = ? AND path = ? AND min_time <= ? AND max_time >= ?`)
	if err != nil {
		return barerrors.New(barerrors.KindStorage, "continuous", err)
	}
	defer stmt.Close()

	now := time.Now()
	for _, p := range paths {
		if _, err := stmt.ExecContext(ctx, jobUUID, p, now, now); err != nil {
			return barerrors.New(barerrors.KindStorage, "continuous", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return barerrors.New(barerrors.KindStorage, "continuous", err)
	}
	return nil
}
