// Package index implements the storage/entity/entry metadata catalog
// (§4.10): every entry written to a blob is mirrored here so restores,
// retention, and dedup lookups never have to re-read a storage file.
package index

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	// sqlite driver for database/sql:
	_ "github.com/mattn/go-sqlite3"

	"github.com/bar-archiver/bar/internal/barerrors"
	"github.com/bar-archiver/bar/internal/barlog"
)

// StorageState is one state of the §4.10 storage lifecycle.
type StorageState int

const (
	StateCreate StorageState = iota
	StateUpdateRequested
	StateUpdate
	StateOK
	StateError
	StateDeleted
)

func (s StorageState) String() string {
	switch s {
	case StateCreate:
		return "CREATE"
	case StateUpdateRequested:
		return "UPDATE_REQUESTED"
	case StateUpdate:
		return "UPDATE"
	case StateOK:
		return "OK"
	case StateError:
		return "ERROR"
	case StateDeleted:
		return "DELETED"
	default:
		return "UNKNOWN"
	}
}

// Index wraps the sqlite-backed metadata catalog. Callers share one
// Index across goroutines; database/sql's *sql.DB is itself a
// connection pool, so Index needs no pool of its own (unlike the
// storage package's adapter-side internal/storage.Pool, which bounds
// concurrent remote connections rather than local sqlite handles).
type Index struct {
	db  *sql.DB
	log barlog.Logger
}

// Open opens (creating if absent) the sqlite database at path and
// ensures the schema exists.
func Open(path string, log barlog.Logger) (*Index, error) {
	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on")
	if err != nil {
		return nil, barerrors.New(barerrors.KindStorage, "index", err)
	}
	// sqlite only tolerates one writer at a time; a single connection
	// avoids SQLITE_BUSY under concurrent index updates from C8's
	// worker pool rather than relying on busy-timeout retries.
	db.SetMaxOpenConns(1)
	idx := &Index{db: db, log: log}
	if err := idx.migrate(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return idx, nil
}

func (idx *Index) Close() error {
	return idx.db.Close()
}

const schema = `
CREATE TABLE IF NOT EXISTS entities (
	id   INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL UNIQUE
);

CREATE TABLE IF NOT EXISTS storages (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	entity_id    INTEGER NOT NULL REFERENCES entities(id),
	name         TEXT NOT NULL,
	archive_type INTEGER NOT NULL,
	state        INTEGER NOT NULL,
	error_code   TEXT NOT NULL DEFAULT '',
	error_msg    TEXT NOT NULL DEFAULT '',
	created_at   TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS storages_entity_idx ON storages(entity_id);
CREATE INDEX IF NOT EXISTS storages_state_idx ON storages(state);

CREATE TABLE IF NOT EXISTS entries (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	storage_id INTEGER NOT NULL REFERENCES storages(id),
	path       TEXT NOT NULL,
	kind       INTEGER NOT NULL,
	size       INTEGER NOT NULL,
	mtime      TIMESTAMP NOT NULL,
	hash       TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS entries_storage_idx ON entries(storage_id);
CREATE INDEX IF NOT EXISTS entries_path_idx ON entries(path);
`

func (idx *Index) migrate(ctx context.Context) error {
	if _, err := idx.db.ExecContext(ctx, schema); err != nil {
		return barerrors.New(barerrors.KindStorage, "index", fmt.Errorf("migrate: %w", err))
	}
	return nil
}

// Entity is one backed-up source (a job's target host/volume/share).
type Entity struct {
	ID   int64
	Name string
}

// Storage is one index row mirroring a closed, named blob.
type Storage struct {
	ID          int64
	EntityID    int64
	Name        string
	ArchiveType int
	State       StorageState
	ErrorCode   string
	ErrorMsg    string
	CreatedAt   time.Time
}

// Entry is one archived path recorded against a storage, used for
// restore lookups and dedup without re-parsing the blob.
type Entry struct {
	ID        int64
	StorageID int64
	Path      string
	Kind      int
	Size      int64
	Mtime     time.Time
	Hash      string
}
