package index

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/bar-archiver/bar/internal/barerrors"
)

// storageTransitions mirrors §4.10's state diagram the same way
// internal/job's transitions table mirrors §4.9's.
var storageTransitions = map[StorageState]map[string]StorageState{
	StateCreate:          {"request_update": StateUpdateRequested},
	StateUpdateRequested: {"begin_update": StateUpdate},
	StateUpdate: {
		"ok":    StateOK,
		"error": StateError,
		"retry": StateUpdateRequested,
	},
}

// ErrIllegalStorageTransition is returned for an event not valid from
// a storage row's current state.
type ErrIllegalStorageTransition struct {
	From  StorageState
	Event string
}

func (e *ErrIllegalStorageTransition) Error() string {
	return fmt.Sprintf("index: event %q is not valid from storage state %s", e.Event, e.From)
}

func (idx *Index) transitionStorage(ctx context.Context, tx *sql.Tx, storageID int64, event string) error {
	var cur int
	if err := tx.QueryRowContext(ctx, `SELECT state FROM storages WHERE id = ?`, storageID).Scan(&cur); err != nil {
		return barerrors.New(barerrors.KindStorage, "index", err)
	}
	from := StorageState(cur)
	// DELETED is terminal but reachable from any state; handled by
	// Purge directly rather than through this table, since deletion
	// also cascades to child entry rows.
	edges, ok := storageTransitions[from]
	if !ok {
		return barerrors.New(barerrors.KindInvalidArgument, "index", &ErrIllegalStorageTransition{From: from, Event: event})
	}
	to, ok := edges[event]
	if !ok {
		return barerrors.New(barerrors.KindInvalidArgument, "index", &ErrIllegalStorageTransition{From: from, Event: event})
	}
	if _, err := tx.ExecContext(ctx, `UPDATE storages SET state = ? WHERE id = ?`, int(to), storageID); err != nil {
		return barerrors.New(barerrors.KindStorage, "index", err)
	}
	return nil
}

// CreateStorage records a newly closed, named blob. Per §4.10's entity
// rule, if entityName has no existing entity row one is inserted in
// the same transaction as the storage row, so a storage never
// observably exists without its entity.
func (idx *Index) CreateStorage(ctx context.Context, entityName, storageName string, archiveType int) (storageID int64, err error) {
	tx, err := idx.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, barerrors.New(barerrors.KindStorage, "index", err)
	}
	defer tx.Rollback()

	var entityID int64
	err = tx.QueryRowContext(ctx, `SELECT id FROM entities WHERE name = ?`, entityName).Scan(&entityID)
	if err == sql.ErrNoRows {
		res, err := tx.ExecContext(ctx, `INSERT INTO entities(name) VALUES (?)`, entityName)
		if err != nil {
			return 0, barerrors.New(barerrors.KindStorage, "index", err)
		}
		entityID, err = res.LastInsertId()
		if err != nil {
			return 0, barerrors.New(barerrors.KindStorage, "index", err)
		}
	} else if err != nil {
		return 0, barerrors.New(barerrors.KindStorage, "index", err)
	}

	res, err := tx.ExecContext(ctx,
		`INSERT INTO storages(entity_id, name, archive_type, state, created_at) VALUES (?, ?, ?, ?, ?)`,
		entityID, storageName, archiveType, int(StateCreate), time.Now().UTC())
	if err != nil {
		return 0, barerrors.New(barerrors.KindStorage, "index", err)
	}
	storageID, err = res.LastInsertId()
	if err != nil {
		return 0, barerrors.New(barerrors.KindStorage, "index", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, barerrors.New(barerrors.KindStorage, "index", err)
	}
	return storageID, nil
}

// RequestUpdate moves a just-closed storage from CREATE to
// UPDATE_REQUESTED, making it visible to indexer workers.
func (idx *Index) RequestUpdate(ctx context.Context, storageID int64) error {
	return idx.transition(ctx, storageID, "request_update")
}

// BeginUpdate moves storageID from UPDATE_REQUESTED to UPDATE; an
// indexer task calls this immediately before parsing the blob.
func (idx *Index) BeginUpdate(ctx context.Context, storageID int64) error {
	return idx.transition(ctx, storageID, "begin_update")
}

func (idx *Index) transition(ctx context.Context, storageID int64, event string) error {
	tx, err := idx.db.BeginTx(ctx, nil)
	if err != nil {
		return barerrors.New(barerrors.KindStorage, "index", err)
	}
	defer tx.Rollback()
	if err := idx.transitionStorage(ctx, tx, storageID, event); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return barerrors.New(barerrors.KindStorage, "index", err)
	}
	return nil
}

// CommitParse inserts entries atomically and moves storageID to OK.
// Per §4.10's atomicity rule, a single transaction covers every entry
// row plus the state transition: any failure discards the whole
// batch and the storage is left in UPDATE, to be failed explicitly by
// the caller via FailParse.
func (idx *Index) CommitParse(ctx context.Context, storageID int64, entries []Entry) error {
	tx, err := idx.db.BeginTx(ctx, nil)
	if err != nil {
		return barerrors.New(barerrors.KindStorage, "index", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO entries(storage_id, path, kind, size, mtime, hash) VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return barerrors.New(barerrors.KindStorage, "index", err)
	}
	defer stmt.Close()

	for _, e := range entries {
		if _, err := stmt.ExecContext(ctx, storageID, e.Path, e.Kind, e.Size, e.Mtime, e.Hash); err != nil {
			return barerrors.New(barerrors.KindStorage, "index", err)
		}
	}
	if err := idx.transitionStorage(ctx, tx, storageID, "ok"); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return barerrors.New(barerrors.KindStorage, "index", err)
	}
	return nil
}

// FailParse records a parse failure and moves storageID to ERROR.
func (idx *Index) FailParse(ctx context.Context, storageID int64, code, msg string) error {
	tx, err := idx.db.BeginTx(ctx, nil)
	if err != nil {
		return barerrors.New(barerrors.KindStorage, "index", err)
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `UPDATE storages SET error_code = ?, error_msg = ? WHERE id = ?`, code, msg, storageID); err != nil {
		return barerrors.New(barerrors.KindStorage, "index", err)
	}
	if err := idx.transitionStorage(ctx, tx, storageID, "error"); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return barerrors.New(barerrors.KindStorage, "index", err)
	}
	return nil
}

// RetryParse moves an interrupted UPDATE back to UPDATE_REQUESTED.
func (idx *Index) RetryParse(ctx context.Context, storageID int64) error {
	return idx.transition(ctx, storageID, "retry")
}

// GetStorage reads back a storage row by ID.
func (idx *Index) GetStorage(ctx context.Context, storageID int64) (*Storage, error) {
	var s Storage
	var state int
	err := idx.db.QueryRowContext(ctx,
		`SELECT id, entity_id, name, archive_type, state, error_code, error_msg, created_at FROM storages WHERE id = ?`,
		storageID).Scan(&s.ID, &s.EntityID, &s.Name, &s.ArchiveType, &state, &s.ErrorCode, &s.ErrorMsg, &s.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, barerrors.New(barerrors.KindIndex, "index", err)
	}
	if err != nil {
		return nil, barerrors.New(barerrors.KindStorage, "index", err)
	}
	s.State = StorageState(state)
	return &s, nil
}

// ListStoragesByEntityAndType narrows ListStoragesByType to one
// entity, the shape a single job's persistence-policy evaluation
// actually needs (§4.9 rules apply per job, not across every job
// sharing an archive type).
func (idx *Index) ListStoragesByEntityAndType(ctx context.Context, entityName string, archiveType int) ([]Storage, error) {
	var entityID int64
	err := idx.db.QueryRowContext(ctx, `SELECT id FROM entities WHERE name = ?`, entityName).Scan(&entityID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, barerrors.New(barerrors.KindStorage, "index", err)
	}

	rows, err := idx.db.QueryContext(ctx,
		`SELECT id, entity_id, name, archive_type, state, error_code, error_msg, created_at FROM storages WHERE entity_id = ? AND archive_type = ? AND state != ?`,
		entityID, archiveType, int(StateDeleted))
	if err != nil {
		return nil, barerrors.New(barerrors.KindStorage, "index", err)
	}
	defer rows.Close()

	var out []Storage
	for rows.Next() {
		var s Storage
		var state int
		if err := rows.Scan(&s.ID, &s.EntityID, &s.Name, &s.ArchiveType, &state, &s.ErrorCode, &s.ErrorMsg, &s.CreatedAt); err != nil {
			return nil, barerrors.New(barerrors.KindStorage, "index", err)
		}
		s.State = StorageState(state)
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, barerrors.New(barerrors.KindStorage, "index", err)
	}
	return out, nil
}

// ListStoragesByType returns every non-deleted storage of
// archiveType, used by internal/job's persistence-policy evaluator.
func (idx *Index) ListStoragesByType(ctx context.Context, archiveType int) ([]Storage, error) {
	rows, err := idx.db.QueryContext(ctx,
		`SELECT id, entity_id, name, archive_type, state, error_code, error_msg, created_at FROM storages WHERE archive_type = ? AND state != ?`,
		archiveType, int(StateDeleted))
	if err != nil {
		return nil, barerrors.New(barerrors.KindStorage, "index", err)
	}
	defer rows.Close()

	var out []Storage
	for rows.Next() {
		var s Storage
		var state int
		if err := rows.Scan(&s.ID, &s.EntityID, &s.Name, &s.ArchiveType, &state, &s.ErrorCode, &s.ErrorMsg, &s.CreatedAt); err != nil {
			return nil, barerrors.New(barerrors.KindStorage, "index", err)
		}
		s.State = StorageState(state)
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, barerrors.New(barerrors.KindStorage, "index", err)
	}
	return out, nil
}
