package index

import (
	"context"
	"database/sql"
	"strconv"

	"golang.org/x/xerrors"
	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/topo"

	"github.com/bar-archiver/bar/internal/barerrors"
)

// purgeNode tags a graph node with what it represents, so the
// topological order computed below can be replayed as concrete DELETE
// statements without a second lookup pass.
type purgeNode struct {
	id int64

	kind string // "entry", "storage", or "entity"
	ref  int64  // entry/storage/entity row id
}

func (n *purgeNode) ID() int64 { return n.id }

// Purge removes each of storageIDs from the index: their entry rows
// first, then the storage row, then (if it was the
// entity's last storage) the entity row. Per §4.10, deletion must
// remove child entry rows before their storage row; generalizing
// cmd/distri/gc.go's transitive-closure scan, the dependency order
// here is computed with the same gonum topological sort
// internal/batch/batch.go uses to order package builds, rather than
// assuming entries always precede storages in a single flat loop.
func (idx *Index) Purge(ctx context.Context, storageIDs []int64) error {
	tx, err := idx.db.BeginTx(ctx, nil)
	if err != nil {
		return barerrors.New(barerrors.KindStorage, "index", err)
	}
	defer tx.Rollback()

	g := simple.NewDirectedGraph()
	var nextID int64
	nodes := map[string]*purgeNode{}
	newNode := func(kind string, ref int64) *purgeNode {
		key := kind + ":" + strconv.FormatInt(ref, 10)
		if n, ok := nodes[key]; ok {
			return n
		}
		n := &purgeNode{id: nextID, kind: kind, ref: ref}
		nextID++
		nodes[key] = n
		g.AddNode(n)
		return n
	}

	entityOfStorage := map[int64]int64{}
	for _, sid := range storageIDs {
		s, err := idx.GetStorage(ctx, sid)
		if err != nil {
			return err
		}
		entityOfStorage[sid] = s.EntityID

		storageNode := newNode("storage", sid)
		entityNode := newNode("entity", s.EntityID)
		g.SetEdge(g.NewEdge(storageNode, entityNode))

		rows, err := tx.QueryContext(ctx, `SELECT id FROM entries WHERE storage_id = ?`, sid)
		if err != nil {
			return barerrors.New(barerrors.KindStorage, "index", err)
		}
		var entryIDs []int64
		for rows.Next() {
			var eid int64
			if err := rows.Scan(&eid); err != nil {
				rows.Close()
				return barerrors.New(barerrors.KindStorage, "index", err)
			}
			entryIDs = append(entryIDs, eid)
		}
		rows.Close()
		for _, eid := range entryIDs {
			entryNode := newNode("entry", eid)
			g.SetEdge(g.NewEdge(entryNode, storageNode))
		}
	}

	order, err := topo.Sort(g)
	if err != nil {
		return barerrors.New(barerrors.KindIndex, "index", xerrors.Errorf("cascade-delete graph has a cycle: %w", err))
	}

	// An entity must not be deleted while any other storage still
	// references it; only drop an entity node whose every storage is
	// in this purge batch.
	remainingEntities := map[int64]bool{}
	for _, eid := range entityOfStorage {
		if remainingEntities[eid] {
			continue
		}
		count, err := idx.countOtherStorages(ctx, tx, eid, storageIDs)
		if err != nil {
			return err
		}
		if count > 0 {
			remainingEntities[eid] = true
		}
	}

	for _, gn := range order {
		n := gn.(*purgeNode)
		switch n.kind {
		case "entry":
			if _, err := tx.ExecContext(ctx, `DELETE FROM entries WHERE id = ?`, n.ref); err != nil {
				return barerrors.New(barerrors.KindStorage, "index", err)
			}
		case "storage":
			if _, err := tx.ExecContext(ctx, `DELETE FROM storages WHERE id = ?`, n.ref); err != nil {
				return barerrors.New(barerrors.KindStorage, "index", err)
			}
		case "entity":
			if !remainingEntities[n.ref] {
				if _, err := tx.ExecContext(ctx, `DELETE FROM entities WHERE id = ?`, n.ref); err != nil {
					return barerrors.New(barerrors.KindStorage, "index", err)
				}
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return barerrors.New(barerrors.KindStorage, "index", err)
	}
	return nil
}

func (idx *Index) countOtherStorages(ctx context.Context, tx *sql.Tx, entityID int64, excluding []int64) (int, error) {
	placeholders, args := inClause(excluding)
	args = append([]interface{}{entityID}, args...)
	args = append(args, int(StateDeleted))
	row := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM storages WHERE entity_id = ? AND id NOT IN (`+placeholders+`) AND state != ?`,
		args...)
	var n int
	if err := row.Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

func inClause(ids []int64) (string, []interface{}) {
	if len(ids) == 0 {
		return "-1", nil
	}
	args := make([]interface{}, len(ids))
	s := ""
	for i, id := range ids {
		if i > 0 {
			s += ","
		}
		s += "?"
		args[i] = id
	}
	return s, args
}

