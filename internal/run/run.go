// Package run ties C4/C5 (internal/archive), C6 (internal/storage),
// C7 (internal/source), C9 (internal/job) and C10 (internal/index)
// together into one archive run, the role internal/build.Build plays
// for a distri package build: walk a source tree, write an archive
// through a storage adapter, catalog the result, then apply the
// job's persistence policy.
package run

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/bar-archiver/bar/internal/archive"
	"github.com/bar-archiver/bar/internal/barlog"
	"github.com/bar-archiver/bar/internal/config"
	"github.com/bar-archiver/bar/internal/continuous"
	"github.com/bar-archiver/bar/internal/index"
	"github.com/bar-archiver/bar/internal/job"
	"github.com/bar-archiver/bar/internal/source"
	"github.com/bar-archiver/bar/internal/storage"
	"github.com/bar-archiver/bar/pb"
)

// Runner executes archive runs for jobs sharing one Config/Index.
type Runner struct {
	Config     *config.Config
	Index      *index.Index
	Continuous *continuous.Queue // required only for ArchiveContinuous runs
	Options    archive.Options   // crypt/compress/part-size policy, caller-supplied
	// ReadOptions configures Walk's archive.Reader (password/private
	// key/signature verification) for list/test/compare/restore.
	ReadOptions archive.ReadOptions
	Log         barlog.Logger
}

func (r *Runner) incrementalListPath(j *job.Job) string {
	return filepath.Join(r.Config.StateDir, "incremental", j.UUID+".yaml")
}

func (r *Runner) newWalker(j *job.Job) (*source.Walker, error) {
	toPatterns := func(exprs []string) []source.Pattern {
		out := make([]source.Pattern, len(exprs))
		for i, e := range exprs {
			out[i] = source.Pattern{Kind: source.PatternGlob, Expr: e}
		}
		return out
	}
	return source.NewWalker(source.Options{
		Roots:         j.SourceRoots,
		Include:       toPatterns(j.IncludePatterns),
		Exclude:       toPatterns(j.ExcludePatterns),
		HonorNoDump:   true,
		HonorNoBackup: true,
	})
}

func toSet(paths []string) map[string]bool {
	out := make(map[string]bool, len(paths))
	for _, p := range paths {
		out[p] = true
	}
	return out
}

func toSlice(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for p := range set {
		out = append(out, p)
	}
	return out
}

// Execute runs one archive of archiveType for j, writing parts under
// j.StorageDir and cataloging the result in r.Index. On success it
// advances the job's incremental baseline and applies the archive
// type's persistence rules (§4.9), purging anything they no longer
// retain.
func (r *Runner) Execute(ctx context.Context, j *job.Job, archiveType job.ArchiveType) error {
	prior, err := pb.ReadIncrementalListFile(r.incrementalListPath(j))
	if err != nil {
		return fmt.Errorf("run: reading incremental list: %w", err)
	}

	walker, err := r.newWalker(j)
	if err != nil {
		return fmt.Errorf("run: building walker: %w", err)
	}

	var nodes []source.Node
	candidates := make(map[string]job.FileRecord)
	if err := walker.Walk(func(n source.Node) error {
		nodes = append(nodes, n)
		if n.Kind == source.KindFile {
			candidates[n.RelPath] = job.FileRecord{Mtime: n.Mtime, Size: n.Size}
		}
		return nil
	}); err != nil {
		return fmt.Errorf("run: walking source: %w", err)
	}

	var selected map[string]bool
	var next *job.IncrementalList
	if archiveType == job.ArchiveContinuous {
		if r.Continuous == nil {
			return fmt.Errorf("run: job %s has no continuous queue configured", j.UUID)
		}
		paths, err := job.ElectContinuous(r.Continuous, j)
		if err != nil {
			return fmt.Errorf("run: electing continuous paths: %w", err)
		}
		selected = toSet(paths)
		next = prior
	} else {
		var sel []string
		sel, next = job.Elect(archiveType, prior, candidates)
		selected = toSet(sel)
	}

	entity := j.EntityName
	if entity == "" {
		entity = j.UUID
	}
	storageName := fmt.Sprintf("%s-%s-%d", entity, archiveType, time.Now().UTC().Unix())

	storageID, err := r.Index.CreateStorage(ctx, entity, storageName, int(archiveType))
	if err != nil {
		return fmt.Errorf("run: creating storage row: %w", err)
	}
	if err := r.Index.RequestUpdate(ctx, storageID); err != nil {
		return err
	}
	if err := r.Index.BeginUpdate(ctx, storageID); err != nil {
		return err
	}

	adapter := storage.NewFileAdapter(j.StorageDir, r.Config.MaxStorageConns)
	defer adapter.Close()
	alloc := archive.NewStorageAllocator(ctx, adapter, storageName, archive.WriteModeStop)
	opts := r.Options
	opts.ArchiveType = uint8(archiveType)
	w := archive.NewWriter(alloc, opts)
	if err := w.Begin(); err != nil {
		r.Index.FailParse(ctx, storageID, "begin", err.Error())
		return fmt.Errorf("run: writer Begin: %w", err)
	}

	entries, err := r.writeEntries(w, nodes, selected)
	if err != nil {
		r.Index.FailParse(ctx, storageID, "entry", err.Error())
		return fmt.Errorf("run: writing entries: %w", err)
	}
	if err := w.End(); err != nil {
		r.Index.FailParse(ctx, storageID, "end", err.Error())
		return fmt.Errorf("run: writer End: %w", err)
	}
	if err := r.Index.CommitParse(ctx, storageID, entries); err != nil {
		return fmt.Errorf("run: committing catalog: %w", err)
	}

	// Only FULL and INCREMENTAL runs advance the baseline; DIFFERENTIAL,
	// NORMAL and CONTINUOUS hand next back unchanged (job.Elect), so
	// there is nothing new to persist.
	if archiveType == job.ArchiveFull || archiveType == job.ArchiveIncremental {
		listPath := r.incrementalListPath(j)
		if err := os.MkdirAll(filepath.Dir(listPath), 0o755); err != nil {
			return fmt.Errorf("run: preparing incremental list dir: %w", err)
		}
		if err := pb.WriteIncrementalListFile(listPath, next); err != nil {
			return fmt.Errorf("run: writing incremental baseline: %w", err)
		}
	}

	if err := r.applyPersistence(ctx, entity, archiveType); err != nil {
		return fmt.Errorf("run: applying persistence policy: %w", err)
	}

	if archiveType == job.ArchiveContinuous {
		if err := r.Continuous.Ack(j.UUID, toSlice(selected)); err != nil {
			return fmt.Errorf("run: acking continuous queue: %w", err)
		}
	}

	return nil
}

func (r *Runner) writeEntries(w *archive.Writer, nodes []source.Node, selected map[string]bool) ([]index.Entry, error) {
	var entries []index.Entry
	for _, n := range nodes {
		switch n.Kind {
		case source.KindDirectory:
			if err := w.WriteDirectoryEntry(directoryMeta(n)); err != nil {
				return nil, err
			}
		case source.KindSymlink:
			if err := w.WriteLinkEntry(linkMeta(n)); err != nil {
				return nil, err
			}
		case source.KindSpecial:
			if err := w.WriteSpecialEntry(specialMeta(n)); err != nil {
				return nil, err
			}
		case source.KindFile:
			if !selected[n.RelPath] {
				continue
			}
			hash, err := hashFile(n.Path)
			if err != nil {
				return nil, err
			}
			f, err := os.Open(n.Path)
			if err != nil {
				return nil, err
			}
			err = w.WriteFileEntry(fileMeta(n, hash), f, nil, "")
			f.Close()
			if err != nil {
				return nil, err
			}
			entries = append(entries, index.Entry{Path: n.RelPath, Kind: int(n.Kind), Size: n.Size, Mtime: n.Mtime, Hash: fmt.Sprintf("%x", hash)})
			continue
		case source.KindHardlink:
			if !selected[n.HardlinkOf] && !selected[n.RelPath] {
				continue
			}
			hash, err := hashFile(n.Path)
			if err != nil {
				return nil, err
			}
			f, err := os.Open(n.Path)
			if err != nil {
				return nil, err
			}
			err = w.WriteHardlinkEntry(fileMeta(n, hash), f)
			f.Close()
			if err != nil {
				return nil, err
			}
			entries = append(entries, index.Entry{Path: n.RelPath, Kind: int(n.Kind), Size: n.Size, Mtime: n.Mtime, Hash: fmt.Sprintf("%x", hash)})
			continue
		default:
			continue
		}
		entries = append(entries, index.Entry{Path: n.RelPath, Kind: int(n.Kind), Size: n.Size, Mtime: n.Mtime})
	}
	return entries, nil
}

// applyPersistence looks up entity's storages of archiveType and
// purges whatever the configured persistence rules no longer retain.
func (r *Runner) applyPersistence(ctx context.Context, entity string, archiveType job.ArchiveType) error {
	rules, ok := r.Config.DefaultPersistence[archiveType]
	if !ok || len(rules) == 0 {
		return nil
	}
	storages, err := r.Index.ListStoragesByEntityAndType(ctx, entity, int(archiveType))
	if err != nil {
		return err
	}
	infos := make([]job.StorageInfo, len(storages))
	byName := make(map[string]int64, len(storages))
	for i, s := range storages {
		infos[i] = job.StorageInfo{Name: s.Name, ArchiveType: job.ArchiveType(s.ArchiveType), CreatedAt: s.CreatedAt}
		byName[s.Name] = s.ID
	}
	purge := job.ToPurge(rules, infos, archiveType, time.Now().UTC())
	if len(purge) == 0 {
		return nil
	}
	ids := make([]int64, 0, len(purge))
	for _, p := range purge {
		if id, ok := byName[p.Name]; ok {
			ids = append(ids, id)
		}
	}
	return r.Index.Purge(ctx, ids)
}
