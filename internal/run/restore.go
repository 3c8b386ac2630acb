package run

import (
	"context"
	"fmt"
	"sort"

	"github.com/bar-archiver/bar/internal/archive"
	"github.com/bar-archiver/bar/internal/job"
	"github.com/bar-archiver/bar/internal/storage"
)

// Walk drives one of §4.5's read-pipeline passes (list/test/compare/
// restore) over every part of storageName under j.StorageDir, in part
// order, so a multi-part archive (S1's 3-part scenario) reads as one
// logical stream even though each part is independently opened.
func (r *Runner) Walk(ctx context.Context, j *job.Job, storageName string, mode archive.Mode, sel archive.Selection, destRoot string) ([]archive.Result, error) {
	adapter := storage.NewFileAdapter(j.StorageDir, r.Config.MaxStorageConns)
	defer adapter.Close()

	blobs, err := adapter.List(ctx, storageName)
	if err != nil {
		return nil, fmt.Errorf("run: listing parts for %q: %w", storageName, err)
	}
	if len(blobs) == 0 {
		return nil, fmt.Errorf("run: no parts found for storage %q", storageName)
	}
	names := make([]string, len(blobs))
	for i, b := range blobs {
		names[i] = b.Name
	}
	// "base" sorts before "base.001" before "base.002": Name is always
	// base with an optional ".NNN" suffix (internal/archive.StorageAllocator),
	// so lexicographic order is already part order.
	sort.Strings(names)

	var results []archive.Result
	for _, name := range names {
		rd, err := adapter.OpenRead(ctx, name)
		if err != nil {
			return results, fmt.Errorf("run: opening part %s: %w", name, err)
		}
		ar, err := archive.NewReader(rd, r.ReadOptions)
		if err != nil {
			rd.Close()
			return results, fmt.Errorf("run: opening archive reader for part %s: %w", name, err)
		}
		partResults, walkErr := archive.Walk(ar, mode, sel, destRoot)
		results = append(results, partResults...)
		rd.Close()
		if walkErr != nil {
			return results, fmt.Errorf("run: walking part %s: %w", name, walkErr)
		}
	}
	return results, nil
}
