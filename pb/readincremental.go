package pb

import (
	"os"

	"github.com/google/renameio"

	"github.com/bar-archiver/bar/internal/job"
)

// ReadIncrementalListFile parses a job's incremental-list file. A
// missing file is not an error: it means this is the job's first
// FULL run, so job.UnmarshalIncrementalList's empty-buf case (an
// empty-but-non-nil list) applies.
func ReadIncrementalListFile(path string) (*job.IncrementalList, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return job.UnmarshalIncrementalList(nil)
		}
		return nil, err
	}
	return job.UnmarshalIncrementalList(buf)
}

// WriteIncrementalListFile persists l atomically. Only FULL and
// INCREMENTAL runs call this -- see job.Elect's DIFFERENTIAL branch,
// which returns the unmodified prior list specifically so its caller
// has nothing new to write back.
func WriteIncrementalListFile(path string, l *job.IncrementalList) error {
	buf, err := l.Marshal()
	if err != nil {
		return err
	}
	return renameio.WriteFile(path, buf, 0o644)
}
