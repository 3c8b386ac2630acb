package job

import (
	"time"

	"gopkg.in/yaml.v3"
)

// FileRecord is one path's recorded state as of the job's last FULL
// or INCREMENTAL run, used to decide whether a later INCREMENTAL or
// DIFFERENTIAL run must re-archive it (§4.9).
type FileRecord struct {
	Mtime time.Time `yaml:"mtime"`
	Size  int64     `yaml:"size"`
	Hash  string    `yaml:"hash,omitempty"`
}

// IncrementalList is the on-disk record a job's FULL/INCREMENTAL runs
// maintain, keyed by a source entry's relative path. DIFFERENTIAL runs
// read it without updating it, so two DIFFERENTIAL runs in a row
// against the same FULL baseline produce the same entry set.
type IncrementalList struct {
	Generated time.Time             `yaml:"generated"`
	Files     map[string]FileRecord `yaml:"files"`
}

// Marshal encodes l via gopkg.in/yaml.v3, matching the
// persisted-state encoding used across the rest of the job and
// schedule records.
func (l *IncrementalList) Marshal() ([]byte, error) {
	return yaml.Marshal(l)
}

// UnmarshalIncrementalList parses a previously-written IncrementalList.
// A nil/empty buf yields an empty list rather than an error, since the
// first FULL run of a job has no prior list to read.
func UnmarshalIncrementalList(buf []byte) (*IncrementalList, error) {
	l := &IncrementalList{Files: map[string]FileRecord{}}
	if len(buf) == 0 {
		return l, nil
	}
	if err := yaml.Unmarshal(buf, l); err != nil {
		return nil, err
	}
	if l.Files == nil {
		l.Files = map[string]FileRecord{}
	}
	return l, nil
}

// Changed reports whether rec differs from prior's record for path --
// true if path is new, or its size/mtime/hash no longer match. A
// zero-value prior record (path absent from the list) counts as
// changed, so a job's first INCREMENTAL after a FULL captures every
// entry the FULL didn't know about yet.
func (l *IncrementalList) Changed(path string, rec FileRecord) bool {
	prev, ok := l.Files[path]
	if !ok {
		return true
	}
	if !prev.Mtime.Equal(rec.Mtime) || prev.Size != rec.Size {
		return true
	}
	if prev.Hash != "" && rec.Hash != "" && prev.Hash != rec.Hash {
		return true
	}
	return false
}

// Update records rec as path's new baseline. Callers only invoke this
// for FULL and INCREMENTAL runs; a DIFFERENTIAL run computes Changed
// against the existing list but never calls Update, leaving the
// baseline untouched for the next DIFFERENTIAL.
func (l *IncrementalList) Update(path string, rec FileRecord) {
	if l.Files == nil {
		l.Files = map[string]FileRecord{}
	}
	l.Files[path] = rec
}

// Elect filters candidates down to the entries archiveType requires,
// and returns the IncrementalList each entry's caller should persist
// afterward (FULL/INCREMENTAL return an updated copy; DIFFERENTIAL and
// NORMAL return prior unchanged; CONTINUOUS ignores prior entirely,
// since its include list comes from the continuous-change queue
// instead of a size/mtime/hash diff).
func Elect(archiveType ArchiveType, prior *IncrementalList, candidates map[string]FileRecord) (selected []string, next *IncrementalList) {
	switch archiveType {
	case ArchiveFull:
		next = &IncrementalList{Files: map[string]FileRecord{}}
		for path, rec := range candidates {
			selected = append(selected, path)
			next.Update(path, rec)
		}
		return selected, next

	case ArchiveIncremental:
		if prior == nil {
			prior = &IncrementalList{Files: map[string]FileRecord{}}
		}
		next = &IncrementalList{Files: map[string]FileRecord{}}
		for path, rec := range prior.Files {
			next.Update(path, rec)
		}
		for path, rec := range candidates {
			if prior.Changed(path, rec) {
				selected = append(selected, path)
			}
			next.Update(path, rec)
		}
		return selected, next

	case ArchiveDifferential:
		if prior == nil {
			prior = &IncrementalList{Files: map[string]FileRecord{}}
		}
		for path, rec := range candidates {
			if prior.Changed(path, rec) {
				selected = append(selected, path)
			}
		}
		return selected, prior

	default: // ArchiveNormal, ArchiveContinuous
		for path := range candidates {
			selected = append(selected, path)
		}
		return selected, prior
	}
}
