package job

import (
	"sort"
	"time"
)

// AgeForever marks a PersistenceRule.MaxAgeDays value that never
// age-expires a storage (§4.9).
const AgeForever = -1

// PersistenceRule is one {min_keep, max_keep, max_age_days} band.
// MaxKeep < 0 means unbounded.
type PersistenceRule struct {
	MinKeep    int `yaml:"min_keep"`
	MaxKeep    int `yaml:"max_keep"`
	MaxAgeDays int `yaml:"max_age_days"`
}

// keeps reports whether this rule alone would retain the storage at
// position idx (0 = most recent) in an age-descending list.
func (r PersistenceRule) keeps(idx int, age time.Duration) bool {
	if r.MaxKeep >= 0 && idx >= r.MaxKeep {
		return false
	}
	if idx < r.MinKeep {
		return true
	}
	if r.MaxAgeDays == AgeForever {
		return true
	}
	return age <= time.Duration(r.MaxAgeDays)*24*time.Hour
}

// StorageInfo is the subset of an index storage row the retention
// computation needs.
type StorageInfo struct {
	Name        string
	ArchiveType ArchiveType
	CreatedAt   time.Time
}

// ComputeRetained evaluates rules (all of which apply to archiveType)
// against storages of that type, returning the set of storage Names
// to retain. Per §4.9, "deletion is the union: keep if any rule would
// retain" -- a storage is deleted only if every rule rejects it.
// storages need not be pre-sorted; ComputeRetained orders them newest
// first before evaluating each rule's position-based MinKeep/MaxKeep.
func ComputeRetained(rules []PersistenceRule, storages []StorageInfo, archiveType ArchiveType, now time.Time) map[string]bool {
	var filtered []StorageInfo
	for _, s := range storages {
		if s.ArchiveType == archiveType {
			filtered = append(filtered, s)
		}
	}
	sort.Slice(filtered, func(i, j int) bool { return filtered[i].CreatedAt.After(filtered[j].CreatedAt) })

	retain := make(map[string]bool, len(filtered))
	for idx, s := range filtered {
		age := now.Sub(s.CreatedAt)
		for _, r := range rules {
			if r.keeps(idx, age) {
				retain[s.Name] = true
				break
			}
		}
	}
	return retain
}

// ToPurge returns the subset of storages (of archiveType) that
// ComputeRetained did not mark for retention, the set the index purge
// worker (C10) must transition to DELETED.
func ToPurge(rules []PersistenceRule, storages []StorageInfo, archiveType ArchiveType, now time.Time) []StorageInfo {
	retain := ComputeRetained(rules, storages, archiveType, now)
	var out []StorageInfo
	for _, s := range storages {
		if s.ArchiveType == archiveType && !retain[s.Name] {
			out = append(out, s)
		}
	}
	return out
}
