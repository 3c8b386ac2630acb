package pb

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/bar-archiver/bar/internal/job"
)

func TestJobFileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nightly.job.yaml")
	want := &job.Job{UUID: "abc-123", Name: "nightly", State: job.StateWaiting, LastTrigger: job.ArchiveFull}
	if err := WriteJobFile(path, want); err != nil {
		t.Fatal(err)
	}
	got, err := ReadJobFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if got.UUID != want.UUID || got.Name != want.Name || got.State != want.State || got.LastTrigger != want.LastTrigger {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, want)
	}
}

func TestReadJobsDirIndexesByUUID(t *testing.T) {
	dir := t.TempDir()
	j1 := &job.Job{UUID: "u1", Name: "a"}
	j2 := &job.Job{UUID: "u2", Name: "b"}
	if err := WriteJobFile(filepath.Join(dir, "a.job.yaml"), j1); err != nil {
		t.Fatal(err)
	}
	if err := WriteJobFile(filepath.Join(dir, "b.job.yaml"), j2); err != nil {
		t.Fatal(err)
	}
	if err := WriteJobFile(filepath.Join(dir, "ignored.txt"), j2); err != nil {
		t.Fatal(err)
	}

	jobs, err := ReadJobsDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(jobs) != 2 {
		t.Fatalf("expected exactly the 2 .job.yaml files indexed, got %d", len(jobs))
	}
	if jobs["u1"].Name != "a" || jobs["u2"].Name != "b" {
		t.Fatalf("unexpected index contents: %+v", jobs)
	}
}

func TestScheduleFileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nightly.schedule.yaml")
	want := []job.Schedule{
		{UUID: "s1", JobUUID: "j1", Enabled: true, ArchiveType: job.ArchiveIncremental, Weekdays: job.AllWeekdays},
		{UUID: "s2", JobUUID: "j1", Enabled: false, ArchiveType: job.ArchiveFull, TimePattern: "02:00"},
	}
	if err := WriteScheduleFile(path, want); err != nil {
		t.Fatal(err)
	}
	got, err := ReadScheduleFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[1].TimePattern != "02:00" {
		t.Fatalf("round trip mismatch: %+v", got)
	}
}

func TestPersistenceFileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "full.persistence.yaml")
	rules := []job.PersistenceRule{
		{MinKeep: 2, MaxKeep: -1, MaxAgeDays: 30},
		{MinKeep: 0, MaxKeep: -1, MaxAgeDays: job.AgeForever},
	}
	if err := WritePersistenceFile(path, job.ArchiveFull, rules); err != nil {
		t.Fatal(err)
	}
	gotType, gotRules, err := ReadPersistenceFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if gotType != job.ArchiveFull || len(gotRules) != 2 || gotRules[1].MaxAgeDays != job.AgeForever {
		t.Fatalf("round trip mismatch: %v %+v", gotType, gotRules)
	}
}

func TestIncrementalListFileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nightly.incremental.yaml")
	l := &job.IncrementalList{Generated: time.Now().Round(time.Second).UTC(), Files: map[string]job.FileRecord{
		"a.txt": {Size: 10, Mtime: time.Now().Round(time.Second).UTC(), Hash: "deadbeef"},
	}}
	if err := WriteIncrementalListFile(path, l); err != nil {
		t.Fatal(err)
	}
	got, err := ReadIncrementalListFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Files) != 1 || got.Files["a.txt"].Hash != "deadbeef" {
		t.Fatalf("round trip mismatch: %+v", got.Files)
	}
}

func TestIncrementalListFileMissingIsEmptyNotError(t *testing.T) {
	got, err := ReadIncrementalListFile(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || len(got.Files) != 0 {
		t.Fatalf("expected an empty list for a missing file, got %+v", got)
	}
}
