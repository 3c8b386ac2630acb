package pb

import (
	"os"

	"github.com/google/renameio"
	"gopkg.in/yaml.v3"

	"github.com/bar-archiver/bar/internal/job"
)

// scheduleFile is the on-disk shape of one job's schedule-info file:
// a job may have several schedules (e.g. a nightly INCREMENTAL plus a
// weekly FULL), so the file holds a list rather than one record.
type scheduleFile struct {
	Schedules []job.Schedule `yaml:"schedules"`
}

// ReadScheduleFile parses a schedule-info file.
func ReadScheduleFile(path string) ([]job.Schedule, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var f scheduleFile
	if err := yaml.Unmarshal(buf, &f); err != nil {
		return nil, err
	}
	return f.Schedules, nil
}

// WriteScheduleFile persists schedules atomically.
func WriteScheduleFile(path string, schedules []job.Schedule) error {
	buf, err := yaml.Marshal(scheduleFile{Schedules: schedules})
	if err != nil {
		return err
	}
	return renameio.WriteFile(path, buf, 0o644)
}

// persistenceFile is the on-disk shape of one archive type's ordered
// {min_keep, max_keep, max_age_days} rule list (§4.9).
type persistenceFile struct {
	ArchiveType job.ArchiveType     `yaml:"archive_type"`
	Rules       []job.PersistenceRule `yaml:"rules"`
}

// ReadPersistenceFile parses a persistence-rule record file.
func ReadPersistenceFile(path string) (job.ArchiveType, []job.PersistenceRule, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return 0, nil, err
	}
	var f persistenceFile
	if err := yaml.Unmarshal(buf, &f); err != nil {
		return 0, nil, err
	}
	return f.ArchiveType, f.Rules, nil
}

// WritePersistenceFile persists rules for archiveType atomically.
func WritePersistenceFile(path string, archiveType job.ArchiveType, rules []job.PersistenceRule) error {
	buf, err := yaml.Marshal(persistenceFile{ArchiveType: archiveType, Rules: rules})
	if err != nil {
		return err
	}
	return renameio.WriteFile(path, buf, 0o644)
}
