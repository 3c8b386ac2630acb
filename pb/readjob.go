package pb

import (
	"os"

	"github.com/google/renameio"
	"gopkg.in/yaml.v3"

	"github.com/bar-archiver/bar/internal/job"
)

// ReadJobFile parses a job record file. Generalizing ReadBuildFile's
// path-to-typed-value shape to §6.5's yaml-backed job file instead of
// protobuf textproto.
func ReadJobFile(path string) (*job.Job, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var j job.Job
	if err := yaml.Unmarshal(buf, &j); err != nil {
		return nil, err
	}
	return &j, nil
}

// WriteJobFile persists j atomically via renameio, the same
// write-then-rename discipline internal/storage.FileAdapter uses for
// blob writes, so a crash mid-write never leaves a half-written job
// file for the scheduler to read back.
func WriteJobFile(path string, j *job.Job) error {
	buf, err := yaml.Marshal(j)
	if err != nil {
		return err
	}
	return renameio.WriteFile(path, buf, 0o644)
}

// ReadJobsDir reads every *.job.yaml file in dir into a job.UUID-keyed
// map, the shape internal/job.Evaluator.Jobs expects.
func ReadJobsDir(dir string) (map[string]*job.Job, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	jobs := make(map[string]*job.Job)
	for _, e := range entries {
		if e.IsDir() || !isJobFile(e.Name()) {
			continue
		}
		j, err := ReadJobFile(dir + "/" + e.Name())
		if err != nil {
			return nil, err
		}
		jobs[j.UUID] = j
	}
	return jobs, nil
}

func isJobFile(name string) bool {
	return len(name) > len(".job.yaml") && name[len(name)-len(".job.yaml"):] == ".job.yaml"
}
