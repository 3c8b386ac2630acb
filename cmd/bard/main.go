// Command bard is the BAR scheduling daemon: it loads job and
// schedule records from the state directory, then wakes once a
// minute and runs whatever internal/job.Evaluator.Tick says is due,
// the same long-running-process role cmd/distri/builder.go plays for
// distri's own build farm, generalized to §4.9's per-minute wake.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/bar-archiver/bar"
	"github.com/bar-archiver/bar/internal/archive"
	"github.com/bar-archiver/bar/internal/barlog"
	"github.com/bar-archiver/bar/internal/compress"
	"github.com/bar-archiver/bar/internal/config"
	"github.com/bar-archiver/bar/internal/continuous"
	"github.com/bar-archiver/bar/internal/crypt"
	"github.com/bar-archiver/bar/internal/index"
	"github.com/bar-archiver/bar/internal/job"
	"github.com/bar-archiver/bar/internal/run"
	"github.com/bar-archiver/bar/pb"
)

var (
	stateDir      = flag.String("state_dir", "/var/lib/bar", "directory holding job/schedule files and the C10/C11 sqlite databases")
	clientWorkers = flag.Int64("client_workers", 4, "size of the client-facing worker pool (C8)")
	workerWorkers = flag.Int64("worker_workers", 0, "size of the background worker pool (C8); 0 uses config.Default's sizing")
	bwLimit       = flag.Int64("bandwidth_limit_bytes_per_sec", 0, "bandwidth cap in bytes per second; validated but not applied to storage I/O")
	console       = flag.Bool("console", false, "human-readable console logging instead of newline-delimited JSON (bard defaults to JSON, the per-job log format of §6.5)")
	tickInterval  = flag.Duration("tick_interval", time.Minute, "how often the schedule evaluator wakes (§4.9 names one minute)")
)

func loadConfig() (*config.Config, error) {
	cfg := config.Default(*stateDir)
	cfg.ClientWorkers = *clientWorkers
	if *workerWorkers > 0 {
		cfg.WorkerWorkers = *workerWorkers
	}
	cfg.BandwidthLimitBytesPerSec = *bwLimit
	cfg.Console = *console
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func jobsDir(cfg *config.Config) string { return filepath.Join(cfg.StateDir, "jobs") }

// daemon holds everything one Tick needs.
type daemon struct {
	cfg   *config.Config
	log   barlog.Logger
	idx   *index.Index
	queue *continuous.Queue
	eval  *job.Evaluator
}

func newDaemon(cfg *config.Config) (*daemon, error) {
	log := barlog.New(os.Stderr, cfg.Console)

	jobs, err := pb.ReadJobsDir(jobsDir(cfg))
	if err != nil {
		return nil, fmt.Errorf("bard: reading jobs: %w", err)
	}
	schedules, err := pb.ReadScheduleFile(filepath.Join(cfg.StateDir, "schedule.yaml"))
	if err != nil {
		return nil, fmt.Errorf("bard: reading schedule: %w", err)
	}

	idx, err := index.Open(filepath.Join(cfg.StateDir, "index.sqlite3"), log)
	if err != nil {
		return nil, fmt.Errorf("bard: opening index: %w", err)
	}
	queue, err := continuous.Open(filepath.Join(cfg.StateDir, "continuous.sqlite3"))
	if err != nil {
		idx.Close()
		return nil, fmt.Errorf("bard: opening continuous queue: %w", err)
	}

	return &daemon{
		cfg:   cfg,
		log:   log,
		idx:   idx,
		queue: queue,
		eval:  &job.Evaluator{Jobs: jobs, Schedules: schedules},
	}, nil
}

func (d *daemon) close() {
	d.idx.Close()
	d.queue.Close()
}

// runTriggered admits and executes one just-triggered job, persisting
// its state transitions back to its job file regardless of outcome.
func (d *daemon) runTriggered(ctx context.Context, j *job.Job) {
	path := filepath.Join(jobsDir(d.cfg), j.UUID+".job.yaml")
	jlog := d.log.Job(j.UUID, j.EntityName, "")

	if err := j.Transition("admit"); err != nil {
		jlog.Error().Err(err).Msg("admit failed")
		return
	}
	if err := pb.WriteJobFile(path, j); err != nil {
		jlog.Error().Err(err).Msg("persisting admitted job failed")
	}

	r := &run.Runner{
		Config: d.cfg,
		Index:  d.idx,
		Continuous: d.queue,
		Options: archive.Options{
			CryptType:     crypt.CryptTypeNone,
			CompressAlg:   compress.AlgorithmZlib,
			CompressLevel: 6,
		},
		Log: jlog,
	}

	err := r.Execute(ctx, j, j.LastTrigger)
	j.LastExecuted = time.Now().UTC()
	if err != nil {
		jlog.Error().Err(err).Msg("run failed")
		j.Transition("fail")
	} else {
		j.Transition("succeed")
	}
	if err := pb.WriteJobFile(path, j); err != nil {
		jlog.Error().Err(err).Msg("persisting job outcome failed")
	}
}

func (d *daemon) tick(ctx context.Context) {
	for _, res := range d.eval.Tick(time.Now()) {
		if res.Err != nil {
			d.log.Error().Err(res.Err).Str("schedule", res.Schedule.UUID).Msg("trigger failed")
			continue
		}
		if !res.Triggered {
			continue
		}
		j := d.eval.Jobs[res.Schedule.JobUUID]
		d.runTriggered(ctx, j)
	}
}

func (d *daemon) run(ctx context.Context) error {
	ticker := time.NewTicker(*tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			d.tick(ctx)
		}
	}
}

func funcmain() error {
	flag.Parse()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	d, err := newDaemon(cfg)
	if err != nil {
		return err
	}
	defer d.close()

	ctx, canc := bar.InterruptibleContext()
	defer canc()
	if err := d.run(ctx); err != nil {
		return err
	}
	return bar.RunAtExit()
}

func main() {
	if err := funcmain(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
