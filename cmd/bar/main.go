// Command bar is the thin CLI front-end over C1-C12: job/schedule
// inspection, manual triggers, and one-shot manual runs. The daemon
// (cmd/bard) is what actually evaluates schedules continuously; bar
// is for an operator poking at state directly, the same relationship
// cmd/distri has to a long-running distri builder process.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/bar-archiver/bar"
	"github.com/bar-archiver/bar/internal/archive"
	"github.com/bar-archiver/bar/internal/barerrors"
	"github.com/bar-archiver/bar/internal/barlog"
	"github.com/bar-archiver/bar/internal/compress"
	"github.com/bar-archiver/bar/internal/config"
	"github.com/bar-archiver/bar/internal/crypt"
	"github.com/bar-archiver/bar/internal/index"
	"github.com/bar-archiver/bar/internal/job"
	"github.com/bar-archiver/bar/internal/run"
	"github.com/bar-archiver/bar/internal/source"
	"github.com/bar-archiver/bar/pb"
)

func barlogFromConfig(cfg *config.Config) barlog.Logger {
	return barlog.New(os.Stderr, cfg.Console)
}

var (
	stateDir      = flag.String("state_dir", "/var/lib/bar", "directory holding job/schedule files and the C10/C11 sqlite databases")
	clientWorkers = flag.Int64("client_workers", 4, "size of the client-facing worker pool (C8)")
	workerWorkers = flag.Int64("worker_workers", 0, "size of the background worker pool (C8); 0 uses config.Default's sizing")
	bwLimit       = flag.Int64("bandwidth_limit_bytes_per_sec", 0, "bandwidth cap in bytes per second; validated but not applied to storage I/O")
	console       = flag.Bool("console", true, "human-readable console logging instead of newline-delimited JSON")

	password = flag.String("password", "", "symmetric decryption password, for list/test/compare/restore against a password-encrypted archive")
	include  = flag.String("include", "", "comma-separated glob patterns; only matching entries participate (§4.5 Selection)")
	exclude  = flag.String("exclude", "", "comma-separated glob patterns excluded even when included (exclude always wins)")
)

func parsePatterns(s string) []source.Pattern {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]source.Pattern, len(parts))
	for i, p := range parts {
		out[i] = source.Pattern{Kind: source.PatternGlob, Expr: p}
	}
	return out
}

func selectionFromFlags() archive.Selection {
	return archive.Selection{Include: parsePatterns(*include), Exclude: parsePatterns(*exclude)}
}

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

func cmdJobs(ctx context.Context, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	jobs, err := pb.ReadJobsDir(jobsDir(cfg))
	if err != nil {
		return err
	}
	for uuid, j := range jobs {
		fmt.Printf("%s\t%s\t%s\tlast_trigger=%s\n", uuid, j.Name, j.State, j.LastTrigger)
	}
	return nil
}

func cmdSchedule(ctx context.Context, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	schedules, err := pb.ReadScheduleFile(filepath.Join(cfg.StateDir, "schedule.yaml"))
	if err != nil {
		return err
	}
	for _, s := range schedules {
		fmt.Printf("%s\tjob=%s\ttype=%s\tinterval=%dm\tenabled=%v\n", s.UUID, s.JobUUID, s.ArchiveType, s.IntervalMinutes, s.Enabled)
	}
	return nil
}

func parseArchiveType(s string) (job.ArchiveType, error) {
	switch s {
	case "normal":
		return job.ArchiveNormal, nil
	case "full":
		return job.ArchiveFull, nil
	case "incremental":
		return job.ArchiveIncremental, nil
	case "differential":
		return job.ArchiveDifferential, nil
	case "continuous":
		return job.ArchiveContinuous, nil
	default:
		return 0, fmt.Errorf("bar: unknown archive type %q (want normal|full|incremental|differential|continuous)", s)
	}
}

func cmdTrigger(ctx context.Context, args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("usage: bar trigger <job-uuid> <archive-type>")
	}
	archiveType, err := parseArchiveType(args[1])
	if err != nil {
		return err
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	path := filepath.Join(jobsDir(cfg), args[0]+".job.yaml")
	j, err := pb.ReadJobFile(path)
	if err != nil {
		return fmt.Errorf("bar: reading job %s: %w", args[0], err)
	}
	triggered, err := j.Trigger(archiveType)
	if err != nil {
		return err
	}
	if !triggered {
		fmt.Printf("job %s already %s; trigger dropped\n", j.UUID, j.State)
		return nil
	}
	return pb.WriteJobFile(path, j)
}

// cmdRun performs an immediate, synchronous archive run outside the
// scheduler: trigger, admit, execute, and record the outcome -- the
// same transitions the daemon's per-minute evaluator drives, just
// invoked once on demand.
func cmdRun(ctx context.Context, args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("usage: bar run <job-uuid> <archive-type>")
	}
	archiveType, err := parseArchiveType(args[1])
	if err != nil {
		return err
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	path := filepath.Join(jobsDir(cfg), args[0]+".job.yaml")
	j, err := pb.ReadJobFile(path)
	if err != nil {
		return fmt.Errorf("bar: reading job %s: %w", args[0], err)
	}
	if _, err := j.Trigger(archiveType); err != nil {
		return err
	}
	if err := j.Transition("admit"); err != nil {
		return err
	}
	if err := pb.WriteJobFile(path, j); err != nil {
		return err
	}

	idx, err := index.Open(filepath.Join(cfg.StateDir, "index.sqlite3"), barlogFromConfig(cfg))
	if err != nil {
		return err
	}
	defer idx.Close()

	r := &run.Runner{
		Config: cfg,
		Index:  idx,
		Options: archive.Options{
			CryptType:     crypt.CryptTypeNone,
			CompressAlg:   compress.AlgorithmZlib,
			CompressLevel: 6,
		},
		Log: barlogFromConfig(cfg),
	}

	runErr := r.Execute(ctx, j, archiveType)
	j.LastExecuted = time.Now().UTC()
	if runErr != nil {
		j.Transition("fail")
	} else {
		j.Transition("succeed")
	}
	if err := pb.WriteJobFile(path, j); err != nil {
		return err
	}
	return runErr
}

// walkCmd loads job, builds a read-only Runner and drives mode over
// storageName's parts, printing one line per Result -- the shared body
// behind cmdList/cmdTest/cmdCompare/cmdRestore (§1 "the read pipeline
// (list/test/compare/restore/convert)").
func walkCmd(ctx context.Context, mode archive.Mode, jobUUID, storageName, destRoot string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	j, err := pb.ReadJobFile(filepath.Join(jobsDir(cfg), jobUUID+".job.yaml"))
	if err != nil {
		return fmt.Errorf("bar: reading job %s: %w", jobUUID, err)
	}

	r := &run.Runner{
		Config: cfg,
		ReadOptions: archive.ReadOptions{
			Password: []byte(*password),
		},
		Log: barlogFromConfig(cfg),
	}
	results, err := r.Walk(ctx, j, storageName, mode, selectionFromFlags(), destRoot)
	for _, res := range results {
		if res.Err != nil {
			fmt.Printf("%s\t%s\t%s\t%v\n", res.Status, res.Kind, res.Path, res.Err)
		} else {
			fmt.Printf("%s\t%s\t%s\n", res.Status, res.Kind, res.Path)
		}
	}
	return err
}

func cmdList(ctx context.Context, args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("usage: bar list <job-uuid> <storage-name>")
	}
	return walkCmd(ctx, archive.ModeList, args[0], args[1], "")
}

func cmdTest(ctx context.Context, args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("usage: bar test <job-uuid> <storage-name>")
	}
	return walkCmd(ctx, archive.ModeTest, args[0], args[1], "")
}

func cmdCompare(ctx context.Context, args []string) error {
	if len(args) != 3 {
		return fmt.Errorf("usage: bar compare <job-uuid> <storage-name> <dest-root>")
	}
	return walkCmd(ctx, archive.ModeCompare, args[0], args[1], args[2])
}

func cmdRestore(ctx context.Context, args []string) error {
	if len(args) != 3 {
		return fmt.Errorf("usage: bar restore <job-uuid> <storage-name> <dest-root>")
	}
	return walkCmd(ctx, archive.ModeRestore, args[0], args[1], args[2])
}

func cmdPurge(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: bar purge <storage-id>")
	}
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("bar: invalid storage id %q: %w", args[0], err)
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	idx, err := index.Open(filepath.Join(cfg.StateDir, "index.sqlite3"), barlogFromConfig(cfg))
	if err != nil {
		return err
	}
	defer idx.Close()
	return idx.Purge(ctx, []int64{id})
}

type cmd struct {
	fn func(ctx context.Context, args []string) error
}

func funcmain() error {
	flag.Parse()

	verbs := map[string]cmd{
		"jobs":     {cmdJobs},
		"schedule": {cmdSchedule},
		"trigger":  {cmdTrigger},
		"run":      {cmdRun},
		"purge":    {cmdPurge},
		"list":     {cmdList},
		"test":     {cmdTest},
		"compare":  {cmdCompare},
		"restore":  {cmdRestore},
	}

	args := flag.Args()
	if len(args) == 0 {
		fmt.Fprintf(os.Stderr, "bar [-flags] <command> [args]\n")
		fmt.Fprintf(os.Stderr, "commands: jobs, schedule, trigger <uuid> <type>, run <uuid> <type>, purge <storage-id>,\n")
		fmt.Fprintf(os.Stderr, "  list <uuid> <storage-name>, test <uuid> <storage-name>,\n")
		fmt.Fprintf(os.Stderr, "  compare <uuid> <storage-name> <dest-root>, restore <uuid> <storage-name> <dest-root>\n")
		os.Exit(2)
	}
	verb, rest := args[0], args[1:]
	v, ok := verbs[verb]
	if !ok {
		return fmt.Errorf("bar: unknown command %q", verb)
	}

	ctx, canc := bar.InterruptibleContext()
	defer canc()
	if err := v.fn(ctx, rest); err != nil {
		return err
	}
	return bar.RunAtExit()
}

func main() {
	if err := funcmain(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(barerrors.ExitCode(err))
	}
}
