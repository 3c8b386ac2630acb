package config

import "runtime"

// defaultWorkerPoolSize implements the "worker pool size cores+3"
// sizing named in SPEC_FULL.md's DOMAIN STACK table for
// golang.org/x/sync's errgroup/semaphore-backed internal/pool.
func defaultWorkerPoolSize() int {
	return runtime.NumCPU() + 3
}
