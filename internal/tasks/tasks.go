// Package tasks runs batches of named jobs with bounded concurrency.
// Job failures are isolated: a failing or panicking job records its error
// under its name and never aborts the batch.
package tasks

import (
	"context"
	"fmt"
	"sync"

	"autodev/internal/logging"
)

// Job is one named unit of work.
type Job struct {
	Name string
	Run  func(ctx context.Context) (string, error)
}

// Result is the outcome of one job.
type Result struct {
	Value string
	Err   error
}

// RunAll executes jobs with at most limit running concurrently and returns
// a map from job name to result. Workers pull from a FIFO queue; the
// effective worker count is min(limit, len(jobs)). onDone, when non-nil,
// fires once per completed job in completion order.
func RunAll(ctx context.Context, jobs []Job, limit int, onDone func(name string, result Result)) map[string]Result {
	results := make(map[string]Result, len(jobs))
	if len(jobs) == 0 {
		return results
	}

	if limit < 1 {
		limit = 1
	}
	if limit > len(jobs) {
		limit = len(jobs)
	}

	queue := make(chan Job)
	var wg sync.WaitGroup
	var mu sync.Mutex

	logging.Scheduler("running %d jobs with %d workers", len(jobs), limit)

	for i := 0; i < limit; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for job := range queue {
				result := runOne(ctx, job)

				mu.Lock()
				results[job.Name] = result
				mu.Unlock()

				if onDone != nil {
					onDone(job.Name, result)
				}
			}
		}()
	}

	for _, job := range jobs {
		queue <- job
	}
	close(queue)
	wg.Wait()

	return results
}

// runOne executes a single job, converting panics into errors so one bad
// job cannot take down the batch.
func runOne(ctx context.Context, job Job) (result Result) {
	defer func() {
		if r := recover(); r != nil {
			logging.Get(logging.CategoryScheduler).Error("PANIC RECOVERED in job %s: %v", job.Name, r)
			result = Result{Err: fmt.Errorf("job %s panicked: %v", job.Name, r)}
		}
	}()

	if err := ctx.Err(); err != nil {
		return Result{Err: err}
	}

	value, err := job.Run(ctx)
	if err != nil {
		logging.SchedulerDebug("job %s failed: %v", job.Name, err)
		return Result{Err: err}
	}
	return Result{Value: value}
}
