package runner

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"challenge-runner/internal/agent"
	"challenge-runner/internal/catalog"
	"challenge-runner/internal/config"
	"challenge-runner/internal/docker"
	"challenge-runner/internal/model"
	"challenge-runner/internal/runlog"
	"challenge-runner/internal/state"
)

// ErrInterrupted marks a batch stopped by a termination signal. The process
// entry point maps it to exit code 130; the Result returned alongside it is
// still valid and covers everything the run reached.
var ErrInterrupted = errors.New("run interrupted")

// Containers torn down after an interrupt get their own deadline: the run
// context is already cancelled by then.
const interruptCleanupTimeout = 60 * time.Second

type Options struct {
	// LogDir and Split override the configured values when non-empty.
	LogDir string
	Split  string
	// Parallel overrides the configured concurrency bound when > 0.
	Parallel int
	// Resume is accepted for symmetry with the CLI surface; a run always
	// consults the completed/failed sets, so it changes nothing here.
	Resume bool
	// Clean truncates both sets before scheduling, so every job runs fresh.
	Clean    bool
	Progress bool
}

type Result struct {
	Split         string `json:"split"`
	LogDir        string `json:"log_dir"`
	ParallelJobs  int    `json:"parallel_jobs"`
	ExclusiveJobs int    `json:"exclusive_jobs"`
	Passed        int    `json:"passed"`
	Failed        int    `json:"failed"`
	Skipped       int    `json:"skipped"`
	Total         int    `json:"total"`
	Interrupted   bool   `json:"interrupted"`
	Elapsed       string `json:"elapsed"`
}

// Run drives one batch: preflight, Phase1 (parallel-safe jobs on a bounded
// worker pool), Phase2 (exclusive jobs one at a time), then summary. Cancel
// ctx to interrupt: intake stops and in-flight agents are killed, then
// leftover challenge containers are removed on a fresh context before Run
// returns ErrInterrupted.
func Run(ctx context.Context, cfg config.Config, opts Options) (Result, error) {
	logDir := cfg.LogDir
	if strings.TrimSpace(opts.LogDir) != "" {
		logDir = opts.LogDir
	}
	split := cfg.Dataset.Split
	if strings.TrimSpace(opts.Split) != "" {
		split = opts.Split
	}
	workers := cfg.Run.Parallel
	if opts.Parallel > 0 {
		workers = opts.Parallel
	}
	if workers < 1 {
		workers = 1
	}
	if opts.Resume && opts.Clean {
		return Result{}, fmt.Errorf("resume and clean cannot be combined")
	}

	spec := agent.RunSpec{
		Launcher: cfg.Agent.Launcher,
		Runner:   cfg.Agent.Runner,
		Config:   cfg.Agent.Config,
		Keys:     cfg.Agent.Keys,
		LogDir:   logDir,
		Split:    split,
	}

	// Preflight failures abort before any state is touched.
	if err := spec.Check(); err != nil {
		return Result{}, err
	}
	if err := docker.CheckDaemon(ctx); err != nil {
		return Result{}, err
	}
	jobs, err := catalog.List(cfg.Dataset.Root, split)
	if err != nil {
		return Result{}, err
	}
	parallelJobs, exclusiveJobs := catalog.Partition(jobs)

	if err := state.EnsureLayout(logDir); err != nil {
		return Result{}, err
	}
	lock, err := state.AcquireRunLock(logDir)
	if err != nil {
		return Result{}, err
	}
	defer func() { _ = lock.Release() }()

	store, err := state.Open(logDir)
	if err != nil {
		return Result{}, err
	}
	if opts.Clean {
		if err := store.Clean(); err != nil {
			return Result{}, err
		}
	}
	completedSet, err := store.LoadCompleted()
	if err != nil {
		return Result{}, err
	}
	failedSet, err := store.LoadFailed()
	if err != nil {
		return Result{}, err
	}

	log, err := runlog.New(state.ResultsLogPath(logDir))
	if err != nil {
		return Result{}, err
	}

	total := len(jobs)
	tracker := state.NewTracker(total)
	reaper := docker.NewReaper()
	timeout := cfg.JobTimeout()
	stagger := cfg.LaunchStagger()
	exclusiveDelay := cfg.ExclusiveDelay()
	started := time.Now()

	ordinalOf := make(map[string]int, total)
	for i, job := range jobs {
		ordinalOf[job.ID] = i + 1
	}
	// Both sets are read-only from here on; workers and the dispatcher read
	// them without locking.
	willExecute := func(id string) bool {
		if completedSet[id] {
			return false
		}
		_, failedBefore := failedSet[id]
		return !failedBefore
	}

	fmt.Printf("split: %s\n", split)
	fmt.Printf("log dir: %s\n", logDir)
	fmt.Printf("jobs: %d (%d parallel, %d exclusive) | cap %d | timeout %s\n",
		total, len(parallelJobs), len(exclusiveJobs), workers, timeout)
	log.Info("run started: split=%s total=%d parallel=%d exclusive=%d cap=%d timeout=%s",
		split, total, len(parallelJobs), len(exclusiveJobs), workers, timeout)

	var dash *dashboard
	if opts.Progress {
		dash = newDashboard(workers, total)
		dash.Start()
	}

	var stopAll atomic.Bool
	var fatalErr atomic.Value
	setFatal := func(err error) {
		if err == nil {
			return
		}
		stopAll.Store(true)
		if fatalErr.Load() == nil {
			fatalErr.Store(err.Error())
		}
	}

	var logMu sync.Mutex
	announce := func(line string) {
		if dash != nil {
			dash.SetTotals(tracker.Totals())
			dash.PushEvent(line)
			return
		}
		logMu.Lock()
		fmt.Println(line)
		logMu.Unlock()
	}

	runOne := func(label string, job model.Job) {
		ordinal := ordinalOf[job.ID]
		prefix := fmt.Sprintf("[%s %d/%d]", label, ordinal, total)
		mark := func(to, reason string) {
			if err := model.TransitionJobStatus(&job, to, reason); err != nil {
				setFatal(err)
			}
		}

		if completedSet[job.ID] {
			mark(model.StatusSkipped, "")
			tracker.Skip()
			log.Info("skipped: %s (already completed)", job.ID)
			announce(fmt.Sprintf("%s skip %s (already completed)", prefix, job.ID))
			return
		}
		if reason, ok := failedSet[job.ID]; ok {
			mark(model.StatusSkipped, reason)
			tracker.Skip()
			log.Info("skipped: %s (previously failed: %s)", job.ID, reason)
			announce(fmt.Sprintf("%s skip %s (previously failed: %s)", prefix, job.ID, reason))
			return
		}

		snapErr := reaper.Begin(ctx, job.ID)
		if snapErr != nil && ctx.Err() == nil {
			log.Warn("container snapshot before %s: %v", job.ID, snapErr)
		}

		mark(model.StatusRunning, "")
		log.Info("started: %s (%d/%d, %s)", job.ID, ordinal, total, job.Kind)
		announce(fmt.Sprintf("%s start %s (%s)", prefix, job.ID, job.Kind))
		if dash != nil {
			dash.SetSlot(label, job.ID, job.Kind)
			defer dash.ClearSlot(label)
		}

		res, runErr := agent.Run(ctx, spec, job.ID, state.JobLogPath(logDir, job.ID), timeout)
		elapsed := res.Duration.Round(time.Second)

		switch {
		case runErr != nil && ctx.Err() != nil:
			// Killed by the interrupt: no outcome, neither set, so the job
			// runs again on the next invocation.
			log.Warn("interrupted: %s", job.ID)
			announce(fmt.Sprintf("%s interrupted %s", prefix, job.ID))
			return
		case runErr != nil:
			mark(model.StatusFailed, "ERROR")
			tracker.Fail()
			setFatal(store.AppendFailed(job.ID, "ERROR"))
			log.Error("failed: %s (ERROR: %v)", job.ID, runErr)
			announce(fmt.Sprintf("%s failed %s (ERROR)", prefix, job.ID))
		case res.TimedOut:
			mark(model.StatusFailed, model.ReasonTimeout)
			tracker.Fail()
			setFatal(store.AppendFailed(job.ID, model.ReasonTimeout))
			log.Error("failed: %s (%s after %s)", job.ID, model.ReasonTimeout, elapsed)
			announce(fmt.Sprintf("%s failed %s (%s)", prefix, job.ID, model.ReasonTimeout))
		case res.ExitCode == 0:
			mark(model.StatusCompleted, "")
			tracker.Pass()
			setFatal(store.AppendCompleted(job.ID))
			log.Info("completed: %s (%s)", job.ID, elapsed)
			announce(fmt.Sprintf("%s completed %s (%s)", prefix, job.ID, elapsed))
		default:
			reason := model.ExitReason(res.ExitCode)
			mark(model.StatusFailed, reason)
			tracker.Fail()
			setFatal(store.AppendFailed(job.ID, reason))
			log.Error("failed: %s (%s after %s)", job.ID, reason, elapsed)
			announce(fmt.Sprintf("%s failed %s (%s)", prefix, job.ID, reason))
		}

		if snapErr == nil && ctx.Err() == nil {
			removed, reapErr := reaper.Reap(ctx, job.ID)
			if reapErr != nil {
				log.Warn("reap after %s: %v", job.ID, reapErr)
			} else if len(removed) > 0 {
				log.Warn("reaped %d leaked container(s) after %s", len(removed), job.ID)
			}
		}
	}

	// Phase1: parallel-safe jobs on a fixed pool. The unbuffered channel is
	// the admission gate; a send only succeeds once a worker is free, so at
	// most `workers` jobs execute at any instant.
	jobCh := make(chan int)
	var wg sync.WaitGroup
	workerFn := func(workerID int) {
		defer wg.Done()
		for i := range jobCh {
			if stopAll.Load() || ctx.Err() != nil {
				continue
			}
			runOne(fmt.Sprintf("w%d", workerID), parallelJobs[i])
		}
	}
	for w := 1; w <= workers; w++ {
		wg.Add(1)
		go workerFn(w)
	}
	for i, job := range parallelJobs {
		if stopAll.Load() || ctx.Err() != nil {
			break
		}
		select {
		case jobCh <- i:
		case <-ctx.Done():
		}
		// Stagger only between real launches; resumed skips cost nothing.
		if willExecute(job.ID) && i < len(parallelJobs)-1 && stagger > 0 && ctx.Err() == nil {
			select {
			case <-time.After(stagger):
			case <-ctx.Done():
			}
		}
	}
	close(jobCh)
	wg.Wait()

	// Phase2: exclusive jobs strictly one at a time. Each real launch is
	// preceded by a settle delay so the shared port is free again before the
	// next bind.
	for _, job := range exclusiveJobs {
		if stopAll.Load() || ctx.Err() != nil {
			break
		}
		if willExecute(job.ID) && exclusiveDelay > 0 {
			select {
			case <-time.After(exclusiveDelay):
			case <-ctx.Done():
			}
			if ctx.Err() != nil {
				break
			}
		}
		runOne("e", job)
	}

	if dash != nil {
		dash.Stop()
	}

	interrupted := ctx.Err() != nil
	if interrupted {
		// The run context is dead; cleanup gets a fresh one.
		cleanupCtx, cancel := context.WithTimeout(context.Background(), interruptCleanupTimeout)
		defer cancel()
		log.Warn("run interrupted: intake stopped, cleaning up challenge containers")
		if len(cfg.Docker.Images) > 0 {
			removed, cleanErr := docker.RemoveByAncestors(cleanupCtx, cfg.Docker.Images)
			if cleanErr != nil {
				log.Warn("interrupt cleanup: %v", cleanErr)
			}
			if len(removed) > 0 {
				log.Warn("interrupt cleanup removed %d container(s)", len(removed))
			}
		}
	}

	if msg := fatalErr.Load(); msg != nil {
		return Result{}, fmt.Errorf("%s", msg.(string))
	}

	totals := tracker.Totals()
	// Jobs never reached (interrupt, or drained after a stop) count as
	// skipped in the summary; they are in neither set and rerun next time.
	totals.Skipped += totals.Total - totals.Reached()

	result := Result{
		Split:         split,
		LogDir:        logDir,
		ParallelJobs:  len(parallelJobs),
		ExclusiveJobs: len(exclusiveJobs),
		Passed:        totals.Passed,
		Failed:        totals.Failed,
		Skipped:       totals.Skipped,
		Total:         totals.Total,
		Interrupted:   interrupted,
		Elapsed:       time.Since(started).Round(time.Second).String(),
	}

	if interrupted {
		log.Warn("summary after interrupt: passed=%d failed=%d skipped=%d total=%d",
			result.Passed, result.Failed, result.Skipped, result.Total)
		return result, ErrInterrupted
	}
	log.Info("batch complete: passed=%d failed=%d skipped=%d total=%d (%s)",
		result.Passed, result.Failed, result.Skipped, result.Total, result.Elapsed)
	return result, nil
}
