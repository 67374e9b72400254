package cli

import (
	"os"
	"strings"

	"challenge-runner/internal/catalog"
	"challenge-runner/internal/config"
	"challenge-runner/internal/model"
	"challenge-runner/internal/runlog"
	"challenge-runner/internal/state"
)

// statusReport is the read-only rollup shared by `status` and `watch`: the
// catalog measured against the two set files, plus whatever the results log
// says is currently in flight. Everything is derived from files on disk, so
// it is safe to build while a run is live.
type statusReport struct {
	Split        string            `json:"split"`
	LogDir       string            `json:"log_dir"`
	Total        int               `json:"total"`
	Completed    int               `json:"completed"`
	Failed       int               `json:"failed"`
	Remaining    int               `json:"remaining"`
	RemainingIDs []string          `json:"remaining_ids"`
	Categories   []categorySummary `json:"categories"`
	Failures     []failureEntry    `json:"failures,omitempty"`
	LockOwner    *state.LockOwner  `json:"lock_owner,omitempty"`
	InFlight     []string          `json:"in_flight,omitempty"`
	Phase        string            `json:"phase,omitempty"`
	RecentLog    []string          `json:"recent_log,omitempty"`
}

type categorySummary struct {
	Category string `json:"category"`
	Passed   int    `json:"passed"`
	Failed   int    `json:"failed"`
	Pending  int    `json:"pending"`
}

type failureEntry struct {
	ID     string `json:"id"`
	Reason string `json:"reason"`
}

func buildStatusReport(cfg config.Config, logDirOverride, splitOverride string, tailLines int) (statusReport, error) {
	logDir := cfg.LogDir
	if strings.TrimSpace(logDirOverride) != "" {
		logDir = logDirOverride
	}
	split := cfg.Dataset.Split
	if strings.TrimSpace(splitOverride) != "" {
		split = splitOverride
	}

	jobs, err := catalog.List(cfg.Dataset.Root, split)
	if err != nil {
		return statusReport{}, err
	}
	completedSet, err := state.ReadCompleted(state.CompletedPath(logDir))
	if err != nil {
		return statusReport{}, err
	}
	failedSet, err := state.ReadFailed(state.FailedPath(logDir))
	if err != nil {
		return statusReport{}, err
	}

	report := statusReport{Split: split, LogDir: logDir, Total: len(jobs)}
	byCategory := map[string]*categorySummary{}
	var categoryOrder []string
	categoryFor := func(id string) *categorySummary {
		name := model.Category(id)
		if c, ok := byCategory[name]; ok {
			return c
		}
		c := &categorySummary{Category: name}
		byCategory[name] = c
		categoryOrder = append(categoryOrder, name)
		return c
	}

	// Counts are catalog-relative: stale set entries for jobs no longer in
	// the dataset do not inflate anything.
	for _, job := range jobs {
		c := categoryFor(job.ID)
		switch {
		case completedSet[job.ID]:
			report.Completed++
			c.Passed++
		default:
			if reason, failedBefore := failedSet[job.ID]; failedBefore {
				report.Failed++
				c.Failed++
				report.Failures = append(report.Failures, failureEntry{ID: job.ID, Reason: reason})
				continue
			}
			report.RemainingIDs = append(report.RemainingIDs, job.ID)
			c.Pending++
		}
	}
	report.Remaining = len(report.RemainingIDs)
	for _, name := range categoryOrder {
		report.Categories = append(report.Categories, *byCategory[name])
	}

	if owner, ok := state.ReadLockOwner(logDir); ok {
		report.LockOwner = &owner
		report.InFlight = inFlightFromLog(state.ResultsLogPath(logDir))
		report.Phase = phaseOf(jobs, report.InFlight)
	}
	if tailLines > 0 {
		report.RecentLog = runlog.Tail(state.ResultsLogPath(logDir), tailLines)
	}
	return report, nil
}

// phaseOf names the scheduling phase of a live run, judged by the kinds of
// the in-flight jobs. A live run with nothing in flight (stagger or settle
// waits, startup) reports "idle".
func phaseOf(jobs []model.Job, inFlight []string) string {
	if len(inFlight) == 0 {
		return "idle"
	}
	kinds := make(map[string]string, len(jobs))
	for _, job := range jobs {
		kinds[job.ID] = job.Kind
	}
	for _, id := range inFlight {
		if kinds[id] == model.KindExclusive {
			return model.KindExclusive
		}
	}
	return model.KindParallel
}

// inFlightFromLog replays the results log and reports jobs with a start
// record but no terminal record yet. Each "run started" marker resets the
// view, so records from earlier runs in the same file do not linger.
func inFlightFromLog(path string) []string {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}

	open := map[string]bool{}
	var order []string
	for _, line := range strings.Split(string(data), "\n") {
		idx := strings.LastIndex(line, "] ")
		if idx < 0 {
			continue
		}
		msg := line[idx+2:]
		verb, rest, found := strings.Cut(msg, ": ")
		if !found {
			continue
		}
		id := rest
		if sp := strings.IndexByte(id, ' '); sp >= 0 {
			id = id[:sp]
		}
		switch verb {
		case "run started":
			open = map[string]bool{}
			order = order[:0]
		case "started":
			if !open[id] {
				open[id] = true
				order = append(order, id)
			}
		case "completed", "failed", "skipped", "interrupted":
			delete(open, id)
		}
	}

	var inflight []string
	for _, id := range order {
		if open[id] {
			inflight = append(inflight, id)
		}
	}
	return inflight
}
