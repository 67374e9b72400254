package agent

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"
)

// RunSpec describes how to invoke the external agent runner for one
// challenge. The orchestrator passes the challenge id and a log destination
// and reads back nothing but the exit code.
type RunSpec struct {
	// Launcher is a command prefix, whitespace-split ("uv run", "python3").
	Launcher string
	Runner   string
	Config   string
	Keys     string
	LogDir   string
	Split    string
}

type Result struct {
	Command  []string
	ExitCode int
	TimedOut bool
	Duration time.Duration
}

type DependencyReport struct {
	LauncherFound bool   `json:"launcher_found"`
	LauncherPath  string `json:"launcher_path,omitempty"`
	RunnerFound   bool   `json:"runner_found"`
	ConfigFound   bool   `json:"config_found"`
	KeysFound     bool   `json:"keys_found"`
}

func (s RunSpec) launcherParts() []string {
	return strings.Fields(s.Launcher)
}

func (s RunSpec) Status() DependencyReport {
	report := DependencyReport{}
	if parts := s.launcherParts(); len(parts) > 0 {
		if path, err := exec.LookPath(parts[0]); err == nil {
			report.LauncherFound = true
			report.LauncherPath = path
		}
	}
	report.RunnerFound = fileExists(s.Runner)
	report.ConfigFound = fileExists(s.Config)
	report.KeysFound = fileExists(s.Keys)
	return report
}

// Check is the preflight gate for the agent runner: launcher on PATH and
// every referenced artifact present.
func (s RunSpec) Check() error {
	parts := s.launcherParts()
	if len(parts) == 0 {
		return fmt.Errorf("agent launcher is required")
	}
	report := s.Status()
	if !report.LauncherFound {
		return fmt.Errorf("missing dependency: launcher %q is not on PATH", parts[0])
	}
	if !report.RunnerFound {
		return fmt.Errorf("agent runner script not found: %s", s.Runner)
	}
	if !report.ConfigFound {
		return fmt.Errorf("agent config not found: %s", s.Config)
	}
	if !report.KeysFound {
		return fmt.Errorf("keys file not found: %s", s.Keys)
	}
	return nil
}

// Run launches the agent for one challenge under a hard wall-clock deadline
// and classifies the way it ended. A deadline kill and a non-zero exit are
// outcomes, reported in Result with a nil error; the error return is for the
// run being impossible (bad spec, unwritable log, interrupt).
//
// Child stdout and stderr go straight to the per-job log file as inherited
// descriptors. No pipes: an agent that spawns its own children would keep a
// pipe open past our kill and stall the wait, while writes to an inherited
// file just land in the artifact.
func Run(ctx context.Context, spec RunSpec, challengeID, jobLogPath string, timeout time.Duration) (Result, error) {
	argv := spec.launcherParts()
	if len(argv) == 0 {
		return Result{}, fmt.Errorf("agent launcher is required")
	}
	if strings.TrimSpace(challengeID) == "" {
		return Result{}, fmt.Errorf("challenge id is required")
	}
	if timeout <= 0 {
		return Result{}, fmt.Errorf("job timeout must be positive")
	}
	argv = append(argv, spec.Runner,
		"--logdir", spec.LogDir,
		"--config", spec.Config,
		"--split", spec.Split,
		"--challenge", challengeID,
		"--keys", spec.Keys,
	)

	logFile, err := os.Create(jobLogPath)
	if err != nil {
		return Result{}, fmt.Errorf("create job log %s: %w", jobLogPath, err)
	}
	defer logFile.Close()

	jobCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(jobCtx, argv[0], argv[1:]...)
	cmd.Stdout = logFile
	cmd.Stderr = logFile

	start := time.Now()
	runErr := cmd.Run()
	result := Result{
		Command:  argv,
		Duration: time.Since(start),
	}

	if ctx.Err() != nil {
		// The run itself was cancelled; this job has no outcome.
		return result, ctx.Err()
	}
	if jobCtx.Err() == context.DeadlineExceeded {
		result.TimedOut = true
		result.ExitCode = -1
		return result, nil
	}
	if runErr != nil {
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
			return result, nil
		}
		return result, fmt.Errorf("launch agent for %s: %w", challengeID, runErr)
	}
	return result, nil
}

func fileExists(path string) bool {
	if strings.TrimSpace(path) == "" {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
