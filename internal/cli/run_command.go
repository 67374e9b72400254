package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"strings"

	"challenge-runner/internal/config"
	"challenge-runner/internal/runner"
)

func runRun(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	configPath := fs.String("config", config.DefaultConfigPath, "experiment config path")
	split := fs.String("split", "", "dataset split: test|development (default: config)")
	logDir := fs.String("log-dir", "", "log directory override (default: config)")
	parallel := fs.Int("parallel", 0, "concurrency bound for parallel-safe jobs (0 = config, default 3)")
	resume := fs.Bool("resume", false, "skip jobs recorded in the completed/failed sets (the default behavior)")
	clean := fs.Bool("clean", false, "truncate both sets first so every job runs fresh")
	progress := fs.Bool("progress", false, "render the live dashboard instead of plain per-job lines")
	jsonOut := fs.Bool("json", false, "print JSON output")
	fs.SetOutput(flag.CommandLine.Output())
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *resume && *clean {
		return errors.New("--resume and --clean are mutually exclusive")
	}

	cfg, err := config.Load(strings.TrimSpace(*configPath))
	if err != nil {
		return err
	}

	result, runErr := runner.Run(ctx, cfg, runner.Options{
		LogDir:   strings.TrimSpace(*logDir),
		Split:    strings.TrimSpace(*split),
		Parallel: *parallel,
		Resume:   *resume,
		Clean:    *clean,
		Progress: *progress,
	})
	if runErr != nil && !errors.Is(runErr, runner.ErrInterrupted) {
		return runErr
	}

	// An interrupted run still gets its summary; the sentinel travels on to
	// main for the exit code.
	if *jsonOut {
		if err := printJSON(result); err != nil {
			return err
		}
		return runErr
	}

	fmt.Println("run summary")
	fmt.Printf("split: %s\n", result.Split)
	fmt.Printf("log_dir: %s\n", result.LogDir)
	fmt.Printf("passed: %d\n", result.Passed)
	fmt.Printf("failed: %d\n", result.Failed)
	fmt.Printf("skipped: %d\n", result.Skipped)
	fmt.Printf("total: %d\n", result.Total)
	fmt.Printf("elapsed: %s\n", result.Elapsed)
	if result.Interrupted {
		fmt.Println("interrupted: true")
		fmt.Println("next: rerun `challenge-runner run` to continue where it stopped")
	}
	return runErr
}
