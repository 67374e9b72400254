package cli

import (
	"context"
	"fmt"
)

func Run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		printRootUsage()
		return nil
	}

	switch args[0] {
	case "run":
		return runRun(ctx, args[1:])
	case "list":
		return runList(args[1:])
	case "status":
		return runStatus(args[1:])
	case "watch":
		return runWatch(args[1:])
	case "clean":
		return runClean(args[1:])
	case "doctor":
		return runDoctor(ctx, args[1:])
	case "init":
		return runInit(args[1:])
	case "version":
		return runVersion(args[1:])
	case "help", "-h", "--help":
		printRootUsage()
		return nil
	default:
		printRootUsage()
		return fmt.Errorf("unknown command %q", args[0])
	}
}

func printRootUsage() {
	fmt.Println("challenge-runner: bounded-concurrency batch runner for CTF benchmark agents")
	fmt.Println()
	fmt.Println("Quick Start:")
	fmt.Println("  challenge-runner init")
	fmt.Println("  challenge-runner doctor")
	fmt.Println("  challenge-runner run --parallel 3")
	fmt.Println("  challenge-runner status")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  init     write the starter config and create the log directory layout")
	fmt.Println("  doctor   run dependency and filesystem preflight checks")
	fmt.Println("  list     print the catalog partition for a split")
	fmt.Println("  run      execute the batch (resumable by default; Ctrl-C drains and cleans up)")
	fmt.Println("  status   completed/failed/remaining rollup for a log directory")
	fmt.Println("  watch    live terminal monitor for a running batch")
	fmt.Println("  clean    reset the completed/failed sets so every job runs fresh")
	fmt.Println("  version  print the build version")
	fmt.Println()
	fmt.Println("Notes:")
	fmt.Println("  - Each job runs under a hard 10 minute deadline; deadline kills are recorded as TIMEOUT")
	fmt.Println("  - Recorded jobs are skipped on the next run; `clean` (or run --clean) resets that")
	fmt.Println("  - Use --json on commands for machine-readable output")
}
