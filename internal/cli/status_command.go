package cli

import (
	"flag"
	"fmt"
	"strings"

	"challenge-runner/internal/config"
)

func runStatus(args []string) error {
	fs := flag.NewFlagSet("status", flag.ContinueOnError)
	configPath := fs.String("config", config.DefaultConfigPath, "experiment config path")
	split := fs.String("split", "", "dataset split: test|development (default: config)")
	logDir := fs.String("log-dir", "", "log directory override (default: config)")
	remainingOnly := fs.Bool("remaining", false, "print only unfinished challenge ids, one per line")
	jsonOut := fs.Bool("json", false, "print JSON output")
	fs.SetOutput(flag.CommandLine.Output())
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(strings.TrimSpace(*configPath))
	if err != nil {
		return err
	}
	report, err := buildStatusReport(cfg, strings.TrimSpace(*logDir), strings.TrimSpace(*split), 5)
	if err != nil {
		return err
	}

	if *remainingOnly {
		for _, id := range report.RemainingIDs {
			fmt.Println(id)
		}
		return nil
	}
	if *jsonOut {
		return printJSON(report)
	}

	fmt.Printf("split: %s\n", report.Split)
	fmt.Printf("log_dir: %s\n", report.LogDir)
	if report.LockOwner != nil {
		fmt.Printf("live run: pid %d on %s (since %s), phase %s\n",
			report.LockOwner.PID, report.LockOwner.Hostname, report.LockOwner.CreatedAt, report.Phase)
	}
	fmt.Printf("completed/failed/remaining: %d/%d/%d of %d\n",
		report.Completed, report.Failed, report.Remaining, report.Total)
	fmt.Println("categories:")
	for _, c := range report.Categories {
		fmt.Printf("  %-12s passed %d | failed %d | pending %d\n", c.Category, c.Passed, c.Failed, c.Pending)
	}
	if len(report.InFlight) > 0 {
		fmt.Println("in flight:")
		for _, id := range report.InFlight {
			fmt.Printf("  - %s\n", id)
		}
	}
	if len(report.Failures) > 0 {
		fmt.Println("failures:")
		for _, f := range report.Failures {
			fmt.Printf("  - %s (%s)\n", f.ID, f.Reason)
		}
	}
	if len(report.RecentLog) > 0 {
		fmt.Println("recent:")
		for _, line := range report.RecentLog {
			fmt.Printf("  %s\n", line)
		}
	}
	if report.Remaining > 0 {
		fmt.Println("next: `challenge-runner run` picks up the remaining jobs")
	}
	return nil
}
