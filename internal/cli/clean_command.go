package cli

import (
	"flag"
	"fmt"
	"strings"

	"challenge-runner/internal/config"
	"challenge-runner/internal/state"
)

func runClean(args []string) error {
	fs := flag.NewFlagSet("clean", flag.ContinueOnError)
	configPath := fs.String("config", config.DefaultConfigPath, "experiment config path")
	logDir := fs.String("log-dir", "", "log directory override (default: config)")
	yes := fs.Bool("yes", false, "skip confirmation")
	jsonOut := fs.Bool("json", false, "print JSON output")
	fs.SetOutput(flag.CommandLine.Output())
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(strings.TrimSpace(*configPath))
	if err != nil {
		return err
	}
	target := cfg.LogDir
	if strings.TrimSpace(*logDir) != "" {
		target = strings.TrimSpace(*logDir)
	}

	if owner, ok := state.ReadLockOwner(target); ok {
		return fmt.Errorf("a run is live in %s (pid=%d since %s); stop it before cleaning",
			target, owner.PID, owner.CreatedAt)
	}

	if !*yes {
		ok, err := promptConfirm(fmt.Sprintf("reset completed/failed sets in %s? [y/N] ", target))
		if err != nil {
			return err
		}
		if !ok {
			fmt.Println("aborted")
			return nil
		}
	}

	store, err := state.Open(target)
	if err != nil {
		return err
	}
	if err := store.Clean(); err != nil {
		return err
	}

	if *jsonOut {
		return printJSON(struct {
			LogDir string `json:"log_dir"`
			Reset  bool   `json:"reset"`
		}{target, true})
	}
	fmt.Printf("reset: %s\n", state.CompletedPath(target))
	fmt.Printf("reset: %s\n", state.FailedPath(target))
	fmt.Println("next: `challenge-runner run` executes every job fresh")
	return nil
}
