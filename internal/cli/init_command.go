package cli

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"

	"challenge-runner/internal/config"
	"challenge-runner/internal/state"
)

func runInit(args []string) error {
	fs := flag.NewFlagSet("init", flag.ContinueOnError)
	configPath := fs.String("config", config.DefaultConfigPath, "experiment config path")
	force := fs.Bool("force", false, "overwrite an existing config file")
	jsonOut := fs.Bool("json", false, "print JSON output")
	fs.SetOutput(flag.CommandLine.Output())
	if err := fs.Parse(args); err != nil {
		return err
	}

	path := strings.TrimSpace(*configPath)
	created := false
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) || *force {
		if err := config.WriteDefault(path, *force); err != nil {
			return err
		}
		created = true
	} else if err != nil {
		return fmt.Errorf("stat %s: %w", path, err)
	}

	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	if err := state.EnsureLayout(cfg.LogDir); err != nil {
		return err
	}

	if *jsonOut {
		return printJSON(struct {
			Config  string `json:"config"`
			Created bool   `json:"created"`
			LogDir  string `json:"log_dir"`
		}{Config: path, Created: created, LogDir: cfg.LogDir})
	}
	if created {
		fmt.Printf("config written: %s\n", path)
	} else {
		fmt.Printf("config exists: %s (left unchanged; use --force to overwrite)\n", path)
	}
	fmt.Printf("log dir ready: %s\n", cfg.LogDir)
	fmt.Printf("next: edit %s for your checkout, then run `challenge-runner doctor`\n", path)
	return nil
}
