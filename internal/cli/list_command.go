package cli

import (
	"flag"
	"fmt"
	"strings"

	"challenge-runner/internal/catalog"
	"challenge-runner/internal/config"
	"challenge-runner/internal/model"
)

func runList(args []string) error {
	fs := flag.NewFlagSet("list", flag.ContinueOnError)
	configPath := fs.String("config", config.DefaultConfigPath, "experiment config path")
	split := fs.String("split", "", "dataset split: test|development (default: config)")
	jsonOut := fs.Bool("json", false, "print JSON output")
	fs.SetOutput(flag.CommandLine.Output())
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(strings.TrimSpace(*configPath))
	if err != nil {
		return err
	}
	target := cfg.Dataset.Split
	if strings.TrimSpace(*split) != "" {
		target = strings.TrimSpace(*split)
	}

	jobs, err := catalog.List(cfg.Dataset.Root, target)
	if err != nil {
		return err
	}
	parallelJobs, exclusiveJobs := catalog.Partition(jobs)

	if *jsonOut {
		return printJSON(struct {
			Split     string      `json:"split"`
			Total     int         `json:"total"`
			Parallel  []model.Job `json:"parallel"`
			Exclusive []model.Job `json:"exclusive"`
		}{target, len(jobs), parallelJobs, exclusiveJobs})
	}

	fmt.Printf("split: %s\n", target)
	fmt.Printf("total: %d (%d parallel, %d exclusive)\n", len(jobs), len(parallelJobs), len(exclusiveJobs))
	for _, job := range jobs {
		fmt.Printf("- %s [%s] (%s)\n", job.ID, job.Kind, model.Category(job.ID))
	}
	return nil
}
