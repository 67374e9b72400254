package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"

	"challenge-runner/internal/agent"
	"challenge-runner/internal/catalog"
	"challenge-runner/internal/config"
	"challenge-runner/internal/docker"
	"challenge-runner/internal/state"
)

type doctorCheck struct {
	Name    string `json:"name"`
	OK      bool   `json:"ok"`
	Message string `json:"message"`
}

type doctorReport struct {
	OK     bool          `json:"ok"`
	Checks []doctorCheck `json:"checks"`
}

func runDoctor(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("doctor", flag.ContinueOnError)
	configPath := fs.String("config", config.DefaultConfigPath, "experiment config path")
	jsonOut := fs.Bool("json", false, "print JSON output")
	fs.SetOutput(flag.CommandLine.Output())
	if err := fs.Parse(args); err != nil {
		return err
	}

	report := buildDoctorReport(ctx, strings.TrimSpace(*configPath))
	if *jsonOut {
		if err := printJSON(report); err != nil {
			return err
		}
		if !report.OK {
			return errors.New("doctor checks failed")
		}
		return nil
	}

	for _, c := range report.Checks {
		status := "ok"
		if !c.OK {
			status = "fail"
		}
		fmt.Printf("%s: %s (%s)\n", c.Name, status, c.Message)
	}
	if !report.OK {
		return errors.New("doctor checks failed")
	}
	fmt.Println("doctor: all checks passed")
	return nil
}

func buildDoctorReport(ctx context.Context, configPath string) doctorReport {
	var checks []doctorCheck
	add := func(name string, ok bool, message string) {
		checks = append(checks, doctorCheck{Name: name, OK: ok, Message: message})
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		add("config", false, err.Error())
		return doctorReport{OK: false, Checks: checks}
	}
	add("config", true, configPath)

	dockerReport := docker.DependencyStatus(ctx)
	switch {
	case !dockerReport.DockerFound:
		add("docker", false, "binary not found on PATH")
	case !dockerReport.DaemonReachable:
		add("docker", false, fmt.Sprintf("binary at %s, daemon not reachable", dockerReport.DockerPath))
	default:
		add("docker", true, fmt.Sprintf("server %s", dockerReport.ServerVersion))
	}

	spec := agent.RunSpec{
		Launcher: cfg.Agent.Launcher,
		Runner:   cfg.Agent.Runner,
		Config:   cfg.Agent.Config,
		Keys:     cfg.Agent.Keys,
	}
	agentReport := spec.Status()
	if agentReport.LauncherFound {
		add("launcher", true, agentReport.LauncherPath)
	} else {
		add("launcher", false, fmt.Sprintf("%q not found on PATH", cfg.Agent.Launcher))
	}
	add("runner_script", agentReport.RunnerFound, cfg.Agent.Runner)
	add("agent_config", agentReport.ConfigFound, cfg.Agent.Config)
	add("keys", agentReport.KeysFound, cfg.Agent.Keys)

	indexPath := catalog.DatasetPath(cfg.Dataset.Root, cfg.Dataset.Split)
	if _, err := os.Stat(indexPath); err != nil {
		add("dataset", false, err.Error())
	} else {
		add("dataset", true, indexPath)
	}

	if err := state.EnsureLayout(cfg.LogDir); err != nil {
		add("log_dir", false, err.Error())
	} else if probe, err := os.CreateTemp(cfg.LogDir, ".doctor-*"); err != nil {
		add("log_dir", false, fmt.Sprintf("not writable: %v", err))
	} else {
		probe.Close()
		os.Remove(probe.Name())
		add("log_dir", true, cfg.LogDir)
	}

	ok := true
	for _, c := range checks {
		if !c.OK {
			ok = false
			break
		}
	}
	return doctorReport{OK: ok, Checks: checks}
}
