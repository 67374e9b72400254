package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigPath is resolved relative to the working directory, so one
// checkout can carry one experiment setup.
const DefaultConfigPath = "config/challenge-runner.yaml"

const defaultConfigYAML = `# challenge-runner experiment configuration
version: 1

# Dataset checkout holding <split>_dataset.json plus the challenge
# directories it points at.
dataset:
  root: ~/ctf-agents/nyuctf
  split: test            # test | development

# External agent runner invoked once per challenge. The orchestrator only
# interprets its exit code. launcher is a command prefix ("uv run",
# "python3").
agent:
  launcher: uv run
  runner: ~/ctf-agents/run_dcipher.py
  config: ~/ctf-agents/configs/kali_generic.yaml
  keys: ~/ctf-agents/keys.cfg

# Scheduling knobs. job_timeout_seconds is the hard per-job wall clock
# deadline (600 = 10 minutes).
run:
  parallel: 3
  job_timeout_seconds: 600
  launch_stagger_seconds: 5
  exclusive_delay_seconds: 10

# Where results.log, completed.txt, failed.txt and jobs/ land.
log_dir: ~/ctf-agents/batch-logs/kali_generic

# Images whose containers the interrupt cleanup may force-remove.
docker:
  images:
    - ctfenv
`

type DatasetConfig struct {
	Root  string `yaml:"root"`
	Split string `yaml:"split"`
}

type AgentConfig struct {
	Launcher string `yaml:"launcher"`
	Runner   string `yaml:"runner"`
	Config   string `yaml:"config"`
	Keys     string `yaml:"keys"`
}

type RunConfig struct {
	Parallel              int `yaml:"parallel"`
	JobTimeoutSeconds     int `yaml:"job_timeout_seconds"`
	LaunchStaggerSeconds  int `yaml:"launch_stagger_seconds"`
	ExclusiveDelaySeconds int `yaml:"exclusive_delay_seconds"`
}

type DockerConfig struct {
	Images []string `yaml:"images"`
}

// Config models the experiment configuration file.
type Config struct {
	Version int           `yaml:"version"`
	Dataset DatasetConfig `yaml:"dataset"`
	Agent   AgentConfig   `yaml:"agent"`
	Run     RunConfig     `yaml:"run"`
	LogDir  string        `yaml:"log_dir"`
	Docker  DockerConfig  `yaml:"docker"`
}

func Default() Config {
	return Config{
		Version: 1,
		Dataset: DatasetConfig{Split: "test"},
		Run: RunConfig{
			Parallel:              3,
			JobTimeoutSeconds:     600,
			LaunchStaggerSeconds:  5,
			ExclusiveDelaySeconds: 10,
		},
	}
}

// Load reads, normalizes and validates the experiment configuration. A
// missing file is an error: runs must not start from guessed settings (write
// one with `challenge-runner init`).
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("config: %s not found (run `challenge-runner init` to create it)", path)
		}
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}

	cfg.applyDefaults()
	cfg.normalize()
	if err := cfg.validate(); err != nil {
		return Config{}, fmt.Errorf("config: %s: %w", path, err)
	}
	return cfg, nil
}

// WriteDefault writes the starter configuration template. Refuses to clobber
// an existing file unless force is set.
func WriteDefault(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config: %s already exists (use --force to overwrite)", path)
		} else if !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("config: stat %s: %w", path, err)
		}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("config: create parent for %s: %w", path, err)
	}
	if err := os.WriteFile(path, []byte(defaultConfigYAML), 0o644); err != nil {
		return fmt.Errorf("config: write %s: %w", path, err)
	}
	return nil
}

func (c Config) JobTimeout() time.Duration {
	return time.Duration(c.Run.JobTimeoutSeconds) * time.Second
}

func (c Config) LaunchStagger() time.Duration {
	return time.Duration(c.Run.LaunchStaggerSeconds) * time.Second
}

func (c Config) ExclusiveDelay() time.Duration {
	return time.Duration(c.Run.ExclusiveDelaySeconds) * time.Second
}

func (c *Config) applyDefaults() {
	if c.Version == 0 {
		c.Version = 1
	}
	if c.Dataset.Split == "" {
		c.Dataset.Split = "test"
	}
	if c.Run.Parallel == 0 {
		c.Run.Parallel = 3
	}
	if c.Run.JobTimeoutSeconds == 0 {
		c.Run.JobTimeoutSeconds = 600
	}
}

func (c *Config) normalize() {
	c.Dataset.Root = ExpandHome(strings.TrimSpace(c.Dataset.Root))
	c.Dataset.Split = strings.ToLower(strings.TrimSpace(c.Dataset.Split))
	c.Agent.Launcher = strings.TrimSpace(c.Agent.Launcher)
	c.Agent.Runner = ExpandHome(strings.TrimSpace(c.Agent.Runner))
	c.Agent.Config = ExpandHome(strings.TrimSpace(c.Agent.Config))
	c.Agent.Keys = ExpandHome(strings.TrimSpace(c.Agent.Keys))
	c.LogDir = ExpandHome(strings.TrimSpace(c.LogDir))

	images := c.Docker.Images[:0]
	for _, img := range c.Docker.Images {
		img = strings.TrimSpace(img)
		if img != "" {
			images = append(images, img)
		}
	}
	c.Docker.Images = images
}

func (c Config) validate() error {
	if c.Version < 1 {
		return fmt.Errorf("version must be >= 1")
	}
	if c.Dataset.Root == "" {
		return fmt.Errorf("dataset.root is required")
	}
	if c.Dataset.Split != "test" && c.Dataset.Split != "development" {
		return fmt.Errorf("dataset.split must be 'test' or 'development'")
	}
	if c.Agent.Launcher == "" {
		return fmt.Errorf("agent.launcher is required")
	}
	if c.Agent.Runner == "" {
		return fmt.Errorf("agent.runner is required")
	}
	if c.Agent.Config == "" {
		return fmt.Errorf("agent.config is required")
	}
	if c.Agent.Keys == "" {
		return fmt.Errorf("agent.keys is required")
	}
	if c.Run.Parallel < 1 {
		return fmt.Errorf("run.parallel must be >= 1")
	}
	if c.Run.JobTimeoutSeconds < 1 {
		return fmt.Errorf("run.job_timeout_seconds must be >= 1")
	}
	if c.Run.LaunchStaggerSeconds < 0 || c.Run.ExclusiveDelaySeconds < 0 {
		return fmt.Errorf("stagger and delay seconds must not be negative")
	}
	if c.LogDir == "" {
		return fmt.Errorf("log_dir is required")
	}
	return nil
}

// ExpandHome resolves a leading ~/ against the current user's home
// directory, so the template's YAML paths stay portable across hosts.
func ExpandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		if path == "~" {
			return home
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
