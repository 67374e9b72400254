package docker

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// The sandbox runtime is the docker CLI. Containers are identified by the
// full (no-trunc) id everywhere so snapshot membership is exact.

type DependencyReport struct {
	DockerFound     bool   `json:"docker_found"`
	DockerPath      string `json:"docker_path,omitempty"`
	DaemonReachable bool   `json:"daemon_reachable"`
	ServerVersion   string `json:"server_version,omitempty"`
}

func DependencyStatus(ctx context.Context) DependencyReport {
	report := DependencyReport{}
	path, err := exec.LookPath("docker")
	if err != nil {
		return report
	}
	report.DockerFound = true
	report.DockerPath = path

	version, err := output(ctx, "version", "--format", "{{.Server.Version}}")
	if err != nil {
		return report
	}
	report.DaemonReachable = true
	report.ServerVersion = strings.TrimSpace(version)
	return report
}

// CheckDaemon is the preflight gate: the docker binary must be on PATH and
// the daemon answering.
func CheckDaemon(ctx context.Context) error {
	report := DependencyStatus(ctx)
	if !report.DockerFound {
		return fmt.Errorf("missing dependency: docker is not installed or not on PATH")
	}
	if !report.DaemonReachable {
		return fmt.Errorf("docker daemon is not reachable (is it running?)")
	}
	return nil
}

// ActiveContainers lists the ids of all currently running containers.
func ActiveContainers(ctx context.Context) ([]string, error) {
	out, err := output(ctx, "ps", "-q", "--no-trunc")
	if err != nil {
		return nil, fmt.Errorf("list active containers: %w", err)
	}
	return splitIDs(out), nil
}

// ContainersByAncestor lists running containers started from the given
// image. Used by the interrupt cleanup, which cannot attribute containers to
// jobs and falls back to the known challenge images.
func ContainersByAncestor(ctx context.Context, image string) ([]string, error) {
	out, err := output(ctx, "ps", "-q", "--no-trunc", "--filter", "ancestor="+image)
	if err != nil {
		return nil, fmt.Errorf("list containers for image %s: %w", image, err)
	}
	return splitIDs(out), nil
}

// RemoveContainers force-removes each container, continuing past individual
// failures (already gone, still locked) and reporting them together.
func RemoveContainers(ctx context.Context, ids []string) error {
	var failures []string
	for _, id := range ids {
		if _, err := output(ctx, "rm", "-f", id); err != nil {
			failures = append(failures, fmt.Sprintf("%s: %v", shortID(id), err))
		}
	}
	if len(failures) > 0 {
		return fmt.Errorf("remove containers: %s", strings.Join(failures, "; "))
	}
	return nil
}

// RemoveByAncestors removes every container started from any of the images.
// Returns the ids it attempted to remove alongside any failure.
func RemoveByAncestors(ctx context.Context, images []string) ([]string, error) {
	var all []string
	var failures []string
	for _, image := range images {
		ids, err := ContainersByAncestor(ctx, image)
		if err != nil {
			failures = append(failures, err.Error())
			continue
		}
		all = append(all, ids...)
		if err := RemoveContainers(ctx, ids); err != nil {
			failures = append(failures, err.Error())
		}
	}
	if len(failures) > 0 {
		return all, fmt.Errorf("cleanup by image: %s", strings.Join(failures, "; "))
	}
	return all, nil
}

func output(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "docker", args...)
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			return "", fmt.Errorf("docker %s: %w", strings.Join(args, " "), err)
		}
		return "", fmt.Errorf("docker %s: %w: %s", strings.Join(args, " "), err, msg)
	}
	return stdout.String(), nil
}

func splitIDs(out string) []string {
	var ids []string
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			ids = append(ids, line)
		}
	}
	return ids
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
