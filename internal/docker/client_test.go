package docker

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// installFakeDocker drops a scriptable docker stand-in onto PATH. Fixtures
// live in the returned state dir: ps.txt feeds `docker ps`, ps_<image>.txt
// feeds the ancestor filter, rm.log records removals, daemon_down makes
// `docker version` fail, rm_fail_<id> makes removing that id fail.
func installFakeDocker(t *testing.T) string {
	t.Helper()
	tmp := t.TempDir()
	fakeBin := filepath.Join(tmp, "bin")
	state := filepath.Join(tmp, "state")
	for _, dir := range []string{fakeBin, state} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatal(err)
		}
	}

	script := fmt.Sprintf(`#!/usr/bin/env bash
set -euo pipefail
state=%q
cmd="$1"; shift
case "$cmd" in
version)
  if [ -f "$state/daemon_down" ]; then
    echo "Cannot connect to the Docker daemon" >&2
    exit 1
  fi
  echo "27.1.1"
  ;;
ps)
  ancestor=""
  for arg in "$@"; do
    case "$arg" in
    ancestor=*) ancestor="${arg#ancestor=}" ;;
    esac
  done
  if [ -n "$ancestor" ]; then
    file="$state/ps_${ancestor}.txt"
  else
    file="$state/ps.txt"
  fi
  if [ -f "$file" ]; then
    cat "$file"
  fi
  ;;
rm)
  for arg in "$@"; do
    if [ "$arg" = "-f" ]; then
      continue
    fi
    if [ -f "$state/rm_fail_${arg}" ]; then
      echo "cannot remove ${arg}: container is locked" >&2
      exit 1
    fi
    echo "$arg" >>"$state/rm.log"
  done
  ;;
*)
  echo "unexpected docker subcommand: $cmd" >&2
  exit 64
  ;;
esac
`, state)
	if err := os.WriteFile(filepath.Join(fakeBin, "docker"), []byte(script), 0o755); err != nil {
		t.Fatal(err)
	}
	t.Setenv("PATH", fakeBin+":"+os.Getenv("PATH"))
	return state
}

func writeFixture(t *testing.T, state, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(state, name), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func readRemovals(t *testing.T, state string) []string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(state, "rm.log"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		t.Fatal(err)
	}
	return strings.Fields(string(data))
}

func TestDependencyStatus_DaemonUpAndDown(t *testing.T) {
	state := installFakeDocker(t)
	ctx := context.Background()

	report := DependencyStatus(ctx)
	if !report.DockerFound || !report.DaemonReachable {
		t.Fatalf("expected reachable daemon, got %+v", report)
	}
	if report.ServerVersion != "27.1.1" {
		t.Fatalf("server version = %q", report.ServerVersion)
	}

	writeFixture(t, state, "daemon_down", "")
	report = DependencyStatus(ctx)
	if !report.DockerFound {
		t.Fatalf("binary should still be found: %+v", report)
	}
	if report.DaemonReachable {
		t.Fatalf("daemon should be unreachable: %+v", report)
	}
	if err := CheckDaemon(ctx); err == nil {
		t.Fatalf("expected CheckDaemon error with daemon down")
	}
}

func TestCheckDaemon_MissingBinary(t *testing.T) {
	empty := t.TempDir()
	t.Setenv("PATH", empty)

	if err := CheckDaemon(context.Background()); err == nil || !strings.Contains(err.Error(), "not installed") {
		t.Fatalf("expected missing-binary error, got %v", err)
	}
}

func TestActiveContainers(t *testing.T) {
	state := installFakeDocker(t)
	writeFixture(t, state, "ps.txt", "aaa111\nbbb222\n\n")

	ids, err := ActiveContainers(context.Background())
	if err != nil {
		t.Fatalf("active containers: %v", err)
	}
	if len(ids) != 2 || ids[0] != "aaa111" || ids[1] != "bbb222" {
		t.Fatalf("unexpected ids: %v", ids)
	}
}

func TestContainersByAncestor(t *testing.T) {
	state := installFakeDocker(t)
	writeFixture(t, state, "ps_ctfenv.txt", "ccc333\n")

	ids, err := ContainersByAncestor(context.Background(), "ctfenv")
	if err != nil {
		t.Fatalf("by ancestor: %v", err)
	}
	if len(ids) != 1 || ids[0] != "ccc333" {
		t.Fatalf("unexpected ids: %v", ids)
	}

	ids, err = ContainersByAncestor(context.Background(), "unknown")
	if err != nil {
		t.Fatalf("by unknown ancestor: %v", err)
	}
	if len(ids) != 0 {
		t.Fatalf("expected no ids for unknown image, got %v", ids)
	}
}

func TestRemoveContainers_ContinuesPastFailures(t *testing.T) {
	state := installFakeDocker(t)
	writeFixture(t, state, "rm_fail_bad1", "")

	err := RemoveContainers(context.Background(), []string{"ok1", "bad1", "ok2"})
	if err == nil {
		t.Fatalf("expected aggregate removal error")
	}
	if !strings.Contains(err.Error(), "bad1") {
		t.Fatalf("error should name the failing container: %v", err)
	}

	removed := readRemovals(t, state)
	if len(removed) != 2 || removed[0] != "ok1" || removed[1] != "ok2" {
		t.Fatalf("expected ok1 and ok2 removed despite failure, got %v", removed)
	}
}

func TestRemoveByAncestors(t *testing.T) {
	state := installFakeDocker(t)
	writeFixture(t, state, "ps_ctfenv.txt", "c1\nc2\n")
	writeFixture(t, state, "ps_webchal.txt", "c3\n")

	removed, err := RemoveByAncestors(context.Background(), []string{"ctfenv", "webchal"})
	if err != nil {
		t.Fatalf("remove by ancestors: %v", err)
	}
	if len(removed) != 3 {
		t.Fatalf("expected 3 removals, got %v", removed)
	}
	log := readRemovals(t, state)
	if len(log) != 3 {
		t.Fatalf("rm.log should record 3 removals, got %v", log)
	}
}
