package runner

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"testing"
	"time"

	"challenge-runner/internal/config"
	"challenge-runner/internal/state"
)

type catEntry struct {
	id    string
	ports []int
}

type harness struct {
	t      *testing.T
	dir    string // shared scratch dir the fake binaries read and write
	root   string
	logDir string
	cfg    config.Config
}

// newHarness installs fake `uv` and `docker` binaries on PATH, writes a
// dataset checkout with one directory per challenge, and returns a config
// pointing at all of it. Stagger and settle delays are zero so tests run at
// full speed.
func newHarness(t *testing.T, parallel int, entries []catEntry) *harness {
	t.Helper()

	base := t.TempDir()
	binDir := filepath.Join(base, "bin")
	stateDir := filepath.Join(base, "scratch")
	root := filepath.Join(base, "dataset")
	agentDir := filepath.Join(base, "agent")
	logDir := filepath.Join(base, "logs")
	for _, dir := range []string{binDir, stateDir, root, agentDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatal(err)
		}
	}

	writeScript(t, filepath.Join(binDir, "uv"), fakeLauncherScript(stateDir))
	writeScript(t, filepath.Join(binDir, "docker"), fakeDockerScript(stateDir))
	t.Setenv("PATH", binDir+string(os.PathListSeparator)+os.Getenv("PATH"))

	writeDataset(t, root, entries)

	runnerPath := filepath.Join(agentDir, "run_agent.py")
	agentConfig := filepath.Join(agentDir, "agent.yaml")
	keysPath := filepath.Join(agentDir, "keys.json")
	for _, p := range []string{runnerPath, agentConfig, keysPath} {
		if err := os.WriteFile(p, []byte("placeholder\n"), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	cfg := config.Config{
		Version: 1,
		Dataset: config.DatasetConfig{Root: root, Split: "test"},
		Agent: config.AgentConfig{
			Launcher: "uv run",
			Runner:   runnerPath,
			Config:   agentConfig,
			Keys:     keysPath,
		},
		Run: config.RunConfig{
			Parallel:          parallel,
			JobTimeoutSeconds: 600,
		},
		LogDir: logDir,
	}

	return &harness{t: t, dir: stateDir, root: root, logDir: logDir, cfg: cfg}
}

func writeScript(t *testing.T, path, body string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(body), 0o755); err != nil {
		t.Fatal(err)
	}
}

// The fake launcher records a start/end timestamp pair per challenge in
// events.log, optionally sleeps, leaks a container id into the fake docker's
// ps listing, and exits with a per-challenge code.
func fakeLauncherScript(dir string) string {
	return `#!/bin/bash
set -u
dir=` + dir + `
chal=""
prev=""
for a in "$@"; do
  if [ "$prev" = "--challenge" ]; then
    chal="$a"
  fi
  prev="$a"
done
echo "$chal start $(date +%s%N)" >> "$dir/events.log"
if [ -f "$dir/leak_$chal" ]; then
  cat "$dir/leak_$chal" >> "$dir/ps.txt"
fi
if [ -f "$dir/sleep_$chal" ]; then
  sleep "$(cat "$dir/sleep_$chal")"
fi
echo "agent transcript for $chal"
rc=0
if [ -f "$dir/exit_$chal" ]; then
  rc=$(cat "$dir/exit_$chal")
fi
echo "$chal end $(date +%s%N)" >> "$dir/events.log"
exit "$rc"
`
}

func fakeDockerScript(dir string) string {
	return `#!/bin/bash
set -u
dir=` + dir + `
cmd="${1:-}"
case "$cmd" in
version)
  echo "24.0.7"
  ;;
ps)
  image=""
  prev=""
  for a in "$@"; do
    if [ "$prev" = "--filter" ]; then
      image="${a#ancestor=}"
    fi
    prev="$a"
  done
  if [ -n "$image" ]; then
    file="$dir/ps_$image.txt"
  else
    file="$dir/ps.txt"
  fi
  if [ -f "$file" ]; then
    cat "$file"
  fi
  ;;
rm)
  echo "${3:-}" >> "$dir/rm.log"
  if [ -f "$dir/ps.txt" ]; then
    grep -v "${3:-}" "$dir/ps.txt" > "$dir/ps.tmp" || true
    mv "$dir/ps.tmp" "$dir/ps.txt"
  fi
  ;;
esac
exit 0
`
}

func writeDataset(t *testing.T, root string, entries []catEntry) {
	t.Helper()
	var b strings.Builder
	b.WriteString("{\n")
	for i, e := range entries {
		fmt.Fprintf(&b, "  %q: {\"path\": %q}", e.id, e.id)
		if i < len(entries)-1 {
			b.WriteString(",")
		}
		b.WriteString("\n")
	}
	b.WriteString("}\n")
	if err := os.WriteFile(filepath.Join(root, "test_dataset.json"), []byte(b.String()), 0o644); err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		dir := filepath.Join(root, e.id)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatal(err)
		}
		meta := fmt.Sprintf(`{"name": %q, "ports": %s}`, e.id, intsJSON(e.ports))
		if err := os.WriteFile(filepath.Join(dir, "challenge.json"), []byte(meta), 0o644); err != nil {
			t.Fatal(err)
		}
	}
}

func intsJSON(ports []int) string {
	if len(ports) == 0 {
		return "[]"
	}
	parts := make([]string, len(ports))
	for i, p := range ports {
		parts[i] = strconv.Itoa(p)
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

func (h *harness) fixture(name, content string) {
	h.t.Helper()
	if err := os.WriteFile(filepath.Join(h.dir, name), []byte(content), 0o644); err != nil {
		h.t.Fatal(err)
	}
}

func (h *harness) setSleep(id, seconds string) { h.fixture("sleep_"+id, seconds+"\n") }

func (h *harness) setExit(id string, code int) { h.fixture("exit_"+id, strconv.Itoa(code)+"\n") }

func (h *harness) setLeak(id, containerID string) { h.fixture("leak_"+id, containerID+"\n") }

func (h *harness) clearExit(id string) {
	h.t.Helper()
	if err := os.Remove(filepath.Join(h.dir, "exit_"+id)); err != nil {
		h.t.Fatal(err)
	}
}

func (h *harness) resetEvents() {
	h.t.Helper()
	if err := os.Remove(filepath.Join(h.dir, "events.log")); err != nil && !os.IsNotExist(err) {
		h.t.Fatal(err)
	}
}

func (h *harness) removals() []string {
	data, err := os.ReadFile(filepath.Join(h.dir, "rm.log"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		h.t.Fatal(err)
	}
	return strings.Fields(string(data))
}

func (h *harness) resultsLog() string {
	data, err := os.ReadFile(state.ResultsLogPath(h.logDir))
	if err != nil {
		h.t.Fatalf("read results log: %v", err)
	}
	return string(data)
}

func (h *harness) completed() map[string]bool {
	set, err := state.ReadCompleted(state.CompletedPath(h.logDir))
	if err != nil {
		h.t.Fatalf("read completed set: %v", err)
	}
	return set
}

func (h *harness) failed() map[string]string {
	set, err := state.ReadFailed(state.FailedPath(h.logDir))
	if err != nil {
		h.t.Fatalf("read failed set: %v", err)
	}
	return set
}

type span struct {
	id         string
	start, end int64
}

// spans pairs the fake launcher's start/end events into execution intervals.
// Jobs killed mid-flight never write an end event and are left out.
func (h *harness) spans() []span {
	data, err := os.ReadFile(filepath.Join(h.dir, "events.log"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		h.t.Fatal(err)
	}
	open := map[string]int64{}
	var out []span
	for _, line := range strings.Split(string(data), "\n") {
		fields := strings.Fields(line)
		if len(fields) != 3 {
			continue
		}
		ns, err := strconv.ParseInt(fields[2], 10, 64)
		if err != nil {
			h.t.Fatalf("bad event line %q", line)
		}
		switch fields[1] {
		case "start":
			open[fields[0]] = ns
		case "end":
			if started, ok := open[fields[0]]; ok {
				out = append(out, span{id: fields[0], start: started, end: ns})
				delete(open, fields[0])
			}
		}
	}
	return out
}

func maxOverlap(spans []span) int {
	type edge struct {
		at    int64
		delta int
	}
	edges := make([]edge, 0, 2*len(spans))
	for _, s := range spans {
		edges = append(edges, edge{s.start, 1}, edge{s.end, -1})
	}
	sort.Slice(edges, func(i, j int) bool {
		if edges[i].at != edges[j].at {
			return edges[i].at < edges[j].at
		}
		return edges[i].delta < edges[j].delta
	})
	cur, peak := 0, 0
	for _, e := range edges {
		cur += e.delta
		if cur > peak {
			peak = cur
		}
	}
	return peak
}

func assertCountersAddUp(t *testing.T, res Result) {
	t.Helper()
	if res.Passed+res.Failed+res.Skipped != res.Total {
		t.Fatalf("counters do not add up: %+v", res)
	}
}

func TestRunHonorsCapAndPhaseOrder(t *testing.T) {
	entries := []catEntry{
		{id: "2021q-pwn-alpha"},
		{id: "2021q-rev-bravo"},
		{id: "2021q-web-charlie", ports: []int{1337}},
		{id: "2021q-cry-delta"},
		{id: "2021q-for-echo"},
		{id: "2021q-msc-foxtrot", ports: []int{8080}},
		{id: "2021q-pwn-golf"},
	}
	h := newHarness(t, 2, entries)
	for _, e := range entries {
		if len(e.ports) == 0 {
			h.setSleep(e.id, "0.15")
		}
	}

	res, err := Run(context.Background(), h.cfg, Options{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	assertCountersAddUp(t, res)
	if res.Passed != 7 || res.Failed != 0 || res.Skipped != 0 || res.Total != 7 {
		t.Fatalf("unexpected totals: %+v", res)
	}
	if res.ParallelJobs != 5 || res.ExclusiveJobs != 2 {
		t.Fatalf("unexpected partition: %+v", res)
	}

	spans := h.spans()
	if len(spans) != 7 {
		t.Fatalf("expected 7 executions, got %d", len(spans))
	}
	if got := maxOverlap(spans); got > 2 {
		t.Fatalf("concurrency cap exceeded: %d jobs at once", got)
	}

	exclusive := map[string]bool{"2021q-web-charlie": true, "2021q-msc-foxtrot": true}
	var maxParallelEnd, minExclusiveStart int64
	minExclusiveStart = 1<<63 - 1
	for _, s := range spans {
		if exclusive[s.id] {
			if s.start < minExclusiveStart {
				minExclusiveStart = s.start
			}
		} else if s.end > maxParallelEnd {
			maxParallelEnd = s.end
		}
	}
	if minExclusiveStart < maxParallelEnd {
		t.Fatalf("an exclusive job started before the parallel phase drained")
	}
	for _, a := range spans {
		if !exclusive[a.id] {
			continue
		}
		for _, b := range spans {
			if a.id == b.id {
				continue
			}
			if a.start < b.end && b.start < a.end {
				t.Fatalf("exclusive job %s overlapped %s", a.id, b.id)
			}
		}
	}

	if got := h.completed(); len(got) != 7 {
		t.Fatalf("completed set has %d entries, want 7", len(got))
	}
	transcript, err := os.ReadFile(state.JobLogPath(h.logDir, "2021q-pwn-alpha"))
	if err != nil {
		t.Fatalf("job log: %v", err)
	}
	if !strings.Contains(string(transcript), "agent transcript for 2021q-pwn-alpha") {
		t.Fatalf("job log does not carry the agent output: %q", transcript)
	}
}

func TestRunClassifiesOutcomes(t *testing.T) {
	entries := []catEntry{
		{id: "2022q-cry-clean"},
		{id: "2022q-pwn-broken"},
		{id: "2022q-rev-slowpoke"},
	}
	h := newHarness(t, 3, entries)
	h.cfg.Run.JobTimeoutSeconds = 1
	h.setExit("2022q-pwn-broken", 3)
	h.setSleep("2022q-rev-slowpoke", "3")

	res, err := Run(context.Background(), h.cfg, Options{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	assertCountersAddUp(t, res)
	if res.Passed != 1 || res.Failed != 2 {
		t.Fatalf("unexpected totals: %+v", res)
	}

	failed := h.failed()
	if failed["2022q-pwn-broken"] != "EXIT_3" {
		t.Fatalf("broken job recorded as %q, want EXIT_3", failed["2022q-pwn-broken"])
	}
	if failed["2022q-rev-slowpoke"] != "TIMEOUT" {
		t.Fatalf("slow job recorded as %q, want TIMEOUT", failed["2022q-rev-slowpoke"])
	}
	if !h.completed()["2022q-cry-clean"] {
		t.Fatalf("clean job missing from completed set")
	}
	if !strings.Contains(h.resultsLog(), "failed: 2022q-rev-slowpoke (TIMEOUT") {
		t.Fatalf("results log misses the timeout record:\n%s", h.resultsLog())
	}
}

func TestRunSecondPassSkipsEverything(t *testing.T) {
	entries := []catEntry{
		{id: "2023q-web-first"},
		{id: "2023q-for-second"},
	}
	h := newHarness(t, 2, entries)

	if _, err := Run(context.Background(), h.cfg, Options{}); err != nil {
		t.Fatalf("first run: %v", err)
	}
	h.resetEvents()

	res, err := Run(context.Background(), h.cfg, Options{Resume: true})
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	assertCountersAddUp(t, res)
	if res.Skipped != 2 || res.Passed != 0 || res.Failed != 0 {
		t.Fatalf("second run re-executed something: %+v", res)
	}
	if got := h.spans(); len(got) != 0 {
		t.Fatalf("second run launched %d agents, want 0", len(got))
	}
	if !strings.Contains(h.resultsLog(), "skipped: 2023q-web-first (already completed)") {
		t.Fatalf("skip record missing:\n%s", h.resultsLog())
	}
}

func TestRunCleanRetriesRecordedFailures(t *testing.T) {
	entries := []catEntry{{id: "2023q-pwn-flaky"}}
	h := newHarness(t, 1, entries)
	h.setExit("2023q-pwn-flaky", 1)

	res, err := Run(context.Background(), h.cfg, Options{})
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	if res.Failed != 1 || h.failed()["2023q-pwn-flaky"] != "EXIT_1" {
		t.Fatalf("first run did not record the failure: %+v %v", res, h.failed())
	}

	res, err = Run(context.Background(), h.cfg, Options{})
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if res.Skipped != 1 || res.Failed != 0 {
		t.Fatalf("failed job was retried without clean: %+v", res)
	}

	h.clearExit("2023q-pwn-flaky")
	res, err = Run(context.Background(), h.cfg, Options{Clean: true})
	if err != nil {
		t.Fatalf("clean run: %v", err)
	}
	if res.Passed != 1 || res.Skipped != 0 {
		t.Fatalf("clean run did not retry the job: %+v", res)
	}
	if len(h.failed()) != 0 {
		t.Fatalf("failed set not reset by clean: %v", h.failed())
	}
	if !h.completed()["2023q-pwn-flaky"] {
		t.Fatalf("retried job missing from completed set")
	}
}

func TestRunInterruptStopsIntakeAndCleansUp(t *testing.T) {
	var entries []catEntry
	for _, name := range []string{"ares", "boreas", "chaos", "deimos", "eris", "fobos"} {
		entries = append(entries, catEntry{id: "2024q-pwn-" + name})
	}
	h := newHarness(t, 2, entries)
	for _, e := range entries {
		h.setSleep(e.id, "2")
	}
	h.cfg.Docker.Images = []string{"ctfenv"}
	h.fixture("ps_ctfenv.txt", "cafebabe000000000000\n")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	timer := time.AfterFunc(500*time.Millisecond, cancel)
	defer timer.Stop()

	res, err := Run(ctx, h.cfg, Options{})
	if !errors.Is(err, ErrInterrupted) {
		t.Fatalf("expected ErrInterrupted, got %v", err)
	}
	if !res.Interrupted {
		t.Fatalf("result not marked interrupted: %+v", res)
	}
	assertCountersAddUp(t, res)
	if res.Passed != 0 || res.Failed != 0 || res.Skipped != res.Total {
		t.Fatalf("interrupted run still produced outcomes: %+v", res)
	}
	if got := h.completed(); len(got) != 0 {
		t.Fatalf("killed jobs leaked into the completed set: %v", got)
	}
	if got := h.failed(); len(got) != 0 {
		t.Fatalf("killed jobs leaked into the failed set: %v", got)
	}
	if !strings.Contains(h.resultsLog(), "run interrupted") {
		t.Fatalf("interrupt marker missing:\n%s", h.resultsLog())
	}
	removed := h.removals()
	found := false
	for _, id := range removed {
		if id == "cafebabe000000000000" {
			found = true
		}
	}
	if !found {
		t.Fatalf("interrupt cleanup did not remove the challenge container: %v", removed)
	}
}

func TestRunReapsOnlyContainersLeakedByTheJob(t *testing.T) {
	entries := []catEntry{{id: "2024q-web-leaky"}}
	h := newHarness(t, 1, entries)
	h.fixture("ps.txt", "preexisting11111111\n")
	h.setLeak("2024q-web-leaky", "leaked22222222222222")

	res, err := Run(context.Background(), h.cfg, Options{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Passed != 1 {
		t.Fatalf("unexpected totals: %+v", res)
	}

	removed := h.removals()
	if len(removed) != 1 || removed[0] != "leaked22222222222222" {
		t.Fatalf("unexpected removals: %v", removed)
	}
	if !strings.Contains(h.resultsLog(), "reaped 1 leaked container") {
		t.Fatalf("reap record missing:\n%s", h.resultsLog())
	}
}

func TestRunRefusesLockedLogDir(t *testing.T) {
	h := newHarness(t, 1, []catEntry{{id: "2024q-msc-held"}})
	if err := state.EnsureLayout(h.logDir); err != nil {
		t.Fatal(err)
	}
	lock, err := state.AcquireRunLock(h.logDir)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = lock.Release() }()

	_, err = Run(context.Background(), h.cfg, Options{})
	if err == nil || !strings.Contains(err.Error(), "locked") {
		t.Fatalf("expected a lock error, got %v", err)
	}
}

func TestRunRejectsResumeCombinedWithClean(t *testing.T) {
	h := newHarness(t, 1, []catEntry{{id: "2024q-cry-both"}})
	_, err := Run(context.Background(), h.cfg, Options{Resume: true, Clean: true})
	if err == nil || !strings.Contains(err.Error(), "cannot be combined") {
		t.Fatalf("expected a flag conflict error, got %v", err)
	}
}

func TestRunFailsWithoutCatalog(t *testing.T) {
	h := newHarness(t, 1, []catEntry{{id: "2024q-for-lost"}})
	if err := os.Remove(filepath.Join(h.root, "test_dataset.json")); err != nil {
		t.Fatal(err)
	}
	_, err := Run(context.Background(), h.cfg, Options{})
	if err == nil || !strings.Contains(err.Error(), "catalog") {
		t.Fatalf("expected a catalog error, got %v", err)
	}
}

func TestDashboardKeepsOnlyRecentEvents(t *testing.T) {
	d := newDashboard(2, 10)
	for i := 0; i < 12; i++ {
		d.PushEvent(fmt.Sprintf("event %d", i))
	}
	if len(d.events) != 8 {
		t.Fatalf("event roll holds %d entries, want 8", len(d.events))
	}
	if d.events[0] != "event 11" {
		t.Fatalf("newest event is %q", d.events[0])
	}
}
