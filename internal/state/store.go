package state

import (
	"fmt"
	"os"
	"strings"
	"sync"
)

// Store owns the two durable job sets of a log directory: completed.txt (one
// id per line) and failed.txt (one id:REASON per line). Both files are
// append-only; membership, not line count, is the meaning, so duplicate
// appends are harmless and readers dedupe on load. Appends are a single
// write of one line under the store mutex, which keeps the files
// prefix-consistent across a crash mid-run.
type Store struct {
	mu        sync.Mutex
	completed string
	failed    string
}

func Open(logDir string) (*Store, error) {
	if strings.TrimSpace(logDir) == "" {
		return nil, fmt.Errorf("log directory is required")
	}
	if err := Mkdir(logDir); err != nil {
		return nil, err
	}
	return &Store{
		completed: CompletedPath(logDir),
		failed:    FailedPath(logDir),
	}, nil
}

func (s *Store) LoadCompleted() (map[string]bool, error) {
	return ReadCompleted(s.completed)
}

func (s *Store) LoadFailed() (map[string]string, error) {
	return ReadFailed(s.failed)
}

func (s *Store) AppendCompleted(id string) error {
	return s.appendLine(s.completed, id)
}

func (s *Store) AppendFailed(id, reason string) error {
	return s.appendLine(s.failed, id+":"+reason)
}

// Clean truncates both sets so every job runs fresh on the next attempt. The
// files themselves stay in place, so a tail keeps working across a reset.
func (s *Store) Clean() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, path := range []string{s.completed, s.failed} {
		if err := os.WriteFile(path, nil, 0o644); err != nil {
			return fmt.Errorf("reset %s: %w", path, err)
		}
	}
	return nil
}

func (s *Store) appendLine(path, line string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open %s for append: %w", path, err)
	}
	if _, err := f.WriteString(line + "\n"); err != nil {
		_ = f.Close()
		return fmt.Errorf("append to %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close %s: %w", path, err)
	}
	return nil
}

// ReadCompleted loads a completed-set file into set membership. A missing
// file is an empty set.
func ReadCompleted(path string) (map[string]bool, error) {
	lines, err := readLines(path)
	if err != nil {
		return nil, err
	}
	set := make(map[string]bool, len(lines))
	for _, line := range lines {
		set[line] = true
	}
	return set, nil
}

// ReadFailed loads a failed-set file into id -> reason. Lines split at the
// last colon (reason codes never contain one); on duplicate ids the most
// recent attempt wins.
func ReadFailed(path string) (map[string]string, error) {
	lines, err := readLines(path)
	if err != nil {
		return nil, err
	}
	set := make(map[string]string, len(lines))
	for _, line := range lines {
		id, reason := line, ""
		if idx := strings.LastIndex(line, ":"); idx >= 0 {
			id, reason = line[:idx], line[idx+1:]
		}
		if id == "" {
			continue
		}
		set[id] = reason
	}
	return set, nil
}

func readLines(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	var lines []string
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		lines = append(lines, line)
	}
	return lines, nil
}
