package state

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	runLockDirName   = ".run.lock"
	runLockOwnerFile = "owner.json"
)

// RunLock guards a log directory against a second orchestrator appending to
// the same state files. It is advisory: a directory created with os.Mkdir
// plus an owner record, removed on teardown.
type RunLock struct {
	lockDir string
}

type LockOwner struct {
	PID       int    `json:"pid"`
	CreatedAt string `json:"created_at"`
	Hostname  string `json:"hostname,omitempty"`
}

func AcquireRunLock(logDir string) (RunLock, error) {
	target := strings.TrimSpace(logDir)
	if target == "" {
		return RunLock{}, fmt.Errorf("log directory is required")
	}

	lockDir := filepath.Join(target, runLockDirName)
	if err := os.Mkdir(lockDir, 0o755); err != nil {
		if os.IsExist(err) {
			if owner, ok := ReadLockOwner(target); ok {
				return RunLock{}, fmt.Errorf(
					"log directory is locked by a live run: %s (pid=%d created_at=%s host=%s)",
					target, owner.PID, owner.CreatedAt, owner.Hostname,
				)
			}
			return RunLock{}, fmt.Errorf("log directory is locked by a live run: %s", target)
		}
		return RunLock{}, fmt.Errorf("acquire run lock for %s: %w", target, err)
	}

	owner := LockOwner{
		PID:       os.Getpid(),
		CreatedAt: time.Now().UTC().Format(time.RFC3339),
		Hostname:  hostnameOrUnknown(),
	}
	ownerPath := filepath.Join(lockDir, runLockOwnerFile)
	if err := WriteJSON(ownerPath, owner); err != nil {
		_ = os.Remove(lockDir)
		return RunLock{}, fmt.Errorf("write run lock owner for %s: %w", target, err)
	}

	return RunLock{lockDir: lockDir}, nil
}

func (l RunLock) Release() error {
	if strings.TrimSpace(l.lockDir) == "" {
		return nil
	}
	_ = os.Remove(filepath.Join(l.lockDir, runLockOwnerFile))
	if err := os.Remove(l.lockDir); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("release run lock %s: %w", l.lockDir, err)
	}
	return nil
}

// ReadLockOwner reports the owner of a held run lock, if any. Monitoring
// commands use this to tell a live run from a stale directory.
func ReadLockOwner(logDir string) (LockOwner, bool) {
	ownerPath := filepath.Join(logDir, runLockDirName, runLockOwnerFile)
	var owner LockOwner
	if err := ReadJSON(ownerPath, &owner); err != nil {
		return LockOwner{}, false
	}
	if owner.PID <= 0 || owner.CreatedAt == "" {
		return LockOwner{}, false
	}
	return owner, true
}

func hostnameOrUnknown() string {
	host, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	host = strings.TrimSpace(host)
	if host == "" {
		return "unknown"
	}
	return host
}
