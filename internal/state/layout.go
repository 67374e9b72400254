package state

import "path/filepath"

// File names making up a batch log directory. Everything here is plain text
// and safe to tail while a run is live.
const (
	CompletedFileName = "completed.txt"
	FailedFileName    = "failed.txt"
	ResultsLogName    = "results.log"
	jobLogDirName     = "jobs"
)

func CompletedPath(logDir string) string {
	return filepath.Join(logDir, CompletedFileName)
}

func FailedPath(logDir string) string {
	return filepath.Join(logDir, FailedFileName)
}

func ResultsLogPath(logDir string) string {
	return filepath.Join(logDir, ResultsLogName)
}

func JobLogDir(logDir string) string {
	return filepath.Join(logDir, jobLogDirName)
}

func JobLogPath(logDir, jobID string) string {
	return filepath.Join(logDir, jobLogDirName, jobID+".log")
}

// EnsureLayout creates the log directory and its jobs/ subdirectory.
func EnsureLayout(logDir string) error {
	if err := Mkdir(logDir); err != nil {
		return err
	}
	return Mkdir(JobLogDir(logDir))
}
