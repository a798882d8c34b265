package logs

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// CurrentLogName is the pointer the daemon maintains to its active log file.
const CurrentLogName = "triage.log"

// DaemonLogPath resolves the daemon's active log file under logDir, following
// the current-log pointer when it is a symlink.
func DaemonLogPath(logDir string) (string, error) {
	pointer := filepath.Join(logDir, CurrentLogName)
	target, err := filepath.EvalSymlinks(pointer)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("no daemon log at %s (has the daemon run yet?)", pointer)
		}
		return "", fmt.Errorf("resolve daemon log: %w", err)
	}
	return target, nil
}

// RunLogPath returns the per-run log file for runID.
func RunLogPath(logDir, runID string) (string, error) {
	runID = strings.TrimSpace(runID)
	if runID == "" || strings.ContainsAny(runID, `/\`) || runID == "." || runID == ".." {
		return "", fmt.Errorf("invalid run id %q", runID)
	}
	return filepath.Join(logDir, "runs", runID+".log"), nil
}
