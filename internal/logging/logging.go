package logging

import (
	"fmt"
	"path/filepath"
	"time"
)

// SessionLogPath builds the per-session log file path using OS-appropriate
// separators.
func SessionLogPath(logsDir string, sessionStart time.Time) string {
	return filepath.Join(
		logsDir,
		fmt.Sprintf("scannermap.%s.log", sessionStart.Format("20060102_150405")),
	)
}
