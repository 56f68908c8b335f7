package logs

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// FailureLogName is the file, inside the data dir, that collects connection failures
const FailureLogName = "failed_servers.log"

// Failure categories reported by CategorizeError
const (
	CategoryTimeout        = "timeout"
	CategoryMissingPackage = "missing_package"
	CategoryAuth           = "auth"
	CategoryConfig         = "config"
	CategoryNetwork        = "network"
	CategoryPermission     = "permission"
	CategoryUnsupported    = "unsupported_transport"
	CategoryUnknown        = "unknown"
)

func failureLogPath(dataDir string) string {
	if dataDir == "" {
		dataDir = filepath.Join(os.Getenv("HOME"), ".mcpconsole")
	}
	return filepath.Join(dataDir, FailureLogName)
}

// LogServerFailure writes a categorized failure entry for a server to the
// failed_servers.log file in dataDir.
func LogServerFailure(dataDir, serverName, errorMsg string, at time.Time) error {
	logPath := failureLogPath(dataDir)
	if err := os.MkdirAll(filepath.Dir(logPath), 0755); err != nil {
		return fmt.Errorf("failed to create data dir: %w", err)
	}

	errorType, suggestions := CategorizeError(errorMsg)

	// Open file in append mode, create if it doesn't exist
	f, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", FailureLogName, err)
	}
	defer f.Close()

	// Format: timestamp [ERROR] Server "name" | Type | Error | Suggestions
	logLine := fmt.Sprintf("%s\t[ERROR]\tServer \"%s\" | Type: %s | Error: %s | Suggestions: %s\n",
		at.Format("2006-01-02 15:04:05"), serverName, errorType, errorMsg, strings.Join(suggestions, "; "))

	if _, err := f.WriteString(logLine); err != nil {
		return fmt.Errorf("failed to write to %s: %w", FailureLogName, err)
	}

	return nil
}

// CategorizeError analyzes an error message and returns error type and suggestions
func CategorizeError(errMsg string) (string, []string) {
	if errMsg == "" {
		return CategoryUnknown, []string{"No error details available"}
	}

	errStr := strings.ToLower(errMsg)

	if strings.Contains(errStr, "unsupported transport") {
		return CategoryUnsupported, []string{
			"Use a stdio or http transport for this server",
			"Check the transport type in the configuration",
		}
	}

	// Timeout errors
	if strings.Contains(errStr, "timeout") || strings.Contains(errStr, "deadline exceeded") {
		return CategoryTimeout, []string{
			"Check if server process starts correctly",
			"Increase connection_timeout in configuration",
			"Verify network connectivity",
		}
	}

	// Missing package errors
	if strings.Contains(errStr, "cannot find module") ||
		strings.Contains(errStr, "modulenotfounderror") ||
		strings.Contains(errStr, "command not found") ||
		strings.Contains(errStr, "executable file not found") ||
		strings.Contains(errStr, "no such file") ||
		strings.Contains(errStr, "enoent") {
		return CategoryMissingPackage, []string{
			"Run 'npm install' or 'pip install' in working directory",
			"Check if npx/uvx is installed and in PATH",
		}
	}

	// Authentication errors
	if strings.Contains(errStr, "oauth") ||
		strings.Contains(errStr, "unauthorized") ||
		strings.Contains(errStr, "401") ||
		strings.Contains(errStr, "authentication") {
		return CategoryAuth, []string{
			"Check API token is valid and not expired",
			"Verify authorization headers in configuration",
		}
	}

	// Network errors
	if strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "network") ||
		strings.Contains(errStr, "dial tcp") ||
		strings.Contains(errStr, "no route to host") {
		return CategoryNetwork, []string{
			"Check server URL is correct and accessible",
			"Verify firewall settings allow connections",
		}
	}

	// Permission errors
	if strings.Contains(errStr, "permission denied") ||
		strings.Contains(errStr, "access denied") {
		return CategoryPermission, []string{
			"Check file/directory permissions",
			"Verify executable has correct permissions",
		}
	}

	// Configuration errors
	if strings.Contains(errStr, "config") ||
		strings.Contains(errStr, "invalid") ||
		strings.Contains(errStr, "missing required") ||
		strings.Contains(errStr, "env") {
		return CategoryConfig, []string{
			"Verify server configuration",
			"Check required environment variables are set",
		}
	}

	return CategoryUnknown, []string{"Check server-specific logs for details"}
}

// ReadFailureLog returns the most recent limit entries, newest last. A
// missing file yields no entries.
func ReadFailureLog(dataDir string, limit int) ([]string, error) {
	content, err := os.ReadFile(failureLogPath(dataDir))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read %s: %w", FailureLogName, err)
	}

	var lines []string
	for _, line := range strings.Split(string(content), "\n") {
		if line != "" {
			lines = append(lines, line)
		}
	}
	if limit > 0 && len(lines) > limit {
		lines = lines[len(lines)-limit:]
	}
	return lines, nil
}

// BackupAndClearFailureLog creates a timestamped backup of the failure log and clears it
func BackupAndClearFailureLog(dataDir string) error {
	logPath := failureLogPath(dataDir)

	content, err := os.ReadFile(logPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read log for backup: %w", err)
	}

	// Only backup if there's content
	if len(content) > 0 {
		timestamp := time.Now().Format("20060102-150405")
		backupPath := filepath.Join(filepath.Dir(logPath), fmt.Sprintf("failed_servers.backup.%s.log", timestamp))

		if err := os.WriteFile(backupPath, content, 0644); err != nil {
			return fmt.Errorf("failed to create backup: %w", err)
		}

		// Keep the last 5 backups
		if err := cleanOldBackups(filepath.Dir(logPath), 5); err != nil {
			return err
		}
	}

	if err := os.Truncate(logPath, 0); err != nil {
		return fmt.Errorf("failed to clear log: %w", err)
	}
	return nil
}

// cleanOldBackups removes old backup files, keeping only the most recent N backups
func cleanOldBackups(dir string, keepCount int) error {
	files, err := filepath.Glob(filepath.Join(dir, "failed_servers.backup.*.log"))
	if err != nil {
		return fmt.Errorf("failed to list backup files: %w", err)
	}

	type fileInfo struct {
		path    string
		modTime time.Time
	}

	fileInfos := make([]fileInfo, 0, len(files))
	for _, file := range files {
		stat, err := os.Stat(file)
		if err != nil {
			continue
		}
		fileInfos = append(fileInfos, fileInfo{path: file, modTime: stat.ModTime()})
	}

	sort.Slice(fileInfos, func(i, j int) bool {
		if fileInfos[i].modTime.Equal(fileInfos[j].modTime) {
			return fileInfos[i].path < fileInfos[j].path
		}
		return fileInfos[i].modTime.Before(fileInfos[j].modTime)
	})

	for i := 0; i < len(fileInfos)-keepCount; i++ {
		if err := os.Remove(fileInfos[i].path); err != nil {
			return fmt.Errorf("failed to remove old backup %s: %w", fileInfos[i].path, err)
		}
	}

	return nil
}

// RemoveServerFromFailureLog removes a specific server's entries from the log.
// Called once a server connects again.
func RemoveServerFromFailureLog(dataDir, serverName string) error {
	logPath := failureLogPath(dataDir)

	content, err := os.ReadFile(logPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read %s: %w", FailureLogName, err)
	}

	marker := fmt.Sprintf("Server \"%s\"", serverName)
	var kept strings.Builder
	removed := false
	for _, line := range strings.Split(string(content), "\n") {
		if line == "" {
			continue
		}
		if strings.Contains(line, marker) {
			removed = true
			continue
		}
		kept.WriteString(line)
		kept.WriteByte('\n')
	}
	if !removed {
		return nil
	}

	if err := os.WriteFile(logPath, []byte(kept.String()), 0644); err != nil {
		return fmt.Errorf("failed to write filtered log: %w", err)
	}
	return nil
}
