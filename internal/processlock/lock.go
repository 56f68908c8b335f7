// Package processlock keeps a second console from serving the same data
// directory or listen address.
package processlock

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"go.uber.org/zap"
)

// PIDFileName is created inside the data directory while serve runs
const PIDFileName = "mcpconsole.pid"

// ErrAlreadyRunning is returned when a live process holds the lock
var ErrAlreadyRunning = errors.New("another mcpconsole instance is already running")

// Lock is a PID file guarding one data directory
type Lock struct {
	path   string
	pid    int
	logger *zap.Logger
}

// New returns the lock for dataDir. Nothing is written until Acquire.
func New(dataDir string, logger *zap.Logger) *Lock {
	return &Lock{
		path:   filepath.Join(dataDir, PIDFileName),
		pid:    os.Getpid(),
		logger: logger.Named("processlock"),
	}
}

// Path returns the PID file location
func (l *Lock) Path() string {
	return l.path
}

// Acquire fails when listenAddr is taken or a live process owns the PID
// file. Files left behind by dead processes are replaced.
func (l *Lock) Acquire(listenAddr string) error {
	if listenAddr != "" {
		if err := checkPort(listenAddr); err != nil {
			return err
		}
	}

	if pid, err := readPID(l.path); err == nil {
		if pid != l.pid && processAlive(pid) {
			return fmt.Errorf("%w (pid %d, %s)", ErrAlreadyRunning, pid, l.path)
		}
		l.logger.Warn("Replacing stale PID file", zap.Int("pid", pid), zap.String("path", l.path))
	} else if !errors.Is(err, os.ErrNotExist) {
		l.logger.Warn("Replacing unreadable PID file", zap.String("path", l.path), zap.Error(err))
	}

	if err := os.MkdirAll(filepath.Dir(l.path), 0755); err != nil {
		return fmt.Errorf("failed to create data dir: %w", err)
	}
	if err := os.WriteFile(l.path, []byte(strconv.Itoa(l.pid)+"\n"), 0644); err != nil {
		return fmt.Errorf("failed to write PID file: %w", err)
	}

	l.logger.Info("Process lock acquired", zap.Int("pid", l.pid), zap.String("path", l.path))
	return nil
}

// Release removes the PID file if this process still owns it
func (l *Lock) Release() error {
	pid, err := readPID(l.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err == nil && pid != l.pid {
		l.logger.Warn("PID file owned by another process, leaving it", zap.Int("owner", pid))
		return nil
	}
	if err := os.Remove(l.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove PID file: %w", err)
	}
	l.logger.Info("Process lock released", zap.String("path", l.path))
	return nil
}

func checkPort(listenAddr string) error {
	host, port, err := net.SplitHostPort(listenAddr)
	if err != nil {
		return fmt.Errorf("invalid listen address %q: %w", listenAddr, err)
	}
	if port == "0" {
		return nil
	}
	addr := net.JoinHostPort(host, port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen address %s is already in use: %w", addr, err)
	}
	return ln.Close()
}

func readPID(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	raw := strings.TrimSpace(string(data))
	pid, err := strconv.Atoi(raw)
	if err != nil || pid <= 0 {
		return 0, fmt.Errorf("invalid PID %q in %s", raw, path)
	}
	return pid, nil
}

// processAlive sends signal 0, which only checks that pid exists
func processAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}
