package transport

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"mcpconsole-go/internal/config"
)

const (
	stopGracePeriod = 2 * time.Second
	stderrTailLines = 5
)

// process is a stdio server child process. The MCP client owns stdin and
// stdout; stderr is drained into the log so the child never blocks on it.
type process struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.Reader

	exited  chan struct{}
	waitErr error

	mu   sync.Mutex
	tail []string
}

func startProcess(cfg *config.ServerConfig, logger *zap.Logger) (*process, error) {
	if cfg.Transport.Command == "" {
		return nil, fmt.Errorf("no command configured")
	}

	cmd := exec.Command(cfg.Transport.Command, cfg.Transport.Args...)
	cmd.Dir = cfg.Transport.WorkingDir
	cmd.Env = append(os.Environ(), envList(cfg.Transport.Env)...)
	newProcessGroup(cmd)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start command: %w", err)
	}

	p := &process{
		cmd:    cmd,
		stdin:  stdin,
		stdout: stdout,
		exited: make(chan struct{}),
	}

	logger.Debug("Started server process",
		zap.String("command", cfg.Transport.Command),
		zap.Strings("args", cfg.Transport.Args),
		zap.Int("pid", cmd.Process.Pid))

	stderrDone := make(chan struct{})
	go func() {
		defer close(stderrDone)
		p.drainStderr(stderr, logger)
	}()
	go func() {
		<-stderrDone
		p.waitErr = cmd.Wait()
		close(p.exited)
		logger.Debug("Server process exited", zap.Error(p.waitErr))
	}()

	return p, nil
}

func (p *process) drainStderr(r io.Reader, logger *zap.Logger) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		logger.Debug("stderr", zap.String("line", line))

		p.mu.Lock()
		p.tail = append(p.tail, line)
		if len(p.tail) > stderrTailLines {
			p.tail = p.tail[len(p.tail)-stderrTailLines:]
		}
		p.mu.Unlock()
	}
}

func (p *process) stderrTail() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return strings.Join(p.tail, " | ")
}

// stderrCloser is handed to the MCP client, which closes it on shutdown
func (p *process) stderrCloser() io.ReadCloser {
	return io.NopCloser(strings.NewReader(""))
}

// stop waits briefly for the child to exit after stdin is closed, then kills
// its process tree
func (p *process) stop(ctx context.Context) error {
	_ = p.stdin.Close()

	timer := time.NewTimer(stopGracePeriod)
	defer timer.Stop()

	select {
	case <-p.exited:
		return nil
	case <-timer.C:
	case <-ctx.Done():
	}

	if err := killProcessTree(p.cmd); err != nil {
		select {
		case <-p.exited:
			return nil
		default:
		}
		return err
	}

	select {
	case <-p.exited:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
