//go:build unix

package transport

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"mcpconsole-go/internal/config"
	"mcpconsole-go/internal/upstream/types"
)

func TestProcessStop_KillsWholeGroup(t *testing.T) {
	// the background sleep inherits stderr; the process only counts as exited
	// once every holder of the pipe is gone
	cfg := &config.ServerConfig{
		ID:   "sleeper",
		Name: "sleeper",
		Transport: config.TransportConfig{
			Type:    types.TransportStdio,
			Command: "sh",
			Args:    []string{"-c", "echo booting >&2; sleep 30 & wait"},
		},
	}

	p, err := startProcess(cfg, zap.NewNop())
	require.NoError(t, err)

	require.Eventually(t, func() bool { return p.stderrTail() == "booting" },
		2*time.Second, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	start := time.Now()
	require.NoError(t, p.stop(ctx))
	assert.Less(t, time.Since(start), 4*time.Second)

	select {
	case <-p.exited:
	default:
		t.Fatal("process not reaped after stop")
	}
}
