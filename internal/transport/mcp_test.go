package transport

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"mcpconsole-go/internal/config"
	"mcpconsole-go/internal/upstream"
	"mcpconsole-go/internal/upstream/types"
)

func TestHandshakeFromResult(t *testing.T) {
	var result mcp.InitializeResult
	require.NoError(t, json.Unmarshal([]byte(`{
		"protocolVersion": "2025-03-26",
		"serverInfo": {"name": "files", "version": "0.6.2"},
		"capabilities": {
			"tools": {"listChanged": true},
			"experimental": {"sampling": {}}
		}
	}`), &result))

	hs := HandshakeFromResult(&result)
	assert.Equal(t, types.CapabilityFlags{Tools: true, Sampling: true}, hs.Capabilities)
	assert.Equal(t, "files", hs.ServerName)
	assert.Equal(t, "0.6.2", hs.ServerVersion)
	assert.Equal(t, "2025-03-26", hs.ProtocolVersion)
}

func TestConnect_UnsupportedTransports(t *testing.T) {
	tr := New("test", zap.NewNop())

	for _, kind := range []types.TransportKind{
		types.TransportWebSocket,
		types.TransportTCP,
		types.TransportUnix,
		types.TransportUnknown,
	} {
		t.Run(string(kind), func(t *testing.T) {
			cfg := &config.ServerConfig{ID: "x", Name: "x", Transport: config.TransportConfig{Type: kind}}
			_, _, err := tr.Connect(context.Background(), cfg)
			assert.ErrorIs(t, err, upstream.ErrUnsupportedTransport)
		})
	}
}

func TestConnect_StdioMissingCommand(t *testing.T) {
	tr := New("test", zap.NewNop())
	cfg := &config.ServerConfig{
		ID:   "ghost",
		Name: "ghost",
		Transport: config.TransportConfig{
			Type:    types.TransportStdio,
			Command: "mcpconsole-definitely-not-installed",
		},
	}

	_, _, err := tr.Connect(context.Background(), cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to start command")
}

func TestConnect_StreamableHTTP(t *testing.T) {
	mcpServer := server.NewMCPServer("fixture", "1.4.0",
		server.WithToolCapabilities(false),
		server.WithPromptCapabilities(false),
	)
	ts := server.NewTestStreamableHTTPServer(mcpServer)
	defer ts.Close()

	tr := New("test", zap.NewNop())
	cfg := &config.ServerConfig{
		ID:   "fixture",
		Name: "fixture",
		Transport: config.TransportConfig{
			Type:    types.TransportHTTP,
			URL:     ts.URL + "/mcp",
			Headers: map[string]string{"X-Console": "1"},
		},
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	session, hs, err := tr.Connect(ctx, cfg)
	require.NoError(t, err)
	require.NotNil(t, session)

	assert.True(t, hs.Capabilities.Tools)
	assert.True(t, hs.Capabilities.Prompts)
	assert.False(t, hs.Capabilities.Resources)
	assert.Equal(t, "1.4.0", hs.ServerVersion)

	require.NoError(t, session.Ping(ctx))
	assert.NoError(t, session.Close(ctx))
	assert.NoError(t, session.Close(ctx), "close is idempotent")
}

func TestEnvList(t *testing.T) {
	assert.Equal(t, []string{"A=1", "B=two"}, envList(map[string]string{"B": "two", "A": "1"}))
	assert.Empty(t, envList(nil))
}
