// Package transport opens MCP sessions with upstream servers using mcp-go.
package transport

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/mark3labs/mcp-go/client"
	mcptransport "github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"
	"go.uber.org/zap"

	"mcpconsole-go/internal/config"
	"mcpconsole-go/internal/upstream"
	"mcpconsole-go/internal/upstream/types"
)

const clientName = "mcpconsole"

// Experimental capability keys some servers use to advertise client-facing features
const (
	experimentalSampling    = "sampling"
	experimentalElicitation = "elicitation"
)

// MCPTransport is the default upstream.Transport. It speaks MCP over stdio
// and streamable HTTP; websocket, tcp and unix servers are reported as
// unsupported.
type MCPTransport struct {
	version string
	logger  *zap.Logger
}

// New creates a transport that identifies itself with the given client version
func New(version string, logger *zap.Logger) *MCPTransport {
	return &MCPTransport{
		version: version,
		logger:  logger.Named("transport"),
	}
}

// Connect starts a session and performs the initialization handshake
func (t *MCPTransport) Connect(ctx context.Context, cfg *config.ServerConfig) (upstream.Session, *upstream.Handshake, error) {
	var (
		c    *client.Client
		proc *process
		err  error
	)

	switch cfg.Transport.Type {
	case types.TransportStdio:
		c, proc, err = t.newStdioClient(cfg)
	case types.TransportHTTP:
		c, err = newHTTPClient(cfg)
	default:
		return nil, nil, fmt.Errorf("%w: %s", upstream.ErrUnsupportedTransport, cfg.Transport.Type)
	}
	if err != nil {
		return nil, nil, err
	}

	s := &session{client: c, proc: proc}

	if err := c.Start(ctx); err != nil {
		_ = s.Close(context.Background())
		return nil, nil, fmt.Errorf("failed to start client: %w", err)
	}

	initRequest := mcp.InitializeRequest{}
	initRequest.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	initRequest.Params.ClientInfo = mcp.Implementation{
		Name:    clientName,
		Version: t.version,
	}
	initRequest.Params.Capabilities = mcp.ClientCapabilities{}

	result, err := c.Initialize(ctx, initRequest)
	if err != nil {
		_ = s.Close(context.Background())
		if proc != nil {
			if tail := proc.stderrTail(); tail != "" {
				return nil, nil, fmt.Errorf("initialize failed: %w (stderr: %s)", err, tail)
			}
		}
		return nil, nil, fmt.Errorf("initialize failed: %w", err)
	}

	t.logger.Debug("Handshake completed",
		zap.String("server", cfg.ID),
		zap.String("remote_name", result.ServerInfo.Name),
		zap.String("protocol_version", result.ProtocolVersion))

	return s, HandshakeFromResult(result), nil
}

// HandshakeFromResult maps an initialize result onto capability flags
func HandshakeFromResult(result *mcp.InitializeResult) *upstream.Handshake {
	caps := result.Capabilities
	_, sampling := caps.Experimental[experimentalSampling]
	_, elicitation := caps.Experimental[experimentalElicitation]

	return &upstream.Handshake{
		Capabilities: types.CapabilityFlags{
			Tools:       caps.Tools != nil,
			Resources:   caps.Resources != nil,
			Prompts:     caps.Prompts != nil,
			Sampling:    sampling,
			Elicitation: elicitation,
		},
		ServerName:      result.ServerInfo.Name,
		ServerVersion:   result.ServerInfo.Version,
		ProtocolVersion: result.ProtocolVersion,
	}
}

func (t *MCPTransport) newStdioClient(cfg *config.ServerConfig) (*client.Client, *process, error) {
	proc, err := startProcess(cfg, t.logger.With(zap.String("server", cfg.ID)))
	if err != nil {
		return nil, nil, err
	}
	stdio := mcptransport.NewIO(proc.stdout, proc.stdin, proc.stderrCloser())
	return client.NewClient(stdio), proc, nil
}

func newHTTPClient(cfg *config.ServerConfig) (*client.Client, error) {
	var opts []mcptransport.StreamableHTTPCOption
	if len(cfg.Transport.Headers) > 0 {
		opts = append(opts, mcptransport.WithHTTPHeaders(cfg.Transport.Headers))
	}
	httpTransport, err := mcptransport.NewStreamableHTTP(cfg.Transport.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create transport: %w", err)
	}
	return client.NewClient(httpTransport), nil
}

// envList flattens an env map into KEY=VALUE pairs in a stable order
func envList(env map[string]string) []string {
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+env[k])
	}
	return out
}

type session struct {
	client *client.Client
	proc   *process

	closeOnce sync.Once
	closeErr  error
}

func (s *session) Ping(ctx context.Context) error {
	return s.client.Ping(ctx)
}

func (s *session) Close(ctx context.Context) error {
	s.closeOnce.Do(func() {
		err := s.client.Close()
		if s.proc != nil {
			if perr := s.proc.stop(ctx); perr != nil && err == nil {
				err = perr
			}
		}
		s.closeErr = err
	})
	return s.closeErr
}
