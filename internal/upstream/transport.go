package upstream

import (
	"context"
	"time"

	"mcpconsole-go/internal/config"
	"mcpconsole-go/internal/upstream/types"
)

// Handshake is what a transport learns while opening a session
type Handshake struct {
	Capabilities    types.CapabilityFlags
	ServerName      string
	ServerVersion   string
	ProtocolVersion string
}

// Session is one open connection to a server
type Session interface {
	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}

// Transport opens sessions with servers. It must be safe for concurrent use.
// Capability flags come back in the Handshake; the registry never probes for them.
type Transport interface {
	Connect(ctx context.Context, cfg *config.ServerConfig) (Session, *Handshake, error)
}

// TrafficRecorder records requests made on behalf of the registry.
// *logs.ProtocolLog implements it.
type TrafficRecorder interface {
	LogRequest(serverID, method string, payload interface{}, headers map[string]interface{}) string
	LogResponse(serverID, method string, payload interface{}, duration time.Duration, requestID string)
	LogError(serverID, method string, err error, duration time.Duration, requestID string)
}

type nopRecorder struct{}

func (nopRecorder) LogRequest(string, string, interface{}, map[string]interface{}) string { return "" }
func (nopRecorder) LogResponse(string, string, interface{}, time.Duration, string)         {}
func (nopRecorder) LogError(string, string, error, time.Duration, string)                  {}
