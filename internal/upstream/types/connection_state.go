// Package types provides type definitions shared by the server registry, the
// capability router and the session aggregator.
package types

import (
	"encoding/json"
	"fmt"
	"time"
)

// ConnectionStatus represents the runtime state of a server connection (in-memory only)
type ConnectionStatus int

const (
	// StatusDisconnected indicates the server is not connected
	StatusDisconnected ConnectionStatus = iota
	// StatusConnecting indicates a connect request is in flight
	StatusConnecting
	// StatusConnected indicates the handshake completed and capabilities are known
	StatusConnected
	// StatusError indicates the last connect or disconnect attempt failed
	StatusError
)

// String returns the lowercase wire name of the status
func (s ConnectionStatus) String() string {
	switch s {
	case StatusDisconnected:
		return "disconnected"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusError:
		return "error"
	default:
		return "unknown"
	}
}

// DisplayString returns a Title Case representation for UI display
func (s ConnectionStatus) DisplayString() string {
	switch s {
	case StatusDisconnected:
		return "Disconnected"
	case StatusConnecting:
		return "Connecting"
	case StatusConnected:
		return "Connected"
	case StatusError:
		return "Error"
	default:
		return "Unknown"
	}
}

// IsTerminal reports whether a connect attempt has resolved (success or failure)
func (s ConnectionStatus) IsTerminal() bool {
	return s == StatusConnected || s == StatusError
}

// MarshalJSON encodes the status as its wire name
func (s ConnectionStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON decodes a wire name back into a status
func (s *ConnectionStatus) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	parsed, err := ParseConnectionStatus(name)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// ParseConnectionStatus converts a wire name into a ConnectionStatus
func ParseConnectionStatus(name string) (ConnectionStatus, error) {
	switch name {
	case "disconnected":
		return StatusDisconnected, nil
	case "connecting":
		return StatusConnecting, nil
	case "connected":
		return StatusConnected, nil
	case "error":
		return StatusError, nil
	}
	return StatusDisconnected, fmt.Errorf("invalid connection status: %q", name)
}

// validTransitions defines the only status changes connect/disconnect may perform.
//
//	disconnected -> connecting            (connect)
//	error        -> connecting            (connect retry by the user)
//	connecting   -> connected | error     (connect resolved)
//	connecting   -> disconnected          (disconnect while pending)
//	connected    -> disconnected          (disconnect)
//	connected    -> error                 (disconnect failed)
//	error        -> disconnected          (disconnect clears a failed server)
var validTransitions = map[ConnectionStatus][]ConnectionStatus{
	StatusDisconnected: {StatusConnecting},
	StatusConnecting:   {StatusConnected, StatusError, StatusDisconnected},
	StatusConnected:    {StatusDisconnected, StatusError},
	StatusError:        {StatusConnecting, StatusDisconnected},
}

// ValidateTransition validates if a status transition is allowed
func ValidateTransition(from, to ConnectionStatus) error {
	allowed, exists := validTransitions[from]
	if !exists {
		return fmt.Errorf("invalid source status: %s", from)
	}

	for _, validTo := range allowed {
		if validTo == to {
			return nil
		}
	}

	return fmt.Errorf("invalid transition from %s to %s", from, to)
}

// Metrics holds per-connection counters. Both counters only grow while the
// server stays connected and restart from zero on each new connection.
type Metrics struct {
	RequestsSent      uint64 `json:"requests_sent"`
	ResponsesReceived uint64 `json:"responses_received"`
	ErrorCount        uint64 `json:"error_count"`
}

// ConnectionInfo is a point-in-time view of a server's live connection fields
type ConnectionInfo struct {
	Status        ConnectionStatus `json:"status"`
	LastError     string           `json:"last_error,omitempty"`
	ConnectedAt   time.Time        `json:"connected_at,omitempty"`
	ServerVersion string           `json:"server_version,omitempty"`
}
