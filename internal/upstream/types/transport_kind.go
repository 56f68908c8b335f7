package types

import "strings"

// TransportKind is the canonical tag identifying how a server is reached.
// Configuration carries it as transport.type; any value outside the known set
// is normalized to TransportUnknown at the boundary.
type TransportKind string

const (
	TransportStdio     TransportKind = "stdio"
	TransportHTTP      TransportKind = "http"
	TransportWebSocket TransportKind = "websocket"
	TransportTCP       TransportKind = "tcp"
	TransportUnix      TransportKind = "unix"
	TransportUnknown   TransportKind = "unknown"
)

// ParseTransportKind maps a configured tag to its canonical kind. Matching is
// case-insensitive; it never guesses from other fields.
func ParseTransportKind(tag string) TransportKind {
	switch k := TransportKind(strings.ToLower(strings.TrimSpace(tag))); k {
	case TransportStdio, TransportHTTP, TransportWebSocket, TransportTCP, TransportUnix:
		return k
	default:
		return TransportUnknown
	}
}

// IsKnown reports whether the kind is one of the concrete transports
func (k TransportKind) IsKnown() bool {
	return k != TransportUnknown && ParseTransportKind(string(k)) == k
}
