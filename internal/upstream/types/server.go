package types

import (
	"strings"
	"time"

	"golang.org/x/mod/semver"
)

// ServerInfo is the configured identity of a server as the rest of the core sees it
type ServerInfo struct {
	Name          string        `json:"name"`
	Description   string        `json:"description,omitempty"`
	TransportKind TransportKind `json:"transport_kind"`
}

// Server is an immutable snapshot of one managed endpoint. The server registry
// is the only owner of live state; everything else works on copies.
type Server struct {
	ID            string           `json:"id"`
	Config        ServerInfo       `json:"config"`
	Status        ConnectionStatus `json:"status"`
	Capabilities  CapabilitySet    `json:"capabilities"`
	Metrics       Metrics          `json:"metrics"`
	LastError     string           `json:"last_error,omitempty"`
	ConnectedAt   time.Time        `json:"connected_at,omitempty"`
	ServerVersion string           `json:"server_version,omitempty"`
}

// Name returns the display name, falling back to the id
func (s Server) Name() string {
	if s.Config.Name != "" {
		return s.Config.Name
	}
	return s.ID
}

// IsConnected reports whether the server is connected
func (s Server) IsConnected() bool {
	return s.Status == StatusConnected
}

// Supports reports whether the server advertises capability c
func (s Server) Supports(c Capability) bool {
	return s.Capabilities.Has(c)
}

// FindServer returns the server with the given id from a snapshot list
func FindServer(servers []Server, id string) (Server, bool) {
	for _, s := range servers {
		if s.ID == id {
			return s, true
		}
	}
	return Server{}, false
}

// NormalizeVersion returns the canonical semantic version ("v1.2.0") for a
// version reported during the handshake, or the trimmed input when it is not
// a semantic version.
func NormalizeVersion(v string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return ""
	}
	candidate := v
	if !strings.HasPrefix(candidate, "v") {
		candidate = "v" + candidate
	}
	if semver.IsValid(candidate) {
		return semver.Canonical(candidate)
	}
	return v
}
