package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"time"

	"github.com/google/uuid"

	"mcpconsole-go/internal/upstream/types"
)

const (
	defaultListen = "127.0.0.1:8787"
)

// profileNamespace seeds deterministic ids for profiles configured without one
var profileNamespace = uuid.MustParse("5b0c7a0e-64a4-4c5c-9d43-1f6f0a3c8e21")

// Duration is a wrapper around time.Duration that can be marshaled to/from JSON
type Duration time.Duration

// MarshalJSON implements json.Marshaler interface
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// UnmarshalJSON implements json.Unmarshaler interface
func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}

	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration format: %w", err)
	}

	*d = Duration(parsed)
	return nil
}

// Duration returns the underlying time.Duration
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// durationDecodeHook lets viper decode "30s" style strings (and raw numbers of
// nanoseconds) into Duration fields.
func durationDecodeHook(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
	if to != reflect.TypeOf(Duration(0)) {
		return data, nil
	}
	switch v := data.(type) {
	case string:
		if v == "" {
			return Duration(0), nil
		}
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("invalid duration format: %w", err)
		}
		return Duration(parsed), nil
	case int:
		return Duration(v), nil
	case int64:
		return Duration(v), nil
	case float64:
		return Duration(int64(v)), nil
	}
	return data, nil
}

// Config represents the main configuration structure
type Config struct {
	Listen  string          `json:"listen" mapstructure:"listen"`
	DataDir string          `json:"data_dir" mapstructure:"data_dir"`
	Servers []*ServerConfig `json:"servers" mapstructure:"servers"`

	// Profiles are named subsets of Servers
	Profiles []*ProfileConfig `json:"profiles,omitempty" mapstructure:"profiles"`

	// Logging configuration
	Logging *LogConfig `json:"logging,omitempty" mapstructure:"logging"`

	// ConnectionTimeout applies to servers without their own timeout
	ConnectionTimeout Duration `json:"connection_timeout,omitempty" mapstructure:"connection_timeout"`

	// HealthCheckInterval controls how often connected servers are pinged (0 disables)
	HealthCheckInterval Duration `json:"health_check_interval,omitempty" mapstructure:"health_check_interval"`

	// InitialView is the view shown when no saved view state exists
	InitialView string `json:"initial_view,omitempty" mapstructure:"initial_view"`

	// CORSAllowedOrigins for the HTTP shell API
	CORSAllowedOrigins []string `json:"cors_allowed_origins,omitempty" mapstructure:"cors_allowed_origins"`
}

// LogConfig represents logging configuration
type LogConfig struct {
	Level         string `json:"level" mapstructure:"level"`
	EnableFile    bool   `json:"enable_file" mapstructure:"enable_file"`
	EnableConsole bool   `json:"enable_console" mapstructure:"enable_console"`
	Filename      string `json:"filename" mapstructure:"filename"`
	LogDir        string `json:"log_dir,omitempty" mapstructure:"log_dir"` // Custom log directory
	MaxSize       int    `json:"max_size" mapstructure:"max_size"`         // MB
	MaxBackups    int    `json:"max_backups" mapstructure:"max_backups"`   // number of backup files
	MaxAge        int    `json:"max_age" mapstructure:"max_age"`           // days
	Compress      bool   `json:"compress" mapstructure:"compress"`
	JSONFormat    bool   `json:"json_format" mapstructure:"json_format"`

	// Protocol traffic log backing the protocol inspector view
	Protocol *ProtocolLogConfig `json:"protocol,omitempty" mapstructure:"protocol"`
}

// ProtocolLogConfig controls the record of console-to-server traffic
type ProtocolLogConfig struct {
	Enabled         bool   `json:"enabled" mapstructure:"enabled"` // also write events to a file
	Filename        string `json:"filename" mapstructure:"filename"`
	BufferSize      int    `json:"buffer_size" mapstructure:"buffer_size"` // events kept in memory
	IncludePayload  bool   `json:"include_payload" mapstructure:"include_payload"`
	IncludeHeaders  bool   `json:"include_headers" mapstructure:"include_headers"`
	MaxPayloadSize  int    `json:"max_payload_size" mapstructure:"max_payload_size"` // bytes
	FilterSensitive bool   `json:"filter_sensitive" mapstructure:"filter_sensitive"`
}

// ServerConfig represents one managed MCP server
type ServerConfig struct {
	ID          string          `json:"id,omitempty" mapstructure:"id"` // Defaults to Name
	Name        string          `json:"name" mapstructure:"name"`
	Description string          `json:"description,omitempty" mapstructure:"description"`
	Transport   TransportConfig `json:"transport" mapstructure:"transport"`

	// ConnectionTimeout - per-server override (0 = use global default)
	ConnectionTimeout Duration `json:"connection_timeout,omitempty" mapstructure:"connection_timeout"`

	// Capabilities are the declared capabilities shown before the first
	// handshake. A successful handshake replaces them.
	Capabilities *types.CapabilityFlags `json:"capabilities,omitempty" mapstructure:"capabilities"`
}

// DeclaredCapabilities returns the configured capability hints
func (s *ServerConfig) DeclaredCapabilities() types.CapabilitySet {
	if s.Capabilities == nil {
		return 0
	}
	return s.Capabilities.Set()
}

// TransportConfig is the single canonical, tagged representation of how a
// server is reached. Type selects which of the remaining fields apply.
type TransportConfig struct {
	Type types.TransportKind `json:"type" mapstructure:"type"`

	// stdio
	Command    string            `json:"command,omitempty" mapstructure:"command"`
	Args       []string          `json:"args,omitempty" mapstructure:"args"`
	Env        map[string]string `json:"env,omitempty" mapstructure:"env"`
	WorkingDir string            `json:"working_dir,omitempty" mapstructure:"working_dir"`

	// http, websocket
	URL     string            `json:"url,omitempty" mapstructure:"url"`
	Headers map[string]string `json:"headers,omitempty" mapstructure:"headers"`

	// tcp
	Host string `json:"host,omitempty" mapstructure:"host"`
	Port int    `json:"port,omitempty" mapstructure:"port"`

	// unix
	Path string `json:"path,omitempty" mapstructure:"path"`
}

// Info returns the registry-facing identity of the server
func (s *ServerConfig) Info() types.ServerInfo {
	return types.ServerInfo{
		Name:          s.Name,
		Description:   s.Description,
		TransportKind: s.Transport.Type,
	}
}

// WithEnv returns a copy of the config whose transport env has overrides
// merged over it. The receiver is not modified.
func (s *ServerConfig) WithEnv(overrides map[string]string) *ServerConfig {
	out := *s
	if len(overrides) == 0 {
		return &out
	}
	env := make(map[string]string, len(s.Transport.Env)+len(overrides))
	for k, v := range s.Transport.Env {
		env[k] = v
	}
	for k, v := range overrides {
		env[k] = v
	}
	out.Transport.Env = env
	return &out
}

// GetConnectionTimeout returns the effective connection timeout for this server.
// If a per-server timeout is configured (ConnectionTimeout > 0), it uses that.
// Otherwise, it returns the global DefaultConnectionTimeout.
func (s *ServerConfig) GetConnectionTimeout() time.Duration {
	if s.ConnectionTimeout > 0 {
		return time.Duration(s.ConnectionTimeout)
	}
	return DefaultConnectionTimeout
}

// ProfileConfig represents a named, ordered subset of servers
type ProfileConfig struct {
	ID           string          `json:"id,omitempty" mapstructure:"id"`
	Name         string          `json:"name" mapstructure:"name"`
	Description  string          `json:"description,omitempty" mapstructure:"description"`
	Icon         string          `json:"icon,omitempty" mapstructure:"icon"`
	Color        string          `json:"color,omitempty" mapstructure:"color"`
	AutoActivate bool            `json:"auto_activate,omitempty" mapstructure:"auto_activate"`
	Members      []ProfileMember `json:"members" mapstructure:"members"`
}

// ProfileMember is one server inside a profile along with its orchestration settings
type ProfileMember struct {
	ServerID     string   `json:"server_id" mapstructure:"server_id"`
	StartupOrder int      `json:"startup_order,omitempty" mapstructure:"startup_order"` // lower starts first
	StartupDelay Duration `json:"startup_delay,omitempty" mapstructure:"startup_delay"` // wait after a successful start
	AutoConnect  *bool    `json:"auto_connect,omitempty" mapstructure:"auto_connect"`   // nil means true
	Required     bool     `json:"required,omitempty" mapstructure:"required"`

	// EnvOverrides are merged over the server's transport env when this
	// profile connects it
	EnvOverrides map[string]string `json:"env_overrides,omitempty" mapstructure:"env_overrides"`
}

// ShouldAutoConnect reports whether activation connects this member
func (m ProfileMember) ShouldAutoConnect() bool {
	return m.AutoConnect == nil || *m.AutoConnect
}

// ServerIDs returns the member ids in profile order
func (p *ProfileConfig) ServerIDs() []string {
	ids := make([]string, 0, len(p.Members))
	for _, m := range p.Members {
		ids = append(ids, m.ServerID)
	}
	return ids
}

// DefaultConfig returns a default configuration
func DefaultConfig() *Config {
	homeDir, _ := os.UserHomeDir()

	return &Config{
		Listen:              defaultListen,
		DataDir:             filepath.Join(homeDir, ".mcpconsole"),
		Servers:             []*ServerConfig{},
		Profiles:            []*ProfileConfig{},
		ConnectionTimeout:   Duration(DefaultConnectionTimeout),
		HealthCheckInterval: Duration(HealthCheckInterval),
		InitialView:         "dashboard",
		Logging: &LogConfig{
			Level:         "info",
			EnableFile:    true,
			EnableConsole: true,
			Filename:      "mcpconsole.log",
			MaxSize:       10,
			MaxBackups:    5,
			MaxAge:        30,
			Compress:      true,
			JSONFormat:    false,
			Protocol: &ProtocolLogConfig{
				Enabled:         false,
				Filename:        "protocol.log",
				BufferSize:      500,
				IncludePayload:  true,
				IncludeHeaders:  false,
				MaxPayloadSize:  4096,
				FilterSensitive: true,
			},
		},
	}
}

// Normalize fills derived defaults and canonicalizes transport tags. It
// returns the ids of servers whose transport tag was not recognized.
func (c *Config) Normalize() []string {
	var unknown []string

	for _, server := range c.Servers {
		if server == nil {
			continue
		}
		if server.ID == "" {
			server.ID = server.Name
		}
		tag := server.Transport.Type
		server.Transport.Type = types.ParseTransportKind(string(tag))
		if server.Transport.Type == types.TransportUnknown {
			unknown = append(unknown, server.ID)
		}
		if server.ConnectionTimeout == 0 && c.ConnectionTimeout > 0 {
			server.ConnectionTimeout = c.ConnectionTimeout
		}
	}

	for _, profile := range c.Profiles {
		if profile == nil {
			continue
		}
		if profile.ID == "" && profile.Name != "" {
			profile.ID = uuid.NewSHA1(profileNamespace, []byte(profile.Name)).String()
		}
	}

	return unknown
}

// Validate checks structural consistency. It does not reject unknown
// transport kinds; those fail when a connection is attempted.
func (c *Config) Validate() error {
	var errs []error

	seen := make(map[string]bool)
	for i, server := range c.Servers {
		if server == nil {
			errs = append(errs, fmt.Errorf("servers[%d]: empty entry", i))
			continue
		}
		if server.Name == "" {
			errs = append(errs, fmt.Errorf("servers[%d]: name is required", i))
			continue
		}
		id := server.ID
		if id == "" {
			id = server.Name
		}
		if seen[id] {
			errs = append(errs, fmt.Errorf("servers[%d]: duplicate server id %q", i, id))
		}
		seen[id] = true

		if server.ConnectionTimeout < 0 {
			errs = append(errs, fmt.Errorf("server %q: connection_timeout must not be negative", id))
		}
		if err := validateTransport(&server.Transport); err != nil {
			errs = append(errs, fmt.Errorf("server %q: %w", id, err))
		}
	}

	profileIDs := make(map[string]bool)
	for i, profile := range c.Profiles {
		if profile == nil {
			errs = append(errs, fmt.Errorf("profiles[%d]: empty entry", i))
			continue
		}
		if profile.Name == "" {
			errs = append(errs, fmt.Errorf("profiles[%d]: name is required", i))
			continue
		}
		if profile.ID != "" {
			if profileIDs[profile.ID] {
				errs = append(errs, fmt.Errorf("profiles[%d]: duplicate profile id %q", i, profile.ID))
			}
			profileIDs[profile.ID] = true
		}
		members := make(map[string]bool)
		for _, m := range profile.Members {
			if m.ServerID == "" {
				errs = append(errs, fmt.Errorf("profile %q: member without server_id", profile.Name))
				continue
			}
			if members[m.ServerID] {
				errs = append(errs, fmt.Errorf("profile %q: server %q listed twice", profile.Name, m.ServerID))
			}
			members[m.ServerID] = true
			if m.StartupDelay < 0 {
				errs = append(errs, fmt.Errorf("profile %q: negative startup_delay for %q", profile.Name, m.ServerID))
			}
		}
	}

	if c.HealthCheckInterval < 0 {
		errs = append(errs, errors.New("health_check_interval must not be negative"))
	}

	return errors.Join(errs...)
}

func validateTransport(t *TransportConfig) error {
	switch types.ParseTransportKind(string(t.Type)) {
	case types.TransportStdio:
		if t.Command == "" {
			return errors.New("stdio transport requires command")
		}
	case types.TransportHTTP, types.TransportWebSocket:
		if t.URL == "" {
			return fmt.Errorf("%s transport requires url", t.Type)
		}
	case types.TransportTCP:
		if t.Host == "" || t.Port <= 0 {
			return errors.New("tcp transport requires host and port")
		}
	case types.TransportUnix:
		if t.Path == "" {
			return errors.New("unix transport requires path")
		}
	}
	return nil
}

// FindServer returns the server config with the given id
func (c *Config) FindServer(id string) *ServerConfig {
	for _, s := range c.Servers {
		if s != nil && s.ID == id {
			return s
		}
	}
	return nil
}
