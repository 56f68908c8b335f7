package config

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"mcpconsole-go/internal/upstream/types"
)

func writeTestConfig(t *testing.T, path string, mutate func(*Config)) {
	t.Helper()
	cfg := DefaultConfig()
	if mutate != nil {
		mutate(cfg)
	}
	require.NoError(t, SaveToFile(cfg, path))
}

func TestNewLoader(t *testing.T) {
	logger := zap.NewNop()
	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, "config.json")
	writeTestConfig(t, configPath, nil)

	loader, err := NewLoader(configPath, logger)
	require.NoError(t, err)
	assert.NotNil(t, loader)
	assert.Equal(t, configPath, loader.ConfigPath())
	assert.NotNil(t, loader.watcher)
	assert.NotNil(t, loader.viper)

	// Clean up
	assert.NoError(t, loader.Stop())
	assert.NoError(t, loader.Stop(), "stop is idempotent")
}

func TestLoader_Load(t *testing.T) {
	logger := zap.NewNop()
	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, "config.json")
	writeTestConfig(t, configPath, func(c *Config) {
		c.Listen = ":9999"
		c.Servers = []*ServerConfig{
			{Name: "files", Transport: TransportConfig{Type: "stdio", Command: "npx"}},
		}
	})

	loader, err := NewLoader(configPath, logger)
	require.NoError(t, err)
	defer loader.Stop()

	cfg, err := loader.Load()
	require.NoError(t, err)
	assert.Equal(t, ":9999", cfg.Listen)
	require.Len(t, cfg.Servers, 1)
	assert.Equal(t, "files", cfg.Servers[0].ID)
	assert.Same(t, cfg, loader.GetConfig())
}

func TestLoader_WithViperFlagOverride(t *testing.T) {
	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, "config.json")
	writeTestConfig(t, configPath, func(c *Config) { c.Listen = ":8080" })

	v := NewViper()
	v.Set("listen", ":7070")

	loader, err := NewLoader(configPath, zap.NewNop(), WithViper(v))
	require.NoError(t, err)
	defer loader.Stop()

	cfg, err := loader.Load()
	require.NoError(t, err)
	assert.Equal(t, ":7070", cfg.Listen, "explicit viper value beats the file")
}

func TestLoader_FileWatching(t *testing.T) {
	logger := zap.NewNop()
	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, "config.json")
	writeTestConfig(t, configPath, func(c *Config) { c.Listen = ":8080" })

	loader, err := NewLoader(configPath, logger)
	require.NoError(t, err)
	defer loader.Stop()

	_, err = loader.Load()
	require.NoError(t, err)

	// Track onChange calls
	var mu sync.Mutex
	var received *Config
	err = loader.StartWatching(func(cfg *Config) error {
		mu.Lock()
		received = cfg
		mu.Unlock()
		return nil
	})
	require.NoError(t, err)

	// Modify config file externally
	writeTestConfig(t, configPath, func(c *Config) {
		c.Listen = ":9999"
		c.Servers = []*ServerConfig{
			{Name: "web", Transport: TransportConfig{Type: "http", URL: "http://localhost:3000/mcp"}},
		}
	})

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return received != nil && received.Listen == ":9999"
	}, 3*time.Second, 20*time.Millisecond)

	reloadedCfg := loader.GetConfig()
	assert.Equal(t, ":9999", reloadedCfg.Listen)
	require.Len(t, reloadedCfg.Servers, 1)
	assert.Equal(t, types.TransportHTTP, reloadedCfg.Servers[0].Transport.Type)
}

func TestLoader_RollbackOnCallbackError(t *testing.T) {
	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, "config.json")
	writeTestConfig(t, configPath, func(c *Config) { c.Listen = ":8080" })

	loader, err := NewLoader(configPath, zap.NewNop())
	require.NoError(t, err)
	defer loader.Stop()

	original, err := loader.Load()
	require.NoError(t, err)

	var mu sync.Mutex
	calls := 0
	require.NoError(t, loader.StartWatching(func(*Config) error {
		mu.Lock()
		calls++
		mu.Unlock()
		return assert.AnError
	}))

	writeTestConfig(t, configPath, func(c *Config) { c.Listen = ":9090" })

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return calls > 0
	}, 3*time.Second, 20*time.Millisecond)

	assert.Same(t, original, loader.GetConfig(), "rejected revision is rolled back")
}

func TestLoader_InvalidRevisionKeepsCurrent(t *testing.T) {
	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, "config.json")
	writeTestConfig(t, configPath, nil)

	loader, err := NewLoader(configPath, zap.NewNop())
	require.NoError(t, err)
	defer loader.Stop()

	original, err := loader.Load()
	require.NoError(t, err)
	require.NoError(t, loader.StartWatching(func(*Config) error {
		t.Error("onChange must not run for an unparsable file")
		return nil
	}))

	require.NoError(t, os.WriteFile(configPath, []byte("{not json"), 0644))
	time.Sleep(300 * time.Millisecond)

	assert.Same(t, original, loader.GetConfig())
}

func TestLoad_MissingFileYieldsDefaults(t *testing.T) {
	cfg, err := LoadFromFile(filepath.Join(t.TempDir(), "absent.json"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().Listen, cfg.Listen)
	assert.Empty(t, cfg.Servers)
	assert.Empty(t, cfg.Profiles)
}

func TestLoad_EnvironmentOverride(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.json")
	writeTestConfig(t, configPath, nil)

	t.Setenv("MCPCONSOLE_LISTEN", ":6060")
	t.Setenv("MCPCONSOLE_LOGGING_LEVEL", "debug")
	t.Setenv("MCPCONSOLE_HEALTH_CHECK_INTERVAL", "5s")

	cfg, err := Load(NewViper(), configPath)
	require.NoError(t, err)
	assert.Equal(t, ":6060", cfg.Listen)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, 5*time.Second, cfg.HealthCheckInterval.Duration())
}

func TestLoad_PreservesEnvKeyCase(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.json")
	raw := `{
  "servers": [
    {"name": "github", "transport": {"type": "stdio", "command": "gh-mcp", "env": {"GITHUB_TOKEN": "x"}}}
  ]
}`
	require.NoError(t, os.WriteFile(configPath, []byte(raw), 0644))

	cfg, err := LoadFromFile(configPath)
	require.NoError(t, err)
	require.Len(t, cfg.Servers, 1)
	assert.Equal(t, "x", cfg.Servers[0].Transport.Env["GITHUB_TOKEN"])
}

func TestLoad_DotEnvFillsStdioServers(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.json")
	writeTestConfig(t, configPath, func(c *Config) {
		c.Servers = []*ServerConfig{
			{Name: "local", Transport: TransportConfig{Type: "stdio", Command: "srv", Env: map[string]string{"API_KEY": "explicit"}}},
			{Name: "remote", Transport: TransportConfig{Type: "http", URL: "http://x"}},
		}
	})
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("# secrets\nAPI_KEY=fromfile\nexport REGION=\"eu\"\n"), 0600))

	cfg, err := LoadFromFile(configPath)
	require.NoError(t, err)

	local := cfg.FindServer("local")
	require.NotNil(t, local)
	assert.Equal(t, "explicit", local.Transport.Env["API_KEY"])
	assert.Equal(t, "eu", local.Transport.Env["REGION"])
	assert.Empty(t, cfg.FindServer("remote").Transport.Env)
}

func TestDurationDecodeHook(t *testing.T) {
	v := viper.New()
	v.Set("connection_timeout", "45s")
	v.Set("health_check_interval", float64(time.Second))

	cfg, err := Load(v, "")
	require.NoError(t, err)
	assert.Equal(t, 45*time.Second, cfg.ConnectionTimeout.Duration())
	assert.Equal(t, time.Second, cfg.HealthCheckInterval.Duration())

	v.Set("connection_timeout", "soon")
	_, err = Load(v, "")
	assert.Error(t, err)
}
