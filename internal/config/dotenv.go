package config

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"

	"mcpconsole-go/internal/upstream/types"
)

// LoadDotEnv loads environment variables from a .env file
// Returns a map of key-value pairs
func LoadDotEnv(envPath string) (map[string]string, error) {
	env := make(map[string]string)

	// Check if .env file exists
	if _, err := os.Stat(envPath); os.IsNotExist(err) {
		// .env file doesn't exist, return empty map (not an error)
		return env, nil
	}

	file, err := os.Open(envPath)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())

		// Skip empty lines and comments
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		line = strings.TrimPrefix(line, "export ")

		// Parse KEY=VALUE format
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}

		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])

		// Remove quotes if present
		value = strings.Trim(value, `"'`)

		env[key] = value
	}

	if err := scanner.Err(); err != nil {
		return nil, err
	}

	return env, nil
}

// ApplyDotEnvToServers fills stdio server environments from a .env file that
// sits next to the configuration file. Values set explicitly on a server win.
// Returns the number of variables that were applied.
func ApplyDotEnvToServers(cfg *Config, configPath string) (int, error) {
	if cfg == nil || configPath == "" {
		return 0, nil
	}

	envVars, err := LoadDotEnv(filepath.Join(filepath.Dir(configPath), ".env"))
	if err != nil {
		return 0, err
	}
	if len(envVars) == 0 {
		return 0, nil
	}

	applied := 0
	for _, server := range cfg.Servers {
		if server == nil || server.Transport.Type != types.TransportStdio {
			continue
		}
		if server.Transport.Env == nil {
			server.Transport.Env = make(map[string]string)
		}
		for key, value := range envVars {
			if _, exists := server.Transport.Env[key]; exists {
				continue
			}
			server.Transport.Env[key] = value
			applied++
		}
	}
	return applied, nil
}
