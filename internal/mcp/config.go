// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package mcp

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ServerNameRegex validates MCP server names.
// Names must start with a letter and contain only letters, numbers, hyphens, and underscores.
// Maximum length is 64 characters.
var ServerNameRegex = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_-]{0,63}$`)

// AuthType identifies how to authenticate against an MCP server.
type AuthType string

const (
	// AuthNone connects without credentials.
	AuthNone AuthType = "none"
	// AuthAPIKey sends the configured API key as a bearer token.
	AuthAPIKey AuthType = "api_key"
	// AuthDatabricksOBO exchanges the API key for on-behalf-of headers
	// before connecting.
	AuthDatabricksOBO AuthType = "databricks_obo"
)

// DefaultTimeoutSeconds is the default per-call timeout for a server.
const DefaultTimeoutSeconds = 30

// ServerConfig represents one configured MCP tool server.
type ServerConfig struct {
	// Name is the unique identifier for this server. It is the
	// de-duplication key across configuration tiers.
	Name string `yaml:"name" json:"name"`

	// ServerURL is the HTTP/SSE endpoint of the server.
	ServerURL string `yaml:"server_url,omitempty" json:"server_url,omitempty"`

	// Command, Args and Env configure a stdio server spawned as a
	// subprocess instead of a remote endpoint.
	Command string   `yaml:"command,omitempty" json:"command,omitempty"`
	Args    []string `yaml:"args,omitempty" json:"args,omitempty"`
	Env     []string `yaml:"env,omitempty" json:"env,omitempty"`

	// AuthType selects the authentication scheme (none, api_key, databricks_obo).
	AuthType AuthType `yaml:"auth_type,omitempty" json:"auth_type,omitempty"`

	// APIKey is the secret used by api_key and databricks_obo auth.
	APIKey string `yaml:"api_key,omitempty" json:"api_key,omitempty"`

	// TimeoutSeconds is the per-call timeout (default 30).
	TimeoutSeconds int `yaml:"timeout_seconds,omitempty" json:"timeout_seconds,omitempty"`

	// MaxRetries is the number of retries for a failed tool call.
	MaxRetries int `yaml:"max_retries,omitempty" json:"max_retries,omitempty"`

	// RateLimit caps tool calls per minute (0 = unlimited).
	RateLimit int `yaml:"rate_limit,omitempty" json:"rate_limit,omitempty"`

	// Enabled gates whether this server participates in resolution.
	Enabled bool `yaml:"enabled" json:"enabled"`

	// Global marks this server as part of the global tier, available to
	// every agent and task when the global toggle is on.
	Global bool `yaml:"global,omitempty" json:"global,omitempty"`
}

// Validate checks the server configuration for structural problems.
func (c *ServerConfig) Validate() error {
	if !ServerNameRegex.MatchString(c.Name) {
		return ErrInvalidServerName(c.Name)
	}

	if c.ServerURL == "" && c.Command == "" {
		return ErrInvalidConfig(fmt.Sprintf("server '%s' needs either server_url or command", c.Name))
	}

	if c.ServerURL != "" && !strings.HasPrefix(c.ServerURL, "http://") && !strings.HasPrefix(c.ServerURL, "https://") {
		return ErrInvalidConfig(fmt.Sprintf("server '%s' has a non-HTTP server_url: %s", c.Name, c.ServerURL))
	}

	switch c.AuthType {
	case "", AuthNone:
	case AuthAPIKey, AuthDatabricksOBO:
		if c.APIKey == "" {
			return ErrInvalidConfig(fmt.Sprintf("server '%s' uses %s auth but has no api_key", c.Name, c.AuthType))
		}
	default:
		return ErrInvalidConfig(fmt.Sprintf("server '%s' has unknown auth_type: %s", c.Name, c.AuthType))
	}

	if c.TimeoutSeconds < 0 {
		return ErrInvalidConfig(fmt.Sprintf("server '%s' has negative timeout_seconds", c.Name))
	}
	if c.MaxRetries < 0 {
		return ErrInvalidConfig(fmt.Sprintf("server '%s' has negative max_retries", c.Name))
	}
	if c.RateLimit < 0 {
		return ErrInvalidConfig(fmt.Sprintf("server '%s' has negative rate_limit", c.Name))
	}

	return nil
}

// Timeout returns the per-call timeout as a duration.
func (c *ServerConfig) Timeout() time.Duration {
	if c.TimeoutSeconds <= 0 {
		return DefaultTimeoutSeconds * time.Second
	}
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// Settings holds the global MCP toggles.
type Settings struct {
	// GlobalEnabled exposes the global server tier to every agent and task.
	GlobalEnabled bool `yaml:"global_enabled" json:"global_enabled"`

	// IndividualEnabled allows agent- and task-level server selections.
	IndividualEnabled bool `yaml:"individual_enabled" json:"individual_enabled"`
}

// DefaultSettings errs toward not exposing global tools: if the settings
// store is unreadable, resolution must not silently widen access.
func DefaultSettings() Settings {
	return Settings{GlobalEnabled: false, IndividualEnabled: true}
}

// GlobalConfig represents the MCP configuration file.
// Stored at ~/.config/kasal/mcp.yaml by default.
type GlobalConfig struct {
	// Servers is a map of server name to configuration.
	Servers map[string]*ServerConfig `yaml:"servers,omitempty"`

	// Settings holds the global toggles.
	Settings Settings `yaml:"settings"`
}

// Validate checks each server entry and ensures names are consistent.
func (c *GlobalConfig) Validate() error {
	for name, server := range c.Servers {
		if server == nil {
			return ErrInvalidConfig(fmt.Sprintf("server '%s' has an empty entry", name))
		}
		if server.Name == "" {
			server.Name = name
		}
		if server.Name != name {
			return ErrInvalidConfig(fmt.Sprintf("server entry '%s' declares mismatched name '%s'", name, server.Name))
		}
		if err := server.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// DefaultConfigPath returns the MCP configuration file path.
// Honors KASAL_CONFIG_DIR, falling back to ~/.config/kasal.
func DefaultConfigPath() (string, error) {
	if dir := os.Getenv("KASAL_CONFIG_DIR"); dir != "" {
		return filepath.Join(dir, "mcp.yaml"), nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to determine home directory: %w", err)
	}
	return filepath.Join(home, ".config", "kasal", "mcp.yaml"), nil
}

// LoadConfig reads and validates the configuration file at path.
// A missing file yields an empty configuration, not an error.
func LoadConfig(path string) (*GlobalConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &GlobalConfig{
				Servers:  make(map[string]*ServerConfig),
				Settings: DefaultSettings(),
			}, nil
		}
		return nil, fmt.Errorf("failed to read MCP config: %w", err)
	}

	config := &GlobalConfig{Settings: DefaultSettings()}
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, ErrInvalidConfig(err.Error())
	}
	if config.Servers == nil {
		config.Servers = make(map[string]*ServerConfig)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// SaveConfig writes the configuration file to path, creating parent
// directories as needed.
func SaveConfig(path string, config *GlobalConfig) error {
	if err := config.Validate(); err != nil {
		return err
	}

	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal MCP config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	return os.WriteFile(path, data, 0o600)
}
