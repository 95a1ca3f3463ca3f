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
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServerConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		config  ServerConfig
		wantErr bool
	}{
		{
			name:   "valid url server",
			config: ServerConfig{Name: "serverA", ServerURL: "https://example.com/mcp"},
		},
		{
			name:   "valid stdio server",
			config: ServerConfig{Name: "local", Command: "mcp-server", Args: []string{"--flag"}},
		},
		{
			name:    "empty name",
			config:  ServerConfig{ServerURL: "https://example.com"},
			wantErr: true,
		},
		{
			name:    "invalid name characters",
			config:  ServerConfig{Name: "bad name!", ServerURL: "https://example.com"},
			wantErr: true,
		},
		{
			name:    "name starting with digit",
			config:  ServerConfig{Name: "1server", ServerURL: "https://example.com"},
			wantErr: true,
		},
		{
			name:    "no transport",
			config:  ServerConfig{Name: "serverA"},
			wantErr: true,
		},
		{
			name: "api_key auth without key",
			config: ServerConfig{
				Name: "serverA", ServerURL: "https://example.com",
				AuthType: AuthAPIKey,
			},
			wantErr: true,
		},
		{
			name: "api_key auth with key",
			config: ServerConfig{
				Name: "serverA", ServerURL: "https://example.com",
				AuthType: AuthAPIKey, APIKey: "secret",
			},
		},
		{
			name: "unknown auth type",
			config: ServerConfig{
				Name: "serverA", ServerURL: "https://example.com",
				AuthType: "kerberos",
			},
			wantErr: true,
		},
		{
			name: "negative timeout",
			config: ServerConfig{
				Name: "serverA", ServerURL: "https://example.com",
				TimeoutSeconds: -1,
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestServerConfigTimeoutDefault(t *testing.T) {
	zero := ServerConfig{}
	five := ServerConfig{TimeoutSeconds: 5}
	assert.Equal(t, DefaultTimeoutSeconds*time.Second, zero.Timeout())
	assert.Equal(t, 5*time.Second, five.Timeout())
}

func TestDefaultSettingsFailClosed(t *testing.T) {
	settings := DefaultSettings()
	assert.False(t, settings.GlobalEnabled)
	assert.True(t, settings.IndividualEnabled)
}

func TestConfigSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mcp.yaml")

	cfg := &GlobalConfig{
		Servers: map[string]*ServerConfig{
			"serverA": {
				Name:           "serverA",
				ServerURL:      "https://example.com/mcp",
				AuthType:       AuthAPIKey,
				APIKey:         "secret",
				TimeoutSeconds: 10,
				MaxRetries:     2,
				RateLimit:      60,
				Enabled:        true,
				Global:         true,
			},
		},
		Settings: Settings{GlobalEnabled: true, IndividualEnabled: true},
	}

	require.NoError(t, SaveConfig(path, cfg))

	loaded, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, cfg.Servers, loaded.Servers)
	assert.Equal(t, cfg.Settings, loaded.Settings)
}

func TestLoadConfigMissingFileIsEmpty(t *testing.T) {
	loaded, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Empty(t, loaded.Servers)
}
