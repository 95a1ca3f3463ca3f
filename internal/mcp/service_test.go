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
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const serviceFixture = `
servers:
  beta:
    name: beta
    server_url: https://beta.example.com
    enabled: true
    global: true
  alpha:
    name: alpha
    server_url: https://alpha.example.com
    enabled: true
    global: true
  disabled:
    name: disabled
    server_url: https://disabled.example.com
    enabled: false
    global: true
  local:
    name: local
    command: mcp-server
    enabled: true
settings:
  global_enabled: true
  individual_enabled: true
`

func newServiceFixture(t *testing.T) *FileServerService {
	t.Helper()
	path := filepath.Join(t.TempDir(), "mcp.yaml")
	require.NoError(t, os.WriteFile(path, []byte(serviceFixture), 0o600))

	service, err := NewFileServerService(path)
	require.NoError(t, err)
	return service
}

func TestFileServerServiceGlobalServersSortedAndFiltered(t *testing.T) {
	service := newServiceFixture(t)

	servers, err := service.GetGlobalServers(context.Background())
	require.NoError(t, err)

	require.Len(t, servers, 2)
	assert.Equal(t, "alpha", servers[0].Name)
	assert.Equal(t, "beta", servers[1].Name)
}

func TestFileServerServiceByNamesPreservesOrderSkipsUnknown(t *testing.T) {
	service := newServiceFixture(t)

	servers, err := service.GetServersByNames(context.Background(),
		[]string{"local", "nope", "disabled", "alpha"})
	require.NoError(t, err)

	require.Len(t, servers, 2)
	assert.Equal(t, "local", servers[0].Name)
	assert.Equal(t, "alpha", servers[1].Name)
}

func TestFileServerServiceSettings(t *testing.T) {
	service := newServiceFixture(t)

	settings, err := service.GetSettings(context.Background())
	require.NoError(t, err)
	assert.True(t, settings.GlobalEnabled)
	assert.True(t, settings.IndividualEnabled)
}

func TestFileServerServiceGetAndList(t *testing.T) {
	service := newServiceFixture(t)

	server, err := service.Get("local")
	require.NoError(t, err)
	assert.Equal(t, "mcp-server", server.Command)

	_, err = service.Get("missing")
	require.Error(t, err)

	assert.Equal(t, []string{"alpha", "beta", "disabled", "local"}, service.List())
}
