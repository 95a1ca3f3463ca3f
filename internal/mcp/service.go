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
	"sort"
	"sync"
)

// ServerService provides read access to MCP server configuration.
// The CRUD side of server management lives elsewhere; resolution only
// ever reads.
type ServerService interface {
	// GetGlobalServers returns the enabled servers of the global tier.
	GetGlobalServers(ctx context.Context) ([]ServerConfig, error)

	// GetServersByNames returns the enabled servers matching the given
	// names. Unknown names are skipped, not errors.
	GetServersByNames(ctx context.Context, names []string) ([]ServerConfig, error)

	// GetSettings returns the global MCP toggles.
	GetSettings(ctx context.Context) (Settings, error)
}

// FileServerService is a ServerService backed by the mcp.yaml
// configuration file.
type FileServerService struct {
	path string

	mu     sync.RWMutex
	config *GlobalConfig
}

// NewFileServerService loads the configuration file at path.
func NewFileServerService(path string) (*FileServerService, error) {
	config, err := LoadConfig(path)
	if err != nil {
		return nil, err
	}

	return &FileServerService{path: path, config: config}, nil
}

// GetGlobalServers returns the enabled global-tier servers, ordered by name
// so the effective-set position of a global server is stable across calls.
func (s *FileServerService) GetGlobalServers(ctx context.Context) ([]ServerConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var servers []ServerConfig
	for _, server := range s.config.Servers {
		if server.Global && server.Enabled {
			servers = append(servers, *server)
		}
	}

	sort.Slice(servers, func(i, j int) bool { return servers[i].Name < servers[j].Name })
	return servers, nil
}

// GetServersByNames returns the enabled servers matching names, in the
// order the names were given. Unknown or disabled servers are skipped.
func (s *FileServerService) GetServersByNames(ctx context.Context, names []string) ([]ServerConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	servers := make([]ServerConfig, 0, len(names))
	for _, name := range names {
		server, exists := s.config.Servers[name]
		if !exists || !server.Enabled {
			continue
		}
		servers = append(servers, *server)
	}

	return servers, nil
}

// GetSettings returns the global toggles from the configuration file.
func (s *FileServerService) GetSettings(ctx context.Context) (Settings, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.config.Settings, nil
}

// Reload re-reads the configuration file from disk.
func (s *FileServerService) Reload() error {
	config, err := LoadConfig(s.path)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.config = config
	s.mu.Unlock()
	return nil
}

// Get returns the configuration for a single server by name.
func (s *FileServerService) Get(name string) (ServerConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	server, exists := s.config.Servers[name]
	if !exists {
		return ServerConfig{}, ErrServerNotFound(name)
	}
	return *server, nil
}

// List returns the names of all configured servers, sorted.
func (s *FileServerService) List() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.config.Servers))
	for name := range s.config.Servers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
