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
	"log/slog"
	"sync"
	"time"

	"github.com/murtihash94/kasal/internal/log"
)

// AdapterFactory builds a live adapter from connection parameters.
// The registry uses it so tests can substitute fakes for real connections.
type AdapterFactory func(ctx context.Context, params AdapterParams) (AdapterHandle, error)

// AdapterRegistry tracks every live MCP adapter so that all of them can be
// torn down in one place when an execution finishes.
type AdapterRegistry struct {
	mu       sync.Mutex
	adapters map[string]AdapterHandle
	factory  AdapterFactory
	logger   *slog.Logger
}

// NewAdapterRegistry creates an empty registry. A nil factory defaults to
// dialing real MCP servers via NewAdapter.
func NewAdapterRegistry(factory AdapterFactory, logger *slog.Logger) *AdapterRegistry {
	if factory == nil {
		factory = func(ctx context.Context, params AdapterParams) (AdapterHandle, error) {
			return NewAdapter(ctx, params)
		}
	}
	if logger == nil {
		logger = log.New(log.DefaultConfig())
	}
	return &AdapterRegistry{
		adapters: make(map[string]AdapterHandle),
		factory:  factory,
		logger:   log.WithComponent(logger, "mcp-registry"),
	}
}

// Register records an adapter under the given id. Registering the same id
// twice replaces the previous entry without stopping it; callers that reuse
// ids are expected to stop the old adapter themselves or rely on GetOrCreate.
func (r *AdapterRegistry) Register(id string, adapter AdapterHandle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[id] = adapter
}

// Get returns the adapter registered under id, if any.
func (r *AdapterRegistry) Get(id string) (AdapterHandle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	adapter, ok := r.adapters[id]
	return adapter, ok
}

// GetOrCreate returns the adapter registered under id if it is still
// responsive, otherwise connects a new one and registers it. A stale adapter
// that fails its ping is stopped and replaced.
func (r *AdapterRegistry) GetOrCreate(ctx context.Context, id string, params AdapterParams) (AdapterHandle, error) {
	r.mu.Lock()
	existing, ok := r.adapters[id]
	r.mu.Unlock()

	if ok {
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := existing.Ping(pingCtx)
		cancel()
		if err == nil {
			return existing, nil
		}
		r.logger.Warn("cached adapter unresponsive, reconnecting",
			"adapter_id", id, log.Error(err))
		if stopErr := existing.Stop(ctx); stopErr != nil {
			r.logger.Warn("failed to stop stale adapter",
				"adapter_id", id, log.Error(stopErr))
		}
	}

	adapter, err := r.factory(ctx, params)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.adapters[id] = adapter
	r.mu.Unlock()

	r.logger.Debug("adapter registered", "adapter_id", id,
		log.ServerKey, params.ServerName)
	return adapter, nil
}

// Count returns the number of registered adapters.
func (r *AdapterRegistry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.adapters)
}

// StopAll stops every registered adapter and clears the registry. A failure
// to stop one adapter is logged and does not prevent the others from being
// stopped; the registry is empty when StopAll returns regardless of errors.
func (r *AdapterRegistry) StopAll(ctx context.Context) {
	r.mu.Lock()
	snapshot := make(map[string]AdapterHandle, len(r.adapters))
	for id, adapter := range r.adapters {
		snapshot[id] = adapter
	}
	r.adapters = make(map[string]AdapterHandle)
	r.mu.Unlock()

	for id, adapter := range snapshot {
		if err := adapter.Stop(ctx); err != nil {
			r.logger.Warn("failed to stop adapter", "adapter_id", id, log.Error(err))
			continue
		}
		r.logger.Debug("adapter stopped", "adapter_id", id)
	}
}

// StopAllSync stops every adapter with a bounded background context. Intended
// for teardown paths that have no context of their own.
func (r *AdapterRegistry) StopAllSync() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	r.StopAll(ctx)
}
