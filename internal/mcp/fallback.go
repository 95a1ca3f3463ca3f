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
	"sync"
)

// RESTFallback executes a family of tools directly against a provider's REST
// API when the MCP transport is unavailable. Fallbacks are a last resort
// after direct and process-isolated execution have both failed.
type RESTFallback interface {
	// Matches reports whether this fallback can serve the named tool.
	Matches(toolName string) bool

	// Execute runs the tool against the REST API and returns its textual
	// result.
	Execute(ctx context.Context, toolName string, args map[string]interface{}) (string, error)
}

// FallbackRegistry holds the registered REST fallbacks in registration order.
type FallbackRegistry struct {
	mu        sync.RWMutex
	fallbacks []RESTFallback
}

// NewFallbackRegistry creates an empty fallback registry.
func NewFallbackRegistry() *FallbackRegistry {
	return &FallbackRegistry{}
}

// Register appends a fallback. Earlier registrations win when more than one
// matches a tool name.
func (r *FallbackRegistry) Register(f RESTFallback) {
	if f == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fallbacks = append(r.fallbacks, f)
}

// Find returns the first registered fallback matching the tool name, or nil.
func (r *FallbackRegistry) Find(toolName string) RESTFallback {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, f := range r.fallbacks {
		if f.Matches(toolName) {
			return f
		}
	}
	return nil
}
