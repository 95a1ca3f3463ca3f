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
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeAdapter is a scriptable AdapterHandle for registry and resolver tests.
type fakeAdapter struct {
	mu         sync.Mutex
	name       string
	tools      []ToolDefinition
	stopCalls  int
	stopErr    error
	pingErr    error
	callResult *ToolCallResponse
	callErr    error
	callCount  int
}

func (f *fakeAdapter) ServerName() string { return f.name }

func (f *fakeAdapter) Tools() []ToolDefinition { return f.tools }

func (f *fakeAdapter) CallTool(ctx context.Context, req ToolCallRequest) (*ToolCallResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.callCount++
	if f.callErr != nil {
		return nil, f.callErr
	}
	if f.callResult != nil {
		return f.callResult, nil
	}
	return &ToolCallResponse{Content: []ContentItem{{Type: "text", Text: "ok"}}}, nil
}

func (f *fakeAdapter) Ping(ctx context.Context) error { return f.pingErr }

func (f *fakeAdapter) Stop(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopCalls++
	return f.stopErr
}

func (f *fakeAdapter) stops() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stopCalls
}

func TestAdapterRegistryRegisterIsIdempotentPerID(t *testing.T) {
	registry := NewAdapterRegistry(nil, nil)

	first := &fakeAdapter{name: "serverA"}
	second := &fakeAdapter{name: "serverA"}

	registry.Register("serverA-agent-a1", first)
	registry.Register("serverA-agent-a1", second)

	assert.Equal(t, 1, registry.Count())

	got, ok := registry.Get("serverA-agent-a1")
	require.True(t, ok)
	assert.Same(t, second, got)

	registry.StopAll(context.Background())

	assert.Equal(t, 0, registry.Count())
	assert.Equal(t, 1, second.stops())
}

func TestAdapterRegistryStopAllTolerantOfFailures(t *testing.T) {
	registry := NewAdapterRegistry(nil, nil)

	adapters := []*fakeAdapter{
		{name: "a"},
		{name: "b", stopErr: errors.New("stop failed")},
		{name: "c"},
	}
	for _, adapter := range adapters {
		registry.Register(adapter.name+"-id", adapter)
	}

	registry.StopAll(context.Background())

	assert.Equal(t, 0, registry.Count())
	for _, adapter := range adapters {
		assert.Equal(t, 1, adapter.stops(), "adapter %s", adapter.name)
	}
}

func TestAdapterRegistryStopAllSyncClearsRegistry(t *testing.T) {
	registry := NewAdapterRegistry(nil, nil)
	adapter := &fakeAdapter{name: "a"}
	registry.Register("a-id", adapter)

	registry.StopAllSync()

	assert.Equal(t, 0, registry.Count())
	assert.Equal(t, 1, adapter.stops())
}

func TestAdapterRegistryGetOrCreateReusesLiveAdapter(t *testing.T) {
	created := 0
	live := &fakeAdapter{name: "serverA"}
	factory := func(ctx context.Context, params AdapterParams) (AdapterHandle, error) {
		created++
		return live, nil
	}

	registry := NewAdapterRegistry(factory, nil)
	params := AdapterParams{ServerName: "serverA"}

	first, err := registry.GetOrCreate(context.Background(), "id", params)
	require.NoError(t, err)
	second, err := registry.GetOrCreate(context.Background(), "id", params)
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, 1, created)
}

func TestAdapterRegistryGetOrCreateReplacesStaleAdapter(t *testing.T) {
	stale := &fakeAdapter{name: "serverA", pingErr: errors.New("connection closed")}
	fresh := &fakeAdapter{name: "serverA"}

	created := 0
	factory := func(ctx context.Context, params AdapterParams) (AdapterHandle, error) {
		created++
		return fresh, nil
	}

	registry := NewAdapterRegistry(factory, nil)
	registry.Register("id", stale)

	got, err := registry.GetOrCreate(context.Background(), "id", AdapterParams{ServerName: "serverA"})
	require.NoError(t, err)

	assert.Same(t, fresh, got)
	assert.Equal(t, 1, created)
	assert.Equal(t, 1, stale.stops())
}

func TestAdapterRegistryGetOrCreateFactoryError(t *testing.T) {
	factory := func(ctx context.Context, params AdapterParams) (AdapterHandle, error) {
		return nil, errors.New("dial failed")
	}

	registry := NewAdapterRegistry(factory, nil)

	_, err := registry.GetOrCreate(context.Background(), "id", AdapterParams{ServerName: "serverA"})
	require.Error(t, err)
	assert.Equal(t, 0, registry.Count())
}

func TestAdapterRegistryConcurrentRegisterAndStopAll(t *testing.T) {
	registry := NewAdapterRegistry(nil, nil)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			registry.Register(string(rune('a'+n)), &fakeAdapter{name: "s"})
		}(i)
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		registry.StopAll(context.Background())
	}()
	wg.Wait()

	registry.StopAll(context.Background())
	assert.Equal(t, 0, registry.Count())
}
