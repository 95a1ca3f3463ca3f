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
	"fmt"
	"log/slog"

	"github.com/murtihash94/kasal/internal/log"
	"github.com/murtihash94/kasal/pkg/tools"
)

// serverListKey is the configuration key under which agent and task tool
// configurations carry their MCP server lists.
const serverListKey = "MCP_SERVERS"

// Integration resolves the effective MCP servers for agents and tasks and
// turns their tools into wrapped local tools. Resolution is layered: the
// global server list is combined with each entity's explicit list, with
// de-duplication by server name.
//
// Every operation degrades instead of failing: an unreadable configuration
// or a broken server yields fewer tools, never an aborted crew assembly.
type Integration struct {
	service   ServerService
	registry  *AdapterRegistry
	auth      AuthProvider
	isolated  IsolatedRunner
	fallbacks *FallbackRegistry
	logger    *slog.Logger
}

// IntegrationOptions carries the optional collaborators for an Integration.
type IntegrationOptions struct {
	// Isolated enables the process-isolated escalation path on wrapped
	// tools.
	Isolated IsolatedRunner

	// Fallbacks enables REST fallbacks on wrapped tools.
	Fallbacks *FallbackRegistry

	// Logger overrides the default logger.
	Logger *slog.Logger
}

// NewIntegration creates a resolution engine over the given server service
// and adapter registry. A nil auth provider defaults to static auth.
func NewIntegration(service ServerService, registry *AdapterRegistry, auth AuthProvider, opts IntegrationOptions) *Integration {
	if auth == nil {
		auth = StaticAuthProvider{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.New(log.DefaultConfig())
	}
	return &Integration{
		service:   service,
		registry:  registry,
		auth:      auth,
		isolated:  opts.Isolated,
		fallbacks: opts.Fallbacks,
		logger:    log.WithComponent(logger, "mcp-integration"),
	}
}

// Settings returns the global toggle state. An unreadable configuration
// yields the fail-closed defaults so global tools are not exposed by
// accident.
func (i *Integration) Settings(ctx context.Context) Settings {
	settings, err := i.service.GetSettings(ctx)
	if err != nil {
		i.logger.Warn("failed to read MCP settings, using defaults", log.Error(err))
		return DefaultSettings()
	}
	return settings
}

// ResolveEffectiveServers computes the effective server list for an entity:
// the global servers (when includeGlobal is set) followed by the explicitly
// named ones, de-duplicated by name with first-seen winning. Upstream fetch
// failures degrade to an empty or partial list, never an error.
func (i *Integration) ResolveEffectiveServers(ctx context.Context, explicitNames []string, includeGlobal bool) []ServerConfig {
	var effective []ServerConfig
	seen := make(map[string]bool)

	if includeGlobal {
		global, err := i.service.GetGlobalServers(ctx)
		if err != nil {
			i.logger.Warn("failed to fetch global servers", log.Error(err))
		} else {
			for _, server := range global {
				if server.Name == "" || seen[server.Name] {
					continue
				}
				seen[server.Name] = true
				effective = append(effective, server)
			}
		}
	}

	if len(explicitNames) > 0 {
		explicit, err := i.service.GetServersByNames(ctx, explicitNames)
		if err != nil {
			i.logger.Warn("failed to fetch explicit servers",
				"names", explicitNames, log.Error(err))
		} else {
			for _, server := range explicit {
				if server.Name == "" || seen[server.Name] {
					continue
				}
				seen[server.Name] = true
				effective = append(effective, server)
			}
		}
	}

	return effective
}

// CollectAgentRequirements walks every task in a crew configuration and
// accumulates, per agent, the server names its tasks ask for. Agent
// references are resolved by id, then name, then role; an unresolvable
// reference is kept verbatim as the key.
func (i *Integration) CollectAgentRequirements(config map[string]interface{}) map[string][]string {
	requirements := make(map[string][]string)
	seen := make(map[string]map[string]bool)

	tasks, _ := config["tasks"].(map[string]interface{})
	agents, _ := config["agents"].(map[string]interface{})

	for _, raw := range tasks {
		task, ok := raw.(map[string]interface{})
		if !ok {
			continue
		}

		agentRef := stringArg(task, "agent_id", "agent")
		if agentRef == "" {
			continue
		}

		toolConfigs, _ := task["tool_configs"].(map[string]interface{})
		names := i.ExtractServerNames(toolConfigs)
		if len(names) == 0 {
			continue
		}

		agentKey := resolveAgentRef(agents, agentRef)
		if seen[agentKey] == nil {
			seen[agentKey] = make(map[string]bool)
		}
		for _, name := range names {
			if seen[agentKey][name] {
				continue
			}
			seen[agentKey][name] = true
			requirements[agentKey] = append(requirements[agentKey], name)
		}
	}

	return requirements
}

// resolveAgentRef matches a task's agent reference against the agents map
// by id, then name, then role, returning the matched agent's id. The raw
// reference is returned when nothing matches.
func resolveAgentRef(agents map[string]interface{}, ref string) string {
	for _, field := range []string{"id", "name", "role"} {
		for key, raw := range agents {
			agent, ok := raw.(map[string]interface{})
			if !ok {
				continue
			}
			v, ok := agent[field].(string)
			if !ok || v != ref {
				continue
			}
			if id, ok := agent["id"].(string); ok && id != "" {
				return id
			}
			return key
		}
	}
	return ref
}

// CreateToolsForAgent builds the wrapped tools for one agent: its explicit
// servers plus the global ones when the global toggle is enabled.
func (i *Integration) CreateToolsForAgent(ctx context.Context, agentConfig map[string]interface{}, agentKey string) []tools.Tool {
	return i.createToolsFor(ctx, agentConfig, "agent", agentKey)
}

// CreateToolsForTask builds the wrapped tools for one task.
func (i *Integration) CreateToolsForTask(ctx context.Context, taskConfig map[string]interface{}, taskKey string) []tools.Tool {
	return i.createToolsFor(ctx, taskConfig, "task", taskKey)
}

func (i *Integration) createToolsFor(ctx context.Context, config map[string]interface{}, kind, key string) []tools.Tool {
	toolConfigs, _ := config["tool_configs"].(map[string]interface{})
	explicit := i.ExtractServerNames(toolConfigs)

	settings := i.Settings(ctx)
	if !settings.IndividualEnabled {
		explicit = nil
	}
	servers := i.ResolveEffectiveServers(ctx, explicit, settings.GlobalEnabled)
	if len(servers) == 0 {
		return nil
	}

	var wrapped []tools.Tool
	for _, server := range servers {
		serverTools, err := i.createServerTools(ctx, server, kind, key)
		if err != nil {
			// One bad server must not block the others.
			i.logger.Warn("excluding server from tool set",
				log.ServerKey, server.Name, "kind", kind, "key", key, log.Error(err))
			continue
		}
		wrapped = append(wrapped, serverTools...)
	}
	return wrapped
}

// createServerTools connects one server and wraps all of its tools.
func (i *Integration) createServerTools(ctx context.Context, server ServerConfig, kind, key string) ([]tools.Tool, error) {
	headers, err := i.auth.Headers(ctx, server)
	if err != nil {
		return nil, err
	}

	adapterID := fmt.Sprintf("%s-%s-%s", server.Name, kind, key)
	adapter, err := i.registry.GetOrCreate(ctx, adapterID, ParamsFromServer(server, headers))
	if err != nil {
		return nil, err
	}

	defs := adapter.Tools()
	wrapped := make([]tools.Tool, 0, len(defs))
	for _, def := range defs {
		run := runFuncFor(adapter, def.Name)
		tool, err := NewServerTool(server, def, run, ServerToolOptions{
			Headers:   headers,
			Isolated:  i.isolated,
			Fallbacks: i.fallbacks,
			Logger:    i.logger,
		})
		if err != nil {
			i.logger.Warn("skipping unwrappable tool",
				log.ServerKey, server.Name, log.ToolKey, def.Name, log.Error(err))
			continue
		}
		wrapped = append(wrapped, tool)
	}
	return wrapped, nil
}

// runFuncFor binds a tool name to its adapter as a direct execution
// entrypoint.
func runFuncFor(adapter AdapterHandle, toolName string) RunFunc {
	return func(ctx context.Context, args map[string]interface{}) (string, error) {
		resp, err := adapter.CallTool(ctx, ToolCallRequest{Name: toolName, Arguments: args})
		if err != nil {
			return "", err
		}
		if resp.IsError {
			return "", errors.New(resp.ErrorText())
		}
		return resp.Text(), nil
	}
}

// ExtractServerNames reads the MCP_SERVERS key of a tool configuration.
// Two shapes are accepted: a mapping with a "servers" list, and a bare
// list. Anything else yields an empty result.
func (i *Integration) ExtractServerNames(toolConfigs map[string]interface{}) []string {
	if toolConfigs == nil {
		return nil
	}

	raw, ok := toolConfigs[serverListKey]
	if !ok {
		return nil
	}

	var list []interface{}
	switch v := raw.(type) {
	case map[string]interface{}:
		list, _ = v["servers"].([]interface{})
	case []interface{}:
		list = v
	default:
		return nil
	}

	var names []string
	seen := make(map[string]bool)
	for _, item := range list {
		name, ok := item.(string)
		if !ok || name == "" || seen[name] {
			continue
		}
		seen[name] = true
		names = append(names, name)
	}
	return names
}

// ValidateConfiguration performs a structural sanity check on a crew
// configuration before resolution. Malformed shapes return false rather
// than failing later with a type panic.
func (i *Integration) ValidateConfiguration(config map[string]interface{}) bool {
	if config == nil {
		return false
	}

	for _, section := range []string{"agents", "tasks"} {
		raw, ok := config[section]
		if !ok {
			continue
		}
		entries, ok := raw.(map[string]interface{})
		if !ok {
			return false
		}
		for _, entry := range entries {
			m, ok := entry.(map[string]interface{})
			if !ok {
				return false
			}
			if tc, present := m["tool_configs"]; present {
				if _, ok := tc.(map[string]interface{}); !ok {
					return false
				}
			}
		}
	}
	return true
}
