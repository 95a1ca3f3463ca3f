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
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/murtihash94/kasal/internal/log"
	"github.com/murtihash94/kasal/pkg/tools"
)

// toolErrorPrefix marks a textual tool result as a failure. The agent
// engine treats every string return as tool output, so failures surface
// through this prefix rather than through error returns.
const toolErrorPrefix = "Error executing tool: "

// RunFunc is the underlying execution entrypoint of a remote tool.
type RunFunc func(ctx context.Context, args map[string]interface{}) (string, error)

// FieldSpec describes one input field of a tool, preserving the order in
// which the server declared it.
type FieldSpec struct {
	Name        string
	Type        string
	Required    bool
	Description string
}

// IsolatedRunner executes one tool call out of process. Satisfied by
// IsolatedExecutor; substitutable in tests.
type IsolatedRunner interface {
	Execute(ctx context.Context, req IsolatedRequest) (interface{}, error)
}

// ServerTool adapts one remote MCP tool to the local tool contract, adding
// the resilience ladder: direct call, then process-isolated execution on
// session lifecycle failures, then a REST fallback for tool families that
// have one.
type ServerTool struct {
	name        string
	rawName     string
	description string
	specs       []FieldSpec
	schema      *tools.Schema
	run         RunFunc

	server    ServerConfig
	headers   map[string]string
	isolated  IsolatedRunner
	fallbacks *FallbackRegistry
	logger    *slog.Logger
}

// ServerToolOptions carries the optional collaborators for a wrapped tool.
type ServerToolOptions struct {
	// Headers are the resolved auth headers, forwarded to the isolated
	// executor so the child process can authenticate on its own.
	Headers map[string]string

	// Isolated enables the process-isolated escalation path.
	Isolated IsolatedRunner

	// Fallbacks enables the REST escalation path for matching tools.
	Fallbacks *FallbackRegistry

	// Logger overrides the default logger.
	Logger *slog.Logger
}

// NewServerTool wraps a remote tool definition. The run entrypoint is
// mandatory: a tool without one cannot be executed and indicates a
// registration bug, so wrapping fails loudly rather than producing a tool
// that errors on every call.
func NewServerTool(server ServerConfig, def ToolDefinition, run RunFunc, opts ServerToolOptions) (*ServerTool, error) {
	if run == nil {
		return nil, ErrMissingEntrypoint(def.Name)
	}
	if def.Name == "" {
		return nil, ErrInvalidConfig("tool definition has no name")
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.New(log.DefaultConfig())
	}

	specs := parseFieldSpecs(def.InputSchema)

	t := &ServerTool{
		name:        prefixToolName(server.Name, def.Name),
		rawName:     def.Name,
		description: def.Description,
		specs:       specs,
		schema:      schemaFromSpecs(specs),
		run:         run,
		server:      server,
		headers:     opts.Headers,
		isolated:    opts.Isolated,
		fallbacks:   opts.Fallbacks,
		logger:      log.WithServer(log.WithComponent(logger, "mcp-tool"), server.Name),
	}
	return t, nil
}

// prefixToolName namespaces a tool name with its server so that tools with
// the same base name on different servers cannot collide. Names that already
// carry the prefix are left alone.
func prefixToolName(serverName, toolName string) string {
	if serverName == "" {
		return toolName
	}
	prefix := serverName + "_"
	if strings.HasPrefix(toolName, prefix) {
		return toolName
	}
	return prefix + toolName
}

// Name implements tools.Tool.
func (t *ServerTool) Name() string {
	return t.name
}

// Description implements tools.Tool.
func (t *ServerTool) Description() string {
	return t.description
}

// Schema implements tools.Tool.
func (t *ServerTool) Schema() *tools.Schema {
	return t.schema
}

// Execute implements tools.Tool. It never returns a non-nil error: every
// failure, including argument validation, becomes a textual result under
// the "result" key so the agent's reasoning loop keeps running.
func (t *ServerTool) Execute(ctx context.Context, inputs map[string]interface{}) (map[string]interface{}, error) {
	executionID := uuid.NewString()
	logger := t.logger.With(log.ToolKey, t.name, log.ExecutionIDKey, executionID)
	start := time.Now()

	if err := validateArgs(t.specs, inputs); err != nil {
		logger.Warn("argument validation failed", log.Error(err))
		return map[string]interface{}{"result": toolErrorPrefix + err.Error()}, nil
	}

	out := t.executeResilient(ctx, logger, inputs)

	logger.Debug("tool execution finished",
		log.DurationKey, time.Since(start).Milliseconds(),
		"failed", strings.HasPrefix(out, toolErrorPrefix))
	return map[string]interface{}{"result": out}, nil
}

// executeResilient walks the escalation ladder: direct execution first,
// process isolation on session lifecycle failures, and finally the REST
// fallback for tools that have one.
func (t *ServerTool) executeResilient(ctx context.Context, logger *slog.Logger, args map[string]interface{}) string {
	out, err := t.run(ctx, args)
	if err == nil {
		toolExecutions.WithLabelValues(t.server.Name, pathDirect, outcomeSuccess).Inc()
		return out
	}
	toolExecutions.WithLabelValues(t.server.Name, pathDirect, outcomeError).Inc()

	failed := toolErrorPrefix + err.Error()

	if isSessionLifecycleError(err) && t.isolated != nil {
		logger.Warn("session lifecycle failure, retrying in isolated process", log.Error(err))

		result, isoErr := t.isolated.Execute(ctx, IsolatedRequest{
			Server:    t.server,
			Headers:   t.headers,
			Tool:      t.rawName,
			Arguments: args,
		})
		if isoErr == nil {
			rendered := renderResult(result)
			if !strings.HasPrefix(rendered, toolErrorPrefix) {
				toolExecutions.WithLabelValues(t.server.Name, pathIsolated, outcomeSuccess).Inc()
				return rendered
			}
			failed = rendered
		} else {
			logger.Warn("isolated execution failed", log.Error(isoErr))
			failed = toolErrorPrefix + isoErr.Error()
		}
		toolExecutions.WithLabelValues(t.server.Name, pathIsolated, outcomeError).Inc()
	}

	if t.fallbacks != nil {
		if fb := t.fallbacks.Find(t.rawName); fb != nil {
			logger.Warn("attempting REST fallback", log.Error(err))
			out, fbErr := fb.Execute(ctx, t.rawName, args)
			if fbErr == nil {
				toolExecutions.WithLabelValues(t.server.Name, pathFallback, outcomeSuccess).Inc()
				return out
			}
			logger.Warn("REST fallback failed", log.Error(fbErr))
			toolExecutions.WithLabelValues(t.server.Name, pathFallback, outcomeError).Inc()
			failed = toolErrorPrefix + fbErr.Error()
		}
	}

	return failed
}

// renderResult flattens an isolated execution result to text. Strings pass
// through unchanged; structured values are JSON-encoded.
func renderResult(result interface{}) string {
	switch v := result.(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		encoded, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(encoded)
	}
}

// sessionLifecycleMarkers are error-text fragments that indicate the MCP
// session or its transport has died, as opposed to the tool itself failing.
// These failures cannot heal on the same connection and justify escalating
// to an isolated process with a fresh session.
var sessionLifecycleMarkers = []string{
	"connection closed",
	"connection reset",
	"transport closed",
	"session closed",
	"session terminated",
	"session not initialized",
	"client not started",
	"use of closed network connection",
	"broken pipe",
	"eof",
}

// isSessionLifecycleError reports whether the error indicates a dead
// session or transport rather than a tool-level failure.
func isSessionLifecycleError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range sessionLifecycleMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// parseFieldSpecs extracts ordered field specifications from a JSON schema.
// Property order is taken from the document itself, since Go maps would
// scramble it. An empty or unparseable schema yields a single generic
// string field so the tool remains callable.
func parseFieldSpecs(schema json.RawMessage) []FieldSpec {
	fallback := []FieldSpec{{
		Name:        "input",
		Type:        "string",
		Description: "Input for the tool",
	}}

	if len(schema) == 0 {
		return fallback
	}

	var doc struct {
		Properties json.RawMessage `json:"properties"`
		Required   []string        `json:"required"`
	}
	if err := json.Unmarshal(schema, &doc); err != nil || len(doc.Properties) == 0 {
		return fallback
	}

	required := make(map[string]bool, len(doc.Required))
	for _, name := range doc.Required {
		required[name] = true
	}

	specs, err := decodeOrderedProperties(doc.Properties, required)
	if err != nil || len(specs) == 0 {
		return fallback
	}
	return specs
}

// decodeOrderedProperties walks the properties object token by token so the
// declaration order survives decoding.
func decodeOrderedProperties(properties json.RawMessage, required map[string]bool) ([]FieldSpec, error) {
	dec := json.NewDecoder(strings.NewReader(string(properties)))

	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, fmt.Errorf("properties is not an object")
	}

	var specs []FieldSpec
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		name, ok := keyTok.(string)
		if !ok {
			return nil, fmt.Errorf("unexpected token in properties")
		}

		var prop struct {
			Type        string `json:"type"`
			Description string `json:"description"`
		}
		if err := dec.Decode(&prop); err != nil {
			return nil, err
		}

		fieldType := prop.Type
		if fieldType == "" {
			fieldType = "string"
		}

		specs = append(specs, FieldSpec{
			Name:        name,
			Type:        fieldType,
			Required:    required[name],
			Description: prop.Description,
		})
	}

	return specs, nil
}

// schemaFromSpecs builds the local tool schema from ordered field specs.
func schemaFromSpecs(specs []FieldSpec) *tools.Schema {
	props := make(map[string]*tools.Property, len(specs))
	var requiredNames []string
	for _, spec := range specs {
		props[spec.Name] = &tools.Property{
			Type:        spec.Type,
			Description: spec.Description,
		}
		if spec.Required {
			requiredNames = append(requiredNames, spec.Name)
		}
	}
	return &tools.Schema{
		Inputs: &tools.ParameterSchema{
			Type:       "object",
			Properties: props,
			Required:   requiredNames,
		},
	}
}

// validateArgs checks required fields and, loosely, the JSON types of the
// supplied values. Unknown extra arguments are tolerated.
func validateArgs(specs []FieldSpec, args map[string]interface{}) error {
	for _, spec := range specs {
		value, present := args[spec.Name]
		if !present {
			if spec.Required {
				return fmt.Errorf("missing required argument %q", spec.Name)
			}
			continue
		}
		if value == nil {
			continue
		}
		if !matchesJSONType(spec.Type, value) {
			return fmt.Errorf("argument %q should be of type %s", spec.Name, spec.Type)
		}
	}
	return nil
}

// matchesJSONType loosely checks a Go value against a JSON schema type tag.
func matchesJSONType(jsonType string, value interface{}) bool {
	switch jsonType {
	case "string":
		_, ok := value.(string)
		return ok
	case "number":
		switch value.(type) {
		case float64, float32, int, int32, int64, json.Number:
			return true
		}
		return false
	case "integer":
		switch v := value.(type) {
		case int, int32, int64:
			return true
		case float64:
			return v == float64(int64(v))
		case json.Number:
			_, err := v.Int64()
			return err == nil
		}
		return false
	case "boolean":
		_, ok := value.(bool)
		return ok
	case "array":
		_, ok := value.([]interface{})
		return ok
	case "object":
		_, ok := value.(map[string]interface{})
		return ok
	default:
		return true
	}
}
