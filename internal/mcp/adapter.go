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
	"fmt"
	"io"
	"time"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"
)

// AdapterHandle is a live connection to one MCP server.
// Implementations are tracked in the AdapterRegistry for centralized teardown.
type AdapterHandle interface {
	// ServerName returns the name of the server this adapter is bound to.
	ServerName() string

	// Tools returns the tool definitions discovered at connection time.
	Tools() []ToolDefinition

	// CallTool executes a tool on the server.
	CallTool(ctx context.Context, req ToolCallRequest) (*ToolCallResponse, error)

	// Ping checks that the server is still responsive.
	Ping(ctx context.Context) error

	// Stop closes the connection and releases its resources.
	Stop(ctx context.Context) error
}

// AdapterParams configures a new adapter connection.
type AdapterParams struct {
	// ServerName is the unique identifier for this server.
	ServerName string

	// URL is the HTTP/SSE endpoint for remote servers.
	URL string

	// Command, Args and Env configure a stdio server subprocess.
	Command string
	Args    []string
	Env     []string

	// Headers are sent with every request on URL transports
	// (bearer tokens, OBO headers).
	Headers map[string]string

	// TimeoutSeconds is the per-call timeout (default 30).
	TimeoutSeconds int

	// MaxRetries is the number of retries for transport-level call failures.
	MaxRetries int

	// RateLimit caps tool calls per minute (0 = unlimited).
	RateLimit int
}

// ParamsFromServer builds adapter parameters from a server configuration
// and pre-resolved auth headers.
func ParamsFromServer(server ServerConfig, headers map[string]string) AdapterParams {
	return AdapterParams{
		ServerName:     server.Name,
		URL:            server.ServerURL,
		Command:        server.Command,
		Args:           server.Args,
		Env:            server.Env,
		Headers:        headers,
		TimeoutSeconds: server.TimeoutSeconds,
		MaxRetries:     server.MaxRetries,
		RateLimit:      server.RateLimit,
	}
}

// Adapter wraps an MCP server connection and provides methods to interact with it.
type Adapter struct {
	serverName string
	client     *client.Client
	timeout    time.Duration
	maxRetries int
	limiter    *rate.Limiter
	tools      []ToolDefinition
}

// NewAdapter creates a new adapter, connects it, initializes the MCP
// session, and discovers the server's tools.
func NewAdapter(ctx context.Context, params AdapterParams) (*Adapter, error) {
	if params.ServerName == "" {
		return nil, fmt.Errorf("server name is required")
	}

	tr, err := newTransport(params)
	if err != nil {
		return nil, ErrConnectionFailed(params.ServerName, err)
	}

	mcpClient := client.NewClient(tr)
	if err := mcpClient.Start(ctx); err != nil {
		return nil, ErrConnectionFailed(params.ServerName, err)
	}

	timeout := time.Duration(params.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = DefaultTimeoutSeconds * time.Second
	}

	a := &Adapter{
		serverName: params.ServerName,
		client:     mcpClient,
		timeout:    timeout,
		maxRetries: params.MaxRetries,
	}
	if params.RateLimit > 0 {
		a.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(params.RateLimit)), params.RateLimit)
	}

	if err := a.initialize(ctx); err != nil {
		_ = a.Stop(ctx)
		return nil, ErrConnectionFailed(params.ServerName, err)
	}

	return a, nil
}

// newTransport selects the transport for the given parameters: stdio when a
// command is configured, SSE for URLs.
func newTransport(params AdapterParams) (transport.Interface, error) {
	if params.Command != "" {
		return transport.NewStdio(params.Command, params.Env, params.Args...), nil
	}

	if params.URL != "" {
		var options []transport.ClientOption
		if len(params.Headers) > 0 {
			options = append(options, transport.WithHeaders(params.Headers))
		}
		return transport.NewSSE(params.URL, options...)
	}

	return nil, fmt.Errorf("no transport configuration: provide either command or url")
}

// initialize performs the MCP handshake and caches the server's tool list.
func (a *Adapter) initialize(ctx context.Context) error {
	initReq := mcp.InitializeRequest{
		Params: mcp.InitializeParams{
			ProtocolVersion: mcp.LATEST_PROTOCOL_VERSION,
			Capabilities:    mcp.ClientCapabilities{},
			ClientInfo: mcp.Implementation{
				Name:    "kasal",
				Version: "0.1.0",
			},
		},
	}

	result, err := a.client.Initialize(ctx, initReq)
	if err != nil {
		return fmt.Errorf("initialize request failed: %w", err)
	}

	if result.Capabilities.Tools == nil {
		a.tools = nil
		return nil
	}

	tools, err := a.listTools(ctx)
	if err != nil {
		return fmt.Errorf("failed to list tools: %w", err)
	}
	a.tools = tools

	return nil
}

// listTools fetches the server's tool definitions.
func (a *Adapter) listTools(ctx context.Context) ([]ToolDefinition, error) {
	result, err := a.client.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		return nil, err
	}

	tools := make([]ToolDefinition, len(result.Tools))
	for i, tool := range result.Tools {
		var schemaBytes []byte
		if len(tool.RawInputSchema) > 0 {
			schemaBytes = tool.RawInputSchema
		} else {
			schemaBytes, err = json.Marshal(tool.InputSchema)
			if err != nil {
				return nil, fmt.Errorf("failed to marshal input schema for %s: %w", tool.Name, err)
			}
		}

		tools[i] = ToolDefinition{
			Name:        tool.Name,
			Description: tool.Description,
			InputSchema: schemaBytes,
		}
	}

	return tools, nil
}

// ServerName returns the unique identifier for this server.
func (a *Adapter) ServerName() string {
	return a.serverName
}

// Tools returns the tool definitions discovered at connection time.
func (a *Adapter) Tools() []ToolDefinition {
	return a.tools
}

// CallTool executes an MCP tool with the given arguments, applying the
// configured rate limit, per-call timeout, and retry budget.
func (a *Adapter) CallTool(ctx context.Context, req ToolCallRequest) (*ToolCallResponse, error) {
	tracer := otel.Tracer("kasal/internal/mcp")
	ctx, span := tracer.Start(ctx, "mcp.call_tool",
		trace.WithAttributes(
			attribute.String("mcp.server", a.serverName),
			attribute.String("mcp.tool", req.Name),
		))
	defer span.End()

	if a.limiter != nil {
		if err := a.limiter.Wait(ctx); err != nil {
			span.SetStatus(codes.Error, err.Error())
			return nil, fmt.Errorf("rate limit wait failed: %w", err)
		}
	}

	var lastErr error
	for attempt := 0; attempt <= a.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(1<<uint(attempt-1)) * time.Second
			if backoff > 10*time.Second {
				backoff = 10 * time.Second
			}
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				span.SetStatus(codes.Error, ctx.Err().Error())
				return nil, ctx.Err()
			}
		}

		resp, err := a.callOnce(ctx, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		// Session lifecycle errors cannot heal by retrying on the
		// same connection; escalation is the wrapper's job.
		if isSessionLifecycleError(err) {
			break
		}
	}

	span.SetStatus(codes.Error, lastErr.Error())
	return nil, lastErr
}

// callOnce performs exactly one tool call with the per-call timeout applied.
func (a *Adapter) callOnce(ctx context.Context, req ToolCallRequest) (*ToolCallResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	mcpReq := mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      req.Name,
			Arguments: req.Arguments,
		},
	}

	result, err := a.client.CallTool(ctx, mcpReq)
	if err != nil {
		return nil, fmt.Errorf("tool call failed: %w", err)
	}

	response := &ToolCallResponse{
		IsError: result.IsError,
		Content: make([]ContentItem, len(result.Content)),
	}

	for i, content := range result.Content {
		item := ContentItem{}

		if textContent, ok := mcp.AsTextContent(content); ok {
			item.Type = textContent.Type
			item.Text = textContent.Text
		} else if imageContent, ok := mcp.AsImageContent(content); ok {
			item.Type = imageContent.Type
			item.Data = imageContent.Data
			item.MimeType = imageContent.MIMEType
		} else {
			// Fallback: marshal to JSON to extract fields.
			contentBytes, err := json.Marshal(content)
			if err != nil {
				return nil, fmt.Errorf("failed to marshal content: %w", err)
			}
			var contentMap map[string]interface{}
			if err := json.Unmarshal(contentBytes, &contentMap); err != nil {
				return nil, fmt.Errorf("failed to unmarshal content: %w", err)
			}

			if contentType, ok := contentMap["type"].(string); ok {
				item.Type = contentType
			}
			if text, ok := contentMap["text"].(string); ok {
				item.Text = text
			}
			if data, ok := contentMap["data"].(string); ok {
				item.Data = data
			}
			if mimeType, ok := contentMap["mimeType"].(string); ok {
				item.MimeType = mimeType
			}
		}

		response.Content[i] = item
	}

	return response, nil
}

// Ping checks if the server is still responsive.
func (a *Adapter) Ping(ctx context.Context) error {
	if err := a.client.Ping(ctx); err != nil {
		if err == io.EOF {
			return fmt.Errorf("server connection closed")
		}
		return fmt.Errorf("ping failed: %w", err)
	}

	return nil
}

// Stop closes the connection to the MCP server.
func (a *Adapter) Stop(ctx context.Context) error {
	if a.client == nil {
		return nil
	}

	if err := a.client.Close(); err != nil {
		return fmt.Errorf("failed to close MCP client: %w", err)
	}

	return nil
}
