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
	"strings"
)

// MCPErrorCode represents a category of MCP error.
type MCPErrorCode string

const (
	// ErrorCodeNotFound indicates a server was not found.
	ErrorCodeNotFound MCPErrorCode = "NOT_FOUND"
	// ErrorCodeValidation indicates a validation error.
	ErrorCodeValidation MCPErrorCode = "VALIDATION"
	// ErrorCodeConfig indicates a configuration error.
	ErrorCodeConfig MCPErrorCode = "CONFIG"
	// ErrorCodeConnection indicates the server connection failed or closed.
	ErrorCodeConnection MCPErrorCode = "CONNECTION"
	// ErrorCodeAuth indicates an authentication failure.
	ErrorCodeAuth MCPErrorCode = "AUTH"
	// ErrorCodeTimeout indicates a timeout occurred.
	ErrorCodeTimeout MCPErrorCode = "TIMEOUT"
	// ErrorCodeContract indicates a programming error in tool registration.
	ErrorCodeContract MCPErrorCode = "CONTRACT"
)

// MCPError is an error type that includes suggestions for resolution.
type MCPError struct {
	// Code is the error category.
	Code MCPErrorCode
	// Message is the primary error message.
	Message string
	// Detail provides additional context.
	Detail string
	// Suggestions are actionable steps to resolve the error.
	Suggestions []string
	// Cause is the underlying error, if any.
	Cause error
}

// Error implements the error interface.
func (e *MCPError) Error() string {
	var sb strings.Builder

	sb.WriteString(e.Message)
	if e.Detail != "" {
		sb.WriteString(": ")
		sb.WriteString(e.Detail)
	}

	return sb.String()
}

// Unwrap returns the underlying error.
func (e *MCPError) Unwrap() error {
	return e.Cause
}

// NewMCPError creates a new MCPError.
func NewMCPError(code MCPErrorCode, message string) *MCPError {
	return &MCPError{
		Code:    code,
		Message: message,
	}
}

// WithDetail adds detail to the error.
func (e *MCPError) WithDetail(detail string) *MCPError {
	e.Detail = detail
	return e
}

// WithSuggestions adds suggestions to the error.
func (e *MCPError) WithSuggestions(suggestions ...string) *MCPError {
	e.Suggestions = suggestions
	return e
}

// WithCause adds an underlying cause to the error.
func (e *MCPError) WithCause(cause error) *MCPError {
	e.Cause = cause
	return e
}

// ErrServerNotFound creates an error for when a server is not found.
func ErrServerNotFound(name string) *MCPError {
	return NewMCPError(ErrorCodeNotFound, fmt.Sprintf("MCP server '%s' not found", name)).
		WithSuggestions(
			"Check the server name: kasal mcp list",
			"Register the server in the MCP configuration",
		)
}

// ErrInvalidServerName creates an error for an invalid server name.
func ErrInvalidServerName(name string) *MCPError {
	return NewMCPError(ErrorCodeValidation, fmt.Sprintf("Invalid server name '%s'", name)).
		WithDetail("Names must start with a letter, contain only letters/numbers/hyphens/underscores, and be at most 64 characters")
}

// ErrInvalidConfig creates an error for invalid configuration.
func ErrInvalidConfig(detail string) *MCPError {
	return NewMCPError(ErrorCodeConfig, "Invalid MCP server configuration").
		WithDetail(detail).
		WithSuggestions(
			"Check the configuration syntax in mcp.yaml",
			"Ensure all required fields are provided",
		)
}

// ErrConnectionFailed creates an error for a failed server connection.
func ErrConnectionFailed(name string, cause error) *MCPError {
	return NewMCPError(ErrorCodeConnection, fmt.Sprintf("Failed to connect to MCP server '%s'", name)).
		WithDetail(cause.Error()).
		WithCause(cause).
		WithSuggestions(
			"Verify the server URL is reachable",
			"Check authentication credentials for the server",
		)
}

// ErrAuthFailed creates an error for a failed auth header exchange.
func ErrAuthFailed(name string, cause error) *MCPError {
	return NewMCPError(ErrorCodeAuth, fmt.Sprintf("Failed to obtain auth headers for MCP server '%s'", name)).
		WithDetail(cause.Error()).
		WithCause(cause)
}

// ErrMissingEntrypoint creates an error for a tool that cannot be wrapped.
// This is a registration bug, not a runtime condition, and is raised loudly.
func ErrMissingEntrypoint(toolName string) *MCPError {
	return NewMCPError(ErrorCodeContract, fmt.Sprintf("tool '%s' has no execution entrypoint", toolName)).
		WithDetail("a tool must provide a run function before it can be wrapped")
}

// WrapError wraps a standard error in an MCPError if it isn't one already.
func WrapError(err error, code MCPErrorCode, message string) *MCPError {
	if mcpErr, ok := err.(*MCPError); ok {
		return mcpErr
	}
	return NewMCPError(code, message).WithDetail(err.Error()).WithCause(err)
}
