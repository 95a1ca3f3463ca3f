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

// Package mcp integrates Model Context Protocol tool servers into Kasal's
// agent-execution pipeline.
//
// The package bridges the synchronous tool-calling contract the agent engine
// expects to the network-based, connection-oriented execution model MCP
// servers use. It has four cooperating parts:
//
//   - AdapterRegistry tracks every live server connection so they can be
//     torn down together at shutdown, and hosts the idempotent get-or-create
//     connection factory.
//   - ServerTool wraps one raw MCP tool with a resilience ladder: direct
//     in-process execution, then process-isolated execution when the
//     connection's session state is unusable, then an optional REST fallback
//     for tool families with a documented REST equivalent.
//   - IsolatedExecutor runs a single tool call in a disposable child process
//     with its own fresh connection, reporting the result as JSON on stdout.
//   - Integration computes the effective server set for an agent or task
//     from three configuration tiers (global, agent, task) and materializes
//     the wrapped tools.
//
// Tool failures are data, not errors: a wrapped tool's Execute always
// returns a value, and anything that goes wrong during a call is rendered
// as a textual error message the agent can reason about. Only contract
// violations (a tool with no execution entrypoint) fail loudly.
package mcp
