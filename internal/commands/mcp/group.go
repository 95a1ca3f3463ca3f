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

// Package mcp implements the 'kasal mcp' command group.
package mcp

import (
	"github.com/spf13/cobra"
)

// NewMCPCommand creates the mcp command for MCP server management.
func NewMCPCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Manage MCP (Model Context Protocol) servers",
		Long: `Manage MCP servers used by Kasal agents and tasks.

MCP servers provide tools that agents can call during crew execution.

Commands:
  list      List configured MCP servers
  tools     List tools available from an MCP server
  call      Call a tool on an MCP server`,
	}

	cmd.AddCommand(newMCPListCommand())
	cmd.AddCommand(newMCPToolsCommand())
	cmd.AddCommand(newMCPCallCommand())
	cmd.AddCommand(newMCPExecIsolatedCommand())

	return cmd
}
