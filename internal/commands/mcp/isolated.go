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
	"os"

	"github.com/spf13/cobra"

	kasalmcp "github.com/murtihash94/kasal/internal/mcp"
)

// newMCPExecIsolatedCommand creates the hidden 'mcp exec-isolated' command,
// the child-process side of the isolated executor. It reads one execution
// request from stdin and writes the result envelope to stdout. Not intended
// for interactive use.
func newMCPExecIsolatedCommand() *cobra.Command {
	return &cobra.Command{
		Use:    "exec-isolated",
		Hidden: true,
		Short:  "Execute one MCP tool call from an stdin request (internal)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return kasalmcp.RunIsolated(cmd.Context(), os.Stdin, os.Stdout)
		},
	}
}
