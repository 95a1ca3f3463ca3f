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
	"time"

	"github.com/spf13/cobra"

	kasalmcp "github.com/murtihash94/kasal/internal/mcp"
)

// newMCPCallCommand creates the 'mcp call' command.
func newMCPCallCommand() *cobra.Command {
	var argsJSON string

	cmd := &cobra.Command{
		Use:   "call <server> <tool>",
		Short: "Call a tool on an MCP server",
		Args:  cobra.ExactArgs(2),
		Example: `  # Call a tool with no arguments
  kasal mcp call serverA list_tables

  # Call a tool with JSON arguments
  kasal mcp call serverA search --args '{"query": "release notes"}'`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMCPCall(cmd.Context(), args[0], args[1], argsJSON)
		},
	}

	cmd.Flags().StringVar(&argsJSON, "args", "{}", "Tool arguments as a JSON object")

	return cmd
}

func runMCPCall(ctx context.Context, serverName, toolName, argsJSON string) error {
	var toolArgs map[string]interface{}
	if err := json.Unmarshal([]byte(argsJSON), &toolArgs); err != nil {
		return fmt.Errorf("invalid --args value: %w", err)
	}

	adapter, err := connectServer(ctx, serverName)
	if err != nil {
		return err
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = adapter.Stop(stopCtx)
	}()

	resp, err := adapter.CallTool(ctx, kasalmcp.ToolCallRequest{
		Name:      toolName,
		Arguments: toolArgs,
	})
	if err != nil {
		return err
	}

	if resp.IsError {
		return fmt.Errorf("tool reported failure: %s", resp.ErrorText())
	}

	fmt.Println(resp.Text())
	return nil
}
