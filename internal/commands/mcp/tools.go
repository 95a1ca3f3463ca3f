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

	"github.com/murtihash94/kasal/internal/log"
	kasalmcp "github.com/murtihash94/kasal/internal/mcp"
)

// newMCPToolsCommand creates the 'mcp tools' command.
func newMCPToolsCommand() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "tools <server>",
		Short: "List tools available from an MCP server",
		Args:  cobra.ExactArgs(1),
		Example: `  # List tools from a configured server
  kasal mcp tools serverA

  # Get tool definitions as JSON
  kasal mcp tools serverA --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMCPTools(cmd.Context(), args[0], asJSON)
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")

	return cmd
}

func runMCPTools(ctx context.Context, serverName string, asJSON bool) error {
	adapter, err := connectServer(ctx, serverName)
	if err != nil {
		return err
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = adapter.Stop(stopCtx)
	}()

	defs := adapter.Tools()

	if asJSON {
		out, err := json.MarshalIndent(defs, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	}

	if len(defs) == 0 {
		fmt.Printf("Server %s exposes no tools.\n", serverName)
		return nil
	}

	for _, def := range defs {
		fmt.Printf("%s\n", def.Name)
		if def.Description != "" {
			fmt.Printf("    %s\n", def.Description)
		}
	}
	return nil
}

// connectServer resolves a configured server and dials an adapter for it.
func connectServer(ctx context.Context, serverName string) (kasalmcp.AdapterHandle, error) {
	service, err := newServerService()
	if err != nil {
		return nil, err
	}

	server, err := service.Get(serverName)
	if err != nil {
		return nil, err
	}

	logger := log.New(log.FromEnv())
	auth := kasalmcp.StaticAuthProvider{}
	headers, err := auth.Headers(ctx, server)
	if err != nil {
		logger.Warn("continuing without auth headers", log.Error(err))
	}

	return kasalmcp.NewAdapter(ctx, kasalmcp.ParamsFromServer(server, headers))
}
