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
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	kasalmcp "github.com/murtihash94/kasal/internal/mcp"
)

// newMCPListCommand creates the 'mcp list' command.
func newMCPListCommand() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List configured MCP servers",
		Example: `  # List configured servers
  kasal mcp list

  # Get the server list as JSON
  kasal mcp list --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMCPList(asJSON)
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")

	return cmd
}

func runMCPList(asJSON bool) error {
	service, err := newServerService()
	if err != nil {
		return err
	}

	names := service.List()

	if asJSON {
		servers := make([]kasalmcp.ServerConfig, 0, len(names))
		for _, name := range names {
			server, err := service.Get(name)
			if err != nil {
				continue
			}
			server.APIKey = ""
			servers = append(servers, server)
		}
		out, err := json.MarshalIndent(map[string]interface{}{"servers": servers}, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	}

	if len(names) == 0 {
		fmt.Println("No MCP servers configured.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tTRANSPORT\tAUTH\tENABLED\tGLOBAL")
	for _, name := range names {
		server, err := service.Get(name)
		if err != nil {
			continue
		}
		transport := "url"
		if server.Command != "" {
			transport = "stdio"
		}
		auth := string(server.AuthType)
		if auth == "" {
			auth = "none"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%t\t%t\n",
			server.Name, transport, auth, server.Enabled, server.Global)
	}
	return w.Flush()
}

// newServerService opens the configuration-file-backed server service.
func newServerService() (*kasalmcp.FileServerService, error) {
	path, err := kasalmcp.DefaultConfigPath()
	if err != nil {
		return nil, err
	}
	return kasalmcp.NewFileServerService(path)
}
