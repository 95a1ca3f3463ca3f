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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/murtihash94/kasal/pkg/httpclient"
)

// GenieFallback serves the Genie tool family over the Databricks Genie REST
// API when MCP execution is unavailable. It recognizes any tool whose name
// contains "genie" and routes by the arguments present:
//
//   - space_id only: fetch the space metadata
//   - space_id and a question, no conversation: start a conversation
//   - space_id, question and conversation_id: continue the conversation
type GenieFallback struct {
	host   string
	token  string
	client *http.Client
}

// NewGenieFallback creates a fallback bound to a Databricks workspace host
// (scheme and host, no trailing slash) and a bearer token.
func NewGenieFallback(host, token string, cfg httpclient.Config) (*GenieFallback, error) {
	if host == "" {
		return nil, fmt.Errorf("genie fallback requires a workspace host")
	}
	client, err := httpclient.New(cfg)
	if err != nil {
		return nil, err
	}
	return &GenieFallback{
		host:   strings.TrimRight(host, "/"),
		token:  token,
		client: client,
	}, nil
}

// Matches implements RESTFallback.
func (g *GenieFallback) Matches(toolName string) bool {
	return strings.Contains(strings.ToLower(toolName), "genie")
}

// Execute implements RESTFallback.
func (g *GenieFallback) Execute(ctx context.Context, toolName string, args map[string]interface{}) (string, error) {
	spaceID := stringArg(args, "space_id", "spaceId")
	if spaceID == "" {
		return "", fmt.Errorf("genie fallback requires a space_id argument")
	}

	question := stringArg(args, "question", "message", "content", "query")
	conversationID := stringArg(args, "conversation_id", "conversationId")

	switch {
	case question == "":
		return g.getJSON(ctx, fmt.Sprintf("/api/2.0/genie/spaces/%s", spaceID))
	case conversationID == "":
		return g.postJSON(ctx,
			fmt.Sprintf("/api/2.0/genie/spaces/%s/conversations", spaceID),
			map[string]string{"content": question})
	default:
		return g.postJSON(ctx,
			fmt.Sprintf("/api/2.0/genie/spaces/%s/conversations/%s/messages", spaceID, conversationID),
			map[string]string{"content": question})
	}
}

func (g *GenieFallback) getJSON(ctx context.Context, path string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.host+path, nil)
	if err != nil {
		return "", err
	}
	return g.do(req)
}

func (g *GenieFallback) postJSON(ctx context.Context, path string, body interface{}) (string, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.host+path, bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	return g.do(req)
}

func (g *GenieFallback) do(req *http.Request) (string, error) {
	if g.token != "" {
		req.Header.Set("Authorization", "Bearer "+g.token)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("genie request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("failed to read genie response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("genie API returned status %d: %s", resp.StatusCode, truncate(string(body), 200))
	}

	return string(body), nil
}

// stringArg returns the first non-empty string value found under any of the
// given keys.
func stringArg(args map[string]interface{}, keys ...string) string {
	for _, key := range keys {
		if v, ok := args[key].(string); ok && v != "" {
			return v
		}
	}
	return ""
}
