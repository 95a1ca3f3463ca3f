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
	"net/http"
	"net/url"
	"os"
	"strings"

	"github.com/murtihash94/kasal/pkg/httpclient"
)

// AuthProvider resolves the HTTP headers needed to authenticate against a
// server, given its configuration.
type AuthProvider interface {
	// Headers returns the auth headers for the server, or an error when
	// credentials cannot be resolved.
	Headers(ctx context.Context, server ServerConfig) (map[string]string, error)
}

// StaticAuthProvider handles the none and api_key auth types: no headers,
// or a bearer token taken directly from the server configuration.
type StaticAuthProvider struct{}

// Headers implements AuthProvider.
func (StaticAuthProvider) Headers(ctx context.Context, server ServerConfig) (map[string]string, error) {
	switch server.AuthType {
	case AuthNone, "":
		return nil, nil
	case AuthAPIKey:
		key := server.APIKey
		if key == "" {
			key = os.Getenv("KASAL_MCP_API_KEY")
		}
		if key == "" {
			return nil, ErrAuthFailed(server.Name, fmt.Errorf("api_key auth configured but no key available"))
		}
		return map[string]string{"Authorization": "Bearer " + key}, nil
	default:
		return nil, ErrAuthFailed(server.Name, fmt.Errorf("unsupported auth type %q", server.AuthType))
	}
}

// DatabricksOBOProvider exchanges an OAuth client credential for a
// workspace-scoped access token and presents it as a bearer header. The
// client id and secret come from the environment; the token endpoint is
// derived from the server URL's host.
type DatabricksOBOProvider struct {
	client *http.Client
	static StaticAuthProvider
}

// NewDatabricksOBOProvider creates an OBO provider using the shared HTTP
// client configuration.
func NewDatabricksOBOProvider(cfg httpclient.Config) (*DatabricksOBOProvider, error) {
	client, err := httpclient.New(cfg)
	if err != nil {
		return nil, err
	}
	return &DatabricksOBOProvider{client: client}, nil
}

// Headers implements AuthProvider. Non-OBO auth types are delegated to the
// static provider.
func (p *DatabricksOBOProvider) Headers(ctx context.Context, server ServerConfig) (map[string]string, error) {
	if server.AuthType != AuthDatabricksOBO {
		return p.static.Headers(ctx, server)
	}

	// A pre-provisioned token short-circuits the exchange.
	token := server.APIKey
	if token == "" {
		token = os.Getenv("DATABRICKS_TOKEN")
	}
	if token != "" {
		return map[string]string{"Authorization": "Bearer " + token}, nil
	}

	clientID := os.Getenv("DATABRICKS_CLIENT_ID")
	clientSecret := os.Getenv("DATABRICKS_CLIENT_SECRET")
	if clientID == "" || clientSecret == "" {
		return nil, ErrAuthFailed(server.Name,
			fmt.Errorf("databricks_obo requires DATABRICKS_TOKEN or DATABRICKS_CLIENT_ID/DATABRICKS_CLIENT_SECRET"))
	}

	host, err := databricksHost(server.ServerURL)
	if err != nil {
		return nil, ErrAuthFailed(server.Name, err)
	}

	token, err = p.exchangeToken(ctx, host, clientID, clientSecret)
	if err != nil {
		return nil, ErrAuthFailed(server.Name, err)
	}

	return map[string]string{"Authorization": "Bearer " + token}, nil
}

// databricksHost extracts the scheme and host of the workspace from the
// server URL.
func databricksHost(serverURL string) (string, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return "", fmt.Errorf("invalid server url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("server url %q has no scheme or host", serverURL)
	}
	return u.Scheme + "://" + u.Host, nil
}

// exchangeToken performs the OAuth client credentials exchange against the
// workspace's OIDC token endpoint.
func (p *DatabricksOBOProvider) exchangeToken(ctx context.Context, host, clientID, clientSecret string) (string, error) {
	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	form.Set("scope", "all-apis")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		host+"/oidc/v1/token", strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(clientID, clientSecret)

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("token exchange request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("token exchange returned status %d", resp.StatusCode)
	}

	var payload struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", fmt.Errorf("failed to decode token response: %w", err)
	}
	if payload.AccessToken == "" {
		return "", fmt.Errorf("token response contained no access token")
	}

	return payload.AccessToken, nil
}
