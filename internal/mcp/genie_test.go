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
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/murtihash94/kasal/pkg/httpclient"
)

func TestGenieFallbackMatches(t *testing.T) {
	fb, err := NewGenieFallback("http://example.com", "token", httpclient.DefaultConfig())
	require.NoError(t, err)

	assert.True(t, fb.Matches("genie_ask"))
	assert.True(t, fb.Matches("databricks_Genie_query"))
	assert.False(t, fb.Matches("search"))
	assert.False(t, fb.Matches("vector_lookup"))
}

func TestGenieFallbackRouting(t *testing.T) {
	type recorded struct {
		method string
		path   string
		body   map[string]string
		auth   string
	}

	var last recorded
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		last = recorded{method: r.Method, path: r.URL.Path, auth: r.Header.Get("Authorization")}
		if r.Body != nil {
			_ = json.NewDecoder(r.Body).Decode(&last.body)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status": "ok"}`))
	}))
	defer srv.Close()

	fb, err := NewGenieFallback(srv.URL, "secret-token", httpclient.DefaultConfig())
	require.NoError(t, err)

	ctx := context.Background()

	// Space lookup: space id only.
	out, err := fb.Execute(ctx, "genie_get_space", map[string]interface{}{
		"space_id": "sp1",
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{"status": "ok"}`, out)
	assert.Equal(t, http.MethodGet, last.method)
	assert.Equal(t, "/api/2.0/genie/spaces/sp1", last.path)
	assert.Equal(t, "Bearer secret-token", last.auth)

	// New conversation: space id and question.
	_, err = fb.Execute(ctx, "genie_ask", map[string]interface{}{
		"space_id": "sp1",
		"question": "how many rows?",
	})
	require.NoError(t, err)
	assert.Equal(t, http.MethodPost, last.method)
	assert.Equal(t, "/api/2.0/genie/spaces/sp1/conversations", last.path)
	assert.Equal(t, "how many rows?", last.body["content"])

	// Continued conversation: all three arguments.
	_, err = fb.Execute(ctx, "genie_ask", map[string]interface{}{
		"space_id":        "sp1",
		"conversation_id": "c9",
		"question":        "and yesterday?",
	})
	require.NoError(t, err)
	assert.Equal(t, http.MethodPost, last.method)
	assert.Equal(t, "/api/2.0/genie/spaces/sp1/conversations/c9/messages", last.path)
	assert.Equal(t, "and yesterday?", last.body["content"])
}

func TestGenieFallbackRequiresSpaceID(t *testing.T) {
	fb, err := NewGenieFallback("http://example.com", "", httpclient.DefaultConfig())
	require.NoError(t, err)

	_, err = fb.Execute(context.Background(), "genie_ask", map[string]interface{}{
		"question": "anything",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "space_id")
}

func TestGenieFallbackSurfacesAPIErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no such space", http.StatusNotFound)
	}))
	defer srv.Close()

	fb, err := NewGenieFallback(srv.URL, "tok", httpclient.DefaultConfig())
	require.NoError(t, err)

	_, err = fb.Execute(context.Background(), "genie_get_space", map[string]interface{}{
		"space_id": "missing",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
	assert.Contains(t, err.Error(), "no such space")
}

func TestGenieFallbackRequiresHost(t *testing.T) {
	_, err := NewGenieFallback("", "tok", httpclient.DefaultConfig())
	require.Error(t, err)
}
