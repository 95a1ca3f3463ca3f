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
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubExecutor returns an executor whose child process is a shell script.
func stubExecutor(t *testing.T, script string) *IsolatedExecutor {
	t.Helper()
	e := NewIsolatedExecutor(nil)
	e.command = func(ctx context.Context) (*exec.Cmd, error) {
		return exec.CommandContext(ctx, "sh", "-c", script), nil
	}
	return e
}

func testRequest() IsolatedRequest {
	return IsolatedRequest{
		Server:    ServerConfig{Name: "serverA", ServerURL: "http://localhost:1"},
		Tool:      "search",
		Arguments: map[string]interface{}{"query": "hello"},
	}
}

func TestIsolatedExecuteRoundTripsResult(t *testing.T) {
	payload := `{"success": true, "result": {"count": 3, "name": "abc", "ok": true}}`
	e := stubExecutor(t, "echo '"+payload+"'")

	result, err := e.Execute(context.Background(), testRequest())
	require.NoError(t, err)

	expected := map[string]interface{}{
		"count": float64(3),
		"name":  "abc",
		"ok":    true,
	}
	assert.Equal(t, expected, result)
}

func TestIsolatedExecuteSurfacesEnvelopeError(t *testing.T) {
	payload := `{"success": false, "error": "tool exploded"}`
	e := stubExecutor(t, "echo '"+payload+"'")

	_, err := e.Execute(context.Background(), testRequest())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "tool exploded")
}

func TestIsolatedExecuteRecoversEmbeddedJSON(t *testing.T) {
	e := stubExecutor(t, `printf 'warning: deprecation notice\n{"success": true, "result": "recovered"}\ntrailing noise was not printed'`)

	result, err := e.Execute(context.Background(), testRequest())
	require.NoError(t, err)
	assert.Equal(t, "recovered", result)
}

func TestIsolatedExecuteReturnsRawTextWhenUnparseable(t *testing.T) {
	e := stubExecutor(t, "echo 'plain text output with no json at all'")

	result, err := e.Execute(context.Background(), testRequest())
	require.NoError(t, err)
	assert.Equal(t, "plain text output with no json at all", result)
}

func TestIsolatedExecuteTruncatesLongRawOutput(t *testing.T) {
	e := stubExecutor(t, "head -c 10000 /dev/zero | tr '\\0' 'x'")

	result, err := e.Execute(context.Background(), testRequest())
	require.NoError(t, err)

	text, ok := result.(string)
	require.True(t, ok)
	assert.Len(t, text, maxRawOutput+3)
	assert.True(t, strings.HasSuffix(text, "..."))
}

func TestIsolatedExecuteReportsSubprocessFailure(t *testing.T) {
	e := stubExecutor(t, "echo 'boom diagnostics' >&2; exit 3")

	_, err := e.Execute(context.Background(), testRequest())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exited with code 3")
	assert.Contains(t, err.Error(), "boom diagnostics")
}

func TestIsolatedExecuteTimesOut(t *testing.T) {
	e := stubExecutor(t, "sleep 10")
	e.SetTimeout(200 * time.Millisecond)

	start := time.Now()
	_, err := e.Execute(context.Background(), testRequest())
	elapsed := time.Since(start)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "timed out")
	assert.Less(t, elapsed, 5*time.Second)
}

func TestIsolatedExecutePassesRequestOnStdin(t *testing.T) {
	// The child checks that the request payload arrived on its stdin.
	e := stubExecutor(t, `if grep -q serverA; then echo '{"success": true, "result": "saw request"}'; else echo '{"success": false, "error": "no request on stdin"}'; fi`)

	result, err := e.Execute(context.Background(), testRequest())
	require.NoError(t, err)
	assert.Equal(t, "saw request", result)
}

func TestDecodeIsolatedOutputDefaultErrorMessage(t *testing.T) {
	_, err := decodeIsolatedOutput([]byte(`{"success": false}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "isolated execution reported failure")
}

func TestRunIsolatedRejectsMalformedRequest(t *testing.T) {
	var out bytes.Buffer
	err := RunIsolated(context.Background(), strings.NewReader("not json"), &out)
	require.Error(t, err)
}

func TestRunIsolatedWritesFailureEnvelopeForUnreachableServer(t *testing.T) {
	req := testRequest()
	req.Server.TimeoutSeconds = 1

	payload, err := json.Marshal(req)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var out bytes.Buffer
	err = RunIsolated(ctx, bytes.NewReader(payload), &out)
	require.NoError(t, err)

	var result IsolatedResult
	require.NoError(t, json.Unmarshal(out.Bytes(), &result))
	assert.False(t, result.Success)
	assert.NotEmpty(t, result.Error)
}
