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
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"regexp"
	"time"

	"github.com/murtihash94/kasal/internal/log"
)

// DefaultIsolatedTimeout is the hard wall-clock limit for one isolated
// tool execution.
const DefaultIsolatedTimeout = 60 * time.Second

// maxRawOutput bounds the raw text returned when the child's output cannot
// be parsed as JSON.
const maxRawOutput = 4096

// IsolatedRequest is the JSON payload sent to the child process on stdin.
// It must be self-contained: the child builds a fresh adapter from it with
// no access to the parent's state.
type IsolatedRequest struct {
	Server    ServerConfig           `json:"server"`
	Headers   map[string]string      `json:"headers,omitempty"`
	Tool      string                 `json:"tool"`
	Arguments map[string]interface{} `json:"arguments,omitempty"`
}

// IsolatedResult is the JSON envelope the child writes to stdout. The child
// exits zero whenever it managed to produce an envelope; tool failures are
// reported through Success and Error, not the exit code.
type IsolatedResult struct {
	Success bool        `json:"success"`
	Result  interface{} `json:"result,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// IsolatedExecutor runs one tool call in a child process with its own MCP
// session, so that a wedged session in the parent cannot poison the call.
type IsolatedExecutor struct {
	timeout time.Duration
	logger  *slog.Logger

	// command builds the child process. The default re-executes the
	// current binary with the hidden exec-isolated subcommand; tests
	// substitute stub commands.
	command func(ctx context.Context) (*exec.Cmd, error)
}

// NewIsolatedExecutor creates an executor with the default timeout and the
// re-exec command.
func NewIsolatedExecutor(logger *slog.Logger) *IsolatedExecutor {
	if logger == nil {
		logger = log.New(log.DefaultConfig())
	}
	return &IsolatedExecutor{
		timeout: DefaultIsolatedTimeout,
		logger:  log.WithComponent(logger, "mcp-isolated"),
		command: func(ctx context.Context) (*exec.Cmd, error) {
			exe, err := os.Executable()
			if err != nil {
				return nil, fmt.Errorf("cannot locate own executable: %w", err)
			}
			return exec.CommandContext(ctx, exe, "mcp", "exec-isolated"), nil
		},
	}
}

// SetTimeout overrides the default wall-clock limit.
func (e *IsolatedExecutor) SetTimeout(d time.Duration) {
	if d > 0 {
		e.timeout = d
	}
}

// Execute runs the request in a child process and returns the decoded tool
// result. Parse problems on the child's output never surface as errors:
// the executor recovers an embedded JSON object when it can, and otherwise
// returns the truncated raw text as a best-effort result.
func (e *IsolatedExecutor) Execute(ctx context.Context, req IsolatedRequest) (interface{}, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to encode isolated request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	cmd, err := e.command(ctx)
	if err != nil {
		return nil, err
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdin = bytes.NewReader(payload)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	runErr := cmd.Run()
	elapsed := time.Since(start)

	logger := e.logger.With(log.ServerKey, req.Server.Name, log.ToolKey, req.Tool)

	if ctx.Err() == context.DeadlineExceeded {
		// exec.CommandContext kills the child on deadline; if the kill
		// itself fails the process may linger, which we can only log.
		logger.Error("isolated execution timed out", log.DurationKey, elapsed.Milliseconds())
		return nil, fmt.Errorf("isolated execution of %s timed out after %s", req.Tool, e.timeout)
	}

	if runErr != nil {
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			detail := truncate(string(bytes.TrimSpace(stderr.Bytes())), maxRawOutput)
			logger.Error("isolated subprocess failed",
				"exit_code", exitErr.ExitCode(), "stderr", detail)
			return nil, fmt.Errorf("isolated subprocess exited with code %d: %s",
				exitErr.ExitCode(), detail)
		}
		return nil, fmt.Errorf("failed to run isolated subprocess: %w", runErr)
	}

	logger.Debug("isolated execution completed", log.DurationKey, elapsed.Milliseconds())
	return decodeIsolatedOutput(stdout.Bytes())
}

// embeddedJSONPattern locates a JSON object inside noisy output, for child
// processes that print diagnostics around the envelope.
var embeddedJSONPattern = regexp.MustCompile(`(?s)\{.*\}`)

// decodeIsolatedOutput parses the child's stdout. Strict envelope first,
// then an embedded-object recovery pass, then the bounded raw text.
func decodeIsolatedOutput(output []byte) (interface{}, error) {
	trimmed := bytes.TrimSpace(output)

	var envelope IsolatedResult
	if err := json.Unmarshal(trimmed, &envelope); err == nil {
		if !envelope.Success {
			if envelope.Error == "" {
				envelope.Error = "isolated execution reported failure"
			}
			return nil, fmt.Errorf("%s", envelope.Error)
		}
		return envelope.Result, nil
	}

	if match := embeddedJSONPattern.Find(trimmed); match != nil {
		if err := json.Unmarshal(match, &envelope); err == nil {
			if !envelope.Success {
				if envelope.Error == "" {
					envelope.Error = "isolated execution reported failure"
				}
				return nil, fmt.Errorf("%s", envelope.Error)
			}
			return envelope.Result, nil
		}
	}

	return truncate(string(trimmed), maxRawOutput), nil
}

// truncate bounds s to at most n bytes, appending an ellipsis marker.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// RunIsolated is the child-process side of the isolated executor: it reads
// one IsolatedRequest from stdin, dials a fresh MCP session, executes the
// tool, and writes the result envelope to stdout. The process exits zero
// whenever an envelope was written, even for tool failures.
func RunIsolated(ctx context.Context, stdin io.Reader, stdout io.Writer) error {
	var req IsolatedRequest
	if err := json.NewDecoder(stdin).Decode(&req); err != nil {
		return fmt.Errorf("failed to decode isolated request: %w", err)
	}

	result := runIsolatedCall(ctx, req)
	if err := json.NewEncoder(stdout).Encode(result); err != nil {
		return fmt.Errorf("failed to encode isolated result: %w", err)
	}
	return nil
}

func runIsolatedCall(ctx context.Context, req IsolatedRequest) IsolatedResult {
	adapter, err := NewAdapter(ctx, ParamsFromServer(req.Server, req.Headers))
	if err != nil {
		return IsolatedResult{Success: false, Error: err.Error()}
	}
	defer func() {
		_ = adapter.Stop(ctx)
	}()

	resp, err := adapter.CallTool(ctx, ToolCallRequest{
		Name:      req.Tool,
		Arguments: req.Arguments,
	})
	if err != nil {
		return IsolatedResult{Success: false, Error: err.Error()}
	}
	if resp.IsError {
		return IsolatedResult{Success: false, Error: resp.ErrorText()}
	}

	return IsolatedResult{Success: true, Result: resp.Text()}
}
