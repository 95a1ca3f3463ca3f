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
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Execution path labels for the resilience ladder.
const (
	pathDirect   = "direct"
	pathIsolated = "isolated"
	pathFallback = "fallback"

	outcomeSuccess = "success"
	outcomeError   = "error"
)

var toolExecutions = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "kasal_mcp_tool_executions_total",
		Help: "Tool executions by server, execution path and outcome.",
	},
	[]string{"server", "path", "outcome"},
)
