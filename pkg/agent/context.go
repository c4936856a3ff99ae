// Copyright 2026 Strand Authors
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

// Package agent implements the turn loop: a state machine that
// alternates LLM calls and tool executions until a terminal finish
// reason, accumulating message history across iterations and streaming
// every observed event to the caller.
package agent

import (
	"log/slog"

	"go.opentelemetry.io/otel/trace"

	"github.com/strandai/strand/pkg/artifact"
	"github.com/strandai/strand/pkg/tool"
)

// Skill is a named system prompt injected after the main system prompt,
// in registration order.
type Skill struct {
	Name   string
	Prompt string
}

// LoopContext is the immutable per-turn record handed to the loop.
type LoopContext struct {
	AgentID      string
	ContextID    string
	TaskID       string
	TurnNumber   int
	SystemPrompt string
	Skills       []Skill
	Logger       *slog.Logger
	Trace        trace.SpanContext
	Auth         map[string]string
	Artifacts    artifact.Store
}

// Log returns the turn logger, falling back to the default.
func (lc LoopContext) Log() *slog.Logger {
	if lc.Logger != nil {
		return lc.Logger
	}
	return slog.Default()
}

// ExecContext derives the tool execution scope for this turn.
func (lc LoopContext) ExecContext() tool.ExecContext {
	return tool.ExecContext{
		AgentID:   lc.AgentID,
		ContextID: lc.ContextID,
		TaskID:    lc.TaskID,
		Logger:    lc.Logger,
		Trace:     lc.Trace,
		Auth:      lc.Auth,
		Artifacts: lc.Artifacts,
	}
}
