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

// Package model holds the provider-shaped types the runtime exchanges
// with LLM backends: messages, tool definitions, streaming choice deltas
// and the aggregator that folds a delta stream into one final record.
package model

import (
	"context"
	"fmt"
	"iter"
)

// Role is a provider-shaped message role.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is one provider-shaped conversation entry.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
	Name    string `json:"name,omitempty"`
	// ToolCallID is set on tool-role messages only.
	ToolCallID string `json:"toolCallId,omitempty"`
	// ToolCalls is set on assistant-role messages only.
	ToolCalls []ToolCallRef `json:"toolCalls,omitempty"`
}

// ToolCallRef references an assembled tool call inside an assistant
// message, with object-valued arguments.
type ToolCallRef struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// System builds a system message.
func System(content string) Message {
	return Message{Role: RoleSystem, Content: content}
}

// User builds a user message.
func User(content string) Message {
	return Message{Role: RoleUser, Content: content}
}

// Assistant builds an assistant message.
func Assistant(content string) Message {
	return Message{Role: RoleAssistant, Content: content}
}

// ToolResult builds a tool-role message answering a tool call.
func ToolResult(name, toolCallID, content string) Message {
	return Message{Role: RoleTool, Name: name, ToolCallID: toolCallID, Content: content}
}

const maxToolNameLen = 64

// ToolDefinition describes one callable tool. Parameters is an
// object-typed JSON Schema.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Icon        string         `json:"icon,omitempty"`
	Parameters  map[string]any `json:"parameters"`
}

// Validate checks the tool id charset and length constraints.
func (d ToolDefinition) Validate() error {
	if d.Name == "" || len(d.Name) > maxToolNameLen {
		return fmt.Errorf("tool name must be 1..%d characters, got %q", maxToolNameLen, d.Name)
	}
	for i := 0; i < len(d.Name); i++ {
		c := d.Name[i]
		if c == '_' || c == '-' ||
			(c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') {
			continue
		}
		return fmt.Errorf("tool name %q contains invalid character %q", d.Name, c)
	}
	return nil
}

// FunctionDelta is the incremental function fragment inside a tool-call
// delta. Arguments is raw JSON text that accumulates across deltas.
type FunctionDelta struct {
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
}

// ToolCallDelta is one incremental tool-call fragment, keyed by Index.
type ToolCallDelta struct {
	Index    int           `json:"index"`
	ID       string        `json:"id,omitempty"`
	Type     string        `json:"type,omitempty"`
	Function FunctionDelta `json:"function"`
}

// Delta is the incremental payload of one streamed chunk.
type Delta struct {
	Content   string          `json:"content,omitempty"`
	ToolCalls []ToolCallDelta `json:"tool_calls,omitempty"`
}

// ChoiceDelta is one streamed choice chunk from the provider.
type ChoiceDelta struct {
	Index        int    `json:"index"`
	Delta        Delta  `json:"delta"`
	FinishReason string `json:"finish_reason,omitempty"`
	Usage        *Usage `json:"usage,omitempty"`
}

// Request is one streaming LLM call.
type Request struct {
	Messages  []Message        `json:"messages"`
	Tools     []ToolDefinition `json:"tools,omitempty"`
	SessionID string           `json:"sessionId,omitempty"`
	Stream    bool             `json:"stream"`
}

// Provider is a streaming LLM backend. Stream must be consumed exactly
// once per call; implementations map their wire protocol into choice
// deltas.
type Provider interface {
	Name() string
	Stream(ctx context.Context, req Request) iter.Seq2[ChoiceDelta, error]
}
