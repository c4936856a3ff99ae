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

// Package event defines the tagged-variant event model shared by every
// part of the runtime: the turn loop, the tool dispatcher, the event log
// and the SSE surface all speak this shape.
//
// An Event is an envelope (kind, contextId, taskId, timestamp, path) plus
// exactly one kind-specific payload pointer. Events are values; they are
// safe to copy and to serialise as JSON.
package event

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Kind discriminates event variants.
type Kind string

const (
	// Task lifecycle.
	KindTaskCreated  Kind = "task-created"
	KindTaskStatus   Kind = "task-status"
	KindTaskComplete Kind = "task-complete"

	// Content streaming.
	KindContentDelta    Kind = "content-delta"
	KindContentComplete Kind = "content-complete"

	// Inline thoughts extracted from the content stream.
	KindThoughtStream Kind = "thought-stream"

	// Tool execution lifecycle.
	KindToolCall     Kind = "tool-call"
	KindToolStart    Kind = "tool-start"
	KindToolProgress Kind = "tool-progress"
	KindToolComplete Kind = "tool-complete"

	// Provider accounting, emitted once per LLM call.
	KindUsage Kind = "llm-usage"

	// Artifact updates from tools.
	KindArtifactUpdate Kind = "artifact-update"

	// Sub-agent linkage, emitted when an agent is invoked as a tool.
	KindSubAgent Kind = "subagent-link"

	// Authentication requests surfaced to the client.
	KindAuthRequired Kind = "auth-required"
)

// InternalPrefix marks diagnostic kinds that are dropped from client
// streams unless explicitly requested.
const InternalPrefix = "internal:"

// DebugKinds lists public kinds that are treated like internal ones by
// default subscriber filtering.
var DebugKinds = map[Kind]bool{
	KindUsage: true,
}

// IsInternal reports whether the kind carries the internal prefix.
func (k Kind) IsInternal() bool {
	return strings.HasPrefix(string(k), InternalPrefix)
}

// TaskState enumerates task lifecycle states.
type TaskState string

const (
	TaskSubmitted TaskState = "submitted"
	TaskWorking   TaskState = "working"
	TaskCompleted TaskState = "completed"
	TaskFailed    TaskState = "failed"
	TaskCanceled  TaskState = "canceled"
)

// FinishReason is the terminal condition reported by the provider.
type FinishReason string

const (
	FinishStop          FinishReason = "stop"
	FinishLength        FinishReason = "length"
	FinishToolCalls     FinishReason = "tool_calls"
	FinishContentFilter FinishReason = "content_filter"
	FinishError         FinishReason = "error"
)

// Terminal reports whether the finish reason ends the turn loop.
// tool_calls is the only non-terminal value; it triggers another
// iteration.
func (f FinishReason) Terminal() bool {
	return f != "" && f != FinishToolCalls
}

// ToolCall is an assembled tool invocation with object-valued arguments.
type ToolCall struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// Event is the envelope shared by every kind. Exactly one payload
// pointer is set, matching Kind.
type Event struct {
	Kind         Kind     `json:"kind"`
	ContextID    string   `json:"contextId"`
	TaskID       string   `json:"taskId"`
	ParentTaskID string   `json:"parentTaskId,omitempty"`
	Timestamp    string   `json:"timestamp"`
	Path         []string `json:"path,omitempty"`

	Status   *StatusPayload   `json:"status,omitempty"`
	Delta    *DeltaPayload    `json:"delta,omitempty"`
	Complete *CompletePayload `json:"complete,omitempty"`
	Thought  *ThoughtPayload  `json:"thought,omitempty"`
	ToolCall *ToolCall        `json:"toolCall,omitempty"`
	Tool     *ToolPayload     `json:"tool,omitempty"`
	Usage    *UsagePayload    `json:"usage,omitempty"`
	Artifact *ArtifactPayload `json:"artifact,omitempty"`
	SubAgent *SubAgentPayload `json:"subAgent,omitempty"`
}

// StatusPayload accompanies task-created and task-status events.
type StatusPayload struct {
	State  TaskState `json:"state"`
	Reason string    `json:"reason,omitempty"`
}

// DeltaPayload is an incremental content fragment. Index is strictly
// monotonic within a task, starting at zero.
type DeltaPayload struct {
	Text  string `json:"text"`
	Index int    `json:"index"`
}

// CompletePayload carries the full aggregated content of one LLM call
// (content-complete) or of the whole turn (task-complete).
type CompletePayload struct {
	Content      string       `json:"content"`
	ToolCalls    []ToolCall   `json:"toolCalls,omitempty"`
	FinishReason FinishReason `json:"finishReason"`
}

// ThoughtPayload is an inline thought extracted from the content stream.
type ThoughtPayload struct {
	ThoughtType string         `json:"thoughtType"`
	Verbosity   string         `json:"verbosity"`
	Content     string         `json:"content"`
	Attributes  map[string]any `json:"attributes,omitempty"`
}

// HistoryMessage is a provider-shaped message a tool may ask to inject
// into the next iteration's history, carried on tool-complete events.
type HistoryMessage struct {
	Role       string `json:"role"`
	Content    string `json:"content"`
	Name       string `json:"name,omitempty"`
	ToolCallID string `json:"toolCallId,omitempty"`
}

// ToolPayload accompanies tool-start, tool-progress and tool-complete.
type ToolPayload struct {
	ToolCallID string         `json:"toolCallId"`
	ToolName   string         `json:"toolName"`
	Arguments  map[string]any `json:"arguments,omitempty"`
	Icon       string         `json:"icon,omitempty"`

	// Progress reporting.
	Message string `json:"message,omitempty"`

	// Completion.
	Success  bool             `json:"success,omitempty"`
	Result   any              `json:"result,omitempty"`
	Error    string           `json:"error,omitempty"`
	Messages []HistoryMessage `json:"messages,omitempty"`
}

// UsagePayload sums provider token accounting for one LLM call.
type UsagePayload struct {
	PromptTokens     int            `json:"prompt_tokens"`
	CompletionTokens int            `json:"completion_tokens"`
	TotalTokens      int            `json:"total_tokens"`
	CacheReadTokens  int            `json:"cache_read_tokens,omitempty"`
	CacheWriteTokens int            `json:"cache_write_tokens,omitempty"`
	Details          map[string]any `json:"details,omitempty"`
}

// ArtifactPayload announces a stored artifact.
type ArtifactPayload struct {
	ArtifactID string `json:"artifactId"`
	Type       string `json:"type"`
	Name       string `json:"name,omitempty"`
	MimeType   string `json:"mimeType,omitempty"`
}

// SubAgentPayload links a parent task to a child agent invocation.
type SubAgentPayload struct {
	AgentID     string `json:"agentId"`
	ChildTaskID string `json:"childTaskId"`
}

// New builds an event envelope with the current UTC timestamp.
func New(kind Kind, contextID, taskID string) Event {
	return Event{
		Kind:      kind,
		ContextID: contextID,
		TaskID:    taskID,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
	}
}

// NewID returns a fresh identifier for contexts, tasks and tool calls.
func NewID() string {
	return uuid.NewString()
}

// Reparented returns a copy of the event re-scoped for agent-as-tool
// propagation: parentTaskID marks the caller's task and pathPrefix is
// prepended to the child's path. Events carrying a parent task id are
// surfaced to subscribers but excluded from history assembly.
func (e Event) Reparented(parentTaskID, pathPrefix string) Event {
	out := e
	out.ParentTaskID = parentTaskID
	out.Path = append([]string{pathPrefix}, e.Path...)
	return out
}
