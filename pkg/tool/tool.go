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

// Package tool defines the tool-provider capability and the dispatcher
// that resolves tool calls, drives their lifecycle events and normalises
// their failures.
package tool

import (
	"context"
	"iter"
	"log/slog"

	"go.opentelemetry.io/otel/trace"

	"github.com/strandai/strand/pkg/artifact"
	"github.com/strandai/strand/pkg/event"
	"github.com/strandai/strand/pkg/model"
)

// ExecContext carries the per-call execution scope a provider sees. It
// derives from the turn's LoopContext plus the parent trace scope of the
// current iteration.
type ExecContext struct {
	AgentID   string
	ContextID string
	TaskID    string
	Path      []string
	Logger    *slog.Logger
	Trace     trace.SpanContext
	Auth      map[string]string
	Artifacts artifact.Store
}

// Log returns the context logger, falling back to the default.
func (ec ExecContext) Log() *slog.Logger {
	if ec.Logger != nil {
		return ec.Logger
	}
	return slog.Default()
}

// Result is the outcome of one tool execution. Exactly one of Result
// and Error is meaningful, selected by Success. Messages optionally
// injects extra provider-shaped messages into the next iteration's
// history.
type Result struct {
	ToolCallID string
	ToolName   string
	Success    bool
	Result     any
	Error      string
	Messages   []event.HistoryMessage
}

// Provider is a tool backend. ExecuteTool returns a lazy event sequence
// whose final event should be tool-complete; the dispatcher synthesises
// one when it is missing and normalises stream failures.
type Provider interface {
	// Name identifies the provider for logging and resolution warnings.
	Name() string

	// GetTool returns the definition for a tool id, or nil when the
	// provider does not serve it.
	GetTool(ctx context.Context, name string) (*model.ToolDefinition, error)

	// ListTools returns every definition this provider serves.
	ListTools(ctx context.Context) ([]model.ToolDefinition, error)

	// ExecuteTool runs one call and streams its events.
	ExecuteTool(ctx context.Context, call event.ToolCall, ec ExecContext) iter.Seq2[event.Event, error]
}

// ProgressEvent builds a tool-progress event for the given call.
func ProgressEvent(ec ExecContext, call event.ToolCall, message string) event.Event {
	ev := event.New(event.KindToolProgress, ec.ContextID, ec.TaskID)
	ev.Path = ec.Path
	ev.Tool = &event.ToolPayload{
		ToolCallID: call.ID,
		ToolName:   call.Name,
		Message:    message,
	}
	return ev
}

// CompleteEvent builds a tool-complete event from a result.
func CompleteEvent(ec ExecContext, r Result) event.Event {
	ev := event.New(event.KindToolComplete, ec.ContextID, ec.TaskID)
	ev.Path = ec.Path
	ev.Tool = &event.ToolPayload{
		ToolCallID: r.ToolCallID,
		ToolName:   r.ToolName,
		Success:    r.Success,
		Result:     r.Result,
		Error:      r.Error,
		Messages:   r.Messages,
	}
	return ev
}

// ArtifactEvent builds an artifact-update event for a stored artifact.
func ArtifactEvent(ec ExecContext, a *artifact.Artifact) event.Event {
	ev := event.New(event.KindArtifactUpdate, ec.ContextID, ec.TaskID)
	ev.Path = ec.Path
	ev.Artifact = &event.ArtifactPayload{
		ArtifactID: a.ID,
		Type:       string(a.Type),
		Name:       a.Name,
		MimeType:   a.MimeType,
	}
	return ev
}
