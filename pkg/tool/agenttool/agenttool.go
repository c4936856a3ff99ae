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

// Package agenttool exposes agents as tools. A call runs a full child
// turn under a fresh task id; every child event is surfaced to the
// caller's stream re-scoped with a parent task id, and the child's
// final content becomes the tool result.
package agenttool

import (
	"context"
	"fmt"
	"iter"
	"sync"

	"github.com/strandai/strand/pkg/agent"
	"github.com/strandai/strand/pkg/event"
	"github.com/strandai/strand/pkg/model"
	"github.com/strandai/strand/pkg/tool"
)

func messageSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"message": map[string]any{
				"type":        "string",
				"description": "Message to send to the sub-agent.",
			},
		},
		"required":             []any{"message"},
		"additionalProperties": false,
	}
}

type entry struct {
	agent        *agent.Agent
	description  string
	systemPrompt string
	skills       []agent.Skill
}

// Provider serves registered agents as tools, keyed by agent id.
type Provider struct {
	name string

	mu      sync.RWMutex
	entries map[string]entry
	order   []string
}

// AddOption configures one registered sub-agent.
type AddOption func(*entry)

// WithDescription sets the tool description shown to the model.
func WithDescription(desc string) AddOption {
	return func(e *entry) { e.description = desc }
}

// WithSystemPrompt sets the child turn's system prompt.
func WithSystemPrompt(prompt string) AddOption {
	return func(e *entry) { e.systemPrompt = prompt }
}

// WithSkills sets the child turn's skill prompts.
func WithSkills(skills []agent.Skill) AddOption {
	return func(e *entry) { e.skills = skills }
}

// New returns an empty provider.
func New() *Provider {
	return &Provider{name: "agents", entries: make(map[string]entry)}
}

// Add registers a sub-agent. Its id becomes the tool name, so it must
// satisfy the tool id constraints.
func (p *Provider) Add(a *agent.Agent, opts ...AddOption) error {
	e := entry{
		agent:       a,
		description: fmt.Sprintf("Delegate a task to the %q agent.", a.ID()),
	}
	for _, opt := range opts {
		opt(&e)
	}
	def := model.ToolDefinition{Name: a.ID()}
	if err := def.Validate(); err != nil {
		return fmt.Errorf("agent id unusable as tool name: %w", err)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, exists := p.entries[a.ID()]; exists {
		return fmt.Errorf("agent %q already registered", a.ID())
	}
	p.entries[a.ID()] = e
	p.order = append(p.order, a.ID())
	return nil
}

// Name implements tool.Provider.
func (p *Provider) Name() string { return p.name }

// GetTool implements tool.Provider.
func (p *Provider) GetTool(_ context.Context, name string) (*model.ToolDefinition, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	e, ok := p.entries[name]
	if !ok {
		return nil, nil
	}
	def := p.definition(name, e)
	return &def, nil
}

// ListTools implements tool.Provider.
func (p *Provider) ListTools(_ context.Context) ([]model.ToolDefinition, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]model.ToolDefinition, 0, len(p.order))
	for _, name := range p.order {
		out = append(out, p.definition(name, p.entries[name]))
	}
	return out, nil
}

func (p *Provider) definition(name string, e entry) model.ToolDefinition {
	return model.ToolDefinition{
		Name:        name,
		Description: e.description,
		Parameters:  messageSchema(),
	}
}

// ExecuteTool implements tool.Provider. The child turn runs under a
// fresh task id in the caller's context; its events are re-scoped with
// the caller's task id as parent and an "agent:<id>" path segment.
func (p *Provider) ExecuteTool(ctx context.Context, call event.ToolCall, ec tool.ExecContext) iter.Seq2[event.Event, error] {
	return func(yield func(event.Event, error) bool) {
		p.mu.RLock()
		e, ok := p.entries[call.Name]
		p.mu.RUnlock()
		if !ok {
			yield(event.Event{}, fmt.Errorf("unknown agent %q", call.Name))
			return
		}

		message, _ := call.Arguments["message"].(string)
		if message == "" {
			yield(tool.CompleteEvent(ec, tool.Result{
				ToolCallID: call.ID,
				ToolName:   call.Name,
				Success:    false,
				Error:      "message argument is required",
			}), nil)
			return
		}

		childTask := event.NewID()
		link := event.New(event.KindSubAgent, ec.ContextID, ec.TaskID)
		link.SubAgent = &event.SubAgentPayload{AgentID: call.Name, ChildTaskID: childTask}
		if !yield(link, nil) {
			return
		}

		lc := agent.LoopContext{
			AgentID:      call.Name,
			ContextID:    ec.ContextID,
			TaskID:       childTask,
			SystemPrompt: e.systemPrompt,
			Skills:       e.skills,
			Logger:       ec.Logger,
			Trace:        ec.Trace,
			Auth:         ec.Auth,
			Artifacts:    ec.Artifacts,
		}

		prefix := "agent:" + call.Name
		var final string
		var failed bool
		var failure string
		for ev, err := range e.agent.Run(ctx, lc, []model.Message{model.User(message)}) {
			if err != nil {
				failed = true
				failure = err.Error()
				break
			}
			if ev.Kind == event.KindTaskComplete && ev.TaskID == childTask && ev.Complete != nil {
				final = ev.Complete.Content
				if ev.Complete.FinishReason == event.FinishError {
					failed = true
					failure = "sub-agent turn failed"
				}
			}
			if !yield(ev.Reparented(ec.TaskID, prefix), nil) {
				return
			}
		}

		res := tool.Result{
			ToolCallID: call.ID,
			ToolName:   call.Name,
			Success:    !failed,
			Result:     final,
		}
		if failed {
			res.Result = nil
			res.Error = failure
		}
		yield(tool.CompleteEvent(ec, res), nil)
	}
}

var _ tool.Provider = (*Provider)(nil)
